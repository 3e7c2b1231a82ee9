package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/claude/rehabai/internal/ingest"
	"github.com/claude/rehabai/internal/models"
)

// errRejected marks a response the server will never accept, so retrying is
// pointless.
var errRejected = errors.New("rejected by server")

// Client sends replayed exercise logs to the RehabAI server over HTTP.
type Client struct {
	serverURL  string
	apiKey     string
	user       string
	httpClient *http.Client
	backoff    time.Duration
}

// NewClient creates a client that ingests logs on behalf of the patient
// login user.
func NewClient(serverURL, apiKey, user string) *Client {
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiKey:    apiKey,
		user:      user,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		backoff: time.Second,
	}
}

// SendLogs POSTs a batch of logs to the server's ingest endpoint.
// Retries up to 3 times with exponential backoff on failure.
func (c *Client) SendLogs(ctx context.Context, logs []models.ExerciseLogInput) (*ingest.Result, error) {
	data, err := json.Marshal(logs)
	if err != nil {
		return nil, fmt.Errorf("marshaling logs: %w", err)
	}
	endpoint := c.serverURL + "/api/v1/ingest/logs?" + url.Values{"source": {"replay"}}.Encode()

	var lastErr error
	for attempt := range 3 {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff << uint(attempt-1)):
			}
		}

		result, err := c.post(ctx, endpoint, data)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, errRejected) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("after 3 attempts: %w", lastErr)
}

func (c *Client) post(ctx context.Context, endpoint string, data []byte) (*ingest.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("X-Rehab-User", c.user)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w (status %d): %s", errRejected, resp.StatusCode, body)
	default:
		return nil, fmt.Errorf("ingest failed (status %d): %s", resp.StatusCode, body)
	}

	var result ingest.Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decoding ingest result: %w", err)
	}
	return &result, nil
}
