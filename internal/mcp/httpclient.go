package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/claude/rehabai/internal/models"
	"github.com/claude/rehabai/internal/storage"
)

// HTTPClient implements DataSource by calling the RehabAI REST API.
// Used for remote MCP mode where the binary runs locally (stdio) but
// data lives on the remote server (accessed over Tailscale, which also
// decides who the caller is).
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// Compile-time check: HTTPClient satisfies DataSource.
var _ DataSource = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient targeting the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("httpclient: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpclient: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("httpclient: read body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("httpclient: %s: %w", path, storage.ErrNotFound)
	default:
		return fmt.Errorf("httpclient: %s returned %d: %s", path, resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("httpclient: decode %s: %w", path, err)
	}
	return nil
}

func (c *HTTPClient) GetUser(ctx context.Context, id int) (models.User, error) {
	var u models.User
	err := c.get(ctx, "/api/v1/clinician/patients/"+strconv.Itoa(id), nil, &u)
	return u, err
}

func (c *HTTPClient) ListPatients(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := c.get(ctx, "/api/v1/clinician/patients", nil, &users)
	return users, err
}

func (c *HTTPClient) QueryExerciseLogs(ctx context.Context, userID int, f storage.LogFilter) ([]models.ExerciseLog, error) {
	params := url.Values{}
	if !f.Start.IsZero() {
		params.Set("start", f.Start.Format(time.RFC3339))
	}
	if !f.End.IsZero() {
		params.Set("end", f.End.Format(time.RFC3339))
	}
	if f.ExerciseType != "" {
		params.Set("type", f.ExerciseType)
	}
	if f.Limit > 0 {
		params.Set("limit", strconv.Itoa(f.Limit))
	}

	var logs []models.ExerciseLog
	err := c.get(ctx, "/api/v1/exercises/"+strconv.Itoa(userID), params, &logs)
	return logs, err
}

func (c *HTTPClient) GetPatientReport(ctx context.Context, userID int) ([]models.ReportRow, error) {
	var report struct {
		Exercises []models.ReportRow `json:"exercises"`
	}
	err := c.get(ctx, "/api/v1/clinician/patients/"+strconv.Itoa(userID)+"/report", nil, &report)
	return report.Exercises, err
}

func (c *HTTPClient) GetProgressTrend(ctx context.Context, userID int, start, end time.Time, bucket string) ([]storage.TrendPoint, error) {
	params := url.Values{}
	params.Set("start", start.Format(time.RFC3339))
	params.Set("end", end.Format(time.RFC3339))
	params.Set("bucket", bucket)

	var points []storage.TrendPoint
	err := c.get(ctx, "/api/v1/exercises/"+strconv.Itoa(userID)+"/trend", params, &points)
	return points, err
}

func (c *HTTPClient) QueryAchievements(ctx context.Context, userID int) ([]models.Achievement, error) {
	params := url.Values{}
	params.Set("user_id", strconv.Itoa(userID))

	var badges []models.Achievement
	err := c.get(ctx, "/api/v1/achievements", params, &badges)
	return badges, err
}
