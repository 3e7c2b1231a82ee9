package pose

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPSource implements Source by POSTing frames to an inference service
// that runs the pose model and answers with a JSON array of poses.
type HTTPSource struct {
	endpoint   string
	httpClient *http.Client
}

// Compile-time check: HTTPSource satisfies Source.
var _ Source = (*HTTPSource)(nil)

// NewHTTPSource creates an HTTPSource targeting the given estimate endpoint.
func NewHTTPSource(endpoint string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPSource{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Estimate sends the raw frame bytes and decodes the detected poses.
func (s *HTTPSource) Estimate(ctx context.Context, frame Frame) ([]Pose, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("pose: create request: %w", err)
	}
	contentType := frame.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Frame-Width", strconv.Itoa(frame.Width))
	req.Header.Set("X-Frame-Height", strconv.Itoa(frame.Height))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pose: estimate: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("pose: estimate returned %d: %s", resp.StatusCode, body)
	}

	var poses []Pose
	if err := json.NewDecoder(resp.Body).Decode(&poses); err != nil {
		return nil, fmt.Errorf("pose: decode poses: %w", err)
	}
	return poses, nil
}
