package exec

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

	qerrors "github.com/queryctl/queryctl/internal/errors"
)

// HTTPClient talks JSON over HTTP to the managed query service.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// Client overrides the underlying http.Client when set. Used by tests.
	Client *http.Client
}

// NewHTTPClient builds a client for the service at cfg.BaseURL.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("service base URL is required")
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{baseURL: base, apiKey: strings.TrimSpace(cfg.APIKey), client: client}, nil
}

type submitRequest struct {
	SQL            string `json:"sql"`
	Database       string `json:"database"`
	Workgroup      string `json:"workgroup"`
	OutputLocation string `json:"output_location,omitempty"`
	RequestToken   string `json:"request_token,omitempty"`
}

type submitResponse struct {
	ExecutionID string `json:"execution_id"`
}

type statusResponse struct {
	State             string    `json:"state"`
	StateChangeReason string    `json:"state_change_reason,omitempty"`
	ResultLocation    string    `json:"result_location,omitempty"`
	ScannedBytes      int64     `json:"scanned_bytes"`
	RowCount          int64     `json:"row_count"`
	SubmittedAt       time.Time `json:"submitted_at"`
	CompletedAt       time.Time `json:"completed_at,omitzero"`
}

type executionSummaryResponse struct {
	ExecutionID  string    `json:"execution_id"`
	SQL          string    `json:"sql"`
	State        string    `json:"state"`
	Workgroup    string    `json:"workgroup"`
	ScannedBytes int64     `json:"scanned_bytes"`
	SubmittedAt  time.Time `json:"submitted_at"`
	CompletedAt  time.Time `json:"completed_at,omitzero"`
}

// Submit starts a remote execution and returns its handle. Remote rejections
// are classified as submission errors and are not retried.
func (c *HTTPClient) Submit(ctx context.Context, sub Submission) (Handle, error) {
	var resp submitResponse
	err := c.do(ctx, http.MethodPost, "/v1/executions", submitRequest{
		SQL:            sub.SQL,
		Database:       sub.Database,
		Workgroup:      sub.Workgroup,
		OutputLocation: sub.OutputLocation,
		RequestToken:   sub.RequestToken,
	}, &resp)
	if err != nil {
		return Handle{}, qerrors.Wrap(qerrors.KindSubmission, "submit query", err)
	}
	if resp.ExecutionID == "" {
		return Handle{}, qerrors.New(qerrors.KindSubmission, "service returned no execution id")
	}
	return Handle{ID: resp.ExecutionID}, nil
}

// PollStatus fetches one status observation for handle.
func (c *HTTPClient) PollStatus(ctx context.Context, handle Handle) (StatusReport, error) {
	var resp statusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/executions/"+handle.ID, nil, &resp); err != nil {
		return StatusReport{}, fmt.Errorf("poll execution %s: %w", handle.ID, err)
	}
	state := State(strings.ToUpper(resp.State))
	if !state.Valid() {
		return StatusReport{}, fmt.Errorf("poll execution %s: unknown state %q", handle.ID, resp.State)
	}
	return StatusReport{
		State:             state,
		StateChangeReason: resp.StateChangeReason,
		ResultLocation:    resp.ResultLocation,
		ScannedBytes:      resp.ScannedBytes,
		RowCount:          resp.RowCount,
		SubmittedAt:       resp.SubmittedAt,
		CompletedAt:       resp.CompletedAt,
	}, nil
}

// Cancel requests cancellation of handle. Best effort; a terminal execution
// is not an error.
func (c *HTTPClient) Cancel(ctx context.Context, handle Handle) error {
	if err := c.do(ctx, http.MethodPost, "/v1/executions/"+handle.ID+"/cancel", nil, nil); err != nil {
		return fmt.Errorf("cancel execution %s: %w", handle.ID, err)
	}
	return nil
}

// ListDatabases lists databases visible to the caller.
func (c *HTTPClient) ListDatabases(ctx context.Context) ([]string, error) {
	var resp struct {
		Databases []string `json:"databases"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/databases", nil, &resp); err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	return resp.Databases, nil
}

// ListWorkgroups lists workgroups visible to the caller.
func (c *HTTPClient) ListWorkgroups(ctx context.Context) ([]string, error) {
	var resp struct {
		Workgroups []string `json:"workgroups"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/workgroups", nil, &resp); err != nil {
		return nil, fmt.Errorf("list workgroups: %w", err)
	}
	return resp.Workgroups, nil
}

// ListExecutions returns the most recent executions, newest first.
func (c *HTTPClient) ListExecutions(ctx context.Context, limit int) ([]ExecutionSummary, error) {
	var resp struct {
		Executions []executionSummaryResponse `json:"executions"`
	}
	path := "/v1/executions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	summaries := make([]ExecutionSummary, 0, len(resp.Executions))
	for _, e := range resp.Executions {
		summaries = append(summaries, ExecutionSummary{
			ID:           e.ExecutionID,
			SQL:          e.SQL,
			State:        State(strings.ToUpper(e.State)),
			Workgroup:    e.Workgroup,
			ScannedBytes: e.ScannedBytes,
			SubmittedAt:  e.SubmittedAt,
			CompletedAt:  e.CompletedAt,
		})
	}
	return summaries, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}
