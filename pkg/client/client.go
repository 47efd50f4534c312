package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tendant/xtal-pipeline/pkg/pipeline"
)

// Client is an HTTP client for the pipeline worker API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new pipeline client. Integration runs are synchronous on
// the standalone server, so the timeout is generous.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

// NewWithHTTPClient creates a new pipeline client with a custom HTTP client
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// WorkflowStatus mirrors the worker's run status document.
type WorkflowStatus struct {
	RunID      string     `json:"run_id"`
	Name       string     `json:"name,omitempty"`
	State      string     `json:"state"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Process submits an image for integration. Against the standalone server
// the response carries the outcome; the worker returns only a run id.
func (c *Client) Process(ctx context.Context, req pipeline.ProcessRequest) (*pipeline.ProcessResponse, error) {
	if req.Job == "" {
		req.Job = pipeline.JobIntegrate
	}
	var resp pipeline.ProcessResponse
	if err := c.post(ctx, "/v1/process", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Triage screens an image by spot count.
func (c *Client) Triage(ctx context.Context, image string) (*pipeline.ProcessResponse, error) {
	var resp pipeline.ProcessResponse
	if err := c.post(ctx, "/v1/triage", pipeline.ProcessRequest{Image: image, Job: pipeline.JobTriage}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status fetches the state of an enqueued run.
func (c *Client) Status(ctx context.Context, runID string) (*WorkflowStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/runs/"+url.PathEscape(runID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var st WorkflowStatus
	if err := c.do(httpReq, http.StatusOK, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	// Marshal request
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	// Create HTTP request
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return c.do(httpReq, 0, out)
}

// do executes req and decodes the body into out. want == 0 accepts both
// 200 and 202.
func (c *Client) do(req *http.Request, want int, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Check status code
	ok := resp.StatusCode == want
	if want == 0 {
		ok = resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted
	}
	if !ok {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(bytes.TrimSpace(bodyBytes)))
	}

	// Parse response
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
