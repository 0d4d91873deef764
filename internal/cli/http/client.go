// Package httpclient talks to a running judge service.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"classjudge/internal/judge/sandbox/result"
)

// Client wraps HTTP requests for the CLI.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// RunRequest mirrors the service's run body.
type RunRequest struct {
	Language  string      `json:"language"`
	Source    string      `json:"source"`
	TestCases interface{} `json:"test_cases"`
	Trial     bool        `json:"trial,omitempty"`
	DataPack  string      `json:"data_pack,omitempty"`
}

// RunResponse is the data part of a run reply.
type RunResponse struct {
	SubmissionID string `json:"submission_id"`
	result.Report
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	TraceID string          `json:"trace_id"`
}

// Run posts a synchronous evaluation and decodes the report.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunResponse, error) {
	var out RunResponse
	env, status, err := c.postJSON(ctx, "/api/v1/judge/run", req)
	if err != nil {
		return out, err
	}
	if status != http.StatusOK {
		return out, fmt.Errorf("judge returned %d: %s (code %d, trace %s)", status, env.Message, env.Code, env.TraceID)
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, fmt.Errorf("decode report failed: %w", err)
	}
	return out, nil
}

// postJSON sends payload and decodes the reply envelope whatever the status.
func (c *Client) postJSON(ctx context.Context, path string, payload interface{}) (envelope, int, error) {
	var env envelope
	raw, err := json.Marshal(payload)
	if err != nil {
		return env, 0, fmt.Errorf("encode request failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return env, 0, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return env, 0, fmt.Errorf("post %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return env, resp.StatusCode, fmt.Errorf("decode response failed (status %d): %w", resp.StatusCode, err)
	}
	return env, resp.StatusCode, nil
}
