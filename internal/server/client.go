package server

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

	"github.com/imamik/shipgate/internal/config"
	"github.com/imamik/shipgate/internal/pipeline"
)

// APIError is a non-2xx response from the approval API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a 409 from the API.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// Client talks to a running approval server.
type Client struct {
	baseURL string
	actor   string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL. actor is sent with
// every request and recorded as the author of decisions.
func NewClient(baseURL, actor string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		actor:   actor,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// StartRun triggers a new run.
func (c *Client) StartRun(ctx context.Context, trigger pipeline.Trigger) (pipeline.Snapshot, error) {
	var snap pipeline.Snapshot
	err := c.do(ctx, http.MethodPost, "/runs", trigger, &snap)
	return snap, err
}

// ListRuns returns the server's runs, optionally filtered by status.
func (c *Client) ListRuns(ctx context.Context, status pipeline.Status) ([]pipeline.Snapshot, error) {
	path := "/runs"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var runs []pipeline.Snapshot
	err := c.do(ctx, http.MethodGet, path, nil, &runs)
	return runs, err
}

// GetRun returns one run.
func (c *Client) GetRun(ctx context.Context, runID string) (pipeline.Snapshot, error) {
	var snap pipeline.Snapshot
	err := c.do(ctx, http.MethodGet, "/runs/"+url.PathEscape(runID), nil, &snap)
	return snap, err
}

// PendingGates returns the gates a run is waiting on.
func (c *Client) PendingGates(ctx context.Context, runID string) ([]pipeline.GateState, error) {
	var gates []pipeline.GateState
	err := c.do(ctx, http.MethodGet, "/runs/"+url.PathEscape(runID)+"/gates", nil, &gates)
	return gates, err
}

// Resolve records a decision on a gate.
func (c *Client) Resolve(ctx context.Context, runID, gateID string, decision pipeline.Decision, comment string) (pipeline.GateState, error) {
	var gate pipeline.GateState
	path := fmt.Sprintf("/runs/%s/gates/%s/%s", url.PathEscape(runID), url.PathEscape(gateID), decision)
	err := c.do(ctx, http.MethodPost, path, DecisionRequest{Actor: c.actor, Comment: comment}, &gate)
	return gate, err
}

// Abort stops a run.
func (c *Client) Abort(ctx context.Context, runID, reason string) (AbortResponse, error) {
	var resp AbortResponse
	err := c.do(ctx, http.MethodPost, "/runs/"+url.PathEscape(runID)+"/abort", AbortRequest{Reason: reason}, &resp)
	return resp, err
}

// Outputs returns the stack outputs the server publishes.
func (c *Client) Outputs(ctx context.Context) ([]config.Output, error) {
	var outputs []config.Output
	err := c.do(ctx, http.MethodGet, "/outputs", nil, &outputs)
	return outputs, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.actor != "" {
		req.Header.Set("X-Shipgate-Actor", c.actor)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr ErrorResponse
		if json.Unmarshal(data, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
