package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Snapshot mirrors internal/diag.Snapshot: a point-in-time view of one
// coprocess.
type Snapshot struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	State     string    `json:"state"`
	Caller    string    `json:"caller"`
	CreatedAt time.Time `json:"created_at"`
	Terminal  bool      `json:"terminal"`
	Outcome   string    `json:"outcome,omitempty"`
}

// SpawnRequest is the body of a POST /diag/coprocesses call.
type SpawnRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// AdminActionRequest is the body of a POST /diag/admin/coprocesses/{id}/*
// call.
type AdminActionRequest struct {
	Value any `json:"value,omitempty"`
}

// Stats mirrors the combined scheduler.Stats/reactor.Stats response of
// GET /diag/stats.
type Stats struct {
	Scheduler map[string]any `json:"scheduler"`
	Reactor   map[string]any `json:"reactor"`
}

// Client is a thin HTTP(+WebSocket) client for internal/diag.
type Client struct {
	baseURL string
	opts    *options
	ws      *traceStreamClient
}

// New creates a Client targeting baseURL (e.g. "http://localhost:8181").
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSuffix(baseURL, "/")
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Client{baseURL: baseURL, opts: o}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("client: failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.opts.applyHeaders(req)

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Message != "" {
			return fmt.Errorf("client: %s (%d): %s", apiErr.Error, resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("client: unexpected status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: failed to decode response: %w", err)
	}
	return nil
}

// Health calls GET /diag/health.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/diag/health", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats calls GET /diag/stats.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.do(ctx, http.MethodGet, "/diag/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListCoprocesses calls GET /diag/coprocesses.
func (c *Client) ListCoprocesses(ctx context.Context) ([]Snapshot, error) {
	var out struct {
		Coprocesses []Snapshot `json:"coprocesses"`
		Count       int        `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/diag/coprocesses", nil, &out); err != nil {
		return nil, err
	}
	return out.Coprocesses, nil
}

// GetCoprocess calls GET /diag/coprocesses/{id}.
func (c *Client) GetCoprocess(ctx context.Context, id string) (*Snapshot, error) {
	var out Snapshot
	if err := c.do(ctx, http.MethodGet, "/diag/coprocesses/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SpawnCoprocess calls POST /diag/coprocesses.
func (c *Client) SpawnCoprocess(ctx context.Context, req SpawnRequest) (*Snapshot, error) {
	var out Snapshot
	if err := c.do(ctx, http.MethodPost, "/diag/coprocesses", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelCoprocess calls DELETE /diag/coprocesses/{id}.
func (c *Client) CancelCoprocess(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/diag/coprocesses/"+id, nil, nil)
}

// StopCoprocess calls POST /diag/admin/coprocesses/{id}/stop.
func (c *Client) StopCoprocess(ctx context.Context, id string, value any) error {
	return c.do(ctx, http.MethodPost, "/diag/admin/coprocesses/"+id+"/stop", AdminActionRequest{Value: value}, nil)
}

// InterruptCoprocess calls POST /diag/admin/coprocesses/{id}/interrupt.
func (c *Client) InterruptCoprocess(ctx context.Context, id string, value any) error {
	return c.do(ctx, http.MethodPost, "/diag/admin/coprocesses/"+id+"/interrupt", AdminActionRequest{Value: value}, nil)
}

// ResumeCoprocess calls POST /diag/admin/coprocesses/{id}/resume.
func (c *Client) ResumeCoprocess(ctx context.Context, id string, value any) error {
	return c.do(ctx, http.MethodPost, "/diag/admin/coprocesses/"+id+"/resume", AdminActionRequest{Value: value}, nil)
}

// ConnectTraceStream establishes the live trace-event WebSocket
// connection.
func (c *Client) ConnectTraceStream(ctx context.Context) error {
	if c.ws != nil && c.ws.IsConnected() {
		return nil
	}
	c.ws = newTraceStreamClient(c.baseURL, c.opts.apiKey)
	return c.ws.Connect(ctx)
}

// TraceEvents returns the channel of live trace events. Must call
// ConnectTraceStream first.
func (c *Client) TraceEvents() <-chan *TraceEvent {
	if c.ws == nil {
		ch := make(chan *TraceEvent)
		close(ch)
		return ch
	}
	return c.ws.Events()
}

// CloseTraceStream closes the trace-event WebSocket connection.
func (c *Client) CloseTraceStream() error {
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}
