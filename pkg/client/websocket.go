package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TraceEvent mirrors internal/diag.TraceEvent: one scheduler trace-hook
// invocation broadcast over the diag trace stream.
type TraceEvent struct {
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
	Task string    `json:"task,omitempty"`
	From string    `json:"from,omitempty"`
}

// traceStreamClient manages the WebSocket connection to /diag/ws/trace.
type traceStreamClient struct {
	conn      *websocket.Conn
	baseURL   string
	events    chan *TraceEvent
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	connected bool
	apiKey    string
}

func newTraceStreamClient(baseURL, apiKey string) *traceStreamClient {
	return &traceStreamClient{
		baseURL: baseURL,
		events:  make(chan *TraceEvent, 100),
		done:    make(chan struct{}),
		apiKey:  apiKey,
	}
}

// Connect dials the trace-stream WebSocket endpoint.
func (ws *traceStreamClient) Connect(ctx context.Context) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.connected {
		return nil
	}

	u, err := url.Parse(ws.baseURL)
	if err != nil {
		return fmt.Errorf("client: invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/diag/ws/trace"

	headers := make(map[string][]string)
	if ws.apiKey != "" {
		headers["X-API-Key"] = []string{ws.apiKey}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return fmt.Errorf("client: websocket dial failed: %w", err)
	}

	ws.conn = conn
	ws.connected = true
	ws.done = make(chan struct{})

	go ws.readLoop()
	return nil
}

func (ws *traceStreamClient) readLoop() {
	defer func() {
		ws.mu.Lock()
		ws.connected = false
		ws.mu.Unlock()
		close(ws.events)
	}()

	for {
		select {
		case <-ws.done:
			return
		default:
			_, message, err := ws.conn.ReadMessage()
			if err != nil {
				return
			}

			var ev TraceEvent
			if err := json.Unmarshal(message, &ev); err != nil {
				continue
			}

			select {
			case ws.events <- &ev:
			case <-ws.done:
				return
			default:
				select {
				case <-ws.events:
				default:
				}
				ws.events <- &ev
			}
		}
	}
}

// Events returns the channel of live trace events.
func (ws *traceStreamClient) Events() <-chan *TraceEvent { return ws.events }

// Close closes the WebSocket connection.
func (ws *traceStreamClient) Close() error {
	var err error
	ws.closeOnce.Do(func() {
		close(ws.done)
		ws.mu.Lock()
		defer ws.mu.Unlock()
		if ws.conn != nil {
			err = ws.conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			_ = ws.conn.Close()
		}
	})
	return err
}

// IsConnected reports whether the WebSocket is currently connected.
func (ws *traceStreamClient) IsConnected() bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.connected
}
