// Package wsstream is the live trace-event stream: every scheduler
// trace-hook invocation (fiber_switch, fiber_run, fiber_terminate,
// fiber_event_poll_enter/leave) is broadcast to subscribed WebSocket
// clients via a hub/client register/unregister/broadcast shape.
package wsstream

import (
	"encoding/json"
	"sync"

	"github.com/maumercado/coprocrt/internal/diag"
	"github.com/maumercado/coprocrt/internal/logger"
	"github.com/maumercado/coprocrt/internal/metrics"
)

// Hub manages connected trace-stream clients and fans out TraceEvents to
// all of them.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	broadcast  chan diag.TraceEvent
	register   chan *Client
	unregister chan *Client
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewHub creates a Hub. Run must be called once, in its own goroutine,
// before any client registers.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan diag.TraceEvent, 1024),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopCh:     make(chan struct{}),
	}
}

// compile-time assertion that Hub satisfies diag.Broadcaster.
var _ diag.Broadcaster = (*Hub)(nil)

// Run drives the hub's register/unregister/broadcast loop until Stop is
// called.
func (h *Hub) Run() {
	h.wg.Add(1)
	defer h.wg.Done()
	for {
		select {
		case <-h.stopCh:
			h.closeAllClients()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			metrics.SetDiagWebSocketConnections(float64(h.ClientCount()))
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			metrics.SetDiagWebSocketConnections(float64(h.ClientCount()))
		case ev := <-h.broadcast:
			h.fanOut(ev)
		}
	}
}

// Stop shuts the hub down and waits for Run to return.
func (h *Hub) Stop() {
	close(h.stopCh)
	h.wg.Wait()
}

// Broadcast enqueues ev for delivery to all connected clients, dropping
// it (with a log) if the broadcast channel is saturated rather than
// blocking the scheduler thread that produced the trace event.
func (h *Hub) Broadcast(ev diag.TraceEvent) {
	select {
	case h.broadcast <- ev:
	default:
		logger.Warn().Str("kind", ev.Kind).Msg("diag trace broadcast channel full, dropping event")
	}
}

// Register admits client to the hub.
func (h *Hub) Register(c *Client) { h.register <- c }

// Unregister removes client from the hub.
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) fanOut(ev diag.TraceEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error().Err(err).Msg("failed to marshal trace event")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			go func(c *Client) { h.unregister <- c }(c)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}
