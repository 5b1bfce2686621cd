package diag

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maumercado/coprocrt/internal/logger"
	"github.com/maumercado/coprocrt/internal/reactor"
	"github.com/maumercado/coprocrt/internal/scheduler"
	"github.com/maumercado/coprocrt/internal/task"
)

// Spawner is the subset of *scheduler.Scheduler the handlers need to
// create and drive coprocesses, declared as an interface so tests can
// substitute a fake.
type Spawner interface {
	Spawn(parent *task.Task, fn func(self *task.Task) (any, error)) *task.Task
	Stop(t *task.Task, value any)
	Interrupt(t *task.Task, value any)
	Cancel(t *task.Task, reason string)
	Resume(t *task.Task, value any)
	Stats() scheduler.Stats
	ReactorStats() reactor.Stats
}

// Handler is a registered coprocess constructor: given a decoded JSON
// payload, it returns the function to run as the new coprocess's body.
type Handler func(payload map[string]any) func(self *task.Task) (any, error)

// HandlerRegistry maps a coprocess "type" name to its Handler.
type HandlerRegistry struct {
	handlers map[string]Handler
}

// NewHandlerRegistry returns an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register adds a named handler. Re-registering a name overwrites it.
func (hr *HandlerRegistry) Register(name string, h Handler) { hr.handlers[name] = h }

// Types lists every registered coprocess type name.
func (hr *HandlerRegistry) Types() []string {
	out := make([]string, 0, len(hr.handlers))
	for k := range hr.handlers {
		out = append(out, k)
	}
	return out
}

// Handlers wires together a Spawner, a Registry, and a HandlerRegistry
// into the diag API's HTTP handler methods.
type Handlers struct {
	sched    Spawner
	root     *task.Task
	reg      *Registry
	registry *HandlerRegistry
	started  time.Time
}

// NewHandlers builds a Handlers. root is the coprocess new spawns attach
// to as children (normally the process's root task).
func NewHandlers(sched Spawner, root *task.Task, reg *Registry, registry *HandlerRegistry) *Handlers {
	return &Handlers{sched: sched, root: root, reg: reg, registry: registry, started: time.Now()}
}

// Health handles GET /diag/health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"uptime": time.Since(h.started).String(),
	})
}

// Stats handles GET /diag/stats, returning the scheduler's switches/polls/ops snapshot.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"scheduler": h.sched.Stats(),
		"reactor":   h.sched.ReactorStats(),
	})
}

// ListCoprocesses handles GET /diag/coprocesses.
func (h *Handlers) ListCoprocesses(w http.ResponseWriter, r *http.Request) {
	snaps := h.reg.List()
	respondJSON(w, http.StatusOK, map[string]any{
		"coprocesses": snaps,
		"count":       len(snaps),
	})
}

// GetCoprocess handles GET /diag/coprocesses/{id}.
func (h *Handlers) GetCoprocess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok := h.reg.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "coprocess not found")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// SpawnRequest is the POST /diag/coprocesses body: spawn a coprocess of a
// registered type with an opaque JSON payload, the diag-API analogue of
// spawning a coprocess.
type SpawnRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// SpawnCoprocess handles POST /diag/coprocesses.
func (h *Handlers) SpawnCoprocess(w http.ResponseWriter, r *http.Request) {
	var req SpawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		respondError(w, http.StatusBadRequest, "type is required")
		return
	}
	handler, ok := h.registry.handlers[req.Type]
	if !ok {
		respondError(w, http.StatusBadRequest, "no handler registered for type "+req.Type)
		return
	}

	fn := handler(req.Payload)
	t := h.sched.Spawn(h.root, fn)
	h.reg.Track(t)

	logger.Info().Str("coprocess_id", t.ID()).Str("type", req.Type).Msg("coprocess spawned via diag API")
	snap, _ := h.reg.Get(t.ID())
	respondJSON(w, http.StatusCreated, snap)
}

// CancelCoprocess handles DELETE /diag/coprocesses/{id}, injecting a Cancel.
func (h *Handlers) CancelCoprocess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, ok := h.reg.Task(id)
	if !ok {
		respondError(w, http.StatusNotFound, "coprocess not found")
		return
	}
	h.sched.Cancel(t, "cancelled via diag API")
	respondJSON(w, http.StatusAccepted, map[string]any{"id": id, "action": "cancel"})
}

// AdminActionRequest is the POST /diag/admin/coprocesses/{id}/{action}
// body.
type AdminActionRequest struct {
	Value any `json:"value,omitempty"`
}

// StopCoprocess handles POST /diag/admin/coprocesses/{id}/stop.
func (h *Handlers) StopCoprocess(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, func(t *task.Task, v any) { h.sched.Stop(t, v) }, "stop")
}

// InterruptCoprocess handles POST /diag/admin/coprocesses/{id}/interrupt.
func (h *Handlers) InterruptCoprocess(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, func(t *task.Task, v any) { h.sched.Interrupt(t, v) }, "interrupt")
}

// ResumeCoprocess handles POST /diag/admin/coprocesses/{id}/resume.
func (h *Handlers) ResumeCoprocess(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, func(t *task.Task, v any) { h.sched.Resume(t, v) }, "resume")
}

func (h *Handlers) adminAction(w http.ResponseWriter, r *http.Request, apply func(*task.Task, any), name string) {
	id := chi.URLParam(r, "id")
	t, ok := h.reg.Task(id)
	if !ok {
		respondError(w, http.StatusNotFound, "coprocess not found")
		return
	}
	var req AdminActionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	apply(t, req.Value)
	logger.Info().Str("coprocess_id", id).Str("action", name).Msg("diag admin action applied")
	respondJSON(w, http.StatusAccepted, map[string]any{"id": id, "action": name})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("diag: failed to encode JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": http.StatusText(status), "message": message})
}
