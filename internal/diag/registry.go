// Package diag is the scheduler introspection and remote-control
// surface: it exposes the running coprocess tree, live scheduler/reactor
// stats, and a trace-event stream, plus a small admin surface to
// stop/cancel/interrupt a coprocess by ID, built on a chi router +
// middleware stack, a handler struct with JSON respond helpers, and a
// hub/client WebSocket broadcast shape.
package diag

import (
	"sync"
	"time"

	"github.com/maumercado/coprocrt/internal/scheduler"
	"github.com/maumercado/coprocrt/internal/task"
)

// Snapshot is a point-in-time view of one coprocess, built entirely from
// trace-hook observations. The core deliberately has no global task
// registry (the scheduler itself tracks only parent/child pointers,
// never a flat index); this registry lives outside the core, in the
// optional diagnostics layer, and is populated through the trace hooks
// the scheduler already exposes (fiber_run, fiber_switch,
// fiber_terminate) plus direct Track calls from the code that spawns a
// coprocess (the diag spawn handler, cmd/api-server) — it observes, it
// does not participate in scheduling decisions.
type Snapshot struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	State     string    `json:"state"`
	Caller    string    `json:"caller"`
	CreatedAt time.Time `json:"created_at"`
	Terminal  bool      `json:"terminal"`
	Outcome   string    `json:"outcome,omitempty"`
}

// retention is how long a terminated coprocess's snapshot is kept around
// so a client that raced the termination still gets a 200 from Get.
const retention = 5 * time.Minute

type entry struct {
	t            *task.Task
	terminatedAt time.Time
}

// Registry is a goroutine-safe index of coprocesses the diag layer has
// observed via trace hooks, by ID.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Track records t as live (or refreshes it if already known). Called from
// the fiber_run hook.
func (r *Registry) Track(t *task.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[t.ID()] = &entry{t: t}
}

// MarkTerminated stamps t's entry with the time it terminated, for the
// retention-window grace period, and opportunistically sweeps entries
// older than retention. Called from the fiber_terminate hook.
func (r *Registry) MarkTerminated(t *task.Task) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[t.ID()]; ok {
		e.terminatedAt = now
	} else {
		r.entries[t.ID()] = &entry{t: t, terminatedAt: now}
	}
	for id, e := range r.entries {
		if !e.terminatedAt.IsZero() && now.Sub(e.terminatedAt) > retention {
			delete(r.entries, id)
		}
	}
}

// Get returns a snapshot of the coprocess with id, and whether it was
// found at all (live or within the retention window).
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(e.t), true
}

// Task returns the underlying *task.Task for id, for admin handlers that
// need to drive Stop/Cancel/Interrupt/Resume through the scheduler.
func (r *Registry) Task(id string) (*task.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.t, true
}

// List returns a snapshot of every tracked coprocess, most-recently-seen
// order is not guaranteed.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, snapshotOf(e.t))
	}
	return out
}

func snapshotOf(t *task.Task) Snapshot {
	s := Snapshot{
		ID:        t.ID(),
		State:     t.Location(),
		Caller:    t.Caller(),
		CreatedAt: t.CreatedAt(),
	}
	if p := t.Parent(); p != nil {
		s.ParentID = p.ID()
	}
	if outcome, done := t.Result(); done {
		s.Terminal = true
		s.Outcome = outcome.String()
	}
	return s
}

// TraceEvent is one fiber_* hook invocation, published to the diag
// WebSocket hub as a first-class, subscribable event stream.
type TraceEvent struct {
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
	Task string    `json:"task,omitempty"`
	From string    `json:"from,omitempty"`
}

// Broadcaster is the subset of wsstream.Hub the hooks need — declared
// here to avoid this file importing the wsstream package directly.
type Broadcaster interface {
	Broadcast(TraceEvent)
}

// Hooks builds the scheduler.TraceHooks that feed reg and, if b is
// non-nil, publish every invocation to the live trace-event stream.
func Hooks(reg *Registry, b Broadcaster) scheduler.TraceHooks {
	emit := func(ev TraceEvent) {
		if b != nil {
			b.Broadcast(ev)
		}
	}
	return scheduler.TraceHooks{
		FiberEventPollEnter: func() { emit(TraceEvent{Kind: "fiber_event_poll_enter", At: time.Now()}) },
		FiberEventPollLeave: func() { emit(TraceEvent{Kind: "fiber_event_poll_leave", At: time.Now()}) },
		FiberSwitch: func(from, to *task.Task) {
			ev := TraceEvent{Kind: "fiber_switch", At: time.Now()}
			if to != nil {
				ev.Task = to.ID()
			}
			if from != nil {
				ev.From = from.ID()
			}
			emit(ev)
		},
		FiberRun: func(t *task.Task) {
			reg.Track(t)
			emit(TraceEvent{Kind: "fiber_run", At: time.Now(), Task: t.ID()})
		},
		FiberTerminate: func(t *task.Task, _ task.Outcome) {
			reg.MarkTerminated(t)
			emit(TraceEvent{Kind: "fiber_terminate", At: time.Now(), Task: t.ID()})
		},
	}
}
