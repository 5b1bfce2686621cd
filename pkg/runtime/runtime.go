// Package runtime is the public facade of the cooperative runtime: it
// wires together internal/scheduler, internal/task, internal/reactor, and
// internal/ops behind a small surface an application imports, the way the
// teacher's pkg/client/client.go wraps internal/queue + internal/api into
// a single importable client package instead of making callers reach
// into internal/*.
package runtime

import (
	"fmt"
	"time"

	"github.com/maumercado/coprocrt/internal/reactor"
	"github.com/maumercado/coprocrt/internal/scheduler"
	"github.com/maumercado/coprocrt/internal/task"
)

// TraceHooks re-exports scheduler.TraceHooks so callers never need to
// import internal/scheduler directly.
type TraceHooks = scheduler.TraceHooks

// Stats re-exports scheduler.Stats.
type Stats = scheduler.Stats

// ReactorStats re-exports reactor.Stats.
type ReactorStats = reactor.Stats

// Runtime owns one scheduler and the reactor it drives — one per OS
// thread; multiple OS threads each host their own independent scheduler.
// Create one with New per thread that will run coprocesses; call Run once
// on that thread to drive it to completion.
type Runtime struct {
	sched *scheduler.Scheduler
	re    reactor.Reactor
}

// New constructs a Runtime around a fresh Linux epoll reactor. Callers
// that want a different Reactor implementation (kqueue, io_uring, a test
// fake) should use NewWithReactor instead.
func New() (*Runtime, error) {
	re, err := reactor.NewEpollReactor()
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	return NewWithReactor(re), nil
}

// NewWithReactor constructs a Runtime around a caller-supplied Reactor,
// the extension point for swapping in an alternative event backend
// without touching the scheduler.
func NewWithReactor(re reactor.Reactor) *Runtime {
	return &Runtime{sched: scheduler.New(re), re: re}
}

// Close releases the reactor's OS resources. Call after Run returns.
func (rt *Runtime) Close() error { return rt.re.Close() }

// SetIdleGCPeriod configures how often the idle hook runs a GC pass.
func (rt *Runtime) SetIdleGCPeriod(d time.Duration) { rt.sched.SetIdleGCPeriod(d) }

// SetIdleProc installs the callback invoked whenever the scheduler is
// about to block in the reactor.
func (rt *Runtime) SetIdleProc(f func()) { rt.sched.SetIdleProc(f) }

// SetTraceHooks installs the optional instrumentation points (event-poll
// enter/leave, fiber switch, fiber run, fiber terminate).
func (rt *Runtime) SetTraceHooks(h TraceHooks) { rt.sched.SetTraceHooks(h) }

// Stats returns {switches, polls, ops}.
func (rt *Runtime) Stats() Stats { return rt.sched.Stats() }

// ReactorStats exposes live watcher counts by kind, used to assert that a
// cancelled or terminated wait leaves no watcher registered behind.
func (rt *Runtime) ReactorStats() ReactorStats { return rt.sched.ReactorStats() }

// Run creates the root task wrapping fn and drives the scheduler to
// completion: the scheduler shuts down once the root task terminates, at
// which point it cancels all live children and drains the run queue. Run
// must be called from the OS thread that owns this Runtime, and returns
// fn's outcome (value, or its unhandled error).
func (rt *Runtime) Run(fn func(self *Task) (any, error)) (any, error) {
	var root *Task
	entry := func(_ *task.Task) (any, error) { return fn(root) }
	t := rt.sched.Root(entry)
	root = &Task{t: t, rt: rt}

	if err := rt.sched.RunLoop(); err != nil {
		return nil, err
	}
	outcome, _ := t.Result()
	return outcome.Value, outcome.Err
}
