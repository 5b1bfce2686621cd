// Package ops implements the suspension primitives: wait_io, wait_event,
// sleep, timer_loop, timeout, await/await_all, and mailbox send/receive.
// Every function here takes the scheduler driving the call and the task
// suspending, matching the explicit-handle idiom pkg/runtime's public
// Task type wraps (see pkg/runtime/task.go) instead of hidden
// thread-local "current fiber" lookups.
//
// The retry/timeout mapping idiom here — a context.DeadlineExceeded-style
// sentinel error surfaced at a single fixed call boundary — and the
// anchored-deadline backoff shape in TimerLoop are retargeted from
// "retry a failed job with backoff" to "retry a syscall on EAGAIN" and
// "anchor a repeating timer's deadline instead of re-measuring from now
// every tick".
package ops

import (
	"sync"
	"time"

	"github.com/maumercado/coprocrt/internal/reactor"
	"github.com/maumercado/coprocrt/internal/runqueue"
	"github.com/maumercado/coprocrt/internal/scheduler"
	"github.com/maumercado/coprocrt/internal/task"
)

// Host is the subset of *scheduler.Scheduler every primitive in this
// package needs. Declared here (rather than importing the concrete type
// directly everywhere) so tests can substitute a fake driver; in
// production it is always a *scheduler.Scheduler.
type Host interface {
	ScheduleFiber(t *task.Task, r runqueue.Resumption, prioritize bool)
	Remove(t *task.Task) bool
	SwitchFiber(self *task.Task) (any, error)
	Snooze(self *task.Task) error
	Suspend(self *task.Task) (any, error)
	CountOp()
	Reactor() reactor.Reactor
}

// compile-time assertion that the production scheduler satisfies Host.
var _ Host = (*scheduler.Scheduler)(nil)

// Snooze yields self to the back of the run queue and back again — the
// single fairness point any tight syscall retry loop calls between
// iterations.
func Snooze(h Host, self *task.Task) error {
	h.CountOp()
	return h.Snooze(self)
}

// Suspend yields self without self-scheduling; it only resumes once
// something else explicitly schedules it.
func Suspend(h Host, self *task.Task) (any, error) {
	h.CountOp()
	return h.Suspend(self)
}

// resumeCB adapts a Host+Task pair into a reactor.Callback that
// reschedules the task with the fired resumption.
func resumeCB(h Host, self *task.Task) reactor.Callback {
	return func(r runqueue.Resumption) {
		h.ScheduleFiber(self, r, false)
	}
}

// WaitIO suspends self until fd is ready for ev, or raises if the task is
// cancelled first. It performs no syscall itself; callers attempt the
// syscall, and on EAGAIN/EWOULDBLOCK call WaitIO before retrying.
func WaitIO(h Host, self *task.Task, fd int, ev reactor.IOEvent) error {
	h.CountOp()
	w, err := h.Reactor().WatchIO(fd, ev, resumeCB(h, self))
	if err != nil {
		return err
	}
	defer w.Cancel()
	_, err = h.SwitchFiber(self)
	return err
}

// Event is a one-shot cross-task event: one task calls Wait and suspends
// on an anonymous async watcher; any other task (on the same scheduler,
// or — since it rides the reactor's async watcher mechanism — a
// different OS thread entirely) calls Signal to resume it. The zero
// value is ready to use; a given Event is good for exactly one
// Wait/Signal rendezvous.
type Event struct {
	mu      sync.Mutex
	watcher reactor.Watcher
}

// Wait registers self as this event's waiter and suspends until Signal is
// called, or self is cancelled first (in which case the watcher is
// cancelled on the way out — every watcher allocated during a suspension
// must be released on every exit path).
func (e *Event) Wait(h Host, self *task.Task) error {
	h.CountOp()
	w, err := h.Reactor().WatchAsync(resumeCB(h, self))
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.watcher = w
	e.mu.Unlock()
	defer w.Cancel()
	_, err = h.SwitchFiber(self)
	return err
}

// Signal wakes this event's waiter, if Wait has already registered one.
// Calling Signal before any Wait, or more than once, is a silent no-op —
// an event is one-shot and a lost signal with no waiter has nowhere to
// go.
func (e *Event) Signal() {
	e.mu.Lock()
	w := e.watcher
	e.mu.Unlock()
	if w == nil {
		return
	}
	if aw, ok := w.(*reactor.AsyncWatcher); ok {
		_ = aw.Signal()
	}
}

// NewEvent returns a ready-to-use Event for cross-task signaling: hand the
// handle to whichever task will later call Signal before the waiter calls
// Wait.
func NewEvent() *Event { return &Event{} }

// WaitEvent waits on a private, throwaway Event. No handle to it leaves
// the call, so nothing can Signal it: self resumes only when something
// else schedules it (a Resume, Stop, Interrupt or Cancel).
func WaitEvent(h Host, self *task.Task) error {
	e := NewEvent()
	return e.Wait(h, self)
}

// Sleep suspends self for at least d (monotonic).
func Sleep(h Host, self *task.Task, d time.Duration) error {
	h.CountOp()
	w, err := h.Reactor().WatchTimer(d, resumeCB(h, self))
	if err != nil {
		return err
	}
	defer w.Cancel()
	_, err = h.SwitchFiber(self)
	return err
}

// TimerLoop repeatedly invokes block every interval until block returns
// false or an error, or self is cancelled. Deadlines are anchored to a
// base time and drift-compensated: next_deadline += interval, and any
// ticks that are already in the past by the time a wait completes are
// skipped rather than replayed — missed ticks collapse, with no
// catch-up flood.
func TimerLoop(h Host, self *task.Task, interval time.Duration, block func() (bool, error)) error {
	base := time.Now()
	next := base.Add(interval)
	for {
		d := time.Until(next)
		if d < 0 {
			// We're already behind: skip forward to the next deadline that
			// is still ahead of now, instead of firing once per missed tick.
			behind := time.Since(next)
			skips := behind/interval + 1
			next = next.Add(time.Duration(skips) * interval)
			d = time.Until(next)
		}
		if err := Sleep(h, self, d); err != nil {
			return err
		}
		next = next.Add(interval)
		cont, err := block()
		if err != nil || !cont {
			return err
		}
	}
}

// Chain batches a sequence of ops, executing them back-to-back without
// intermediate scheduling and failing fast on the first error. Each op is
// any zero-arg operation that can fail, typically a write/send/splice
// call from internal/ops/io_linux.go.
func Chain(ops ...func() error) error {
	for _, op := range ops {
		if err := op(); err != nil {
			return err
		}
	}
	return nil
}
