package runtime

import (
	"time"

	"github.com/maumercado/coprocrt/internal/ops"
	"github.com/maumercado/coprocrt/internal/reactor"
	"github.com/maumercado/coprocrt/internal/task"
)

// Task is the public per-coprocess handle: spawn, await, stop, interrupt,
// cancel, resume, when_done, alive/result, caller/location, send/receive,
// plus the suspension primitives a task calls on itself (snooze, suspend,
// sleep, wait_io, wait_event, timeout, timer_loop) all live here. The
// zero value is not usable; Tasks come from Runtime.Run or another Task's
// Spawn.
type Task struct {
	t  *task.Task
	rt *Runtime
}

// Outcome mirrors task.Outcome for callers that want both halves of a
// result without two separate calls.
type Outcome = task.Outcome

// Spawn creates a child of tk, scheduled at the back of the run queue,
// and returns its handle immediately — the child's fn has not run yet.
func (tk *Task) Spawn(fn func(self *Task) (any, error)) *Task {
	var child *Task
	entry := func(_ *task.Task) (any, error) { return fn(child) }
	t := tk.rt.sched.Spawn(tk.t, entry)
	child = &Task{t: t, rt: tk.rt}
	return child
}

// Spin is sugar for Spawn, matching the runtime's global-primitive name.
func (tk *Task) Spin(fn func(self *Task) (any, error)) *Task { return tk.Spawn(fn) }

// ID returns the task's stable handle.
func (tk *Task) ID() string { return tk.t.ID() }

// Alive reports whether the task has not yet terminated.
func (tk *Task) Alive() bool { return tk.t.Alive() }

// Result returns the terminal outcome and true once the task has
// terminated, or the zero Outcome and false while still alive.
func (tk *Task) Result() (Outcome, bool) { return tk.t.Result() }

// Caller returns the captured spawn-site trace.
func (tk *Task) Caller() string { return tk.t.Caller() }

// Location returns a diagnostic label for the task's current state.
func (tk *Task) Location() string { return tk.t.Location() }

// Parent returns tk's spawning task, or nil for a root task.
func (tk *Task) Parent() *Task {
	p := tk.t.Parent()
	if p == nil {
		return nil
	}
	return &Task{t: p, rt: tk.rt}
}

// WhenDone registers cb to run after tk terminates with its outcome.
// The callback is invoked inline from wherever the termination happens;
// it cannot suspend or be cancelled.
func (tk *Task) WhenDone(cb func(Outcome)) { tk.t.WhenDone(cb) }

// Await blocks the calling task until tk terminates, returning its value
// or re-raising its error.
func (tk *Task) Await() (any, error) {
	self := tk.rt.sched.Current()
	return ops.Await(tk.rt.sched, self, tk.t)
}

// Stop terminates tk without error, injecting value as its outcome.
// Prioritized ahead of ordinary scheduling.
func (tk *Task) Stop(value any) { tk.rt.sched.Stop(tk.t, value) }

// Interrupt is an alias for Stop.
func (tk *Task) Interrupt(value any) { tk.rt.sched.Interrupt(tk.t, value) }

// Cancel injects a *task.CancelError into tk. Unless tk's code catches
// it, it unwinds the task and becomes its outcome; awaiters re-raise it.
func (tk *Task) Cancel(reason string) { tk.rt.sched.Cancel(tk.t, reason) }

// Resume schedules tk at the back of the run queue with value as an
// ordinary (non-error) resume value. No-op if tk has already terminated.
func (tk *Task) Resume(value any) { tk.rt.sched.Resume(tk.t, value) }

// Send appends msg to tk's mailbox, waking it immediately if it is
// blocked in Receive.
func (tk *Task) Send(msg any) { ops.Send(tk.t, msg) }

// Receive pops the oldest message from tk's own mailbox, or suspends
// until the next Send. Must only be called by tk itself — i.e. from
// inside the function tk is running.
func (tk *Task) Receive() any { return ops.Receive(tk.rt.sched, tk.t) }

// Snooze yields tk to the back of the run queue and back — the
// runtime's single fairness point.
func (tk *Task) Snooze() error { return ops.Snooze(tk.rt.sched, tk.t) }

// Suspend yields tk without self-scheduling; it resumes only once
// something else explicitly schedules it.
func (tk *Task) Suspend() (any, error) { return ops.Suspend(tk.rt.sched, tk.t) }

// Sleep suspends tk for at least d.
func (tk *Task) Sleep(d time.Duration) error { return ops.Sleep(tk.rt.sched, tk.t, d) }

// WaitIO suspends tk until fd is ready for ev, with no syscall of its own.
func (tk *Task) WaitIO(fd int, ev reactor.IOEvent) error {
	return ops.WaitIO(tk.rt.sched, tk.t, fd, ev)
}

// WaitEvent registers an anonymous async watcher and suspends tk. No
// handle to it is returned, so no Signal can reach it: tk resumes only
// through Resume, Stop, Interrupt or Cancel. Use NewEvent and Wait for
// an event another task can Signal.
func (tk *Task) WaitEvent() error { return ops.WaitEvent(tk.rt.sched, tk.t) }

// Event is a one-shot cross-task signal: create it with NewEvent, hand the
// handle to whichever task will call Signal, and have tk call Wait on it.
type Event struct{ e *ops.Event }

// NewEvent allocates an Event ready for exactly one Wait/Signal pair.
func NewEvent() *Event { return &Event{e: ops.NewEvent()} }

// Wait suspends tk until Signal is called on ev.
func (tk *Task) Wait(ev *Event) error { return ev.e.Wait(tk.rt.sched, tk.t) }

// Signal wakes ev's waiter, if Wait has already registered one.
func (ev *Event) Signal() { ev.e.Signal() }

// TimerLoop repeats block every interval, drift-compensated, until block
// returns false or an error, or tk is cancelled.
func (tk *Task) TimerLoop(interval time.Duration, block func() (bool, error)) error {
	return ops.TimerLoop(tk.rt.sched, tk.t, interval, block)
}

// Timeout runs block under a deadline that injects exc if it fires. If
// onMoveOn is non-nil and block's exit is exc itself, onMoveOn's return
// value is returned instead of re-raising.
func (tk *Task) Timeout(d time.Duration, exc error, onMoveOn func() any, block func() (any, error)) (any, error) {
	return ops.Timeout(tk.rt.sched, tk.t, d, exc, onMoveOn, block)
}

// MoveOn runs block under a d deadline, and if it times out, returns
// value instead of raising (internally: Timeout with a private timeout
// sentinel and an onMoveOn that returns value).
func (tk *Task) MoveOn(d time.Duration, value any, block func() (any, error)) (any, error) {
	sentinel := &task.TimeoutError{Duration: d.String()}
	return tk.Timeout(d, sentinel, func() any { return value }, block)
}

// CancelAfter runs block under a d deadline, raising *task.CancelError if
// it fires (internally: Timeout with no onMoveOn, so the cancel always
// re-raises).
func (tk *Task) CancelAfter(d time.Duration, block func() (any, error)) (any, error) {
	sentinel := &task.CancelError{Reason: "cancel_after deadline"}
	return tk.Timeout(d, sentinel, nil, block)
}

// AwaitAll blocks the calling task until every task in tasks has
// terminated. Every target runs to completion regardless of individual
// failures; the first failure in tasks' order is then re-raised, or
// values are returned in tasks' order.
func AwaitAll(tasks ...*Task) ([]any, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	rt := tasks[0].rt
	self := rt.sched.Current()
	targets := make([]*task.Task, len(tasks))
	for i, tk := range tasks {
		targets[i] = tk.t
	}
	return ops.AwaitAll(rt.sched, self, targets)
}
