// Package scheduler implements the per-OS-thread driver: it owns the run
// queue and the reactor, runs the core switch loop, and is the only thing
// in this module allowed to start or resume a task's execution context.
// Built around a single poll loop (RunLoop) that alternates between
// running the next ready coprocess and polling the reactor for due
// timers/FDs, and that shuts itself down once the root task terminates.
package scheduler

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maumercado/coprocrt/internal/coroutine"
	"github.com/maumercado/coprocrt/internal/reactor"
	"github.com/maumercado/coprocrt/internal/runqueue"
	"github.com/maumercado/coprocrt/internal/task"
)

// Stats is the scheduler's stats() snapshot: switches, polls, ops.
type Stats struct {
	Switches uint64
	Polls    uint64
	Ops      uint64
}

// TraceHooks are optional instrumentation points for diagnostics and
// tracing tools. Every field may be nil; Scheduler checks before calling.
type TraceHooks struct {
	FiberEventPollEnter func()
	FiberEventPollLeave func()
	FiberSwitch         func(from, to *task.Task)
	FiberRun            func(t *task.Task)
	FiberTerminate      func(t *task.Task, outcome task.Outcome)
}

// nonBlockingPollEvery is how many switches elapse between the scheduler's
// own proactive non-blocking reactor polls, guaranteeing I/O progress
// under CPU-bound fiber churn even if nothing ever blocks on the reactor.
const nonBlockingPollEvery = 64

// Scheduler is a per-OS-thread singleton. It must only be driven from the
// goroutine that created it (normally pinned with runtime.LockOSThread by
// the caller — at most one task runs at a time per scheduler instance);
// ScheduleFiber and Wakeup are the only methods safe to call from other
// threads.
type Scheduler struct {
	rq      *runqueue.Queue
	re      reactor.Reactor
	root    *task.Task
	current *task.Task

	switches uint64
	polls    uint64
	ops      uint64

	switchesSinceIdlePoll int64

	idleGCPeriod time.Duration
	lastGC       time.Time
	idleProc     func()

	hooks TraceHooks

	// polling is set while this goroutine is blocked inside re.Poll(true);
	// ScheduleFiber checks it (under mu) to decide whether a cross-thread
	// caller must also call re.Wakeup() to break the blocking poll.
	mu      sync.Mutex
	polling bool

	shuttingDown bool
}

// New creates a scheduler around re. The caller owns re's lifecycle
// (reactor construction is platform-specific, see internal/reactor) and
// should Close it after RunLoop returns.
func New(re reactor.Reactor) *Scheduler {
	return &Scheduler{
		rq:     runqueue.New(),
		re:     re,
		lastGC: time.Now(),
	}
}

// SetIdleGCPeriod configures how often, at minimum, an idle poll triggers
// a GC cycle. Zero disables GC triggering.
func (s *Scheduler) SetIdleGCPeriod(d time.Duration) { s.idleGCPeriod = d }

// SetIdleProc installs a callback invoked whenever the scheduler is about
// to block in the reactor.
func (s *Scheduler) SetIdleProc(f func()) { s.idleProc = f }

// SetTraceHooks installs the optional instrumentation points.
func (s *Scheduler) SetTraceHooks(h TraceHooks) { s.hooks = h }

// Stats returns a snapshot of the switch/poll/op counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Switches: atomic.LoadUint64(&s.switches),
		Polls:    atomic.LoadUint64(&s.polls),
		Ops:      atomic.LoadUint64(&s.ops),
	}
}

// ReactorStats exposes the watcher-count diagnostics of internal/reactor.
func (s *Scheduler) ReactorStats() reactor.Stats { return s.re.Stats() }

// Reactor returns the reactor this scheduler drives, for internal/ops's
// suspension primitives to register watchers on.
func (s *Scheduler) Reactor() reactor.Reactor { return s.re }

// CountOp increments the op counter; internal/ops calls this once per
// suspension-primitive invocation so Stats().Ops reflects real traffic.
func (s *Scheduler) CountOp() { atomic.AddUint64(&s.ops, 1) }

// Current returns the task currently holding the CPU on this scheduler,
// or nil if called from outside a scheduler turn (e.g. before Root has
// run, or from another OS thread).
func (s *Scheduler) Current() *task.Task { return s.current }

// Root creates and returns the root task wrapping fn — the scheduler
// shuts down when it terminates. Root must be called before RunLoop.
func (s *Scheduler) Root(fn func(self *task.Task) (any, error)) *task.Task {
	t := s.newTask(nil, fn, 2)
	s.root = t
	_ = t.SetState(task.Runnable)
	s.rq.PushBack(t, runqueue.Resumption{})
	return t
}

// Spawn creates a Runnable child of parent, scheduled at the back of the
// run queue. parent is nil only for Root. Spawn may be called from a
// different OS thread than the one running RunLoop
// (e.g. internal/diag's HTTP handlers) — it goes through ScheduleFiber
// so a scheduler currently blocked in a reactor poll is woken promptly,
// exactly like Resume/Stop/Interrupt/Cancel.
func (s *Scheduler) Spawn(parent *task.Task, fn func(self *task.Task) (any, error)) *task.Task {
	t := s.newTask(parent, fn, 2)
	if parent != nil {
		parent.AddChild(t)
	}
	s.ScheduleFiber(t, runqueue.Resumption{}, false)
	return t
}

func (s *Scheduler) newTask(parent *task.Task, fn func(self *task.Task) (any, error), callerSkip int) *task.Task {
	t := task.New(parent, callerSkip+1)
	entry := wrapEntry(t, fn)
	t.Exec = coroutine.New(entry)
	return t
}

// wrapEntry is the handler installed at every task's entry frame: it
// catches *task.MoveOnError and converts it into a successful outcome,
// and lets *task.CancelError (and any other error) fall through to become
// the task's failing outcome, which Scheduler.terminate then decides
// whether to re-raise at an awaiter or forward to the parent.
func wrapEntry(self *task.Task, fn func(self *task.Task) (any, error)) coroutine.Func {
	return func(ctx *coroutine.Context) (value any, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("coprocess: panic: %v", p)
			}
		}()
		value, err = fn(self)
		var moveOn *task.MoveOnError
		if errors.As(err, &moveOn) {
			return moveOn.Value, nil
		}
		return value, err
	}
}

// ScheduleFiber pushes t onto the run queue (front if prioritize). If
// this scheduler is currently blocked in a reactor poll on another OS
// thread, it also signals the reactor's async wakeup watcher so the poll
// returns promptly — this is the one cross-thread-safe entry point other
// than Wakeup itself.
func (s *Scheduler) ScheduleFiber(t *task.Task, r runqueue.Resumption, prioritize bool) {
	_ = t.SetState(task.Runnable) // no-op error if already Runnable/Running/Terminated
	if prioritize {
		s.rq.PushFront(t, r)
	} else {
		s.rq.PushBack(t, r)
	}
	s.mu.Lock()
	wasPolling := s.polling
	s.mu.Unlock()
	if wasPolling {
		s.re.Wakeup()
	}
}

// Remove deletes t's pending run-queue entry, if any. Used when a task is
// torn down before its scheduled resume fires (e.g. a child stopped while
// still only Runnable, never having reached Running).
func (s *Scheduler) Remove(t *task.Task) bool { return s.rq.Delete(t) }

// Resume schedules t at the back of the run queue with value as an
// ordinary (non-error) resume value. No-op if t has already terminated.
func (s *Scheduler) Resume(t *task.Task, value any) {
	if !t.Alive() {
		return
	}
	s.ScheduleFiber(t, runqueue.Resumption{Value: value}, false)
}

// Stop and Interrupt both terminate t without error by injecting a
// MoveOnError{value}, prioritized ahead of ordinary resumes. They are the
// same operation under two names, matching the public API's listing of
// both.
func (s *Scheduler) Stop(t *task.Task, value any) { s.injectSentinel(t, &task.MoveOnError{Value: value}) }

func (s *Scheduler) Interrupt(t *task.Task, value any) { s.injectSentinel(t, &task.MoveOnError{Value: value}) }

// Cancel injects a CancelError, prioritized. Unless caught by user code it
// unwinds the task and becomes its outcome.
func (s *Scheduler) Cancel(t *task.Task, reason string) {
	s.injectSentinel(t, &task.CancelError{Reason: reason})
}

func (s *Scheduler) injectSentinel(t *task.Task, err error) {
	if !t.Alive() {
		return
	}
	if !started(t) {
		// Never resumed yet: there is no suspension point to deliver the
		// error into. Abort the coroutine without ever entering fn's body
		// and terminate directly. A freshly spawned task sits Runnable in
		// the run queue at this point, not Suspended, since Spawn/Root
		// schedule it immediately — state alone can't distinguish "never
		// started" from "suspended mid-run", so check the coroutine itself.
		s.abortNeverStarted(t, err)
		return
	}
	s.ScheduleFiber(t, runqueue.Resumption{Err: err}, true)
}

func started(t *task.Task) bool {
	co, _ := t.Exec.(*coroutine.Coroutine)
	return co != nil && co.Started()
}

func (s *Scheduler) abortNeverStarted(t *task.Task, err error) {
	s.rq.Delete(t)
	co := t.Exec.(*coroutine.Coroutine)
	ev := co.Abort(err)
	outcome := task.Outcome{Value: ev.Value, Err: ev.Err}
	// Stop/Interrupt of a never-started task ends it with the MoveOn
	// value and no error, exactly as wrapEntry does for a started one.
	var moveOn *task.MoveOnError
	if errors.As(ev.Err, &moveOn) {
		outcome = task.Outcome{Value: moveOn.Value}
	}
	s.terminate(t, outcome)
}

// SwitchFiber is the single entry point every suspension primitive uses
// to give up the CPU and wait for a resumption. self must be the task
// currently Running on this scheduler. It returns the value (or raises
// the error) the task was eventually resumed with.
func (s *Scheduler) SwitchFiber(self *task.Task) (any, error) {
	co := self.Exec.(*coroutine.Coroutine)
	return co.Suspend()
}

// Snooze is the single fairness point: schedule self at the back of the
// queue, then yield. Any tight syscall retry loop calls this between
// iterations.
func (s *Scheduler) Snooze(self *task.Task) error {
	s.ScheduleFiber(self, runqueue.Resumption{}, false)
	_, err := s.SwitchFiber(self)
	return err
}

// Suspend yields self without self-scheduling; it resumes only once
// someone else explicitly calls ScheduleFiber (directly, or via Resume/
// Stop/Interrupt/Cancel, or a reactor callback).
func (s *Scheduler) Suspend(self *task.Task) (any, error) {
	return s.SwitchFiber(self)
}

// RunLoop drives the scheduler until the root task terminates, then runs
// the shutdown sequence (cancel remaining children, drain the run
// queue). It must be called from the goroutine that owns this Scheduler.
func (s *Scheduler) RunLoop() error {
	if s.root == nil {
		return fmt.Errorf("scheduler: RunLoop called before Root")
	}
	for {
		if s.root.State() == task.Terminated {
			return s.shutdown()
		}
		entry, val, ok := s.rq.PopFront()
		if !ok {
			if err := s.pollIdle(); err != nil {
				return err
			}
			entry, val, ok = s.rq.PopFront()
			if !ok {
				if s.root.State() == task.Terminated {
					return s.shutdown()
				}
				// Nothing runnable and nothing pending in the reactor: deadlock.
				if s.current != nil {
					s.deliverDeadlock(s.current)
					continue
				}
				return &task.DeadlockError{}
			}
		}
		t := entry.(*task.Task)
		s.runOne(t, val)

		s.switchesSinceIdlePoll++
		if s.switchesSinceIdlePoll >= nonBlockingPollEvery {
			s.switchesSinceIdlePoll = 0
			_ = s.re.Poll(false)
			atomic.AddUint64(&s.polls, 1)
		}
	}
}

func (s *Scheduler) deliverDeadlock(t *task.Task) {
	s.rq.Delete(t)
	s.runOne(t, runqueue.Resumption{Err: &task.DeadlockError{TaskID: t.ID()}})
}

func (s *Scheduler) pollIdle() error {
	if s.idleProc != nil {
		s.idleProc()
	}
	if s.idleGCPeriod > 0 && time.Since(s.lastGC) >= s.idleGCPeriod {
		runtime.GC()
		s.lastGC = time.Now()
	}
	if s.hooks.FiberEventPollEnter != nil {
		s.hooks.FiberEventPollEnter()
	}
	s.mu.Lock()
	s.polling = true
	s.mu.Unlock()
	err := s.re.Poll(true)
	s.mu.Lock()
	s.polling = false
	s.mu.Unlock()
	atomic.AddUint64(&s.polls, 1)
	if s.hooks.FiberEventPollLeave != nil {
		s.hooks.FiberEventPollLeave()
	}
	return err
}

// runOne switches into t with resumption val, handling both a first entry
// (t.Exec not yet started) and a subsequent resume, and processes
// termination if the switch produced one.
func (s *Scheduler) runOne(t *task.Task, val runqueue.Resumption) {
	prev := s.current
	s.current = t
	_ = t.SetState(task.Runnable) // no-op if already Runnable; bridges Suspended->Running for direct pops (e.g. deadlock delivery)
	_ = t.SetState(task.Running)
	if s.hooks.FiberSwitch != nil {
		s.hooks.FiberSwitch(prev, t)
	}
	if s.hooks.FiberRun != nil {
		s.hooks.FiberRun(t)
	}

	co := t.Exec.(*coroutine.Coroutine)
	var ev coroutine.Event
	if !co.Started() {
		ev = co.Start()
	} else {
		ev = co.Resume(coroutine.Resumption{Value: val.Value, Err: val.Err})
	}
	atomic.AddUint64(&s.switches, 1)

	s.current = prev
	if ev.Done {
		s.terminate(t, task.Outcome{Value: ev.Value, Err: ev.Err})
		return
	}
	// A suspension primitive that self-schedules before yielding (Snooze,
	// a mailbox Send racing a concurrent Receive registration, etc.)
	// already moved t to Runnable during its own turn; only force it back
	// to Suspended if nothing did.
	if t.State() == task.Running {
		_ = t.SetState(task.Suspended)
	}
}

// terminate implements structured-concurrency teardown in full: stop
// every live child in reverse spawn order and wait for each to confirm
// termination (re-entering this same loop recursively, since stopping a
// child may require running it to its entry-frame handler), then record
// the result through Task.Finish (which notifies awaiters and then runs
// when_done callbacks), detach from the parent, and — if the outcome is
// an unhandled error with no awaiters — forward it to the parent.
func (s *Scheduler) terminate(t *task.Task, outcome task.Outcome) {
	for _, child := range t.ChildrenReversed() {
		s.stopAndWait(child)
	}
	hadAwaiters := t.HasWaiters()
	t.Finish(outcome)
	if parent := t.Parent(); parent != nil {
		parent.RemoveChild(t)
	}
	// An unhandled error with no awaiters is forwarded to the parent as if
	// raised at its next resume. A Cancel outcome is "unhandled" in
	// exactly the same sense (it is an error value) so it follows the
	// same rule.
	if outcome.Err != nil && !hadAwaiters {
		if parent := t.Parent(); parent != nil {
			s.injectSentinel(parent, outcome.Err)
		}
	}
}

// stopAndWait stops child and pumps the scheduler loop until it confirms
// Terminated, since stopping a child may require running it to its
// entry-frame handler before it reports termination.
func (s *Scheduler) stopAndWait(child *task.Task) {
	if !child.Alive() {
		return
	}
	s.Stop(child, nil)
	for child.Alive() {
		entry, val, ok := s.rq.PopFront()
		if !ok {
			if err := s.pollIdle(); err != nil {
				return
			}
			entry, val, ok = s.rq.PopFront()
			if !ok {
				return
			}
		}
		s.runOne(entry.(*task.Task), val)
	}
}

func (s *Scheduler) shutdown() error {
	s.shuttingDown = true
	for _, child := range s.root.ChildrenReversed() {
		s.stopAndWait(child)
	}
	for {
		entry, _, ok := s.rq.PopFront()
		if !ok {
			break
		}
		if t, ok := entry.(*task.Task); ok {
			s.rq.Delete(t)
		}
	}
	return nil
}
