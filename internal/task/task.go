// Package task implements the coprocess lifecycle: identity, the
// four-state machine, the result slot, parent/child supervision
// bookkeeping, and the mailbox. It deliberately knows nothing about the
// scheduler's run queue or the reactor — those are internal/scheduler's
// job — so that this package stays a plain data structure plus
// invariants rather than a driver.
package task

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maumercado/coprocrt/internal/mailbox"
)

// Outcome is a terminated task's final result: either a value or an
// error (an ordinary operational error, or one of CancelError/
// MoveOnError — MoveOnError is unwrapped to a plain Value by the
// scheduler's entry wrapper before it ever reaches here, since it is
// caught at the task's entry frame).
type Outcome struct {
	Value any
	Err   error
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("error(%v)", o.Err)
	}
	return fmt.Sprintf("value(%v)", o.Value)
}

// Waiter is the minimal surface a task blocked in Await needs: a way to
// be resumed with the target's outcome once it terminates. Mirrors
// mailbox.Waiter's shape deliberately — both are "suspend until someone
// hands me a value" registrations.
type Waiter interface {
	Deliver(Outcome)
}

// Task is a single coprocess: identity, lifecycle state, the stack-switched
// execution context it drives (owned by internal/coroutine, referenced
// opaquely here as an any so this package need not import it — the
// scheduler is the only thing that type-asserts it back), parent/child
// bookkeeping, and a private mailbox.
type Task struct {
	id string

	mu       sync.Mutex
	state    State
	outcome  *Outcome
	parent   *Task
	children []*Task // spawn order; index 0 is the oldest live child
	waiters  []Waiter
	whenDone []func(Outcome)

	mailbox *mailbox.Mailbox

	caller    string
	createdAt time.Time

	// Exec is the stack-switched execution context this task drives,
	// stored opaquely (internal/coroutine.Coroutine) so this package does
	// not need to import internal/coroutine. Set once by the scheduler at
	// creation and never reassigned.
	Exec any
}

// New creates a Suspended task with no children and an empty mailbox.
// parent is nil only for a scheduler's root task. callerSkip is the
// number of stack frames between the public Spawn call and here, used to
// capture a caller trace for diagnostics.
func New(parent *Task, callerSkip int) *Task {
	t := &Task{
		id:        uuid.NewString(),
		state:     Suspended,
		parent:    parent,
		mailbox:   mailbox.New(),
		caller:    captureCaller(callerSkip + 1),
		createdAt: time.Now().UTC(),
	}
	return t
}

func captureCaller(skip int) string {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	name := "unknown"
	if fn != nil {
		name = fn.Name()
	}
	return fmt.Sprintf("%s (%s:%d)", name, file, line)
}

// ID returns the task's stable handle.
func (t *Task) ID() string { return t.id }

// Caller returns the captured spawn-site trace.
func (t *Task) Caller() string { return t.caller }

// Location returns the task's current state as a diagnostic label.
func (t *Task) Location() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.String()
}

// CreatedAt returns when the task was constructed.
func (t *Task) CreatedAt() time.Time { return t.createdAt }

// Parent returns the spawning task, or nil for a root task.
func (t *Task) Parent() *Task { return t.parent }

// Mailbox returns the task's private message queue. Receive must only
// ever be called by the owning task.
func (t *Task) Mailbox() *mailbox.Mailbox { return t.mailbox }

// State returns the current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Alive reports whether the task has not yet terminated.
func (t *Task) Alive() bool {
	return t.State() != Terminated
}

// SetState drives the state machine. Returns ErrInvalidTransition if the
// move isn't legal from the current state.
func (t *Task) SetState(target State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return NewStateMachine(t).Transition(target)
}

// Result returns the terminal outcome and true if the task has
// terminated, or the zero Outcome and false while it is still alive.
func (t *Task) Result() (Outcome, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.outcome == nil {
		return Outcome{}, false
	}
	return *t.outcome, true
}

// Finish sets the task's result slot exactly once, transitions to
// Terminated, notifies every registered Await waiter, and runs every
// when-done callback. Calling Finish twice panics: the result slot may
// only be set once.
//
// Finish does not itself handle structured-concurrency child teardown —
// that requires re-entering the scheduler (children must be asked to
// stop and their termination awaited), which this package cannot do
// without importing the scheduler. internal/scheduler.terminate performs
// that step before calling Finish.
func (t *Task) Finish(outcome Outcome) {
	t.mu.Lock()
	if t.outcome != nil {
		t.mu.Unlock()
		panic("task: Finish called twice on " + t.id)
	}
	t.outcome = &outcome
	_ = NewStateMachine(t).Transition(Terminated) // Running -> Terminated is always legal
	waiters := t.waiters
	t.waiters = nil
	cbs := t.whenDone
	t.whenDone = nil
	t.mu.Unlock()

	for _, w := range waiters {
		w.Deliver(outcome)
	}
	for _, cb := range cbs {
		runWhenDoneSafely(cb, outcome)
	}
}

func runWhenDoneSafely(cb func(Outcome), o Outcome) {
	defer func() {
		if p := recover(); p != nil {
			// Exceptions from when_done callbacks are swallowed and reported
			// to an error sink, not propagated.
			errorSink(fmt.Errorf("task: when_done callback panicked: %v", p))
		}
	}()
	cb(o)
}

// errorSink is where swallowed when_done panics are reported. Overridable
// by internal/scheduler/pkg/runtime wiring so they land in the structured
// logger instead of stderr; defaults to a no-op-safe fallback.
var errorSink = func(err error) { _ = err }

// SetErrorSink installs the sink used by runWhenDoneSafely for swallowed
// when_done panics.
func SetErrorSink(f func(error)) {
	if f == nil {
		f = func(error) {}
	}
	errorSink = f
}

// WhenDone registers cb to run after termination with the final outcome.
// If the task has already terminated, cb runs immediately (synchronously,
// in the caller's goroutine) so a late registration never misses the
// result.
func (t *Task) WhenDone(cb func(Outcome)) {
	t.mu.Lock()
	if t.outcome != nil {
		o := *t.outcome
		t.mu.Unlock()
		runWhenDoneSafely(cb, o)
		return
	}
	t.whenDone = append(t.whenDone, cb)
	t.mu.Unlock()
}

// HasWaiters reports whether any task is currently blocked in Await on
// this one. Used by the scheduler to decide whether an unhandled error
// should be forwarded to the parent or left for an awaiter to observe.
func (t *Task) HasWaiters() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters) > 0
}

// RegisterWaiter records w as blocked awaiting this task's termination.
// If the task has already terminated, w is delivered to immediately.
func (t *Task) RegisterWaiter(w Waiter) {
	t.mu.Lock()
	if t.outcome != nil {
		o := *t.outcome
		t.mu.Unlock()
		w.Deliver(o)
		return
	}
	t.waiters = append(t.waiters, w)
	t.mu.Unlock()
}

// AddChild records c as a live child, spawned most-recently-last.
func (t *Task) AddChild(c *Task) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.children = append(t.children, c)
}

// RemoveChild drops c from the live-children set. Idempotent.
func (t *Task) RemoveChild(c *Task) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, ch := range t.children {
		if ch == c {
			t.children = append(t.children[:i], t.children[i+1:]...)
			return
		}
	}
}

// Children returns a snapshot of live children, oldest-spawned first.
func (t *Task) Children() []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Task, len(t.children))
	copy(out, t.children)
	return out
}

// ChildrenReversed returns a snapshot of live children in reverse spawn
// order, which is the order children must be stopped in on termination.
func (t *Task) ChildrenReversed() []*Task {
	kids := t.Children()
	for i, j := 0, len(kids)-1; i < j; i, j = i+1, j-1 {
		kids[i], kids[j] = kids[j], kids[i]
	}
	return kids
}

func (t *Task) String() string {
	return fmt.Sprintf("task(%s,%s)", t.id, t.State())
}
