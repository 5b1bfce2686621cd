package task

import "errors"

// State is one of the four lifecycle states a Task/Coprocess passes
// through. A task is created Suspended, becomes Runnable
// once scheduled, is Running for the duration of exactly one time slice
// on its scheduler's OS thread, and ends Terminated exactly once.
type State int

const (
	Suspended State = iota
	Runnable
	Running
	Terminated
)

func (s State) String() string {
	switch s {
	case Suspended:
		return "suspended"
	case Runnable:
		return "runnable"
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition is returned by StateMachine.Transition when the
// requested move is not in ValidTransitions.
var ErrInvalidTransition = errors.New("task: invalid state transition")

// ValidTransitions enumerates the legal moves out of each state. Terminated
// has none: a task's result slot is set exactly once.
var ValidTransitions = map[State][]State{
	Suspended:  {Runnable, Terminated},
	Runnable:   {Running, Terminated},
	Running:    {Suspended, Runnable, Terminated},
	Terminated: {},
}

// CanTransitionTo reports whether target is reachable directly from s.
func (s State) CanTransitionTo(target State) bool {
	for _, v := range ValidTransitions[s] {
		if v == target {
			return true
		}
	}
	return false
}

// StateMachine guards every state change a Task makes. Grounded on the
// teacher's task.StateMachine (internal/task/state.go): a small wrapper
// holding the owning value and rejecting transitions absent from a static
// adjacency table, retargeted from the eight-state job-queue lifecycle to
// the four-state coprocess lifecycle above.
//
// StateMachine itself does no locking: the owning Task's mutex must
// already be held by the caller (SetState and Finish both take it before
// constructing one); it assumes single-threaded access and lets its
// caller serialize.
type StateMachine struct {
	task *Task
}

// NewStateMachine returns a StateMachine guarding t's state field. Callers
// must hold t's mutex.
func NewStateMachine(t *Task) *StateMachine {
	return &StateMachine{task: t}
}

// Transition moves the task to target, or returns ErrInvalidTransition
// without modifying state. Caller must hold the task's mutex.
func (sm *StateMachine) Transition(target State) error {
	if !sm.task.state.CanTransitionTo(target) {
		return ErrInvalidTransition
	}
	sm.task.state = target
	return nil
}
