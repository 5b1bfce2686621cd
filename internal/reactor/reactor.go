// Package reactor multiplexes OS-level readiness — file descriptors,
// timers, child-process exits, and cross-thread wakeups — into task
// resumptions. It is deliberately ignorant of tasks, schedulers, or run
// queues: callers register a Callback per watcher, and the reactor's
// only job is to invoke that callback when the watched condition fires.
// Cancelling a watcher never invokes its callback.
package reactor

import (
	"errors"
	"time"

	"github.com/maumercado/coprocrt/internal/runqueue"
)

// IOEvent is a bitmask of the readiness conditions a caller can wait on.
type IOEvent uint8

const (
	Readable IOEvent = 1 << iota
	Writable
)

func (e IOEvent) String() string {
	switch e {
	case Readable:
		return "readable"
	case Writable:
		return "writable"
	case Readable | Writable:
		return "readable|writable"
	default:
		return "none"
	}
}

// Callback is invoked by the reactor when a watcher fires. Implementations
// must not block and must not call back into the reactor synchronously;
// the scheduler's callback pushes a run-queue entry and returns.
type Callback func(runqueue.Resumption)

// Watcher is a single registration with the reactor. Cancel is safe to
// call more than once and safe to call after the watcher has already
// fired.
type Watcher interface {
	Cancel()
}

// Stats reports live watcher counts, for diagnostics and for asserting
// scenario 6 of the test suite (no leaked watcher after a timeout).
type Stats struct {
	IOWatchers    int
	TimerWatchers int
	ChildWatchers int
	AsyncWatchers int
}

// ErrClosed is returned by any registration call made after Close.
var ErrClosed = errors.New("reactor: closed")

// Reactor is the pluggable OS-event multiplexer. A reimplementation for a
// different platform or event primitive (kqueue, io_uring) need only
// satisfy this interface; nothing above it (RunQueue, Scheduler, Task)
// depends on the concrete backend.
type Reactor interface {
	// WatchIO registers interest in fd becoming ready for ev. The FD is
	// set non-blocking as a side effect, idempotently.
	WatchIO(fd int, ev IOEvent, cb Callback) (Watcher, error)

	// WatchTimer fires cb once after d elapses (monotonic).
	WatchTimer(d time.Duration, cb Callback) (Watcher, error)

	// WatchChild fires cb when pid is reaped, with the resumption value
	// set to an *ExitStatus.
	WatchChild(pid int, cb Callback) (Watcher, error)

	// WatchAsync registers a cross-thread wake watcher: cb fires when the
	// returned watcher is signalled. Live async watchers are counted in
	// Stats.AsyncWatchers.
	WatchAsync(cb Callback) (Watcher, error)

	// Wakeup breaks a concurrent blocking Poll from any goroutine/thread.
	// Safe to call with no blocking Poll in progress (it is then a no-op
	// until the next blocking Poll begins, per the pending-flag behavior
	// of the concrete eventfd-backed implementation).
	Wakeup()

	// Poll runs one iteration. If blocking, it waits until at least one
	// watcher fires or Wakeup is called; if non-blocking, it drains
	// already-ready events and returns immediately.
	Poll(blocking bool) error

	// Stats reports current watcher counts by kind, async included.
	Stats() Stats

	// Close releases all OS resources. Pending watchers are cancelled
	// without firing.
	Close() error
}

// ExitStatus is the resumption value delivered by a ChildWatcher.
type ExitStatus struct {
	Pid      int
	ExitCode int
	Signaled bool
	Signal   int
}
