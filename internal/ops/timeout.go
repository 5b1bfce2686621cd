package ops

import (
	"time"

	"github.com/maumercado/coprocrt/internal/runqueue"
	"github.com/maumercado/coprocrt/internal/task"
)

// Timeout registers a timer that, on fire, injects exc into self
// (prioritized, exactly like Cancel); runs block; and on every exit path
// (normal return, error, or self being cancelled from elsewhere while
// block is running) cancels the timer. If block's error is exc itself
// and onMoveOn is non-nil, the exception is swallowed and onMoveOn()'s
// value is returned instead of being re-raised — this is how the
// move_on/cancel_after wrappers in pkg/runtime are built.
//
// Because the injected exc is only ever delivered at self's next
// suspension point — cancellation cannot interrupt a task that never
// yields — a timer firing while block is doing synchronous work simply
// leaves a prioritized run-queue entry waiting; the next suspension
// primitive block calls (WaitIO, Sleep, Receive, ...) is the one that
// actually observes exc, because the scheduler delivers whichever entry
// was already queued for self before honoring that primitive's own new
// watcher registration — and that new watcher is still cleaned up, via
// its own deferred Cancel, as exc unwinds through it.
//
// The mapping of context.DeadlineExceeded to a fixed sentinel at a single
// call boundary is retargeted here from "map a context timeout after the
// fact" to "inject a sentinel exception at the deadline", matching how
// every other cancellation in this runtime works.
func Timeout(h Host, self *task.Task, d time.Duration, exc error, onMoveOn func() any, block func() (any, error)) (any, error) {
	h.CountOp()
	w, err := h.Reactor().WatchTimer(d, func(runqueue.Resumption) {
		h.ScheduleFiber(self, runqueue.Resumption{Err: exc}, true)
	})
	if err != nil {
		return nil, err
	}
	defer w.Cancel()

	value, berr := block()
	if berr != nil {
		if berr == exc && onMoveOn != nil {
			return onMoveOn(), nil
		}
		return nil, berr
	}
	return value, nil
}
