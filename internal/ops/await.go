package ops

import (
	"github.com/maumercado/coprocrt/internal/runqueue"
	"github.com/maumercado/coprocrt/internal/task"
)

// awaitWaiter adapts a Host+blocked-task pair into a task.Waiter: when
// the target terminates, Deliver reschedules the blocked task with the
// outcome's value, or (if the target failed) with the outcome's error to
// be re-raised at the blocked task's Await call site.
type awaitWaiter struct {
	h    Host
	self *task.Task
}

func (w awaitWaiter) Deliver(o task.Outcome) {
	w.h.ScheduleFiber(w.self, runqueue.Resumption{Value: o.Value, Err: o.Err}, false)
}

// Await blocks self until target terminates, returning its value or
// re-raising its error exactly as the target received it — including a
// *task.CancelError. Multiple concurrent awaiters of the same target all
// observe the same outcome, since task.RegisterWaiter fans out to every
// registrant.
func Await(h Host, self *task.Task, target *task.Task) (any, error) {
	h.CountOp()
	target.RegisterWaiter(awaitWaiter{h: h, self: self})
	return h.SwitchFiber(self)
}

// awaitAllWaiter collects one target's outcome into a shared slice and
// wakes self (via a private per-call counter) once every target has
// reported — entirely within the cooperative model: self is resumed
// repeatedly (each time with a plain nil resumption) and simply checks
// whether the counter has reached zero before suspending again.
type awaitAllWaiter struct {
	counter  *awaitAllCounter
	index    int
	outcomes []task.Outcome
}

type awaitAllCounter struct {
	h         Host
	self      *task.Task
	remaining int
}

func (w awaitAllWaiter) Deliver(o task.Outcome) {
	w.outcomes[w.index] = o
	w.counter.remaining--
	w.counter.h.ScheduleFiber(w.counter.self, runqueue.Resumption{}, false)
}

// AwaitAll blocks self until every task in targets has terminated. Every
// target runs to completion regardless of failures (no early return on
// the first error); once all have reported, the first failure in
// targets' order is re-raised, otherwise every value is returned in
// targets' order.
func AwaitAll(h Host, self *task.Task, targets []*task.Task) ([]any, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	outcomes := make([]task.Outcome, len(targets))
	counter := &awaitAllCounter{h: h, self: self, remaining: len(targets)}
	for i, t := range targets {
		t.RegisterWaiter(awaitAllWaiter{counter: counter, index: i, outcomes: outcomes})
	}
	for counter.remaining > 0 {
		if _, err := h.SwitchFiber(self); err != nil {
			// self itself was cancelled/interrupted while waiting; propagate.
			return nil, err
		}
	}
	values := make([]any, len(targets))
	for i, o := range outcomes {
		if o.Err != nil {
			return nil, o.Err
		}
		values[i] = o.Value
	}
	return values, nil
}
