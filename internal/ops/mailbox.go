package ops

import (
	"github.com/maumercado/coprocrt/internal/runqueue"
	"github.com/maumercado/coprocrt/internal/task"
)

// mailboxWaiter adapts a Host+blocked-receiver pair into a mailbox.Waiter.
type mailboxWaiter struct {
	h    Host
	self *task.Task
}

func (w mailboxWaiter) Deliver(msg any) {
	w.h.ScheduleFiber(w.self, runqueue.Resumption{Value: msg}, false)
}

// Send appends msg to target's mailbox, waking it immediately if it is
// blocked in Receive. It never suspends the caller.
func Send(target *task.Task, msg any) {
	target.Mailbox().Send(msg)
}

// Receive pops the oldest queued message from self's own mailbox, or
// suspends until the next Send if it is empty; a mailbox may only be
// consumed by the task that owns it. Callers must pass self as its own
// mailbox's owner; internal/ops does not check this beyond what
// mailbox.Register's reentrancy panic already guards.
func Receive(h Host, self *task.Task) any {
	h.CountOp()
	if msg, ok := self.Mailbox().TryReceive(); ok {
		return msg
	}
	self.Mailbox().Register(mailboxWaiter{h: h, self: self})
	value, _ := h.SwitchFiber(self)
	return value
}
