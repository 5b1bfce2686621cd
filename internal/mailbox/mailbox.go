// Package mailbox implements the per-task message queue: send appends
// and, if the owner is blocked in receive, wakes it directly with the
// message as its resume value; receive pops if the queue is non-empty,
// else blocks until the next send.
//
// Built on a buffered-subscriber-channel idiom (a per-subscriber channel
// with queued delivery), adapted here to never drop a message — a
// mailbox holds every undelivered send, it does not have a
// bounded-buffer drop policy.
package mailbox

import "sync"

// Waiter is the minimal surface a blocked receiver needs: a way for the
// mailbox to hand it a message directly, without going through a Go
// channel, so delivery order across several sends in one scheduler turn
// matches send order exactly.
type Waiter interface {
	// Deliver resumes the waiting task with msg. Called at most once per
	// registration.
	Deliver(msg any)
}

// Mailbox is a FIFO of undelivered messages plus at most one registered
// waiter (a mailbox may only be consumed by its owning task, which can
// only ever be blocked in one receive at a time).
type Mailbox struct {
	mu       sync.Mutex
	messages []any
	waiter   Waiter
}

// New returns an empty mailbox.
func New() *Mailbox {
	return &Mailbox{}
}

// Send appends msg. If a receiver is currently blocked, it is delivered
// directly and never touches the backlog; otherwise msg queues for the
// next Receive.
func (m *Mailbox) Send(msg any) {
	m.mu.Lock()
	if m.waiter != nil {
		w := m.waiter
		m.waiter = nil
		m.mu.Unlock()
		w.Deliver(msg)
		return
	}
	m.messages = append(m.messages, msg)
	m.mu.Unlock()
}

// TryReceive pops the oldest queued message without blocking. ok is false
// if the mailbox is empty.
func (m *Mailbox) TryReceive() (msg any, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return nil, false
	}
	msg = m.messages[0]
	m.messages = m.messages[1:]
	return msg, true
}

// Register records w as blocked waiting for the next message. Panics if
// a waiter is already registered — a task's own receive must not be
// called reentrantly.
func (m *Mailbox) Register(w Waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.waiter != nil {
		panic("mailbox: receive already in progress")
	}
	m.waiter = w
}

// Len reports the number of queued, undelivered messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}
