package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maumercado/coprocrt/internal/task"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

// TestOrderedMailbox: a producer sends three messages in order to a
// child that receives them one at a time; the child must observe them in
// send order.
func TestOrderedMailbox(t *testing.T) {
	rt := newTestRuntime(t)

	value, err := rt.Run(func(self *Task) (any, error) {
		received := make([]int, 0, 3)
		child := self.Spawn(func(me *Task) (any, error) {
			for i := 0; i < 3; i++ {
				received = append(received, me.Receive().(int))
			}
			return nil, nil
		})
		for i := 1; i <= 3; i++ {
			child.Send(i)
			if err := self.Snooze(); err != nil {
				return nil, err
			}
		}
		if _, err := child.Await(); err != nil {
			return nil, err
		}
		return received, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, value)
}

// TestCancelMidSnooze: cancelling a child blocked in Snooze delivers a
// *task.CancelError as its outcome.
func TestCancelMidSnooze(t *testing.T) {
	rt := newTestRuntime(t)

	_, err := rt.Run(func(self *Task) (any, error) {
		ready := NewEvent()
		var child *Task
		child = self.Spawn(func(me *Task) (any, error) {
			ready.Signal()
			for {
				if err := me.Snooze(); err != nil {
					return nil, err
				}
			}
		})
		if err := self.Wait(ready); err != nil {
			return nil, err
		}
		child.Cancel("no longer needed")
		_, err := child.Await()
		return nil, err
	})

	require.Error(t, err)
	assert.True(t, task.IsCancel(err))
}

// TestInterruptReturnsValue: Stop/Interrupt terminates a task
// successfully with the injected value, not an error.
func TestInterruptReturnsValue(t *testing.T) {
	rt := newTestRuntime(t)

	value, err := rt.Run(func(self *Task) (any, error) {
		ready := NewEvent()
		child := self.Spawn(func(me *Task) (any, error) {
			ready.Signal()
			_, err := me.Suspend()
			return nil, err
		})
		if err := self.Wait(ready); err != nil {
			return nil, err
		}
		child.Interrupt("early exit")
		return child.Await()
	})

	require.NoError(t, err)
	assert.Equal(t, "early exit", value)
}

// TestAwaitAllFanIn: await_all waits for every target and returns their
// values in argument order.
func TestAwaitAllFanIn(t *testing.T) {
	rt := newTestRuntime(t)

	value, err := rt.Run(func(self *Task) (any, error) {
		var children []*Task
		for i := 0; i < 4; i++ {
			n := i
			children = append(children, self.Spawn(func(me *Task) (any, error) {
				_ = me.Snooze()
				return n * n, nil
			}))
		}
		return AwaitAll(children...)
	})

	require.NoError(t, err)
	assert.Equal(t, []any{0, 1, 4, 9}, value)
}

// TestAwaitAllPartialFailure: await_all's partial-failure semantics —
// every target runs to completion, then the first failure (in argument
// order) is re-raised.
func TestAwaitAllPartialFailure(t *testing.T) {
	rt := newTestRuntime(t)

	ran := make([]bool, 3)
	_, err := rt.Run(func(self *Task) (any, error) {
		var children []*Task
		for i := 0; i < 3; i++ {
			n := i
			children = append(children, self.Spawn(func(me *Task) (any, error) {
				_ = me.Snooze()
				ran[n] = true
				if n == 1 {
					return nil, assertErr
				}
				return n, nil
			}))
		}
		return AwaitAll(children...)
	})

	require.Error(t, err)
	assert.Same(t, assertErr, err)
	assert.Equal(t, []bool{true, true, true}, ran, "every target must run to completion")
}

var assertErr = &task.CancelError{Reason: "boom"}

// TestOrphanErrorForwarding: a child that fails with no awaiter forwards
// the error to its parent at the parent's next resume.
func TestOrphanErrorForwarding(t *testing.T) {
	rt := newTestRuntime(t)

	_, err := rt.Run(func(self *Task) (any, error) {
		self.Spawn(func(me *Task) (any, error) {
			return nil, &task.CancelError{Reason: "orphan failure"}
		})
		// No Await on the child: a single Snooze gives the scheduler a turn
		// to run the child to its (failing) completion and forward the
		// orphaned error back to us at this very resume.
		if err := self.Snooze(); err != nil {
			return nil, err
		}
		return nil, nil
	})

	require.Error(t, err)
	assert.True(t, task.IsCancel(err))
}

// TestTimeoutCleansUpWatcher: a Timeout that fires leaves no live
// watchers behind, and move_on returns the fallback value instead of
// raising.
func TestTimeoutCleansUpWatcher(t *testing.T) {
	rt := newTestRuntime(t)

	value, err := rt.Run(func(self *Task) (any, error) {
		return self.MoveOn(10*time.Millisecond, "fallback", func() (any, error) {
			return self.Suspend()
		})
	})

	require.NoError(t, err)
	assert.Equal(t, "fallback", value)
	assert.Zero(t, rt.ReactorStats().TimerWatchers)
}
