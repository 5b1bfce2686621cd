package task

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_New(t *testing.T) {
	root := New(nil, 1)
	assert.NotEmpty(t, root.ID())
	assert.Nil(t, root.Parent())
	assert.Equal(t, Suspended, root.State())
	assert.True(t, root.Alive())
	assert.Contains(t, root.Caller(), "TestTask_New")

	child := New(root, 1)
	assert.Equal(t, root, child.Parent())
}

func TestTask_Finish_SetsOutcomeAndTerminates(t *testing.T) {
	tk := New(nil, 1)
	require.NoError(t, tk.SetState(Runnable))
	require.NoError(t, tk.SetState(Running))

	tk.Finish(Outcome{Value: 42})

	out, ok := tk.Result()
	require.True(t, ok)
	assert.Equal(t, 42, out.Value)
	assert.Nil(t, out.Err)
	assert.False(t, tk.Alive())
	assert.Equal(t, Terminated, tk.State())
}

func TestTask_Finish_TwicePanics(t *testing.T) {
	tk := New(nil, 1)
	require.NoError(t, tk.SetState(Runnable))
	require.NoError(t, tk.SetState(Running))
	tk.Finish(Outcome{})

	assert.Panics(t, func() { tk.Finish(Outcome{}) })
}

func TestTask_Result_BeforeTermination(t *testing.T) {
	tk := New(nil, 1)
	_, ok := tk.Result()
	assert.False(t, ok)
}

type fakeWaiter struct {
	delivered []Outcome
}

func (f *fakeWaiter) Deliver(o Outcome) { f.delivered = append(f.delivered, o) }

func TestTask_RegisterWaiter_BeforeAndAfterTermination(t *testing.T) {
	tk := New(nil, 1)
	require.NoError(t, tk.SetState(Runnable))
	require.NoError(t, tk.SetState(Running))

	w1 := &fakeWaiter{}
	assert.False(t, tk.HasWaiters())
	tk.RegisterWaiter(w1)
	assert.True(t, tk.HasWaiters())

	tk.Finish(Outcome{Value: "done"})
	require.Len(t, w1.delivered, 1)
	assert.Equal(t, "done", w1.delivered[0].Value)

	// A waiter registered after termination is delivered to immediately.
	w2 := &fakeWaiter{}
	tk.RegisterWaiter(w2)
	require.Len(t, w2.delivered, 1)
	assert.Equal(t, "done", w2.delivered[0].Value)
}

func TestTask_WhenDone_ImmediateIfAlreadyTerminated(t *testing.T) {
	tk := New(nil, 1)
	require.NoError(t, tk.SetState(Runnable))
	require.NoError(t, tk.SetState(Running))
	tk.Finish(Outcome{Value: 7})

	var got Outcome
	called := false
	tk.WhenDone(func(o Outcome) { got = o; called = true })
	assert.True(t, called)
	assert.Equal(t, 7, got.Value)
}

func TestTask_WhenDone_PanicIsSwallowed(t *testing.T) {
	tk := New(nil, 1)
	require.NoError(t, tk.SetState(Runnable))
	require.NoError(t, tk.SetState(Running))

	var sunk error
	SetErrorSink(func(err error) { sunk = err })
	defer SetErrorSink(nil)

	tk.WhenDone(func(Outcome) { panic("boom") })
	assert.NotPanics(t, func() { tk.Finish(Outcome{}) })
	assert.Error(t, sunk)
}

func TestTask_ChildrenReversed(t *testing.T) {
	parent := New(nil, 1)
	a := New(parent, 1)
	b := New(parent, 1)
	c := New(parent, 1)
	parent.AddChild(a)
	parent.AddChild(b)
	parent.AddChild(c)

	assert.Equal(t, []*Task{a, b, c}, parent.Children())
	assert.Equal(t, []*Task{c, b, a}, parent.ChildrenReversed())

	parent.RemoveChild(b)
	assert.Equal(t, []*Task{a, c}, parent.Children())
}

func TestCancelError(t *testing.T) {
	err := &CancelError{Reason: "shutdown"}
	assert.Contains(t, err.Error(), "shutdown")
	assert.True(t, IsCancel(err))
	assert.False(t, IsCancel(errors.New("plain")))
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{Duration: "5s"}
	assert.Contains(t, err.Error(), "5s")
	assert.True(t, IsTimeout(err))
	assert.False(t, IsTimeout(errors.New("plain")))
}
