package coroutine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoroutine_RunsToCompletionWithoutSuspending(t *testing.T) {
	co := New(func(ctx *Context) (any, error) {
		return 42, nil
	})
	ev := co.Start()
	assert.True(t, ev.Done)
	assert.Equal(t, 42, ev.Value)
	assert.NoError(t, ev.Err)
}

func TestCoroutine_SuspendAndResume(t *testing.T) {
	var observed []any
	co := New(func(ctx *Context) (any, error) {
		v1, err := ctx.Suspend()
		if err != nil {
			return nil, err
		}
		observed = append(observed, v1)
		v2, err := ctx.Suspend()
		if err != nil {
			return nil, err
		}
		observed = append(observed, v2)
		return "done", nil
	})

	ev := co.Start()
	assert.False(t, ev.Done)

	ev = co.Resume(Resumption{Value: "a"})
	assert.False(t, ev.Done)

	ev = co.Resume(Resumption{Value: "b"})
	assert.True(t, ev.Done)
	assert.Equal(t, "done", ev.Value)

	assert.Equal(t, []any{"a", "b"}, observed)
}

func TestCoroutine_InjectedErrorPropagates(t *testing.T) {
	sentinel := errors.New("boom")
	co := New(func(ctx *Context) (any, error) {
		_, err := ctx.Suspend()
		if err != nil {
			return nil, err
		}
		return "unreachable", nil
	})

	co.Start()
	ev := co.Resume(Resumption{Err: sentinel})
	assert.True(t, ev.Done)
	assert.ErrorIs(t, ev.Err, sentinel)
}

func TestCoroutine_PanicBecomesError(t *testing.T) {
	co := New(func(ctx *Context) (any, error) {
		panic("kaboom")
	})
	ev := co.Start()
	assert.True(t, ev.Done)
	assert.Error(t, ev.Err)
	assert.Contains(t, ev.Err.Error(), "kaboom")
}
