package runqueue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFOOrder(t *testing.T) {
	q := New()
	q.PushBack("a", Resumption{Value: 1})
	q.PushBack("b", Resumption{Value: 2})
	q.PushBack("c", Resumption{Value: 3})

	for _, want := range []string{"a", "b", "c"} {
		task, _, ok := q.PopFront()
		require.True(t, ok)
		assert.Equal(t, want, task)
	}
	_, _, ok := q.PopFront()
	assert.False(t, ok)
}

func TestQueue_PushFrontPreempts(t *testing.T) {
	q := New()
	q.PushBack("a", Resumption{Value: 1})
	q.PushBack("b", Resumption{Value: 2})
	q.PushFront("c", Resumption{Value: 3})

	task, _, ok := q.PopFront()
	require.True(t, ok)
	assert.Equal(t, "c", task)
}

func TestQueue_PushBackIgnoresDuplicate(t *testing.T) {
	q := New()
	q.PushBack("a", Resumption{Value: 1})
	added := q.PushBack("a", Resumption{Value: 2})
	assert.False(t, added)
	assert.Equal(t, 1, q.Len())

	task, val, ok := q.PopFront()
	require.True(t, ok)
	assert.Equal(t, "a", task)
	assert.Equal(t, 1, val.Value)
}

func TestQueue_PushFrontReplacesPending(t *testing.T) {
	q := New()
	q.PushBack("a", Resumption{Value: 1})
	q.PushFront("a", Resumption{Err: errors.New("cancel")})

	assert.Equal(t, 1, q.Len())
	task, val, ok := q.PopFront()
	require.True(t, ok)
	assert.Equal(t, "a", task)
	assert.EqualError(t, val.Err, "cancel")
}

func TestQueue_Delete(t *testing.T) {
	q := New()
	q.PushBack("a", Resumption{})
	q.PushBack("b", Resumption{})

	assert.True(t, q.Delete("a"))
	assert.False(t, q.Delete("a")) // idempotent
	assert.Equal(t, 1, q.Len())

	task, _, ok := q.PopFront()
	require.True(t, ok)
	assert.Equal(t, "b", task)
}

func TestQueue_Contains(t *testing.T) {
	q := New()
	assert.False(t, q.Contains("a"))
	q.PushBack("a", Resumption{})
	assert.True(t, q.Contains("a"))
	q.PopFront()
	assert.False(t, q.Contains("a"))
}
