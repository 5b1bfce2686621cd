//go:build linux

package reactor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/maumercado/coprocrt/internal/runqueue"
)

func newTestReactor(t *testing.T) *EpollReactor {
	t.Helper()
	r, err := NewEpollReactor()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestEpollReactor_TimerFires(t *testing.T) {
	r := newTestReactor(t)

	fired := make(chan struct{}, 1)
	_, err := r.WatchTimer(5*time.Millisecond, func(res runqueue.Resumption) {
		fired <- struct{}{}
	})
	require.NoError(t, err)

	require.NoError(t, r.Poll(true))
	select {
	case <-fired:
	default:
		t.Fatal("timer callback was not invoked")
	}
}

func TestEpollReactor_TimerCancelLeavesNoWatcher(t *testing.T) {
	r := newTestReactor(t)

	w, err := r.WatchTimer(time.Hour, func(runqueue.Resumption) {})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Stats().TimerWatchers)

	w.Cancel()
	assert.Equal(t, 0, r.Stats().TimerWatchers)
}

func TestEpollReactor_IOWatcherReadable(t *testing.T) {
	r := newTestReactor(t)

	fds := make([]int, 2)
	require.NoError(t, unix.Pipe2(fds, unix.O_CLOEXEC))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	var mu sync.Mutex
	var gotErr error
	done := make(chan struct{}, 1)

	_, err := r.WatchIO(fds[0], Readable, func(res runqueue.Resumption) {
		mu.Lock()
		gotErr = res.Err
		mu.Unlock()
		done <- struct{}{}
	})
	require.NoError(t, err)

	_, err = unix.Write(fds[1], []byte("x"))
	require.NoError(t, err)

	require.NoError(t, r.Poll(true))
	select {
	case <-done:
	default:
		t.Fatal("io callback was not invoked")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.NoError(t, gotErr)
}

func TestEpollReactor_AsyncWakeup(t *testing.T) {
	r := newTestReactor(t)

	var called bool
	w, err := r.WatchAsync(func(runqueue.Resumption) { called = true })
	require.NoError(t, err)
	aw := w.(*AsyncWatcher)

	require.NoError(t, aw.Signal())
	require.NoError(t, r.Poll(true))
	assert.True(t, called)
}

func TestEpollReactor_WakeupBreaksBlockingPoll(t *testing.T) {
	r := newTestReactor(t)

	go func() {
		time.Sleep(5 * time.Millisecond)
		r.Wakeup()
	}()

	done := make(chan struct{})
	go func() {
		r.Poll(true) // would block forever without Wakeup; no timers registered
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Poll(true) did not return after Wakeup")
	}
}

func TestEpollReactor_NoLeakAfterCancel(t *testing.T) {
	r := newTestReactor(t)

	fds := make([]int, 2)
	require.NoError(t, unix.Pipe2(fds, unix.O_CLOEXEC))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	w, err := r.WatchIO(fds[0], Readable, func(runqueue.Resumption) {})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Stats().IOWatchers)

	w.Cancel()
	assert.Equal(t, 0, r.Stats().IOWatchers)
}
