//go:build linux

package reactor

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/maumercado/coprocrt/internal/runqueue"
)

// EpollReactor is the Linux epoll-backed Reactor. It owns one epoll
// instance per OS thread's scheduler; it is not safe for concurrent Poll
// calls (only one scheduler thread ever calls Poll), but Wakeup and the
// registration methods are safe to call from other threads concurrently
// with Poll.
type EpollReactor struct {
	epfd int

	mu       sync.Mutex
	io       map[int]*fdState
	timers   timerHeap
	children map[int]*childWatcher // keyed by pidfd
	asyncs   map[int]*AsyncWatcher // keyed by eventfd

	wakeFD int // internal, unreferenced wakeup eventfd

	closed bool
}

// NewEpollReactor creates a reactor with its internal wakeup eventfd
// already registered.
func NewEpollReactor() (*EpollReactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("reactor: eventfd: %w", err)
	}
	r := &EpollReactor{
		epfd:     epfd,
		io:       make(map[int]*fdState),
		children: make(map[int]*childWatcher),
		asyncs:   make(map[int]*AsyncWatcher),
		wakeFD:   wakeFD,
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFD),
	}); err != nil {
		unix.Close(wakeFD)
		unix.Close(epfd)
		return nil, fmt.Errorf("reactor: register wakeup fd: %w", err)
	}
	return r, nil
}

// --- IO watchers ---

type fdState struct {
	fd             int
	readCB         Callback
	writeCB        Callback
	registeredMask uint32
}

type ioWatcher struct {
	r    *EpollReactor
	fd   int
	ev   IOEvent
	once sync.Once
}

func (w *ioWatcher) Cancel() {
	w.once.Do(func() {
		w.r.cancelIO(w.fd, w.ev)
	})
}

func (r *EpollReactor) WatchIO(fd int, ev IOEvent, cb Callback) (Watcher, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("reactor: set nonblock: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	st, ok := r.io[fd]
	op := unix.EPOLL_CTL_MOD
	if !ok {
		st = &fdState{fd: fd}
		r.io[fd] = st
		op = unix.EPOLL_CTL_ADD
	}
	if ev&Readable != 0 {
		st.readCB = cb
	}
	if ev&Writable != 0 {
		st.writeCB = cb
	}
	mask := fdEventMask(st)
	if err := unix.EpollCtl(r.epfd, op, fd, &unix.EpollEvent{Events: mask, Fd: int32(fd)}); err != nil {
		return nil, fmt.Errorf("reactor: epoll_ctl: %w", err)
	}
	st.registeredMask = mask

	return &ioWatcher{r: r, fd: fd, ev: ev}, nil
}

func fdEventMask(st *fdState) uint32 {
	var mask uint32
	if st.readCB != nil {
		mask |= unix.EPOLLIN
	}
	if st.writeCB != nil {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (r *EpollReactor) cancelIO(fd int, ev IOEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.io[fd]
	if !ok {
		return
	}
	if ev&Readable != 0 {
		st.readCB = nil
	}
	if ev&Writable != 0 {
		st.writeCB = nil
	}
	mask := fdEventMask(st)
	if mask == 0 {
		unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		delete(r.io, fd)
		return
	}
	if mask != st.registeredMask {
		st.registeredMask = mask
		unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: mask, Fd: int32(fd)})
	}
}

// --- Timers ---

type timerEntry struct {
	deadline time.Time
	cb       Callback
	index    int
	cancelled bool
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

type timerWatcher struct {
	r     *EpollReactor
	entry *timerEntry
	once  sync.Once
}

func (w *timerWatcher) Cancel() {
	w.once.Do(func() {
		w.r.mu.Lock()
		defer w.r.mu.Unlock()
		w.entry.cancelled = true
	})
}

func (r *EpollReactor) WatchTimer(d time.Duration, cb Callback) (Watcher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	e := &timerEntry{deadline: time.Now().Add(d), cb: cb}
	heap.Push(&r.timers, e)
	return &timerWatcher{r: r, entry: e}, nil
}

// --- Child watchers (Linux: pidfd-based) ---

type childWatcher struct {
	r     *EpollReactor
	pidfd int
	pid   int
	cb    Callback
	once  sync.Once
}

func (w *childWatcher) Cancel() {
	w.once.Do(func() {
		w.r.mu.Lock()
		defer w.r.mu.Unlock()
		unix.EpollCtl(w.r.epfd, unix.EPOLL_CTL_DEL, w.pidfd, nil)
		unix.Close(w.pidfd)
		delete(w.r.children, w.pidfd)
	})
}

func (r *EpollReactor) WatchChild(pid int, cb Callback) (Watcher, error) {
	pidfd, err := unix.PidfdOpen(pid, 0)
	if err != nil {
		return nil, fmt.Errorf("reactor: pidfd_open: %w", err)
	}
	if err := unix.SetNonblock(pidfd, true); err != nil {
		unix.Close(pidfd)
		return nil, fmt.Errorf("reactor: set nonblock: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		unix.Close(pidfd)
		return nil, ErrClosed
	}
	w := &childWatcher{r: r, pidfd: pidfd, pid: pid, cb: cb}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, pidfd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(pidfd),
	}); err != nil {
		unix.Close(pidfd)
		return nil, fmt.Errorf("reactor: epoll_ctl: %w", err)
	}
	r.children[pidfd] = w
	return w, nil
}

// --- Async (cross-thread) watchers ---

// AsyncWatcher is a cross-thread wake target: another goroutine/thread
// calls Signal to resume whatever task is blocked on it. Distinct from
// the reactor's own internal Wakeup, which only breaks a blocking Poll
// without resuming any particular task.
type AsyncWatcher struct {
	r    *EpollReactor
	fd   int
	cb   Callback
	once sync.Once
}

// Signal wakes the task blocked on this watcher. Safe to call from any
// goroutine or OS thread.
func (w *AsyncWatcher) Signal() error {
	var buf [8]byte
	buf[7] = 1
	_, err := unix.Write(w.fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("reactor: signal: %w", err)
	}
	return nil
}

func (w *AsyncWatcher) Cancel() {
	w.once.Do(func() {
		w.r.mu.Lock()
		defer w.r.mu.Unlock()
		unix.EpollCtl(w.r.epfd, unix.EPOLL_CTL_DEL, w.fd, nil)
		unix.Close(w.fd)
		delete(w.r.asyncs, w.fd)
	})
}

func (r *EpollReactor) WatchAsync(cb Callback) (Watcher, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("reactor: eventfd: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		unix.Close(fd)
		return nil, ErrClosed
	}
	w := &AsyncWatcher{r: r, fd: fd, cb: cb}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(fd),
	}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("reactor: epoll_ctl: %w", err)
	}
	r.asyncs[fd] = w
	return w, nil
}

// Wakeup breaks a concurrent blocking Poll. Async-signal-safe in spirit:
// a single nonblocking write(2) to an eventfd, safe to call from any
// thread without holding r.mu.
func (r *EpollReactor) Wakeup() {
	var buf [8]byte
	buf[7] = 1
	unix.Write(r.wakeFD, buf[:])
}

// --- Poll loop ---

func (r *EpollReactor) Poll(blocking bool) error {
	timeout := 0
	if blocking {
		timeout = r.nextTimeoutMillis()
	}

	var events [64]unix.EpollEvent
	n, err := unix.EpollWait(r.epfd, events[:], timeout)
	if err != nil {
		if err == unix.EINTR {
			n = 0
		} else {
			return fmt.Errorf("reactor: epoll_wait: %w", err)
		}
	}

	r.mu.Lock()
	var fired []func()
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		mask := events[i].Events

		if fd == r.wakeFD {
			drainEventfd(r.wakeFD)
			continue
		}
		if w, ok := r.asyncs[fd]; ok {
			drainEventfd(fd)
			fired = append(fired, func(cb Callback) func() {
				return func() { cb(runqueue.Resumption{}) }
			}(w.cb))
			continue
		}
		if cw, ok := r.children[fd]; ok {
			fired = append(fired, func() { r.reapChild(cw) })
			continue
		}
		if st, ok := r.io[fd]; ok {
			if mask&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 && st.readCB != nil {
				cb := st.readCB
				fired = append(fired, func() { cb(runqueue.Resumption{}) })
			}
			if mask&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 && st.writeCB != nil {
				cb := st.writeCB
				fired = append(fired, func() { cb(runqueue.Resumption{}) })
			}
		}
	}

	fired = append(fired, r.dueTimers()...)
	r.mu.Unlock()

	for _, f := range fired {
		f()
	}
	return nil
}

func (r *EpollReactor) reapChild(cw *childWatcher) {
	var ws unix.WaitStatus
	_, err := unix.Wait4(cw.pid, &ws, unix.WNOHANG, nil)
	status := &ExitStatus{Pid: cw.pid}
	if err == nil {
		if ws.Exited() {
			status.ExitCode = ws.ExitStatus()
		}
		if ws.Signaled() {
			status.Signaled = true
			status.Signal = int(ws.Signal())
		}
	}
	cw.Cancel()
	cw.cb(runqueue.Resumption{Value: status})
}

// dueTimers must be called with r.mu held; it pops and returns thunks for
// every timer whose deadline has passed, skipping cancelled entries.
func (r *EpollReactor) dueTimers() []func() {
	now := time.Now()
	var fired []func()
	for r.timers.Len() > 0 {
		top := r.timers[0]
		if top.cancelled {
			heap.Pop(&r.timers)
			continue
		}
		if top.deadline.After(now) {
			break
		}
		heap.Pop(&r.timers)
		cb := top.cb
		fired = append(fired, func() { cb(runqueue.Resumption{}) })
	}
	return fired
}

// nextTimeoutMillis must be called without r.mu held.
func (r *EpollReactor) nextTimeoutMillis() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.timers.Len() > 0 && r.timers[0].cancelled {
		heap.Pop(&r.timers)
	}
	if r.timers.Len() == 0 {
		return -1
	}
	d := time.Until(r.timers[0].deadline)
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms > 1<<31-1 {
		ms = 1<<31 - 1
	}
	return int(ms)
}

func drainEventfd(fd int) {
	var buf [8]byte
	unix.Read(fd, buf[:])
}

func (r *EpollReactor) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := 0
	for _, e := range r.timers {
		if !e.cancelled {
			live++
		}
	}
	return Stats{
		IOWatchers:    len(r.io),
		TimerWatchers: live,
		ChildWatchers: len(r.children),
		AsyncWatchers: len(r.asyncs),
	}
}

func (r *EpollReactor) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for fd := range r.io {
		unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	for fd, cw := range r.children {
		unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		unix.Close(cw.pidfd)
	}
	for fd := range r.asyncs {
		unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		unix.Close(fd)
	}
	unix.Close(r.wakeFD)
	return unix.Close(r.epfd)
}
