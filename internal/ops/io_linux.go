//go:build linux

package ops

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/maumercado/coprocrt/internal/reactor"
	"github.com/maumercado/coprocrt/internal/task"
)

// retryable reports whether err is the "try again once fd is ready" class:
// EAGAIN/EWOULDBLOCK for read/write, EINPROGRESS for connect.
func retryable(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINPROGRESS)
}

// ensureNonblock sets fd non-blocking. It must run before the first
// syscall attempt on fd, not reactively after an EAGAIN — a caller-owned
// fd that arrives here still in blocking mode would otherwise stall this
// scheduler's single OS thread on the very first read/write/accept/connect
// instead of ever reaching a suspension point. Idempotent.
func ensureNonblock(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("ops: set nonblock: %w", err)
	}
	return nil
}

// Read performs a non-blocking read(2) loop: on EAGAIN it suspends via
// WaitIO and retries; on EOF (zero bytes read on a nonzero-length buffer)
// it returns the partial buffer with no error. It does not loop to fill
// buf completely — that is Write's contract, not Read's; a single
// successful read returns whatever the kernel handed back, same as the
// underlying syscall.
func Read(h Host, self *task.Task, fd int, buf []byte) (n int, err error) {
	h.CountOp()
	if err := ensureNonblock(fd); err != nil {
		return 0, err
	}
	for {
		n, err = unix.Read(fd, buf)
		if err == nil {
			return n, nil
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if retryable(err) {
			if werr := WaitIO(h, self, fd, reactor.Readable); werr != nil {
				return 0, werr
			}
			continue
		}
		return 0, fmt.Errorf("ops: read: %w", err)
	}
}

// Write performs a non-blocking write(2) loop that always completes the
// full buffer unless self is cancelled. Between iterations that made
// progress, it calls Snooze for fairness.
func Write(h Host, self *task.Task, fd int, buf []byte) (n int, err error) {
	h.CountOp()
	if err := ensureNonblock(fd); err != nil {
		return 0, err
	}
	total := 0
	for total < len(buf) {
		wrote, werr := unix.Write(fd, buf[total:])
		if werr == nil {
			total += wrote
			if total < len(buf) {
				if serr := Snooze(h, self); serr != nil {
					return total, serr
				}
			}
			continue
		}
		if errors.Is(werr, unix.EINTR) {
			continue
		}
		if retryable(werr) {
			if ierr := WaitIO(h, self, fd, reactor.Writable); ierr != nil {
				return total, ierr
			}
			continue
		}
		return total, fmt.Errorf("ops: write: %w", werr)
	}
	return total, nil
}

// Accept performs a non-blocking accept4(2) loop, returning the new
// connection's fd and peer address. listenFD is set non-blocking first —
// SOCK_NONBLOCK on accept4 only affects the returned connection fd, not
// whether the accept call itself blocks on a blocking listener.
func Accept(h Host, self *task.Task, listenFD int) (connFD int, sa unix.Sockaddr, err error) {
	h.CountOp()
	if err := ensureNonblock(listenFD); err != nil {
		return -1, nil, err
	}
	for {
		connFD, sa, err = unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == nil {
			return connFD, sa, nil
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if retryable(err) {
			if werr := WaitIO(h, self, listenFD, reactor.Readable); werr != nil {
				return -1, nil, werr
			}
			continue
		}
		return -1, nil, fmt.Errorf("ops: accept: %w", err)
	}
}

// Connect performs a non-blocking connect(2): the first call always
// returns EINPROGRESS for a non-blocking socket, so this waits for
// writability and then checks SO_ERROR to learn the real outcome.
func Connect(h Host, self *task.Task, fd int, sa unix.Sockaddr) error {
	h.CountOp()
	if err := ensureNonblock(fd); err != nil {
		return err
	}
	err := unix.Connect(fd, sa)
	if err == nil {
		return nil
	}
	if !retryable(err) {
		return fmt.Errorf("ops: connect: %w", err)
	}
	if werr := WaitIO(h, self, fd, reactor.Writable); werr != nil {
		return werr
	}
	soErr, serr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if serr != nil {
		return fmt.Errorf("ops: connect: getsockopt: %w", serr)
	}
	if soErr != 0 {
		return fmt.Errorf("ops: connect: %w", unix.Errno(soErr))
	}
	return nil
}
