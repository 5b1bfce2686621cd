//go:build linux

package ops

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/maumercado/coprocrt/internal/reactor"
	"github.com/maumercado/coprocrt/internal/task"
)

// ChunkWrap is either a fixed buffer or a function of the chunk length,
// for SpliceChunks' ChunkPrefix/ChunkPostfix.
type ChunkWrap struct {
	Fixed []byte
	OfLen func(n int) []byte
}

func (w ChunkWrap) bytes(n int) []byte {
	if w.OfLen != nil {
		return w.OfLen(n)
	}
	return w.Fixed
}

// SpliceChunksArgs groups SpliceChunks' parameters.
type SpliceChunksArgs struct {
	Src, Dest                 int
	Prefix, Postfix           []byte
	ChunkPrefix, ChunkPostfix ChunkWrap
	ChunkSize                 int
}

// SpliceChunks moves bytes from Src to Dest, wrapping each chunk with an
// optional ChunkPrefix/ChunkPostfix and the whole transfer with an
// optional Prefix/Postfix, returning the total bytes spliced (not
// counting the wrapper bytes). It routes through splice(2) via an
// intermediate pipe when both ends are splice-capable (sockets/pipes);
// callers passing a non-splicable fd (e.g. a regular file opened without
// O_DIRECT quirks aside) get ENOSYS/EINVAL from the kernel, at which
// point this falls back to a buffered Read+Write loop for the remainder.
func SpliceChunks(h Host, self *task.Task, a SpliceChunksArgs) (total int64, err error) {
	h.CountOp()
	if err := ensureNonblock(a.Src); err != nil {
		return 0, err
	}
	if err := ensureNonblock(a.Dest); err != nil {
		return 0, err
	}
	if len(a.Prefix) > 0 {
		if _, err := Write(h, self, a.Dest, a.Prefix); err != nil {
			return 0, err
		}
	}

	useSplice := true
	for {
		n, serr := spliceOnce(h, self, a.Src, a.Dest, a.ChunkSize, useSplice)
		if serr != nil {
			if useSplice && fallbackEligible(serr) {
				useSplice = false
				continue
			}
			return total, serr
		}
		if n == 0 {
			break // EOF on Src
		}
		if len(a.ChunkPrefix.Fixed) > 0 || a.ChunkPrefix.OfLen != nil {
			if _, err := Write(h, self, a.Dest, a.ChunkPrefix.bytes(n)); err != nil {
				return total, err
			}
		}
		total += int64(n)
		if len(a.ChunkPostfix.Fixed) > 0 || a.ChunkPostfix.OfLen != nil {
			if _, err := Write(h, self, a.Dest, a.ChunkPostfix.bytes(n)); err != nil {
				return total, err
			}
		}
		if serr := Snooze(h, self); serr != nil {
			return total, serr
		}
	}

	if len(a.Postfix) > 0 {
		if _, err := Write(h, self, a.Dest, a.Postfix); err != nil {
			return total, err
		}
	}
	return total, nil
}

func fallbackEligible(err error) bool {
	return errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOSYS)
}

// spliceOnce moves up to chunkSize bytes from src to dest, either via a
// zero-copy splice(2) through an intermediate pipe, or via a buffered
// read+write, returning 0 on EOF.
func spliceOnce(h Host, self *task.Task, src, dest, chunkSize int, useSplice bool) (int, error) {
	if !useSplice {
		buf := make([]byte, chunkSize)
		n, err := Read(h, self, src, buf)
		if err != nil || n == 0 {
			return n, err
		}
		if _, err := Write(h, self, dest, buf[:n]); err != nil {
			return 0, err
		}
		return n, nil
	}

	var pipefds [2]int
	if err := unix.Pipe2(pipefds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return 0, fmt.Errorf("ops: splice: pipe2: %w", err)
	}
	defer unix.Close(pipefds[0])
	defer unix.Close(pipefds[1])

	n, err := spliceLoop(h, self, src, pipefds[1], chunkSize, reactor.Readable)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if _, err := spliceLoop(h, self, pipefds[0], dest, n, reactor.Writable); err != nil {
		return 0, err
	}
	return n, nil
}

// spliceLoop performs splice(2) from fromFD to toFD, retrying on EAGAIN
// by waiting for the side named by waitOn.
func spliceLoop(h Host, self *task.Task, fromFD, toFD, size int, waitOn reactor.IOEvent) (int, error) {
	for {
		n, err := unix.Splice(fromFD, nil, toFD, nil, size, unix.SPLICE_F_NONBLOCK|unix.SPLICE_F_MOVE)
		if err == nil {
			return int(n), nil
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if retryable(err) {
			waitFD := fromFD
			if waitOn == reactor.Writable {
				waitFD = toFD
			}
			if werr := WaitIO(h, self, waitFD, waitOn); werr != nil {
				return 0, werr
			}
			continue
		}
		return 0, err
	}
}
