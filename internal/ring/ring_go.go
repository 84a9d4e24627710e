//go:build linux

package ring

import (
	"encoding/binary"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// goRing implements Ring with a pool of worker goroutines issuing the
// blocking counterparts of each operation (pread64, pwrite64, fsync,
// fdatasync). It serves kernels where the native AIO syscalls are filtered
// or absent, and gives tests a backend with no kernel feature dependency.
//
// Cancellation is best-effort only: a queued or running blocking syscall
// cannot be recalled, so Cancel never reports CancelOutcomeCanceled.
type goRing struct {
	requests    chan SQE
	completions chan CQE
	shutdown    chan struct{}
	workers     sync.WaitGroup

	mu       sync.Mutex
	inflight map[uint64]struct{}
	closed   bool
}

// NewGoRing creates a worker-pool Ring with the configured depth. The number
// of workers tracks GOMAXPROCS, capped at the depth.
func NewGoRing(cfg Config) (Ring, error) {
	depth := cfg.depth()
	r := &goRing{
		requests:    make(chan SQE, depth),
		completions: make(chan CQE, depth),
		shutdown:    make(chan struct{}),
		inflight:    make(map[uint64]struct{}, depth),
	}
	workers := runtime.GOMAXPROCS(0)
	if workers > depth {
		workers = depth
	}
	r.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go r.workerMain()
	}
	return r, nil
}

func (r *goRing) workerMain() {
	defer r.workers.Done()
	for {
		select {
		case <-r.shutdown:
			return
		case s := <-r.requests:
			r.completions <- r.execute(s)
		}
	}
}

func (r *goRing) execute(s SQE) CQE {
	c := CQE{ID: s.ID}
	switch s.Op {
	case OpNop:
		// completes immediately with a zero result
	case OpRead, OpWrite:
		sysno := uintptr(unix.SYS_PREAD64)
		if s.Op == OpWrite {
			sysno = unix.SYS_PWRITE64
		}
		n, _, e := unix.Syscall6(sysno, uintptr(s.FD), uintptr(s.Buf), uintptr(s.Len), uintptr(s.Off), 0, 0)
		if e != 0 {
			c.Res = -int64(e)
		} else {
			c.Res = int64(n)
		}
	case OpFsync, OpFdatasync:
		sysno := uintptr(unix.SYS_FSYNC)
		if s.Op == OpFdatasync {
			sysno = unix.SYS_FDATASYNC
		}
		if _, _, e := unix.Syscall(sysno, uintptr(s.FD), 0, 0); e != 0 {
			c.Res = -int64(e)
		}
	default:
		c.Res = -int64(unix.EINVAL)
	}
	if s.ResFD >= 0 {
		tickEventFD(s.ResFD)
	}
	return c
}

// tickEventFD adds one to an eventfd counter, mirroring IOCB_FLAG_RESFD
// delivery from the native backend.
func tickEventFD(fd int32) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	unix.Write(int(fd), buf[:])
}

func (r *goRing) SupportsBatch() bool { return true }

func (r *goRing) Submit(sqes []SQE) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, unix.EBADF
	}
	for i := range sqes {
		select {
		case r.requests <- sqes[i]:
			r.inflight[sqes[i].ID] = struct{}{}
		default:
			return i, unix.EAGAIN
		}
	}
	return len(sqes), nil
}

func (r *goRing) Reap(min int, timeout *time.Duration) ([]CQE, error) {
	var cs []CQE

	// Drain whatever is already complete.
drain:
	for {
		select {
		case c := <-r.completions:
			cs = append(cs, r.settle(c))
		default:
			break drain
		}
	}
	if min <= 0 || len(cs) >= min {
		return cs, nil
	}
	if timeout != nil && *timeout == 0 {
		return cs, nil
	}

	var expired <-chan time.Time
	if timeout != nil {
		t := time.NewTimer(*timeout)
		defer t.Stop()
		expired = t.C
	}
	for len(cs) < min {
		select {
		case c := <-r.completions:
			cs = append(cs, r.settle(c))
		case <-expired:
			return cs, nil
		case <-r.shutdown:
			return cs, unix.EBADF
		}
	}
	return cs, nil
}

func (r *goRing) settle(c CQE) CQE {
	r.mu.Lock()
	delete(r.inflight, c.ID)
	r.mu.Unlock()
	return c
}

func (r *goRing) Cancel(id uint64) (CancelOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inflight[id]; ok {
		return CancelOutcomeNotCanceled, nil
	}
	return CancelOutcomeDone, nil
}

func (r *goRing) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	close(r.shutdown)
	r.workers.Wait()
	return nil
}
