//go:build linux

package ring

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/negrel/assert"
	"golang.org/x/sys/unix"

	"github.com/behrlich/go-aio/internal/uapi"
)

// kernelRing implements Ring on Linux native AIO.
//
// Submissions are passed to io_submit(2) as an array of iocb pointers; the
// kernel echoes SQE.ID back through io_event.data. Completed events are
// reaped from the mapped aio_ring in userspace when the kernel exposes one,
// falling back to io_getevents(2).
//
// Note that io_submit invokes the usual synchronous entry point into file
// reads/writes and only returns early when the file implementation supports
// asynchronous completion; in practice that means O_DIRECT file descriptors.
// Buffered descriptors still work, but the I/O completes during submission.
type kernelRing struct {
	ctxID uintptr

	mu       sync.Mutex
	inflight map[uint64]*uapi.IOCB
	backlog  []CQE // completions consumed by io_cancel, drained by Reap
	depth    int
	closed   bool
}

// NewKernelRing creates a Ring backed by a native AIO context with the
// configured queue depth.
func NewKernelRing(cfg Config) (Ring, error) {
	depth := cfg.depth()
	var ctxID uintptr
	if _, _, e := unix.Syscall(unix.SYS_IO_SETUP, uintptr(depth), uintptr(unsafe.Pointer(&ctxID)), 0); e != 0 {
		return nil, e
	}
	return &kernelRing{
		ctxID:    ctxID,
		inflight: make(map[uint64]*uapi.IOCB, depth),
		depth:    depth,
	}, nil
}

// ProbeKernelAIO reports whether io_setup(2) is usable on this system. It
// fails on kernels without CONFIG_AIO and under seccomp policies that filter
// the AIO syscalls.
func ProbeKernelAIO() bool {
	var ctxID uintptr
	if _, _, e := unix.Syscall(unix.SYS_IO_SETUP, 1, uintptr(unsafe.Pointer(&ctxID)), 0); e != 0 {
		return false
	}
	unix.Syscall(unix.SYS_IO_DESTROY, ctxID, 0, 0)
	return true
}

func (r *kernelRing) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	_, _, e := unix.Syscall(unix.SYS_IO_DESTROY, r.ctxID, 0, 0)
	if e != 0 {
		return e
	}
	return nil
}

func (r *kernelRing) SupportsBatch() bool { return true }

func (r *kernelRing) Submit(sqes []SQE) (int, error) {
	if len(sqes) == 0 {
		return 0, nil
	}

	// Build a separate array of iocb pointers for the kernel. The control
	// blocks are individually heap-allocated and retained in the inflight
	// map until their completion is reaped, which keeps their addresses
	// valid for the whole submission window.
	iocbs := make([]*uapi.IOCB, 0, len(sqes))
	for i := range sqes {
		iocbs = append(iocbs, encodeIOCB(&sqes[i]))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n, _, e := unix.Syscall(unix.SYS_IO_SUBMIT, r.ctxID, uintptr(len(iocbs)), uintptr(unsafe.Pointer(unsafe.SliceData(iocbs))))
	accepted := int(n)
	if e != 0 {
		accepted = 0
	}
	assert.LessOrEqual(accepted, len(sqes), "io_submit accepted more than submitted")

	for i := 0; i < accepted; i++ {
		r.inflight[sqes[i].ID] = iocbs[i]
	}
	if accepted < len(sqes) {
		if e != 0 {
			return accepted, e
		}
		// Partial acceptance without an errno: the next entry was rejected.
		return accepted, unix.EAGAIN
	}
	return accepted, nil
}

func encodeIOCB(s *SQE) *uapi.IOCB {
	cb := &uapi.IOCB{
		Data:    s.ID,
		ReqPrio: s.Prio,
		FD:      s.FD,
		Buf:     uint64(uintptr(s.Buf)),
		Bytes:   uint64(s.Len),
		Offset:  s.Off,
		ResFD:   -1,
	}
	switch s.Op {
	case OpNop:
		cb.OpCode = uapi.IOCB_CMD_NOOP
	case OpRead:
		cb.OpCode = uapi.IOCB_CMD_PREAD
	case OpWrite:
		cb.OpCode = uapi.IOCB_CMD_PWRITE
	case OpFsync:
		cb.OpCode = uapi.IOCB_CMD_FSYNC
		cb.Buf, cb.Bytes, cb.Offset = 0, 0, 0
	case OpFdatasync:
		cb.OpCode = uapi.IOCB_CMD_FDSYNC
		cb.Buf, cb.Bytes, cb.Offset = 0, 0, 0
	default:
		panic(fmt.Sprintf("aio: unknown ring op %d", s.Op))
	}
	if s.Prio != 0 {
		cb.Flags |= uapi.IOCB_FLAG_IOPRIO
	}
	if s.ResFD >= 0 {
		cb.Flags |= uapi.IOCB_FLAG_RESFD
		cb.ResFD = s.ResFD
	}
	return cb
}

func (r *kernelRing) Reap(min int, timeout *time.Duration) ([]CQE, error) {
	r.mu.Lock()
	var cs []CQE
	cs = r.drainBacklogLocked(cs)
	cs = r.reapRingLocked(cs)
	depth := r.depth
	r.mu.Unlock()

	if min <= 0 || len(cs) >= min {
		return cs, nil
	}
	if timeout != nil && *timeout == 0 {
		return cs, nil
	}

	var tsp *unix.Timespec
	if timeout != nil {
		ts := unix.NsecToTimespec(timeout.Nanoseconds())
		tsp = &ts
	}

	// Block outside the lock so a concurrent Cancel is not stalled behind
	// the wait. A private event buffer avoids racing other reapers.
	evs := make([]uapi.IOEvent, depth)
	need := min - len(cs)
	n, _, e := unix.Syscall6(unix.SYS_IO_GETEVENTS, r.ctxID,
		uintptr(need), uintptr(len(evs)),
		uintptr(unsafe.Pointer(unsafe.SliceData(evs))),
		uintptr(unsafe.Pointer(tsp)), 0)
	if e != 0 {
		if len(cs) > 0 {
			return cs, nil
		}
		return cs, e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range evs[:n] {
		cs = r.deliverLocked(cs, evs[i].Data, evs[i].Result)
	}
	return cs, nil
}

func (r *kernelRing) drainBacklogLocked(cs []CQE) []CQE {
	cs = append(cs, r.backlog...)
	r.backlog = r.backlog[:0]
	return cs
}

// reapRingLocked consumes completed events from the kernel's mapped
// completion ring without a syscall, when the kernel exposes one.
func (r *kernelRing) reapRingLocked(cs []CQE) []CQE {
	ring := (*uapi.AIORing)(unsafe.Pointer(r.ctxID))
	if ring.Magic != uapi.AIORingMagic || ring.IncompatFeatures != 0 {
		return cs
	}
	nr := ring.Nr
	head := atomic.LoadUint32(&ring.Head)
	tail := atomic.LoadUint32(&ring.Tail)
	assert.Less(head, nr, "aio_ring head out of range")
	origHead := head
	for head != tail {
		ev := r.ringEventAt(ring, head)
		cs = r.deliverLocked(cs, ev.Data, ev.Result)
		head++
		if head >= nr {
			head = 0
		}
	}
	if head != origHead {
		atomic.StoreUint32(&ring.Head, head)
	}
	return cs
}

func (r *kernelRing) ringEventAt(ring *uapi.AIORing, idx uint32) *uapi.IOEvent {
	return (*uapi.IOEvent)(unsafe.Pointer(r.ctxID + uintptr(ring.HeaderLength) + uintptr(idx)*unsafe.Sizeof(uapi.IOEvent{})))
}

func (r *kernelRing) deliverLocked(cs []CQE, id uint64, res int64) []CQE {
	delete(r.inflight, id)
	return append(cs, CQE{ID: id, Res: res})
}

func (r *kernelRing) Cancel(id uint64) (CancelOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.inflight[id]
	if !ok {
		return CancelOutcomeDone, nil
	}

	var ev uapi.IOEvent
	_, _, e := unix.Syscall(unix.SYS_IO_CANCEL, r.ctxID, uintptr(unsafe.Pointer(cb)), uintptr(unsafe.Pointer(&ev)))
	switch e {
	case 0:
		// The kernel consumed the completion event into ev; replay it
		// through the backlog so the reaping side still observes it.
		delete(r.inflight, id)
		res := ev.Result
		if res == 0 {
			res = -int64(unix.ECANCELED)
		}
		r.backlog = append(r.backlog, CQE{ID: id, Res: res})
		return CancelOutcomeCanceled, nil
	case unix.EAGAIN, unix.EINPROGRESS:
		return CancelOutcomeNotCanceled, nil
	case unix.EINVAL, unix.ENOENT:
		// The kernel no longer tracks this iocb; its completion is already
		// in the ring.
		return CancelOutcomeDone, nil
	case unix.EBADF, unix.EFAULT, unix.ENOSYS:
		return CancelOutcomeNotCanceled, e
	default:
		panic(fmt.Sprintf("aio: unknown io_cancel errno %d", int(e)))
	}
}
