// Package ring abstracts the kernel completion queue that executes
// asynchronous I/O requests. The default backend drives Linux native AIO
// (io_setup/io_submit/io_getevents); a worker-pool backend serves kernels
// where io_setup is unavailable, and an io_uring backend can be selected
// with the "uring" build tag.
package ring

import (
	"time"
	"unsafe"
)

// Op identifies the kernel operation for one submission.
type Op uint8

const (
	OpNop Op = iota
	OpRead
	OpWrite
	OpFsync
	OpFdatasync
)

// String returns a short name for logging.
func (op Op) String() string {
	switch op {
	case OpNop:
		return "nop"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpFsync:
		return "fsync"
	case OpFdatasync:
		return "fdatasync"
	default:
		return "invalid"
	}
}

// SQE describes one submission in backend-neutral form.
//
// Buf points at caller-managed memory. The caller must keep that memory
// alive and at a fixed address from Submit until the matching CQE has been
// reaped; the backends forward the raw address to the kernel.
type SQE struct {
	ID    uint64 // echoed in CQE.ID
	Op    Op
	FD    int32
	Off   int64
	Buf   unsafe.Pointer // nil for fsync/nop
	Len   int
	Prio  int16
	ResFD int32 // eventfd ticked on completion, -1 when unset
}

// CQE is one completion. Res follows the raw syscall convention: a
// non-negative byte count on success, a negated errno on failure.
type CQE struct {
	ID  uint64
	Res int64
}

// CancelOutcome mirrors the kernel tri-state for cancelling one request.
type CancelOutcome uint8

const (
	// CancelOutcomeDone means the backend no longer holds the request; its
	// completion has been (or is about to be) reaped.
	CancelOutcomeDone CancelOutcome = iota

	// CancelOutcomeCanceled means the request was cancelled. A synthetic
	// ECANCELED completion will be delivered by a later Reap.
	CancelOutcomeCanceled

	// CancelOutcomeNotCanceled means the request could not be cancelled and
	// will complete normally.
	CancelOutcomeNotCanceled
)

// Ring is a kernel submission/completion queue.
//
// Implementations serialize access internally; a Ring may be shared by the
// submitting and the reaping side.
type Ring interface {
	// Submit hands every SQE to the kernel, with a single native call where
	// the backend supports it. It returns the number of entries accepted;
	// when n < len(sqes) the error describes why entry n was rejected, and
	// entries before n are in flight.
	Submit(sqes []SQE) (int, error)

	// Reap collects available completions, blocking until at least min are
	// gathered or the timeout expires. A nil timeout blocks without limit; a
	// zero timeout polls. Reap may return fewer than min completions with a
	// nil error when min is 0 or when the timeout expires.
	Reap(min int, timeout *time.Duration) ([]CQE, error)

	// Cancel attempts to cancel the in-flight submission with the given ID.
	Cancel(id uint64) (CancelOutcome, error)

	// SupportsBatch reports whether Submit passes multiple entries to the
	// kernel in one call, or loops internally.
	SupportsBatch() bool

	Close() error
}

// Config holds backend construction parameters.
type Config struct {
	// Depth is the maximum number of concurrently in-flight submissions.
	Depth int
}

// DefaultDepth is used when Config.Depth is zero.
const DefaultDepth = 128

func (c Config) depth() int {
	if c.Depth <= 0 {
		return DefaultDepth
	}
	return c.Depth
}
