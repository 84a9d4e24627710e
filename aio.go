// Package aio provides a memory-safe handle over Linux kernel asynchronous
// I/O: reads, writes and fsyncs are submitted against a file descriptor
// without blocking the calling goroutine, then polled, collected, cancelled
// or batched.
//
// The hard part of kernel AIO is not the syscalls but the lifetime contract:
// from submission until the completion is collected, the kernel retains a
// raw pointer into the request's buffer, and freeing, moving or mutating
// that memory in the meantime is corruption. The Request type carries that
// contract explicitly: each request owns (or borrows) its buffer through a
// tagged Buffer value, tracks whether it is in flight, and turns every
// misuse that could hand the kernel a dangling pointer into a panic rather
// than an error value.
//
// A minimal round trip:
//
//	q, err := aio.NewQueue(aio.Options{})
//	req, err := q.NewOwnedRequest(fd, 0, payload)
//	err = req.SubmitWrite()
//	err = aio.Suspend([]*aio.Request{req}, nil)
//	n, err := req.CollectResult()
//	req.Close()
//	q.Close()
package aio

// FsyncMode controls whether SubmitFsync flushes both data and metadata
// (like fsync) or data only (like fdatasync).
type FsyncMode uint8

const (
	// FsyncAll flushes data and metadata.
	FsyncAll FsyncMode = iota
	// FsyncData flushes data only.
	FsyncData
)

// String returns a short name for logging.
func (m FsyncMode) String() string {
	switch m {
	case FsyncAll:
		return "fsync"
	case FsyncData:
		return "fdatasync"
	default:
		return "invalid"
	}
}

// Opcode determines what SubmitMany does with an individual request. It has
// no effect on the single-request submit calls.
type Opcode uint8

const (
	OpcodeNoop Opcode = iota
	OpcodeRead
	OpcodeWrite
)

// String returns a short name for logging.
func (op Opcode) String() string {
	switch op {
	case OpcodeNoop:
		return "noop"
	case OpcodeRead:
		return "read"
	case OpcodeWrite:
		return "write"
	default:
		return "invalid"
	}
}

// SubmitMode selects the blocking behavior of SubmitMany.
type SubmitMode uint8

const (
	// ModeWait blocks until every submitted request has completed. Results
	// still have to be collected per request.
	ModeWait SubmitMode = iota
	// ModeNoWait returns as soon as the batch has been handed to the kernel.
	ModeNoWait
)

// CancelStatus is the tri-state outcome of Cancel and CancelAll.
type CancelStatus uint8

const (
	// CancelStatusCanceled: every targeted request was cancelled.
	CancelStatusCanceled CancelStatus = iota
	// CancelStatusNotCanceled: at least one request could not be cancelled;
	// check each request's status individually.
	CancelStatusNotCanceled
	// CancelStatusAllDone: every targeted request had already completed.
	CancelStatusAllDone
)

// String returns a short name for logging.
func (s CancelStatus) String() string {
	switch s {
	case CancelStatusCanceled:
		return "canceled"
	case CancelStatusNotCanceled:
		return "not-canceled"
	case CancelStatusAllDone:
		return "all-done"
	default:
		return "invalid"
	}
}
