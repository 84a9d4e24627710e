package aio

import (
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/behrlich/go-aio/internal/ring"
)

// reqState tracks where a request is in its lifecycle.
type reqState uint8

const (
	reqIdle reqState = iota
	reqInFlight
	reqCompleted // kernel finished, result not yet collected
)

func (s reqState) String() string {
	switch s {
	case reqIdle:
		return "idle"
	case reqInFlight:
		return "in-flight"
	case reqCompleted:
		return "completed"
	default:
		return "invalid"
	}
}

// Request is a single asynchronous I/O operation: one file descriptor, one
// offset, one buffer. A request moves idle -> in-flight -> completed and
// back to idle once its result is collected, after which it may be
// resubmitted.
//
// Misusing a request (submitting it twice, collecting a result that does
// not exist, taking its buffer back while the kernel may still write to it)
// panics rather than returning an error: past that point buffer ownership
// is ambiguous and continuing would risk kernel writes into freed memory.
// Operating-system failures, by contrast, are returned as *Error values.
//
// A Request is safe for concurrent use, though its operations are
// inherently sequential.
type Request struct {
	q *Queue

	mu     sync.Mutex
	state  reqState
	closed bool

	id     uint64
	fd     int32
	offset int64
	buf    Buffer
	prio   int16
	opcode ring.Op // op of the last submission
	listOp Opcode  // op selected for list submission
	notify Notify

	result int64 // valid while state == reqCompleted
}

func (q *Queue) newRequest(fd int32, offset int64, buf Buffer) *Request {
	r := &Request{
		q:      q,
		fd:     fd,
		offset: offset,
		buf:    buf,
		listOp: OpcodeNoop,
		notify: NoNotify(),
	}
	runtime.SetFinalizer(r, finalizeRequest)
	return r
}

// finalizeRequest reclaims owned memory from requests the caller dropped
// without closing. A leaked in-flight request is a fatal bug: its buffer
// can never be reclaimed safely.
func finalizeRequest(r *Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == reqInFlight {
		panic("aio: request garbage collected while in flight")
	}
	if !r.closed {
		r.buf.free()
	}
}

// NewFsyncRequest creates a request without a data buffer, for SubmitFsync.
func (q *Queue) NewFsyncRequest(fd int32) *Request {
	return q.newRequest(fd, 0, noBuffer())
}

// NewRequest creates a request borrowing p as a mutable buffer. The caller
// must keep p valid until the request reaches a terminal state; the Request
// itself holds a reference, so p stays reachable while in flight.
func (q *Queue) NewRequest(fd int32, offset int64, p []byte) *Request {
	return q.newRequest(fd, offset, borrowedBuffer(p, true))
}

// NewReadOnlyRequest creates a request borrowing p as an immutable buffer.
// Only writes and fsyncs may be submitted on it; SubmitRead panics.
func (q *Queue) NewReadOnlyRequest(fd int32, offset int64, p []byte) *Request {
	return q.newRequest(fd, offset, borrowedBuffer(p, false))
}

// NewOwnedRequest creates a request with a private copy of p in pinned
// memory. The copy's address is stable for the life of the request, so the
// caller's slice may be reused or collected immediately.
func (q *Queue) NewOwnedRequest(fd int32, offset int64, p []byte) (*Request, error) {
	buf, err := ownedBufferFrom(p, true)
	if err != nil {
		return nil, err
	}
	return q.newRequest(fd, offset, buf), nil
}

// NewOwnedRequestSize creates a request with a zeroed private buffer of n
// bytes, typically for reads followed by ExtractBuffer.
func (q *Queue) NewOwnedRequestSize(fd int32, offset int64, n int) (*Request, error) {
	buf, err := newOwnedBuffer(n)
	if err != nil {
		return nil, err
	}
	return q.newRequest(fd, offset, buf), nil
}

// NewRequestFromBuffer creates a request over a buffer obtained from
// ExtractBuffer or NewSharedBuffer, transferring ownership to the new
// request. The typical use is flipping a completed read into a write
// without copying.
func (q *Queue) NewRequestFromBuffer(fd int32, offset int64, buf Buffer) *Request {
	return q.newRequest(fd, offset, buf)
}

// NewSharedBuffer copies p into refcounted immutable pinned memory for use
// with NewSharedRequest. Release the returned buffer once no more requests
// will be built from it.
func NewSharedBuffer(p []byte) (Buffer, error) {
	return sharedBufferFrom(p)
}

// NewSharedRequest creates a write-side request over a shared buffer. The
// request takes its own reference; several requests may submit the same
// buffer concurrently.
func (q *Queue) NewSharedRequest(fd int32, offset int64, buf Buffer) *Request {
	return q.newRequest(fd, offset, buf.Clone())
}

// UnsafeNewRequestFromPtr creates a request over raw immutable memory.
// The caller guarantees ptr stays valid and fixed until the request is
// terminal; no part of the library checks it.
func (q *Queue) UnsafeNewRequestFromPtr(fd int32, offset int64, ptr unsafe.Pointer, n int) *Request {
	return q.newRequest(fd, offset, pointerBuffer(ptr, n, false))
}

// UnsafeNewRequestFromMutPtr is UnsafeNewRequestFromPtr for writable memory.
func (q *Queue) UnsafeNewRequestFromMutPtr(fd int32, offset int64, ptr unsafe.Pointer, n int) *Request {
	return q.newRequest(fd, offset, pointerBuffer(ptr, n, true))
}

// Package-level constructors on the default queue.

// NewFsyncRequest creates a buffer-less request on the default queue.
func NewFsyncRequest(fd int32) *Request {
	return Default().NewFsyncRequest(fd)
}

// NewRequest creates a borrowed mutable request on the default queue.
func NewRequest(fd int32, offset int64, p []byte) *Request {
	return Default().NewRequest(fd, offset, p)
}

// NewReadOnlyRequest creates a borrowed immutable request on the default queue.
func NewReadOnlyRequest(fd int32, offset int64, p []byte) *Request {
	return Default().NewReadOnlyRequest(fd, offset, p)
}

// NewOwnedRequest creates an owning request on the default queue.
func NewOwnedRequest(fd int32, offset int64, p []byte) (*Request, error) {
	return Default().NewOwnedRequest(fd, offset, p)
}

// Accessors. All are valid in any state.

// FD returns the file descriptor the request targets.
func (r *Request) FD() int32 { return r.fd }

// Offset returns the file offset of the request.
func (r *Request) Offset() int64 { return r.offset }

// Nbytes returns the buffer length in bytes.
func (r *Request) Nbytes() int { return r.buf.Len() }

// Priority returns the submission priority hint.
func (r *Request) Priority() int16 { return r.prio }

// BufferKind returns the ownership mode of the request's buffer.
func (r *Request) BufferKind() BufferKind { return r.buf.Kind() }

// Opcode returns the operation selected for list submission.
func (r *Request) Opcode() Opcode { return r.listOp }

// Notify returns the completion notification descriptor.
func (r *Request) Notify() Notify { return r.notify }

// SetPriority sets the submission priority hint for future submissions.
func (r *Request) SetPriority(prio int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prio = prio
}

// SetOpcode selects the operation SubmitMany performs for this request.
func (r *Request) SetOpcode(op Opcode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listOp = op
}

// SetNotify installs a completion notification descriptor. It applies to
// future submissions only; a request already in flight keeps the
// notification it was submitted with.
func (r *Request) SetNotify(n Notify) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notify = n
}

// prepareLocked validates the transition to in-flight and builds the
// backend submission entry. Caller holds r.mu.
func (r *Request) prepareLocked(op ring.Op) ring.SQE {
	if r.closed {
		panic("aio: submit on closed request")
	}
	if r.state != reqIdle {
		panic("aio: submit on " + r.state.String() + " request")
	}
	if op == ring.OpRead && !r.buf.mutable {
		panic("aio: read into immutable buffer")
	}

	sqe := ring.SQE{
		Op:    op,
		FD:    r.fd,
		Off:   r.offset,
		Prio:  r.prio,
		ResFD: r.notify.resFD(),
	}
	if op == ring.OpRead || op == ring.OpWrite {
		sqe.Buf = r.buf.base()
		sqe.Len = r.buf.Len()
	}
	r.opcode = op
	r.state = reqInFlight
	return sqe
}

// rewind returns a request to idle after a failed submission.
func (r *Request) rewind() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = reqIdle
}

// complete records the kernel result. Called by the queue's reaping side.
func (r *Request) complete(res int64) ring.Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != reqInFlight {
		panic("aio: completion for " + r.state.String() + " request")
	}
	r.result = res
	r.state = reqCompleted
	return r.opcode
}

func (r *Request) submit(op ring.Op) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sqe := r.prepareLocked(op)
	if err := r.q.submit(r, sqe); err != nil {
		r.state = reqIdle
		return err
	}
	return nil
}

// SubmitRead asynchronously reads Nbytes at Offset into the buffer. It
// panics if the buffer is immutable and returns a *Error if the kernel
// rejects the submission, leaving the request idle.
func (r *Request) SubmitRead() error {
	return r.submit(ring.OpRead)
}

// SubmitWrite asynchronously writes the buffer to the file at Offset.
func (r *Request) SubmitWrite() error {
	return r.submit(ring.OpWrite)
}

// SubmitFsync asynchronously flushes the file. FsyncData flushes data only
// where the kernel supports it; FsyncAll flushes data and metadata.
func (r *Request) SubmitFsync(mode FsyncMode) error {
	op := ring.OpFsync
	if mode == FsyncData {
		op = ring.OpFdatasync
	}
	return r.submit(op)
}

// Cancel asks the kernel to abort the request. CancelStatusCanceled means
// it was aborted and will report ECANCELED when polled; the result must
// still be collected. CancelStatusNotCanceled means it is past the point
// of cancellation and will complete normally. A request that is not in
// flight reports CancelStatusAllDone.
func (r *Request) Cancel() (CancelStatus, error) {
	r.mu.Lock()
	if r.state != reqInFlight {
		r.mu.Unlock()
		return CancelStatusAllDone, nil
	}
	r.mu.Unlock()
	return r.q.cancel(r)
}

// PollError reports the request's progress without blocking. While the
// kernel is still working it returns an error for which IsPending is true.
// Once the request is terminal it returns nil for success or the terminal
// *Error, repeatably, until CollectResult retires the request.
func (r *Request) PollError() error {
	r.mu.Lock()
	state := r.state
	r.mu.Unlock()

	if state == reqInFlight {
		r.q.poll()
	}

	r.mu.Lock()
	state = r.state
	op := r.opcode
	res := r.result
	r.mu.Unlock()

	switch state {
	case reqIdle:
		panic("aio: PollError on idle request")
	case reqInFlight:
		return &Error{
			Op:    op.String(),
			FD:    r.fd,
			Code:  ErrCodeInProgress,
			Errno: unix.EINPROGRESS,
			Msg:   "operation in progress",
		}
	default:
		if res < 0 {
			return wrapErrno(op.String(), r.fd, unix.Errno(-res))
		}
		return nil
	}
}

// CollectResult retires a completed request and returns the number of bytes
// transferred, or the terminal *Error. It panics when the request has not
// completed or when the result was already collected; poll first with
// PollError or wait with Suspend. Afterwards the request is idle and may be
// resubmitted.
func (r *Request) CollectResult() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != reqCompleted {
		panic("aio: CollectResult on " + r.state.String() + " request")
	}
	r.state = reqIdle
	if r.result < 0 {
		return 0, wrapErrno(r.opcode.String(), r.fd, unix.Errno(-r.result))
	}
	return int(r.result), nil
}

// ExtractBuffer takes the buffer out of the request, leaving it with no
// buffer. It panics while the request is in flight: until the completion is
// observed the kernel may still be writing into the memory.
func (r *Request) ExtractBuffer() Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == reqInFlight {
		panic("aio: ExtractBuffer on in-flight request")
	}
	buf := r.buf
	r.buf = noBuffer()
	return buf
}

// Close releases the request's owned memory. It panics while the request is
// in flight. A completed-but-uncollected request may be closed; its result
// is discarded. Close is idempotent.
func (r *Request) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if r.state == reqInFlight {
		panic("aio: Close on in-flight request")
	}
	r.buf.free()
	r.closed = true
	r.state = reqIdle
	runtime.SetFinalizer(r, nil)
	return nil
}
