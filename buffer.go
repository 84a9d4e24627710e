package aio

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// BufferKind identifies who owns the memory a request hands to the kernel.
type BufferKind uint8

const (
	// BufferNone means the request carries no data buffer (fsync, noop).
	BufferNone BufferKind = iota
	// BufferOwned means the buffer is private mmap-backed memory owned by
	// the request and released when the request is closed.
	BufferOwned
	// BufferShared means the buffer is refcounted immutable mmap-backed
	// memory that several write requests may submit concurrently.
	BufferShared
	// BufferBorrowed means the buffer is a caller slice; the caller must
	// keep it valid until the request reaches a terminal state.
	BufferBorrowed
	// BufferPointer means the buffer is a raw pointer/length pair supplied
	// through one of the Unsafe constructors.
	BufferPointer
)

// String returns the buffer kind name
func (k BufferKind) String() string {
	switch k {
	case BufferNone:
		return "none"
	case BufferOwned:
		return "owned"
	case BufferShared:
		return "shared"
	case BufferBorrowed:
		return "borrowed"
	case BufferPointer:
		return "pointer"
	default:
		return "unknown"
	}
}

// allocPinned maps anonymous memory for a kernel-visible buffer. The mapping
// lives outside the Go heap, so its address never moves while a request is
// in flight.
func allocPinned(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	data, err := unix.Mmap(-1, 0, n,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, wrapErrno("mmap", -1, err.(unix.Errno))
	}
	return data, nil
}

func freePinned(data []byte) {
	if len(data) == 0 {
		return
	}
	// Munmap of a mapping we created cannot fail with valid arguments.
	_ = unix.Munmap(data)
}

// sharedBuf is the refcounted backing store behind BufferShared buffers.
type sharedBuf struct {
	data []byte
	refs atomic.Int64
}

func (s *sharedBuf) retain() {
	s.refs.Add(1)
}

func (s *sharedBuf) release() {
	if s.refs.Add(-1) == 0 {
		freePinned(s.data)
		s.data = nil
	}
}

// Buffer describes the memory region a request submits to the kernel,
// tagged with its ownership mode. The zero value is the no-buffer variant.
type Buffer struct {
	kind    BufferKind
	data    []byte
	shared  *sharedBuf
	ptr     unsafe.Pointer
	length  int
	mutable bool
}

// noBuffer returns the empty buffer used by fsync and noop requests.
func noBuffer() Buffer {
	return Buffer{kind: BufferNone}
}

// newOwnedBuffer allocates a zeroed mutable buffer of n bytes.
func newOwnedBuffer(n int) (Buffer, error) {
	data, err := allocPinned(n)
	if err != nil {
		return Buffer{}, err
	}
	return Buffer{kind: BufferOwned, data: data, mutable: true}, nil
}

// ownedBufferFrom copies p into fresh pinned memory. The copy decouples the
// request's lifetime from the caller's slice.
func ownedBufferFrom(p []byte, mutable bool) (Buffer, error) {
	data, err := allocPinned(len(p))
	if err != nil {
		return Buffer{}, err
	}
	copy(data, p)
	return Buffer{kind: BufferOwned, data: data, mutable: mutable}, nil
}

// sharedBufferFrom copies p into refcounted pinned memory. The result is
// immutable; cloning it is cheap and every clone submits the same bytes.
func sharedBufferFrom(p []byte) (Buffer, error) {
	data, err := allocPinned(len(p))
	if err != nil {
		return Buffer{}, err
	}
	copy(data, p)
	sb := &sharedBuf{data: data}
	sb.refs.Store(1)
	return Buffer{kind: BufferShared, data: data, shared: sb}, nil
}

// borrowedBuffer wraps a caller slice without copying.
func borrowedBuffer(p []byte, mutable bool) Buffer {
	return Buffer{kind: BufferBorrowed, data: p, mutable: mutable}
}

// pointerBuffer wraps a raw pointer/length pair without copying.
func pointerBuffer(ptr unsafe.Pointer, n int, mutable bool) Buffer {
	return Buffer{kind: BufferPointer, ptr: ptr, length: n, mutable: mutable}
}

// Kind returns the ownership mode of the buffer.
func (b *Buffer) Kind() BufferKind {
	return b.kind
}

// Len returns the buffer length in bytes.
func (b *Buffer) Len() int {
	if b.kind == BufferPointer {
		return b.length
	}
	return len(b.data)
}

// Mutable reports whether the kernel may write into the buffer.
func (b *Buffer) Mutable() bool {
	return b.mutable
}

// Bytes returns the buffer contents for slice-backed variants. It returns
// nil for the no-buffer and raw-pointer variants.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Clone returns a second handle to a shared buffer. It panics for any other
// buffer kind; exclusive and borrowed buffers have a single owner.
func (b *Buffer) Clone() Buffer {
	if b.kind != BufferShared {
		panic("aio: Clone requires a shared buffer, have " + b.kind.String())
	}
	b.shared.retain()
	return *b
}

// Release returns buffer memory the library allocated. For shared buffers
// it drops one reference; the backing store is unmapped with the last one.
// Borrowed and raw-pointer buffers are unaffected. Release is idempotent.
func (b *Buffer) Release() {
	b.free()
}

// base returns the address handed to the kernel.
func (b *Buffer) base() unsafe.Pointer {
	switch b.kind {
	case BufferNone:
		return nil
	case BufferPointer:
		return b.ptr
	default:
		if len(b.data) == 0 {
			return nil
		}
		return unsafe.Pointer(&b.data[0])
	}
}

// free releases buffer memory the library owns. Borrowed and raw-pointer
// buffers stay with their caller.
func (b *Buffer) free() {
	switch b.kind {
	case BufferOwned:
		freePinned(b.data)
	case BufferShared:
		b.shared.release()
	}
	*b = Buffer{}
}
