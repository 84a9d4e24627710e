// Package uapi provides Linux kernel UAPI definitions for native AIO
// (include/uapi/linux/aio_abi.h)
package uapi

import "unsafe"

// I/O commands for IOCB.OpCode
const (
	IOCB_CMD_PREAD  = 0
	IOCB_CMD_PWRITE = 1
	IOCB_CMD_FSYNC  = 2
	IOCB_CMD_FDSYNC = 3
	// 4 was the experimental IOCB_CMD_PREADX
	IOCB_CMD_POLL    = 5
	IOCB_CMD_NOOP    = 6
	IOCB_CMD_PREADV  = 7
	IOCB_CMD_PWRITEV = 8
)

// IOCB.Flags bits
const (
	// IOCB_FLAG_RESFD asks the kernel to tick the eventfd in IOCB.ResFD on
	// completion
	IOCB_FLAG_RESFD = 1 << 0

	// IOCB_FLAG_IOPRIO marks IOCB.ReqPrio as a valid ioprio value
	IOCB_FLAG_IOPRIO = 1 << 1
)

// AIORingMagic is aio_ring::magic for a mapped completion ring
const AIORingMagic = 0xa10a10a1

// IOCB must match struct iocb exactly (64 bytes). The kernel retains a
// pointer to this structure (and to the buffer at Buf) from io_submit until
// the corresponding io_event is reaped, so an IOCB handed to the kernel must
// stay allocated and unmoved for that entire window.
//
//	struct iocb {
//	  __u64 aio_data;       // returned in io_event.data
//	  __u32 aio_key;        // kernel internal
//	  __u32 aio_rw_flags;   // RWF_* flags
//	  __u16 aio_lio_opcode; // IOCB_CMD_*
//	  __s16 aio_reqprio;
//	  __u32 aio_fildes;
//	  __u64 aio_buf;
//	  __u64 aio_nbytes;
//	  __s64 aio_offset;
//	  __u64 aio_reserved2;
//	  __u32 aio_flags;      // IOCB_FLAG_*
//	  __u32 aio_resfd;      // eventfd if IOCB_FLAG_RESFD
//	};
type IOCB struct {
	Data    uint64
	Key     uint32
	RWFlags uint32

	OpCode  uint16
	ReqPrio int16
	FD      int32

	Buf    uint64
	Bytes  uint64
	Offset int64

	Reserved2 uint64
	Flags     uint32
	ResFD     int32
}

// Compile-time size check - must match the kernel's struct iocb
var _ [64]byte = [unsafe.Sizeof(IOCB{})]byte{}

// IOEvent must match struct io_event exactly (32 bytes)
type IOEvent struct {
	Data    uint64 // IOCB.Data of the completed request
	Obj     uint64 // address of the completed IOCB
	Result  int64  // bytes transferred, or negated errno
	Result2 int64
}

// Compile-time size check
var _ [32]byte = [unsafe.Sizeof(IOEvent{})]byte{}

// AIORing is the header of the completion ring the kernel maps at the
// context ID returned by io_setup. When Magic matches AIORingMagic and the
// incompatible-features word is clear, completed io_events may be reaped
// from the ring in userspace without calling io_getevents.
type AIORing struct {
	ID               uint32
	Nr               uint32
	Head             uint32
	Tail             uint32
	Magic            uint32
	CompatFeatures   uint32
	IncompatFeatures uint32
	HeaderLength     uint32
}

// Compile-time size check - sizeof(struct aio_ring) header
var _ [32]byte = [unsafe.Sizeof(AIORing{})]byte{}
