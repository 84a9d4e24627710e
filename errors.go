package aio

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Error represents a structured aio error with context and errno mapping.
//
// Only recoverable conditions are represented as errors: submission-time OS
// failures and completion-time I/O failures. Contract violations (reading
// into an immutable buffer, collecting a result twice, extracting or
// destroying a buffer the kernel may still write to) panic instead; turning
// them into error values would let callers keep running with memory the
// kernel still owns.
type Error struct {
	Op    string     // Operation that failed (e.g., "submit_read", "cancel")
	FD    int32      // File descriptor (-1 if not applicable)
	Code  ErrorCode  // High-level error category
	Errno unix.Errno // Kernel errno (0 if not applicable)
	Msg   string     // Human-readable message
	Inner error      // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op == "" {
		return fmt.Sprintf("aio: %s", msg)
	}
	if e.FD >= 0 {
		return fmt.Sprintf("aio: %s (op=%s fd=%d)", msg, e.Op, e.FD)
	}
	return fmt.Sprintf("aio: %s (op=%s)", msg, e.Op)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports comparing against another *Error by code
func (e *Error) Is(target error) bool {
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeBadDescriptor     ErrorCode = "bad file descriptor"
	ErrCodeResourceLimit     ErrorCode = "kernel resource limit"
	ErrCodeNotSupported      ErrorCode = "operation not supported"
	ErrCodeInvalidParameters ErrorCode = "invalid parameters"
	ErrCodeIOError           ErrorCode = "I/O error"
	ErrCodeInterrupted       ErrorCode = "interrupted"
	ErrCodeTimeout           ErrorCode = "timed out"
	ErrCodeInProgress        ErrorCode = "operation in progress"
	ErrCodeCanceled          ErrorCode = "operation canceled"
	ErrCodeQueueClosed       ErrorCode = "queue closed"
)

// Sentinels for errors.Is comparisons by category.
var (
	ErrInProgress  = &Error{Code: ErrCodeInProgress, Errno: unix.EINPROGRESS}
	ErrTimeout     = &Error{Code: ErrCodeTimeout, Errno: unix.EAGAIN}
	ErrQueueClosed = &Error{Code: ErrCodeQueueClosed}
)

// newError creates a structured error without an errno
func newError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, FD: -1, Code: code, Msg: msg}
}

// wrapErrno creates a structured error from a kernel errno
func wrapErrno(op string, fd int32, errno unix.Errno) *Error {
	return &Error{
		Op:    op,
		FD:    fd,
		Code:  mapErrnoToCode(errno),
		Errno: errno,
		Msg:   errno.Error(),
		Inner: errno,
	}
}

// mapErrnoToCode maps a kernel errno to an aio error code
func mapErrnoToCode(errno unix.Errno) ErrorCode {
	switch errno {
	case unix.EBADF:
		return ErrCodeBadDescriptor
	case unix.EAGAIN, unix.ENOMEM, unix.ENOSPC:
		return ErrCodeResourceLimit
	case unix.ENOSYS, unix.EOPNOTSUPP:
		return ErrCodeNotSupported
	case unix.EINVAL, unix.EOVERFLOW:
		return ErrCodeInvalidParameters
	case unix.EINTR:
		return ErrCodeInterrupted
	case unix.ETIMEDOUT:
		return ErrCodeTimeout
	case unix.EINPROGRESS:
		return ErrCodeInProgress
	case unix.ECANCELED:
		return ErrCodeCanceled
	default:
		return ErrCodeIOError
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var aioErr *Error
	if errors.As(err, &aioErr) {
		return aioErr.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno unix.Errno) bool {
	var aioErr *Error
	if errors.As(err, &aioErr) {
		return aioErr.Errno == errno
	}
	return false
}

// IsPending reports whether err is the "still in progress" status returned
// by PollError while the kernel has not finished the request.
func IsPending(err error) bool {
	return IsCode(err, ErrCodeInProgress)
}
