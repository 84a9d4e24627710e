//go:build linux

package aio

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"golang.org/x/sys/unix"
)

func TestMapErrnoToCode(t *testing.T) {
	tests := []struct {
		errno unix.Errno
		want  ErrorCode
	}{
		{unix.EBADF, ErrCodeBadDescriptor},
		{unix.EAGAIN, ErrCodeResourceLimit},
		{unix.ENOMEM, ErrCodeResourceLimit},
		{unix.ENOSPC, ErrCodeResourceLimit},
		{unix.ENOSYS, ErrCodeNotSupported},
		{unix.EOPNOTSUPP, ErrCodeNotSupported},
		{unix.EINVAL, ErrCodeInvalidParameters},
		{unix.EOVERFLOW, ErrCodeInvalidParameters},
		{unix.EINTR, ErrCodeInterrupted},
		{unix.ETIMEDOUT, ErrCodeTimeout},
		{unix.EINPROGRESS, ErrCodeInProgress},
		{unix.ECANCELED, ErrCodeCanceled},
		{unix.EIO, ErrCodeIOError},
		{unix.ENOENT, ErrCodeIOError},
	}
	for _, tt := range tests {
		t.Run(tt.errno.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, mapErrnoToCode(tt.errno))
		})
	}
}

func TestErrorFormat(t *testing.T) {
	err := wrapErrno("read", 7, unix.EBADF)
	assert.Contains(t, err.Error(), "op=read")
	assert.Contains(t, err.Error(), "fd=7")

	err = newError("suspend", ErrCodeTimeout, "gave up")
	assert.Equal(t, "aio: gave up (op=suspend)", err.Error())

	bare := &Error{FD: -1, Code: ErrCodeQueueClosed}
	assert.Equal(t, "aio: queue closed", bare.Error())
}

func TestIsCodeAndIsErrno(t *testing.T) {
	base := wrapErrno("write", 3, unix.ENOSPC)
	wrapped := fmt.Errorf("flush pipeline: %w", base)

	assert.True(t, IsCode(wrapped, ErrCodeResourceLimit))
	assert.False(t, IsCode(wrapped, ErrCodeBadDescriptor))
	assert.True(t, IsErrno(wrapped, unix.ENOSPC))
	assert.False(t, IsErrno(wrapped, unix.EBADF))
	assert.False(t, IsCode(errors.New("plain"), ErrCodeIOError))
}

func TestSentinelComparisons(t *testing.T) {
	pending := wrapErrno("read", 1, unix.EINPROGRESS)
	assert.True(t, errors.Is(pending, ErrInProgress))
	assert.True(t, IsPending(pending))
	assert.False(t, IsPending(wrapErrno("read", 1, unix.EIO)))

	timeout := &Error{Op: "suspend", FD: -1, Code: ErrCodeTimeout, Errno: unix.EAGAIN}
	assert.True(t, errors.Is(timeout, ErrTimeout))
}

func TestUnwrapReachesErrno(t *testing.T) {
	err := wrapErrno("read", 5, unix.ENOENT)
	assert.True(t, errors.Is(err, unix.ENOENT))
}
