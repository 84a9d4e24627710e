//go:build linux

package aio

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwnedBufferCopyDecouples(t *testing.T) {
	src := []byte("hello")
	buf, err := ownedBufferFrom(src, true)
	require.NoError(t, err)
	defer buf.Release()

	src[0] = 'X'
	assert.Equal(t, []byte("hello"), buf.Bytes())
	assert.Equal(t, BufferOwned, buf.Kind())
	assert.Equal(t, 5, buf.Len())
	assert.True(t, buf.Mutable())
}

func TestOwnedBufferAddressStable(t *testing.T) {
	buf, err := newOwnedBuffer(4096)
	require.NoError(t, err)
	defer buf.Release()

	before := buf.base()
	for i := 0; i < 4; i++ {
		_ = make([]byte, 1<<20)
		runtime.GC()
	}
	assert.Equal(t, before, buf.base())
}

func TestSharedBufferRefcount(t *testing.T) {
	buf, err := sharedBufferFrom([]byte("shared payload"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), buf.shared.refs.Load())
	assert.False(t, buf.Mutable())

	clone := buf.Clone()
	assert.Equal(t, int64(2), clone.shared.refs.Load())
	assert.Equal(t, buf.Bytes(), clone.Bytes())

	sb := buf.shared
	buf.Release()
	assert.Equal(t, int64(1), sb.refs.Load())
	assert.Equal(t, []byte("shared payload"), clone.Bytes())

	clone.Release()
	assert.Nil(t, sb.data)
}

func TestCloneRequiresSharedBuffer(t *testing.T) {
	owned, err := newOwnedBuffer(8)
	require.NoError(t, err)
	defer owned.Release()
	assert.Panics(t, func() { _ = owned.Clone() })

	borrowed := borrowedBuffer(make([]byte, 8), true)
	assert.Panics(t, func() { _ = borrowed.Clone() })
}

func TestNoBuffer(t *testing.T) {
	buf := noBuffer()
	assert.Equal(t, BufferNone, buf.Kind())
	assert.Zero(t, buf.Len())
	assert.Nil(t, buf.Bytes())
	assert.Nil(t, buf.base())
	buf.Release()
}

func TestReleaseIdempotent(t *testing.T) {
	buf, err := ownedBufferFrom([]byte("twice"), false)
	require.NoError(t, err)
	buf.Release()
	assert.Equal(t, BufferNone, buf.Kind())
	buf.Release()
}

func TestZeroLengthOwnedBuffer(t *testing.T) {
	buf, err := newOwnedBuffer(0)
	require.NoError(t, err)
	assert.Zero(t, buf.Len())
	assert.Nil(t, buf.base())
	buf.Release()
}

func TestBufferKindString(t *testing.T) {
	tests := []struct {
		kind BufferKind
		want string
	}{
		{BufferNone, "none"},
		{BufferOwned, "owned"},
		{BufferShared, "shared"},
		{BufferBorrowed, "borrowed"},
		{BufferPointer, "pointer"},
		{BufferKind(9), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}
