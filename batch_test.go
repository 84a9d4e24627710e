//go:build linux

package aio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitManyMixed(t *testing.T) {
	q := testQueue(t)
	fd := testFile(t, []byte("0123456789abcdef"))

	wr, err := q.NewOwnedRequest(fd, 16, []byte("TAIL"))
	require.NoError(t, err)
	wr.SetOpcode(OpcodeWrite)

	dst := make([]byte, 10)
	rd := q.NewRequest(fd, 0, dst)
	rd.SetOpcode(OpcodeRead)

	skip := q.NewFsyncRequest(fd) // Opcode defaults to noop

	require.NoError(t, SubmitMany(ModeWait, []*Request{wr, rd, skip}, NoNotify()))

	n, err := wr.CollectResult()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	n, err = rd.CollectResult()
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, []byte("0123456789"), dst)

	// The noop entry was never submitted and is still idle.
	assert.False(t, skip.inFlight())
	assert.Panics(t, func() { _, _ = skip.CollectResult() })
	require.NoError(t, wr.Close())
}

func TestSubmitManyNoWait(t *testing.T) {
	q := testQueue(t)
	fd := testFile(t, nil)

	reqs := make([]*Request, 0, 4)
	for i := 0; i < 4; i++ {
		r, err := q.NewOwnedRequest(fd, int64(i*8), []byte("chunk-00"))
		require.NoError(t, err)
		r.SetOpcode(OpcodeWrite)
		reqs = append(reqs, r)
	}
	require.NoError(t, SubmitMany(ModeNoWait, reqs, NoNotify()))

	for _, r := range reqs {
		await(t, r)
		n, err := r.CollectResult()
		require.NoError(t, err)
		assert.Equal(t, 8, n)
		require.NoError(t, r.Close())
	}
}

func TestSubmitManyReadRequiresMutableBuffer(t *testing.T) {
	q := testQueue(t)
	fd := testFile(t, []byte("data"))

	ro := q.NewReadOnlyRequest(fd, 0, make([]byte, 4))
	ro.SetOpcode(OpcodeRead)
	assert.Panics(t, func() {
		_ = SubmitMany(ModeNoWait, []*Request{ro}, NoNotify())
	})
}

func TestSubmitManyEmptyAndAllNoop(t *testing.T) {
	q := testQueue(t)
	fd := testFile(t, nil)

	assert.NoError(t, SubmitMany(ModeWait, nil, NoNotify()))

	noop := q.NewFsyncRequest(fd)
	assert.NoError(t, SubmitMany(ModeWait, []*Request{noop}, NoNotify()))
	assert.False(t, noop.inFlight())
}

func TestSuspendEmptyReturnsPromptly(t *testing.T) {
	start := time.Now()
	require.NoError(t, Suspend(nil, nil))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSuspendReturnsWhenOneCompletes(t *testing.T) {
	q := testQueue(t)
	fd := testFile(t, nil)

	req, err := q.NewOwnedRequest(fd, 0, []byte("wait for me"))
	require.NoError(t, err)
	require.NoError(t, req.SubmitWrite())

	limit := 5 * time.Second
	require.NoError(t, Suspend([]*Request{req}, &limit))

	assert.False(t, req.inFlight())
	n, err := req.CollectResult()
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	require.NoError(t, req.Close())
}

func TestSuspendWithConcurrentPoller(t *testing.T) {
	q := testQueue(t)
	fd := testFile(t, nil)

	req, err := q.NewOwnedRequest(fd, 0, []byte("racing"))
	require.NoError(t, err)

	// A polling goroutine keeps draining the backend, so the completion is
	// often consumed before Suspend gets to block. Suspend still has to
	// notice the request settled instead of waiting forever.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				q.poll()
			}
		}
	}()

	require.NoError(t, req.SubmitWrite())

	done := make(chan error, 1)
	go func() { done <- Suspend([]*Request{req}, nil) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Suspend did not observe the completion")
	}

	assert.False(t, req.inFlight())
	n, err := req.CollectResult()
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	require.NoError(t, req.Close())
}

func TestSubmitManyWaitWithConcurrentPoller(t *testing.T) {
	q := testQueue(t)
	fd := testFile(t, nil)

	reqs := make([]*Request, 0, 4)
	for i := 0; i < 4; i++ {
		r, err := q.NewOwnedRequest(fd, int64(i*8), []byte("chunk-00"))
		require.NoError(t, err)
		r.SetOpcode(OpcodeWrite)
		reqs = append(reqs, r)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				q.poll()
			}
		}
	}()

	done := make(chan error, 1)
	go func() { done <- SubmitMany(ModeWait, reqs, NoNotify()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("SubmitMany did not observe the completions")
	}

	for _, r := range reqs {
		n, err := r.CollectResult()
		require.NoError(t, err)
		assert.Equal(t, 8, n)
		require.NoError(t, r.Close())
	}
}

func TestSuspendTimeout(t *testing.T) {
	q := testQueue(t)
	fd := testFile(t, nil)

	// A request parked in the in-flight state with nothing behind it:
	// Suspend has to give up on its own.
	req := q.NewFsyncRequest(fd)
	req.mu.Lock()
	req.state = reqInFlight
	req.mu.Unlock()

	limit := 50 * time.Millisecond
	err := Suspend([]*Request{req}, &limit)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeTimeout))

	req.mu.Lock()
	req.state = reqIdle
	req.mu.Unlock()
}

func TestCancelDuringListSubmission(t *testing.T) {
	q := testQueue(t)
	fd := testFile(t, nil)

	// Cancel races the list submission; run under the race detector this
	// checks that id assignment and the cancel path agree on locking.
	for round := 0; round < 8; round++ {
		reqs := make([]*Request, 0, 4)
		for i := 0; i < 4; i++ {
			r, err := q.NewOwnedRequest(fd, int64(i*4), []byte("spin"))
			require.NoError(t, err)
			r.SetOpcode(OpcodeWrite)
			reqs = append(reqs, r)
		}

		done := make(chan error, 1)
		go func() { done <- SubmitMany(ModeNoWait, reqs, NoNotify()) }()
		for _, r := range reqs {
			_, err := r.Cancel()
			require.NoError(t, err)
		}
		require.NoError(t, <-done)

		for _, r := range reqs {
			await(t, r)
			_, err := r.CollectResult()
			if err != nil {
				assert.True(t, IsCode(err, ErrCodeCanceled))
			}
			require.NoError(t, r.Close())
		}
	}
}

func TestMixedQueuePanics(t *testing.T) {
	q1 := testQueue(t)
	q2 := NewTestQueue(4)
	t.Cleanup(func() { _ = q2.Close() })
	fd := testFile(t, nil)

	a := q1.NewFsyncRequest(fd)
	b := q2.NewFsyncRequest(fd)
	assert.Panics(t, func() { _ = Suspend([]*Request{a, b}, nil) })
	assert.Panics(t, func() { _ = SubmitMany(ModeNoWait, []*Request{a, b}, NoNotify()) })
}
