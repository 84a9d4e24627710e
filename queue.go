package aio

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/behrlich/go-aio/internal/logging"
	"github.com/behrlich/go-aio/internal/ring"
)

// BackendKind selects the completion engine behind a Queue.
type BackendKind int

const (
	// BackendAuto probes for kernel AIO support and falls back to the
	// worker-pool backend when the probe fails.
	BackendAuto BackendKind = iota
	// BackendKernel uses the native io_setup/io_submit/io_getevents ring.
	BackendKernel
	// BackendWorkers services requests on a pool of goroutines issuing
	// ordinary positioned syscalls. Works on any kernel.
	BackendWorkers
	// BackendURing uses io_uring. Requires building with the uring tag.
	BackendURing
)

// String returns the backend name
func (b BackendKind) String() string {
	switch b {
	case BackendAuto:
		return "auto"
	case BackendKernel:
		return "kernel"
	case BackendWorkers:
		return "workers"
	case BackendURing:
		return "uring"
	default:
		return "unknown"
	}
}

// Options configures a Queue.
type Options struct {
	// Depth is the maximum number of in-flight requests. Zero means the
	// backend default.
	Depth int
	// Backend selects the completion engine. Zero value is BackendAuto.
	Backend BackendKind
	// Logger overrides the package default logger.
	Logger *logging.Logger
}

// Queue owns a completion ring and tracks every request submitted on it.
// A Queue is safe for concurrent use.
type Queue struct {
	ring    ring.Ring
	backend BackendKind
	log     *logging.Logger
	metrics *Metrics

	nextID atomic.Uint64

	// reapTok admits one goroutine at a time into a blocking Reap; other
	// waiters park on wake, which deliver closes and replaces. This keeps
	// a waiter from stalling in the backend after a concurrent poll has
	// already consumed the completion it is waiting for.
	reapTok chan struct{}

	mu       sync.Mutex
	inflight map[uint64]*Request
	wake     chan struct{}
	closed   bool
}

// NewQueue creates a queue with the given options.
func NewQueue(opts Options) (*Queue, error) {
	cfg := ring.Config{Depth: opts.Depth}

	backend := opts.Backend
	if backend == BackendAuto {
		if ring.ProbeKernelAIO() {
			backend = BackendKernel
		} else {
			backend = BackendWorkers
		}
	}

	var (
		r   ring.Ring
		err error
	)
	switch backend {
	case BackendKernel:
		r, err = ring.NewKernelRing(cfg)
	case BackendWorkers:
		r, err = ring.NewGoRing(cfg)
	case BackendURing:
		r, err = ring.NewUringRing(cfg)
	default:
		return nil, newError("new_queue", ErrCodeInvalidParameters, "unknown backend")
	}
	if err != nil {
		return nil, &Error{
			Op:    "new_queue",
			FD:    -1,
			Code:  ErrCodeNotSupported,
			Msg:   "backend unavailable: " + err.Error(),
			Inner: err,
		}
	}

	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	log = log.WithBackend(backend.String())
	log.Debug("queue created", "depth", cfg.Depth)

	return &Queue{
		ring:     r,
		backend:  backend,
		log:      log,
		metrics:  NewMetrics(),
		reapTok:  make(chan struct{}, 1),
		inflight: make(map[uint64]*Request),
		wake:     make(chan struct{}),
	}, nil
}

var (
	defaultQueue     *Queue
	defaultQueueOnce sync.Once
)

// Default returns the process-wide queue, creating it on first use with
// automatic backend selection. It panics if no backend can be initialized.
func Default() *Queue {
	defaultQueueOnce.Do(func() {
		q, err := NewQueue(Options{})
		if err != nil {
			panic("aio: default queue init: " + err.Error())
		}
		defaultQueue = q
	})
	return defaultQueue
}

// Backend returns the engine the queue resolved to.
func (q *Queue) Backend() BackendKind {
	return q.backend
}

// SupportsBatch reports whether SubmitMany hands the whole list to the
// backend in one call.
func (q *Queue) SupportsBatch() bool {
	return q.ring.SupportsBatch()
}

// Metrics returns the queue's counters.
func (q *Queue) Metrics() *Metrics {
	return q.metrics
}

// Close shuts the queue down. It returns an error while requests are still
// in flight; cancel or collect them first.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	if n := len(q.inflight); n > 0 {
		q.mu.Unlock()
		return newError("close", ErrCodeInProgress, "requests still in flight")
	}
	q.closed = true
	q.mu.Unlock()

	q.log.Debug("queue closed")
	return q.ring.Close()
}

// submit registers req and hands a single entry to the backend. On failure
// the request is deregistered so it stays reusable.
func (q *Queue) submit(req *Request, sqe ring.SQE) error {
	id := q.nextID.Add(1)
	sqe.ID = id

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.metrics.Rejected.Add(1)
		return newError(sqe.Op.String(), ErrCodeQueueClosed, "queue closed")
	}
	q.inflight[id] = req
	q.mu.Unlock()

	req.id = id
	if _, err := q.ring.Submit([]ring.SQE{sqe}); err != nil {
		q.mu.Lock()
		delete(q.inflight, id)
		q.mu.Unlock()
		q.metrics.Rejected.Add(1)
		return submitError(sqe, err)
	}

	q.noteSubmitted(sqe.Op)
	q.log.WithRequest(id, sqe.Op.String()).WithFD(sqe.FD).Debug("submitted",
		"len", sqe.Len, "off", sqe.Off)
	return nil
}

// submitBatch registers and submits a prepared list of requests. sqes[i]
// belongs to reqs[i]. Requests the backend did not accept are deregistered
// and reported through the returned error.
func (q *Queue) submitBatch(reqs []*Request, sqes []ring.SQE) error {
	// Assign ids under each request's own lock before touching the queue
	// lock, so a concurrent Cancel always reads a settled id and the
	// req-then-queue lock order of the single-submit path is preserved.
	for i := range sqes {
		id := q.nextID.Add(1)
		sqes[i].ID = id
		reqs[i].mu.Lock()
		reqs[i].id = id
		reqs[i].mu.Unlock()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.metrics.Rejected.Add(uint64(len(reqs)))
		for _, r := range reqs {
			r.rewind()
		}
		return newError("submit_many", ErrCodeQueueClosed, "queue closed")
	}
	for i := range sqes {
		q.inflight[sqes[i].ID] = reqs[i]
	}
	q.mu.Unlock()

	accepted, err := q.ring.Submit(sqes)
	if accepted < 0 {
		accepted = 0
	}
	for i := accepted; i < len(sqes); i++ {
		q.mu.Lock()
		delete(q.inflight, sqes[i].ID)
		q.mu.Unlock()
		reqs[i].rewind()
		q.metrics.Rejected.Add(1)
	}
	for i := 0; i < accepted; i++ {
		q.noteSubmitted(sqes[i].Op)
	}

	q.metrics.Batches.Add(1)
	q.metrics.BatchRequests.Add(uint64(accepted))

	if err != nil {
		return submitError(ring.SQE{Op: sqes[0].Op}, err)
	}
	if accepted < len(sqes) {
		return newError("submit_many", ErrCodeResourceLimit, "batch partially accepted")
	}
	return nil
}

func (q *Queue) noteSubmitted(op ring.Op) {
	q.metrics.Submitted.Add(1)
	switch op {
	case ring.OpRead:
		q.metrics.Reads.Add(1)
	case ring.OpWrite:
		q.metrics.Writes.Add(1)
	case ring.OpFsync, ring.OpFdatasync:
		q.metrics.Syncs.Add(1)
	}
}

func submitError(sqe ring.SQE, err error) error {
	if errno, ok := err.(unix.Errno); ok {
		return wrapErrno(sqe.Op.String(), sqe.FD, errno)
	}
	return &Error{
		Op:    sqe.Op.String(),
		FD:    sqe.FD,
		Code:  ErrCodeIOError,
		Msg:   err.Error(),
		Inner: err,
	}
}

// poll reaps any completions that are already available without blocking
// and delivers them to their requests.
func (q *Queue) poll() {
	zero := time.Duration(0)
	cqes, err := q.ring.Reap(0, &zero)
	if err != nil {
		q.log.WithError(err).Warn("reap failed")
		return
	}
	q.deliver(cqes)
}

// waitMin blocks until the backend produces at least min completions or the
// timeout elapses. A nil timeout blocks indefinitely.
func (q *Queue) waitMin(min int, timeout *time.Duration) error {
	cqes, err := q.ring.Reap(min, timeout)
	if len(cqes) > 0 {
		q.deliver(cqes)
	}
	if err != nil {
		if errno, ok := err.(unix.Errno); ok {
			return wrapErrno("suspend", -1, errno)
		}
		return err
	}
	return nil
}

// reapSlice bounds every blocking wait inside waitAny. A waiter can miss a
// completion two ways: another goroutine's poll consumes it while the waiter
// is parked in the backend, or a concurrent Cancel synthesizes a backlog
// entry no io_getevents call will ever report. The bound turns both into a
// short re-check instead of a stall.
const reapSlice = 10 * time.Millisecond

func (q *Queue) wakeChan() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.wake
}

// notifyWaiters wakes every goroutine parked in waitAny after a delivery.
func (q *Queue) notifyWaiters() {
	q.mu.Lock()
	close(q.wake)
	q.wake = make(chan struct{})
	q.mu.Unlock()
}

// waitAny blocks until some completion has been delivered on the queue, a
// bounded slice elapses, or limit (when positive) runs out. One caller at a
// time reaps the backend; the rest wait for its deliveries. Callers loop and
// re-check their own condition.
func (q *Queue) waitAny(limit time.Duration) error {
	wc := q.wakeChan()

	slice := reapSlice
	if limit > 0 && limit < slice {
		slice = limit
	}

	select {
	case q.reapTok <- struct{}{}:
		defer func() { <-q.reapTok }()
		return q.waitMin(1, &slice)
	default:
	}

	t := time.NewTimer(slice)
	defer t.Stop()
	select {
	case <-wc:
	case <-t.C:
	}
	return nil
}

// deliver routes completions to their owning requests. The queue lock is
// only held for the map lookups; request state transitions happen outside
// it so a request callback can touch the queue again.
func (q *Queue) deliver(cqes []ring.CQE) {
	type done struct {
		req *Request
		id  uint64
		res int64
	}
	found := make([]done, 0, len(cqes))

	q.mu.Lock()
	for _, c := range cqes {
		req, ok := q.inflight[c.ID]
		if !ok {
			// Completion for a request we no longer track. Stale
			// cancellations can produce these.
			continue
		}
		delete(q.inflight, c.ID)
		found = append(found, done{req, c.ID, c.Res})
	}
	q.mu.Unlock()

	for _, d := range found {
		op := d.req.complete(d.res)
		q.noteCompleted(op, d.id, d.res)
	}
	if len(found) > 0 {
		q.notifyWaiters()
	}
}

func (q *Queue) noteCompleted(op ring.Op, id uint64, res int64) {
	switch {
	case res >= 0:
		q.metrics.Completed.Add(1)
		switch op {
		case ring.OpRead:
			q.metrics.BytesRead.Add(uint64(res))
		case ring.OpWrite:
			q.metrics.BytesWritten.Add(uint64(res))
		}
	case unix.Errno(-res) == unix.ECANCELED:
		q.metrics.Canceled.Add(1)
	default:
		q.metrics.Failed.Add(1)
	}
	q.log.WithRequest(id, op.String()).Debug("completed", "res", res)
}

// cancel asks the backend to abort one request.
func (q *Queue) cancel(req *Request) (CancelStatus, error) {
	req.mu.Lock()
	id := req.id
	req.mu.Unlock()

	q.mu.Lock()
	_, tracked := q.inflight[id]
	q.mu.Unlock()
	if !tracked {
		return CancelStatusAllDone, nil
	}

	outcome, err := q.ring.Cancel(id)
	if err != nil {
		if errno, ok := err.(unix.Errno); ok {
			return CancelStatusNotCanceled, wrapErrno("cancel", req.fd, errno)
		}
		return CancelStatusNotCanceled, err
	}
	return cancelStatusFor(outcome), nil
}

// CancelAll attempts to cancel every in-flight request on the given file
// descriptor. The returned status is the weakest individual outcome: any
// request that could not be canceled yields CancelStatusNotCanceled, and a
// set that was empty or had already completed yields CancelStatusAllDone.
func (q *Queue) CancelAll(fd int32) (CancelStatus, error) {
	q.mu.Lock()
	ids := make([]uint64, 0, 8)
	for id, req := range q.inflight {
		if req.fd == fd {
			ids = append(ids, id)
		}
	}
	q.mu.Unlock()

	if len(ids) == 0 {
		return CancelStatusAllDone, nil
	}

	var anyCanceled, anyNotCanceled bool
	for _, id := range ids {
		outcome, err := q.ring.Cancel(id)
		if err != nil {
			if errno, ok := err.(unix.Errno); ok {
				return CancelStatusNotCanceled, wrapErrno("cancel_all", fd, errno)
			}
			return CancelStatusNotCanceled, err
		}
		switch cancelStatusFor(outcome) {
		case CancelStatusCanceled:
			anyCanceled = true
		case CancelStatusNotCanceled:
			anyNotCanceled = true
		}
	}
	switch {
	case anyNotCanceled:
		return CancelStatusNotCanceled, nil
	case anyCanceled:
		return CancelStatusCanceled, nil
	default:
		return CancelStatusAllDone, nil
	}
}

func cancelStatusFor(outcome ring.CancelOutcome) CancelStatus {
	switch outcome {
	case ring.CancelOutcomeDone:
		return CancelStatusAllDone
	case ring.CancelOutcomeCanceled:
		return CancelStatusCanceled
	default:
		return CancelStatusNotCanceled
	}
}
