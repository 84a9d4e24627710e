package aio

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/behrlich/go-aio/internal/ring"
)

// sharedQueue returns the queue common to every listed request, panicking
// on a mixed list. nil for an empty list.
func sharedQueue(reqs []*Request) *Queue {
	if len(reqs) == 0 {
		return nil
	}
	q := reqs[0].q
	for _, r := range reqs[1:] {
		if r.q != q {
			panic("aio: requests belong to different queues")
		}
	}
	return q
}

func (r *Request) inFlight() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == reqInFlight
}

// Suspend blocks until at least one of the listed requests leaves the
// in-flight state, then returns nil. Poll the individual requests to learn
// which. An empty list returns nil immediately. A nil timeout waits without
// limit; otherwise expiry returns a timeout-classed *Error and an
// interrupted wait returns an interrupted-classed one, both leaving every
// request untouched.
func Suspend(reqs []*Request, timeout *time.Duration) error {
	q := sharedQueue(reqs)
	if q == nil {
		return nil
	}

	var deadline time.Time
	if timeout != nil {
		deadline = time.Now().Add(*timeout)
	}

	for {
		settled := false
		for _, r := range reqs {
			if !r.inFlight() {
				settled = true
				break
			}
		}
		if settled {
			return nil
		}

		var left time.Duration
		if timeout != nil {
			left = time.Until(deadline)
			if left <= 0 {
				return &Error{
					Op:    "suspend",
					FD:    -1,
					Code:  ErrCodeTimeout,
					Errno: unix.EAGAIN,
					Msg:   "no request completed before the timeout",
				}
			}
		}
		if err := q.waitAny(left); err != nil {
			return err
		}
	}
}

// SubmitMany submits every listed request whose Opcode is not OpcodeNoop in
// a single backend call where the backend supports it (see
// Queue.SupportsBatch). OpcodeRead entries require mutable buffers. Noop
// entries are skipped and stay idle.
//
// ModeNoWait returns once the backend has accepted the list. ModeWait
// additionally blocks until every submitted request has completed; results
// remain uncollected either way.
//
// notify, when not NotifyNone, supplies a completion notification for each
// submitted request that does not carry its own.
func SubmitMany(mode SubmitMode, reqs []*Request, notify Notify) error {
	q := sharedQueue(reqs)
	if q == nil {
		return nil
	}

	active := make([]*Request, 0, len(reqs))
	sqes := make([]ring.SQE, 0, len(reqs))
	for _, r := range reqs {
		r.mu.Lock()
		var op ring.Op
		switch r.listOp {
		case OpcodeNoop:
			r.mu.Unlock()
			continue
		case OpcodeRead:
			op = ring.OpRead
		case OpcodeWrite:
			op = ring.OpWrite
		default:
			r.mu.Unlock()
			panic("aio: unknown opcode in list submission")
		}
		sqe := r.prepareLocked(op)
		if sqe.ResFD < 0 {
			sqe.ResFD = notify.resFD()
		}
		r.mu.Unlock()
		active = append(active, r)
		sqes = append(sqes, sqe)
	}
	if len(active) == 0 {
		return nil
	}

	if err := q.submitBatch(active, sqes); err != nil {
		return err
	}
	if mode == ModeNoWait {
		return nil
	}

	for {
		pending := 0
		for _, r := range active {
			if r.inFlight() {
				pending++
			}
		}
		if pending == 0 {
			return nil
		}
		if err := q.waitAny(0); err != nil {
			return err
		}
	}
}
