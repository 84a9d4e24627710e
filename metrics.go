package aio

import (
	"sync/atomic"
	"time"
)

// Metrics tracks queue activity with lock-free counters.
type Metrics struct {
	// Submission counters
	Submitted atomic.Uint64
	Rejected  atomic.Uint64

	// Completion counters
	Completed atomic.Uint64
	Failed    atomic.Uint64
	Canceled  atomic.Uint64

	// Per-opcode counters
	Reads  atomic.Uint64
	Writes atomic.Uint64
	Syncs  atomic.Uint64

	// Byte counters (successful transfers only)
	BytesRead    atomic.Uint64
	BytesWritten atomic.Uint64

	// Batch counters
	Batches       atomic.Uint64
	BatchRequests atomic.Uint64

	// StartTime for uptime calculation
	StartTime time.Time
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// Uptime returns how long the queue has been running
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.StartTime)
}

// InFlight returns the number of requests submitted but not yet terminal
func (m *Metrics) InFlight() uint64 {
	sub := m.Submitted.Load()
	done := m.Completed.Load() + m.Failed.Load() + m.Canceled.Load()
	if done > sub {
		return 0
	}
	return sub - done
}

// Snapshot returns a point-in-time copy of all counters
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Submitted:     m.Submitted.Load(),
		Rejected:      m.Rejected.Load(),
		Completed:     m.Completed.Load(),
		Failed:        m.Failed.Load(),
		Canceled:      m.Canceled.Load(),
		Reads:         m.Reads.Load(),
		Writes:        m.Writes.Load(),
		Syncs:         m.Syncs.Load(),
		BytesRead:     m.BytesRead.Load(),
		BytesWritten:  m.BytesWritten.Load(),
		Batches:       m.Batches.Load(),
		BatchRequests: m.BatchRequests.Load(),
		Uptime:        m.Uptime(),
	}
}

// MetricsSnapshot is a point-in-time view of queue metrics
type MetricsSnapshot struct {
	Submitted     uint64
	Rejected      uint64
	Completed     uint64
	Failed        uint64
	Canceled      uint64
	Reads         uint64
	Writes        uint64
	Syncs         uint64
	BytesRead     uint64
	BytesWritten  uint64
	Batches       uint64
	BatchRequests uint64
	Uptime        time.Duration
}
