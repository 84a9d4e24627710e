package aio

// NewTestQueue returns a queue on the worker-pool backend, which has no
// kernel feature dependency. Intended for tests that need deterministic
// backend selection; it panics when the backend cannot start.
func NewTestQueue(depth int) *Queue {
	q, err := NewQueue(Options{Depth: depth, Backend: BackendWorkers})
	if err != nil {
		panic("aio: test queue init: " + err.Error())
	}
	return q
}
