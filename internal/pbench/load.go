package pbench

import (
	"sync/atomic"
	"time"
)

// LoadTracker counts requests seen by the server.
type LoadTracker struct {
	received  atomic.Uint64
	completed atomic.Uint64
	start     time.Time
}

// LoadSnapshot is a consistent view of a LoadTracker.
type LoadSnapshot struct {
	Received  uint64
	Completed uint64
	Elapsed   time.Duration
}

func NewLoadTracker() *LoadTracker {
	return &LoadTracker{start: time.Now()}
}

func (t *LoadTracker) RecordReceived() {
	t.received.Add(1)
}

func (t *LoadTracker) RecordCompleted() {
	t.completed.Add(1)
}

// Snapshot reads completed before received: every completion is preceded
// by its receipt, so Completed <= Received holds in the result.
func (t *LoadTracker) Snapshot() LoadSnapshot {
	completed := t.completed.Load()
	received := t.received.Load()
	return LoadSnapshot{
		Received:  received,
		Completed: completed,
		Elapsed:   time.Since(t.start),
	}
}

// Offered is the rate of received requests per second.
func (s LoadSnapshot) Offered() float64 {
	return rate(s.Received, s.Elapsed)
}

// Achieved is the rate of completed requests per second. Offered above
// Achieved means the server is saturated.
func (s LoadSnapshot) Achieved() float64 {
	return rate(s.Completed, s.Elapsed)
}

// CompletionRate is the percentage of received requests that completed.
func (s LoadSnapshot) CompletionRate() float64 {
	if s.Received == 0 {
		return 0
	}
	return 100 * float64(s.Completed) / float64(s.Received)
}

func rate(n uint64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(n) / secs
}
