package pbench

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentileIndex(t *testing.T) {
	assert.Equal(t, 50, percentileIndex(100, 50))
	assert.Equal(t, 95, percentileIndex(100, 95))
	assert.Equal(t, 99, percentileIndex(100, 99))
	assert.Equal(t, 0, percentileIndex(1, 99))
	assert.Equal(t, 28, percentileIndex(29, 99))
}

// recordsWithWarmUp returns WarmUp slow records followed by latencies
// 0..n-1 in random order.
func recordsWithWarmUp(n int) []LatencyRecord {
	records := make([]LatencyRecord, 0, WarmUp+n)
	for i := 0; i < WarmUp; i++ {
		records = append(records, LatencyRecord{Latency: 1_000_000})
	}
	for _, v := range rand.Perm(n) {
		records = append(records, LatencyRecord{Latency: uint64(v)})
	}
	return records
}

func TestThreadPercentiles(t *testing.T) {
	p, ok := ThreadPercentiles(recordsWithWarmUp(100))
	require.True(t, ok)
	assert.Equal(t, Percentiles{Median: 50, P95: 95, P99: 99}, p)

	_, ok = ThreadPercentiles(recordsWithWarmUp(0))
	assert.False(t, ok)
}

func TestSummarize(t *testing.T) {
	results := []ThreadResult{
		{ID: 0, Attempts: 100, Elapsed: time.Second, Records: recordsWithWarmUp(100)},
		{ID: 1, Attempts: 300, Elapsed: 3 * time.Second, Records: recordsWithWarmUp(200)},
		{ID: 2, Attempts: 200, Elapsed: 2 * time.Second, Records: recordsWithWarmUp(0)},
	}

	s := Summarize(results)
	assert.Equal(t, 3, s.Threads)
	assert.Equal(t, 2, s.SampledThreads)
	assert.Equal(t, uint64(600), s.TotalAttempts)
	assert.Equal(t, 3*WarmUp+300, s.TotalSamples)

	// 600 attempts over a mean runtime of 2s, not the sum of the rates
	assert.InDelta(t, 300, s.AttemptedLoad, 1e-9)
	assert.InDelta(t, 100, s.MeanThreadLoad, 1e-9)

	// thread 1 has 200 values: median 100, p95 190, p99 198
	assert.InDelta(t, (50+100)/2.0, s.Median, 1e-9)
	assert.InDelta(t, (95+190)/2.0, s.P95, 1e-9)
	assert.InDelta(t, (99+198)/2.0, s.P99, 1e-9)
}

func TestSummarizeEmpty(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))

	s := Summarize([]ThreadResult{{ID: 0}})
	assert.Zero(t, s.AttemptedLoad)
	assert.Zero(t, s.SampledThreads)
}

func TestRecordNeverNegative(t *testing.T) {
	r := WorkResponse{SendTimestamp: 500, ProcessingTime: 3}.Record(400)
	assert.Equal(t, uint64(0), r.Latency)
	assert.GreaterOrEqual(t, r.RecvTimestamp, r.SendTimestamp)

	r = WorkResponse{SendTimestamp: 500, ProcessingTime: 3}.Record(620)
	assert.Equal(t, LatencyRecord{Latency: 120, SendTimestamp: 500, ProcessingTime: 3, RecvTimestamp: 620}, r)
}

func TestNowMicrosMonotonic(t *testing.T) {
	prev := NowMicros()
	for i := 0; i < 1000; i++ {
		now := NowMicros()
		require.GreaterOrEqual(t, now, prev)
		prev = now
	}
}
