package pbench

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// WarmUp is the number of leading records of every thread left out of the
// percentiles.
const WarmUp = 50

// ThreadResult is what one generator thread (or open-loop connection)
// measured.
type ThreadResult struct {
	ID       int
	Records  []LatencyRecord
	Attempts uint64
	Elapsed  time.Duration
}

// AttemptedLoad is the rate at which the thread tried to send requests,
// whether or not they completed.
func (r ThreadResult) AttemptedLoad() float64 {
	return rate(r.Attempts, r.Elapsed)
}

// Percentiles are latency percentiles in microseconds.
type Percentiles struct {
	Median uint64
	P95    uint64
	P99    uint64
}

// ThreadPercentiles computes the percentiles of the records left after the
// warm-up. ok is false when nothing is left.
func ThreadPercentiles(records []LatencyRecord) (p Percentiles, ok bool) {
	if len(records) <= WarmUp {
		return Percentiles{}, false
	}
	values := make([]uint64, 0, len(records)-WarmUp)
	for _, r := range records[WarmUp:] {
		values = append(values, r.Latency)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return percentilesOf(values), true
}

func percentilesOf(sorted []uint64) Percentiles {
	n := len(sorted)
	return Percentiles{
		Median: sorted[percentileIndex(n, 50)],
		P95:    sorted[percentileIndex(n, 95)],
		P99:    sorted[percentileIndex(n, 99)],
	}
}

// percentileIndex is floor(pct/100 * n), computed without floating point.
func percentileIndex(n, pct int) int {
	i := n * pct / 100
	if i >= n {
		i = n - 1
	}
	return i
}

// Summary aggregates the results of all threads of a run.
type Summary struct {
	Threads        int
	SampledThreads int
	TotalAttempts  uint64
	TotalSamples   int

	// AttemptedLoad is the total attempts over the mean thread runtime, so
	// that threads finishing at different times do not skew the rate.
	AttemptedLoad  float64
	MeanThreadLoad float64

	// Median, P95 and P99 are the means of the per-thread percentiles. This
	// approximates, but is not, the percentile of the pooled samples.
	Median float64
	P95    float64
	P99    float64
}

func Summarize(results []ThreadResult) Summary {
	s := Summary{Threads: len(results)}
	if len(results) == 0 {
		return s
	}

	var (
		elapsed = make([]float64, 0, len(results))
		loads   = make([]float64, 0, len(results))
		medians []float64
		p95s    []float64
		p99s    []float64
	)
	for _, r := range results {
		s.TotalAttempts += r.Attempts
		s.TotalSamples += len(r.Records)
		elapsed = append(elapsed, r.Elapsed.Seconds())
		loads = append(loads, r.AttemptedLoad())

		p, ok := ThreadPercentiles(r.Records)
		if !ok {
			continue
		}
		medians = append(medians, float64(p.Median))
		p95s = append(p95s, float64(p.P95))
		p99s = append(p99s, float64(p.P99))
	}

	if avg := stat.Mean(elapsed, nil); avg > 0 {
		s.AttemptedLoad = float64(s.TotalAttempts) / avg
	}
	s.MeanThreadLoad = stat.Mean(loads, nil)

	s.SampledThreads = len(medians)
	if s.SampledThreads > 0 {
		s.Median = stat.Mean(medians, nil)
		s.P95 = stat.Mean(p95s, nil)
		s.P99 = stat.Mean(p99s, nil)
	}
	return s
}
