package pbench

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alarmfox/tcpbench/internal/workload"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// SpinThreshold is the interval below which the sender busy-waits
	// between requests instead of sleeping.
	SpinThreshold = time.Millisecond
	// DefaultDrainTimeout is how long the receiver blocks on a read before
	// checking whether the sender has finished.
	DefaultDrainTimeout = 100 * time.Millisecond
)

type OpenLoopConfig struct {
	ServerAddress string
	Threads       int
	Interval      time.Duration
	Runtime       time.Duration
	Work          workload.Work
	DrainTimeout  time.Duration
}

// RunOpenLoop opens c.Threads connections. On each, one goroutine sends a
// request every c.Interval regardless of responses while another drains
// the responses.
func RunOpenLoop(ctx context.Context, c OpenLoopConfig) ([]ThreadResult, error) {
	if c.Threads <= 0 {
		return nil, fmt.Errorf("%w: threads must be positive, got %d", ErrBadConfig, c.Threads)
	}
	if c.Interval <= 0 {
		return nil, fmt.Errorf("%w: interarrival must be positive, got %s", ErrBadConfig, c.Interval)
	}
	if c.Runtime <= 0 {
		return nil, fmt.Errorf("%w: runtime must be positive, got %s", ErrBadConfig, c.Runtime)
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}

	results := make([]ThreadResult, c.Threads)
	var g errgroup.Group
	for i := 0; i < c.Threads; i++ {
		i := i
		g.Go(func() error {
			results[i] = openLoopConnection(ctx, i, c)
			return nil
		})
	}
	return results, g.Wait()
}

func openLoopConnection(ctx context.Context, id int, c OpenLoopConfig) ThreadResult {
	log := zap.L().With(zap.Int("thread", id))
	result := ThreadResult{ID: id}

	conn, err := dial(ctx, c.ServerAddress)
	if err != nil {
		log.Error("cannot connect", zap.Error(err))
		return result
	}
	defer conn.Close()

	requests := NewRequestCodec(conn)
	responses := NewResponseCodec(conn)
	if err := responses.SetReadTimeout(c.DrainTimeout); err != nil {
		log.Error("cannot set read timeout", zap.Error(err))
		return result
	}

	var (
		attempts   atomic.Uint64
		senderDone atomic.Bool
		g          errgroup.Group
	)

	g.Go(func() error {
		defer senderDone.Store(true)
		result.Elapsed = runSender(ctx, log, requests, c, &attempts)
		return nil
	})

	g.Go(func() error {
		result.Records = runReceiver(log, responses, &senderDone)
		return nil
	})

	g.Wait()
	result.Attempts = attempts.Load()
	return result
}

// runSender sends on the fixed schedule start + k*interval until the
// runtime elapses or a send fails. It returns how long it ran.
func runSender(ctx context.Context, log *zap.Logger, requests *Codec[WorkRequest], c OpenLoopConfig, attempts *atomic.Uint64) time.Duration {
	start := time.Now()
	end := start.Add(c.Runtime)

	for k := int64(0); ; k++ {
		next := start.Add(time.Duration(k) * c.Interval)
		if !next.Before(end) {
			break
		}
		if !waitUntil(ctx, next, c.Interval) {
			break
		}

		if err := requests.Send(newRequest(c.Work)); err != nil {
			if IsTransient(err) {
				log.Warn("send failed", zap.Error(err))
				continue
			}
			log.Error("send failed, stopping sender", zap.Error(err))
			break
		}
		attempts.Add(1)
	}
	return time.Since(start)
}

// waitUntil blocks until t. Short intervals are spun since sleeping would
// add more jitter than the interval itself. It returns false if ctx ended
// first.
func waitUntil(ctx context.Context, t time.Time, interval time.Duration) bool {
	if interval < SpinThreshold {
		for time.Now().Before(t) {
			if ctx.Err() != nil {
				return false
			}
		}
		return ctx.Err() == nil
	}

	d := time.Until(t)
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// runReceiver collects responses until the sender has finished and one
// more read, started after that, comes back empty.
func runReceiver(log *zap.Logger, responses *Codec[WorkResponse], senderDone *atomic.Bool) []LatencyRecord {
	var records []LatencyRecord
	for {
		draining := senderDone.Load()

		response, err := responses.Recv()
		switch {
		case err == nil:
			records = append(records, response.Record(NowMicros()))
		case errors.Is(err, ErrTimeout):
			if draining {
				return records
			}
		case IsFatal(err):
			if !draining || !isBenign(err) {
				log.Warn("receive failed, stopping receiver", zap.Error(err))
			}
			return records
		default:
			log.Warn("receive failed", zap.Error(err))
		}
	}
}
