package pbench

import (
	"context"
	"fmt"
	"time"

	"github.com/alarmfox/tcpbench/internal/workload"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultResponseTimeout bounds how long a closed-loop thread waits for a
// single response before counting the request as dropped.
const DefaultResponseTimeout = 5 * time.Second

type ClosedLoopConfig struct {
	ServerAddress string
	Threads       int
	Runtime       time.Duration
	Work          workload.Work
	// Timeout is the per-response timeout. Zero waits forever.
	Timeout time.Duration
}

// RunClosedLoop starts c.Threads threads, each sending a request and
// waiting for its response before sending the next, until c.Runtime
// elapses or ctx is done.
func RunClosedLoop(ctx context.Context, c ClosedLoopConfig) ([]ThreadResult, error) {
	if c.Threads <= 0 {
		return nil, fmt.Errorf("%w: threads must be positive, got %d", ErrBadConfig, c.Threads)
	}
	if c.Runtime <= 0 {
		return nil, fmt.Errorf("%w: runtime must be positive, got %s", ErrBadConfig, c.Runtime)
	}

	results := make([]ThreadResult, c.Threads)
	var g errgroup.Group
	for i := 0; i < c.Threads; i++ {
		i := i
		g.Go(func() error {
			results[i] = closedLoopThread(ctx, i, c)
			return nil
		})
	}
	return results, g.Wait()
}

func closedLoopThread(ctx context.Context, id int, c ClosedLoopConfig) (result ThreadResult) {
	log := zap.L().With(zap.Int("thread", id))
	result.ID = id

	conn, err := dial(ctx, c.ServerAddress)
	if err != nil {
		log.Error("cannot connect", zap.Error(err))
		return result
	}
	defer conn.Close()

	requests := NewRequestCodec(conn)
	responses := NewResponseCodec(conn)
	if c.Timeout > 0 {
		if err := responses.SetReadTimeout(c.Timeout); err != nil {
			log.Error("cannot set read timeout", zap.Error(err))
			return result
		}
	}

	stop := context.AfterFunc(ctx, func() {
		responses.Interrupt()
	})
	defer stop()

	// the clock starts once connected, as in the open loop
	start := time.Now()
	deadline := start.Add(c.Runtime)
	defer func() {
		result.Elapsed = time.Since(start)
	}()

	for time.Now().Before(deadline) && ctx.Err() == nil {
		request := newRequest(c.Work)
		result.Attempts++

		if err := requests.Send(request); err != nil {
			if IsFatal(err) {
				if ctx.Err() == nil {
					log.Error("send failed, closing connection", zap.Error(err))
				}
				return result
			}
			log.Warn("send failed", zap.Error(err))
			continue
		}

		response, err := awaitResponse(responses, request.Token)
		if err != nil {
			if IsFatal(err) {
				if ctx.Err() == nil {
					log.Error("receive failed, closing connection", zap.Error(err))
				}
				return result
			}
			log.Warn("receive failed", zap.Error(err))
			continue
		}
		result.Records = append(result.Records, response.Record(NowMicros()))
	}
	return result
}

// awaitResponse reads until the response for token arrives. Responses to
// earlier requests that timed out are discarded.
func awaitResponse(responses *Codec[WorkResponse], token uint64) (WorkResponse, error) {
	for {
		response, err := responses.Recv()
		if err != nil {
			return response, err
		}
		if response.Token == token {
			return response, nil
		}
		zap.L().Debug("discarding stale response", zap.Uint64("token", response.Token))
	}
}
