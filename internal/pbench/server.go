package pbench

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/shirou/gopsutil/load"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultReportInterval is how often the server logs its load.
const DefaultReportInterval = 10 * time.Second

type Server struct {
	work           WorkFunc
	tracker        *LoadTracker
	reportInterval time.Duration
}

// NewServer returns a server applying work to every request. A zero
// reportInterval disables periodic reports.
func NewServer(work WorkFunc, reportInterval time.Duration) *Server {
	if work == nil {
		work = DoWork
	}
	return &Server{
		work:           work,
		tracker:        NewLoadTracker(),
		reportInterval: reportInterval,
	}
}

// Tracker exposes the server counters.
func (s *Server) Tracker() *LoadTracker {
	return s.tracker
}

// Start listens on addr and serves until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %w", ErrConnection, addr, err)
	}
	zap.L().Info("server started", zap.String("addr", ln.Addr().String()))
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is done. Each connection is
// handled by its own goroutine; a failing connection never stops the
// accept loop or its siblings.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		ln.Close()
		return nil
	})

	if s.reportInterval > 0 {
		g.Go(func() error {
			s.report(ctx)
			return nil
		})
	}

	for {
		client, err := ln.Accept()

		if errors.Is(err, net.ErrClosed) {
			break
		} else if err != nil {
			zap.L().Warn("accept failed", zap.Error(err))
			continue
		}

		g.Go(func() error {
			if err := s.handleConnection(ctx, client); err != nil && !isBenign(err) && ctx.Err() == nil {
				zap.L().Warn("connection handler failed",
					zap.String("peer", client.RemoteAddr().String()),
					zap.Error(err))
			}
			return nil
		})
	}
	// the listener may have been closed from outside
	cancel()

	err := g.Wait()
	s.logLoad()
	return err
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	requests := NewRequestCodec(conn)
	responses := NewResponseCodec(conn)

	// unblock the pending read when the server shuts down
	stop := context.AfterFunc(ctx, func() {
		requests.Interrupt()
	})
	defer stop()

	zap.L().Debug("connection accepted", zap.String("peer", conn.RemoteAddr().String()))

	for {
		request, err := requests.Recv()
		if err != nil {
			return err
		}
		s.tracker.RecordReceived()

		if err := responses.Send(s.work(request)); err != nil {
			return err
		}
		s.tracker.RecordCompleted()
	}
}

func (s *Server) report(ctx context.Context) {
	ticker := time.NewTicker(s.reportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logLoad()
		}
	}
}

func (s *Server) logLoad() {
	snap := s.tracker.Snapshot()
	fields := []zap.Field{
		zap.Duration("runtime", snap.Elapsed),
		zap.Uint64("received", snap.Received),
		zap.Uint64("completed", snap.Completed),
		zap.Float64("offered_rps", snap.Offered()),
		zap.Float64("achieved_rps", snap.Achieved()),
		zap.Float64("completion_pct", snap.CompletionRate()),
	}
	if avg, err := load.Avg(); err == nil {
		fields = append(fields,
			zap.Float64("load1", avg.Load1),
			zap.Float64("load5", avg.Load5),
			zap.Float64("load15", avg.Load15))
	}
	zap.L().Info("server load", fields...)
}
