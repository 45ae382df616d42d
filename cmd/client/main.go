package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alarmfox/tcpbench/internal/logging"
	"github.com/alarmfox/tcpbench/internal/pbench"
	"github.com/alarmfox/tcpbench/internal/workload"
	"github.com/cheggaaa/pb/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// rawConfig holds the merged flag and file values before validation.
type rawConfig struct {
	addr          string
	threads       int
	runtime       time.Duration
	work          string
	responseBytes int
	outDir        string
	timeout       time.Duration
	interarrival  time.Duration
	drainTimeout  time.Duration
}

type Config struct {
	addr         string
	threads      int
	runtime      time.Duration
	work         workload.Work
	outDir       string
	timeout      time.Duration
	interarrival time.Duration
	drainTimeout time.Duration
	progress     bool
}

var commonFlags = []cli.Flag{
	&cli.StringFlag{Name: "config", Usage: "YAML file with run parameters"},
	&cli.StringFlag{Name: "server-addr", Value: "127.0.0.1:8000", Usage: "Address of the TCP server"},
	&cli.IntFlag{Name: "threads", Value: 1, Usage: "Number of concurrent connections"},
	&cli.DurationFlag{Name: "runtime", Value: 10 * time.Second, Usage: "How long to generate load"},
	&cli.StringFlag{Name: "work", Value: "immediate", Usage: "Work per request: immediate, const:<us> or exp:<us>"},
	&cli.IntFlag{Name: "response-bytes", Usage: "Padding carried by every response"},
	&cli.StringFlag{Name: "out-dir", Usage: "Directory for latency and load files"},
	&cli.BoolFlag{Name: "progress", Usage: "Show a progress bar"},
	&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging"},
}

func main() {
	app := &cli.App{
		Name:  "client",
		Usage: "generate closed-loop or open-loop load against the server",
		Commands: []*cli.Command{
			{
				Name:  "closed",
				Usage: "send the next request only after the previous response",
				Flags: append([]cli.Flag{
					&cli.DurationFlag{Name: "timeout", Value: pbench.DefaultResponseTimeout, Usage: "Per-response timeout, 0 waits forever"},
				}, commonFlags...),
				Action: actionClosed,
			},
			{
				Name:  "open",
				Usage: "send requests on a fixed schedule regardless of responses",
				Flags: append([]cli.Flag{
					&cli.DurationFlag{Name: "interarrival", Value: time.Millisecond, Usage: "Interval between requests on one connection"},
					&cli.DurationFlag{Name: "drain-timeout", Value: pbench.DefaultDrainTimeout, Usage: "Read timeout of the response receiver"},
				}, commonFlags...),
				Action: actionOpen,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (Config, error) {
	var file *fileConfig
	if path := c.String("config"); path != "" {
		f, err := readConfig(path)
		if err != nil {
			return Config{}, fmt.Errorf("readConfig failed: %w", err)
		}
		file = f
	}
	conf, err := newConfig(resolve(c, file))
	if err != nil {
		return Config{}, err
	}
	conf.progress = c.Bool("progress")
	return conf, nil
}

func newConfig(raw rawConfig) (Config, error) {
	work, err := workload.Parse(raw.work)
	if err != nil {
		return Config{}, err
	}
	if work, err = work.WithPadding(raw.responseBytes); err != nil {
		return Config{}, err
	}
	return Config{
		addr:         raw.addr,
		threads:      raw.threads,
		runtime:      raw.runtime,
		work:         work,
		outDir:       raw.outDir,
		timeout:      raw.timeout,
		interarrival: raw.interarrival,
		drainTimeout: raw.drainTimeout,
	}, nil
}

func actionClosed(c *cli.Context) error {
	return start(c, func(ctx context.Context, conf Config) ([]pbench.ThreadResult, error) {
		return pbench.RunClosedLoop(ctx, pbench.ClosedLoopConfig{
			ServerAddress: conf.addr,
			Threads:       conf.threads,
			Runtime:       conf.runtime,
			Work:          conf.work,
			Timeout:       conf.timeout,
		})
	})
}

func actionOpen(c *cli.Context) error {
	return start(c, func(ctx context.Context, conf Config) ([]pbench.ThreadResult, error) {
		return pbench.RunOpenLoop(ctx, pbench.OpenLoopConfig{
			ServerAddress: conf.addr,
			Threads:       conf.threads,
			Interval:      conf.interarrival,
			Runtime:       conf.runtime,
			Work:          conf.work,
			DrainTimeout:  conf.drainTimeout,
		})
	})
}

type generator func(context.Context, Config) ([]pbench.ThreadResult, error)

func start(c *cli.Context, gen generator) error {
	flush, err := logging.Setup(c.Bool("debug"))
	if err != nil {
		return err
	}
	defer flush()

	conf, err := loadConfig(c)
	if err != nil {
		return err
	}
	zap.L().Info("starting",
		zap.String("mode", c.Command.Name),
		zap.String("config", fmt.Sprintf("%+v", conf)))

	if err := run(conf, gen); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func run(c Config, gen generator) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if c.progress {
		stop := showProgress(c.runtime)
		defer stop()
	}

	results, err := gen(ctx, c)
	if err != nil {
		return err
	}

	summary := pbench.Summarize(results)
	pbench.PrintSummary(os.Stdout, results, summary)

	if c.outDir == "" {
		return nil
	}
	if err := pbench.WriteResults(c.outDir, results, summary); err != nil {
		return fmt.Errorf("pbench.WriteResults failed: %w", err)
	}
	zap.L().Info("results written", zap.String("dir", c.outDir))
	return nil
}

// showProgress draws the elapsed share of the runtime until stop is called.
func showProgress(runtime time.Duration) (stop func()) {
	bar := pb.New(int(runtime / time.Millisecond)).Start()
	started := time.Now()
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				bar.SetCurrent(bar.Total()).Finish()
				return
			case <-ticker.C:
				elapsed := time.Since(started)
				if elapsed > runtime {
					elapsed = runtime
				}
				bar.SetCurrent(int64(elapsed / time.Millisecond))
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}
