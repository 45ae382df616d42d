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
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

type Config struct {
	addr           string
	reportInterval time.Duration
}

func main() {
	app := &cli.App{
		Name:  "server",
		Usage: "serve framed work requests and report offered and achieved load",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen-addr", Value: "127.0.0.1:8000", Usage: "Listen address for TCP server"},
			&cli.DurationFlag{Name: "report-interval", Value: pbench.DefaultReportInterval, Usage: "Period between load reports, 0 to disable"},
			&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging"},
		},
		Action: action,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func action(c *cli.Context) error {
	flush, err := logging.Setup(c.Bool("debug"))
	if err != nil {
		return err
	}
	defer flush()

	conf := Config{
		addr:           c.String("listen-addr"),
		reportInterval: c.Duration("report-interval"),
	}
	zap.L().Info("starting", zap.String("config", fmt.Sprintf("%+v", conf)))

	if err := run(conf); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func run(c Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	server := pbench.NewServer(pbench.DoWork, c.reportInterval)
	return server.Start(ctx, c.addr)
}
