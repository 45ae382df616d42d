package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/alarmfox/tcpbench/internal/logging"
	"github.com/alarmfox/tcpbench/internal/pbench"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	header = []string{
		"run",
		"threads",
		"samples",
		"throughput",
		"median_latency",
		"p95_latency",
		"p99_latency",
	}

	latencyFile = regexp.MustCompile(`^(\d+)_latencies\.txt$`)

	errNoSamples = errors.New("no samples")
)

type Config struct {
	inputDirectory string
	outputFile     string
	runtime        time.Duration
	concurrency    int
}

// Record summarises one latency file.
type Record struct {
	run        string
	threads    int
	samples    int
	throughput float64
	median     float64
	p95        float64
	p99        float64
}

func main() {
	app := &cli.App{
		Name:  "analyze",
		Usage: "summarise latency files of many runs into one CSV",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input-directory", Required: true, Usage: "Directory searched for <threads>_latencies.txt files"},
			&cli.StringFlag{Name: "output-file", Usage: "Output file, stdout when empty"},
			&cli.DurationFlag{Name: "runtime", Value: 20 * time.Second, Usage: "Runtime of every run, used for throughput"},
			&cli.IntFlag{Name: "concurrency", Value: 1, Usage: "Number of files to analyze concurrently"},
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
		inputDirectory: c.String("input-directory"),
		outputFile:     c.String("output-file"),
		runtime:        c.Duration("runtime"),
		concurrency:    c.Int("concurrency"),
	}
	if conf.concurrency < 1 {
		conf.concurrency = 1
	}
	if conf.runtime <= 0 {
		return fmt.Errorf("runtime must be positive, got %s", conf.runtime)
	}

	if err := run(conf); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func run(c Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	files, err := findLatencyFiles(c.inputDirectory)
	if err != nil {
		return err
	}

	records := make([]Record, len(files))
	ok := make([]bool, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			record, err := process(c.inputDirectory, file, c.runtime)
			if err != nil {
				zap.L().Warn("skipping file", zap.String("file", file), zap.Error(err))
				return nil
			}
			records[i], ok[i] = record, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var out []Record
	for i := range records {
		if ok[i] {
			out = append(out, records[i])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].run != out[j].run {
			return out[i].run < out[j].run
		}
		return out[i].threads < out[j].threads
	})

	var writer io.Writer = os.Stdout
	if c.outputFile != "" {
		f, err := os.Create(c.outputFile)
		if err != nil {
			return fmt.Errorf("os.Create failed: %w", err)
		}
		defer f.Close()
		writer = f
	}
	return writeCSV(writer, out)
}

func findLatencyFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && latencyFile.MatchString(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("filepath.WalkDir failed: %w", err)
	}
	return files, nil
}

// process computes the summary of one file. The run name is the directory
// of the file relative to root.
func process(root, file string, runtime time.Duration) (Record, error) {
	threads, err := strconv.Atoi(latencyFile.FindStringSubmatch(filepath.Base(file))[1])
	if err != nil {
		return Record{}, fmt.Errorf("bad thread count in %q: %w", file, err)
	}
	run, err := filepath.Rel(root, filepath.Dir(file))
	if err != nil {
		return Record{}, err
	}

	f, err := os.Open(file)
	if err != nil {
		return Record{}, fmt.Errorf("cannot open %q: %w", file, err)
	}
	defer f.Close()

	samples, err := pbench.ReadLatencies(f)
	if err != nil {
		return Record{}, fmt.Errorf("cannot parse %q: %w", file, err)
	}
	if len(samples) == 0 {
		return Record{}, errNoSamples
	}

	latencies := make([]float64, len(samples))
	for i, s := range samples {
		latencies[i] = float64(s.Latency)
	}
	sort.Float64s(latencies)

	return Record{
		run:        filepath.ToSlash(run),
		threads:    threads,
		samples:    len(samples),
		throughput: float64(len(samples)) / runtime.Seconds(),
		median:     quantile(0.5, latencies),
		p95:        quantile(0.95, latencies),
		p99:        quantile(0.99, latencies),
	}, nil
}

// quantile interpolates linearly between the closest ranks of sorted,
// placing quantile p at rank (n-1)p. The median of an even sample is the
// mean of the two middle values.
func quantile(p float64, sorted []float64) float64 {
	h := float64(len(sorted)-1) * p
	lo := sorted[int(math.Floor(h))]
	hi := sorted[int(math.Ceil(h))]
	return lo + (h-math.Floor(h))*(hi-lo)
}

func writeCSV(w io.Writer, records []Record) error {
	csvWriter := csv.NewWriter(w)

	if err := csvWriter.Write(header); err != nil {
		return err
	}
	for _, record := range records {
		row := []string{
			record.run,
			strconv.Itoa(record.threads),
			strconv.Itoa(record.samples),
			fmt.Sprintf("%.2f", record.throughput),
			fmt.Sprintf("%.2f", record.median),
			fmt.Sprintf("%.2f", record.p95),
			fmt.Sprintf("%.2f", record.p99),
		}
		if err := csvWriter.Write(row); err != nil {
			return err
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}
