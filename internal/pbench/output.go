package pbench

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LatenciesFile and LoadsFile name the files written for a run with the
// given number of threads.
func LatenciesFile(threads int) string { return fmt.Sprintf("%d_latencies.txt", threads) }
func LoadsFile(threads int) string     { return fmt.Sprintf("%d_loads.txt", threads) }

// WriteResults writes the latency and load files of a run into dir.
func WriteResults(dir string, results []ThreadResult, s Summary) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("os.MkdirAll failed: %w", err)
	}
	if err := writeFile(filepath.Join(dir, LatenciesFile(len(results))), func(w io.Writer) error {
		return WriteLatencies(w, results)
	}); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, LoadsFile(len(results))), func(w io.Writer) error {
		return WriteLoads(w, results, s)
	})
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("os.Create failed: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := write(w); err != nil {
		return fmt.Errorf("writing %s failed: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing %s failed: %w", path, err)
	}
	return f.Close()
}

// WriteLatencies writes one line per sample:
// latency send_timestamp server_processing_time recv_timestamp
func WriteLatencies(w io.Writer, results []ThreadResult) error {
	for _, r := range results {
		for _, rec := range r.Records {
			if _, err := fmt.Fprintf(w, "%d %d %d %d\n",
				rec.Latency,
				rec.SendTimestamp,
				rec.ProcessingTime,
				rec.RecvTimestamp,
			); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteLoads writes one "thread_id attempted_load" line per thread and a
// final "aggregate attempted_load median p95 p99" row.
func WriteLoads(w io.Writer, results []ThreadResult, s Summary) error {
	for _, r := range results {
		if _, err := fmt.Fprintf(w, "%d %.2f\n", r.ID, r.AttemptedLoad()); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "aggregate %.2f %.2f %.2f %.2f\n", s.AttemptedLoad, s.Median, s.P95, s.P99)
	return err
}

// ReadLatencies parses the format written by WriteLatencies.
func ReadLatencies(r io.Reader) ([]LatencyRecord, error) {
	var records []LatencyRecord
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		rec, err := parseLatencyLine(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func parseLatencyLine(text string) (LatencyRecord, error) {
	parts := strings.Fields(text)
	if len(parts) != 4 {
		return LatencyRecord{}, fmt.Errorf("bad line: %q", text)
	}
	var values [4]uint64
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return LatencyRecord{}, fmt.Errorf("bad value %q: %w", p, err)
		}
		values[i] = v
	}
	return LatencyRecord{
		Latency:        values[0],
		SendTimestamp:  values[1],
		ProcessingTime: values[2],
		RecvTimestamp:  values[3],
	}, nil
}

// PrintSummary writes a human readable report of a run.
func PrintSummary(w io.Writer, results []ThreadResult, s Summary) {
	for _, r := range results {
		fmt.Fprintf(w, "Thread %d: %d samples, %d attempts, attempted load %.2f req/s\n",
			r.ID, len(r.Records), r.Attempts, r.AttemptedLoad())
	}

	fmt.Fprintf(w, "\nAggregate Metrics:\n")
	fmt.Fprintf(w, "Total attempted requests: %d\n", s.TotalAttempts)
	fmt.Fprintf(w, "Total completed requests: %d\n", s.TotalSamples)
	fmt.Fprintf(w, "Attempted load: %.2f req/s\n", s.AttemptedLoad)
	fmt.Fprintf(w, "Average attempted load per thread: %.2f req/s\n", s.MeanThreadLoad)

	if s.SampledThreads == 0 {
		fmt.Fprintf(w, "\nNot enough samples for latency percentiles (need more than %d per thread)\n", WarmUp)
		return
	}
	fmt.Fprintf(w, "\nMean Aggregated Latencies (%d threads):\n", s.SampledThreads)
	fmt.Fprintf(w, "Median latency: %.2f us\n", s.Median)
	fmt.Fprintf(w, "95th percentile latency: %.2f us\n", s.P95)
	fmt.Fprintf(w, "99th percentile latency: %.2f us\n", s.P99)
}
