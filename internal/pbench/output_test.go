package pbench

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResults() []ThreadResult {
	return []ThreadResult{
		{
			ID:       0,
			Attempts: 4,
			Elapsed:  2 * time.Second,
			Records: []LatencyRecord{
				{Latency: 30, SendTimestamp: 100, ProcessingTime: 10, RecvTimestamp: 130},
				{Latency: 25, SendTimestamp: 200, ProcessingTime: 11, RecvTimestamp: 225},
			},
		},
		{
			ID:       1,
			Attempts: 1,
			Elapsed:  time.Second,
			Records: []LatencyRecord{
				{Latency: 40, SendTimestamp: 150, ProcessingTime: 12, RecvTimestamp: 190},
			},
		},
	}
}

func TestWriteLatencies(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLatencies(&buf, sampleResults()))
	assert.Equal(t, "30 100 10 130\n25 200 11 225\n40 150 12 190\n", buf.String())

	records, err := ReadLatencies(&buf)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, sampleResults()[1].Records[0], records[2])
}

func TestReadLatenciesBadLine(t *testing.T) {
	_, err := ReadLatencies(strings.NewReader("1 2 3 4\n1 2 x 4\n"))
	assert.ErrorContains(t, err, "line 2")

	_, err = ReadLatencies(strings.NewReader("1 2 3\n"))
	assert.ErrorContains(t, err, "bad line")
}

func TestWriteLoads(t *testing.T) {
	results := sampleResults()
	var buf bytes.Buffer
	require.NoError(t, WriteLoads(&buf, results, Summarize(results)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "0 2.00", lines[0])
	assert.Equal(t, "1 1.00", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "aggregate 3.33 "), lines[2])
}

func TestWriteResults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	results := sampleResults()
	require.NoError(t, WriteResults(dir, results, Summarize(results)))

	latencies, err := os.ReadFile(filepath.Join(dir, "2_latencies.txt"))
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(latencies), "\n"))

	loads, err := os.ReadFile(filepath.Join(dir, "2_loads.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(loads), "aggregate")
}

func TestPrintSummary(t *testing.T) {
	results := sampleResults()
	var buf bytes.Buffer
	PrintSummary(&buf, results, Summarize(results))
	assert.Contains(t, buf.String(), "Total attempted requests: 5")
	assert.Contains(t, buf.String(), "Not enough samples")
}
