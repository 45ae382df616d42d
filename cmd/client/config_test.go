package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alarmfox/tcpbench/internal/workload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFlags mimics cli.Context: values holds defaults and set marks the
// flags given on the command line.
type fakeFlags struct {
	values map[string]interface{}
	set    map[string]bool
}

func (f fakeFlags) IsSet(name string) bool { return f.set[name] }

func (f fakeFlags) String(name string) string {
	s, _ := f.values[name].(string)
	return s
}

func (f fakeFlags) Int(name string) int {
	n, _ := f.values[name].(int)
	return n
}

func (f fakeFlags) Duration(name string) time.Duration {
	d, _ := f.values[name].(time.Duration)
	return d
}

func defaults() fakeFlags {
	return fakeFlags{
		values: map[string]interface{}{
			"server-addr":  "127.0.0.1:8000",
			"threads":      1,
			"runtime":      10 * time.Second,
			"work":         "immediate",
			"interarrival": time.Millisecond,
		},
		set: map[string]bool{},
	}
}

const sampleConfig = `
server_addr: "10.0.0.1:9000"
threads: 8
runtime: 20s
work: "const:50"
response_bytes: 256
out_dir: "data/open_loop/const50"
interarrival: 500us
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestReadConfig(t *testing.T) {
	f, err := readConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:9000", f.ServerAddr)
	assert.Equal(t, 8, f.Threads)
	assert.Equal(t, 20*time.Second, f.Runtime)
	assert.Equal(t, 500*time.Microsecond, f.Interarrival)

	_, err = readConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = readConfig(writeConfig(t, "threads: [1, 2"))
	assert.Error(t, err)
}

func TestResolveFlagsOverrideFile(t *testing.T) {
	f, err := readConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	flags := defaults()
	flags.values["threads"] = 2
	flags.set["threads"] = true

	raw := resolve(flags, f)
	assert.Equal(t, 2, raw.threads)
	assert.Equal(t, "10.0.0.1:9000", raw.addr)
	assert.Equal(t, 20*time.Second, raw.runtime)
	assert.Equal(t, "data/open_loop/const50", raw.outDir)

	conf, err := newConfig(raw)
	require.NoError(t, err)
	assert.Equal(t, workload.Work{Kind: workload.Const, Micros: 50, ResponseBytes: 256}, conf.work)
}

func TestResolveWithoutFile(t *testing.T) {
	raw := resolve(defaults(), nil)
	assert.Equal(t, "127.0.0.1:8000", raw.addr)
	assert.Equal(t, 1, raw.threads)
	assert.Equal(t, time.Millisecond, raw.interarrival)

	conf, err := newConfig(raw)
	require.NoError(t, err)
	assert.Equal(t, workload.Work{Kind: workload.Immediate}, conf.work)
}

func TestNewConfigBadWork(t *testing.T) {
	_, err := newConfig(rawConfig{work: "sleep:10"})
	assert.ErrorIs(t, err, workload.ErrUnknownKind)

	_, err = newConfig(rawConfig{work: "immediate", responseBytes: -1})
	assert.ErrorIs(t, err, workload.ErrTooMuchPadding)
}
