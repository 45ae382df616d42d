package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// fileConfig is the optional YAML run description. Flags given on the
// command line take precedence over it.
type fileConfig struct {
	ServerAddr    string        `yaml:"server_addr"`
	Threads       int           `yaml:"threads"`
	Runtime       time.Duration `yaml:"runtime"`
	Work          string        `yaml:"work"`
	ResponseBytes int           `yaml:"response_bytes"`
	OutDir        string        `yaml:"out_dir"`
	Timeout       time.Duration `yaml:"timeout"`
	Interarrival  time.Duration `yaml:"interarrival"`
	DrainTimeout  time.Duration `yaml:"drain_timeout"`
}

func readConfig(path string) (*fileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("os.Open failed: %w", err)
	}
	defer f.Close()

	conf := &fileConfig{}
	if err := yaml.NewDecoder(f).Decode(conf); err != nil {
		return nil, fmt.Errorf("yaml.NewDecoder.Decode failed: %w", err)
	}
	return conf, nil
}

// flagValues is the subset of cli.Context used to merge a fileConfig.
type flagValues interface {
	IsSet(name string) bool
	String(name string) string
	Int(name string) int
	Duration(name string) time.Duration
}

// resolve merges the command line flags with f, which may be nil.
func resolve(flags flagValues, f *fileConfig) rawConfig {
	if f == nil {
		f = &fileConfig{}
	}
	return rawConfig{
		addr:          pickString(flags, "server-addr", f.ServerAddr),
		threads:       pickInt(flags, "threads", f.Threads),
		runtime:       pickDuration(flags, "runtime", f.Runtime),
		work:          pickString(flags, "work", f.Work),
		responseBytes: pickInt(flags, "response-bytes", f.ResponseBytes),
		outDir:        pickString(flags, "out-dir", f.OutDir),
		timeout:       pickDuration(flags, "timeout", f.Timeout),
		interarrival:  pickDuration(flags, "interarrival", f.Interarrival),
		drainTimeout:  pickDuration(flags, "drain-timeout", f.DrainTimeout),
	}
}

func pickString(flags flagValues, name, fromFile string) string {
	if flags.IsSet(name) || fromFile == "" {
		return flags.String(name)
	}
	return fromFile
}

func pickInt(flags flagValues, name string, fromFile int) int {
	if flags.IsSet(name) || fromFile == 0 {
		return flags.Int(name)
	}
	return fromFile
}

func pickDuration(flags flagValues, name string, fromFile time.Duration) time.Duration {
	if flags.IsSet(name) || fromFile == 0 {
		return flags.Duration(name)
	}
	return fromFile
}
