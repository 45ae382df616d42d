// Package workload describes the opaque work a server performs for each
// request and how long it takes.
package workload

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

type Kind uint8

const (
	Immediate Kind = iota
	Const
	Exp
)

var (
	ErrUnknownKind    = errors.New("unknown work kind")
	ErrBadDuration    = errors.New("bad work duration")
	ErrMissingMicros  = errors.New("work kind requires a duration")
	ErrTooMuchPadding = errors.New("response padding too large")
)

// MaxResponseBytes bounds the padding a single response may carry.
const MaxResponseBytes = 60 * 1024

// Work is sent along with every request. Micros is the fixed (Const) or
// mean (Exp) processing time. ResponseBytes pads the response result.
type Work struct {
	Kind          Kind   `msgpack:"k"`
	Micros        uint64 `msgpack:"us,omitempty"`
	ResponseBytes uint32 `msgpack:"rb,omitempty"`
}

func (k Kind) String() string {
	switch k {
	case Immediate:
		return "immediate"
	case Const:
		return "const"
	case Exp:
		return "exp"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (w Work) String() string {
	if w.Kind == Immediate {
		return w.Kind.String()
	}
	return fmt.Sprintf("%s:%d", w.Kind, w.Micros)
}

// Parse reads a work descriptor such as "immediate", "const:10" or "exp:50".
// Durations are in microseconds.
func Parse(s string) (Work, error) {
	name, arg, hasArg := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")

	var w Work
	switch name {
	case "immediate", "":
		w.Kind = Immediate
		return w, nil
	case "const":
		w.Kind = Const
	case "exp":
		w.Kind = Exp
	default:
		return Work{}, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}

	if !hasArg {
		return Work{}, fmt.Errorf("%w: %q", ErrMissingMicros, s)
	}
	us, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return Work{}, fmt.Errorf("%w %q: %v", ErrBadDuration, arg, err)
	}
	w.Micros = us
	return w, nil
}

// WithPadding returns a copy of w whose responses carry n padding bytes.
func (w Work) WithPadding(n int) (Work, error) {
	if n < 0 || n > MaxResponseBytes {
		return Work{}, fmt.Errorf("%w: %d", ErrTooMuchPadding, n)
	}
	w.ResponseBytes = uint32(n)
	return w, nil
}

// Duration returns how long one execution of w should take.
func (w Work) Duration() time.Duration {
	switch w.Kind {
	case Const:
		return time.Duration(w.Micros) * time.Microsecond
	case Exp:
		if w.Micros == 0 {
			return 0
		}
		exp := distuv.Exponential{Rate: 1 / float64(w.Micros)}
		return time.Duration(exp.Rand() * float64(time.Microsecond))
	default:
		return 0
	}
}

// Run performs w and returns the result to ship back to the client.
// It spins instead of sleeping: timer resolution is far coarser than the
// microsecond durations being simulated.
func Run(w Work) []byte {
	if d := w.Duration(); d > 0 {
		deadline := time.Now().Add(d)
		for time.Now().Before(deadline) {
		}
	}
	if w.ResponseBytes == 0 {
		return nil
	}
	return make([]byte, w.ResponseBytes)
}
