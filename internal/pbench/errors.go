package pbench

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

var (
	// ErrConnection is returned when a connection cannot be established.
	ErrConnection = errors.New("connection failed")
	// ErrDisconnected is returned when the peer closes the stream or a read
	// or write fails part way through a chunk.
	ErrDisconnected = errors.New("disconnected")
	// ErrProtocol is returned for a frame length of zero or above the limit.
	ErrProtocol = errors.New("protocol error")
	// ErrSerialization is returned when a payload cannot be encoded within
	// the frame limit or a received body cannot be decoded.
	ErrSerialization = errors.New("serialization error")
	// ErrTimeout is returned when a read deadline expires before any byte of
	// a chunk was received. The stream is still aligned on a frame boundary.
	ErrTimeout = errors.New("read timeout")
	// ErrBadConfig is returned by the generators for invalid parameters.
	ErrBadConfig = errors.New("bad configuration")
)

// IsTransient reports whether err leaves the connection usable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrSerialization)
}

// IsFatal reports whether err means the connection must be abandoned.
func IsFatal(err error) bool {
	return err != nil && !IsTransient(err)
}

// isBenign filters the ways a peer normally goes away so that handlers
// only log real failures.
func isBenign(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}
