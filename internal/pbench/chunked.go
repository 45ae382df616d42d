package pbench

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"
)

// Chunked turns an ordered byte stream into whole chunks: a chunk is
// either written or read entirely, or an error is returned.
type Chunked struct {
	conn        net.Conn
	readTimeout time.Duration
	interrupted atomic.Bool
}

func NewChunked(conn net.Conn) *Chunked {
	return &Chunked{conn: conn}
}

// SetReadTimeout bounds how long RecvChunk waits for the first byte of a
// chunk. Zero disables the timeout.
func (c *Chunked) SetReadTimeout(d time.Duration) error {
	c.readTimeout = d
	if d == 0 {
		return c.conn.SetReadDeadline(time.Time{})
	}
	return nil
}

// SendChunk writes all of b.
func (c *Chunked) SendChunk(b []byte) error {
	for len(b) > 0 {
		n, err := c.conn.Write(b)
		b = b[n:]
		if err != nil {
			return fmt.Errorf("%w: write: %w", ErrDisconnected, err)
		}
	}
	return nil
}

// Interrupt makes pending and future reads and writes fail with
// ErrDisconnected. It is safe to call from another goroutine.
func (c *Chunked) Interrupt() error {
	c.interrupted.Store(true)
	return c.conn.SetDeadline(time.Now())
}

// RecvChunk fills buf completely. If a read timeout is set and it expires
// before the first byte arrives, ErrTimeout is returned and nothing was
// consumed. Once part of buf has been read, timeouts only refresh the
// deadline so that the stream never loses its alignment. A deadline that
// expires without a read timeout set, or after Interrupt, is fatal.
func (c *Chunked) RecvChunk(buf []byte) error {
	filled := 0
	for filled < len(buf) {
		if c.readTimeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
				return fmt.Errorf("%w: set deadline: %w", ErrDisconnected, err)
			}
		}

		n, err := c.conn.Read(buf[filled:])
		filled += n
		if err == nil || filled == len(buf) {
			continue
		}

		switch {
		case isTimeout(err) && (c.readTimeout == 0 || c.interrupted.Load()):
			return fmt.Errorf("%w: interrupted after %d of %d bytes: %w", ErrDisconnected, filled, len(buf), err)
		case isTimeout(err) && filled == 0:
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		case isTimeout(err):
			continue
		case errors.Is(err, io.EOF) && filled == 0:
			return fmt.Errorf("%w: %w", ErrDisconnected, io.EOF)
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: read %d of %d bytes: %w", ErrDisconnected, filled, len(buf), io.ErrUnexpectedEOF)
		default:
			return fmt.Errorf("%w: read: %w", ErrDisconnected, err)
		}
	}
	return nil
}

// Close closes the underlying connection.
func (c *Chunked) Close() error {
	return c.conn.Close()
}
