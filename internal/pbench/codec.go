package pbench

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/vmihailenco/msgpack"
)

const (
	headerSize = 8

	// MaxRequestBytes bounds the encoded size of a WorkRequest.
	MaxRequestBytes = 1024
	// MaxResponseBytes bounds the encoded size of a WorkResponse, which may
	// carry a padded result.
	MaxResponseBytes = 64 * 1024
)

var (
	requestScratch  = newScratchPool(MaxRequestBytes)
	responseScratch = newScratchPool(MaxResponseBytes)

	errFrameTooLarge = errors.New("encoded payload exceeds frame limit")
)

// Codec sends and receives values of type T as length-prefixed msgpack
// frames: an 8 byte big-endian length followed by that many bytes.
//
// A Codec may be used by one sending goroutine and one receiving goroutine
// at the same time, never by two of either.
type Codec[T any] struct {
	ch      *Chunked
	limit   int
	scratch *scratchPool

	sendHeader [headerSize]byte
	recvHeader [headerSize]byte
}

// NewCodec returns a codec over conn rejecting frames larger than limit.
func NewCodec[T any](conn net.Conn, limit int) *Codec[T] {
	return newCodec[T](conn, limit, newScratchPool(limit))
}

func newCodec[T any](conn net.Conn, limit int, scratch *scratchPool) *Codec[T] {
	return &Codec[T]{
		ch:      NewChunked(conn),
		limit:   limit,
		scratch: scratch,
	}
}

// NewRequestCodec returns the codec for the client to server direction.
func NewRequestCodec(conn net.Conn) *Codec[WorkRequest] {
	return newCodec[WorkRequest](conn, MaxRequestBytes, requestScratch)
}

// NewResponseCodec returns the codec for the server to client direction.
func NewResponseCodec(conn net.Conn) *Codec[WorkResponse] {
	return newCodec[WorkResponse](conn, MaxResponseBytes, responseScratch)
}

// SetReadTimeout bounds the wait for the next frame header.
func (c *Codec[T]) SetReadTimeout(d time.Duration) error {
	return c.ch.SetReadTimeout(d)
}

// Interrupt aborts a blocked Send or Recv, see Chunked.Interrupt.
func (c *Codec[T]) Interrupt() error {
	return c.ch.Interrupt()
}

// Send encodes v and writes it as one frame. Nothing is written if v does
// not fit the frame limit.
func (c *Codec[T]) Send(v T) error {
	bp := c.scratch.Get()
	defer c.scratch.Put(bp)

	buf := &boundedBuffer{buf: *bp, limit: c.limit}
	if err := msgpack.NewEncoder(buf).Encode(&v); err != nil {
		return fmt.Errorf("%w: encode: %w", ErrSerialization, err)
	}
	*bp = buf.buf
	if len(buf.buf) == 0 {
		return fmt.Errorf("%w: empty payload", ErrSerialization)
	}

	binary.BigEndian.PutUint64(c.sendHeader[:], uint64(len(buf.buf)))
	if err := c.ch.SendChunk(c.sendHeader[:]); err != nil {
		return err
	}
	return c.ch.SendChunk(buf.buf)
}

// Recv reads one frame and decodes it. A header announcing zero bytes or
// more than the limit is rejected before any of the body is read.
func (c *Codec[T]) Recv() (T, error) {
	var v T

	if err := c.ch.RecvChunk(c.recvHeader[:]); err != nil {
		return v, err
	}
	n := binary.BigEndian.Uint64(c.recvHeader[:])
	if n == 0 || n > uint64(c.limit) {
		return v, fmt.Errorf("%w: frame length %d outside (0, %d]", ErrProtocol, n, c.limit)
	}

	bp := c.scratch.Get()
	defer c.scratch.Put(bp)
	body := (*bp)[:n]

	// the header is consumed, so the body must be read whatever the timeout
	for {
		err := c.ch.RecvChunk(body)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrTimeout) {
			return v, err
		}
	}

	if err := msgpack.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("%w: decode: %w", ErrSerialization, err)
	}
	return v, nil
}

// Close closes the underlying connection.
func (c *Codec[T]) Close() error {
	return c.ch.Close()
}

// boundedBuffer collects encoder output and fails once limit is exceeded.
type boundedBuffer struct {
	buf   []byte
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if len(b.buf)+len(p) > b.limit {
		return 0, errFrameTooLarge
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *boundedBuffer) WriteByte(c byte) error {
	_, err := b.Write([]byte{c})
	return err
}

func (b *boundedBuffer) WriteString(s string) (int, error) {
	return b.Write([]byte(s))
}
