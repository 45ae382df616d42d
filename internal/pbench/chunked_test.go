package pbench

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trickleConn hands out at most one byte per Read and accepts at most
// three bytes per Write.
type trickleConn struct {
	net.Conn
}

func (c trickleConn) Read(b []byte) (int, error) {
	if len(b) > 1 {
		b = b[:1]
	}
	return c.Conn.Read(b)
}

func (c trickleConn) Write(b []byte) (int, error) {
	if len(b) > 3 {
		b = b[:3]
	}
	return c.Conn.Write(b)
}

func TestChunkedRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := []byte("the quick brown fox jumps over the lazy dog")
	errc := make(chan error, 1)
	go func() {
		errc <- NewChunked(client).SendChunk(payload)
	}()

	buf := make([]byte, len(payload))
	require.NoError(t, NewChunked(server).RecvChunk(buf))
	require.NoError(t, <-errc)
	assert.Equal(t, payload, buf)
}

func TestChunkedShortReadsAndWrites(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := make([]byte, 257)
	for i := range payload {
		payload[i] = byte(i)
	}
	errc := make(chan error, 1)
	go func() {
		errc <- NewChunked(trickleConn{client}).SendChunk(payload)
	}()

	buf := make([]byte, len(payload))
	require.NoError(t, NewChunked(trickleConn{server}).RecvChunk(buf))
	require.NoError(t, <-errc)
	assert.Equal(t, payload, buf)
}

func TestChunkedDisconnect(t *testing.T) {
	t.Run("before any byte", func(t *testing.T) {
		client, server := net.Pipe()
		defer server.Close()
		client.Close()

		err := NewChunked(server).RecvChunk(make([]byte, 8))
		assert.ErrorIs(t, err, ErrDisconnected)
		assert.ErrorIs(t, err, io.EOF)
		assert.True(t, IsFatal(err))
	})

	t.Run("mid chunk", func(t *testing.T) {
		client, server := net.Pipe()
		defer server.Close()
		go func() {
			client.Write([]byte{1, 2, 3})
			client.Close()
		}()

		err := NewChunked(server).RecvChunk(make([]byte, 8))
		assert.ErrorIs(t, err, ErrDisconnected)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("write to closed peer", func(t *testing.T) {
		client, server := net.Pipe()
		defer client.Close()
		server.Close()

		err := NewChunked(client).SendChunk([]byte{1})
		assert.ErrorIs(t, err, ErrDisconnected)
	})
}

func TestChunkedTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ch := NewChunked(server)
	require.NoError(t, ch.SetReadTimeout(20*time.Millisecond))

	err := ch.RecvChunk(make([]byte, 4))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsTransient(err))
}

func TestChunkedTimeoutMidChunkKeepsReading(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write([]byte{1, 2})
		time.Sleep(80 * time.Millisecond)
		client.Write([]byte{3, 4})
	}()

	ch := NewChunked(server)
	require.NoError(t, ch.SetReadTimeout(20*time.Millisecond))

	buf := make([]byte, 4)
	require.NoError(t, ch.RecvChunk(buf))
	assert.Equal(t, []byte{1, 2, 3, 4}, buf)
}

func TestChunkedDeadlineWithoutTimeoutIsFatal(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go client.Write([]byte{1, 2})

	ch := NewChunked(server)
	time.AfterFunc(50*time.Millisecond, func() {
		server.SetReadDeadline(time.Now())
	})

	err := ch.RecvChunk(make([]byte, 4))
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.False(t, IsTransient(err))
}

func TestChunkedInterrupt(t *testing.T) {
	for _, timeout := range []time.Duration{0, 20 * time.Millisecond} {
		timeout := timeout
		t.Run(timeout.String(), func(t *testing.T) {
			client, server := net.Pipe()
			defer client.Close()
			defer server.Close()

			go client.Write([]byte{1, 2})

			ch := NewChunked(server)
			require.NoError(t, ch.SetReadTimeout(timeout))
			time.AfterFunc(50*time.Millisecond, func() { ch.Interrupt() })

			done := make(chan error, 1)
			go func() { done <- ch.RecvChunk(make([]byte, 4)) }()

			select {
			case err := <-done:
				assert.ErrorIs(t, err, ErrDisconnected)
			case <-time.After(2 * time.Second):
				t.Fatal("RecvChunk did not return after Interrupt")
			}
		})
	}
}
