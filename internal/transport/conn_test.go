package transport

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptChannel feeds pre-split read chunks and records writes. writeLimit
// caps the bytes accepted per Write call to exercise the partial-write loop.
type scriptChannel struct {
	reads      [][]byte
	written    bytes.Buffer
	writeLimit int
}

func (c *scriptChannel) Read(p []byte) (int, error) {
	if len(c.reads) == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	n := copy(p, c.reads[0])
	if n < len(c.reads[0]) {
		c.reads[0] = c.reads[0][n:]
	} else {
		c.reads = c.reads[1:]
	}
	return n, nil
}

func (c *scriptChannel) Write(p []byte) (int, error) {
	n := len(p)
	if c.writeLimit > 0 && n > c.writeLimit {
		n = c.writeLimit
	}
	c.written.Write(p[:n])
	return n, nil
}

func (c *scriptChannel) Available() int       { return 0 }
func (c *scriptChannel) SetDTR(on bool) error { return nil }
func (c *scriptChannel) SetRTS(on bool) error { return nil }
func (c *scriptChannel) Close() error         { return nil }

// splitBytes cuts data into chunks at the given boundaries.
func splitBytes(data []byte, at ...int) [][]byte {
	var chunks [][]byte
	prev := 0
	for _, i := range at {
		chunks = append(chunks, data[prev:i])
		prev = i
	}
	return append(chunks, data[prev:])
}

func TestRecvChunkBoundaryIndependent(t *testing.T) {
	payload := []byte("hello world\r\n>>> trailing")
	term := []byte("\r\n>>> ")

	// Every split point, including ones cutting through the terminator.
	for at := 1; at < len(payload)-1; at++ {
		ch := &scriptChannel{reads: splitBytes(payload, at)}
		conn := NewConn(ch, time.Second)

		got, err := conn.Recv(term)
		require.NoError(t, err, "split at %d", at)
		assert.Equal(t, []byte("hello world"), got, "split at %d", at)
	}
}

func TestRecvRetainsBytesAfterTerminator(t *testing.T) {
	ch := &scriptChannel{reads: [][]byte{[]byte("one\r\n>>> two\r\n>>> three")}}
	conn := NewConn(ch, time.Second)

	first, err := conn.Recv(DefaultTerminator)
	require.NoError(t, err)
	assert.Equal(t, "one", string(first))

	second, err := conn.Recv(DefaultTerminator)
	require.NoError(t, err)
	assert.Equal(t, "two", string(second))
}

func TestRecvTimeout(t *testing.T) {
	ch := &scriptChannel{reads: [][]byte{[]byte("never terminated")}}
	conn := NewConn(ch, 50*time.Millisecond)

	started := time.Now()
	_, err := conn.Recv(DefaultTerminator)
	elapsed := time.Since(started)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond, "timed out before the idle bound")
	assert.Less(t, elapsed, 500*time.Millisecond, "timed out far beyond the idle bound")
}

func TestRecvInfiniteTimeoutWaits(t *testing.T) {
	ch := &scriptChannel{reads: [][]byte{
		[]byte("slow"),
		[]byte(" answer\r\n"),
		[]byte(">>> "),
	}}
	conn := NewConn(ch, 0)

	got, err := conn.Recv(DefaultTerminator)
	require.NoError(t, err)
	assert.Equal(t, "slow answer", string(got))
}

func TestSendLoopsOverPartialWrites(t *testing.T) {
	ch := &scriptChannel{writeLimit: 3}
	conn := NewConn(ch, time.Second)

	payload := []byte("0123456789abcdef")
	require.NoError(t, conn.Send(payload))
	assert.Equal(t, payload, ch.written.Bytes())
}
