// Package transport implements the byte-level framing used to talk to a
// MicroPython prompt over a serial line. There are no message boundaries on
// the wire; a response frame ends when a known terminator substring shows up.
package transport

import (
	"bytes"
	"errors"
	"fmt"
	"time"
)

// Control bytes understood by the MicroPython REPL.
const (
	CtrlA = 0x01 // enter raw mode
	CtrlB = 0x02 // exit raw mode / interrupt
	CtrlC = 0x03 // keyboard interrupt
	CtrlD = 0x04 // exit paste mode / soft reset when idle in raw mode
	CtrlE = 0x05 // enter paste mode
)

// EOL is the line terminator the prompt expects and emits.
var EOL = []byte("\r\n")

// DefaultTerminator marks the end of a response: the prompt printed after a
// command finishes.
var DefaultTerminator = []byte("\r\n>>> ")

// ErrTimeout is returned by Recv when the terminator did not appear within
// the configured idle timeout.
var ErrTimeout = errors.New("timed out waiting for terminator")

// Conn frames the raw byte stream of a Channel. Received bytes accumulate in
// an internal buffer; Recv consumes a prefix up to and including a terminator
// and leaves the rest for the next call.
type Conn struct {
	ch      Channel
	timeout time.Duration // idle bound for one Recv call; 0 means infinite
	buf     []byte
}

// NewConn wraps a Channel. The Conn takes exclusive ownership of the channel.
func NewConn(ch Channel, idleTimeout time.Duration) *Conn {
	return &Conn{ch: ch, timeout: idleTimeout}
}

// Channel exposes the underlying byte stream for callers that need raw
// streaming (the interactive forwarder). Any framing state in the Conn is
// bypassed, so the buffer must be empty when switching to raw use.
func (c *Conn) Channel() Channel { return c.ch }

// Timeout reports the configured idle timeout.
func (c *Conn) Timeout() time.Duration { return c.timeout }

// Send writes all of data to the channel, re-issuing writes on partial
// acceptance until the full payload is flushed.
func (c *Conn) Send(data []byte) error {
	for idx := 0; idx < len(data); {
		n, err := c.ch.Write(data[idx:])
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
		idx += n
	}
	return nil
}

// Recv reads until terminator occurs in the accumulated buffer and returns
// everything before it. The terminator and the returned prefix are removed
// from the buffer; bytes after the terminator are kept for the next call.
// The idle timeout is measured from the start of this call, not per read, so
// a terminator split across reads is matched once the buffer catches up.
func (c *Conn) Recv(terminator []byte) ([]byte, error) {
	started := time.Now()
	scratch := make([]byte, readChunk)
	for !bytes.Contains(c.buf, terminator) {
		n, err := c.ch.Read(scratch)
		if err != nil {
			return nil, fmt.Errorf("recv: %w", err)
		}
		c.buf = append(c.buf, scratch[:n]...)
		if c.timeout > 0 && time.Since(started) > c.timeout {
			return nil, ErrTimeout
		}
	}

	idx := bytes.Index(c.buf, terminator)
	chunk := c.buf[:idx]
	c.buf = c.buf[idx+len(terminator):]
	return chunk, nil
}
