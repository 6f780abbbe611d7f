// Package device is the high-level client for one MicroPython board: it owns
// the framed transport for a session and exposes the filesystem, transfer,
// and console operations built on it.
package device

import (
	"io"
	"time"

	"github.com/mpsync/mpsync/internal/console"
	"github.com/mpsync/mpsync/internal/remotefs"
	"github.com/mpsync/mpsync/internal/repl"
	"github.com/mpsync/mpsync/internal/transfer"
	"github.com/mpsync/mpsync/internal/transport"
)

// resetSettle is how long the reset line is held asserted.
const resetSettle = 500 * time.Millisecond

// Device is one connected board. All methods must be called from a single
// goroutine: the protocol has no request IDs, so concurrent calls would
// corrupt framing.
type Device struct {
	ch      transport.Channel
	conn    *transport.Conn
	session *repl.Session
	fs      *remotefs.FS
	xfer    *transfer.Engine
}

// Open connects to the board on the given serial port. idleTimeout bounds
// each receive; zero means wait forever. logf receives progress/action lines
// and may be nil.
func Open(port string, baud int, idleTimeout time.Duration, logf func(string)) (*Device, error) {
	ch, err := transport.OpenSerial(port, baud, readSlice(idleTimeout))
	if err != nil {
		return nil, err
	}
	return New(ch, idleTimeout, logf), nil
}

// New builds a Device over an already-open channel, taking ownership of it.
func New(ch transport.Channel, idleTimeout time.Duration, logf func(string)) *Device {
	conn := transport.NewConn(ch, idleTimeout)
	session := repl.NewSession(conn)
	fs := remotefs.New(session, logf)
	return &Device{
		ch:      ch,
		conn:    conn,
		session: session,
		fs:      fs,
		xfer:    transfer.New(session, fs, logf),
	}
}

// readSlice bounds a single channel read. It must stay well under the idle
// timeout so the receive loop can check elapsed time between reads.
func readSlice(idleTimeout time.Duration) time.Duration {
	const slice = 100 * time.Millisecond
	if idleTimeout > 0 && idleTimeout < slice {
		return idleTimeout
	}
	return slice
}

// Reset hardware-resets the board into the interactive prompt by toggling
// the control lines (both active-low on ESP32-style boards) and waits for
// the prompt to come back.
func (d *Device) Reset() error {
	if err := d.ch.SetDTR(false); err != nil { // IO0 high: boot to firmware
		return err
	}
	if err := d.ch.SetRTS(true); err != nil { // EN low: chip in reset
		return err
	}
	time.Sleep(resetSettle)
	if err := d.ch.SetRTS(false); err != nil {
		return err
	}
	_, err := d.conn.Recv(transport.DefaultTerminator)
	return err
}

// Close releases the serial port.
func (d *Device) Close() error { return d.ch.Close() }

// Conn exposes the framed transport for console forwarding.
func (d *Device) Conn() *transport.Conn { return d.conn }

// FS exposes the remote filesystem operations.
func (d *Device) FS() *remotefs.FS { return d.fs }

// Transfer exposes the chunked upload/download engine.
func (d *Device) Transfer() *transfer.Engine { return d.xfer }

// Forward runs an interactive forwarding session between in/out and the
// board.
func (d *Device) Forward(in io.Reader, out io.Writer, opts console.Options) (restart bool, err error) {
	return console.Forward(d.conn, in, out, opts)
}
