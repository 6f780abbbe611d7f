// Package console forwards a local input/output stream pair to the device
// serial line: interactive sessions, script execution, and hot reload.
//
// The loop is a single-threaded 10ms tick over non-blocking readiness
// checks, so both directions and both timeout classes are serviced without
// blocking reads. Local input readiness comes from a pump goroutine feeding
// a bounded channel, since arbitrary io.Readers cannot be polled.
package console

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/mpsync/mpsync/internal/transport"
)

// pollInterval is one tick of the forwarding loop.
const pollInterval = 10 * time.Millisecond

// ErrAbsoluteTimeout is returned when the whole session exceeded its bound,
// as opposed to transport.ErrTimeout which covers idle gaps.
var ErrAbsoluteTimeout = errors.New("absolute timeout exceeded")

// Options configure one forwarding session.
type Options struct {
	// InEncoding names the text encoding of the input stream; empty means
	// raw bytes.
	InEncoding string
	// OutEncoding names the text encoding for the output stream; empty
	// means raw bytes.
	OutEncoding string
	// IdleTimeout bounds the gap between I/O activity. Zero means infinite.
	IdleTimeout time.Duration
	// AbsoluteTimeout bounds the whole session. Zero means infinite.
	AbsoluteTimeout time.Duration
	// PasteMode enters paste mode before forwarding so the input executes
	// as a pasted block rather than line by line.
	PasteMode bool
	// WholeInput reads the entire input up front instead of polling it.
	WholeInput bool
	// WatchPath, when set, names a local file whose modification makes
	// Forward return with restart=true.
	WatchPath string
	// Terminator, when set, stops forwarding once it appears in a chunk of
	// device output.
	Terminator []byte
}

// Forward connects in/out with the device until EOF drains, a terminator
// arrives, a timeout trips, or the watched file changes. restart=true means
// the watched file changed and the caller should reset the device, reopen
// the input, and call Forward again.
func Forward(conn *transport.Conn, in io.Reader, out io.Writer, opts Options) (restart bool, err error) {
	inEnc, err := lookupEncoding(opts.InEncoding)
	if err != nil {
		return false, err
	}
	outEnc, err := lookupEncoding(opts.OutEncoding)
	if err != nil {
		return false, err
	}

	var watch *fileWatch
	if opts.WatchPath != "" {
		if watch, err = newFileWatch(opts.WatchPath); err != nil {
			return false, err
		}
	}

	if opts.PasteMode {
		if err := conn.Send([]byte{transport.CtrlE}); err != nil {
			return false, err
		}
	}

	var sendbuf []byte
	eofReached := false
	pasteExited := false

	var inputCh chan []byte
	if opts.WholeInput {
		data, err := io.ReadAll(in)
		if err != nil {
			return false, err
		}
		if sendbuf, err = decode(inEnc, data); err != nil {
			return false, err
		}
		eofReached = true
	} else {
		inputCh = pumpInput(in)
	}

	ch := conn.Channel()
	started := time.Now()
	lastComm := started
	scratch := make([]byte, 4096)
	for {
		wasComm := false

		// Local input, when ready, joins the pending-send buffer.
		if inputCh != nil && !eofReached {
		drain:
			for {
				select {
				case data, ok := <-inputCh:
					if !ok {
						eofReached = true
						break drain
					}
					decoded, err := decode(inEnc, data)
					if err != nil {
						return false, err
					}
					sendbuf = append(sendbuf, decoded...)
					wasComm = true
				default:
					break drain
				}
			}
		}

		// Exactly one mode-exit byte terminates the stream after EOF.
		if eofReached && !pasteExited {
			sendbuf = append(sendbuf, transport.CtrlD)
			pasteExited = true
		}

		// Pending bytes go out as far as the channel accepts them.
		if len(sendbuf) > 0 {
			n, err := ch.Write(sendbuf)
			if err != nil {
				return false, err
			}
			sendbuf = sendbuf[n:]
			wasComm = true
		}

		// Device output forwards to out; a terminator in the chunk stops.
		// TODO: a terminator split across two reads is missed; carry a tail
		// of len(terminator)-1 bytes between ticks to close the gap.
		if avail := ch.Available(); avail > 0 {
			if avail > len(scratch) {
				avail = len(scratch)
			}
			n, err := ch.Read(scratch[:avail])
			if err != nil {
				return false, err
			}
			chunk := scratch[:n]
			if out != nil {
				decoded, err := decode(outEnc, chunk)
				if err != nil {
					return false, err
				}
				if _, err := out.Write(decoded); err != nil {
					return false, err
				}
				flush(out)
			}
			wasComm = true
			if len(opts.Terminator) > 0 && bytes.Contains(chunk, opts.Terminator) {
				return false, nil
			}
		}

		now := time.Now()
		if wasComm {
			lastComm = now
		}
		if opts.AbsoluteTimeout > 0 && now.Sub(started) > opts.AbsoluteTimeout {
			return false, ErrAbsoluteTimeout
		}
		if opts.IdleTimeout > 0 && now.Sub(lastComm) > opts.IdleTimeout {
			return false, transport.ErrTimeout
		}

		if watch != nil {
			changed, err := watch.changed()
			if err != nil {
				return false, err
			}
			if changed {
				return true, nil
			}
		}

		if !wasComm {
			time.Sleep(pollInterval)
		}
	}
}

// pumpInput reads in on a goroutine and delivers chunks over a channel,
// which the tick loop drains without blocking. The channel closes on EOF.
func pumpInput(in io.Reader) chan []byte {
	ch := make(chan []byte, 16)
	go func() {
		defer close(ch)
		buf := make([]byte, 4096)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				ch <- data
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}

// lookupEncoding resolves an IANA encoding name; empty means pass-through.
func lookupEncoding(name string) (encoding.Encoding, error) {
	if name == "" {
		return nil, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unknown encoding %q", name)
	}
	return enc, nil
}

// decode converts data from enc to UTF-8; nil enc passes bytes through.
func decode(enc encoding.Encoding, data []byte) ([]byte, error) {
	if enc == nil {
		return data, nil
	}
	return enc.NewDecoder().Bytes(data)
}

type flusher interface{ Flush() error }

func flush(w io.Writer) {
	if f, ok := w.(flusher); ok {
		_ = f.Flush()
	}
}
