package transport

import (
	"fmt"
	"sync"
	"time"

	serial "github.com/allbin/go-serial"
)

// readChunk is the size of a single pull from the port by the pump goroutine.
const readChunk = 256

// serialChannel adapts a serial port to the Channel interface. A pump
// goroutine keeps draining the port into an internal queue so that
// Available can answer without blocking, mirroring pyserial's in_waiting.
type serialChannel struct {
	port    serial.Port
	timeout time.Duration

	mu      sync.Mutex
	pending []byte
	readErr error
	arrived chan struct{} // signalled (non-blocking) when pending grows
	closed  chan struct{}
}

// OpenSerial opens the serial port at the given baud rate. readTimeout bounds
// a single Read call; zero means wait forever.
func OpenSerial(portPath string, baud int, readTimeout time.Duration) (Channel, error) {
	opts := []serial.Option{serial.WithBaudRate(baud)}
	if readTimeout > 0 {
		opts = append(opts, serial.WithReadTimeout(readTimeout))
	}
	port, err := serial.Open(portPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portPath, err)
	}

	ch := &serialChannel{
		port:    port,
		timeout: readTimeout,
		arrived: make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
	go ch.pump()
	return ch, nil
}

func (c *serialChannel) pump() {
	buf := make([]byte, readChunk)
	for {
		n, err := c.port.Read(buf)
		c.mu.Lock()
		if n > 0 {
			c.pending = append(c.pending, buf[:n]...)
			select {
			case c.arrived <- struct{}{}:
			default:
			}
		}
		if err != nil {
			c.readErr = err
			c.mu.Unlock()
			select {
			case c.arrived <- struct{}{}:
			default:
			}
			return
		}
		c.mu.Unlock()

		select {
		case <-c.closed:
			return
		default:
		}
	}
}

// take moves up to len(p) pending bytes into p. The second return value is
// the stored pump error, surfaced only once the queue has drained.
func (c *serialChannel) take(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return 0, c.readErr
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *serialChannel) Read(p []byte) (int, error) {
	if n, err := c.take(p); n > 0 || err != nil {
		return n, err
	}

	var deadline <-chan time.Time
	if c.timeout > 0 {
		t := time.NewTimer(c.timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		select {
		case <-c.arrived:
			if n, err := c.take(p); n > 0 || err != nil {
				return n, err
			}
		case <-deadline:
			return 0, nil
		case <-c.closed:
			return 0, nil
		}
	}
}

func (c *serialChannel) Write(p []byte) (int, error) {
	return c.port.Write(p)
}

func (c *serialChannel) Available() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *serialChannel) SetDTR(on bool) error { return c.port.SetDTR(on) }
func (c *serialChannel) SetRTS(on bool) error { return c.port.SetRTS(on) }

func (c *serialChannel) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
		close(c.closed)
	}
	return c.port.Close()
}
