package transport

import "io"

// Channel is the duplex byte stream a session runs over. A Channel is owned
// by exactly one Conn for the lifetime of a session; callers must serialize
// all use of it.
//
// Read is timeout-bounded and may return (0, nil) when nothing arrived within
// the channel's read timeout. Write may accept fewer bytes than requested.
type Channel interface {
	io.ReadWriteCloser

	// Available reports how many bytes can be read without blocking.
	Available() int

	// SetDTR and SetRTS drive the two control lines used to hardware-reset
	// the device. Both are active-low on ESP32-style boards.
	SetDTR(on bool) error
	SetRTS(on bool) error
}
