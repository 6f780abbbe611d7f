package repl

import (
	"errors"
	"fmt"
	"strings"
)

// tracebackMarker flags an unhandled exception anywhere in a response.
const tracebackMarker = "Traceback (most recent call last):"

// ErrDesync means an expected framing marker (command echo, mode
// acknowledgment, listing header) was absent. The transport state is unknown
// at that point; there is no recovery.
var ErrDesync = errors.New("protocol desync")

// RemoteFault is an unhandled exception reported by the device. Text carries
// the full traceback as printed by the prompt.
type RemoteFault struct {
	Text string
}

func (e *RemoteFault) Error() string {
	return fmt.Sprintf("remote fault: %s", e.Summary())
}

// Summary returns the last non-empty line of the traceback, which is the
// exception message itself. Callers classify faults by matching known
// suffixes against it.
func (e *RemoteFault) Summary() string {
	lines := strings.Split(e.Text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimRight(lines[i], "\r"); line != "" {
			return line
		}
	}
	return ""
}
