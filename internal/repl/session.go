// Package repl drives the MicroPython interactive prompt as an ad-hoc RPC
// channel. A small mode state machine (normal/raw/paste) sits on top of the
// framed transport; single commands run through paste mode, and printed
// results come back as Python literals.
package repl

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mpsync/mpsync/internal/transport"
)

// Mode acknowledgment strings printed by the device.
const (
	rawModeAck  = "raw REPL; CTRL-B to exit\r\n"
	rawExitAck  = "OK\r\n"
	uosImport   = "import uos"
	listHeader  = "print(i)\r\n=== \n"
	listSnippet = "for i in uos.ilistdir(%s):\r\n    print(i)\r\n"
)

// DirEntry is one raw directory entry as printed by uos.ilistdir: a tuple of
// (name, type, inode[, size]). Type carries the stat bits unchanged.
type DirEntry struct {
	Name  string
	Type  int64
	Inode int64
	Size  int64
}

// Session issues commands over one Conn. The device mode is not tracked
// implicitly: every transition is an explicit call, and RunLine wraps each
// command in its own enter/exit paste pair.
type Session struct {
	conn        *transport.Conn
	uosImported bool // one import per connection
}

// NewSession wraps a framed transport.
func NewSession(conn *transport.Conn) *Session {
	return &Session{conn: conn}
}

// Conn exposes the underlying framed transport.
func (s *Session) Conn() *transport.Conn { return s.conn }

// EnterRaw switches the prompt to raw mode and waits for the acknowledgment
// banner. A missing banner is fatal: the device did not switch.
func (s *Session) EnterRaw() error {
	if err := s.conn.Send([]byte{transport.CtrlA}); err != nil {
		return err
	}
	if _, err := s.conn.Recv([]byte(rawModeAck)); err != nil {
		return fmt.Errorf("enter raw mode: %w", err)
	}
	return nil
}

// ExitRaw leaves raw mode.
func (s *Session) ExitRaw() error {
	if err := s.conn.Send([]byte{transport.CtrlB}); err != nil {
		return err
	}
	if _, err := s.conn.Recv([]byte(rawExitAck)); err != nil {
		return fmt.Errorf("exit raw mode: %w", err)
	}
	return nil
}

// EnterPaste starts paste mode. No response is awaited; the caller supplies
// the terminator on the next receive.
func (s *Session) EnterPaste() error {
	return s.conn.Send([]byte{transport.CtrlE})
}

// ExitPaste ends paste mode, which makes the device execute the pasted block.
func (s *Session) ExitPaste() error {
	return s.conn.Send([]byte{transport.CtrlD})
}

// RunLine sends one line of source through paste mode and receives the
// response up to terminator. With expectEcho the echoed command prefix is
// asserted and stripped; its absence means the framing is lost. A traceback
// anywhere in the decoded text becomes a RemoteFault.
func (s *Session) RunLine(command string, terminator []byte, expectEcho bool) (string, error) {
	cmd := []byte(command)
	if !bytes.HasSuffix(cmd, transport.EOL) {
		cmd = append(cmd, transport.EOL...)
	}

	if err := s.EnterPaste(); err != nil {
		return "", err
	}
	if err := s.conn.Send(cmd); err != nil {
		return "", err
	}
	if err := s.ExitPaste(); err != nil {
		return "", err
	}

	result, err := s.conn.Recv(terminator)
	if err != nil {
		return "", err
	}
	if expectEcho {
		if !bytes.HasPrefix(result, cmd) {
			return "", fmt.Errorf("%w: command echo missing in %q", ErrDesync, result)
		}
		result = result[len(cmd):]
	}
	text := string(result)
	if strings.Contains(text, tracebackMarker) {
		return "", &RemoteFault{Text: text}
	}
	return text, nil
}

// Call runs a single command with the default prompt terminator and echo
// checking, returning the printed output.
func (s *Session) Call(command string) (string, error) {
	return s.RunLine(command, transport.DefaultTerminator, true)
}

// callQuiet runs a command whose echo is not asserted (used for statements
// with no printed value, where the echo still ends up in the frame but its
// exact shape does not matter).
func (s *Session) callQuiet(command string) (string, error) {
	return s.RunLine(command, transport.DefaultTerminator, false)
}

// Exec runs a statement for effect, ignoring its output.
func (s *Session) Exec(command string) error {
	_, err := s.callQuiet(command)
	return err
}

// Eval runs an expression and decodes its printed repr as a literal value.
// The uos module is imported once per session before the first evaluation.
func (s *Session) Eval(expression string) (Value, error) {
	if !s.uosImported {
		if err := s.Exec(uosImport); err != nil {
			return Value{}, err
		}
		s.uosImported = true
	}
	out, err := s.Call(expression)
	if err != nil {
		return Value{}, err
	}
	return Parse(out)
}

// ListDir runs a remote loop printing one ilistdir tuple per line and decodes
// the entries. The echoed loop header must be present (protocol sync check),
// and the blank line that follows it is skipped.
func (s *Session) ListDir(path string) ([]DirEntry, error) {
	if err := s.EnterPaste(); err != nil {
		return nil, err
	}
	snippet := fmt.Sprintf(listSnippet, Quote(path))
	if err := s.conn.Send([]byte(snippet)); err != nil {
		return nil, err
	}
	if err := s.ExitPaste(); err != nil {
		return nil, err
	}
	output, err := s.conn.Recv(transport.DefaultTerminator)
	if err != nil {
		return nil, err
	}

	idx := bytes.Index(output, []byte(listHeader))
	if idx < 0 {
		return nil, fmt.Errorf("%w: listing header missing in %q", ErrDesync, output)
	}
	text := string(output[idx+len(listHeader):])
	if strings.Contains(text, tracebackMarker) {
		return nil, &RemoteFault{Text: text}
	}

	var entries []DirEntry
	for lidx, line := range strings.Split(text, "\r\n") {
		if lidx == 0 {
			if line != "" {
				return nil, fmt.Errorf("%w: expected blank line after listing header, got %q", ErrDesync, line)
			}
			continue
		}
		entry, err := parseDirEntry(strings.TrimSpace(line))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseDirEntry(line string) (DirEntry, error) {
	v, err := Parse(line)
	if err != nil {
		return DirEntry{}, err
	}
	if v.Kind != KindTuple || len(v.Items) < 2 {
		return DirEntry{}, &DecodeError{Text: line, Reason: "directory entry is not a tuple of at least (name, type)"}
	}
	name := v.Items[0]
	typ := v.Items[1]
	if name.Kind != KindStr || typ.Kind != KindInt {
		return DirEntry{}, &DecodeError{Text: line, Reason: "directory entry fields have unexpected types"}
	}
	entry := DirEntry{Name: name.Str, Type: typ.Int}
	if len(v.Items) > 2 && v.Items[2].Kind == KindInt {
		entry.Inode = v.Items[2].Int
	}
	if len(v.Items) > 3 && v.Items[3].Kind == KindInt {
		entry.Size = v.Items[3].Int
	}
	return entry, nil
}
