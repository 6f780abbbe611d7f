package repl_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpsync/mpsync/internal/devicetest"
	"github.com/mpsync/mpsync/internal/repl"
	"github.com/mpsync/mpsync/internal/transport"
)

func newSession(t *testing.T) (*devicetest.Fake, *repl.Session) {
	t.Helper()
	fake := devicetest.New()
	conn := transport.NewConn(fake, 2*time.Second)
	return fake, repl.NewSession(conn)
}

func TestCallStripsEcho(t *testing.T) {
	fake, s := newSession(t)
	fake.AddFile("/boot.py", []byte("print('hi')\n"))

	out, err := s.Call("uos.stat('/boot.py')")
	require.NoError(t, err)
	assert.Equal(t, "(32768, 0, 0, 0, 0, 0, 12)", out)
}

func TestEvalDecodesAndImportsOnce(t *testing.T) {
	fake, s := newSession(t)
	fake.AddDir("/lib")

	v, err := s.Eval("uos.stat('/lib')")
	require.NoError(t, err)
	require.Equal(t, repl.KindTuple, v.Kind)
	require.Len(t, v.Items, 7)
	assert.Equal(t, int64(16384), v.Items[0].Int)

	// Second evaluation must not re-import (would fault on a device where
	// import has side effects; here we just check it still works).
	v, err = s.Eval("uos.stat('/lib')")
	require.NoError(t, err)
	assert.Equal(t, repl.KindTuple, v.Kind)
}

func TestEvalRemoteFault(t *testing.T) {
	_, s := newSession(t)

	_, err := s.Eval("uos.stat('/absent')")
	require.Error(t, err)
	var fault *repl.RemoteFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "OSError: [Errno 2] ENOENT", fault.Summary())
}

func TestExecIgnoresOutput(t *testing.T) {
	fake, s := newSession(t)
	require.NoError(t, s.Exec("import uos"))

	// Statements returning a value still succeed through Exec.
	fake.AddDir("/data")
	require.NoError(t, s.Exec("uos.stat('/data')"))
}

func TestRawModeTransitions(t *testing.T) {
	_, s := newSession(t)
	require.NoError(t, s.EnterRaw())
	require.NoError(t, s.ExitRaw())
}

func TestListDir(t *testing.T) {
	fake, s := newSession(t)
	fake.AddDir("/app")
	fake.AddFile("/app/main.py", []byte("12345"))
	fake.AddDir("/app/lib")

	entries, err := s.ListDir("/app")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "lib", entries[0].Name)
	assert.Equal(t, int64(16384), entries[0].Type)
	assert.Equal(t, "main.py", entries[1].Name)
	assert.Equal(t, int64(32768), entries[1].Type)
	assert.Equal(t, int64(5), entries[1].Size)
}

func TestListDirEmpty(t *testing.T) {
	fake, s := newSession(t)
	fake.AddDir("/empty")

	entries, err := s.ListDir("/empty")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListDirMissingPathFaults(t *testing.T) {
	_, s := newSession(t)

	_, err := s.ListDir("/nope")
	require.Error(t, err)
	var fault *repl.RemoteFault
	assert.ErrorAs(t, err, &fault)
}

// echolessChannel answers every executed block with a response that lacks the
// command echo, the shape of a connection that lost framing.
type echolessChannel struct {
	buf []byte
}

func (c *echolessChannel) Read(p []byte) (int, error) {
	if len(c.buf) == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

func (c *echolessChannel) Available() int { return len(c.buf) }

func (c *echolessChannel) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == transport.CtrlD {
			c.buf = append(c.buf, "garbage\r\n>>> "...)
		}
	}
	return len(p), nil
}

func (c *echolessChannel) SetDTR(on bool) error { return nil }
func (c *echolessChannel) SetRTS(on bool) error { return nil }
func (c *echolessChannel) Close() error         { return nil }

func TestCallMissingEchoIsDesync(t *testing.T) {
	conn := transport.NewConn(&echolessChannel{}, time.Second)
	s := repl.NewSession(conn)

	_, err := s.Call("print(1)")
	require.Error(t, err)
	assert.ErrorIs(t, err, repl.ErrDesync)
}

func TestListDirMissingHeaderIsDesync(t *testing.T) {
	conn := transport.NewConn(&echolessChannel{}, time.Second)
	s := repl.NewSession(conn)

	_, err := s.ListDir("/app")
	require.Error(t, err)
	assert.ErrorIs(t, err, repl.ErrDesync)
}
