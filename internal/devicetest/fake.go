// Package devicetest emulates a MicroPython board behind the
// transport.Channel interface: paste-mode echo, prompt terminators, an
// in-memory filesystem, and the uos/file snippets the client emits. Tests
// across the repo drive the real protocol stack against it.
package devicetest

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mpsync/mpsync/internal/repl"
	"github.com/mpsync/mpsync/internal/transport"
)

const prompt = "\r\n>>> "

const enoentTraceback = "Traceback (most recent call last):\r\n" +
	"  File \"<stdin>\", line 1, in <module>\r\n" +
	"OSError: [Errno 2] ENOENT"

const eexistTraceback = "Traceback (most recent call last):\r\n" +
	"  File \"<stdin>\", line 1, in <module>\r\n" +
	"OSError: [Errno 17] EEXIST"

// Node is one entry of the fake filesystem.
type Node struct {
	IsDir bool
	Data  []byte
}

// Fake is a scripted responder. The zero value is not usable; call New.
type Fake struct {
	mu      sync.Mutex
	readBuf []byte
	pending []byte // pasted block accumulated until CTRL-D
	rts     bool

	// AcceptLimit caps how many bytes one remote write call accepts,
	// emulating a device that takes fewer bytes than offered. 0 means all.
	AcceptLimit int
	// WriteLimit caps how many bytes one channel Write accepts, exercising
	// the partial-write loop in Send. 0 means all.
	WriteLimit int

	// Resets counts hardware resets observed via the control lines.
	Resets int

	nodes    map[string]*Node
	openPath string // target of _fout / _fin
	openOff  int
}

// New builds a fake with an empty filesystem (just the root).
func New() *Fake {
	return &Fake{nodes: map[string]*Node{}}
}

// AddFile seeds a file, creating ancestor directories implicitly.
func (f *Fake) AddFile(path string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addAncestors(path)
	f.nodes[path] = &Node{Data: append([]byte(nil), data...)}
}

// AddDir seeds a directory.
func (f *Fake) AddDir(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addAncestors(path)
	f.nodes[path] = &Node{IsDir: true}
}

func (f *Fake) addAncestors(path string) {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i := 1; i < len(parts); i++ {
		p := "/" + strings.Join(parts[:i], "/")
		if _, ok := f.nodes[p]; !ok {
			f.nodes[p] = &Node{IsDir: true}
		}
	}
}

// Node returns the node at path, or nil.
func (f *Fake) Node(path string) *Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodes[path]
}

// Paths returns all node paths in sorted order.
func (f *Fake) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	paths := make([]string, 0, len(f.nodes))
	for p := range f.nodes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Channel interface.

func (f *Fake) Read(p []byte) (int, error) {
	f.mu.Lock()
	if len(f.readBuf) == 0 {
		f.mu.Unlock()
		// Nothing buffered; back off briefly like a real timeout-bounded read.
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	defer f.mu.Unlock()
	n := copy(p, f.readBuf)
	f.readBuf = f.readBuf[n:]
	return n, nil
}

func (f *Fake) Available() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.readBuf)
}

func (f *Fake) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(p)
	if f.WriteLimit > 0 && n > f.WriteLimit {
		n = f.WriteLimit
	}
	for _, b := range p[:n] {
		switch b {
		case transport.CtrlE:
			f.pending = f.pending[:0]
		case transport.CtrlD:
			f.execute()
		case transport.CtrlA:
			f.respond("raw REPL; CTRL-B to exit\r\n")
		case transport.CtrlB:
			f.respond("OK\r\n")
		default:
			f.pending = append(f.pending, b)
		}
	}
	return n, nil
}

func (f *Fake) SetDTR(on bool) error { return nil }

func (f *Fake) SetRTS(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rts && !on {
		// Releasing the reset line boots the firmware: banner plus prompt.
		f.Resets++
		f.pending = f.pending[:0]
		f.respond("MicroPython v1.19.1 on fake-board" + prompt)
	}
	f.rts = on
	return nil
}

func (f *Fake) Close() error { return nil }

func (f *Fake) respond(s string) {
	f.readBuf = append(f.readBuf, s...)
}

var (
	statRe   = regexp.MustCompile(`^uos\.stat\((.+)\)$`)
	removeRe = regexp.MustCompile(`^uos\.remove\((.+)\) or True$`)
	rmdirRe  = regexp.MustCompile(`^uos\.rmdir\((.+)\) or True$`)
	mkdirRe  = regexp.MustCompile(`^uos\.mkdir\((.+)\) or True$`)
	listRe   = regexp.MustCompile(`^for i in uos\.ilistdir\((.+)\):$`)
	foutRe   = regexp.MustCompile(`^_fout = open\((.+),'wb\+'\)$`)
	writeRe  = regexp.MustCompile(`^_fout\.write\((.+)\)$`)
	finRe    = regexp.MustCompile(`^_fin = open\((.+),'rb'\)$`)
	readRe   = regexp.MustCompile(`^_fin\.read\((\d+)\)$`)
)

// execute runs the pasted block and queues echo + output + prompt, which is
// exactly what the prompt prints after CTRL-D.
func (f *Fake) execute() {
	echo := string(f.pending)
	f.pending = f.pending[:0]

	lines := strings.Split(strings.TrimSuffix(echo, "\r\n"), "\r\n")
	if m := listRe.FindStringSubmatch(lines[0]); m != nil {
		f.respond(echo + "=== \n" + f.listing(m[1]) + prompt)
		return
	}
	f.respond(echo + f.run(lines[0]) + prompt)
}

// listing renders ilistdir output for the loop snippet: a leading blank
// line, then one tuple per line.
func (f *Fake) listing(arg string) string {
	path, ok := f.strArg(arg)
	if !ok || !f.isDir(path) {
		return "\r\n" + enoentTraceback
	}
	var out strings.Builder
	for _, name := range f.children(path) {
		child := f.nodes[childPath(path, name)]
		out.WriteString("\r\n")
		if child.IsDir {
			fmt.Fprintf(&out, "('%s', 16384, 0, 0)", name)
		} else {
			fmt.Fprintf(&out, "('%s', 32768, 0, %d)", name, len(child.Data))
		}
	}
	return out.String()
}

// run executes one single-line command and returns its printed output.
func (f *Fake) run(cmd string) string {
	switch {
	case cmd == "import uos", cmd == "_fout.close()", cmd == "del _fout",
		cmd == "_fin.close()", cmd == "del _fin":
		return ""

	case statRe.MatchString(cmd):
		path, ok := f.strArg(statRe.FindStringSubmatch(cmd)[1])
		if !ok {
			return enoentTraceback
		}
		node := f.lookup(path)
		if node == nil {
			return enoentTraceback
		}
		if node.IsDir {
			return "(16384, 0, 0, 0, 0, 0, 0)"
		}
		return fmt.Sprintf("(32768, 0, 0, 0, 0, 0, %d)", len(node.Data))

	case removeRe.MatchString(cmd):
		path, ok := f.strArg(removeRe.FindStringSubmatch(cmd)[1])
		if !ok {
			return enoentTraceback
		}
		node := f.nodes[path]
		if node == nil || node.IsDir {
			return enoentTraceback
		}
		delete(f.nodes, path)
		return "True"

	case rmdirRe.MatchString(cmd):
		path, ok := f.strArg(rmdirRe.FindStringSubmatch(cmd)[1])
		if !ok {
			return enoentTraceback
		}
		node := f.nodes[path]
		if node == nil || !node.IsDir {
			return enoentTraceback
		}
		delete(f.nodes, path)
		return "True"

	case mkdirRe.MatchString(cmd):
		path, ok := f.strArg(mkdirRe.FindStringSubmatch(cmd)[1])
		if !ok {
			return enoentTraceback
		}
		if f.lookup(path) != nil {
			return eexistTraceback
		}
		f.nodes[path] = &Node{IsDir: true}
		return "True"

	case foutRe.MatchString(cmd):
		path, ok := f.strArg(foutRe.FindStringSubmatch(cmd)[1])
		if !ok {
			return enoentTraceback
		}
		f.nodes[path] = &Node{}
		f.openPath = path
		return ""

	case writeRe.MatchString(cmd):
		v, err := repl.Parse(writeRe.FindStringSubmatch(cmd)[1])
		if err != nil || v.Kind != repl.KindBytes {
			return enoentTraceback
		}
		chunk := v.Bytes
		if f.AcceptLimit > 0 && len(chunk) > f.AcceptLimit {
			chunk = chunk[:f.AcceptLimit]
		}
		node := f.nodes[f.openPath]
		node.Data = append(node.Data, chunk...)
		return fmt.Sprintf("%d", len(chunk))

	case finRe.MatchString(cmd):
		path, ok := f.strArg(finRe.FindStringSubmatch(cmd)[1])
		if !ok {
			return enoentTraceback
		}
		node := f.lookup(path)
		if node == nil || node.IsDir {
			return enoentTraceback
		}
		f.openPath = path
		f.openOff = 0
		return ""

	case readRe.MatchString(cmd):
		var limit int
		fmt.Sscanf(readRe.FindStringSubmatch(cmd)[1], "%d", &limit)
		node := f.nodes[f.openPath]
		end := f.openOff + limit
		if end > len(node.Data) {
			end = len(node.Data)
		}
		chunk := node.Data[f.openOff:end]
		f.openOff = end
		return repl.QuoteBytes(chunk)
	}

	return "Traceback (most recent call last):\r\n" +
		"  File \"<stdin>\", line 1, in <module>\r\n" +
		"NameError: name isn't defined"
}

// strArg decodes one quoted string argument from a snippet.
func (f *Fake) strArg(lit string) (string, bool) {
	v, err := repl.Parse(lit)
	if err != nil || v.Kind != repl.KindStr {
		return "", false
	}
	return v.Str, true
}

// lookup resolves a path; the root is always a directory.
func (f *Fake) lookup(path string) *Node {
	if path == "/" {
		return &Node{IsDir: true}
	}
	return f.nodes[strings.TrimSuffix(path, "/")]
}

func (f *Fake) isDir(path string) bool {
	n := f.lookup(path)
	return n != nil && n.IsDir
}

// children lists the immediate child names of a directory, sorted.
func (f *Fake) children(dir string) []string {
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	var names []string
	for p := range f.nodes {
		if !strings.HasPrefix(p, prefix) || p == dir {
			continue
		}
		rest := p[len(prefix):]
		if !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	sort.Strings(names)
	return names
}

func childPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return strings.TrimSuffix(dir, "/") + "/" + name
}
