// Package remotefs exposes the device filesystem through short uos snippets
// evaluated on the prompt. All operations re-issue remote calls on every use;
// nothing is cached between calls.
package remotefs

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mpsync/mpsync/internal/repl"
)

// Stat type bits as reported in the first field of a uos.stat tuple.
const (
	TypeFile = 32768 // 0o100000
	TypeDir  = 16384 // 0o40000
)

// enoentSuffix classifies an absent path out of a remote fault summary.
const enoentSuffix = "ENOENT"

// Sink receives progress/action lines ("RM <path>\n" and the like). The
// caller decides where they go; the zero value is never called.
type Sink func(msg string)

// PathConflictError covers local validation failures: a destination that
// exists without overwrite permission, a file/directory type mismatch, a
// relative path where an absolute one is required.
type PathConflictError struct {
	Path   string
	Reason string
}

func (e *PathConflictError) Error() string {
	return fmt.Sprintf("path conflict at %s: %s", e.Path, e.Reason)
}

// Stat is the decoded result of a remote stat. Exactly one of IsFile and
// IsDir is set; Size is meaningful for files only.
type Stat struct {
	IsFile bool
	IsDir  bool
	Size   int64
}

// Entry pairs a listing name with its size. Directory names carry a trailing
// slash and report size 0.
type Entry struct {
	Name string
	Size int64
}

// FS runs filesystem operations on one device session.
type FS struct {
	session *repl.Session
	logf    Sink
}

// New builds an FS over a session. logf may be nil.
func New(session *repl.Session, logf Sink) *FS {
	if logf == nil {
		logf = func(string) {}
	}
	return &FS{session: session, logf: logf}
}

// Stat queries a remote path. An absent path returns (nil, nil); absence is
// recognized by the fault summary ending in ENOENT, any other fault
// propagates.
func (fs *FS) Stat(path string) (*Stat, error) {
	v, err := fs.session.Eval("uos.stat(" + repl.Quote(path) + ")")
	if err != nil {
		var fault *repl.RemoteFault
		if errors.As(err, &fault) && strings.HasSuffix(fault.Summary(), enoentSuffix) {
			return nil, nil
		}
		return nil, err
	}
	return decodeStat(v)
}

func decodeStat(v repl.Value) (*Stat, error) {
	if v.Kind != repl.KindTuple || len(v.Items) < 7 {
		return nil, &repl.DecodeError{Text: fmt.Sprintf("%v", v), Reason: "stat result is not a 7-tuple"}
	}
	typ, size := v.Items[0], v.Items[6]
	if typ.Kind != repl.KindInt || size.Kind != repl.KindInt {
		return nil, &repl.DecodeError{Text: fmt.Sprintf("%v", v), Reason: "stat fields have unexpected types"}
	}
	st := &Stat{Size: size.Int}
	switch typ.Int {
	case TypeFile:
		st.IsFile = true
	case TypeDir:
		st.IsDir = true
	default:
		return nil, &repl.DecodeError{
			Text:   fmt.Sprintf("%v", v),
			Reason: fmt.Sprintf("stat type %d is neither a file nor a directory", typ.Int),
		}
	}
	return st, nil
}

// split partitions raw entries into sorted directory and file name groups.
func split(entries []repl.DirEntry) (dirs, files []repl.DirEntry) {
	for _, e := range entries {
		switch e.Type {
		case TypeDir:
			dirs = append(dirs, e)
		case TypeFile:
			files = append(files, e)
		}
	}
	byName := func(s []repl.DirEntry) {
		sort.Slice(s, func(i, j int) bool { return s[i].Name < s[j].Name })
	}
	byName(dirs)
	byName(files)
	return dirs, files
}

// List returns entry names under path: sorted directories first, each with a
// trailing slash, then sorted files. The listing is re-issued on every call.
func (fs *FS) List(path string) ([]string, error) {
	entries, err := fs.session.ListDir(path)
	if err != nil {
		return nil, err
	}
	dirs, files := split(entries)
	names := make([]string, 0, len(dirs)+len(files))
	for _, d := range dirs {
		names = append(names, d.Name+"/")
	}
	for _, f := range files {
		names = append(names, f.Name)
	}
	return names, nil
}

// ListSizes works like List, pairing each name with its size. Directories
// report size 0.
func (fs *FS) ListSizes(path string) ([]Entry, error) {
	entries, err := fs.session.ListDir(path)
	if err != nil {
		return nil, err
	}
	dirs, files := split(entries)
	out := make([]Entry, 0, len(dirs)+len(files))
	for _, d := range dirs {
		out = append(out, Entry{Name: d.Name + "/"})
	}
	for _, f := range files {
		out = append(out, Entry{Name: f.Name, Size: f.Size})
	}
	return out, nil
}

// assertTrue evaluates a snippet whose value must decode to True.
func (fs *FS) assertTrue(snippet string) error {
	v, err := fs.session.Eval(snippet)
	if err != nil {
		return err
	}
	if v.Kind != repl.KindBool || !v.Bool {
		return &repl.DecodeError{Text: snippet, Reason: "expected True sentinel"}
	}
	return nil
}

// Remove deletes a single remote file.
func (fs *FS) Remove(path string) error {
	return fs.assertTrue("uos.remove(" + repl.Quote(path) + ") or True")
}

// RemoveDir deletes an empty remote directory.
func (fs *FS) RemoveDir(path string) error {
	return fs.assertTrue("uos.rmdir(" + repl.Quote(path) + ") or True")
}

// Mkdir creates a single remote directory.
func (fs *FS) Mkdir(path string) error {
	return fs.assertTrue("uos.mkdir(" + repl.Quote(path) + ") or True")
}

// MakeDirs creates path and every missing ancestor, left to right. The path
// must be absolute. An existing ancestor that is a file is a conflict; the
// call never overwrites it.
func (fs *FS) MakeDirs(path string) error {
	if !strings.HasPrefix(path, "/") {
		return &PathConflictError{Path: path, Reason: "path must be absolute"}
	}
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i := range parts {
		p := "/" + strings.Join(parts[:i+1], "/")
		st, err := fs.Stat(p)
		if err != nil {
			return err
		}
		switch {
		case st == nil:
			if err := fs.Mkdir(p); err != nil {
				return err
			}
		case !st.IsDir:
			return &PathConflictError{Path: p, Reason: "already exists and is not a directory"}
		}
	}
	return nil
}

// RemoveTree deletes path recursively. The path must be absolute and must
// not end with a slash, except when it is the root: RemoveTree("/") empties
// the whole filesystem but never removes the root directory itself.
func (fs *FS) RemoveTree(path string) error {
	if path == "" || !strings.HasPrefix(path, "/") {
		return &PathConflictError{Path: path, Reason: "path must be absolute"}
	}
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	return fs.removeTree(path, nil)
}

// removeTree recurses with isDir carried along once known, so each entry is
// stat'ed at most once.
func (fs *FS) removeTree(path string, isDir *bool) error {
	if isDir == nil {
		st, err := fs.Stat(path)
		if err != nil {
			return err
		}
		if st == nil {
			return &PathConflictError{Path: path, Reason: "no such file or directory"}
		}
		isDir = &st.IsDir
	}

	if !*isDir {
		fs.logf("RM " + path + "\n")
		return fs.Remove(path)
	}

	entries, err := fs.session.ListDir(path)
	if err != nil {
		return err
	}
	dirs, files := split(entries)
	dir := true
	for _, d := range dirs {
		if err := fs.removeTree(join(path, d.Name), &dir); err != nil {
			return err
		}
	}
	for _, f := range files {
		fpath := join(path, f.Name)
		fs.logf("RM " + fpath + "\n")
		if err := fs.Remove(fpath); err != nil {
			return err
		}
	}
	if path != "/" {
		fs.logf("RMDIR " + path + "\n")
		return fs.RemoveDir(path)
	}
	return nil
}

// join builds a remote path; the device always uses forward slashes.
func join(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// Join is the remote path join used across packages.
func Join(dir, name string) string { return join(dir, name) }
