// Package transfer moves files between the local filesystem and the device,
// chunked to fit the prompt's limited input buffer.
package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mpsync/mpsync/internal/remotefs"
	"github.com/mpsync/mpsync/internal/repl"
)

// chunkSize bounds one remote write or read call. The device-side buffer is
// small and of unknown exact size; 64 bytes is known safe.
const chunkSize = 64

// progressEvery is the chunk interval between KB/percent summary lines.
const progressEvery = 16

// Options control one transfer call.
type Options struct {
	// Overwrite allows replacing existing destination files.
	Overwrite bool
	// Quick skips files whose size already matches at the destination.
	// Size-only comparison: a same-size content change is not detected.
	Quick bool
	// Contents transfers the children of the source directory instead of
	// recreating the directory itself at the destination.
	Contents bool
}

// Engine runs uploads and downloads over one device session.
type Engine struct {
	session *repl.Session
	fs      *remotefs.FS
	logf    remotefs.Sink
}

// New builds an Engine. logf may be nil.
func New(session *repl.Session, fs *remotefs.FS, logf remotefs.Sink) *Engine {
	if logf == nil {
		logf = func(string) {}
	}
	return &Engine{session: session, fs: fs, logf: logf}
}

// UploadFile copies one local file to a remote path. The destination must
// not exist unless Overwrite is set, and must never be a directory. With
// Quick, a size match skips the transfer entirely.
func (e *Engine) UploadFile(src, dst string, opts Options) error {
	st, err := e.fs.Stat(dst)
	if err != nil {
		return err
	}
	if st != nil && !opts.Overwrite {
		return &remotefs.PathConflictError{Path: dst, Reason: "destination already exists"}
	}
	if st != nil && st.IsDir {
		return &remotefs.PathConflictError{Path: dst, Reason: fmt.Sprintf("cannot overwrite a directory with a file: %s -> %s", src, dst)}
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	if opts.Quick && st != nil && int64(len(data)) == st.Size {
		e.logf("SKIP " + dst + "\n")
		return nil
	}

	e.logf("UPLOAD " + dst + "\n    ")
	if err := e.session.Exec("_fout = open(" + repl.Quote(dst) + ",'wb+')"); err != nil {
		return err
	}

	fullSize := len(data)
	var totalWritten int64
	chunks := 0
	for len(data) > 0 {
		chunk := data
		if len(chunk) > chunkSize {
			chunk = chunk[:chunkSize]
		}
		v, err := e.session.Eval("_fout.write(" + repl.QuoteBytes(chunk) + ")")
		if err != nil {
			return err
		}
		if v.Kind != repl.KindInt || v.Int < 0 || v.Int > int64(len(chunk)) {
			return &repl.DecodeError{Text: fmt.Sprintf("%v", v), Reason: "remote write did not return a byte count"}
		}
		// Advance by what the device accepted, not by what was offered.
		totalWritten += v.Int
		data = data[v.Int:]
		e.logf(".")
		chunks++
		if chunks%progressEvery == 0 {
			percent := 100.0 * float64(totalWritten) / float64(fullSize)
			e.logf(fmt.Sprintf(" %.2fK, %.2f%% \n    ", float64(totalWritten)/1024.0, percent))
		}
	}

	if err := e.session.Exec("_fout.close()"); err != nil {
		return err
	}
	if err := e.session.Exec("del _fout"); err != nil {
		return err
	}
	e.logf(fmt.Sprintf(" -- %.2f KB OK\n", float64(totalWritten)/1024.0))
	return nil
}

// DownloadFile copies one remote file to a local path, reading bounded
// chunks until the device reports end of file.
func (e *Engine) DownloadFile(src, dst string, opts Options) error {
	if info, err := os.Stat(dst); err == nil {
		if info.IsDir() {
			return &remotefs.PathConflictError{Path: dst, Reason: fmt.Sprintf("cannot overwrite a directory with a file: %s -> %s", src, dst)}
		}
		if !opts.Overwrite {
			return &remotefs.PathConflictError{Path: dst, Reason: "destination file already exists"}
		}
	}

	if opts.Quick {
		st, err := e.fs.Stat(src)
		if err != nil {
			return err
		}
		if st != nil {
			if info, err := os.Stat(dst); err == nil && !info.IsDir() && info.Size() == st.Size {
				e.logf("SKIP " + dst + "\n")
				return nil
			}
		}
	}

	if err := e.session.Exec("_fin = open(" + repl.Quote(src) + ",'rb')"); err != nil {
		return err
	}
	e.logf("DOWNLOAD " + dst + "\n    ")

	fout, err := os.Create(dst)
	if err != nil {
		return err
	}
	var totalRead int64
	chunks := 0
	for {
		v, err := e.session.Eval(fmt.Sprintf("_fin.read(%d)", chunkSize))
		if err != nil {
			fout.Close()
			return err
		}
		if v.Kind != repl.KindBytes {
			fout.Close()
			return &repl.DecodeError{Text: fmt.Sprintf("%v", v), Reason: "remote read did not return bytes"}
		}
		if len(v.Bytes) == 0 {
			break
		}
		if _, err := fout.Write(v.Bytes); err != nil {
			fout.Close()
			return err
		}
		totalRead += int64(len(v.Bytes))
		e.logf(".")
		chunks++
		if chunks%progressEvery == 0 {
			e.logf(fmt.Sprintf(" %.2fK \n    ", float64(totalRead)/1024.0))
		}
	}
	if err := fout.Close(); err != nil {
		return err
	}

	if err := e.session.Exec("_fin.close()"); err != nil {
		return err
	}
	if err := e.session.Exec("del _fin"); err != nil {
		return err
	}
	e.logf(fmt.Sprintf(" -- %.2f KB OK\n", float64(totalRead)/1024.0))
	return nil
}

// Upload mirrors a local file or directory into a remote directory. With
// Contents the children of src land directly under dst, and src must be a
// directory. An existing dst must be a directory.
func (e *Engine) Upload(src, dst string, opts Options) error {
	st, err := e.fs.Stat(dst)
	if err != nil {
		return err
	}
	if st != nil && !st.IsDir {
		return &remotefs.PathConflictError{Path: dst, Reason: "upload destination is not a directory"}
	}

	if opts.Contents {
		info, err := os.Stat(src)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return &remotefs.PathConflictError{Path: src, Reason: "contents transfer requires a source directory"}
		}
		names, err := localNames(src)
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := e.uploadEntry(filepath.Join(src, name), dst, opts); err != nil {
				return err
			}
		}
		return nil
	}
	return e.uploadEntry(src, dst, opts)
}

// uploadEntry places src (file or directory) under the remote directory dst.
func (e *Engine) uploadEntry(src, dst string, opts Options) error {
	dstPath := remotefs.Join(dst, filepath.Base(src))

	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	switch {
	case info.IsDir():
		st, err := e.fs.Stat(dstPath)
		if err != nil {
			return err
		}
		if st == nil {
			e.logf("MKDIR " + dstPath + "\n")
			if err := e.fs.Mkdir(dstPath); err != nil {
				return err
			}
		} else if st.IsFile {
			return &remotefs.PathConflictError{Path: dstPath, Reason: fmt.Sprintf("cannot overwrite a file with a directory: %s -> %s", src, dst)}
		}
		names, err := localNames(src)
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := e.uploadEntry(filepath.Join(src, name), dstPath, opts); err != nil {
				return err
			}
		}
		return nil
	case info.Mode().IsRegular():
		return e.UploadFile(src, dstPath, opts)
	default:
		return &remotefs.PathConflictError{Path: src, Reason: "source is not a regular file or directory"}
	}
}

// Download mirrors a remote file or directory into a local directory, which
// must already exist.
func (e *Engine) Download(src, dst string, opts Options) error {
	info, err := os.Stat(dst)
	if err != nil || !info.IsDir() {
		return &remotefs.PathConflictError{Path: dst, Reason: "download destination directory does not exist"}
	}

	if opts.Contents {
		st, err := e.fs.Stat(src)
		if err != nil {
			return err
		}
		if st == nil || !st.IsDir {
			return &remotefs.PathConflictError{Path: src, Reason: "contents transfer requires a source directory"}
		}
		names, err := e.fs.List(src)
		if err != nil {
			return err
		}
		for _, name := range names {
			name = strings.TrimSuffix(name, "/")
			if err := e.downloadEntry(remotefs.Join(src, name), dst, opts, nil); err != nil {
				return err
			}
		}
		return nil
	}
	return e.downloadEntry(src, dst, opts, nil)
}

// downloadEntry places remote src under the local directory dst. isDir is
// carried along once known so each remote entry is stat'ed at most once.
func (e *Engine) downloadEntry(src, dst string, opts Options, isDir *bool) error {
	name := src[strings.LastIndex(src, "/")+1:]
	dstPath := filepath.Join(dst, name)

	if isDir == nil {
		st, err := e.fs.Stat(src)
		if err != nil {
			return err
		}
		if st == nil {
			return &remotefs.PathConflictError{Path: src, Reason: "no such file or directory on device"}
		}
		isDir = &st.IsDir
	}

	if !*isDir {
		return e.DownloadFile(src, dstPath, opts)
	}

	info, err := os.Stat(dstPath)
	switch {
	case err != nil:
		e.logf("MKDIR " + dstPath + "\n")
		if err := os.Mkdir(dstPath, 0o755); err != nil {
			return err
		}
	case !info.IsDir():
		return &remotefs.PathConflictError{Path: dstPath, Reason: fmt.Sprintf("cannot overwrite a file with a directory: %s -> %s", src, dst)}
	}

	entries, err := e.session.ListDir(src)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	dir := true
	for _, entry := range entries {
		srcPath := remotefs.Join(src, entry.Name)
		if entry.Type == remotefs.TypeFile {
			if err := e.DownloadFile(srcPath, filepath.Join(dstPath, entry.Name), opts); err != nil {
				return err
			}
		} else {
			if err := e.downloadEntry(srcPath, dstPath, opts, &dir); err != nil {
				return err
			}
		}
	}
	return nil
}

// localNames lists a local directory in lexicographic order.
func localNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
