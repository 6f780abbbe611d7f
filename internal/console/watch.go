package console

import (
	"os"
	"time"
)

// fileWatch tracks the modification time of one local file by polling. The
// baseline is taken when the watch is created and reset on every restart of
// the forwarding loop.
type fileWatch struct {
	path  string
	mtime time.Time
}

func newFileWatch(path string) (*fileWatch, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &fileWatch{path: path, mtime: info.ModTime()}, nil
}

// changed reports whether the file's mtime differs from the baseline.
func (w *fileWatch) changed() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}
	return !info.ModTime().Equal(w.mtime), nil
}
