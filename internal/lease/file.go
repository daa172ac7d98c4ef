//go:build unix

package lease

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"
)

// File is a host-local lease backed by flock(2) on a single lock file.
// Every name maps to the same file; use separate File values for separate
// locks. The kernel drops the lock when the process exits, so a crashed run
// never leaves a stale lease behind.
type File struct {
	path string
}

// NewFile creates a file lease at path. The parent directory is created on demand.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the lock file path.
func (f *File) Path() string {
	return f.path
}

// TryAcquire takes a non-blocking exclusive flock on the lock file. The name
// is ignored; one file guards one lease.
func (f *File) TryAcquire(_ context.Context, _ string) (Handle, error) {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o775); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_RDWR, 0o664)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(fh.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		fh.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("flock %s: %w", f.path, err)
	}

	// Holder PID is informational only.
	if err := fh.Truncate(0); err == nil {
		_, _ = fh.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return &fileHandle{file: fh}, nil
}

// Ping verifies the lock directory can be created.
func (f *File) Ping(_ context.Context) error {
	return os.MkdirAll(filepath.Dir(f.path), 0o775)
}

func (f *File) Close() error {
	return nil
}

type fileHandle struct {
	file *os.File
	once sync.Once
	err  error
}

func (h *fileHandle) Release(_ context.Context) error {
	h.once.Do(func() {
		unlockErr := unix.Flock(int(h.file.Fd()), unix.LOCK_UN)
		closeErr := h.file.Close()
		h.err = errors.Join(unlockErr, closeErr)
	})
	return h.err
}

var _ Backend = (*File)(nil)
