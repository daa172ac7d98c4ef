//go:build !unix

package lease

import (
	"context"
	"errors"
)

// File is unavailable on this platform; use the memory, redis or postgres backend.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Path() string {
	return f.path
}

func (f *File) TryAcquire(context.Context, string) (Handle, error) {
	return nil, errors.New("file lease requires flock(2)")
}

func (f *File) Ping(context.Context) error {
	return errors.New("file lease requires flock(2)")
}

func (f *File) Close() error {
	return nil
}
