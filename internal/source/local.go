// Package source opens local files for counting.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotRegular is returned by Stat for paths that exist but are not regular
// files (directories, devices, sockets).
var ErrNotRegular = errors.New("source: not a regular file")

// Local is a file on the local disk. It is safe for concurrent use; every
// Open returns an independent handle.
type Local struct{ path string }

// NewLocal returns a Local bound to path.
func NewLocal(path string) *Local { return &Local{path: path} }

// Path returns the bound path.
func (l *Local) Path() string { return l.path }

// Stat returns the file size. Missing paths wrap os.ErrNotExist; anything
// other than a regular file wraps ErrNotRegular.
func (l *Local) Stat() (int64, error) {
	fi, err := os.Stat(l.path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", l.path, err)
	}
	if !fi.Mode().IsRegular() {
		return 0, fmt.Errorf("stat %s: %w", l.path, ErrNotRegular)
	}
	return fi.Size(), nil
}

// Open opens the file for reading. A context that is already done is
// returned as an error without touching the filesystem.
func (l *Local) Open(ctx context.Context) (*os.File, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	return f, nil
}

// Head returns up to n leading bytes of the file.
func (l *Local) Head(ctx context.Context, n int) ([]byte, error) {
	f, err := l.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	m, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read %s: %w", l.path, err)
	}
	return buf[:m], nil
}

// ReadAll returns the whole file.
func (l *Local) ReadAll(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", l.path, err)
	}
	return data, nil
}
