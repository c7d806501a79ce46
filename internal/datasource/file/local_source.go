// Package file implements local sources for row exports: a file on disk or
// the process's standard input.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Local opens a file from the local disk.
type Local struct{ path string }

// NewLocal returns a Local source bound to path. The returned value is safe
// for concurrent use as long as the file can be read concurrently.
func NewLocal(path string) *Local { return &Local{path: path} }

// Path returns the configured path.
func (l *Local) Path() string { return l.path }

// Open opens the configured path for reading.
//
// Behavior:
//   - A canceled ctx returns its error without touching the filesystem.
//   - Filesystem errors are wrapped with the path; errors.Is(err,
//     os.ErrNotExist) still works.
//   - On Linux the kernel is told the file will be read sequentially once.
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	adviseSequential(f)
	return f, nil
}

// Stdin reads the export from standard input. It can be opened once.
type Stdin struct {
	r      io.Reader
	opened bool
}

// NewStdin returns a source over os.Stdin.
func NewStdin() *Stdin { return &Stdin{r: os.Stdin} }

// NewReader returns a single-use source over r, such as an HTTP request
// body. Close on the opened reader leaves r alone.
func NewReader(r io.Reader) *Stdin { return &Stdin{r: r} }

// Open returns the reader wrapped so that Close does not close the process's
// stdin.
func (s *Stdin) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.opened {
		return nil, fmt.Errorf("stdin: already consumed")
	}
	s.opened = true
	return io.NopCloser(s.r), nil
}
