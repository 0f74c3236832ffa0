package source

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Local is a filesystem data source that opens files from the local disk.
type Local struct{ path string }

// NewLocal returns a Local data source bound to the provided path. The value
// is safe for concurrent use as long as the path is valid for concurrent
// reads.
func NewLocal(path string) *Local { return &Local{path: path} }

// Open opens the configured path for reading.
//
// If the context is already canceled at the time of the call, Open returns
// the context error without touching the filesystem. Filesystem errors are
// wrapped with the path while still permitting errors.Is/As checks (e.g.
// errors.Is(err, os.ErrNotExist)).
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
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

// Stdin streams rows from standard input, so a producer can pipe data in
// without staging it on disk first.
type Stdin struct{ r io.Reader }

// NewStdin returns a source reading from os.Stdin.
func NewStdin() *Stdin { return &Stdin{r: os.Stdin} }

// Open returns the stream. Closing the returned ReadCloser does not close
// the process's stdin; a second Open on the same run is not supported.
func (s *Stdin) Open(ctx context.Context) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return io.NopCloser(s.r), nil
}
