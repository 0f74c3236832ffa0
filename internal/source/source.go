// Package source defines how raw bytes enter the pipeline and the fatal
// error type for unreadable or corrupt input.
package source

import (
	"context"
	"fmt"
	"io"

	"aggpipe/internal/partition"
)

// Source opens a readable byte stream. Additional kinds (HTTP, object
// storage) can be added without touching the reader.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// PartitionReader yields the source's rows as a lazy, finite, non-restartable
// sequence of partitions. Next returns io.EOF after the last partition.
//
// Pull model: the consumer calls Next; nothing is buffered ahead beyond the
// partition being assembled, so backpressure is inherent.
type PartitionReader interface {
	Next(ctx context.Context) (*partition.Partition, error)
	Close() error
}

// ReadError is the fatal error for I/O failures and corrupt input. It aborts
// the run; completed partitions stay valid, the partition being assembled is
// discarded.
type ReadError struct {
	Partition int // index of the partition being assembled
	Line      int // 1-based line in the source, 0 when unknown
	Err       error
}

func (e *ReadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("source read failed in partition %d at line %d: %v", e.Partition, e.Line, e.Err)
	}
	return fmt.Sprintf("source read failed in partition %d: %v", e.Partition, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
