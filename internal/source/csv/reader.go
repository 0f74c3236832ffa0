// Package csv streams a CSV source as bounded partitions.
//
// The reader is pull-based: each Next call assembles exactly one partition up
// to the configured row/byte budget, so memory stays bounded regardless of
// source size and the consumer dictates the pace. The sequence is finite and
// non-restartable; rows keep their original order within and across
// partitions.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"aggpipe/internal/config"
	"aggpipe/internal/partition"
	"aggpipe/internal/source"
)

const utf8BOM = "\uFEFF"

// Reader implements source.PartitionReader over encoding/csv.
//
// Options (all optional, from parser.options):
//   - has_header (bool; default true)
//   - comma (string; first rune used; default ',')
//   - trim_space (bool; default true)
//   - lazy_quotes (bool; default false)
//   - header_map (object; source header -> canonical column name)
type Reader struct {
	src     io.ReadCloser
	cr      *csv.Reader
	columns []string
	colIx   []int // colIx[target] = source index, or -1 (always NULL)

	rowBudget  int
	byteBudget int

	line      int // 1-based physical line, header included
	dataRow   int // 1-based data row of the next row to be read
	partIndex int
	trim      bool
	done      bool
}

// New opens a partition reader over src. The header is consumed immediately
// when present so that a malformed header fails before any partition is
// produced. columns is the schema's declared column set; budgetRows caps the
// rows per partition and budgetBytes (0 = unlimited) caps the approximate
// cell bytes per partition.
func New(ctx context.Context, src io.ReadCloser, columns []string, opt config.Options, budgetRows, budgetBytes int) (*Reader, error) {
	select {
	case <-ctx.Done():
		src.Close()
		return nil, ctx.Err()
	default:
	}
	if budgetRows <= 0 {
		budgetRows = 10_000
	}

	cr := csv.NewReader(src)
	cr.Comma = opt.Rune("comma", ',')
	cr.ReuseRecord = true
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	// Width is locked to the first record (header or first data row); a row
	// with a different width is corrupt input and surfaces as a ReadError.
	cr.FieldsPerRecord = 0

	r := &Reader{
		src:        src,
		cr:         cr,
		columns:    columns,
		colIx:      make([]int, len(columns)),
		rowBudget:  budgetRows,
		byteBudget: budgetBytes,
		dataRow:    1,
		trim:       opt.Bool("trim_space", true),
	}
	for i := range r.colIx {
		r.colIx[i] = -1
	}

	if opt.Bool("has_header", true) {
		hdr, err := cr.Read()
		r.line++
		if err != nil {
			src.Close()
			return nil, &source.ReadError{Line: r.line, Err: err}
		}
		hm := opt.StringMap("header_map")
		srcToIdx := make(map[string]int, len(hdr))
		for i, h := range hdr {
			h = strings.TrimSpace(h)
			if i == 0 {
				h = strings.TrimPrefix(h, utf8BOM)
			}
			if mapped, ok := hm[h]; ok {
				h = mapped
			} else {
				h = strings.ReplaceAll(strings.ToLower(h), " ", "_")
			}
			srcToIdx[h] = i
		}
		for t, target := range columns {
			if si, ok := srcToIdx[target]; ok {
				r.colIx[t] = si
			}
		}
	} else {
		for i := range columns {
			r.colIx[i] = i // positional
		}
	}

	return r, nil
}

// Next assembles and returns the next partition. It returns io.EOF after the
// last partition, a *source.ReadError on unreadable or corrupt input, and the
// context error when ctx is canceled mid-assembly. Partial progress on the
// failing partition is discarded.
func (r *Reader) Next(ctx context.Context) (*partition.Partition, error) {
	if r.done {
		return nil, io.EOF
	}

	p := partition.New(r.partIndex, r.dataRow, append([]string(nil), r.columns...), r.rowBudget)
	bytes := 0

	for len(p.Rows) < r.rowBudget {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		rec, err := r.cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.done = true
				break
			}
			r.done = true
			return nil, &source.ReadError{Partition: r.partIndex, Line: r.line + 1, Err: err}
		}
		r.line++

		row := make([]any, len(r.columns))
		for t := range r.columns {
			si := r.colIx[t]
			if si < 0 || si >= len(rec) {
				continue // stays nil
			}
			v := rec[si]
			if r.trim {
				v = strings.TrimSpace(v)
			}
			if v == "" {
				continue
			}
			row[t] = v
			bytes += len(v)
		}
		p.Rows = append(p.Rows, row)
		r.dataRow++

		if r.byteBudget > 0 && bytes >= r.byteBudget {
			break
		}
	}

	if len(p.Rows) == 0 {
		return nil, io.EOF
	}
	r.partIndex++
	return p, nil
}

// Close releases the underlying source.
func (r *Reader) Close() error { return r.src.Close() }
