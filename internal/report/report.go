// Package report accumulates data-quality findings across a whole run.
//
// Findings are never fatal: the pipeline records them here and keeps going.
// The report keeps exact counts per (column, reason) and retains only the
// first few sample violations so memory stays bounded on dirty datasets.
package report

import (
	"fmt"
	"sort"
	"sync"
)

// Reasons attached to violations by the schema validator.
const (
	ReasonTypeMismatch   = "type-mismatch"
	ReasonOutOfRange     = "out-of-range"
	ReasonNotInEnum      = "not-in-enum"
	ReasonNullDisallowed = "null-disallowed"
)

// DefaultSampleLimit is how many example violations are retained verbatim.
const DefaultSampleLimit = 10

// Violation describes one cell that failed a schema check.
type Violation struct {
	Partition int    `json:"partition"`
	Row       int    `json:"row"` // absolute 1-based data row in the source
	Column    string `json:"column"`
	Reason    string `json:"reason"`
	Value     string `json:"value"` // string form of the offending cell
}

func (v Violation) String() string {
	return fmt.Sprintf("row %d column %q: %s (value=%q)", v.Row, v.Column, v.Reason, v.Value)
}

// ColumnReason keys the per-column, per-reason counters.
type ColumnReason struct {
	Column string
	Reason string
}

// Report is the run-wide accumulator. Safe for concurrent use by partition
// workers.
type Report struct {
	mu      sync.Mutex
	limit   int
	total   int
	counts  map[ColumnReason]int
	samples []Violation
}

// New returns a Report that retains up to limit sample violations.
// A non-positive limit falls back to DefaultSampleLimit.
func New(limit int) *Report {
	if limit <= 0 {
		limit = DefaultSampleLimit
	}
	return &Report{
		limit:  limit,
		counts: make(map[ColumnReason]int),
	}
}

// Add records one violation.
func (r *Report) Add(v Violation) {
	r.mu.Lock()
	r.counts[ColumnReason{Column: v.Column, Reason: v.Reason}]++
	if len(r.samples) < r.limit {
		r.samples = append(r.samples, v)
	}
	r.total++
	r.mu.Unlock()
}

// AddAll records a batch of violations, typically one partition's worth.
func (r *Report) AddAll(vs []Violation) {
	for _, v := range vs {
		r.Add(v)
	}
}

// Total returns the number of violations recorded so far.
func (r *Report) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Count returns the number of violations for a column/reason pair.
func (r *Report) Count(column, reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[ColumnReason{Column: column, Reason: reason}]
}

// Counts returns a copy of the per-(column, reason) counters.
func (r *Report) Counts() map[ColumnReason]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[ColumnReason]int, len(r.counts))
	for k, n := range r.counts {
		out[k] = n
	}
	return out
}

// Samples returns the retained example violations sorted by source row, so
// output is stable regardless of which worker recorded them first.
func (r *Report) Samples() []Violation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Violation, len(r.samples))
	copy(out, r.samples)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		return out[i].Column < out[j].Column
	})
	return out
}
