// Package metrics provides a small, backend-agnostic abstraction for
// recording operational metrics from the aggregation pipeline.
//
// A global, pluggable backend defaults to a no-op implementation, so metric
// calls are always safe even when no real backend is configured. Concrete
// metric systems live in subpackages and adapt the Backend interface, keeping
// the core pipeline decoupled from any one system.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStage measures latency and success/failure for one pipeline stage
// (read, validate, resolve, encode, aggregate, export).
func RecordStage(job, stage string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"job":    job,
		"stage":  stage,
		"status": status,
	}

	backend.IncCounter("agg_stage_total", 1, lbls)
	backend.ObserveHistogram("agg_stage_duration_seconds", d.Seconds(), lbls)
}

// RecordRows increments a row-level counter for the given job and kind.
//
// Typical kinds mirror the run summary fields, e.g.:
//   - "read"
//   - "violations"
//   - "dropped"
//   - "imputed"
//   - "aggregated"
func RecordRows(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("agg_rows_total", float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordPartitions increments the partition counter for the given job.
func RecordPartitions(job string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("agg_partitions_total", float64(delta), Labels{
		"job": job,
	})
}

// RecordGroups records the final distinct-group count for the given job.
func RecordGroups(job string, n int64) {
	if n < 0 {
		return
	}
	backend.IncCounter("agg_groups_total", float64(n), Labels{
		"job": job,
	})
}
