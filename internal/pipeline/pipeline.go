// Package pipeline wires source reading, schema checking, missing-data
// resolution, dictionary encoding, and aggregation into one streaming run.
//
// Concurrency model:
//
//	Reader (1, pull-based partitions)
//	     → bounded channel
//	     → N workers (check → resolve → encode → fold into per-worker partial)
//	     → merge partials into the final result
//
// Back-pressure comes from the bounded channel, so peak memory stays around
// O(workers + buffer) partitions. Workers observe cancellation only between
// partitions; a partition that entered processing is finished or discarded
// whole, never split.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"aggpipe/internal/aggregate"
	"aggpipe/internal/config"
	"aggpipe/internal/encode"
	"aggpipe/internal/metrics"
	"aggpipe/internal/partition"
	"aggpipe/internal/report"
	"aggpipe/internal/resolve"
	"aggpipe/internal/schema"
	"aggpipe/internal/source"
	csvsource "aggpipe/internal/source/csv"
	"aggpipe/internal/storage"
)

// counters holds cross-goroutine statistics for a run.
//
// All fields are updated atomically.
type counters struct {
	partitions     atomic.Int64 // partitions fully processed
	rowsRead       atomic.Int64 // data rows entering the check stage
	violations     atomic.Int64 // per-cell findings recorded
	rowsDropped    atomic.Int64 // rows removed by the drop-row policy
	cellsImputed   atomic.Int64 // cells filled by the impute-* policies
	rowsAggregated atomic.Int64 // rows folded into the aggregation
}

// Summary is the final row accounting of a run.
//
// Invariant when the run completes without a fatal error:
//
//	RowsRead == RowsAggregated + RowsDropped
type Summary struct {
	Partitions     int64
	RowsRead       int64
	Violations     int64
	RowsDropped    int64
	CellsImputed   int64
	RowsAggregated int64
	Groups         int
	Exported       int64
}

// Result carries the outcome of a run. On a fatal error or cancellation it
// still holds the state accumulated so far: every fully processed partition
// is reflected in Table and Report.
type Result struct {
	RunID     string
	Job       string
	Table     aggregate.Table
	Report    *report.Report
	Summary   Summary
	Warnings  []config.Issue
	Cancelled bool
}

// runtimeConfig contains the resolved concurrency and partitioning knobs for
// a run. Values come from the configuration with environment variable
// fallbacks (12-factor style).
type runtimeConfig struct {
	workers        int
	partitionRows  int
	partitionBytes int
	channelBuffer  int
	reportSamples  int
}

func newRuntimeConfig(rt config.Runtime) runtimeConfig {
	return runtimeConfig{
		workers:        config.PickInt(rt.Workers, config.GetenvInt("AGGPIPE_WORKERS", 1)),
		partitionRows:  config.PickInt(rt.PartitionRows, config.GetenvInt("AGGPIPE_PARTITION_ROWS", 10000)),
		partitionBytes: config.PickInt(rt.PartitionBytes, 0),
		channelBuffer:  config.PickInt(rt.ChannelBuffer, config.GetenvInt("AGGPIPE_CH_BUFFER", 4)),
		reportSamples:  config.PickInt(rt.ReportSamples, 10),
	}
}

// Function variables used to introduce test seams.
// In production these point to real implementations; tests can override them.
var (
	openSourceFn = func(ctx context.Context, s config.Source) (io.ReadCloser, error) {
		switch s.Kind {
		case "file":
			return source.NewLocal(s.File.Path).Open(ctx)
		case "stdin":
			return source.NewStdin().Open(ctx)
		default:
			return nil, fmt.Errorf("unsupported source.kind=%s", s.Kind)
		}
	}

	newReaderFn = func(ctx context.Context, rc io.ReadCloser, columns []string, p config.Parser, rt runtimeConfig) (source.PartitionReader, error) {
		switch p.Kind {
		case "csv":
			return csvsource.New(ctx, rc, columns, p.Options, rt.partitionRows, rt.partitionBytes)
		default:
			return nil, fmt.Errorf("unsupported parser.kind=%s", p.Kind)
		}
	}

	newRepositoryFn = storage.New
)

// Run executes a full configured run: validate config, stream partitions
// through the workers, merge, and optionally export.
//
// The returned Result is non-nil whenever processing started; on a fatal
// error it reflects the partitions completed before the failure, alongside
// the error.
func Run(ctx context.Context, cfg config.Run) (*Result, error) {
	warnings, err := config.Check(cfg)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		log.Printf("config warning: %v", w)
	}

	rt := newRuntimeConfig(cfg.Runtime)
	res := &Result{
		RunID:    uuid.NewString(),
		Job:      cfg.Job,
		Report:   report.New(rt.reportSamples),
		Warnings: warnings,
	}

	checker := schema.NewChecker(cfg.Schema)
	resolver, err := resolve.New(cfg.Schema.Fields, cfg.Missing)
	if err != nil {
		return nil, &config.ConfigError{Issues: []config.Issue{
			{Severity: config.SeverityError, Path: "missing", Message: err.Error()},
		}}
	}
	enc := encode.NewEncoder(cfg.Encode)

	kinds := make(map[string]string, len(cfg.Schema.Fields))
	for _, f := range cfg.Schema.Fields {
		kinds[f.Name] = schema.NormalizeKind(f.Type)
	}
	agg, err := aggregate.New(cfg.GroupBy, cfg.Reducers, kinds, enc)
	if err != nil {
		return nil, err
	}

	rc, err := openSourceFn(ctx, cfg.Source)
	if err != nil {
		return res, fmt.Errorf("source open: %w", err)
	}
	reader, err := newReaderFn(ctx, rc, cfg.Schema.Columns(), cfg.Parser, rt)
	if err != nil {
		return res, err
	}
	defer reader.Close()

	log.Printf("run %s: job=%s workers=%d partition_rows=%d buffer=%d",
		res.RunID, cfg.Job, rt.workers, rt.partitionRows, rt.channelBuffer)

	var stats counters
	parts := make(chan *partition.Partition, rt.channelBuffer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(parts)
		for {
			pt, err := reader.Next(gctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case parts <- pt:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	final := agg.NewPartial()
	var finalMu sync.Mutex

	for i := 0; i < rt.workers; i++ {
		g.Go(func() error {
			part := agg.NewPartial()
			defer func() {
				finalMu.Lock()
				final.Merge(part)
				finalMu.Unlock()
			}()
			for pt := range parts {
				// Cancellation is observed only between partitions; a
				// partition already dequeued before the cancel is dropped
				// unprocessed rather than half-counted.
				if gctx.Err() != nil {
					continue
				}
				// A fatal partition error returns immediately so the
				// errgroup cancels gctx: the reader stops mid-source and
				// the other workers drain without aggregating.
				if err := processPartition(cfg.Job, pt, checker, resolver, enc, part, res.Report, &stats); err != nil {
					return err
				}
			}
			return nil
		})
	}

	runErr := g.Wait()

	res.Table = final.Final(cfg.SortOutput)
	res.Summary = Summary{
		Partitions:     stats.partitions.Load(),
		RowsRead:       stats.rowsRead.Load(),
		Violations:     stats.violations.Load(),
		RowsDropped:    stats.rowsDropped.Load(),
		CellsImputed:   stats.cellsImputed.Load(),
		RowsAggregated: stats.rowsAggregated.Load(),
		Groups:         final.Groups(),
	}
	res.Cancelled = errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)

	logSummary(cfg.Job, res, runErr)
	recordRunMetrics(cfg.Job, res)

	if runErr != nil {
		return res, runErr
	}

	if cfg.Export.Kind != "" {
		n, err := exportTable(ctx, cfg.Job, cfg.Export, res.Table)
		if err != nil {
			return res, err
		}
		res.Summary.Exported = n
		log.Printf("export: kind=%s table=%s rows=%d", cfg.Export.Kind, cfg.Export.DB.Table, n)
	}

	return res, nil
}

// processPartition runs one partition through check → resolve → encode →
// fold. Data-quality findings land in the report; the only errors returned
// are fatal (schema mismatch, plan mismatch).
func processPartition(
	job string,
	pt *partition.Partition,
	checker *schema.Checker,
	resolver *resolve.Resolver,
	enc *encode.Encoder,
	part *aggregate.Partial,
	rep *report.Report,
	stats *counters,
) error {
	start := time.Now()
	rowsIn := len(pt.Rows)
	stats.rowsRead.Add(int64(rowsIn))

	findings, err := checker.Check(pt)
	rep.AddAll(findings)
	stats.violations.Add(int64(len(findings)))
	if err != nil {
		metrics.RecordStage(job, "check", err, time.Since(start))
		return err
	}

	stats.cellsImputed.Add(int64(resolver.Apply(pt)))
	stats.rowsDropped.Add(int64(rowsIn - len(pt.Rows)))

	enc.Apply(pt)

	if err := part.AddPartition(pt); err != nil {
		metrics.RecordStage(job, "aggregate", err, time.Since(start))
		return err
	}
	stats.rowsAggregated.Add(int64(len(pt.Rows)))
	stats.partitions.Add(1)
	metrics.RecordStage(job, "partition", nil, time.Since(start))
	return nil
}

// exportTable writes the final table to the configured backend.
func exportTable(ctx context.Context, job string, cfg config.Export, t aggregate.Table) (int64, error) {
	start := time.Now()
	repo, closeFn, err := newRepositoryFn(ctx, cfg)
	if err != nil {
		return 0, fmt.Errorf("export init: %w", err)
	}
	defer closeFn()

	n, err := storage.Export(ctx, repo, cfg, t)
	metrics.RecordStage(job, "export", err, time.Since(start))
	if err != nil {
		return n, fmt.Errorf("export: %w", err)
	}
	return n, nil
}

// logSummary prints the final row accounting. The conservation check only
// applies to clean runs; a cancelled or failed run legitimately leaves rows
// unaccounted.
func logSummary(job string, res *Result, runErr error) {
	s := res.Summary
	log.Printf(
		"summary: job=%s partitions=%d rows_read=%d violations=%d dropped=%d imputed=%d aggregated=%d groups=%d cancelled=%v",
		job, s.Partitions, s.RowsRead, s.Violations, s.RowsDropped, s.CellsImputed, s.RowsAggregated, s.Groups, res.Cancelled,
	)
	if runErr == nil && s.RowsRead != s.RowsAggregated+s.RowsDropped {
		log.Printf(
			"WARNING: row accounting mismatch: read=%d aggregated=%d dropped=%d (delta=%d)",
			s.RowsRead, s.RowsAggregated, s.RowsDropped, s.RowsRead-s.RowsAggregated-s.RowsDropped,
		)
	}
}

func recordRunMetrics(job string, res *Result) {
	s := res.Summary
	metrics.RecordRows(job, "read", s.RowsRead)
	metrics.RecordRows(job, "violations", s.Violations)
	metrics.RecordRows(job, "dropped", s.RowsDropped)
	metrics.RecordRows(job, "imputed", s.CellsImputed)
	metrics.RecordRows(job, "aggregated", s.RowsAggregated)
	metrics.RecordPartitions(job, s.Partitions)
	metrics.RecordGroups(job, int64(s.Groups))
}
