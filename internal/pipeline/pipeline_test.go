package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"aggpipe/internal/aggregate"
	"aggpipe/internal/config"
	"aggpipe/internal/partition"
	"aggpipe/internal/report"
	"aggpipe/internal/schema"
	"aggpipe/internal/source"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func f64(v float64) *float64 { return &v }

func baseRun(path string) config.Run {
	return config.Run{
		Job:    "people",
		Source: config.Source{Kind: "file", File: config.SourceFile{Path: path}},
		Parser: config.Parser{Kind: "csv", Options: config.Options{}},
		Schema: schema.Schema{Fields: []schema.Field{
			{Name: "region", Type: "string"},
			{Name: "age", Type: "int", Min: f64(0), Max: f64(120), Nullable: true},
		}},
		GroupBy: []string{"region"},
		Reducers: []config.Reducer{
			{Op: "count"},
			{Op: "mean", Column: "age"},
		},
		SortOutput: true,
	}
}

const peopleCSV = `region,age
north,30
north,-3
south,50
south,40
north,60
`

func TestRunFlagOnlyKeepsRowOutOfAggregates(t *testing.T) {
	cfg := baseRun(writeCSV(t, peopleCSV))

	res, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The -3 row stays (count=3 for north) but its age never reaches mean.
	want := [][]any{
		{"north", int64(3), 45.0},
		{"south", int64(2), 45.0},
	}
	if !reflect.DeepEqual(res.Table.Rows, want) {
		t.Fatalf("rows = %v; want %v", res.Table.Rows, want)
	}

	if got := res.Report.Count("age", report.ReasonOutOfRange); got != 1 {
		t.Fatalf("out-of-range count = %d; want 1", got)
	}
	s := res.Report.Samples()
	if len(s) != 1 || s[0].Row != 2 || s[0].Value != "-3" {
		t.Fatalf("samples = %v; want the -3 cell at row 2", s)
	}

	sum := res.Summary
	if sum.RowsRead != 5 || sum.RowsDropped != 0 || sum.RowsAggregated != 5 {
		t.Fatalf("summary = %+v; want read=5 dropped=0 aggregated=5", sum)
	}
	if res.RunID == "" {
		t.Fatal("run id not assigned")
	}
}

func TestRunDropRowPolicy(t *testing.T) {
	cfg := baseRun(writeCSV(t, peopleCSV))
	cfg.Missing = map[string]config.Policy{
		"age": {Kind: "drop-row"},
	}

	res, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := [][]any{
		{"north", int64(2), 45.0},
		{"south", int64(2), 45.0},
	}
	if !reflect.DeepEqual(res.Table.Rows, want) {
		t.Fatalf("rows = %v; want %v", res.Table.Rows, want)
	}
	if res.Summary.RowsDropped != 1 {
		t.Fatalf("dropped = %d; want 1", res.Summary.RowsDropped)
	}
	// The violation is still reported even though the row was dropped.
	if got := res.Report.Total(); got != 1 {
		t.Fatalf("violations = %d; want 1", got)
	}
}

func TestRunImputeConstantPolicy(t *testing.T) {
	cfg := baseRun(writeCSV(t, peopleCSV))
	cfg.Missing = map[string]config.Policy{
		"age": {Kind: "impute-constant", Value: float64(0)},
	}

	res, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := [][]any{
		{"north", int64(3), 30.0},
		{"south", int64(2), 45.0},
	}
	if !reflect.DeepEqual(res.Table.Rows, want) {
		t.Fatalf("rows = %v; want %v", res.Table.Rows, want)
	}
	if res.Summary.CellsImputed != 1 {
		t.Fatalf("cells imputed = %d; want 1", res.Summary.CellsImputed)
	}
}

func TestRunPartitionBudgetInvariance(t *testing.T) {
	run := func(partitionRows, workers int) *Result {
		cfg := baseRun(writeCSV(t, peopleCSV))
		cfg.Encode = []string{"region"}
		cfg.Runtime.PartitionRows = partitionRows
		cfg.Runtime.Workers = workers
		res, err := Run(context.Background(), cfg)
		if err != nil {
			t.Fatalf("Run(rows=%d workers=%d): %v", partitionRows, workers, err)
		}
		return res
	}

	base := run(100, 1)
	for _, c := range []struct{ rows, workers int }{{2, 1}, {2, 4}, {1, 2}} {
		got := run(c.rows, c.workers)
		if !reflect.DeepEqual(got.Table, base.Table) {
			t.Fatalf("table differs for rows=%d workers=%d:\n got %v\nwant %v",
				c.rows, c.workers, got.Table.Rows, base.Table.Rows)
		}
		if got.Report.Total() != base.Report.Total() {
			t.Fatalf("violations differ for rows=%d workers=%d: %d vs %d",
				c.rows, c.workers, got.Report.Total(), base.Report.Total())
		}
	}
}

func TestRunConfigErrorFailsFast(t *testing.T) {
	cfg := baseRun("does-not-matter.csv")
	cfg.Missing = map[string]config.Policy{
		"age": {Kind: "average-fill"},
	}

	opened := false
	orig := openSourceFn
	openSourceFn = func(ctx context.Context, s config.Source) (io.ReadCloser, error) {
		opened = true
		return orig(ctx, s)
	}
	defer func() { openSourceFn = orig }()

	res, err := Run(context.Background(), cfg)
	var cfgErr *config.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *config.ConfigError, got %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil result before processing, got %+v", res)
	}
	if opened {
		t.Fatal("source opened despite invalid configuration")
	}
}

func TestRunCorruptInputIsFatal(t *testing.T) {
	cfg := baseRun(writeCSV(t, "region,age\nnorth,30\nsouth\n"))

	res, err := Run(context.Background(), cfg)
	var re *source.ReadError
	if !errors.As(err, &re) {
		t.Fatalf("expected *source.ReadError, got %v", err)
	}
	if res == nil {
		t.Fatal("expected partial result alongside the error")
	}
}

// cancelTrigger is a reducer that cancels the run's context after observing a
// fixed number of cells, giving a deterministic mid-run cancellation point.
type cancelTrigger struct {
	after  int64
	seen   atomic.Int64
	cancel context.CancelFunc
}

func (c *cancelTrigger) Identity() any { return int64(0) }
func (c *cancelTrigger) Add(acc any, v any) any {
	if c.seen.Add(1) == c.after {
		c.cancel()
	}
	return acc.(int64) + 1
}
func (c *cancelTrigger) Combine(a, b any) any { return a.(int64) + b.(int64) }
func (c *cancelTrigger) Result(acc any) any   { return acc.(int64) }

var trigger = &cancelTrigger{}

func init() { aggregate.Register("canceltrigger", trigger) }

func TestRunCancellationKeepsCompletedPartitions(t *testing.T) {
	// Two rows per partition, 20 partitions in total. The trigger fires on
	// the first cell of the third partition, while the reader is still far
	// from the end of the file and blocked on the bounded channel, so the
	// run deterministically ends in context.Canceled with exactly three
	// partitions completed.
	var sb strings.Builder
	sb.WriteString("region,age\n")
	sb.WriteString("north,1\nnorth,2\n")
	sb.WriteString("south,3\nsouth,4\n")
	sb.WriteString("east,5\neast,6\n")
	for i := 0; i < 34; i++ {
		sb.WriteString("west,7\n")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	trigger.after = 5
	trigger.cancel = cancel

	cfg := baseRun(writeCSV(t, sb.String()))
	cfg.Runtime.PartitionRows = 2
	cfg.Runtime.Workers = 1
	cfg.Runtime.ChannelBuffer = 2
	cfg.Reducers = []config.Reducer{
		{Op: "count"},
		{Name: "cells", Op: "canceltrigger", Column: "age"},
	}

	res, err := Run(ctx, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v; want context.Canceled", err)
	}
	if !res.Cancelled {
		t.Fatal("result not marked cancelled")
	}
	if res.Summary.Partitions != 3 {
		t.Fatalf("partitions completed = %d; want 3", res.Summary.Partitions)
	}
	if res.Summary.RowsAggregated != 6 {
		t.Fatalf("rows aggregated = %d; want 6", res.Summary.RowsAggregated)
	}
	// Partial table reflects exactly the completed partitions.
	if len(res.Table.Rows) != 3 {
		t.Fatalf("groups = %d; want 3 (west never processed)", len(res.Table.Rows))
	}
	for _, row := range res.Table.Rows {
		if row[0] == "west" {
			t.Fatalf("west group present in partial table: %v", res.Table.Rows)
		}
	}
}

func TestRunUsesReaderSeam(t *testing.T) {
	orig := newReaderFn
	defer func() { newReaderFn = orig }()

	pt := partition.New(0, 1, []string{"region", "age"}, 1)
	pt.Rows = [][]any{{"north", "30"}}
	newReaderFn = func(ctx context.Context, rc io.ReadCloser, columns []string, p config.Parser, rt runtimeConfig) (source.PartitionReader, error) {
		return &staticReader{parts: []*partition.Partition{pt}}, nil
	}

	cfg := baseRun(writeCSV(t, "region,age\n"))
	res, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary.RowsRead != 1 {
		t.Fatalf("rows read = %d; want 1 (from seam)", res.Summary.RowsRead)
	}
}

type staticReader struct {
	parts []*partition.Partition
	i     int
	calls int
	eof   bool
}

func (r *staticReader) Next(ctx context.Context) (*partition.Partition, error) {
	r.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.i >= len(r.parts) {
		r.eof = true
		return nil, io.EOF
	}
	p := r.parts[r.i]
	r.i++
	return p, nil
}

func (r *staticReader) Close() error { return nil }

func TestRunFatalMismatchStopsReading(t *testing.T) {
	orig := newReaderFn
	defer func() { newReaderFn = orig }()

	// First partition has the wrong shape; fifty well-formed ones follow.
	// The run must surface the mismatch without draining the remainder.
	bad := partition.New(0, 1, []string{"region"}, 1)
	bad.Rows = [][]any{{"north"}}
	rdr := &staticReader{parts: []*partition.Partition{bad}}
	for i := 1; i <= 50; i++ {
		pt := partition.New(i, i+1, []string{"region", "age"}, 1)
		pt.Rows = [][]any{{"north", int64(i)}}
		rdr.parts = append(rdr.parts, pt)
	}
	newReaderFn = func(ctx context.Context, rc io.ReadCloser, columns []string, p config.Parser, rt runtimeConfig) (source.PartitionReader, error) {
		return rdr, nil
	}

	cfg := baseRun(writeCSV(t, "region,age\n"))
	cfg.Runtime.Workers = 1
	cfg.Runtime.ChannelBuffer = 2

	res, err := Run(context.Background(), cfg)
	var me *schema.MismatchError
	if !errors.As(err, &me) {
		t.Fatalf("expected *schema.MismatchError, got %v", err)
	}
	if res == nil {
		t.Fatal("expected partial result alongside the error")
	}
	if res.Cancelled {
		t.Fatal("fatal error must not be reported as cancellation")
	}
	if res.Summary.Partitions != 0 {
		t.Fatalf("partitions completed = %d; want 0", res.Summary.Partitions)
	}
	if rdr.eof {
		t.Fatal("reader drained the whole source after the fatal partition")
	}
	if rdr.calls >= len(rdr.parts) {
		t.Fatalf("reader Next calls = %d of %d; want far fewer", rdr.calls, len(rdr.parts))
	}
}

// genReader synthesizes fixed-size partitions of typed rows, cycling the
// region and leaving every thousandth age missing.
type genReader struct {
	partitions  int
	rowsPerPart int
	regions     []string
	next        int
}

func (g *genReader) Next(ctx context.Context) (*partition.Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.next >= g.partitions {
		return nil, io.EOF
	}
	idx := g.next
	g.next++
	start := idx*g.rowsPerPart + 1
	pt := partition.New(idx, start, []string{"region", "age"}, g.rowsPerPart)
	for r := 0; r < g.rowsPerPart; r++ {
		global := idx*g.rowsPerPart + r
		var age any = int64(global % 80)
		if global%1000 == 999 {
			age = nil
		}
		pt.Rows = append(pt.Rows, []any{g.regions[global%len(g.regions)], age})
	}
	return pt, nil
}

func (g *genReader) Close() error { return nil }

func TestRunMillionRowsFourRegions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping million-row run in short mode")
	}

	orig := newReaderFn
	defer func() { newReaderFn = orig }()
	newReaderFn = func(ctx context.Context, rc io.ReadCloser, columns []string, p config.Parser, rt runtimeConfig) (source.PartitionReader, error) {
		return &genReader{
			partitions:  100,
			rowsPerPart: 10000,
			regions:     []string{"north", "south", "east", "west"},
		}, nil
	}

	cfg := baseRun(writeCSV(t, "region,age\n"))
	cfg.Missing = map[string]config.Policy{
		"age": {Kind: "drop-row"},
	}
	cfg.Reducers = []config.Reducer{{Op: "count"}}
	cfg.Runtime.PartitionRows = 10000
	cfg.Runtime.Workers = 4

	res, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	s := res.Summary
	if s.RowsRead != 1_000_000 {
		t.Fatalf("rows read = %d; want 1000000", s.RowsRead)
	}
	if s.RowsDropped != 1000 {
		t.Fatalf("rows dropped = %d; want 1000", s.RowsDropped)
	}
	if s.RowsRead != s.RowsAggregated+s.RowsDropped {
		t.Fatalf("row accounting broken: read=%d aggregated=%d dropped=%d",
			s.RowsRead, s.RowsAggregated, s.RowsDropped)
	}
	if s.Partitions != 100 {
		t.Fatalf("partitions = %d; want 100", s.Partitions)
	}

	if len(res.Table.Rows) != 4 {
		t.Fatalf("groups = %d; want 4", len(res.Table.Rows))
	}
	var total int64
	for _, row := range res.Table.Rows {
		total += row[1].(int64)
	}
	if total != 1_000_000-1000 {
		t.Fatalf("group counts sum to %d; want %d", total, 1_000_000-1000)
	}
}
