package resolve

import (
	"testing"

	"aggpipe/internal/config"
	"aggpipe/internal/partition"
	"aggpipe/internal/schema"
)

var fields = []schema.Field{
	{Name: "region", Type: "string"},
	{Name: "age", Type: "int", Nullable: true},
	{Name: "income", Type: "float", Nullable: true},
}

func newPartition(rows [][]any) *partition.Partition {
	p := partition.New(0, 1, []string{"region", "age", "income"}, len(rows))
	p.Rows = rows
	return p
}

func TestDropRow(t *testing.T) {
	r, err := New(fields, map[string]config.Policy{
		"age": {Kind: "drop-row"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p := newPartition([][]any{
		{"north", int64(30), 1.0},
		{"south", nil, 2.0},
		{"east", int64(40), 3.0},
	})
	r.Apply(p)

	if len(p.Rows) != 2 {
		t.Fatalf("rows = %d; want 2", len(p.Rows))
	}
	if p.Rows[0][0] != "north" || p.Rows[1][0] != "east" {
		t.Fatalf("surviving rows out of order: %v", p.Rows)
	}
}

func TestDropRowTreatsInvalidAsMissing(t *testing.T) {
	r, err := New(fields, map[string]config.Policy{
		"age": {Kind: "drop-row"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p := newPartition([][]any{
		{"north", int64(-3), 1.0},
		{"south", int64(40), 2.0},
	})
	p.MarkInvalid(0, 1) // the checker flagged -3 as out of range
	r.Apply(p)

	if len(p.Rows) != 1 {
		t.Fatalf("rows = %d; want 1", len(p.Rows))
	}
	if p.Rows[0][0] != "south" {
		t.Fatalf("wrong row dropped: %v", p.Rows)
	}
}

func TestImputeConstantIsIdempotent(t *testing.T) {
	r, err := New(fields, map[string]config.Policy{
		"age": {Kind: "impute-constant", Value: float64(18)},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p := newPartition([][]any{
		{"north", nil, 1.0},
		{"south", int64(40), 2.0},
	})
	p.MarkInvalid(0, 1)

	if got := r.Apply(p); got != 1 {
		t.Fatalf("imputed count = %d; want 1", got)
	}
	if got := p.Rows[0][1]; got != int64(18) {
		t.Fatalf("imputed cell = %v (%T); want int64(18)", got, got)
	}
	if p.Invalid(0, 1) {
		t.Fatal("imputed cell still marked invalid")
	}
	if got := p.Rows[1][1]; got != int64(40) {
		t.Fatalf("present cell changed: %v", got)
	}

	// Second application changes nothing.
	if got := r.Apply(p); got != 0 {
		t.Fatalf("second Apply imputed %d cells; want 0", got)
	}
	if got := p.Rows[0][1]; got != int64(18) {
		t.Fatalf("second Apply changed cell to %v", got)
	}
	if len(p.Columns) != 3 {
		t.Fatalf("columns = %d; want 3", len(p.Columns))
	}
}

func TestImputeConstantTypeCheck(t *testing.T) {
	if _, err := New(fields, map[string]config.Policy{
		"age": {Kind: "impute-constant", Value: "teenager"},
	}); err == nil {
		t.Fatal("string constant for int column accepted")
	}
	if _, err := New(fields, map[string]config.Policy{
		"age": {Kind: "impute-constant", Value: float64(18.5)},
	}); err == nil {
		t.Fatal("fractional constant for int column accepted")
	}
}

func TestImputeStatisticMean(t *testing.T) {
	r, err := New(fields, map[string]config.Policy{
		"income": {Kind: "impute-statistic", Statistic: "mean"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p := newPartition([][]any{
		{"north", int64(1), 10.0},
		{"south", int64(2), nil},
		{"east", int64(3), 20.0},
	})
	if got := r.Apply(p); got != 1 {
		t.Fatalf("imputed count = %d; want 1", got)
	}

	if got := p.Rows[1][2]; got != 15.0 {
		t.Fatalf("imputed mean = %v; want 15", got)
	}
}

func TestImputeStatisticSkipsWhenNothingObserved(t *testing.T) {
	r, err := New(fields, map[string]config.Policy{
		"income": {Kind: "impute-statistic", Statistic: "mean"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p := newPartition([][]any{
		{"north", int64(1), nil},
	})
	r.Apply(p)

	if p.Rows[0][2] != nil {
		t.Fatalf("cell imputed with no observations: %v", p.Rows[0][2])
	}
}

func TestImputeStatisticMode(t *testing.T) {
	r, err := New(fields, map[string]config.Policy{
		"region": {Kind: "impute-statistic", Statistic: "mode"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p := newPartition([][]any{
		{"north", int64(1), 1.0},
		{"south", int64(2), 2.0},
		{"north", int64(3), 3.0},
		{nil, int64(4), 4.0},
	})
	r.Apply(p)

	if got := p.Rows[3][0]; got != "north" {
		t.Fatalf("mode imputed %v; want north", got)
	}
}

func TestFlagOnlyDefaultAndIdempotence(t *testing.T) {
	// No policy configured: every column defaults to flag-only.
	r, err := New(fields, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p := newPartition([][]any{
		{"north", nil, 1.0},
		{"south", int64(40), nil},
	})
	r.Apply(p)

	if len(p.Columns) != 6 {
		t.Fatalf("columns = %d; want 6 (three markers added)", len(p.Columns))
	}
	ai := p.ColumnIndex("age" + FlagSuffix)
	if ai < 0 {
		t.Fatal("age marker column not added")
	}
	if p.Rows[0][ai] != true || p.Rows[1][ai] != false {
		t.Fatalf("age marker = %v, %v; want true, false", p.Rows[0][ai], p.Rows[1][ai])
	}
	if p.Rows[0][1] != nil {
		t.Fatalf("flag-only mutated the cell: %v", p.Rows[0][1])
	}

	// Re-applying must not duplicate markers.
	r.Apply(p)
	if len(p.Columns) != 6 {
		t.Fatalf("columns after second Apply = %d; want 6", len(p.Columns))
	}
}

func TestRunningStatMedianAndModeTieBreak(t *testing.T) {
	s := newRunningStat()
	for _, v := range []float64{5, 1, 3} {
		s.observe(v, "float")
	}
	med, ok := s.estimate("median", "float")
	if !ok || med != 3.0 {
		t.Fatalf("median = %v,%v; want 3", med, ok)
	}

	m := newRunningStat()
	m.observe("b", "string")
	m.observe("a", "string")
	mode, ok := m.estimate("mode", "string")
	if !ok || mode != "a" {
		t.Fatalf("mode tie-break = %v,%v; want a (lexicographic)", mode, ok)
	}
}
