package aggregate

import (
	"strconv"
	"testing"

	"aggpipe/internal/config"
	"aggpipe/internal/partition"
)

/*
Micro-benchmarks for the aggregation hot path. The fold loop dominates run
time on large inputs, so regressions here show up directly in end-to-end
throughput. Use `go test -bench=. -benchmem ./internal/aggregate`.
*/

func benchPartition(rows, cardinality int) *partition.Partition {
	p := partition.New(0, 1, []string{"region", "age", "income"}, rows)
	for i := 0; i < rows; i++ {
		p.Rows = append(p.Rows, []any{
			"region-" + strconv.Itoa(i%cardinality),
			int64(i % 80),
			float64(i % 10000),
		})
	}
	return p
}

func BenchmarkAddPartition(b *testing.B) {
	cases := []struct {
		name     string
		reducers []config.Reducer
	}{
		{"count", []config.Reducer{{Op: "count"}}},
		{"count_sum", []config.Reducer{{Op: "count"}, {Op: "sum", Column: "age"}}},
		{"all_builtins", []config.Reducer{
			{Op: "count"},
			{Op: "sum", Column: "age"},
			{Op: "min", Column: "age"},
			{Op: "max", Column: "age"},
			{Op: "mean", Column: "income"},
		}},
	}

	pt := benchPartition(10000, 4)
	for _, c := range cases {
		b.Run(c.name, func(b *testing.B) {
			a, err := New([]string{"region"}, c.reducers, kinds, nil)
			if err != nil {
				b.Fatalf("New: %v", err)
			}
			p := a.NewPartial()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if err := p.AddPartition(pt); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkAddPartitionGroupCardinality(b *testing.B) {
	for _, card := range []int{4, 100, 10000} {
		pt := benchPartition(10000, card)
		b.Run("groups_"+strconv.Itoa(card), func(b *testing.B) {
			a, err := New([]string{"region"}, []config.Reducer{{Op: "count"}}, kinds, nil)
			if err != nil {
				b.Fatalf("New: %v", err)
			}
			p := a.NewPartial()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if err := p.AddPartition(pt); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkHashKey(b *testing.B) {
	keys := [][]any{
		{"north"},
		{"north", int64(42)},
		{"north", int64(42), 3.14, true},
		{nil},
	}
	names := []string{"string", "string_int", "mixed4", "null"}
	buf := make([]byte, 0, 64)
	for i, key := range keys {
		key := key
		b.Run(names[i], func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				buf = buf[:0]
				for _, c := range key {
					buf = appendKeyCell(buf, c)
				}
				if hashKey(buf) == 0 && len(buf) == 0 { // prevent compiler from eliding
					b.Fatal("impossible")
				}
			}
		})
	}
}

func BenchmarkMerge(b *testing.B) {
	a, err := New([]string{"region"}, []config.Reducer{
		{Op: "count"},
		{Op: "sum", Column: "age"},
	}, kinds, nil)
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	pt := benchPartition(10000, 1000)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		dst := a.NewPartial()
		src := a.NewPartial()
		if err := dst.AddPartition(pt); err != nil {
			b.Fatal(err)
		}
		if err := src.AddPartition(pt); err != nil {
			b.Fatal(err)
		}
		b.StartTimer()
		dst.Merge(src)
	}
}
