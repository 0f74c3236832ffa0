// Package aggregate implements streaming group-by aggregation over
// partitions. Each worker folds its partitions into a Partial; partials merge
// pairwise into a final result. Because every reducer is associative and
// commutative, the final table is identical no matter how rows were split
// into partitions or which worker processed which.
package aggregate

import (
	"fmt"
	"sort"

	"aggpipe/internal/config"
	"aggpipe/internal/encode"
	"aggpipe/internal/partition"
)

// Aggregator holds the immutable plan of one aggregation: the grouping
// columns and the reducer specs. It is shared read-only by all workers.
type Aggregator struct {
	groupBy []string
	specs   []spec
	enc     *encode.Encoder
}

type spec struct {
	name   string
	column string
	op     string
	kind   string // normalized schema kind of the input column
	custom CustomReducer
}

// New builds an aggregation plan. kinds maps column name to its normalized
// schema kind and drives the numeric accumulator choice. enc may be nil when
// no columns are dictionary-encoded.
func New(groupBy []string, reducers []config.Reducer, kinds map[string]string, enc *encode.Encoder) (*Aggregator, error) {
	a := &Aggregator{
		groupBy: append([]string(nil), groupBy...),
		specs:   make([]spec, len(reducers)),
		enc:     enc,
	}
	for i, rd := range reducers {
		s := spec{
			name:   rd.OutputName(),
			column: rd.Column,
			op:     rd.Op,
			kind:   kinds[rd.Column],
		}
		switch rd.Op {
		case "count", "sum", "min", "max", "mean":
		default:
			r, ok := lookupCustom(rd.Op)
			if !ok {
				return nil, fmt.Errorf("unknown reducer op %q", rd.Op)
			}
			s.custom = r
		}
		a.specs[i] = s
	}
	return a, nil
}

// Columns returns the output column layout: group-by columns followed by
// reducer output names.
func (a *Aggregator) Columns() []string {
	cols := make([]string, 0, len(a.groupBy)+len(a.specs))
	cols = append(cols, a.groupBy...)
	for _, s := range a.specs {
		cols = append(cols, s.name)
	}
	return cols
}

func (a *Aggregator) newAccs() []accumulator {
	accs := make([]accumulator, len(a.specs))
	for i, s := range a.specs {
		switch s.op {
		case "count":
			accs[i] = &countAcc{}
		case "sum":
			if s.kind == "int" {
				accs[i] = &intSumAcc{}
			} else {
				accs[i] = &floatSumAcc{}
			}
		case "mean":
			accs[i] = &meanAcc{}
		case "min":
			accs[i] = &minMaxAcc{}
		case "max":
			accs[i] = &minMaxAcc{max: true}
		default:
			accs[i] = &customAcc{r: s.custom, acc: s.custom.Identity()}
		}
	}
	return accs
}

// bucket holds one group's accumulators. Buckets with the same key hash are
// chained.
type bucket struct {
	key  []any
	accs []accumulator
	next *bucket
}

// Partial is the per-worker aggregation state. It is not safe for concurrent
// use; each worker owns exactly one.
type Partial struct {
	agg     *Aggregator
	buckets map[uint64]*bucket
	groups  int
}

// NewPartial returns an empty partial for the plan.
func (a *Aggregator) NewPartial() *Partial {
	return &Partial{agg: a, buckets: make(map[uint64]*bucket)}
}

// Groups returns the number of distinct groups seen so far.
func (p *Partial) Groups() int { return p.groups }

// AddPartition folds every row of pt into the partial. Cells that are nil or
// marked invalid never reach a reducer; count still counts the row.
func (p *Partial) AddPartition(pt *partition.Partition) error {
	groupIx := make([]int, len(p.agg.groupBy))
	for i, col := range p.agg.groupBy {
		ci := pt.ColumnIndex(col)
		if ci < 0 {
			return fmt.Errorf("group column %q not present in partition %d", col, pt.Index)
		}
		groupIx[i] = ci
	}
	colIx := make([]int, len(p.agg.specs))
	for i, s := range p.agg.specs {
		colIx[i] = -1
		if s.op == "count" {
			continue
		}
		ci := pt.ColumnIndex(s.column)
		if ci < 0 {
			return fmt.Errorf("reducer column %q not present in partition %d", s.column, pt.Index)
		}
		colIx[i] = ci
	}

	var keyBuf []byte
	key := make([]any, len(groupIx))
	for ri, row := range pt.Rows {
		keyBuf = keyBuf[:0]
		for i, ci := range groupIx {
			v := row[ci]
			if pt.Invalid(ri, ci) {
				v = nil
			}
			key[i] = v
			keyBuf = appendKeyCell(keyBuf, v)
		}
		b := p.lookup(hashKey(keyBuf), key)
		for i, acc := range b.accs {
			ci := colIx[i]
			if ci < 0 {
				acc.add(nil) // count
				continue
			}
			if row[ci] == nil || pt.Invalid(ri, ci) {
				continue
			}
			acc.add(row[ci])
		}
	}
	return nil
}

// lookup finds or creates the bucket for the key, copying the key on create.
func (p *Partial) lookup(h uint64, key []any) *bucket {
	for b := p.buckets[h]; b != nil; b = b.next {
		if keysEqual(b.key, key) {
			return b
		}
	}
	b := &bucket{
		key:  append([]any(nil), key...),
		accs: p.agg.newAccs(),
		next: p.buckets[h],
	}
	p.buckets[h] = b
	p.groups++
	return b
}

// Merge folds other into p. other must come from the same plan and must not
// be used afterwards.
func (p *Partial) Merge(other *Partial) {
	var keyBuf []byte
	for _, ob := range other.buckets {
		for ; ob != nil; ob = ob.next {
			keyBuf = keyBuf[:0]
			for _, v := range ob.key {
				keyBuf = appendKeyCell(keyBuf, v)
			}
			b := p.lookup(hashKey(keyBuf), ob.key)
			for i := range b.accs {
				b.accs[i].combine(ob.accs[i])
			}
		}
	}
}

// Table is the final aggregation output.
type Table struct {
	Columns []string
	Rows    [][]any
}

// Final materializes the partial into a table. Dictionary-encoded group
// columns are decoded back to their string values. When sorted is true rows
// are ordered ascending by group key with nulls last; otherwise row order is
// unspecified.
func (p *Partial) Final(sorted bool) Table {
	t := Table{Columns: p.agg.Columns(), Rows: make([][]any, 0, p.groups)}
	for _, b := range p.buckets {
		for ; b != nil; b = b.next {
			row := make([]any, 0, len(b.key)+len(b.accs))
			for i, v := range b.key {
				row = append(row, p.agg.decodeKey(i, v))
			}
			for _, acc := range b.accs {
				row = append(row, acc.result())
			}
			t.Rows = append(t.Rows, row)
		}
	}
	if sorted {
		nk := len(p.agg.groupBy)
		sort.SliceStable(t.Rows, func(i, j int) bool {
			for c := 0; c < nk; c++ {
				if cmp := compareCells(t.Rows[i][c], t.Rows[j][c]); cmp != 0 {
					return cmp < 0
				}
			}
			return false
		})
	}
	return t
}

// decodeKey maps a dictionary code back to its string for encoded group
// columns; everything else passes through.
func (a *Aggregator) decodeKey(i int, v any) any {
	if a.enc == nil {
		return v
	}
	d := a.enc.Dict(a.groupBy[i])
	if d == nil {
		return v
	}
	code, ok := v.(int64)
	if !ok {
		return v
	}
	if s, ok := d.Value(code); ok {
		return s
	}
	return v
}
