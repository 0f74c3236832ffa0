// Package resolve applies per-column missing-data policies to partitions.
//
// A cell is "missing" when it is nil or was marked invalid by the schema
// checker. Four policies exist: drop-row removes the whole row,
// impute-constant and impute-statistic replace the cell in place, and
// flag-only leaves the cell untouched and records a boolean companion
// marker. Policies are mutually exclusive per column and selected entirely
// by configuration.
//
// Applying a resolver twice is a no-op for impute-* and flag-only: imputed
// cells are no longer missing, and the companion column is only added once.
package resolve

import (
	"fmt"
	"math"

	"aggpipe/internal/config"
	"aggpipe/internal/partition"
	"aggpipe/internal/schema"
)

// FlagSuffix names the companion column added by the flag-only policy.
const FlagSuffix = "_missing"

// Resolver applies the configured policies to partitions. It is safe for
// concurrent use: the only shared mutable state is the per-column running
// statistics, which guard themselves.
type Resolver struct {
	columns  []string
	policies []colPolicy
}

type colPolicy struct {
	kind      string // "", "drop-row", "impute-constant", "impute-statistic", "flag-only"
	value     any    // typed constant for impute-constant
	statistic string
	stats     *runningStat
	colKind   string // normalized schema kind of the column
}

// New compiles policies against the schema's column order. Policy kinds and
// statistics are assumed valid (config.Check ran first); the constant value
// of impute-constant is coerced to the column's type here, since that cannot
// be expressed in the static linter.
func New(fields []schema.Field, policies map[string]config.Policy) (*Resolver, error) {
	r := &Resolver{
		columns:  make([]string, len(fields)),
		policies: make([]colPolicy, len(fields)),
	}
	for i, f := range fields {
		r.columns[i] = f.Name
		pol, ok := policies[f.Name]
		if !ok {
			r.policies[i] = colPolicy{kind: "flag-only", colKind: schema.NormalizeKind(f.Type)}
			continue
		}
		cp := colPolicy{kind: pol.Kind, statistic: pol.Statistic, colKind: schema.NormalizeKind(f.Type)}
		switch pol.Kind {
		case "impute-constant":
			v, err := coerceConstant(pol.Value, cp.colKind)
			if err != nil {
				return nil, fmt.Errorf("impute-constant for column %q: %w", f.Name, err)
			}
			cp.value = v
		case "impute-statistic":
			cp.stats = newRunningStat()
		}
		r.policies[i] = cp
	}
	return r, nil
}

// Apply resolves p in place and returns the number of cells filled by the
// impute-* policies. The row count only shrinks when a drop-row column has
// missing cells; all other policies preserve it.
func (r *Resolver) Apply(p *partition.Partition) int {
	// Running statistics learn from this partition's present cells before
	// any imputation, so estimates never feed on their own output.
	for ci := range r.policies {
		cp := &r.policies[ci]
		if cp.kind != "impute-statistic" {
			continue
		}
		for ri, row := range p.Rows {
			if row[ci] == nil || p.Invalid(ri, ci) {
				continue
			}
			cp.stats.observe(row[ci], cp.colKind)
		}
	}

	// drop-row first: a dropped row must not be imputed or flagged.
	for ri := len(p.Rows) - 1; ri >= 0; ri-- {
		for ci := range r.policies {
			if r.policies[ci].kind != "drop-row" {
				continue
			}
			if p.Rows[ri][ci] == nil || p.Invalid(ri, ci) {
				p.DropRow(ri)
				break
			}
		}
	}

	imputed := 0
	for ci := range r.policies {
		cp := &r.policies[ci]
		switch cp.kind {
		case "impute-constant":
			for ri, row := range p.Rows {
				if row[ci] == nil || p.Invalid(ri, ci) {
					row[ci] = cp.value
					p.ClearInvalid(ri, ci)
					imputed++
				}
			}
		case "impute-statistic":
			est, ok := cp.stats.estimate(cp.statistic, cp.colKind)
			if !ok {
				continue // nothing observed yet; cells stay missing
			}
			for ri, row := range p.Rows {
				if row[ci] == nil || p.Invalid(ri, ci) {
					row[ci] = est
					p.ClearInvalid(ri, ci)
					imputed++
				}
			}
		case "flag-only":
			flagColumn(p, ci, r.columns[ci])
		}
	}
	return imputed
}

// flagColumn attaches the boolean companion marker for column ci. When the
// marker column already exists (a re-applied partition) nothing changes.
func flagColumn(p *partition.Partition, ci int, name string) {
	marker := name + FlagSuffix
	if p.ColumnIndex(marker) >= 0 {
		return
	}
	values := make([]any, len(p.Rows))
	for ri, row := range p.Rows {
		values[ri] = row[ci] == nil || p.Invalid(ri, ci)
	}
	p.AddColumn(marker, values)
}

// coerceConstant converts a JSON-decoded constant to the column's cell type.
func coerceConstant(v any, kind string) (any, error) {
	switch kind {
	case "int":
		switch t := v.(type) {
		case float64:
			if t != math.Trunc(t) {
				return nil, fmt.Errorf("value %v is not an integer", t)
			}
			return int64(t), nil
		case int:
			return int64(t), nil
		case int64:
			return t, nil
		}
	case "float":
		switch t := v.(type) {
		case float64:
			return t, nil
		case int:
			return float64(t), nil
		case int64:
			return float64(t), nil
		}
	case "bool":
		if b, ok := v.(bool); ok {
			return b, nil
		}
	default:
		if s, ok := v.(string); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("value %v (%T) does not fit column type %q", v, v, kind)
}
