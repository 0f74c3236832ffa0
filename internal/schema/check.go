package schema

import (
	"fmt"
	"strconv"
	"time"

	"aggpipe/internal/partition"
	"aggpipe/internal/report"
)

// MismatchError reports a structural shape violation: the partition's column
// layout does not line up with the schema. Unlike per-cell findings this is
// fatal and aborts the run.
type MismatchError struct {
	Partition int
	Row       int // 0 when the mismatch is at the partition level
	Detail    string
}

func (e *MismatchError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("schema mismatch in partition %d at row %d: %s", e.Partition, e.Row, e.Detail)
	}
	return fmt.Sprintf("schema mismatch in partition %d: %s", e.Partition, e.Detail)
}

// Checker caches per-field metadata so the hot per-cell loop avoids repeated
// normalization and map lookups.
type Checker struct {
	fields []fieldMeta
}

type fieldMeta struct {
	name     string
	kind     string
	nullable bool
	min, max *float64
	enumSet  map[string]struct{}
}

// NewChecker compiles a Schema into a reusable per-cell checker. The schema
// must already have passed Validate.
func NewChecker(s Schema) *Checker {
	c := &Checker{fields: make([]fieldMeta, len(s.Fields))}
	for i, f := range s.Fields {
		m := fieldMeta{
			name:     f.Name,
			kind:     NormalizeKind(f.Type),
			nullable: f.Nullable,
			min:      f.Min,
			max:      f.Max,
		}
		if len(f.Enum) > 0 {
			m.enumSet = make(map[string]struct{}, len(f.Enum))
			for _, v := range f.Enum {
				m.enumSet[v] = struct{}{}
			}
		}
		c.fields[i] = m
	}
	return c
}

// Check evaluates every cell of p against the schema. Cells that parse are
// coerced in place to their typed form (int64, float64, bool, string); cells
// that fail a check are marked invalid on the partition and returned as
// findings. Rows are never removed here.
//
// The only error returned is a *MismatchError when the partition's shape does
// not match the declared columns.
func (c *Checker) Check(p *partition.Partition) ([]report.Violation, error) {
	if len(p.Columns) != len(c.fields) {
		return nil, &MismatchError{
			Partition: p.Index,
			Detail:    fmt.Sprintf("partition has %d columns, schema declares %d", len(p.Columns), len(c.fields)),
		}
	}
	for i, f := range c.fields {
		if p.Columns[i] != f.name {
			return nil, &MismatchError{
				Partition: p.Index,
				Detail:    fmt.Sprintf("column %d is %q, schema declares %q", i, p.Columns[i], f.name),
			}
		}
	}

	var findings []report.Violation
	flag := func(row, col int, reason string, val any) {
		p.MarkInvalid(row, col)
		findings = append(findings, report.Violation{
			Partition: p.Index,
			Row:       p.RowNumber(row),
			Column:    c.fields[col].name,
			Reason:    reason,
			Value:     CellString(val),
		})
	}

	for ri, row := range p.Rows {
		if len(row) != len(c.fields) {
			return findings, &MismatchError{
				Partition: p.Index,
				Row:       p.RowNumber(ri),
				Detail:    fmt.Sprintf("row has %d cells, schema declares %d columns", len(row), len(c.fields)),
			}
		}
		for ci := range c.fields {
			f := &c.fields[ci]
			val := row[ci]

			if val == nil {
				if !f.nullable {
					flag(ri, ci, report.ReasonNullDisallowed, nil)
				}
				continue
			}

			switch f.kind {
			case "int":
				n, ok := coerceInt(val)
				if !ok {
					flag(ri, ci, report.ReasonTypeMismatch, val)
					continue
				}
				row[ci] = n
				if outOfRange(float64(n), f.min, f.max) {
					flag(ri, ci, report.ReasonOutOfRange, n)
				}
			case "float":
				x, ok := coerceFloat(val)
				if !ok {
					flag(ri, ci, report.ReasonTypeMismatch, val)
					continue
				}
				row[ci] = x
				if outOfRange(x, f.min, f.max) {
					flag(ri, ci, report.ReasonOutOfRange, x)
				}
			case "bool":
				b, ok := coerceBool(val)
				if !ok {
					flag(ri, ci, report.ReasonTypeMismatch, val)
					continue
				}
				row[ci] = b
			default: // string
				s, isStr := val.(string)
				if !isStr {
					s = CellString(val)
					row[ci] = s
				}
				if f.enumSet != nil {
					if _, ok := f.enumSet[s]; !ok {
						flag(ri, ci, report.ReasonNotInEnum, s)
					}
				}
			}
		}
	}
	return findings, nil
}

func outOfRange(v float64, min, max *float64) bool {
	if min != nil && v < *min {
		return true
	}
	if max != nil && v > *max {
		return true
	}
	return false
}

func coerceInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		if t == float64(int64(t)) {
			return int64(t), true
		}
		return 0, false
	case string:
		return ToInt(t)
	default:
		return 0, false
	}
}

func coerceFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case string:
		return ToFloat(t)
	default:
		return 0, false
	}
}

func coerceBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		return ToBool(t)
	default:
		return false, false
	}
}

// CellString converts common cell types without fmt.Sprint overhead.
func CellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}
