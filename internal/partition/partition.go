// Package partition defines the unit of streaming and parallelism: a bounded
// batch of rows pulled from the source, processed once, and discarded.
package partition

// Partition is a bounded batch of rows sharing one column layout.
//
// Contract:
//   - Rows[i][j] holds the cell for column Columns[j]; values are string,
//     int64, float64, bool, or nil (missing).
//   - A partition is owned by exactly one worker at a time; it is never
//     shared across goroutines and never reused after aggregation.
//   - StartRow is the 1-based data row number of Rows[0] in the source
//     (headers excluded), so absolute row positions survive partitioning.
type Partition struct {
	Index    int
	StartRow int
	Columns  []string
	Rows     [][]any

	invalid *CellSet
}

// New returns an empty partition with the given layout and row capacity.
func New(index, startRow int, columns []string, capacity int) *Partition {
	return &Partition{
		Index:    index,
		StartRow: startRow,
		Columns:  columns,
		Rows:     make([][]any, 0, capacity),
	}
}

// RowNumber returns the absolute 1-based data row number of Rows[i].
func (p *Partition) RowNumber(i int) int { return p.StartRow + i }

// ColumnIndex returns the position of the named column, or -1.
func (p *Partition) ColumnIndex(name string) int {
	for i, c := range p.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// MarkInvalid records that cell (row, col) failed a schema check. Invalid
// cells are kept in place; the missing-data resolver treats them like nulls.
func (p *Partition) MarkInvalid(row, col int) {
	if p.invalid == nil {
		p.invalid = NewCellSet(len(p.Columns))
	}
	p.invalid.Add(row, col)
}

// Invalid reports whether cell (row, col) was marked by the validator.
func (p *Partition) Invalid(row, col int) bool {
	return p.invalid != nil && p.invalid.Has(row, col)
}

// ClearInvalid removes the mark for cell (row, col); used after imputation.
func (p *Partition) ClearInvalid(row, col int) {
	if p.invalid != nil {
		p.invalid.Remove(row, col)
	}
}

// DropRow removes row i, keeping relative order of the remaining rows.
// Invalid marks for following rows are shifted accordingly.
func (p *Partition) DropRow(i int) {
	p.Rows = append(p.Rows[:i], p.Rows[i+1:]...)
	if p.invalid != nil {
		p.invalid.ShiftRowsAfter(i)
	}
}

// AddColumn appends a column with the given values (one per row). It is used
// by the flag-only missing-data policy to attach companion markers.
func (p *Partition) AddColumn(name string, values []any) {
	p.Columns = append(p.Columns, name)
	for i := range p.Rows {
		var v any
		if i < len(values) {
			v = values[i]
		}
		p.Rows[i] = append(p.Rows[i], v)
	}
	if p.invalid != nil {
		p.invalid.GrowCols(len(p.Columns))
	}
}
