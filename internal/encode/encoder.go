package encode

import (
	"aggpipe/internal/partition"
)

// Encoder replaces the configured string columns with dictionary codes,
// in place. One Encoder is shared by all workers; per-column dictionaries
// handle their own locking.
type Encoder struct {
	columns []string
	dicts   map[string]*Dictionary
}

// NewEncoder builds an encoder for the given column names. An empty list
// yields an encoder whose Apply is a no-op.
func NewEncoder(columns []string) *Encoder {
	e := &Encoder{
		columns: append([]string(nil), columns...),
		dicts:   make(map[string]*Dictionary, len(columns)),
	}
	for _, c := range columns {
		e.dicts[c] = NewDictionary()
	}
	return e
}

// Dict returns the dictionary for a column, or nil when the column is not
// encoded. The aggregation layer uses it to decode group keys for output.
func (e *Encoder) Dict(column string) *Dictionary {
	return e.dicts[column]
}

// Apply encodes the configured columns of p. Cells that are nil or were
// marked invalid are left untouched; only present string values are encoded.
// Cells that already hold an int64 (a re-applied partition) pass through.
func (e *Encoder) Apply(p *partition.Partition) {
	for _, col := range e.columns {
		ci := p.ColumnIndex(col)
		if ci < 0 {
			continue
		}
		d := e.dicts[col]
		for ri, row := range p.Rows {
			if row[ci] == nil || p.Invalid(ri, ci) {
				continue
			}
			if s, ok := row[ci].(string); ok {
				row[ci] = d.Code(s)
			}
		}
	}
}
