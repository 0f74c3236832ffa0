package partition

// CellSet is a sparse per-row bitset used to mark individual cells.
// Rows with no marks carry no storage, so the common all-valid partition
// costs a few pointers at most.
type CellSet struct {
	cols int
	rows [][]uint64
}

// NewCellSet returns a CellSet for partitions with the given column count.
func NewCellSet(cols int) *CellSet {
	return &CellSet{cols: cols}
}

// Add sets the bit for cell (row, col). Negative positions are ignored.
func (s *CellSet) Add(row, col int) {
	if row < 0 || col < 0 {
		return
	}
	for len(s.rows) <= row {
		s.rows = append(s.rows, nil)
	}
	word := col / 64
	if need := word + 1; len(s.rows[row]) < need {
		grown := make([]uint64, need)
		copy(grown, s.rows[row])
		s.rows[row] = grown
	}
	s.rows[row][word] |= 1 << uint(col%64)
}

// Has reports whether the bit for cell (row, col) is set.
func (s *CellSet) Has(row, col int) bool {
	if row < 0 || col < 0 || row >= len(s.rows) {
		return false
	}
	word := col / 64
	if word >= len(s.rows[row]) {
		return false
	}
	return s.rows[row][word]&(1<<uint(col%64)) != 0
}

// Remove clears the bit for cell (row, col) if present.
func (s *CellSet) Remove(row, col int) {
	if row < 0 || col < 0 || row >= len(s.rows) {
		return
	}
	word := col / 64
	if word >= len(s.rows[row]) {
		return
	}
	s.rows[row][word] &^= 1 << uint(col%64)
}

// ShiftRowsAfter drops the marks of row i and shifts later rows up by one.
// It mirrors Partition.DropRow so marks stay aligned with row positions.
func (s *CellSet) ShiftRowsAfter(i int) {
	if i < 0 || i >= len(s.rows) {
		return
	}
	s.rows = append(s.rows[:i], s.rows[i+1:]...)
}

// GrowCols raises the column capacity. Existing marks are unaffected; word
// slices grow on demand in Add.
func (s *CellSet) GrowCols(cols int) {
	if cols > s.cols {
		s.cols = cols
	}
}
