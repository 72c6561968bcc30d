package grid

import (
	"fmt"
	"sync/atomic"
)

// Row is a fixed-width, immutable sequence of cell values.
type Row struct {
	cells []Value
}

// NewRow copies vals into a row of exactly width cells, padding with Empty.
func NewRow(width int, vals []Value) Row {
	if width < len(vals) {
		width = len(vals)
	}
	cells := make([]Value, width)
	copy(cells, vals)
	return Row{cells: cells}
}

// Len is the number of cells in the row.
func (r Row) Len() int { return len(r.cells) }

// Cell returns the value at col; columns outside the row are Empty.
func (r Row) Cell(col int) Value {
	if col < 0 || col >= len(r.cells) {
		return Value{}
	}
	return r.cells[col]
}

// Values returns a copy of the row's cells.
func (r Row) Values() []Value {
	out := make([]Value, len(r.cells))
	copy(out, r.cells)
	return out
}

var generations atomic.Uint64

// Sheet identifies one tabular unit of a source. Its dimensions never change;
// reopening a sheet yields a new handle.
type Sheet struct {
	Name        string
	Index       int
	RowCount    int
	ColumnCount int
	HasFormulas bool
	// Headers holds column titles when the source has a header row.
	Headers []string

	gen uint64
}

// NewSheet stamps a fresh handle.
func NewSheet(name string, index, rows, cols int) Sheet {
	return Sheet{
		Name:        name,
		Index:       index,
		RowCount:    rows,
		ColumnCount: cols,
		gen:         generations.Add(1),
	}
}

// Same reports whether s and o are the same handle.
func (s Sheet) Same(o Sheet) bool {
	return s.gen == o.gen && s.Name == o.Name && s.Index == o.Index
}

// Header returns the column title, falling back to the column letters.
func (s Sheet) Header(col int) string {
	if col >= 0 && col < len(s.Headers) && s.Headers[col] != "" {
		return s.Headers[col]
	}
	return ColToName(col)
}

func (s Sheet) String() string {
	return fmt.Sprintf("%s (%d rows x %d columns)", s.Name, s.RowCount, s.ColumnCount)
}
