package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"sheetview/internal/grid"
)

var ErrUnknownTable = errors.New("table not found")

// Table is a named Excel table: a block of one worksheet whose first row
// holds the column names.
type Table struct {
	Name  string
	Sheet string
	Ref   string // cell range such as "B2:D40", header included
	Rows  int    // data rows below the header
	Cols  int

	top, left int // 0-based worksheet position of the header cell
}

func newTable(sheet string, t excelize.Table) (Table, error) {
	from, to, ok := strings.Cut(t.Range, ":")
	if !ok {
		to = from
	}
	c1, r1, err := excelize.CellNameToCoordinates(from)
	if err != nil {
		return Table{}, fmt.Errorf("table %s: %w", t.Name, err)
	}
	c2, r2, err := excelize.CellNameToCoordinates(to)
	if err != nil {
		return Table{}, fmt.Errorf("table %s: %w", t.Name, err)
	}
	return Table{
		Name:  t.Name,
		Sheet: sheet,
		Ref:   t.Range,
		Rows:  max(r2-r1, 0),
		Cols:  max(c2-c1+1, 0),
		top:   min(r1, r2) - 1,
		left:  min(c1, c2) - 1,
	}, nil
}

// Tables lists the tables of every worksheet in workbook order.
func (x *XLSX) Tables() ([]Table, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.file == nil {
		return nil, &SourceError{Op: "tables", Path: x.path, Err: fmt.Errorf("workbook closed")}
	}
	var out []Table
	for _, sh := range x.sheets {
		tables, err := x.file.GetTables(sh.Name)
		if err != nil {
			return nil, &SourceError{Op: "tables", Path: x.path, Err: fmt.Errorf("%w: sheet %s: %v", ErrCorrupt, sh.Name, err)}
		}
		for _, t := range tables {
			tb, err := newTable(sh.Name, t)
			if err != nil {
				return nil, &SourceError{Op: "tables", Path: x.path, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
			}
			out = append(out, tb)
		}
	}
	return out, nil
}

// OpenTable narrows the workbook to the table called name, matched without
// regard to case as Excel does. The view owns x: closing it closes x.
func (x *XLSX) OpenTable(ctx context.Context, name string) (*TableView, error) {
	tables, err := x.Tables()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, t := range tables {
		if !strings.EqualFold(t.Name, name) {
			names = append(names, t.Name)
			continue
		}
		return x.tableView(ctx, t)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %q (the workbook has no tables)", ErrUnknownTable, name)
	}
	return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownTable, name, strings.Join(names, ", "))
}

func (x *XLSX) tableView(ctx context.Context, t Table) (*TableView, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	raw, err := x.readRows(ctx, t.Sheet, t.top, 1)
	if err != nil {
		return nil, err
	}
	headers := make([]string, t.Cols)
	if len(raw) == 1 {
		for i := range headers {
			if t.left+i < len(raw[0]) {
				headers[i] = strings.TrimSpace(sanitize(raw[0][t.left+i]))
			}
		}
	}
	sh := grid.NewSheet(t.Name, 0, t.Rows, t.Cols)
	sh.Headers = headers
	sh.HasFormulas = x.opts.Formulas
	return &TableView{x: x, table: t, sheet: sh}, nil
}

// TableView is a Source with a single sheet: the data rows of one table.
type TableView struct {
	x     *XLSX
	table Table
	sheet grid.Sheet
}

func (v *TableView) Table() Table         { return v.table }
func (v *TableView) Sheets() []grid.Sheet { return []grid.Sheet{v.sheet} }

func (v *TableView) FetchRows(ctx context.Context, sheet grid.Sheet, start, end int) ([]grid.Row, error) {
	x := v.x
	if !sheet.Same(v.sheet) {
		return nil, &SourceError{Op: "fetch", Path: x.path, Err: ErrUnknownSheet}
	}
	start, end = clampRange(sheet, start, end)
	if start >= end {
		return nil, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.file == nil {
		return nil, &SourceError{Op: "fetch", Path: x.path, Err: fmt.Errorf("workbook closed")}
	}
	first := v.table.top + 1 + start
	raw, err := x.readRows(ctx, v.table.Sheet, first, end-start)
	if err != nil {
		return nil, err
	}
	out := make([]grid.Row, 0, end-start)
	for i, rec := range raw {
		out = append(out, x.convert(v.sheet, v.table.Sheet, first+i, v.table.left, rec))
	}
	// trailing empty rows inside the table are not stored in the worksheet
	for len(out) < end-start {
		out = append(out, grid.NewRow(v.sheet.ColumnCount, nil))
	}
	return out, nil
}

func (v *TableView) Close() error { return v.x.Close() }
