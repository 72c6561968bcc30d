package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"sheetview/internal/grid"
)

// XLSX reads worksheets of an Excel workbook. Each worksheet is measured once
// at open; rows are streamed on demand.
type XLSX struct {
	path string
	opts Options

	mu     sync.Mutex
	file   *excelize.File
	sheets []grid.Sheet
	skip   int
	cur    *cursor
}

// cursor is a row iterator left open where the last read stopped, so reads
// that continue forward do not stream the worksheet from the top again.
type cursor struct {
	sheet string
	rows  *excelize.Rows
	next  int // 0-based worksheet row the next call to Next yields
}

func OpenXLSX(path string, opts Options) (*XLSX, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &SourceError{Op: "open", Path: path, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
	}
	x := &XLSX{path: path, opts: opts, file: f}
	if opts.HeaderRow {
		x.skip = 1
	}
	for i, name := range f.GetSheetList() {
		sh, err := x.measure(name, i)
		if err != nil {
			f.Close()
			return nil, err
		}
		x.sheets = append(x.sheets, sh)
	}
	if len(x.sheets) == 0 {
		f.Close()
		return nil, &SourceError{Op: "open", Path: path, Err: fmt.Errorf("%w: workbook has no worksheets", ErrCorrupt)}
	}
	return x, nil
}

// measure streams one worksheet to find its dimensions and header row.
func (x *XLSX) measure(name string, index int) (grid.Sheet, error) {
	rows, err := x.file.Rows(name)
	if err != nil {
		return grid.Sheet{}, &SourceError{Op: "open", Path: x.path, Err: fmt.Errorf("%w: sheet %s: %v", ErrCorrupt, name, err)}
	}
	defer rows.Close()

	var (
		n       int
		cols    int
		headers []string
	)
	for rows.Next() {
		rec, err := rows.Columns()
		if err != nil {
			return grid.Sheet{}, &SourceError{Op: "open", Path: x.path, Err: fmt.Errorf("%w: sheet %s: %v", ErrCorrupt, name, err)}
		}
		if n == 0 && x.opts.HeaderRow {
			headers = make([]string, len(rec))
			for i, h := range rec {
				headers[i] = strings.TrimSpace(sanitize(h))
			}
		}
		cols = max(cols, len(rec))
		n++
	}

	count := n
	if n > 0 {
		count = n - x.skip
	}
	sh := grid.NewSheet(name, index, count, cols)
	sh.Headers = headers
	sh.HasFormulas = x.opts.Formulas
	slog.Debug("xlsx sheet measured", "path", x.path, "sheet", name, "rows", count, "columns", cols)
	return sh, nil
}

func (x *XLSX) Sheets() []grid.Sheet {
	out := make([]grid.Sheet, len(x.sheets))
	copy(out, x.sheets)
	return out
}

func (x *XLSX) FetchRows(ctx context.Context, sheet grid.Sheet, start, end int) ([]grid.Row, error) {
	if _, ok := lookup(x.sheets, sheet); !ok {
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

	raw, err := x.readRows(ctx, sheet.Name, start+x.skip, end-start)
	if err != nil {
		return nil, err
	}
	out := make([]grid.Row, 0, len(raw))
	for i, rec := range raw {
		out = append(out, x.convert(sheet, sheet.Name, start+x.skip+i, 0, rec))
	}
	return out, nil
}

// convert builds a row of sheet from the worksheet record of fileRow, taking
// columns from left on. Callers hold mu.
func (x *XLSX) convert(sheet grid.Sheet, name string, fileRow, left int, rec []string) grid.Row {
	vals := make([]grid.Value, sheet.ColumnCount)
	for col := range vals {
		text := ""
		if left+col < len(rec) {
			text = sanitize(rec[left+col])
		}
		vals[col] = inferValue(text)
		if x.opts.Formulas {
			if formula := x.formula(name, fileRow, left+col); formula != "" {
				vals[col] = grid.Formula(formula, vals[col])
			}
		}
	}
	return grid.NewRow(sheet.ColumnCount, vals)
}

// readRows streams count rows starting at 0-based worksheet row first,
// continuing the open cursor when the read starts at or after it. Callers
// hold mu.
func (x *XLSX) readRows(ctx context.Context, name string, first, count int) ([][]string, error) {
	cur, err := x.seek(ctx, name, first)
	if err != nil || cur == nil {
		return nil, err
	}
	out := make([][]string, 0, count)
	for len(out) < count {
		if len(out)%checkpointEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !cur.rows.Next() {
			err := cur.rows.Error()
			x.closeCursor()
			if err != nil {
				return nil, &SourceError{Op: "fetch", Path: x.path, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
			}
			break
		}
		cur.next++
		rec, err := cur.rows.Columns()
		if err != nil {
			x.closeCursor()
			return nil, &SourceError{Op: "fetch", Path: x.path, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
		}
		out = append(out, rec)
	}
	return out, nil
}

// seek positions the cursor on worksheet row first of name, reopening the
// worksheet when the cursor is elsewhere or already past it. A nil cursor
// means the worksheet ends before first.
func (x *XLSX) seek(ctx context.Context, name string, first int) (*cursor, error) {
	if x.cur != nil && (x.cur.sheet != name || x.cur.next > first) {
		x.closeCursor()
	}
	if x.cur == nil {
		rows, err := x.file.Rows(name)
		if err != nil {
			return nil, &SourceError{Op: "fetch", Path: x.path, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
		}
		x.cur = &cursor{sheet: name, rows: rows}
	}
	for x.cur.next < first {
		if x.cur.next%checkpointEvery == 0 {
			if err := ctx.Err(); err != nil {
				x.closeCursor()
				return nil, err
			}
		}
		if !x.cur.rows.Next() {
			x.closeCursor()
			return nil, nil
		}
		x.cur.next++
	}
	return x.cur, nil
}

func (x *XLSX) closeCursor() {
	if x.cur == nil {
		return
	}
	x.cur.rows.Close()
	x.cur = nil
}

func (x *XLSX) formula(sheet string, row, col int) string {
	cell, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return ""
	}
	formula, err := x.file.GetCellFormula(sheet, cell)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(formula, "=")
}

func (x *XLSX) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.file == nil {
		return nil
	}
	x.closeCursor()
	err := x.file.Close()
	x.file = nil
	return err
}
