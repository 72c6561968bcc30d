package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"sheetview/internal/calc"
	"sheetview/internal/grid"
)

// checkpointEvery is the record spacing of the CSV offset index.
const checkpointEvery = 256

// maxFormulaDepth bounds reference chains followed while evaluating formulas.
const maxFormulaDepth = 2048

var bom = []byte{0xEF, 0xBB, 0xBF}

// CSV reads a delimited text file as a single sheet. Rows are never held in
// memory; a sparse index of record offsets lets FetchRows seek close to the
// requested range.
type CSV struct {
	path  string
	opts  Options
	comma rune
	sheet grid.Sheet

	mu          sync.Mutex
	file        *os.File
	base        int64   // bytes skipped before the first record (BOM)
	checkpoints []int64 // offset of record k*checkpointEvery, relative to base
	records     int     // records in the file, header included
	skip        int     // records before the first data row
}

// OpenCSV indexes the file in one streaming pass.
func OpenCSV(path string, opts Options) (*CSV, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &SourceError{Op: "open", Path: path, Err: ErrNotFound}
		}
		return nil, &SourceError{Op: "open", Path: path, Err: err}
	}

	c := &CSV{path: path, opts: opts, comma: opts.Comma, file: f}
	if c.comma == 0 {
		c.comma = ','
	}
	if err := c.index(); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

func (c *CSV) reader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = c.comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

func (c *CSV) corrupt(op string, err error) error {
	return &SourceError{Op: op, Path: c.path, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
}

func (c *CSV) index() error {
	head := make([]byte, len(bom))
	n, _ := io.ReadFull(c.file, head)
	if n == len(bom) && bytes.Equal(head, bom) {
		c.base = int64(len(bom))
	}
	if _, err := c.file.Seek(c.base, io.SeekStart); err != nil {
		return &SourceError{Op: "open", Path: c.path, Err: err}
	}

	r := c.reader(c.file)
	r.ReuseRecord = true
	var (
		cols        int
		headers     []string
		hasFormulas bool
	)
	for {
		off := r.InputOffset()
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return c.corrupt("open", err)
		}
		if c.records%checkpointEvery == 0 {
			c.checkpoints = append(c.checkpoints, off)
		}
		if c.records == 0 && c.opts.HeaderRow {
			headers = make([]string, len(rec))
			for i, h := range rec {
				headers[i] = strings.TrimSpace(sanitize(h))
			}
		} else if !hasFormulas {
			for _, field := range rec {
				if len(field) > 1 && field[0] == '=' {
					hasFormulas = true
					break
				}
			}
		}
		cols = max(cols, len(rec))
		c.records++
	}

	if c.opts.HeaderRow && c.records > 0 {
		c.skip = 1
	}
	name := strings.TrimSuffix(filepath.Base(c.path), filepath.Ext(c.path))
	c.sheet = grid.NewSheet(name, 0, c.records-c.skip, cols)
	c.sheet.Headers = headers
	c.sheet.HasFormulas = hasFormulas

	slog.Debug("csv indexed", "path", c.path, "records", c.records, "columns", cols, "checkpoints", len(c.checkpoints))
	return nil
}

func (c *CSV) Sheets() []grid.Sheet { return []grid.Sheet{c.sheet} }

func (c *CSV) FetchRows(ctx context.Context, sheet grid.Sheet, start, end int) ([]grid.Row, error) {
	if !c.sheet.Same(sheet) {
		return nil, &SourceError{Op: "fetch", Path: c.path, Err: ErrUnknownSheet}
	}
	start, end = clampRange(sheet, start, end)
	if start >= end {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil, &SourceError{Op: "fetch", Path: c.path, Err: os.ErrClosed}
	}

	first := start + c.skip
	records, err := c.readRecords(ctx, first, end-start)
	if err != nil {
		return nil, err
	}
	ev := &evaluator{
		c:        c,
		ctx:      ctx,
		records:  make(map[int][]string, len(records)),
		values:   map[[2]int]grid.Value{},
		visiting: map[[2]int]bool{},
	}
	for i, rec := range records {
		ev.records[first+i] = rec
	}

	rows := make([]grid.Row, 0, len(records))
	for i, rec := range records {
		vals := make([]grid.Value, len(rec))
		for col := range rec {
			vals[col] = ev.cell(first+i, col)
		}
		rows = append(rows, grid.NewRow(sheet.ColumnCount, vals))
	}
	return rows, nil
}

// readRecords returns up to count records starting at file record first.
// The caller holds c.mu.
func (c *CSV) readRecords(ctx context.Context, first, count int) ([][]string, error) {
	if first < 0 || first >= c.records || count <= 0 {
		return nil, nil
	}
	cp := first / checkpointEvery
	if _, err := c.file.Seek(c.base+c.checkpoints[cp], io.SeekStart); err != nil {
		return nil, &SourceError{Op: "fetch", Path: c.path, Err: err}
	}
	r := c.reader(c.file)

	for i := cp * checkpointEvery; i < first; i++ {
		if _, err := r.Read(); err != nil {
			return nil, c.corrupt("fetch", err)
		}
	}
	out := make([][]string, 0, count)
	for len(out) < count {
		if len(out)%checkpointEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, c.corrupt("fetch", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *CSV) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

// evaluator types the cells of one fetch and computes formula results.
// References use file coordinates: A1 is the first record, header included.
type evaluator struct {
	c        *CSV
	ctx      context.Context
	records  map[int][]string
	values   map[[2]int]grid.Value
	visiting map[[2]int]bool
}

func (e *evaluator) record(row int) []string {
	if rec, ok := e.records[row]; ok {
		return rec
	}
	if row < 0 || row >= e.c.records {
		return nil
	}
	block := row / checkpointEvery * checkpointEvery
	recs, err := e.c.readRecords(e.ctx, block, checkpointEvery)
	if err != nil {
		slog.Warn("formula reference read failed", "path", e.c.path, "row", row, "err", err)
		return nil
	}
	for i, rec := range recs {
		if _, ok := e.records[block+i]; !ok {
			e.records[block+i] = rec
		}
	}
	return e.records[row]
}

func (e *evaluator) cell(row, col int) grid.Value {
	key := [2]int{row, col}
	if v, ok := e.values[key]; ok {
		return v
	}
	rec := e.record(row)
	raw := ""
	if col < len(rec) {
		raw = sanitize(rec[col])
	}
	if len(raw) < 2 || raw[0] != '=' {
		v := inferValue(raw)
		e.values[key] = v
		return v
	}

	if e.visiting[key] {
		return grid.Error(strings.TrimPrefix(calc.ErrCycle, "#"))
	}
	if len(e.visiting) >= maxFormulaDepth {
		return grid.Error(strings.TrimPrefix(calc.ErrRef, "#"))
	}
	e.visiting[key] = true
	num, code := calc.Eval(raw[1:], e.resolve)
	delete(e.visiting, key)

	cached := grid.Number(num)
	if code != "" {
		cached = grid.Error(strings.TrimPrefix(code, "#"))
	}
	v := grid.Formula(raw[1:], cached)
	e.values[key] = v
	return v
}

func (e *evaluator) resolve(row, col int) (float64, string) {
	v := e.cell(row, col).Cached()
	switch v.Kind() {
	case grid.KindNumber:
		f, _ := v.Float()
		return f, ""
	case grid.KindEmpty:
		return 0, calc.Blank
	case grid.KindBool:
		if v.BoolValue() {
			return 1, ""
		}
		return 0, ""
	case grid.KindError:
		return 0, "#" + v.ErrorCode()
	}
	return 0, calc.ErrValue
}
