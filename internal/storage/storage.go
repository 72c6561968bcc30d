package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"sheetview/internal/grid"
)

var (
	ErrNotFound     = errors.New("file not found")
	ErrCorrupt      = errors.New("file is corrupt or unreadable")
	ErrUnsupported  = errors.New("unsupported file format")
	ErrUnknownSheet = errors.New("sheet does not belong to this source")
)

// SourceError carries the operation and file behind a source failure.
type SourceError struct {
	Op   string
	Path string
	Err  error
}

func (e *SourceError) Error() string {
	if e.Path == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Source is a read-only provider of sheets and their rows.
//
// FetchRows returns rows [start, end) of sheet, clamped to the sheet's row
// count. It may return fewer rows only when the data ends early.
// Implementations must be safe for concurrent use.
type Source interface {
	Sheets() []grid.Sheet
	FetchRows(ctx context.Context, sheet grid.Sheet, start, end int) ([]grid.Row, error)
	Close() error
}

// Options control how files are interpreted.
type Options struct {
	// HeaderRow treats the first row as column titles.
	HeaderRow bool
	// Formulas reads formula text from workbooks alongside cached results.
	// CSV formulas are always kept since the text is the cell content.
	Formulas bool
	// Comma overrides the CSV delimiter. Zero picks one from the extension.
	Comma rune
}

// Open picks an adapter from the file extension.
func Open(path string, opts Options) (Source, error) {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &SourceError{Op: "open", Path: path, Err: ErrNotFound}
		}
		return nil, &SourceError{Op: "open", Path: path, Err: err}
	}
	if st.IsDir() {
		return nil, &SourceError{Op: "open", Path: path, Err: ErrUnsupported}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return OpenCSV(path, opts)
	case ".tsv", ".tab":
		if opts.Comma == 0 {
			opts.Comma = '\t'
		}
		return OpenCSV(path, opts)
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return OpenXLSX(path, opts)
	}
	return nil, &SourceError{Op: "open", Path: path, Err: ErrUnsupported}
}

// FindSheet resolves a sheet by name first, then by 1-based index.
func FindSheet(src Source, key string) (grid.Sheet, error) {
	sheets := src.Sheets()
	for _, sh := range sheets {
		if sh.Name == key {
			return sh, nil
		}
	}
	for _, sh := range sheets {
		if strings.EqualFold(sh.Name, key) {
			return sh, nil
		}
	}
	if idx, err := strconv.Atoi(strings.TrimSpace(key)); err == nil && idx >= 1 && idx <= len(sheets) {
		return sheets[idx-1], nil
	}
	names := make([]string, len(sheets))
	for i, sh := range sheets {
		names[i] = sh.Name
	}
	return grid.Sheet{}, fmt.Errorf("sheet %q not found (available: %s)", key, strings.Join(names, ", "))
}

// clampRange limits [start, end) to the sheet.
func clampRange(sheet grid.Sheet, start, end int) (int, int) {
	start = min(max(start, 0), sheet.RowCount)
	end = min(end, sheet.RowCount)
	if end < start {
		end = start
	}
	return start, end
}

// lookup returns the position of sheet in sheets, matching by handle.
func lookup(sheets []grid.Sheet, sheet grid.Sheet) (int, bool) {
	for i, sh := range sheets {
		if sh.Same(sheet) {
			return i, true
		}
	}
	return -1, false
}
