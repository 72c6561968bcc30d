// Package search scans a sheet for cells containing a query, a bounded chunk
// of rows per step, so the caller's event loop stays responsive.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"sheetview/internal/grid"
	"sheetview/internal/logging"
)

var (
	// ErrInvalidQuery is returned by Start for an empty query.
	ErrInvalidQuery = errors.New("empty search query")
	// ErrNotReady is returned by Rows.Fetch while the rows are still being
	// read elsewhere. Advance passes it on and the chunk is retried later.
	ErrNotReady = errors.New("rows not read yet")
)

const DefaultChunkRows = 200

type Status int

const (
	Idle Status = iota
	Scanning
	Complete
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Scanning:
		return "scanning"
	case Complete:
		return "complete"
	case Cancelled:
		return "cancelled"
	}
	return "idle"
}

// Match is one matching cell.
type Match struct {
	Row, Col int
}

// State is a snapshot of a search. Current is -1 when no match is selected.
type State struct {
	Query      string
	Matches    []Match
	Current    int
	ScanCursor int
	Status     Status
}

// Rows supplies rows to scan. Resident reads rows already in memory and
// must not fetch; Fetch reads without caching and may return ErrNotReady.
type Rows interface {
	Resident(row int) (grid.Row, bool)
	Fetch(ctx context.Context, start, end int) ([]grid.Row, error)
}

// Formatter renders a cell as it appears on screen.
type Formatter func(grid.Value) string

type Options struct {
	ChunkRows int
	Format    Formatter
}

// Engine holds the search state of one sheet.
type Engine struct {
	rows   Rows
	sheet  grid.Sheet
	opts   Options
	fold   cases.Caser
	needle string
	state  State
}

func New(rows Rows, sheet grid.Sheet, opts Options) *Engine {
	if opts.ChunkRows <= 0 {
		opts.ChunkRows = DefaultChunkRows
	}
	if opts.Format == nil {
		opts.Format = grid.Value.Display
	}
	return &Engine{
		rows:  rows,
		sheet: sheet,
		opts:  opts,
		fold:  cases.Fold(),
		state: State{Current: -1},
	}
}

// State returns a copy of the current state.
func (e *Engine) State() State {
	s := e.state
	s.Matches = append([]Match(nil), e.state.Matches...)
	return s
}

func (e *Engine) Status() Status { return e.state.Status }
func (e *Engine) Len() int       { return len(e.state.Matches) }

// Start begins a new scan from the first row. An empty query returns
// ErrInvalidQuery and leaves the previous search untouched.
func (e *Engine) Start(query string) (State, error) {
	if query == "" {
		return e.State(), ErrInvalidQuery
	}
	e.needle = e.fold.String(query)
	e.state = State{Query: query, Current: -1, Status: Scanning}
	if e.sheet.RowCount == 0 {
		e.state.Status = Complete
	}
	return e.State(), nil
}

// Advance scans the next chunk of rows and returns the matches it found.
// A failed chunk changes nothing and can be retried by calling Advance again.
func (e *Engine) Advance(ctx context.Context) ([]Match, error) {
	if e.state.Status != Scanning {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := e.state.ScanCursor
	end := min(start+e.opts.ChunkRows, e.sheet.RowCount)

	var found []Match
	for row := start; row < end; {
		r, ok := e.rows.Resident(row)
		if ok {
			found = e.scan(found, row, r)
			row++
			continue
		}
		// read the run of rows that are not resident in one go
		run := row + 1
		for run < end {
			if _, ok := e.rows.Resident(run); ok {
				break
			}
			run++
		}
		fetched, err := e.rows.Fetch(ctx, row, run)
		if err != nil {
			return nil, err
		}
		if len(fetched) < run-row {
			return nil, fmt.Errorf("search rows %d-%d: source returned %d rows", row+1, run, len(fetched))
		}
		for i, fr := range fetched {
			found = e.scan(found, row+i, fr)
		}
		row = run
	}

	e.state.Matches = append(e.state.Matches, found...)
	e.state.ScanCursor = end
	if end >= e.sheet.RowCount {
		e.state.Status = Complete
	}
	logging.FromContext(ctx).Debug("search chunk", "query", e.state.Query, "rows", end-start, "found", len(found), "total", len(e.state.Matches))
	return found, nil
}

func (e *Engine) scan(found []Match, row int, r grid.Row) []Match {
	for col := 0; col < e.sheet.ColumnCount; col++ {
		v := r.Cell(col)
		if v.IsEmpty() {
			continue
		}
		if strings.Contains(e.fold.String(e.opts.Format(v)), e.needle) {
			found = append(found, Match{Row: row, Col: col})
		}
	}
	return found
}

// Run advances until the scan completes, is cancelled or ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	for e.state.Status == Scanning {
		if _, err := e.Advance(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Cancel stops a running scan, keeping the matches found so far.
func (e *Engine) Cancel() {
	if e.state.Status == Scanning {
		e.state.Status = Cancelled
	}
}

// Clear forgets the search entirely.
func (e *Engine) Clear() {
	e.needle = ""
	e.state = State{Current: -1}
}

// Next selects the following match, wrapping around.
func (e *Engine) Next() (Match, bool) {
	n := len(e.state.Matches)
	if n == 0 {
		return Match{}, false
	}
	e.state.Current = (e.state.Current + 1) % n
	return e.state.Matches[e.state.Current], true
}

// Previous selects the preceding match, wrapping around.
func (e *Engine) Previous() (Match, bool) {
	n := len(e.state.Matches)
	if n == 0 {
		return Match{}, false
	}
	if e.state.Current <= 0 {
		e.state.Current = n - 1
	} else {
		e.state.Current--
	}
	return e.state.Matches[e.state.Current], true
}

// Current returns the selected match.
func (e *Engine) Current() (Match, bool) {
	if e.state.Current < 0 || e.state.Current >= len(e.state.Matches) {
		return Match{}, false
	}
	return e.state.Matches[e.state.Current], true
}

// Progress is the fraction of rows scanned.
func (e *Engine) Progress() float64 {
	if e.sheet.RowCount == 0 {
		return 1
	}
	return float64(e.state.ScanCursor) / float64(e.sheet.RowCount)
}
