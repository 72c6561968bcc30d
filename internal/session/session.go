// Package session drives one viewing session: it owns the row cache, the
// view controller and the search engine of the active sheet, turns input
// events into state transitions, and exposes read-only state to a renderer.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"sheetview/internal/cache"
	"sheetview/internal/grid"
	"sheetview/internal/logging"
	"sheetview/internal/search"
	"sheetview/internal/storage"
	"sheetview/internal/view"
)

// ErrNoSheet is returned by SwitchSheet for an index outside the source.
var ErrNoSheet = errors.New("no such sheet")

// maxSearchFailures is how many chunks in a row may fail before a scan is
// cancelled.
const maxSearchFailures = 3

type Options struct {
	Cache  cache.Options
	View   view.Options
	Search search.Options
	// Workers is the number of background fetch goroutines. Zero means one.
	Workers int
}

// RowView is one visible row as the renderer sees it.
type RowView struct {
	Index int
	Row   grid.Row
	State cache.RowState
	Err   error
}

// SearchInfo summarises the search for a status line.
type SearchInfo struct {
	Query    string
	Status   search.Status
	Count    int
	Current  int
	Progress float64
	Err      error
}

type Session struct {
	src    storage.Source
	sheets []grid.Sheet
	index  int
	opts   Options
	log    *slog.Logger

	cache  *cache.Cache
	worker *cache.Worker
	ctl    *view.Controller
	search *search.Engine

	reader    *chunkReader // nil unless the sheet loads in the background
	hits      map[search.Match]struct{}
	follow    bool // jump to the first match once one is found
	failures  int
	searchErr error
}

// New opens a session on sheet index of src, sized height rows by width
// (columns, or screen cells in horizontal mode). The first screen is loaded
// before New returns; the background worker lives until Close or ctx ends.
func New(ctx context.Context, src storage.Source, index, height, width int, opts Options) (*Session, error) {
	sheets := src.Sheets()
	if index < 0 || index >= len(sheets) {
		return nil, fmt.Errorf("%w: %d of %d", ErrNoSheet, index+1, len(sheets))
	}
	s := &Session{
		src:    src,
		sheets: sheets,
		index:  index,
		opts:   opts,
		log:    logging.WithFields(ctx, "component", "session"),
	}
	sheet := sheets[index]
	s.cache = cache.New(src, sheet, opts.Cache)
	s.worker = cache.NewWorker(ctx, src, opts.Workers)
	s.cache.Attach(s.worker)

	ctl, err := view.New(ctx, s.cache, sheet, height, width, opts.View)
	s.ctl = ctl
	if err != nil {
		// the controller is usable; failed rows render as placeholders
		s.log.Warn("initial load failed", "sheet", sheet.Name, "err", err)
	}
	s.newSearch(sheet)
	s.log.Info("session opened", "sheet", sheet.Name, "rows", sheet.RowCount, "cols", sheet.ColumnCount, "async", ctl.Async())
	return s, nil
}

// Close stops the background worker. The source stays open.
func (s *Session) Close() error {
	s.reader.stop()
	return s.worker.Close()
}

func (s *Session) newSearch(sheet grid.Sheet) {
	s.reader.stop()
	s.reader = nil
	rows := rowsAdapter{cache: s.cache, src: s.src, sheet: sheet}
	if s.ctl.Async() {
		s.reader = &chunkReader{src: s.src, sheet: sheet}
		rows.reader = s.reader
	}
	s.search = search.New(rows, sheet, s.opts.Search)
	s.hits = make(map[search.Match]struct{})
	s.follow = false
	s.failures = 0
	s.searchErr = nil
}

// rowsAdapter lets the search engine read resident rows from the cache and
// everything else from the source, leaving the cache untouched. Sheets that
// load in the background are read through reader.
type rowsAdapter struct {
	cache  *cache.Cache
	src    storage.Source
	sheet  grid.Sheet
	reader *chunkReader
}

func (r rowsAdapter) Resident(row int) (grid.Row, bool) { return r.cache.Peek(row) }

func (r rowsAdapter) Fetch(ctx context.Context, start, end int) ([]grid.Row, error) {
	if r.reader != nil {
		return r.reader.Fetch(ctx, start, end)
	}
	return r.src.FetchRows(ctx, r.sheet, start, end)
}

// chunkReader reads search chunks in a goroutine so the event loop never
// waits on the source. One read is in flight at a time and its result is
// kept until the scan moves past it.
type chunkReader struct {
	src   storage.Source
	sheet grid.Sheet

	want   cache.Range
	done   chan chunk
	cancel context.CancelFunc

	have cache.Range
	rows []grid.Row
	err  error
}

type chunk struct {
	rows []grid.Row
	err  error
}

// Fetch returns rows [start, end) once a read covering them has finished and
// search.ErrNotReady until then.
func (r *chunkReader) Fetch(ctx context.Context, start, end int) ([]grid.Row, error) {
	if r.done != nil {
		select {
		case c := <-r.done:
			r.cancel()
			r.done, r.cancel = nil, nil
			r.have, r.rows, r.err = r.want, c.rows, c.err
		default:
		}
	}
	if covers(r.have, start, end) {
		if err := r.err; err != nil {
			r.have, r.err = cache.Range{}, nil
			return nil, err
		}
		from := min(start-r.have.Start, len(r.rows))
		to := min(end-r.have.Start, len(r.rows))
		return r.rows[from:to], nil
	}
	if r.done != nil && covers(r.want, start, end) {
		return nil, search.ErrNotReady
	}

	r.stop()
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan chunk, 1)
	r.want, r.done, r.cancel = cache.Range{Start: start, End: end}, done, cancel
	src, sheet := r.src, r.sheet
	go func() {
		rows, err := src.FetchRows(ctx, sheet, start, end)
		done <- chunk{rows: rows, err: err}
	}()
	return nil, search.ErrNotReady
}

// stop abandons the read in flight, if any.
func (r *chunkReader) stop() {
	if r == nil || r.cancel == nil {
		return
	}
	r.cancel()
	r.done, r.cancel = nil, nil
}

func covers(r cache.Range, start, end int) bool {
	return !r.Empty() && r.Start <= start && end <= r.End
}

// ----------------------------- Input events -----------------------------

func (s *Session) Move(ctx context.Context, dir view.Direction, n int) error {
	return s.ctl.Move(ctx, dir, n)
}

func (s *Session) Page(ctx context.Context, dir view.Direction) error {
	return s.ctl.PageMove(ctx, dir)
}

func (s *Session) Boundary(ctx context.Context, edge view.Edge) error {
	return s.ctl.JumpToBoundary(ctx, edge)
}

// Jump moves to an address such as "B12", "12" or "12,2". Bad input and
// cells outside the sheet leave the cursor where it is.
func (s *Session) Jump(ctx context.Context, text string) error {
	row, col, err := grid.ParseAddress(text)
	if err != nil {
		return fmt.Errorf("%w: %q", err, text)
	}
	return s.ctl.JumpTo(ctx, row, col)
}

// StartSearch begins scanning the active sheet for query and scans the first
// chunk right away. The cursor jumps to the first match as soon as there is
// one. An empty query changes nothing.
func (s *Session) StartSearch(ctx context.Context, query string) error {
	if _, err := s.search.Start(query); err != nil {
		return err
	}
	s.hits = make(map[search.Match]struct{})
	s.follow = true
	s.failures = 0
	s.searchErr = nil
	s.log.Debug("search started", "query", query, "sheet", s.Sheet().Name)
	s.advance(ctx)
	return nil
}

// Tick applies finished background fetches and scans one search chunk. It
// never blocks on the worker and reports whether anything visible changed.
func (s *Session) Tick(ctx context.Context) bool {
	changed := s.cache.Poll() > 0
	if s.search.Status() == search.Scanning {
		s.advance(ctx)
		changed = true
	}
	return changed
}

func (s *Session) advance(ctx context.Context) {
	found, err := s.search.Advance(ctx)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, search.ErrNotReady) {
			return
		}
		s.failures++
		s.searchErr = err
		s.log.Warn("search chunk failed", "query", s.search.State().Query, "attempt", s.failures, "err", err)
		if s.failures >= maxSearchFailures {
			s.search.Cancel()
		}
		return
	}
	s.failures = 0
	for _, m := range found {
		s.hits[m] = struct{}{}
	}
	if s.follow && s.search.Len() > 0 {
		s.follow = false
		if m, ok := s.search.Next(); ok {
			if err := s.ctl.JumpTo(ctx, m.Row, m.Col); err != nil {
				s.log.Debug("jump to match failed", "err", err)
			}
		}
	}
}

// NextMatch moves to the following match, wrapping around.
func (s *Session) NextMatch(ctx context.Context) (bool, error) {
	m, ok := s.search.Next()
	if !ok {
		return false, nil
	}
	s.follow = false
	return true, s.ctl.JumpTo(ctx, m.Row, m.Col)
}

// PrevMatch moves to the preceding match, wrapping around.
func (s *Session) PrevMatch(ctx context.Context) (bool, error) {
	m, ok := s.search.Previous()
	if !ok {
		return false, nil
	}
	s.follow = false
	return true, s.ctl.JumpTo(ctx, m.Row, m.Col)
}

// Cancel stops a running search, keeping the matches found so far.
func (s *Session) Cancel() {
	s.search.Cancel()
	s.follow = false
}

// ClearSearch forgets the search and its highlights.
func (s *Session) ClearSearch() {
	s.search.Clear()
	s.hits = make(map[search.Match]struct{})
	s.follow = false
	s.searchErr = nil
}

// SwitchSheet shows sheet i from its top-left cell. The cache and the search
// start over.
func (s *Session) SwitchSheet(ctx context.Context, i int) error {
	if i < 0 || i >= len(s.sheets) {
		return fmt.Errorf("%w: %d of %d", ErrNoSheet, i+1, len(s.sheets))
	}
	sheet := s.sheets[i]
	s.index = i
	s.search.Cancel()
	s.log.Info("switch sheet", "sheet", sheet.Name, "rows", sheet.RowCount)
	err := s.ctl.SwitchSheet(ctx, sheet)
	s.newSearch(sheet)
	return err
}

func (s *Session) Resize(ctx context.Context, height, width int) error {
	return s.ctl.Resize(ctx, height, width)
}

// Refresh reloads the viewport, retrying rows that failed.
func (s *Session) Refresh(ctx context.Context) error {
	return s.ctl.Refresh(ctx)
}

// ----------------------------- Renderer surface -----------------------------

func (s *Session) Source() storage.Source  { return s.src }
func (s *Session) Sheets() []grid.Sheet    { return s.sheets }
func (s *Session) SheetIndex() int         { return s.index }
func (s *Session) Sheet() grid.Sheet       { return s.sheets[s.index] }
func (s *Session) Cursor() view.Cursor     { return s.ctl.Cursor() }
func (s *Session) Viewport() view.Viewport { return s.ctl.Viewport() }
func (s *Session) Horizontal() bool        { return s.ctl.Horizontal() }
func (s *Session) Loading() bool           { return s.cache.Pending() }

// VisibleRows returns the rows of the viewport that exist in the sheet, with
// their residency state. Rows that are not present carry an empty Row.
func (s *Session) VisibleRows() []RowView {
	vp := s.ctl.Viewport().Rows().Clamp(s.Sheet().RowCount)
	out := make([]RowView, 0, vp.Len())
	for row := vp.Start; row < vp.End; row++ {
		rv := RowView{Index: row}
		if r, ok := s.cache.Get(row); ok {
			rv.Row = r
			rv.State = cache.Present
		} else {
			rv.State = s.cache.State(row)
			if rv.State == cache.Errored {
				rv.Err = s.cache.Err(row)
			}
		}
		out = append(out, rv)
	}
	return out
}

// Resident returns a row only if it is already loaded.
func (s *Session) Resident(row int) (grid.Row, bool) {
	return s.cache.Peek(row)
}

// CurrentCell returns the value under the cursor and whether its row is loaded.
func (s *Session) CurrentCell() (grid.Value, bool) {
	cur := s.ctl.Cursor()
	r, ok := s.cache.Peek(cur.Row)
	if !ok {
		return grid.Empty(), false
	}
	return r.Cell(cur.Col), true
}

// IsMatch reports whether (row, col) is a search hit.
func (s *Session) IsMatch(row, col int) bool {
	_, ok := s.hits[search.Match{Row: row, Col: col}]
	return ok
}

// IsCurrentMatch reports whether (row, col) is the selected search hit.
func (s *Session) IsCurrentMatch(row, col int) bool {
	m, ok := s.search.Current()
	return ok && m.Row == row && m.Col == col
}

// Highlights returns the matches inside the viewport.
func (s *Session) Highlights() []search.Match {
	vp := s.ctl.Viewport()
	rows, cols := vp.Rows(), vp.Cols()
	var out []search.Match
	if len(s.hits) > rows.Len()*cols.Len() {
		for row := rows.Start; row < rows.End; row++ {
			for col := cols.Start; col < cols.End; col++ {
				if s.IsMatch(row, col) {
					out = append(out, search.Match{Row: row, Col: col})
				}
			}
		}
		return out
	}
	for _, m := range s.search.State().Matches {
		if rows.Contains(m.Row) && cols.Contains(m.Col) {
			out = append(out, m)
		}
	}
	return out
}

// Search returns a summary of the current search.
func (s *Session) Search() SearchInfo {
	st := s.search.State()
	return SearchInfo{
		Query:    st.Query,
		Status:   st.Status,
		Count:    len(st.Matches),
		Current:  st.Current,
		Progress: s.search.Progress(),
		Err:      s.searchErr,
	}
}
