package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"sheetview/internal/cache"
	"sheetview/internal/grid"
	"sheetview/internal/search"
	"sheetview/internal/storage"
	"sheetview/internal/view"
)

// flaky fails every read that touches a row at or past from.
type flaky struct {
	storage.Source
	from int
}

func (f flaky) FetchRows(ctx context.Context, sheet grid.Sheet, start, end int) ([]grid.Row, error) {
	if end > f.from {
		return nil, errors.New("disk on fire")
	}
	return f.Source.FetchRows(ctx, sheet, start, end)
}

// gated holds every read until open is closed.
type gated struct {
	storage.Source
	open chan struct{}
}

func (g gated) FetchRows(ctx context.Context, sheet grid.Sheet, start, end int) ([]grid.Row, error) {
	select {
	case <-g.open:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Source.FetchRows(ctx, sheet, start, end)
}

func bigSource(rows int) *storage.Memory {
	m := storage.NewMemory()
	m.AddFunc("Big", nil, rows, 4, func(r, c int) grid.Value { return grid.Number(float64(r)) })
	return m
}

// settle ticks until every visible row is loaded and nothing is in flight.
func settle(t *testing.T, s *Session) {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(5 * time.Second)
	for {
		s.Tick(ctx)
		ready := !s.Loading()
		for _, rv := range s.VisibleRows() {
			if rv.State != cache.Present {
				ready = false
			}
		}
		if ready {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("viewport at row %d never loaded", s.Viewport().TopRow)
		}
		time.Sleep(time.Millisecond)
	}
}

func sampleSource() *storage.Memory {
	m := storage.NewMemory()
	m.AddFunc("Main", []string{"A", "B", "C"}, 300, 3, func(row, col int) grid.Value {
		if row == 250 && col == 2 {
			return grid.Text("the Needle is here")
		}
		if row == 280 && col == 0 {
			return grid.Text("needle again")
		}
		return grid.Text(fmt.Sprintf("r%dc%d", row, col))
	})
	m.Add("Other", nil, [][]grid.Value{{grid.Text("needle")}, {grid.Number(2)}})
	return m
}

func open(t *testing.T, src storage.Source, index int) *Session {
	t.Helper()
	s, err := New(context.Background(), src, index, 10, 3, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestVisibleRowsAfterOpen(t *testing.T) {
	s := open(t, sampleSource(), 0)
	rows := s.VisibleRows()
	if len(rows) != 10 {
		t.Fatalf("len(VisibleRows()) = %d, want 10", len(rows))
	}
	for i, rv := range rows {
		if rv.Index != i || rv.State != cache.Present {
			t.Fatalf("row %d = %+v", i, rv)
		}
	}
	if v, ok := s.CurrentCell(); !ok || v.Display() != "r0c0" {
		t.Errorf("CurrentCell() = %v, %v", v, ok)
	}
}

func TestSearchJumpsToFirstMatch(t *testing.T) {
	ctx := context.Background()
	s := open(t, sampleSource(), 0)
	if err := s.StartSearch(ctx, "needle"); err != nil {
		t.Fatalf("StartSearch() error = %v", err)
	}
	for i := 0; i < 10 && s.Search().Status == search.Scanning; i++ {
		s.Tick(ctx)
	}
	info := s.Search()
	if info.Status != search.Complete || info.Count != 2 {
		t.Fatalf("Search() = %+v", info)
	}
	if cur := s.Cursor(); cur != (view.Cursor{Row: 250, Col: 2}) {
		t.Errorf("Cursor() = %+v, want first match", cur)
	}
	if !s.IsMatch(280, 0) || !s.IsCurrentMatch(250, 2) || s.IsMatch(0, 0) {
		t.Error("match flags wrong")
	}
	if hl := s.Highlights(); len(hl) != 1 || hl[0] != (search.Match{Row: 250, Col: 2}) {
		t.Errorf("Highlights() = %v", hl)
	}

	if ok, err := s.NextMatch(ctx); !ok || err != nil {
		t.Fatalf("NextMatch() = %v, %v", ok, err)
	}
	if cur := s.Cursor(); cur.Row != 280 || cur.Col != 0 {
		t.Errorf("Cursor() after NextMatch = %+v", cur)
	}
	s.NextMatch(ctx)
	if cur := s.Cursor(); cur.Row != 250 {
		t.Errorf("NextMatch did not wrap: %+v", cur)
	}
	s.PrevMatch(ctx)
	if cur := s.Cursor(); cur.Row != 280 {
		t.Errorf("PrevMatch did not wrap: %+v", cur)
	}
}

func TestEmptySearchIsNoop(t *testing.T) {
	ctx := context.Background()
	s := open(t, sampleSource(), 0)
	if err := s.StartSearch(ctx, ""); !errors.Is(err, search.ErrInvalidQuery) {
		t.Errorf("error = %v, want ErrInvalidQuery", err)
	}
	if info := s.Search(); info.Status != search.Idle {
		t.Errorf("Search() = %+v", info)
	}
}

func TestJump(t *testing.T) {
	ctx := context.Background()
	s := open(t, sampleSource(), 0)
	if err := s.Jump(ctx, "B10"); err != nil {
		t.Fatalf("Jump(B10) error = %v", err)
	}
	want := view.Cursor{Row: 9, Col: 1}
	if cur := s.Cursor(); cur != want {
		t.Fatalf("Cursor() = %+v, want %+v", cur, want)
	}
	if err := s.Jump(ctx, "B-1"); !errors.Is(err, grid.ErrSyntax) {
		t.Errorf("Jump(B-1) error = %v, want ErrSyntax", err)
	}
	if err := s.Jump(ctx, "Z5"); !errors.Is(err, view.ErrOutOfRange) {
		t.Errorf("Jump(Z5) error = %v, want ErrOutOfRange", err)
	}
	if err := s.Jump(ctx, "301"); !errors.Is(err, view.ErrOutOfRange) {
		t.Errorf("Jump(301) error = %v, want ErrOutOfRange", err)
	}
	if cur := s.Cursor(); cur != want {
		t.Errorf("failed jumps moved the cursor to %+v", cur)
	}
	if err := s.Jump(ctx, "300"); err != nil || s.Cursor().Row != 299 {
		t.Errorf("Jump(300) = %v, cursor %+v", err, s.Cursor())
	}
}

func TestSwitchSheetClearsState(t *testing.T) {
	ctx := context.Background()
	s := open(t, sampleSource(), 0)
	s.StartSearch(ctx, "needle")
	s.Tick(ctx)
	s.Move(ctx, view.Down, 3)

	if err := s.SwitchSheet(ctx, 1); err != nil {
		t.Fatalf("SwitchSheet() error = %v", err)
	}
	if s.SheetIndex() != 1 || s.Sheet().Name != "Other" {
		t.Errorf("sheet = %d %q", s.SheetIndex(), s.Sheet().Name)
	}
	if cur := s.Cursor(); cur != (view.Cursor{}) {
		t.Errorf("Cursor() = %+v, want origin", cur)
	}
	if info := s.Search(); info.Query != "" || info.Status != search.Idle || info.Count != 0 {
		t.Errorf("Search() = %+v, want cleared", info)
	}
	if s.IsMatch(0, 0) || len(s.Highlights()) != 0 {
		t.Error("highlights survived the switch")
	}
	rows := s.VisibleRows()
	if len(rows) != 2 || rows[0].Row.Cell(0).Display() != "needle" {
		t.Errorf("VisibleRows() = %+v", rows)
	}

	if err := s.SwitchSheet(ctx, 2); !errors.Is(err, ErrNoSheet) {
		t.Errorf("SwitchSheet(2) error = %v, want ErrNoSheet", err)
	}
	if s.SheetIndex() != 1 {
		t.Errorf("failed switch changed the sheet")
	}
}

func TestSearchGivesUpAfterFailures(t *testing.T) {
	ctx := context.Background()
	s := open(t, flaky{Source: sampleSource(), from: 100}, 0)
	s.StartSearch(ctx, "needle")
	for i := 0; i < maxSearchFailures; i++ {
		s.Tick(ctx)
	}
	info := s.Search()
	if info.Status != search.Cancelled || info.Err == nil {
		t.Errorf("Search() = %+v, want cancelled with an error", info)
	}
	if cur := s.Cursor(); cur != (view.Cursor{}) {
		t.Errorf("failed search moved the cursor to %+v", cur)
	}
}

func TestAsyncLoading(t *testing.T) {
	ctx := context.Background()
	s := open(t, storage.Demo(5000), 0)
	if err := s.Page(ctx, view.Down); err != nil {
		t.Fatalf("Page() error = %v", err)
	}
	if err := s.Boundary(ctx, view.Bottom); err != nil {
		t.Fatalf("Boundary() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		s.Tick(ctx)
		ready := true
		for _, rv := range s.VisibleRows() {
			if rv.State != cache.Present {
				ready = false
			}
		}
		if ready {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("visible rows never arrived")
		}
		time.Sleep(time.Millisecond)
	}
	rows := s.VisibleRows()
	if last := rows[len(rows)-1]; last.Index != 4999 || last.Row.Cell(0).Display() != "5,000" {
		t.Errorf("last row = %d %q", last.Index, last.Row.Cell(0).Display())
	}
}

func TestAsyncPageMoveScenario(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, bigSource(10000), 0, 40, 4, Options{Cache: cache.Options{MaxRows: 2000}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()
	if !s.ctl.Async() {
		t.Fatal("a 10000 row sheet should load in the background")
	}

	settle(t, s)
	for step := 0; s.Viewport().TopRow < 9960; step++ {
		if step > 1000 {
			t.Fatal("never reached the bottom")
		}
		if err := s.Page(ctx, view.Down); err != nil {
			t.Fatalf("Page() error = %v", err)
		}
		settle(t, s)
		if n := s.cache.Len(); n > 2000 {
			t.Fatalf("step %d: %d rows resident", step, n)
		}
	}
	rows := s.VisibleRows()
	if last := rows[len(rows)-1]; last.Index != 9999 || last.Row.Cell(0).Display() != "9,999" {
		t.Errorf("last row = %d %q", last.Index, last.Row.Cell(0).Display())
	}
}

func TestPagingPastFullQueue(t *testing.T) {
	ctx := context.Background()
	src := gated{Source: bigSource(100000), open: make(chan struct{})}
	s, err := New(ctx, src, 0, 40, 4, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	for i := 0; i < 80; i++ {
		if err := s.Page(ctx, view.Down); err != nil {
			t.Fatalf("Page() error = %v", err)
		}
	}
	s.Tick(ctx)
	if !s.Loading() {
		t.Error("Loading() = false with the viewport unloaded")
	}
	close(src.open)

	settle(t, s)
	if top := s.Viewport().TopRow; top < 3000 {
		t.Errorf("TopRow = %d, want the cursor to have paged down", top)
	}
}

func TestSearchDoesNotWaitForSource(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()
	m.AddFunc("Big", nil, 5000, 2, func(r, c int) grid.Value {
		if r == 4321 && c == 1 {
			return grid.Text("needle")
		}
		return grid.Number(float64(r))
	})
	src := gated{Source: m, open: make(chan struct{})}
	s, err := New(ctx, src, 0, 10, 2, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	start := time.Now()
	if err := s.StartSearch(ctx, "needle"); err != nil {
		t.Fatalf("StartSearch() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		s.Tick(ctx)
	}
	if d := time.Since(start); d > time.Second {
		t.Fatalf("search blocked the caller for %v", d)
	}
	if info := s.Search(); info.Status != search.Scanning || info.Err != nil || info.Progress != 0 {
		t.Fatalf("Search() = %+v, want scanning with nothing read", info)
	}
	close(src.open)

	deadline := time.Now().Add(5 * time.Second)
	for s.Search().Status == search.Scanning {
		if time.Now().After(deadline) {
			t.Fatalf("search stuck at %+v", s.Search())
		}
		s.Tick(ctx)
		time.Sleep(time.Millisecond)
	}
	if info := s.Search(); info.Status != search.Complete || info.Count != 1 {
		t.Fatalf("Search() = %+v", info)
	}
	if cur := s.Cursor(); cur.Row != 4321 || cur.Col != 1 {
		t.Errorf("cursor = %+v, want the match", cur)
	}
}

func TestNewRejectsBadIndex(t *testing.T) {
	if _, err := New(context.Background(), sampleSource(), 5, 10, 3, Options{}); !errors.Is(err, ErrNoSheet) {
		t.Errorf("error = %v, want ErrNoSheet", err)
	}
}
