package view

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"sheetview/internal/cache"
	"sheetview/internal/grid"
	"sheetview/internal/storage"
)

// recorder is a Loader that only remembers what it was asked for.
type recorder struct {
	ensured   []cache.Range
	requested []cache.Range
	dirs      []cache.Direction
	resets    int
}

func (r *recorder) EnsureWindow(_ context.Context, vp cache.Range, dir cache.Direction) error {
	r.ensured = append(r.ensured, vp)
	r.dirs = append(r.dirs, dir)
	return nil
}

func (r *recorder) RequestWindow(_ context.Context, vp cache.Range, dir cache.Direction) error {
	r.requested = append(r.requested, vp)
	r.dirs = append(r.dirs, dir)
	return nil
}

func (r *recorder) Reset(grid.Sheet) { r.resets++ }

func newController(t *testing.T, rows, cols, height, width int, opts Options) (*Controller, *recorder) {
	t.Helper()
	rec := &recorder{}
	c, err := New(context.Background(), rec, grid.NewSheet("S", 0, rows, cols), height, width, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, rec
}

func TestMoveKeepsMargin(t *testing.T) {
	ctx := context.Background()
	c, _ := newController(t, 100, 10, 10, 5, Options{})
	c.Move(ctx, Down, 8)
	if vp := c.Viewport(); vp.TopRow != 0 {
		t.Fatalf("TopRow = %d after moving to row 8, want 0", vp.TopRow)
	}
	c.Move(ctx, Down, 1)
	if vp := c.Viewport(); vp.TopRow != 1 {
		t.Errorf("TopRow = %d, want 1", vp.TopRow)
	}
	c.Move(ctx, Right, 4)
	if vp := c.Viewport(); vp.LeftCol != 1 {
		t.Errorf("LeftCol = %d, want 1", vp.LeftCol)
	}
	c.Move(ctx, Up, 9)
	if cur, vp := c.Cursor(), c.Viewport(); cur.Row != 0 || vp.TopRow != 0 {
		t.Errorf("cursor %+v viewport %+v", cur, vp)
	}
}

func TestMoveClampsAtBoundary(t *testing.T) {
	ctx := context.Background()
	c, _ := newController(t, 100, 10, 10, 5, Options{})
	c.Move(ctx, Up, 5)
	c.Move(ctx, Left, 5)
	if cur := c.Cursor(); cur != (Cursor{}) {
		t.Errorf("cursor = %+v, want origin", cur)
	}
	c.Move(ctx, Down, 1000)
	c.Move(ctx, Right, 1000)
	cur, vp := c.Cursor(), c.Viewport()
	if cur.Row != 99 || cur.Col != 9 {
		t.Errorf("cursor = %+v, want (99,9)", cur)
	}
	if vp.TopRow != 90 || vp.LeftCol != 5 {
		t.Errorf("viewport = %+v, want top 90 left 5", vp)
	}
}

func TestJumpToOutOfRangeIsNoOp(t *testing.T) {
	ctx := context.Background()
	c, rec := newController(t, 50, 4, 10, 4, Options{})
	c.Move(ctx, Down, 20)
	cur, vp, loads := c.Cursor(), c.Viewport(), len(rec.ensured)
	for _, target := range [][2]int{{50, 0}, {-1, 0}, {0, 4}, {10, -2}} {
		err := c.JumpTo(ctx, target[0], target[1])
		if !errors.Is(err, ErrOutOfRange) {
			t.Errorf("JumpTo(%v) error = %v, want ErrOutOfRange", target, err)
		}
	}
	if c.Cursor() != cur || c.Viewport() != vp || len(rec.ensured) != loads {
		t.Errorf("failed jumps changed state")
	}
}

func TestJumpToRecentres(t *testing.T) {
	ctx := context.Background()
	c, _ := newController(t, 1000, 30, 20, 5, Options{})
	if err := c.JumpTo(ctx, 500, 20); err != nil {
		t.Fatalf("JumpTo() error = %v", err)
	}
	vp := c.Viewport()
	if vp.TopRow != 490 {
		t.Errorf("TopRow = %d, want 490", vp.TopRow)
	}
	if !vp.Cols().Contains(20) {
		t.Errorf("column 20 not visible in %+v", vp)
	}
	// on-screen targets move without recentring
	c.JumpTo(ctx, 495, 20)
	if c.Viewport().TopRow != 490 {
		t.Errorf("on-screen jump scrolled to %d", c.Viewport().TopRow)
	}
}

func TestJumpToBoundary(t *testing.T) {
	ctx := context.Background()
	c, _ := newController(t, 100, 12, 10, 4, Options{})
	c.JumpToBoundary(ctx, Bottom)
	if cur, vp := c.Cursor(), c.Viewport(); cur.Row != 99 || vp.TopRow != 90 {
		t.Errorf("bottom: cursor %+v viewport %+v", cur, vp)
	}
	c.JumpToBoundary(ctx, LastCol)
	if cur, vp := c.Cursor(), c.Viewport(); cur.Col != 11 || vp.LeftCol != 8 {
		t.Errorf("last col: cursor %+v viewport %+v", cur, vp)
	}
	c.JumpToBoundary(ctx, Top)
	c.JumpToBoundary(ctx, FirstCol)
	if cur, vp := c.Cursor(), c.Viewport(); cur != (Cursor{}) || vp.TopRow != 0 || vp.LeftCol != 0 {
		t.Errorf("origin: cursor %+v viewport %+v", cur, vp)
	}
}

func TestPageMove(t *testing.T) {
	ctx := context.Background()
	c, _ := newController(t, 100, 3, 10, 3, Options{HalfPage: true})
	c.PageMove(ctx, Down)
	if c.Cursor().Row != 5 {
		t.Errorf("half page: row = %d, want 5", c.Cursor().Row)
	}
	c.opts.HalfPage = false
	c.PageMove(ctx, Down)
	if c.Cursor().Row != 15 {
		t.Errorf("full page: row = %d, want 15", c.Cursor().Row)
	}
	c.PageMove(ctx, Up)
	c.PageMove(ctx, Up)
	if c.Cursor().Row != 0 {
		t.Errorf("row = %d, want 0", c.Cursor().Row)
	}
}

func TestSwitchSheetResets(t *testing.T) {
	ctx := context.Background()
	c, rec := newController(t, 100, 5, 10, 5, Options{})
	c.JumpTo(ctx, 80, 4)
	other := grid.NewSheet("Other", 1, 3, 2)
	if err := c.SwitchSheet(ctx, other); err != nil {
		t.Fatalf("SwitchSheet() error = %v", err)
	}
	if c.Cursor() != (Cursor{}) || c.Viewport().TopRow != 0 || c.Viewport().LeftCol != 0 {
		t.Errorf("state after switch: %+v %+v", c.Cursor(), c.Viewport())
	}
	if rec.resets != 1 || !c.Sheet().Same(other) {
		t.Errorf("loader not reset")
	}
	if last := rec.ensured[len(rec.ensured)-1]; last != (cache.Range{Start: 0, End: 10}) {
		t.Errorf("last load = %v", last)
	}
}

func TestLoadsOnlyWhenRowsChange(t *testing.T) {
	ctx := context.Background()
	c, rec := newController(t, 100, 20, 10, 5, Options{})
	n := len(rec.ensured)
	c.Move(ctx, Right, 1)
	c.Move(ctx, Down, 1)
	if len(rec.ensured) != n {
		t.Errorf("in-screen moves triggered %d loads", len(rec.ensured)-n)
	}
	c.Move(ctx, Down, 20)
	if len(rec.ensured) != n+1 || rec.dirs[len(rec.dirs)-1] != cache.Forward {
		t.Errorf("scroll did not load forward: %v", rec.dirs)
	}
}

func TestAsyncThreshold(t *testing.T) {
	small, recSmall := newController(t, 999, 2, 10, 2, Options{})
	big, recBig := newController(t, 1000, 2, 10, 2, Options{})
	if small.Async() || len(recSmall.requested) != 0 || len(recSmall.ensured) != 1 {
		t.Errorf("small sheet loaded asynchronously")
	}
	if !big.Async() || len(recBig.requested) != 1 || len(recBig.ensured) != 0 {
		t.Errorf("large sheet loaded synchronously")
	}
	never, _ := newController(t, 1_000_000, 2, 10, 2, Options{LazyThreshold: -1})
	if never.Async() {
		t.Error("negative threshold went asynchronous")
	}
}

func TestHorizontalMode(t *testing.T) {
	ctx := context.Background()
	widths := []int{10, 4, 25, 8, 8, 30, 6, 12}
	opts := Options{Widths: func(col int) int { return widths[col] }}
	c, _ := newController(t, 10, len(widths), 5, 40, opts)
	if w := c.Viewport().Width; w != 3 {
		t.Fatalf("Width = %d, want 3", w)
	}
	for i := 0; i < len(widths); i++ {
		c.Move(ctx, Right, 1)
		cur, vp := c.Cursor(), c.Viewport()
		if !vp.Cols().Contains(cur.Col) {
			t.Fatalf("column %d not visible in %+v", cur.Col, vp)
		}
		used := 0
		for col := vp.LeftCol; col < vp.LeftCol+vp.Width; col++ {
			used += widths[col]
		}
		if vp.Width > 1 && used > 40 {
			t.Fatalf("viewport %+v overflows: %d cells", vp, used)
		}
	}
	if c.Cursor().Col != len(widths)-1 {
		t.Errorf("cursor col = %d", c.Cursor().Col)
	}
}

func checkInvariants(t *testing.T, c *Controller, step int) {
	t.Helper()
	sh, cur, vp := c.Sheet(), c.Cursor(), c.Viewport()
	if vp.TopRow < 0 || vp.LeftCol < 0 {
		t.Fatalf("step %d: negative viewport %+v", step, vp)
	}
	if sh.RowCount == 0 || sh.ColumnCount == 0 {
		if cur.Row != 0 && sh.RowCount == 0 || cur.Col != 0 && sh.ColumnCount == 0 {
			t.Fatalf("step %d: cursor %+v on empty sheet", step, cur)
		}
		return
	}
	if cur.Row < 0 || cur.Row >= sh.RowCount || cur.Col < 0 || cur.Col >= sh.ColumnCount {
		t.Fatalf("step %d: cursor %+v outside %dx%d", step, cur, sh.RowCount, sh.ColumnCount)
	}
	if !vp.Rows().Contains(cur.Row) || !vp.Cols().Contains(cur.Col) {
		t.Fatalf("step %d: cursor %+v off screen %+v", step, cur, vp)
	}
}

func TestCursorInvariantRandomOps(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 40; trial++ {
		rows, cols := rng.Intn(3000), rng.Intn(40)
		if trial%10 == 0 {
			rows = 0
		}
		opts := Options{Margin: rng.Intn(4) - 1, HalfPage: rng.Intn(2) == 0}
		width := 1 + rng.Intn(12)
		if rng.Intn(2) == 0 {
			ws := make([]int, cols)
			for i := range ws {
				ws[i] = 1 + rng.Intn(30)
			}
			opts.Widths = func(col int) int {
				if col < len(ws) {
					return ws[col]
				}
				return 8
			}
			width = 10 + rng.Intn(100)
		}
		c, _ := newController(t, rows, cols, 1+rng.Intn(50), width, opts)
		for step := 0; step < 300; step++ {
			switch rng.Intn(7) {
			case 0:
				c.Move(ctx, Direction(rng.Intn(4)), rng.Intn(50))
			case 1:
				c.PageMove(ctx, Direction(rng.Intn(4)))
			case 2:
				c.JumpToBoundary(ctx, Edge(rng.Intn(4)))
			case 3:
				c.JumpTo(ctx, rng.Intn(rows+10)-5, rng.Intn(cols+4)-2)
			case 4:
				c.Resize(ctx, 1+rng.Intn(60), 1+rng.Intn(120))
			case 5:
				c.Move(ctx, Direction(rng.Intn(4)), 1)
			case 6:
				if rng.Intn(20) == 0 {
					c.SwitchSheet(ctx, grid.NewSheet("T", 1, rng.Intn(500), 1+rng.Intn(10)))
				}
			}
			checkInvariants(t, c, step)
		}
	}
}

func TestPageMoveScenario(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()
	sh := m.AddFunc("Big", nil, 10000, 4, func(r, c int) grid.Value { return grid.Number(float64(r)) })
	rows := cache.New(m, sh, cache.Options{MaxRows: 2000})
	c, err := New(ctx, rows, sh, 40, 4, Options{LazyThreshold: -1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for step := 0; c.Viewport().TopRow < 9960; step++ {
		if step > 1000 {
			t.Fatal("never reached the bottom")
		}
		if err := c.PageMove(ctx, Down); err != nil {
			t.Fatalf("PageMove() error = %v", err)
		}
		if n := rows.Len(); n > 2000 {
			t.Fatalf("step %d: %d rows resident", step, n)
		}
		vp := c.Viewport()
		for r := vp.TopRow; r < min(vp.TopRow+vp.Height, sh.RowCount); r++ {
			if rows.State(r) != cache.Present {
				t.Fatalf("step %d: viewport row %d is %v", step, r, rows.State(r))
			}
		}
	}
	if c.Viewport().TopRow != 9960 {
		t.Errorf("TopRow = %d, want 9960", c.Viewport().TopRow)
	}
}
