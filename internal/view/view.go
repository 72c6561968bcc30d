// Package view tracks the cursor and the visible window of a sheet.
//
// Every transition keeps the cursor inside the sheet and on screen, and asks
// the row loader for the rows the next draw needs before it returns.
package view

import (
	"context"
	"errors"
	"fmt"

	"sheetview/internal/cache"
	"sheetview/internal/grid"
)

// ErrOutOfRange is returned by JumpTo for cells outside the sheet.
var ErrOutOfRange = errors.New("cell outside sheet")

const (
	DefaultMargin        = 1
	DefaultLazyThreshold = 1000
)

type Direction int

const (
	Up Direction = iota
	Down
	Left
	Right
)

// Edge names a boundary for JumpToBoundary.
type Edge int

const (
	Top Edge = iota
	Bottom
	FirstCol
	LastCol
)

type Cursor struct {
	Row, Col int
}

// Viewport is the visible window. It may extend past the data.
type Viewport struct {
	TopRow, Height int
	LeftCol, Width int
}

// Rows is the row range the viewport covers.
func (v Viewport) Rows() cache.Range { return cache.Range{Start: v.TopRow, End: v.TopRow + v.Height} }

// Cols is the column range the viewport covers.
func (v Viewport) Cols() cache.Range { return cache.Range{Start: v.LeftCol, End: v.LeftCol + v.Width} }

// Loader makes rows resident. *cache.Cache satisfies it.
type Loader interface {
	EnsureWindow(ctx context.Context, viewport cache.Range, dir cache.Direction) error
	RequestWindow(ctx context.Context, viewport cache.Range, dir cache.Direction) error
	Reset(sheet grid.Sheet)
}

type Options struct {
	// Margin keeps the cursor this many rows/columns from the viewport edge.
	// Zero means DefaultMargin; negative means none.
	Margin int
	// HalfPage makes PageMove step half a screen.
	HalfPage bool
	// LazyThreshold is the row count at which loading goes asynchronous.
	// Zero means DefaultLazyThreshold; negative keeps every sheet synchronous.
	LazyThreshold int
	// Widths, when set, gives the rendered width of each column and the
	// width passed to New/Resize is in screen cells rather than columns.
	Widths func(col int) int
}

type Controller struct {
	loader Loader
	opts   Options
	sheet  grid.Sheet

	cur   Cursor
	vp    Viewport
	avail int // screen cells for columns in horizontal mode

	loaded   bool
	lastRows cache.Range
}

// New builds a controller showing sheet from (0,0) and loads the first screen.
func New(ctx context.Context, loader Loader, sheet grid.Sheet, height, width int, opts Options) (*Controller, error) {
	c := &Controller{loader: loader, opts: opts, sheet: sheet}
	c.setSize(height, width)
	return c, c.load(ctx, cache.Unknown, true)
}

func (c *Controller) Sheet() grid.Sheet  { return c.sheet }
func (c *Controller) Cursor() Cursor     { return c.cur }
func (c *Controller) Viewport() Viewport { return c.vp }
func (c *Controller) Options() Options   { return c.opts }
func (c *Controller) Horizontal() bool   { return c.opts.Widths != nil }

// Async reports whether rows load in the background for this sheet.
func (c *Controller) Async() bool {
	t := c.opts.LazyThreshold
	if t == 0 {
		t = DefaultLazyThreshold
	}
	return t > 0 && c.sheet.RowCount >= t
}

// Move steps the cursor n cells in dir, clamped to the sheet.
func (c *Controller) Move(ctx context.Context, dir Direction, n int) error {
	n = maxInt(n, 1)
	switch dir {
	case Up:
		c.cur.Row -= n
	case Down:
		c.cur.Row += n
	case Left:
		c.cur.Col -= n
	case Right:
		c.cur.Col += n
	}
	c.clampCursor()
	c.follow(false, false)
	return c.load(ctx, hint(dir), false)
}

// PageMove steps one screen (or half of one) up or down.
func (c *Controller) PageMove(ctx context.Context, dir Direction) error {
	step := c.vp.Height
	if c.opts.HalfPage {
		step /= 2
	}
	if dir == Left || dir == Right {
		step = c.vp.Width
	}
	return c.Move(ctx, dir, maxInt(step, 1))
}

// JumpToBoundary moves to the first or last row or column and recentres.
func (c *Controller) JumpToBoundary(ctx context.Context, edge Edge) error {
	dir := cache.Unknown
	switch edge {
	case Top:
		c.cur.Row = 0
		dir = cache.Backward
	case Bottom:
		c.cur.Row = c.sheet.RowCount - 1
		dir = cache.Forward
	case FirstCol:
		c.cur.Col = 0
	case LastCol:
		c.cur.Col = c.sheet.ColumnCount - 1
	}
	c.clampCursor()
	c.follow(edge == Top || edge == Bottom, edge == FirstCol || edge == LastCol)
	return c.load(ctx, dir, false)
}

// JumpTo moves the cursor to (row, col). Targets outside the sheet leave the
// state untouched and return ErrOutOfRange. Off-screen targets recentre.
func (c *Controller) JumpTo(ctx context.Context, row, col int) error {
	if row < 0 || row >= c.sheet.RowCount || col < 0 || col >= c.sheet.ColumnCount {
		return fmt.Errorf("%w: %s is outside %d rows x %d columns",
			ErrOutOfRange, grid.CellName(row, col), c.sheet.RowCount, c.sheet.ColumnCount)
	}
	rows, cols := c.vp.Rows(), c.visibleCols(c.vp.LeftCol)
	offRow := !rows.Contains(row)
	offCol := col < c.vp.LeftCol || col >= c.vp.LeftCol+cols
	dir := cache.Unknown
	if row > c.cur.Row {
		dir = cache.Forward
	} else if row < c.cur.Row {
		dir = cache.Backward
	}
	c.cur = Cursor{Row: row, Col: col}
	c.follow(offRow, offCol)
	return c.load(ctx, dir, false)
}

// SwitchSheet shows sheet from (0,0) with an empty cache.
func (c *Controller) SwitchSheet(ctx context.Context, sheet grid.Sheet) error {
	c.sheet = sheet
	c.cur = Cursor{}
	c.vp.TopRow, c.vp.LeftCol = 0, 0
	c.vp.Width = c.visibleCols(0)
	c.loader.Reset(sheet)
	return c.load(ctx, cache.Unknown, true)
}

// Resize sets the visible size and keeps the cursor on screen.
func (c *Controller) Resize(ctx context.Context, height, width int) error {
	c.setSize(height, width)
	c.follow(false, false)
	return c.load(ctx, cache.Unknown, false)
}

// Refresh re-issues the load for the current viewport, retrying failed rows.
func (c *Controller) Refresh(ctx context.Context) error {
	return c.load(ctx, cache.Unknown, true)
}

// ----------------------------- Geometry -----------------------------

func (c *Controller) setSize(height, width int) {
	c.vp.Height = maxInt(height, 1)
	if c.Horizontal() {
		c.avail = maxInt(width, 1)
	} else {
		c.vp.Width = maxInt(width, 1)
	}
	c.vp.Width = c.visibleCols(c.vp.LeftCol)
}

// visibleCols counts the columns that fit from left.
func (c *Controller) visibleCols(left int) int {
	if !c.Horizontal() {
		return maxInt(c.vp.Width, 1)
	}
	sum, n := 0, 0
	for col := left; col < c.sheet.ColumnCount; col++ {
		w := maxInt(c.opts.Widths(col), 1)
		if sum+w > c.avail {
			break
		}
		sum += w
		n++
	}
	return maxInt(n, 1)
}

// maxLeft is the largest left column that still fills the screen.
func (c *Controller) maxLeft() int {
	if !c.Horizontal() {
		return maxInt(0, c.sheet.ColumnCount-c.vp.Width)
	}
	sum := 0
	left := c.sheet.ColumnCount
	for left > 0 {
		w := maxInt(c.opts.Widths(left-1), 1)
		if sum+w > c.avail {
			break
		}
		sum += w
		left--
	}
	return minInt(left, maxInt(c.sheet.ColumnCount-1, 0))
}

func (c *Controller) margin(size int) int {
	m := c.opts.Margin
	if m == 0 {
		m = DefaultMargin
	}
	if m < 0 {
		return 0
	}
	return minInt(m, (size-1)/2)
}

func (c *Controller) clampCursor() {
	c.cur.Row = clamp(c.cur.Row, 0, c.sheet.RowCount-1)
	c.cur.Col = clamp(c.cur.Col, 0, c.sheet.ColumnCount-1)
}

// follow translates the viewport by the least amount that keeps the cursor
// inside the margin, or centres it on the axes asked for.
func (c *Controller) follow(centreRows, centreCols bool) {
	h := c.vp.Height
	top := c.vp.TopRow
	if centreRows {
		top = c.cur.Row - h/2
	} else {
		m := c.margin(h)
		if c.cur.Row < top+m {
			top = c.cur.Row - m
		} else if c.cur.Row > top+h-1-m {
			top = c.cur.Row - h + 1 + m
		}
	}
	c.vp.TopRow = clamp(top, 0, maxInt(0, c.sheet.RowCount-h))

	left := c.vp.LeftCol
	if centreCols {
		left = c.cur.Col - c.visibleCols(maxInt(c.cur.Col-1, 0))/2
	} else {
		if m := c.margin(c.visibleCols(left)); c.cur.Col < left+m {
			left = c.cur.Col - m
		}
		left = maxInt(left, 0)
		for left < c.cur.Col {
			w := c.visibleCols(left)
			if c.cur.Col <= left+w-1-c.margin(w) {
				break
			}
			left++
		}
	}
	left = clamp(left, 0, c.maxLeft())
	// a narrow screen may not fit the cursor column beside a clamped left edge
	for left < c.cur.Col && c.cur.Col >= left+c.visibleCols(left) {
		left++
	}
	c.vp.LeftCol = maxInt(left, 0)
	c.vp.Width = c.visibleCols(c.vp.LeftCol)
}

// ----------------------------- Loading -----------------------------

func (c *Controller) load(ctx context.Context, dir cache.Direction, force bool) error {
	rows := c.vp.Rows()
	if !force && c.loaded && rows == c.lastRows {
		return nil
	}
	c.loaded = true
	c.lastRows = rows
	if c.Async() {
		return c.loader.RequestWindow(ctx, rows, dir)
	}
	return c.loader.EnsureWindow(ctx, rows, dir)
}

func hint(dir Direction) cache.Direction {
	switch dir {
	case Down:
		return cache.Forward
	case Up:
		return cache.Backward
	}
	return cache.Unknown
}

// ----------------------------- Misc -----------------------------

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	return maxInt(lo, minInt(v, hi))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
