// Package cache keeps a bounded window of sheet rows in memory.
//
// Rows are fetched from a storage.Source either synchronously (Ensure) or
// through a background Worker (Request + Poll). Residency is capped with LRU
// eviction that never touches the rows the user is looking at.
package cache

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"sheetview/internal/grid"
	"sheetview/internal/logging"
	"sheetview/internal/storage"
)

const (
	DefaultMaxRows   = 2000
	DefaultHardLimit = 3 * DefaultMaxRows
)

// ErrShortRead marks rows the source failed to return.
var ErrShortRead = errors.New("source returned fewer rows than requested")

// Range is a half-open interval of row indices.
type Range struct {
	Start, End int
}

func (r Range) Len() int {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

func (r Range) Empty() bool           { return r.Len() == 0 }
func (r Range) Contains(row int) bool { return row >= r.Start && row < r.End }
func (r Range) String() string        { return fmt.Sprintf("[%d,%d)", r.Start, r.End) }

// Clamp limits r to [0, n).
func (r Range) Clamp(n int) Range {
	return Range{min(max(r.Start, 0), n), max(min(r.End, n), 0)}
}

func (r Range) Grow(before, after int) Range {
	return Range{r.Start - before, r.End + after}
}

// RowState is the residency of one row.
type RowState uint8

const (
	Absent RowState = iota
	Present
	Errored
	Pending
)

func (s RowState) String() string {
	switch s {
	case Present:
		return "present"
	case Errored:
		return "errored"
	case Pending:
		return "pending"
	}
	return "absent"
}

// Direction hints where prefetching should extend the viewport.
type Direction int

const (
	Unknown Direction = iota
	Forward
	Backward
)

// PartialFetchError reports rows that could not be loaded.
type PartialFetchError struct {
	Range Range
	Err   error
}

func (e *PartialFetchError) Error() string {
	return fmt.Sprintf("fetch rows %d-%d: %v", e.Range.Start+1, e.Range.End, e.Err)
}

func (e *PartialFetchError) Unwrap() error { return e.Err }

// Options tune residency. Zero values take defaults.
type Options struct {
	MaxRows   int // soft cap on resident rows
	HardLimit int // resident rows beyond which even the margin is evicted
	// Margin is the protected band on each side of the viewport. Zero means
	// one viewport height; negative disables it.
	Margin int
	// Prefetch is how far past the viewport edge EnsureWindow reads. Zero
	// means one viewport height; negative disables prefetch.
	Prefetch int
}

func (o Options) withDefaults() Options {
	if o.MaxRows <= 0 {
		o.MaxRows = DefaultMaxRows
	}
	if o.HardLimit <= 0 {
		o.HardLimit = 3 * o.MaxRows
	}
	o.HardLimit = max(o.HardLimit, o.MaxRows)
	return o
}

type entry struct {
	row    grid.Row
	access uint64
}

// Cache holds resident rows of one sheet at a time.
type Cache struct {
	src  storage.Source
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	sheet    grid.Sheet
	entries  map[int]*entry
	errs     map[int]error
	pending  map[int]uint64 // row -> request seq
	clock    uint64
	seq      uint64
	gen      uint64
	viewport Range
	worker   *Worker
	fetches  int
}

func New(src storage.Source, sheet grid.Sheet, opts Options) *Cache {
	c := &Cache{
		src:  src,
		opts: opts.withDefaults(),
		log:  logging.WithFields(context.Background(), "component", "cache"),
	}
	c.reset(sheet)
	return c
}

// Attach routes Request through w. Results are applied by Poll.
func (c *Cache) Attach(w *Worker) {
	c.mu.Lock()
	c.worker = w
	c.mu.Unlock()
}

func (c *Cache) Sheet() grid.Sheet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sheet
}

func (c *Cache) Options() Options { return c.opts }

// Reset drops all state and switches to sheet. Results of requests issued
// before the reset are discarded when they arrive.
func (c *Cache) Reset(sheet grid.Sheet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset(sheet)
}

func (c *Cache) reset(sheet grid.Sheet) {
	c.sheet = sheet
	c.entries = make(map[int]*entry)
	c.errs = make(map[int]error)
	c.pending = make(map[int]uint64)
	c.viewport = Range{}
	c.gen++
	c.log.Debug("reset", "sheet", sheet.Name, "rows", sheet.RowCount, "gen", c.gen)
}

// SetViewport records the rows currently on screen; they are never evicted.
func (c *Cache) SetViewport(r Range) {
	c.mu.Lock()
	c.viewport = r.Clamp(c.sheet.RowCount)
	c.mu.Unlock()
}

func (c *Cache) Viewport() Range {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewport
}

// Get returns a resident row without fetching and marks it recently used.
func (c *Cache) Get(row int) (grid.Row, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[row]
	if !ok {
		return grid.Row{}, false
	}
	c.clock++
	e.access = c.clock
	return e.row, true
}

// Peek is Get without touching recency.
func (c *Cache) Peek(row int) (grid.Row, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[row]
	if !ok {
		return grid.Row{}, false
	}
	return e.row, true
}

func (c *Cache) State(row int) RowState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state(row)
}

func (c *Cache) state(row int) RowState {
	if _, ok := c.entries[row]; ok {
		return Present
	}
	if _, ok := c.pending[row]; ok {
		return Pending
	}
	if _, ok := c.errs[row]; ok {
		return Errored
	}
	return Absent
}

// Err returns the failure recorded for an errored row.
func (c *Cache) Err(row int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errs[row]
}

// Len is the number of resident rows.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Fetches counts source reads issued by Ensure.
func (c *Cache) Fetches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches
}

// Ensure loads every row of r that is absent or errored, one source read per
// contiguous gap. Rows already requested from the worker are waited for, not
// read again. On return each row in r is present or errored; the first
// failure is returned as a *PartialFetchError.
func (c *Cache) Ensure(ctx context.Context, r Range) error {
	return c.ensure(ctx, r, true)
}

func (c *Cache) ensure(ctx context.Context, r Range, retry bool) error {
	if err := c.await(ctx, r); err != nil {
		return err
	}
	c.mu.Lock()
	r = r.Clamp(c.sheet.RowCount)
	sheet := c.sheet
	gen := c.gen
	gaps := c.gaps(r, func(s RowState) bool {
		return s == Absent || s == Pending || (retry && s == Errored)
	})
	c.mu.Unlock()

	var first error
	for _, gap := range gaps {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := c.src.FetchRows(ctx, sheet, gap.Start, gap.End)

		c.mu.Lock()
		c.fetches++
		if c.gen != gen {
			c.mu.Unlock()
			return nil
		}
		ferr := c.apply(gap, rows, err, r)
		c.mu.Unlock()

		if ferr != nil {
			if errors.Is(ferr, context.Canceled) || errors.Is(ferr, context.DeadlineExceeded) {
				return ferr
			}
			if first == nil {
				first = ferr
			}
		}
	}
	return first
}

// await applies worker results until no row of r is pending. It gives up
// when the worker stops; the rows still pending are then read directly.
func (c *Cache) await(ctx context.Context, r Range) error {
	for {
		c.mu.Lock()
		w := c.worker
		busy := w != nil && len(c.gaps(r.Clamp(c.sheet.RowCount), isPending)) > 0
		c.mu.Unlock()
		if !busy {
			return nil
		}
		select {
		case res := <-w.Results():
			c.applyResult(res)
		case <-w.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func isPending(s RowState) bool { return s == Pending }

// gaps splits r into maximal runs of rows matching missing. Callers hold mu.
func (c *Cache) gaps(r Range, missing func(RowState) bool) []Range {
	var out []Range
	run := -1
	for row := r.Start; row < r.End; row++ {
		if missing(c.state(row)) {
			if run < 0 {
				run = row
			}
			continue
		}
		if run >= 0 {
			out = append(out, Range{run, row})
			run = -1
		}
	}
	if run >= 0 {
		out = append(out, Range{run, r.End})
	}
	return out
}

// apply stores a fetch result for gap, marking failed or missing rows as
// errored. keep is spared from soft eviction. Callers hold mu.
func (c *Cache) apply(gap Range, rows []grid.Row, err error, keep Range) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			for row := gap.Start; row < gap.End; row++ {
				delete(c.pending, row)
			}
			return err
		}
		pe := &PartialFetchError{Range: gap, Err: err}
		c.markErrored(gap, pe)
		c.log.Warn("fetch failed", "sheet", c.sheet.Name, "range", gap.String(), "err", err)
		return pe
	}

	n := min(len(rows), gap.Len())
	for i := 0; i < n; i++ {
		row := gap.Start + i
		c.clock++
		c.entries[row] = &entry{row: rows[i], access: c.clock}
		delete(c.errs, row)
		delete(c.pending, row)
	}
	c.log.Debug("rows loaded", "sheet", c.sheet.Name, "range", gap.String(), "rows", n)

	var ferr error
	if n < gap.Len() {
		short := Range{gap.Start + n, gap.End}
		pe := &PartialFetchError{Range: short, Err: ErrShortRead}
		c.markErrored(short, pe)
		c.log.Warn("short read", "sheet", c.sheet.Name, "range", short.String())
		ferr = pe
	}
	c.evict(keep)
	return ferr
}

func (c *Cache) markErrored(r Range, err error) {
	for row := r.Start; row < r.End; row++ {
		delete(c.entries, row)
		delete(c.pending, row)
		c.errs[row] = err
	}
}

// protected is the viewport widened by the margin.
func (c *Cache) protected() Range {
	margin := c.opts.Margin
	if margin == 0 {
		margin = c.viewport.Len()
	}
	if margin < 0 {
		margin = 0
	}
	return c.viewport.Grow(margin, margin)
}

// evict enforces the soft cap outside the protected window and keep, then the
// hard ceiling outside the protected window and, failing that, outside the
// viewport. Callers hold mu.
func (c *Cache) evict(keep Range) {
	if len(c.entries) <= c.opts.MaxRows {
		return
	}
	prot := c.protected()
	soft := c.victims(func(row int) bool { return !prot.Contains(row) && !keep.Contains(row) })
	n := 0
	for _, row := range soft {
		if len(c.entries) <= c.opts.MaxRows {
			break
		}
		delete(c.entries, row)
		n++
	}

	// past the hard limit rows outside the protected window go first, then the margin
	outside := func(row int) bool { return !prot.Contains(row) }
	margin := func(row int) bool { return prot.Contains(row) && !c.viewport.Contains(row) }
	for _, evictable := range []func(int) bool{outside, margin} {
		if len(c.entries) <= c.opts.HardLimit {
			break
		}
		for _, row := range c.victims(evictable) {
			if len(c.entries) <= c.opts.HardLimit {
				break
			}
			delete(c.entries, row)
			n++
		}
	}
	if n > 0 {
		c.log.Debug("evicted", "sheet", c.sheet.Name, "rows", n, "resident", len(c.entries))
	}
}

// victims lists evictable rows, least recently used first.
func (c *Cache) victims(evictable func(int) bool) []int {
	rows := make([]int, 0, len(c.entries))
	for row := range c.entries {
		if evictable(row) {
			rows = append(rows, row)
		}
	}
	slices.SortFunc(rows, func(a, b int) int {
		return cmp.Compare(c.entries[a].access, c.entries[b].access)
	})
	return rows
}

// window returns the viewport and its prefetch extension for dir.
func (c *Cache) window(viewport Range, dir Direction) (Range, []Range) {
	viewport = viewport.Clamp(c.sheet.RowCount)
	extra := c.opts.Prefetch
	if extra == 0 {
		extra = viewport.Len()
	}
	if extra <= 0 {
		return viewport, nil
	}
	after := Range{viewport.End, viewport.End + extra}.Clamp(c.sheet.RowCount)
	before := Range{viewport.Start - extra, viewport.Start}.Clamp(c.sheet.RowCount)
	switch dir {
	case Forward:
		return viewport, []Range{after}
	case Backward:
		return viewport, []Range{before}
	}
	return viewport, []Range{after, before}
}

// EnsureWindow loads the viewport synchronously and prefetches past its edge
// in the scroll direction. Only viewport failures are returned; prefetch
// failures just leave rows errored and are not retried here.
func (c *Cache) EnsureWindow(ctx context.Context, viewport Range, dir Direction) error {
	c.mu.Lock()
	vp, extra := c.window(viewport, dir)
	c.viewport = vp
	c.mu.Unlock()

	if err := c.Ensure(ctx, vp); err != nil {
		return err
	}
	for _, r := range extra {
		if err := c.ensure(ctx, r, false); err != nil {
			c.log.Debug("prefetch failed", "range", r.String(), "err", err)
			if ctx.Err() != nil {
				return nil
			}
		}
	}
	return nil
}

// Request submits the absent or errored rows of r to the attached worker and
// marks them pending. Without a worker it falls back to Ensure. Rows that do
// not fit in the worker queue stay absent; Poll submits them again while they
// are on screen.
func (c *Cache) Request(ctx context.Context, r Range) error {
	return c.request(ctx, r, true)
}

func (c *Cache) request(ctx context.Context, r Range, retry bool) error {
	c.mu.Lock()
	if c.worker == nil {
		c.mu.Unlock()
		return c.ensure(ctx, r, retry)
	}
	defer c.mu.Unlock()
	c.submit(r, retry)
	return nil
}

// submit queues the missing rows of r, stopping at the first gap that does
// not fit. Callers hold mu.
func (c *Cache) submit(r Range, retry bool) {
	r = r.Clamp(c.sheet.RowCount)
	gaps := c.gaps(r, func(s RowState) bool {
		return s == Absent || (retry && s == Errored)
	})
	for _, gap := range gaps {
		c.seq++
		req := Request{Sheet: c.sheet, Range: gap, Gen: c.gen, Seq: c.seq}
		if !c.worker.Submit(req) && !(c.prune() > 0 && c.worker.Submit(req)) {
			c.log.Debug("worker queue full", "range", gap.String())
			return
		}
		for row := gap.Start; row < gap.End; row++ {
			c.pending[row] = c.seq
		}
	}
}

// prune drops queued requests that no longer touch the protected window or
// belong to an earlier sheet, and forgets their pending rows. Callers hold mu.
func (c *Cache) prune() int {
	prot := c.protected()
	dropped := c.worker.Prune(func(req Request) bool {
		return req.Gen != c.gen || req.Range.End <= prot.Start || req.Range.Start >= prot.End
	})
	for _, req := range dropped {
		for row := req.Range.Start; row < req.Range.End; row++ {
			if c.pending[row] == req.Seq {
				delete(c.pending, row)
			}
		}
	}
	if len(dropped) > 0 {
		c.log.Debug("stale requests dropped", "requests", len(dropped))
	}
	return len(dropped)
}

// RequestWindow is the asynchronous counterpart of EnsureWindow.
func (c *Cache) RequestWindow(ctx context.Context, viewport Range, dir Direction) error {
	c.mu.Lock()
	vp, extra := c.window(viewport, dir)
	c.viewport = vp
	c.mu.Unlock()

	if err := c.Request(ctx, vp); err != nil {
		return err
	}
	for _, r := range extra {
		if err := c.request(ctx, r, false); err != nil {
			return err
		}
	}
	return nil
}

// Poll applies finished worker results without blocking and reports how many
// were applied. Results from before the last Reset are dropped. Viewport rows
// that are neither loaded nor requested are submitted again.
func (c *Cache) Poll() int {
	c.mu.Lock()
	w := c.worker
	c.mu.Unlock()
	if w == nil {
		return 0
	}

	applied := 0
	for {
		select {
		case res := <-w.Results():
			if c.applyResult(res) {
				applied++
			}
		default:
			c.mu.Lock()
			c.submit(c.viewport, false)
			c.mu.Unlock()
			return applied
		}
	}
}

func (c *Cache) applyResult(res Result) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if res.Gen != c.gen {
		c.log.Debug("stale result dropped", "range", res.Range.String(), "gen", res.Gen)
		return false
	}
	// rows re-requested since this request belong to the newer one
	gap := res.Range
	for row := gap.Start; row < gap.End; row++ {
		if seq, ok := c.pending[row]; ok && seq != res.Seq {
			return false
		}
	}
	c.apply(gap, res.Rows, res.Err, Range{})
	return true
}

// Pending reports whether any request is in flight or the viewport is still
// waiting for rows the worker has not taken yet.
func (c *Cache) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) > 0 {
		return true
	}
	if c.worker == nil {
		return false
	}
	return len(c.gaps(c.viewport, func(s RowState) bool { return s == Absent })) > 0
}
