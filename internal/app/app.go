// Package app is the terminal front end: it owns the tcell screen, turns key
// presses into session events and draws the session state after each one.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"

	"sheetview/internal/cache"
	"sheetview/internal/config"
	"sheetview/internal/grid"
	"sheetview/internal/keymap"
	"sheetview/internal/logging"
	"sheetview/internal/search"
	"sheetview/internal/session"
	"sheetview/internal/storage"
	"sheetview/internal/view"
)

var errNotLoaded = errors.New("row not loaded yet")

// TickInterval is how often the event loop applies background fetches and
// scans a search chunk.
const TickInterval = 16 * time.Millisecond

// Options configure an App. Nil fields take defaults.
type Options struct {
	Config *config.Config
	Keys   *keymap.Map
	// Copy puts text on the clipboard.
	Copy func(string) error
}

type App struct {
	screen tcell.Screen
	cfg    *config.Config
	keys   *keymap.Map
	copy   func(string) error
	log    *slog.Logger

	sess       *session.Session
	sheet      grid.Sheet
	horizontal bool
	widths     map[int]int // measured column widths in horizontal mode

	theme      Theme
	themeIndex int

	prompt        *prompt
	helpVisible   bool
	detailVisible bool
	message       string
	alert         bool

	Quit bool
}

// New opens a session on sheet index of src sized to the screen.
func New(ctx context.Context, screen tcell.Screen, src storage.Source, index int, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	keys := opts.Keys
	if keys == nil {
		keys = keymap.Default()
	}
	cp := opts.Copy
	if cp == nil {
		cp = clipboard.WriteAll
	}
	sheets := src.Sheets()
	if index < 0 || index >= len(sheets) {
		return nil, fmt.Errorf("%w: %d of %d", session.ErrNoSheet, index+1, len(sheets))
	}

	a := &App{
		screen:     screen,
		cfg:        cfg,
		keys:       keys,
		copy:       cp,
		log:        logging.WithFields(ctx, "component", "app"),
		sheet:      sheets[index],
		horizontal: cfg.UI.HorizontalScroll,
		widths:     make(map[int]int),
		themeIndex: cfg.ThemeIndex(),
	}
	a.theme = ThemeByName(config.Themes[a.themeIndex])

	height, width := a.layout()
	sess, err := session.New(ctx, src, index, height, width, a.sessionOptions(height))
	if err != nil {
		return nil, err
	}
	a.sess = sess
	return a, nil
}

// sessionOptions maps the config onto the session's knobs. Config zeros mean
// "none" where the session's zeros mean "default".
func (a *App) sessionOptions(height int) session.Options {
	cfg := a.cfg
	o := session.Options{
		Cache: cache.Options{
			MaxRows:   cfg.Cache.MaxRows,
			HardLimit: cfg.Cache.HardLimit(),
		},
		View: view.Options{
			Margin:        cfg.UI.CursorMargin,
			HalfPage:      cfg.UI.HalfPage,
			LazyThreshold: cfg.Cache.LazyThreshold,
		},
		Search:  search.Options{ChunkRows: cfg.Search.ChunkRows},
		Workers: cfg.Cache.Workers,
	}
	switch cfg.Cache.PrefetchScreens {
	case 0:
		o.Cache.Prefetch = -1
	case 1:
	default:
		o.Cache.Prefetch = cfg.Cache.PrefetchScreens * height
	}
	if cfg.UI.CursorMargin == 0 {
		o.View.Margin = -1
	}
	if cfg.Cache.LazyThreshold == 0 {
		o.View.LazyThreshold = 1 // every sheet loads in the background
	}
	if a.horizontal {
		o.View.Widths = a.colWidth
	}
	return o
}

// Close stops background loading. The source is left open.
func (a *App) Close() error {
	return a.sess.Close()
}

// ----------------------------- Layout -----------------------------

// layout returns the data area in rows, and in columns (or screen cells in
// horizontal mode).
func (a *App) layout() (height, width int) {
	w, h := a.screen.Size()
	height = maxInt(h-headerLines-statusLines, 1)
	avail := maxInt(w-a.gutterWidth(), 1)
	if a.horizontal {
		return height, avail
	}
	return height, maxInt(avail/a.evenWidth(), 1)
}

// gutterWidth fits the largest row number plus a separator.
func (a *App) gutterWidth() int {
	return maxInt(len(fmt.Sprint(a.sheet.RowCount)), 2) + 1
}

// evenWidth is the column width when columns share the screen: the configured
// width, stretched when every column fits.
func (a *App) evenWidth() int {
	w, _ := a.screen.Size()
	avail := maxInt(w-a.gutterWidth(), 1)
	cw := a.cfg.UI.ColumnWidth + 2*cellPadding
	if cols := a.sheet.ColumnCount; cols > 0 && cols*cw < avail {
		cw = avail / cols
	}
	return maxInt(minInt(cw, avail), minColWidth)
}

func (a *App) colWidth(c int) int {
	if !a.horizontal {
		return a.evenWidth()
	}
	if w, ok := a.widths[c]; ok {
		return w
	}
	w, measured := a.measure(c)
	if measured {
		a.widths[c] = w
	}
	return w
}

// measure sizes column c to its title and the loaded rows on screen. The
// result is only final once at least one row was loaded.
func (a *App) measure(c int) (int, bool) {
	w := runewidth.StringWidth(a.sheet.Header(c))
	measured := false
	if a.sess != nil {
		vp := a.sess.Viewport()
		for r := vp.TopRow; r < vp.TopRow+vp.Height; r++ {
			row, ok := a.sess.Resident(r)
			if !ok {
				continue
			}
			measured = true
			w = maxInt(w, runewidth.StringWidth(row.Cell(c).Display()))
		}
	}
	w = maxInt(minInt(w, a.cfg.UI.ColumnWidth), minColWidth-2*cellPadding)
	return w + 2*cellPadding, measured
}

func (a *App) resize(ctx context.Context) {
	height, width := a.layout()
	a.report(a.sess.Resize(ctx, height, width))
}

// ----------------------------- Event loop -----------------------------

// Run draws and handles events until quit or ctx ends. Background rows and
// search chunks are applied on a ticker so input never waits on them.
func (a *App) Run(ctx context.Context) error {
	events := make(chan tcell.Event, 32)
	quit := make(chan struct{})
	go a.screen.ChannelEvents(events, quit)
	defer close(quit)

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	a.Draw()
	for !a.Quit {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			a.HandleEvent(ctx, ev)
		case <-ticker.C:
			if !a.sess.Tick(ctx) {
				continue
			}
		}
		a.Draw()
	}
	return nil
}

func (a *App) HandleEvent(ctx context.Context, ev tcell.Event) {
	switch ev := ev.(type) {
	case *tcell.EventResize:
		a.screen.Sync()
		a.resize(ctx)
	case *tcell.EventKey:
		a.HandleKey(ctx, ev)
	}
}

// HandleKey routes a key to the open prompt or popup, or to its bound action.
func (a *App) HandleKey(ctx context.Context, ev *tcell.EventKey) {
	if a.prompt != nil {
		p := a.prompt
		done, accepted := p.handleKey(ev)
		if done {
			a.prompt = nil
			if accepted {
				p.submit(p.text())
			}
		}
		return
	}
	if a.helpVisible {
		a.helpVisible = false
		return
	}
	if a.detailVisible {
		a.detailVisible = false
		if ev.Key() == tcell.KeyRune && ev.Rune() == 'c' {
			a.copyCell()
		}
		return
	}
	a.message, a.alert = "", false
	a.Do(ctx, a.keys.Lookup(ev))
}

// Do performs one action.
func (a *App) Do(ctx context.Context, action keymap.Action) {
	var err error
	switch action {
	case keymap.Quit:
		a.Quit = true
	case keymap.Help:
		a.helpVisible = true
	case keymap.ShowCellDetail:
		a.detailVisible = true
	case keymap.ThemeToggle:
		a.themeIndex = (a.themeIndex + 1) % len(config.Themes)
		a.theme = ThemeByName(config.Themes[a.themeIndex])
		a.info("theme: " + a.theme.Name)

	case keymap.Up:
		err = a.sess.Move(ctx, view.Up, 1)
	case keymap.Down:
		err = a.sess.Move(ctx, view.Down, 1)
	case keymap.Left:
		err = a.sess.Move(ctx, view.Left, 1)
	case keymap.Right:
		err = a.sess.Move(ctx, view.Right, 1)
	case keymap.PageUp:
		err = a.sess.Page(ctx, view.Up)
	case keymap.PageDown:
		err = a.sess.Page(ctx, view.Down)
	case keymap.JumpToTop:
		err = a.sess.Boundary(ctx, view.Top)
	case keymap.JumpToBottom:
		err = a.sess.Boundary(ctx, view.Bottom)
	case keymap.RowStart:
		err = a.sess.Boundary(ctx, view.FirstCol)
	case keymap.RowEnd:
		err = a.sess.Boundary(ctx, view.LastCol)

	case keymap.Jump:
		a.prompt = newPrompt("Go to:", "", func(text string) {
			if strings.TrimSpace(text) == "" {
				return
			}
			a.report(a.sess.Jump(ctx, text))
		})
	case keymap.Search:
		a.prompt = newPrompt("Search:", a.sess.Search().Query, func(text string) {
			if text == "" {
				a.sess.ClearSearch()
				return
			}
			a.report(a.sess.StartSearch(ctx, text))
		})
	case keymap.NextMatch, keymap.PrevMatch:
		var ok bool
		if action == keymap.NextMatch {
			ok, err = a.sess.NextMatch(ctx)
		} else {
			ok, err = a.sess.PrevMatch(ctx)
		}
		if !ok && err == nil {
			a.info("no matches")
		}
	case keymap.Cancel:
		if a.sess.Search().Status == search.Scanning {
			a.sess.Cancel()
			a.info("search stopped")
		} else {
			a.sess.ClearSearch()
		}

	case keymap.NextSheet:
		err = a.switchSheet(ctx, 1)
	case keymap.PrevSheet:
		err = a.switchSheet(ctx, -1)

	case keymap.CopyCell:
		a.copyCell()
	case keymap.CopyRow:
		a.copyRow()
	case keymap.Refresh:
		err = a.sess.Refresh(ctx)
	}
	a.report(err)
}

func (a *App) switchSheet(ctx context.Context, delta int) error {
	n := len(a.sess.Sheets())
	if n < 2 {
		a.info("only one sheet")
		return nil
	}
	i := ((a.sess.SheetIndex()+delta)%n + n) % n
	a.sheet = a.sess.Sheets()[i]
	a.widths = make(map[int]int)
	if err := a.sess.SwitchSheet(ctx, i); err != nil {
		return err
	}
	// the gutter and column widths follow the new sheet
	height, width := a.layout()
	return a.sess.Resize(ctx, height, width)
}

// ----------------------------- Clipboard -----------------------------

func (a *App) copyCell() {
	v, ok := a.sess.CurrentCell()
	if !ok {
		a.fail(errNotLoaded)
		return
	}
	cur := a.sess.Cursor()
	a.copyText(v.Raw(), "copied "+grid.CellName(cur.Row, cur.Col))
}

// copyRow copies the cursor row as tab separated raw values.
func (a *App) copyRow() {
	cur := a.sess.Cursor()
	row, ok := a.sess.Resident(cur.Row)
	if !ok {
		a.fail(errNotLoaded)
		return
	}
	fields := make([]string, a.sheet.ColumnCount)
	for c := range fields {
		fields[c] = row.Cell(c).Raw()
	}
	a.copyText(strings.Join(fields, "\t"), fmt.Sprintf("copied row %d", cur.Row+1))
}

func (a *App) copyText(text, done string) {
	if err := a.copy(text); err != nil {
		a.fail(fmt.Errorf("clipboard: %w", err))
		return
	}
	a.info(done)
}

// ----------------------------- Messages -----------------------------

func (a *App) info(msg string) {
	a.message, a.alert = msg, false
}

func (a *App) fail(err error) {
	a.message, a.alert = err.Error(), true
	a.log.Warn("action failed", "err", err)
}

func (a *App) report(err error) {
	if err != nil {
		a.fail(err)
	}
}
