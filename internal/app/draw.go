package app

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"

	"sheetview/internal/cache"
	"sheetview/internal/grid"
	"sheetview/internal/search"
	"sheetview/internal/session"
	"sheetview/internal/view"
)

const (
	headerLines = 1
	statusLines = 2
	cellPadding = 1
	minColWidth = 6
)

// ----------------------------- Drawing -----------------------------

func (a *App) Draw() {
	s := a.screen
	th := a.theme
	s.SetStyle(th.Base)
	s.Clear()
	w, h := s.Size()

	sheet := a.sess.Sheet()
	vp := a.sess.Viewport()
	cur := a.sess.Cursor()
	gutter := a.gutterWidth()
	lastCol := minInt(vp.LeftCol+vp.Width, sheet.ColumnCount)

	// header row: column titles
	x := gutter
	for c := vp.LeftCol; c < lastCol && x < w; c++ {
		wc := a.colWidth(c)
		style := th.Header
		if c == cur.Col {
			style = th.HeaderCur
		}
		fillRow(s, x, 0, wc, style)
		printText(s, x+cellPadding, 0, sheet.Header(c), style, wc-2*cellPadding)
		x += wc
	}

	for i, rv := range a.sess.VisibleRows() {
		y := headerLines + i
		if y >= h-statusLines {
			break
		}
		gs := th.Gutter
		if rv.Index == cur.Row {
			gs = th.GutterCur
		}
		fillRow(s, 0, y, gutter-1, gs)
		printRight(s, 0, y, fmt.Sprint(rv.Index+1), gs, gutter-1)

		x = gutter
		for c := vp.LeftCol; c < lastCol && x < w; c++ {
			wc := a.colWidth(c)
			text, style, right := a.cellContent(rv, c)
			style = a.highlight(style, rv.Index, c, cur)
			fillRow(s, x, y, wc, style)
			if right {
				printRight(s, x+cellPadding, y, text, style, wc-2*cellPadding)
			} else {
				printText(s, x+cellPadding, y, text, style, wc-2*cellPadding)
			}
			x += wc
		}
	}

	a.drawStatus(w, h)

	s.HideCursor()
	switch {
	case a.prompt != nil:
		a.prompt.draw(s, th.Popup, th.PopupBorder)
	case a.helpVisible:
		drawPopup(s, "Help", a.helpText(), th.Popup, th.PopupBorder)
	case a.detailVisible:
		drawPopup(s, "Cell "+grid.CellName(cur.Row, cur.Col), a.detailText(), th.Popup, th.PopupBorder)
	}
	s.Show()
}

// cellContent returns the text of one cell, its base style and whether it is
// right aligned.
func (a *App) cellContent(rv session.RowView, col int) (string, tcell.Style, bool) {
	th := a.theme
	switch rv.State {
	case cache.Errored:
		if col == a.sess.Viewport().LeftCol {
			return "⚠ load failed", th.Error, false
		}
		return "", th.Error, false
	case cache.Present:
	default:
		return "…", th.Loading, false
	}
	v := rv.Row.Cell(col)
	switch v.Kind() {
	case grid.KindError:
		return v.Display(), th.Error, false
	case grid.KindNumber:
		return v.Display(), th.Number, true
	case grid.KindFormula:
		c := v.Cached()
		if c.Kind() == grid.KindError {
			return c.Display(), th.Error, false
		}
		return c.Display(), th.Number, c.Kind() == grid.KindNumber
	}
	return v.Display(), th.Base, false
}

func (a *App) highlight(style tcell.Style, row, col int, cur view.Cursor) tcell.Style {
	th := a.theme
	switch {
	case row == cur.Row && col == cur.Col:
		return th.Cursor
	case a.sess.IsCurrentMatch(row, col):
		return th.MatchCur
	case a.sess.IsMatch(row, col):
		return th.Match
	case row == cur.Row:
		fg, _, _ := style.Decompose()
		return th.CursorRow.Foreground(fg)
	case col == cur.Col && style == th.Base:
		return th.CursorCol
	}
	return style
}

func (a *App) drawStatus(w, h int) {
	th := a.theme
	s := a.screen
	y := h - statusLines
	if y < headerLines {
		return
	}
	sheet := a.sess.Sheet()
	cur := a.sess.Cursor()

	value := ""
	if v, ok := a.sess.CurrentCell(); ok {
		value = v.Display()
		if v.Kind() == grid.KindFormula {
			value = "=" + v.FormulaText() + " → " + value
		}
	} else if a.sess.Loading() {
		value = "loading…"
	}

	parts := []string{
		" " + grid.CellName(cur.Row, cur.Col),
		value,
		fmt.Sprintf("%s rows × %d cols", grid.Number(float64(sheet.RowCount)).Display(), sheet.ColumnCount),
	}
	if n := len(a.sess.Sheets()); n > 1 {
		parts = append(parts, fmt.Sprintf("sheet %d/%d %s", a.sess.SheetIndex()+1, n, sheet.Name))
	} else {
		parts = append(parts, sheet.Name)
	}
	if info := a.sess.Search(); info.Query != "" {
		parts = append(parts, searchStatus(info))
	}
	parts = append(parts, "?:help q:quit")
	fillRow(s, 0, y, w, th.Status)
	printText(s, 0, y, strings.Join(parts, " │ "), th.Status, w)

	// message line
	style := th.Message
	if a.alert {
		style = th.Alert
	}
	printText(s, 1, y+1, a.message, style, w-1)
}

func searchStatus(info session.SearchInfo) string {
	pos := "-"
	if info.Current >= 0 {
		pos = fmt.Sprint(info.Current + 1)
	}
	switch info.Status {
	case search.Scanning:
		return fmt.Sprintf("/%s %s/%d %3.0f%%", info.Query, pos, info.Count, info.Progress*100)
	case search.Cancelled:
		return fmt.Sprintf("/%s %s/%d (stopped)", info.Query, pos, info.Count)
	}
	if info.Count == 0 {
		return fmt.Sprintf("/%s no matches", info.Query)
	}
	return fmt.Sprintf("/%s %s/%d", info.Query, pos, info.Count)
}

func (a *App) helpText() string {
	var b strings.Builder
	b.WriteString("sheetview - keyboard shortcuts\n\n")
	for _, ln := range a.keys.Help() {
		b.WriteString(ln)
		b.WriteByte('\n')
	}
	b.WriteString("\nJump accepts A1, 500 (row) or 10,5 (row,col).\nPress any key to close.")
	return b.String()
}

func (a *App) detailText() string {
	cur := a.sess.Cursor()
	sheet := a.sess.Sheet()
	v, ok := a.sess.CurrentCell()
	if !ok {
		return "Row not loaded yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Column: %s\n", sheet.Header(cur.Col))
	fmt.Fprintf(&b, "Type:   %s\n", v.Kind())
	if v.Kind() == grid.KindFormula {
		fmt.Fprintf(&b, "Formula: =%s\n", v.FormulaText())
		v = v.Cached()
	}
	fmt.Fprintf(&b, "Value:  %s\n", v.Display())
	if raw := v.Raw(); raw != v.Display() {
		fmt.Fprintf(&b, "Raw:    %s\n", raw)
	}
	b.WriteString("\nc: copy value   any other key: close")
	return b.String()
}

// ----------------------------- Helpers -----------------------------

func fillRow(s tcell.Screen, x, y, width int, style tcell.Style) {
	for i := 0; i < width; i++ {
		s.SetContent(x+i, y, ' ', nil, style)
	}
}

// printText writes str left aligned into width cells, ending truncated text
// with an ellipsis.
func printText(s tcell.Screen, x, y int, str string, style tcell.Style, width int) {
	if width <= 0 {
		return
	}
	str = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		return r
	}, str)
	if runewidth.StringWidth(str) > width {
		str = runewidth.Truncate(str, width, "…")
	}
	col := 0
	for _, r := range str {
		rw := runewidth.RuneWidth(r)
		if rw == 0 {
			continue
		}
		s.SetContent(x+col, y, r, nil, style)
		col += rw
	}
}

// printRight writes str right aligned into width cells.
func printRight(s tcell.Screen, x, y int, str string, style tcell.Style, width int) {
	sw := runewidth.StringWidth(str)
	if sw >= width {
		printText(s, x, y, str, style, width)
		return
	}
	printText(s, x+width-sw, y, str, style, sw)
}

// wrapText breaks s into lines of at most max cells. Lines that already fit
// keep their spacing; longer ones are word wrapped.
func wrapText(s string, max int) []string {
	if max <= 2 {
		return []string{s}
	}
	var result []string
	for _, para := range strings.Split(s, "\n") {
		if runewidth.StringWidth(para) <= max {
			result = append(result, para)
			continue
		}
		cur := ""
		for _, w := range strings.Fields(para) {
			for runewidth.StringWidth(w) > max {
				if cur != "" {
					result = append(result, cur)
					cur = ""
				}
				head := runewidth.Truncate(w, max, "")
				result = append(result, head)
				w = w[len(head):]
			}
			switch {
			case cur == "":
				cur = w
			case runewidth.StringWidth(cur)+1+runewidth.StringWidth(w) <= max:
				cur += " " + w
			default:
				result = append(result, cur)
				cur = w
			}
		}
		if cur != "" {
			result = append(result, cur)
		}
	}
	return result
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
