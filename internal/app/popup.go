package app

import (
	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"
)

const maxPromptRunes = 4096

// prompt is a one-line input box drawn over the grid. It never blocks: the
// event loop feeds it keys and keeps ticking in between.
type prompt struct {
	label  string
	buf    []rune
	pos    int
	submit func(text string)
}

func newPrompt(label, initial string, submit func(string)) *prompt {
	buf := []rune(initial)
	return &prompt{label: label, buf: buf, pos: len(buf), submit: submit}
}

func (p *prompt) text() string { return string(p.buf) }

// handleKey edits the buffer. It reports whether the prompt is finished and,
// if so, whether it was accepted with Enter.
func (p *prompt) handleKey(ev *tcell.EventKey) (done, accepted bool) {
	switch ev.Key() {
	case tcell.KeyEsc, tcell.KeyCtrlC:
		return true, false
	case tcell.KeyEnter:
		return true, true
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		if p.pos > 0 {
			p.buf = append(p.buf[:p.pos-1], p.buf[p.pos:]...)
			p.pos--
		}
	case tcell.KeyDelete:
		if p.pos < len(p.buf) {
			p.buf = append(p.buf[:p.pos], p.buf[p.pos+1:]...)
		}
	case tcell.KeyLeft:
		if p.pos > 0 {
			p.pos--
		}
	case tcell.KeyRight:
		if p.pos < len(p.buf) {
			p.pos++
		}
	case tcell.KeyHome, tcell.KeyCtrlA:
		p.pos = 0
	case tcell.KeyEnd, tcell.KeyCtrlE:
		p.pos = len(p.buf)
	case tcell.KeyCtrlU:
		p.buf, p.pos = p.buf[:0], 0
	case tcell.KeyRune:
		if len(p.buf) < maxPromptRunes {
			p.buf = append(p.buf[:p.pos], append([]rune{ev.Rune()}, p.buf[p.pos:]...)...)
			p.pos++
		}
	}
	return false, false
}

// draw renders the box centred on the screen and places the terminal cursor.
func (p *prompt) draw(s tcell.Screen, style, border tcell.Style) {
	w, h := s.Size()
	labelW := runewidth.StringWidth(p.label)
	contentW := maxInt(30, labelW+len(p.buf)+2)
	contentW = minInt(contentW, w-4)
	boxW := contentW + 4
	boxH := 3
	left := (w - boxW) / 2
	top := (h - boxH) / 2
	if contentW < labelW+2 || top < 0 {
		return
	}

	for y := top; y < top+boxH; y++ {
		for x := left; x < left+boxW; x++ {
			s.SetContent(x, y, ' ', nil, style)
		}
	}
	drawFrame(s, left, top, boxW, boxH, border)

	x := left + 2
	y := top + 1
	printText(s, x, y, p.label, style, labelW)
	x += labelW + 1

	field := boxW - 5 - labelW
	start := 0
	if p.pos > field {
		start = p.pos - field
	}
	end := minInt(len(p.buf), start+field)
	printText(s, x, y, string(p.buf[start:end]), style, field)
	s.ShowCursor(x+runewidth.StringWidth(string(p.buf[start:p.pos])), y)
}

// drawFrame draws a box border.
func drawFrame(s tcell.Screen, left, top, w, h int, style tcell.Style) {
	for x := left; x < left+w; x++ {
		s.SetContent(x, top, tcell.RuneHLine, nil, style)
		s.SetContent(x, top+h-1, tcell.RuneHLine, nil, style)
	}
	for y := top; y < top+h; y++ {
		s.SetContent(left, y, tcell.RuneVLine, nil, style)
		s.SetContent(left+w-1, y, tcell.RuneVLine, nil, style)
	}
	s.SetContent(left, top, tcell.RuneULCorner, nil, style)
	s.SetContent(left+w-1, top, tcell.RuneURCorner, nil, style)
	s.SetContent(left, top+h-1, tcell.RuneLLCorner, nil, style)
	s.SetContent(left+w-1, top+h-1, tcell.RuneLRCorner, nil, style)
}

// drawPopup draws a titled, bordered box of text lines in the middle of the
// screen, wrapping lines to fit.
func drawPopup(s tcell.Screen, title string, text string, style, border tcell.Style) {
	w, h := s.Size()
	if w < 10 || h < 5 {
		return
	}

	padding := 2
	maxPW := w - 4
	maxPH := h - 2

	innerW := minInt(maxPW-padding*2, 64)
	if innerW < 20 {
		innerW = maxInt(1, maxPW-padding*2)
	}

	lines := wrapText(text, innerW)
	if len(lines) > maxPH-2 {
		lines = lines[:maxInt(maxPH-2, 0)]
	}

	innerH := maxInt(len(lines), 1)
	pw := innerW + padding*2
	ph := innerH + 2
	left := (w - pw) / 2
	top := (h - ph) / 2

	for yy := 0; yy < ph; yy++ {
		for xx := 0; xx < pw; xx++ {
			s.SetContent(left+xx, top+yy, ' ', nil, style)
		}
	}
	drawFrame(s, left, top, pw, ph, border)
	if title != "" {
		t := " " + title + " "
		tw := runewidth.StringWidth(t)
		printText(s, left+(pw-tw)/2, top, t, border, tw)
	}

	for i, ln := range lines {
		printText(s, left+padding, top+1+i, ln, style, innerW)
	}
}
