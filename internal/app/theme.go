package app

import (
	"strings"

	"github.com/gdamore/tcell/v2"

	"sheetview/internal/config"
)

// Theme is the set of styles one colour scheme draws with.
type Theme struct {
	Name        string
	Base        tcell.Style
	Header      tcell.Style
	HeaderCur   tcell.Style
	Gutter      tcell.Style
	GutterCur   tcell.Style
	Cursor      tcell.Style
	CursorRow   tcell.Style
	CursorCol   tcell.Style
	Match       tcell.Style
	MatchCur    tcell.Style
	Number      tcell.Style
	Error       tcell.Style
	Loading     tcell.Style
	Status      tcell.Style
	Message     tcell.Style
	Alert       tcell.Style
	Popup       tcell.Style
	PopupBorder tcell.Style
}

type palette struct {
	bg, fg, dim, accent, accent2, sel, selFg, row, match, err, bar, barFg tcell.Color
}

func (p palette) theme(name string) Theme {
	base := tcell.StyleDefault.Background(p.bg).Foreground(p.fg)
	return Theme{
		Name:        name,
		Base:        base,
		Header:      base.Foreground(p.accent).Bold(true),
		HeaderCur:   base.Background(p.accent).Foreground(p.bg).Bold(true),
		Gutter:      base.Foreground(p.dim),
		GutterCur:   base.Background(p.accent).Foreground(p.bg),
		Cursor:      base.Background(p.sel).Foreground(p.selFg).Bold(true),
		CursorRow:   base.Background(p.row),
		CursorCol:   base.Foreground(p.accent2),
		Match:       base.Background(p.match).Foreground(p.bg),
		MatchCur:    base.Background(p.match).Foreground(p.bg).Bold(true).Underline(true),
		Number:      base.Foreground(p.fg),
		Error:       base.Foreground(p.err),
		Loading:     base.Foreground(p.dim).Italic(true),
		Status:      tcell.StyleDefault.Background(p.bar).Foreground(p.barFg),
		Message:     base.Foreground(p.fg),
		Alert:       base.Foreground(p.err).Bold(true),
		Popup:       base,
		PopupBorder: base.Foreground(p.accent),
	}
}

var themes = map[string]palette{
	"Default": {
		bg: tcell.ColorReset, fg: tcell.ColorReset, dim: tcell.ColorGray,
		accent: tcell.ColorYellow, accent2: tcell.ColorDarkCyan,
		sel: tcell.ColorBlue, selFg: tcell.ColorWhite, row: tcell.ColorDarkSlateGray,
		match: tcell.ColorOlive, err: tcell.ColorRed,
		bar: tcell.ColorGray, barFg: tcell.ColorWhite,
	},
	"Dracula": {
		bg: tcell.NewHexColor(0x282a36), fg: tcell.NewHexColor(0xf8f8f2), dim: tcell.NewHexColor(0x6272a4),
		accent: tcell.NewHexColor(0xbd93f9), accent2: tcell.NewHexColor(0x8be9fd),
		sel: tcell.NewHexColor(0xff79c6), selFg: tcell.NewHexColor(0x282a36), row: tcell.NewHexColor(0x44475a),
		match: tcell.NewHexColor(0xf1fa8c), err: tcell.NewHexColor(0xff5555),
		bar: tcell.NewHexColor(0x44475a), barFg: tcell.NewHexColor(0xf8f8f2),
	},
	"Solarized Dark": {
		bg: tcell.NewHexColor(0x002b36), fg: tcell.NewHexColor(0x839496), dim: tcell.NewHexColor(0x586e75),
		accent: tcell.NewHexColor(0xb58900), accent2: tcell.NewHexColor(0x2aa198),
		sel: tcell.NewHexColor(0x268bd2), selFg: tcell.NewHexColor(0xfdf6e3), row: tcell.NewHexColor(0x073642),
		match: tcell.NewHexColor(0xcb4b16), err: tcell.NewHexColor(0xdc322f),
		bar: tcell.NewHexColor(0x073642), barFg: tcell.NewHexColor(0x93a1a1),
	},
	"Solarized Light": {
		bg: tcell.NewHexColor(0xfdf6e3), fg: tcell.NewHexColor(0x657b83), dim: tcell.NewHexColor(0x93a1a1),
		accent: tcell.NewHexColor(0xb58900), accent2: tcell.NewHexColor(0x2aa198),
		sel: tcell.NewHexColor(0x268bd2), selFg: tcell.NewHexColor(0xfdf6e3), row: tcell.NewHexColor(0xeee8d5),
		match: tcell.NewHexColor(0xcb4b16), err: tcell.NewHexColor(0xdc322f),
		bar: tcell.NewHexColor(0xeee8d5), barFg: tcell.NewHexColor(0x586e75),
	},
	"GitHub Dark": {
		bg: tcell.NewHexColor(0x0d1117), fg: tcell.NewHexColor(0xc9d1d9), dim: tcell.NewHexColor(0x8b949e),
		accent: tcell.NewHexColor(0x58a6ff), accent2: tcell.NewHexColor(0x79c0ff),
		sel: tcell.NewHexColor(0x1f6feb), selFg: tcell.NewHexColor(0xffffff), row: tcell.NewHexColor(0x161b22),
		match: tcell.NewHexColor(0xd29922), err: tcell.NewHexColor(0xf85149),
		bar: tcell.NewHexColor(0x21262d), barFg: tcell.NewHexColor(0xc9d1d9),
	},
	"Nord": {
		bg: tcell.NewHexColor(0x2e3440), fg: tcell.NewHexColor(0xd8dee9), dim: tcell.NewHexColor(0x4c566a),
		accent: tcell.NewHexColor(0x88c0d0), accent2: tcell.NewHexColor(0x8fbcbb),
		sel: tcell.NewHexColor(0x5e81ac), selFg: tcell.NewHexColor(0xeceff4), row: tcell.NewHexColor(0x3b4252),
		match: tcell.NewHexColor(0xebcb8b), err: tcell.NewHexColor(0xbf616a),
		bar: tcell.NewHexColor(0x434c5e), barFg: tcell.NewHexColor(0xeceff4),
	},
}

// ThemeByName finds a theme case-insensitively, falling back to Default.
func ThemeByName(name string) Theme {
	for _, n := range config.Themes {
		if strings.EqualFold(n, name) {
			return themes[n].theme(n)
		}
	}
	return themes["Default"].theme("Default")
}
