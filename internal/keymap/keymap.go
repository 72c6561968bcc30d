// Package keymap maps key presses to viewer actions.
//
// Keys are written as strings such as "q", "N", "Ctrl+g", "Shift+Tab" or
// "PageDown". A profile supplies the defaults and custom entries override
// single actions.
package keymap

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/gdamore/tcell/v2"
)

var ErrBadKey = errors.New("bad key")

type Action string

const (
	None           Action = ""
	Quit           Action = "quit"
	Help           Action = "help"
	ThemeToggle    Action = "theme_toggle"
	Search         Action = "search"
	NextMatch      Action = "next_match"
	PrevMatch      Action = "prev_match"
	CopyCell       Action = "copy_cell"
	CopyRow        Action = "copy_row"
	Jump           Action = "jump"
	ShowCellDetail Action = "show_cell_detail"
	NextSheet      Action = "next_sheet"
	PrevSheet      Action = "prev_sheet"
	Up             Action = "up"
	Down           Action = "down"
	Left           Action = "left"
	Right          Action = "right"
	PageUp         Action = "page_up"
	PageDown       Action = "page_down"
	JumpToTop      Action = "jump_to_top"
	JumpToBottom   Action = "jump_to_bottom"
	RowStart       Action = "jump_to_row_start"
	RowEnd         Action = "jump_to_row_end"
	Cancel         Action = "cancel"
	Refresh        Action = "refresh"
)

// Actions lists every bindable action in help order.
var Actions = []Action{
	Up, Down, Left, Right, PageUp, PageDown, JumpToTop, JumpToBottom, RowStart, RowEnd,
	Jump, Search, NextMatch, PrevMatch, Cancel, NextSheet, PrevSheet,
	ShowCellDetail, CopyCell, CopyRow, ThemeToggle, Refresh, Help, Quit,
}

var descriptions = map[Action]string{
	Up:             "move up",
	Down:           "move down",
	Left:           "move left",
	Right:          "move right",
	PageUp:         "page up",
	PageDown:       "page down",
	JumpToTop:      "first row",
	JumpToBottom:   "last row",
	RowStart:       "first column",
	RowEnd:         "last column",
	Jump:           "jump to cell (A1, 500, 10,5)",
	Search:         "search",
	NextMatch:      "next match",
	PrevMatch:      "previous match",
	Cancel:         "stop search / clear",
	NextSheet:      "next sheet",
	PrevSheet:      "previous sheet",
	ShowCellDetail: "cell details",
	CopyCell:       "copy cell",
	CopyRow:        "copy row",
	ThemeToggle:    "next theme",
	Refresh:        "reload visible rows",
	Help:           "help",
	Quit:           "quit",
}

func (a Action) Description() string { return descriptions[a] }

// Key is one parsed key.
type Key struct {
	Code tcell.Key
	Rune rune
	Mod  tcell.ModMask
	Name string
}

var namedKeys = map[string]tcell.Key{
	"enter":     tcell.KeyEnter,
	"esc":       tcell.KeyEscape,
	"escape":    tcell.KeyEscape,
	"tab":       tcell.KeyTab,
	"backtab":   tcell.KeyBacktab,
	"backspace": tcell.KeyBackspace2,
	"delete":    tcell.KeyDelete,
	"del":       tcell.KeyDelete,
	"insert":    tcell.KeyInsert,
	"ins":       tcell.KeyInsert,
	"home":      tcell.KeyHome,
	"end":       tcell.KeyEnd,
	"pageup":    tcell.KeyPgUp,
	"pgup":      tcell.KeyPgUp,
	"pagedown":  tcell.KeyPgDn,
	"pgdn":      tcell.KeyPgDn,
	"up":        tcell.KeyUp,
	"down":      tcell.KeyDown,
	"left":      tcell.KeyLeft,
	"right":     tcell.KeyRight,
	"space":     tcell.KeyRune,
}

// Parse reads a key string. Modifiers are "Ctrl", "Alt" and "Shift",
// joined to the key with '+'; a lone "+" is the plus key.
func Parse(s string) (Key, error) {
	k := Key{Name: s}
	mods, last := "", s
	if i := strings.LastIndex(s, "+"); i > 0 {
		if i == len(s)-1 && s[i-1] == '+' {
			mods, last = s[:i-1], "+"
		} else {
			mods, last = s[:i], s[i+1:]
		}
	}
	if mods != "" {
		for _, p := range strings.Split(mods, "+") {
			switch strings.ToLower(strings.TrimSpace(p)) {
			case "ctrl", "control":
				k.Mod |= tcell.ModCtrl
			case "alt":
				k.Mod |= tcell.ModAlt
			case "shift":
				k.Mod |= tcell.ModShift
			default:
				return Key{}, fmt.Errorf("%w: unknown modifier %q in %q", ErrBadKey, p, s)
			}
		}
	}
	if last == "" {
		return Key{}, fmt.Errorf("%w: empty key in %q", ErrBadKey, s)
	}

	if code, ok := namedKeys[strings.ToLower(last)]; ok {
		k.Code = code
		if code == tcell.KeyRune {
			k.Rune = ' '
		}
		if code == tcell.KeyTab && k.Mod&tcell.ModShift != 0 {
			k.Code, k.Mod = tcell.KeyBacktab, k.Mod&^tcell.ModShift
		}
		return k, nil
	}

	r := []rune(last)
	if len(r) != 1 {
		return Key{}, fmt.Errorf("%w: %q", ErrBadKey, s)
	}
	ch := r[0]
	if k.Mod&tcell.ModCtrl != 0 {
		lower := ch | 0x20
		if lower < 'a' || lower > 'z' {
			return Key{}, fmt.Errorf("%w: Ctrl only combines with letters and named keys: %q", ErrBadKey, s)
		}
		k.Code = tcell.KeyCtrlA + tcell.Key(lower-'a')
		k.Mod &^= tcell.ModShift
		return k, nil
	}
	// terminals report shifted characters as the character itself
	k.Code, k.Rune = tcell.KeyRune, ch
	k.Mod &^= tcell.ModShift
	return k, nil
}

// Matches reports whether ev is this key.
func (k Key) Matches(ev *tcell.EventKey) bool {
	const mods = tcell.ModCtrl | tcell.ModAlt
	switch {
	case k.Code == tcell.KeyRune:
		return ev.Key() == tcell.KeyRune && ev.Rune() == k.Rune && ev.Modifiers()&tcell.ModAlt == k.Mod&tcell.ModAlt
	case k.Code >= tcell.KeyCtrlA && k.Code <= tcell.KeyCtrlZ:
		return ev.Key() == k.Code
	case k.Code == tcell.KeyBackspace2:
		return ev.Key() == tcell.KeyBackspace2 || ev.Key() == tcell.KeyBackspace
	}
	return ev.Key() == k.Code && ev.Modifiers()&mods == k.Mod&mods
}

var defaultProfile = map[Action][]string{
	Quit:           {"q", "Ctrl+c"},
	Help:           {"?"},
	ThemeToggle:    {"t"},
	Search:         {"/"},
	NextMatch:      {"n"},
	PrevMatch:      {"N"},
	CopyCell:       {"c"},
	CopyRow:        {"C"},
	Jump:           {"Ctrl+g"},
	ShowCellDetail: {"Enter"},
	NextSheet:      {"Tab"},
	PrevSheet:      {"Shift+Tab"},
	Up:             {"Up"},
	Down:           {"Down"},
	Left:           {"Left"},
	Right:          {"Right"},
	PageUp:         {"PageUp"},
	PageDown:       {"PageDown"},
	JumpToTop:      {"Ctrl+Home"},
	JumpToBottom:   {"Ctrl+End"},
	RowStart:       {"Home"},
	RowEnd:         {"End"},
	Cancel:         {"Esc"},
	Refresh:        {"Ctrl+r"},
}

// vim overrides the default profile; arrows and paging keys keep working.
var vimProfile = map[Action][]string{
	Up:           {"k", "Up"},
	Down:         {"j", "Down"},
	Left:         {"h", "Left"},
	Right:        {"l", "Right"},
	PageUp:       {"Ctrl+u", "PageUp"},
	PageDown:     {"Ctrl+d", "PageDown"},
	JumpToTop:    {"g", "Ctrl+Home"},
	JumpToBottom: {"G", "Ctrl+End"},
	RowStart:     {"0", "Home"},
	RowEnd:       {"$", "End"},
	CopyCell:     {"y"},
	CopyRow:      {"Y"},
}

type binding struct {
	key    Key
	action Action
}

// Map resolves key events to actions.
type Map struct {
	bindings []binding
	keys     map[Action][]Key
}

// New builds the map for profile ("default" or "vim") with custom overriding
// individual actions. Unknown actions and unparsable keys are errors.
func New(profile string, custom map[string]string) (*Map, error) {
	specs := make(map[Action][]string, len(defaultProfile))
	for a, keys := range defaultProfile {
		specs[a] = keys
	}
	switch strings.ToLower(profile) {
	case "", "default":
	case "vim":
		for a, keys := range vimProfile {
			specs[a] = keys
		}
	default:
		return nil, fmt.Errorf("unknown keybinding profile %q", profile)
	}

	var errs []error
	// a custom key takes over from whichever action had it
	taken := map[string]Action{}
	for name, key := range custom {
		a := Action(name)
		if _, ok := descriptions[a]; !ok {
			errs = append(errs, fmt.Errorf("unknown action %q", name))
			continue
		}
		specs[a] = []string{key}
		taken[key] = a
	}

	m := &Map{keys: make(map[Action][]Key)}
	for _, a := range Actions {
		for _, s := range specs[a] {
			if owner, ok := taken[s]; ok && owner != a {
				continue
			}
			k, err := Parse(s)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", a, err))
				continue
			}
			m.keys[a] = append(m.keys[a], k)
			m.bindings = append(m.bindings, binding{key: k, action: a})
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// Default is the default profile without overrides.
func Default() *Map {
	m, err := New("default", nil)
	if err != nil {
		panic(err)
	}
	return m
}

// Lookup returns the action bound to ev, or None.
func (m *Map) Lookup(ev *tcell.EventKey) Action {
	for _, b := range m.bindings {
		if b.key.Matches(ev) {
			return b.action
		}
	}
	return None
}

// Keys returns the key names bound to a.
func (m *Map) Keys(a Action) []string {
	names := make([]string, 0, len(m.keys[a]))
	for _, k := range m.keys[a] {
		names = append(names, k.Name)
	}
	return names
}

// Help returns "keys  description" lines for every bound action.
func (m *Map) Help() []string {
	var lines []string
	for _, a := range Actions {
		keys := m.Keys(a)
		if len(keys) == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("%-18s %s", strings.Join(keys, ", "), a.Description()))
	}
	return lines
}

// Bound reports whether any key is bound to a.
func (m *Map) Bound(a Action) bool {
	return slices.ContainsFunc(m.bindings, func(b binding) bool { return b.action == a })
}
