// Package config loads viewer settings from a TOML file, with defaults for
// everything left out and SHEETVIEW_* environment variables taking
// precedence over the file.
package config

// Themes lists the colour themes the viewer knows, in cycling order.
var Themes = []string{"Default", "Dracula", "Solarized Dark", "Solarized Light", "GitHub Dark", "Nord"}

// Profiles lists the keybinding profiles.
var Profiles = []string{"default", "vim"}

// Config holds all viewer settings.
type Config struct {
	Theme       ThemeConfig       `toml:"theme"`
	UI          UIConfig          `toml:"ui"`
	Cache       CacheConfig       `toml:"cache"`
	Search      SearchConfig      `toml:"search"`
	Keybindings KeybindingsConfig `toml:"keybindings"`
	Logging     LoggingConfig     `toml:"logging"`
}

type ThemeConfig struct {
	// Default is the theme used on startup, matched case-insensitively.
	Default string `toml:"default" env:"SHEETVIEW_THEME" default:"Default"`
}

// UIConfig holds display settings.
type UIConfig struct {
	// ColumnWidth caps the width of a column in characters (default: 30)
	ColumnWidth int `toml:"column_width" env:"SHEETVIEW_COLUMN_WIDTH" default:"30"`

	// MaxRows limits rows written by --export; 0 writes every row
	MaxRows int `toml:"max_rows" env:"SHEETVIEW_MAX_ROWS" default:"0"`

	// HorizontalScroll sizes columns to their content instead of splitting
	// the screen evenly
	HorizontalScroll bool `toml:"horizontal_scroll" env:"SHEETVIEW_HORIZONTAL" default:"false"`

	// ShowFormulas reads formula text from workbooks
	ShowFormulas bool `toml:"show_formulas" env:"SHEETVIEW_SHOW_FORMULAS" default:"false"`

	// HeaderRow treats the first row as column titles (default: true)
	HeaderRow bool `toml:"header_row" env:"SHEETVIEW_HEADER_ROW" default:"true"`

	// CursorMargin keeps the cursor this many rows from the screen edge
	CursorMargin int `toml:"cursor_margin" env:"SHEETVIEW_CURSOR_MARGIN" default:"1"`

	// HalfPage makes PageUp/PageDown move half a screen
	HalfPage bool `toml:"half_page" env:"SHEETVIEW_HALF_PAGE" default:"false"`
}

// CacheConfig holds row cache settings.
type CacheConfig struct {
	// MaxRows is the soft limit on rows kept in memory (default: 2000)
	MaxRows int `toml:"max_rows" env:"SHEETVIEW_CACHE_MAX_ROWS" default:"2000"`

	// HardLimitFactor times MaxRows is the hard limit (default: 3)
	HardLimitFactor int `toml:"hard_limit_factor" env:"SHEETVIEW_CACHE_HARD_LIMIT_FACTOR" default:"3"`

	// PrefetchScreens is how many screens are read ahead of scrolling (default: 1)
	PrefetchScreens int `toml:"prefetch_screens" env:"SHEETVIEW_PREFETCH_SCREENS" default:"1"`

	// LazyThreshold is the row count from which rows load in the background (default: 1000)
	LazyThreshold int `toml:"lazy_threshold" env:"SHEETVIEW_LAZY_THRESHOLD" default:"1000"`

	// Workers is the number of background fetch goroutines (default: 2)
	Workers int `toml:"workers" env:"SHEETVIEW_WORKERS" default:"2"`
}

type SearchConfig struct {
	// ChunkRows is the number of rows scanned per tick (default: 200)
	ChunkRows int `toml:"chunk_rows" env:"SHEETVIEW_SEARCH_CHUNK_ROWS" default:"200"`
}

// KeybindingsConfig selects a keybinding profile and per-action overrides,
// for example custom = { quit = "Ctrl+q" }.
type KeybindingsConfig struct {
	Profile string            `toml:"profile" env:"SHEETVIEW_KEY_PROFILE" default:"default"`
	Custom  map[string]string `toml:"custom"`
}

// LoggingConfig holds log settings. The terminal belongs to the viewer, so
// logs always go to a file.
type LoggingConfig struct {
	Level  string `toml:"level" env:"SHEETVIEW_LOG_LEVEL" default:"info"`
	Format string `toml:"format" env:"SHEETVIEW_LOG_FORMAT" default:"text"`
	// File is the log path; empty means the state directory default
	File string `toml:"file" env:"SHEETVIEW_LOG_FILE"`
}

// HardLimit is the cache hard limit in rows.
func (c CacheConfig) HardLimit() int { return c.MaxRows * c.HardLimitFactor }
