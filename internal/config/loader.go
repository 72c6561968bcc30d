package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"sheetview/internal/logging"
)

// ErrExists is returned by WriteExample when the target file is already there.
var ErrExists = errors.New("config file already exists")

// Default returns the built-in settings.
func Default() *Config {
	cfg := &Config{}
	if err := walk(reflect.ValueOf(cfg).Elem(), defaultTag); err != nil {
		// default tags are compile-time constants
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// DefaultPath is $XDG_CONFIG_HOME/sheetview/config.toml, or
// ~/.config/sheetview/config.toml when XDG_CONFIG_HOME is unset.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "sheetview", "config.toml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "sheetview", "config.toml")
}

// Load reads the file at path (DefaultPath when empty) over the defaults,
// applies environment overrides and validates the result. A missing file is
// not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg := Default()

	md, err := toml.DecodeFile(path, cfg)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("config %s: %w", path, err)
	default:
		if keys := md.Undecoded(); len(keys) > 0 {
			names := make([]string, len(keys))
			for i, k := range keys {
				names[i] = k.String()
			}
			return nil, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(names, ", "))
		}
	}

	if err := walk(reflect.ValueOf(cfg).Elem(), envTag); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Decode parses TOML text over the defaults without consulting the
// environment.
func Decode(text string) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(text, cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// WriteExample writes Example() to path, creating its directory. An existing
// file is left alone unless force is set.
func WriteExample(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(Example()), 0o644)
}

// tagSource yields the string to assign to a field, if any.
type tagSource func(field reflect.StructField) (string, string, bool)

func defaultTag(f reflect.StructField) (string, string, bool) {
	v, ok := f.Tag.Lookup("default")
	return "default:" + f.Name, v, ok && v != ""
}

func envTag(f reflect.StructField) (string, string, bool) {
	name := f.Tag.Get("env")
	if name == "" {
		return "", "", false
	}
	v, ok := os.LookupEnv(name)
	return name, v, ok && v != ""
}

// walk recursively assigns struct fields from src.
func walk(v reflect.Value, src tagSource) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)
		if !fieldVal.CanSet() {
			continue
		}
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := walk(fieldVal, src); err != nil {
				return err
			}
			continue
		}
		name, value, ok := src(field)
		if !ok {
			continue
		}
		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", name, value, err)
		}
	}
	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	if !slices.ContainsFunc(Themes, func(t string) bool { return strings.EqualFold(t, c.Theme.Default) }) {
		errs = append(errs, fmt.Sprintf("theme.default (%q) must be one of: %s", c.Theme.Default, strings.Join(Themes, ", ")))
	}

	if c.UI.ColumnWidth < 3 {
		errs = append(errs, fmt.Sprintf("ui.column_width (%d) must be at least 3", c.UI.ColumnWidth))
	}
	if c.UI.MaxRows < 0 {
		errs = append(errs, "ui.max_rows must be non-negative")
	}
	if c.UI.CursorMargin < 0 {
		errs = append(errs, "ui.cursor_margin must be non-negative")
	}

	if c.Cache.MaxRows <= 0 {
		errs = append(errs, "cache.max_rows must be positive")
	}
	if c.Cache.HardLimitFactor < 1 {
		errs = append(errs, fmt.Sprintf("cache.hard_limit_factor (%d) must be at least 1", c.Cache.HardLimitFactor))
	}
	if c.Cache.PrefetchScreens < 0 {
		errs = append(errs, "cache.prefetch_screens must be non-negative")
	}
	if c.Cache.LazyThreshold < 0 {
		errs = append(errs, "cache.lazy_threshold must be non-negative")
	}
	if c.Cache.Workers <= 0 || c.Cache.Workers > 16 {
		errs = append(errs, fmt.Sprintf("cache.workers (%d) must be 1-16", c.Cache.Workers))
	}

	if c.Search.ChunkRows <= 0 {
		errs = append(errs, "search.chunk_rows must be positive")
	}

	if !slices.Contains(Profiles, strings.ToLower(c.Keybindings.Profile)) {
		errs = append(errs, fmt.Sprintf("keybindings.profile (%q) must be one of: %s", c.Keybindings.Profile, strings.Join(Profiles, ", ")))
	}

	if !logging.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Sprintf("logging.level (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("logging.format (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ThemeIndex returns the position of the configured theme in Themes.
func (c *Config) ThemeIndex() int {
	for i, t := range Themes {
		if strings.EqualFold(t, c.Theme.Default) {
			return i
		}
	}
	return 0
}

// Example returns a commented configuration file with every default.
func Example() string {
	return `# sheetview configuration file
# Location: $XDG_CONFIG_HOME/sheetview/config.toml (usually ~/.config/sheetview/config.toml)
# Every setting can also be given as an environment variable, shown in brackets.

[theme]
# Options: "Default", "Dracula", "Solarized Dark", "Solarized Light", "GitHub Dark", "Nord"
default = "Default"            # [SHEETVIEW_THEME]

[ui]
column_width = 30              # [SHEETVIEW_COLUMN_WIDTH] widest a column is drawn
max_rows = 0                   # [SHEETVIEW_MAX_ROWS] rows written by --export, 0 = all
horizontal_scroll = false      # [SHEETVIEW_HORIZONTAL] size columns to their content
show_formulas = false          # [SHEETVIEW_SHOW_FORMULAS] read formula text from workbooks
header_row = true              # [SHEETVIEW_HEADER_ROW] first row holds column titles
cursor_margin = 1              # [SHEETVIEW_CURSOR_MARGIN]
half_page = false              # [SHEETVIEW_HALF_PAGE]

[cache]
max_rows = 2000                # [SHEETVIEW_CACHE_MAX_ROWS] rows kept in memory
hard_limit_factor = 3          # [SHEETVIEW_CACHE_HARD_LIMIT_FACTOR]
prefetch_screens = 1           # [SHEETVIEW_PREFETCH_SCREENS]
lazy_threshold = 1000          # [SHEETVIEW_LAZY_THRESHOLD] rows from which loading runs in the background
workers = 2                    # [SHEETVIEW_WORKERS]

[search]
chunk_rows = 200               # [SHEETVIEW_SEARCH_CHUNK_ROWS] rows scanned per tick

[logging]
level = "info"                 # [SHEETVIEW_LOG_LEVEL] debug, info, warn, error
format = "text"                # [SHEETVIEW_LOG_FORMAT] text or json
# file = "/tmp/sheetview.log"  # [SHEETVIEW_LOG_FILE] default: $XDG_STATE_HOME/sheetview/sheetview.log

[keybindings]
# Keybinding profile: "default" or "vim"
profile = "default"            # [SHEETVIEW_KEY_PROFILE]

# Custom keybindings (optional - overrides profile)
# [keybindings.custom]
# quit = "q"
# help = "?"
# theme_toggle = "t"
# search = "/"
# next_match = "n"
# prev_match = "N"
# copy_cell = "c"
# copy_row = "C"
# jump = "Ctrl+g"
# show_cell_detail = "Enter"
# next_sheet = "Tab"
# prev_sheet = "Shift+Tab"
# up = "k"
# down = "j"
# left = "h"
# right = "l"
# page_up = "Ctrl+u"
# page_down = "Ctrl+d"
# jump_to_top = "g"
# jump_to_bottom = "G"
# jump_to_row_start = "0"
# jump_to_row_end = "$"
`
}
