package storage

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"sheetview/internal/grid"
)

// errorLiterals are the spreadsheet error values recognised in cell text.
var errorLiterals = map[string]bool{
	"#DIV/0!": true, "#N/A": true, "#NAME?": true, "#NULL!": true,
	"#NUM!": true, "#REF!": true, "#VALUE!": true, "#GETTING_DATA": true,
	"#SPILL!": true, "#CALC!": true,
}

var dateLayouts = []struct {
	layout   string
	withTime bool
}{
	{"2006-01-02", false},
	{"2006-01-02 15:04:05", true},
	{"2006-01-02T15:04:05", true},
	{"2006-01-02T15:04:05Z07:00", true},
	{"2006-01-02 15:04", true},
}

// sanitize strips a byte order mark and replaces invalid UTF-8.
func sanitize(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	return s
}

// inferValue types raw cell text. Formulas are left to the caller.
func inferValue(raw string) grid.Value {
	s := strings.TrimSpace(raw)
	if s == "" {
		return grid.Empty()
	}
	if looksNumeric(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return grid.Number(f)
		}
	}
	switch strings.ToUpper(s) {
	case "TRUE":
		return grid.Bool(true)
	case "FALSE":
		return grid.Bool(false)
	}
	if s[0] == '#' && errorLiterals[strings.ToUpper(s)] {
		return grid.Error(strings.ToUpper(s[1:]))
	}
	if len(s) >= 10 && isDigit(s[0]) && s[4] == '-' {
		for _, d := range dateLayouts {
			if t, err := time.Parse(d.layout, s); err == nil {
				if d.withTime {
					return grid.DateTime(t)
				}
				return grid.Date(t.Year(), t.Month(), t.Day())
			}
		}
	}
	return grid.Text(raw)
}

// looksNumeric accepts plain decimal notation only: no hex, inf, nan or
// digit separators.
func looksNumeric(s string) bool {
	digits := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case isDigit(c):
			digits++
		case c == '.' || c == 'e' || c == 'E':
		case (c == '-' || c == '+') && (i == 0 || s[i-1] == 'e' || s[i-1] == 'E'):
		default:
			return false
		}
	}
	return digits > 0
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
