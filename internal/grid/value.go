package grid

import (
	"math"
	"strconv"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindText
	KindNumber
	KindBool
	KindDate
	KindFormula
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindDate:
		return "date"
	case KindFormula:
		return "formula"
	case KindError:
		return "error"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a single cell value. The zero Value is Empty.
// Values are immutable and safe to copy.
type Value struct {
	kind    Kind
	text    string // Text payload, formula source or error code
	num     float64
	flag    bool // Bool payload; for dates, whether a time of day is present
	date    time.Time
	formula *Value // cached result of a formula, never itself a formula
}

var numbers = message.NewPrinter(language.English)

func Empty() Value               { return Value{} }
func Text(s string) Value        { return Value{kind: KindText, text: s} }
func Number(f float64) Value     { return Value{kind: KindNumber, num: f} }
func Bool(b bool) Value          { return Value{kind: KindBool, flag: b} }
func Error(code string) Value    { return Value{kind: KindError, text: code} }
func DateTime(t time.Time) Value { return Value{kind: KindDate, date: t, flag: true} }

// Date builds a calendar date without a time of day.
func Date(year int, month time.Month, day int) Value {
	return Value{kind: KindDate, date: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// Formula builds a formula cell. A formula passed as the cached result is
// flattened to its own cached result.
func Formula(text string, cached Value) Value {
	if cached.kind == KindFormula {
		cached = cached.Cached()
	}
	return Value{kind: KindFormula, text: text, formula: &cached}
}

func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsEmpty() bool   { return v.kind == KindEmpty }
func (v Value) IsNumeric() bool { return v.kind == KindNumber }

// Float returns the numeric payload of a Number (or of a formula's numeric result).
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindFormula:
		return v.Cached().Float()
	}
	return 0, false
}

// Str returns the Text payload.
func (v Value) Str() string {
	if v.kind == KindText {
		return v.text
	}
	return ""
}

func (v Value) BoolValue() bool { return v.kind == KindBool && v.flag }

// Time returns the date payload and whether it carries a time of day.
func (v Value) Time() (time.Time, bool) {
	if v.kind != KindDate {
		return time.Time{}, false
	}
	return v.date, v.flag
}

// FormulaText is the formula source for formula cells.
func (v Value) FormulaText() string {
	if v.kind == KindFormula {
		return v.text
	}
	return ""
}

// Cached is the formula's cached result; for other kinds it is v itself.
func (v Value) Cached() Value {
	if v.kind != KindFormula {
		return v
	}
	if v.formula == nil {
		return Value{}
	}
	return *v.formula
}

// ErrorCode is the code of an Error value, without the leading '#'.
func (v Value) ErrorCode() string {
	if v.kind == KindError {
		return v.text
	}
	return ""
}

// Display renders the value the way the viewer shows it: numbers grouped by
// thousands, booleans lower case, errors prefixed.
func (v Value) Display() string {
	switch v.kind {
	case KindEmpty:
		return ""
	case KindText:
		return v.text
	case KindNumber:
		return formatGrouped(v.num)
	case KindBool:
		return strconv.FormatBool(v.flag)
	case KindDate:
		return formatDate(v.date, v.flag)
	case KindFormula:
		return v.Cached().Display()
	case KindError:
		return "ERROR: " + v.text
	}
	return ""
}

// Raw renders the value without presentation formatting, for export and the
// clipboard.
func (v Value) Raw() string {
	switch v.kind {
	case KindEmpty:
		return ""
	case KindText:
		return v.text
	case KindNumber:
		if v.num == math.Trunc(v.num) && !math.IsInf(v.num, 0) {
			return strconv.FormatFloat(v.num, 'f', 0, 64)
		}
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.flag)
	case KindDate:
		return formatDate(v.date, v.flag)
	case KindFormula:
		return v.Cached().Raw()
	case KindError:
		return "#" + v.text
	}
	return ""
}

func (v Value) String() string { return v.Display() }

func formatGrouped(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	}
	if f == math.Trunc(f) {
		return numbers.Sprintf("%.0f", f)
	}
	return numbers.Sprintf("%.2f", f)
}

func formatDate(t time.Time, withTime bool) string {
	if withTime {
		return t.Format("2006-01-02 15:04:05")
	}
	return t.Format("2006-01-02")
}
