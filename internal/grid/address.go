package grid

import (
	"errors"
	"strconv"
	"strings"
)

// ErrSyntax is returned for jump targets that match none of the address forms.
var ErrSyntax = errors.New("invalid address")

// maxColumnLetters bounds the letter part so base-26 decoding cannot overflow.
const maxColumnLetters = 7

// ColToName: 0 -> A, 25 -> Z, 26 -> AA and so on
func ColToName(col int) string {
	if col < 0 {
		return "?"
	}
	var buf [16]byte
	i := len(buf)
	n := col + 1
	for n > 0 {
		n--
		i--
		buf[i] = byte('A' + n%26)
		n /= 26
	}
	return string(buf[i:])
}

// CellName builds a cell name from 0-based row, col -> e.g. row 0, col 0 -> "A1"
func CellName(row, col int) string {
	return ColToName(col) + strconv.Itoa(row+1)
}

// NameToCol decodes column letters (case-insensitive) to a 0-based index.
func NameToCol(letters string) (int, bool) {
	if letters == "" || len(letters) > maxColumnLetters {
		return 0, false
	}
	col := 0
	for i := 0; i < len(letters); i++ {
		b := letters[i]
		if b >= 'a' && b <= 'z' {
			b -= 'a' - 'A'
		}
		if b < 'A' || b > 'Z' {
			return 0, false
		}
		col = col*26 + int(b-'A') + 1
	}
	return col - 1, true
}

// ParseCellRef parses names like A1, AA10 returning 0-based (row, col).
// Accepts sheet prefixes like Sheet!A1 and removes $ signs.
func ParseCellRef(name string) (int, int, bool) {
	name = strings.TrimSpace(name)
	if idx := strings.LastIndex(name, "!"); idx != -1 {
		name = strings.TrimSpace(name[idx+1:])
	}
	name = strings.ReplaceAll(name, "$", "")
	if name == "" {
		return 0, 0, false
	}

	i := 0
	for i < len(name) && isLetter(name[i]) {
		i++
	}
	if i == 0 || i >= len(name) {
		return 0, 0, false
	}
	col, ok := NameToCol(name[:i])
	if !ok {
		return 0, 0, false
	}
	rowNum, ok := positive(name[i:])
	if !ok {
		return 0, 0, false
	}
	return rowNum - 1, col, true
}

// ParseAddress resolves a jump target to 0-based (row, col). Forms, tried in
// order: "500" (row 500, first column), "B10" (column letters and row),
// "10,5" (row, column). Bounds are not checked.
func ParseAddress(input string) (row, col int, err error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, 0, ErrSyntax
	}
	if n, ok := positive(s); ok {
		return n - 1, 0, nil
	}
	if r, c, ok := ParseCellRef(s); ok {
		return r, c, nil
	}
	if left, right, found := strings.Cut(s, ","); found {
		r, okR := positive(strings.TrimSpace(left))
		c, okC := positive(strings.TrimSpace(right))
		if okR && okC {
			return r - 1, c - 1, nil
		}
	}
	return 0, 0, ErrSyntax
}

// positive parses a strictly positive decimal integer made of digits only.
func positive(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func isLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}
func isDigit(b byte) bool {
	return (b >= '0' && b <= '9')
}
