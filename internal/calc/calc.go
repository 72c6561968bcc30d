package calc

import (
	"math"
	"strconv"
	"strings"

	"sheetview/internal/grid"
)

// Error codes produced by Eval.
const (
	ErrGeneric = "#ERR"
	ErrRef     = "#REF"
	ErrDiv0    = "#DIV/0"
	ErrCycle   = "#CYCLE"
	ErrValue   = "#VALUE"
	// Blank is returned by resolvers for empty cells. It reads as 0 in
	// arithmetic and is skipped by aggregates.
	Blank = "#BLANK"
)

// Resolver returns the numeric value of the cell at 0-based (row, col), or an
// error code. Text cells should report ErrValue, empty cells Blank.
type Resolver func(row, col int) (float64, string)

// maxRangeCells caps how many cells a single range argument may expand to.
const maxRangeCells = 100000

// Eval evaluates expr (without the leading '=') using resolve for references.
// The returned code is "" on success.
func Eval(expr string, resolve Resolver) (float64, string) {
	p := parser{input: expr, resolve: resolve}
	val, err := p.parseExpr()
	if err != "" {
		return 0, err
	}
	p.skipSpaces()
	if p.pos < len(p.input) {
		return 0, ErrGeneric
	}
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return 0, ErrGeneric
	}
	return val, ""
}

type parser struct {
	input   string
	pos     int
	resolve Resolver
}

func (p *parser) skipSpaces() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) peek(s string) bool {
	return strings.HasPrefix(p.input[p.pos:], s)
}

func (p *parser) parseExpr() (float64, string) {
	left, err := p.parseAddSub()
	if err != "" {
		return 0, err
	}
	p.skipSpaces()
	for _, op := range []string{"<>", "<=", ">=", "<", ">", "="} {
		if !p.peek(op) {
			continue
		}
		p.pos += len(op)
		right, rerr := p.parseAddSub()
		if rerr != "" {
			return 0, rerr
		}
		return truth(compare(op, left, right)), ""
	}
	return left, ""
}

func compare(op string, a, b float64) bool {
	switch op {
	case "<>":
		return a != b
	case "<=":
		return a <= b
	case ">=":
		return a >= b
	case "<":
		return a < b
	case ">":
		return a > b
	}
	return a == b
}

func (p *parser) parseAddSub() (float64, string) {
	val, err := p.parseMulDiv()
	if err != "" {
		return 0, err
	}
	for {
		p.skipSpaces()
		if p.pos >= len(p.input) {
			break
		}
		op := p.input[p.pos]
		if op != '+' && op != '-' {
			break
		}
		p.pos++
		right, rerr := p.parseMulDiv()
		if rerr != "" {
			return 0, rerr
		}
		if op == '+' {
			val += right
		} else {
			val -= right
		}
	}
	return val, ""
}

func (p *parser) parseMulDiv() (float64, string) {
	val, err := p.parseFactor()
	if err != "" {
		return 0, err
	}
	for {
		p.skipSpaces()
		if p.pos >= len(p.input) {
			break
		}
		op := p.input[p.pos]
		if op != '*' && op != '/' {
			break
		}
		p.pos++
		right, rerr := p.parseFactor()
		if rerr != "" {
			return 0, rerr
		}
		if op == '*' {
			val *= right
		} else {
			if right == 0 {
				return 0, ErrDiv0
			}
			val /= right
		}
	}
	return val, ""
}

func (p *parser) parseFactor() (float64, string) {
	p.skipSpaces()
	if p.pos < len(p.input) {
		switch p.input[p.pos] {
		case '+':
			p.pos++
			return p.parseFactor()
		case '-':
			p.pos++
			v, err := p.parseFactor()
			if err != "" {
				return 0, err
			}
			return -v, ""
		}
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (float64, string) {
	p.skipSpaces()
	if p.pos >= len(p.input) {
		return 0, ErrGeneric
	}
	ch := p.input[p.pos]
	if ch == '(' {
		p.pos++
		v, err := p.parseExpr()
		if err != "" {
			return 0, err
		}
		p.skipSpaces()
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return 0, ErrGeneric
		}
		p.pos++
		return v, ""
	}
	if isDigit(ch) || ch == '.' {
		return p.parseNumber()
	}
	if !isLetter(ch) && ch != '$' {
		return 0, ErrGeneric
	}

	start := p.pos
	j := p.pos
	for j < len(p.input) && (isLetter(p.input[j]) || p.input[j] == '$') {
		j++
	}
	letters := p.input[start:j]
	p.pos = j
	p.skipSpaces()

	if p.pos < len(p.input) && p.input[p.pos] == '(' {
		p.pos++
		args, ok := p.args()
		if !ok {
			return 0, ErrGeneric
		}
		return p.call(strings.ToUpper(letters), args)
	}

	// cell reference: letters followed by digits
	k := j
	for k < len(p.input) && (isDigit(p.input[k]) || p.input[k] == '$') {
		k++
	}
	if k == j {
		return 0, ErrRef
	}
	p.pos = k
	row, col, ok := grid.ParseCellRef(p.input[start:k])
	if !ok {
		return 0, ErrRef
	}
	v, code := p.cell(row, col)
	if code == Blank {
		return 0, ""
	}
	return v, code
}

func (p *parser) parseNumber() (float64, string) {
	start := p.pos
	j := p.pos
	seenDot, seenE := false, false
	for j < len(p.input) {
		c := p.input[j]
		switch {
		case isDigit(c):
			j++
		case c == '.' && !seenDot && !seenE:
			seenDot = true
			j++
		case (c == 'e' || c == 'E') && !seenE:
			seenE = true
			j++
			if j < len(p.input) && (p.input[j] == '+' || p.input[j] == '-') {
				j++
			}
		default:
			goto done
		}
	}
done:
	p.pos = j
	v, err := strconv.ParseFloat(p.input[start:j], 64)
	if err != nil {
		return 0, ErrGeneric
	}
	return v, ""
}

func (p *parser) cell(row, col int) (float64, string) {
	if p.resolve == nil {
		return 0, ErrRef
	}
	return p.resolve(row, col)
}

// args consumes a parenthesised argument list (the '(' already read) and
// returns the top-level arguments as trimmed substrings.
func (p *parser) args() ([]string, bool) {
	var out []string
	nest := 0
	start := p.pos
	for i := p.pos; i < len(p.input); i++ {
		switch p.input[i] {
		case '(':
			nest++
		case ')':
			if nest > 0 {
				nest--
				continue
			}
			last := strings.TrimSpace(p.input[start:i])
			if last == "" && len(out) > 0 {
				return nil, false
			}
			if last != "" {
				out = append(out, last)
			}
			p.pos = i + 1
			return out, true
		case ',':
			if nest == 0 {
				arg := strings.TrimSpace(p.input[start:i])
				if arg == "" {
					return nil, false
				}
				out = append(out, arg)
				start = i + 1
			}
		}
	}
	return nil, false
}

// eval evaluates one argument substring as a complete expression.
func (p *parser) eval(arg string) (float64, string) {
	sub := parser{input: arg, resolve: p.resolve}
	v, err := sub.parseExpr()
	if err != "" {
		return 0, err
	}
	sub.skipSpaces()
	if sub.pos < len(sub.input) {
		return 0, ErrGeneric
	}
	return v, ""
}

// values expands arguments for aggregate functions. Ranges skip blank and
// text cells; scalar arguments are always included.
func (p *parser) values(args []string) ([]float64, string) {
	var out []float64
	for _, arg := range args {
		if left, right, ok := strings.Cut(arg, ":"); ok {
			r1, c1, ok1 := grid.ParseCellRef(left)
			r2, c2, ok2 := grid.ParseCellRef(right)
			if !ok1 || !ok2 {
				return nil, ErrRef
			}
			rmin, rmax := min(r1, r2), max(r1, r2)
			cmin, cmax := min(c1, c2), max(c1, c2)
			if (rmax-rmin+1)*(cmax-cmin+1) > maxRangeCells {
				return nil, ErrRef
			}
			for r := rmin; r <= rmax; r++ {
				for c := cmin; c <= cmax; c++ {
					v, code := p.cell(r, c)
					switch code {
					case "":
						out = append(out, v)
					case Blank, ErrValue:
					default:
						return nil, code
					}
				}
			}
			continue
		}
		v, err := p.eval(arg)
		if err != "" {
			return nil, err
		}
		out = append(out, v)
	}
	return out, ""
}

func (p *parser) call(name string, args []string) (float64, string) {
	switch name {
	case "SUM", "AVERAGE", "MIN", "MAX", "COUNT":
		vals, err := p.values(args)
		if err != "" {
			return 0, err
		}
		return aggregate(name, vals)
	case "ROUND":
		if len(args) < 1 || len(args) > 2 {
			return 0, ErrGeneric
		}
		v, err := p.eval(args[0])
		if err != "" {
			return 0, err
		}
		digits := 0.0
		if len(args) == 2 {
			if digits, err = p.eval(args[1]); err != "" {
				return 0, err
			}
		}
		scale := math.Pow(10, math.Trunc(digits))
		return math.Round(v*scale) / scale, ""
	case "IF":
		if len(args) < 2 || len(args) > 3 {
			return 0, ErrGeneric
		}
		cond, err := p.eval(args[0])
		if err != "" {
			return 0, err
		}
		if isTrue(cond) {
			return p.eval(args[1])
		}
		if len(args) == 3 {
			return p.eval(args[2])
		}
		return 0, ""
	case "AND", "OR":
		result := name == "AND"
		for _, arg := range args {
			v, err := p.eval(arg)
			if err != "" {
				return 0, err
			}
			if name == "AND" {
				result = result && isTrue(v)
			} else {
				result = result || isTrue(v)
			}
		}
		return truth(result), ""
	case "NOT":
		if len(args) != 1 {
			return 0, ErrGeneric
		}
		v, err := p.eval(args[0])
		if err != "" {
			return 0, err
		}
		return truth(!isTrue(v)), ""
	}
	return 0, ErrGeneric
}

func aggregate(name string, vals []float64) (float64, string) {
	if name == "COUNT" {
		return float64(len(vals)), ""
	}
	if len(vals) == 0 {
		if name == "AVERAGE" {
			return 0, ErrDiv0
		}
		return 0, ""
	}
	acc := vals[0]
	sum := 0.0
	for _, v := range vals {
		sum += v
		switch name {
		case "MIN":
			acc = min(acc, v)
		case "MAX":
			acc = max(acc, v)
		}
	}
	switch name {
	case "SUM":
		return sum, ""
	case "AVERAGE":
		return sum / float64(len(vals)), ""
	}
	return acc, ""
}

func isTrue(v float64) bool { return math.Abs(v) > 1e-12 }

func truth(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func isLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}
func isDigit(b byte) bool {
	return (b >= '0' && b <= '9')
}
