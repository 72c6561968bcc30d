package calc

import (
	"math"
	"testing"
)

// cells is a small fixture addressed by (row, col).
type cells map[[2]int]any

func (c cells) resolve(row, col int) (float64, string) {
	v, ok := c[[2]int{row, col}]
	if !ok {
		return 0, Blank
	}
	switch x := v.(type) {
	case float64:
		return x, ""
	case string:
		if len(x) > 0 && x[0] == '#' {
			return 0, x
		}
		return 0, ErrValue
	}
	return 0, ErrGeneric
}

func TestEval(t *testing.T) {
	sheet := cells{
		{0, 0}: 10.0, // A1
		{1, 0}: 20.0, // A2
		{2, 0}: 30.0, // A3
		{0, 1}: 2.0,  // B1
		{1, 1}: "label",
		{2, 1}: "#DIV/0",
	}
	tests := []struct {
		expr string
		want float64
	}{
		{"1+2*3", 7},
		{"(1+2)*3", 9},
		{"-A1+5", -5},
		{"A1/B1", 5},
		{"SUM(A1:A3)", 60},
		{"sum(A1:A3, 5)", 65},
		{"AVERAGE(A1:A3)", 20},
		{"MIN(A1:A3)", 10},
		{"MAX(A1:A3,100)", 100},
		{"COUNT(A1:B2)", 3},
		{"ROUND(2.346, 2)", 2.35},
		{"ROUND(2.5)", 3},
		{"IF(A1>5, 1, 2)", 1},
		{"IF(A1<5, 1, 2)", 2},
		{"IF(A1<5, 1)", 0},
		{"AND(1, A1=10)", 1},
		{"OR(0, A1<>10)", 0},
		{"NOT(0)", 1},
		{"A1>=10", 1},
		{"$A$2*2", 40},
		{"C9+1", 1},
		{"1.5e2", 150},
		{"IF(A1>5, 1, 1/0)", 1},
	}
	for _, tt := range tests {
		got, code := Eval(tt.expr, sheet.resolve)
		if code != "" {
			t.Errorf("Eval(%q) code = %q, want none", tt.expr, code)
			continue
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Eval(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestEvalErrors(t *testing.T) {
	sheet := cells{
		{0, 0}: 10.0,
		{1, 1}: "label",
		{2, 1}: "#DIV/0",
	}
	tests := []struct {
		expr string
		want string
	}{
		{"1/0", ErrDiv0},
		{"B3+1", ErrDiv0},
		{"SUM(B1:B3)", ErrDiv0},
		{"B2*2", ErrValue},
		{"1+", ErrGeneric},
		{"(1+2", ErrGeneric},
		{"FOO(1)", ErrGeneric},
		{"SUM(1,,2)", ErrGeneric},
		{"A1 2", ErrGeneric},
		{"ABC", ErrRef},
		{"AVERAGE(C1:C3)", ErrDiv0},
		{"SUM(A1:XFD1048576)", ErrRef},
	}
	for _, tt := range tests {
		if _, code := Eval(tt.expr, sheet.resolve); code != tt.want {
			t.Errorf("Eval(%q) code = %q, want %q", tt.expr, code, tt.want)
		}
	}
}

func TestEvalNilResolver(t *testing.T) {
	if _, code := Eval("A1", nil); code != ErrRef {
		t.Errorf("code = %q, want %q", code, ErrRef)
	}
	if v, code := Eval("2*21", nil); code != "" || v != 42 {
		t.Errorf("Eval = %v, %q", v, code)
	}
}
