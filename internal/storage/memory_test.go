package storage

import (
	"context"
	"errors"
	"testing"

	"sheetview/internal/grid"
)

func TestMemory(t *testing.T) {
	m := NewMemory()
	a := m.Add("A", []string{"x"}, [][]grid.Value{
		{grid.Number(1)},
		{grid.Number(2), grid.Text("wide")},
		{grid.Formula("A1+A2", grid.Number(3))},
	})
	b := m.AddFunc("B", nil, 1_000_000, 3, func(row, col int) grid.Value {
		return grid.Number(float64(row*10 + col))
	})

	if a.ColumnCount != 2 || !a.HasFormulas || b.Index != 1 {
		t.Fatalf("sheets = %+v, %+v", a, b)
	}
	rows := fetch(t, m, a, -5, 2)
	if len(rows) != 2 || rows[0].Len() != 2 {
		t.Fatalf("rows = %v", rows)
	}
	rows = fetch(t, m, b, 999_998, 2_000_000)
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if got, _ := rows[1].Cell(2).Float(); got != 9_999_992 {
		t.Errorf("generated cell = %v", got)
	}
	if rows := fetch(t, m, a, 10, 20); len(rows) != 0 {
		t.Errorf("past end returned %d rows", len(rows))
	}
}

func TestMemoryCancelled(t *testing.T) {
	m := NewMemory()
	sh := m.Add("A", nil, [][]grid.Value{{grid.Number(1)}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.FetchRows(ctx, sh, 0, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestFindSheet(t *testing.T) {
	m := Demo(100)
	tests := []struct {
		key  string
		want string
	}{
		{"Data", "Data"},
		{"summary", "Summary"},
		{"2", "Summary"},
		{"1", "Data"},
	}
	for _, tt := range tests {
		sh, err := FindSheet(m, tt.key)
		if err != nil || sh.Name != tt.want {
			t.Errorf("FindSheet(%q) = %q, %v, want %q", tt.key, sh.Name, err, tt.want)
		}
	}
	if _, err := FindSheet(m, "3"); err == nil {
		t.Error("FindSheet(3) succeeded")
	}
}

func TestDemo(t *testing.T) {
	m := Demo(50)
	sheets := m.Sheets()
	rows := fetch(t, m, sheets[0], 0, 50)
	if len(rows) != 50 {
		t.Fatalf("len(rows) = %d", len(rows))
	}
	if rows[0].Cell(6).Kind() != grid.KindFormula || rows[0].Cell(7).Kind() != grid.KindError {
		t.Errorf("row 0 = %v", rows[0].Values())
	}
	total := 0.0
	for _, r := range fetch(t, m, sheets[1], 0, 10) {
		n, _ := r.Cell(1).Float()
		total += n
	}
	if total != 50 {
		t.Errorf("summary rows add to %v, want 50", total)
	}
}
