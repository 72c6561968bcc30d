package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sheetview/internal/grid"
)

// Memory is an in-process source. Sheets hold either materialised rows or a
// cell function evaluated on fetch.
type Memory struct {
	mu     sync.RWMutex
	sheets []grid.Sheet
	data   []memSheet
}

type memSheet struct {
	rows []grid.Row
	cell func(row, col int) grid.Value
}

func NewMemory() *Memory { return &Memory{} }

// Add appends a sheet built from rows. The column count is the widest row or
// header list.
func (m *Memory) Add(name string, headers []string, rows [][]grid.Value) grid.Sheet {
	cols := len(headers)
	formulas := false
	for _, r := range rows {
		cols = max(cols, len(r))
		for _, v := range r {
			if v.Kind() == grid.KindFormula {
				formulas = true
			}
		}
	}
	stored := make([]grid.Row, len(rows))
	for i, r := range rows {
		stored[i] = grid.NewRow(cols, r)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sh := grid.NewSheet(name, len(m.sheets), len(rows), cols)
	sh.Headers = append([]string(nil), headers...)
	sh.HasFormulas = formulas
	m.sheets = append(m.sheets, sh)
	m.data = append(m.data, memSheet{rows: stored})
	return sh
}

// AddFunc appends a generated sheet whose cells come from cell.
func (m *Memory) AddFunc(name string, headers []string, rows, cols int, cell func(row, col int) grid.Value) grid.Sheet {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh := grid.NewSheet(name, len(m.sheets), rows, max(cols, len(headers)))
	sh.Headers = append([]string(nil), headers...)
	m.sheets = append(m.sheets, sh)
	m.data = append(m.data, memSheet{cell: cell})
	return sh
}

func (m *Memory) Sheets() []grid.Sheet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]grid.Sheet, len(m.sheets))
	copy(out, m.sheets)
	return out
}

func (m *Memory) FetchRows(ctx context.Context, sheet grid.Sheet, start, end int) ([]grid.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := lookup(m.sheets, sheet)
	if !ok {
		return nil, &SourceError{Op: "fetch", Path: "memory", Err: ErrUnknownSheet}
	}
	start, end = clampRange(m.sheets[i], start, end)
	d := m.data[i]
	if d.cell == nil {
		out := make([]grid.Row, end-start)
		copy(out, d.rows[start:end])
		return out, nil
	}
	out := make([]grid.Row, 0, end-start)
	vals := make([]grid.Value, sheet.ColumnCount)
	for r := start; r < end; r++ {
		for c := range vals {
			vals[c] = d.cell(r, c)
		}
		out = append(out, grid.NewRow(sheet.ColumnCount, vals))
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

var demoCities = []string{"Oslo", "Lisbon", "Kyoto", "Austin", "Nairobi", "Lima", "Tallinn", "Perth"}

// Demo builds a two-sheet workbook of generated data for trying the viewer
// without a file.
func Demo(rows int) *Memory {
	m := NewMemory()
	headers := []string{"ID", "City", "Amount", "Ratio", "Active", "Joined", "Total", "Note"}
	epoch := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	m.AddFunc("Data", headers, rows, len(headers), func(row, col int) grid.Value {
		amount := float64((row*7919)%100000) + 0.25*float64(row%4)
		switch col {
		case 0:
			return grid.Number(float64(row + 1))
		case 1:
			return grid.Text(demoCities[row%len(demoCities)])
		case 2:
			return grid.Number(amount)
		case 3:
			return grid.Number(float64(row%1000) / 1000)
		case 4:
			return grid.Bool(row%3 != 0)
		case 5:
			d := epoch.AddDate(0, 0, row%2000)
			return grid.Date(d.Year(), d.Month(), d.Day())
		case 6:
			return grid.Formula(fmt.Sprintf("C%d*2", row+2), grid.Number(amount*2))
		case 7:
			if row%97 == 0 {
				return grid.Error("N/A")
			}
			if row%5 == 0 {
				return grid.Empty()
			}
			return grid.Text(fmt.Sprintf("row %d of %d", row+1, rows))
		}
		return grid.Empty()
	})

	summary := make([][]grid.Value, 0, len(demoCities))
	for i, city := range demoCities {
		summary = append(summary, []grid.Value{grid.Text(city), grid.Number(float64((rows + len(demoCities) - 1 - i) / len(demoCities)))})
	}
	m.Add("Summary", []string{"City", "Rows"}, summary)
	return m
}
