package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"sheetview/internal/grid"
	"sheetview/internal/storage"
)

func sample() (*storage.Memory, grid.Sheet) {
	m := storage.NewMemory()
	sh := m.Add("People", []string{"Name", "Age", "Member", "Note"}, [][]grid.Value{
		{grid.Text("Ada"), grid.Number(36), grid.Bool(true), grid.Text("tab\there")},
		{grid.Text("Linus, Jr."), grid.Number(1234567.5), grid.Bool(false), grid.Empty()},
		{grid.Text("Grace"), grid.Formula("B1*2", grid.Number(72)), grid.Error("N/A"), grid.Date(2024, 1, 2)},
	})
	return m, sh
}

// counting records the ranges an export reads.
type counting struct {
	storage.Source
	reads [][2]int
}

func (c *counting) FetchRows(ctx context.Context, sheet grid.Sheet, start, end int) ([]grid.Row, error) {
	c.reads = append(c.reads, [2]int{start, end})
	return c.Source.FetchRows(ctx, sheet, start, end)
}

func TestWriteCSV(t *testing.T) {
	m, sh := sample()
	var buf bytes.Buffer
	if err := Write(context.Background(), &buf, m, sh, CSV, Options{Headers: true}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not CSV: %v", err)
	}
	want := [][]string{
		{"Name", "Age", "Member", "Note"},
		{"Ada", "36", "true", "tab\there"},
		{"Linus, Jr.", "1234567.5", "false", ""},
		{"Grace", "72", "#N/A", "2024-01-02"},
	}
	if len(records) != len(want) {
		t.Fatalf("got %d records, want %d", len(records), len(want))
	}
	for i := range want {
		if strings.Join(records[i], "|") != strings.Join(want[i], "|") {
			t.Errorf("record %d = %q, want %q", i, records[i], want[i])
		}
	}
}

func TestWriteJSON(t *testing.T) {
	m, sh := sample()
	var buf bytes.Buffer
	if err := Write(context.Background(), &buf, m, sh, JSON, Options{Headers: true}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	var doc struct {
		Sheet   string   `json:"sheet"`
		Rows    int      `json:"rows"`
		Columns int      `json:"columns"`
		Headers []string `json:"headers"`
		Data    [][]any  `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if doc.Sheet != "People" || doc.Rows != 3 || doc.Columns != 4 || len(doc.Headers) != 4 {
		t.Errorf("header = %+v", doc)
	}
	if len(doc.Data) != 3 {
		t.Fatalf("len(data) = %d, want 3", len(doc.Data))
	}
	if doc.Data[0][1] != 36.0 || doc.Data[0][2] != true {
		t.Errorf("row 0 = %v, want native number and bool", doc.Data[0])
	}
	if doc.Data[1][3] != nil {
		t.Errorf("empty cell = %v, want null", doc.Data[1][3])
	}
	if doc.Data[2][1] != 72.0 || doc.Data[2][2] != "#N/A" {
		t.Errorf("row 2 = %v", doc.Data[2])
	}
}

func TestWriteJSONEmptySheet(t *testing.T) {
	m := storage.NewMemory()
	sh := m.Add("Empty", nil, nil)
	var buf bytes.Buffer
	if err := Write(context.Background(), &buf, m, sh, JSON, Options{}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if data, ok := doc["data"].([]any); !ok || len(data) != 0 {
		t.Errorf("data = %v, want []", doc["data"])
	}
	if _, ok := doc["headers"]; ok {
		t.Error("headers written without the Headers option")
	}
}

func TestWriteText(t *testing.T) {
	m, sh := sample()
	var buf bytes.Buffer
	if err := Write(context.Background(), &buf, m, sh, Text, Options{Limit: 2}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	want := "Ada\t36\ttrue\ttab here\nLinus, Jr.\t1234567.5\tfalse\t\n"
	if buf.String() != want {
		t.Errorf("text = %q, want %q", buf.String(), want)
	}
}

func TestWriteTextWidth(t *testing.T) {
	m := storage.NewMemory()
	sh := m.Add("Notes", nil, [][]grid.Value{
		{grid.Text("short"), grid.Text("a rather long note")},
	})
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"uncapped", Options{}, "short\ta rather long note\n"},
		{"truncated", Options{Width: 8}, "short\ta rat...\n"},
		{"wrapped", Options{Width: 8, Wrap: true}, "short\ta rather\n\t long no\n\tte\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Write(context.Background(), &buf, m, sh, Text, tt.opts); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("text = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestWriteChunks(t *testing.T) {
	src := &counting{Source: storage.Demo(1203)}
	sh := src.Sheets()[0]
	var buf bytes.Buffer
	if err := Write(context.Background(), &buf, src, sh, Text, Options{}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	want := [][2]int{{0, 500}, {500, 1000}, {1000, 1203}}
	if len(src.reads) != len(want) {
		t.Fatalf("reads = %v, want %v", src.reads, want)
	}
	for i := range want {
		if src.reads[i] != want[i] {
			t.Errorf("read %d = %v, want %v", i, src.reads[i], want[i])
		}
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 1203 {
		t.Errorf("wrote %d lines, want 1203", lines)
	}
}

func TestWriteCancelled(t *testing.T) {
	m, sh := sample()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Write(ctx, &bytes.Buffer{}, m, sh, CSV, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"csv": CSV, "JSON": JSON, "txt": Text, " text ": Text} {
		if got, err := ParseFormat(in); err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) succeeded")
	}
}
