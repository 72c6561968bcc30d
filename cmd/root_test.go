package cmd

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"sheetview/internal/config"
)

// run executes the root command with a throwaway config and log location.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestExportDemo(t *testing.T) {
	out, err := run(t, "--demo", "20", "--export", "csv", "--max-rows", "5")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("output is not CSV: %v", err)
	}
	if len(records) != 6 {
		t.Fatalf("got %d records, want header + 5", len(records))
	}
	if records[0][0] != "ID" || records[5][0] != "5" {
		t.Errorf("records = %q", records)
	}
}

func TestExportWithoutTerminal(t *testing.T) {
	out, err := run(t, "--demo", "3", "--sheet", "Summary", "--no-header")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 8 {
		t.Fatalf("got %d lines, want the 8 summary rows:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "Oslo\t") {
		t.Errorf("first line = %q, want tab separated text", lines[0])
	}
}

func TestExportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.csv")
	if err := os.WriteFile(path, []byte("name,age\nAda,36\nGrace,45\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, path, "--export", "json")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, `"sheet":"people"`) || !strings.Contains(out, `["Ada",36]`) {
		t.Errorf("json = %s", out)
	}
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no file", nil, "missing FILE"},
		{"unknown sheet", []string{"--demo", "5", "--sheet", "Nope", "--export", "csv"}, "available: Data, Summary"},
		{"bad format", []string{"--demo", "5", "--export", "xml"}, "unknown export format"},
		{"missing file", []string{filepath.Join(t.TempDir(), "absent.csv"), "--export", "csv"}, "not found"},
		{"bad log level", []string{"--demo", "5", "--log-level", "loud"}, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestSheets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.csv")
	if err := os.WriteFile(path, []byte("name,age\nAda,36\nGrace,45\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "sheets", path)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("output:\n%s", out)
	}
	if fields := strings.Fields(lines[1]); strings.Join(fields, " ") != "1 people 2 2" {
		t.Errorf("sheet line = %q", lines[1])
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	if _, err := run(t, "config", "init", "--config", path); err != nil {
		t.Fatalf("config init error = %v", err)
	}
	if _, err := config.Load(path); err != nil {
		t.Errorf("written config does not load: %v", err)
	}

	_, err := run(t, "config", "init", "--config", path)
	if !errors.Is(err, config.ErrExists) {
		t.Errorf("second init error = %v, want ErrExists", err)
	}
	if _, err := run(t, "config", "init", "--config", path, "--force"); err != nil {
		t.Errorf("init --force error = %v", err)
	}
}

func TestExportWidth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.csv")
	if err := os.WriteFile(path, []byte("name,note\nAda,a rather long note\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"default", nil, "name\tnote\nAda\ta rather long note\n"},
		{"max width", []string{"-w", "8"}, "name\tnote\nAda\ta rat...\n"},
		{"wrap", []string{"--max-width", "8", "--wrap"}, "name\tnote\nAda\ta rather\n\t long no\n\tte\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, append([]string{path}, tt.args...)...)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if out != tt.want {
				t.Errorf("output = %q, want %q", out, tt.want)
			}
		})
	}
}

func writeTables(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	rows := [][]any{{"Part", "Qty"}, {"Bolt", 3}, {"Nut", 5}}
	for i, r := range rows {
		if err := f.SetSheetRow("Sheet1", fmt.Sprintf("B%d", i+2), &r); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	if err := f.AddTable("Sheet1", &excelize.Table{Range: "B2:C4", Name: "Parts"}); err != nil {
		t.Fatalf("AddTable: %v", err)
	}
	path := filepath.Join(t.TempDir(), "stock.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	return path
}

func TestTables(t *testing.T) {
	path := writeTables(t)

	out, err := run(t, path, "--list-tables")
	if err != nil {
		t.Fatalf("--list-tables error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || strings.Join(strings.Fields(lines[1]), " ") != "Sheet1 Parts B2:C4 2" {
		t.Errorf("tables:\n%s", out)
	}

	out, err = run(t, path, "--table", "Parts", "--export", "csv")
	if err != nil {
		t.Fatalf("--table error = %v", err)
	}
	if out != "Part,Qty\nBolt,3\nNut,5\n" {
		t.Errorf("table csv = %q", out)
	}

	_, err = run(t, path, "--table", "Nope", "--export", "csv")
	if err == nil || !strings.Contains(err.Error(), "available: Parts") {
		t.Errorf("unknown table error = %v", err)
	}

	csvPath := filepath.Join(t.TempDir(), "plain.csv")
	if err := os.WriteFile(csvPath, []byte("a\n1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, csvPath, "--list-tables"); err == nil || !strings.Contains(err.Error(), "Excel workbook") {
		t.Errorf("--list-tables on csv error = %v", err)
	}
}
