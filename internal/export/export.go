// Package export streams a whole sheet to a writer as CSV, JSON or plain
// text. Rows are read straight from the source, a chunk at a time, so an
// export never depends on what the viewer has cached.
package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"

	"sheetview/internal/grid"
	"sheetview/internal/logging"
	"sheetview/internal/storage"
)

const ChunkRows = 500

type Format string

const (
	CSV  Format = "csv"
	JSON Format = "json"
	Text Format = "text"
)

// ParseFormat accepts csv, json and text (or txt), in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return CSV, nil
	case "json":
		return JSON, nil
	case "text", "txt":
		return Text, nil
	}
	return "", fmt.Errorf("unknown export format %q (want csv, json or text)", s)
}

type Options struct {
	// Headers writes the sheet's column titles first (a "headers" array in
	// JSON). Sheets without titles get column letters.
	Headers bool
	// Limit caps the number of data rows; zero means all.
	Limit int
	// Width caps text fields at this many terminal cells; zero means no cap.
	// Longer fields are cut short with "..." unless Wrap is set.
	Width int
	// Wrap continues long text fields on the following lines.
	Wrap bool
}

// rowWriter is one output format.
type rowWriter interface {
	begin(sheet grid.Sheet, headers []string, rows int) error
	row(cells []grid.Value) error
	end() error
}

// Write streams sheet from src to w in format.
func Write(ctx context.Context, w io.Writer, src storage.Source, sheet grid.Sheet, format Format, opts Options) error {
	bw := bufio.NewWriter(w)
	var out rowWriter
	switch format {
	case CSV:
		out = &csvWriter{w: csv.NewWriter(bw)}
	case JSON:
		out = &jsonWriter{w: bw}
	case Text:
		out = &textWriter{w: bw, width: opts.Width, wrap: opts.Wrap}
	default:
		return fmt.Errorf("unknown export format %q", format)
	}

	total := sheet.RowCount
	if opts.Limit > 0 {
		total = min(total, opts.Limit)
	}
	var headers []string
	if opts.Headers {
		headers = make([]string, sheet.ColumnCount)
		for c := range headers {
			headers[c] = sheet.Header(c)
		}
	}
	if err := out.begin(sheet, headers, total); err != nil {
		return err
	}

	log := logging.FromContext(ctx)
	for start := 0; start < total; start += ChunkRows {
		end := min(start+ChunkRows, total)
		rows, err := src.FetchRows(ctx, sheet, start, end)
		if err != nil {
			return fmt.Errorf("export rows %d-%d: %w", start+1, end, err)
		}
		if len(rows) < end-start {
			return fmt.Errorf("export rows %d-%d: source returned %d rows", start+1, end, len(rows))
		}
		cells := make([]grid.Value, sheet.ColumnCount)
		for _, r := range rows {
			for c := range cells {
				cells[c] = r.Cell(c)
			}
			if err := out.row(cells); err != nil {
				return err
			}
		}
		log.Debug("export chunk", "sheet", sheet.Name, "format", string(format), "rows", end)
	}
	if err := out.end(); err != nil {
		return err
	}
	return bw.Flush()
}

// ----------------------------- CSV -----------------------------

type csvWriter struct {
	w      *csv.Writer
	record []string
}

func (c *csvWriter) begin(_ grid.Sheet, headers []string, _ int) error {
	if headers == nil {
		return nil
	}
	return c.w.Write(headers)
}

func (c *csvWriter) row(cells []grid.Value) error {
	c.record = c.record[:0]
	for _, v := range cells {
		c.record = append(c.record, v.Raw())
	}
	return c.w.Write(c.record)
}

func (c *csvWriter) end() error {
	c.w.Flush()
	return c.w.Error()
}

// ----------------------------- JSON -----------------------------

// jsonWriter emits one object; data rows are encoded one at a time so the
// sheet never sits in memory.
type jsonWriter struct {
	w     *bufio.Writer
	count int
}

type jsonHeader struct {
	Sheet   string   `json:"sheet"`
	Rows    int      `json:"rows"`
	Columns int      `json:"columns"`
	Headers []string `json:"headers,omitempty"`
}

func (j *jsonWriter) begin(sheet grid.Sheet, headers []string, rows int) error {
	head, err := json.Marshal(jsonHeader{Sheet: sheet.Name, Rows: rows, Columns: sheet.ColumnCount, Headers: headers})
	if err != nil {
		return err
	}
	// reopen the object to append the data array
	head = head[:len(head)-1]
	_, err = fmt.Fprintf(j.w, "%s,\"data\":[", head)
	return err
}

func (j *jsonWriter) row(cells []grid.Value) error {
	vals := make([]any, len(cells))
	for i, v := range cells {
		vals[i] = jsonValue(v)
	}
	b, err := json.Marshal(vals)
	if err != nil {
		return err
	}
	if j.count > 0 {
		j.w.WriteByte(',')
	}
	j.count++
	j.w.WriteString("\n  ")
	_, err = j.w.Write(b)
	return err
}

func (j *jsonWriter) end() error {
	if j.count > 0 {
		j.w.WriteByte('\n')
	}
	_, err := j.w.WriteString("]}\n")
	return err
}

// jsonValue keeps numbers and booleans native and empty cells null.
func jsonValue(v grid.Value) any {
	switch v.Kind() {
	case grid.KindEmpty:
		return nil
	case grid.KindNumber:
		f, _ := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return v.Raw()
		}
		return f
	case grid.KindBool:
		return v.BoolValue()
	case grid.KindFormula:
		return jsonValue(v.Cached())
	}
	return v.Raw()
}

// ----------------------------- Text -----------------------------

type textWriter struct {
	w     *bufio.Writer
	width int
	wrap  bool
}

func (t *textWriter) begin(_ grid.Sheet, headers []string, _ int) error {
	if headers == nil {
		return nil
	}
	return t.line(headers)
}

func (t *textWriter) row(cells []grid.Value) error {
	fields := make([]string, len(cells))
	for i, v := range cells {
		fields[i] = v.Raw()
	}
	return t.line(fields)
}

// line writes tab separated fields; tabs and newlines inside a field
// become spaces. Wrapped fields take as many lines as the longest needs.
func (t *textWriter) line(fields []string) error {
	parts := make([][]string, len(fields))
	lines := 1
	for i, f := range fields {
		parts[i] = t.fit(strings.Map(func(r rune) rune {
			if r == '\t' || r == '\n' || r == '\r' {
				return ' '
			}
			return r
		}, f))
		lines = max(lines, len(parts[i]))
	}
	for n := 0; n < lines; n++ {
		for i, p := range parts {
			if i > 0 {
				t.w.WriteByte('\t')
			}
			if n < len(p) {
				t.w.WriteString(p[n])
			}
		}
		if err := t.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return nil
}

// fit applies the width cap to one field.
func (t *textWriter) fit(f string) []string {
	if t.width <= 0 || runewidth.StringWidth(f) <= t.width {
		return []string{f}
	}
	if !t.wrap {
		return []string{runewidth.Truncate(f, t.width, "...")}
	}
	var out []string
	for f != "" {
		head := runewidth.Truncate(f, t.width, "")
		if head == "" {
			// a double width rune in a one cell column
			_, size := utf8.DecodeRuneInString(f)
			head = f[:size]
		}
		out = append(out, head)
		f = f[len(head):]
	}
	return out
}

func (t *textWriter) end() error { return nil }
