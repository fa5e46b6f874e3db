// Package csv reads and writes whole tables as CSV.
//
// The reader normalizes headers (BOM strip, trim, lower_snake, optional
// header_map), treats empty cells as null, and optionally decodes legacy
// single-byte encodings via golang.org/x/text. Unlike a streaming parser, it
// materializes the full table: the transformation engine operates on
// in-memory tables.
package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"omopetl/internal/table"
)

// Options control CSV reading.
type Options struct {
	// Comma is the field delimiter. Zero means ','.
	Comma rune
	// HasHeader controls header-row handling. Readers without a header get
	// positional column names col_1..col_n.
	HasHeader bool
	// TrimSpace trims leading/trailing whitespace from every cell.
	TrimSpace bool
	// HeaderMap renames normalized source headers to canonical names.
	HeaderMap map[string]string
	// LazyQuotes is passed through to encoding/csv.
	LazyQuotes bool
	// Encoding selects a legacy charmap decode ("latin1", "windows-1250",
	// "windows-1252"). Empty means UTF-8 passthrough.
	Encoding string
}

// DefaultOptions match the source data this engine usually sees: headered
// UTF-8 CSV with comma delimiters.
func DefaultOptions() Options {
	return Options{Comma: ',', HasHeader: true, TrimSpace: true}
}

func decoderFor(name string) (*encoding.Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "latin1", "iso-8859-1":
		return charmap.ISO8859_1.NewDecoder(), nil
	case "windows-1250":
		return charmap.Windows1250.NewDecoder(), nil
	case "windows-1252":
		return charmap.Windows1252.NewDecoder(), nil
	default:
		return nil, fmt.Errorf("csv: unsupported encoding %q", name)
	}
}

// ReadTable parses CSV into a table. Empty cells become nil.
func ReadTable(r io.Reader, opt Options) (*table.Table, error) {
	if opt.Comma == 0 {
		opt.Comma = ','
	}

	dec, err := decoderFor(opt.Encoding)
	if err != nil {
		return nil, err
	}
	if dec != nil {
		r = transform.NewReader(r, dec)
	}

	cr := csv.NewReader(r)
	cr.Comma = opt.Comma
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var cols []string
	if opt.HasHeader {
		hdr, err := cr.Read()
		if err == io.EOF {
			return table.New(), nil
		}
		if err != nil {
			return nil, fmt.Errorf("csv: read header: %w", err)
		}
		cols = normalizeHeader(hdr, opt.HeaderMap)
	}

	var rows []table.Row
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("csv: line %d: %w", line, err)
		}

		if cols == nil {
			cols = make([]string, len(rec))
			for i := range rec {
				cols[i] = "col_" + strconv.Itoa(i+1)
			}
		}

		row := make(table.Row, len(cols))
		for i, c := range cols {
			if i >= len(rec) {
				row[c] = nil
				continue
			}
			v := rec[i]
			if opt.TrimSpace {
				v = strings.TrimSpace(v)
			}
			if v == "" {
				row[c] = nil
			} else {
				row[c] = v
			}
		}
		rows = append(rows, row)
	}

	return table.FromRows(cols, rows), nil
}

// LoadFile reads one CSV file into a table.
func LoadFile(path string, opt Options) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := ReadTable(f, opt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func normalizeHeader(hdr []string, headerMap map[string]string) []string {
	cols := make([]string, len(hdr))
	for i, h := range hdr {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		if mapped, ok := headerMap[h]; ok {
			h = mapped
		} else {
			h = strings.ReplaceAll(strings.ToLower(h), " ", "_")
		}
		cols[i] = h
	}
	return cols
}

// WriteTable writes a table as CSV with a header row. Null cells are written
// as empty fields.
func WriteTable(w io.Writer, t *table.Table) error {
	cw := csv.NewWriter(w)
	cols := t.Columns()
	if err := cw.Write(cols); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}

	rec := make([]string, len(cols))
	for _, row := range t.Rows() {
		for i, c := range cols {
			rec[i] = FormatValue(row[c])
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes a table to a CSV file. The parent directory must exist.
func WriteFile(path string, t *table.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteTable(f, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// FormatValue renders one cell for CSV output. Dates keep their canonical
// forms (date-only when there is no time-of-day component).
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format("2006-01-02")
		}
		return t.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(v)
	}
}
