package csv

import (
	"bytes"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"omopetl/internal/table"
)

func TestReadTableHeaderNormalization(t *testing.T) {
	in := "\uFEFFSubject ID,Admit Time\n1,2023-01-01\n"
	tbl, err := ReadTable(strings.NewReader(in), DefaultOptions())
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	want := []string{"subject_id", "admit_time"}
	if !reflect.DeepEqual(tbl.Columns(), want) {
		t.Fatalf("cols=%v, want %v", tbl.Columns(), want)
	}
}

func TestReadTableHeaderMap(t *testing.T) {
	opt := DefaultOptions()
	opt.HeaderMap = map[string]string{"ID pacienta": "subject_id"}
	tbl, err := ReadTable(strings.NewReader("ID pacienta\n42\n"), opt)
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if !tbl.HasColumn("subject_id") {
		t.Fatalf("cols=%v", tbl.Columns())
	}
}

func TestReadTableEmptyCellsAreNil(t *testing.T) {
	in := "a,b\n1,\n,2\n"
	tbl, err := ReadTable(strings.NewReader(in), DefaultOptions())
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if got := tbl.Row(0)["b"]; got != nil {
		t.Fatalf("row0.b=%v, want nil", got)
	}
	if got := tbl.Row(1)["a"]; got != nil {
		t.Fatalf("row1.a=%v, want nil", got)
	}
}

func TestReadTableRaggedRow(t *testing.T) {
	in := "a,b,c\n1,2\n"
	tbl, err := ReadTable(strings.NewReader(in), DefaultOptions())
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if got := tbl.Row(0)["c"]; got != nil {
		t.Fatalf("short row cell=%v, want nil", got)
	}
}

func TestReadTableNoHeader(t *testing.T) {
	opt := DefaultOptions()
	opt.HasHeader = false
	tbl, err := ReadTable(strings.NewReader("x,y\n"), opt)
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if !reflect.DeepEqual(tbl.Columns(), []string{"col_1", "col_2"}) {
		t.Fatalf("cols=%v", tbl.Columns())
	}
}

func TestReadTableSemicolonDelimiter(t *testing.T) {
	opt := DefaultOptions()
	opt.Comma = ';'
	tbl, err := ReadTable(strings.NewReader("a;b\n1;2\n"), opt)
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if tbl.Row(0)["b"] != "2" {
		t.Fatalf("b=%v", tbl.Row(0)["b"])
	}
}

func TestReadTableLatin1(t *testing.T) {
	opt := DefaultOptions()
	opt.Encoding = "latin1"
	// 0xE9 is é in ISO-8859-1.
	in := append([]byte("name\nRen"), 0xE9, '\n')
	tbl, err := ReadTable(bytes.NewReader(in), opt)
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if tbl.Row(0)["name"] != "René" {
		t.Fatalf("name=%q", tbl.Row(0)["name"])
	}
}

func TestReadTableUnsupportedEncoding(t *testing.T) {
	opt := DefaultOptions()
	opt.Encoding = "ebcdic"
	if _, err := ReadTable(strings.NewReader("a\n"), opt); err == nil {
		t.Fatal("want unsupported encoding error")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	tbl := table.FromRows([]string{"id", "when", "note"}, []table.Row{
		{"id": int64(1), "when": time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), "note": "a,b"},
		{"id": int64(2), "when": time.Date(2023, 1, 2, 13, 30, 0, 0, time.UTC), "note": nil},
	})

	path := filepath.Join(t.TempDir(), "out.csv")
	if err := WriteFile(path, tbl); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	back, err := LoadFile(path, DefaultOptions())
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if back.Len() != 2 {
		t.Fatalf("len=%d", back.Len())
	}
	if back.Row(0)["when"] != "2023-01-02" {
		t.Fatalf("date-only cell=%v", back.Row(0)["when"])
	}
	if back.Row(1)["when"] != "2023-01-02 13:30:00" {
		t.Fatalf("datetime cell=%v", back.Row(1)["when"])
	}
	if back.Row(1)["note"] != nil {
		t.Fatalf("null round-trip=%v", back.Row(1)["note"])
	}
	if back.Row(0)["note"] != "a,b" {
		t.Fatalf("quoted cell=%v", back.Row(0)["note"])
	}
}

func TestFormatValue(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"s", "s"},
		{int64(7), "7"},
		{3.25, "3.25"},
		{true, "true"},
	}
	for _, c := range cases {
		if got := FormatValue(c.in); got != c.want {
			t.Errorf("FormatValue(%v)=%q, want %q", c.in, got, c.want)
		}
	}
}
