package probe

import (
	"os"
	"path/filepath"
	"testing"

	csvparser "omopetl/internal/parser/csv"
	"omopetl/internal/schema"
	"omopetl/internal/table"
)

func TestInferType(t *testing.T) {
	tests := []struct {
		name string
		vals []any
		want schema.Type
	}{
		{"integers", []any{"1", "42", "-7"}, schema.TypeInteger},
		{"floats", []any{"1.5", "2"}, schema.TypeFloat},
		{"booleans", []any{"true", "False", "yes"}, schema.TypeBoolean},
		{"dates", []any{"2023-01-02", "2023/05/06"}, schema.TypeDate},
		{"datetimes", []any{"2023-01-02 10:30:00", "2023-01-02T11:00:00"}, schema.TypeDateTime},
		{"mixed_falls_back", []any{"1", "abc"}, schema.TypeString},
		{"empty_stays_string", []any{nil, ""}, schema.TypeString},
		{"nulls_skipped", []any{nil, "3", nil}, schema.TypeInteger},
		{"zero_one_is_integer", []any{"0", "1"}, schema.TypeInteger},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := inferType(tc.vals); got != tc.want {
				t.Fatalf("inferType(%v)=%s, want %s", tc.vals, got, tc.want)
			}
		})
	}
}

func TestProfileTableSampleBound(t *testing.T) {
	tbl := table.FromRows([]string{"v"}, []table.Row{
		{"v": "1"}, {"v": "2"}, {"v": "oops"},
	})
	// With the sample capped at 2 rows, the bad third value is not seen.
	p := ProfileTable(tbl, "t", 2)
	if p.Columns[0].Type != schema.TypeInteger {
		t.Fatalf("type=%s, want integer", p.Columns[0].Type)
	}
}

func TestProfileTablePrimaryKeyHeuristic(t *testing.T) {
	tbl := table.FromRows([]string{"row_id", "subject_id", "gender"}, []table.Row{
		{"row_id": "1", "subject_id": "10", "gender": "M"},
		{"row_id": "1", "subject_id": "11", "gender": "F"},
	})
	p := ProfileTable(tbl, "patients", 0)
	// row_id repeats, so the first distinct *_id column wins.
	if p.Columns[0].PrimaryKey {
		t.Fatal("row_id with duplicate values must not be primary key")
	}
	if !p.Columns[1].PrimaryKey {
		t.Fatal("subject_id should be primary key")
	}
	if p.Columns[2].PrimaryKey {
		t.Fatal("gender should not be primary key")
	}
}

func TestProfileTablePrimaryKeyRequiresPresence(t *testing.T) {
	tbl := table.FromRows([]string{"subject_id"}, []table.Row{
		{"subject_id": "1"}, {"subject_id": nil},
	})
	if p := ProfileTable(tbl, "t", 0); p.Columns[0].PrimaryKey {
		t.Fatal("column with null samples must not be primary key")
	}
}

func TestProfileDirAndRender(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("patients.csv", "subject_id,gender,dob\n1,M,1980-01-15 00:00:00\n2,F,1990-06-30 00:00:00\n")
	write("admissions.csv", "subject_id,admittime\n1,2023-01-01 10:00:00\n")

	profiles, err := ProfileDir(dir, Options{ReadOpts: csvparser.DefaultOptions()})
	if err != nil {
		t.Fatalf("ProfileDir: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("profiles=%d", len(profiles))
	}
	// Name order: admissions before patients.
	if profiles[0].Name != "admissions" || profiles[1].Name != "patients" {
		t.Fatalf("order=%s,%s", profiles[0].Name, profiles[1].Name)
	}

	raw, err := RenderSchemaYAML(profiles)
	if err != nil {
		t.Fatalf("RenderSchemaYAML: %v", err)
	}
	s, err := schema.Parse(raw)
	if err != nil {
		t.Fatalf("rendered schema does not parse: %v\n%s", err, raw)
	}

	typ, err := s.ColumnType("patients", "subject_id")
	if err != nil || typ != schema.TypeInteger {
		t.Fatalf("subject_id type=%s err=%v", typ, err)
	}
	typ, _ = s.ColumnType("patients", "dob")
	if typ != schema.TypeDateTime {
		t.Fatalf("dob type=%s", typ)
	}
	typ, _ = s.ColumnType("patients", "gender")
	if typ != schema.TypeString {
		t.Fatalf("gender type=%s", typ)
	}

	if c, ok := s["patients"].Columns.Get("subject_id"); !ok || !c.PrimaryKey {
		t.Fatalf("subject_id should render primary_key: true, got %+v ok=%v", c, ok)
	}
	if c, _ := s["patients"].Columns.Get("gender"); c.PrimaryKey {
		t.Fatal("gender should not render as primary key")
	}

	// Column order survives rendering.
	cols := s.ExpectedColumns("patients")
	want := []string{"subject_id", "gender", "dob"}
	for i := range want {
		if cols[i] != want[i] {
			t.Fatalf("columns=%v, want %v", cols, want)
		}
	}
}

func TestWriteSchemaFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "x.csv"), []byte("a\n1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "source_schema.yaml")
	if err := WriteSchemaFile(dir, out, Options{ReadOpts: csvparser.DefaultOptions()}); err != nil {
		t.Fatalf("WriteSchemaFile: %v", err)
	}
	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := schema.Parse(raw); err != nil {
		t.Fatalf("output does not parse: %v", err)
	}
}

func TestProfileDirEmpty(t *testing.T) {
	if _, err := ProfileDir(t.TempDir(), Options{ReadOpts: csvparser.DefaultOptions()}); err == nil {
		t.Fatal("want error for directory without CSVs")
	}
}
