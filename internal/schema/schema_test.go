package schema

import (
	"errors"
	"reflect"
	"testing"

	"omopetl/internal/table"
)

const sampleYAML = `
person:
  table_name: person
  columns:
    person_id: {type: integer, primary_key: true}
    gender_concept_id: {type: Integer}
    birth_datetime: {type: date}
    race_source_value: {type: string}
visit_occurrence:
  table_name: visit_occurrence
  columns:
    visit_occurrence_id: {type: integer, primary_key: true}
    visit_start_datetime: {type: datetime}
`

func mustParse(t *testing.T, raw string) Schema {
	t.Helper()
	s, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return s
}

func TestParsePreservesColumnOrder(t *testing.T) {
	s := mustParse(t, sampleYAML)
	got := s.ExpectedColumns("person")
	want := []string{"person_id", "gender_concept_id", "birth_datetime", "race_source_value"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExpectedColumns=%v, want %v", got, want)
	}
}

func TestParseNormalizesTypeCase(t *testing.T) {
	s := mustParse(t, sampleYAML)
	typ, err := s.ColumnType("person", "gender_concept_id")
	if err != nil {
		t.Fatalf("ColumnType: %v", err)
	}
	if typ != TypeInteger {
		t.Fatalf("type=%q, want integer", typ)
	}
}

func TestParseRejectsUnknownType(t *testing.T) {
	_, err := Parse([]byte("t:\n  columns:\n    c: {type: decimal}\n"))
	if err == nil {
		t.Fatal("want error for unsupported type")
	}
}

func TestColumnTypeMissing(t *testing.T) {
	s := mustParse(t, sampleYAML)

	_, err := s.ColumnType("person", "nope")
	var mce *MissingColumnError
	if !errors.As(err, &mce) {
		t.Fatalf("err=%v, want MissingColumnError", err)
	}
	if mce.Table != "person" || mce.Column != "nope" {
		t.Fatalf("error fields=%+v", mce)
	}

	if _, ok := s.ColumnTypeOK("person", "nope"); ok {
		t.Fatal("ColumnTypeOK should report missing")
	}
	if _, ok := s.ColumnTypeOK("unknown_table", "x"); ok {
		t.Fatal("ColumnTypeOK should report missing table")
	}
}

func TestValidateColumns(t *testing.T) {
	s := mustParse(t, sampleYAML)

	tbl := table.FromRows([]string{"person_id", "race_source_value", "surplus"}, nil)
	res := ValidateColumns(tbl, s, "person")

	wantMissing := []string{"gender_concept_id", "birth_datetime"}
	if !reflect.DeepEqual(res.Missing, wantMissing) {
		t.Fatalf("Missing=%v, want %v", res.Missing, wantMissing)
	}
	if !reflect.DeepEqual(res.Extra, []string{"surplus"}) {
		t.Fatalf("Extra=%v", res.Extra)
	}
	if res.OK() {
		t.Fatal("result with missing columns must not be OK")
	}
}

func TestValidateColumnsUndeclaredTable(t *testing.T) {
	s := mustParse(t, sampleYAML)
	tbl := table.FromRows([]string{"anything"}, nil)
	if res := ValidateColumns(tbl, s, "not_declared"); !res.OK() || len(res.Extra) != 0 {
		t.Fatalf("undeclared table should validate clean, got %+v", res)
	}
}

func TestPrimaryKeyAdvisory(t *testing.T) {
	s := mustParse(t, sampleYAML)
	c, ok := s["person"].Columns.Get("person_id")
	if !ok || !c.PrimaryKey {
		t.Fatalf("person_id primary_key not parsed: %+v ok=%v", c, ok)
	}
	c, _ = s["person"].Columns.Get("birth_datetime")
	if c.PrimaryKey {
		t.Fatal("birth_datetime should not be primary key")
	}
}

func TestParseDuplicateColumn(t *testing.T) {
	raw := "t:\n  columns:\n    a: {type: string}\n    a: {type: integer}\n"
	if _, err := Parse([]byte(raw)); err == nil {
		t.Fatal("want duplicate column error")
	}
}
