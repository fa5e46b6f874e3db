package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	_ "omopetl/internal/storage/csvfile"

	csvparser "omopetl/internal/parser/csv"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// newProject lays out a minimal project: patients.csv mapped to an
// OMOP-style person table with a csv load target.
func newProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "config", "etl_config.yaml"), `
etl:
  source:
    type: csv
    directory: data/source
  target:
    type: csv
    directory: data/target
  mappings:
    - source_tables: patients
      target_table: person
      column_mappings: person_mappings
`)

	writeFile(t, filepath.Join(dir, "config", "mappings.yaml"), `
person_mappings:
  - add_column: person_id
    transformation:
      type: generate_id
      method: incremental
  - add_column: gender_concept_id
    transformation:
      type: map
      source_column: gender
      values:
        M: 8507
        F: 8532
  - add_column: birth_date
    transformation:
      type: normalize_date
      source_column: dob
  - add_column: person_source_value
    transformation:
      type: copy
      source_column: subject_id
`)

	writeFile(t, filepath.Join(dir, "config", "source_schema.yaml"), `
patients:
  table_name: patients
  columns:
    subject_id: {type: integer}
    gender: {type: string}
    dob: {type: datetime}
`)

	writeFile(t, filepath.Join(dir, "config", "target_schema.yaml"), `
person:
  table_name: person
  columns:
    person_id: {type: integer, primary_key: true}
    gender_concept_id: {type: integer}
    birth_date: {type: date}
    person_source_value: {type: string}
`)

	writeFile(t, filepath.Join(dir, "data", "source", "patients.csv"),
		"subject_id,gender,dob\n"+
			"10,M,1980-01-15 00:00:00\n"+
			"11,F,1990-06-30 00:00:00\n")

	return dir
}

func TestRunEndToEnd(t *testing.T) {
	dir := newProject(t)

	res, err := Run(context.Background(), Options{ProjectPath: dir})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := res.Err(); err != nil {
		t.Fatalf("table errors: %v", err)
	}
	if len(res.Tables) != 1 {
		t.Fatalf("tables=%d", len(res.Tables))
	}
	if res.Tables[0].RowsIn != 2 || res.Tables[0].RowsOut != 2 {
		t.Fatalf("rows in/out = %d/%d", res.Tables[0].RowsIn, res.Tables[0].RowsOut)
	}

	out, err := csvparser.LoadFile(filepath.Join(dir, "data", "target", "person.csv"), csvparser.DefaultOptions())
	if err != nil {
		t.Fatalf("load output: %v", err)
	}
	wantCols := []string{"person_id", "gender_concept_id", "birth_date", "person_source_value"}
	if !reflect.DeepEqual(out.Columns(), wantCols) {
		t.Fatalf("columns=%v, want %v", out.Columns(), wantCols)
	}
	gc, _ := out.Column("gender_concept_id")
	if !reflect.DeepEqual(gc, []any{"8507", "8532"}) {
		t.Fatalf("gender_concept_id=%v", gc)
	}
	bd, _ := out.Column("birth_date")
	if !reflect.DeepEqual(bd, []any{"1980-01-15", "1990-06-30"}) {
		t.Fatalf("birth_date=%v", bd)
	}
}

func TestRunStrict(t *testing.T) {
	dir := newProject(t)

	res, err := Run(context.Background(), Options{ProjectPath: dir, Strict: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := res.Err(); err != nil {
		t.Fatalf("table errors: %v", err)
	}

	out, err := csvparser.LoadFile(filepath.Join(dir, "data", "target", "person.csv"), csvparser.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	ids, _ := out.Column("person_id")
	if !reflect.DeepEqual(ids, []any{"1", "2"}) {
		t.Fatalf("person_id=%v", ids)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	dir := newProject(t)

	res, err := Run(context.Background(), Options{ProjectPath: dir, DryRun: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := res.Err(); err != nil {
		t.Fatalf("table errors: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "data", "target", "person.csv")); !os.IsNotExist(err) {
		t.Fatalf("dry run wrote output: %v", err)
	}
}

func TestRunIsolatesFailingTables(t *testing.T) {
	dir := newProject(t)

	// Second mapping references a missing source table; the first must still
	// complete and load.
	writeFile(t, filepath.Join(dir, "config", "etl_config.yaml"), `
etl:
  source:
    type: csv
    directory: data/source
  target:
    type: csv
    directory: data/target
  mappings:
    - source_tables: patients
      target_table: person
      column_mappings: person_mappings
    - source_tables: ghosts
      target_table: specter
      column_mappings: person_mappings
`)

	res, err := Run(context.Background(), Options{ProjectPath: dir})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Err() == nil {
		t.Fatal("want batch error for failing table")
	}
	if res.Tables[0].Err != nil {
		t.Fatalf("first table failed: %v", res.Tables[0].Err)
	}
	if res.Tables[1].Err == nil {
		t.Fatal("second table should have failed")
	}
	if _, err := os.Stat(filepath.Join(dir, "data", "target", "person.csv")); err != nil {
		t.Fatalf("first table output missing: %v", err)
	}
}

func TestRunUnknownMappingSet(t *testing.T) {
	dir := newProject(t)
	writeFile(t, filepath.Join(dir, "config", "etl_config.yaml"), `
etl:
  source:
    type: csv
    directory: data/source
  target:
    type: csv
    directory: data/target
  mappings:
    - source_tables: patients
      target_table: person
      column_mappings: no_such_set
`)

	res, err := Run(context.Background(), Options{ProjectPath: dir})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Tables[0].Err == nil {
		t.Fatal("want error for unknown mapping set")
	}
}

func TestRunCombinesMultipleSources(t *testing.T) {
	dir := newProject(t)
	writeFile(t, filepath.Join(dir, "data", "source", "patients_extra.csv"),
		"subject_id,gender,dob\n12,M,1975-03-03 00:00:00\n")
	writeFile(t, filepath.Join(dir, "config", "etl_config.yaml"), `
etl:
  source:
    type: csv
    directory: data/source
  target:
    type: csv
    directory: data/target
  mappings:
    - source_tables: [patients, patients_extra]
      target_table: person
      column_mappings: person_mappings
`)

	res, err := Run(context.Background(), Options{ProjectPath: dir})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := res.Err(); err != nil {
		t.Fatalf("table errors: %v", err)
	}
	if res.Tables[0].RowsIn != 3 {
		t.Fatalf("rows_in=%d, want 3", res.Tables[0].RowsIn)
	}
}
