package mssql

import (
	"testing"

	"omopetl/internal/schema"
	"omopetl/internal/storage"
)

func TestBuildCreateSQLGuardsExistence(t *testing.T) {
	spec := storage.TableSpec{
		Name: "person",
		Columns: []storage.ColumnSpec{
			{Name: "person_id", Type: schema.TypeInteger, PrimaryKey: true},
			{Name: "active", Type: schema.TypeBoolean},
			{Name: "name", Type: schema.TypeString},
		},
	}
	got, err := buildCreateSQL(spec)
	if err != nil {
		t.Fatal(err)
	}
	want := `IF OBJECT_ID(N'person', N'U') IS NULL CREATE TABLE [person] ([person_id] BIGINT PRIMARY KEY, [active] BIT, [name] NVARCHAR(MAX));`
	if got != want {
		t.Fatalf("got  %s\nwant %s", got, want)
	}
}

func TestBuildInsertSQLPlaceholders(t *testing.T) {
	got := buildInsertSQL("person", []string{"a", "b"})
	want := `INSERT INTO [person] ([a], [b]) VALUES (@p1, @p2);`
	if got != want {
		t.Fatalf("got  %s\nwant %s", got, want)
	}
}

func TestMsIdentQuoting(t *testing.T) {
	if got := msIdent("we]ird"); got != "[we]]ird]" {
		t.Fatalf("got %s", got)
	}
}
