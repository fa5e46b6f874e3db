// Package storage selects and constructs load backends. Backend packages
// register themselves by kind from init(), mirroring database/sql driver
// registration, so importing a backend is all it takes to make its kind
// available to the pipeline.
package storage

import (
	"context"
	"fmt"
	"sync"

	"omopetl/internal/schema"
	"omopetl/internal/table"
)

// Config is the minimal configuration needed to create a repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN and Directory are passed through to the backend factory;
//     validation is backend-specific (csv uses Directory, databases use DSN).
type Config struct {
	Kind      string
	DSN       string
	Directory string
}

// ColumnSpec is one column of a target table, carried into DDL generation.
type ColumnSpec struct {
	Name       string
	Type       schema.Type
	PrimaryKey bool
}

// TableSpec describes a target table for EnsureTable.
type TableSpec struct {
	Name    string
	Columns []ColumnSpec
}

// Repository is a backend-agnostic load target.
//
// IMPORTANT: the interface is intentionally minimal and focused on what the
// pipeline needs: create-if-missing and bulk append. Each backend implements
// these semantics in its own idiomatic way (Postgres DDL, SQLite DDL, a CSV
// file per table).
type Repository interface {
	// EnsureTable creates the table if it does not exist. Idempotent.
	// Backends without DDL (csv) use it to prepare the output location.
	EnsureTable(ctx context.Context, spec TableSpec) error

	// InsertRows appends rows to table. columns and every row must have the
	// same length. Returns the number of rows written.
	InsertRows(ctx context.Context, tableName string, columns []string, rows [][]any) (int64, error)

	// Close releases backend resources. Call once at shutdown.
	Close()
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "csv").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. Failing fast avoids ambiguous backend
//     selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - If cfg.Kind is empty or not registered.
//   - Whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing config.Kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds. Test helper and CLI help text.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}

// SpecFor builds a TableSpec from the target schema declaration. Tables
// absent from the schema get a spec with no columns; backends then derive
// columns from the data itself.
func SpecFor(s schema.Schema, tableName string) TableSpec {
	spec := TableSpec{Name: tableName}
	decl, ok := s[tableName]
	if !ok {
		return spec
	}
	for _, name := range decl.Columns.Names() {
		c, _ := decl.Columns.Get(name)
		spec.Columns = append(spec.Columns, ColumnSpec{
			Name:       name,
			Type:       c.Type,
			PrimaryKey: c.PrimaryKey,
		})
	}
	return spec
}

// Flatten converts a table into the column list and row tuples InsertRows
// expects.
func Flatten(t *table.Table) (columns []string, rows [][]any) {
	columns = t.Columns()
	rows = make([][]any, 0, t.Len())
	for _, r := range t.Rows() {
		tuple := make([]any, len(columns))
		for i, c := range columns {
			tuple[i] = r[c]
		}
		rows = append(rows, tuple)
	}
	return columns, rows
}
