// Package csvfile is the default load backend: one CSV file per target
// table under a configured directory.
package csvfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	csvparser "omopetl/internal/parser/csv"
	"omopetl/internal/storage"
	"omopetl/internal/table"
)

func init() {
	storage.Register("csv", New)
}

// Repo writes each table to <directory>/<table>.csv. A run overwrites the
// previous output for the same table.
type Repo struct {
	dir string
}

// New creates a CSV-backed repository rooted at cfg.Directory.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("csvfile: directory is required")
	}
	return &Repo{dir: cfg.Directory}, nil
}

// EnsureTable creates the output directory. CSV needs no per-table DDL.
func (r *Repo) EnsureTable(ctx context.Context, spec storage.TableSpec) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("csvfile: create %s: %w", r.dir, err)
	}
	return nil
}

// InsertRows writes the table to <directory>/<table>.csv, header included.
func (r *Repo) InsertRows(ctx context.Context, tableName string, columns []string, rows [][]any) (int64, error) {
	t := table.New(columns...)
	for _, tuple := range rows {
		row := make(table.Row, len(columns))
		for i, c := range columns {
			row[c] = tuple[i]
		}
		t.Append(row)
	}

	path := filepath.Join(r.dir, tableName+".csv")
	if err := csvparser.WriteFile(path, t); err != nil {
		return 0, fmt.Errorf("csvfile: write %s: %w", path, err)
	}
	return int64(len(rows)), nil
}

// Close is a no-op; files are closed per write.
func (r *Repo) Close() {}

// Path returns the output file for a table. Used by tests and dry-run logs.
func (r *Repo) Path(tableName string) string {
	return filepath.Join(r.dir, tableName+".csv")
}
