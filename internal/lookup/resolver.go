// Package lookup resolves auxiliary tables (vocabularies and linked tables)
// and implements the grouped aggregation used by link/aggregate steps.
//
// A Resolver is session-scoped: loaded tables are cached per resolver keyed
// by table name, so a vocabulary referenced by many columns is read once per
// mapping invocation. The cache is never shared across sessions or persisted.
package lookup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	csvparser "omopetl/internal/parser/csv"
	"omopetl/internal/table"
)

// SearchRoots is the priority order for locating linked tables under
// <project>/data: source data first, then lookups, then already-produced
// target data.
var SearchRoots = []string{"source", "lookups", "target"}

// TableNotFoundError reports a named table absent from every search root.
type TableNotFoundError struct {
	Name     string
	Searched []string
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("lookup: table %q not found in %s", e.Name, strings.Join(e.Searched, ", "))
}

// Resolver loads and caches auxiliary tables for one transformer session.
type Resolver struct {
	projectPath string
	readOpts    csvparser.Options
	cache       map[string]*table.Table
}

// NewResolver creates a resolver rooted at the project directory.
func NewResolver(projectPath string, readOpts csvparser.Options) *Resolver {
	return &Resolver{
		projectPath: projectPath,
		readOpts:    readOpts,
		cache:       make(map[string]*table.Table),
	}
}

// LoadLookup loads a vocabulary table from data/lookups.
func (r *Resolver) LoadLookup(name string) (*table.Table, error) {
	if t, ok := r.cache[name]; ok {
		return t, nil
	}
	path := filepath.Join(r.projectPath, "data", "lookups", name+".csv")
	if _, err := os.Stat(path); err != nil {
		return nil, &TableNotFoundError{Name: name, Searched: []string{filepath.Dir(path)}}
	}
	t, err := csvparser.LoadFile(path, r.readOpts)
	if err != nil {
		return nil, err
	}
	r.cache[name] = t
	return t, nil
}

// LoadLinked loads a linked table, trying each search root in priority
// order. delimiter overrides the session default when non-zero. The cache is
// keyed by name only; the first load's delimiter wins for the session.
func (r *Resolver) LoadLinked(name string, delimiter rune) (*table.Table, error) {
	if t, ok := r.cache[name]; ok {
		return t, nil
	}

	var searched []string
	for _, root := range SearchRoots {
		path := filepath.Join(r.projectPath, "data", root, name+".csv")
		if _, err := os.Stat(path); err != nil {
			searched = append(searched, filepath.Dir(path))
			continue
		}
		opts := r.readOpts
		if delimiter != 0 {
			opts.Comma = delimiter
		}
		t, err := csvparser.LoadFile(path, opts)
		if err != nil {
			return nil, err
		}
		r.cache[name] = t
		return t, nil
	}
	return nil, &TableNotFoundError{Name: name, Searched: searched}
}

// CacheSize reports how many tables the session has loaded so far.
func (r *Resolver) CacheSize() int { return len(r.cache) }
