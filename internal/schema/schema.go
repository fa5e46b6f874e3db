// Package schema defines source/target schema declarations and the column
// validation used before and after transformation.
//
// Schemas are declared in YAML:
//
//	person:
//	  table_name: person
//	  columns:
//	    person_id: {type: integer, primary_key: true}
//	    birth_datetime: {type: date}
//
// Column declaration order is significant: the transformed output table is
// reindexed to it. yaml.v3 map decoding loses order, so ColumnSet decodes the
// mapping node directly.
package schema

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"omopetl/internal/table"
)

// Type is a declared column type.
type Type string

const (
	TypeUnknown  Type = ""
	TypeString   Type = "string"
	TypeInteger  Type = "integer"
	TypeFloat    Type = "float"
	TypeBoolean  Type = "boolean"
	TypeDate     Type = "date"
	TypeDateTime Type = "datetime"
)

// ParseType normalizes a declared type string. Unknown types are an error so
// that schema typos surface at load time, not cast time.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypeString:
		return TypeString, nil
	case TypeInteger:
		return TypeInteger, nil
	case TypeFloat:
		return TypeFloat, nil
	case TypeBoolean:
		return TypeBoolean, nil
	case TypeDate:
		return TypeDate, nil
	case TypeDateTime:
		return TypeDateTime, nil
	default:
		return TypeUnknown, fmt.Errorf("schema: unsupported type %q", s)
	}
}

// Column is one declared column.
type Column struct {
	Type       Type
	PrimaryKey bool
}

type rawColumn struct {
	Type       string `yaml:"type"`
	PrimaryKey bool   `yaml:"primary_key"`
}

// ColumnSet is an order-preserving set of column declarations.
type ColumnSet struct {
	order  []string
	byName map[string]Column
}

// UnmarshalYAML decodes a YAML mapping node pairwise so declaration order
// survives.
func (cs *ColumnSet) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("schema: columns must be a mapping, got %v", node.Kind)
	}
	cs.byName = make(map[string]Column, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var rc rawColumn
		if err := node.Content[i+1].Decode(&rc); err != nil {
			return fmt.Errorf("schema: column %q: %w", name, err)
		}
		typ, err := ParseType(rc.Type)
		if err != nil {
			return fmt.Errorf("schema: column %q: %w", name, err)
		}
		if _, dup := cs.byName[name]; dup {
			return fmt.Errorf("schema: duplicate column %q", name)
		}
		cs.order = append(cs.order, name)
		cs.byName[name] = Column{Type: typ, PrimaryKey: rc.PrimaryKey}
	}
	return nil
}

// Names returns column names in declaration order.
func (cs ColumnSet) Names() []string { return append([]string(nil), cs.order...) }

func (cs ColumnSet) Get(name string) (Column, bool) {
	c, ok := cs.byName[name]
	return c, ok
}

func (cs ColumnSet) Len() int { return len(cs.order) }

// Table is one table declaration.
type Table struct {
	TableName string    `yaml:"table_name"`
	Columns   ColumnSet `yaml:"columns"`
}

// Schema maps table name to its declaration. A table name appears at most
// once (YAML mapping keys are unique).
type Schema map[string]Table

// Load reads a schema YAML file.
func Load(path string) (Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes schema YAML.
func Parse(raw []byte) (Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("schema: parse: %w", err)
	}
	return s, nil
}

// MissingColumnError reports a column with no declared type.
type MissingColumnError struct {
	Table  string
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("schema: no type declared for column %q in table %q", e.Column, e.Table)
}

// ColumnType returns the declared type for a column, or MissingColumnError.
// Relaxed callers should use ColumnTypeOK and skip casting instead.
func (s Schema) ColumnType(tableName, columnName string) (Type, error) {
	t, ok := s.ColumnTypeOK(tableName, columnName)
	if !ok {
		return TypeUnknown, &MissingColumnError{Table: tableName, Column: columnName}
	}
	return t, nil
}

// ColumnTypeOK is the relaxed-mode variant: ok is false when the table or
// column is undeclared.
func (s Schema) ColumnTypeOK(tableName, columnName string) (Type, bool) {
	tbl, ok := s[tableName]
	if !ok {
		return TypeUnknown, false
	}
	c, ok := tbl.Columns.Get(columnName)
	if !ok {
		return TypeUnknown, false
	}
	return c.Type, true
}

// ExpectedColumns returns the declared columns of a table in declaration
// order, or nil when the table is undeclared.
func (s Schema) ExpectedColumns(tableName string) []string {
	tbl, ok := s[tableName]
	if !ok {
		return nil
	}
	return tbl.Columns.Names()
}

// ValidationError reports declared columns absent from a table after
// transformation (or extraction).
type ValidationError struct {
	Table   string
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema: table %q is missing columns %v", e.Table, e.Missing)
}

// ValidationResult lists the differences between a table and its declaration.
type ValidationResult struct {
	Missing []string // declared but absent: fatal in strict mode
	Extra   []string // present but undeclared: warning only
}

func (r ValidationResult) OK() bool { return len(r.Missing) == 0 }

// ValidateColumns compares a table's columns against the declaration.
// Missing columns are an error for strict callers; extra columns are never
// more than a warning. An undeclared table validates clean (nothing to
// compare against).
func ValidateColumns(t *table.Table, s Schema, tableName string) ValidationResult {
	decl, ok := s[tableName]
	if !ok {
		return ValidationResult{}
	}
	var res ValidationResult
	for _, c := range decl.Columns.Names() {
		if !t.HasColumn(c) {
			res.Missing = append(res.Missing, c)
		}
	}
	declared := decl.Columns
	for _, c := range t.Columns() {
		if _, ok := declared.Get(c); !ok {
			res.Extra = append(res.Extra, c)
		}
	}
	return res
}
