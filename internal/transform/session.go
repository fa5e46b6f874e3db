// Package transform executes mapping chains: ordered column specs that turn
// a combined source table into one target table, one declarative step at a
// time.
//
// A Session owns the working base table for one target-table run. Steps are
// pure over their inputs with two sanctioned exceptions: link replaces the
// base with a joined table, and filter drops rows from the base and from
// every column produced so far, keeping all output aligned.
package transform

import (
	"errors"
	"fmt"

	"omopetl/internal/config"
	"omopetl/internal/lookup"
	"omopetl/internal/schema"
	"omopetl/internal/table"
)

// Logger is the logging seam. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Session executes the column specs of one target table against one combined
// source table.
//
// When to use: one Session per (source extract, target table) pair. Sessions
// are not safe for concurrent use and are not reusable after Apply.
type Session struct {
	base     *table.Table
	resolver *lookup.Resolver
	source   schema.Schema
	target   schema.Schema
	table    string

	logger   Logger
	filtered bool
	produced []producedColumn
}

type producedColumn struct {
	name string
	vals []any
}

// NewSession prepares a run for targetTable. base is consumed: link and
// filter steps modify it in place. logger may be nil.
func NewSession(base *table.Table, resolver *lookup.Resolver, source, target schema.Schema, targetTable string, logger Logger) *Session {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Session{
		base:     base,
		resolver: resolver,
		source:   source,
		target:   target,
		table:    targetTable,
		logger:   logger,
	}
}

// Apply runs every column spec in order and assembles the target table.
//
// In strict mode produced columns are cast to their declared types and a
// declared-but-missing column (in the schema lookup or in the final table)
// is fatal; in casual mode values pass through uncast and schema drift is
// logged and tolerated. Columns are emitted in the target schema's declared
// order, with undeclared extras appended after.
//
// Errors: *ConfigError for malformed specs, *ColumnNotFoundError for absent
// source columns, *CastError (strict only), *RowMismatchError for unexplained
// row-count drift, *schema.MissingColumnError and *schema.ValidationError
// (strict only) for schema violations.
func (s *Session) Apply(specs []config.ColumnMapping, strict bool) (*table.Table, error) {
	for _, spec := range specs {
		if err := s.applyColumn(spec, strict); err != nil {
			return nil, fmt.Errorf("table %q column %q: %w", s.table, spec.TargetColumn, err)
		}
	}
	return s.assemble(strict)
}

func (s *Session) applyColumn(spec config.ColumnMapping, strict bool) error {
	if spec.TargetColumn == "" {
		return configErrorf("add_column is required")
	}
	if len(spec.Transformation) == 0 {
		return configErrorf("transformation is required")
	}

	cur, err := s.seed(spec.Transformation[0])
	if err != nil {
		return err
	}

	hadFilter := false
	for _, step := range spec.Transformation {
		fn, ok := stepFuncs[step.Type]
		if !ok {
			return configErrorf("unknown transformation type %q", step.Type)
		}
		s.logger.Printf("transform table=%s column=%s step=%s", s.table, spec.TargetColumn, step.Type)
		cur, err = fn(s, cur, spec.TargetColumn, step)
		if err != nil {
			return err
		}
		if step.Type == config.StepFilter {
			hadFilter = true
		}
	}

	vals, ok := resultColumn(cur, spec.TargetColumn)
	if !ok {
		if hadFilter {
			// A pure row-filter spec produces no column of its own.
			return nil
		}
		return configErrorf("chain did not produce a value for column %q", spec.TargetColumn)
	}

	if strict {
		typ, err := s.target.ColumnType(s.table, spec.TargetColumn)
		if err != nil {
			return err
		}
		vals, err = castColumn(vals, typ, spec.TargetColumn)
		if err != nil {
			return err
		}
	}

	s.produced = append(s.produced, producedColumn{name: spec.TargetColumn, vals: vals})
	return nil
}

// seed builds the initial working data from the first step's declared source
// columns. Steps without sources (default, generate_id over the base, link)
// start with no working data and read the base directly.
func (s *Session) seed(first config.Transformation) (*working, error) {
	if first.Type == config.StepLink {
		return nil, nil
	}
	srcs := first.SourceColumnList()
	if len(srcs) == 0 {
		return nil, nil
	}
	for _, c := range srcs {
		if !s.base.HasColumn(c) {
			return nil, &ColumnNotFoundError{Column: c}
		}
	}
	proj, err := s.base.Select(srcs...)
	if err != nil {
		return nil, err
	}
	return tblWorking(proj), nil
}

// resultColumn extracts the chain's final value: a named column directly, or
// the target column (else the sole column) of a table result.
func resultColumn(w *working, target string) ([]any, bool) {
	if w == nil {
		return nil, false
	}
	if w.col != nil {
		return w.col.vals, true
	}
	if vals, ok := w.tbl.Column(target); ok {
		return vals, true
	}
	if cols := w.tbl.Columns(); len(cols) == 1 {
		vals, _ := w.tbl.Column(cols[0])
		return vals, true
	}
	return nil, false
}

// maskRows drops rows where keep is false from the base table and from every
// column produced so far. len(keep) must equal the base row count.
func (s *Session) maskRows(keep []bool) {
	i := 0
	s.base = s.base.Filter(func(table.Row) bool {
		k := keep[i]
		i++
		return k
	})
	for pi, pc := range s.produced {
		out := pc.vals[:0:0]
		for vi, v := range pc.vals {
			if keep[vi] {
				out = append(out, v)
			}
		}
		s.produced[pi].vals = out
	}
	s.filtered = true
}

// Filtered reports whether any filter step dropped rows during Apply.
func (s *Session) Filtered() bool { return s.filtered }

func (s *Session) assemble(strict bool) (*table.Table, error) {
	n := s.base.Len()
	out := table.New()
	for _, pc := range s.produced {
		if len(pc.vals) != n {
			return nil, fmt.Errorf("table %q column %q: %w", s.table, pc.name,
				&RowMismatchError{Expected: n, Actual: len(pc.vals)})
		}
		if err := out.SetColumn(pc.name, pc.vals); err != nil {
			return nil, fmt.Errorf("table %q: %w", s.table, err)
		}
	}

	out = reorderToSchema(out, s.target, s.table)

	res := schema.ValidateColumns(out, s.target, s.table)
	if len(res.Extra) > 0 {
		s.logger.Printf("transform table=%s undeclared_columns=%v", s.table, res.Extra)
	}
	if !res.OK() {
		if strict {
			return nil, &schema.ValidationError{Table: s.table, Missing: res.Missing}
		}
		s.logger.Printf("transform table=%s missing_columns=%v", s.table, res.Missing)
	}
	return out, nil
}

// reorderToSchema emits declared columns in declaration order (those that
// were produced), then produced-but-undeclared columns in production order.
func reorderToSchema(t *table.Table, target schema.Schema, tableName string) *table.Table {
	declared := target.ExpectedColumns(tableName)
	if len(declared) == 0 {
		return t
	}
	inDeclared := make(map[string]bool, len(declared))
	var order []string
	for _, c := range declared {
		inDeclared[c] = true
		if t.HasColumn(c) {
			order = append(order, c)
		}
	}
	for _, c := range t.Columns() {
		if !inDeclared[c] {
			order = append(order, c)
		}
	}
	sel, err := t.Select(order...)
	if err != nil {
		return t
	}
	return sel
}

// IsFatal reports whether an error from Apply would also have been fatal in
// casual mode. Cast and schema-validation failures are strict-only; malformed
// specs and structural failures abort either way.
func IsFatal(err error) bool {
	var ce *CastError
	var ve *schema.ValidationError
	return !errors.As(err, &ce) && !errors.As(err, &ve)
}
