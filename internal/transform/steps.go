package transform

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/ncruces/go-strftime"

	"omopetl/internal/config"
	"omopetl/internal/expr"
	"omopetl/internal/lookup"
	"omopetl/internal/schema"
	"omopetl/internal/table"
)

// working is the data flowing through a chain: either a multi-column table
// projection or a single named column. The name of a single-column result is
// the column it was derived from, so a later step in the chain can still
// reference it by that name.
type working struct {
	tbl *table.Table
	col *namedColumn
}

type namedColumn struct {
	name string
	vals []any
}

func colWorking(name string, vals []any) *working {
	return &working{col: &namedColumn{name: name, vals: vals}}
}

func tblWorking(t *table.Table) *working { return &working{tbl: t} }

func (w *working) length() int {
	if w == nil {
		return 0
	}
	if w.col != nil {
		return len(w.col.vals)
	}
	return w.tbl.Len()
}

// column resolves a source column from the working data.
func (w *working) column(name string) ([]any, bool) {
	if w == nil {
		return nil, false
	}
	if w.col != nil {
		if w.col.name == name {
			return w.col.vals, true
		}
		return nil, false
	}
	return w.tbl.Column(name)
}

// asTable views the working data as a table (a single column becomes a
// one-column table) for steps that operate row-wise over multiple columns.
func (w *working) asTable() *table.Table {
	if w == nil {
		return nil
	}
	if w.col != nil {
		t := table.New(w.col.name)
		for _, v := range w.col.vals {
			t.Append(table.Row{w.col.name: v})
		}
		return t
	}
	return w.tbl
}

// stepFunc executes one transformation kind against the current working
// data and returns the next working data.
type stepFunc func(s *Session, cur *working, target string, t config.Transformation) (*working, error)

// stepFuncs is the dispatch table. Unknown step types never reach it: the
// session rejects them with a ConfigError first.
var stepFuncs = map[config.StepType]stepFunc{
	config.StepCopy:           stepCopy,
	config.StepMap:            stepMap,
	config.StepLookup:         stepLookup,
	config.StepLink:           stepLink,
	config.StepAggregate:      stepAggregate,
	config.StepNormalizeDate:  stepNormalizeDate,
	config.StepConcatenate:    stepConcatenate,
	config.StepDefault:        stepDefault,
	config.StepConditionalMap: stepConditionalMap,
	config.StepFilter:         stepFilter,
	config.StepDerive:         stepDerive,
	config.StepGenerateID:     stepGenerateID,
}

func sourceValues(cur *working, source string) ([]any, error) {
	if source == "" {
		return nil, configErrorf("source_column is required")
	}
	vals, ok := cur.column(source)
	if !ok {
		return nil, &ColumnNotFoundError{Column: source}
	}
	return vals, nil
}

func stepCopy(s *Session, cur *working, target string, t config.Transformation) (*working, error) {
	vals, err := sourceValues(cur, t.SourceColumn)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(vals))
	copy(out, vals)
	return colWorking(t.SourceColumn, out), nil
}

func stepMap(s *Session, cur *working, target string, t config.Transformation) (*working, error) {
	if t.Values == nil {
		return nil, configErrorf("map: values is required")
	}
	vals, err := sourceValues(cur, t.SourceColumn)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(vals))
	for i, v := range vals {
		if v == nil {
			out[i] = nil
			continue
		}
		if mapped, ok := t.Values[table.KeyString(v)]; ok {
			out[i] = mapped
		} else {
			out[i] = nil
		}
	}
	return colWorking(t.SourceColumn, out), nil
}

func stepLookup(s *Session, cur *working, target string, t config.Transformation) (*working, error) {
	if t.Vocabulary == "" {
		return nil, configErrorf("lookup: vocabulary is required")
	}
	if t.SourceLookupColumn == "" || t.TargetLookupColumn == "" {
		return nil, configErrorf("lookup: source_lookup_column and target_lookup_column are required")
	}
	vals, err := sourceValues(cur, t.SourceColumn)
	if err != nil {
		return nil, err
	}

	vocab, err := s.resolver.LoadLookup(t.Vocabulary)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, c := range []string{t.SourceLookupColumn, t.TargetLookupColumn} {
		if !vocab.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &schema.ValidationError{Table: t.Vocabulary, Missing: missing}
	}

	// Last-wins on duplicate keys, matching plain dict construction.
	dict := make(map[string]any, vocab.Len())
	for _, r := range vocab.Rows() {
		dict[table.KeyString(r[t.SourceLookupColumn])] = r[t.TargetLookupColumn]
	}

	out := make([]any, len(vals))
	for i, v := range vals {
		mapped, ok := dict[table.KeyString(v)]
		if ok && v != nil {
			out[i] = mapped
		} else if t.DefaultValue != nil {
			out[i] = t.DefaultValue
		} else {
			out[i] = nil
		}
	}
	return colWorking(t.SourceColumn, out), nil
}

func stepLink(s *Session, cur *working, target string, t config.Transformation) (*working, error) {
	if t.LinkedTable == "" {
		return nil, configErrorf("link: linked_table is required")
	}
	if t.LinkColumn == "" {
		return nil, configErrorf("link: link_column is required")
	}
	if t.SourceColumn == "" {
		return nil, configErrorf("link: source_column is required")
	}

	var delim rune
	if t.Delimiter != "" {
		delim = []rune(t.Delimiter)[0]
	}
	linked, err := s.resolver.LoadLinked(t.LinkedTable, delim)
	if err != nil {
		return nil, err
	}
	if !linked.HasColumn(t.SourceColumn) {
		return nil, &ColumnNotFoundError{Column: t.SourceColumn}
	}

	if !t.Aggregation.IsZero() {
		method, err := lookup.ParseMethod(t.Aggregation.Method)
		if err != nil {
			return nil, configErrorf("link: %v", err)
		}
		linked, err = lookup.Aggregate(linked, []string{t.LinkColumn}, t.OrderBy, method)
		if err != nil {
			return nil, err
		}
	} else {
		linked, err = linked.Select(t.LinkColumn, t.SourceColumn)
		if err != nil {
			return nil, &ColumnNotFoundError{Column: t.LinkColumn}
		}
	}

	joined, err := lookup.JoinLinked(s.base, t.LinkColumn, linked)
	if err != nil {
		return nil, err
	}
	// The join becomes the new base table: later steps and later column
	// specs observe the linked columns.
	s.base = joined

	vals, ok := joined.Column(t.SourceColumn)
	if !ok {
		return nil, &ColumnNotFoundError{Column: t.SourceColumn}
	}
	return colWorking(t.SourceColumn, vals), nil
}

func stepAggregate(s *Session, cur *working, target string, t config.Transformation) (*working, error) {
	if len(t.SourceColumns) == 0 {
		return nil, configErrorf("aggregate: source_columns is required for column %q", target)
	}
	if len(t.GroupBy) == 0 {
		return nil, configErrorf("aggregate: group_by is required for column %q", target)
	}

	wt := cur.asTable()
	if wt == nil {
		return nil, configErrorf("aggregate: no working data for column %q", target)
	}
	for _, c := range t.SourceColumns {
		if !wt.HasColumn(c) {
			return nil, &ColumnNotFoundError{Column: c}
		}
	}

	method := lookup.First
	if !t.Aggregation.IsZero() {
		var err error
		method, err = lookup.ParseMethod(t.Aggregation.Method)
		if err != nil {
			return nil, configErrorf("aggregate: %v", err)
		}
	}

	agg, err := lookup.Aggregate(wt, t.GroupBy, t.OrderBy, method)
	if err != nil {
		return nil, err
	}
	if !agg.HasColumn(target) {
		return nil, &ColumnNotFoundError{Column: target}
	}

	// Broadcast the per-group value back onto every row of the group,
	// preserving the working table's original row order.
	byGroup := make(map[string]any, agg.Len())
	for _, r := range agg.Rows() {
		byGroup[table.CompositeKey(r, t.GroupBy)] = r[target]
	}
	out := make([]any, wt.Len())
	for i, r := range wt.Rows() {
		out[i] = byGroup[table.CompositeKey(r, t.GroupBy)]
	}
	return colWorking(target, out), nil
}

func stepNormalizeDate(s *Session, cur *working, target string, t config.Transformation) (*working, error) {
	vals, err := sourceValues(cur, t.SourceColumn)
	if err != nil {
		return nil, err
	}
	format := t.Format
	if format == "" {
		format = "%Y-%m-%d"
	}
	out := make([]any, len(vals))
	for i, v := range vals {
		ts, ok := parseTemporal(v)
		if !ok {
			out[i] = nil
			continue
		}
		out[i] = strftime.Format(format, ts)
	}
	return colWorking(t.SourceColumn, out), nil
}

func stepConcatenate(s *Session, cur *working, target string, t config.Transformation) (*working, error) {
	if len(t.SourceColumns) == 0 {
		return nil, configErrorf("concatenate: source_columns is required")
	}
	sep := t.Separator
	if sep == "" {
		sep = "-"
	}

	cols := make([][]any, len(t.SourceColumns))
	for i, c := range t.SourceColumns {
		vals, ok := cur.column(c)
		if !ok {
			return nil, &ColumnNotFoundError{Column: c}
		}
		cols[i] = vals
	}

	n := cur.length()
	out := make([]any, n)
	for i := 0; i < n; i++ {
		parts := make([]string, len(cols))
		for j := range cols {
			parts[j] = valueString(cols[j][i])
		}
		out[i] = joinStrings(parts, sep)
	}
	return colWorking(target, out), nil
}

func stepDefault(s *Session, cur *working, target string, t config.Transformation) (*working, error) {
	n := s.base.Len()
	out := make([]any, n)
	for i := range out {
		out[i] = t.Value
	}
	return colWorking(target, out), nil
}

func stepConditionalMap(s *Session, cur *working, target string, t config.Transformation) (*working, error) {
	if len(t.Conditions) == 0 {
		return nil, configErrorf("conditional_map: conditions is required")
	}

	wt := cur.asTable()
	if wt == nil {
		// No source projection: conditions range over the whole base table.
		wt = s.base
	}

	out := make([]any, wt.Len())
	for i := range out {
		out[i] = t.Default
	}

	// Conditions apply in order; a later match overwrites an earlier one.
	for _, cond := range t.Conditions {
		e, err := expr.Parse(cond.Condition)
		if err != nil {
			return nil, err
		}
		for i, row := range wt.Rows() {
			match, err := e.EvalBool(rowLookup(row))
			if err != nil {
				return nil, err
			}
			if match {
				out[i] = cond.Value
			}
		}
	}
	return colWorking(target, out), nil
}

func stepFilter(s *Session, cur *working, target string, t config.Transformation) (*working, error) {
	if t.Condition == "" {
		return nil, configErrorf("filter: condition is required")
	}
	wt := cur.asTable()
	if wt == nil {
		wt = s.base
	}

	e, err := expr.Parse(t.Condition)
	if err != nil {
		return nil, err
	}

	keep := make([]bool, wt.Len())
	for i, r := range wt.Rows() {
		match, err := e.EvalBool(rowLookup(r))
		if err != nil {
			return nil, err
		}
		keep[i] = match
	}

	// Dropping rows must not desynchronize columns already produced, so the
	// mask applies to the base table and to prior output as well.
	s.maskRows(keep)

	i := 0
	filtered := wt.Filter(func(table.Row) bool {
		k := keep[i]
		i++
		return k
	})
	return tblWorking(filtered), nil
}

func stepDerive(s *Session, cur *working, target string, t config.Transformation) (*working, error) {
	if t.Formula == "" {
		return nil, configErrorf("derive: formula is required")
	}
	wt := cur.asTable()
	if wt == nil {
		return nil, configErrorf("derive: no working data for column %q", target)
	}

	e, err := expr.Parse(t.Formula)
	if err != nil {
		return nil, err
	}

	out := make([]any, wt.Len())
	for i, row := range wt.Rows() {
		v, err := e.Eval(rowLookup(row))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}

	// A single-column input keeps its name so chained derives can keep
	// referring to it; otherwise the result takes the target's name.
	name := target
	if cols := wt.Columns(); len(cols) == 1 {
		name = cols[0]
	}
	return colWorking(name, out), nil
}

func stepGenerateID(s *Session, cur *working, target string, t config.Transformation) (*working, error) {
	data := cur
	if data == nil {
		data = tblWorking(s.base)
	}
	n := data.length()

	method := t.Method
	if method == "" {
		method = "uuid"
	}

	switch method {
	case "uuid":
		out := make([]any, n)
		for i := range out {
			out[i] = uuid.NewString()
		}
		return colWorking(target, out), nil

	case "incremental":
		out := make([]any, n)
		for i := range out {
			out[i] = int64(i + 1)
		}
		return colWorking(target, out), nil

	case "hash":
		if t.SourceColumn == "" {
			return nil, configErrorf("generate_id: source_column is required for method hash")
		}
		vals, ok := data.column(t.SourceColumn)
		if !ok {
			return nil, &ColumnNotFoundError{Column: t.SourceColumn}
		}
		out := make([]any, n)
		for i, v := range vals {
			sum := sha256.Sum256([]byte(valueString(v)))
			out[i] = hex.EncodeToString(sum[:])
		}
		return colWorking(target, out), nil

	default:
		return nil, configErrorf("generate_id: unsupported method %q", method)
	}
}

func rowLookup(r table.Row) expr.Lookup {
	return func(name string) (any, bool) {
		v, ok := r[name]
		return v, ok
	}
}

func joinStrings(parts []string, sep string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	n := len(sep) * (len(parts) - 1)
	for _, p := range parts {
		n += len(p)
	}
	b := make([]byte, 0, n)
	b = append(b, parts[0]...)
	for _, p := range parts[1:] {
		b = append(b, sep...)
		b = append(b, p...)
	}
	return string(b)
}
