// Package table implements the in-memory tabular data model used by the
// transformation engine.
//
// A Table is an ordered sequence of rows with an explicit column order.
// Values are untyped (any) until the engine casts them against a target
// schema; missing/empty cells are nil.
//
// Row order is semantically meaningful ("first"/"last" aggregation, order_by
// semantics) and is preserved by every operation except SortBy and Filter.
package table

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Row maps column name to value. nil means null/missing.
type Row map[string]any

// Table holds named columns over ordered rows.
type Table struct {
	cols []string
	rows []Row
}

// New creates an empty table with the given column order.
func New(cols ...string) *Table {
	return &Table{cols: append([]string(nil), cols...)}
}

// FromRows builds a table from pre-built rows. The rows slice is retained,
// not copied; callers hand over ownership.
func FromRows(cols []string, rows []Row) *Table {
	return &Table{cols: append([]string(nil), cols...), rows: rows}
}

// FromColumns builds a table from parallel value slices.
//
// Edge cases:
//   - All columns must have equal length; mismatch is an error.
func FromColumns(cols []string, values map[string][]any) (*Table, error) {
	n := -1
	for _, c := range cols {
		vals, ok := values[c]
		if !ok {
			return nil, fmt.Errorf("table: no values for column %q", c)
		}
		if n == -1 {
			n = len(vals)
		} else if len(vals) != n {
			return nil, fmt.Errorf("table: column %q has %d values, want %d", c, len(vals), n)
		}
	}
	if n < 0 {
		n = 0
	}
	rows := make([]Row, n)
	for i := range rows {
		r := make(Row, len(cols))
		for _, c := range cols {
			r[c] = values[c][i]
		}
		rows[i] = r
	}
	return FromRows(cols, rows), nil
}

func (t *Table) Len() int { return len(t.rows) }

// Columns returns the column order. The returned slice is a copy.
func (t *Table) Columns() []string { return append([]string(nil), t.cols...) }

func (t *Table) HasColumn(name string) bool {
	for _, c := range t.cols {
		if c == name {
			return true
		}
	}
	return false
}

// Rows exposes the underlying row slice for iteration. Callers must not
// reorder it; use SortBy instead.
func (t *Table) Rows() []Row { return t.rows }

func (t *Table) Row(i int) Row { return t.rows[i] }

// Column returns the values of one column in row order.
func (t *Table) Column(name string) ([]any, bool) {
	if !t.HasColumn(name) {
		return nil, false
	}
	out := make([]any, len(t.rows))
	for i, r := range t.rows {
		out[i] = r[name]
	}
	return out, true
}

// SetColumn adds or replaces a column. New columns are appended to the column
// order; len(vals) must match the row count unless the table is empty of
// columns, in which case the rows are created.
func (t *Table) SetColumn(name string, vals []any) error {
	if len(t.cols) == 0 && len(t.rows) == 0 {
		t.rows = make([]Row, len(vals))
		for i := range t.rows {
			t.rows[i] = Row{}
		}
	}
	if len(vals) != len(t.rows) {
		return fmt.Errorf("table: column %q has %d values, table has %d rows", name, len(vals), len(t.rows))
	}
	if !t.HasColumn(name) {
		t.cols = append(t.cols, name)
	}
	for i, r := range t.rows {
		r[name] = vals[i]
	}
	return nil
}

// Append adds one row. Columns absent from the row read back as nil.
func (t *Table) Append(r Row) { t.rows = append(t.rows, r) }

// AppendTable appends all rows of other, extending the column order with any
// columns not yet present (row-wise concat of source extracts).
func (t *Table) AppendTable(other *Table) {
	for _, c := range other.cols {
		if !t.HasColumn(c) {
			t.cols = append(t.cols, c)
		}
	}
	t.rows = append(t.rows, other.rows...)
}

// Select returns a projection with the given columns, sharing row values.
func (t *Table) Select(cols ...string) (*Table, error) {
	for _, c := range cols {
		if !t.HasColumn(c) {
			return nil, fmt.Errorf("table: column %q not found", c)
		}
	}
	rows := make([]Row, len(t.rows))
	for i, r := range t.rows {
		nr := make(Row, len(cols))
		for _, c := range cols {
			nr[c] = r[c]
		}
		rows[i] = nr
	}
	return FromRows(cols, rows), nil
}

// Clone deep-copies the row maps (values themselves are shared).
func (t *Table) Clone() *Table {
	rows := make([]Row, len(t.rows))
	for i, r := range t.rows {
		nr := make(Row, len(r))
		for k, v := range r {
			nr[k] = v
		}
		rows[i] = nr
	}
	return FromRows(t.cols, rows)
}

// SortBy returns a new table sorted by the given keys (stable, ascending,
// nulls last). The receiver is unchanged.
func (t *Table) SortBy(keys ...string) *Table {
	rows := append([]Row(nil), t.rows...)
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			if c := Compare(rows[i][k], rows[j][k]); c != 0 {
				return c < 0
			}
		}
		return false
	})
	return FromRows(t.cols, rows)
}

// Filter returns a new table with the rows for which keep returns true,
// preserving their relative order.
func (t *Table) Filter(keep func(Row) bool) *Table {
	var rows []Row
	for _, r := range t.rows {
		if keep(r) {
			rows = append(rows, r)
		}
	}
	return FromRows(t.cols, rows)
}

// Group is one group-by bucket. Rows keep their table order.
type Group struct {
	Key  string
	Rows []Row
}

// GroupBy buckets rows by the composite key of the given columns. Groups are
// returned in first-occurrence order so that "first"/"last" semantics stay
// deterministic after a global sort.
func (t *Table) GroupBy(keys []string) []Group {
	index := map[string]int{}
	var groups []Group
	for _, r := range t.rows {
		k := CompositeKey(r, keys)
		if gi, ok := index[k]; ok {
			groups[gi].Rows = append(groups[gi].Rows, r)
			continue
		}
		index[k] = len(groups)
		groups = append(groups, Group{Key: k, Rows: []Row{r}})
	}
	return groups
}

// LeftJoin joins right onto left on the named column, preserving left's row
// order and count. Unmatched left rows get nil for right's columns. When the
// right table has duplicate keys the first occurrence wins; callers that need
// aggregate semantics must pre-aggregate right.
func LeftJoin(left, right *Table, on string) *Table {
	idx := make(map[string]Row, right.Len())
	for _, r := range right.rows {
		k := KeyString(r[on])
		if _, ok := idx[k]; !ok {
			idx[k] = r
		}
	}

	cols := left.Columns()
	var extra []string
	for _, c := range right.cols {
		if c != on && !left.HasColumn(c) {
			extra = append(extra, c)
		}
	}
	cols = append(cols, extra...)

	rows := make([]Row, left.Len())
	for i, lr := range left.rows {
		nr := make(Row, len(cols))
		for _, c := range left.cols {
			nr[c] = lr[c]
		}
		match := idx[KeyString(lr[on])]
		for _, c := range extra {
			if match != nil {
				nr[c] = match[c]
			} else {
				nr[c] = nil
			}
		}
		rows[i] = nr
	}
	return FromRows(cols, rows)
}

// Compare orders two cell values: nil sorts last, numbers numerically when
// both sides are numeric, everything else by canonical string.
func Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	if af, aok := AsFloat(a); aok {
		if bf, bok := AsFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(KeyString(a), KeyString(b))
}

// AsFloat reports the numeric value of a cell, accepting native numbers and
// numeric strings.
func AsFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// KeyString converts a cell value to a canonical string form suitable for
// join/group keys. Integral floats render without a decimal point so that
// int64(5) and float64(5) key identically.
func KeyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return formatFloatKey(float64(t))
	case float64:
		return formatFloatKey(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case []byte:
		return strings.TrimSpace(string(t))
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func formatFloatKey(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// CompositeKey builds a group key from multiple columns. The unit separator
// keeps ("a","b c") distinct from ("a b","c").
func CompositeKey(r Row, keys []string) string {
	if len(keys) == 1 {
		return KeyString(r[keys[0]])
	}
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(KeyString(r[k]))
	}
	return b.String()
}
