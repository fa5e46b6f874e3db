package lookup

import (
	"fmt"
	"strings"

	"omopetl/internal/table"
)

// Method is a grouped-aggregation method.
type Method string

const (
	First        Method = "first"
	Last         Method = "last"
	MostFrequent Method = "most_frequent"
)

// ParseMethod validates an aggregation method name.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.TrimSpace(s)) {
	case First:
		return First, nil
	case Last:
		return Last, nil
	case MostFrequent:
		return MostFrequent, nil
	default:
		return "", fmt.Errorf("lookup: unknown aggregation method %q", s)
	}
}

// Aggregate groups rows by groupBy and reduces each remaining column to one
// value per group.
//
// When orderBy is non-empty the whole table is sorted first (a global sort,
// not per-group) so "first" and "last" reflect the requested ordering. The
// result has one row per group, groups in first-occurrence order of the
// (possibly sorted) table, with the group-by columns first.
//
// most_frequent picks the modal value per column; ties break to the value
// first encountered in the group's row order.
func Aggregate(t *table.Table, groupBy []string, orderBy string, method Method) (*table.Table, error) {
	for _, c := range groupBy {
		if !t.HasColumn(c) {
			return nil, fmt.Errorf("lookup: group_by column %q not found", c)
		}
	}
	if orderBy != "" {
		if !t.HasColumn(orderBy) {
			return nil, fmt.Errorf("lookup: order_by column %q not found", orderBy)
		}
		t = t.SortBy(orderBy)
	}

	isGroupCol := make(map[string]bool, len(groupBy))
	for _, c := range groupBy {
		isGroupCol[c] = true
	}
	var valueCols []string
	for _, c := range t.Columns() {
		if !isGroupCol[c] {
			valueCols = append(valueCols, c)
		}
	}

	cols := append(append([]string(nil), groupBy...), valueCols...)
	out := table.New(cols...)

	for _, g := range t.GroupBy(groupBy) {
		row := make(table.Row, len(cols))
		for _, c := range groupBy {
			row[c] = g.Rows[0][c]
		}
		for _, c := range valueCols {
			switch method {
			case First:
				row[c] = g.Rows[0][c]
			case Last:
				row[c] = g.Rows[len(g.Rows)-1][c]
			case MostFrequent:
				row[c] = mostFrequent(g.Rows, c)
			default:
				return nil, fmt.Errorf("lookup: unknown aggregation method %q", method)
			}
		}
		out.Append(row)
	}
	return out, nil
}

func mostFrequent(rows []table.Row, col string) any {
	counts := make(map[string]int, len(rows))
	firstVal := make(map[string]any, len(rows))
	var order []string

	for _, r := range rows {
		v := r[col]
		if v == nil {
			continue
		}
		k := table.KeyString(v)
		if _, seen := counts[k]; !seen {
			firstVal[k] = v
			order = append(order, k)
		}
		counts[k]++
	}

	var best string
	bestCount := -1
	for _, k := range order {
		if counts[k] > bestCount {
			best, bestCount = k, counts[k]
		}
	}
	if bestCount < 0 {
		return nil
	}
	return firstVal[best]
}

// JoinLinked left-joins an aggregated linked table onto the base table on
// linkColumn, preserving base row order and count. The caller replaces its
// working base table with the result; the join is the one deliberate
// cross-step side effect of the transformation engine.
func JoinLinked(base *table.Table, linkColumn string, linked *table.Table) (*table.Table, error) {
	if !base.HasColumn(linkColumn) {
		return nil, fmt.Errorf("lookup: link_column %q not found in base table", linkColumn)
	}
	if !linked.HasColumn(linkColumn) {
		return nil, fmt.Errorf("lookup: link_column %q not found in linked table", linkColumn)
	}
	return table.LeftJoin(base, linked, linkColumn), nil
}
