// Package probe bootstraps schema declarations by sampling source CSVs: it
// reads a bounded prefix of each table, infers a coarse type per column, and
// renders a schema YAML ready to drop into config/source_schema.yaml.
package probe

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	csvparser "omopetl/internal/parser/csv"
	"omopetl/internal/schema"
	"omopetl/internal/table"
)

// Options controls probing.
type Options struct {
	// SampleRows bounds how many rows per table are examined.
	// If <= 0, defaults to 200.
	SampleRows int

	// ReadOpts configures CSV parsing (delimiter, encoding).
	ReadOpts csvparser.Options
}

// ColumnProfile is one inferred column.
type ColumnProfile struct {
	Name       string
	Type       schema.Type
	PrimaryKey bool
}

// TableProfile is one inferred table.
type TableProfile struct {
	Name    string
	Columns []ColumnProfile
}

// ProfileDir probes every *.csv file in dir, in name order.
func ProfileDir(dir string, opt Options) ([]TableProfile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("probe: read %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("probe: no CSV files in %s", dir)
	}

	profiles := make([]TableProfile, 0, len(names))
	for _, name := range names {
		t, err := csvparser.LoadFile(filepath.Join(dir, name), opt.ReadOpts)
		if err != nil {
			return nil, fmt.Errorf("probe: %s: %w", name, err)
		}
		profiles = append(profiles, ProfileTable(t, strings.TrimSuffix(name, ".csv"), opt.SampleRows))
	}
	return profiles, nil
}

// ProfileTable infers a type per column from up to sampleRows rows.
func ProfileTable(t *table.Table, name string, sampleRows int) TableProfile {
	if sampleRows <= 0 {
		sampleRows = 200
	}
	n := t.Len()
	if n > sampleRows {
		n = sampleRows
	}

	p := TableProfile{Name: name}
	for _, col := range t.Columns() {
		vals, _ := t.Column(col)
		p.Columns = append(p.Columns, ColumnProfile{
			Name: col,
			Type: inferType(vals[:n]),
		})
	}

	// Primary key heuristic: the first *_id column whose sampled values are
	// all present and distinct.
	for i := range p.Columns {
		if !strings.HasSuffix(p.Columns[i].Name, "_id") {
			continue
		}
		vals, _ := t.Column(p.Columns[i].Name)
		if uniqueNonEmpty(vals[:n]) {
			p.Columns[i].PrimaryKey = true
			break
		}
	}
	return p
}

func uniqueNonEmpty(vals []any) bool {
	if len(vals) == 0 {
		return false
	}
	seen := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		if v == nil {
			return false
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s == "" {
			return false
		}
		if _, dup := seen[s]; dup {
			return false
		}
		seen[s] = struct{}{}
	}
	return true
}

// inferType picks the most specific type every non-empty sample value
// satisfies. Empty columns stay string.
func inferType(vals []any) schema.Type {
	var seen bool
	allInt := true
	allFloat := true
	allBool := true
	allDate := true
	allDateTime := true

	for _, v := range vals {
		if v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s == "" {
			continue
		}
		seen = true

		if allInt {
			if _, err := strconv.ParseInt(s, 10, 64); err != nil {
				allInt = false
			}
		}
		if allFloat {
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				allFloat = false
			}
		}
		if allBool {
			if !parseBoolLoose(s) {
				allBool = false
			}
		}
		if allDate {
			if !parseLayouts(s, dateLayouts) {
				allDate = false
			}
		}
		if allDateTime {
			if !parseLayouts(s, dateTimeLayouts) {
				allDateTime = false
			}
		}
	}

	if !seen {
		return schema.TypeString
	}
	switch {
	case allInt:
		return schema.TypeInteger
	case allBool:
		return schema.TypeBoolean
	case allDate:
		return schema.TypeDate
	case allDateTime:
		return schema.TypeDateTime
	case allFloat:
		return schema.TypeFloat
	default:
		return schema.TypeString
	}
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
}

var dateTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04",
}

func parseLayouts(s string, layouts []string) bool {
	for _, l := range layouts {
		if _, err := time.Parse(l, s); err == nil {
			return true
		}
	}
	return false
}

func parseBoolLoose(s string) bool {
	switch strings.ToLower(s) {
	case "true", "false", "t", "f", "yes", "no":
		return true
	}
	return false
}

// RenderSchemaYAML renders profiles as schema YAML, columns in source
// order. The output parses with schema.Parse.
func RenderSchemaYAML(profiles []TableProfile) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, p := range profiles {
		cols := &yaml.Node{Kind: yaml.MappingNode}
		for _, c := range p.Columns {
			decl := &yaml.Node{
				Kind:    yaml.MappingNode,
				Style:   yaml.FlowStyle,
				Content: []*yaml.Node{scalarNode("type"), scalarNode(string(c.Type))},
			}
			if c.PrimaryKey {
				decl.Content = append(decl.Content, scalarNode("primary_key"), boolNode(true))
			}
			cols.Content = append(cols.Content, scalarNode(c.Name), decl)
		}
		root.Content = append(root.Content,
			scalarNode(p.Name),
			&yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
				scalarNode("table_name"), scalarNode(p.Name),
				scalarNode("columns"), cols,
			}},
		)
	}

	out, err := yaml.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("probe: render schema: %w", err)
	}
	return out, nil
}

// WriteSchemaFile probes dir and writes the rendered schema to path.
func WriteSchemaFile(dir, path string, opt Options) error {
	profiles, err := ProfileDir(dir, opt)
	if err != nil {
		return err
	}
	raw, err := RenderSchemaYAML(profiles)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("probe: write %s: %w", path, err)
	}
	return nil
}

func scalarNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: s}
}

func boolNode(b bool) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(b)}
}
