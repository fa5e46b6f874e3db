// Package config defines the YAML configuration surface of the ETL: the
// etl_config.yaml driver file and the mappings.yaml transformation language.
//
// The mapping language is permissive in shape: a column's transformation may
// be a single step or a chain, group_by may be a scalar or a list, and
// aggregation may be a bare method name or a {method: ...} mapping. Several
// small types implement yaml.Unmarshaler to fold those shapes into one
// canonical form.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StepType identifies a transformation kind. The executor dispatches on it
// through a fixed table; unknown kinds are a configuration error.
type StepType string

const (
	StepCopy           StepType = "copy"
	StepMap            StepType = "map"
	StepLookup         StepType = "lookup"
	StepLink           StepType = "link"
	StepAggregate      StepType = "aggregate"
	StepNormalizeDate  StepType = "normalize_date"
	StepConcatenate    StepType = "concatenate"
	StepDefault        StepType = "default"
	StepConditionalMap StepType = "conditional_map"
	StepFilter         StepType = "filter"
	StepDerive         StepType = "derive"
	StepGenerateID     StepType = "generate_id"
)

// StringList accepts either a YAML scalar or a sequence of scalars.
type StringList []string

func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	case yaml.SequenceNode:
		var ss []string
		if err := node.Decode(&ss); err != nil {
			return err
		}
		*l = ss
		return nil
	default:
		return fmt.Errorf("config: expected string or list of strings")
	}
}

// Aggregation accepts either a bare method name ("first") or a mapping
// ({method: first}); the `aggregate` step uses the former, `link` the latter.
type Aggregation struct {
	Method string `yaml:"method"`
}

func (a *Aggregation) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&a.Method)
	}
	type plain Aggregation
	return node.Decode((*plain)(a))
}

// IsZero reports an absent aggregation clause.
func (a Aggregation) IsZero() bool { return a.Method == "" }

// ConditionCase is one condition/value pair of a conditional_map. Conditions
// apply in order, later matches overwriting earlier ones.
type ConditionCase struct {
	Condition string `yaml:"condition"`
	Value     any    `yaml:"value"`
}

// Transformation is one step of a column's chain. Fields are kind-specific;
// the executor validates presence per kind.
type Transformation struct {
	Type StepType `yaml:"type"`

	SourceColumn  string     `yaml:"source_column"`
	SourceColumns StringList `yaml:"source_columns"`

	// map
	Values map[string]any `yaml:"values"`

	// lookup
	Vocabulary         string `yaml:"vocabulary"`
	SourceLookupColumn string `yaml:"source_lookup_column"`
	TargetLookupColumn string `yaml:"target_lookup_column"`
	DefaultValue       any    `yaml:"default_value"`

	// link
	LinkedTable string `yaml:"linked_table"`
	LinkColumn  string `yaml:"link_column"`
	Delimiter   string `yaml:"delimiter"`

	// link + aggregate
	GroupBy     StringList  `yaml:"group_by"`
	OrderBy     string      `yaml:"order_by"`
	Aggregation Aggregation `yaml:"aggregation"`

	// normalize_date
	Format string `yaml:"format"`

	// concatenate
	Separator string `yaml:"separator"`

	// default
	Value any `yaml:"value"`

	// conditional_map
	Conditions []ConditionCase `yaml:"conditions"`
	Default    any             `yaml:"default"`

	// filter / derive
	Condition string `yaml:"condition"`
	Formula   string `yaml:"formula"`

	// generate_id
	Method string `yaml:"method"`
}

// SourceColumnList returns the step's source columns: source_columns when
// given, else the single source_column, else nil.
func (t Transformation) SourceColumnList() []string {
	if len(t.SourceColumns) > 0 {
		return t.SourceColumns
	}
	if t.SourceColumn != "" {
		return []string{t.SourceColumn}
	}
	return nil
}

// StepList accepts either a single transformation mapping or a sequence of
// them (a chain).
type StepList []Transformation

func (s *StepList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		var t Transformation
		if err := node.Decode(&t); err != nil {
			return err
		}
		*s = StepList{t}
		return nil
	case yaml.SequenceNode:
		var ts []Transformation
		if err := node.Decode(&ts); err != nil {
			return err
		}
		*s = ts
		return nil
	default:
		return fmt.Errorf("config: transformation must be a mapping or a list of mappings")
	}
}

// ColumnMapping produces one target column from a (possibly chained)
// transformation.
type ColumnMapping struct {
	TargetColumn   string   `yaml:"add_column"`
	Transformation StepList `yaml:"transformation"`
}

// Mappings maps a mapping-set name (referenced from etl_config.yaml) to its
// ordered column specs.
type Mappings map[string][]ColumnMapping

// LoadMappings reads mappings.yaml.
func LoadMappings(path string) (Mappings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var m Mappings
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return m, nil
}

// SourceConfig locates and describes the source CSV directory.
type SourceConfig struct {
	Type      string `yaml:"type"`
	Directory string `yaml:"directory"`
	Delimiter string `yaml:"delimiter"`
	Encoding  string `yaml:"encoding"`
}

// TargetConfig selects the load backend. Type "csv" writes
// <directory>/<table>.csv; database kinds use DSN.
type TargetConfig struct {
	Type      string `yaml:"type"`
	Directory string `yaml:"directory"`
	DSN       string `yaml:"dsn"`
}

// TableMapping is one source→target table run of the batch.
type TableMapping struct {
	SourceTables   StringList `yaml:"source_tables"`
	TargetTable    string     `yaml:"target_table"`
	ColumnMappings string     `yaml:"column_mappings"`
}

// ETL is the top-level driver configuration.
type ETL struct {
	Source   SourceConfig   `yaml:"source"`
	Target   TargetConfig   `yaml:"target"`
	Mappings []TableMapping `yaml:"mappings"`
}

type etlFile struct {
	ETL ETL `yaml:"etl"`
}

// LoadETL reads etl_config.yaml and applies defaults (csv source/target).
func LoadETL(path string) (ETL, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ETL{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f etlFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return ETL{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg := f.ETL
	if cfg.Source.Type == "" {
		cfg.Source.Type = "csv"
	}
	if cfg.Target.Type == "" {
		cfg.Target.Type = "csv"
	}
	if err := cfg.Validate(); err != nil {
		return ETL{}, err
	}
	return cfg, nil
}

// Validate checks the driver configuration for structural problems that
// would otherwise surface mid-run.
func (c ETL) Validate() error {
	if c.Source.Type != "csv" {
		return fmt.Errorf("config: unsupported source type %q", c.Source.Type)
	}
	if c.Source.Directory == "" {
		return fmt.Errorf("config: etl.source.directory is required")
	}
	if len(c.Mappings) == 0 {
		return fmt.Errorf("config: etl.mappings must not be empty")
	}
	for i, m := range c.Mappings {
		if len(m.SourceTables) == 0 {
			return fmt.Errorf("config: mappings[%d]: source_tables is required", i)
		}
		if m.TargetTable == "" {
			return fmt.Errorf("config: mappings[%d]: target_table is required", i)
		}
		if m.ColumnMappings == "" {
			return fmt.Errorf("config: mappings[%d]: column_mappings is required", i)
		}
	}
	switch c.Target.Type {
	case "csv":
		if c.Target.Directory == "" {
			return fmt.Errorf("config: etl.target.directory is required for csv targets")
		}
	case "postgres", "sqlite", "mssql":
		if c.Target.DSN == "" {
			return fmt.Errorf("config: etl.target.dsn is required for %s targets", c.Target.Type)
		}
	default:
		return fmt.Errorf("config: unsupported target type %q", c.Target.Type)
	}
	return nil
}
