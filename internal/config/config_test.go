package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMappingsSingleAndChain(t *testing.T) {
	path := writeFile(t, "mappings.yaml", `
person_mappings:
  - add_column: gender_concept_id
    transformation:
      type: map
      source_column: gender
      values:
        M: 8507
        F: 8532
  - add_column: number_new
    transformation:
      - type: derive
        source_column: number
        formula: number + 1
      - type: derive
        formula: number + 1
`)
	m, err := LoadMappings(path)
	require.NoError(t, err)

	specs := m["person_mappings"]
	require.Len(t, specs, 2)

	single := specs[0]
	assert.Equal(t, "gender_concept_id", single.TargetColumn)
	require.Len(t, single.Transformation, 1)
	assert.Equal(t, StepMap, single.Transformation[0].Type)
	assert.Equal(t, 8507, single.Transformation[0].Values["M"])

	chain := specs[1]
	require.Len(t, chain.Transformation, 2)
	assert.Equal(t, "number + 1", chain.Transformation[1].Formula)
}

func TestGroupByScalarOrList(t *testing.T) {
	var tr Transformation
	require.NoError(t, yaml.Unmarshal([]byte("type: aggregate\ngroup_by: subject_id\n"), &tr))
	assert.Equal(t, StringList{"subject_id"}, tr.GroupBy)

	require.NoError(t, yaml.Unmarshal([]byte("type: aggregate\ngroup_by: [a, b]\n"), &tr))
	assert.Equal(t, StringList{"a", "b"}, tr.GroupBy)

	err := yaml.Unmarshal([]byte("type: aggregate\ngroup_by: {x: 1}\n"), &tr)
	require.Error(t, err)
}

func TestAggregationScalarOrMapping(t *testing.T) {
	var tr Transformation
	require.NoError(t, yaml.Unmarshal([]byte("type: aggregate\naggregation: first\n"), &tr))
	assert.Equal(t, "first", tr.Aggregation.Method)

	require.NoError(t, yaml.Unmarshal([]byte("type: link\naggregation:\n  method: most_frequent\n"), &tr))
	assert.Equal(t, "most_frequent", tr.Aggregation.Method)

	var zero Transformation
	require.NoError(t, yaml.Unmarshal([]byte("type: copy\n"), &zero))
	assert.True(t, zero.Aggregation.IsZero())
}

func TestSourceColumnList(t *testing.T) {
	tr := Transformation{SourceColumn: "a"}
	assert.Equal(t, []string{"a"}, tr.SourceColumnList())

	tr = Transformation{SourceColumn: "a", SourceColumns: StringList{"b", "c"}}
	assert.Equal(t, []string{"b", "c"}, tr.SourceColumnList())

	assert.Nil(t, Transformation{}.SourceColumnList())
}

func TestStepListRejectsScalar(t *testing.T) {
	var cm ColumnMapping
	err := yaml.Unmarshal([]byte("add_column: x\ntransformation: copy\n"), &cm)
	require.Error(t, err)
}

func TestLoadETLDefaultsAndValidation(t *testing.T) {
	path := writeFile(t, "etl_config.yaml", `
etl:
  source:
    directory: data/source
  target:
    directory: data/target
  mappings:
    - source_tables: patients
      target_table: person
      column_mappings: person_mappings
`)
	cfg, err := LoadETL(path)
	require.NoError(t, err)
	assert.Equal(t, "csv", cfg.Source.Type)
	assert.Equal(t, "csv", cfg.Target.Type)
	assert.Equal(t, StringList{"patients"}, cfg.Mappings[0].SourceTables)
}

func TestValidate(t *testing.T) {
	base := func() ETL {
		return ETL{
			Source: SourceConfig{Type: "csv", Directory: "data/source"},
			Target: TargetConfig{Type: "csv", Directory: "data/target"},
			Mappings: []TableMapping{{
				SourceTables:   StringList{"patients"},
				TargetTable:    "person",
				ColumnMappings: "person_mappings",
			}},
		}
	}

	cases := []struct {
		name   string
		mutate func(*ETL)
		ok     bool
	}{
		{"valid csv", func(c *ETL) {}, true},
		{"postgres needs dsn", func(c *ETL) { c.Target = TargetConfig{Type: "postgres"} }, false},
		{"postgres with dsn", func(c *ETL) {
			c.Target = TargetConfig{Type: "postgres", DSN: "postgres://localhost/omop"}
		}, true},
		{"sqlite with dsn", func(c *ETL) {
			c.Target = TargetConfig{Type: "sqlite", DSN: "file:omop.db"}
		}, true},
		{"unknown target", func(c *ETL) { c.Target.Type = "parquet" }, false},
		{"no mappings", func(c *ETL) { c.Mappings = nil }, false},
		{"missing target table", func(c *ETL) { c.Mappings[0].TargetTable = "" }, false},
		{"missing source dir", func(c *ETL) { c.Source.Directory = "" }, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
