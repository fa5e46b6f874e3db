// Package metrics defines the minimal metrics surface the pipeline emits to.
// The core ETL code depends only on Backend; concrete backends (Datadog,
// no-op) live in subpackages or here.
package metrics

// Labels are metric dimensions (table, status, kind).
type Labels map[string]string

// Canonical metric names emitted by the pipeline.
const (
	TablesTotal          = "etl_tables_total"           // labels: table, status
	RowsTotal            = "etl_rows_total"             // labels: table, kind
	TableDurationSeconds = "etl_table_duration_seconds" // labels: table, status
)

// Row kinds for RowsTotal.
const (
	KindExtracted = "extracted"
	KindLoaded    = "loaded"
)

// Backend receives metric updates. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Noop discards all metrics. The default when no backend is configured.
type Noop struct{}

func (Noop) IncCounter(string, float64, Labels)       {}
func (Noop) ObserveHistogram(string, float64, Labels) {}

var _ Backend = Noop{}
