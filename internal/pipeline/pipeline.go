// Package pipeline drives a whole project run: read the driver config,
// extract and combine the source CSVs, execute the mapping chains per target
// table, and load the results into the configured backend.
//
// Table runs are independent: a failing table is recorded and the batch
// moves on, so one bad mapping does not discard the work of the others.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"omopetl/internal/config"
	"omopetl/internal/lookup"
	"omopetl/internal/metrics"
	csvparser "omopetl/internal/parser/csv"
	"omopetl/internal/schema"
	"omopetl/internal/storage"
	"omopetl/internal/table"
	"omopetl/internal/transform"
)

// Options configures a project run.
type Options struct {
	// ProjectPath is the project root (holds config/ and data/).
	ProjectPath string

	// ConfigFile is the driver file name under config/.
	// Defaults to "etl_config.yaml".
	ConfigFile string

	// Strict enables type casting and fatal schema validation.
	Strict bool

	// DryRun runs extract and transform but skips loading.
	DryRun bool

	// Logger receives progress lines. Nil discards them.
	Logger transform.Logger

	// Metrics receives run counters. Nil discards them.
	Metrics metrics.Backend
}

// TableResult is the outcome of one target-table run.
type TableResult struct {
	TargetTable string
	RowsIn      int
	RowsOut     int
	Duration    time.Duration
	Err         error
}

// Result collects per-table outcomes for a batch.
type Result struct {
	Tables []TableResult
}

// Err joins the per-table errors, nil when every table succeeded.
func (r *Result) Err() error {
	var errs []error
	for _, t := range r.Tables {
		if t.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.TargetTable, t.Err))
		}
	}
	return errors.Join(errs...)
}

type runner struct {
	opts     Options
	cfg      config.ETL
	mappings config.Mappings
	source   schema.Schema
	target   schema.Schema
	readOpts csvparser.Options
	repo     storage.Repository
	logger   transform.Logger
	metrics  metrics.Backend
}

// Run executes the project at opts.ProjectPath. A non-nil *Result is
// returned whenever the batch started; call Result.Err for per-table
// failures. The error return covers setup problems that prevent any table
// from running.
func Run(ctx context.Context, opts Options) (*Result, error) {
	r, err := prepare(ctx, opts)
	if err != nil {
		return nil, err
	}
	if r.repo != nil {
		defer r.repo.Close()
	}

	res := &Result{}
	for _, m := range r.cfg.Mappings {
		tr := r.runTable(ctx, m)
		res.Tables = append(res.Tables, tr)

		status := "ok"
		if tr.Err != nil {
			status = "error"
			// strict_only marks failures a casual run would have tolerated.
			r.logger.Printf("pipeline table=%s status=error strict_only=%t err=%v",
				m.TargetTable, !transform.IsFatal(tr.Err), tr.Err)
		} else {
			r.logger.Printf("pipeline table=%s status=ok rows_in=%d rows_out=%d duration=%s",
				m.TargetTable, tr.RowsIn, tr.RowsOut, tr.Duration.Round(time.Millisecond))
		}
		r.metrics.IncCounter(metrics.TablesTotal, 1,
			metrics.Labels{"table": m.TargetTable, "status": status})
		r.metrics.ObserveHistogram(metrics.TableDurationSeconds, tr.Duration.Seconds(),
			metrics.Labels{"table": m.TargetTable, "status": status})
	}
	return res, nil
}

func prepare(ctx context.Context, opts Options) (*runner, error) {
	if opts.ProjectPath == "" {
		return nil, fmt.Errorf("pipeline: project path is required")
	}
	if opts.ConfigFile == "" {
		opts.ConfigFile = "etl_config.yaml"
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}

	cfg, err := config.LoadETL(filepath.Join(opts.ProjectPath, "config", opts.ConfigFile))
	if err != nil {
		return nil, err
	}
	mappings, err := config.LoadMappings(filepath.Join(opts.ProjectPath, "config", "mappings.yaml"))
	if err != nil {
		return nil, err
	}

	source, err := loadOptionalSchema(filepath.Join(opts.ProjectPath, "config", "source_schema.yaml"))
	if err != nil {
		return nil, err
	}
	target, err := loadOptionalSchema(filepath.Join(opts.ProjectPath, "config", "target_schema.yaml"))
	if err != nil {
		return nil, err
	}
	if opts.Strict && target == nil {
		return nil, fmt.Errorf("pipeline: strict mode requires config/target_schema.yaml")
	}

	readOpts := csvparser.DefaultOptions()
	if cfg.Source.Delimiter != "" {
		readOpts.Comma = []rune(cfg.Source.Delimiter)[0]
	}
	readOpts.Encoding = cfg.Source.Encoding

	r := &runner{
		opts:     opts,
		cfg:      cfg,
		mappings: mappings,
		source:   source,
		target:   target,
		readOpts: readOpts,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}

	if !opts.DryRun {
		r.repo, err = storage.New(ctx, storage.Config{
			Kind:      cfg.Target.Type,
			DSN:       cfg.Target.DSN,
			Directory: r.resolve(cfg.Target.Directory),
		})
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

func loadOptionalSchema(path string) (schema.Schema, error) {
	s, err := schema.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// resolve interprets a configured directory relative to the project root.
func (r *runner) resolve(dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(r.opts.ProjectPath, dir)
}

func (r *runner) runTable(ctx context.Context, m config.TableMapping) TableResult {
	start := time.Now()
	tr := TableResult{TargetTable: m.TargetTable}

	defer func() { tr.Duration = time.Since(start) }()

	specs, ok := r.mappings[m.ColumnMappings]
	if !ok {
		tr.Err = fmt.Errorf("pipeline: mapping set %q not found in mappings.yaml", m.ColumnMappings)
		return tr
	}

	combined, err := r.extract(m.SourceTables)
	if err != nil {
		tr.Err = err
		return tr
	}
	tr.RowsIn = combined.Len()
	r.metrics.IncCounter(metrics.RowsTotal, float64(combined.Len()),
		metrics.Labels{"table": m.TargetTable, "kind": metrics.KindExtracted})

	resolver := lookup.NewResolver(r.opts.ProjectPath, r.readOpts)
	session := transform.NewSession(combined, resolver, r.source, r.target, m.TargetTable, r.logger)
	out, err := session.Apply(specs, r.opts.Strict)
	if err != nil {
		tr.Err = err
		return tr
	}
	tr.RowsOut = out.Len()

	if r.opts.DryRun {
		r.logger.Printf("pipeline table=%s dry_run=true rows=%d columns=%v",
			m.TargetTable, out.Len(), out.Columns())
		return tr
	}

	if err := r.load(ctx, m.TargetTable, out); err != nil {
		tr.Err = err
		return tr
	}
	r.metrics.IncCounter(metrics.RowsTotal, float64(out.Len()),
		metrics.Labels{"table": m.TargetTable, "kind": metrics.KindLoaded})
	return tr
}

// extract reads and concatenates the source tables of one mapping. Column
// sets are unioned; rows keep file order. Each table is validated against
// the source schema: missing declared columns are fatal in strict mode,
// logged otherwise.
func (r *runner) extract(names []string) (*table.Table, error) {
	dir := r.resolve(r.cfg.Source.Directory)

	var combined *table.Table
	for _, name := range names {
		path := filepath.Join(dir, name+".csv")
		t, err := csvparser.LoadFile(path, r.readOpts)
		if err != nil {
			return nil, fmt.Errorf("pipeline: extract %s: %w", name, err)
		}

		if r.source != nil {
			res := schema.ValidateColumns(t, r.source, name)
			if len(res.Extra) > 0 {
				r.logger.Printf("extract table=%s undeclared_columns=%v", name, res.Extra)
			}
			if !res.OK() {
				if r.opts.Strict {
					return nil, &schema.ValidationError{Table: name, Missing: res.Missing}
				}
				r.logger.Printf("extract table=%s missing_columns=%v", name, res.Missing)
			}
		}

		r.logger.Printf("extract table=%s rows=%d", name, t.Len())
		if combined == nil {
			combined = t
		} else {
			combined.AppendTable(t)
		}
	}
	if combined == nil {
		return nil, fmt.Errorf("pipeline: no source tables to extract")
	}
	return combined, nil
}

func (r *runner) load(ctx context.Context, tableName string, t *table.Table) error {
	if err := r.repo.EnsureTable(ctx, storage.SpecFor(r.target, tableName)); err != nil {
		return err
	}
	columns, rows := storage.Flatten(t)
	n, err := r.repo.InsertRows(ctx, tableName, columns, rows)
	if err != nil {
		return err
	}
	r.logger.Printf("load table=%s rows=%d backend=%s", tableName, n, r.cfg.Target.Type)
	return nil
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
