// Command omopetl manages configuration-driven clinical ETL projects:
// scaffolding a project, probing source CSVs into a schema, and running the
// extract-transform-load batch.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"omopetl/internal/metrics"
	"omopetl/internal/metrics/datadog"
	csvparser "omopetl/internal/parser/csv"
	"omopetl/internal/pipeline"
	"omopetl/internal/probe"
	"omopetl/internal/scaffold"

	// Load backends register themselves by kind.
	_ "omopetl/internal/storage/csvfile"
	_ "omopetl/internal/storage/mssql"
	_ "omopetl/internal/storage/postgres"
	_ "omopetl/internal/storage/sqlite"
)

var (
	configFile string
	strict     bool
	dryRun     bool
	quiet      bool

	ddEnabled bool
	ddJob     string
	ddTags    string

	probeDelimiter string
	probeEncoding  string
	probeSample    int
	probeOut       string
)

var rootCmd = &cobra.Command{
	Use:   "omopetl",
	Short: "Configuration-driven ETL for clinical data",
	Long: `omopetl maps source clinical CSV tables into a target schema using
YAML-declared, per-column transformation chains. A project directory holds
the configuration (config/) and the data (data/).`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run <project>",
	Short: "Run a project's ETL batch",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

var startprojectCmd = &cobra.Command{
	Use:   "startproject <name>",
	Short: "Create a new project directory from templates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		if err := scaffold.Create(path); err != nil {
			return err
		}
		fmt.Printf("project created at %s\n", path)
		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe <project>",
	Short: "Infer config/source_schema.yaml from the project's source CSVs",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

func init() {
	runCmd.Flags().StringVarP(&configFile, "config", "c", "etl_config.yaml", "Driver file name under config/")
	runCmd.Flags().BoolVar(&strict, "strict", false, "Cast to declared types and fail on schema violations")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Transform without loading")
	runCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress logging")
	runCmd.Flags().BoolVar(&ddEnabled, "datadog", false, "Submit run metrics to Datadog (needs DD_API_KEY)")
	runCmd.Flags().StringVar(&ddJob, "dd-job", "omopetl", "Datadog job tag")
	runCmd.Flags().StringVar(&ddTags, "dd-tags", "", "Extra Datadog tags, comma-separated (env:prod,team:data)")

	probeCmd.Flags().StringVar(&probeDelimiter, "delimiter", ",", "CSV delimiter")
	probeCmd.Flags().StringVar(&probeEncoding, "encoding", "", "CSV encoding (latin1, windows-1252)")
	probeCmd.Flags().IntVar(&probeSample, "sample-rows", 200, "Rows sampled per table")
	probeCmd.Flags().StringVarP(&probeOut, "output", "o", "", "Output file (default: config/source_schema.yaml in the project)")

	rootCmd.AddCommand(runCmd, startprojectCmd, probeCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	project, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	out := io.Writer(os.Stderr)
	if quiet {
		out = io.Discard
	}
	logger := log.New(out, "", log.LstdFlags)

	var backend metrics.Backend = metrics.Noop{}
	if ddEnabled {
		dd, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    ddJob,
			Tags:       datadog.ParseTagsCSV(ddTags),
			FlushEvery: 30 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("datadog metrics init: %w", err)
		}
		defer func() {
			if err := dd.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: metrics flush failed: %v\n", err)
			}
		}()
		backend = dd
	}

	start := time.Now()
	res, err := pipeline.Run(ctx, pipeline.Options{
		ProjectPath: project,
		ConfigFile:  configFile,
		Strict:      strict,
		DryRun:      dryRun,
		Logger:      logger,
		Metrics:     backend,
	})
	if err != nil {
		return err
	}

	ok := 0
	for _, t := range res.Tables {
		if t.Err == nil {
			ok++
		}
	}
	logger.Printf("run complete tables=%d ok=%d failed=%d duration=%s",
		len(res.Tables), ok, len(res.Tables)-ok, time.Since(start).Round(time.Millisecond))

	return res.Err()
}

func runProbe(cmd *cobra.Command, args []string) error {
	project, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	readOpts := csvparser.DefaultOptions()
	if probeDelimiter != "" {
		readOpts.Comma = []rune(probeDelimiter)[0]
	}
	readOpts.Encoding = probeEncoding

	out := probeOut
	if out == "" {
		out = filepath.Join(project, "config", "source_schema.yaml")
	}

	err = probe.WriteSchemaFile(
		filepath.Join(project, "data", "source"),
		out,
		probe.Options{SampleRows: probeSample, ReadOpts: readOpts},
	)
	if err != nil {
		return err
	}
	fmt.Printf("schema written to %s\n", out)
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
