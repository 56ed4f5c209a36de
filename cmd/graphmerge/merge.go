package graphmerge

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/soundprediction/go-graphmerge"
	"github.com/soundprediction/go-graphmerge/pkg/config"
	"github.com/soundprediction/go-graphmerge/pkg/driver"
	"github.com/soundprediction/go-graphmerge/pkg/logger"
	"github.com/soundprediction/go-graphmerge/pkg/rules"
	"github.com/soundprediction/go-graphmerge/pkg/telemetry"
	"github.com/spf13/cobra"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge duplicate vertices in a graph",
	Long: `Open the graph described by a configuration file, apply the merge rules
and close the graph.

The built-in rules merge Person vertices on sameAs and Email, IPAddress,
TelephoneNumber and URL vertices on identifier. A YAML rules file replaces
them:

  rules:
    - label: Person
      properties: [name, dob]

Settings in the configuration file can be overridden with GRAPHMERGE_*
environment variables or the flags below.`,
	Args: cobra.NoArgs,
	RunE: runMerge,
}

var (
	graphFile string
	rulesFile string
	dryRun    bool
	workers   int
	logLevel  string
)

func init() {
	rootCmd.AddCommand(mergeCmd)

	mergeCmd.Flags().StringVarP(&graphFile, "graph", "g", "", "Graph configuration file (yaml, json or toml)")
	mergeCmd.Flags().StringVar(&rulesFile, "rules", "", "YAML file of merge rules, replacing the built-in rules")
	mergeCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be merged without changing the graph")
	mergeCmd.Flags().IntVar(&workers, "workers", 0, "Goroutines used to compute merge keys (0 uses all CPUs)")
	mergeCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	_ = mergeCmd.MarkFlagRequired("graph")
}

func runMerge(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(graphFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	overrideConfigWithFlags(cmd, cfg)

	log, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := rules.DefaultRegistry()
	if cfg.Merge.RulesFile != "" {
		registry, err = rules.RegistryFromFile(cfg.Merge.RulesFile)
		if err != nil {
			return err
		}
	}

	log.Info("Connecting to graph", "driver", cfg.Database.Driver)
	d, err := driver.Open(ctx, cfg.Database)
	if err != nil {
		log.Error("Couldn't open graph", "driver", cfg.Database.Driver, "error", err)
		return fmt.Errorf("failed to open graph: %w", err)
	}

	merger := graphmerge.NewMerger(d, &graphmerge.Config{
		Workers: cfg.Merge.Workers,
		DryRun:  cfg.Merge.DryRun,
		Logger:  log,
	})
	report, mergeErr := merger.MergeDiscovered(ctx, registry)
	if mergeErr != nil {
		log.Error("Merge failed", "error", mergeErr)
	}

	log.Info("Closing connection to graph")
	if err := d.Close(context.WithoutCancel(ctx)); err != nil {
		log.Warn("Failed to close graph", "error", err)
	}

	if report != nil {
		printReport(cmd.OutOrStdout(), report)
	}
	if mergeErr != nil {
		return mergeErr
	}

	log.Info("Finished merging graph")
	return nil
}

func overrideConfigWithFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("rules") {
		cfg.Merge.RulesFile = rulesFile
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.Merge.DryRun = dryRun
	}
	if cmd.Flags().Changed("workers") {
		cfg.Merge.Workers = workers
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
}

// newLogger builds the colored stderr logger, teeing error records into
// DuckDB when an error database is configured.
func newLogger(cfg config.LogConfig) (*slog.Logger, func(), error) {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	var handler slog.Handler = logger.NewColorHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	if cfg.ErrorDB == "" {
		return slog.New(handler), func() {}, nil
	}

	var db *sql.DB
	db, err = telemetry.OpenErrorDB(cfg.ErrorDB)
	if err != nil {
		return nil, nil, err
	}
	handler, err = telemetry.NewDuckDBHandler(handler, db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to set up error database: %w", err)
	}
	return slog.New(handler), func() { db.Close() }, nil
}

func printReport(w io.Writer, report *graphmerge.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	if report.DryRun {
		t.SetTitle("DRY RUN: no vertices were changed")
	}

	t.AppendHeader(table.Row{"Rule", "Candidates", "Merge sets", "Removed", "Created", "Edges"})
	for _, rr := range report.Rules {
		name := rr.Rule
		if rr.Skipped {
			name += " (skipped)"
		}
		t.AppendRow(table.Row{name, rr.Candidates, rr.MergeSets, rr.VerticesRemoved, rr.VerticesCreated, rr.EdgesCopied})
	}
	t.AppendFooter(table.Row{"Total", "", report.MergeSets, report.VerticesRemoved, report.VerticesCreated, report.EdgesCopied})
	t.Render()
}
