package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rank-orchestrator/internal/adapter/repository"
	"rank-orchestrator/internal/export"
	"rank-orchestrator/internal/infra"
)

var (
	version = "dev"

	// Global flags
	verbose    bool
	cursorFile string

	// Run command flags
	outputPath  string
	sinceDate   string
	batchSize   int
	concurrency int
	dryRun      bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "export",
	Short:   "Export ranking analytics as model training data",
	Version: version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the training data export",
	Long: `Export training examples from the ranking analytics log as NDJSON.

Each line is one (query, candidate) pair joined across pipeline stages.
The export can be resumed from where it left off using cursor tracking.

Examples:
  # Export everything since the beginning
  export run --out training_data.ndjson

  # Export rows recorded after a given date
  export run --since 2026-08-01

  # Dry run to count exportable rows
  export run --since 2026-08-01 --dry-run`,
	RunE: runExport,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cursor status and per-stage row counts",
	RunE:  showStatus,
}

var resetCmd = &cobra.Command{
	Use:   "reset-cursor",
	Short: "Reset the cursor to start from beginning",
	RunE:  resetCursor,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cursorFile, "cursor-file", "export_cursor.json", "cursor file path")

	runCmd.Flags().StringVar(&outputPath, "out", "training_data.ndjson", "output NDJSON file")
	runCmd.Flags().StringVar(&sinceDate, "since", "", "only export rows created on or after this date (YYYY-MM-DD)")
	runCmd.Flags().IntVar(&batchSize, "batch-size", 500, "examples per page")
	runCmd.Flags().IntVar(&concurrency, "concurrency", 4, "pages fetched in parallel")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "count exportable rows without writing")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

func runExport(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}

	cfg := export.DefaultConfig()
	cfg.OutputPath = outputPath
	cfg.CursorFile = cursorFile
	cfg.BatchSize = batchSize
	cfg.Concurrency = concurrency
	cfg.DryRun = dryRun

	if sinceDate != "" {
		t, err := time.Parse("2006-01-02", sinceDate)
		if err != nil {
			return fmt.Errorf("invalid --since date: %w", err)
		}
		cfg.Since = t
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := infra.NewPostgresDB(ctx, dbURL, infra.ExportPoolConfig(cfg.Concurrency))
	if err != nil {
		return fmt.Errorf("connect to db: %w", err)
	}
	defer pool.Close()

	repo := repository.NewAnalyticsRepository(pool)

	logger.Info("starting export",
		slog.String("output", cfg.OutputPath),
		slog.String("cursor_file", cfg.CursorFile),
		slog.Int("batch_size", cfg.BatchSize),
		slog.Int("concurrency", cfg.Concurrency),
		slog.Bool("dry_run", cfg.DryRun),
		slog.String("since", sinceDate),
	)

	runner, err := export.NewRunner(cfg, repo, logger)
	if err != nil {
		return fmt.Errorf("create runner: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down...", slog.String("signal", sig.String()))
		cancel()
	}()

	if err := runner.Run(ctx); err != nil {
		if err == context.Canceled {
			logger.Info("export interrupted, cursor saved for resume")
			return nil
		}
		return fmt.Errorf("run export: %w", err)
	}

	return nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	manager := export.NewCursorManager(cursorFile)
	cursor, err := manager.Load()
	if err != nil {
		return fmt.Errorf("get cursor: %w", err)
	}

	if cursor.IsEmpty() {
		fmt.Println("No cursor found. Export will start from the beginning.")
	} else {
		fmt.Printf("Cursor Status:\n")
		fmt.Printf("  Version:        %d\n", cursor.Version)
		fmt.Printf("  Offset:         %d\n", cursor.Offset)
		fmt.Printf("  Since:          %s\n", cursor.Since.Format(time.RFC3339))
		fmt.Printf("  Exported Count: %d\n", cursor.ExportedCount)
		fmt.Printf("  Updated At:     %s\n", cursor.UpdatedAt.Format(time.RFC3339))
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil
	}

	ctx := context.Background()
	pool, err := infra.NewPostgresDB(ctx, dbURL, infra.ExportPoolConfig(1))
	if err != nil {
		return fmt.Errorf("connect to db: %w", err)
	}
	defer pool.Close()

	counts, err := repository.NewAnalyticsRepository(pool).CountByStage(ctx)
	if err != nil {
		return fmt.Errorf("count stages: %w", err)
	}

	fmt.Printf("Analytics Rows by Stage:\n")
	for _, c := range counts {
		fmt.Printf("  %-18s %d\n", c.Stage, c.Rows)
	}

	return nil
}

func resetCursor(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	manager := export.NewCursorManager(cursorFile)
	if err := manager.Reset(); err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}

	logger.Info("cursor reset successfully")
	return nil
}
