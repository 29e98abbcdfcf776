package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bighogz/form4-feed/internal/config"
	"github.com/bighogz/form4-feed/internal/export"
	"github.com/bighogz/form4-feed/internal/logging"
	"github.com/bighogz/form4-feed/internal/models"
	"github.com/bighogz/form4-feed/internal/store"
	"github.com/bighogz/form4-feed/internal/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "YAML config file (default $FORM4_CONFIG)")
	detailedYears := flag.Int("detailed-years", 0, "Years of detail kept in transactions.json")
	quarterlyYears := flag.Int("quarterly-years", 0, "Years of quarterly partitions")
	asOfStr := flag.String("as-of", "", "As-of date YYYY-MM-DD for retention windows")
	outDir := flag.String("out", "", "Output directory (default $FORM4_JSON_DIR)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "detailed-years":
			cfg.DetailedYears = *detailedYears
		case "quarterly-years":
			cfg.QuarterlyYears = *quarterlyYears
		case "out":
			cfg.JSONDir = *outDir
		}
	})
	if cfg.DetailedYears < 0 || cfg.QuarterlyYears < 0 {
		fmt.Fprintln(os.Stderr, "Retention years must be non-negative.")
		os.Exit(1)
	}

	asOf := time.Now()
	if *asOfStr != "" {
		asOf, err = time.Parse(models.DateLayout, *asOfStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid as-of date: %v\n", err)
			os.Exit(1)
		}
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid logging config: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	runID := uuid.NewString()
	log = log.With(zap.String("run_id", runID))

	shutdown, err := telemetry.Setup(cfg.Trace, os.Stderr, runID)
	if err != nil {
		log.Fatal("tracing setup failed", zap.Error(err))
	}
	defer shutdown(context.Background())

	ctx := context.Background()
	s, err := store.Open(ctx, cfg.DBPath, store.Options{MustExist: true})
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Database not found at %s. Run the pipeline first.\n", cfg.DBPath)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not open database: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()
	// Tolerates databases written before natural_key existed.
	if err := s.Initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Could not open database: %v\n", err)
		os.Exit(1)
	}

	exp := &export.Exporter{Store: s, Logger: log, Options: export.OptionsFromConfig(cfg)}
	rep, err := exp.Run(ctx, asOf)
	if err != nil {
		log.Error("export failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Exported %d rows: %d companies, %d tickers, %d quarterly partitions.\n",
		rep.Rows, rep.Companies, rep.Tickers, rep.Partitions)
	if len(rep.Pruned) > 0 {
		fmt.Printf("Removed %d stale partitions.\n", len(rep.Pruned))
	}
	fmt.Printf("Wrote %s.\n", cfg.JSONDir)
}
