package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/bighogz/form4-feed/internal/config"
	"github.com/bighogz/form4-feed/internal/export"
	"github.com/bighogz/form4-feed/internal/fetcher"
	"github.com/bighogz/form4-feed/internal/ingest"
	"github.com/bighogz/form4-feed/internal/logging"
	"github.com/bighogz/form4-feed/internal/models"
	"github.com/bighogz/form4-feed/internal/source"
	"github.com/bighogz/form4-feed/internal/store"
	"github.com/bighogz/form4-feed/internal/telemetry"
	"github.com/bighogz/form4-feed/internal/universe"
)

func main() {
	cfgPath := flag.String("config", "", "YAML config file (default $FORM4_CONFIG)")
	noDownload := flag.Bool("no-download", false, "Skip the retrieval step")
	detailedYears := flag.Int("detailed-years", 0, "Years of detail kept in transactions.json")
	quarterlyYears := flag.Int("quarterly-years", 0, "Years of quarterly partitions")
	dedupe := flag.Bool("dedupe", false, "Skip documents already stored")
	skipExport := flag.Bool("skip-export", false, "Ingest only")
	asOfStr := flag.String("as-of", "", "As-of date YYYY-MM-DD for retention windows")
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
		case "dedupe":
			cfg.Dedupe = *dedupe
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, options{
		noDownload: *noDownload,
		skipExport: *skipExport,
		asOf:       asOf,
	}); err != nil {
		log.Error("pipeline failed", zap.Error(err))
		shutdown(context.Background())
		os.Exit(1)
	}
}

type options struct {
	noDownload bool
	skipExport bool
	asOf       time.Time
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger, opts options) error {
	ctx, span := otel.Tracer("form4-feed/pipeline").Start(ctx, "pipeline")
	defer span.End()

	s, err := store.Open(ctx, cfg.DBPath, store.Options{})
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Initialize(ctx); err != nil {
		return err
	}
	log.Info("store ready", zap.String("path", s.Path()))

	if !opts.noDownload {
		download(ctx, cfg, log, opts.asOf)
	}

	driver := &ingest.Driver{
		Source: source.Dir{Root: cfg.DataDir, Tickers: cfg.Tickers},
		Store:  s,
		Logger: log,
		Dedupe: cfg.Dedupe,
	}
	res, err := driver.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Processed %d files with %d errors", res.Processed, res.Errors)
	if cfg.Dedupe {
		fmt.Printf(" (%d already stored)", res.Skipped)
	}
	fmt.Println(".")
	span.SetAttributes(attribute.Int("ingest.processed", res.Processed), attribute.Int("ingest.errors", res.Errors))

	if opts.skipExport {
		return nil
	}
	exp := &export.Exporter{Store: s, Logger: log, Options: export.OptionsFromConfig(cfg)}
	rep, err := exp.Run(ctx, opts.asOf)
	if err != nil {
		return err
	}
	fmt.Printf("Exported %d companies, %d quarterly partitions to %s.\n", rep.Companies, rep.Partitions, cfg.JSONDir)
	return nil
}

// download runs the retrieval hook. Failures never stop the pipeline; the
// ingest pass works with whatever is already on disk.
func download(ctx context.Context, cfg *config.Config, log *zap.Logger, asOf time.Time) {
	tickers := universe.Resolver{Logger: log}.Resolve(ctx, cfg)
	cmd := fetcher.Command{
		Path:    cfg.FetchCommand,
		Args:    cfg.FetchArgs,
		Timeout: cfg.FetchTimeout,
		Logger:  log,
	}
	after := asOf.AddDate(0, 0, -cfg.LookbackDays)
	res, err := cmd.Run(ctx, tickers, after, asOf, cfg.DataDir)
	switch {
	case errors.Is(err, fetcher.ErrNotConfigured):
		log.Info("no fetch command configured, skipping download")
	case err != nil:
		log.Warn("download interrupted", zap.Error(err))
	default:
		log.Info("download complete", zap.Int("tickers", res.Tickers), zap.Strings("failed", res.Failed))
	}
}
