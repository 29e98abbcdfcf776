// Package export materializes the static JSON views served to clients.
//
// Every run rebuilds the whole tree from one store snapshot:
//
//	companies.json
//	summary.json
//	<TICKER>/transactions.json
//	<TICKER>/latest.json
//	<TICKER>/quarterly/<YEAR>-Q<N>.json
package export

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/bighogz/form4-feed/internal/artifact"
	"github.com/bighogz/form4-feed/internal/config"
	"github.com/bighogz/form4-feed/internal/logging"
	"github.com/bighogz/form4-feed/internal/models"
)

const quarterlyGlob = "*/quarterly/*.json"

type Options struct {
	OutDir         string
	DetailedYears  int
	QuarterlyYears int
	LargeLimit     int
	RecentLimit    int
	LatestLimit    int
	// Atomic stages the tree and swaps it in with a rename. When false files
	// are overwritten in place and stale quarterly partitions are pruned.
	Atomic bool
}

func DefaultOptions(outDir string) Options {
	return Options{
		OutDir:         outDir,
		DetailedYears:  3,
		QuarterlyYears: 10,
		LargeLimit:     100,
		RecentLimit:    50,
		LatestLimit:    50,
		Atomic:         true,
	}
}

// OptionsFromConfig maps the run configuration onto exporter options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		OutDir:         cfg.JSONDir,
		DetailedYears:  cfg.DetailedYears,
		QuarterlyYears: cfg.QuarterlyYears,
		LargeLimit:     cfg.LargeLimit,
		RecentLimit:    cfg.RecentLimit,
		LatestLimit:    cfg.LatestLimit,
		Atomic:         cfg.AtomicPublish,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions(o.OutDir)
	if o.DetailedYears < 0 {
		o.DetailedYears = 0
	}
	if o.QuarterlyYears < 0 {
		o.QuarterlyYears = 0
	}
	if o.LargeLimit <= 0 {
		o.LargeLimit = d.LargeLimit
	}
	if o.RecentLimit <= 0 {
		o.RecentLimit = d.RecentLimit
	}
	if o.LatestLimit <= 0 {
		o.LatestLimit = d.LatestLimit
	}
	return o
}

// Snapshotter is the read side of the store used by the exporter.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]models.FilingRecord, error)
}

type Exporter struct {
	Store   Snapshotter
	Logger  *zap.Logger
	Options Options
	// Now stamps last_updated; defaults to time.Now.
	Now func() time.Time
}

// Report summarizes one run.
type Report struct {
	Rows       int
	Companies  int
	Tickers    int
	Partitions int
	Files      int
	Pruned     []string
}

// Run snapshots the store, builds every view and publishes them under
// Options.OutDir. Nothing is written if any view fails to marshal.
func (e *Exporter) Run(ctx context.Context, asOf time.Time) (rep Report, err error) {
	log := logging.OrNop(e.Logger)
	ctx, span := otel.Tracer("form4-feed/export").Start(ctx, "export.Run")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if e.Options.OutDir == "" {
		return rep, fmt.Errorf("export: output directory not set")
	}
	rows, err := e.Store.Snapshot(ctx)
	if err != nil {
		return rep, fmt.Errorf("export: %w", err)
	}

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	tree := Build(rows, e.Options, asOf, now())
	files, err := tree.Files()
	if err != nil {
		return rep, fmt.Errorf("export: %w", err)
	}

	rep = Report{
		Rows:      len(rows),
		Companies: tree.Companies.Count,
		Tickers:   len(tree.Tickers),
		Files:     len(files),
	}
	for _, qs := range tree.Quarters {
		rep.Partitions += len(qs)
	}

	if e.Options.Atomic {
		if err := artifact.Publish(e.Options.OutDir, files); err != nil {
			return rep, fmt.Errorf("export: publish: %w", err)
		}
	} else {
		if err := artifact.WriteAll(e.Options.OutDir, files); err != nil {
			return rep, fmt.Errorf("export: %w", err)
		}
		keep := make(map[string]bool, len(files))
		for _, f := range files {
			keep[f.Path] = true
		}
		rep.Pruned, err = artifact.Prune(e.Options.OutDir, quarterlyGlob, keep)
		if err != nil {
			return rep, fmt.Errorf("export: prune: %w", err)
		}
	}

	span.SetAttributes(
		attribute.Int("export.rows", rep.Rows),
		attribute.Int("export.companies", rep.Companies),
		attribute.Int("export.partitions", rep.Partitions),
	)
	log.Info("export complete",
		zap.String("dir", e.Options.OutDir),
		zap.Int("rows", rep.Rows),
		zap.Int("companies", rep.Companies),
		zap.Int("partitions", rep.Partitions),
		zap.Int("files", rep.Files),
		zap.Int("pruned", len(rep.Pruned)),
		zap.Bool("atomic", e.Options.Atomic),
	)
	return rep, nil
}
