// Package ingest runs one batch pass from document source to store.
package ingest

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/bighogz/form4-feed/internal/form4"
	"github.com/bighogz/form4-feed/internal/logging"
	"github.com/bighogz/form4-feed/internal/models"
	"github.com/bighogz/form4-feed/internal/source"
)

type Source interface {
	Documents(ctx context.Context) ([]source.Document, error)
	Open(doc source.Document) (io.ReadCloser, error)
}

type Store interface {
	Insert(ctx context.Context, rec *models.FilingRecord) (int64, error)
	InsertIfAbsent(ctx context.Context, rec *models.FilingRecord) (int64, bool, error)
}

type Driver struct {
	Source Source
	Store  Store
	Logger *zap.Logger
	// Dedupe skips documents whose natural key is already stored. Off by
	// default: every pass appends one row per document.
	Dedupe bool
}

// Result counts one pass. Skipped is only non-zero with Dedupe.
type Result struct {
	Processed int
	Errors    int
	Skipped   int
}

// Run parses and stores every document. A document that cannot be opened,
// parsed or inserted is logged and counted; the pass continues. The error
// return is reserved for enumeration failures and cancellation.
func (d *Driver) Run(ctx context.Context) (res Result, err error) {
	log := logging.OrNop(d.Logger)
	ctx, span := otel.Tracer("form4-feed/ingest").Start(ctx, "ingest.Run",
		trace.WithAttributes(attribute.Bool("ingest.dedupe", d.Dedupe)))
	defer func() {
		span.SetAttributes(
			attribute.Int("ingest.processed", res.Processed),
			attribute.Int("ingest.errors", res.Errors),
			attribute.Int("ingest.skipped", res.Skipped),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	docs, err := d.Source.Documents(ctx)
	if err != nil {
		return res, fmt.Errorf("ingest: list documents: %w", err)
	}
	log.Info("ingest started", zap.Int("documents", len(docs)), zap.Bool("dedupe", d.Dedupe))

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec, err := d.parse(doc)
		if err != nil {
			res.Errors++
			log.Warn("skipping document", zap.String("file", doc.Path), zap.Error(err))
			span.AddEvent("document.error", trace.WithAttributes(attribute.String("file", doc.Path)))
			continue
		}

		if d.Dedupe {
			_, inserted, err := d.Store.InsertIfAbsent(ctx, rec)
			if err != nil {
				res.Errors++
				log.Error("insert failed", zap.String("file", doc.Path), zap.Error(err))
				continue
			}
			if !inserted {
				res.Skipped++
				log.Debug("already stored", zap.String("file", doc.Path))
				continue
			}
		} else if _, err := d.Store.Insert(ctx, rec); err != nil {
			res.Errors++
			log.Error("insert failed", zap.String("file", doc.Path), zap.Error(err))
			continue
		}

		res.Processed++
		log.Debug("processed", zap.String("file", doc.Path), zap.String("ticker", rec.Ticker()))
		span.AddEvent("document.processed", trace.WithAttributes(
			attribute.String("file", doc.Path),
			attribute.String("ticker", rec.Ticker()),
		))
	}

	log.Info("ingest complete",
		zap.Int("processed", res.Processed),
		zap.Int("errors", res.Errors),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func (d *Driver) parse(doc source.Document) (*models.FilingRecord, error) {
	rc, err := d.Source.Open(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", form4.ErrUnreadable, err)
	}
	defer rc.Close()
	return form4.Parse(rc, doc.Path)
}
