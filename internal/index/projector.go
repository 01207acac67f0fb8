package index

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/govnewsbr/pipeline/internal/metrics"
	"github.com/govnewsbr/pipeline/internal/news"
	"github.com/govnewsbr/pipeline/internal/retry"
)

// DefaultBatchSize is the number of documents sent per import request.
const DefaultBatchSize = 1000

// DocumentStore is the engine surface the projector needs. *Client satisfies
// it; tests substitute a fake.
type DocumentStore interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, docs []Document) ([]ImportResult, error)
}

// Projector pushes dataset records into the search engine in batches.
type Projector struct {
	store     DocumentStore
	batchSize int
	retry     retry.Policy
	logger    *zap.Logger
}

// ProjectionReport summarizes one projection pass. Excluded records and
// failed batches do not abort the pass; they are reported so the caller can
// decide the run outcome.
type ProjectionReport struct {
	Indexed   int
	Excluded  []string
	FailedIDs []string
}

// Failed reports whether any document could not be indexed.
func (r ProjectionReport) Failed() bool { return len(r.FailedIDs) > 0 }

// NewProjector builds a projector. batchSize <= 0 falls back to the default.
func NewProjector(store DocumentStore, batchSize int, pol retry.Policy, logger *zap.Logger) *Projector {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Projector{store: store, batchSize: batchSize, retry: pol, logger: logger}
}

// Project validates and upserts records. Records without a publication date
// cannot be sorted by the engine and are excluded, not failed. Each batch is
// retried as a unit; a batch that still fails is recorded and the pass moves
// on so one bad batch does not lose the rest.
func (p *Projector) Project(ctx context.Context, records []news.Record) (ProjectionReport, error) {
	var report ProjectionReport

	if err := p.retry.Do(ctx, p.store.EnsureCollection); err != nil {
		return report, fmt.Errorf("ensure collection: %w", err)
	}

	docs := make([]Document, 0, len(records))
	for _, r := range records {
		doc, err := FromRecord(r)
		if err != nil {
			report.Excluded = append(report.Excluded, fmt.Sprintf("%s: %v", r.Title, err))
			continue
		}
		docs = append(docs, doc)
	}
	if len(report.Excluded) > 0 {
		p.logger.Warn("Records excluded from projection", zap.Int("count", len(report.Excluded)))
	}

	for start := 0; start < len(docs); start += p.batchSize {
		end := start + p.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		if err := ctx.Err(); err != nil {
			return report, err
		}

		var results []ImportResult
		err := p.retry.Do(ctx, func(ctx context.Context) error {
			var uerr error
			results, uerr = p.store.Upsert(ctx, batch)
			return uerr
		})
		if err != nil {
			if ctx.Err() != nil {
				return report, err
			}
			metrics.ObserveIndexBatch("failed")
			p.logger.Error("Batch import failed after retries",
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			for _, d := range batch {
				report.FailedIDs = append(report.FailedIDs, d.ID)
			}
			continue
		}
		metrics.ObserveIndexBatch("ok")

		for i, res := range results {
			if res.Success {
				report.Indexed++
				continue
			}
			p.logger.Warn("Document rejected by engine",
				zap.String("id", batch[i].ID),
				zap.String("error", res.Error))
			report.FailedIDs = append(report.FailedIDs, batch[i].ID)
		}
	}

	p.logger.Info("Projection pass finished",
		zap.Int("indexed", report.Indexed),
		zap.Int("excluded", len(report.Excluded)),
		zap.Int("failed", len(report.FailedIDs)))
	return report, nil
}
