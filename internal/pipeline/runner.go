// Package pipeline orchestrates one end-to-end run: scrape, reconcile,
// persist, project, announce.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/govnewsbr/pipeline/internal/clock"
	"github.com/govnewsbr/pipeline/internal/index"
	"github.com/govnewsbr/pipeline/internal/metrics"
	"github.com/govnewsbr/pipeline/internal/news"
	"github.com/govnewsbr/pipeline/internal/publisher"
	"github.com/govnewsbr/pipeline/internal/scraper"
	"github.com/govnewsbr/pipeline/internal/store"
)

// ErrPartialFailure marks a run that produced results but lost some work:
// a failed source, rejected documents, or an unpublished event.
var ErrPartialFailure = errors.New("pipeline: run finished with partial failures")

// Projector is the index surface the runner needs.
type Projector interface {
	Project(ctx context.Context, records []news.Record) (index.ProjectionReport, error)
}

// Options tune one run.
type Options struct {
	Window scraper.Window
	Policy news.MergePolicy
	// Agencies restricts the run to the named sources. Empty means all.
	Agencies    []string
	Sequential  bool
	Parallelism int
	// ForceSave persists even when reconciliation changed nothing.
	ForceSave bool
	// Reproject pushes the whole dataset to the index instead of only the
	// records this run touched.
	Reproject bool
	// Topic receives the completion event. Empty disables publishing.
	Topic string
}

// Runner wires the pipeline stages together.
type Runner struct {
	sources   []scraper.Source
	store     store.Provider
	projector Projector
	publisher publisher.Provider
	clock     clock.Clock
	logger    *zap.Logger

	mu         sync.Mutex
	lastReport *Report
}

func NewRunner(sources []scraper.Source, st store.Provider, proj Projector, pub publisher.Provider, clk clock.Clock, logger *zap.Logger) *Runner {
	return &Runner{
		sources:   sources,
		store:     st,
		projector: proj,
		publisher: pub,
		clock:     clk,
		logger:    logger,
	}
}

// LastReport returns the most recent run's report, if any run has finished.
func (r *Runner) LastReport() (Report, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastReport == nil {
		return Report{}, false
	}
	return *r.lastReport, true
}

type sourceResult struct {
	name    string
	records []news.Record
	err     error
}

// Run executes one pipeline pass. A returned ErrPartialFailure means the
// dataset was updated but some work was lost; any other error means the run
// changed nothing durable beyond backups.
func (r *Runner) Run(ctx context.Context, opts Options) (Report, error) {
	report := Report{
		RunID:     uuid.NewString(),
		StartedAt: r.clock.Now(),
		Window:    formatWindow(opts.Window),
	}
	sources, err := r.selectSources(opts.Agencies)
	if err != nil {
		return r.finish(report, OutcomeFatal, err)
	}
	for _, s := range sources {
		report.Agencies = append(report.Agencies, s.Name())
	}
	logger := r.logger.With(zap.String("run_id", report.RunID))
	logger.Info("Run started",
		zap.String("window", report.Window),
		zap.Strings("agencies", report.Agencies),
		zap.String("policy", opts.Policy.String()))

	results := r.scrapeAll(ctx, sources, opts, logger)

	var scraped []news.Record
	for _, res := range results {
		if res.err != nil {
			report.SourceErrors = append(report.SourceErrors,
				fmt.Sprintf("%s: %v", res.name, res.err))
			continue
		}
		scraped = append(scraped, res.records...)
	}
	if err := ctx.Err(); err != nil {
		return r.finish(report, OutcomeFatal, err)
	}
	report.Counters.Scraped = len(scraped)

	// Undated or otherwise invalid records cannot join the dataset. They are
	// counted, not silently dropped.
	valid := scraped[:0:0]
	for _, rec := range scraped {
		if err := rec.Validate(); err != nil {
			report.Counters.FailedValidation++
			logger.Warn("Record failed validation",
				zap.String("agency", rec.Agency),
				zap.String("url", rec.URL),
				zap.Error(err))
			continue
		}
		valid = append(valid, rec)
	}
	metrics.ObserveFailure("validation", report.Counters.FailedValidation)

	existingRecords, err := r.store.Load(ctx)
	if err != nil {
		return r.finish(report, OutcomeFatal, err)
	}
	existing, err := news.DatasetFrom(existingRecords)
	if err != nil {
		return r.finish(report, OutcomeFatal, fmt.Errorf("canonical dataset is inconsistent: %w", err))
	}

	touched := r.touchedFingerprints(existing, valid, opts.Policy)

	merged, stats, err := news.Reconcile(existing, valid, opts.Policy)
	if err != nil {
		return r.finish(report, OutcomeFatal, err)
	}
	report.Counters.New = stats.New
	report.Counters.SkippedDuplicate = stats.Skipped
	report.Counters.Updated = stats.Updated
	report.DatasetSize = merged.Len()
	metrics.ObserveMerge(stats.New, stats.Skipped, stats.Updated)

	if stats.Changed() || opts.ForceSave {
		saveStart := r.clock.Now()
		meta := store.SaveMetadata{RunID: report.RunID, Reason: "scrape merge"}
		if err := r.store.Save(ctx, merged.Records(), meta); err != nil {
			return r.finish(report, OutcomeFatal, err)
		}
		metrics.ObserveSave(r.clock.Now().Sub(saveStart), merged.Len())
	} else {
		logger.Info("Dataset unchanged, skipping save")
	}

	toProject := r.projectionSet(merged, touched, opts.Reproject)
	if len(toProject) > 0 {
		proj, err := r.projector.Project(ctx, toProject)
		if err != nil {
			return r.finish(report, OutcomeFatal, err)
		}
		report.Counters.FailedUpload = len(proj.FailedIDs)
		metrics.ObserveFailure("index", len(proj.FailedIDs))
	}

	outcome := OutcomeCompleted
	if len(report.SourceErrors) > 0 || report.Counters.FailedUpload > 0 {
		outcome = OutcomePartial
	}

	if opts.Topic != "" {
		if err := r.publishReport(ctx, opts.Topic, &report, outcome); err != nil {
			logger.Error("Failed to publish completion event", zap.Error(err))
			outcome = OutcomePartial
		}
	}

	if outcome == OutcomePartial {
		return r.finish(report, outcome, ErrPartialFailure)
	}
	return r.finish(report, outcome, nil)
}

// selectSources resolves the agency filter against the configured sources.
func (r *Runner) selectSources(names []string) ([]scraper.Source, error) {
	if len(names) == 0 {
		return r.sources, nil
	}
	byName := make(map[string]scraper.Source, len(r.sources))
	for _, s := range r.sources {
		byName[s.Name()] = s
	}
	out := make([]scraper.Source, 0, len(names))
	for _, name := range names {
		s, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("no source configured for agency %q", name)
		}
		out = append(out, s)
	}
	return out, nil
}

// scrapeAll runs every source, in parallel by default. Sources share nothing
// mutable; each result lands in its own slot.
func (r *Runner) scrapeAll(ctx context.Context, sources []scraper.Source, opts Options, logger *zap.Logger) []sourceResult {
	results := make([]sourceResult, len(sources))

	run := func(i int, src scraper.Source) {
		start := r.clock.Now()
		records, err := src.Scrape(ctx, opts.Window)
		results[i] = sourceResult{name: src.Name(), records: records, err: err}
		metrics.ObserveScrape(src.Name(), len(records), r.clock.Now().Sub(start))
		if err != nil {
			logger.Error("Source failed", zap.String("agency", src.Name()), zap.Error(err))
			return
		}
		logger.Info("Source finished",
			zap.String("agency", src.Name()),
			zap.Int("records", len(records)))
	}

	if opts.Sequential {
		for i, src := range sources {
			run(i, src)
		}
		return results
	}

	workers := opts.Parallelism
	if workers <= 0 {
		workers = 4
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, src scraper.Source) {
			defer wg.Done()
			defer func() { <-sem }()
			run(i, src)
		}(i, src)
	}
	wg.Wait()
	return results
}

// touchedFingerprints resolves, before reconciliation, which identities this
// batch will insert or rewrite.
func (r *Runner) touchedFingerprints(existing *news.Dataset, batch []news.Record, policy news.MergePolicy) map[news.Fingerprint]struct{} {
	touched := make(map[news.Fingerprint]struct{})
	for _, rec := range batch {
		fp, err := news.NewFingerprint(rec)
		if err != nil {
			continue
		}
		if !existing.Contains(fp) || policy == news.PolicyOverwrite {
			touched[fp] = struct{}{}
		}
	}
	return touched
}

// projectionSet picks the canonical records to push to the index: everything
// on a reprojection, otherwise only the identities this run touched.
func (r *Runner) projectionSet(merged *news.Dataset, touched map[news.Fingerprint]struct{}, all bool) []news.Record {
	if all {
		return merged.Records()
	}
	out := make([]news.Record, 0, len(touched))
	for fp := range touched {
		if rec, ok := merged.Get(fp); ok {
			out = append(out, rec)
		}
	}
	return out
}

func (r *Runner) publishReport(ctx context.Context, topic string, report *Report, outcome Outcome) error {
	snapshot := *report
	snapshot.Outcome = outcome
	snapshot.FinishedAt = r.clock.Now()
	payload, err := snapshot.Marshal()
	if err != nil {
		return err
	}
	return r.publisher.Publish(ctx, topic, payload)
}

func (r *Runner) finish(report Report, outcome Outcome, err error) (Report, error) {
	report.Outcome = outcome
	report.FinishedAt = r.clock.Now()
	metrics.ObserveRun(string(outcome))

	r.mu.Lock()
	r.lastReport = &report
	r.mu.Unlock()

	r.logger.Info("Run finished",
		zap.String("run_id", report.RunID),
		zap.String("outcome", string(outcome)),
		zap.Int("scraped", report.Counters.Scraped),
		zap.Int("new", report.Counters.New),
		zap.Int("skipped", report.Counters.SkippedDuplicate),
		zap.Int("updated", report.Counters.Updated),
		zap.Int("failed_validation", report.Counters.FailedValidation),
		zap.Int("failed_upload", report.Counters.FailedUpload),
		zap.Int("dataset_size", report.DatasetSize))
	return report, err
}

func formatWindow(w scraper.Window) string {
	const layout = "2006-01-02"
	if w.MaxDate.IsZero() {
		return w.MinDate.Format(layout) + "..open"
	}
	return w.MinDate.Format(layout) + ".." + w.MaxDate.Format(layout)
}
