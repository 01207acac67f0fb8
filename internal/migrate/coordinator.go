// Package migrate upgrades the dataset's publication field from date
// precision to full timestamps, in resumable phases with a persisted ledger.
// Every phase saves through the store, which snapshots a backup first, so
// Rollback can always recover the previous phase's shape.
package migrate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/govnewsbr/pipeline/internal/clock"
	"github.com/govnewsbr/pipeline/internal/store"
	"github.com/govnewsbr/pipeline/internal/temporal"
)

// Coordinator drives the migration phase by phase.
type Coordinator struct {
	store      store.Provider
	ledger     LedgerStore
	normalizer *temporal.Normalizer
	clock      clock.Clock
	logger     *zap.Logger
}

func NewCoordinator(st store.Provider, ledger LedgerStore, norm *temporal.Normalizer, clk clock.Clock, logger *zap.Logger) *Coordinator {
	return &Coordinator{store: st, ledger: ledger, normalizer: norm, clock: clk, logger: logger}
}

// Backfill populates the staging timestamp field for every record. Records
// with only a date get regional midnight and are flagged as synthesized;
// records that already carry a time keep it. The phase fails if any record
// ends up without a staging value.
func (c *Coordinator) Backfill(ctx context.Context, runID string) error {
	st, err := c.guard(PhaseNotStarted)
	if err != nil {
		return err
	}

	records, err := c.store.Load(ctx)
	if err != nil {
		return err
	}

	synthesized := 0
	for i := range records {
		r := &records[i]
		if r.PublishedDatetime != nil {
			continue
		}
		if r.PublishedAt == nil {
			// Undated records stay undated. They are excluded from search
			// anyway and must not receive an invented timestamp.
			continue
		}
		ts := c.normalizer.Midnight(*r.PublishedAt)
		r.PublishedDatetime = &ts
		r.TimeSynthesized = true
		synthesized++
	}

	missing := 0
	for _, r := range records {
		if r.PublishedAt != nil && r.PublishedDatetime == nil {
			missing++
		}
	}
	if missing > 0 {
		return fmt.Errorf("backfill left %d dated records without a timestamp", missing)
	}

	if err := c.store.Save(ctx, records, store.SaveMetadata{RunID: runID, Reason: "migration backfill"}); err != nil {
		return err
	}
	c.logger.Info("Backfill complete",
		zap.Int("records", len(records)),
		zap.Int("synthesized", synthesized))
	return c.advance(st, PhaseBackfilled, runID)
}

// Rename swaps the fields: the old date value moves to the alias field and
// the staged timestamp becomes the canonical publication time.
func (c *Coordinator) Rename(ctx context.Context, runID string) error {
	st, err := c.guard(PhaseBackfilled)
	if err != nil {
		return err
	}

	records, err := c.store.Load(ctx)
	if err != nil {
		return err
	}
	for i := range records {
		r := &records[i]
		if r.PublishedDatetime == nil {
			continue
		}
		r.PublishedAtOld = r.PublishedAt
		r.PublishedAt = r.PublishedDatetime
		r.PublishedDatetime = nil
	}

	if err := c.store.Save(ctx, records, store.SaveMetadata{RunID: runID, Reason: "migration rename"}); err != nil {
		return err
	}
	c.logger.Info("Rename complete", zap.Int("records", len(records)))
	return c.advance(st, PhaseRenamed, runID)
}

// Verify checks that every renamed record's timestamp still falls on the day
// the alias field recorded. Identity must be unaffected: fingerprints are
// date-based, so a successful verify also means no record was re-minted.
func (c *Coordinator) Verify(ctx context.Context, runID string) error {
	st, err := c.guard(PhaseRenamed)
	if err != nil {
		return err
	}

	records, err := c.store.Load(ctx)
	if err != nil {
		return err
	}

	mismatches := 0
	for _, r := range records {
		if r.PublishedAtOld == nil || r.PublishedAt == nil {
			continue
		}
		// The alias holds date precision, so its calendar date is read as
		// recorded. The new timestamp is interpreted in the region whose
		// midnight was synthesized.
		got := r.PublishedAt.In(c.normalizer.Location())
		want := *r.PublishedAtOld
		if got.Year() != want.Year() || got.YearDay() != want.YearDay() {
			mismatches++
			c.logger.Error("Publication day changed during migration",
				zap.String("url", r.URL),
				zap.Time("old", want),
				zap.Time("new", got))
		}
	}
	if mismatches > 0 {
		return fmt.Errorf("verification found %d records whose publication day changed", mismatches)
	}

	// The records are unchanged; the save exists to snapshot the renamed
	// shape, so a rollback from verified restores it and not the backfill
	// backup taken by Rename.
	if err := c.store.Save(ctx, records, store.SaveMetadata{RunID: runID, Reason: "migration verify"}); err != nil {
		return err
	}
	c.logger.Info("Verification complete", zap.Int("records", len(records)))
	return c.advance(st, PhaseVerified, runID)
}

// Cleanup drops the alias field once verification has passed.
func (c *Coordinator) Cleanup(ctx context.Context, runID string) error {
	st, err := c.guard(PhaseVerified)
	if err != nil {
		return err
	}

	records, err := c.store.Load(ctx)
	if err != nil {
		return err
	}
	for i := range records {
		records[i].PublishedAtOld = nil
	}

	if err := c.store.Save(ctx, records, store.SaveMetadata{RunID: runID, Reason: "migration cleanup"}); err != nil {
		return err
	}
	c.logger.Info("Cleanup complete", zap.Int("records", len(records)))
	return c.advance(st, PhaseCleaned, runID)
}

// Rollback restores the most recent backup snapshot and moves the ledger
// back one phase.
func (c *Coordinator) Rollback(ctx context.Context, runID string) error {
	st, err := c.ledger.Read()
	if err != nil {
		return err
	}
	if st.Phase == PhaseNotStarted {
		return fmt.Errorf("%w: nothing to roll back", ErrPhaseOrder)
	}
	if err := c.store.RestoreLatestBackup(ctx); err != nil {
		return err
	}
	prev := st.Phase.Previous()
	c.logger.Info("Rolled back one migration phase",
		zap.String("from", string(st.Phase)),
		zap.String("to", string(prev)))
	return c.advance(st, prev, runID)
}

// CurrentPhase reads the ledger.
func (c *Coordinator) CurrentPhase() (Phase, error) {
	st, err := c.ledger.Read()
	if err != nil {
		return "", err
	}
	return st.Phase, nil
}

func (c *Coordinator) guard(want Phase) (State, error) {
	st, err := c.ledger.Read()
	if err != nil {
		return State{}, err
	}
	if st.Phase != want {
		return State{}, fmt.Errorf("%w: phase is %q, expected %q", ErrPhaseOrder, st.Phase, want)
	}
	return st, nil
}

func (c *Coordinator) advance(st State, to Phase, runID string) error {
	st.Phase = to
	st.UpdatedAt = c.clock.Now()
	st.RunID = runID
	return c.ledger.Write(st)
}
