package index

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/govnewsbr/pipeline/internal/metrics"
	"github.com/govnewsbr/pipeline/internal/news"
	"github.com/govnewsbr/pipeline/internal/retry"
)

func init() {
	metrics.Init()
}

type fakeStore struct {
	batches     [][]Document
	failBatches map[int]error
	rejectIDs   map[string]string
}

func (f *fakeStore) EnsureCollection(ctx context.Context) error { return nil }

func (f *fakeStore) Upsert(ctx context.Context, docs []Document) ([]ImportResult, error) {
	call := len(f.batches)
	f.batches = append(f.batches, docs)
	if err, ok := f.failBatches[call]; ok {
		return nil, err
	}
	results := make([]ImportResult, len(docs))
	for i, d := range docs {
		if msg, ok := f.rejectIDs[d.ID]; ok {
			results[i] = ImportResult{Success: false, Error: msg}
		} else {
			results[i] = ImportResult{Success: true}
		}
	}
	return results, nil
}

func noRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts: 1,
		Sleep:       func(ctx context.Context, d time.Duration) error { return nil },
	}
}

func makeRecords(n int) []news.Record {
	out := make([]news.Record, n)
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	for i := range out {
		ts := base.Add(time.Duration(i) * time.Hour)
		out[i] = news.Record{
			Agency:      "mma",
			PublishedAt: &ts,
			Title:       fmt.Sprintf("Notícia %d", i),
			URL:         "https://www.gov.br/mma/noticia",
			Content:     "texto",
			ExtractedAt: base,
		}
	}
	return out
}

func TestProjectSplitsIntoBatches(t *testing.T) {
	store := &fakeStore{}
	p := NewProjector(store, 1000, noRetry(), zap.NewNop())

	report, err := p.Project(context.Background(), makeRecords(2500))
	require.NoError(t, err)
	require.Equal(t, 2500, report.Indexed)
	require.Empty(t, report.FailedIDs)
	require.Len(t, store.batches, 3)
	require.Len(t, store.batches[0], 1000)
	require.Len(t, store.batches[1], 1000)
	require.Len(t, store.batches[2], 500)
}

func TestProjectContinuesPastFailedBatch(t *testing.T) {
	store := &fakeStore{failBatches: map[int]error{1: errors.New("engine unavailable")}}
	p := NewProjector(store, 1000, noRetry(), zap.NewNop())

	report, err := p.Project(context.Background(), makeRecords(2500))
	require.NoError(t, err)
	require.Equal(t, 1500, report.Indexed)
	require.Len(t, report.FailedIDs, 1000)
	require.True(t, report.Failed())
}

func TestProjectExcludesUndatedRecords(t *testing.T) {
	records := makeRecords(3)
	records[1].PublishedAt = nil

	store := &fakeStore{}
	p := NewProjector(store, 1000, noRetry(), zap.NewNop())

	report, err := p.Project(context.Background(), records)
	require.NoError(t, err)
	require.Equal(t, 2, report.Indexed)
	require.Len(t, report.Excluded, 1)
	require.False(t, report.Failed())
}

func TestProjectRecordsEngineRejections(t *testing.T) {
	records := makeRecords(2)
	fp, err := news.NewFingerprint(records[0])
	require.NoError(t, err)
	badID := string(fp)

	store := &fakeStore{rejectIDs: map[string]string{badID: "field validation failed"}}
	p := NewProjector(store, 1000, noRetry(), zap.NewNop())

	report, err := p.Project(context.Background(), records)
	require.NoError(t, err)
	require.Equal(t, 1, report.Indexed)
	require.Equal(t, []string{badID}, report.FailedIDs)
}

func TestPublishedWeekCrossesYearBoundary(t *testing.T) {
	// 2027-01-01 falls in ISO week 53 of 2026.
	d := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, int32(202653), PublishedWeek(d))

	d = time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	require.Equal(t, int32(202610), PublishedWeek(d))
}
