package news

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func record(agency, title string, published time.Time) Record {
	return Record{
		Agency:      agency,
		PublishedAt: tsPtr(published),
		Title:       title,
		URL:         "https://www.gov.br/" + agency + "/noticias/" + title,
		ExtractedAt: time.Date(2024, 7, 4, 9, 0, 0, 0, time.UTC),
	}
}

func TestReconcileAppendsNewIntoEmpty(t *testing.T) {
	t.Parallel()

	incoming := []Record{record("mec", "A", time.Date(2024, 7, 3, 0, 0, 0, 0, time.UTC))}
	merged, stats, err := Reconcile(NewDataset(), incoming, PolicySkip)
	require.NoError(t, err)
	require.Equal(t, 1, merged.Len())
	require.Equal(t, MergeStats{New: 1}, stats)
}

func TestReconcileIdempotentUnderSkip(t *testing.T) {
	t.Parallel()

	incoming := []Record{record("mec", "A", time.Date(2024, 7, 3, 0, 0, 0, 0, time.UTC))}

	once, _, err := Reconcile(NewDataset(), incoming, PolicySkip)
	require.NoError(t, err)
	twice, stats, err := Reconcile(once, incoming, PolicySkip)
	require.NoError(t, err)

	require.Equal(t, once.Records(), twice.Records())
	require.Equal(t, MergeStats{Skipped: 1}, stats)
}

func TestReconcileOverwriteReplacesRecord(t *testing.T) {
	t.Parallel()

	original := record("mec", "A", time.Date(2024, 7, 3, 0, 0, 0, 0, time.UTC))
	existing, _, err := Reconcile(NewDataset(), []Record{original}, PolicySkip)
	require.NoError(t, err)

	richer := original
	richer.Content = "full article body"
	richer.PublishedAt = tsPtr(time.Date(2024, 7, 3, 14, 35, 0, 0, time.UTC))

	merged, stats, err := Reconcile(existing, []Record{richer}, PolicyOverwrite)
	require.NoError(t, err)
	require.Equal(t, MergeStats{Updated: 1}, stats)
	require.Equal(t, 1, merged.Len())

	fp, err := NewFingerprint(original)
	require.NoError(t, err)
	got, ok := merged.Get(fp)
	require.True(t, ok)
	require.Equal(t, "full article body", got.Content)
}

func TestReconcileInBatchDuplicateKeepsLast(t *testing.T) {
	t.Parallel()

	first := record("mec", "A", time.Date(2024, 7, 3, 0, 0, 0, 0, time.UTC))
	last := first
	last.Content = "later scrape"

	merged, stats, err := Reconcile(NewDataset(), []Record{first, last}, PolicySkip)
	require.NoError(t, err)
	require.Equal(t, 1, merged.Len())
	require.Equal(t, MergeStats{New: 1}, stats)
	require.Equal(t, "later scrape", merged.Records()[0].Content)
}

func TestReconcileSortsByAgencyThenPublished(t *testing.T) {
	t.Parallel()

	incoming := []Record{
		record("saude", "C", time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)),
		record("mec", "B", time.Date(2024, 7, 5, 0, 0, 0, 0, time.UTC)),
		record("mec", "A", time.Date(2024, 7, 3, 0, 0, 0, 0, time.UTC)),
	}

	merged, _, err := Reconcile(NewDataset(), incoming, PolicySkip)
	require.NoError(t, err)

	got := merged.Records()
	require.Equal(t, "A", got[0].Title)
	require.Equal(t, "B", got[1].Title)
	require.Equal(t, "C", got[2].Title)

	// Same input in a different order yields the identical ordering.
	shuffled := []Record{incoming[1], incoming[2], incoming[0]}
	again, _, err := Reconcile(NewDataset(), shuffled, PolicySkip)
	require.NoError(t, err)
	require.Equal(t, merged.Records(), again.Records())
}

func TestReconcileEmptyBatchIsNoOp(t *testing.T) {
	t.Parallel()

	existing, _, err := Reconcile(NewDataset(), []Record{
		record("mec", "A", time.Date(2024, 7, 3, 0, 0, 0, 0, time.UTC)),
	}, PolicySkip)
	require.NoError(t, err)

	merged, stats, err := Reconcile(existing, nil, PolicySkip)
	require.NoError(t, err)
	require.False(t, stats.Changed())
	require.Equal(t, existing.Records(), merged.Records())
}

func TestReconcileLeavesExistingUntouchedOnError(t *testing.T) {
	t.Parallel()

	existing, _, err := Reconcile(NewDataset(), []Record{
		record("mec", "A", time.Date(2024, 7, 3, 0, 0, 0, 0, time.UTC)),
	}, PolicySkip)
	require.NoError(t, err)
	before := existing.Records()

	bad := Record{Agency: "mec", Title: ""}
	_, _, err = Reconcile(existing, []Record{bad}, PolicySkip)
	require.ErrorIs(t, err, ErrEmptyTitle)
	require.Equal(t, before, existing.Records())
}
