package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/govnewsbr/pipeline/internal/news"
	"github.com/govnewsbr/pipeline/internal/store"
)

func rec(title string) news.Record {
	p := time.Date(2024, 7, 3, 0, 0, 0, 0, time.UTC)
	return news.Record{
		Agency:      "mec",
		PublishedAt: &p,
		Title:       title,
		URL:         "https://www.gov.br/mec/noticias/" + title,
		ExtractedAt: time.Date(2024, 7, 4, 0, 0, 0, 0, time.UTC),
	}
}

func TestLoadEmptyStore(t *testing.T) {
	t.Parallel()

	s := New()
	records, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestSaveBacksUpPreviousSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	require.NoError(t, s.Save(ctx, []news.Record{rec("a")}, store.SaveMetadata{Reason: "first"}))
	require.Equal(t, 0, s.BackupCount())

	require.NoError(t, s.Save(ctx, []news.Record{rec("a"), rec("b")}, store.SaveMetadata{Reason: "second"}))
	require.Equal(t, 1, s.BackupCount())

	records, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestRestoreLatestBackup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	require.NoError(t, s.Save(ctx, []news.Record{rec("a")}, store.SaveMetadata{}))
	require.NoError(t, s.Save(ctx, []news.Record{rec("a"), rec("b")}, store.SaveMetadata{}))

	require.NoError(t, s.RestoreLatestBackup(ctx))
	records, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.ErrorIs(t, s.RestoreLatestBackup(ctx), store.ErrNoBackup)
}

func TestFailureInjection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	s.FailNextSaves = 1
	s.SaveErr = errors.New("store unreachable")

	err := s.Save(ctx, []news.Record{rec("a")}, store.SaveMetadata{})
	require.Error(t, err)

	records, err := s.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, records)

	require.NoError(t, s.Save(ctx, []news.Record{rec("a")}, store.SaveMetadata{}))
}
