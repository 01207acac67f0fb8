package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/govnewsbr/pipeline/internal/news"
	"github.com/govnewsbr/pipeline/internal/retry"
	istore "github.com/govnewsbr/pipeline/internal/store"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestStore(t *testing.T, pol retry.Policy) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	clk := fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewWithPool(mock, "news", pol, clk, zap.NewNop()), mock
}

// noRetry keeps mock expectations deterministic where retry is not under test.
func noRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 1}
}

func testRecord(title string) news.Record {
	ts := time.Date(2026, 2, 10, 14, 30, 0, 0, time.UTC)
	return news.Record{
		Agency:      "ibama",
		PublishedAt: &ts,
		Title:       title,
		URL:         "https://www.gov.br/ibama/noticia",
		Content:     "corpo da noticia",
		Tags:        []string{"fiscalizacao"},
		ExtractedAt: time.Date(2026, 2, 11, 9, 0, 0, 0, time.UTC),
	}
}

func TestSaveRewritesTableInTransaction(t *testing.T) {
	store, mock := newTestStore(t, noRetry())
	records := []news.Record{testRecord("Operação na Amazônia"), testRecord("Nova portaria")}

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE news_backup_20260301T120000 AS SELECT").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("TRUNCATE TABLE news").
		WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"news"}, columns).
		WillReturnResult(int64(len(records)))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM news`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(len(records))))
	mock.ExpectCommit()

	err := store.Save(context.Background(), records, istore.SaveMetadata{RunID: "run-1", Reason: "merge"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRejectsCountMismatch(t *testing.T) {
	store, mock := newTestStore(t, noRetry())
	records := []news.Record{testRecord("Operação na Amazônia")}

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE news_backup_").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("TRUNCATE TABLE news").
		WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"news"}, columns).
		WillReturnResult(int64(0))
	mock.ExpectRollback()

	err := store.Save(context.Background(), records, istore.SaveMetadata{RunID: "run-2", Reason: "merge"})
	require.ErrorIs(t, err, istore.ErrCountMismatch)
}

func TestSaveRetriesTransientTransactionFailure(t *testing.T) {
	pol := retry.Policy{
		MaxAttempts: 2,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
	store, mock := newTestStore(t, pol)
	records := []news.Record{testRecord("Operação na Amazônia")}

	// A dropped connection fails the first attempt; the second begins a fresh
	// transaction and completes the full rewrite.
	mock.ExpectBegin().WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE news_backup_20260301T120000 AS SELECT").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("TRUNCATE TABLE news").
		WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"news"}, columns).
		WillReturnResult(int64(len(records)))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM news`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(len(records))))
	mock.ExpectCommit()

	err := store.Save(context.Background(), records, istore.SaveMetadata{RunID: "run-3", Reason: "merge"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRejectsInvalidRecordWithoutRetry(t *testing.T) {
	pol := retry.Policy{
		MaxAttempts: 3,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
	store, mock := newTestStore(t, pol)

	err := store.Save(context.Background(),
		[]news.Record{{URL: "https://www.gov.br/ibama/sem-identidade"}},
		istore.SaveMetadata{RunID: "run-4", Reason: "merge"})
	require.ErrorIs(t, err, news.ErrEmptyAgency)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadScansAllRows(t *testing.T) {
	store, mock := newTestStore(t, noRetry())
	rec := testRecord("Operação na Amazônia")
	fp, err := news.NewFingerprint(rec)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM news").
		WillReturnRows(pgxmock.NewRows(columns).AddRow(
			string(fp), rec.Agency, rec.PublishedAt,
			rec.PublishedDatetime, rec.PublishedAtOld, rec.TimeSynthesized,
			rec.Title, rec.URL, rec.Content, rec.Category, rec.Tags,
			rec.ImageURL, rec.ExtractedAt,
		))

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, rec.Agency, got[0].Agency)
	require.Equal(t, rec.Title, got[0].Title)
	require.Equal(t, rec.Tags, got[0].Tags)
	require.True(t, rec.PublishedAt.Equal(*got[0].PublishedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRestoreLatestBackupPicksNewestTable(t *testing.T) {
	store, mock := newTestStore(t, noRetry())

	mock.ExpectQuery("SELECT table_name FROM information_schema.tables").
		WithArgs("news_backup_%").
		WillReturnRows(pgxmock.NewRows([]string{"table_name"}).AddRow("news_backup_20260228T090000"))
	mock.ExpectBegin()
	mock.ExpectExec("TRUNCATE TABLE news").
		WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectExec("INSERT INTO news SELECT \\* FROM news_backup_20260228T090000").
		WillReturnResult(pgxmock.NewResult("INSERT", 42))
	mock.ExpectExec("DROP TABLE news_backup_20260228T090000").
		WillReturnResult(pgxmock.NewResult("DROP", 0))
	mock.ExpectCommit()

	require.NoError(t, store.RestoreLatestBackup(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRestoreLatestBackupWithNone(t *testing.T) {
	store, mock := newTestStore(t, noRetry())

	mock.ExpectQuery("SELECT table_name FROM information_schema.tables").
		WithArgs("news_backup_%").
		WillReturnError(pgx.ErrNoRows)

	err := store.RestoreLatestBackup(context.Background())
	require.True(t, errors.Is(err, istore.ErrNoBackup))
}
