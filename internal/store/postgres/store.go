// Package postgres implements the canonical store on PostgreSQL. The dataset
// is a single table, rewritten atomically on each save; backups are dated
// copies of that table.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/govnewsbr/pipeline/internal/clock"
	"github.com/govnewsbr/pipeline/internal/news"
	"github.com/govnewsbr/pipeline/internal/retry"
	istore "github.com/govnewsbr/pipeline/internal/store"
)

// Config holds connection settings for the PostgreSQL-backed store.
type Config struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

const defaultTable = "news"

// backupTablePrefix namespaces backup tables so RestoreLatestBackup can find
// them by listing the catalog.
const backupTablePrefix = "news_backup_"

var columns = []string{
	"fingerprint", "agency", "published_at", "published_datetime",
	"published_at_old", "time_synthesized", "title", "url", "content",
	"category", "tags", "image_url", "extracted_at",
}

// Pool is the subset of pgxpool.Pool the store uses. Tests substitute a mock.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists the canonical dataset in a PostgreSQL table.
type Store struct {
	pool   Pool
	table  string
	retry  retry.Policy
	clock  clock.Clock
	logger *zap.Logger
}

// New connects to PostgreSQL and ensures the dataset table exists.
func New(ctx context.Context, cfg Config, pol retry.Policy, clk clock.Clock, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := NewWithPool(pool, cfg.Table, pol, clk, logger)
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool wires an existing pool, real or mocked.
func NewWithPool(pool Pool, table string, pol retry.Policy, clk clock.Clock, logger *zap.Logger) *Store {
	if table == "" {
		table = defaultTable
	}
	return &Store{pool: pool, table: table, retry: pol, clock: clk, logger: logger}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		fingerprint TEXT PRIMARY KEY,
		agency TEXT NOT NULL,
		published_at TIMESTAMPTZ,
		published_datetime TIMESTAMPTZ,
		published_at_old TIMESTAMPTZ,
		time_synthesized BOOLEAN NOT NULL DEFAULT FALSE,
		title TEXT NOT NULL,
		url TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		tags TEXT[] NOT NULL DEFAULT '{}',
		image_url TEXT NOT NULL DEFAULT '',
		extracted_at TIMESTAMPTZ NOT NULL
	)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Load reads every row of the dataset table.
func (s *Store) Load(ctx context.Context) ([]news.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query dataset: %w", err)
	}
	defer rows.Close()

	var records []news.Record
	for rows.Next() {
		var r news.Record
		var fp string
		if err := rows.Scan(&fp, &r.Agency, &r.PublishedAt, &r.PublishedDatetime,
			&r.PublishedAtOld, &r.TimeSynthesized, &r.Title, &r.URL, &r.Content,
			&r.Category, &r.Tags, &r.ImageURL, &r.ExtractedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dataset rows: %w", err)
	}
	return records, nil
}

// Save rewrites the dataset table in one transaction: snapshot the current
// rows into a backup table, truncate, bulk-load the new rows, and verify the
// resulting count before committing. Transaction failures retry per the
// injected policy; each attempt begins a fresh transaction, so a failed one
// leaves the table untouched.
func (s *Store) Save(ctx context.Context, records []news.Record, meta istore.SaveMetadata) error {
	// Rows are fingerprinted before any attempt so a validation failure is
	// final rather than retried.
	rows := make([][]any, len(records))
	for i, r := range records {
		fp, err := news.NewFingerprint(r)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		rows[i] = []any{
			string(fp), r.Agency, r.PublishedAt,
			r.PublishedDatetime, r.PublishedAtOld, r.TimeSynthesized,
			r.Title, r.URL, r.Content, r.Category, r.Tags, r.ImageURL,
			r.ExtractedAt,
		}
	}

	backup := backupTablePrefix + s.clock.Now().UTC().Format(istore.BackupTimestampLayout)
	if err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.rewriteTable(ctx, backup, rows)
	}); err != nil {
		return err
	}

	s.logger.Info("Dataset saved to PostgreSQL",
		zap.Int("records", len(records)),
		zap.String("backup_table", backup),
		zap.String("run_id", meta.RunID),
		zap.String("reason", meta.Reason))
	return nil
}

func (s *Store) rewriteTable(ctx context.Context, backup string, rows [][]any) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return retry.MarkTransient(fmt.Errorf("begin save transaction: %w", err))
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx,
		fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s", backup, s.table)); err != nil {
		return retry.MarkTransient(fmt.Errorf("create backup table %s: %w", backup, err))
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s", s.table)); err != nil {
		return retry.MarkTransient(fmt.Errorf("truncate dataset table: %w", err))
	}

	copied, err := tx.CopyFrom(ctx, pgx.Identifier{s.table}, columns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			return rows[i], nil
		}))
	if err != nil {
		return retry.MarkTransient(fmt.Errorf("copy records: %w", err))
	}
	if copied != int64(len(rows)) {
		return fmt.Errorf("%w: copied %d, expected %d", istore.ErrCountMismatch, copied, len(rows))
	}

	var count int64
	if err := tx.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&count); err != nil {
		return retry.MarkTransient(fmt.Errorf("verify row count: %w", err))
	}
	if count != int64(len(rows)) {
		return fmt.Errorf("%w: table holds %d, expected %d", istore.ErrCountMismatch, count, len(rows))
	}

	if err := tx.Commit(ctx); err != nil {
		return retry.MarkTransient(fmt.Errorf("commit save transaction: %w", err))
	}
	return nil
}

// RestoreLatestBackup replaces the dataset table's rows with those of the
// newest backup table, then drops that backup. Transient failures retry per
// the injected policy.
func (s *Store) RestoreLatestBackup(ctx context.Context) error {
	var backup string
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		qerr := s.pool.QueryRow(ctx,
			`SELECT table_name FROM information_schema.tables
			 WHERE table_schema = current_schema() AND table_name LIKE $1
			 ORDER BY table_name DESC LIMIT 1`,
			backupTablePrefix+"%").Scan(&backup)
		if qerr != nil {
			if qerr == pgx.ErrNoRows {
				return istore.ErrNoBackup
			}
			return retry.MarkTransient(fmt.Errorf("find latest backup table: %w", qerr))
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.restoreFrom(ctx, backup)
	}); err != nil {
		return err
	}
	s.logger.Info("Dataset restored from backup table", zap.String("backup_table", backup))
	return nil
}

func (s *Store) restoreFrom(ctx context.Context, backup string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return retry.MarkTransient(fmt.Errorf("begin restore transaction: %w", err))
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s", s.table)); err != nil {
		return retry.MarkTransient(fmt.Errorf("truncate dataset table: %w", err))
	}
	if _, err := tx.Exec(ctx,
		fmt.Sprintf("INSERT INTO %s SELECT * FROM %s", s.table, backup)); err != nil {
		return retry.MarkTransient(fmt.Errorf("restore from %s: %w", backup, err))
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("DROP TABLE %s", backup)); err != nil {
		return retry.MarkTransient(fmt.Errorf("drop consumed backup %s: %w", backup, err))
	}
	if err := tx.Commit(ctx); err != nil {
		return retry.MarkTransient(fmt.Errorf("commit restore transaction: %w", err))
	}
	return nil
}
