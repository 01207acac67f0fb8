// Package gcs implements the canonical store on Google Cloud Storage, the
// production backend for the published dataset.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/govnewsbr/pipeline/internal/clock"
	"github.com/govnewsbr/pipeline/internal/news"
	"github.com/govnewsbr/pipeline/internal/retry"
	istore "github.com/govnewsbr/pipeline/internal/store"
)

const snapshotContentType = "application/x-ndjson"

// Config sets bucket layout for the GCS-backed canonical store.
type Config struct {
	Bucket       string `mapstructure:"bucket"`
	Object       string `mapstructure:"object"`
	BackupPrefix string `mapstructure:"backup_prefix"`
	ExportPrefix string `mapstructure:"export_prefix"`
	ExportCSV    bool   `mapstructure:"export_csv"`
}

// Store persists the canonical dataset as a single snapshot object plus
// timestamped backup objects.
type Store struct {
	client *storage.Client
	cfg    Config
	retry  retry.Policy
	clock  clock.Clock
	logger *zap.Logger
}

// New initializes the GCS client and verifies bucket access. Authentication
// uses Application Default Credentials.
func New(ctx context.Context, cfg Config, pol retry.Policy, clk clock.Clock, logger *zap.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("store.gcs.bucket is required")
	}
	if cfg.Object == "" {
		cfg.Object = "news/dataset.jsonl"
	}
	if cfg.BackupPrefix == "" {
		cfg.BackupPrefix = "news/backups/"
	}
	if cfg.ExportPrefix == "" {
		cfg.ExportPrefix = "news/exports/"
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	// Fail fast on startup if the bucket is misconfigured.
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		if cerr := client.Close(); cerr != nil {
			logger.Warn("Failed to close GCS client after bucket check failure", zap.Error(cerr))
		}
		return nil, fmt.Errorf("failed to get GCS bucket %q attributes: %w", cfg.Bucket, err)
	}

	return &Store{client: client, cfg: cfg, retry: pol, clock: clk, logger: logger}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close GCS client: %w", err)
	}
	return nil
}

// Load reads and decodes the full snapshot. An absent object is an empty
// dataset, matching a dataset that has never been published.
func (s *Store) Load(ctx context.Context) ([]news.Record, error) {
	var data []byte
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var rerr error
		data, rerr = s.readObject(ctx, s.cfg.Object)
		return rerr
	})
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			s.logger.Info("No existing snapshot in bucket, starting empty",
				zap.String("object", s.cfg.Object))
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return istore.DecodeSnapshot(data)
}

// Save copies the previous snapshot to a timestamped backup object, writes
// the new snapshot with bounded retry, and verifies the written record count
// by reading the object back.
func (s *Store) Save(ctx context.Context, records []news.Record, meta istore.SaveMetadata) error {
	data, err := istore.EncodeSnapshot(records)
	if err != nil {
		return err
	}

	if err := s.backupCurrent(ctx); err != nil {
		return err
	}

	if err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.writeObject(ctx, s.cfg.Object, data)
	}); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	written, err := s.Load(ctx)
	if err != nil {
		return fmt.Errorf("verify snapshot: %w", err)
	}
	if len(written) != len(records) {
		return fmt.Errorf("%w: wrote %d, read back %d",
			istore.ErrCountMismatch, len(records), len(written))
	}

	s.logger.Info("Snapshot saved to GCS",
		zap.Int("records", len(records)),
		zap.String("object", s.cfg.Object),
		zap.String("run_id", meta.RunID),
		zap.String("reason", meta.Reason))

	if s.cfg.ExportCSV {
		if err := s.writeExports(ctx, records); err != nil {
			s.logger.Warn("CSV export failed", zap.Error(err))
		}
	}
	return nil
}

func (s *Store) backupCurrent(ctx context.Context) error {
	bkt := s.client.Bucket(s.cfg.Bucket)
	src := bkt.Object(s.cfg.Object)

	if _, err := src.Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("stat snapshot for backup: %w", err)
	}

	name := path.Join(strings.TrimSuffix(s.cfg.BackupPrefix, "/"), istore.BackupName(s.clock.Now()))
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		if _, cerr := bkt.Object(name).CopierFrom(src).Run(ctx); cerr != nil {
			return retry.MarkTransient(cerr)
		}
		return nil
	})
	if err != nil {
		// A failed backup aborts the whole save: the previous snapshot stays
		// authoritative.
		return fmt.Errorf("backup snapshot: %w", err)
	}
	s.logger.Info("Backup written", zap.String("object", name))
	return nil
}

// RestoreLatestBackup copies the newest backup object over the snapshot.
func (s *Store) RestoreLatestBackup(ctx context.Context) error {
	bkt := s.client.Bucket(s.cfg.Bucket)

	var names []string
	it := bkt.Objects(ctx, &storage.Query{Prefix: s.cfg.BackupPrefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("list backups: %w", err)
		}
		names = append(names, attrs.Name)
	}
	if len(names) == 0 {
		return istore.ErrNoBackup
	}
	sort.Strings(names)
	latest := names[len(names)-1]

	err := s.retry.Do(ctx, func(ctx context.Context) error {
		dst := bkt.Object(s.cfg.Object)
		if _, cerr := dst.CopierFrom(bkt.Object(latest)).Run(ctx); cerr != nil {
			return retry.MarkTransient(cerr)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("restore snapshot from %s: %w", latest, err)
	}
	if err := bkt.Object(latest).Delete(ctx); err != nil {
		s.logger.Warn("Failed to delete consumed backup", zap.String("object", latest), zap.Error(err))
	}
	s.logger.Info("Snapshot restored from backup", zap.String("object", latest))
	return nil
}

func (s *Store) readObject(ctx context.Context, name string) ([]byte, error) {
	rc, err := s.client.Bucket(s.cfg.Bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, err
		}
		return nil, retry.MarkTransient(err)
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			s.logger.Warn("Failed to close GCS reader", zap.Error(cerr))
		}
	}()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, retry.MarkTransient(err)
	}
	return data, nil
}

func (s *Store) writeObject(ctx context.Context, name string, data []byte) error {
	wc := s.client.Bucket(s.cfg.Bucket).Object(name).NewWriter(ctx)
	wc.ContentType = snapshotContentType
	if _, err := io.Copy(wc, bytes.NewReader(data)); err != nil {
		if cerr := wc.Close(); cerr != nil {
			s.logger.Warn("Failed to close GCS writer after write failure", zap.Error(cerr))
		}
		return retry.MarkTransient(fmt.Errorf("write object %s: %w", name, err))
	}
	// Close finalizes the upload and flushes buffered data.
	if err := wc.Close(); err != nil {
		return retry.MarkTransient(fmt.Errorf("finalize object %s: %w", name, err))
	}
	return nil
}

func (s *Store) writeExports(ctx context.Context, records []news.Record) error {
	write := func(sub, name string, group []news.Record) error {
		var buf bytes.Buffer
		if err := istore.WriteCSV(&buf, group); err != nil {
			return err
		}
		object := path.Join(strings.TrimSuffix(s.cfg.ExportPrefix, "/"), sub, name+"_news_dataset.csv")
		return s.retry.Do(ctx, func(ctx context.Context) error {
			return s.writeObject(ctx, object, buf.Bytes())
		})
	}

	for agency, group := range istore.GroupByAgency(records) {
		if err := write("agencies", agency, group); err != nil {
			return err
		}
	}
	for year, group := range istore.GroupByYear(records) {
		if err := write("years", year, group); err != nil {
			return err
		}
	}
	return nil
}
