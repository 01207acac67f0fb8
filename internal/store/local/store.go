// Package local implements a filesystem-backed canonical store, used for
// development and as the snapshot format reference for the remote stores.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/govnewsbr/pipeline/internal/clock"
	"github.com/govnewsbr/pipeline/internal/news"
	"github.com/govnewsbr/pipeline/internal/store"
)

const (
	snapshotName = "dataset.jsonl"
	backupDir    = "backups"
	exportDir    = "exports"
)

// Config captures the parameters for the filesystem store.
type Config struct {
	// BaseDir is the root directory where the snapshot lives.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// ExportCSV toggles the per-agency and per-year CSV exports on save.
	ExportCSV bool `mapstructure:"export_csv" yaml:"export_csv"`
}

// Store persists the canonical dataset on the local filesystem.
type Store struct {
	baseDir   string
	exportCSV bool
	clock     clock.Clock
	logger    *zap.Logger
}

// New creates a filesystem store rooted at cfg.BaseDir, creating the
// directory if needed and verifying it is writable.
func New(cfg Config, clk clock.Clock, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
				return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
			}
		} else {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Store{
		baseDir:   cfg.BaseDir,
		exportCSV: cfg.ExportCSV,
		clock:     clk,
		logger:    logger,
	}, nil
}

func (s *Store) snapshotPath() string {
	return filepath.Join(s.baseDir, snapshotName)
}

// Load reads the canonical snapshot. A missing file is an empty dataset.
func (s *Store) Load(_ context.Context) ([]news.Record, error) {
	data, err := os.ReadFile(s.snapshotPath())
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("No existing snapshot found, starting empty",
				zap.String("path", s.snapshotPath()))
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return store.DecodeSnapshot(data)
}

// Save backs up the previous snapshot, writes the new one atomically via a
// temp file rename, and verifies the record count by reading it back.
func (s *Store) Save(ctx context.Context, records []news.Record, meta store.SaveMetadata) error {
	data, err := store.EncodeSnapshot(records)
	if err != nil {
		return err
	}

	if err := s.backupCurrent(); err != nil {
		return err
	}

	tmp := s.snapshotPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.snapshotPath()); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	written, err := s.Load(ctx)
	if err != nil {
		return fmt.Errorf("verify snapshot: %w", err)
	}
	if len(written) != len(records) {
		return fmt.Errorf("%w: wrote %d, read back %d",
			store.ErrCountMismatch, len(records), len(written))
	}

	s.logger.Info("Snapshot saved",
		zap.Int("records", len(records)),
		zap.String("run_id", meta.RunID),
		zap.String("reason", meta.Reason))

	if s.exportCSV {
		if err := s.writeExports(records); err != nil {
			// Exports are derived artifacts; failing them does not invalidate
			// the canonical write.
			s.logger.Warn("CSV export failed", zap.Error(err))
		}
	}
	return nil
}

func (s *Store) backupCurrent() error {
	current, err := os.ReadFile(s.snapshotPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read current snapshot for backup: %w", err)
	}
	dir := filepath.Join(s.baseDir, backupDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}
	name := store.BackupName(s.clock.Now())
	if err := os.WriteFile(filepath.Join(dir, name), current, 0o600); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	return nil
}

// RestoreLatestBackup replaces the snapshot with the newest backup file.
func (s *Store) RestoreLatestBackup(_ context.Context) error {
	dir := filepath.Join(s.baseDir, backupDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return store.ErrNoBackup
		}
		return fmt.Errorf("list backups: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return store.ErrNoBackup
	}
	// Backup names embed a sortable timestamp.
	sort.Strings(names)
	latest := filepath.Join(dir, names[len(names)-1])

	data, err := os.ReadFile(latest)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if err := os.WriteFile(s.snapshotPath(), data, 0o600); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	if err := os.Remove(latest); err != nil {
		s.logger.Warn("Failed to remove consumed backup", zap.String("path", latest), zap.Error(err))
	}
	s.logger.Info("Snapshot restored from backup", zap.String("backup", names[len(names)-1]))
	return nil
}

func (s *Store) writeExports(records []news.Record) error {
	write := func(sub, name string, group []news.Record) error {
		dir := filepath.Join(s.baseDir, exportDir, sub)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create export directory: %w", err)
		}
		f, err := os.Create(filepath.Join(dir, name+"_news_dataset.csv"))
		if err != nil {
			return fmt.Errorf("create export file: %w", err)
		}
		defer f.Close()
		return store.WriteCSV(f, group)
	}

	for agency, group := range store.GroupByAgency(records) {
		if err := write("agencies", agency, group); err != nil {
			return err
		}
	}
	for year, group := range store.GroupByYear(records) {
		if err := write("years", year, group); err != nil {
			return err
		}
	}
	return nil
}
