// Package memory holds canonical snapshots in-memory for development and
// tests.
package memory

import (
	"context"
	"sync"

	"github.com/govnewsbr/pipeline/internal/news"
	"github.com/govnewsbr/pipeline/internal/store"
)

// Store keeps the snapshot and its backup history in process memory. The
// zero value is not usable; call New.
type Store struct {
	mu       sync.Mutex
	snapshot []byte
	backups  [][]byte

	// FailNextSaves makes the next N Save calls fail, for exercising the
	// no-partial-persist path in pipeline tests.
	FailNextSaves int
	// SaveErr is the error returned while FailNextSaves > 0.
	SaveErr error
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{}
}

// Seed replaces the snapshot without taking a backup. Test setup only.
func (s *Store) Seed(records []news.Record) error {
	data, err := store.EncodeSnapshot(records)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = data
	return nil
}

// Load returns the current snapshot; an absent snapshot is an empty dataset.
func (s *Store) Load(_ context.Context) ([]news.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return nil, nil
	}
	return store.DecodeSnapshot(s.snapshot)
}

// Save backs up the previous snapshot, then replaces it.
func (s *Store) Save(_ context.Context, records []news.Record, _ store.SaveMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNextSaves > 0 {
		s.FailNextSaves--
		return s.SaveErr
	}
	data, err := store.EncodeSnapshot(records)
	if err != nil {
		return err
	}
	if s.snapshot != nil {
		s.backups = append(s.backups, s.snapshot)
	}
	s.snapshot = data

	// Verification mirrors the remote stores even though memory cannot lose
	// writes; it keeps test behavior honest.
	decoded, err := store.DecodeSnapshot(s.snapshot)
	if err != nil {
		return err
	}
	if len(decoded) != len(records) {
		return store.ErrCountMismatch
	}
	return nil
}

// RestoreLatestBackup replaces the snapshot with the most recent backup.
func (s *Store) RestoreLatestBackup(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.backups) == 0 {
		return store.ErrNoBackup
	}
	last := len(s.backups) - 1
	s.snapshot = s.backups[last]
	s.backups = s.backups[:last]
	return nil
}

// BackupCount reports how many backups have been taken.
func (s *Store) BackupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.backups)
}
