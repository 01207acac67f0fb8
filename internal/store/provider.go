// Package store defines the canonical store client: the components that load
// the full canonical dataset, persist updated snapshots with backup-before-
// write semantics, and restore backups during migration rollback.
//
// The remote stores have no row-level locking. A load -> reconcile -> save
// cycle is one logical critical section per run; concurrent writers are an
// operational hazard avoided by scheduling, not solved here.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/govnewsbr/pipeline/internal/news"
)

// SaveMetadata annotates a snapshot write for backup naming and auditing.
type SaveMetadata struct {
	RunID  string
	Reason string
}

// Provider is the canonical store client.
//
// Load returns every record of the canonical dataset; an absent snapshot is
// an empty dataset, not an error. Save must back up the previous snapshot
// before overwriting, retry transient failures with bounded backoff, and
// verify the written record count before declaring success.
type Provider interface {
	Load(ctx context.Context) ([]news.Record, error)
	Save(ctx context.Context, records []news.Record, meta SaveMetadata) error
	// RestoreLatestBackup replaces the current snapshot with the most recent
	// backup. Used by migration rollback.
	RestoreLatestBackup(ctx context.Context) error
}

// ErrNoBackup is returned by RestoreLatestBackup when no backup exists.
var ErrNoBackup = errors.New("store: no backup snapshot available")

// ErrCountMismatch is returned when post-write verification reads back a
// different record count than was written.
var ErrCountMismatch = errors.New("store: post-write record count mismatch")

// BackupTimestampLayout names backup snapshots so they sort chronologically.
const BackupTimestampLayout = "20060102T150405"

// BackupName builds the backup object name for a snapshot taken at t.
func BackupName(t time.Time) string {
	return "dataset-" + t.UTC().Format(BackupTimestampLayout) + ".jsonl"
}
