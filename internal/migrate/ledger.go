package migrate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Phase is the recorded progress of the publication-time migration. Phases
// advance strictly in order; Rollback moves back one step.
type Phase string

const (
	PhaseNotStarted Phase = "not-started"
	PhaseBackfilled Phase = "backfilled"
	PhaseRenamed    Phase = "renamed"
	PhaseVerified   Phase = "verified"
	PhaseCleaned    Phase = "cleaned"
)

var phaseOrder = []Phase{PhaseNotStarted, PhaseBackfilled, PhaseRenamed, PhaseVerified, PhaseCleaned}

// ErrPhaseOrder means an operation was attempted out of sequence.
var ErrPhaseOrder = errors.New("migrate: operation not valid in current phase")

func phaseIndex(p Phase) int {
	for i, q := range phaseOrder {
		if q == p {
			return i
		}
	}
	return -1
}

// Previous returns the phase one step back, or not-started.
func (p Phase) Previous() Phase {
	i := phaseIndex(p)
	if i <= 0 {
		return PhaseNotStarted
	}
	return phaseOrder[i-1]
}

// State is the persisted migration ledger entry.
type State struct {
	Phase     Phase     `yaml:"phase"`
	UpdatedAt time.Time `yaml:"updated_at"`
	RunID     string    `yaml:"run_id"`
}

// LedgerStore persists migration state across runs.
type LedgerStore interface {
	Read() (State, error)
	Write(State) error
}

// FileLedger keeps the migration state in a YAML file next to the dataset.
type FileLedger struct {
	path string
}

func NewFileLedger(path string) *FileLedger {
	return &FileLedger{path: path}
}

func (l *FileLedger) Read() (State, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{Phase: PhaseNotStarted}, nil
		}
		return State{}, fmt.Errorf("read migration ledger: %w", err)
	}
	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("parse migration ledger: %w", err)
	}
	if st.Phase == "" {
		st.Phase = PhaseNotStarted
	}
	return st, nil
}

func (l *FileLedger) Write(st State) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal migration ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("write migration ledger: %w", err)
	}
	return nil
}

// MemoryLedger is an in-process LedgerStore for tests and dry runs.
type MemoryLedger struct {
	mu sync.Mutex
	st State
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{st: State{Phase: PhaseNotStarted}}
}

func (l *MemoryLedger) Read() (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st, nil
}

func (l *MemoryLedger) Write(st State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.st = st
	return nil
}
