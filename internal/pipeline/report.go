package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// Outcome classifies a finished run.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomePartial   Outcome = "partial"
	OutcomeFatal     Outcome = "fatal"
)

// Counters accumulates per-run record dispositions.
type Counters struct {
	Scraped          int `json:"scraped"`
	New              int `json:"new"`
	SkippedDuplicate int `json:"skipped_duplicate"`
	Updated          int `json:"updated"`
	FailedValidation int `json:"failed_validation"`
	FailedUpload     int `json:"failed_upload"`
}

// Report is the run summary persisted in memory and published as the
// completion event.
type Report struct {
	RunID        string    `json:"run_id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Window       string    `json:"window"`
	Agencies     []string  `json:"agencies"`
	Counters     Counters  `json:"counters"`
	Outcome      Outcome   `json:"outcome"`
	DatasetSize  int       `json:"dataset_size"`
	SourceErrors []string  `json:"source_errors,omitempty"`
}

// Marshal serializes the report for the completion event.
func (r Report) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal run report: %w", err)
	}
	return data, nil
}
