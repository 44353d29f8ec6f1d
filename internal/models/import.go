package models

import (
	"time"

	"github.com/google/uuid"
)

type RunKind string

const (
	RunScheduled RunKind = "scheduled"
	RunManual    RunKind = "manual"
)

type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeError     Outcome = "error"
)

type RecordResult struct {
	ExternalID string  `json:"external_id"`
	Title      string  `json:"title,omitempty"`
	Outcome    Outcome `json:"outcome"`
	ContentID  string  `json:"content_id,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// ImportResult summarizes one import run. It is built by the importer and
// not modified once returned.
type ImportResult struct {
	RunID      uuid.UUID      `json:"run_id"`
	Kind       RunKind        `json:"kind"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Attempted  int            `json:"attempted"`
	Created    int            `json:"created"`
	Duplicate  int            `json:"duplicate"`
	Skipped    int            `json:"skipped"`
	Errors     int            `json:"errors"`
	Partial    bool           `json:"partial"`
	Aborted    string         `json:"aborted,omitempty"`
	Records    []RecordResult `json:"records"`
}

func (r ImportResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Status condenses the run into the label stored with run history.
func (r ImportResult) Status() string {
	switch {
	case r.Aborted != "":
		return "failed"
	case r.Partial:
		return "partial"
	case r.Errors > 0 && r.Created == 0 && r.Attempted > 0:
		return "failed"
	default:
		return "completed"
	}
}
