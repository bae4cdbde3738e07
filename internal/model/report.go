package model

import "time"

// ReconcileDelta counts what one reconciliation changed.
type ReconcileDelta struct {
	NewHackathons  int `json:"new_hackathons"`
	NewSuggestions int `json:"new_suggestions"`
	NewSources     int `json:"new_sources"`
	Unchanged      int `json:"unchanged"`
}

// Add accumulates other into d.
func (d *ReconcileDelta) Add(other ReconcileDelta) {
	d.NewHackathons += other.NewHackathons
	d.NewSuggestions += other.NewSuggestions
	d.NewSources += other.NewSources
	d.Unchanged += other.Unchanged
}

// RunStatus is the outcome of one source run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// ErrorKind classifies a per-source failure for operators.
type ErrorKind string

const (
	ErrorNone          ErrorKind = ""
	ErrorTransient     ErrorKind = "transient"
	ErrorTimeout       ErrorKind = "timeout"
	ErrorMalformed     ErrorKind = "malformed"
	ErrorConfiguration ErrorKind = "configuration"
	ErrorStore         ErrorKind = "store"
)

// SourceReport describes a single source attempt.
type SourceReport struct {
	SourceID   string         `json:"source_id"`
	URL        string         `json:"url"`
	Kind       SourceKind     `json:"kind"`
	StrategyID string         `json:"strategy_id"`
	Status     RunStatus      `json:"status"`
	ErrorKind  ErrorKind      `json:"error_kind,omitempty"`
	Error      string         `json:"error,omitempty"`
	Delta      ReconcileDelta `json:"delta"`
	Duration   time.Duration  `json:"duration_ns"`
	NextDueAt  time.Time      `json:"next_due_at"`
}

// BatchReport summarizes one pass over the due sources.
type BatchReport struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Attempted  int            `json:"attempted"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	Totals     ReconcileDelta `json:"totals"`
	Sources    []SourceReport `json:"sources"`
}

// Record folds a source report into the batch totals.
func (b *BatchReport) Record(r SourceReport) {
	b.Attempted++
	if r.Status == RunSucceeded {
		b.Succeeded++
	} else {
		b.Failed++
	}
	b.Totals.Add(r.Delta)
	b.Sources = append(b.Sources, r)
}
