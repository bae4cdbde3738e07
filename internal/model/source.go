package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// SourceKind distinguishes pages that describe hackathons from pages that
// list links to other pages.
type SourceKind string

const (
	// KindDirect sources yield hackathon candidates.
	KindDirect SourceKind = "direct"
	// KindAggregator sources yield URLs of further sources.
	KindAggregator SourceKind = "aggregator"
)

// ParseSourceKind validates a kind name from the CLI, API, or a seed file.
func ParseSourceKind(s string) (SourceKind, error) {
	switch SourceKind(s) {
	case KindDirect, KindAggregator:
		return SourceKind(s), nil
	}
	return "", eris.Errorf("model: unknown source kind %q", s)
}

// Source is a registered URL the scheduler scrapes periodically.
type Source struct {
	ID             string     `json:"id" db:"id"`
	URL            string     `json:"url" db:"url"`
	Kind           SourceKind `json:"kind" db:"kind"`
	StrategyID     string     `json:"strategy_id" db:"strategy_id"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty" db:"last_run_at"`
	NextDueAt      time.Time  `json:"next_due_at" db:"next_due_at"`
	OriginSourceID *string    `json:"origin_source_id,omitempty" db:"origin_source_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// IsDue reports whether the source should run at now.
func (s Source) IsDue(now time.Time) bool {
	return !s.NextDueAt.After(now)
}

// SourceFilter narrows ListSources.
type SourceFilter struct {
	Kind           SourceKind
	OriginSourceID string
	Limit          int
	Offset         int
}
