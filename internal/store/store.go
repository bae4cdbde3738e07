// Package store persists sources, hackathons, and suggestions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackscraper/hackscraper/internal/model"
)

var (
	// ErrNotFound is returned when a row addressed by ID does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when an explicit create collides with a unique URL.
	ErrConflict = errors.New("store: conflict")
)

// Store defines the persistence interface for the source registry and the
// hackathon catalog.
type Store interface {
	// Sources
	CreateSource(ctx context.Context, src *model.Source) error
	GetSource(ctx context.Context, id string) (*model.Source, error)
	ListSources(ctx context.Context, filter model.SourceFilter) ([]model.Source, error)
	ListDueSources(ctx context.Context, now time.Time) ([]model.Source, error)
	UpdateSource(ctx context.Context, src model.Source) error
	DeleteSource(ctx context.Context, id string) error
	ScheduleSource(ctx context.Context, id string, at time.Time) error
	MarkSourceRun(ctx context.Context, id string, ranAt, nextDueAt time.Time) error

	// Hackathons
	CreateHackathon(ctx context.Context, h *model.Hackathon) error
	GetHackathon(ctx context.Context, id string) (*model.Hackathon, error)
	ListHackathons(ctx context.Context, filter model.HackathonFilter) ([]model.Hackathon, error)
	DeleteHackathon(ctx context.Context, id string) error

	// Suggestions
	GetSuggestion(ctx context.Context, id string) (*model.Suggestion, error)
	ListSuggestions(ctx context.Context, filter model.SuggestionFilter) ([]model.Suggestion, error)

	// InTx runs fn in a single transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(Tx) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the set of operations available inside a transaction. Inserts are
// insert-if-absent: a unique-constraint collision is not an error and is
// reported as inserted == false.
type Tx interface {
	InsertSourceIfAbsent(ctx context.Context, src *model.Source) (bool, error)
	MarkSourceRun(ctx context.Context, id string, ranAt, nextDueAt time.Time) error

	// GetHackathonByURL returns nil, nil when no record has the URL.
	GetHackathonByURL(ctx context.Context, url string) (*model.Hackathon, error)
	GetHackathon(ctx context.Context, id string) (*model.Hackathon, error)
	InsertHackathonIfAbsent(ctx context.Context, h *model.Hackathon) (bool, error)
	UpdateHackathonFields(ctx context.Context, id string, fields model.Fields) error

	GetSuggestion(ctx context.Context, id string) (*model.Suggestion, error)
	InsertSuggestionIfAbsent(ctx context.Context, s *model.Suggestion) (bool, error)
	DeleteSuggestion(ctx context.Context, id string) error
}

// prepareSource fills the generated columns of a new source.
func prepareSource(src *model.Source, now time.Time) {
	if src.ID == "" {
		src.ID = newID()
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = now
	}
	if src.NextDueAt.IsZero() {
		src.NextDueAt = now
	}
	src.CreatedAt = src.CreatedAt.UTC()
	src.NextDueAt = src.NextDueAt.UTC()
}

func prepareHackathon(h *model.Hackathon, now time.Time) {
	if h.ID == "" {
		h.ID = newID()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	h.CreatedAt = h.CreatedAt.UTC()
}

func prepareSuggestion(s *model.Suggestion, now time.Time) {
	if s.ID == "" {
		s.ID = newID()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.Fingerprint = s.Fields.Fingerprint()
}

func newID() string {
	return uuid.New().String()
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
