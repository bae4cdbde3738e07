package model

import "time"

// Suggestion is a proposed change to a hackathon that differs from what a
// source most recently reported. It stays untouched until an operator
// accepts or rejects it.
type Suggestion struct {
	ID          string `json:"id" db:"id"`
	HackathonID string `json:"hackathon_id" db:"hackathon_id"`
	SourceID    string `json:"source_id" db:"source_id"`
	Fields
	Fingerprint string    `json:"fingerprint" db:"fingerprint"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// SuggestionFilter narrows ListSuggestions.
type SuggestionFilter struct {
	HackathonID string
	SourceID    string
	Limit       int
	Offset      int
}

// ExtractionResult is what a strategy returns: candidates for direct
// sources, URLs for aggregators. Only one of the two is expected.
type ExtractionResult struct {
	Candidates []Candidate `json:"candidates,omitempty"`
	URLs       []string    `json:"urls,omitempty"`
}
