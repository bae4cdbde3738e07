package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Field names one descriptive attribute of a hackathon.
type Field string

// Descriptive fields compared during reconciliation and selectable on accept.
const (
	FieldImage       Field = "image"
	FieldName        Field = "name"
	FieldDescription Field = "description"
	FieldDate        Field = "date"
	FieldLocation    Field = "location"
)

// AllFields lists every descriptive field in column order.
var AllFields = []Field{FieldImage, FieldName, FieldDescription, FieldDate, FieldLocation}

// ParseField validates a field name supplied by an operator.
func ParseField(s string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllFields {
		if f == known {
			return f, nil
		}
	}
	return "", eris.Errorf("model: unknown field %q", s)
}

// ParseFields validates a list of field names and drops duplicates.
func ParseFields(names []string) ([]Field, error) {
	seen := make(map[Field]bool, len(names))
	out := make([]Field, 0, len(names))
	for _, n := range names {
		f, err := ParseField(n)
		if err != nil {
			return nil, err
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out, nil
}

// Fields holds the descriptive attributes of a hackathon. Any of them may
// be empty.
type Fields struct {
	Image       string `json:"image" db:"image"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
	Date        string `json:"date" db:"date"`
	Location    string `json:"location" db:"location"`
}

// Get returns the value of a single field.
func (f Fields) Get(field Field) string {
	switch field {
	case FieldImage:
		return f.Image
	case FieldName:
		return f.Name
	case FieldDescription:
		return f.Description
	case FieldDate:
		return f.Date
	case FieldLocation:
		return f.Location
	}
	return ""
}

// Set assigns a single field.
func (f *Fields) Set(field Field, value string) {
	switch field {
	case FieldImage:
		f.Image = value
	case FieldName:
		f.Name = value
	case FieldDescription:
		f.Description = value
	case FieldDate:
		f.Date = value
	case FieldLocation:
		f.Location = value
	}
}

// Equal reports whether all five fields match exactly.
func (f Fields) Equal(other Fields) bool {
	return f == other
}

// Diff returns the fields whose values differ, in column order.
func (f Fields) Diff(other Fields) []Field {
	var out []Field
	for _, field := range AllFields {
		if f.Get(field) != other.Get(field) {
			out = append(out, field)
		}
	}
	return out
}

// Merge returns a copy of f with the named fields taken from src.
func (f Fields) Merge(src Fields, fields []Field) Fields {
	out := f
	for _, field := range fields {
		out.Set(field, src.Get(field))
	}
	return out
}

// Fingerprint is a stable digest of the field values. Two suggestions with
// the same fingerprint propose the same change.
func (f Fields) Fingerprint() string {
	h := sha256.New()
	for _, field := range AllFields {
		h.Write([]byte(f.Get(field)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Hackathon is a catalog record, unique by URL.
type Hackathon struct {
	ID        string  `json:"id" db:"id"`
	URL       string  `json:"url" db:"url"`
	SourceID  *string `json:"source_id,omitempty" db:"source_id"`
	Fields
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Candidate is one hackathon as seen by a direct strategy.
type Candidate struct {
	URL string `json:"url"`
	Fields
}

// HackathonFilter narrows ListHackathons.
type HackathonFilter struct {
	SourceID string
	Limit    int
	Offset   int
}
