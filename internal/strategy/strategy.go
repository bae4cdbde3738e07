// Package strategy maps a source's (kind, strategy id) to the function that
// extracts it, and checks that what the function returned has the right
// shape before anything is written.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/hackscraper/hackscraper/internal/model"
)

// Func extracts one source. Direct strategies fill Candidates, aggregator
// strategies fill URLs. Implementations must not touch the store.
type Func func(ctx context.Context, sourceURL string) (model.ExtractionResult, error)

// Key identifies a table entry.
type Key struct {
	Kind model.SourceKind `json:"kind"`
	ID   string           `json:"id"`
}

func (k Key) String() string { return string(k.Kind) + "/" + k.ID }

// Entry is one registration passed to NewTable.
type Entry struct {
	Key
	Description string
	Func        Func
}

// Direct builds an entry for a direct strategy.
func Direct(id, description string, fn Func) Entry {
	return Entry{Key: Key{Kind: model.KindDirect, ID: id}, Description: description, Func: fn}
}

// Aggregator builds an entry for an aggregator strategy.
func Aggregator(id, description string, fn Func) Entry {
	return Entry{Key: Key{Kind: model.KindAggregator, ID: id}, Description: description, Func: fn}
}

// Table is built once at startup and only read afterwards, so it is safe
// for concurrent use without locking.
type Table struct {
	funcs   map[Key]Func
	entries []Entry
}

// NewTable validates and freezes entries.
func NewTable(entries ...Entry) (*Table, error) {
	t := &Table{funcs: make(map[Key]Func, len(entries))}
	for _, e := range entries {
		if _, err := model.ParseSourceKind(string(e.Kind)); err != nil {
			return nil, eris.Wrapf(err, "strategy: entry %s", e.Key)
		}
		if strings.TrimSpace(e.ID) == "" {
			return nil, eris.Errorf("strategy: empty id for kind %s", e.Kind)
		}
		if e.Func == nil {
			return nil, eris.Errorf("strategy: nil func for %s", e.Key)
		}
		if _, dup := t.funcs[e.Key]; dup {
			return nil, eris.Errorf("strategy: duplicate entry %s", e.Key)
		}
		t.funcs[e.Key] = e.Func
		t.entries = append(t.entries, e)
	}
	sort.Slice(t.entries, func(i, j int) bool {
		return t.entries[i].Key.String() < t.entries[j].Key.String()
	})
	return t, nil
}

// Lookup returns the function registered for kind and id.
func (t *Table) Lookup(kind model.SourceKind, id string) (Func, error) {
	fn, ok := t.funcs[Key{Kind: kind, ID: id}]
	if !ok {
		return nil, &ConfigurationError{Kind: kind, StrategyID: id}
	}
	return fn, nil
}

// Has reports whether kind/id is registered.
func (t *Table) Has(kind model.SourceKind, id string) bool {
	_, ok := t.funcs[Key{Kind: kind, ID: id}]
	return ok
}

// Entries lists the registered strategies sorted by key.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// ConfigurationError means a source names a strategy that is not
// registered for its kind. Retrying will not help until the source or the
// table changes.
type ConfigurationError struct {
	Kind       model.SourceKind
	StrategyID string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("no %s strategy registered as %q", e.Kind, e.StrategyID)
}

// MalformedResultError means a strategy returned data of the wrong shape.
// Nothing from such a result is applied.
type MalformedResultError struct {
	Kind   model.SourceKind
	Reason string
}

func (e *MalformedResultError) Error() string {
	return fmt.Sprintf("malformed %s result: %s", e.Kind, e.Reason)
}

// Validate checks res against what a kind's strategy must return: direct
// results carry only candidates with non-blank URLs, aggregator results
// carry only non-blank URLs. Empty results are valid.
func Validate(kind model.SourceKind, res model.ExtractionResult) error {
	malformed := func(format string, args ...any) error {
		return &MalformedResultError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
	}
	switch kind {
	case model.KindDirect:
		if len(res.URLs) > 0 {
			return malformed("direct strategy returned %d urls", len(res.URLs))
		}
		for i, c := range res.Candidates {
			if strings.TrimSpace(c.URL) == "" {
				return malformed("candidate %d has no url", i)
			}
		}
	case model.KindAggregator:
		if len(res.Candidates) > 0 {
			return malformed("aggregator strategy returned %d candidates", len(res.Candidates))
		}
		for i, u := range res.URLs {
			if strings.TrimSpace(u) == "" {
				return malformed("url %d is blank", i)
			}
		}
	default:
		return malformed("unknown source kind %q", kind)
	}
	return nil
}
