// Package reconcile merges extraction results into the catalog. It never
// overwrites a hackathon: differing observations become suggestions that
// an operator accepts or rejects field by field.
package reconcile

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hackscraper/hackscraper/internal/model"
	"github.com/hackscraper/hackscraper/internal/store"
)

// DefaultStoreTimeout bounds Accept and Reject when no timeout is configured.
const DefaultStoreTimeout = 30 * time.Second

// Reconciler applies extraction results and resolves suggestions.
type Reconciler struct {
	store           store.Store
	defaultStrategy string
	storeTimeout    time.Duration
	log             *zap.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithStoreTimeout sets the deadline for the transaction behind Accept
// and Reject. Non-positive values keep the default.
func WithStoreTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.storeTimeout = d
		}
	}
}

// New creates a Reconciler. defaultStrategy is assigned to sources
// discovered through aggregators.
func New(s store.Store, defaultStrategy string, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:           s,
		defaultStrategy: defaultStrategy,
		storeTimeout:    DefaultStoreTimeout,
		log:             zap.L().With(zap.String("component", "reconcile")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// DefaultStrategy is the strategy id given to discovered sources.
func (r *Reconciler) DefaultStrategy() string {
	return r.defaultStrategy
}

// Apply merges res, produced by src's strategy, using tx. The caller owns
// the transaction so that the source's run bookkeeping commits or rolls
// back together with the result.
func (r *Reconciler) Apply(ctx context.Context, tx store.Tx, src model.Source, res model.ExtractionResult, now time.Time) (model.ReconcileDelta, error) {
	switch src.Kind {
	case model.KindAggregator:
		return r.applyURLs(ctx, tx, src, res.URLs, now)
	case model.KindDirect:
		return r.applyCandidates(ctx, tx, src, res.Candidates, now)
	default:
		return model.ReconcileDelta{}, eris.Errorf("reconcile: source %s has unknown kind %q", src.ID, src.Kind)
	}
}

func (r *Reconciler) applyURLs(ctx context.Context, tx store.Tx, src model.Source, urls []string, now time.Time) (model.ReconcileDelta, error) {
	var delta model.ReconcileDelta
	seen := make(map[string]bool, len(urls))
	origin := src.ID

	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true

		discovered := &model.Source{
			URL:            u,
			Kind:           model.KindDirect,
			StrategyID:     r.defaultStrategy,
			NextDueAt:      now,
			OriginSourceID: &origin,
			CreatedAt:      now,
		}
		inserted, err := tx.InsertSourceIfAbsent(ctx, discovered)
		if err != nil {
			return delta, eris.Wrapf(err, "reconcile: register %s", u)
		}
		if inserted {
			delta.NewSources++
			r.log.Debug("discovered source", zap.String("url", u), zap.String("origin", src.ID))
		} else {
			delta.Unchanged++
		}
	}
	return delta, nil
}

func (r *Reconciler) applyCandidates(ctx context.Context, tx store.Tx, src model.Source, candidates []model.Candidate, now time.Time) (model.ReconcileDelta, error) {
	var delta model.ReconcileDelta
	sourceID := src.ID

	for _, c := range candidates {
		existing, err := tx.GetHackathonByURL(ctx, c.URL)
		if err != nil {
			return delta, eris.Wrapf(err, "reconcile: look up %s", c.URL)
		}

		if existing == nil {
			h := &model.Hackathon{
				URL:       c.URL,
				SourceID:  &sourceID,
				Fields:    c.Fields,
				CreatedAt: now,
			}
			inserted, err := tx.InsertHackathonIfAbsent(ctx, h)
			if err != nil {
				return delta, eris.Wrapf(err, "reconcile: insert %s", c.URL)
			}
			if inserted {
				delta.NewHackathons++
				continue
			}
			// Another writer created it between the read and the insert.
			existing, err = tx.GetHackathonByURL(ctx, c.URL)
			if err != nil {
				return delta, eris.Wrapf(err, "reconcile: re-read %s", c.URL)
			}
			if existing == nil {
				return delta, eris.Errorf("reconcile: hackathon %s conflicted but is not visible", c.URL)
			}
		}

		if existing.Fields.Equal(c.Fields) {
			delta.Unchanged++
			continue
		}

		s := &model.Suggestion{
			HackathonID: existing.ID,
			SourceID:    sourceID,
			Fields:      c.Fields,
			CreatedAt:   now,
		}
		inserted, err := tx.InsertSuggestionIfAbsent(ctx, s)
		if err != nil {
			return delta, eris.Wrapf(err, "reconcile: suggest change to %s", c.URL)
		}
		if inserted {
			delta.NewSuggestions++
			r.log.Debug("new suggestion",
				zap.String("hackathon_id", existing.ID),
				zap.String("source_id", sourceID),
				zap.Strings("fields", fieldNames(existing.Fields.Diff(c.Fields))),
			)
		} else {
			delta.Unchanged++
		}
	}
	return delta, nil
}

// Accept copies the named fields of a suggestion into its hackathon and
// deletes the suggestion. Fields not named keep their current value. With
// no fields it is the same as Reject.
func (r *Reconciler) Accept(ctx context.Context, suggestionID string, fields []model.Field) error {
	for _, f := range fields {
		if _, err := model.ParseField(string(f)); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	return r.store.InTx(ctx, func(tx store.Tx) error {
		s, err := tx.GetSuggestion(ctx, suggestionID)
		if err != nil {
			return err
		}
		if len(fields) > 0 {
			h, err := tx.GetHackathon(ctx, s.HackathonID)
			if err != nil {
				return err
			}
			merged := h.Fields.Merge(s.Fields, fields)
			if !merged.Equal(h.Fields) {
				if err := tx.UpdateHackathonFields(ctx, h.ID, merged); err != nil {
					return eris.Wrapf(err, "reconcile: accept %s", suggestionID)
				}
			}
		}
		if err := tx.DeleteSuggestion(ctx, s.ID); err != nil {
			return err
		}
		r.log.Info("suggestion accepted",
			zap.String("suggestion_id", s.ID),
			zap.String("hackathon_id", s.HackathonID),
			zap.Strings("fields", fieldNames(fields)),
		)
		return nil
	})
}

// Reject deletes a suggestion without touching its hackathon.
func (r *Reconciler) Reject(ctx context.Context, suggestionID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	return r.store.InTx(ctx, func(tx store.Tx) error {
		s, err := tx.GetSuggestion(ctx, suggestionID)
		if err != nil {
			return err
		}
		if err := tx.DeleteSuggestion(ctx, s.ID); err != nil {
			return err
		}
		r.log.Info("suggestion rejected", zap.String("suggestion_id", s.ID))
		return nil
	})
}

func fieldNames(fields []model.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}
