package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackscraper/hackscraper/internal/model"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func mustCreateSource(t *testing.T, s Store, url string, kind model.SourceKind, due time.Time) *model.Source {
	t.Helper()
	src := &model.Source{URL: url, Kind: kind, StrategyID: "generic", NextDueAt: due}
	require.NoError(t, s.CreateSource(context.Background(), src))
	return src
}

// storeTestSuite exercises the Store contract against any implementation
// backed by a real database.
func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetSource", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		src := mustCreateSource(t, s, "https://a.example/events", model.KindAggregator, t0)
		assert.NotEmpty(t, src.ID)

		got, err := s.GetSource(ctx, src.ID)
		require.NoError(t, err)
		assert.Equal(t, "https://a.example/events", got.URL)
		assert.Equal(t, model.KindAggregator, got.Kind)
		assert.Equal(t, "generic", got.StrategyID)
		assert.True(t, t0.Equal(got.NextDueAt))
		assert.Nil(t, got.LastRunAt)
		assert.Nil(t, got.OriginSourceID)
	})

	t.Run("CreateSourceDuplicateURL", func(t *testing.T) {
		s := newStore(t)
		mustCreateSource(t, s, "https://dup.example", model.KindDirect, t0)

		err := s.CreateSource(context.Background(), &model.Source{URL: "https://dup.example", Kind: model.KindDirect, StrategyID: "generic"})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("GetSourceNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetSource(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ListDueSources", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		past := mustCreateSource(t, s, "https://past.example", model.KindDirect, t0.Add(-time.Hour))
		exact := mustCreateSource(t, s, "https://exact.example", model.KindDirect, t0)
		mustCreateSource(t, s, "https://future.example", model.KindDirect, t0.Add(time.Nanosecond))

		due, err := s.ListDueSources(ctx, t0)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, past.ID, due[0].ID)
		assert.Equal(t, exact.ID, due[1].ID)
	})

	t.Run("MarkSourceRunReschedules", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		src := mustCreateSource(t, s, "https://run.example", model.KindDirect, t0)

		next := t0.Add(30 * 24 * time.Hour)
		require.NoError(t, s.MarkSourceRun(ctx, src.ID, t0, next))

		got, err := s.GetSource(ctx, src.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastRunAt)
		assert.True(t, t0.Equal(*got.LastRunAt))
		assert.True(t, next.Equal(got.NextDueAt))

		due, err := s.ListDueSources(ctx, t0.Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, due)

		assert.ErrorIs(t, s.MarkSourceRun(ctx, "missing", t0, next), ErrNotFound)
	})

	t.Run("ScheduleSource", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		src := mustCreateSource(t, s, "https://later.example", model.KindDirect, t0.Add(48*time.Hour))

		require.NoError(t, s.ScheduleSource(ctx, src.ID, t0))
		due, err := s.ListDueSources(ctx, t0)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, src.ID, due[0].ID)
	})

	t.Run("UpdateAndDeleteSource", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := mustCreateSource(t, s, "https://a.example", model.KindDirect, t0)
		mustCreateSource(t, s, "https://b.example", model.KindDirect, t0)

		a.URL = "https://a2.example"
		a.Kind = model.KindAggregator
		a.StrategyID = "feed"
		require.NoError(t, s.UpdateSource(ctx, *a))

		got, err := s.GetSource(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "https://a2.example", got.URL)
		assert.Equal(t, model.KindAggregator, got.Kind)
		assert.Equal(t, "feed", got.StrategyID)

		a.URL = "https://b.example"
		assert.ErrorIs(t, s.UpdateSource(ctx, *a), ErrConflict)

		require.NoError(t, s.DeleteSource(ctx, a.ID))
		assert.ErrorIs(t, s.DeleteSource(ctx, a.ID), ErrNotFound)
	})

	t.Run("AggregatorWithChildrenStaysAggregator", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		agg := mustCreateSource(t, s, "https://agg.example", model.KindAggregator, t0)
		require.NoError(t, s.InTx(ctx, func(tx Tx) error {
			_, err := tx.InsertSourceIfAbsent(ctx, &model.Source{
				URL: "https://child.example", Kind: model.KindDirect, StrategyID: "generic",
				NextDueAt: t0, OriginSourceID: strPtr(agg.ID),
			})
			return err
		}))

		demoted := *agg
		demoted.Kind = model.KindDirect
		assert.ErrorIs(t, s.UpdateSource(ctx, demoted), ErrConflict)

		got, err := s.GetSource(ctx, agg.ID)
		require.NoError(t, err)
		assert.Equal(t, model.KindAggregator, got.Kind)

		agg.StrategyID = "feed"
		require.NoError(t, s.UpdateSource(ctx, *agg))
		got, err = s.GetSource(ctx, agg.ID)
		require.NoError(t, err)
		assert.Equal(t, "feed", got.StrategyID)

		childless := mustCreateSource(t, s, "https://lonely.example", model.KindAggregator, t0)
		childless.Kind = model.KindDirect
		require.NoError(t, s.UpdateSource(ctx, *childless))

		missing := model.Source{ID: "nope", URL: "https://nope.example", Kind: model.KindDirect, StrategyID: "generic"}
		assert.ErrorIs(t, s.UpdateSource(ctx, missing), ErrNotFound)
	})

	t.Run("ListSourcesFilter", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		agg := mustCreateSource(t, s, "https://agg.example", model.KindAggregator, t0)
		mustCreateSource(t, s, "https://direct.example", model.KindDirect, t0)

		tx := func(fn func(Tx) error) { require.NoError(t, s.InTx(ctx, fn)) }
		tx(func(tx Tx) error {
			_, err := tx.InsertSourceIfAbsent(ctx, &model.Source{
				URL: "https://child.example", Kind: model.KindDirect, StrategyID: "generic",
				NextDueAt: t0, OriginSourceID: strPtr(agg.ID),
			})
			return err
		})

		all, err := s.ListSources(ctx, model.SourceFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		direct, err := s.ListSources(ctx, model.SourceFilter{Kind: model.KindDirect})
		require.NoError(t, err)
		assert.Len(t, direct, 2)

		children, err := s.ListSources(ctx, model.SourceFilter{OriginSourceID: agg.ID})
		require.NoError(t, err)
		require.Len(t, children, 1)
		assert.Equal(t, "https://child.example", children[0].URL)
		require.NotNil(t, children[0].OriginSourceID)
		assert.Equal(t, agg.ID, *children[0].OriginSourceID)

		page, err := s.ListSources(ctx, model.SourceFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Len(t, page, 1)
	})

	t.Run("InsertSourceIfAbsentIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var first, second bool
		require.NoError(t, s.InTx(ctx, func(tx Tx) error {
			var err error
			first, err = tx.InsertSourceIfAbsent(ctx, &model.Source{URL: "https://x.example", Kind: model.KindDirect, StrategyID: "generic"})
			if err != nil {
				return err
			}
			second, err = tx.InsertSourceIfAbsent(ctx, &model.Source{URL: "https://x.example", Kind: model.KindDirect, StrategyID: "generic"})
			return err
		}))
		assert.True(t, first)
		assert.False(t, second)

		all, err := s.ListSources(ctx, model.SourceFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("HackathonInsertAndLookup", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		src := mustCreateSource(t, s, "https://src.example", model.KindDirect, t0)

		h := &model.Hackathon{URL: "https://src.example/h/1", SourceID: strPtr(src.ID), Fields: model.Fields{Name: "Foo", Date: "2025-03-01"}}
		require.NoError(t, s.InTx(ctx, func(tx Tx) error {
			missing, err := tx.GetHackathonByURL(ctx, h.URL)
			require.NoError(t, err)
			assert.Nil(t, missing)

			inserted, err := tx.InsertHackathonIfAbsent(ctx, h)
			require.NoError(t, err)
			assert.True(t, inserted)

			again, err := tx.InsertHackathonIfAbsent(ctx, &model.Hackathon{URL: h.URL, Fields: model.Fields{Name: "Other"}})
			require.NoError(t, err)
			assert.False(t, again)
			return nil
		}))

		got, err := s.GetHackathon(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, "Foo", got.Name)
		assert.Equal(t, "2025-03-01", got.Date)
		require.NotNil(t, got.SourceID)
		assert.Equal(t, src.ID, *got.SourceID)

		list, err := s.ListHackathons(ctx, model.HackathonFilter{SourceID: src.ID})
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("CreateHackathonManual", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		h := &model.Hackathon{URL: "https://manual.example", Fields: model.Fields{Name: "Manual"}}
		require.NoError(t, s.CreateHackathon(ctx, h))
		assert.Nil(t, h.SourceID)

		err := s.CreateHackathon(ctx, &model.Hackathon{URL: "https://manual.example"})
		assert.ErrorIs(t, err, ErrConflict)

		_, err = s.GetHackathon(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("SuggestionLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		src := mustCreateSource(t, s, "https://src.example", model.KindDirect, t0)
		h := &model.Hackathon{URL: "https://h.example", Fields: model.Fields{Name: "Foo"}}
		require.NoError(t, s.CreateHackathon(ctx, h))

		proposed := model.Fields{Name: "Foo Renamed"}
		sg := &model.Suggestion{HackathonID: h.ID, SourceID: src.ID, Fields: proposed}
		require.NoError(t, s.InTx(ctx, func(tx Tx) error {
			inserted, err := tx.InsertSuggestionIfAbsent(ctx, sg)
			require.NoError(t, err)
			assert.True(t, inserted)

			// Same source, same proposal
			dup, err := tx.InsertSuggestionIfAbsent(ctx, &model.Suggestion{HackathonID: h.ID, SourceID: src.ID, Fields: proposed})
			require.NoError(t, err)
			assert.False(t, dup)

			// Different proposal coexists
			other, err := tx.InsertSuggestionIfAbsent(ctx, &model.Suggestion{HackathonID: h.ID, SourceID: src.ID, Fields: model.Fields{Name: "Foo 2025"}})
			require.NoError(t, err)
			assert.True(t, other)
			return nil
		}))
		assert.Equal(t, proposed.Fingerprint(), sg.Fingerprint)

		list, err := s.ListSuggestions(ctx, model.SuggestionFilter{HackathonID: h.ID})
		require.NoError(t, err)
		assert.Len(t, list, 2)

		got, err := s.GetSuggestion(ctx, sg.ID)
		require.NoError(t, err)
		assert.Equal(t, "Foo Renamed", got.Name)

		require.NoError(t, s.InTx(ctx, func(tx Tx) error {
			return tx.DeleteSuggestion(ctx, sg.ID)
		}))
		_, err = s.GetSuggestion(ctx, sg.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("UpdateHackathonFields", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		h := &model.Hackathon{URL: "https://h.example", Fields: model.Fields{Name: "Foo", Location: "Berlin"}}
		require.NoError(t, s.CreateHackathon(ctx, h))

		require.NoError(t, s.InTx(ctx, func(tx Tx) error {
			return tx.UpdateHackathonFields(ctx, h.ID, model.Fields{Name: "Foo Renamed", Location: "Berlin"})
		}))
		got, err := s.GetHackathon(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, "Foo Renamed", got.Name)
		assert.Equal(t, "Berlin", got.Location)
	})

	t.Run("InTxRollsBackOnError", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		src := mustCreateSource(t, s, "https://src.example", model.KindDirect, t0)

		err := s.InTx(ctx, func(tx Tx) error {
			if _, err := tx.InsertHackathonIfAbsent(ctx, &model.Hackathon{URL: "https://rolled.example"}); err != nil {
				return err
			}
			if err := tx.MarkSourceRun(ctx, src.ID, t0, t0.Add(time.Hour)); err != nil {
				return err
			}
			return assert.AnError
		})
		assert.ErrorIs(t, err, assert.AnError)

		list, err := s.ListHackathons(ctx, model.HackathonFilter{})
		require.NoError(t, err)
		assert.Empty(t, list)

		got, err := s.GetSource(ctx, src.ID)
		require.NoError(t, err)
		assert.Nil(t, got.LastRunAt)
	})

	t.Run("DeleteCascades", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		agg := mustCreateSource(t, s, "https://agg.example", model.KindAggregator, t0)
		src := mustCreateSource(t, s, "https://src.example", model.KindDirect, t0)
		h := &model.Hackathon{URL: "https://h.example", SourceID: strPtr(src.ID)}
		require.NoError(t, s.CreateHackathon(ctx, h))
		require.NoError(t, s.InTx(ctx, func(tx Tx) error {
			if _, err := tx.InsertSourceIfAbsent(ctx, &model.Source{URL: "https://child.example", Kind: model.KindDirect, StrategyID: "generic", OriginSourceID: strPtr(agg.ID)}); err != nil {
				return err
			}
			_, err := tx.InsertSuggestionIfAbsent(ctx, &model.Suggestion{HackathonID: h.ID, SourceID: src.ID, Fields: model.Fields{Name: "x"}})
			return err
		}))

		// Deleting a hackathon drops its suggestions
		require.NoError(t, s.DeleteHackathon(ctx, h.ID))
		list, err := s.ListSuggestions(ctx, model.SuggestionFilter{})
		require.NoError(t, err)
		assert.Empty(t, list)

		// Deleting an aggregator detaches the sources it discovered
		require.NoError(t, s.DeleteSource(ctx, agg.ID))
		children, err := s.ListSources(ctx, model.SourceFilter{})
		require.NoError(t, err)
		for _, c := range children {
			assert.Nil(t, c.OriginSourceID)
		}
	})
}
