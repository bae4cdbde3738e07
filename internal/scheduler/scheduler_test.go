package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackscraper/hackscraper/internal/model"
	"github.com/hackscraper/hackscraper/internal/reconcile"
	"github.com/hackscraper/hackscraper/internal/resilience"
	"github.com/hackscraper/hackscraper/internal/store"
	"github.com/hackscraper/hackscraper/internal/strategy"
)

var t0 = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

const month = 30 * 24 * time.Hour

// fakeWeb answers strategy calls by source URL.
type fakeWeb struct {
	mu      sync.Mutex
	results map[string]model.ExtractionResult
	errs    map[string]error
	calls   map[string]int
}

func newFakeWeb() *fakeWeb {
	return &fakeWeb{
		results: make(map[string]model.ExtractionResult),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (w *fakeWeb) set(url string, res model.ExtractionResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.results[url] = res
	delete(w.errs, url)
}

func (w *fakeWeb) fail(url string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errs[url] = err
}

func (w *fakeWeb) strategy(_ context.Context, url string) (model.ExtractionResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls[url]++
	if err, ok := w.errs[url]; ok {
		return model.ExtractionResult{}, err
	}
	return w.results[url], nil
}

func (w *fakeWeb) callCount(url string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[url]
}

type harness struct {
	st    store.Store
	web   *fakeWeb
	rec   *reconcile.Reconciler
	sched *Scheduler
}

func newHarness(t *testing.T, opts Options, extra ...strategy.Entry) *harness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "sched.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	web := newFakeWeb()
	entries := append([]strategy.Entry{
		strategy.Direct("generic", "", web.strategy),
		strategy.Aggregator("generic", "", web.strategy),
	}, extra...)
	table, err := strategy.NewTable(entries...)
	require.NoError(t, err)

	rec := reconcile.New(st, "generic")
	return &harness{st: st, web: web, rec: rec, sched: New(st, table, rec, opts, nil)}
}

func (h *harness) addSource(t *testing.T, url string, kind model.SourceKind, strategyID string, due time.Time) model.Source {
	t.Helper()
	src := &model.Source{URL: url, Kind: kind, StrategyID: strategyID, NextDueAt: due}
	require.NoError(t, h.st.CreateSource(context.Background(), src))
	return *src
}

func (h *harness) source(t *testing.T, id string) *model.Source {
	t.Helper()
	src, err := h.st.GetSource(context.Background(), id)
	require.NoError(t, err)
	return src
}

func (h *harness) hackathons(t *testing.T) []model.Hackathon {
	t.Helper()
	hs, err := h.st.ListHackathons(context.Background(), model.HackathonFilter{})
	require.NoError(t, err)
	return hs
}

func (h *harness) suggestions(t *testing.T) []model.Suggestion {
	t.Helper()
	ss, err := h.st.ListSuggestions(context.Background(), model.SuggestionFilter{})
	require.NoError(t, err)
	return ss
}

func candidate(url, name string) model.Candidate {
	return model.Candidate{URL: url, Fields: model.Fields{Name: name, Description: "d", Date: "2026-03-01", Location: "Munich"}}
}

func direct(cs ...model.Candidate) model.ExtractionResult {
	return model.ExtractionResult{Candidates: cs}
}

func findReport(t *testing.T, b *model.BatchReport, sourceID string) model.SourceReport {
	t.Helper()
	for _, r := range b.Sources {
		if r.SourceID == sourceID {
			return r
		}
	}
	t.Fatalf("no report for source %s", sourceID)
	return model.SourceReport{}
}

func TestRunDueSources_OnlyDue(t *testing.T) {
	h := newHarness(t, Options{})
	due := h.addSource(t, "https://due.example", model.KindDirect, "generic", t0)
	later := h.addSource(t, "https://later.example", model.KindDirect, "generic", t0.Add(time.Hour))
	h.web.set(due.URL, direct(candidate(due.URL, "Due")))

	batch, err := h.sched.RunDueSources(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Attempted)
	assert.Equal(t, 1, batch.Succeeded)
	assert.Equal(t, 0, h.web.callCount(later.URL))

	got := h.source(t, due.ID)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, t0.Equal(*got.LastRunAt))
	assert.True(t, t0.Add(month).Equal(got.NextDueAt))
}

func TestRunDueSources_EmptyPass(t *testing.T) {
	h := newHarness(t, Options{})
	batch, err := h.sched.RunDueSources(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, 0, batch.Attempted)
	assert.Empty(t, batch.Sources)
}

func TestIdempotentRerun(t *testing.T) {
	h := newHarness(t, Options{})
	src := h.addSource(t, "https://foo.example", model.KindDirect, "generic", t0)
	h.web.set(src.URL, direct(candidate(src.URL, "Foo"), candidate("https://bar.example", "Bar")))

	first, err := h.sched.RunDueSources(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Totals.NewHackathons)

	second, err := h.sched.RunDueSources(context.Background(), t0.Add(month))
	require.NoError(t, err)
	assert.Equal(t, model.ReconcileDelta{Unchanged: 2}, second.Totals)
	assert.Len(t, h.hackathons(t), 2)
	assert.Empty(t, h.suggestions(t))
}

func TestIdempotentRerun_WithOutstandingSuggestion(t *testing.T) {
	h := newHarness(t, Options{})
	src := h.addSource(t, "https://foo.example", model.KindDirect, "generic", t0)
	h.web.set(src.URL, direct(candidate(src.URL, "Foo")))
	_, err := h.sched.RunDueSources(context.Background(), t0)
	require.NoError(t, err)

	h.web.set(src.URL, direct(candidate(src.URL, "Foo v2")))
	for i := 1; i <= 3; i++ {
		_, err := h.sched.RunDueSources(context.Background(), t0.Add(time.Duration(i)*month))
		require.NoError(t, err)
	}
	assert.Len(t, h.suggestions(t), 1)
}

func TestNoSilentOverwrite(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	curated := &model.Hackathon{URL: "https://foo.example", Fields: model.Fields{Name: "Curated", Location: "Berlin"}}
	require.NoError(t, h.st.CreateHackathon(ctx, curated))

	src := h.addSource(t, "https://foo.example", model.KindDirect, "generic", t0)
	h.web.set(src.URL, direct(candidate(src.URL, "Scraped")))

	batch, err := h.sched.RunDueSources(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Totals.NewSuggestions)

	got, err := h.st.GetHackathon(ctx, curated.ID)
	require.NoError(t, err)
	assert.Equal(t, curated.Fields, got.Fields)
	assert.Nil(t, got.SourceID)
}

func TestAggregatorFanOutDedup(t *testing.T) {
	h := newHarness(t, Options{})
	agg := h.addSource(t, "https://list.example", model.KindAggregator, "generic", t0)
	existing := h.addSource(t, "https://a.example", model.KindDirect, "generic", t0.Add(time.Hour))
	h.web.set(agg.URL, model.ExtractionResult{URLs: []string{existing.URL, "https://b.example", "https://b.example"}})

	batch, err := h.sched.RunDueSources(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Totals.NewSources)
	assert.Equal(t, 1, batch.Attempted, "discovered sources wait for the next pass")

	all, err := h.st.ListSources(context.Background(), model.SourceFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// The existing source keeps its schedule and has no origin.
	assert.True(t, t0.Add(time.Hour).Equal(h.source(t, existing.ID).NextDueAt))
	assert.Nil(t, h.source(t, existing.ID).OriginSourceID)

	// The discovered source is due immediately and runs on the next pass.
	h.web.set("https://b.example", direct(candidate("https://b.example", "B")))
	next, err := h.sched.RunDueSources(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, 1, next.Attempted)
	assert.Equal(t, 1, next.Totals.NewHackathons)
}

func TestFailureIsolation(t *testing.T) {
	h := newHarness(t, Options{Concurrency: 3})
	a := h.addSource(t, "https://a.example", model.KindDirect, "generic", t0)
	b := h.addSource(t, "https://b.example", model.KindDirect, "generic", t0)
	c := h.addSource(t, "https://c.example", model.KindDirect, "generic", t0)
	h.web.set(a.URL, direct(candidate(a.URL, "A")))
	h.web.fail(b.URL, resilience.NewTransientError(errors.New("unexpected status 503"), 503))
	h.web.set(c.URL, direct(candidate(c.URL, "C")))

	batch, err := h.sched.RunDueSources(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, 3, batch.Attempted)
	assert.Equal(t, 2, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)
	assert.Len(t, h.hackathons(t), 2)

	rb := findReport(t, batch, b.ID)
	assert.Equal(t, model.RunFailed, rb.Status)
	assert.Equal(t, model.ErrorTransient, rb.ErrorKind)
	assert.Contains(t, rb.Error, "503")

	got := h.source(t, b.ID)
	assert.True(t, t0.Add(month).Equal(got.NextDueAt), "failed source backs off a full interval")
	require.NotNil(t, got.LastRunAt)
	assert.True(t, t0.Equal(*got.LastRunAt))
}

func TestBackoffOnTimeout(t *testing.T) {
	blocking := strategy.Direct("slow", "", func(ctx context.Context, _ string) (model.ExtractionResult, error) {
		<-ctx.Done()
		return model.ExtractionResult{}, ctx.Err()
	})
	h := newHarness(t, Options{FetchTimeout: 50 * time.Millisecond}, blocking)
	src := h.addSource(t, "https://slow.example", model.KindDirect, "slow", t0)

	batch, err := h.sched.RunDueSources(context.Background(), t0)
	require.NoError(t, err)
	r := findReport(t, batch, src.ID)
	assert.Equal(t, model.ErrorTimeout, r.ErrorKind)
	assert.True(t, t0.Add(month).Equal(r.NextDueAt))
	assert.True(t, t0.Add(month).Equal(h.source(t, src.ID).NextDueAt))
	assert.Empty(t, h.hackathons(t))
}

func TestTimeout_StrategyIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stubborn := strategy.Direct("stubborn", "", func(context.Context, string) (model.ExtractionResult, error) {
		<-release
		return model.ExtractionResult{}, nil
	})
	h := newHarness(t, Options{FetchTimeout: 30 * time.Millisecond}, stubborn)
	src := h.addSource(t, "https://stubborn.example", model.KindDirect, "stubborn", t0)

	start := time.Now()
	rep, err := h.sched.RunSource(context.Background(), src.ID, t0)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, model.ErrorTimeout, rep.ErrorKind)
}

func TestUnknownStrategyIsConfigurationError(t *testing.T) {
	h := newHarness(t, Options{})
	src := h.addSource(t, "https://x.example", model.KindDirect, "nope", t0)

	batch, err := h.sched.RunDueSources(context.Background(), t0)
	require.NoError(t, err)
	r := findReport(t, batch, src.ID)
	assert.Equal(t, model.ErrorConfiguration, r.ErrorKind)
	assert.True(t, t0.Add(month).Equal(h.source(t, src.ID).NextDueAt), "misconfigured sources are still rescheduled")
}

func TestMalformedResultAppliesNothing(t *testing.T) {
	h := newHarness(t, Options{})
	src := h.addSource(t, "https://x.example", model.KindDirect, "generic", t0)
	h.web.set(src.URL, direct(candidate(src.URL, "Good"), candidate("", "No URL")))

	batch, err := h.sched.RunDueSources(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, model.ErrorMalformed, findReport(t, batch, src.ID).ErrorKind)
	assert.Empty(t, h.hackathons(t), "no partial application")
}

func TestStrategyPanicIsIsolated(t *testing.T) {
	panicky := strategy.Direct("panicky", "", func(context.Context, string) (model.ExtractionResult, error) {
		panic("nil map")
	})
	h := newHarness(t, Options{}, panicky)
	bad := h.addSource(t, "https://bad.example", model.KindDirect, "panicky", t0)
	good := h.addSource(t, "https://good.example", model.KindDirect, "generic", t0)
	h.web.set(good.URL, direct(candidate(good.URL, "Good")))

	batch, err := h.sched.RunDueSources(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, model.ErrorMalformed, findReport(t, batch, bad.ID).ErrorKind)
	assert.Equal(t, model.RunSucceeded, findReport(t, batch, good.ID).Status)
}

func TestCancelledPassLeavesSourceDue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	waiting := strategy.Direct("waiting", "", func(ctx context.Context, _ string) (model.ExtractionResult, error) {
		close(started)
		<-ctx.Done()
		return model.ExtractionResult{}, ctx.Err()
	})
	h := newHarness(t, Options{}, waiting)
	src := h.addSource(t, "https://w.example", model.KindDirect, "waiting", t0)

	go func() {
		<-started
		cancel()
	}()
	batch, err := h.sched.RunDueSources(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, findReport(t, batch, src.ID).Status)
	assert.True(t, t0.Equal(h.source(t, src.ID).NextDueAt))
	assert.Nil(t, h.source(t, src.ID).LastRunAt)
}

func TestRunSource_IgnoresDueTime(t *testing.T) {
	h := newHarness(t, Options{})
	src := h.addSource(t, "https://later.example", model.KindDirect, "generic", t0.Add(48*time.Hour))
	h.web.set(src.URL, direct(candidate(src.URL, "Later")))

	rep, err := h.sched.RunSource(context.Background(), src.ID, t0)
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, rep.Status)
	assert.Equal(t, 1, rep.Delta.NewHackathons)
	assert.True(t, t0.Add(month).Equal(h.source(t, src.ID).NextDueAt))

	_, err = h.sched.RunSource(context.Background(), "missing", t0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// Source S1 reports "Foo", later "Foo Renamed"; the operator accepts only
// the name.
func TestScenario_RenameAcceptedByName(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	s1 := h.addSource(t, "https://s1.example/foo", model.KindDirect, "generic", t0)

	foo := model.Candidate{URL: "https://s1.example/foo", Fields: model.Fields{Name: "Foo", Description: "Original", Date: "2026-06-01", Location: "Munich"}}
	h.web.set(s1.URL, direct(foo))
	_, err := h.sched.RunDueSources(ctx, t0)
	require.NoError(t, err)

	hs := h.hackathons(t)
	require.Len(t, hs, 1)
	assert.Equal(t, "Foo", hs[0].Name)

	renamed := foo
	renamed.Name = "Foo Renamed"
	renamed.Description = "Changed too"
	h.web.set(s1.URL, direct(renamed))
	batch, err := h.sched.RunDueSources(ctx, t0.Add(month))
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Totals.NewSuggestions)

	sugs := h.suggestions(t)
	require.Len(t, sugs, 1)
	assert.Equal(t, "Foo", h.hackathons(t)[0].Name)

	require.NoError(t, h.rec.Accept(ctx, sugs[0].ID, []model.Field{model.FieldName}))
	got, err := h.st.GetHackathon(ctx, hs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Foo Renamed", got.Name)
	assert.Equal(t, "Original", got.Description)
	assert.Empty(t, h.suggestions(t))

	// The next run still disagrees on description, so a fresh suggestion appears.
	batch, err = h.sched.RunDueSources(ctx, t0.Add(2*month))
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Totals.NewSuggestions)
}

func TestConcurrencyBound(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0
	counting := strategy.Direct("counting", "", func(context.Context, string) (model.ExtractionResult, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return model.ExtractionResult{}, nil
	})
	h := newHarness(t, Options{Concurrency: 2}, counting)
	for _, u := range []string{"https://1.example", "https://2.example", "https://3.example", "https://4.example", "https://5.example"} {
		h.addSource(t, u, model.KindDirect, "counting", t0)
	}

	batch, err := h.sched.RunDueSources(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, 5, batch.Succeeded)
	assert.LessOrEqual(t, peak, 2)
}

func TestStart_RunsUntilCancelled(t *testing.T) {
	h := newHarness(t, Options{})
	src := h.addSource(t, "https://tick.example", model.KindDirect, "generic", t0)
	h.web.set(src.URL, direct(candidate(src.URL, "Tick")))
	h.sched.clock = func() time.Time { return t0 }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.sched.Start(ctx, time.Hour)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.web.callCount(src.URL) == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	web := newFakeWeb()
	table, err := strategy.NewTable(strategy.Direct("generic", "", web.strategy))
	require.NoError(t, err)
	sched := New(st, table, reconcile.New(st, "generic"), Options{}, c)

	ok := &model.Source{URL: "https://ok.example", Kind: model.KindDirect, StrategyID: "generic", NextDueAt: t0}
	bad := &model.Source{URL: "https://bad.example", Kind: model.KindDirect, StrategyID: "generic", NextDueAt: t0}
	require.NoError(t, st.CreateSource(context.Background(), ok))
	require.NoError(t, st.CreateSource(context.Background(), bad))
	web.set(ok.URL, direct(candidate(ok.URL, "OK")))
	web.fail(bad.URL, errors.New("boom"))

	_, err = sched.RunDueSources(context.Background(), t0)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, l := range m.GetLabel() {
				key += "," + l.GetName() + "=" + l.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				values[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[key] = m.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, 1.0, values["hackscraper_source_runs_total,error_kind=none,kind=direct,status=succeeded"])
	assert.Equal(t, 1.0, values["hackscraper_source_runs_total,error_kind=transient,kind=direct,status=failed"])
	assert.Equal(t, 1.0, values["hackscraper_reconcile_changes_total,change=new_hackathon"])
	assert.Equal(t, 2.0, values["hackscraper_last_pass_sources"])
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, DefaultOptions(), o)
}
