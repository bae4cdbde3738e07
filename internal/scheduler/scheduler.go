// Package scheduler runs due sources through their strategies and hands
// the results to the reconciler, isolating each source's failure.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackscraper/hackscraper/internal/config"
	"github.com/hackscraper/hackscraper/internal/model"
	"github.com/hackscraper/hackscraper/internal/reconcile"
	"github.com/hackscraper/hackscraper/internal/store"
	"github.com/hackscraper/hackscraper/internal/strategy"
)

// Options bounds a pass.
type Options struct {
	Concurrency  int
	FetchTimeout time.Duration
	StoreTimeout time.Duration
	Frequency    time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Concurrency:  4,
		FetchTimeout: 3 * time.Minute,
		StoreTimeout: 30 * time.Second,
		Frequency:    30 * 24 * time.Hour,
	}
}

// OptionsFromConfig maps the scheduler config section onto Options.
func OptionsFromConfig(cfg config.SchedulerConfig) Options {
	return Options{
		Concurrency:  cfg.Concurrency,
		FetchTimeout: cfg.FetchTimeout(),
		StoreTimeout: cfg.StoreTimeout(),
		Frequency:    cfg.Frequency(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = d.FetchTimeout
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = d.StoreTimeout
	}
	if o.Frequency <= 0 {
		o.Frequency = d.Frequency
	}
	return o
}

// Recorder receives run outcomes. *Collector implements it.
type Recorder interface {
	RecordSource(r model.SourceReport)
	RecordBatch(b *model.BatchReport)
}

type nopRecorder struct{}

func (nopRecorder) RecordSource(model.SourceReport) {}
func (nopRecorder) RecordBatch(*model.BatchReport)  {}

// Scheduler runs sources. It holds no per-pass state and is safe for
// concurrent use.
type Scheduler struct {
	store    store.Store
	table    *strategy.Table
	rec      *reconcile.Reconciler
	opts     Options
	recorder Recorder
	clock    func() time.Time
	log      *zap.Logger
}

// New creates a Scheduler. recorder may be nil.
func New(st store.Store, table *strategy.Table, rec *reconcile.Reconciler, opts Options, recorder Recorder) *Scheduler {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Scheduler{
		store:    st,
		table:    table,
		rec:      rec,
		opts:     opts.withDefaults(),
		recorder: recorder,
		clock:    func() time.Time { return time.Now().UTC() },
		log:      zap.L().With(zap.String("component", "scheduler")),
	}
}

// Table returns the strategy table the scheduler dispatches through.
func (s *Scheduler) Table() *strategy.Table {
	return s.table
}

// RunDueSources runs every source whose next due time is at or before now.
// The due set is read once, so sources discovered during the pass wait for
// the next one. Only a failure to read the due set is returned as an error;
// per-source failures are in the report.
func (s *Scheduler) RunDueSources(ctx context.Context, now time.Time) (*model.BatchReport, error) {
	listCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	due, err := s.store.ListDueSources(listCtx, now)
	cancel()
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: list due sources")
	}

	batch := &model.BatchReport{StartedAt: now, Sources: make([]model.SourceReport, 0, len(due))}
	if len(due) == 0 {
		s.log.Debug("no due sources")
		batch.FinishedAt = s.clock()
		s.recorder.RecordBatch(batch)
		return batch, nil
	}
	s.log.Info("running due sources", zap.Int("count", len(due)))

	reports := make([]model.SourceReport, len(due))
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, src := range due {
		g.Go(func() error {
			reports[i] = s.runSource(ctx, src, now)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range reports {
		batch.Record(r)
	}
	batch.FinishedAt = s.clock()
	s.recorder.RecordBatch(batch)

	s.log.Info("pass complete",
		zap.Int("attempted", batch.Attempted),
		zap.Int("succeeded", batch.Succeeded),
		zap.Int("failed", batch.Failed),
		zap.Int("new_hackathons", batch.Totals.NewHackathons),
		zap.Int("new_suggestions", batch.Totals.NewSuggestions),
		zap.Int("new_sources", batch.Totals.NewSources),
		zap.Duration("elapsed", batch.FinishedAt.Sub(batch.StartedAt)),
	)
	return batch, nil
}

// RunSource runs one source immediately regardless of its due time. An
// unknown id returns store.ErrNotFound; everything else is in the report.
func (s *Scheduler) RunSource(ctx context.Context, id string, now time.Time) (*model.SourceReport, error) {
	getCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	src, err := s.store.GetSource(getCtx, id)
	cancel()
	if err != nil {
		return nil, err
	}
	r := s.runSource(ctx, *src, now)
	return &r, nil
}

// Start runs a pass immediately and then every interval until ctx is done.
// Ticks that arrive while a pass is still running are dropped.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	s.log.Info("scheduler started", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunDueSources(ctx, s.clock()); err != nil && ctx.Err() == nil {
			s.log.Error("pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runSource(ctx context.Context, src model.Source, now time.Time) model.SourceReport {
	start := time.Now()
	log := s.log.With(
		zap.String("source_id", src.ID),
		zap.String("url", src.URL),
		zap.String("strategy", string(src.Kind)+"/"+src.StrategyID),
	)
	next := now.Add(s.opts.Frequency)

	rep := model.SourceReport{
		SourceID:   src.ID,
		URL:        src.URL,
		Kind:       src.Kind,
		StrategyID: src.StrategyID,
		Status:     model.RunSucceeded,
		NextDueAt:  next,
	}

	delta, kind, err := s.attempt(ctx, src, now, next)
	rep.Delta = delta
	if err != nil {
		rep.Status = model.RunFailed
		rep.ErrorKind = kind
		rep.Error = err.Error()
		rep.NextDueAt = src.NextDueAt

		// The attempt's transaction rolled back; back off on our own so a
		// failing source is not retried on every pass. On shutdown the
		// source stays due and runs again next time.
		if ctx.Err() == nil {
			markCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
			if merr := s.store.MarkSourceRun(markCtx, src.ID, now, next); merr != nil {
				log.Error("reschedule failed", zap.Error(merr))
			} else {
				rep.NextDueAt = next
			}
			cancel()
		}
		log.Warn("source failed", zap.String("error_kind", string(kind)), zap.Error(err))
	} else {
		log.Info("source complete",
			zap.Int("new_hackathons", delta.NewHackathons),
			zap.Int("new_suggestions", delta.NewSuggestions),
			zap.Int("new_sources", delta.NewSources),
			zap.Int("unchanged", delta.Unchanged),
		)
	}

	rep.Duration = time.Since(start)
	s.recorder.RecordSource(rep)
	return rep
}

type outcome struct {
	res model.ExtractionResult
	err error
}

// attempt extracts and reconciles one source. The delta is only non-zero
// when the reconciliation committed.
func (s *Scheduler) attempt(ctx context.Context, src model.Source, now, next time.Time) (model.ReconcileDelta, model.ErrorKind, error) {
	fn, err := s.table.Lookup(src.Kind, src.StrategyID)
	if err != nil {
		return model.ReconcileDelta{}, model.ErrorConfiguration, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	// The strategy runs in its own goroutine so that one ignoring its
	// context still cannot hold the worker past the deadline.
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: &strategy.MalformedResultError{Kind: src.Kind, Reason: fmt.Sprintf("strategy panicked: %v", p)}}
			}
		}()
		res, err := fn(fetchCtx, src.URL)
		done <- outcome{res: res, err: err}
	}()

	var out outcome
	timedOut := false
	select {
	case out = <-done:
		timedOut = out.err != nil && errors.Is(fetchCtx.Err(), context.DeadlineExceeded)
	case <-fetchCtx.Done():
		out.err = fetchCtx.Err()
		timedOut = errors.Is(out.err, context.DeadlineExceeded)
	}
	if timedOut && ctx.Err() == nil {
		return model.ReconcileDelta{}, model.ErrorTimeout,
			eris.Wrapf(context.DeadlineExceeded, "strategy did not finish within %s", s.opts.FetchTimeout)
	}
	if out.err != nil {
		return model.ReconcileDelta{}, classify(out.err), out.err
	}
	if err := strategy.Validate(src.Kind, out.res); err != nil {
		return model.ReconcileDelta{}, model.ErrorMalformed, err
	}

	storeCtx, cancelStore := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancelStore()

	var delta model.ReconcileDelta
	err = s.store.InTx(storeCtx, func(tx store.Tx) error {
		d, err := s.rec.Apply(storeCtx, tx, src, out.res, now)
		if err != nil {
			return err
		}
		if err := tx.MarkSourceRun(storeCtx, src.ID, now, next); err != nil {
			return err
		}
		delta = d
		return nil
	})
	if err != nil {
		return model.ReconcileDelta{}, model.ErrorStore, eris.Wrap(err, "reconcile")
	}
	return delta, model.ErrorNone, nil
}

// classify maps a strategy error onto the report taxonomy. Anything not
// recognizably configuration, malformed or timeout is a transient fetch
// failure.
func classify(err error) model.ErrorKind {
	var ce *strategy.ConfigurationError
	var me *strategy.MalformedResultError
	switch {
	case errors.As(err, &ce):
		return model.ErrorConfiguration
	case errors.As(err, &me):
		return model.ErrorMalformed
	case errors.Is(err, context.DeadlineExceeded):
		return model.ErrorTimeout
	default:
		return model.ErrorTransient
	}
}
