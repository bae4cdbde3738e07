package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/hackscraper/hackscraper/internal/extract"
	"github.com/hackscraper/hackscraper/internal/fetcher"
	"github.com/hackscraper/hackscraper/internal/reconcile"
	"github.com/hackscraper/hackscraper/internal/scheduler"
	"github.com/hackscraper/hackscraper/internal/store"
	"github.com/hackscraper/hackscraper/internal/strategy"
	anthropicpkg "github.com/hackscraper/hackscraper/pkg/anthropic"
)

// appEnv holds everything the run, serve and operator commands share.
type appEnv struct {
	Store      store.Store
	Table      *strategy.Table
	Reconciler *reconcile.Reconciler
	Scheduler  *scheduler.Scheduler
	Registry   *prometheus.Registry
}

// Close releases the store.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv opens the store and builds the strategy table, reconciler and
// scheduler. mode is passed to config validation. Callers should defer
// env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	deps := extract.Deps{
		Fetcher:   fetcher.NewHTTPFetcher(fetcher.OptionsFromConfig(cfg.Fetch)),
		Anthropic: cfg.Anthropic,
	}
	if cfg.Anthropic.Key != "" {
		deps.LLM = anthropicpkg.NewClient(cfg.Anthropic.Key)
	} else {
		zap.L().Debug("anthropic key not set, llm strategy disabled")
	}

	table, err := extract.DefaultTable(deps)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rec := reconcile.New(st, cfg.Reconcile.DefaultStrategy, reconcile.WithStoreTimeout(cfg.Scheduler.StoreTimeout()))
	sched := scheduler.New(st, table, rec, scheduler.OptionsFromConfig(cfg.Scheduler), scheduler.NewCollector(reg))

	return &appEnv{
		Store:      st,
		Table:      table,
		Reconciler: rec,
		Scheduler:  sched,
		Registry:   reg,
	}, nil
}
