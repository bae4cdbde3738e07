package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hackscraper/hackscraper/internal/model"
)

// Collector exports run outcomes as Prometheus metrics.
type Collector struct {
	sourceRuns     *prometheus.CounterVec
	sourceDuration *prometheus.HistogramVec
	changes        *prometheus.CounterVec
	lastPass       prometheus.Gauge
	lastPassDue    prometheus.Gauge
}

// NewCollector creates a Collector and registers it on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sourceRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hackscraper_source_runs_total",
			Help: "Source runs by kind, status and error kind.",
		}, []string{"kind", "status", "error_kind"}),
		sourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hackscraper_source_run_duration_seconds",
			Help:    "Wall time of one source run, extraction plus reconciliation.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 180},
		}, []string{"kind"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hackscraper_reconcile_changes_total",
			Help: "Catalog changes produced by reconciliation.",
		}, []string{"change"}),
		lastPass: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hackscraper_last_pass_timestamp_seconds",
			Help: "Unix time the last pass over due sources finished.",
		}),
		lastPassDue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hackscraper_last_pass_sources",
			Help: "Number of due sources attempted by the last pass.",
		}),
	}

	reg.MustRegister(
		c.sourceRuns,
		c.sourceDuration,
		c.changes,
		c.lastPass,
		c.lastPassDue,
	)
	return c
}

// RecordSource counts one source run.
func (c *Collector) RecordSource(r model.SourceReport) {
	errKind := string(r.ErrorKind)
	if errKind == "" {
		errKind = "none"
	}
	c.sourceRuns.WithLabelValues(string(r.Kind), string(r.Status), errKind).Inc()
	c.sourceDuration.WithLabelValues(string(r.Kind)).Observe(r.Duration.Seconds())
	c.changes.WithLabelValues("new_hackathon").Add(float64(r.Delta.NewHackathons))
	c.changes.WithLabelValues("new_suggestion").Add(float64(r.Delta.NewSuggestions))
	c.changes.WithLabelValues("new_source").Add(float64(r.Delta.NewSources))
	c.changes.WithLabelValues("unchanged").Add(float64(r.Delta.Unchanged))
}

// RecordBatch records the completion of a pass.
func (c *Collector) RecordBatch(b *model.BatchReport) {
	c.lastPass.Set(float64(b.FinishedAt.Unix()))
	c.lastPassDue.Set(float64(b.Attempted))
}
