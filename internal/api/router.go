// Package api exposes the operator contract as a JSON HTTP API.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hackscraper/hackscraper/internal/reconcile"
	"github.com/hackscraper/hackscraper/internal/scheduler"
	"github.com/hackscraper/hackscraper/internal/store"
)

// Deps are the collaborators the handlers need.
type Deps struct {
	Store       store.Store
	Scheduler   *scheduler.Scheduler
	Reconciler  *reconcile.Reconciler
	Gatherer    prometheus.Gatherer
	CORSOrigins []string
}

// Handler serves the operator API.
type Handler struct {
	store store.Store
	sched *scheduler.Scheduler
	rec   *reconcile.Reconciler
	clock func() time.Time
	log   *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		store: deps.Store,
		sched: deps.Scheduler,
		rec:   deps.Reconciler,
		clock: func() time.Time { return time.Now().UTC() },
		log:   zap.L().With(zap.String("component", "api")),
	}
}

// NewRouter wires every route. /metrics is served only when a gatherer is
// configured.
func NewRouter(deps Deps) http.Handler {
	h := NewHandler(deps)
	return h.routes(deps)
}

func (h *Handler) routes(deps Deps) http.Handler {
	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(h.requestLogger)

	r.Get("/health", h.Health)
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/strategies", h.ListStrategies)
		r.Post("/runs", h.RunDueSources)

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", h.ListSources)
			r.Post("/", h.CreateSource)
			r.Get("/due", h.ListDueSources)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetSource)
				r.Patch("/", h.UpdateSource)
				r.Delete("/", h.DeleteSource)
				r.Post("/run", h.RunSource)
			})
		})

		r.Route("/hackathons", func(r chi.Router) {
			r.Get("/", h.ListHackathons)
			r.Post("/", h.CreateHackathon)
			r.Get("/{id}", h.GetHackathon)
			r.Delete("/{id}", h.DeleteHackathon)
		})

		r.Route("/suggestions", func(r chi.Router) {
			r.Get("/", h.ListSuggestions)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetSuggestion)
				r.Post("/accept", h.AcceptSuggestion)
				r.Post("/reject", h.RejectSuggestion)
			})
		})
	})

	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
