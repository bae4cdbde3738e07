package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackscraper/hackscraper/internal/model"
	"github.com/hackscraper/hackscraper/internal/strategy"
)

type sourceRequest struct {
	URL        *string    `json:"url"`
	Kind       *string    `json:"kind"`
	StrategyID *string    `json:"strategy_id"`
	NextDueAt  *time.Time `json:"next_due_at"`
}

type strategyResponse struct {
	Kind        model.SourceKind `json:"kind"`
	ID          string           `json:"id"`
	Description string           `json:"description"`
}

// checkURL accepts absolute http(s) URLs. Beyond that URLs are opaque.
func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid(errors.New("url must be an absolute http or https url"))
	}
	return nil
}

// ListStrategies handles GET /api/strategies.
func (h *Handler) ListStrategies(w http.ResponseWriter, _ *http.Request) {
	entries := h.sched.Table().Entries()
	out := make([]strategyResponse, len(entries))
	for i, e := range entries {
		out[i] = strategyResponse{Kind: e.Kind, ID: e.ID, Description: e.Description}
	}
	writeJSON(w, http.StatusOK, out)
}

// ListSources handles GET /api/sources?kind=&origin=&limit=&offset=.
func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filter := model.SourceFilter{OriginSourceID: r.URL.Query().Get("origin"), Limit: limit, Offset: offset}
	if k := r.URL.Query().Get("kind"); k != "" {
		kind, err := model.ParseSourceKind(k)
		if err != nil {
			h.writeError(w, r, invalid(err))
			return
		}
		filter.Kind = kind
	}
	sources, err := h.store.ListSources(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

// ListDueSources handles GET /api/sources/due?at=RFC3339.
func (h *Handler) ListDueSources(w http.ResponseWriter, r *http.Request) {
	at := h.clock()
	if s := r.URL.Query().Get("at"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			h.writeError(w, r, invalid(errors.New("at must be an RFC 3339 timestamp")))
			return
		}
		at = t.UTC()
	}
	sources, err := h.store.ListDueSources(r.Context(), at)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

// CreateSource handles POST /api/sources. Kind defaults to direct and the
// strategy to the reconciler's default.
func (h *Handler) CreateSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	src := model.Source{Kind: model.KindDirect, StrategyID: h.rec.DefaultStrategy()}
	if err := h.applySourceRequest(&src, req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if src.URL == "" {
		h.writeError(w, r, invalid(errors.New("url is required")))
		return
	}
	if req.NextDueAt != nil {
		src.NextDueAt = req.NextDueAt.UTC()
	}

	if err := h.store.CreateSource(r.Context(), &src); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Info("source registered", zap.String("source_id", src.ID), zap.String("url", src.URL))
	writeJSON(w, http.StatusCreated, src)
}

// GetSource handles GET /api/sources/{id}.
func (h *Handler) GetSource(w http.ResponseWriter, r *http.Request) {
	src, err := h.store.GetSource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

// UpdateSource handles PATCH /api/sources/{id}. Only the fields present in
// the body change; next_due_at reschedules the source.
func (h *Handler) UpdateSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	src, err := h.store.GetSource(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.applySourceRequest(src, req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.URL != nil || req.Kind != nil || req.StrategyID != nil {
		if err := h.store.UpdateSource(ctx, *src); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if req.NextDueAt != nil {
		if err := h.store.ScheduleSource(ctx, src.ID, req.NextDueAt.UTC()); err != nil {
			h.writeError(w, r, err)
			return
		}
		src.NextDueAt = req.NextDueAt.UTC()
	}
	writeJSON(w, http.StatusOK, src)
}

// DeleteSource handles DELETE /api/sources/{id}.
func (h *Handler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteSource(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunSource handles POST /api/sources/{id}/run. It runs synchronously and
// returns the source report; a failed run is still a 200.
func (h *Handler) RunSource(w http.ResponseWriter, r *http.Request) {
	rep, err := h.sched.RunSource(r.Context(), chi.URLParam(r, "id"), h.clock())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// RunDueSources handles POST /api/runs.
func (h *Handler) RunDueSources(w http.ResponseWriter, r *http.Request) {
	batch, err := h.sched.RunDueSources(r.Context(), h.clock())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// applySourceRequest copies the set fields of req onto src. A new source,
// or one whose kind or strategy changes, must name a registered strategy.
func (h *Handler) applySourceRequest(src *model.Source, req sourceRequest) error {
	if req.URL != nil {
		u := strings.TrimSpace(*req.URL)
		if err := checkURL(u); err != nil {
			return err
		}
		src.URL = u
	}
	if req.Kind != nil {
		kind, err := model.ParseSourceKind(*req.Kind)
		if err != nil {
			return invalid(err)
		}
		src.Kind = kind
	}
	if req.StrategyID != nil {
		src.StrategyID = strings.TrimSpace(*req.StrategyID)
	}
	changed := src.ID == "" || req.Kind != nil || req.StrategyID != nil
	if changed && !h.sched.Table().Has(src.Kind, src.StrategyID) {
		return &strategy.ConfigurationError{Kind: src.Kind, StrategyID: src.StrategyID}
	}
	return nil
}
