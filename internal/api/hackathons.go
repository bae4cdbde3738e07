package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackscraper/hackscraper/internal/model"
)

type hackathonRequest struct {
	URL string `json:"url"`
	model.Fields
}

// ListHackathons handles GET /api/hackathons?source_id=&limit=&offset=.
func (h *Handler) ListHackathons(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	hs, err := h.store.ListHackathons(r.Context(), model.HackathonFilter{
		SourceID: r.URL.Query().Get("source_id"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hs)
}

// CreateHackathon handles POST /api/hackathons. Manually added records have
// no source; a duplicate URL is a 409.
func (h *Handler) CreateHackathon(w http.ResponseWriter, r *http.Request) {
	var req hackathonRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		h.writeError(w, r, invalid(errors.New("url is required")))
		return
	}
	if err := checkURL(req.URL); err != nil {
		h.writeError(w, r, err)
		return
	}

	hk := model.Hackathon{URL: req.URL, Fields: req.Fields}
	if err := h.store.CreateHackathon(r.Context(), &hk); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Info("hackathon added", zap.String("hackathon_id", hk.ID), zap.String("url", hk.URL))
	writeJSON(w, http.StatusCreated, hk)
}

// GetHackathon handles GET /api/hackathons/{id}.
func (h *Handler) GetHackathon(w http.ResponseWriter, r *http.Request) {
	hk, err := h.store.GetHackathon(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hk)
}

// DeleteHackathon handles DELETE /api/hackathons/{id}. Its suggestions go
// with it.
func (h *Handler) DeleteHackathon(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteHackathon(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
