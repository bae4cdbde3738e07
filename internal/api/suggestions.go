package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hackscraper/hackscraper/internal/model"
)

type acceptRequest struct {
	Fields []string `json:"fields"`
}

// ListSuggestions handles GET /api/suggestions?hackathon_id=&source_id=.
func (h *Handler) ListSuggestions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	ss, err := h.store.ListSuggestions(r.Context(), model.SuggestionFilter{
		HackathonID: q.Get("hackathon_id"),
		SourceID:    q.Get("source_id"),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ss)
}

// GetSuggestion handles GET /api/suggestions/{id}.
func (h *Handler) GetSuggestion(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.GetSuggestion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// AcceptSuggestion handles POST /api/suggestions/{id}/accept with body
// {"fields": ["name", ...]}. An empty body or field list rejects.
func (h *Handler) AcceptSuggestion(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	fields, err := model.ParseFields(req.Fields)
	if err != nil {
		h.writeError(w, r, invalid(err))
		return
	}
	if err := h.rec.Accept(r.Context(), chi.URLParam(r, "id"), fields); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RejectSuggestion handles POST /api/suggestions/{id}/reject.
func (h *Handler) RejectSuggestion(w http.ResponseWriter, r *http.Request) {
	if err := h.rec.Reject(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
