package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"imagerelay/internal/history"
)

func (s *Server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotImplemented, "HISTORY_DISABLED", "generation history is not configured")
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.store.List(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "HISTORY_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"generations": records,
	})
}

func (s *Server) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotImplemented, "HISTORY_DISABLED", "generation history is not configured")
		return
	}

	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "missing generation id")
		return
	}

	rec, err := s.store.Get(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "generation not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "HISTORY_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"generation": rec,
	})
}
