package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/interfaces"
)

// NormalizedHandler serves the /api/normalized-jobs catalog feed consumed
// by downstream systems.
type NormalizedHandler struct {
	normalized interfaces.NormalizedJobStorage
	logger     arbor.ILogger
}

// NewNormalizedHandler creates a normalized-job handler.
func NewNormalizedHandler(normalized interfaces.NormalizedJobStorage, logger arbor.ILogger) *NormalizedHandler {
	return &NormalizedHandler{
		normalized: normalized,
		logger:     logger,
	}
}

// ListHandler returns normalized records, newest posted first.
// GET /api/normalized-jobs?board_id=...&published=true&skip=0&limit=50
func (h *NormalizedHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	filter := interfaces.NormalizedFilter{
		BoardID:       r.URL.Query().Get("board_id"),
		PublishedOnly: r.URL.Query().Get("published") == "true",
		ListOptions:   ParseListOptions(r),
	}

	jobs, total, err := h.normalized.ListNormalizedJobs(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list normalized jobs")
		WriteStorageError(w, r, err, "normalized jobs")
		return
	}
	WriteList(w, jobs, total, filter.ListOptions)
}

// GetHandler returns one normalized record.
// GET /api/normalized-jobs/{id}
func (h *NormalizedHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	id := PathSegment(r, 2)
	job, err := h.normalized.GetNormalizedJob(r.Context(), id)
	if err != nil {
		WriteStorageError(w, r, err, "normalized job")
		return
	}
	WriteJSON(w, http.StatusOK, job)
}
