package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/interfaces"
)

// RunHandler serves the read-only /api/runs resource.
type RunHandler struct {
	runs   interfaces.RunStorage
	logger arbor.ILogger
}

// NewRunHandler creates a run handler.
func NewRunHandler(runs interfaces.RunStorage, logger arbor.ILogger) *RunHandler {
	return &RunHandler{
		runs:   runs,
		logger: logger,
	}
}

// ListRunsHandler returns runs, optionally scoped to one job in page order.
// GET /api/runs?job_id=...&skip=0&limit=50
func (h *RunHandler) ListRunsHandler(w http.ResponseWriter, r *http.Request) {
	filter := interfaces.RunFilter{
		JobID:       r.URL.Query().Get("job_id"),
		ListOptions: ParseListOptions(r),
	}

	runs, total, err := h.runs.ListRuns(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list runs")
		WriteStorageError(w, r, err, "runs")
		return
	}
	WriteList(w, runs, total, filter.ListOptions)
}

// GetRunHandler returns one run.
// GET /api/runs/{id}
func (h *RunHandler) GetRunHandler(w http.ResponseWriter, r *http.Request) {
	id := PathSegment(r, 2)
	run, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		WriteStorageError(w, r, err, "run")
		return
	}
	WriteJSON(w, http.StatusOK, run)
}
