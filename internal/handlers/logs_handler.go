package handlers

import (
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/logs"
)

// LogsHandler serves the in-memory log ring at /api/logs.
type LogsHandler struct {
	logs   *logs.Service
	logger arbor.ILogger
}

// NewLogsHandler creates a logs handler.
func NewLogsHandler(logService *logs.Service, logger arbor.ILogger) *LogsHandler {
	return &LogsHandler{
		logs:   logService,
		logger: logger,
	}
}

// TailHandler returns retained log entries, oldest first.
// GET /api/logs?level=warn&job_id=...&limit=200
func (h *LogsHandler) TailHandler(w http.ResponseWriter, r *http.Request) {
	filter := logs.Filter{
		MinLevel: r.URL.Query().Get("level"),
		JobID:    r.URL.Query().Get("job_id"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}

	entries, total := h.logs.Tail(filter)
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"items": entries,
		"total": total,
	})
}
