// -----------------------------------------------------------------------
// Dashboard Handler - aggregated counters for the admin UI landing page
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
)

// DashboardHandler serves /api/dashboard.
type DashboardHandler struct {
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

// NewDashboardHandler creates a dashboard handler.
func NewDashboardHandler(storage interfaces.StorageManager, logger arbor.ILogger) *DashboardHandler {
	return &DashboardHandler{
		storage: storage,
		logger:  logger,
	}
}

// dashboardResponse is the aggregate served to the admin UI. Every count
// is computed on request; nothing here is cached.
type dashboardResponse struct {
	Boards struct {
		Total  int `json:"total"`
		Active int `json:"active"`
	} `json:"boards"`
	Jobs struct {
		Pending   int `json:"pending"`
		Running   int `json:"running"`
		Paused    int `json:"paused"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
		Cancelled int `json:"cancelled"`
	} `json:"jobs"`
	Records struct {
		Raw        int `json:"raw"`
		Normalized int `json:"normalized"`
		Published  int `json:"published"`
	} `json:"records"`
	Engine struct {
		Status         models.EngineStatus `json:"status"`
		TotalJobsToday int64               `json:"total_jobs_today"`
		SuccessRate    float64             `json:"success_rate"`
		UptimeS        float64             `json:"uptime_s"`
	} `json:"engine"`
	RecentFailures []*models.ScrapeJob `json:"recent_failures"`
}

// DashboardHandler returns the aggregate counters.
// GET /api/dashboard
func (h *DashboardHandler) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var resp dashboardResponse

	total, err := h.storage.BoardStorage().CountBoards(ctx, false)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to count boards")
		WriteStorageError(w, r, err, "dashboard")
		return
	}
	active, err := h.storage.BoardStorage().CountBoards(ctx, true)
	if err != nil {
		WriteStorageError(w, r, err, "dashboard")
		return
	}
	resp.Boards.Total = total
	resp.Boards.Active = active

	jobCounts := map[models.JobStatus]*int{
		models.JobStatusPending:   &resp.Jobs.Pending,
		models.JobStatusRunning:   &resp.Jobs.Running,
		models.JobStatusPaused:    &resp.Jobs.Paused,
		models.JobStatusCompleted: &resp.Jobs.Completed,
		models.JobStatusFailed:    &resp.Jobs.Failed,
		models.JobStatusCancelled: &resp.Jobs.Cancelled,
	}
	for status, target := range jobCounts {
		count, err := h.storage.JobStorage().CountJobsByStatus(ctx, status)
		if err != nil {
			WriteStorageError(w, r, err, "dashboard")
			return
		}
		*target = count
	}

	if resp.Records.Raw, err = h.storage.RawJobStorage().CountRawJobs(ctx); err != nil {
		WriteStorageError(w, r, err, "dashboard")
		return
	}
	if resp.Records.Normalized, err = h.storage.NormalizedJobStorage().CountNormalizedJobs(ctx, false); err != nil {
		WriteStorageError(w, r, err, "dashboard")
		return
	}
	if resp.Records.Published, err = h.storage.NormalizedJobStorage().CountNormalizedJobs(ctx, true); err != nil {
		WriteStorageError(w, r, err, "dashboard")
		return
	}

	// The engine singleton may not exist yet on a fresh store.
	if state, err := h.storage.EngineStorage().GetEngineState(ctx); err == nil {
		resp.Engine.Status = state.Status
		resp.Engine.TotalJobsToday = state.TotalJobsToday
		resp.Engine.SuccessRate = state.SuccessRate
		resp.Engine.UptimeS = state.UptimeS
	}

	failures, _, err := h.storage.JobStorage().ListJobs(ctx, interfaces.JobFilter{
		Status:      models.JobStatusFailed,
		ListOptions: interfaces.ListOptions{Limit: 5},
	})
	if err != nil {
		WriteStorageError(w, r, err, "dashboard")
		return
	}
	resp.RecentFailures = failures

	WriteJSON(w, http.StatusOK, resp)
}
