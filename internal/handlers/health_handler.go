// -----------------------------------------------------------------------
// Health Handler - liveness, readiness and version endpoints
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/common"
	"github.com/ternarybob/laboro/internal/interfaces"
)

// schedulerStaleAfter bounds how old the last scheduler tick may be before
// the process is reported not ready.
const schedulerStaleAfter = 5 * time.Second

// TickReporter exposes the scheduler's last tick time. The scheduler
// service implements it.
type TickReporter interface {
	LastTick() time.Time
}

// HealthHandler serves /health, /health/live, /health/ready and
// /api/version.
type HealthHandler struct {
	storage   interfaces.StorageManager
	scheduler TickReporter
	startedAt time.Time
	logger    arbor.ILogger
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(storage interfaces.StorageManager, scheduler TickReporter, logger arbor.ILogger) *HealthHandler {
	return &HealthHandler{
		storage:   storage,
		scheduler: scheduler,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// HealthHandler reports overall process health with component detail.
// GET /health
func (h *HealthHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	storeOK := h.storeReachable(r)
	schedulerOK := h.schedulerFresh()

	status := "healthy"
	code := http.StatusOK
	if !storeOK || !schedulerOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	WriteJSON(w, code, map[string]interface{}{
		"status":   status,
		"version":  common.GetVersion(),
		"uptime_s": time.Since(h.startedAt).Seconds(),
		"components": map[string]bool{
			"storage":   storeOK,
			"scheduler": schedulerOK,
		},
	})
}

// LiveHandler reports process liveness only.
// GET /health/live
func (h *HealthHandler) LiveHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ReadyHandler reports readiness: the store answers and the scheduler has
// ticked recently.
// GET /health/ready
func (h *HealthHandler) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if !h.storeReachable(r) {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": "storage unreachable",
		})
		return
	}
	if !h.schedulerFresh() {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": "scheduler has not ticked recently",
		})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// VersionHandler returns build metadata.
// GET /api/version
func (h *HealthHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

func (h *HealthHandler) storeReachable(r *http.Request) bool {
	if err := h.storage.Ping(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("Storage ping failed")
		return false
	}
	return true
}

func (h *HealthHandler) schedulerFresh() bool {
	if h.scheduler == nil {
		return true
	}
	last := h.scheduler.LastTick()
	if last.IsZero() {
		return false
	}
	return time.Since(last) <= schedulerStaleAfter
}
