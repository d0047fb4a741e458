// -----------------------------------------------------------------------
// Engine Handler - engine state snapshot and intake control
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/services/engine"
)

// EngineHandler serves /api/engine.
type EngineHandler struct {
	engine *engine.Service
	logger arbor.ILogger
}

// NewEngineHandler creates an engine handler.
func NewEngineHandler(engineService *engine.Service, logger arbor.ILogger) *EngineHandler {
	return &EngineHandler{
		engine: engineService,
		logger: logger,
	}
}

// StateHandler returns the stored engine snapshot without refreshing it.
// GET /api/engine/state
func (h *EngineHandler) StateHandler(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.Snapshot(r.Context())
	if err != nil {
		WriteStorageError(w, r, err, "engine state")
		return
	}
	WriteJSON(w, http.StatusOK, state)
}

// HeartbeatHandler forces a heartbeat refresh and returns the new snapshot.
// POST /api/engine/heartbeat
func (h *EngineHandler) HeartbeatHandler(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.Refresh(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Forced heartbeat failed")
		WriteStorageError(w, r, err, "engine state")
		return
	}
	WriteJSON(w, http.StatusOK, state)
}

// PauseHandler pauses job intake. Running jobs finish; nothing new starts.
// POST /api/engine/pause
func (h *EngineHandler) PauseHandler(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.SetIntakePaused(r.Context(), true)
	if err != nil {
		WriteStorageError(w, r, err, "engine state")
		return
	}
	h.logger.Info().Msg("Engine intake paused")
	WriteJSON(w, http.StatusOK, state)
}

// ResumeHandler resumes job intake.
// POST /api/engine/resume
func (h *EngineHandler) ResumeHandler(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.SetIntakePaused(r.Context(), false)
	if err != nil {
		WriteStorageError(w, r, err, "engine state")
		return
	}
	h.logger.Info().Msg("Engine intake resumed")
	WriteJSON(w, http.StatusOK, state)
}
