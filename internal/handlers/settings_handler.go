// -----------------------------------------------------------------------
// Settings Handler - operator-tunable runtime limits
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/common"
	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
	"github.com/ternarybob/laboro/internal/services/engine"
)

// SettingsHandler serves /api/settings. Saved settings override the static
// configuration at runtime and survive restarts.
type SettingsHandler struct {
	storage  interfaces.SettingsStorage
	engine   *engine.Service
	config   *common.Config
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewSettingsHandler creates a settings handler.
func NewSettingsHandler(storage interfaces.SettingsStorage, engineService *engine.Service, config *common.Config, logger arbor.ILogger) *SettingsHandler {
	return &SettingsHandler{
		storage:  storage,
		engine:   engineService,
		config:   config,
		validate: validator.New(),
		logger:   logger,
	}
}

// GetHandler returns the stored settings, initializing defaults on first
// read of a fresh store.
// GET /api/settings
func (h *SettingsHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	settings, err := h.storage.InitSettings(r.Context(), h.defaults())
	if err != nil {
		WriteStorageError(w, r, err, "settings")
		return
	}
	WriteJSON(w, http.StatusOK, settings)
}

// UpdateHandler applies a partial settings update. Limit changes take
// effect immediately on the running engine.
// PUT /api/settings
func (h *SettingsHandler) UpdateHandler(w http.ResponseWriter, r *http.Request) {
	settings, err := h.storage.InitSettings(r.Context(), h.defaults())
	if err != nil {
		WriteStorageError(w, r, err, "settings")
		return
	}
	original := *settings

	if !DecodeBody(w, r, settings) {
		return
	}
	settings.ID = models.EngineSettingsID
	settings.CreatedAt = original.CreatedAt
	settings.Version = original.Version
	settings.UpdatedAt = time.Now().UTC()

	if err := h.validate.Struct(settings); err != nil {
		WriteError(w, r, http.StatusBadRequest, "INVALID_SETTINGS", err.Error())
		return
	}

	if err := h.storage.SaveSettings(r.Context(), settings); err != nil {
		h.logger.Error().Err(err).Msg("Failed to save settings")
		WriteStorageError(w, r, err, "settings")
		return
	}
	h.apply(r, settings, &original)

	h.logger.Info().
		Int("max_concurrent_jobs", settings.MaxConcurrentJobs).
		Bool("maintenance_mode", settings.MaintenanceMode).
		Msg("Settings updated")
	WriteJSON(w, http.StatusOK, settings)
}

// ResetHandler restores the configured defaults.
// POST /api/settings/reset
func (h *SettingsHandler) ResetHandler(w http.ResponseWriter, r *http.Request) {
	current, err := h.storage.GetSettings(r.Context())
	if err != nil && !isNotFound(err) {
		WriteStorageError(w, r, err, "settings")
		return
	}

	settings := h.defaults()
	if current != nil {
		settings.CreatedAt = current.CreatedAt
		settings.Version = current.Version
		settings.UpdatedAt = time.Now().UTC()
	}

	if err := h.storage.SaveSettings(r.Context(), settings); err != nil {
		WriteStorageError(w, r, err, "settings")
		return
	}
	h.apply(r, settings, current)

	h.logger.Info().Msg("Settings reset to configured defaults")
	WriteJSON(w, http.StatusOK, settings)
}

// TestHandler validates a settings payload without persisting it.
// POST /api/settings/test
func (h *SettingsHandler) TestHandler(w http.ResponseWriter, r *http.Request) {
	settings := h.defaults()
	if !DecodeBody(w, r, settings) {
		return
	}

	if err := h.validate.Struct(settings); err != nil {
		WriteError(w, r, http.StatusBadRequest, "INVALID_SETTINGS", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "valid",
		"message": "settings payload passes validation",
	})
}

// apply pushes changed limits onto the running engine.
func (h *SettingsHandler) apply(r *http.Request, settings, previous *models.EngineSettings) {
	if h.engine == nil {
		return
	}
	ctx := r.Context()
	if previous == nil || settings.MaxConcurrentJobs != previous.MaxConcurrentJobs {
		if err := h.engine.SetMaxConcurrentJobs(ctx, settings.MaxConcurrentJobs); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to apply max_concurrent_jobs to engine")
		}
	}
	if previous == nil || settings.MaintenanceMode != previous.MaintenanceMode {
		if _, err := h.engine.SetMaintenanceMode(ctx, settings.MaintenanceMode); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to apply maintenance mode to engine")
		}
	}
}

func (h *SettingsHandler) defaults() *models.EngineSettings {
	return models.DefaultEngineSettings(
		h.config.Engine.MaxConcurrentJobs,
		h.config.RateLimit.DefaultDelaySeconds,
		h.config.Fetcher.TimeoutSeconds,
		3,
		h.config.RateLimit.MaxConcurrentRequests,
	)
}
