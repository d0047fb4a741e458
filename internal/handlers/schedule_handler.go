// -----------------------------------------------------------------------
// Schedule Handler - per-board cron schedule CRUD
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/common"
	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
	"github.com/ternarybob/laboro/internal/services/scheduler"
)

// ScheduleHandler serves /api/job-boards/{id}/schedules and /api/schedules.
type ScheduleHandler struct {
	schedules interfaces.ScheduleStorage
	boards    interfaces.BoardStorage
	logger    arbor.ILogger
}

// NewScheduleHandler creates a schedule handler.
func NewScheduleHandler(schedules interfaces.ScheduleStorage, boards interfaces.BoardStorage, logger arbor.ILogger) *ScheduleHandler {
	return &ScheduleHandler{
		schedules: schedules,
		boards:    boards,
		logger:    logger,
	}
}

// ListByBoardHandler returns all schedules of one board.
// GET /api/job-boards/{id}/schedules
func (h *ScheduleHandler) ListByBoardHandler(w http.ResponseWriter, r *http.Request) {
	boardID := PathSegment(r, 2)
	if boardID == "" {
		WriteError(w, r, http.StatusBadRequest, "MISSING_ID", "board id is required")
		return
	}

	if _, err := h.boards.GetBoard(r.Context(), boardID); err != nil {
		WriteStorageError(w, r, err, "board")
		return
	}

	schedules, err := h.schedules.ListSchedulesByBoard(r.Context(), boardID)
	if err != nil {
		h.logger.Error().Err(err).Str("board_id", boardID).Msg("Failed to list schedules")
		WriteStorageError(w, r, err, "schedules")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"items": schedules,
		"total": len(schedules),
	})
}

// CreateHandler creates a schedule for a board. The cron expression and
// timezone are validated and the first firing computed before persisting.
// POST /api/job-boards/{id}/schedules
func (h *ScheduleHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	boardID := PathSegment(r, 2)
	if boardID == "" {
		WriteError(w, r, http.StatusBadRequest, "MISSING_ID", "board id is required")
		return
	}

	if _, err := h.boards.GetBoard(r.Context(), boardID); err != nil {
		WriteStorageError(w, r, err, "board")
		return
	}

	schedule := models.NewScheduleConfig(boardID, "", "UTC")
	if !DecodeBody(w, r, schedule) {
		return
	}
	schedule.ID = common.NewID()
	schedule.BoardID = boardID
	schedule.Version = 1
	now := time.Now().UTC()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	schedule.LastRunAt = nil

	if err := h.prepare(schedule, now); err != nil {
		WriteError(w, r, http.StatusBadRequest, "INVALID_SCHEDULE", err.Error())
		return
	}

	if err := h.schedules.CreateSchedule(r.Context(), schedule); err != nil {
		h.logger.Error().Err(err).Str("board_id", boardID).Msg("Failed to create schedule")
		WriteStorageError(w, r, err, "schedule")
		return
	}

	h.logger.Info().
		Str("schedule_id", schedule.ID).
		Str("board_id", boardID).
		Str("cron", schedule.CronExpression).
		Msg("Schedule created")
	WriteJSON(w, http.StatusCreated, schedule)
}

// GetHandler returns one schedule.
// GET /api/schedules/{id}
func (h *ScheduleHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	id := PathSegment(r, 2)
	schedule, err := h.schedules.GetSchedule(r.Context(), id)
	if err != nil {
		WriteStorageError(w, r, err, "schedule")
		return
	}
	WriteJSON(w, http.StatusOK, schedule)
}

// UpdateHandler applies a partial update. Changing the cron expression,
// timezone or enablement recomputes the next firing.
// PUT /api/schedules/{id}
func (h *ScheduleHandler) UpdateHandler(w http.ResponseWriter, r *http.Request) {
	id := PathSegment(r, 2)
	schedule, err := h.schedules.GetSchedule(r.Context(), id)
	if err != nil {
		WriteStorageError(w, r, err, "schedule")
		return
	}
	original := *schedule

	if !DecodeBody(w, r, schedule) {
		return
	}

	schedule.ID = original.ID
	schedule.BoardID = original.BoardID
	schedule.CreatedAt = original.CreatedAt
	schedule.Version = original.Version
	schedule.LastRunAt = original.LastRunAt
	now := time.Now().UTC()
	schedule.UpdatedAt = now

	recompute := schedule.CronExpression != original.CronExpression ||
		schedule.Timezone != original.Timezone ||
		(schedule.IsEnabled && !original.IsEnabled)
	if recompute {
		if err := h.prepare(schedule, now); err != nil {
			WriteError(w, r, http.StatusBadRequest, "INVALID_SCHEDULE", err.Error())
			return
		}
	} else if err := h.validate(schedule); err != nil {
		WriteError(w, r, http.StatusBadRequest, "INVALID_SCHEDULE", err.Error())
		return
	}

	if err := h.schedules.UpdateSchedule(r.Context(), schedule); err != nil {
		h.logger.Error().Err(err).Str("schedule_id", id).Msg("Failed to update schedule")
		WriteStorageError(w, r, err, "schedule")
		return
	}
	WriteJSON(w, http.StatusOK, schedule)
}

// DeleteHandler removes a schedule. Jobs it created are unaffected.
// DELETE /api/schedules/{id}
func (h *ScheduleHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	id := PathSegment(r, 2)
	if err := h.schedules.DeleteSchedule(r.Context(), id); err != nil {
		WriteStorageError(w, r, err, "schedule")
		return
	}
	h.logger.Info().Str("schedule_id", id).Msg("Schedule deleted")
	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "deleted",
		"id":     id,
	})
}

// prepare validates the schedule and computes its next firing from now.
func (h *ScheduleHandler) prepare(schedule *models.ScheduleConfig, now time.Time) error {
	if err := h.validate(schedule); err != nil {
		return err
	}
	next, err := scheduler.NextFiring(schedule.CronExpression, schedule.Timezone, now)
	if err != nil {
		return err
	}
	schedule.NextRunAt = &next
	return nil
}

func (h *ScheduleHandler) validate(schedule *models.ScheduleConfig) error {
	if err := schedule.Validate(); err != nil {
		return err
	}
	if err := scheduler.ValidateCron(schedule.CronExpression); err != nil {
		return err
	}
	return scheduler.ValidateTimezone(schedule.Timezone)
}
