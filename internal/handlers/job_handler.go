// -----------------------------------------------------------------------
// Job Handler - scrape job listing and lifecycle control
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
)

// JobCanceller aborts an in-flight job owned by this process. The worker
// pool implements it; ok=false means no local worker holds the job.
type JobCanceller interface {
	CancelJob(jobID string) bool
}

// JobHandler serves the /api/jobs resource.
type JobHandler struct {
	jobs      interfaces.JobStorage
	boards    interfaces.BoardStorage
	events    interfaces.EventService
	canceller JobCanceller
	logger    arbor.ILogger
}

// NewJobHandler creates a job handler.
func NewJobHandler(jobs interfaces.JobStorage, boards interfaces.BoardStorage, events interfaces.EventService, canceller JobCanceller, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobs:      jobs,
		boards:    boards,
		events:    events,
		canceller: canceller,
		logger:    logger,
	}
}

// ListJobsHandler returns a filtered, paginated job list, newest first.
// GET /api/jobs?status=RUNNING&board_id=...&skip=0&limit=50
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	filter := interfaces.JobFilter{
		Status:      models.JobStatus(r.URL.Query().Get("status")),
		BoardID:     r.URL.Query().Get("board_id"),
		ListOptions: ParseListOptions(r),
	}

	jobs, total, err := h.jobs.ListJobs(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteStorageError(w, r, err, "jobs")
		return
	}
	WriteList(w, jobs, total, filter.ListOptions)
}

// startJobRequest is the POST /api/jobs body.
type startJobRequest struct {
	BoardID  string `json:"board_id"`
	Mode     string `json:"mode,omitempty"`
	Priority int    `json:"priority,omitempty"`
	MaxPages int    `json:"max_pages,omitempty"`
}

// StartJobHandler creates a PENDING job for a board. The worker pool picks
// it up on its next dispatch pass.
// POST /api/jobs
func (h *JobHandler) StartJobHandler(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if !DecodeBody(w, r, &req) {
		return
	}
	if req.BoardID == "" {
		WriteError(w, r, http.StatusBadRequest, "MISSING_BOARD", "board_id is required")
		return
	}

	mode := models.JobModeManual
	if req.Mode != "" {
		mode = models.JobMode(req.Mode)
		if !mode.IsValid() {
			WriteError(w, r, http.StatusBadRequest, "INVALID_MODE", fmt.Sprintf("unknown job mode %q", req.Mode))
			return
		}
	}
	if req.MaxPages < 0 {
		WriteError(w, r, http.StatusBadRequest, "INVALID_MAX_PAGES", "max_pages must be >= 0")
		return
	}

	board, err := h.boards.GetBoard(r.Context(), req.BoardID)
	if err != nil {
		WriteStorageError(w, r, err, "board")
		return
	}
	if !board.IsActive {
		WriteError(w, r, http.StatusConflict, "BOARD_INACTIVE", "cannot start a job for a deactivated board")
		return
	}

	job := models.NewScrapeJob(board, mode, req.Priority)
	job.MaxPages = req.MaxPages

	if err := h.jobs.CreateJob(r.Context(), job); err != nil {
		h.logger.Error().Err(err).Str("board_id", board.ID).Msg("Failed to create job")
		WriteStorageError(w, r, err, "job")
		return
	}

	h.publish(interfaces.EventJobCreated, job)
	h.logger.Info().
		Str("job_id", job.ID).
		Str("board_id", board.ID).
		Str("mode", string(mode)).
		Msg("Job created")
	WriteJSON(w, http.StatusCreated, job)
}

// GetJobHandler returns one job.
// GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	id := PathSegment(r, 2)
	job, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		WriteStorageError(w, r, err, "job")
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// PauseJobHandler requests a pause of a RUNNING job. The stored status
// flips to PAUSED immediately; the owning worker adopts the change at its
// next page boundary, preserving the page cursor.
// POST /api/jobs/{id}/pause
func (h *JobHandler) PauseJobHandler(w http.ResponseWriter, r *http.Request) {
	id := PathSegment(r, 2)
	job, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		WriteStorageError(w, r, err, "job")
		return
	}

	if job.Status != models.JobStatusRunning {
		WriteError(w, r, http.StatusConflict, "NOT_RUNNING", fmt.Sprintf("cannot pause a %s job", job.Status))
		return
	}
	if err := job.MarkPaused(); err != nil {
		WriteError(w, r, http.StatusConflict, "ILLEGAL_TRANSITION", err.Error())
		return
	}
	job.UpdatedAt = time.Now().UTC()

	if err := h.jobs.UpdateJob(r.Context(), job); err != nil {
		if errors.Is(err, interfaces.ErrVersionConflict) {
			WriteError(w, r, http.StatusConflict, "VERSION_CONFLICT", "job changed concurrently, retry")
			return
		}
		WriteStorageError(w, r, err, "job")
		return
	}

	h.publish(interfaces.EventJobPaused, job)
	h.logger.Info().Str("job_id", id).Int("page_cursor", job.PageCursor).Msg("Job pause requested")
	WriteJSON(w, http.StatusOK, job)
}

// ResumeJobHandler flags a PAUSED job for re-dispatch. The job stays
// PAUSED until a worker claims it; execution restarts at the saved cursor.
// POST /api/jobs/{id}/resume
func (h *JobHandler) ResumeJobHandler(w http.ResponseWriter, r *http.Request) {
	id := PathSegment(r, 2)
	job, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		WriteStorageError(w, r, err, "job")
		return
	}

	if job.Status != models.JobStatusPaused {
		WriteError(w, r, http.StatusConflict, "NOT_PAUSED", fmt.Sprintf("cannot resume a %s job", job.Status))
		return
	}
	if job.ResumeRequested {
		WriteJSON(w, http.StatusOK, job)
		return
	}

	job.ResumeRequested = true
	job.UpdatedAt = time.Now().UTC()
	if err := h.jobs.UpdateJob(r.Context(), job); err != nil {
		WriteStorageError(w, r, err, "job")
		return
	}

	h.logger.Info().Str("job_id", id).Int("page_cursor", job.PageCursor).Msg("Job resume requested")
	WriteJSON(w, http.StatusOK, job)
}

// CancelJobHandler cancels a job in any non-terminal state. The CANCELLED
// transition lands in the store first so the outcome survives a crash; a
// job running in this process then has its context cancelled, and the
// owning worker folds its progress and publishes job_cancelled.
// POST /api/jobs/{id}/cancel
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	id := PathSegment(r, 2)
	job, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		WriteStorageError(w, r, err, "job")
		return
	}

	if job.Status.IsTerminal() {
		WriteError(w, r, http.StatusConflict, "ALREADY_TERMINAL", fmt.Sprintf("job is already %s", job.Status))
		return
	}

	wasRunning := job.Status == models.JobStatusRunning
	if err := job.MarkCancelled(); err != nil {
		WriteError(w, r, http.StatusConflict, "ILLEGAL_TRANSITION", err.Error())
		return
	}
	job.UpdatedAt = time.Now().UTC()
	if err := h.jobs.UpdateJob(r.Context(), job); err != nil {
		if errors.Is(err, interfaces.ErrVersionConflict) {
			WriteError(w, r, http.StatusConflict, "VERSION_CONFLICT", "job changed concurrently, retry")
			return
		}
		WriteStorageError(w, r, err, "job")
		return
	}

	if wasRunning && h.canceller != nil && h.canceller.CancelJob(id) {
		// The owning worker aborts its in-flight fetch, adopts the stored
		// CANCELLED status and publishes job_cancelled.
		h.logger.Info().Str("job_id", id).Msg("Job cancellation signalled to worker")
		WriteJSON(w, http.StatusAccepted, map[string]string{
			"status": "cancelling",
			"id":     id,
		})
		return
	}

	if !wasRunning {
		// No worker owns a PENDING or PAUSED job, so the API announces
		// the transition itself. A job running in another process adopts
		// the stored status at its next page boundary and publishes there.
		h.publish(interfaces.EventJobCancelled, job)
	}
	h.logger.Info().Str("job_id", id).Msg("Job cancelled")
	WriteJSON(w, http.StatusOK, job)
}

func (h *JobHandler) publish(eventType interfaces.EventType, job *models.ScrapeJob) {
	if h.events == nil {
		return
	}
	_ = h.events.Publish(context.Background(), interfaces.Event{Type: eventType, Payload: job})
}
