// -----------------------------------------------------------------------
// Board Handler - CRUD for job board configurations
// -----------------------------------------------------------------------

package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/common"
	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
)

// BoardHandler serves the /api/job-boards resource.
type BoardHandler struct {
	storage interfaces.BoardStorage
	config  *common.Config
	logger  arbor.ILogger
}

// NewBoardHandler creates a board handler.
func NewBoardHandler(storage interfaces.BoardStorage, config *common.Config, logger arbor.ILogger) *BoardHandler {
	return &BoardHandler{
		storage: storage,
		config:  config,
		logger:  logger,
	}
}

// ListBoardsHandler returns a paginated board list.
// GET /api/job-boards?skip=0&limit=50&active_only=true
func (h *BoardHandler) ListBoardsHandler(w http.ResponseWriter, r *http.Request) {
	opts := ParseListOptions(r)
	activeOnly := r.URL.Query().Get("active_only") == "true"

	boards, total, err := h.storage.ListBoards(r.Context(), activeOnly, opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list boards")
		WriteStorageError(w, r, err, "boards")
		return
	}
	WriteList(w, boards, total, opts)
}

// CreateBoardHandler creates a board. Absent fields keep documented defaults.
// POST /api/job-boards
func (h *BoardHandler) CreateBoardHandler(w http.ResponseWriter, r *http.Request) {
	board := models.NewJobBoard("", "", "")
	if !DecodeBody(w, r, board) {
		return
	}

	// Client-supplied identity and history fields are ignored.
	board.ID = common.NewID()
	board.Version = 1
	now := time.Now().UTC()
	board.CreatedAt = now
	board.UpdatedAt = now
	board.TotalScrapes = 0
	board.SuccessfulScrapes = 0
	board.FailedScrapes = 0
	board.LastScrapedAt = nil
	board.SuccessRate = 0
	board.Unflag()

	if err := h.validate(board); err != nil {
		WriteError(w, r, http.StatusBadRequest, "INVALID_BOARD", err.Error())
		return
	}

	if err := h.storage.CreateBoard(r.Context(), board); err != nil {
		h.logger.Error().Err(err).Str("name", board.Name).Msg("Failed to create board")
		WriteStorageError(w, r, err, "board")
		return
	}

	h.logger.Info().
		Str("board_id", board.ID).
		Str("name", board.Name).
		Str("type", string(board.Type)).
		Msg("Board created")
	WriteJSON(w, http.StatusCreated, board)
}

// GetBoardHandler returns one board.
// GET /api/job-boards/{id}
func (h *BoardHandler) GetBoardHandler(w http.ResponseWriter, r *http.Request) {
	id := PathSegment(r, 2)
	if id == "" {
		WriteError(w, r, http.StatusBadRequest, "MISSING_ID", "board id is required")
		return
	}

	board, err := h.storage.GetBoard(r.Context(), id)
	if err != nil {
		WriteStorageError(w, r, err, "board")
		return
	}
	WriteJSON(w, http.StatusOK, board)
}

// UpdateBoardHandler applies a partial update. Fields absent from the body
// keep their stored values; history counters cannot be written.
// PUT /api/job-boards/{id}
func (h *BoardHandler) UpdateBoardHandler(w http.ResponseWriter, r *http.Request) {
	id := PathSegment(r, 2)
	if id == "" {
		WriteError(w, r, http.StatusBadRequest, "MISSING_ID", "board id is required")
		return
	}

	board, err := h.storage.GetBoard(r.Context(), id)
	if err != nil {
		WriteStorageError(w, r, err, "board")
		return
	}
	original := *board

	if !DecodeBody(w, r, board) {
		return
	}

	board.ID = original.ID
	board.CreatedAt = original.CreatedAt
	board.Version = original.Version
	board.TotalScrapes = original.TotalScrapes
	board.SuccessfulScrapes = original.SuccessfulScrapes
	board.FailedScrapes = original.FailedScrapes
	board.LastScrapedAt = original.LastScrapedAt
	board.SuccessRate = original.SuccessRate
	board.UpdatedAt = time.Now().UTC()

	// Re-activating a flagged board clears the flag.
	if original.IsFlagged && board.IsActive && !original.IsActive {
		board.Unflag()
	}

	if err := h.validate(board); err != nil {
		WriteError(w, r, http.StatusBadRequest, "INVALID_BOARD", err.Error())
		return
	}

	if err := h.storage.UpdateBoard(r.Context(), board); err != nil {
		h.logger.Error().Err(err).Str("board_id", id).Msg("Failed to update board")
		WriteStorageError(w, r, err, "board")
		return
	}

	h.logger.Info().Str("board_id", id).Msg("Board updated")
	WriteJSON(w, http.StatusOK, board)
}

// DeleteBoardHandler deactivates a board. Scrape history survives, the
// scheduler skips it and listings hide it behind active_only.
// DELETE /api/job-boards/{id}
func (h *BoardHandler) DeleteBoardHandler(w http.ResponseWriter, r *http.Request) {
	id := PathSegment(r, 2)
	if id == "" {
		WriteError(w, r, http.StatusBadRequest, "MISSING_ID", "board id is required")
		return
	}

	board, err := h.storage.GetBoard(r.Context(), id)
	if err != nil {
		WriteStorageError(w, r, err, "board")
		return
	}

	board.IsActive = false
	board.UpdatedAt = time.Now().UTC()
	if err := h.storage.UpdateBoard(r.Context(), board); err != nil {
		h.logger.Error().Err(err).Str("board_id", id).Msg("Failed to deactivate board")
		WriteStorageError(w, r, err, "board")
		return
	}

	h.logger.Info().Str("board_id", id).Str("name", board.Name).Msg("Board deactivated")
	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "deactivated",
		"id":     id,
	})
}

// validate applies model validation plus the production test-URL guard.
func (h *BoardHandler) validate(board *models.JobBoard) error {
	if err := board.Validate(); err != nil {
		return err
	}
	if h.config != nil && h.config.IsProduction() {
		for _, candidate := range []string{board.BaseURL, board.RSSURL} {
			if candidate != "" && common.IsTestURL(candidate) {
				return errTestURL(candidate)
			}
		}
	}
	return nil
}

func errTestURL(url string) error {
	return fmt.Errorf("test URL %q is not allowed in production", url)
}
