package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/common"
	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
	"github.com/ternarybob/laboro/internal/storage/badger"
)

func newTestStorage(t *testing.T) interfaces.StorageManager {
	t.Helper()
	manager, err := badger.NewManager(arbor.NewLogger(), &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func newBoardHandler(t *testing.T) (*BoardHandler, interfaces.StorageManager) {
	t.Helper()
	storage := newTestStorage(t)
	return NewBoardHandler(storage.BoardStorage(), common.NewDefaultConfig(), arbor.NewLogger()), storage
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestCreateBoard(t *testing.T) {
	handler, _ := newBoardHandler(t)

	rec := postJSON(t, handler.CreateBoardHandler, "/api/job-boards", map[string]interface{}{
		"name":     "indeed",
		"type":     "HTML",
		"base_url": "https://example.com/jobs?page={page}",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var board models.JobBoard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &board))
	assert.NotEmpty(t, board.ID)
	assert.Equal(t, "indeed", board.Name)
	assert.True(t, board.IsActive)
	// Documented defaults survive a sparse body.
	assert.Equal(t, 10, board.MaxPages)
	assert.Equal(t, 2.0, board.RateLimitDelayS)
}

func TestCreateBoardRejectsInvalid(t *testing.T) {
	handler, _ := newBoardHandler(t)

	rec := postJSON(t, handler.CreateBoardHandler, "/api/job-boards", map[string]interface{}{
		"name": "broken",
		"type": "CARRIER_PIGEON",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_BOARD", resp.Error)
}

func TestCreateBoardDuplicateName(t *testing.T) {
	handler, _ := newBoardHandler(t)

	body := map[string]interface{}{
		"name":     "indeed",
		"type":     "HTML",
		"base_url": "https://example.com/jobs",
	}
	require.Equal(t, http.StatusCreated, postJSON(t, handler.CreateBoardHandler, "/api/job-boards", body).Code)

	rec := postJSON(t, handler.CreateBoardHandler, "/api/job-boards", body)
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "DUPLICATE", resp.Error)
}

func TestGetBoardNotFound(t *testing.T) {
	handler, _ := newBoardHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/job-boards/missing", nil)
	rec := httptest.NewRecorder()
	handler.GetBoardHandler(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateBoardPartial(t *testing.T) {
	handler, storage := newBoardHandler(t)

	board := models.NewJobBoard("seek", models.BoardTypeHTML, "https://example.com/jobs?page={page}")
	board.TotalScrapes = 7
	require.NoError(t, storage.BoardStorage().CreateBoard(context.Background(), board))

	data, _ := json.Marshal(map[string]interface{}{
		"name":      "seek",
		"type":      "HTML",
		"base_url":  board.BaseURL,
		"max_pages": 25,
		"is_active": true,
	})
	req := httptest.NewRequest(http.MethodPut, "/api/job-boards/"+board.ID, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	handler.UpdateBoardHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := storage.BoardStorage().GetBoard(context.Background(), board.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, updated.MaxPages)
	assert.Equal(t, int64(7), updated.TotalScrapes, "history counters are not writable")
}

func TestDeleteBoardIsSoft(t *testing.T) {
	handler, storage := newBoardHandler(t)

	board := models.NewJobBoard("jora", models.BoardTypeHTML, "https://example.com/jobs")
	require.NoError(t, storage.BoardStorage().CreateBoard(context.Background(), board))

	req := httptest.NewRequest(http.MethodDelete, "/api/job-boards/"+board.ID, nil)
	rec := httptest.NewRecorder()
	handler.DeleteBoardHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	kept, err := storage.BoardStorage().GetBoard(context.Background(), board.ID)
	require.NoError(t, err)
	assert.False(t, kept.IsActive)
}

func TestListBoardsActiveOnly(t *testing.T) {
	handler, storage := newBoardHandler(t)

	active := models.NewJobBoard("active", models.BoardTypeHTML, "https://example.com/a")
	inactive := models.NewJobBoard("inactive", models.BoardTypeHTML, "https://example.com/b")
	inactive.IsActive = false
	require.NoError(t, storage.BoardStorage().CreateBoard(context.Background(), active))
	require.NoError(t, storage.BoardStorage().CreateBoard(context.Background(), inactive))

	req := httptest.NewRequest(http.MethodGet, "/api/job-boards?active_only=true", nil)
	rec := httptest.NewRecorder()
	handler.ListBoardsHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Items []models.JobBoard `json:"items"`
		Total int               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "active", resp.Items[0].Name)
}
