package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
)

type capturedEvents struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (c *capturedEvents) Subscribe(interfaces.EventType, interfaces.EventHandler) error   { return nil }
func (c *capturedEvents) Unsubscribe(interfaces.EventType, interfaces.EventHandler) error { return nil }

func (c *capturedEvents) Publish(_ context.Context, event interfaces.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturedEvents) PublishSync(ctx context.Context, event interfaces.Event) error {
	return c.Publish(ctx, event)
}

func (c *capturedEvents) Close() error { return nil }

func (c *capturedEvents) types() []interfaces.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]interfaces.EventType, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

type stubCanceller struct {
	cancelled []string
	owns      bool
}

func (s *stubCanceller) CancelJob(jobID string) bool {
	s.cancelled = append(s.cancelled, jobID)
	return s.owns
}

func newJobHandler(t *testing.T) (*JobHandler, interfaces.StorageManager, *capturedEvents, *stubCanceller) {
	t.Helper()
	storage := newTestStorage(t)
	events := &capturedEvents{}
	canceller := &stubCanceller{}
	handler := NewJobHandler(storage.JobStorage(), storage.BoardStorage(), events, canceller, arbor.NewLogger())
	return handler, storage, events, canceller
}

func seedBoard(t *testing.T, storage interfaces.StorageManager) *models.JobBoard {
	t.Helper()
	board := models.NewJobBoard("indeed", models.BoardTypeHTML, "https://example.com/jobs?page={page}")
	require.NoError(t, storage.BoardStorage().CreateBoard(context.Background(), board))
	return board
}

func TestStartJob(t *testing.T) {
	handler, storage, events, _ := newJobHandler(t)
	board := seedBoard(t, storage)

	rec := postJSON(t, handler.StartJobHandler, "/api/jobs", map[string]interface{}{
		"board_id":  board.ID,
		"max_pages": 3,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var job models.ScrapeJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, models.JobModeManual, job.Mode)
	assert.Equal(t, 3, job.EffectiveMaxPages())
	assert.Equal(t, board.Name, job.ConfigSnapshot.BoardName)
	assert.Contains(t, events.types(), interfaces.EventJobCreated)
}

func TestStartJobInactiveBoard(t *testing.T) {
	handler, storage, _, _ := newJobHandler(t)
	board := seedBoard(t, storage)
	board.IsActive = false
	require.NoError(t, storage.BoardStorage().UpdateBoard(context.Background(), board))

	rec := postJSON(t, handler.StartJobHandler, "/api/jobs", map[string]interface{}{
		"board_id": board.ID,
	})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartJobUnknownBoard(t *testing.T) {
	handler, _, _, _ := newJobHandler(t)

	rec := postJSON(t, handler.StartJobHandler, "/api/jobs", map[string]interface{}{
		"board_id": "missing",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPauseRunningJob(t *testing.T) {
	handler, storage, events, _ := newJobHandler(t)
	board := seedBoard(t, storage)

	job := models.NewScrapeJob(board, models.JobModeManual, 0)
	require.NoError(t, job.MarkRunning("worker-1"))
	job.PageCursor = 4
	require.NoError(t, storage.JobStorage().CreateJob(context.Background(), job))

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/"+job.ID+"/pause", nil)
	rec := httptest.NewRecorder()
	handler.PauseJobHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := storage.JobStorage().GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPaused, stored.Status)
	assert.Equal(t, 4, stored.PageCursor, "cursor survives pause")
	assert.Contains(t, events.types(), interfaces.EventJobPaused)
}

func TestPausePendingJobRejected(t *testing.T) {
	handler, storage, _, _ := newJobHandler(t)
	board := seedBoard(t, storage)

	job := models.NewScrapeJob(board, models.JobModeManual, 0)
	require.NoError(t, storage.JobStorage().CreateJob(context.Background(), job))

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/"+job.ID+"/pause", nil)
	rec := httptest.NewRecorder()
	handler.PauseJobHandler(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestResumePausedJob(t *testing.T) {
	handler, storage, _, _ := newJobHandler(t)
	board := seedBoard(t, storage)

	job := models.NewScrapeJob(board, models.JobModeManual, 0)
	require.NoError(t, job.MarkRunning("worker-1"))
	require.NoError(t, job.MarkPaused())
	require.NoError(t, storage.JobStorage().CreateJob(context.Background(), job))

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/"+job.ID+"/resume", nil)
	rec := httptest.NewRecorder()
	handler.ResumeJobHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := storage.JobStorage().GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPaused, stored.Status, "stays PAUSED until a worker claims it")
	assert.True(t, stored.ResumeRequested)
}

func TestCancelPendingJob(t *testing.T) {
	handler, storage, events, canceller := newJobHandler(t)
	board := seedBoard(t, storage)

	job := models.NewScrapeJob(board, models.JobModeManual, 0)
	require.NoError(t, storage.JobStorage().CreateJob(context.Background(), job))

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/"+job.ID+"/cancel", nil)
	rec := httptest.NewRecorder()
	handler.CancelJobHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := storage.JobStorage().GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, stored.Status)
	assert.Contains(t, events.types(), interfaces.EventJobCancelled)
	assert.Empty(t, canceller.cancelled, "pending jobs have no worker to signal")
}

func TestCancelRunningJobSignalsWorker(t *testing.T) {
	handler, storage, events, canceller := newJobHandler(t)
	canceller.owns = true
	board := seedBoard(t, storage)

	job := models.NewScrapeJob(board, models.JobModeManual, 0)
	require.NoError(t, job.MarkRunning("worker-1"))
	require.NoError(t, storage.JobStorage().CreateJob(context.Background(), job))

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/"+job.ID+"/cancel", nil)
	rec := httptest.NewRecorder()
	handler.CancelJobHandler(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{job.ID}, canceller.cancelled)

	// The CANCELLED transition lands before the worker is signalled, so
	// the outcome survives even if the worker never wakes up. The worker
	// owns the job_cancelled event.
	stored, err := storage.JobStorage().GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, stored.Status)
	assert.NotContains(t, events.types(), interfaces.EventJobCancelled)
}

func TestCancelRunningJobOwnedElsewhere(t *testing.T) {
	handler, storage, events, canceller := newJobHandler(t)
	canceller.owns = false
	board := seedBoard(t, storage)

	job := models.NewScrapeJob(board, models.JobModeManual, 0)
	require.NoError(t, job.MarkRunning("worker-9"))
	require.NoError(t, storage.JobStorage().CreateJob(context.Background(), job))

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/"+job.ID+"/cancel", nil)
	rec := httptest.NewRecorder()
	handler.CancelJobHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// The remote owner adopts the stored status at its next page boundary
	// and publishes there.
	stored, err := storage.JobStorage().GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, stored.Status)
	assert.NotContains(t, events.types(), interfaces.EventJobCancelled)
}

func TestCancelTerminalJobRejected(t *testing.T) {
	handler, storage, _, _ := newJobHandler(t)
	board := seedBoard(t, storage)

	job := models.NewScrapeJob(board, models.JobModeManual, 0)
	require.NoError(t, job.MarkRunning("worker-1"))
	require.NoError(t, job.MarkCompleted())
	require.NoError(t, storage.JobStorage().CreateJob(context.Background(), job))

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/"+job.ID+"/cancel", nil)
	rec := httptest.NewRecorder()
	handler.CancelJobHandler(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestListJobsFilterByStatus(t *testing.T) {
	handler, storage, _, _ := newJobHandler(t)
	board := seedBoard(t, storage)

	pending := models.NewScrapeJob(board, models.JobModeManual, 0)
	running := models.NewScrapeJob(board, models.JobModeManual, 0)
	require.NoError(t, running.MarkRunning("worker-1"))
	require.NoError(t, storage.JobStorage().CreateJob(context.Background(), pending))
	require.NoError(t, storage.JobStorage().CreateJob(context.Background(), running))

	req := httptest.NewRequest(http.MethodGet, "/api/jobs?status=RUNNING", nil)
	rec := httptest.NewRecorder()
	handler.ListJobsHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Items []models.ScrapeJob `json:"items"`
		Total int                `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, running.ID, resp.Items[0].ID)
}
