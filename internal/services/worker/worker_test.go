package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/common"
	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
	"github.com/ternarybob/laboro/internal/storage/badger"
)

type stubRunner struct {
	mu    sync.Mutex
	fn    func(job *models.ScrapeJob, pageURL string, page int) (*models.ScrapeRun, error)
	calls int
	urls  []string
}

func (s *stubRunner) RunPage(_ context.Context, job *models.ScrapeJob, pageURL string, page int) (*models.ScrapeRun, error) {
	s.mu.Lock()
	s.calls++
	s.urls = append(s.urls, pageURL)
	s.mu.Unlock()
	return s.fn(job, pageURL, page)
}

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
	out := make([]interfaces.EventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

func successRun(job *models.ScrapeJob, page, found, created int) *models.ScrapeRun {
	run := models.NewScrapeRun(job.ID, models.RunTypeHTML, "", page)
	run.ItemsFound = found
	run.ItemsProcessed = found
	run.ItemsCreated = created
	run.ItemsSkipped = found - created
	run.Finish(true)
	return run
}

func failedRun(job *models.ScrapeJob, page int, scrapeErr *models.ScrapeError) (*models.ScrapeRun, error) {
	run := models.NewScrapeRun(job.ID, models.RunTypeHTML, "", page)
	run.HTTPStatusCode = scrapeErr.HTTPStatus
	run.Error = scrapeErr.Error()
	run.Finish(false)
	return run, scrapeErr
}

func testBoard(t *testing.T) *models.JobBoard {
	t.Helper()
	board := models.NewJobBoard("initech", models.BoardTypeHTML, "https://boards.initech-jobs.com/search?page={page}")
	board.Selectors = map[string]string{"list": ".job-card", "title": ".job-title"}
	board.RateLimitDelayS = 0.001
	board.MaxPages = 3
	return board
}

func newTestWorker(t *testing.T, runner PageRunner) (*Worker, interfaces.StorageManager, *capturedEvents) {
	t.Helper()
	logger := arbor.NewLogger()

	storage, err := badger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	events := &capturedEvents{}
	w := NewWorker("worker-1", runner, storage, events, logger)
	w.sleep = func(context.Context, time.Duration) error { return nil }
	return w, storage, events
}

func claimJob(t *testing.T, storage interfaces.StorageManager, job *models.ScrapeJob) *models.ScrapeJob {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, storage.JobStorage().CreateJob(ctx, job))
	claimed, err := storage.JobStorage().ClaimJob(ctx, job.ID, "worker-1")
	require.NoError(t, err)
	return claimed
}

func TestRunCompletesAllPages(t *testing.T) {
	runner := &stubRunner{fn: func(job *models.ScrapeJob, _ string, page int) (*models.ScrapeRun, error) {
		return successRun(job, page, 2, 2), nil
	}}
	w, storage, events := newTestWorker(t, runner)
	ctx := context.Background()

	board := testBoard(t)
	require.NoError(t, storage.BoardStorage().CreateBoard(ctx, board))
	job := claimJob(t, storage, models.NewScrapeJob(board, models.JobModeManual, 0))

	w.Run(ctx, job)

	stored, err := storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, 4, stored.PageCursor)
	assert.Equal(t, 6, stored.Counters.ItemsFound)
	assert.Equal(t, 6, stored.Counters.ItemsCreated)
	assert.NotNil(t, stored.CompletedAt)

	assert.Equal(t, 3, runner.calls)
	assert.Contains(t, runner.urls[0], "page=1")
	assert.Contains(t, runner.urls[2], "page=3")

	assert.Equal(t, []interfaces.EventType{
		interfaces.EventJobStarted,
		interfaces.EventJobProgress,
		interfaces.EventJobProgress,
		interfaces.EventJobProgress,
		interfaces.EventJobCompleted,
	}, events.types())

	after, err := storage.BoardStorage().GetBoard(ctx, board.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), after.TotalScrapes)
	assert.Equal(t, int64(1), after.SuccessfulScrapes)
	assert.Equal(t, 1.0, after.SuccessRate)
	assert.NotNil(t, after.LastScrapedAt)
}

func TestRunStopsAfterConsecutiveEmptyPages(t *testing.T) {
	runner := &stubRunner{fn: func(job *models.ScrapeJob, _ string, page int) (*models.ScrapeRun, error) {
		if page == 1 {
			return successRun(job, page, 2, 2), nil
		}
		return successRun(job, page, 0, 0), nil
	}}
	w, storage, _ := newTestWorker(t, runner)
	ctx := context.Background()

	board := testBoard(t)
	board.MaxPages = 10
	require.NoError(t, storage.BoardStorage().CreateBoard(ctx, board))
	job := claimJob(t, storage, models.NewScrapeJob(board, models.JobModeManual, 0))

	w.Run(ctx, job)

	stored, err := storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, 3, runner.calls, "two empty pages end the job early")
	assert.Equal(t, 2, stored.Counters.ItemsFound)
}

func TestRSSBoardFetchesSingleFeed(t *testing.T) {
	runner := &stubRunner{fn: func(job *models.ScrapeJob, _ string, page int) (*models.ScrapeRun, error) {
		return successRun(job, page, 5, 5), nil
	}}
	w, storage, _ := newTestWorker(t, runner)
	ctx := context.Background()

	board := models.NewJobBoard("feedsite", models.BoardTypeRSS, "")
	board.RSSURL = "https://feeds.example-site.net/jobs.xml"
	board.MaxPages = 5
	require.NoError(t, storage.BoardStorage().CreateBoard(ctx, board))
	job := claimJob(t, storage, models.NewScrapeJob(board, models.JobModeManual, 0))

	w.Run(ctx, job)

	stored, err := storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, 1, runner.calls, "a feed board fetches once regardless of max_pages")
	assert.Equal(t, board.RSSURL, runner.urls[0])
}

func TestRetryableFailureRetriesSamePage(t *testing.T) {
	attempts := 0
	runner := &stubRunner{fn: func(job *models.ScrapeJob, _ string, page int) (*models.ScrapeRun, error) {
		attempts++
		if attempts <= 2 {
			return failedRun(job, page, models.Classify(503, nil))
		}
		return successRun(job, page, 2, 2), nil
	}}
	w, storage, _ := newTestWorker(t, runner)
	var waits []time.Duration
	w.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	ctx := context.Background()

	board := testBoard(t)
	board.MaxPages = 1
	board.RetryAttempts = 2
	board.RateLimitDelayS = 2.0
	require.NoError(t, storage.BoardStorage().CreateBoard(ctx, board))
	job := claimJob(t, storage, models.NewScrapeJob(board, models.JobModeManual, 0))

	w.Run(ctx, job)

	stored, err := storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.RetryCount)
	assert.Equal(t, 2, stored.Counters.ItemsFound)

	assert.Equal(t, 3, runner.calls)
	for _, url := range runner.urls {
		assert.Contains(t, url, "page=1", "retries hit the same page")
	}

	// Backoff doubles the board delay per attempt with 20% jitter.
	require.Len(t, waits, 2)
	assert.GreaterOrEqual(t, waits[0], 1600*time.Millisecond)
	assert.LessOrEqual(t, waits[0], 2400*time.Millisecond)
	assert.GreaterOrEqual(t, waits[1], 3200*time.Millisecond)
	assert.LessOrEqual(t, waits[1], 4800*time.Millisecond)
}

func TestRetryBudgetExhaustedFailsJob(t *testing.T) {
	runner := &stubRunner{fn: func(job *models.ScrapeJob, _ string, page int) (*models.ScrapeRun, error) {
		return failedRun(job, page, models.Classify(503, nil))
	}}
	w, storage, events := newTestWorker(t, runner)
	ctx := context.Background()

	board := testBoard(t)
	board.RetryAttempts = 2
	require.NoError(t, storage.BoardStorage().CreateBoard(ctx, board))
	job := claimJob(t, storage, models.NewScrapeJob(board, models.JobModeManual, 0))

	w.Run(ctx, job)

	stored, err := storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Equal(t, 3, runner.calls, "first attempt plus the retry budget")
	assert.Equal(t, 3, stored.RetryCount)
	require.NotNil(t, stored.ErrorDetails)
	assert.Equal(t, "server_error", stored.ErrorDetails.Reason)
	assert.Equal(t, 503, stored.ErrorDetails.HTTPStatus)
	assert.Equal(t, 1, stored.ErrorDetails.Page)
	assert.Equal(t, 3, stored.ErrorDetails.Attempts)

	assert.Equal(t, []interfaces.EventType{interfaces.EventJobStarted, interfaces.EventJobFailed}, events.types())

	after, err := storage.BoardStorage().GetBoard(ctx, board.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), after.FailedScrapes)
}

func TestClientErrorFailsImmediately(t *testing.T) {
	runner := &stubRunner{fn: func(job *models.ScrapeJob, _ string, page int) (*models.ScrapeRun, error) {
		return failedRun(job, page, models.Classify(403, nil))
	}}
	w, storage, _ := newTestWorker(t, runner)
	ctx := context.Background()

	board := testBoard(t)
	require.NoError(t, storage.BoardStorage().CreateBoard(ctx, board))
	job := claimJob(t, storage, models.NewScrapeJob(board, models.JobModeManual, 0))

	w.Run(ctx, job)

	stored, err := storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Equal(t, 1, runner.calls)
	require.NotNil(t, stored.ErrorDetails)
	assert.Equal(t, "client_error", stored.ErrorDetails.Reason)
	assert.Equal(t, 403, stored.ErrorDetails.HTTPStatus)
	assert.Equal(t, 1, stored.ErrorDetails.Attempts)
}

func TestParseFailureSkipsPage(t *testing.T) {
	runner := &stubRunner{fn: func(job *models.ScrapeJob, _ string, page int) (*models.ScrapeRun, error) {
		if page == 2 {
			return failedRun(job, page, models.ParseError("no selector matched", nil))
		}
		return successRun(job, page, 2, 2), nil
	}}
	w, storage, _ := newTestWorker(t, runner)
	ctx := context.Background()

	board := testBoard(t)
	require.NoError(t, storage.BoardStorage().CreateBoard(ctx, board))
	job := claimJob(t, storage, models.NewScrapeJob(board, models.JobModeManual, 0))

	w.Run(ctx, job)

	stored, err := storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status, "an isolated parse failure burns the page, not the job")
	assert.Equal(t, 3, runner.calls)
	assert.Equal(t, 4, stored.Counters.ItemsFound)
}

func TestConsecutiveParseFailuresFailJob(t *testing.T) {
	runner := &stubRunner{fn: func(job *models.ScrapeJob, _ string, page int) (*models.ScrapeRun, error) {
		if page == 1 {
			return successRun(job, page, 2, 2), nil
		}
		return failedRun(job, page, models.ParseError("no selector matched", nil))
	}}
	w, storage, _ := newTestWorker(t, runner)
	ctx := context.Background()

	board := testBoard(t)
	board.MaxPages = 5
	require.NoError(t, storage.BoardStorage().CreateBoard(ctx, board))
	job := claimJob(t, storage, models.NewScrapeJob(board, models.JobModeManual, 0))

	w.Run(ctx, job)

	stored, err := storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Equal(t, 3, runner.calls)
	require.NotNil(t, stored.ErrorDetails)
	assert.Equal(t, "parse", stored.ErrorDetails.Reason)
	assert.Equal(t, 3, stored.ErrorDetails.Page)
}

func TestFeedParseFailureFailsJob(t *testing.T) {
	runner := &stubRunner{fn: func(job *models.ScrapeJob, _ string, page int) (*models.ScrapeRun, error) {
		return failedRun(job, page, models.ParseError("invalid feed", nil))
	}}
	w, storage, _ := newTestWorker(t, runner)
	ctx := context.Background()

	board := models.NewJobBoard("feedsite", models.BoardTypeRSS, "")
	board.RSSURL = "https://feeds.example-site.net/jobs.xml"
	require.NoError(t, storage.BoardStorage().CreateBoard(ctx, board))
	job := claimJob(t, storage, models.NewScrapeJob(board, models.JobModeManual, 0))

	w.Run(ctx, job)

	stored, err := storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status, "a single-page board has no later page to rescue it")
	assert.Equal(t, "no page produced a successful run", stored.ErrorMessage)
	require.NotNil(t, stored.ErrorDetails)
	assert.Equal(t, "parse", stored.ErrorDetails.Reason)
}

func TestFatalConfigFailsWithoutFetching(t *testing.T) {
	runner := &stubRunner{fn: func(job *models.ScrapeJob, _ string, page int) (*models.ScrapeRun, error) {
		return successRun(job, page, 1, 1), nil
	}}
	w, storage, _ := newTestWorker(t, runner)
	ctx := context.Background()

	board := models.NewJobBoard("bare", models.BoardTypeHTML, "https://boards.initech-jobs.com/search")
	require.NoError(t, storage.BoardStorage().CreateBoard(ctx, board))
	job := claimJob(t, storage, models.NewScrapeJob(board, models.JobModeManual, 0))

	w.Run(ctx, job)

	stored, err := storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Zero(t, runner.calls, "a board that can never parse is failed before fetching")
	assert.Equal(t, "html board has no selectors", stored.ErrorMessage)
	require.NotNil(t, stored.ErrorDetails)
	assert.Equal(t, "config", stored.ErrorDetails.Reason)
}

func TestFatalConfigRequiresTitleSelector(t *testing.T) {
	runner := &stubRunner{fn: func(job *models.ScrapeJob, _ string, page int) (*models.ScrapeRun, error) {
		return successRun(job, page, 1, 1), nil
	}}
	w, storage, _ := newTestWorker(t, runner)
	ctx := context.Background()

	board := testBoard(t)
	board.Selectors = map[string]string{"list": ".job-card", "company": ".employer"}
	require.NoError(t, storage.BoardStorage().CreateBoard(ctx, board))
	job := claimJob(t, storage, models.NewScrapeJob(board, models.JobModeManual, 0))

	w.Run(ctx, job)

	stored, err := storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Zero(t, runner.calls, "every page would drop every record; fail before fetching")
	assert.Equal(t, "html board has no title selector", stored.ErrorMessage)
	require.NotNil(t, stored.ErrorDetails)
	assert.Equal(t, "config", stored.ErrorDetails.Reason)
}

func TestPauseRequestAdoptedAtPageBoundary(t *testing.T) {
	runner := &stubRunner{}
	w, storage, events := newTestWorker(t, runner)
	ctx := context.Background()

	board := testBoard(t)
	require.NoError(t, storage.BoardStorage().CreateBoard(ctx, board))
	job := claimJob(t, storage, models.NewScrapeJob(board, models.JobModeManual, 0))

	runner.fn = func(j *models.ScrapeJob, _ string, page int) (*models.ScrapeRun, error) {
		if page == 1 {
			// A pause request lands through the API mid-page.
			paused, err := storage.JobStorage().GetJob(ctx, j.ID)
			require.NoError(t, err)
			require.NoError(t, paused.MarkPaused())
			require.NoError(t, storage.JobStorage().UpdateJob(ctx, paused))
		}
		return successRun(j, page, 2, 1), nil
	}

	w.Run(ctx, job)

	stored, err := storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPaused, stored.Status)
	assert.Equal(t, 2, stored.PageCursor, "progress from the finished page is folded in")
	assert.Equal(t, 2, stored.Counters.ItemsFound)
	assert.Equal(t, 1, runner.calls)

	assert.Equal(t, []interfaces.EventType{interfaces.EventJobStarted, interfaces.EventJobPaused}, events.types())

	after, err := storage.BoardStorage().GetBoard(ctx, board.ID)
	require.NoError(t, err)
	assert.Zero(t, after.TotalScrapes, "a pause is not a terminal outcome")
}

func TestCancelRequestAdoptedAtPageBoundary(t *testing.T) {
	runner := &stubRunner{}
	w, storage, events := newTestWorker(t, runner)
	ctx := context.Background()

	board := testBoard(t)
	require.NoError(t, storage.BoardStorage().CreateBoard(ctx, board))
	job := claimJob(t, storage, models.NewScrapeJob(board, models.JobModeManual, 0))

	runner.fn = func(j *models.ScrapeJob, _ string, page int) (*models.ScrapeRun, error) {
		if page == 1 {
			cancelled, err := storage.JobStorage().GetJob(ctx, j.ID)
			require.NoError(t, err)
			require.NoError(t, cancelled.MarkCancelled())
			require.NoError(t, storage.JobStorage().UpdateJob(ctx, cancelled))
		}
		return successRun(j, page, 2, 2), nil
	}

	w.Run(ctx, job)

	stored, err := storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, stored.Status)
	assert.Equal(t, 2, stored.Counters.ItemsFound)
	assert.Equal(t, 1, runner.calls)

	assert.Equal(t, []interfaces.EventType{interfaces.EventJobStarted, interfaces.EventJobCancelled}, events.types())

	after, err := storage.BoardStorage().GetBoard(ctx, board.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), after.TotalScrapes)
	assert.Equal(t, int64(1), after.FailedScrapes, "cancellation counts as a non-success")
}

func TestCancelAbortsInFlightFetch(t *testing.T) {
	runner := &stubRunner{}
	w, storage, events := newTestWorker(t, runner)

	board := testBoard(t)
	require.NoError(t, storage.BoardStorage().CreateBoard(context.Background(), board))
	job := claimJob(t, storage, models.NewScrapeJob(board, models.JobModeManual, 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.fn = func(j *models.ScrapeJob, _ string, _ int) (*models.ScrapeRun, error) {
		// An API cancel lands mid-fetch: the stored document flips to
		// CANCELLED first, then the job context is cancelled.
		store := context.Background()
		cancelled, err := storage.JobStorage().GetJob(store, j.ID)
		require.NoError(t, err)
		require.NoError(t, cancelled.MarkCancelled())
		require.NoError(t, storage.JobStorage().UpdateJob(store, cancelled))
		cancel()
		return nil, ctx.Err()
	}

	w.Run(ctx, job)

	stored, err := storage.JobStorage().GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, stored.Status, "an aborted fetch must not park the job for resume")
	assert.False(t, stored.ResumeRequested)
	assert.Equal(t, []interfaces.EventType{interfaces.EventJobStarted, interfaces.EventJobCancelled}, events.types())

	claimable, err := storage.JobStorage().ListClaimable(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, claimable, "a cancelled job never comes back")

	after, err := storage.BoardStorage().GetBoard(context.Background(), board.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), after.FailedScrapes, "cancellation counts as a non-success")
}

func TestShutdownParksRunningJob(t *testing.T) {
	runner := &stubRunner{fn: func(job *models.ScrapeJob, _ string, page int) (*models.ScrapeRun, error) {
		return successRun(job, page, 1, 1), nil
	}}
	w, storage, events := newTestWorker(t, runner)

	board := testBoard(t)
	require.NoError(t, storage.BoardStorage().CreateBoard(context.Background(), board))
	job := claimJob(t, storage, models.NewScrapeJob(board, models.JobModeManual, 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx, job)

	stored, err := storage.JobStorage().GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPaused, stored.Status)
	assert.True(t, stored.ResumeRequested, "a parked job resumes on the next boot without operator action")
	assert.Zero(t, runner.calls)
	assert.Contains(t, events.types(), interfaces.EventJobPaused)

	claimable, err := storage.JobStorage().ListClaimable(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, claimable, 1)
	assert.Equal(t, job.ID, claimable[0].ID)
}

func TestDeadlineExpiryFailsJobAsStale(t *testing.T) {
	runner := &stubRunner{fn: func(job *models.ScrapeJob, _ string, page int) (*models.ScrapeRun, error) {
		return successRun(job, page, 1, 1), nil
	}}
	w, storage, _ := newTestWorker(t, runner)

	board := testBoard(t)
	require.NoError(t, storage.BoardStorage().CreateBoard(context.Background(), board))
	job := claimJob(t, storage, models.NewScrapeJob(board, models.JobModeManual, 0))

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	w.Run(ctx, job)

	stored, err := storage.JobStorage().GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Equal(t, "job exceeded its wall-clock budget", stored.ErrorMessage)
	require.NotNil(t, stored.ErrorDetails)
	assert.Equal(t, "stale", stored.ErrorDetails.Reason)
}

func TestPanicFailsJob(t *testing.T) {
	runner := &stubRunner{fn: func(*models.ScrapeJob, string, int) (*models.ScrapeRun, error) {
		panic("selector index out of range")
	}}
	w, storage, events := newTestWorker(t, runner)
	ctx := context.Background()

	board := testBoard(t)
	require.NoError(t, storage.BoardStorage().CreateBoard(ctx, board))
	job := claimJob(t, storage, models.NewScrapeJob(board, models.JobModeManual, 0))

	w.Run(ctx, job)

	stored, err := storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "worker panic")
	require.NotNil(t, stored.ErrorDetails)
	assert.Equal(t, "internal", stored.ErrorDetails.Reason)
	assert.Contains(t, events.types(), interfaces.EventJobFailed)

	after, err := storage.BoardStorage().GetBoard(ctx, board.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), after.FailedScrapes)
}

func TestResumePreservesPageCursor(t *testing.T) {
	runner := &stubRunner{fn: func(job *models.ScrapeJob, _ string, page int) (*models.ScrapeRun, error) {
		return successRun(job, page, 1, 1), nil
	}}
	w, storage, _ := newTestWorker(t, runner)
	ctx := context.Background()

	board := testBoard(t)
	board.MaxPages = 4
	require.NoError(t, storage.BoardStorage().CreateBoard(ctx, board))

	job := models.NewScrapeJob(board, models.JobModeManual, 0)
	job.PageCursor = 3 // resumed from an earlier pause
	job = claimJob(t, storage, job)

	w.Run(ctx, job)

	stored, err := storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, 5, stored.PageCursor)
	require.Equal(t, 2, runner.calls)
	assert.Contains(t, runner.urls[0], "page=3")
	assert.Contains(t, runner.urls[1], "page=4")
}

func seedTerminalJobs(t *testing.T, storage interfaces.StorageManager, board *models.JobBoard, completed, failed int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < completed; i++ {
		seed := models.NewScrapeJob(board, models.JobModeScheduled, 0)
		require.NoError(t, seed.MarkRunning("worker-1"))
		require.NoError(t, seed.MarkCompleted())
		require.NoError(t, storage.JobStorage().CreateJob(ctx, seed))
	}
	for i := 0; i < failed; i++ {
		seed := models.NewScrapeJob(board, models.JobModeScheduled, 0)
		require.NoError(t, seed.MarkRunning("worker-1"))
		require.NoError(t, seed.MarkFailed("server_error: server error 503", nil))
		require.NoError(t, storage.JobStorage().CreateJob(ctx, seed))
	}
}

func TestBoardAutoFlagsAfterFailureWindow(t *testing.T) {
	runner := &stubRunner{fn: func(job *models.ScrapeJob, _ string, page int) (*models.ScrapeRun, error) {
		return failedRun(job, page, models.Classify(503, nil))
	}}
	w, storage, events := newTestWorker(t, runner)
	ctx := context.Background()

	board := testBoard(t)
	board.RetryAttempts = 0
	require.NoError(t, storage.BoardStorage().CreateBoard(ctx, board))
	seedTerminalJobs(t, storage, board, 0, flagWindow-1)

	job := claimJob(t, storage, models.NewScrapeJob(board, models.JobModeManual, 0))
	w.Run(ctx, job)

	after, err := storage.BoardStorage().GetBoard(ctx, board.ID)
	require.NoError(t, err)
	assert.True(t, after.IsFlagged)
	assert.Equal(t, "20 of last 20 jobs failed", after.FlaggedReason)
	assert.NotNil(t, after.FlaggedAt)
	assert.Zero(t, after.SuccessRate)
	assert.False(t, after.Schedulable())
	assert.Contains(t, events.types(), interfaces.EventBoardFlagged)
}

func TestBoardNotFlaggedBelowWindow(t *testing.T) {
	runner := &stubRunner{fn: func(job *models.ScrapeJob, _ string, page int) (*models.ScrapeRun, error) {
		return failedRun(job, page, models.Classify(503, nil))
	}}
	w, storage, events := newTestWorker(t, runner)
	ctx := context.Background()

	board := testBoard(t)
	board.RetryAttempts = 0
	require.NoError(t, storage.BoardStorage().CreateBoard(ctx, board))
	seedTerminalJobs(t, storage, board, 0, 5)

	job := claimJob(t, storage, models.NewScrapeJob(board, models.JobModeManual, 0))
	w.Run(ctx, job)

	after, err := storage.BoardStorage().GetBoard(ctx, board.ID)
	require.NoError(t, err)
	assert.False(t, after.IsFlagged, "flagging needs a full window of history")
	assert.Zero(t, after.SuccessRate)
	assert.NotContains(t, events.types(), interfaces.EventBoardFlagged)
}

func TestBoardFlagNeedsMajorityFailures(t *testing.T) {
	runner := &stubRunner{fn: func(job *models.ScrapeJob, _ string, page int) (*models.ScrapeRun, error) {
		return failedRun(job, page, models.Classify(503, nil))
	}}
	w, storage, _ := newTestWorker(t, runner)
	ctx := context.Background()

	board := testBoard(t)
	board.RetryAttempts = 0
	require.NoError(t, storage.BoardStorage().CreateBoard(ctx, board))
	seedTerminalJobs(t, storage, board, 10, flagWindow-11)

	job := claimJob(t, storage, models.NewScrapeJob(board, models.JobModeManual, 0))
	w.Run(ctx, job)

	after, err := storage.BoardStorage().GetBoard(ctx, board.ID)
	require.NoError(t, err)
	assert.False(t, after.IsFlagged, "exactly half failed is not a majority")
	assert.Equal(t, 0.5, after.SuccessRate)
}

func TestRetryBackoffBounds(t *testing.T) {
	for i := 0; i < 50; i++ {
		first := retryBackoff(2.0, 1)
		assert.GreaterOrEqual(t, first, 1600*time.Millisecond)
		assert.Less(t, first, 2400*time.Millisecond)
	}

	capped := retryBackoff(2.0, 20)
	assert.LessOrEqual(t, capped, maxRetryBackoff)
	assert.GreaterOrEqual(t, capped, time.Duration(float64(maxRetryBackoff)*0.8))

	fallback := retryBackoff(0, 1)
	assert.GreaterOrEqual(t, fallback, 800*time.Millisecond)
	assert.Less(t, fallback, 1200*time.Millisecond)
}
