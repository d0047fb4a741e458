package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/common"
	"github.com/ternarybob/laboro/internal/extract"
	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
	"github.com/ternarybob/laboro/internal/services/dedup"
	"github.com/ternarybob/laboro/internal/services/ratelimit"
	"github.com/ternarybob/laboro/internal/storage/badger"
)

type stubFetcher struct {
	fn    func(req interfaces.FetchRequest) (*interfaces.FetchResult, error)
	calls int
}

func (s *stubFetcher) Fetch(ctx context.Context, req interfaces.FetchRequest) (*interfaces.FetchResult, error) {
	s.calls++
	return s.fn(req)
}

func (s *stubFetcher) Close() error { return nil }

func htmlPage(body string) func(interfaces.FetchRequest) (*interfaces.FetchResult, error) {
	return func(interfaces.FetchRequest) (*interfaces.FetchResult, error) {
		return &interfaces.FetchResult{StatusCode: 200, Body: []byte(body)}, nil
	}
}

const listingPage = `<html><body>
<div class="job-card">
  <h2 class="title"><a href="/jobs/101">Go Developer</a></h2>
  <span class="company">Initech</span>
  <div class="desc"><p>Build services.</p></div>
</div>
<div class="job-card">
  <h2 class="title"><a href="/jobs/102">SRE</a></h2>
  <span class="company">Initech</span>
  <div class="desc"><p>Keep it running.</p></div>
</div>
</body></html>`

func testBoardAndJob(t *testing.T) (*models.JobBoard, *models.ScrapeJob) {
	t.Helper()
	board := models.NewJobBoard("initech", models.BoardTypeHTML, "https://boards.initech-jobs.com/search?page={page}")
	board.Selectors = map[string]string{
		extract.SelectorList:        ".job-card",
		extract.SelectorTitle:       ".title",
		extract.SelectorCompany:     ".company",
		extract.SelectorDescription: ".desc",
		extract.SelectorURL:         ".title a",
	}
	board.RateLimitDelayS = 0.001
	return board, models.NewScrapeJob(board, models.JobModeManual, 0)
}

func newTestExecutor(t *testing.T, fetcher interfaces.Fetcher) (*Executor, interfaces.StorageManager) {
	return newTestExecutorWith(t, fetcher, fetcher)
}

func newTestExecutorWith(t *testing.T, fetcher, renderer interfaces.Fetcher) (*Executor, interfaces.StorageManager) {
	t.Helper()
	logger := arbor.NewLogger()

	storage, err := badger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	limiter := ratelimit.NewLimiter(&common.RateLimitConfig{
		DefaultDelaySeconds:   0.001,
		MaxDelaySeconds:       1.0,
		BackoffMultiplier:     2.0,
		MaxConcurrentRequests: 5,
	}, logger)

	deduper, err := dedup.NewDeduper()
	require.NoError(t, err)

	exec := NewExecutor(limiter, fetcher, renderer, extract.NewSet(logger), deduper, storage, logger)
	return exec, storage
}

func TestRenderJSBoardsUseRenderer(t *testing.T) {
	plain := &stubFetcher{fn: htmlPage(listingPage)}
	rendered := &stubFetcher{fn: htmlPage(listingPage)}
	exec, _ := newTestExecutorWith(t, plain, rendered)

	board, _ := testBoardAndJob(t)
	board.RenderJS = true
	job := models.NewScrapeJob(board, models.JobModeManual, 0)

	_, err := exec.RunPage(context.Background(), job, "https://boards.initech-jobs.com/search?page=1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rendered.calls)
	assert.Zero(t, plain.calls)
}

func TestRunPagePersistsRawsAndRun(t *testing.T) {
	exec, storage := newTestExecutor(t, &stubFetcher{fn: htmlPage(listingPage)})
	_, job := testBoardAndJob(t)
	ctx := context.Background()

	run, err := exec.RunPage(ctx, job, "https://boards.initech-jobs.com/search?page=1", 1)
	require.NoError(t, err)
	assert.True(t, run.Success)
	assert.Equal(t, 200, run.HTTPStatusCode)
	assert.Equal(t, 2, run.ItemsFound)
	assert.Equal(t, 2, run.ItemsCreated)
	assert.Equal(t, 0, run.ItemsSkipped)
	assert.Equal(t, models.RunTypeHTML, run.RunType)

	stored, err := storage.RunStorage().GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, stored.Success)
	assert.NotNil(t, stored.CompletedAt)

	total, err := storage.RawJobStorage().CountRawJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	unprocessed, err := storage.RawJobStorage().ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unprocessed, 2)
	for _, raw := range unprocessed {
		assert.Equal(t, run.ID, raw.RunID)
		assert.Equal(t, job.ID, raw.JobID)
		assert.Len(t, raw.Checksum, 64)
		assert.Contains(t, raw.URL, "https://boards.initech-jobs.com/jobs/")
	}
}

func TestRunPageMarksRepeatContentAsDuplicates(t *testing.T) {
	exec, storage := newTestExecutor(t, &stubFetcher{fn: htmlPage(listingPage)})
	_, job := testBoardAndJob(t)
	ctx := context.Background()

	first, err := exec.RunPage(ctx, job, "https://boards.initech-jobs.com/search?page=1", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, first.ItemsCreated)

	// The next page serves the same records again.
	second, err := exec.RunPage(ctx, job, "https://boards.initech-jobs.com/search?page=2", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, second.ItemsFound)
	assert.Equal(t, 0, second.ItemsCreated)
	assert.Equal(t, 2, second.ItemsSkipped)

	unprocessed, err := storage.RawJobStorage().ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, unprocessed, 2, "duplicates are persisted flagged, not queued for normalization")
}

func TestRunPageNon2xxFailsRun(t *testing.T) {
	fetcher := &stubFetcher{fn: func(interfaces.FetchRequest) (*interfaces.FetchResult, error) {
		return &interfaces.FetchResult{StatusCode: 503, Body: []byte("unavailable")}, nil
	}}
	exec, storage := newTestExecutor(t, fetcher)
	_, job := testBoardAndJob(t)
	ctx := context.Background()

	run, err := exec.RunPage(ctx, job, "https://boards.initech-jobs.com/search?page=1", 1)
	require.Error(t, err)

	var scrapeErr *models.ScrapeError
	require.ErrorAs(t, err, &scrapeErr)
	assert.True(t, scrapeErr.Retryable())
	assert.Equal(t, models.ErrCodeServerError, scrapeErr.Code)

	assert.False(t, run.Success)
	assert.Equal(t, 503, run.HTTPStatusCode)

	runs, _, err := storage.RunStorage().ListRuns(ctx, interfaces.RunFilter{JobID: job.ID})
	require.NoError(t, err)
	require.Len(t, runs, 1, "failed pages persist their run")
	assert.Contains(t, runs[0].Error, "server error 503")
}

func TestRunPageClientErrorIsPermanent(t *testing.T) {
	fetcher := &stubFetcher{fn: func(interfaces.FetchRequest) (*interfaces.FetchResult, error) {
		return &interfaces.FetchResult{StatusCode: 403, Body: nil}, nil
	}}
	exec, _ := newTestExecutor(t, fetcher)
	_, job := testBoardAndJob(t)

	_, err := exec.RunPage(context.Background(), job, "https://boards.initech-jobs.com/search?page=1", 1)
	var scrapeErr *models.ScrapeError
	require.ErrorAs(t, err, &scrapeErr)
	assert.False(t, scrapeErr.Retryable())
	assert.Equal(t, models.ErrCodeClientError, scrapeErr.Code)
}

func TestRunPageTransportErrorIsRetryable(t *testing.T) {
	fetcher := &stubFetcher{fn: func(interfaces.FetchRequest) (*interfaces.FetchResult, error) {
		return nil, errors.New("read tcp: connection reset by peer")
	}}
	exec, _ := newTestExecutor(t, fetcher)
	_, job := testBoardAndJob(t)

	run, err := exec.RunPage(context.Background(), job, "https://boards.initech-jobs.com/search?page=1", 1)
	var scrapeErr *models.ScrapeError
	require.ErrorAs(t, err, &scrapeErr)
	assert.True(t, scrapeErr.Retryable())
	assert.False(t, run.Success)
	assert.Zero(t, run.HTTPStatusCode)
}

func TestRunPageParseFailureIsPermanent(t *testing.T) {
	fetcher := &stubFetcher{fn: htmlPage(`{"not": "a feed"}`)}
	exec, _ := newTestExecutor(t, fetcher)

	board := models.NewJobBoard("feedsite", models.BoardTypeRSS, "")
	board.RSSURL = "https://feeds.example-site.net/jobs.xml"
	job := models.NewScrapeJob(board, models.JobModeManual, 0)

	run, err := exec.RunPage(context.Background(), job, board.RSSURL, 1)
	var scrapeErr *models.ScrapeError
	require.ErrorAs(t, err, &scrapeErr)
	assert.Equal(t, models.ErrCodeParseFailure, scrapeErr.Code)
	assert.False(t, scrapeErr.Retryable())
	assert.Equal(t, models.RunTypeRSS, run.RunType)
}

func TestRunPageEmptyPageSucceeds(t *testing.T) {
	fetcher := &stubFetcher{fn: htmlPage(`<html><body><p>nothing here</p></body></html>`)}
	exec, _ := newTestExecutor(t, fetcher)
	_, job := testBoardAndJob(t)

	run, err := exec.RunPage(context.Background(), job, "https://boards.initech-jobs.com/search?page=99", 99)
	require.NoError(t, err)
	assert.True(t, run.Success)
	assert.Zero(t, run.ItemsFound)
	assert.Zero(t, run.ItemsCreated)
}

func TestRunPageCancelledBeforeFetch(t *testing.T) {
	fetcher := &stubFetcher{fn: htmlPage(listingPage)}
	exec, storage := newTestExecutor(t, fetcher)
	_, job := testBoardAndJob(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.RunPage(ctx, job, "https://boards.initech-jobs.com/search?page=1", 1)
	require.Error(t, err)

	runs, _, err := storage.RunStorage().ListRuns(context.Background(), interfaces.RunFilter{JobID: job.ID})
	require.NoError(t, err)
	assert.Empty(t, runs, "cancellation while gated writes nothing")
}
