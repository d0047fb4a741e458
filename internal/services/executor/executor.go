// -----------------------------------------------------------------------
// Executor - one page of a scrape job: gate, fetch, extract, dedup,
// persist. Retry policy belongs to the worker.
// -----------------------------------------------------------------------

package executor

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/common"
	"github.com/ternarybob/laboro/internal/extract"
	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
	"github.com/ternarybob/laboro/internal/services/dedup"
)

// Executor runs single page fetches. It never retries; failures come back
// classified so the worker can decide.
type Executor struct {
	limiter    interfaces.RateLimiter
	fetcher    interfaces.Fetcher // plain HTTP
	renderer   interfaces.Fetcher // headless browser, for render_js and hybrid boards
	extractors *extract.Set
	deduper    *dedup.Deduper
	runs       interfaces.RunStorage
	raws       interfaces.RawJobStorage
	logger     arbor.ILogger
}

// NewExecutor wires the page pipeline.
func NewExecutor(
	limiter interfaces.RateLimiter,
	fetcher interfaces.Fetcher,
	renderer interfaces.Fetcher,
	extractors *extract.Set,
	deduper *dedup.Deduper,
	storage interfaces.StorageManager,
	logger arbor.ILogger,
) *Executor {
	return &Executor{
		limiter:    limiter,
		fetcher:    fetcher,
		renderer:   renderer,
		extractors: extractors,
		deduper:    deduper,
		runs:       storage.RunStorage(),
		raws:       storage.RawJobStorage(),
		logger:     logger,
	}
}

// RunPage executes one page for the job and persists the ScrapeRun.
// Failed pages persist a FAILED run and return a *models.ScrapeError with
// the retry classification; cancellation while waiting for a rate token
// returns before anything is attempted or written.
func (e *Executor) RunPage(ctx context.Context, job *models.ScrapeJob, pageURL string, page int) (*models.ScrapeRun, error) {
	cfg := &job.ConfigSnapshot
	runType := models.RunTypeForBoard(cfg.BoardType)
	run := models.NewScrapeRun(job.ID, runType, pageURL, page)

	release, err := e.limiter.Acquire(ctx, pageURL, common.SecondsDuration(cfg.RateLimitDelayS))
	if err != nil {
		return nil, err
	}
	defer release()

	result, err := e.fetcherFor(cfg).Fetch(ctx, interfaces.FetchRequest{
		URL:     pageURL,
		Headers: cfg.Headers,
		Timeout: time.Duration(cfg.RequestTimeoutS) * time.Second,
	})
	if err != nil {
		return e.failRun(ctx, run, models.Classify(0, err))
	}

	run.HTTPStatusCode = result.StatusCode
	run.ResponseSizeBytes = int64(len(result.Body))
	e.limiter.Observe(pageURL, result.StatusCode)

	if scrapeErr := models.Classify(result.StatusCode, nil); scrapeErr != nil {
		return e.failRun(ctx, run, scrapeErr)
	}

	extractions, err := e.extractors.ForType(runType).Extract(cfg, pageURL, result.Body)
	if err != nil {
		return e.failRun(ctx, run, models.ParseError("extraction failed", err))
	}

	run.ItemsFound = len(extractions)
	run.ItemsProcessed = len(extractions)

	if len(extractions) > 0 {
		created, duplicates, err := e.persistExtractions(ctx, job, run, extractions)
		if err != nil {
			return e.failRun(ctx, run, models.InternalError("failed to persist raw jobs", err))
		}
		run.ItemsCreated = created
		run.ItemsSkipped = duplicates
	}

	run.Finish(true)
	if err := e.runs.CreateRun(ctx, run); err != nil {
		return run, models.InternalError("failed to persist scrape run", err)
	}

	e.logger.Info().
		Str("job_id", job.ID).
		Str("board", cfg.BoardName).
		Int("page", page).
		Int("found", run.ItemsFound).
		Int("created", run.ItemsCreated).
		Int("skipped", run.ItemsSkipped).
		Int64("duration_ms", run.DurationMs).
		Msg("Page scraped")

	return run, nil
}

// persistExtractions maps extractions onto raw jobs, consulting the
// deduper, and bulk-upserts them in one store transaction. Both caches
// are always checked so each marks the sighting.
func (e *Executor) persistExtractions(ctx context.Context, job *models.ScrapeJob, run *models.ScrapeRun, extractions []extract.Extraction) (int, int, error) {
	rawJobs := make([]*models.RawJob, 0, len(extractions))
	for _, ex := range extractions {
		raw := models.NewRawJob(run.ID, job.ID, job.BoardID)
		raw.Title = ex.Title
		raw.Company = ex.Company
		raw.Location = ex.Location
		raw.Description = ex.Description
		raw.URL = ex.URL
		raw.SalaryText = ex.SalaryText
		raw.JobTypeText = ex.JobTypeText
		raw.PostedDateText = ex.PostedDateText
		raw.RawData = ex.Raw
		raw.Checksum = dedup.Checksum(ex.Title, ex.Company, ex.Location, ex.Description)

		urlSeen := e.deduper.SeenURL(ex.URL)
		contentSeen := e.deduper.SeenContent(raw.Checksum)
		raw.IsDuplicate = urlSeen || contentSeen

		rawJobs = append(rawJobs, raw)
	}

	return e.raws.BulkUpsertRawJobs(ctx, rawJobs)
}

// failRun finalizes and persists a failed run. The classified error is
// returned for the worker's retry decision even if persisting the run
// itself fails.
func (e *Executor) failRun(ctx context.Context, run *models.ScrapeRun, scrapeErr *models.ScrapeError) (*models.ScrapeRun, error) {
	run.Error = scrapeErr.Error()
	run.Finish(false)
	if err := e.runs.CreateRun(ctx, run); err != nil {
		e.logger.Error().Err(err).Str("job_id", run.JobID).Int("page", run.PageNumber).Msg("Failed to persist failed scrape run")
	}

	e.logger.Warn().
		Str("job_id", run.JobID).
		Str("url", run.URL).
		Int("page", run.PageNumber).
		Int("status", run.HTTPStatusCode).
		Str("class", string(scrapeErr.RetryClass)).
		Msg("Page scrape failed")

	return run, scrapeErr
}

// fetcherFor picks the browser for boards that need rendering.
func (e *Executor) fetcherFor(cfg *models.ConfigSnapshot) interfaces.Fetcher {
	if cfg.RenderJS || cfg.BoardType == models.BoardTypeHybrid {
		return e.renderer
	}
	return e.fetcher
}
