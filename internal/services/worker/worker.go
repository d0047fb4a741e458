// -----------------------------------------------------------------------
// Worker - drives one claimed scrape job through its page loop to a
// terminal state. Retry policy, pause/cancel adoption and board
// bookkeeping live here; the executor only runs single pages.
// -----------------------------------------------------------------------

package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/common"
	"github.com/ternarybob/laboro/internal/extract"
	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
)

// PageRunner executes one page of a job. *executor.Executor satisfies it.
type PageRunner interface {
	RunPage(ctx context.Context, job *models.ScrapeJob, pageURL string, page int) (*models.ScrapeRun, error)
}

const (
	// emptyPageLimit ends a job after this many consecutive zero-item
	// pages; the same limit ends it when consecutive pages fail to parse.
	emptyPageLimit = 2
	// maxRetryBackoff caps the page retry wait regardless of board delay.
	maxRetryBackoff = 60 * time.Second
	// flagWindow is the number of recent terminal jobs behind the rolling
	// success rate; auto-flagging needs a full window with failures above
	// flagFailureRate.
	flagWindow      = 20
	flagFailureRate = 0.5
)

// Worker runs claimed jobs. One Worker value serves one pool slot; all of
// its state is per-call, so a panicking job never poisons the next one.
type Worker struct {
	id     string
	runner PageRunner
	jobs   interfaces.JobStorage
	boards interfaces.BoardStorage
	events interfaces.EventService
	logger arbor.ILogger

	// sleep is swapped by tests to skip real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWorker builds a worker around the shared page runner and stores.
func NewWorker(id string, runner PageRunner, storage interfaces.StorageManager, events interfaces.EventService, logger arbor.ILogger) *Worker {
	return &Worker{
		id:     id,
		runner: runner,
		jobs:   storage.JobStorage(),
		boards: storage.BoardStorage(),
		events: events,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Run executes a claimed RUNNING job until it is terminal, paused, or the
// context ends. Panics are contained here: the job fails with
// reason=internal and the pool keeps its worker.
func (w *Worker) Run(ctx context.Context, job *models.ScrapeJob) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().
				Str("job_id", job.ID).
				Str("worker_id", w.id).
				Msg(fmt.Sprintf("Worker panic recovered: %v", r))
			if !job.Status.IsTerminal() {
				w.failJob(job, fmt.Sprintf("worker panic: %v", r), &models.ErrorDetails{Reason: "internal", Page: job.PageCursor})
			}
		}
	}()

	w.logger.Info().
		Str("job_id", job.ID).
		Str("board", job.ConfigSnapshot.BoardName).
		Str("worker_id", w.id).
		Int("page_cursor", job.PageCursor).
		Int("max_pages", job.EffectiveMaxPages()).
		Msg("Job started")
	w.publish(interfaces.EventJobStarted, job)

	if reason := fatalConfig(&job.ConfigSnapshot); reason != "" {
		w.failJob(job, reason, &models.ErrorDetails{Reason: "config", Page: job.PageCursor})
		return
	}

	w.runPages(ctx, job)
}

// runPages is the page loop. The in-memory job is the working copy; it is
// persisted after every page so pause and cancel can land at a boundary
// and resume later from page_cursor.
func (w *Worker) runPages(ctx context.Context, job *models.ScrapeJob) {
	maxPages := job.EffectiveMaxPages()
	if job.ConfigSnapshot.BoardType == models.BoardTypeRSS {
		maxPages = 1 // a feed is one document; there is no page 2
	}

	attempts := 0    // transient failures at the current page
	emptyStreak := 0 // consecutive successful pages with zero items
	parseStreak := 0 // consecutive pages lost to parse errors
	succeeded := 0   // pages that produced a successful run
	var ok bool

	for job.PageCursor <= maxPages {
		if ctx.Err() != nil {
			w.interrupted(ctx, job)
			return
		}

		page := job.PageCursor
		run, err := w.runner.RunPage(ctx, job, pageURL(&job.ConfigSnapshot, page), page)
		if run != nil && (err == nil || !run.Success) {
			// Failed runs are persisted with their counters. A successful
			// run whose own write failed is not, and must not be folded:
			// the job's totals mirror the stored runs.
			job.Counters.Add(run.Counters())
		}

		if err != nil {
			if ctx.Err() != nil {
				// The fetch was aborted, not refused; the page keeps its
				// retry budget for whoever resumes.
				w.interrupted(ctx, job)
				return
			}

			var scrapeErr *models.ScrapeError
			if !errors.As(err, &scrapeErr) {
				w.failJob(job, err.Error(), &models.ErrorDetails{Reason: "internal", Page: page, Attempts: attempts + 1})
				return
			}

			switch {
			case scrapeErr.Retryable():
				attempts++
				job.RetryCount++
				if attempts > job.ConfigSnapshot.RetryAttempts {
					w.failJob(job, scrapeErr.Error(), &models.ErrorDetails{
						Reason:     reasonFor(scrapeErr.Code),
						HTTPStatus: scrapeErr.HTTPStatus,
						Page:       page,
						Attempts:   attempts,
					})
					return
				}
				if job, ok = w.persist(job); !ok {
					w.externalStop(job)
					return
				}
				wait := retryBackoff(job.ConfigSnapshot.RateLimitDelayS, attempts)
				w.logger.Warn().
					Str("job_id", job.ID).
					Int("page", page).
					Int("attempt", attempts).
					Int("budget", job.ConfigSnapshot.RetryAttempts).
					Dur("backoff", wait).
					Str("error", scrapeErr.Error()).
					Msg("Page failed, retrying")
				if w.sleep(ctx, wait) != nil {
					w.interrupted(ctx, job)
					return
				}
				continue

			case scrapeErr.Code == models.ErrCodeParseFailure || scrapeErr.Code == models.ErrCodeSelectorMiss:
				// A parse failure burns the page, not the job; two in a
				// row mean the board is systematically unreadable.
				parseStreak++
				if parseStreak >= emptyPageLimit {
					w.failJob(job, "consecutive pages failed to parse", &models.ErrorDetails{Reason: "parse", Page: page, Attempts: attempts + 1})
					return
				}
				w.logger.Warn().
					Str("job_id", job.ID).
					Int("page", page).
					Str("error", scrapeErr.Error()).
					Msg("Page unparseable, skipping")
				attempts = 0
				job.PageCursor = page + 1
				if job, ok = w.persist(job); !ok {
					w.externalStop(job)
					return
				}
				continue

			default:
				// Other 4xx and internal failures end the job.
				w.failJob(job, scrapeErr.Error(), &models.ErrorDetails{
					Reason:     reasonFor(scrapeErr.Code),
					HTTPStatus: scrapeErr.HTTPStatus,
					Page:       page,
					Attempts:   attempts + 1,
				})
				return
			}
		}

		succeeded++
		attempts = 0
		parseStreak = 0
		if run.ItemsFound == 0 {
			emptyStreak++
		} else {
			emptyStreak = 0
		}

		job.PageCursor = page + 1
		if job, ok = w.persist(job); !ok {
			w.externalStop(job)
			return
		}
		w.publish(interfaces.EventJobProgress, models.JobProgress{JobID: job.ID, BoardID: job.BoardID, Page: page, Counters: job.Counters})

		if emptyStreak >= emptyPageLimit {
			w.logger.Debug().Str("job_id", job.ID).Int("page", page).Msg("No more results, stopping early")
			break
		}
	}

	if succeeded == 0 && parseStreak > 0 {
		w.failJob(job, "no page produced a successful run", &models.ErrorDetails{Reason: "parse", Page: job.PageCursor - 1})
		return
	}
	w.completeJob(job)
}

// persist writes the worker's copy of the job back, retrying version
// conflicts by folding execution state into the stored document. A
// conflict means an API transition (pause, cancel) or the watchdog won
// the race; the stored status is adopted and ok=false stops the loop.
func (w *Worker) persist(job *models.ScrapeJob) (*models.ScrapeJob, bool) {
	ctx := context.Background()
	current := job
	for attempt := 0; attempt < 3; attempt++ {
		err := w.jobs.UpdateJob(ctx, current)
		if err == nil {
			return current, current.Status == models.JobStatusRunning
		}
		if !errors.Is(err, interfaces.ErrVersionConflict) {
			w.logger.Error().Err(err).Str("job_id", current.ID).Msg("Failed to persist job progress")
			return current, false
		}

		fresh, getErr := w.jobs.GetJob(ctx, current.ID)
		if getErr != nil {
			w.logger.Error().Err(getErr).Str("job_id", current.ID).Msg("Failed to reload job after version conflict")
			return current, false
		}
		fresh.PageCursor = current.PageCursor
		fresh.Counters = current.Counters
		fresh.RetryCount = current.RetryCount
		current = fresh
	}
	w.logger.Error().Str("job_id", current.ID).Msg("Job progress abandoned after repeated version conflicts")
	return current, false
}

// externalStop finalizes the loop after a pause or cancel adopted at a
// page boundary. Terminal adoptions run the usual bookkeeping; a pause
// just announces itself, the resume claim picks the cursor back up.
func (w *Worker) externalStop(job *models.ScrapeJob) {
	if job.Status.IsTerminal() {
		w.afterTerminal(job)
		return
	}
	if job.Status == models.JobStatusPaused {
		w.logger.Info().
			Str("job_id", job.ID).
			Int("page_cursor", job.PageCursor).
			Msg("Job paused at page boundary")
		w.publish(interfaces.EventJobPaused, job)
	}
}

// interrupted handles a context that ended mid-page: an API cancel that
// aborted the fetch, the job wall clock expiring, or engine shutdown.
func (w *Worker) interrupted(ctx context.Context, job *models.ScrapeJob) {
	store := context.Background()
	if fresh, err := w.jobs.GetJob(store, job.ID); err == nil && fresh.Version != job.Version {
		fresh.PageCursor = job.PageCursor
		fresh.Counters = job.Counters
		fresh.RetryCount = job.RetryCount
		job = fresh
	}

	if job.Status.IsTerminal() || job.Status == models.JobStatusPaused {
		// The transition already landed through the API or the watchdog;
		// fold progress and run the exit bookkeeping here, since this
		// worker owns the job's final write.
		if err := w.jobs.UpdateJob(store, job); err != nil {
			w.logger.Debug().Err(err).Str("job_id", job.ID).Msg("Progress fold after external transition failed")
		}
		w.afterTerminal(job)
		return
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		w.failJob(job, "job exceeded its wall-clock budget", &models.ErrorDetails{Reason: "stale", Page: job.PageCursor})
		return
	}

	// Engine shutdown: park the job so the next boot resumes it from the
	// current cursor instead of recovering it as an orphan.
	job.ResumeRequested = true
	if err := job.MarkPaused(); err == nil {
		job, _ = w.persist(job)
	}
	if job.Status.IsTerminal() {
		w.afterTerminal(job)
		return
	}
	w.logger.Info().
		Str("job_id", job.ID).
		Int("page_cursor", job.PageCursor).
		Msg("Job parked for engine shutdown")
	w.publish(interfaces.EventJobPaused, job)
}

// completeJob persists the COMPLETED transition and runs exit bookkeeping.
func (w *Worker) completeJob(job *models.ScrapeJob) {
	if err := job.MarkCompleted(); err == nil {
		job, _ = w.persist(job)
	}
	w.afterTerminal(job)
}

// failJob persists the FAILED transition and runs exit bookkeeping.
func (w *Worker) failJob(job *models.ScrapeJob, message string, details *models.ErrorDetails) {
	if err := job.MarkFailed(message, details); err == nil {
		job, _ = w.persist(job)
	}
	w.afterTerminal(job)
}

// afterTerminal logs the outcome, publishes the lifecycle event and folds
// the result into the board. Adopted pauses land here too and no-op.
func (w *Worker) afterTerminal(job *models.ScrapeJob) {
	if !job.Status.IsTerminal() {
		return
	}

	itemRate := float64(job.Counters.ItemsCreated) / math.Max(1, float64(job.Counters.ItemsFound))
	evt := w.logger.Info()
	if job.Status == models.JobStatusFailed {
		evt = w.logger.Error().Str("error", job.ErrorMessage)
	}
	evt.
		Str("job_id", job.ID).
		Str("board", job.ConfigSnapshot.BoardName).
		Str("status", string(job.Status)).
		Int("pages", job.PageCursor-1).
		Int("found", job.Counters.ItemsFound).
		Int("created", job.Counters.ItemsCreated).
		Float64("item_rate", itemRate).
		Float64("duration_s", job.DurationS).
		Msg("Job finished")

	w.publish(eventForStatus(job.Status), job)
	w.recordBoardOutcome(job)
}

// recordBoardOutcome folds the terminal result into the board's aggregate
// counters, recomputes the rolling success rate over the last flagWindow
// terminal jobs, and auto-flags the board out of scheduling when failures
// dominate a full window. Cancelled jobs dilute both rates but only FAILED
// jobs count toward flagging.
func (w *Worker) recordBoardOutcome(job *models.ScrapeJob) {
	ctx := context.Background()

	recent, err := w.jobs.RecentJobsForBoard(ctx, job.BoardID, flagWindow)
	if err != nil {
		w.logger.Warn().Err(err).Str("board_id", job.BoardID).Msg("Failed to load recent jobs for board")
		recent = nil
	}
	completed, failed := 0, 0
	for _, recentJob := range recent {
		switch recentJob.Status {
		case models.JobStatusCompleted:
			completed++
		case models.JobStatusFailed:
			failed++
		}
	}

	for attempt := 0; attempt < 3; attempt++ {
		board, err := w.boards.GetBoard(ctx, job.BoardID)
		if errors.Is(err, interfaces.ErrNotFound) {
			return // board deleted while the job ran
		}
		if err != nil {
			w.logger.Warn().Err(err).Str("board_id", job.BoardID).Msg("Failed to load board for bookkeeping")
			return
		}

		board.RecordScrape(job.Succeeded(), time.Now())
		if len(recent) > 0 {
			board.SuccessRate = float64(completed) / float64(len(recent))
		}
		flaggedNow := false
		if !board.IsFlagged && len(recent) == flagWindow && float64(failed)/float64(len(recent)) > flagFailureRate {
			board.Flag(fmt.Sprintf("%d of last %d jobs failed", failed, len(recent)))
			flaggedNow = true
		}

		err = w.boards.UpdateBoard(ctx, board)
		if err == nil {
			if flaggedNow {
				w.logger.Warn().
					Str("board", board.Name).
					Str("reason", board.FlaggedReason).
					Msg("Board auto-flagged")
				w.publish(interfaces.EventBoardFlagged, board)
			}
			return
		}
		if !errors.Is(err, interfaces.ErrVersionConflict) {
			w.logger.Warn().Err(err).Str("board_id", job.BoardID).Msg("Failed to update board counters")
			return
		}
	}
	w.logger.Warn().Str("board_id", job.BoardID).Msg("Board counters not updated after repeated conflicts")
}

func (w *Worker) publish(eventType interfaces.EventType, payload interface{}) {
	publishEvent(w.events, eventType, payload)
}

func publishEvent(events interfaces.EventService, eventType interfaces.EventType, payload interface{}) {
	if events == nil {
		return
	}
	_ = events.Publish(context.Background(), interfaces.Event{Type: eventType, Payload: payload})
}

// pageURL renders the fetch URL for one page from the config snapshot.
func pageURL(cfg *models.ConfigSnapshot, page int) string {
	if cfg.BoardType == models.BoardTypeRSS {
		return cfg.RSSURL
	}
	return common.BuildPageURL(cfg.BaseURL, page, cfg.SearchKeywords, cfg.SearchLocation)
}

// fatalConfig reports a configuration hole no page could succeed against,
// so the job fails before any fetch. Boards validated through the API
// never trip this; snapshots predating a config tightening can.
func fatalConfig(cfg *models.ConfigSnapshot) string {
	switch cfg.BoardType {
	case models.BoardTypeRSS:
		if cfg.RSSURL == "" {
			return "rss board has no rss_url"
		}
	case models.BoardTypeAPI:
		if cfg.BaseURL == "" {
			return "api board has no endpoint url"
		}
	default:
		if cfg.BaseURL == "" {
			return "board has no base_url"
		}
		if len(cfg.Selectors) == 0 {
			return "html board has no selectors"
		}
		// The extractor drops every record without a title, so a missing
		// title selector makes each page a parse failure.
		if cfg.Selectors[extract.SelectorTitle] == "" {
			return "html board has no title selector"
		}
	}
	return ""
}

// reasonFor maps a page error code onto the job-level failure reason.
func reasonFor(code models.ErrorCode) string {
	switch code {
	case models.ErrCodeParseFailure, models.ErrCodeSelectorMiss:
		return "parse"
	case models.ErrCodeInternal:
		return "internal"
	default:
		return string(code)
	}
}

func eventForStatus(status models.JobStatus) interfaces.EventType {
	switch status {
	case models.JobStatusCompleted:
		return interfaces.EventJobCompleted
	case models.JobStatusCancelled:
		return interfaces.EventJobCancelled
	default:
		return interfaces.EventJobFailed
	}
}

// retryBackoff doubles the board's base delay per attempt with ±20%
// jitter, capped at maxRetryBackoff.
func retryBackoff(baseDelayS float64, attempt int) time.Duration {
	base := common.SecondsDuration(baseDelayS)
	if base <= 0 {
		base = time.Second
	}
	wait := base
	for i := 1; i < attempt && wait < maxRetryBackoff; i++ {
		wait *= 2
	}
	wait = time.Duration(float64(wait) * (0.8 + 0.4*rand.Float64()))
	if wait > maxRetryBackoff {
		wait = maxRetryBackoff
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
