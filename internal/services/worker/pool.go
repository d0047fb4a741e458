// -----------------------------------------------------------------------
// Pool - fixed-size worker pool with a polling dispatcher. Claims are
// CAS-guarded so pools on other engines can poll the same store; the
// admission gate and per-board caps keep the queue and remote boards
// inside their budgets.
// -----------------------------------------------------------------------

package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/common"
	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
)

// handoff pairs an idle worker's identity with its inbox. The dispatcher
// claims under the worker's own ID, so the WorkerID written by ClaimJob
// is always the goroutine that executes the job.
type handoff struct {
	workerID string
	jobs     chan *models.ScrapeJob
}

// Pool owns the worker goroutines, the dispatch loop and the stale-job
// watchdog. One Pool per engine process.
type Pool struct {
	jobs   interfaces.JobStorage
	boards interfaces.BoardStorage
	events interfaces.EventService
	logger arbor.ILogger

	size            int
	pollInterval    time.Duration
	jobTimeout      time.Duration
	gracefulTimeout time.Duration
	staleInterval   time.Duration
	highWater       int
	lowWater        int

	workers    []*Worker
	idle       chan handoff
	queueDepth atomic.Int64
	accepting  atomic.Bool

	mu      sync.Mutex
	running map[string]context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool builds the pool from engine config. Invalid or zero settings
// fall back to the documented defaults rather than failing, matching how
// the rest of the engine treats partial config.
func NewPool(runner PageRunner, storage interfaces.StorageManager, events interfaces.EventService, cfg *common.EngineConfig, logger arbor.ILogger) *Pool {
	size := cfg.MaxConcurrentJobs
	if size < 1 {
		size = 5
	}
	highWater := cfg.QueueHighWater
	if highWater <= 0 {
		highWater = 1000
	}
	lowWater := cfg.QueueLowWater
	if lowWater <= 0 || lowWater >= highWater {
		lowWater = highWater * 4 / 5
	}

	p := &Pool{
		jobs:            storage.JobStorage(),
		boards:          storage.BoardStorage(),
		events:          events,
		logger:          logger,
		size:            size,
		pollInterval:    common.Duration(cfg.PollInterval, 500*time.Millisecond),
		jobTimeout:      common.Duration(cfg.JobTimeout, time.Hour),
		gracefulTimeout: common.Duration(cfg.GracefulTimeout, 30*time.Second),
		staleInterval:   common.Duration(cfg.StaleJobInterval, time.Minute),
		highWater:       highWater,
		lowWater:        lowWater,
		idle:            make(chan handoff, size),
		running:         make(map[string]context.CancelFunc),
	}
	p.accepting.Store(true)

	for i := 0; i < size; i++ {
		p.workers = append(p.workers, NewWorker(fmt.Sprintf("worker-%d", i+1), runner, storage, events, logger))
	}
	return p
}

// Start recovers orphaned jobs from the previous process, then launches
// the worker, dispatch and watchdog goroutines.
func (p *Pool) Start(ctx context.Context) error {
	failed, err := p.jobs.FailOrphanedJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover orphaned jobs: %w", err)
	}
	if failed > 0 {
		p.logger.Warn().Int("count", failed).Msg("Orphaned jobs failed on startup")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.accepting.Store(true)

	for _, w := range p.workers {
		p.wg.Add(1)
		inbox := make(chan *models.ScrapeJob, 1)
		go p.workerLoop(w, inbox)
	}
	p.wg.Add(1)
	go p.dispatchLoop()
	p.wg.Add(1)
	go p.watchdogLoop()

	p.logger.Info().
		Int("workers", p.size).
		Dur("poll_interval", p.pollInterval).
		Dur("job_timeout", p.jobTimeout).
		Msg("Worker pool started")
	return nil
}

// workerLoop parks the worker's handoff on the idle channel and waits for
// the dispatcher to deliver a claimed job into its inbox.
func (p *Pool) workerLoop(w *Worker, inbox chan *models.ScrapeJob) {
	defer p.wg.Done()
	for {
		select {
		case p.idle <- handoff{workerID: w.id, jobs: inbox}:
		case <-p.ctx.Done():
			return
		}
		select {
		case job := <-inbox:
			p.runJob(w, job)
		case <-p.ctx.Done():
			return
		}
	}
}

// runJob runs one claimed job under the per-job wall clock and keeps its
// cancel func addressable for CancelJob.
func (p *Pool) runJob(w *Worker, job *models.ScrapeJob) {
	jobCtx, cancel := context.WithTimeout(p.ctx, p.jobTimeout)
	p.track(job.ID, cancel)
	defer func() {
		p.untrack(job.ID)
		cancel()
	}()
	w.Run(jobCtx, job)
}

func (p *Pool) dispatchLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.refreshAdmission(p.ctx)
			p.dispatchOnce()
		}
	}
}

// refreshAdmission moves the admission gate on queue depth with
// hysteresis: closed at the high-water mark, reopened only once the
// backlog drains to the low-water mark.
func (p *Pool) refreshAdmission(ctx context.Context) {
	depth, err := p.jobs.CountJobsByStatus(ctx, models.JobStatusPending)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Queue depth check failed")
		return
	}
	p.queueDepth.Store(int64(depth))

	if depth >= p.highWater && p.accepting.Load() {
		p.accepting.Store(false)
		p.logger.Warn().
			Int("depth", depth).
			Int("high_water", p.highWater).
			Msg("Admission gate closed")
		return
	}
	if depth <= p.lowWater && !p.accepting.Load() {
		p.accepting.Store(true)
		p.logger.Info().
			Int("depth", depth).
			Int("low_water", p.lowWater).
			Msg("Admission gate reopened")
	}
}

// dispatchOnce claims as many runnable jobs as there are idle workers,
// highest priority first, oldest first within a priority.
func (p *Pool) dispatchOnce() {
	candidates, err := p.jobs.ListClaimable(p.ctx, p.highWater)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Claimable job scan failed")
		return
	}
	if len(candidates) == 0 {
		return
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	var slot *handoff
	for _, candidate := range candidates {
		if slot == nil {
			select {
			case h := <-p.idle:
				slot = &h
			default:
				return // every worker is busy; claim nothing we cannot run
			}
		}
		claimed := p.claim(candidate, slot.workerID)
		if claimed == nil {
			continue
		}
		slot.jobs <- claimed
		slot = nil
	}
	if slot != nil {
		p.idle <- *slot
	}
}

// claim takes one candidate through the per-board concurrency check and
// the CAS claim. A nil return means the job cannot run right now; the
// dispatcher moves on and a later tick retries.
func (p *Pool) claim(candidate *models.ScrapeJob, workerID string) *models.ScrapeJob {
	boardCap := 1
	board, err := p.boards.GetBoard(p.ctx, candidate.BoardID)
	switch {
	case err == nil:
		if board.MaxConcurrentJobs > 0 {
			boardCap = board.MaxConcurrentJobs
		}
	case errors.Is(err, interfaces.ErrNotFound):
		// Board deleted after the job was queued; run with the snapshot.
	default:
		p.logger.Warn().Err(err).Str("board_id", candidate.BoardID).Msg("Board lookup failed during dispatch")
		return nil
	}

	running, err := p.jobs.CountRunningForBoard(p.ctx, candidate.BoardID)
	if err != nil {
		p.logger.Warn().Err(err).Str("board_id", candidate.BoardID).Msg("Board concurrency check failed")
		return nil
	}
	if running >= boardCap {
		return nil
	}

	claimed, err := p.jobs.ClaimJob(p.ctx, candidate.ID, workerID)
	if err != nil {
		if errors.Is(err, interfaces.ErrVersionConflict) {
			return nil // another dispatcher or an API transition won the race
		}
		p.logger.Warn().Err(err).Str("job_id", candidate.ID).Msg("Job claim failed")
		return nil
	}
	return claimed
}

func (p *Pool) watchdogLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.staleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.reapStaleJobs(p.ctx)
		}
	}
}

// reapStaleJobs fails RUNNING jobs whose documents have gone quiet past
// the job timeout. Jobs owned by this pool are cancelled instead, so the
// owning worker records the failure itself; in practice the per-job
// deadline fires first and this is the path for jobs abandoned by a
// worker that died without orphan recovery seeing it.
func (p *Pool) reapStaleJobs(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-p.jobTimeout)
	stale, err := p.jobs.ListRunningOlderThan(ctx, cutoff)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Stale job scan failed")
		return
	}
	for _, job := range stale {
		if p.CancelJob(job.ID) {
			continue
		}
		if err := job.MarkFailed("job exceeded its wall-clock budget", &models.ErrorDetails{Reason: "stale", Page: job.PageCursor}); err != nil {
			continue
		}
		if err := p.jobs.UpdateJob(ctx, job); err != nil {
			p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Stale job update failed")
			continue
		}
		p.logger.Warn().
			Str("job_id", job.ID).
			Str("worker_id", job.WorkerID).
			Msg("Stale job failed by watchdog")
		publishEvent(p.events, interfaces.EventJobFailed, job)
	}
}

// Stop closes the gate, cancels every job context and waits for workers
// to finish their page boundaries, up to the graceful timeout.
func (p *Pool) Stop() {
	p.accepting.Store(false)
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info().Msg("Worker pool stopped")
	case <-time.After(p.gracefulTimeout):
		p.logger.Warn().Dur("timeout", p.gracefulTimeout).Msg("Worker pool drain timed out, abandoning workers")
	}
}

// CancelJob cancels the context of a job running in this pool. It reports
// whether the job was found; callers transition the stored status first
// so the worker adopts CANCELLED rather than parking the job as paused.
func (p *Pool) CancelJob(jobID string) bool {
	p.mu.Lock()
	cancel, found := p.running[jobID]
	p.mu.Unlock()
	if found {
		cancel()
	}
	return found
}

// QueueDepth reports the PENDING backlog seen by the last dispatch tick.
func (p *Pool) QueueDepth() int {
	return int(p.queueDepth.Load())
}

// IsAccepting reports whether the admission gate is open.
func (p *Pool) IsAccepting() bool {
	return p.accepting.Load()
}

func (p *Pool) track(jobID string, cancel context.CancelFunc) {
	p.mu.Lock()
	p.running[jobID] = cancel
	p.mu.Unlock()
}

func (p *Pool) untrack(jobID string) {
	p.mu.Lock()
	delete(p.running, jobID)
	p.mu.Unlock()
}
