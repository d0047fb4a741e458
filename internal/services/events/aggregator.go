package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

// RefreshTrigger tells websocket clients to refetch state from the API
// instead of receiving every event individually.
type RefreshTrigger struct {
	Scope     string    `json:"scope"`             // "jobs" or "logs"
	JobIDs    []string  `json:"job_ids,omitempty"` // only for scope=jobs
	Finished  bool      `json:"finished"`          // true when a job reached a terminal status
	Timestamp time.Time `json:"timestamp"`
}

// RefreshAggregator batches job events and log writes into periodic refresh
// triggers. Progress events arrive once per scraped page; with a full pool
// that is too chatty to push through the websocket one by one.
//
// Triggers occur:
//   - every interval for jobs with pending events
//   - every 2x interval when new log lines are pending
//   - immediately when a job finishes, exactly once per job
//
// Terminal triggers are never debounced: missing one means the UI never
// shows the job's final state.
type RefreshAggregator struct {
	mu            sync.Mutex
	interval      time.Duration
	logsThreshold time.Duration

	// Per-job tracking
	jobHasEvents map[string]bool // job_id -> has pending events
	jobFinished  map[string]bool // job_id -> terminal trigger already sent

	// Log tracking is a pending flag, not a queue; clients refetch the tail.
	hasPendingLogs  bool
	lastLogsTrigger time.Time

	onTrigger func(ctx context.Context, trigger RefreshTrigger)

	logger arbor.ILogger
}

// NewRefreshAggregator creates an aggregator with time-based triggering.
func NewRefreshAggregator(
	interval time.Duration,
	onTrigger func(ctx context.Context, trigger RefreshTrigger),
	logger arbor.ILogger,
) *RefreshAggregator {
	if interval <= 0 {
		interval = time.Second
	}

	return &RefreshAggregator{
		interval:        interval,
		logsThreshold:   2 * interval,
		jobHasEvents:    make(map[string]bool),
		jobFinished:     make(map[string]bool),
		lastLogsTrigger: time.Now(),
		onTrigger:       onTrigger,
		logger:          logger,
	}
}

// RecordJobEvent marks a job as having pending events. The actual trigger
// fires from the periodic flush.
func (a *RefreshAggregator) RecordJobEvent(ctx context.Context, jobID string) {
	if jobID == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.jobHasEvents[jobID] = true
}

// RecordLog marks that new log lines exist. The actual trigger fires from
// the periodic flush.
func (a *RefreshAggregator) RecordLog(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.hasPendingLogs = true
	if a.lastLogsTrigger.IsZero() {
		a.lastLogsTrigger = time.Now()
	}
}

// TriggerJobImmediately sends a refresh trigger for a finished job without
// waiting for the next flush. Repeat calls for the same job are dropped.
func (a *RefreshAggregator) TriggerJobImmediately(ctx context.Context, jobID string) {
	if jobID == "" {
		return
	}

	a.mu.Lock()
	if a.jobFinished[jobID] {
		a.mu.Unlock()
		return
	}
	a.jobFinished[jobID] = true
	a.jobHasEvents[jobID] = false
	a.mu.Unlock()

	a.safeOnTrigger(ctx, RefreshTrigger{
		Scope:     "jobs",
		JobIDs:    []string{jobID},
		Finished:  true,
		Timestamp: time.Now(),
	})
}

// FlushAll triggers refresh for everything pending, used on shutdown.
func (a *RefreshAggregator) FlushAll(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()

	jobIDs := a.drainPendingJobs()
	if len(jobIDs) > 0 {
		go a.safeOnTrigger(ctx, RefreshTrigger{
			Scope:     "jobs",
			JobIDs:    jobIDs,
			Timestamp: now,
		})
	}

	if a.hasPendingLogs {
		a.hasPendingLogs = false
		a.lastLogsTrigger = now
		go a.safeOnTrigger(ctx, RefreshTrigger{
			Scope:     "logs",
			Timestamp: now,
		})
	}
}

// StartPeriodicFlush starts a background goroutine that triggers every
// interval until the context ends.
func (a *RefreshAggregator) StartPeriodicFlush(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				// Flush remaining events on shutdown
				a.FlushAll(context.Background())
				return
			case <-ticker.C:
				a.flushPending(ctx)
			}
		}
	}()
}

// flushPending fires triggers for pending jobs and, at a slower cadence,
// pending logs. It must not log: a log line here would mark logs pending
// again and the aggregator would never go quiet.
func (a *RefreshAggregator) flushPending(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()

	jobIDs := a.drainPendingJobs()
	if len(jobIDs) > 0 {
		go a.safeOnTrigger(ctx, RefreshTrigger{
			Scope:     "jobs",
			JobIDs:    jobIDs,
			Timestamp: now,
		})
	}

	if a.hasPendingLogs && now.Sub(a.lastLogsTrigger) >= a.logsThreshold {
		a.hasPendingLogs = false
		a.lastLogsTrigger = now
		go a.safeOnTrigger(ctx, RefreshTrigger{
			Scope:     "logs",
			Timestamp: now,
		})
	}
}

// drainPendingJobs collects and clears pending job IDs. Caller holds the lock.
func (a *RefreshAggregator) drainPendingJobs() []string {
	jobIDs := make([]string, 0, len(a.jobHasEvents))
	for jobID, hasEvents := range a.jobHasEvents {
		if hasEvents {
			jobIDs = append(jobIDs, jobID)
			a.jobHasEvents[jobID] = false
		}
	}
	return jobIDs
}

// safeOnTrigger wraps onTrigger with panic recovery to prevent crashes
func (a *RefreshAggregator) safeOnTrigger(ctx context.Context, trigger RefreshTrigger) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("scope", trigger.Scope).
				Msg("PANIC in RefreshAggregator.onTrigger - recovered")
		}
	}()
	a.onTrigger(ctx, trigger)
}

// CleanupJob removes tracking data for a job once clients no longer watch it.
func (a *RefreshAggregator) CleanupJob(jobID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.jobHasEvents, jobID)
	delete(a.jobFinished, jobID)
}
