// -----------------------------------------------------------------------
// Scheduler - tick-driven materialization of scrape jobs from due
// schedules. Fires once on recovery; missed slots are never replayed.
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/common"
	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
)

// AdmissionGate is the pool's backpressure signal. While the gate is
// closed the scheduler stops materializing jobs; due schedules stay due
// and fire on a later tick once the backlog drains.
type AdmissionGate interface {
	IsAccepting() bool
}

// alwaysAccept stands in when no gate is wired (tests, tooling).
type alwaysAccept struct{}

func (alwaysAccept) IsAccepting() bool { return true }

// Service evaluates schedules on a fixed tick and creates PENDING jobs
// for the pool to claim. All mutation happens inside one store
// transaction per firing, so a crash never leaves a job without an
// advanced schedule or vice versa.
type Service struct {
	storage   interfaces.StorageManager
	schedules interfaces.ScheduleStorage
	events    interfaces.EventService
	gate      AdmissionGate
	logger    arbor.ILogger

	tickInterval time.Duration
	lastTick     atomic.Int64 // unix nanos of the last completed tick

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewService builds the scheduler. gate may be nil.
func NewService(storage interfaces.StorageManager, events interfaces.EventService, gate AdmissionGate, cfg *common.SchedulerConfig, logger arbor.ILogger) *Service {
	if gate == nil {
		gate = alwaysAccept{}
	}
	return &Service{
		storage:      storage,
		schedules:    storage.ScheduleStorage(),
		events:       events,
		gate:         gate,
		logger:       logger,
		tickInterval: common.Duration(cfg.TickInterval, time.Second),
	}
}

// Start launches the tick loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	common.SafeGo(s.logger, "scheduler", func() {
		defer close(s.done)
		s.run(runCtx)
	})

	s.logger.Info().
		Dur("tick_interval", s.tickInterval).
		Msg("Scheduler started")
	return nil
}

// Stop halts the tick loop and waits for an in-flight tick to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info().Msg("Scheduler stopped")
}

// IsRunning reports whether the tick loop is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastTick returns when the scheduler last completed a tick. The zero
// time means it has not ticked yet. Feeds the readiness probe.
func (s *Service) LastTick() time.Time {
	nanos := s.lastTick.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}

func (s *Service) run(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	// An immediate first tick so recovery after downtime does not wait a
	// full interval before firing.
	s.Tick(ctx, time.Now().UTC())

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(ctx, now.UTC())
		}
	}
}

// Tick runs one evaluation pass at the given instant. Exported so tests
// and the heartbeat endpoint can drive the scheduler synchronously.
func (s *Service) Tick(ctx context.Context, now time.Time) {
	defer s.lastTick.Store(time.Now().UTC().UnixNano())

	if !s.gate.IsAccepting() {
		s.logger.Debug().Msg("Admission gate closed, skipping materialization tick")
		return
	}

	due, err := s.schedules.ListDueSchedules(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("Due schedule scan failed")
		return
	}

	for _, schedule := range due {
		if ctx.Err() != nil {
			return
		}
		if err := s.fire(ctx, schedule.ID, now); err != nil {
			if errors.Is(err, interfaces.ErrVersionConflict) {
				continue // another scheduler instance fired it first
			}
			s.logger.Error().
				Err(err).
				Str("schedule_id", schedule.ID).
				Msg("Schedule firing failed")
		}
	}
}

// fire materializes one job for a due schedule and advances its
// next_run_at, all in one transaction. The schedule is re-read inside the
// transaction so concurrent API edits or a competing scheduler lose
// cleanly through CAS.
func (s *Service) fire(ctx context.Context, scheduleID string, now time.Time) error {
	var createdJob *models.ScrapeJob
	var firedSchedule *models.ScheduleConfig
	var skipReason string

	err := s.storage.Transaction(ctx, func(tx interfaces.Tx) error {
		schedule, err := tx.GetSchedule(scheduleID)
		if err != nil {
			return err
		}
		if !schedule.Due(now) {
			return nil // already advanced by someone else
		}

		previous := *schedule.NextRunAt
		next, err := NextFutureFiring(schedule.CronExpression, schedule.Timezone, previous, now)
		if err != nil {
			// A schedule that stops parsing (zone database change, bad
			// edit) is disabled rather than rescanned every second.
			s.logger.Error().
				Err(err).
				Str("schedule_id", schedule.ID).
				Msg("Schedule disabled: next firing not computable")
			schedule.IsEnabled = false
			return tx.UpdateSchedule(schedule)
		}

		schedule.NextRunAt = &next
		lastRun := now
		schedule.LastRunAt = &lastRun

		board, err := tx.GetBoard(schedule.BoardID)
		if err != nil {
			if errors.Is(err, interfaces.ErrNotFound) {
				// Board hard-deleted under the schedule; advance and note it.
				skipReason = "board missing"
				return tx.UpdateSchedule(schedule)
			}
			return err
		}
		if !board.Schedulable() {
			// Inactive or auto-flagged boards are excluded from
			// scheduling; the slot is consumed so the schedule does not
			// stay due forever.
			skipReason = "board not schedulable"
			return tx.UpdateSchedule(schedule)
		}

		job := models.NewScrapeJob(board, models.JobModeScheduled, schedule.Priority)
		job.ScheduleID = &schedule.ID
		if schedule.RetryAttempts > 0 {
			job.ConfigSnapshot.RetryAttempts = schedule.RetryAttempts
		}

		if err := tx.InsertJob(job); err != nil {
			return err
		}
		if err := tx.UpdateSchedule(schedule); err != nil {
			return err
		}

		createdJob = job
		firedSchedule = schedule
		return nil
	})
	if err != nil {
		return err
	}

	if skipReason != "" {
		s.logger.Debug().
			Str("schedule_id", scheduleID).
			Str("reason", skipReason).
			Msg("Schedule firing skipped")
		return nil
	}
	if createdJob == nil {
		return nil
	}

	s.logger.Info().
		Str("schedule_id", firedSchedule.ID).
		Str("board_id", firedSchedule.BoardID).
		Str("job_id", createdJob.ID).
		Str("next_run_at", firedSchedule.NextRunAt.Format(time.RFC3339)).
		Msg("Schedule fired")

	s.publish(interfaces.EventScheduleFired, firedSchedule)
	s.publish(interfaces.EventJobCreated, createdJob)
	return nil
}

func (s *Service) publish(eventType interfaces.EventType, payload interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.Background(), interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Event publish failed")
	}
}
