// -----------------------------------------------------------------------
// Engine state - heartbeat over the singleton snapshot document plus the
// metrics the snapshot feeds. Counters are eventually consistent across
// workers but monotonic per field; CAS keeps concurrent updates honest.
// -----------------------------------------------------------------------

package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/common"
	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
)

// successRateAlpha is the EMA weight applied per terminal job.
const successRateAlpha = 0.1

// casAttempts bounds the compare-and-set retry loop on the snapshot.
const casAttempts = 5

// QueueGauge reports the pool's pending backlog. *worker.Pool satisfies it.
type QueueGauge interface {
	QueueDepth() int
}

// Service maintains the EngineState singleton: a heartbeat ticker
// refreshes gauges and liveness, and terminal-job events fold into the
// totals and the rolling success rate.
type Service struct {
	engine  interfaces.EngineStorage
	jobs    interfaces.JobStorage
	events  interfaces.EventService
	queue   QueueGauge
	limiter interfaces.RateLimiter
	metrics *Metrics
	logger  arbor.ILogger

	interval time.Duration
	maxJobs  int
	version  string
	proc     *process.Process

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService wires the engine state subsystem. queue and limiter may be
// nil when the pool or limiter is not running (tooling, tests).
func NewService(storage interfaces.StorageManager, events interfaces.EventService, queue QueueGauge, limiter interfaces.RateLimiter, metrics *Metrics, cfg *common.EngineConfig, logger arbor.ILogger) *Service {
	maxJobs := cfg.MaxConcurrentJobs
	if maxJobs < 1 {
		maxJobs = 5
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		proc = nil // resident-memory gauge stays zero
	}
	return &Service{
		engine:   storage.EngineStorage(),
		jobs:     storage.JobStorage(),
		events:   events,
		queue:    queue,
		limiter:  limiter,
		metrics:  metrics,
		logger:   logger,
		interval: common.Duration(cfg.HeartbeatInterval, 10*time.Second),
		maxJobs:  maxJobs,
		version:  common.GetVersion(),
		proc:     proc,
	}
}

// Start initializes the singleton, subscribes to terminal job events and
// launches the heartbeat loop.
func (s *Service) Start(ctx context.Context) error {
	if _, err := s.engine.InitEngineState(ctx, models.NewEngineState(s.maxJobs, s.version)); err != nil {
		return fmt.Errorf("failed to initialize engine state: %w", err)
	}

	// A restarted engine starts a fresh uptime clock but keeps the
	// persisted totals.
	if err := s.mutate(ctx, func(state *models.EngineState) {
		now := time.Now().UTC()
		state.StartedAt = now
		state.UptimeS = 0
		state.MaxConcurrentJobs = s.maxJobs
		state.EngineVersion = s.version
	}); err != nil {
		return err
	}

	if s.events != nil {
		for _, eventType := range []interfaces.EventType{
			interfaces.EventJobCompleted,
			interfaces.EventJobFailed,
			interfaces.EventJobCancelled,
		} {
			if err := s.events.Subscribe(eventType, s.onJobTerminal); err != nil {
				return fmt.Errorf("failed to subscribe engine state to %s: %w", eventType, err)
			}
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	common.SafeGo(s.logger, "engine-heartbeat", func() {
		defer close(done)
		s.run(runCtx)
	})

	s.logger.Info().
		Dur("heartbeat_interval", s.interval).
		Int("max_concurrent_jobs", s.maxJobs).
		Msg("Engine state service started")
	return nil
}

// Stop halts the heartbeat loop.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info().Msg("Engine state service stopped")
}

func (s *Service) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.heartbeat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.heartbeat(ctx)
		}
	}
}

func (s *Service) heartbeat(ctx context.Context) {
	if _, err := s.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn().Err(err).Msg("Engine heartbeat failed")
	}
}

// Refresh recomputes the snapshot immediately and persists it. Exported
// for the /engine/heartbeat endpoint.
func (s *Service) Refresh(ctx context.Context) (*models.EngineState, error) {
	active, err := s.jobs.CountJobsByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to count running jobs: %w", err)
	}
	queued := 0
	if s.queue != nil {
		queued = s.queue.QueueDepth()
	}
	cpuPct, memPct, memUsedMB := s.sampleResources(ctx)

	var snapshot *models.EngineState
	err = s.mutateCapture(ctx, &snapshot, func(state *models.EngineState) {
		now := time.Now().UTC()
		state.ActiveJobsCount = active
		state.QueuedJobsCount = queued
		state.CPUPercent = cpuPct
		state.MemoryPercent = memPct
		state.MemoryUsedMB = memUsedMB
		if now.After(state.LastHeartbeat) {
			state.LastHeartbeat = now
		}
		state.UptimeS = now.Sub(state.StartedAt).Seconds()
		state.RollDayBoundary(now)
		state.Status = state.DeriveStatus()
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.SetJobGauges(active, queued)
		s.metrics.SetResourceGauges(cpuPct, memPct, memUsedMB)
		if s.limiter != nil {
			s.metrics.SetRateLimitDelays(s.limiter.Delays())
		}
	}
	return snapshot, nil
}

// Snapshot returns the current persisted state without refreshing it.
func (s *Service) Snapshot(ctx context.Context) (*models.EngineState, error) {
	return s.engine.GetEngineState(ctx)
}

// SetMaintenanceMode toggles maintenance and re-derives the status.
func (s *Service) SetMaintenanceMode(ctx context.Context, enabled bool) (*models.EngineState, error) {
	return s.transition(ctx, func(state *models.EngineState) {
		state.MaintenanceMode = enabled
	})
}

// SetIntakePaused toggles the manual intake pause and re-derives the status.
func (s *Service) SetIntakePaused(ctx context.Context, paused bool) (*models.EngineState, error) {
	return s.transition(ctx, func(state *models.EngineState) {
		state.IntakePaused = paused
	})
}

// SetMaxConcurrentJobs applies a settings change to the snapshot.
func (s *Service) SetMaxConcurrentJobs(ctx context.Context, max int) error {
	if max < 1 {
		return fmt.Errorf("max_concurrent_jobs must be >= 1, got %d", max)
	}
	s.maxJobs = max
	return s.mutate(ctx, func(state *models.EngineState) {
		state.MaxConcurrentJobs = max
	})
}

// transition applies fn, re-derives the status and publishes a status
// event when the derived status changed.
func (s *Service) transition(ctx context.Context, fn func(*models.EngineState)) (*models.EngineState, error) {
	var before models.EngineStatus
	var snapshot *models.EngineState
	err := s.mutateCapture(ctx, &snapshot, func(state *models.EngineState) {
		before = state.Status
		fn(state)
		state.Status = state.DeriveStatus()
	})
	if err != nil {
		return nil, err
	}
	if snapshot.Status != before {
		s.publishStatus(snapshot)
	}
	return snapshot, nil
}

// onJobTerminal folds a terminal job into totals, the EMA success rate
// and the error streak. Cancelled jobs count in the totals but leave the
// success rate and streak untouched.
func (s *Service) onJobTerminal(ctx context.Context, event interfaces.Event) error {
	job, ok := event.Payload.(*models.ScrapeJob)
	if !ok || !job.Status.IsTerminal() {
		return nil
	}

	var before, after models.EngineStatus
	var snapshot *models.EngineState
	err := s.mutateCapture(ctx, &snapshot, func(state *models.EngineState) {
		before = state.Status
		now := time.Now().UTC()
		state.RollDayBoundary(now)
		state.TotalJobsProcessed++
		state.TotalJobsToday++

		switch job.Status {
		case models.JobStatusCompleted:
			state.SuccessRate = (1-successRateAlpha)*state.SuccessRate + successRateAlpha
			state.RecordSuccess()
		case models.JobStatusFailed:
			state.SuccessRate = (1 - successRateAlpha) * state.SuccessRate
			state.RecordError(job.ErrorMessage, now)
		}
		state.Status = state.DeriveStatus()
		after = state.Status
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Engine state update for terminal job failed")
		return nil // event handlers never fail the bus
	}

	if s.metrics != nil {
		s.metrics.ObserveJobTerminal(job.ConfigSnapshot.BoardName, string(job.Status), job.DurationS)
	}
	if after != before {
		s.publishStatus(snapshot)
	}
	return nil
}

// mutate runs fn against the stored snapshot under a CAS retry loop.
func (s *Service) mutate(ctx context.Context, fn func(*models.EngineState)) error {
	var discard *models.EngineState
	return s.mutateCapture(ctx, &discard, fn)
}

func (s *Service) mutateCapture(ctx context.Context, out **models.EngineState, fn func(*models.EngineState)) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		state, err := s.engine.GetEngineState(ctx)
		if err != nil {
			return fmt.Errorf("failed to load engine state: %w", err)
		}
		fn(state)
		if err := s.engine.SaveEngineState(ctx, state); err != nil {
			if errors.Is(err, interfaces.ErrVersionConflict) {
				continue
			}
			return fmt.Errorf("failed to save engine state: %w", err)
		}
		*out = state
		return nil
	}
	return fmt.Errorf("engine state update lost %d consecutive races: %w", casAttempts, interfaces.ErrVersionConflict)
}

func (s *Service) publishStatus(state *models.EngineState) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.Background(), interfaces.Event{Type: interfaces.EventEngineStatus, Payload: state}); err != nil {
		s.logger.Warn().Err(err).Msg("Engine status event publish failed")
	}
}

// sampleResources reads host CPU/memory and the process RSS. Sampling
// failures degrade to zero gauges rather than failing the heartbeat.
func (s *Service) sampleResources(ctx context.Context) (cpuPct, memPct, memUsedMB float64) {
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		cpuPct = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		memPct = vm.UsedPercent
	}
	if s.proc != nil {
		if info, err := s.proc.MemoryInfoWithContext(ctx); err == nil {
			memUsedMB = float64(info.RSS) / (1024 * 1024)
		}
	}
	return cpuPct, memPct, memUsedMB
}
