package normalize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/laboro/internal/common"
	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
)

// Service drives the asynchronous raw-to-normalized pipeline: it polls for
// unprocessed raws on a ticker and feeds them through the backend in batches.
// Duplicate-flagged raws never reach it; the storage listing filters them.
type Service struct {
	backend    Backend
	raws       interfaces.RawJobStorage
	normalized interfaces.NormalizedJobStorage
	boards     interfaces.BoardStorage
	interval   time.Duration
	batchSize  int
	logger     arbor.ILogger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(backend Backend, storage interfaces.StorageManager, cfg *common.NormalizerConfig, logger arbor.ILogger) *Service {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Service{
		backend:    backend,
		raws:       storage.RawJobStorage(),
		normalized: storage.NormalizedJobStorage(),
		boards:     storage.BoardStorage(),
		interval:   common.Duration(cfg.PollInterval, 5*time.Second),
		batchSize:  batchSize,
		logger:     logger,
	}
}

// Start launches the poll loop. Stop waits for the in-flight pass to finish.
func (s *Service) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	common.SafeGo(s.logger, "normalizer", func() {
		defer close(s.done)
		s.run(runCtx)
	})

	s.logger.Info().
		Dur("poll_interval", s.interval).
		Int("batch_size", s.batchSize).
		Str("method", string(s.backend.Method())).
		Msg("Normalizer started")
}

func (s *Service) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			processed, failed, err := s.ProcessBatch(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				s.logger.Error().Err(err).Msg("Normalization pass failed")
				continue
			}
			if processed > 0 || failed > 0 {
				s.logger.Debug().
					Int("processed", processed).
					Int("failed", failed).
					Msg("Normalization pass finished")
			}
		}
	}
}

// Stop halts the loop and closes the backend.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	if err := s.backend.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Normalizer backend close failed")
	}
	s.logger.Info().Msg("Normalizer stopped")
}

// ProcessBatch normalizes one batch of unprocessed raws and returns processed
// and failed counts. Failed raws stay unprocessed and are retried on a later
// pass. Exported so callers can drain synchronously.
func (s *Service) ProcessBatch(ctx context.Context) (int, int, error) {
	batch, err := s.raws.ListUnprocessed(ctx, s.batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list unprocessed raws: %w", err)
	}
	if len(batch) == 0 {
		return 0, 0, nil
	}

	// Board thresholds are stable within a pass; look each board up once.
	thresholds := make(map[string]float64)
	processed, failed := 0, 0
	for _, raw := range batch {
		if ctx.Err() != nil {
			return processed, failed, ctx.Err()
		}
		if err := s.processRaw(ctx, raw, thresholds); err != nil {
			failed++
			s.logger.Warn().
				Err(err).
				Str("raw_job_id", raw.ID).
				Str("board_id", raw.BoardID).
				Msg("Raw normalization failed")
			continue
		}
		processed++
	}
	return processed, failed, nil
}

func (s *Service) processRaw(ctx context.Context, raw *models.RawJob, thresholds map[string]float64) error {
	record, err := s.backend.Normalize(ctx, raw)
	if err != nil {
		return err
	}

	threshold, ok := thresholds[raw.BoardID]
	if !ok {
		board, err := s.boards.GetBoard(ctx, raw.BoardID)
		switch {
		case err == nil:
			threshold = board.QualityThreshold
		case errors.Is(err, interfaces.ErrNotFound):
			// Board deleted mid-flight; nothing left to gate on.
			threshold = 0
		default:
			return fmt.Errorf("failed to load board: %w", err)
		}
		thresholds[raw.BoardID] = threshold
	}

	record.ComputeQualityScore()
	record.IsPublished = record.QualityScore >= threshold

	if err := s.normalized.CreateNormalizedJob(ctx, record); err != nil {
		if !errors.Is(err, interfaces.ErrDuplicate) {
			return fmt.Errorf("failed to persist normalized job: %w", err)
		}
		// Normalized in an earlier pass; still mark the raw below.
	}

	raw.IsProcessed = true
	if err := s.raws.UpdateRawJob(ctx, raw); err != nil {
		return fmt.Errorf("failed to mark raw processed: %w", err)
	}
	return nil
}
