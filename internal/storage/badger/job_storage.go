package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) CreateJob(ctx context.Context, job *models.ScrapeJob) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if err := s.db.Store().Insert(job.ID, job); err != nil {
		if err == badgerhold.ErrKeyExists {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.ScrapeJob, error) {
	var job models.ScrapeJob
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// UpdateJob writes the job back if its Version still matches the stored
// document, then bumps the version.
func (s *JobStorage) UpdateJob(ctx context.Context, job *models.ScrapeJob) error {
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var current models.ScrapeJob
		if err := s.db.Store().TxGet(txn, job.ID, &current); err != nil {
			if err == badgerhold.ErrNotFound {
				return interfaces.ErrNotFound
			}
			return fmt.Errorf("failed to get job: %w", err)
		}
		if current.Version != job.Version {
			return interfaces.ErrVersionConflict
		}
		job.Version++
		job.UpdatedAt = time.Now()
		if err := s.db.Store().TxUpdate(txn, job.ID, job); err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, badgerdb.ErrConflict) {
			return interfaces.ErrVersionConflict
		}
		return err
	}
	return nil
}

func (s *JobStorage) ListJobs(ctx context.Context, filter interfaces.JobFilter) ([]*models.ScrapeJob, int, error) {
	query := badgerhold.Where("ID").Ne("")
	countQuery := badgerhold.Where("ID").Ne("")
	if filter.Status != "" {
		query = query.And("Status").Eq(filter.Status)
		countQuery = countQuery.And("Status").Eq(filter.Status)
	}
	if filter.BoardID != "" {
		query = query.And("BoardID").Eq(filter.BoardID)
		countQuery = countQuery.And("BoardID").Eq(filter.BoardID)
	}

	count, err := s.db.Store().Count(&models.ScrapeJob{}, countQuery)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	query = query.SortBy("CreatedAt").Reverse()
	if filter.Skip > 0 {
		query = query.Skip(filter.Skip)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var jobs []models.ScrapeJob
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.ScrapeJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, int(count), nil
}

// ListClaimable returns PENDING jobs plus PAUSED jobs whose resume flag is
// set. Dispatch ordering is applied by the pool, not here.
func (s *JobStorage) ListClaimable(ctx context.Context, limit int) ([]*models.ScrapeJob, error) {
	pendingQuery := badgerhold.Where("Status").Eq(models.JobStatusPending).SortBy("CreatedAt")
	if limit > 0 {
		pendingQuery = pendingQuery.Limit(limit)
	}
	var pending []models.ScrapeJob
	if err := s.db.Store().Find(&pending, pendingQuery); err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}

	resumeQuery := badgerhold.Where("Status").Eq(models.JobStatusPaused).And("ResumeRequested").Eq(true).SortBy("CreatedAt")
	if limit > 0 {
		resumeQuery = resumeQuery.Limit(limit)
	}
	var resumed []models.ScrapeJob
	if err := s.db.Store().Find(&resumed, resumeQuery); err != nil {
		return nil, fmt.Errorf("failed to list resumable jobs: %w", err)
	}

	result := make([]*models.ScrapeJob, 0, len(pending)+len(resumed))
	for i := range pending {
		result = append(result, &pending[i])
	}
	for i := range resumed {
		result = append(result, &resumed[i])
	}
	return result, nil
}

// ClaimJob transitions a claimable job to RUNNING under the worker's
// identity in a single transaction. A job that is no longer claimable, or a
// concurrent claim of the same job, returns ErrVersionConflict.
func (s *JobStorage) ClaimJob(ctx context.Context, jobID, workerID string) (*models.ScrapeJob, error) {
	var claimed *models.ScrapeJob
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var job models.ScrapeJob
		if err := s.db.Store().TxGet(txn, jobID, &job); err != nil {
			if err == badgerhold.ErrNotFound {
				return interfaces.ErrNotFound
			}
			return fmt.Errorf("failed to get job: %w", err)
		}

		claimable := job.Status == models.JobStatusPending ||
			(job.Status == models.JobStatusPaused && job.ResumeRequested)
		if !claimable {
			return interfaces.ErrVersionConflict
		}

		if err := job.MarkRunning(workerID); err != nil {
			return interfaces.ErrVersionConflict
		}
		job.Version++
		job.UpdatedAt = time.Now()
		if err := s.db.Store().TxUpdate(txn, job.ID, &job); err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}
		claimed = &job
		return nil
	})
	if err != nil {
		if errors.Is(err, badgerdb.ErrConflict) {
			return nil, interfaces.ErrVersionConflict
		}
		return nil, err
	}

	s.logger.Debug().Str("job_id", jobID).Str("worker_id", workerID).Msg("Job claimed")
	return claimed, nil
}

func (s *JobStorage) CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	count, err := s.db.Store().Count(&models.ScrapeJob{}, badgerhold.Where("Status").Eq(status))
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(count), nil
}

func (s *JobStorage) CountRunningForBoard(ctx context.Context, boardID string) (int, error) {
	count, err := s.db.Store().Count(&models.ScrapeJob{},
		badgerhold.Where("BoardID").Eq(boardID).And("Status").Eq(models.JobStatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to count running jobs: %w", err)
	}
	return int(count), nil
}

// RecentJobsForBoard returns the board's most recent terminal jobs, newest
// first. Feeds the rolling success rate behind auto-flagging.
func (s *JobStorage) RecentJobsForBoard(ctx context.Context, boardID string, limit int) ([]*models.ScrapeJob, error) {
	query := badgerhold.Where("BoardID").Eq(boardID).
		And("Status").In(models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled).
		SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var jobs []models.ScrapeJob
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list recent jobs: %w", err)
	}

	result := make([]*models.ScrapeJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// ListRunningOlderThan returns RUNNING jobs whose document has not been
// touched since the cutoff. UpdatedAt advances on every page persist, so a
// quiet document means an abandoned job, not a slow one. The time filter
// runs in memory; the RUNNING set is bounded by the pool.
func (s *JobStorage) ListRunningOlderThan(ctx context.Context, cutoff time.Time) ([]*models.ScrapeJob, error) {
	var jobs []models.ScrapeJob
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(models.JobStatusRunning)); err != nil {
		return nil, fmt.Errorf("failed to list running jobs: %w", err)
	}

	var stale []*models.ScrapeJob
	for i := range jobs {
		if jobs[i].UpdatedAt.Before(cutoff) {
			stale = append(stale, &jobs[i])
		}
	}
	return stale, nil
}

// FailOrphanedJobs marks every RUNNING job as FAILED. Called once at startup
// before workers start, to recover jobs stranded by a previous process.
func (s *JobStorage) FailOrphanedJobs(ctx context.Context) (int, error) {
	var jobs []models.ScrapeJob
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(models.JobStatusRunning)); err != nil {
		return 0, fmt.Errorf("failed to list running jobs: %w", err)
	}

	count := 0
	for i := range jobs {
		job := &jobs[i]
		if err := job.MarkFailed("job orphaned by engine restart", &models.ErrorDetails{Reason: "orphaned"}); err != nil {
			continue
		}
		job.Version++
		job.UpdatedAt = time.Now()
		if err := s.db.Store().Update(job.ID, job); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to mark orphaned job")
			continue
		}
		s.logger.Warn().Str("job_id", job.ID).Str("worker_id", job.WorkerID).Msg("Recovered orphaned job")
		count++
	}
	return count, nil
}
