package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// RunStorage implements the RunStorage interface for Badger
type RunStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRunStorage creates a new RunStorage instance
func NewRunStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RunStorage {
	return &RunStorage{
		db:     db,
		logger: logger,
	}
}

func (s *RunStorage) CreateRun(ctx context.Context, run *models.ScrapeRun) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	if err := s.db.Store().Insert(run.ID, run); err != nil {
		if err == badgerhold.ErrKeyExists {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (s *RunStorage) GetRun(ctx context.Context, id string) (*models.ScrapeRun, error) {
	var run models.ScrapeRun
	if err := s.db.Store().Get(id, &run); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

func (s *RunStorage) ListRuns(ctx context.Context, filter interfaces.RunFilter) ([]*models.ScrapeRun, int, error) {
	query := badgerhold.Where("ID").Ne("")
	countQuery := badgerhold.Where("ID").Ne("")
	if filter.JobID != "" {
		query = query.And("JobID").Eq(filter.JobID)
		countQuery = countQuery.And("JobID").Eq(filter.JobID)
	}

	count, err := s.db.Store().Count(&models.ScrapeRun{}, countQuery)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	query = query.SortBy("CreatedAt").Reverse()
	if filter.Skip > 0 {
		query = query.Skip(filter.Skip)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var runs []models.ScrapeRun
	if err := s.db.Store().Find(&runs, query); err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}

	result := make([]*models.ScrapeRun, len(runs))
	for i := range runs {
		result[i] = &runs[i]
	}
	return result, int(count), nil
}

// ListRunsByJob returns every run of a job in page order.
func (s *RunStorage) ListRunsByJob(ctx context.Context, jobID string) ([]*models.ScrapeRun, error) {
	var runs []models.ScrapeRun
	if err := s.db.Store().Find(&runs, badgerhold.Where("JobID").Eq(jobID).SortBy("PageNumber")); err != nil {
		return nil, fmt.Errorf("failed to list runs for job: %w", err)
	}
	result := make([]*models.ScrapeRun, len(runs))
	for i := range runs {
		result[i] = &runs[i]
	}
	return result, nil
}
