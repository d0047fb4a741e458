package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// NormalizedJobStorage implements the NormalizedJobStorage interface for Badger
type NormalizedJobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewNormalizedJobStorage creates a new NormalizedJobStorage instance
func NewNormalizedJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.NormalizedJobStorage {
	return &NormalizedJobStorage{
		db:     db,
		logger: logger,
	}
}

// CreateNormalizedJob inserts a normalized record. Each raw job normalizes at
// most once; a second record for the same raw returns ErrDuplicate.
func (s *NormalizedJobStorage) CreateNormalizedJob(ctx context.Context, job *models.NormalizedJob) error {
	if job.ID == "" {
		return fmt.Errorf("normalized job ID is required")
	}

	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		count, err := s.db.Store().TxCount(txn, &models.NormalizedJob{},
			badgerhold.Where("RawJobID").Eq(job.RawJobID))
		if err != nil {
			return fmt.Errorf("failed to check raw job link: %w", err)
		}
		if count > 0 {
			return interfaces.ErrDuplicate
		}
		if err := s.db.Store().TxInsert(txn, job.ID, job); err != nil {
			if err == badgerhold.ErrKeyExists {
				return interfaces.ErrDuplicate
			}
			return fmt.Errorf("failed to insert normalized job: %w", err)
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

func (s *NormalizedJobStorage) GetNormalizedJob(ctx context.Context, id string) (*models.NormalizedJob, error) {
	var job models.NormalizedJob
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get normalized job: %w", err)
	}
	return &job, nil
}

func (s *NormalizedJobStorage) GetByRawJobID(ctx context.Context, rawJobID string) (*models.NormalizedJob, error) {
	var jobs []models.NormalizedJob
	if err := s.db.Store().Find(&jobs, badgerhold.Where("RawJobID").Eq(rawJobID)); err != nil {
		return nil, fmt.Errorf("failed to find normalized job: %w", err)
	}
	if len(jobs) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return &jobs[0], nil
}

// ListNormalizedJobs returns records ordered by posted date, newest first,
// with undated records last. PostedDate is a nullable pointer, so the
// ordering is applied in memory rather than through a badgerhold sort.
func (s *NormalizedJobStorage) ListNormalizedJobs(ctx context.Context, filter interfaces.NormalizedFilter) ([]*models.NormalizedJob, int, error) {
	query := badgerhold.Where("ID").Ne("")
	if filter.BoardID != "" {
		query = query.And("BoardID").Eq(filter.BoardID)
	}
	if filter.PublishedOnly {
		query = query.And("IsPublished").Eq(true)
	}

	var jobs []models.NormalizedJob
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, 0, fmt.Errorf("failed to list normalized jobs: %w", err)
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		a, b := jobs[i].PostedDate, jobs[j].PostedDate
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case (a == nil) != (b == nil):
			return a != nil
		default:
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
	})

	total := len(jobs)
	if filter.Skip > 0 {
		if filter.Skip >= len(jobs) {
			jobs = nil
		} else {
			jobs = jobs[filter.Skip:]
		}
	}
	if filter.Limit > 0 && filter.Limit < len(jobs) {
		jobs = jobs[:filter.Limit]
	}

	result := make([]*models.NormalizedJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, total, nil
}

func (s *NormalizedJobStorage) CountNormalizedJobs(ctx context.Context, publishedOnly bool) (int, error) {
	var query *badgerhold.Query
	if publishedOnly {
		query = badgerhold.Where("IsPublished").Eq(true)
	}
	count, err := s.db.Store().Count(&models.NormalizedJob{}, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count normalized jobs: %w", err)
	}
	return int(count), nil
}
