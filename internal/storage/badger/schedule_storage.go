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

// ScheduleStorage implements the ScheduleStorage interface for Badger
type ScheduleStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewScheduleStorage creates a new ScheduleStorage instance
func NewScheduleStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ScheduleStorage {
	return &ScheduleStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ScheduleStorage) CreateSchedule(ctx context.Context, schedule *models.ScheduleConfig) error {
	if schedule.ID == "" {
		return fmt.Errorf("schedule ID is required")
	}
	if err := s.db.Store().Insert(schedule.ID, schedule); err != nil {
		if err == badgerhold.ErrKeyExists {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to insert schedule: %w", err)
	}
	return nil
}

func (s *ScheduleStorage) GetSchedule(ctx context.Context, id string) (*models.ScheduleConfig, error) {
	var schedule models.ScheduleConfig
	if err := s.db.Store().Get(id, &schedule); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return &schedule, nil
}

// UpdateSchedule writes the schedule back if its Version still matches.
func (s *ScheduleStorage) UpdateSchedule(ctx context.Context, schedule *models.ScheduleConfig) error {
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var current models.ScheduleConfig
		if err := s.db.Store().TxGet(txn, schedule.ID, &current); err != nil {
			if err == badgerhold.ErrNotFound {
				return interfaces.ErrNotFound
			}
			return fmt.Errorf("failed to get schedule: %w", err)
		}
		if current.Version != schedule.Version {
			return interfaces.ErrVersionConflict
		}
		schedule.Version++
		schedule.UpdatedAt = time.Now()
		if err := s.db.Store().TxUpdate(txn, schedule.ID, schedule); err != nil {
			return fmt.Errorf("failed to update schedule: %w", err)
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

func (s *ScheduleStorage) DeleteSchedule(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.ScheduleConfig{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return nil
}

func (s *ScheduleStorage) ListSchedulesByBoard(ctx context.Context, boardID string) ([]*models.ScheduleConfig, error) {
	var schedules []models.ScheduleConfig
	if err := s.db.Store().Find(&schedules, badgerhold.Where("BoardID").Eq(boardID).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	result := make([]*models.ScheduleConfig, len(schedules))
	for i := range schedules {
		result[i] = &schedules[i]
	}
	return result, nil
}

// ListDueSchedules returns enabled schedules whose next_run_at has arrived.
// The time comparison happens in memory; NextRunAt is a nullable pointer and
// the enabled set is small.
func (s *ScheduleStorage) ListDueSchedules(ctx context.Context, now time.Time) ([]*models.ScheduleConfig, error) {
	var schedules []models.ScheduleConfig
	if err := s.db.Store().Find(&schedules, badgerhold.Where("IsEnabled").Eq(true)); err != nil {
		return nil, fmt.Errorf("failed to list enabled schedules: %w", err)
	}

	due := make([]*models.ScheduleConfig, 0, len(schedules))
	for i := range schedules {
		if schedules[i].Due(now) {
			due = append(due, &schedules[i])
		}
	}
	return due, nil
}
