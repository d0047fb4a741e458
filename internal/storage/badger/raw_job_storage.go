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

// RawJobStorage implements the RawJobStorage interface for Badger
type RawJobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRawJobStorage creates a new RawJobStorage instance
func NewRawJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RawJobStorage {
	return &RawJobStorage{
		db:     db,
		logger: logger,
	}
}

// BulkUpsertRawJobs persists one page's extractions in a single transaction.
// A raw whose (board_id, checksum) already exists, in the store or earlier in
// the same batch, is still persisted but marked as a duplicate so the
// normalizer skips it. Raws arriving already flagged (deduper cache hits)
// stay flagged. Returns created and duplicate counts.
func (s *RawJobStorage) BulkUpsertRawJobs(ctx context.Context, raws []*models.RawJob) (int, int, error) {
	if len(raws) == 0 {
		return 0, 0, nil
	}

	created, duplicates := 0, 0
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		created, duplicates = 0, 0
		batchSeen := make(map[string]bool, len(raws))
		for _, raw := range raws {
			if raw.ID == "" {
				return fmt.Errorf("raw job ID is required")
			}

			dup := raw.IsDuplicate
			if raw.Checksum != "" {
				key := raw.BoardID + "|" + raw.Checksum
				if batchSeen[key] {
					dup = true
				} else {
					batchSeen[key] = true
					if !dup {
						count, err := s.db.Store().TxCount(txn, &models.RawJob{},
							badgerhold.Where("BoardID").Eq(raw.BoardID).And("Checksum").Eq(raw.Checksum))
						if err != nil {
							return fmt.Errorf("failed to check raw checksum: %w", err)
						}
						dup = count > 0
					}
				}
			}

			raw.IsDuplicate = dup
			if err := s.db.Store().TxInsert(txn, raw.ID, raw); err != nil {
				return fmt.Errorf("failed to insert raw job: %w", err)
			}
			if dup {
				duplicates++
			} else {
				created++
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, badgerdb.ErrConflict) {
			return 0, 0, interfaces.ErrVersionConflict
		}
		return 0, 0, err
	}

	s.logger.Debug().Int("created", created).Int("duplicates", duplicates).Msg("Raw jobs persisted")
	return created, duplicates, nil
}

func (s *RawJobStorage) GetRawJob(ctx context.Context, id string) (*models.RawJob, error) {
	var raw models.RawJob
	if err := s.db.Store().Get(id, &raw); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get raw job: %w", err)
	}
	return &raw, nil
}

// UpdateRawJob writes the raw back if its Version still matches.
func (s *RawJobStorage) UpdateRawJob(ctx context.Context, raw *models.RawJob) error {
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var current models.RawJob
		if err := s.db.Store().TxGet(txn, raw.ID, &current); err != nil {
			if err == badgerhold.ErrNotFound {
				return interfaces.ErrNotFound
			}
			return fmt.Errorf("failed to get raw job: %w", err)
		}
		if current.Version != raw.Version {
			return interfaces.ErrVersionConflict
		}
		raw.Version++
		raw.UpdatedAt = time.Now()
		if err := s.db.Store().TxUpdate(txn, raw.ID, raw); err != nil {
			return fmt.Errorf("failed to update raw job: %w", err)
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

// ListUnprocessed returns non-duplicate raws the normalizer has not consumed
// yet, oldest first.
func (s *RawJobStorage) ListUnprocessed(ctx context.Context, limit int) ([]*models.RawJob, error) {
	query := badgerhold.Where("IsProcessed").Eq(false).And("IsDuplicate").Eq(false).SortBy("CreatedAt")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var raws []models.RawJob
	if err := s.db.Store().Find(&raws, query); err != nil {
		return nil, fmt.Errorf("failed to list unprocessed raw jobs: %w", err)
	}

	result := make([]*models.RawJob, len(raws))
	for i := range raws {
		result[i] = &raws[i]
	}
	return result, nil
}

func (s *RawJobStorage) CountRawJobs(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.RawJob{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count raw jobs: %w", err)
	}
	return int(count), nil
}
