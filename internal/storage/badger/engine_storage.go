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

// EngineStorage implements the EngineStorage interface for Badger. The engine
// state is a singleton document under a fixed key.
type EngineStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewEngineStorage creates a new EngineStorage instance
func NewEngineStorage(db *BadgerDB, logger arbor.ILogger) interfaces.EngineStorage {
	return &EngineStorage{
		db:     db,
		logger: logger,
	}
}

func (s *EngineStorage) GetEngineState(ctx context.Context) (*models.EngineState, error) {
	var state models.EngineState
	if err := s.db.Store().Get(models.EngineStateID, &state); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get engine state: %w", err)
	}
	return &state, nil
}

// SaveEngineState writes the snapshot back if its Version still matches.
// The heartbeat loop is the primary writer; control endpoints race it and
// retry on ErrVersionConflict.
func (s *EngineStorage) SaveEngineState(ctx context.Context, state *models.EngineState) error {
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var current models.EngineState
		if err := s.db.Store().TxGet(txn, models.EngineStateID, &current); err != nil {
			if err == badgerhold.ErrNotFound {
				return interfaces.ErrNotFound
			}
			return fmt.Errorf("failed to get engine state: %w", err)
		}
		if current.Version != state.Version {
			return interfaces.ErrVersionConflict
		}
		state.Version++
		state.UpdatedAt = time.Now()
		if err := s.db.Store().TxUpdate(txn, models.EngineStateID, state); err != nil {
			return fmt.Errorf("failed to update engine state: %w", err)
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

// InitEngineState inserts the singleton when it does not exist yet. When a
// previous process already created it, the stored document wins and is
// returned unchanged.
func (s *EngineStorage) InitEngineState(ctx context.Context, state *models.EngineState) (*models.EngineState, error) {
	var result *models.EngineState
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var existing models.EngineState
		err := s.db.Store().TxGet(txn, models.EngineStateID, &existing)
		if err == nil {
			result = &existing
			return nil
		}
		if err != badgerhold.ErrNotFound {
			return fmt.Errorf("failed to get engine state: %w", err)
		}
		if err := s.db.Store().TxInsert(txn, models.EngineStateID, state); err != nil {
			return fmt.Errorf("failed to insert engine state: %w", err)
		}
		result = state
		return nil
	})
	if err != nil {
		if errors.Is(err, badgerdb.ErrConflict) {
			return nil, interfaces.ErrVersionConflict
		}
		return nil, err
	}
	return result, nil
}
