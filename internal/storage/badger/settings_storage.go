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

// SettingsStorage implements the SettingsStorage interface for Badger. Like
// the engine state, settings live in a singleton document.
type SettingsStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSettingsStorage creates a new SettingsStorage instance
func NewSettingsStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SettingsStorage {
	return &SettingsStorage{
		db:     db,
		logger: logger,
	}
}

func (s *SettingsStorage) GetSettings(ctx context.Context) (*models.EngineSettings, error) {
	var settings models.EngineSettings
	if err := s.db.Store().Get(models.EngineSettingsID, &settings); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return &settings, nil
}

// SaveSettings writes the settings back if the Version still matches.
func (s *SettingsStorage) SaveSettings(ctx context.Context, settings *models.EngineSettings) error {
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var current models.EngineSettings
		if err := s.db.Store().TxGet(txn, models.EngineSettingsID, &current); err != nil {
			if err == badgerhold.ErrNotFound {
				return interfaces.ErrNotFound
			}
			return fmt.Errorf("failed to get settings: %w", err)
		}
		if current.Version != settings.Version {
			return interfaces.ErrVersionConflict
		}
		settings.Version++
		settings.UpdatedAt = time.Now()
		if err := s.db.Store().TxUpdate(txn, models.EngineSettingsID, settings); err != nil {
			return fmt.Errorf("failed to update settings: %w", err)
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

// InitSettings inserts the defaults when no settings document exists yet.
// Stored settings survive restarts and win over configured defaults.
func (s *SettingsStorage) InitSettings(ctx context.Context, settings *models.EngineSettings) (*models.EngineSettings, error) {
	var result *models.EngineSettings
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var existing models.EngineSettings
		err := s.db.Store().TxGet(txn, models.EngineSettingsID, &existing)
		if err == nil {
			result = &existing
			return nil
		}
		if err != badgerhold.ErrNotFound {
			return fmt.Errorf("failed to get settings: %w", err)
		}
		if err := s.db.Store().TxInsert(txn, models.EngineSettingsID, settings); err != nil {
			return fmt.Errorf("failed to insert settings: %w", err)
		}
		result = settings
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
