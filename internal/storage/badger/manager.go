package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/laboro/internal/common"
	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db         *BadgerDB
	board      interfaces.BoardStorage
	schedule   interfaces.ScheduleStorage
	job        interfaces.JobStorage
	run        interfaces.RunStorage
	rawJob     interfaces.RawJobStorage
	normalized interfaces.NormalizedJobStorage
	engine     interfaces.EngineStorage
	settings   interfaces.SettingsStorage
	logger     arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:         db,
		board:      NewBoardStorage(db, logger),
		schedule:   NewScheduleStorage(db, logger),
		job:        NewJobStorage(db, logger),
		run:        NewRunStorage(db, logger),
		rawJob:     NewRawJobStorage(db, logger),
		normalized: NewNormalizedJobStorage(db, logger),
		engine:     NewEngineStorage(db, logger),
		settings:   NewSettingsStorage(db, logger),
		logger:     logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// BoardStorage returns the JobBoard storage interface
func (m *Manager) BoardStorage() interfaces.BoardStorage {
	return m.board
}

// ScheduleStorage returns the ScheduleConfig storage interface
func (m *Manager) ScheduleStorage() interfaces.ScheduleStorage {
	return m.schedule
}

// JobStorage returns the ScrapeJob storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// RunStorage returns the ScrapeRun storage interface
func (m *Manager) RunStorage() interfaces.RunStorage {
	return m.run
}

// RawJobStorage returns the RawJob storage interface
func (m *Manager) RawJobStorage() interfaces.RawJobStorage {
	return m.rawJob
}

// NormalizedJobStorage returns the NormalizedJob storage interface
func (m *Manager) NormalizedJobStorage() interfaces.NormalizedJobStorage {
	return m.normalized
}

// EngineStorage returns the EngineState storage interface
func (m *Manager) EngineStorage() interfaces.EngineStorage {
	return m.engine
}

// SettingsStorage returns the EngineSettings storage interface
func (m *Manager) SettingsStorage() interfaces.SettingsStorage {
	return m.settings
}

// Transaction runs fn inside a single Badger read-write transaction. All
// writes made through the Tx commit together or not at all. A commit-time
// conflict with a concurrent transaction surfaces as ErrVersionConflict.
func (m *Manager) Transaction(ctx context.Context, fn func(tx interfaces.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := m.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		return fn(&managedTx{store: m.db.Store(), txn: txn})
	})
	if errors.Is(err, badgerdb.ErrConflict) {
		return interfaces.ErrVersionConflict
	}
	return err
}

// Ping verifies the store is reachable
func (m *Manager) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.db.Ping()
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// managedTx exposes typed operations scoped to one Badger transaction.
// Version checks are left to commit-time conflict detection; reads and
// writes inside the same transaction are already serialized.
type managedTx struct {
	store *badgerhold.Store
	txn   *badgerdb.Txn
}

func (t *managedTx) GetJob(id string) (*models.ScrapeJob, error) {
	var job models.ScrapeJob
	if err := t.store.TxGet(t.txn, id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (t *managedTx) InsertJob(job *models.ScrapeJob) error {
	if err := t.store.TxInsert(t.txn, job.ID, job); err != nil {
		if err == badgerhold.ErrKeyExists {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (t *managedTx) UpdateJob(job *models.ScrapeJob) error {
	job.Version++
	job.UpdatedAt = time.Now()
	if err := t.store.TxUpdate(t.txn, job.ID, job); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

func (t *managedTx) GetSchedule(id string) (*models.ScheduleConfig, error) {
	var schedule models.ScheduleConfig
	if err := t.store.TxGet(t.txn, id, &schedule); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return &schedule, nil
}

func (t *managedTx) UpdateSchedule(schedule *models.ScheduleConfig) error {
	schedule.Version++
	schedule.UpdatedAt = time.Now()
	if err := t.store.TxUpdate(t.txn, schedule.ID, schedule); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return nil
}

func (t *managedTx) GetBoard(id string) (*models.JobBoard, error) {
	var board models.JobBoard
	if err := t.store.TxGet(t.txn, id, &board); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get board: %w", err)
	}
	return &board, nil
}

func (t *managedTx) UpdateBoard(board *models.JobBoard) error {
	board.Version++
	board.UpdatedAt = time.Now()
	if err := t.store.TxUpdate(t.txn, board.ID, board); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to update board: %w", err)
	}
	return nil
}

// BoardNameExists reports whether another board already uses the name.
func (t *managedTx) BoardNameExists(name, excludeID string) (bool, error) {
	var boards []models.JobBoard
	if err := t.store.TxFind(t.txn, &boards, badgerhold.Where("Name").Eq(name)); err != nil {
		return false, fmt.Errorf("failed to check board name: %w", err)
	}
	for _, b := range boards {
		if b.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (t *managedTx) InsertRun(run *models.ScrapeRun) error {
	if err := t.store.TxInsert(t.txn, run.ID, run); err != nil {
		if err == badgerhold.ErrKeyExists {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (t *managedTx) InsertRawJob(raw *models.RawJob) error {
	if err := t.store.TxInsert(t.txn, raw.ID, raw); err != nil {
		if err == badgerhold.ErrKeyExists {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to insert raw job: %w", err)
	}
	return nil
}

// RawExists reports whether a raw job with the checksum is already stored
// for the board.
func (t *managedTx) RawExists(boardID, checksum string) (bool, error) {
	count, err := t.store.TxCount(t.txn, &models.RawJob{},
		badgerhold.Where("BoardID").Eq(boardID).And("Checksum").Eq(checksum))
	if err != nil {
		return false, fmt.Errorf("failed to check raw checksum: %w", err)
	}
	return count > 0, nil
}
