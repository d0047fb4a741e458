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

// BoardStorage implements the BoardStorage interface for Badger
type BoardStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewBoardStorage creates a new BoardStorage instance
func NewBoardStorage(db *BadgerDB, logger arbor.ILogger) interfaces.BoardStorage {
	return &BoardStorage{
		db:     db,
		logger: logger,
	}
}

// CreateBoard inserts a new board. Names are unique; a second board with the
// same name returns ErrDuplicate.
func (s *BoardStorage) CreateBoard(ctx context.Context, board *models.JobBoard) error {
	if board.ID == "" {
		return fmt.Errorf("board ID is required")
	}

	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var existing []models.JobBoard
		if err := s.db.Store().TxFind(txn, &existing, badgerhold.Where("Name").Eq(board.Name)); err != nil {
			return fmt.Errorf("failed to check board name: %w", err)
		}
		if len(existing) > 0 {
			return interfaces.ErrDuplicate
		}
		if err := s.db.Store().TxInsert(txn, board.ID, board); err != nil {
			if err == badgerhold.ErrKeyExists {
				return interfaces.ErrDuplicate
			}
			return fmt.Errorf("failed to insert board: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, badgerdb.ErrConflict) {
			return interfaces.ErrVersionConflict
		}
		return err
	}

	s.logger.Debug().Str("board_id", board.ID).Str("name", board.Name).Msg("Board created")
	return nil
}

func (s *BoardStorage) GetBoard(ctx context.Context, id string) (*models.JobBoard, error) {
	var board models.JobBoard
	if err := s.db.Store().Get(id, &board); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get board: %w", err)
	}
	return &board, nil
}

func (s *BoardStorage) GetBoardByName(ctx context.Context, name string) (*models.JobBoard, error) {
	var boards []models.JobBoard
	if err := s.db.Store().Find(&boards, badgerhold.Where("Name").Eq(name)); err != nil {
		return nil, fmt.Errorf("failed to find board by name: %w", err)
	}
	if len(boards) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return &boards[0], nil
}

// UpdateBoard writes the board back if its Version still matches the stored
// document, then bumps the version. A rename is checked against the name
// uniqueness constraint inside the same transaction.
func (s *BoardStorage) UpdateBoard(ctx context.Context, board *models.JobBoard) error {
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var current models.JobBoard
		if err := s.db.Store().TxGet(txn, board.ID, &current); err != nil {
			if err == badgerhold.ErrNotFound {
				return interfaces.ErrNotFound
			}
			return fmt.Errorf("failed to get board: %w", err)
		}
		if current.Version != board.Version {
			return interfaces.ErrVersionConflict
		}
		if current.Name != board.Name {
			var clash []models.JobBoard
			if err := s.db.Store().TxFind(txn, &clash, badgerhold.Where("Name").Eq(board.Name)); err != nil {
				return fmt.Errorf("failed to check board name: %w", err)
			}
			for i := range clash {
				if clash[i].ID != board.ID {
					return interfaces.ErrDuplicate
				}
			}
		}
		board.Version++
		board.UpdatedAt = time.Now()
		if err := s.db.Store().TxUpdate(txn, board.ID, board); err != nil {
			return fmt.Errorf("failed to update board: %w", err)
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

func (s *BoardStorage) ListBoards(ctx context.Context, activeOnly bool, opts interfaces.ListOptions) ([]*models.JobBoard, int, error) {
	query := badgerhold.Where("ID").Ne("")
	countQuery := badgerhold.Where("ID").Ne("")
	if activeOnly {
		query = query.And("IsActive").Eq(true)
		countQuery = countQuery.And("IsActive").Eq(true)
	}

	count, err := s.db.Store().Count(&models.JobBoard{}, countQuery)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count boards: %w", err)
	}

	query = query.SortBy("Name")
	if opts.Skip > 0 {
		query = query.Skip(opts.Skip)
	}
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}

	var boards []models.JobBoard
	if err := s.db.Store().Find(&boards, query); err != nil {
		return nil, 0, fmt.Errorf("failed to list boards: %w", err)
	}

	result := make([]*models.JobBoard, len(boards))
	for i := range boards {
		result[i] = &boards[i]
	}
	return result, int(count), nil
}

func (s *BoardStorage) CountBoards(ctx context.Context, activeOnly bool) (int, error) {
	query := badgerhold.Where("ID").Ne("")
	if activeOnly {
		query = query.And("IsActive").Eq(true)
	}
	count, err := s.db.Store().Count(&models.JobBoard{}, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count boards: %w", err)
	}
	return int(count), nil
}
