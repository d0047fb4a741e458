package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
)

func TestBoardNameUniqueness(t *testing.T) {
	db := newTestDB(t)
	storage := NewBoardStorage(db, arbor.NewLogger())
	ctx := context.Background()

	board := models.NewJobBoard("indeed", models.BoardTypeHTML, "https://example.com/jobs?page={page}")
	require.NoError(t, storage.CreateBoard(ctx, board))

	clone := models.NewJobBoard("indeed", models.BoardTypeRSS, "https://other.example.com")
	clone.RSSURL = "https://other.example.com/feed.xml"
	err := storage.CreateBoard(ctx, clone)
	assert.ErrorIs(t, err, interfaces.ErrDuplicate)

	found, err := storage.GetBoardByName(ctx, "indeed")
	require.NoError(t, err)
	assert.Equal(t, board.ID, found.ID)

	_, err = storage.GetBoardByName(ctx, "unknown")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestBoardUpdateVersionConflict(t *testing.T) {
	db := newTestDB(t)
	storage := NewBoardStorage(db, arbor.NewLogger())
	ctx := context.Background()

	board := models.NewJobBoard("indeed", models.BoardTypeHTML, "https://example.com/jobs?page={page}")
	require.NoError(t, storage.CreateBoard(ctx, board))

	first, err := storage.GetBoard(ctx, board.ID)
	require.NoError(t, err)
	second, err := storage.GetBoard(ctx, board.ID)
	require.NoError(t, err)

	first.MaxPages = 20
	require.NoError(t, storage.UpdateBoard(ctx, first))

	second.MaxPages = 30
	err = storage.UpdateBoard(ctx, second)
	assert.ErrorIs(t, err, interfaces.ErrVersionConflict)
}

func TestBoardRenameCollision(t *testing.T) {
	db := newTestDB(t)
	storage := NewBoardStorage(db, arbor.NewLogger())
	ctx := context.Background()

	a := models.NewJobBoard("indeed", models.BoardTypeHTML, "https://a.example.com/jobs?page={page}")
	b := models.NewJobBoard("dice", models.BoardTypeHTML, "https://b.example.com/jobs?page={page}")
	require.NoError(t, storage.CreateBoard(ctx, a))
	require.NoError(t, storage.CreateBoard(ctx, b))

	b.Name = "indeed"
	err := storage.UpdateBoard(ctx, b)
	assert.ErrorIs(t, err, interfaces.ErrDuplicate)
}

func TestListBoardsActiveFilter(t *testing.T) {
	db := newTestDB(t)
	storage := NewBoardStorage(db, arbor.NewLogger())
	ctx := context.Background()

	active1 := models.NewJobBoard("alpha", models.BoardTypeHTML, "https://a.example.com/jobs?page={page}")
	active2 := models.NewJobBoard("beta", models.BoardTypeHTML, "https://b.example.com/jobs?page={page}")
	inactive := models.NewJobBoard("gamma", models.BoardTypeHTML, "https://c.example.com/jobs?page={page}")
	inactive.IsActive = false
	for _, b := range []*models.JobBoard{active1, active2, inactive} {
		require.NoError(t, storage.CreateBoard(ctx, b))
	}

	boards, total, err := storage.ListBoards(ctx, true, interfaces.ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, boards, 1)
	assert.Equal(t, "alpha", boards[0].Name)

	all, total, err := storage.ListBoards(ctx, false, interfaces.ListOptions{Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, all, 3)

	count, err := storage.CountBoards(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestScheduleDueListing(t *testing.T) {
	db := newTestDB(t)
	storage := NewScheduleStorage(db, arbor.NewLogger())
	ctx := context.Background()
	now := time.Now()

	due := models.NewScheduleConfig("board-1", "0 */6 * * *", "UTC")
	past := now.Add(-time.Minute)
	due.NextRunAt = &past
	require.NoError(t, storage.CreateSchedule(ctx, due))

	future := models.NewScheduleConfig("board-1", "0 */6 * * *", "UTC")
	later := now.Add(time.Hour)
	future.NextRunAt = &later
	require.NoError(t, storage.CreateSchedule(ctx, future))

	disabled := models.NewScheduleConfig("board-2", "0 */6 * * *", "UTC")
	disabled.NextRunAt = &past
	disabled.IsEnabled = false
	require.NoError(t, storage.CreateSchedule(ctx, disabled))

	unset := models.NewScheduleConfig("board-2", "0 */6 * * *", "UTC")
	require.NoError(t, storage.CreateSchedule(ctx, unset))

	ready, err := storage.ListDueSchedules(ctx, now)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, due.ID, ready[0].ID)

	byBoard, err := storage.ListSchedulesByBoard(ctx, "board-1")
	require.NoError(t, err)
	assert.Len(t, byBoard, 2)
}

func TestScheduleDelete(t *testing.T) {
	db := newTestDB(t)
	storage := NewScheduleStorage(db, arbor.NewLogger())
	ctx := context.Background()

	schedule := models.NewScheduleConfig("board-1", "@daily", "UTC")
	require.NoError(t, storage.CreateSchedule(ctx, schedule))
	require.NoError(t, storage.DeleteSchedule(ctx, schedule.ID))

	_, err := storage.GetSchedule(ctx, schedule.ID)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	err = storage.DeleteSchedule(ctx, schedule.ID)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}
