package normalize

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/laboro/internal/common"
	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
	"github.com/ternarybob/laboro/internal/storage/badger"
)

func newTestService(t *testing.T) (*Service, interfaces.StorageManager) {
	t.Helper()
	logger := arbor.NewLogger()

	storage, err := badger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	svc := NewService(newRuleBackend(t, dateNow), storage, &common.NormalizerConfig{
		PollInterval: "10ms",
		BatchSize:    10,
	}, logger)
	return svc, storage
}

func seedBoard(t *testing.T, storage interfaces.StorageManager, threshold float64) *models.JobBoard {
	t.Helper()
	board := models.NewJobBoard("initech", models.BoardTypeHTML, "https://boards.initech-jobs.com/search?page={page}")
	board.QualityThreshold = threshold
	require.NoError(t, storage.BoardStorage().CreateBoard(context.Background(), board))
	return board
}

func seedRaws(t *testing.T, storage interfaces.StorageManager, raws ...*models.RawJob) {
	t.Helper()
	_, _, err := storage.RawJobStorage().BulkUpsertRawJobs(context.Background(), raws)
	require.NoError(t, err)
}

// richRaw normalizes with every optional field present, quality 1.0.
func richRaw(boardID, checksum string) *models.RawJob {
	raw := models.NewRawJob("run-1", "job-1", boardID)
	raw.Title = "Senior Go Developer"
	raw.Company = "Initech"
	raw.Description = "Build services with Go."
	raw.Location = "Austin, TX"
	raw.SalaryText = "$140k - $180k"
	raw.JobTypeText = "Full-time"
	raw.PostedDateText = "2 days ago"
	raw.URL = "https://boards.initech-jobs.com/jobs/" + checksum
	raw.Checksum = checksum
	return raw
}

// bareRaw carries required fields only, quality 0.6.
func bareRaw(boardID, checksum string) *models.RawJob {
	raw := models.NewRawJob("run-1", "job-1", boardID)
	raw.Title = "Clerk"
	raw.Company = "Globex"
	raw.Description = "File papers."
	raw.Checksum = checksum
	return raw
}

func TestProcessBatchPublishesAgainstBoardThreshold(t *testing.T) {
	svc, storage := newTestService(t)
	board := seedBoard(t, storage, 0.7)
	ctx := context.Background()

	rich := richRaw(board.ID, "aaa")
	bare := bareRaw(board.ID, "bbb")
	seedRaws(t, storage, rich, bare)

	processed, failed, err := svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
	assert.Zero(t, failed)

	published, err := storage.NormalizedJobStorage().GetByRawJobID(ctx, rich.ID)
	require.NoError(t, err)
	assert.True(t, published.IsPublished)
	assert.Equal(t, "Senior Go Developer", published.Title)
	assert.Equal(t, "Austin", published.City)
	assert.InDelta(t, 1.0, published.QualityScore, 1e-9)

	unpublished, err := storage.NormalizedJobStorage().GetByRawJobID(ctx, bare.ID)
	require.NoError(t, err)
	assert.False(t, unpublished.IsPublished, "quality 0.6 sits under the 0.7 threshold")
	assert.InDelta(t, 0.6, unpublished.QualityScore, 1e-9)

	unprocessed, err := storage.RawJobStorage().ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unprocessed, "consumed raws are marked processed")

	processed, failed, err = svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, processed, "second pass finds nothing")
	assert.Zero(t, failed)
}

func TestProcessBatchMissingBoardPublishesFreely(t *testing.T) {
	svc, storage := newTestService(t)
	ctx := context.Background()

	raw := bareRaw("board-gone", "ccc")
	seedRaws(t, storage, raw)

	processed, _, err := svc.ProcessBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	n, err := storage.NormalizedJobStorage().GetByRawJobID(ctx, raw.ID)
	require.NoError(t, err)
	assert.True(t, n.IsPublished, "no board means no quality gate")
}

func TestProcessBatchIdempotentOnExistingNormalized(t *testing.T) {
	svc, storage := newTestService(t)
	board := seedBoard(t, storage, 0.5)
	ctx := context.Background()

	raw := richRaw(board.ID, "ddd")
	seedRaws(t, storage, raw)

	// A previous pass persisted the normalized record but crashed before
	// marking the raw.
	pre := models.NewNormalizedJob(raw)
	pre.Title = "Senior Go Developer"
	require.NoError(t, storage.NormalizedJobStorage().CreateNormalizedJob(ctx, pre))

	processed, failed, err := svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Zero(t, failed)

	got, err := storage.NormalizedJobStorage().GetByRawJobID(ctx, raw.ID)
	require.NoError(t, err)
	assert.Equal(t, pre.ID, got.ID, "the earlier record survives")

	unprocessed, err := storage.RawJobStorage().ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unprocessed)
}

func TestProcessBatchSkipsDuplicateFlaggedRaws(t *testing.T) {
	svc, storage := newTestService(t)
	board := seedBoard(t, storage, 0.5)
	ctx := context.Background()

	dup := bareRaw(board.ID, "eee")
	dup.IsDuplicate = true
	seedRaws(t, storage, dup)

	processed, failed, err := svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.Zero(t, failed)

	_, err = storage.NormalizedJobStorage().GetByRawJobID(ctx, dup.ID)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestProcessBatchStopsOnCancel(t *testing.T) {
	svc, storage := newTestService(t)
	board := seedBoard(t, storage, 0.5)

	seedRaws(t, storage, richRaw(board.ID, "fff"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := svc.ProcessBatch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestServiceStartDrainsBacklog(t *testing.T) {
	svc, storage := newTestService(t)
	board := seedBoard(t, storage, 0.5)

	seedRaws(t, storage, richRaw(board.ID, "ggg"), bareRaw(board.ID, "hhh"))

	svc.Start(context.Background())
	require.Eventually(t, func() bool {
		unprocessed, err := storage.RawJobStorage().ListUnprocessed(context.Background(), 10)
		return err == nil && len(unprocessed) == 0
	}, 2*time.Second, 10*time.Millisecond)
	svc.Stop()

	count, err := storage.NormalizedJobStorage().CountNormalizedJobs(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
