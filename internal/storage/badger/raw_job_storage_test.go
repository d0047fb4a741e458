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

func testRaw(boardID, title, checksum string) *models.RawJob {
	raw := models.NewRawJob("run-1", "job-1", boardID)
	raw.Title = title
	raw.URL = "https://example.com/" + title
	raw.Checksum = checksum
	return raw
}

func TestBulkUpsertMarksDuplicates(t *testing.T) {
	db := newTestDB(t)
	storage := NewRawJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	created, duplicates, err := storage.BulkUpsertRawJobs(ctx, []*models.RawJob{
		testRaw("board-1", "engineer", "aaa"),
		testRaw("board-1", "engineer-copy", "aaa"), // in-batch duplicate
		testRaw("board-1", "designer", "bbb"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Equal(t, 1, duplicates)

	// Same checksum in a later batch collides with the stored raw.
	created, duplicates, err = storage.BulkUpsertRawJobs(ctx, []*models.RawJob{
		testRaw("board-1", "engineer-again", "aaa"),
		testRaw("board-2", "engineer", "aaa"), // other board, not a duplicate
	})
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, duplicates)

	total, err := storage.CountRawJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, total)

	unprocessed, err := storage.ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, unprocessed, 3)
	for _, raw := range unprocessed {
		assert.False(t, raw.IsDuplicate)
		assert.False(t, raw.IsProcessed)
	}
}

func TestBulkUpsertKeepsCacheDuplicateFlag(t *testing.T) {
	db := newTestDB(t)
	storage := NewRawJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	// URL-cache hit with a checksum the store has never seen.
	flagged := testRaw("board-1", "seen-url", "ccc")
	flagged.IsDuplicate = true

	created, duplicates, err := storage.BulkUpsertRawJobs(ctx, []*models.RawJob{flagged})
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Equal(t, 1, duplicates)

	stored, err := storage.GetRawJob(ctx, flagged.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsDuplicate, "deduper cache flag survives the store check")
}

func TestRawJobMarkProcessed(t *testing.T) {
	db := newTestDB(t)
	storage := NewRawJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	created, _, err := storage.BulkUpsertRawJobs(ctx, []*models.RawJob{
		testRaw("board-1", "engineer", "ccc"),
	})
	require.NoError(t, err)
	require.Equal(t, 1, created)

	unprocessed, err := storage.ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)

	raw := unprocessed[0]
	raw.IsProcessed = true
	require.NoError(t, storage.UpdateRawJob(ctx, raw))

	unprocessed, err = storage.ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unprocessed)
}

func TestNormalizedJobOnePerRaw(t *testing.T) {
	db := newTestDB(t)
	storage := NewNormalizedJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	raw := testRaw("board-1", "engineer", "ddd")
	normalized := models.NewNormalizedJob(raw)
	normalized.Title = "Software Engineer"
	require.NoError(t, storage.CreateNormalizedJob(ctx, normalized))

	again := models.NewNormalizedJob(raw)
	err := storage.CreateNormalizedJob(ctx, again)
	assert.ErrorIs(t, err, interfaces.ErrDuplicate)

	byRaw, err := storage.GetByRawJobID(ctx, raw.ID)
	require.NoError(t, err)
	assert.Equal(t, normalized.ID, byRaw.ID)
}

func TestListNormalizedJobsFilter(t *testing.T) {
	db := newTestDB(t)
	storage := NewNormalizedJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	published := models.NewNormalizedJob(testRaw("board-1", "engineer", "e1"))
	published.IsPublished = true
	require.NoError(t, storage.CreateNormalizedJob(ctx, published))

	unpublished := models.NewNormalizedJob(testRaw("board-1", "designer", "e2"))
	require.NoError(t, storage.CreateNormalizedJob(ctx, unpublished))

	otherBoard := models.NewNormalizedJob(testRaw("board-2", "manager", "e3"))
	otherBoard.IsPublished = true
	require.NoError(t, storage.CreateNormalizedJob(ctx, otherBoard))

	jobs, total, err := storage.ListNormalizedJobs(ctx, interfaces.NormalizedFilter{
		BoardID:       "board-1",
		PublishedOnly: true,
		ListOptions:   interfaces.ListOptions{Limit: 50},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, published.ID, jobs[0].ID)

	count, err := storage.CountNormalizedJobs(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNormalizedJobWithoutPostedDate(t *testing.T) {
	db := newTestDB(t)
	storage := NewNormalizedJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	// Most boards never expose a posting date; the nil pointer must
	// store cleanly.
	undated := models.NewNormalizedJob(testRaw("board-1", "engineer", "f1"))
	undated.Title = "Software Engineer"
	require.NoError(t, storage.CreateNormalizedJob(ctx, undated))

	stored, err := storage.GetNormalizedJob(ctx, undated.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.PostedDate)
}

func TestListNormalizedJobsOrdersByPostedDate(t *testing.T) {
	db := newTestDB(t)
	storage := NewNormalizedJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	older := time.Now().UTC().Add(-48 * time.Hour)
	newer := time.Now().UTC().Add(-2 * time.Hour)

	undated := models.NewNormalizedJob(testRaw("board-1", "manager", "g1"))
	require.NoError(t, storage.CreateNormalizedJob(ctx, undated))

	first := models.NewNormalizedJob(testRaw("board-1", "engineer", "g2"))
	first.PostedDate = &newer
	require.NoError(t, storage.CreateNormalizedJob(ctx, first))

	second := models.NewNormalizedJob(testRaw("board-1", "designer", "g3"))
	second.PostedDate = &older
	require.NoError(t, storage.CreateNormalizedJob(ctx, second))

	jobs, total, err := storage.ListNormalizedJobs(ctx, interfaces.NormalizedFilter{
		ListOptions: interfaces.ListOptions{Limit: 50},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, jobs, 3)
	assert.Equal(t, first.ID, jobs[0].ID, "newest posting first")
	assert.Equal(t, second.ID, jobs[1].ID)
	assert.Equal(t, undated.ID, jobs[2].ID, "undated records sort last")

	page, total, err := storage.ListNormalizedJobs(ctx, interfaces.NormalizedFilter{
		ListOptions: interfaces.ListOptions{Skip: 1, Limit: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, second.ID, page[0].ID)
}

func TestRunStorageByJob(t *testing.T) {
	db := newTestDB(t)
	storage := NewRunStorage(db, arbor.NewLogger())
	ctx := context.Background()

	for page := 3; page >= 1; page-- {
		run := models.NewScrapeRun("job-1", models.RunTypeHTML, "https://example.com", page)
		require.NoError(t, storage.CreateRun(ctx, run))
	}
	other := models.NewScrapeRun("job-2", models.RunTypeRSS, "https://example.com/feed", 1)
	require.NoError(t, storage.CreateRun(ctx, other))

	runs, err := storage.ListRunsByJob(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for i, run := range runs {
		assert.Equal(t, i+1, run.PageNumber)
	}

	page, total, err := storage.ListRuns(ctx, interfaces.RunFilter{
		JobID:       "job-1",
		ListOptions: interfaces.ListOptions{Limit: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 2)
}
