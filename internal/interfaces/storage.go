// -----------------------------------------------------------------------
// Storage ports - typed per-entity interfaces aggregated by StorageManager
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/laboro/internal/models"
)

// Sentinel errors shared by all storage implementations. Callers test with
// errors.Is; the HTTP layer maps them onto 404 and 409.
var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrDuplicate       = errors.New("duplicate")
)

// ListOptions is the shared pagination window. Skip >= 0, Limit 1-200.
type ListOptions struct {
	Skip  int
	Limit int
}

// JobFilter narrows job listings.
type JobFilter struct {
	Status  models.JobStatus
	BoardID string
	ListOptions
}

// RunFilter narrows run listings.
type RunFilter struct {
	JobID string
	ListOptions
}

// NormalizedFilter narrows normalized-job listings.
type NormalizedFilter struct {
	BoardID       string
	PublishedOnly bool
	ListOptions
}

// BoardStorage - interface for job board persistence
type BoardStorage interface {
	CreateBoard(ctx context.Context, board *models.JobBoard) error
	GetBoard(ctx context.Context, id string) (*models.JobBoard, error)
	GetBoardByName(ctx context.Context, name string) (*models.JobBoard, error)
	// UpdateBoard is compare-and-set on Version; a stale version returns
	// ErrVersionConflict.
	UpdateBoard(ctx context.Context, board *models.JobBoard) error
	ListBoards(ctx context.Context, activeOnly bool, opts ListOptions) ([]*models.JobBoard, int, error)
	CountBoards(ctx context.Context, activeOnly bool) (int, error)
}

// ScheduleStorage - interface for per-board schedule persistence
type ScheduleStorage interface {
	CreateSchedule(ctx context.Context, schedule *models.ScheduleConfig) error
	GetSchedule(ctx context.Context, id string) (*models.ScheduleConfig, error)
	UpdateSchedule(ctx context.Context, schedule *models.ScheduleConfig) error
	DeleteSchedule(ctx context.Context, id string) error
	ListSchedulesByBoard(ctx context.Context, boardID string) ([]*models.ScheduleConfig, error)
	// ListDueSchedules returns enabled schedules with next_run_at <= now.
	ListDueSchedules(ctx context.Context, now time.Time) ([]*models.ScheduleConfig, error)
}

// JobStorage - interface for scrape job persistence and the claim transaction
type JobStorage interface {
	CreateJob(ctx context.Context, job *models.ScrapeJob) error
	GetJob(ctx context.Context, id string) (*models.ScrapeJob, error)
	// UpdateJob is compare-and-set on Version.
	UpdateJob(ctx context.Context, job *models.ScrapeJob) error
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.ScrapeJob, int, error)
	// ListClaimable returns PENDING jobs plus PAUSED jobs carrying a resume
	// request, unordered; the pool applies dispatch ordering.
	ListClaimable(ctx context.Context, limit int) ([]*models.ScrapeJob, error)
	// ClaimJob atomically transitions a claimable job to RUNNING with the
	// worker identity. A lost race returns ErrVersionConflict.
	ClaimJob(ctx context.Context, jobID, workerID string) (*models.ScrapeJob, error)
	CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error)
	CountRunningForBoard(ctx context.Context, boardID string) (int, error)
	// RecentJobsForBoard returns terminal jobs for a board, newest first,
	// feeding the rolling success rate and auto-flagging.
	RecentJobsForBoard(ctx context.Context, boardID string, limit int) ([]*models.ScrapeJob, error)
	// ListRunningOlderThan returns RUNNING jobs not updated since the
	// cutoff, for the stale-job watchdog.
	ListRunningOlderThan(ctx context.Context, cutoff time.Time) ([]*models.ScrapeJob, error)
	// FailOrphanedJobs marks jobs left RUNNING by a previous process as
	// FAILED. Returns the number of jobs recovered.
	FailOrphanedJobs(ctx context.Context) (int, error)
}

// RunStorage - interface for per-page scrape run persistence
type RunStorage interface {
	CreateRun(ctx context.Context, run *models.ScrapeRun) error
	GetRun(ctx context.Context, id string) (*models.ScrapeRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*models.ScrapeRun, int, error)
	// ListRunsByJob returns all runs of a job in page order.
	ListRunsByJob(ctx context.Context, jobID string) ([]*models.ScrapeRun, error)
}

// RawJobStorage - interface for unnormalized extraction persistence
type RawJobStorage interface {
	// BulkUpsertRawJobs writes a page's raws in one transaction. Raws whose
	// (board_id, checksum) already exists in the store are persisted marked
	// as duplicates. Returns created and duplicate counts.
	BulkUpsertRawJobs(ctx context.Context, raws []*models.RawJob) (created int, duplicates int, err error)
	GetRawJob(ctx context.Context, id string) (*models.RawJob, error)
	UpdateRawJob(ctx context.Context, raw *models.RawJob) error
	// ListUnprocessed returns non-duplicate raws awaiting normalization,
	// oldest first.
	ListUnprocessed(ctx context.Context, limit int) ([]*models.RawJob, error)
	CountRawJobs(ctx context.Context) (int, error)
}

// NormalizedJobStorage - interface for cleaned record persistence
type NormalizedJobStorage interface {
	CreateNormalizedJob(ctx context.Context, job *models.NormalizedJob) error
	GetNormalizedJob(ctx context.Context, id string) (*models.NormalizedJob, error)
	GetByRawJobID(ctx context.Context, rawJobID string) (*models.NormalizedJob, error)
	ListNormalizedJobs(ctx context.Context, filter NormalizedFilter) ([]*models.NormalizedJob, int, error)
	CountNormalizedJobs(ctx context.Context, publishedOnly bool) (int, error)
}

// EngineStorage - interface for the singleton engine snapshot
type EngineStorage interface {
	GetEngineState(ctx context.Context) (*models.EngineState, error)
	// SaveEngineState is compare-and-set on Version.
	SaveEngineState(ctx context.Context, state *models.EngineState) error
	// InitEngineState inserts the singleton when missing; an existing
	// document is returned unchanged.
	InitEngineState(ctx context.Context, state *models.EngineState) (*models.EngineState, error)
}

// SettingsStorage - interface for operator-tunable limits
type SettingsStorage interface {
	GetSettings(ctx context.Context) (*models.EngineSettings, error)
	SaveSettings(ctx context.Context, settings *models.EngineSettings) error
	InitSettings(ctx context.Context, settings *models.EngineSettings) (*models.EngineSettings, error)
}

// Tx exposes the typed operations available inside a store transaction.
// Everything done through a Tx commits or aborts atomically.
type Tx interface {
	GetJob(id string) (*models.ScrapeJob, error)
	InsertJob(job *models.ScrapeJob) error
	UpdateJob(job *models.ScrapeJob) error

	GetSchedule(id string) (*models.ScheduleConfig, error)
	UpdateSchedule(schedule *models.ScheduleConfig) error

	GetBoard(id string) (*models.JobBoard, error)
	UpdateBoard(board *models.JobBoard) error
	BoardNameExists(name, excludeID string) (bool, error)

	InsertRun(run *models.ScrapeRun) error
	InsertRawJob(raw *models.RawJob) error
	RawExists(boardID, checksum string) (bool, error)
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	BoardStorage() BoardStorage
	ScheduleStorage() ScheduleStorage
	JobStorage() JobStorage
	RunStorage() RunStorage
	RawJobStorage() RawJobStorage
	NormalizedJobStorage() NormalizedJobStorage
	EngineStorage() EngineStorage
	SettingsStorage() SettingsStorage

	// Transaction runs fn inside one store transaction; fn returning an
	// error aborts every write made through the Tx.
	Transaction(ctx context.Context, fn func(tx Tx) error) error

	// Ping verifies the store is reachable, for the readiness probe.
	Ping(ctx context.Context) error
	Close() error
}
