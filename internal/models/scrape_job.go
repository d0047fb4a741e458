// -----------------------------------------------------------------------
// Scrape Job - one execution attempt of a board, with a guarded
// status state machine
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a scrape job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusPaused    JobStatus = "PAUSED"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// jobTransitions is the allowed transition set. Terminal states have no
// outgoing edges; every persisted transition is checked against this table.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusRunning, JobStatusCancelled},
	JobStatusRunning: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusPaused},
	JobStatusPaused:  {JobStatusRunning, JobStatusCancelled},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// JobMode describes how the job was created.
type JobMode string

const (
	JobModeManual     JobMode = "MANUAL"
	JobModeScheduled  JobMode = "SCHEDULED"
	JobModeContinuous JobMode = "CONTINUOUS"
)

// IsValid returns true for a recognized job mode.
func (m JobMode) IsValid() bool {
	switch m {
	case JobModeManual, JobModeScheduled, JobModeContinuous:
		return true
	}
	return false
}

// JobCounters aggregates item outcomes across a job's runs.
type JobCounters struct {
	ItemsFound   int `json:"items_found"`
	ItemsCreated int `json:"items_created"`
	ItemsUpdated int `json:"items_updated"`
	ItemsSkipped int `json:"items_skipped"`
}

// Add folds another counter set into this one.
func (c *JobCounters) Add(other JobCounters) {
	c.ItemsFound += other.ItemsFound
	c.ItemsCreated += other.ItemsCreated
	c.ItemsUpdated += other.ItemsUpdated
	c.ItemsSkipped += other.ItemsSkipped
}

// JobProgress is the payload published with job_progress events, one per
// completed page.
type JobProgress struct {
	JobID    string      `json:"job_id"`
	BoardID  string      `json:"board_id"`
	Page     int         `json:"page"`
	Counters JobCounters `json:"counters"`
}

// ErrorDetails carries structured failure context alongside the flat
// error_message string.
type ErrorDetails struct {
	Reason     string `json:"reason,omitempty"` // timeout, rate_limited, server_error, parse, config, internal, orphaned, stale
	HTTPStatus int    `json:"http_status,omitempty"`
	Page       int    `json:"page,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
}

// ConfigSnapshot is a deep copy of the board configuration taken when the
// job is created. Workers read only the snapshot, so concurrent board edits
// never affect an in-flight job.
type ConfigSnapshot struct {
	BoardName        string            `json:"board_name"`
	BoardType        BoardType         `json:"board_type"`
	BaseURL          string            `json:"base_url"`
	RSSURL           string            `json:"rss_url,omitempty"`
	Selectors        map[string]string `json:"selectors,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
	SearchKeywords   string            `json:"search_keywords,omitempty"`
	SearchLocation   string            `json:"search_location,omitempty"`
	RenderJS         bool              `json:"render_js"`
	RateLimitDelayS  float64           `json:"rate_limit_delay_s"`
	MaxPages         int               `json:"max_pages"`
	RequestTimeoutS  int               `json:"request_timeout_s"`
	RetryAttempts    int               `json:"retry_attempts"`
	QualityThreshold float64           `json:"quality_threshold"`
}

// SnapshotBoard captures the board fields a worker needs.
func SnapshotBoard(board *JobBoard) ConfigSnapshot {
	selectors := make(map[string]string, len(board.Selectors))
	for k, v := range board.Selectors {
		selectors[k] = v
	}
	headers := make(map[string]string, len(board.Headers))
	for k, v := range board.Headers {
		headers[k] = v
	}
	return ConfigSnapshot{
		BoardName:        board.Name,
		BoardType:        board.Type,
		BaseURL:          board.BaseURL,
		RSSURL:           board.RSSURL,
		Selectors:        selectors,
		Headers:          headers,
		SearchKeywords:   board.SearchKeywords,
		SearchLocation:   board.SearchLocation,
		RenderJS:         board.RenderJS,
		RateLimitDelayS:  board.RateLimitDelayS,
		MaxPages:         board.MaxPages,
		RequestTimeoutS:  board.RequestTimeoutS,
		RetryAttempts:    board.RetryAttempts,
		QualityThreshold: board.QualityThreshold,
	}
}

// ScrapeJob is one execution attempt of a board.
type ScrapeJob struct {
	ID         string  `json:"id" badgerhold:"key"`
	BoardID    string  `json:"board_id" badgerhold:"index"`
	ScheduleID *string `json:"schedule_id,omitempty"` // nil for MANUAL jobs

	Mode     JobMode   `json:"mode"`
	Status   JobStatus `json:"status" badgerhold:"index"`
	Priority int       `json:"priority"` // higher dispatches first

	MaxPages       int            `json:"max_pages,omitempty"` // override; 0 = use snapshot value
	ConfigSnapshot ConfigSnapshot `json:"config_snapshot"`

	// Execution state
	WorkerID        string     `json:"worker_id,omitempty"` // claim identity, set PENDING->RUNNING
	PageCursor      int        `json:"page_cursor"`         // next page to fetch, 1-based; preserved across pause
	ResumeRequested bool       `json:"resume_requested"`    // set by the API, claimed by the pool
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationS       float64    `json:"duration_s"`

	Counters     JobCounters   `json:"counters"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorDetails *ErrorDetails `json:"error_details,omitempty"`
	RetryCount   int           `json:"retry_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   uint64    `json:"version"`
}

// NewScrapeJob creates a PENDING job for a board, snapshotting its config.
func NewScrapeJob(board *JobBoard, mode JobMode, priority int) *ScrapeJob {
	now := time.Now().UTC()
	return &ScrapeJob{
		ID:             uuid.New().String(),
		BoardID:        board.ID,
		Mode:           mode,
		Status:         JobStatusPending,
		Priority:       priority,
		ConfigSnapshot: SnapshotBoard(board),
		PageCursor:     1,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
}

// EffectiveMaxPages returns the per-job override when set, otherwise the
// snapshotted board value.
func (j *ScrapeJob) EffectiveMaxPages() int {
	if j.MaxPages > 0 {
		return j.MaxPages
	}
	if j.ConfigSnapshot.MaxPages > 0 {
		return j.ConfigSnapshot.MaxPages
	}
	return 1
}

// Transition moves the job to next, enforcing the state machine.
func (j *ScrapeJob) Transition(next JobStatus) error {
	if !j.Status.CanTransitionTo(next) {
		return fmt.Errorf("illegal job transition %s -> %s", j.Status, next)
	}
	j.Status = next
	return nil
}

// MarkRunning records a successful claim by a worker.
func (j *ScrapeJob) MarkRunning(workerID string) error {
	if err := j.Transition(JobStatusRunning); err != nil {
		return err
	}
	j.WorkerID = workerID
	j.ResumeRequested = false
	if j.StartedAt == nil {
		now := time.Now().UTC()
		j.StartedAt = &now
	}
	return nil
}

// MarkCompleted finalizes a successful job.
func (j *ScrapeJob) MarkCompleted() error {
	if err := j.Transition(JobStatusCompleted); err != nil {
		return err
	}
	j.finish()
	return nil
}

// MarkFailed finalizes a failed job with a message and structured details.
func (j *ScrapeJob) MarkFailed(message string, details *ErrorDetails) error {
	if err := j.Transition(JobStatusFailed); err != nil {
		return err
	}
	j.ErrorMessage = message
	j.ErrorDetails = details
	j.finish()
	return nil
}

// MarkCancelled finalizes a cancelled job from PENDING, RUNNING or PAUSED.
func (j *ScrapeJob) MarkCancelled() error {
	if err := j.Transition(JobStatusCancelled); err != nil {
		return err
	}
	j.finish()
	return nil
}

// MarkPaused parks a running job at a page boundary.
func (j *ScrapeJob) MarkPaused() error {
	return j.Transition(JobStatusPaused)
}

func (j *ScrapeJob) finish() {
	now := time.Now().UTC()
	j.CompletedAt = &now
	if j.StartedAt != nil {
		j.DurationS = now.Sub(*j.StartedAt).Seconds()
	}
}

// Succeeded reports whether the job reached COMPLETED.
func (j *ScrapeJob) Succeeded() bool {
	return j.Status == JobStatusCompleted
}

// ToJSON serializes the job.
func (j *ScrapeJob) ToJSON() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scrape job: %w", err)
	}
	return data, nil
}

// ScrapeJobFromJSON deserializes a job.
func ScrapeJobFromJSON(data []byte) (*ScrapeJob, error) {
	var job ScrapeJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scrape job: %w", err)
	}
	return &job, nil
}
