package models

import (
	"time"

	"github.com/google/uuid"
)

// RunType selects the extractor for a page fetch.
type RunType string

const (
	RunTypeRSS  RunType = "rss"
	RunTypeHTML RunType = "html"
	RunTypeAPI  RunType = "api"
)

// RunTypeForBoard maps a board type onto the extractor used for its pages.
// HYBRID boards fetch HTML pages rendered by the browser fetcher.
func RunTypeForBoard(t BoardType) RunType {
	switch t {
	case BoardTypeRSS:
		return RunTypeRSS
	case BoardTypeAPI:
		return RunTypeAPI
	default:
		return RunTypeHTML
	}
}

// ScrapeRun records one page fetch inside a job. Runs for a job are
// persisted in page order; when the job is terminal, the sum of run
// items_found equals the job's counter.
type ScrapeRun struct {
	ID      string  `json:"id" badgerhold:"key"`
	JobID   string  `json:"job_id" badgerhold:"index"`
	RunType RunType `json:"run_type"`

	URL        string `json:"url"`
	PageNumber int    `json:"page_number"` // 1-based

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms"`

	HTTPStatusCode    int   `json:"http_status_code,omitempty"`
	ResponseSizeBytes int64 `json:"response_size_bytes"`

	ItemsFound     int `json:"items_found"`
	ItemsProcessed int `json:"items_processed"`
	ItemsCreated   int `json:"items_created"`
	ItemsUpdated   int `json:"items_updated"`
	ItemsSkipped   int `json:"items_skipped"`

	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   uint64    `json:"version"`
}

// NewScrapeRun starts a run record for a page fetch.
func NewScrapeRun(jobID string, runType RunType, url string, pageNumber int) *ScrapeRun {
	now := time.Now().UTC()
	return &ScrapeRun{
		ID:         uuid.New().String(),
		JobID:      jobID,
		RunType:    runType,
		URL:        url,
		PageNumber: pageNumber,
		StartedAt:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}
}

// Finish stamps completion time and duration.
func (r *ScrapeRun) Finish(success bool) {
	now := time.Now().UTC()
	r.CompletedAt = &now
	r.DurationMs = now.Sub(r.StartedAt).Milliseconds()
	r.Success = success
}

// Counters returns the run's item counters in job form for folding.
func (r *ScrapeRun) Counters() JobCounters {
	return JobCounters{
		ItemsFound:   r.ItemsFound,
		ItemsCreated: r.ItemsCreated,
		ItemsUpdated: r.ItemsUpdated,
		ItemsSkipped: r.ItemsSkipped,
	}
}
