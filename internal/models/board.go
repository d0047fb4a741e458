// -----------------------------------------------------------------------
// Job Board - persistent configuration for one scrape target
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BoardType identifies the scraping strategy for a board.
type BoardType string

const (
	BoardTypeRSS    BoardType = "RSS"
	BoardTypeHTML   BoardType = "HTML"
	BoardTypeAPI    BoardType = "API"
	BoardTypeHybrid BoardType = "HYBRID"
)

// IsValid returns true for a recognized board type.
func (t BoardType) IsValid() bool {
	switch t {
	case BoardTypeRSS, BoardTypeHTML, BoardTypeAPI, BoardTypeHybrid:
		return true
	}
	return false
}

// JobBoard holds the scrape configuration and aggregate history for one
// job board. Boards are created by operators via the API, mutated by the
// API (config) and by terminal job transitions (counters), and soft
// deactivated rather than deleted once scrape history exists.
type JobBoard struct {
	ID   string    `json:"id" badgerhold:"key"`
	Name string    `json:"name" badgerhold:"index"` // unique; enforced at write time
	Type BoardType `json:"type"`

	// Fetch configuration
	BaseURL        string            `json:"base_url"`                  // supports {page}, {keywords}, {location} placeholders
	RSSURL         string            `json:"rss_url,omitempty"`         // required for RSS boards
	Selectors      map[string]string `json:"selectors,omitempty"`       // field -> CSS selector (HTML boards)
	Headers        map[string]string `json:"headers,omitempty"`         // extra request headers
	SearchKeywords string            `json:"search_keywords,omitempty"` // substituted into {keywords}
	SearchLocation string            `json:"search_location,omitempty"` // substituted into {location}
	RenderJS       bool              `json:"render_js"`                 // use the browser fetcher for HTML boards

	// Limits and policy
	RateLimitDelayS   float64 `json:"rate_limit_delay_s"` // base per-domain delay, seconds
	MaxPages          int     `json:"max_pages"`
	RequestTimeoutS   int     `json:"request_timeout_s"`
	RetryAttempts     int     `json:"retry_attempts"`
	QualityThreshold  float64 `json:"quality_threshold"`   // normalized records below this are unpublished
	MaxConcurrentJobs int     `json:"max_concurrent_jobs"` // parallel jobs allowed for this board

	// Activation and auto-flagging
	IsActive      bool       `json:"is_active" badgerhold:"index"`
	IsFlagged     bool       `json:"is_flagged"`
	FlaggedReason string     `json:"flagged_reason,omitempty"`
	FlaggedAt     *time.Time `json:"flagged_at,omitempty"`

	// Aggregate counters, updated on terminal job transitions
	TotalScrapes      int64      `json:"total_scrapes"`
	SuccessfulScrapes int64      `json:"successful_scrapes"`
	FailedScrapes     int64      `json:"failed_scrapes"`
	LastScrapedAt     *time.Time `json:"last_scraped_at,omitempty"`
	SuccessRate       float64    `json:"success_rate"` // rolling, over recent jobs

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   uint64    `json:"version"` // compare-and-set guard
}

// NewJobBoard creates a board with documented defaults applied.
func NewJobBoard(name string, boardType BoardType, baseURL string) *JobBoard {
	now := time.Now().UTC()
	return &JobBoard{
		ID:                uuid.New().String(),
		Name:              name,
		Type:              boardType,
		BaseURL:           baseURL,
		RateLimitDelayS:   2.0,
		MaxPages:          10,
		RequestTimeoutS:   30,
		RetryAttempts:     3,
		QualityThreshold:  0.5,
		MaxConcurrentJobs: 1,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
		Version:           1,
	}
}

// Validate checks the board configuration bounds.
func (b *JobBoard) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("board name is required")
	}
	if !b.Type.IsValid() {
		return fmt.Errorf("invalid board type '%s': must be one of RSS, HTML, API, HYBRID", b.Type)
	}
	if b.BaseURL == "" && b.RSSURL == "" {
		return fmt.Errorf("board requires a base_url or rss_url")
	}
	if b.Type == BoardTypeRSS && b.RSSURL == "" {
		return fmt.Errorf("RSS boards require rss_url")
	}
	if b.RateLimitDelayS < 0 {
		return fmt.Errorf("rate_limit_delay_s must be >= 0, got %f", b.RateLimitDelayS)
	}
	if b.MaxPages < 1 {
		return fmt.Errorf("max_pages must be >= 1, got %d", b.MaxPages)
	}
	if b.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts must be >= 0, got %d", b.RetryAttempts)
	}
	if b.QualityThreshold < 0.0 || b.QualityThreshold > 1.0 {
		return fmt.Errorf("quality_threshold must be between 0.0 and 1.0, got %f", b.QualityThreshold)
	}
	if b.MaxConcurrentJobs < 1 {
		return fmt.Errorf("max_concurrent_jobs must be >= 1, got %d", b.MaxConcurrentJobs)
	}
	return nil
}

// Flag marks the board as excluded from scheduling with a reason.
func (b *JobBoard) Flag(reason string) {
	now := time.Now().UTC()
	b.IsFlagged = true
	b.FlaggedReason = reason
	b.FlaggedAt = &now
}

// Unflag clears auto-flagging state.
func (b *JobBoard) Unflag() {
	b.IsFlagged = false
	b.FlaggedReason = ""
	b.FlaggedAt = nil
}

// Schedulable reports whether the scheduler may create jobs for this board.
func (b *JobBoard) Schedulable() bool {
	return b.IsActive && !b.IsFlagged
}

// RecordScrape folds a terminal job outcome into the aggregate counters.
// The rolling success rate is maintained separately from recent job history.
func (b *JobBoard) RecordScrape(succeeded bool, at time.Time) {
	b.TotalScrapes++
	if succeeded {
		b.SuccessfulScrapes++
	} else {
		b.FailedScrapes++
	}
	t := at.UTC()
	b.LastScrapedAt = &t
}

// ToJSON serializes the board for API responses and snapshots.
func (b *JobBoard) ToJSON() ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job board: %w", err)
	}
	return data, nil
}

// JobBoardFromJSON deserializes a board.
func JobBoardFromJSON(data []byte) (*JobBoard, error) {
	var board JobBoard
	if err := json.Unmarshal(data, &board); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job board: %w", err)
	}
	return &board, nil
}
