package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ScheduleConfig is a recurring firing rule for one board. A board may
// carry multiple schedules. Only the scheduler and the API mutate these.
type ScheduleConfig struct {
	ID      string `json:"id" badgerhold:"key"`
	BoardID string `json:"board_id" badgerhold:"index"`

	CronExpression string `json:"cron_expression"` // 5-field cron or @hourly|@daily|@weekly|@monthly
	Timezone       string `json:"timezone"`        // IANA zone for firing evaluation; storage stays UTC
	IsEnabled      bool   `json:"is_enabled" badgerhold:"index"`

	Priority          int `json:"priority"`            // inherited by created jobs, higher first
	MaxConcurrentJobs int `json:"max_concurrent_jobs"` // cap for jobs spawned by this schedule
	RetryAttempts     int `json:"retry_attempts"`      // retry policy handed to created jobs

	// NextRunAt is the strictly-future instant of the next cron firing in the
	// schedule's timezone while the schedule is enabled. Missed firings are
	// not replayed; the scheduler advances to the next future instant.
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   uint64    `json:"version"`
}

// NewScheduleConfig creates an enabled schedule with defaults.
func NewScheduleConfig(boardID, cronExpression, timezone string) *ScheduleConfig {
	now := time.Now().UTC()
	if timezone == "" {
		timezone = "UTC"
	}
	return &ScheduleConfig{
		ID:                uuid.New().String(),
		BoardID:           boardID,
		CronExpression:    cronExpression,
		Timezone:          timezone,
		IsEnabled:         true,
		MaxConcurrentJobs: 1,
		CreatedAt:         now,
		UpdatedAt:         now,
		Version:           1,
	}
}

// Validate checks structural fields. Cron expression and timezone syntax
// are validated by the scheduler service, which owns the parser.
func (s *ScheduleConfig) Validate() error {
	if s.BoardID == "" {
		return fmt.Errorf("schedule board_id is required")
	}
	if s.CronExpression == "" {
		return fmt.Errorf("cron_expression is required")
	}
	if s.Timezone == "" {
		return fmt.Errorf("timezone is required")
	}
	if s.MaxConcurrentJobs < 1 {
		return fmt.Errorf("max_concurrent_jobs must be >= 1, got %d", s.MaxConcurrentJobs)
	}
	if s.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts must be >= 0, got %d", s.RetryAttempts)
	}
	return nil
}

// Due reports whether the schedule should fire at the given instant.
func (s *ScheduleConfig) Due(now time.Time) bool {
	return s.IsEnabled && s.NextRunAt != nil && !s.NextRunAt.After(now)
}
