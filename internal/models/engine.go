// -----------------------------------------------------------------------
// Engine State - singleton runtime snapshot, not an event log
// -----------------------------------------------------------------------

package models

import (
	"time"
)

// EngineStateID is the fixed key of the singleton EngineState document.
const EngineStateID = "engine"

// EngineStatus is the derived top-level engine condition.
type EngineStatus string

const (
	EngineStatusIdle        EngineStatus = "IDLE"
	EngineStatusRunning     EngineStatus = "RUNNING"
	EngineStatusPaused      EngineStatus = "PAUSED"
	EngineStatusError       EngineStatus = "ERROR"
	EngineStatusMaintenance EngineStatus = "MAINTENANCE"
)

// EngineState is the singleton snapshot of the orchestration engine.
// active_jobs_count never exceeds max_concurrent_jobs, last_heartbeat never
// decreases, and total_jobs_today resets atomically at the UTC day boundary.
type EngineState struct {
	ID     string       `json:"id" badgerhold:"key"`
	Status EngineStatus `json:"status"`

	LastHeartbeat time.Time `json:"last_heartbeat"`
	StartedAt     time.Time `json:"started_at"`
	UptimeS       float64   `json:"uptime_s"`

	ActiveJobsCount int `json:"active_jobs_count"`
	QueuedJobsCount int `json:"queued_jobs_count"`

	TotalJobsToday     int64     `json:"total_jobs_today"`
	TotalJobsProcessed int64     `json:"total_jobs_processed"`
	DayBoundary        time.Time `json:"day_boundary"` // UTC midnight of the counting day

	SuccessRate float64 `json:"success_rate"` // exponential moving average

	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  float64 `json:"memory_used_mb"`

	MaxConcurrentJobs int  `json:"max_concurrent_jobs"`
	MaintenanceMode   bool `json:"maintenance_mode"`
	IntakePaused      bool `json:"intake_paused"` // manual pause of job intake

	LastError         string     `json:"last_error,omitempty"`
	LastErrorAt       *time.Time `json:"last_error_at,omitempty"`
	ConsecutiveErrors int        `json:"consecutive_errors"`

	EngineVersion string `json:"engine_version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   uint64    `json:"version"`
}

// NewEngineState creates the initial singleton for a fresh store.
func NewEngineState(maxConcurrentJobs int, engineVersion string) *EngineState {
	now := time.Now().UTC()
	return &EngineState{
		ID:                EngineStateID,
		Status:            EngineStatusIdle,
		LastHeartbeat:     now,
		StartedAt:         now,
		DayBoundary:       now.Truncate(24 * time.Hour),
		MaxConcurrentJobs: maxConcurrentJobs,
		EngineVersion:     engineVersion,
		CreatedAt:         now,
		UpdatedAt:         now,
		Version:           1,
	}
}

// DeriveStatus computes the engine status from the snapshot fields.
// Maintenance wins over everything, then manual pause, then the error
// threshold, then activity.
func (s *EngineState) DeriveStatus() EngineStatus {
	switch {
	case s.MaintenanceMode:
		return EngineStatusMaintenance
	case s.IntakePaused:
		return EngineStatusPaused
	case s.ConsecutiveErrors >= 5:
		return EngineStatusError
	case s.ActiveJobsCount > 0:
		return EngineStatusRunning
	default:
		return EngineStatusIdle
	}
}

// RecordError notes a failure and bumps the consecutive counter.
func (s *EngineState) RecordError(message string, at time.Time) {
	t := at.UTC()
	s.LastError = message
	s.LastErrorAt = &t
	s.ConsecutiveErrors++
}

// RecordSuccess clears the consecutive error streak.
func (s *EngineState) RecordSuccess() {
	s.ConsecutiveErrors = 0
}

// RollDayBoundary resets today's counter when the UTC day has advanced.
// Returns true when a reset happened.
func (s *EngineState) RollDayBoundary(now time.Time) bool {
	boundary := now.UTC().Truncate(24 * time.Hour)
	if boundary.After(s.DayBoundary) {
		s.DayBoundary = boundary
		s.TotalJobsToday = 0
		return true
	}
	return false
}
