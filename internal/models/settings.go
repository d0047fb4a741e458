package models

import (
	"fmt"
	"time"
)

// EngineSettingsID is the fixed key of the singleton settings document.
const EngineSettingsID = "settings"

// EngineSettings are the operator-tunable system-wide limits served by the
// settings endpoints. Values here override the static configuration at
// runtime; reset restores the configured defaults.
type EngineSettings struct {
	ID string `json:"id" badgerhold:"key"`

	MaxConcurrentJobs     int     `json:"max_concurrent_jobs" validate:"gte=1,lte=100"`
	DefaultRateLimitS     float64 `json:"default_rate_limit_s" validate:"gte=0"`
	DefaultTimeoutS       int     `json:"default_timeout_s" validate:"gte=1,lte=600"`
	DefaultRetryAttempts  int     `json:"default_retry_attempts" validate:"gte=0,lte=10"`
	MaxConcurrentRequests int     `json:"max_concurrent_requests" validate:"gte=1,lte=1000"`

	MaintenanceMode bool `json:"maintenance_mode"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   uint64    `json:"version"`
}

// DefaultEngineSettings builds the settings document from configured values.
func DefaultEngineSettings(maxConcurrentJobs int, rateLimitS float64, timeoutS, retryAttempts, maxConcurrentRequests int) *EngineSettings {
	now := time.Now().UTC()
	return &EngineSettings{
		ID:                    EngineSettingsID,
		MaxConcurrentJobs:     maxConcurrentJobs,
		DefaultRateLimitS:     rateLimitS,
		DefaultTimeoutS:       timeoutS,
		DefaultRetryAttempts:  retryAttempts,
		MaxConcurrentRequests: maxConcurrentRequests,
		CreatedAt:             now,
		UpdatedAt:             now,
		Version:               1,
	}
}

// Validate checks the settings bounds without a validator instance, for
// callers outside the API layer.
func (s *EngineSettings) Validate() error {
	if s.MaxConcurrentJobs < 1 {
		return fmt.Errorf("max_concurrent_jobs must be >= 1, got %d", s.MaxConcurrentJobs)
	}
	if s.DefaultRateLimitS < 0 {
		return fmt.Errorf("default_rate_limit_s must be >= 0, got %f", s.DefaultRateLimitS)
	}
	if s.DefaultTimeoutS < 1 {
		return fmt.Errorf("default_timeout_s must be >= 1, got %d", s.DefaultTimeoutS)
	}
	if s.DefaultRetryAttempts < 0 {
		return fmt.Errorf("default_retry_attempts must be >= 0, got %d", s.DefaultRetryAttempts)
	}
	if s.MaxConcurrentRequests < 1 {
		return fmt.Errorf("max_concurrent_requests must be >= 1, got %d", s.MaxConcurrentRequests)
	}
	return nil
}
