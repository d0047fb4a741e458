package models

import (
	"time"

	"github.com/google/uuid"
)

// JobType is the canonical employment type.
type JobType string

const (
	JobTypeFullTime   JobType = "full_time"
	JobTypePartTime   JobType = "part_time"
	JobTypeContract   JobType = "contract"
	JobTypeTemporary  JobType = "temporary"
	JobTypeInternship JobType = "internship"
)

// NormalizationMethod records which backend produced a normalized record.
type NormalizationMethod string

const (
	NormalizationRuleBased NormalizationMethod = "rule_based"
	NormalizationML        NormalizationMethod = "ml"
	NormalizationHybrid    NormalizationMethod = "hybrid"
)

// SalaryPeriod qualifies parsed salary figures.
type SalaryPeriod string

const (
	SalaryPeriodHourly  SalaryPeriod = "hourly"
	SalaryPeriodDaily   SalaryPeriod = "daily"
	SalaryPeriodWeekly  SalaryPeriod = "weekly"
	SalaryPeriodMonthly SalaryPeriod = "monthly"
	SalaryPeriodYearly  SalaryPeriod = "yearly"
)

// NormalizedJob is the cleaned record produced from exactly one RawJob.
type NormalizedJob struct {
	ID       string `json:"id" badgerhold:"key"`
	RawJobID string `json:"raw_job_id" badgerhold:"index"` // 1:1 back-reference
	BoardID  string `json:"board_id" badgerhold:"index"`

	// Canonical fields
	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location,omitempty"` // original string when split confidence is low
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`

	// Parsed salary
	SalaryMin      *float64     `json:"salary_min,omitempty"`
	SalaryMax      *float64     `json:"salary_max,omitempty"`
	SalaryCurrency string       `json:"salary_currency,omitempty"` // ISO-4217 where detectable
	SalaryPeriod   SalaryPeriod `json:"salary_period,omitempty"`

	// Parsed classification
	JobType         JobType `json:"job_type,omitempty"`
	ExperienceLevel string  `json:"experience_level,omitempty"`
	RemoteAllowed   bool    `json:"remote_allowed"`

	// Location split
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`

	// PostedDate must not carry a badgerhold index: index values are
	// gob-encoded and a nil *time.Time cannot be. Listing sorts on it
	// in memory instead.
	PostedDate *time.Time `json:"posted_date,omitempty"`
	Skills     []string   `json:"skills,omitempty"`

	NormalizationConfidence float64             `json:"normalization_confidence"` // 0..1
	NormalizationMethod     NormalizationMethod `json:"normalization_method"`
	QualityScore            float64             `json:"quality_score"` // weighted field completeness
	IsPublished             bool                `json:"is_published" badgerhold:"index"`
	JobPostID               *string             `json:"job_post_id,omitempty"` // external reference

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   uint64    `json:"version"`
}

// NewNormalizedJob creates a normalized record bound to its raw source.
func NewNormalizedJob(raw *RawJob) *NormalizedJob {
	now := time.Now().UTC()
	return &NormalizedJob{
		ID:        uuid.New().String(),
		RawJobID:  raw.ID,
		BoardID:   raw.BoardID,
		URL:       raw.URL,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}

// requiredFields and optionalFields drive the quality score weights.
var (
	qualityRequiredWeight = 0.6
	qualityOptionalWeight = 0.4
)

// ComputeQualityScore recalculates the weighted completeness score:
// 0.6 x fraction of required fields present (title, company, description)
// + 0.4 x fraction of optional fields present (location, salary, job_type,
// experience_level, posted_date).
func (n *NormalizedJob) ComputeQualityScore() float64 {
	required := 0.0
	if n.Title != "" {
		required++
	}
	if n.Company != "" {
		required++
	}
	if n.Description != "" {
		required++
	}
	required /= 3.0

	optional := 0.0
	if n.Location != "" || n.City != "" || n.Country != "" {
		optional++
	}
	if n.SalaryMin != nil || n.SalaryMax != nil {
		optional++
	}
	if n.JobType != "" {
		optional++
	}
	if n.ExperienceLevel != "" {
		optional++
	}
	if n.PostedDate != nil {
		optional++
	}
	optional /= 5.0

	n.QualityScore = qualityRequiredWeight*required + qualityOptionalWeight*optional
	return n.QualityScore
}
