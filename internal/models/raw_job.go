package models

import (
	"time"

	"github.com/google/uuid"
)

// RawJob is one unnormalized job posting as extracted from a page. Raw
// fields keep whatever the source produced; parsing happens downstream in
// the normalizer. `(board_id, checksum)` is unique across non-duplicate
// raws, enforced transactionally at persist time.
type RawJob struct {
	ID      string `json:"id" badgerhold:"key"`
	RunID   string `json:"run_id" badgerhold:"index"`
	JobID   string `json:"job_id" badgerhold:"index"`
	BoardID string `json:"board_id" badgerhold:"index"`

	// Raw extracted fields
	Title          string `json:"title"`
	Company        string `json:"company"`
	Location       string `json:"location,omitempty"`
	Description    string `json:"description,omitempty"`
	URL            string `json:"url,omitempty"`
	SalaryText     string `json:"salary_text,omitempty"`
	JobTypeText    string `json:"job_type_text,omitempty"`
	PostedDateText string `json:"posted_date_text,omitempty"`

	// RawData preserves the full structured blob the extractor produced
	// (RSS item, API object, selector map) for reprocessing.
	RawData      map[string]interface{} `json:"raw_data,omitempty"`
	HTMLSnapshot string                 `json:"html_snapshot,omitempty"`

	Checksum    string `json:"checksum" badgerhold:"index"` // SHA-256 over the normalized text tuple
	IsDuplicate bool   `json:"is_duplicate"`
	IsProcessed bool   `json:"is_processed" badgerhold:"index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   uint64    `json:"version"`
}

// NewRawJob creates an unprocessed raw record tied to its run.
func NewRawJob(runID, jobID, boardID string) *RawJob {
	now := time.Now().UTC()
	return &RawJob{
		ID:        uuid.New().String(),
		RunID:     runID,
		JobID:     jobID,
		BoardID:   boardID,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}
