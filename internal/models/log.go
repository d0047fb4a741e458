package models

// LogEntry is one structured log record held in the in-memory ring buffer
// behind the logs endpoint. Entries originate from the arbor channel
// consumer; Index preserves arrival order when timestamps collide.
//
// Timestamp formats:
//   - Timestamp: "15:04:05" for display
//   - FullTimestamp: RFC3339Nano for sorting and export
//
// Levels use arbor's 3-letter display form: DBG, INF, WRN, ERR.
type LogEntry struct {
	Index         int    `json:"index"`
	Timestamp     string `json:"timestamp"`
	FullTimestamp string `json:"full_timestamp"`
	Level         string `json:"level"`
	Message       string `json:"message"`

	// JobID ties engine log lines to the scrape job that produced them,
	// empty for system-level lines.
	JobID string `json:"job_id,omitempty"`

	// CorrelationID ties request-scoped lines to their API call.
	CorrelationID string `json:"correlation_id,omitempty"`
}
