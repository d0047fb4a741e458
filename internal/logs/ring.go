package logs

import (
	"strings"
	"sync"

	"github.com/ternarybob/laboro/internal/models"
)

// levelRank orders the 3-letter display levels for threshold filtering.
var levelRank = map[string]int{
	"DBG": 0,
	"INF": 1,
	"WRN": 2,
	"ERR": 3,
}

// Ring is a fixed-capacity circular buffer of log entries. Appends
// overwrite the oldest entry once full; Index keeps growing so consumers
// can detect dropped lines.
type Ring struct {
	mu       sync.RWMutex
	entries  []models.LogEntry
	capacity int
	next     int // write position
	size     int
	index    int // monotonically increasing entry counter
}

// NewRing creates a ring holding up to capacity entries.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Ring{
		entries:  make([]models.LogEntry, capacity),
		capacity: capacity,
	}
}

// Append stores one entry, stamping its Index.
func (r *Ring) Append(entry models.LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.Index = r.index
	r.index++
	r.entries[r.next] = entry
	r.next = (r.next + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// Filter narrows a tail query.
type Filter struct {
	// MinLevel is a 3-letter level ("DBG", "INF", "WRN", "ERR") or a full
	// name ("debug"...); empty means no level filtering.
	MinLevel string
	// JobID keeps only entries for one job.
	JobID string
	// Limit caps the returned slice, newest entries winning. <= 0 means
	// all retained entries.
	Limit int
}

// Tail returns matching entries oldest-first, plus the total number of
// matches before the limit was applied.
func (r *Ring) Tail(filter Filter) ([]models.LogEntry, int) {
	minRank, hasMin := levelRank[normalizeLevel(filter.MinLevel)]

	r.mu.RLock()
	matched := make([]models.LogEntry, 0, r.size)
	start := r.next - r.size
	for i := 0; i < r.size; i++ {
		pos := ((start + i) % r.capacity + r.capacity) % r.capacity
		entry := r.entries[pos]
		if hasMin {
			if rank, known := levelRank[entry.Level]; !known || rank < minRank {
				continue
			}
		}
		if filter.JobID != "" && entry.JobID != filter.JobID {
			continue
		}
		matched = append(matched, entry)
	}
	r.mu.RUnlock()

	total := len(matched)
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[len(matched)-filter.Limit:]
	}
	return matched, total
}

// Len reports the number of retained entries.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// normalizeLevel maps full level names onto the 3-letter display form.
func normalizeLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "dbg":
		return "DBG"
	case "info", "inf":
		return "INF"
	case "warn", "warning", "wrn":
		return "WRN"
	case "error", "err":
		return "ERR"
	default:
		return strings.ToUpper(level)
	}
}
