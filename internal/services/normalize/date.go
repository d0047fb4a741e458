package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are tried in order against the stripped text. Feed dates arrive
// as RFC1123-ish strings, APIs tend toward ISO-8601, HTML boards print
// whatever their template prints.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2006/01/02",
	"01/02/2006",
}

// monthDayLayouts cover "posted on Oct 3" style fragments with no year.
var monthDayLayouts = []string{
	"Jan 2",
	"January 2",
	"2 Jan",
	"2 January",
}

var datePrefixes = []string{
	"date posted:",
	"posted on",
	"posted:",
	"posted",
	"published on",
	"published:",
	"published",
}

var relativePattern = regexp.MustCompile(`^(\d+)\+?\s*(minute|min|hour|hr|day|week|month)s?\s+ago$`)

// ParseDate turns free-text posting dates into UTC time. Relative phrases are
// resolved against now. Returns nil when nothing parses.
func ParseDate(text string, now time.Time) *time.Time {
	stripped := strings.TrimSpace(text)
	if stripped == "" {
		return nil
	}
	lower := strings.ToLower(stripped)
	for _, prefix := range datePrefixes {
		if strings.HasPrefix(lower, prefix) {
			stripped = strings.TrimSpace(stripped[len(prefix):])
			lower = strings.ToLower(stripped)
			break
		}
	}
	if stripped == "" {
		return nil
	}

	switch lower {
	case "today", "just now", "now":
		t := now.UTC()
		return &t
	case "yesterday":
		t := now.UTC().Add(-24 * time.Hour)
		return &t
	}

	if m := relativePattern.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			var d time.Duration
			switch m[2] {
			case "minute", "min":
				d = time.Duration(n) * time.Minute
			case "hour", "hr":
				d = time.Duration(n) * time.Hour
			case "day":
				d = time.Duration(n) * 24 * time.Hour
			case "week":
				d = time.Duration(n) * 7 * 24 * time.Hour
			case "month":
				d = time.Duration(n) * 30 * 24 * time.Hour
			}
			t := now.UTC().Add(-d)
			return &t
		}
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, stripped); err == nil {
			utc := t.UTC()
			return &utc
		}
	}

	// Month-day fragments take the current year, rolling back one year when
	// that would land in the future.
	for _, layout := range monthDayLayouts {
		t, err := time.Parse(layout, stripped)
		if err != nil {
			continue
		}
		resolved := time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		if resolved.After(now.UTC()) {
			resolved = resolved.AddDate(-1, 0, 0)
		}
		return &resolved
	}

	return nil
}
