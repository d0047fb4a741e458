package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions plus the descriptor
// aliases (@hourly, @daily, @weekly, @monthly).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron validates a cron expression and returns its schedule.
func ParseCron(expression string) (cron.Schedule, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("cron expression is empty")
	}
	schedule, err := cronParser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}
	return schedule, nil
}

// ValidateCron reports whether an expression parses. Used by the API on
// schedule writes.
func ValidateCron(expression string) error {
	_, err := ParseCron(expression)
	return err
}

// ValidateTimezone rejects anything that is not a loadable IANA zone.
func ValidateTimezone(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("timezone is empty")
	}
	if _, err := time.LoadLocation(name); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return nil
}

// NextFiring computes the first firing of the expression strictly after
// the given instant, evaluated in the schedule's zone, returned in UTC.
func NextFiring(expression, timezone string, after time.Time) (time.Time, error) {
	schedule, err := ParseCron(expression)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	return schedule.Next(after.In(loc)).UTC(), nil
}

// NextFutureFiring advances from a previous firing instant to the first
// firing that lies strictly in the future. Missed firings during downtime
// collapse into the single next future slot; advancing from the previous
// instant rather than from now keeps the cadence drift-free under lag.
func NextFutureFiring(expression, timezone string, previous, now time.Time) (time.Time, error) {
	next, err := NextFiring(expression, timezone, previous)
	if err != nil {
		return time.Time{}, err
	}
	for !next.After(now) {
		advanced, err := NextFiring(expression, timezone, next)
		if err != nil {
			return time.Time{}, err
		}
		if !advanced.After(next) {
			return time.Time{}, fmt.Errorf("cron expression %q does not advance", expression)
		}
		next = advanced
	}
	return next, nil
}
