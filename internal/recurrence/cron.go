// Package recurrence computes schedule occurrences from cron expressions.
package recurrence

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

var (
	ErrInvalidCron      = errors.New("invalid cron expression")
	ErrInvalidTimezone  = errors.New("invalid timezone")
	ErrNoNextOccurrence = errors.New("schedule has no next occurrence")
)

var (
	standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	secondsParser  = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
)

// Parse accepts a 5-field cron expression, a 6-field one with a leading seconds field,
// or an @ descriptor such as @hourly.
func Parse(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.Wrap(ErrInvalidCron, "empty expression")
	}

	parser := standardParser
	if len(strings.Fields(expr)) == 6 {
		parser = secondsParser
	}

	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "parse %q", expr), ErrInvalidCron)
	}
	return schedule, nil
}

// Next returns the first occurrence of expr strictly after 'after', evaluated in the
// IANA timezone tz. An empty tz means UTC.
func Next(expr, tz string, after time.Time) (time.Time, error) {
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, errors.Mark(errors.Wrapf(err, "load location %q", tz), ErrInvalidTimezone)
		}
		loc = l
	}

	schedule, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}

	next := schedule.Next(after.In(loc))
	if next.IsZero() {
		return time.Time{}, errors.Wrapf(ErrNoNextOccurrence, "%q after %s", expr, after.Format(time.RFC3339))
	}
	return next.UTC(), nil
}
