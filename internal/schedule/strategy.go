// Package schedule classifies a job's schedule string and computes when it
// is next due, per the two supported kinds: a one-time ISO 8601 instant, or
// a recurring five-field cron expression.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind distinguishes the two schedule strategies.
type Kind int

const (
	OneTime Kind = iota
	Recurring
)

func (k Kind) String() string {
	if k == OneTime {
		return "one_time"
	}
	return "recurring"
}

// catchUpWindow bounds how far behind "now" a recomputed recurring
// next_fire_time may fall before the strategy catches up to "now" instead
// (SCHEDULE_CATCHUP).
const catchUpWindow = 1 * time.Minute

// cronParser accepts the common five-field form only: minute, hour,
// day-of-month, month, day-of-week. No seconds field, no macros.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// InvalidScheduleError reports that a schedule string matched neither
// classification, with the reason from each attempted parse.
type InvalidScheduleError struct {
	Schedule   string
	ISO8601Err error
	CronErr    error
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("invalid schedule %q: not an ISO 8601 instant (%v) and not a valid cron expression (%v)",
		e.Schedule, e.ISO8601Err, e.CronErr)
}

// Strategy computes due-ness and next-fire-time bookkeeping for one entry.
// It is stateless with respect to time — callers pass "now" and the
// previous next_fire_time explicitly so the type stays trivially testable.
type Strategy struct {
	Kind Kind

	// instant is set for OneTime.
	instant time.Time

	// sched is set for Recurring.
	sched cron.Schedule
}

// Classify tries ISO 8601 first, then five-field cron. Cron tokens contain
// whitespace which ISO 8601 parsing rejects, so the two never both succeed.
func Classify(scheduleStr string, now time.Time) (Strategy, time.Time, error) {
	if t, err := time.Parse(time.RFC3339, scheduleStr); err == nil {
		t = t.UTC()
		return Strategy{Kind: OneTime, instant: t}, t, nil
	} else {
		isoErr := err
		sched, cronErr := cronParser.Parse(scheduleStr)
		if cronErr != nil {
			return Strategy{}, time.Time{}, &InvalidScheduleError{Schedule: scheduleStr, ISO8601Err: isoErr, CronErr: cronErr}
		}
		return Strategy{Kind: Recurring, sched: sched}, sched.Next(now), nil
	}
}

// IsPastDue reports whether a freshly-classified one-time instant is
// strictly in the past at load time, which the caller reports as
// SKIPPED_PAST_DUE rather than scheduling a firing that already missed its
// moment.
func (s Strategy) IsPastDue(next, now time.Time) bool {
	return s.Kind == OneTime && next.Before(now)
}

// Advance computes the next next_fire_time after a firing (or a missed
// tick). terminal reports whether the entry should be removed
// after this firing (true for OneTime). catchUp reports whether the
// recurring recomputation fell behind far enough to require a
// SCHEDULE_CATCHUP jump to "now".
func (s Strategy) Advance(prevNext, now time.Time) (next time.Time, terminal bool, catchUp bool) {
	if s.Kind == OneTime {
		return prevNext, true, false
	}

	next = s.sched.Next(prevNext)
	if next.Before(now.Add(-catchUpWindow)) {
		return s.sched.Next(now), false, true
	}
	return next, false, false
}
