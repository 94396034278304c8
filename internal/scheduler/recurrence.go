package scheduler

import (
	"fmt"
	"time"

	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/models"
	"github.com/robfig/cron/v3"
)

// minInterval keeps interval rules from flooding the queue.
const minInterval = 60

// recurrence computes occurrence times of a rule. Calendar rules step in the
// template's timezone so 09:00 stays 09:00 across DST changes.
type recurrence struct {
	rule     models.RecurrenceRule
	loc      *time.Location
	start    time.Time
	schedule cron.Schedule
}

func newRecurrence(rule models.RecurrenceRule, start time.Time, timezone string) (*recurrence, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, errs.Wrap(errs.Validation, err, "unknown timezone %q", timezone)
	}

	r := &recurrence{rule: rule, loc: loc, start: start}
	switch rule.Frequency {
	case models.FrequencyDaily, models.FrequencyWeekly:
		if r.rule.Interval <= 0 {
			r.rule.Interval = 1
		}
	case models.FrequencyInterval:
		if rule.Interval < minInterval {
			return nil, errs.New(errs.Validation, "interval must be at least %d seconds", minInterval)
		}
	case models.FrequencyCron:
		schedule, err := cron.ParseStandard(fmt.Sprintf("CRON_TZ=%s %s", timezone, rule.Cron))
		if err != nil {
			return nil, errs.Wrap(errs.Validation, err, "invalid cron expression %q", rule.Cron)
		}
		r.schedule = schedule
	default:
		return nil, errs.New(errs.Validation, "frequency %q does not recur", rule.Frequency)
	}
	if rule.Count < 0 {
		return nil, errs.New(errs.Validation, "count cannot be negative")
	}
	if rule.Until != nil && rule.Until.Before(start) {
		return nil, errs.New(errs.Validation, "until is before the first occurrence")
	}
	return r, nil
}

// occurrence returns the n-th (0-based) fire time in UTC. Cron rules are not
// indexable and continue from prev, the previous occurrence.
func (r *recurrence) occurrence(n int, prev *time.Time) time.Time {
	switch r.rule.Frequency {
	case models.FrequencyDaily:
		return r.start.In(r.loc).AddDate(0, 0, n*r.rule.Interval).UTC()
	case models.FrequencyWeekly:
		return r.start.In(r.loc).AddDate(0, 0, 7*n*r.rule.Interval).UTC()
	case models.FrequencyInterval:
		return r.start.Add(time.Duration(n*r.rule.Interval) * time.Second).UTC()
	default:
		if prev == nil {
			return r.schedule.Next(r.start.Add(-time.Second)).UTC()
		}
		return r.schedule.Next(*prev).UTC()
	}
}

// exhausted reports whether occurrence n at t lies past the rule's bounds.
func (r *recurrence) exhausted(n int, t time.Time) bool {
	if r.rule.Count > 0 && n >= r.rule.Count {
		return true
	}
	if r.rule.Until != nil && t.After(*r.rule.Until) {
		return true
	}
	return t.IsZero()
}
