package schedule

import (
	"time"

	"github.com/gridironlabs/pressbox/errors"
)

// NextFireTime computes the next fire instant for a weekly or
// event-triggered schedule, relative to now. The result is always strictly
// after now for weekly schedules; event-triggered schedules return
// now + delay (which equals now for zero-delay triggers).
//
// Season-based and relative schedules need an external anchor date and are
// computed with AnchorFireTime instead.
func NextFireTime(cfg *Config, now time.Time) (time.Time, error) {
	switch cfg.Recurrence.Kind {
	case KindWeekly:
		loc, err := cfg.Location()
		if err != nil {
			return time.Time{}, err
		}
		return nextWeekly(*cfg.Recurrence.Weekly, now, loc), nil

	case KindEventTriggered:
		return now.Add(time.Duration(cfg.Recurrence.Event.DelayMinutes) * time.Minute), nil

	case KindSeasonBased, KindRelativeToEvent:
		return time.Time{}, errors.Newf("schedule %s kind %s requires an anchor date", cfg.ID, cfg.Recurrence.Kind)

	default:
		return time.Time{}, errors.Newf("unknown recurrence kind: %q", cfg.Recurrence.Kind)
	}
}

// nextWeekly finds the next occurrence of dayOfWeek at hour:minute in loc.
// All arithmetic is done on the wall clock in loc, so the fire hour stays
// fixed across DST transitions.
func nextWeekly(w Weekly, now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)

	daysAhead := (int(w.DayOfWeek) - int(local.Weekday()) + 7) % 7
	candidate := time.Date(local.Year(), local.Month(), local.Day()+daysAhead,
		w.Hour, w.Minute, 0, 0, loc)

	// Same day but the time already passed: push to next week
	if !candidate.After(local) {
		candidate = time.Date(local.Year(), local.Month(), local.Day()+daysAhead+7,
			w.Hour, w.Minute, 0, 0, loc)
	}
	return candidate
}

// AnchorFireTime computes the fire instant for a season-based or relative
// schedule, given the resolved anchor date. The offset is applied in whole
// days on the wall clock in the schedule's timezone, then the configured
// hour:minute is set.
func AnchorFireTime(cfg *Config, anchor time.Time) (time.Time, error) {
	loc, err := cfg.Location()
	if err != nil {
		return time.Time{}, err
	}
	local := anchor.In(loc)

	switch cfg.Recurrence.Kind {
	case KindSeasonBased:
		s := cfg.Recurrence.Season
		return time.Date(local.Year(), local.Month(), local.Day()+s.DelayDays,
			s.Hour, s.Minute, 0, 0, loc), nil

	case KindRelativeToEvent:
		r := cfg.Recurrence.Relative
		return time.Date(local.Year(), local.Month(), local.Day()+r.OffsetDays,
			r.Hour, r.Minute, 0, 0, loc), nil

	default:
		return time.Time{}, errors.Newf("schedule %s kind %s does not use an anchor", cfg.ID, cfg.Recurrence.Kind)
	}
}
