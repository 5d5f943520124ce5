// Package schedule defines per-league content schedules and the recurrence
// calculation that decides when they fire.
package schedule

import (
	"time"

	"github.com/gridironlabs/pressbox/errors"
)

// ContentType identifies a kind of league content the engine can schedule.
type ContentType string

const (
	ContentWeeklyRecap     ContentType = "weekly_recap"
	ContentPowerRankings   ContentType = "power_rankings"
	ContentMatchupPreview  ContentType = "matchup_preview"
	ContentWaiverWireReport ContentType = "waiver_wire_report"
	ContentTradeAnalysis   ContentType = "trade_analysis"
	ContentRivalrySpotlight ContentType = "rivalry_spotlight"
	ContentDraftRecap      ContentType = "draft_recap"
	ContentSeasonPreview   ContentType = "season_preview"
	ContentSeasonRecap     ContentType = "season_recap"
)

// IsValidContentType returns true if the string is a known ContentType
func IsValidContentType(s string) bool {
	switch ContentType(s) {
	case ContentWeeklyRecap, ContentPowerRankings, ContentMatchupPreview,
		ContentWaiverWireReport, ContentTradeAnalysis, ContentRivalrySpotlight,
		ContentDraftRecap, ContentSeasonPreview, ContentSeasonRecap:
		return true
	default:
		return false
	}
}

// RecurrenceKind discriminates the recurrence tagged union.
type RecurrenceKind string

const (
	KindWeekly          RecurrenceKind = "weekly"
	KindEventTriggered  RecurrenceKind = "event_triggered"
	KindSeasonBased     RecurrenceKind = "season_based"
	KindRelativeToEvent RecurrenceKind = "relative"
)

// Weekly fires every week on a fixed weekday at hour:minute in the
// schedule's timezone.
type Weekly struct {
	DayOfWeek time.Weekday
	Hour      int
	Minute    int
}

// EventTriggered fires delayMinutes after a named league event occurs
// (e.g. "trade_completed").
type EventTriggered struct {
	Trigger      string
	DelayMinutes int
}

// SeasonBased fires relative to a named season boundary (e.g.
// "season_start", "playoffs_start"). DelayDays may be negative, meaning
// "before" the anchor.
type SeasonBased struct {
	Trigger   string
	DelayDays int
	Hour      int
	Minute    int
}

// RelativeToEvent fires offsetDays from a named league milestone (e.g.
// "draft_date", "championship_week").
type RelativeToEvent struct {
	RelativeTo string
	OffsetDays int
	Hour       int
	Minute     int
}

// Recurrence is a tagged union: exactly one payload, matching Kind, must
// be set. Validate enforces this before a schedule is persisted.
type Recurrence struct {
	Kind     RecurrenceKind
	Weekly   *Weekly
	Event    *EventTriggered
	Season   *SeasonBased
	Relative *RelativeToEvent
}

// Validate checks that exactly one payload is set and matches Kind.
func (r Recurrence) Validate() error {
	set := 0
	if r.Weekly != nil {
		set++
	}
	if r.Event != nil {
		set++
	}
	if r.Season != nil {
		set++
	}
	if r.Relative != nil {
		set++
	}
	if set != 1 {
		return errors.Newf("recurrence must have exactly one payload, got %d", set)
	}

	switch r.Kind {
	case KindWeekly:
		if r.Weekly == nil {
			return errors.New("recurrence kind weekly requires a Weekly payload")
		}
		w := r.Weekly
		if w.DayOfWeek < time.Sunday || w.DayOfWeek > time.Saturday {
			return errors.Newf("invalid day of week: %d", w.DayOfWeek)
		}
		if w.Hour < 0 || w.Hour > 23 || w.Minute < 0 || w.Minute > 59 {
			return errors.Newf("invalid time of day: %02d:%02d", w.Hour, w.Minute)
		}
	case KindEventTriggered:
		if r.Event == nil {
			return errors.New("recurrence kind event_triggered requires an EventTriggered payload")
		}
		if r.Event.Trigger == "" {
			return errors.New("event_triggered recurrence requires a trigger name")
		}
		if r.Event.DelayMinutes < 0 {
			return errors.Newf("delay minutes cannot be negative: %d", r.Event.DelayMinutes)
		}
	case KindSeasonBased:
		if r.Season == nil {
			return errors.New("recurrence kind season_based requires a SeasonBased payload")
		}
		if r.Season.Trigger == "" {
			return errors.New("season_based recurrence requires an anchor name")
		}
	case KindRelativeToEvent:
		if r.Relative == nil {
			return errors.New("recurrence kind relative requires a RelativeToEvent payload")
		}
		if r.Relative.RelativeTo == "" {
			return errors.New("relative recurrence requires an anchor name")
		}
	default:
		return errors.Newf("unknown recurrence kind: %q", r.Kind)
	}
	return nil
}

// Config is a standing content schedule for one (league, content type) pair.
// Disabled configs are never fired by the dispatcher.
type Config struct {
	ID               string
	LeagueID         string
	ContentType      ContentType
	Enabled          bool
	Timezone         string // IANA zone name, e.g. "America/New_York"
	Recurrence       Recurrence
	PreferredPersona string
	CustomSettings   map[string]any
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Location resolves the schedule's IANA timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid timezone %q for schedule %s", c.Timezone, c.ID)
	}
	return loc, nil
}
