package schedule

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/gridironlabs/pressbox/errors"
)

// Store handles persistence of content schedules
type Store struct {
	db *sql.DB
}

// NewStore creates a new schedule store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create persists a new schedule. The recurrence is validated first and
// flattened into kind-specific columns.
func (s *Store) Create(cfg *Config) error {
	if cfg.LeagueID == "" {
		return errors.NewInvalidRequestError("schedule requires a league id")
	}
	if !IsValidContentType(string(cfg.ContentType)) {
		return errors.NewInvalidRequestError("unknown content type: %s", cfg.ContentType)
	}
	if err := cfg.Recurrence.Validate(); err != nil {
		return errors.Wrap(err, "invalid recurrence")
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}

	var dayOfWeek, hour, minute, delayMinutes, delayDays, offsetDays interface{}
	var triggerEvent, relativeTo interface{}

	switch cfg.Recurrence.Kind {
	case KindWeekly:
		w := cfg.Recurrence.Weekly
		dayOfWeek, hour, minute = int(w.DayOfWeek), w.Hour, w.Minute
	case KindEventTriggered:
		e := cfg.Recurrence.Event
		triggerEvent, delayMinutes = e.Trigger, e.DelayMinutes
	case KindSeasonBased:
		se := cfg.Recurrence.Season
		triggerEvent, delayDays, hour, minute = se.Trigger, se.DelayDays, se.Hour, se.Minute
	case KindRelativeToEvent:
		r := cfg.Recurrence.Relative
		relativeTo, offsetDays, hour, minute = r.RelativeTo, r.OffsetDays, r.Hour, r.Minute
	}

	var persona interface{}
	if cfg.PreferredPersona != "" {
		persona = cfg.PreferredPersona
	}

	var settings interface{}
	if len(cfg.CustomSettings) > 0 {
		data, err := json.Marshal(cfg.CustomSettings)
		if err != nil {
			return errors.Wrap(err, "failed to marshal custom settings")
		}
		settings = string(data)
	}

	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	query := `
		INSERT INTO content_schedules (
			id, league_id, content_type, enabled, timezone,
			recurrence_kind, day_of_week, hour, minute,
			trigger_event, delay_minutes, delay_days, relative_to, offset_days,
			preferred_persona, custom_settings,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		cfg.ID,
		cfg.LeagueID,
		string(cfg.ContentType),
		boolToInt(cfg.Enabled),
		cfg.Timezone,
		string(cfg.Recurrence.Kind),
		dayOfWeek, hour, minute,
		triggerEvent, delayMinutes, delayDays, relativeTo, offsetDays,
		persona,
		settings,
		cfg.CreatedAt.Format(time.RFC3339),
		cfg.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create schedule")
	}
	return nil
}

const scheduleColumns = `
	id, league_id, content_type, enabled, timezone,
	recurrence_kind, day_of_week, hour, minute,
	trigger_event, delay_minutes, delay_days, relative_to, offset_days,
	preferred_persona, custom_settings,
	created_at, updated_at
`

// Get retrieves a schedule by ID
func (s *Store) Get(id string) (*Config, error) {
	query := `SELECT ` + scheduleColumns + ` FROM content_schedules WHERE id = ?`

	cfg, err := scanSchedule(s.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("schedule not found: %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get schedule %s", id)
	}
	return cfg, nil
}

// ListEnabledWeekly returns all enabled weekly schedules across leagues.
// Scanned by the recurring pass every tick.
func (s *Store) ListEnabledWeekly() ([]*Config, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM content_schedules
		WHERE enabled = 1 AND recurrence_kind = ?
		ORDER BY league_id, content_type
	`
	return s.list(query, string(KindWeekly))
}

// ListEnabledAnchored returns all enabled season-based and relative
// schedules, which fire off resolved season anchor dates.
func (s *Store) ListEnabledAnchored() ([]*Config, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM content_schedules
		WHERE enabled = 1 AND recurrence_kind IN (?, ?)
		ORDER BY league_id, content_type
	`
	return s.list(query, string(KindSeasonBased), string(KindRelativeToEvent))
}

// ListEventTriggered returns the enabled event-triggered schedules for a
// league matching the given trigger name.
func (s *Store) ListEventTriggered(leagueID, trigger string) ([]*Config, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM content_schedules
		WHERE enabled = 1 AND recurrence_kind = ? AND league_id = ? AND trigger_event = ?
		ORDER BY content_type
	`
	return s.list(query, string(KindEventTriggered), leagueID, trigger)
}

// ListByLeague returns every schedule for a league, enabled or not
func (s *Store) ListByLeague(leagueID string) ([]*Config, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM content_schedules
		WHERE league_id = ?
		ORDER BY content_type
	`
	return s.list(query, leagueID)
}

// SetEnabled toggles a schedule on or off
func (s *Store) SetEnabled(id string, enabled bool) error {
	query := `
		UPDATE content_schedules
		SET enabled = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.Exec(query, boolToInt(enabled), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return errors.Wrapf(err, "failed to update schedule %s", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("schedule not found: %s", id)
	}
	return nil
}

// Delete removes a schedule permanently
func (s *Store) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM content_schedules WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete schedule %s", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("schedule not found: %s", id)
	}
	return nil
}

func (s *Store) list(query string, args ...interface{}) ([]*Config, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query schedules")
	}
	defer rows.Close()

	var configs []*Config
	for rows.Next() {
		cfg, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row rowScanner) (*Config, error) {
	var cfg Config
	var enabled int
	var kind, createdAt, updatedAt string
	var dayOfWeek, hour, minute, delayMinutes, delayDays, offsetDays sql.NullInt64
	var triggerEvent, relativeTo, persona, settings sql.NullString

	err := row.Scan(
		&cfg.ID,
		&cfg.LeagueID,
		&cfg.ContentType,
		&enabled,
		&cfg.Timezone,
		&kind,
		&dayOfWeek, &hour, &minute,
		&triggerEvent, &delayMinutes, &delayDays, &relativeTo, &offsetDays,
		&persona,
		&settings,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	cfg.Enabled = enabled != 0
	cfg.Recurrence.Kind = RecurrenceKind(kind)

	switch cfg.Recurrence.Kind {
	case KindWeekly:
		cfg.Recurrence.Weekly = &Weekly{
			DayOfWeek: time.Weekday(dayOfWeek.Int64),
			Hour:      int(hour.Int64),
			Minute:    int(minute.Int64),
		}
	case KindEventTriggered:
		cfg.Recurrence.Event = &EventTriggered{
			Trigger:      triggerEvent.String,
			DelayMinutes: int(delayMinutes.Int64),
		}
	case KindSeasonBased:
		cfg.Recurrence.Season = &SeasonBased{
			Trigger:   triggerEvent.String,
			DelayDays: int(delayDays.Int64),
			Hour:      int(hour.Int64),
			Minute:    int(minute.Int64),
		}
	case KindRelativeToEvent:
		cfg.Recurrence.Relative = &RelativeToEvent{
			RelativeTo: relativeTo.String,
			OffsetDays: int(offsetDays.Int64),
			Hour:       int(hour.Int64),
			Minute:     int(minute.Int64),
		}
	default:
		return nil, errors.Newf("schedule %s has unknown recurrence kind %q", cfg.ID, kind)
	}

	if persona.Valid {
		cfg.PreferredPersona = persona.String
	}
	if settings.Valid && settings.String != "" {
		if err := json.Unmarshal([]byte(settings.String), &cfg.CustomSettings); err != nil {
			return nil, errors.Wrapf(err, "failed to parse custom settings for schedule %s", cfg.ID)
		}
	}

	cfg.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for schedule %s", cfg.ID)
	}
	cfg.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for schedule %s", cfg.ID)
	}

	return &cfg, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
