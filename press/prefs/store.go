package prefs

import (
	"database/sql"
	"time"

	"github.com/gridironlabs/pressbox/errors"
)

// Store handles persistence of league content preferences and the spend
// ledger. An injectable clock keeps the monthly rollover testable.
type Store struct {
	db      *sql.DB
	timeNow func() time.Time
}

// NewStore creates a new preferences store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, timeNow: time.Now}
}

// SetTimeNowForTesting overrides the clock
func (s *Store) SetTimeNowForTesting(fn func() time.Time) {
	s.timeNow = fn
}

// GetOrCreate returns the preferences for a league, creating a default row
// on first sight. The monthly budget rollover is applied lazily here: if
// the reset date has passed, spent resets to zero and the reset date
// advances to the first of the next month.
func (s *Store) GetOrCreate(leagueID string) (*Preferences, error) {
	if leagueID == "" {
		return nil, errors.NewInvalidRequestError("league id is required")
	}

	p, err := s.get(leagueID)
	if errors.Is(err, sql.ErrNoRows) {
		// Two first-sight calls can race here; the insert ignores the
		// loser and the re-read returns whichever row won.
		if err := s.insert(defaultPreferences(leagueID, s.timeNow().UTC())); err != nil {
			return nil, err
		}
		p, err = s.get(leagueID)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to get preferences for league %s", leagueID)
		}
		return p, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get preferences for league %s", leagueID)
	}

	if err := s.rolloverIfDue(p); err != nil {
		return nil, err
	}
	return p, nil
}

// rolloverIfDue resets the monthly spend counter when the reset date has
// passed. Catches up across multiple skipped months in one step.
func (s *Store) rolloverIfDue(p *Preferences) error {
	now := s.timeNow().UTC()
	if now.Before(p.BudgetResetDate) {
		return nil
	}

	p.CurrentMonthSpent = 0
	p.BudgetResetDate = firstOfNextMonth(now)
	p.UpdatedAt = now

	query := `
		UPDATE league_content_preferences
		SET current_month_spent = 0, budget_reset_date = ?, updated_at = ?
		WHERE league_id = ?
	`
	_, err := s.db.Exec(query,
		p.BudgetResetDate.Format(time.RFC3339),
		now.Format(time.RFC3339),
		p.LeagueID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to roll over budget for league %s", p.LeagueID)
	}
	return nil
}

// Update persists mutable preference fields
func (s *Store) Update(p *Preferences) error {
	now := s.timeNow().UTC()
	p.UpdatedAt = now

	var budget interface{}
	if p.MonthlyBudget != nil {
		budget = *p.MonthlyBudget
	}

	query := `
		UPDATE league_content_preferences
		SET content_enabled = ?, auto_publish = ?, require_approval = ?,
		    notify_commissioner = ?, notify_failures = ?,
		    monthly_content_budget = ?, updated_at = ?
		WHERE league_id = ?
	`
	result, err := s.db.Exec(query,
		boolToInt(p.ContentEnabled),
		boolToInt(p.AutoPublish),
		boolToInt(p.RequireApproval),
		boolToInt(p.NotifyCommissioner),
		boolToInt(p.NotifyFailures),
		budget,
		now.Format(time.RFC3339),
		p.LeagueID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update preferences for league %s", p.LeagueID)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("preferences not found for league: %s", p.LeagueID)
	}
	return nil
}

// RecordSpend bills one generation against the league's monthly budget.
// The ledger's primary key on job_id makes repeated calls for the same job
// a no-op, so a retried completion callback never double-bills.
func (s *Store) RecordSpend(leagueID, jobID string) error {
	// Ensure the preferences row exists so the increment has a target
	if _, err := s.GetOrCreate(leagueID); err != nil {
		return err
	}

	now := s.timeNow().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin spend transaction")
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT OR IGNORE INTO content_spend_ledger (job_id, league_id, amount, recorded_at)
		VALUES (?, ?, 1, ?)
	`, jobID, leagueID, now.Format(time.RFC3339))
	if err != nil {
		return errors.Wrapf(err, "failed to record spend for job %s", jobID)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if inserted == 0 {
		// Already billed
		return nil
	}

	if _, err := tx.Exec(`
		UPDATE league_content_preferences
		SET current_month_spent = current_month_spent + 1, updated_at = ?
		WHERE league_id = ?
	`, now.Format(time.RFC3339), leagueID); err != nil {
		return errors.Wrapf(err, "failed to increment spend for league %s", leagueID)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit spend transaction")
	}
	return nil
}

func (s *Store) insert(p *Preferences) error {
	var budget interface{}
	if p.MonthlyBudget != nil {
		budget = *p.MonthlyBudget
	}

	query := `
		INSERT OR IGNORE INTO league_content_preferences (
			league_id, content_enabled, auto_publish, require_approval,
			notify_commissioner, notify_failures,
			monthly_content_budget, current_month_spent, budget_reset_date,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		p.LeagueID,
		boolToInt(p.ContentEnabled),
		boolToInt(p.AutoPublish),
		boolToInt(p.RequireApproval),
		boolToInt(p.NotifyCommissioner),
		boolToInt(p.NotifyFailures),
		budget,
		p.CurrentMonthSpent,
		p.BudgetResetDate.Format(time.RFC3339),
		p.CreatedAt.Format(time.RFC3339),
		p.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create preferences for league %s", p.LeagueID)
	}
	return nil
}

func (s *Store) get(leagueID string) (*Preferences, error) {
	query := `
		SELECT league_id, content_enabled, auto_publish, require_approval,
		       notify_commissioner, notify_failures,
		       monthly_content_budget, current_month_spent, budget_reset_date,
		       created_at, updated_at
		FROM league_content_preferences
		WHERE league_id = ?
	`

	var p Preferences
	var contentEnabled, autoPublish, requireApproval, notifyCommish, notifyFailures int
	var budget sql.NullInt64
	var resetDate, createdAt, updatedAt string

	err := s.db.QueryRow(query, leagueID).Scan(
		&p.LeagueID,
		&contentEnabled,
		&autoPublish,
		&requireApproval,
		&notifyCommish,
		&notifyFailures,
		&budget,
		&p.CurrentMonthSpent,
		&resetDate,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.ContentEnabled = contentEnabled != 0
	p.AutoPublish = autoPublish != 0
	p.RequireApproval = requireApproval != 0
	p.NotifyCommissioner = notifyCommish != 0
	p.NotifyFailures = notifyFailures != 0
	if budget.Valid {
		b := int(budget.Int64)
		p.MonthlyBudget = &b
	}

	p.BudgetResetDate, err = time.Parse(time.RFC3339, resetDate)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse budget_reset_date for league %s", leagueID)
	}
	p.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for league %s", leagueID)
	}
	p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for league %s", leagueID)
	}

	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
