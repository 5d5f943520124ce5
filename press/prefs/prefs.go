// Package prefs stores per-league content preferences, including the
// monthly generation budget that gates dispatching.
package prefs

import (
	"time"
)

// Preferences holds a league's content settings. A nil MonthlyBudget means
// unlimited generation for that league.
type Preferences struct {
	LeagueID           string
	ContentEnabled     bool
	AutoPublish        bool
	RequireApproval    bool
	NotifyCommissioner bool
	NotifyFailures     bool

	MonthlyBudget     *int
	CurrentMonthSpent int
	BudgetResetDate   time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BudgetExhausted reports whether the league has used its full monthly
// budget. Leagues without a budget are never exhausted.
func (p *Preferences) BudgetExhausted() bool {
	if p.MonthlyBudget == nil {
		return false
	}
	return p.CurrentMonthSpent >= *p.MonthlyBudget
}

// defaultPreferences are applied when a league is seen for the first time
func defaultPreferences(leagueID string, now time.Time) *Preferences {
	return &Preferences{
		LeagueID:           leagueID,
		ContentEnabled:     true,
		AutoPublish:        false,
		RequireApproval:    true,
		NotifyCommissioner: true,
		NotifyFailures:     true,
		CurrentMonthSpent:  0,
		BudgetResetDate:    firstOfNextMonth(now),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// firstOfNextMonth returns midnight UTC on the first day of the month
// after t.
func firstOfNextMonth(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
