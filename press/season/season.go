// Package season classifies the sport calendar and decides which content
// types are valid to generate in each phase. Phase and anchor resolution
// are external collaborators; this package only interprets their answers.
package season

import (
	"context"
	"time"

	"github.com/gridironlabs/pressbox/press/schedule"
)

// Phase is an externally resolved classification of the sport calendar.
type Phase string

const (
	PhasePreseason     Phase = "PRESEASON"
	PhaseRegularSeason Phase = "REGULAR_SEASON"
	PhasePlayoffs      Phase = "PLAYOFFS"
	PhaseSuperBowl     Phase = "SUPER_BOWL"
	PhaseOffseason     Phase = "OFFSEASON"
)

// PhaseInfo is the resolver's answer for a given date.
type PhaseInfo struct {
	Phase  Phase
	Reason string
}

// PhaseResolver looks up the season phase for a date. Backed by the
// season-boundary service.
type PhaseResolver interface {
	ResolvePhase(ctx context.Context, date time.Time) (PhaseInfo, error)
}

// AnchorResolver resolves a league's named season anchors (season_start,
// draft_date, championship_week) to absolute dates.
type AnchorResolver interface {
	ResolveAnchor(ctx context.Context, leagueID, anchorName string) (time.Time, error)
}

// LeagueState exposes already-synced league facts needed for job context.
type LeagueState interface {
	CurrentWeek(ctx context.Context, leagueID string) (int, error)
}

// activePhases are the phases during which season-dependent content runs.
var activePhases = map[Phase]bool{
	PhaseRegularSeason: true,
	PhasePlayoffs:      true,
	PhaseSuperBowl:     true,
}

// seasonIndependent content is valid in any phase. Everything else,
// including unrecognized types, follows the season-dependent rule.
var seasonIndependent = map[schedule.ContentType]bool{
	schedule.ContentTradeAnalysis: true,
	schedule.ContentDraftRecap:    true,
	schedule.ContentSeasonPreview: true,
	schedule.ContentSeasonRecap:   true,
}

// IsSeasonIndependent reports whether a content type may be generated in
// any season phase.
func IsSeasonIndependent(ct schedule.ContentType) bool {
	return seasonIndependent[ct]
}

// AllowedInPhase reports whether a content type may be generated during
// the given phase. Unknown content types default to the season-dependent
// rule: allowed during active phases, blocked otherwise.
func AllowedInPhase(ct schedule.ContentType, phase Phase) bool {
	if IsSeasonIndependent(ct) {
		return true
	}
	return activePhases[phase]
}
