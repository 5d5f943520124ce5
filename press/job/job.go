// Package job holds the scheduled content job state machine and its store.
//
// A job moves pending -> generating -> completed on the happy path.
// Failures either re-queue with backoff (pending + next_retry_at) or, once
// attempts reach max_attempts, land in failed. Policy rejections cancel.
package job

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/gridironlabs/pressbox/errors"
	"github.com/gridironlabs/pressbox/press/schedule"
)

// Status values for a scheduled content job
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

const (
	// DefaultMaxAttempts bounds retries per job
	DefaultMaxAttempts = 3
	// RetryBackoff is the fixed delay before a failed attempt is retried
	RetryBackoff = 30 * time.Minute
)

// Job is one unit of content generation work.
type Job struct {
	ID          string
	LeagueID    string
	ScheduleID  string // empty for ad-hoc jobs
	ContentType schedule.ContentType

	ScheduledFor time.Time
	Status       Status
	Attempts     int
	MaxAttempts  int

	LastAttemptAt *time.Time
	NextRetryAt   *time.Time
	ErrorMessage  string

	GeneratedContentID string
	GeneratedAt        *time.Time
	ContextData        map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a pending job for the given league and content type,
// scheduled to fire at scheduledFor.
func New(leagueID, scheduleID string, ct schedule.ContentType, scheduledFor time.Time) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:           uuid.New().String(),
		LeagueID:     leagueID,
		ScheduleID:   scheduleID,
		ContentType:  ct,
		ScheduledFor: scheduledFor.UTC(),
		Status:       StatusPending,
		MaxAttempts:  DefaultMaxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsTerminal reports whether the job can no longer change state
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// AttemptsRemaining reports whether the job may still be retried
func (j *Job) AttemptsRemaining() bool {
	return j.Attempts < j.MaxAttempts
}

// contextJSON serializes ContextData for storage
func (j *Job) contextJSON() (interface{}, error) {
	if len(j.ContextData) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(j.ContextData)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal context data for job %s", j.ID)
	}
	return string(data), nil
}
