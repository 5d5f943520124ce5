package job

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/gridironlabs/pressbox/errors"
)

// DedupWindow is the half-width of the duplicate suppression window: a new
// job is skipped when an active job for the same schedule exists within
// this distance of the proposed fire time.
const DedupWindow = 2 * time.Hour

// Store handles persistence of scheduled content jobs
type Store struct {
	db      *sql.DB
	timeNow func() time.Time
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, timeNow: time.Now}
}

// SetTimeNowForTesting overrides the clock
func (s *Store) SetTimeNowForTesting(fn func() time.Time) {
	s.timeNow = fn
}

// Create persists a new job
func (s *Store) Create(j *Job) error {
	if j.LeagueID == "" {
		return errors.NewInvalidRequestError("job requires a league id")
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = DefaultMaxAttempts
	}

	ctx, err := j.contextJSON()
	if err != nil {
		return err
	}

	var scheduleID interface{}
	if j.ScheduleID != "" {
		scheduleID = j.ScheduleID
	}

	query := `
		INSERT INTO scheduled_content_jobs (
			id, league_id, schedule_id, content_type, scheduled_for,
			status, attempts, max_attempts, context_data,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query,
		j.ID,
		j.LeagueID,
		scheduleID,
		string(j.ContentType),
		j.ScheduledFor.UTC().Format(time.RFC3339),
		string(j.Status),
		j.Attempts,
		j.MaxAttempts,
		ctx,
		j.CreatedAt.Format(time.RFC3339),
		j.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create job %s", j.ID)
	}
	return nil
}

const jobColumns = `
	id, league_id, schedule_id, content_type, scheduled_for,
	status, attempts, max_attempts, last_attempt_at, next_retry_at,
	error_message, generated_content_id, generated_at, context_data,
	created_at, updated_at
`

// Get retrieves a job by ID
func (s *Store) Get(id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_content_jobs WHERE id = ?`

	j, err := scanJob(s.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("job not found: %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}
	return j, nil
}

// ListDue returns pending jobs whose fire time has arrived, oldest first.
// Jobs parked on a retry backoff are excluded until next_retry_at passes.
func (s *Store) ListDue(now time.Time, limit int) ([]*Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM scheduled_content_jobs
		WHERE status = ?
		  AND scheduled_for <= ?
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY scheduled_for ASC
		LIMIT ?
	`
	nowStr := now.UTC().Format(time.RFC3339)
	rows, err := s.db.Query(query, string(StatusPending), nowStr, nowStr, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query due jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// HasActiveJobNear reports whether an active (pending or generating) job
// already exists for the schedule within the dedup window of the proposed
// fire time. Terminal jobs never suppress new work: a completed, failed,
// or cancelled slot is eligible for re-scheduling.
func (s *Store) HasActiveJobNear(scheduleID string, fireTime time.Time) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM scheduled_content_jobs
			WHERE schedule_id = ?
			  AND status IN (?, ?)
			  AND scheduled_for >= ?
			  AND scheduled_for <= ?
		)
	`
	var exists bool
	err := s.db.QueryRow(query,
		scheduleID,
		string(StatusPending), string(StatusGenerating),
		fireTime.UTC().Add(-DedupWindow).Format(time.RFC3339),
		fireTime.UTC().Add(DedupWindow).Format(time.RFC3339),
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "failed to check dedup window for schedule %s", scheduleID)
	}
	return exists, nil
}

// HasJobNear reports whether any job, terminal statuses included, exists
// for the schedule within the dedup window of the fire time. Anchored
// schedules recompute the same fixed fire time on every pass, so a slot
// that already ran to completion must keep suppressing re-creation.
func (s *Store) HasJobNear(scheduleID string, fireTime time.Time) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM scheduled_content_jobs
			WHERE schedule_id = ?
			  AND scheduled_for >= ?
			  AND scheduled_for <= ?
		)
	`
	var exists bool
	err := s.db.QueryRow(query,
		scheduleID,
		fireTime.UTC().Add(-DedupWindow).Format(time.RFC3339),
		fireTime.UTC().Add(DedupWindow).Format(time.RFC3339),
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "failed to check slot window for schedule %s", scheduleID)
	}
	return exists, nil
}

// MarkGenerating claims a pending job for execution. The claim is
// optimistic: the UPDATE only matches status='pending', so two workers
// racing for the same job leave exactly one winner. Returns false when
// the job was already claimed or is no longer pending.
func (s *Store) MarkGenerating(id string) (bool, error) {
	now := s.timeNow().UTC().Format(time.RFC3339)
	query := `
		UPDATE scheduled_content_jobs
		SET status = ?, attempts = attempts + 1,
		    last_attempt_at = ?, next_retry_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := s.db.Exec(query, string(StatusGenerating), now, now, id, string(StatusPending))
	if err != nil {
		return false, errors.Wrapf(err, "failed to claim job %s", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return rows > 0, nil
}

// Complete marks a generating job as completed with the produced content ID
func (s *Store) Complete(id, generatedContentID string) error {
	now := s.timeNow().UTC().Format(time.RFC3339)
	query := `
		UPDATE scheduled_content_jobs
		SET status = ?, generated_content_id = ?, generated_at = ?,
		    error_message = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := s.db.Exec(query, string(StatusCompleted), generatedContentID, now, now, id, string(StatusGenerating))
	if err != nil {
		return errors.Wrapf(err, "failed to complete job %s", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Newf("job %s is not generating, cannot complete", id)
	}
	return nil
}

// Cancel marks a generating job as cancelled with the rejecting policy's
// reason. A cancel is a policy decision, not a fault, so the attempt that
// was consumed by the claim is handed back.
func (s *Store) Cancel(id, reason string) error {
	now := s.timeNow().UTC().Format(time.RFC3339)
	query := `
		UPDATE scheduled_content_jobs
		SET status = ?, error_message = ?, attempts = attempts - 1, updated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := s.db.Exec(query, string(StatusCancelled), reason, now, id, string(StatusGenerating))
	if err != nil {
		return errors.Wrapf(err, "failed to cancel job %s", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Newf("job %s is not generating, cannot cancel", id)
	}
	return nil
}

// RetryOrFail records a generation failure. While attempts remain the job
// returns to pending with a backoff; at the attempt limit it fails
// permanently. Returns the resulting status.
func (s *Store) RetryOrFail(id, errMsg string) (Status, error) {
	j, err := s.Get(id)
	if err != nil {
		return "", err
	}
	if j.Status != StatusGenerating {
		return "", errors.Newf("job %s is not generating, cannot record failure", id)
	}

	now := s.timeNow().UTC()

	if j.AttemptsRemaining() {
		retryAt := now.Add(RetryBackoff)
		query := `
			UPDATE scheduled_content_jobs
			SET status = ?, next_retry_at = ?, error_message = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`
		_, err := s.db.Exec(query,
			string(StatusPending),
			retryAt.Format(time.RFC3339),
			errMsg,
			now.Format(time.RFC3339),
			id,
			string(StatusGenerating),
		)
		if err != nil {
			return "", errors.Wrapf(err, "failed to requeue job %s", id)
		}
		return StatusPending, nil
	}

	query := `
		UPDATE scheduled_content_jobs
		SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	if _, err := s.db.Exec(query,
		string(StatusFailed),
		errMsg,
		now.Format(time.RFC3339),
		id,
		string(StatusGenerating),
	); err != nil {
		return "", errors.Wrapf(err, "failed to mark job %s failed", id)
	}
	return StatusFailed, nil
}

// SweepStaleGenerating returns jobs stuck in generating for longer than
// maxAge to pending. Covers workers that crashed mid-generation.
func (s *Store) SweepStaleGenerating(maxAge time.Duration) (int, error) {
	now := s.timeNow().UTC()
	cutoff := now.Add(-maxAge).Format(time.RFC3339)
	query := `
		UPDATE scheduled_content_jobs
		SET status = ?, updated_at = ?
		WHERE status = ? AND last_attempt_at IS NOT NULL AND last_attempt_at < ?
	`
	result, err := s.db.Exec(query,
		string(StatusPending),
		now.Format(time.RFC3339),
		string(StatusGenerating),
		cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to sweep stale jobs")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}

// ListByLeague returns a league's jobs, newest first
func (s *Store) ListByLeague(leagueID string, limit int) ([]*Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM scheduled_content_jobs
		WHERE league_id = ?
		ORDER BY scheduled_for DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query, leagueID, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query jobs for league %s", leagueID)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var scheduleID, lastAttemptAt, nextRetryAt, errMsg, contentID, generatedAt, contextData sql.NullString
	var scheduledFor, status, createdAt, updatedAt string

	err := row.Scan(
		&j.ID,
		&j.LeagueID,
		&scheduleID,
		&j.ContentType,
		&scheduledFor,
		&status,
		&j.Attempts,
		&j.MaxAttempts,
		&lastAttemptAt,
		&nextRetryAt,
		&errMsg,
		&contentID,
		&generatedAt,
		&contextData,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = Status(status)
	if scheduleID.Valid {
		j.ScheduleID = scheduleID.String
	}
	if errMsg.Valid {
		j.ErrorMessage = errMsg.String
	}
	if contentID.Valid {
		j.GeneratedContentID = contentID.String
	}
	if contextData.Valid && contextData.String != "" {
		if err := json.Unmarshal([]byte(contextData.String), &j.ContextData); err != nil {
			return nil, errors.Wrapf(err, "failed to parse context data for job %s", j.ID)
		}
	}

	j.ScheduledFor, err = time.Parse(time.RFC3339, scheduledFor)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse scheduled_for for job %s", j.ID)
	}
	j.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for job %s", j.ID)
	}
	j.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for job %s", j.ID)
	}

	for _, f := range []struct {
		src  sql.NullString
		dst  **time.Time
		name string
	}{
		{lastAttemptAt, &j.LastAttemptAt, "last_attempt_at"},
		{nextRetryAt, &j.NextRetryAt, "next_retry_at"},
		{generatedAt, &j.GeneratedAt, "generated_at"},
	} {
		if f.src.Valid {
			t, err := time.Parse(time.RFC3339, f.src.String)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to parse %s for job %s", f.name, j.ID)
			}
			*f.dst = &t
		}
	}

	return &j, nil
}
