package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"petsim/internal/models"
)

const jobColumns = `id, name, status, is_recurring, interval_seconds, next_run, attempts, max_attempts,
	last_error, locked_at, locked_by, last_completed_at, created_at, updated_at`

func scanJob(row scanner) (models.Job, error) {
	var (
		job                                models.Job
		intervalSecs, created, updated     int64
		nextRun, lockedAt, lastCompletedAt sql.NullInt64
		lastErr, lockedBy                  sql.NullString
	)
	if err := row.Scan(&job.ID, &job.Name, &job.Status, &job.IsRecurring, &intervalSecs, &nextRun,
		&job.Attempts, &job.MaxAttempts, &lastErr, &lockedAt, &lockedBy, &lastCompletedAt, &created, &updated); err != nil {
		return models.Job{}, err
	}
	job.Interval = models.Duration(time.Duration(intervalSecs) * time.Second)
	job.NextRun = fromNullMillis(nextRun)
	job.LastError = stringPtr(lastErr)
	job.LockedAt = fromNullMillis(lockedAt)
	job.LockedBy = stringPtr(lockedBy)
	job.LastCompletedAt = fromNullMillis(lastCompletedAt)
	job.CreatedAt = fromMillis(created)
	job.UpdatedAt = fromMillis(updated)
	return job, nil
}

func (s *Store) UpsertJob(ctx context.Context, job models.Job) (models.Job, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO background_jobs (name, status, is_recurring, interval_seconds, next_run, attempts, max_attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT (name) DO NOTHING
	`, job.Name, job.Status, boolInt(job.IsRecurring), int64(job.Interval.Std()/time.Second), nullMillis(job.NextRun),
		job.MaxAttempts, millis(job.CreatedAt), millis(job.UpdatedAt))
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	stored, found, err := s.GetJob(ctx, job.Name)
	if err != nil {
		return models.Job{}, err
	}
	if !found {
		return models.Job{}, fmt.Errorf("job %s vanished after upsert", job.Name)
	}
	return stored, nil
}

func (s *Store) ResetStaleJobs(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE background_jobs
		SET status = ?, locked_at = NULL, locked_by = NULL, updated_at = ?
		WHERE status = ? AND locked_at IS NOT NULL AND locked_at < ?
	`, models.StatusPending, millis(now), models.StatusInProgress, millis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("reset stale jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) DueJobs(ctx context.Context, now time.Time, limit int) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM background_jobs
		WHERE status = ? AND (next_run IS NULL OR next_run <= ?)
		ORDER BY next_run ASC, id ASC
		LIMIT ?
	`, models.StatusPending, millis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	return collectJobs(rows)
}

func (s *Store) LockJob(ctx context.Context, id int64, workerID string, now time.Time) (models.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE background_jobs
		SET status = ?, locked_at = ?, locked_by = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status = ?
		RETURNING `+jobColumns,
		models.StatusInProgress, millis(now), workerID, millis(now), id, models.StatusPending)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, fmt.Errorf("lock job: %w", err)
	}
	return job, true, nil
}

func (s *Store) UpdateJob(ctx context.Context, id int64, u models.JobUpdate) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE background_jobs
		SET status = ?, next_run = ?, attempts = ?, last_error = ?, last_completed_at = ?,
		    locked_at = NULL, locked_by = NULL, updated_at = ?
		WHERE id = ?
	`, u.Status, nullMillis(u.NextRun), u.Attempts, u.LastError, nullMillis(u.LastCompletedAt), millis(u.UpdatedAt), id)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (s *Store) ListJobs(ctx context.Context) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM background_jobs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	return collectJobs(rows)
}

func (s *Store) GetJob(ctx context.Context, name string) (models.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM background_jobs WHERE name = ?`, name)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, fmt.Errorf("scan job: %w", err)
	}
	return job, true, nil
}

func (s *Store) TriggerJob(ctx context.Context, name string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE background_jobs SET next_run = NULL, updated_at = ? WHERE name = ?
	`, millis(now), name)
	if err != nil {
		return false, fmt.Errorf("trigger job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func collectJobs(rows *sql.Rows) ([]models.Job, error) {
	defer rows.Close()
	var out []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}
