package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"petsim/internal/models"
)

const jobColumns = `id, name, status, is_recurring, interval_seconds, next_run, attempts, max_attempts,
	last_error, locked_at, locked_by, last_completed_at, created_at, updated_at`

func scanJob(row scanner) (models.Job, error) {
	var (
		job                                models.Job
		intervalSecs                       int64
		nextRun, lockedAt, lastCompletedAt pgtype.Timestamptz
		lastErr, lockedBy                  pgtype.Text
	)
	if err := row.Scan(&job.ID, &job.Name, &job.Status, &job.IsRecurring, &intervalSecs, &nextRun,
		&job.Attempts, &job.MaxAttempts, &lastErr, &lockedAt, &lockedBy, &lastCompletedAt, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return models.Job{}, err
	}
	job.Interval = models.Duration(time.Duration(intervalSecs) * time.Second)
	job.NextRun = timePtr(nextRun)
	job.LastError = textPtr(lastErr)
	job.LockedAt = timePtr(lockedAt)
	job.LockedBy = textPtr(lockedBy)
	job.LastCompletedAt = timePtr(lastCompletedAt)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return job, nil
}

// UpsertJob inserts the job unless its name is taken and returns the stored row.
func (s *Store) UpsertJob(ctx context.Context, job models.Job) (models.Job, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO background_jobs (name, status, is_recurring, interval_seconds, next_run, attempts, max_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $7)
		ON CONFLICT (name) DO NOTHING
	`, job.Name, job.Status, job.IsRecurring, int64(job.Interval.Std()/time.Second), job.NextRun, job.MaxAttempts, job.CreatedAt)
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
	tag, err := s.pool.Exec(ctx, `
		UPDATE background_jobs
		SET status = $1, locked_at = NULL, locked_by = NULL, updated_at = $2
		WHERE status = $3 AND locked_at IS NOT NULL AND locked_at < $4
	`, models.StatusPending, now, models.StatusInProgress, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DueJobs(ctx context.Context, now time.Time, limit int) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM background_jobs
		WHERE status = $1 AND (next_run IS NULL OR next_run <= $2)
		ORDER BY next_run ASC NULLS FIRST, id ASC
		LIMIT $3
	`, models.StatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	return collectJobs(rows)
}

// LockJob is the conditional claim: it only matches while the row is still pending.
func (s *Store) LockJob(ctx context.Context, id int64, workerID string, now time.Time) (models.Job, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE background_jobs
		SET status = $1, locked_at = $2, locked_by = $3, attempts = attempts + 1, updated_at = $2
		WHERE id = $4 AND status = $5
		RETURNING `+jobColumns,
		models.StatusInProgress, now, workerID, id, models.StatusPending)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, fmt.Errorf("lock job: %w", err)
	}
	return job, true, nil
}

func (s *Store) UpdateJob(ctx context.Context, id int64, u models.JobUpdate) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE background_jobs
		SET status = $2, next_run = $3, attempts = $4, last_error = $5, last_completed_at = $6,
		    locked_at = NULL, locked_by = NULL, updated_at = $7
		WHERE id = $1
	`, id, u.Status, u.NextRun, u.Attempts, u.LastError, u.LastCompletedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (s *Store) ListJobs(ctx context.Context) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM background_jobs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	return collectJobs(rows)
}

func (s *Store) GetJob(ctx context.Context, name string) (models.Job, bool, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM background_jobs WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, fmt.Errorf("scan job: %w", err)
	}
	return job, true, nil
}

func (s *Store) TriggerJob(ctx context.Context, name string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE background_jobs SET next_run = NULL, updated_at = $2 WHERE name = $1
	`, name, now)
	if err != nil {
		return false, fmt.Errorf("trigger job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func collectJobs(rows pgx.Rows) ([]models.Job, error) {
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
