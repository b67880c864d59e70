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

const emailColumns = `id, recipient, subject, body, is_html, status, attempts, max_attempts, last_error, next_try, created_at, updated_at`

func scanEmail(row scanner) (models.Email, error) {
	var (
		e       models.Email
		lastErr pgtype.Text
		nextTry pgtype.Timestamptz
	)
	if err := row.Scan(&e.ID, &e.Recipient, &e.Subject, &e.Body, &e.IsHTML, &e.Status, &e.Attempts, &e.MaxAttempts,
		&lastErr, &nextTry, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return models.Email{}, err
	}
	e.LastError = textPtr(lastErr)
	e.NextTry = timePtr(nextTry)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

func (s *Store) EnqueueEmail(ctx context.Context, e models.Email) (models.Email, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO email_queue (recipient, subject, body, is_html, status, attempts, max_attempts, next_try, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $9)
		RETURNING id
	`, e.Recipient, e.Subject, e.Body, e.IsHTML, e.Status, e.MaxAttempts, e.NextTry, e.CreatedAt, e.UpdatedAt).Scan(&e.ID)
	if err != nil {
		return models.Email{}, fmt.Errorf("insert email: %w", err)
	}
	return e, nil
}

// ClaimEmails moves up to limit due pending emails to in_progress, counting an attempt.
// Rows locked by a concurrent drainer are skipped.
func (s *Store) ClaimEmails(ctx context.Context, now time.Time, limit int) ([]models.Email, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE email_queue
		SET status = $1, attempts = attempts + 1, updated_at = $2
		WHERE id IN (
			SELECT id FROM email_queue
			WHERE status = $3 AND (next_try IS NULL OR next_try <= $2)
			ORDER BY created_at, id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		) AND status = $3
		RETURNING `+emailColumns,
		models.EmailInProgress, now, models.EmailPending, limit)
	if err != nil {
		return nil, fmt.Errorf("claim emails: %w", err)
	}
	defer rows.Close()
	var out []models.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) UpdateEmail(ctx context.Context, id int64, u models.EmailUpdate) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE email_queue SET status = $2, next_try = $3, last_error = $4, updated_at = $5 WHERE id = $1
	`, id, u.Status, u.NextTry, u.LastError, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update email: %w", err)
	}
	return nil
}

// ResetStaleEmails returns emails stuck in_progress since before cutoff to pending.
func (s *Store) ResetStaleEmails(ctx context.Context, cutoff, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE email_queue SET status = $1, updated_at = $2 WHERE status = $3 AND updated_at < $4
	`, models.EmailPending, now, models.EmailInProgress, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stale emails: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) GetEmail(ctx context.Context, id int64) (models.Email, bool, error) {
	e, err := scanEmail(s.pool.QueryRow(ctx, `SELECT `+emailColumns+` FROM email_queue WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Email{}, false, nil
	}
	if err != nil {
		return models.Email{}, false, fmt.Errorf("scan email: %w", err)
	}
	return e, true, nil
}
