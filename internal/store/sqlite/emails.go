package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"petsim/internal/models"
)

const emailColumns = `id, recipient, subject, body, is_html, status, attempts, max_attempts, last_error, next_try, created_at, updated_at`

func scanEmail(row scanner) (models.Email, error) {
	var (
		e                models.Email
		lastErr          sql.NullString
		nextTry          sql.NullInt64
		created, updated int64
	)
	if err := row.Scan(&e.ID, &e.Recipient, &e.Subject, &e.Body, &e.IsHTML, &e.Status, &e.Attempts, &e.MaxAttempts,
		&lastErr, &nextTry, &created, &updated); err != nil {
		return models.Email{}, err
	}
	e.LastError = stringPtr(lastErr)
	e.NextTry = fromNullMillis(nextTry)
	e.CreatedAt = fromMillis(created)
	e.UpdatedAt = fromMillis(updated)
	return e, nil
}

func (s *Store) EnqueueEmail(ctx context.Context, e models.Email) (models.Email, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO email_queue (recipient, subject, body, is_html, status, attempts, max_attempts, next_try, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
	`, e.Recipient, e.Subject, e.Body, boolInt(e.IsHTML), e.Status, e.MaxAttempts, nullMillis(e.NextTry),
		millis(e.CreatedAt), millis(e.UpdatedAt))
	if err != nil {
		return models.Email{}, fmt.Errorf("insert email: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return models.Email{}, fmt.Errorf("email id: %w", err)
	}
	return e, nil
}

// ClaimEmails moves up to limit due pending emails to in_progress, counting an attempt.
func (s *Store) ClaimEmails(ctx context.Context, now time.Time, limit int) ([]models.Email, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE email_queue
		SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE id IN (
			SELECT id FROM email_queue
			WHERE status = ? AND (next_try IS NULL OR next_try <= ?)
			ORDER BY created_at, id
			LIMIT ?
		) AND status = ?
		RETURNING `+emailColumns,
		models.EmailInProgress, millis(now), models.EmailPending, millis(now), limit, models.EmailPending)
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
	_, err := s.db.ExecContext(ctx, `
		UPDATE email_queue SET status = ?, next_try = ?, last_error = ?, updated_at = ? WHERE id = ?
	`, u.Status, nullMillis(u.NextTry), u.LastError, millis(u.UpdatedAt), id)
	if err != nil {
		return fmt.Errorf("update email: %w", err)
	}
	return nil
}

// ResetStaleEmails returns emails stuck in_progress since before cutoff to pending.
func (s *Store) ResetStaleEmails(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_queue SET status = ?, updated_at = ? WHERE status = ? AND updated_at < ?
	`, models.EmailPending, millis(now), models.EmailInProgress, millis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("reset stale emails: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) GetEmail(ctx context.Context, id int64) (models.Email, bool, error) {
	e, err := scanEmail(s.db.QueryRowContext(ctx, `SELECT `+emailColumns+` FROM email_queue WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Email{}, false, nil
	}
	if err != nil {
		return models.Email{}, false, fmt.Errorf("scan email: %w", err)
	}
	return e, true, nil
}
