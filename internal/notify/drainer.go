package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"petsim/internal/jobqueue"
	"petsim/internal/models"
	"petsim/internal/telemetry"
)

// RetryStep is the per-attempt delivery backoff; it is capped at jobqueue.MaxBackoff.
const RetryStep = 60 * time.Second

// Sender delivers one email. The transport lives outside this module.
type Sender interface {
	Send(ctx context.Context, e models.Email) error
}

// LogSender "delivers" by logging, for environments without a mail transport.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(_ context.Context, e models.Email) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("email sent", "email_id", e.ID, "recipient", e.Recipient, "subject", e.Subject)
	return nil
}

// DrainStore is the queue side of the outbox.
type DrainStore interface {
	ClaimEmails(ctx context.Context, now time.Time, limit int) ([]models.Email, error)
	UpdateEmail(ctx context.Context, id int64, u models.EmailUpdate) error
	ResetStaleEmails(ctx context.Context, cutoff, now time.Time) (int64, error)
}

// Drainer delivers queued emails.
type Drainer struct {
	store     DrainStore
	sender    Sender
	staleLock time.Duration
	now       func() time.Time
	log       *slog.Logger
}

// NewDrainer builds a drainer. Emails left in_progress longer than staleLock
// are put back in the queue at the start of each pass.
func NewDrainer(st DrainStore, sender Sender, staleLock time.Duration, log *slog.Logger) *Drainer {
	if log == nil {
		log = slog.Default()
	}
	return &Drainer{
		store:     st,
		sender:    sender,
		staleLock: staleLock,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

// SetClock replaces the time source; used by tests.
func (d *Drainer) SetClock(now func() time.Time) {
	d.now = now
}

// ProcessOnce claims up to limit due emails and tries each once. Delivery
// failures are recorded on the row; only storage errors are returned.
func (d *Drainer) ProcessOnce(ctx context.Context, limit int) (int, error) {
	now := d.now()
	if d.staleLock > 0 {
		if n, err := d.store.ResetStaleEmails(ctx, now.Add(-d.staleLock), now); err != nil {
			return 0, fmt.Errorf("reset stale emails: %w", err)
		} else if n > 0 {
			d.log.Warn("requeued stale emails", "count", n)
		}
	}

	batch, err := d.store.ClaimEmails(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("claim emails: %w", err)
	}

	sent := 0
	for _, e := range batch {
		sendErr := d.sender.Send(ctx, e)
		done := d.now()
		u := models.EmailUpdate{Status: models.EmailSent, UpdatedAt: done}
		if sendErr != nil {
			msg := sendErr.Error()
			u.LastError = &msg
			if e.Attempts >= e.MaxAttempts {
				u.Status = models.EmailFailed
				telemetry.EmailsSent.WithLabelValues("failed").Inc()
				d.log.Error("email failed permanently", "email_id", e.ID, "attempts", e.Attempts, "error", sendErr)
			} else {
				next := done.Add(jobqueue.Backoff(RetryStep, e.Attempts, jobqueue.MaxBackoff))
				u.Status = models.EmailPending
				u.NextTry = &next
				telemetry.EmailsSent.WithLabelValues("retry").Inc()
				d.log.Warn("email delivery failed, will retry", "email_id", e.ID, "attempts", e.Attempts, "next_try", next, "error", sendErr)
			}
		} else {
			sent++
			telemetry.EmailsSent.WithLabelValues("sent").Inc()
		}
		if err := d.store.UpdateEmail(ctx, e.ID, u); err != nil {
			return sent, fmt.Errorf("update email %d: %w", e.ID, err)
		}
	}
	return sent, nil
}
