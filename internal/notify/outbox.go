// Package notify turns "your pets are unwell" events into queued emails and
// delivers the queue.
package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"petsim/internal/models"
	"petsim/internal/telemetry"
)

// DefaultMaxAttempts bounds delivery attempts per email.
const DefaultMaxAttempts = 5

// EmailStore is the write side of the outbox.
type EmailStore interface {
	EnqueueEmail(ctx context.Context, e models.Email) (models.Email, error)
}

// Throttle decides whether an owner may be notified now. When it returns an
// error the notification is sent whatever allowed says.
type Throttle interface {
	AllowOwner(ctx context.Context, ownerID int64) (bool, error)
}

// Outbox is the notification sink used by the decay tick.
type Outbox struct {
	store       EmailStore
	throttle    Throttle
	frontendURL string
	maxAttempts int
	now         func() time.Time
	log         *slog.Logger
}

// NewOutbox builds an outbox. throttle may be nil.
func NewOutbox(st EmailStore, throttle Throttle, frontendURL string, log *slog.Logger) *Outbox {
	if log == nil {
		log = slog.Default()
	}
	return &Outbox{
		store:       st,
		throttle:    throttle,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		maxAttempts: DefaultMaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		log:         log,
	}
}

// SetClock replaces the time source; used by tests.
func (o *Outbox) SetClock(now func() time.Time) {
	o.now = now
}

// Notify queues one email telling owner that petNames need attention.
// It reports whether an email was queued; a throttled owner is not an error.
func (o *Outbox) Notify(ctx context.Context, owner models.Owner, petNames []string) (bool, error) {
	if len(petNames) == 0 || owner.Email == "" {
		return false, nil
	}
	if o.throttle != nil {
		allowed, err := o.throttle.AllowOwner(ctx, owner.ID)
		switch {
		case err != nil:
			o.log.Warn("notification throttle unavailable, sending anyway", "owner_id", owner.ID, "error", err)
		case !allowed:
			telemetry.Notifications.WithLabelValues("throttled").Inc()
			return false, nil
		}
	}

	subject, body := Render(owner, petNames, o.frontendURL)
	now := o.now()
	_, err := o.store.EnqueueEmail(ctx, models.Email{
		Recipient:   owner.Email,
		Subject:     subject,
		Body:        body,
		IsHTML:      true,
		Status:      models.EmailPending,
		MaxAttempts: o.maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		telemetry.Notifications.WithLabelValues("error").Inc()
		return false, fmt.Errorf("enqueue notification for owner %d: %w", owner.ID, err)
	}
	telemetry.Notifications.WithLabelValues("queued").Inc()
	return true, nil
}

// Render builds the subject and HTML body of a notification.
func Render(owner models.Owner, petNames []string, frontendURL string) (string, string) {
	var subject string
	if len(petNames) == 1 {
		subject = fmt.Sprintf("Your pet %s is not feeling well", petNames[0])
	} else {
		subject = fmt.Sprintf("Your pets %s are not feeling well", strings.Join(petNames, ", "))
	}

	name := owner.FullName
	if name == "" {
		name = "there"
	}
	escaped := make([]string, len(petNames))
	for i, n := range petNames {
		escaped[i] = html.EscapeString(n)
	}
	link := html.EscapeString(frontendURL + "/pet")

	var b strings.Builder
	fmt.Fprintf(&b, "<p>Hi %s,</p>\n", html.EscapeString(name))
	fmt.Fprintf(&b, "<p>%s need your attention: they are hungry, tired or unwell.</p>\n", strings.Join(escaped, ", "))
	fmt.Fprintf(&b, "<p><a href=\"%s\">Check on them</a></p>\n", link)
	return subject, b.String()
}
