package models

import "time"

// Email outbox statuses.
const (
	EmailPending    = "pending"
	EmailInProgress = "in_progress"
	EmailSent       = "sent"
	EmailFailed     = "failed"
)

// Email is a queued outbound message in email_queue.
type Email struct {
	ID          int64      `json:"id"`
	Recipient   string     `json:"recipient"`
	Subject     string     `json:"subject"`
	Body        string     `json:"body"`
	IsHTML      bool       `json:"is_html"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   *string    `json:"last_error,omitempty"`
	NextTry     *time.Time `json:"next_try,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// EmailUpdate rewrites the delivery columns of a claimed email.
type EmailUpdate struct {
	Status    string
	NextTry   *time.Time
	LastError *string
	UpdatedAt time.Time
}
