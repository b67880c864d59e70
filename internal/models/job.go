package models

import (
	"time"
)

// JobStatus enumerates lifecycle states persisted in background_jobs.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Job is a named, potentially recurring unit of work. Name is unique.
type Job struct {
	ID              int64      `json:"id" yaml:"id"`
	Name            string     `json:"name" yaml:"name"`
	Status          string     `json:"status" yaml:"status"`
	IsRecurring     bool       `json:"is_recurring" yaml:"is_recurring"`
	Interval        Duration   `json:"interval" yaml:"interval"`
	NextRun         *time.Time `json:"next_run,omitempty" yaml:"next_run,omitempty"`
	Attempts        int        `json:"attempts" yaml:"attempts"`
	MaxAttempts     int        `json:"max_attempts" yaml:"max_attempts"`
	LastError       *string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	LockedAt        *time.Time `json:"locked_at,omitempty" yaml:"locked_at,omitempty"`
	LockedBy        *string    `json:"locked_by,omitempty" yaml:"locked_by,omitempty"`
	LastCompletedAt *time.Time `json:"last_completed_at,omitempty" yaml:"last_completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" yaml:"updated_at"`
}

// JobUpdate is the full set of columns rewritten when a claimed job is released.
// Releasing always clears the lock.
type JobUpdate struct {
	Status          string
	NextRun         *time.Time
	Attempts        int
	LastError       *string
	LastCompletedAt *time.Time
	UpdatedAt       time.Time
}

// Duration marshals as a Go duration string ("30m0s") instead of nanoseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
