// Package jobqueue is the durable scheduling primitive: named recurring jobs
// claimed by workers through a conditional pending -> in_progress update.
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"petsim/internal/models"
)

// Names of the jobs the worker knows how to run.
const (
	JobPetDecay     = "pet_decay"
	JobAutoMessages = "pet_auto_messages"
)

var ErrJobNotFound = errors.New("job not found")

// Store is the persistence the queue needs. Implementations must make LockJob
// a single conditional update keyed on status = pending, so that concurrent
// workers racing for one row see exactly one winner.
type Store interface {
	// UpsertJob inserts job unless a row with the same name exists, and returns the stored row.
	UpsertJob(ctx context.Context, job models.Job) (models.Job, error)
	// ResetStaleJobs returns in_progress jobs locked before cutoff to pending.
	ResetStaleJobs(ctx context.Context, cutoff, now time.Time) (int64, error)
	// DueJobs lists pending jobs with next_run null or <= now, ordered by next_run then id.
	DueJobs(ctx context.Context, now time.Time, limit int) ([]models.Job, error)
	// LockJob claims a pending job for workerID and increments attempts.
	// ok is false when another worker got there first.
	LockJob(ctx context.Context, id int64, workerID string, now time.Time) (job models.Job, ok bool, err error)
	// UpdateJob releases a claimed job, clearing its lock.
	UpdateJob(ctx context.Context, id int64, u models.JobUpdate) error
	ListJobs(ctx context.Context) ([]models.Job, error)
	GetJob(ctx context.Context, name string) (models.Job, bool, error)
	// TriggerJob clears next_run so the job is due immediately.
	TriggerJob(ctx context.Context, name string, now time.Time) (bool, error)
}

// Options tune claiming and retry behaviour.
type Options struct {
	StaleThreshold     time.Duration
	BatchSize          int
	MaxAttempts        int
	MinIntervals       map[string]time.Duration
	DefaultMinInterval time.Duration
}

// DefaultOptions mirrors the production defaults.
func DefaultOptions() Options {
	return Options{
		StaleThreshold: 300 * time.Second,
		BatchSize:      10,
		MaxAttempts:    5,
		MinIntervals: map[string]time.Duration{
			JobPetDecay:     30 * time.Minute,
			JobAutoMessages: time.Hour,
		},
		DefaultMinInterval: 5 * time.Minute,
	}
}

// Queue implements ensure/reclaim/claim/complete/fail over a Store.
type Queue struct {
	store Store
	opts  Options
	now   func() time.Time
}

// New builds a queue. Zero-valued options fall back to DefaultOptions.
func New(st Store, opts Options) *Queue {
	def := DefaultOptions()
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = def.StaleThreshold
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.MinIntervals == nil {
		opts.MinIntervals = def.MinIntervals
	}
	if opts.DefaultMinInterval <= 0 {
		opts.DefaultMinInterval = def.DefaultMinInterval
	}
	return &Queue{store: st, opts: opts, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock replaces the time source; used by tests.
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}

// Ensure creates the job if no job with that name exists. An existing job is
// returned unchanged, including its interval.
func (q *Queue) Ensure(ctx context.Context, name string, interval time.Duration, recurring bool) (models.Job, error) {
	now := q.now()
	job, err := q.store.UpsertJob(ctx, models.Job{
		Name:        name,
		Status:      models.StatusPending,
		IsRecurring: recurring,
		Interval:    models.Duration(interval),
		MaxAttempts: q.opts.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return models.Job{}, fmt.Errorf("ensure job %s: %w", name, err)
	}
	return job, nil
}

// EnsureDefaults bootstraps the decay and auto-message jobs.
func (q *Queue) EnsureDefaults(ctx context.Context, decayInterval, autoMessageInterval time.Duration) ([]models.Job, error) {
	decay, err := q.Ensure(ctx, JobPetDecay, decayInterval, true)
	if err != nil {
		return nil, err
	}
	auto, err := q.Ensure(ctx, JobAutoMessages, autoMessageInterval, true)
	if err != nil {
		return nil, err
	}
	return []models.Job{decay, auto}, nil
}

// ReclaimStale resets jobs whose lock is older than the stale threshold.
func (q *Queue) ReclaimStale(ctx context.Context) (int64, error) {
	now := q.now()
	n, err := q.store.ResetStaleJobs(ctx, now.Add(-q.opts.StaleThreshold), now)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return n, nil
}

// ClaimNext claims the first due job that also respects its minimum interval
// since the last completion. ok is false when nothing is runnable.
func (q *Queue) ClaimNext(ctx context.Context, workerID string) (models.Job, bool, error) {
	now := q.now()
	candidates, err := q.store.DueJobs(ctx, now, q.opts.BatchSize)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("list due jobs: %w", err)
	}
	for _, c := range candidates {
		if !q.intervalElapsed(c, now) {
			continue
		}
		job, ok, err := q.store.LockJob(ctx, c.ID, workerID, now)
		if err != nil {
			return models.Job{}, false, fmt.Errorf("lock job %s: %w", c.Name, err)
		}
		if ok {
			return job, true, nil
		}
	}
	return models.Job{}, false, nil
}

// MinInterval returns the minimum spacing between completions of name.
func (q *Queue) MinInterval(name string) time.Duration {
	if d, ok := q.opts.MinIntervals[name]; ok {
		return d
	}
	return q.opts.DefaultMinInterval
}

func (q *Queue) intervalElapsed(job models.Job, now time.Time) bool {
	if job.LastCompletedAt == nil {
		return true
	}
	return now.Sub(*job.LastCompletedAt) >= q.MinInterval(job.Name)
}

// Complete releases a successfully run job. Recurring jobs are rescheduled one
// interval ahead with attempts reset; one-shot jobs become done.
func (q *Queue) Complete(ctx context.Context, job models.Job) error {
	now := q.now()
	u := models.JobUpdate{
		Status:          models.StatusDone,
		Attempts:        job.Attempts,
		LastCompletedAt: &now,
		UpdatedAt:       now,
	}
	if job.IsRecurring {
		next := now.Add(job.Interval.Std())
		u.Status = models.StatusPending
		u.NextRun = &next
		u.Attempts = 0
	}
	if err := q.store.UpdateJob(ctx, job.ID, u); err != nil {
		return fmt.Errorf("complete job %s: %w", job.Name, err)
	}
	return nil
}

// Fail records runErr and reschedules job after min(interval*attempts, 1h).
// One-shot jobs that used up their attempts become failed; recurring jobs
// always stay pending.
func (q *Queue) Fail(ctx context.Context, job models.Job, runErr error) error {
	now := q.now()
	next := now.Add(Backoff(job.Interval.Std(), job.Attempts, MaxBackoff))
	msg := "unknown error"
	if runErr != nil {
		msg = runErr.Error()
	}
	status := models.StatusPending
	if !job.IsRecurring && job.Attempts >= job.MaxAttempts {
		status = models.StatusFailed
	}
	err := q.store.UpdateJob(ctx, job.ID, models.JobUpdate{
		Status:          status,
		NextRun:         &next,
		Attempts:        job.Attempts,
		LastError:       &msg,
		LastCompletedAt: job.LastCompletedAt,
		UpdatedAt:       now,
	})
	if err != nil {
		return fmt.Errorf("fail job %s: %w", job.Name, err)
	}
	return nil
}

func (q *Queue) List(ctx context.Context) ([]models.Job, error) {
	jobs, err := q.store.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func (q *Queue) Get(ctx context.Context, name string) (models.Job, error) {
	job, found, err := q.store.GetJob(ctx, name)
	if err != nil {
		return models.Job{}, fmt.Errorf("get job %s: %w", name, err)
	}
	if !found {
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return job, nil
}

// Trigger makes a job due now. The minimum interval still applies at claim time.
func (q *Queue) Trigger(ctx context.Context, name string) (models.Job, error) {
	found, err := q.store.TriggerJob(ctx, name, q.now())
	if err != nil {
		return models.Job{}, fmt.Errorf("trigger job %s: %w", name, err)
	}
	if !found {
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return q.Get(ctx, name)
}
