package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"petsim/internal/logger"
	"petsim/internal/models"
	"petsim/internal/telemetry"
)

// JobQueue is the part of jobqueue.Queue the worker loop drives.
type JobQueue interface {
	ReclaimStale(ctx context.Context) (int64, error)
	ClaimNext(ctx context.Context, workerID string) (models.Job, bool, error)
	Complete(ctx context.Context, job models.Job) error
	Fail(ctx context.Context, job models.Job, runErr error) error
}

// EmailDrainer delivers queued notification emails.
type EmailDrainer interface {
	ProcessOnce(ctx context.Context, limit int) (int, error)
}

// Handler executes one run of a named job.
type Handler func(ctx context.Context, job models.Job) error

// Options tune the loop. Zero values take the defaults from DefaultOptions.
type Options struct {
	WorkerID           string
	PollInterval       time.Duration
	StorageRetryDelay  time.Duration
	EmailCheckInterval time.Duration
	EmailBatchSize     int
}

func DefaultOptions() Options {
	return Options{
		WorkerID:           "worker",
		PollInterval:       30 * time.Second,
		StorageRetryDelay:  5 * time.Second,
		EmailCheckInterval: 60 * time.Second,
		EmailBatchSize:     10,
	}
}

// Processor drives the worker execution loop.
type Processor struct {
	queue     JobQueue
	handlers  map[string]Handler
	drainer   EmailDrainer
	opts      Options
	log       *slog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	lastDrain time.Time
}

func NewProcessor(q JobQueue, opts Options, log *slog.Logger) *Processor {
	def := DefaultOptions()
	if opts.WorkerID == "" {
		opts.WorkerID = def.WorkerID
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.StorageRetryDelay <= 0 {
		opts.StorageRetryDelay = def.StorageRetryDelay
	}
	if opts.EmailCheckInterval <= 0 {
		opts.EmailCheckInterval = def.EmailCheckInterval
	}
	if opts.EmailBatchSize <= 0 {
		opts.EmailBatchSize = def.EmailBatchSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		queue:    q,
		handlers: make(map[string]Handler),
		opts:     opts,
		log:      log.With("worker_id", opts.WorkerID),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// RegisterHandler binds a handler to a job name.
func (p *Processor) RegisterHandler(name string, handler Handler) {
	if name == "" || handler == nil {
		return
	}
	p.handlers[name] = handler
}

// SetEmailDrainer enables outbox delivery between polls.
func (p *Processor) SetEmailDrainer(d EmailDrainer) {
	p.drainer = d
}

// Run polls until ctx is cancelled. A job that is already running when ctx is
// cancelled runs to completion and is released before Run returns.
func (p *Processor) Run(ctx context.Context) error {
	p.log.Info("worker started", "poll_interval", p.opts.PollInterval, "handlers", len(p.handlers))
	for {
		if err := ctx.Err(); err != nil {
			p.log.Info("worker stopping")
			return err
		}

		delay := p.opts.PollInterval
		if _, err := p.Poll(ctx); err != nil {
			p.log.Error("poll failed, retrying", "error", err, "retry_in", p.opts.StorageRetryDelay)
			delay = p.opts.StorageRetryDelay
		}
		p.drainEmails(ctx)

		if err := p.sleep(ctx, delay); err != nil {
			p.log.Info("worker stopping")
			return err
		}
	}
}

// Poll runs one cycle: reclaim stale locks, claim a job, run it, release it.
// It reports whether a job was run. Errors are storage errors only; a failing
// job is recorded through the queue.
func (p *Processor) Poll(ctx context.Context) (bool, error) {
	reclaimed, err := p.queue.ReclaimStale(ctx)
	if err != nil {
		return false, err
	}
	if reclaimed > 0 {
		telemetry.StaleLocksReclaimed.Add(float64(reclaimed))
		p.log.Warn("reclaimed stale job locks", "count", reclaimed)
	}

	job, ok, err := p.queue.ClaimNext(ctx, p.opts.WorkerID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	telemetry.JobsClaimed.Inc()
	p.log.Info("job claimed", "job", job.Name, "attempts", job.Attempts)

	// The job is released even when ctx is cancelled.
	release := context.WithoutCancel(ctx)
	if runErr := p.dispatch(ctx, job); runErr != nil {
		telemetry.JobsFailed.WithLabelValues(job.Name).Inc()
		p.log.Error("job failed", "job", job.Name, "attempts", job.Attempts, "error", runErr)
		return true, p.queue.Fail(release, job, runErr)
	}
	if err := p.queue.Complete(release, job); err != nil {
		return true, err
	}
	telemetry.JobsCompleted.Inc()
	p.log.Info("job completed", "job", job.Name)
	return true, nil
}

// dispatch runs the handler for job. The handler context is detached from
// cancellation so an in-flight tick is never aborted mid-persist.
func (p *Processor) dispatch(ctx context.Context, job models.Job) (err error) {
	handler, ok := p.handlers[job.Name]
	if !ok {
		return fmt.Errorf("no handler registered for job %q", job.Name)
	}

	runCtx := logger.WithTickID(context.WithoutCancel(ctx), uuid.NewString())
	runCtx, span := telemetry.Tracer().Start(runCtx, "worker.run "+job.Name, trace.WithAttributes(
		attribute.String("job.name", job.Name),
		attribute.Int("job.attempts", job.Attempts),
		attribute.String("worker.id", p.opts.WorkerID),
	))
	start := p.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
		telemetry.TickDuration.WithLabelValues(job.Name).Observe(p.now().Sub(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	return handler(runCtx, job)
}

func (p *Processor) drainEmails(ctx context.Context) {
	if p.drainer == nil || ctx.Err() != nil {
		return
	}
	now := p.now()
	if !p.lastDrain.IsZero() && now.Sub(p.lastDrain) < p.opts.EmailCheckInterval {
		return
	}
	p.lastDrain = now
	sent, err := p.drainer.ProcessOnce(ctx, p.opts.EmailBatchSize)
	if err != nil {
		p.log.Error("email drain failed", "error", err)
		return
	}
	if sent > 0 {
		p.log.Info("emails delivered", "count", sent)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
