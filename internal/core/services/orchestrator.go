package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driving"
)

// Ensure Orchestrator implements JobService
var _ driving.JobService = (*Orchestrator)(nil)

// InterruptedMessage is recorded on RUNNING jobs whose lease expired.
const InterruptedMessage = "interrupted"

// DefaultLease is how long a RUNNING job may go without a heartbeat
// before it is failed as interrupted.
const DefaultLease = 30 * time.Second

// Orchestrator issues job ids, records jobs in the store and hands them to
// the worker pool through the queue. Execution happens in internal/worker.
type Orchestrator struct {
	store  driven.JobStore
	queue  driven.JobQueue
	lease  time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewOrchestrator creates the job service. A RUNNING job is only failed
// by recovery once it has gone a full lease without a heartbeat, so the
// lease must comfortably exceed the workers' heartbeat interval.
func NewOrchestrator(store driven.JobStore, queue driven.JobQueue, lease time.Duration, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if lease <= 0 {
		lease = DefaultLease
	}
	return &Orchestrator{
		store:  store,
		queue:  queue,
		lease:  lease,
		now:    time.Now,
		logger: logger,
	}
}

// Submit records a PENDING job and enqueues its id.
func (o *Orchestrator) Submit(ctx context.Context, kind domain.JobKind, input any) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown job kind %q", domain.ErrInvalidInput, kind)
	}

	job, err := domain.NewJob(kind, input)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	if err := o.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("record job: %w", err)
	}

	if err := o.queue.Enqueue(ctx, job.ID); err != nil {
		// the caller never sees the id, so the job must not run later
		msg := fmt.Sprintf("enqueue failed: %v", err)
		if abandonErr := o.store.Abandon(context.WithoutCancel(ctx), job.ID, msg); abandonErr != nil {
			o.logger.Error("failed to abandon unqueued job", "job_id", job.ID, "error", abandonErr)
		}
		o.logger.Error("failed to enqueue job", "job_id", job.ID, "error", err)
		return "", fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	o.logger.Info("job submitted", "job_id", job.ID, "kind", kind)
	return job.ID, nil
}

// Status returns the job snapshot.
func (o *Orchestrator) Status(ctx context.Context, id string) (*domain.Job, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: job id is required", domain.ErrInvalidInput)
	}

	job, err := o.store.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownJob, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Result returns the payload of a SUCCEEDED job. Reads never change state.
func (o *Orchestrator) Result(ctx context.Context, id string) (string, error) {
	job, err := o.Status(ctx, id)
	if err != nil {
		return "", err
	}

	switch job.State {
	case domain.JobStateSucceeded:
		return job.Result, nil
	case domain.JobStateFailed:
		return "", &domain.JobFailedError{JobID: job.ID, Message: job.Error}
	default:
		return "", fmt.Errorf("%w: job %s is %s", domain.ErrJobNotReady, job.ID, job.State)
	}
}

// Recover runs at startup, before the pool starts: it fails RUNNING jobs
// whose lease expired and re-enqueues PENDING ones. Jobs still heartbeating
// belong to a live worker, possibly in another process, and are left alone.
func (o *Orchestrator) Recover(ctx context.Context) (*domain.RecoveryReport, error) {
	report := &domain.RecoveryReport{}

	interrupted, err := o.ReapStale(ctx)
	report.Interrupted = interrupted
	if err != nil {
		return report, err
	}

	pending, err := o.store.List(ctx, domain.JobStatePending)
	if err != nil {
		return report, fmt.Errorf("list pending jobs: %w", err)
	}
	for _, job := range pending {
		if err := o.queue.Enqueue(ctx, job.ID); err != nil {
			return report, fmt.Errorf("re-enqueue job %s: %w", job.ID, err)
		}
		report.Requeued++
	}

	if report.Interrupted > 0 || report.Requeued > 0 {
		o.logger.Info("recovered jobs",
			"interrupted", report.Interrupted,
			"requeued", report.Requeued,
		)
	}
	return report, nil
}

// ReapStale fails RUNNING jobs that have gone a full lease without a
// heartbeat and returns how many it failed.
func (o *Orchestrator) ReapStale(ctx context.Context) (int, error) {
	running, err := o.store.List(ctx, domain.JobStateRunning)
	if err != nil {
		return 0, fmt.Errorf("list running jobs: %w", err)
	}

	cutoff := o.now().Add(-o.lease)
	reaped := 0
	for _, job := range running {
		if !job.Expired(cutoff) {
			continue
		}
		err := o.store.Expire(ctx, job.ID, cutoff, InterruptedMessage)
		switch {
		case err == nil:
			reaped++
			o.logger.Warn("job lease expired",
				"job_id", job.ID,
				"worker", job.Worker,
				"last_seen", job.LastSeen(),
			)
		case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrNotFound):
			// renewed or finished since the listing
		default:
			return reaped, fmt.Errorf("fail interrupted job %s: %w", job.ID, err)
		}
	}
	return reaped, nil
}

// Reap runs ReapStale every interval until ctx is done.
func (o *Orchestrator) Reap(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = o.lease / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := o.ReapStale(ctx); err != nil && ctx.Err() == nil {
			o.logger.Error("failed to reap stale jobs", "error", err)
		}
	}
}

// Stats returns job counts by state.
func (o *Orchestrator) Stats(ctx context.Context) (*domain.JobStats, error) {
	return o.store.Stats(ctx)
}
