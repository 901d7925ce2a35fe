package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
)

// JobStore is the durable job log behind the orchestrator.
// Implementations: in-memory, Redis, PostgreSQL and SQLite.
// Every state change is a compare-and-swap on the current state so that
// a job reaches its terminal state exactly once even with several workers.
type JobStore interface {
	// Create stores a new PENDING job.
	Create(ctx context.Context, job *domain.Job) error

	// Get retrieves a job by ID.
	// Returns domain.ErrNotFound if the ID was never stored.
	Get(ctx context.Context, id string) (*domain.Job, error)

	// MarkRunning moves the job from PENDING to RUNNING, recording the
	// accepting worker, and returns the updated job.
	// Returns domain.ErrInvalidTransition if the job is no longer PENDING
	// (another worker took it, or it is terminal).
	MarkRunning(ctx context.Context, id, worker string) (*domain.Job, error)

	// Complete moves a RUNNING job to the outcome's terminal state.
	// Returns domain.ErrInvalidTransition if the job is not RUNNING.
	Complete(ctx context.Context, id string, outcome domain.Outcome) error

	// Heartbeat renews the lease of a RUNNING job held by worker.
	// Returns domain.ErrInvalidTransition if the job is no longer RUNNING
	// on that worker.
	Heartbeat(ctx context.Context, id, worker string) error

	// Expire fails a RUNNING job with message when its last heartbeat (or
	// its start, before the first heartbeat) is older than cutoff.
	// Returns domain.ErrInvalidTransition if the job is not RUNNING or was
	// seen at or after cutoff.
	Expire(ctx context.Context, id string, cutoff time.Time, message string) error

	// Abandon fails a PENDING job that will never reach a worker.
	// Returns domain.ErrInvalidTransition if the job is no longer PENDING.
	Abandon(ctx context.Context, id, message string) error

	// List returns jobs in the given state, oldest first.
	List(ctx context.Context, state domain.JobState) ([]*domain.Job, error)

	// Stats returns job counts by state.
	Stats(ctx context.Context) (*domain.JobStats, error)

	// Ping checks if the backend is healthy.
	Ping(ctx context.Context) error

	// Close cleans up resources.
	Close() error
}
