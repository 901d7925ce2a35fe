package driving

import (
	"context"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
)

// JobService issues and tracks asynchronous jobs
type JobService interface {
	// Submit records a PENDING job and hands it to the workers.
	Submit(ctx context.Context, kind domain.JobKind, input any) (string, error)

	// Status returns a snapshot of the job.
	// Returns domain.ErrUnknownJob for ids never issued.
	Status(ctx context.Context, id string) (*domain.Job, error)

	// Result returns the SUCCEEDED payload without blocking.
	// Returns domain.ErrJobNotReady before a terminal state and a
	// *domain.JobFailedError for FAILED jobs.
	Result(ctx context.Context, id string) (string, error)

	// Recover fails RUNNING jobs whose lease expired and re-enqueues PENDING ones.
	Recover(ctx context.Context) (*domain.RecoveryReport, error)

	// Stats returns job counts by state.
	Stats(ctx context.Context) (*domain.JobStats, error)
}
