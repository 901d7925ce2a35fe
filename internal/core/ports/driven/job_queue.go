package driven

import (
	"context"
	"time"
)

// JobQueue hands job ids from the orchestrator to the worker pool.
// It carries ids only; the JobStore is the source of truth for state.
// Deliveries may repeat, workers tolerate that through the store's CAS.
type JobQueue interface {
	// Enqueue makes id available to workers. It must not block on workers.
	Enqueue(ctx context.Context, id string) error

	// DequeueWithTimeout waits up to timeout for the next id.
	// Returns "" and nil when nothing arrived in time.
	DequeueWithTimeout(ctx context.Context, timeout time.Duration) (string, error)

	// Ack marks a delivered id as handled.
	Ack(ctx context.Context, id string) error

	// Ping checks if the queue backend is healthy.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
