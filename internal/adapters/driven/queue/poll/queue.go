// Package poll delivers PENDING jobs by polling a shared JobStore. It lets
// API and worker processes share a Postgres or SQLite job log without a
// separate broker.
package poll

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

// DefaultInterval is the pause between polls of an idle store.
const DefaultInterval = 500 * time.Millisecond

// Verify interface compliance
var _ driven.JobQueue = (*Queue)(nil)

// Queue hands out ids of PENDING jobs. An id stays reserved in this process
// until Ack so local workers do not race for it; other processes may still
// see it and lose the MarkRunning CAS.
type Queue struct {
	store    driven.JobStore
	interval time.Duration
	wake     chan struct{}

	mu       sync.Mutex
	reserved map[string]struct{}
}

// NewQueue creates a poller over store. interval <= 0 uses DefaultInterval.
func NewQueue(store driven.JobStore, interval time.Duration) *Queue {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Queue{
		store:    store,
		interval: interval,
		wake:     make(chan struct{}, 1),
		reserved: make(map[string]struct{}),
	}
}

// Enqueue only wakes a local poller; the job is already in the store.
func (q *Queue) Enqueue(context.Context, string) error {
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// DequeueWithTimeout polls until a PENDING job that is not reserved here
// shows up, or timeout passes.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		id, err := q.next(ctx)
		if err != nil || id != "" {
			return id, err
		}

		wait := time.NewTimer(q.interval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return "", nil
		case <-deadline.C:
			wait.Stop()
			return "", nil
		case <-q.wake:
		case <-wait.C:
		}
		wait.Stop()
	}
}

func (q *Queue) next(ctx context.Context) (string, error) {
	jobs, err := q.store.List(ctx, domain.JobStatePending)
	if err != nil {
		return "", fmt.Errorf("poll pending jobs: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range jobs {
		if _, taken := q.reserved[job.ID]; taken {
			continue
		}
		q.reserved[job.ID] = struct{}{}
		return job.ID, nil
	}
	return "", nil
}

// Ack releases the local reservation.
func (q *Queue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	delete(q.reserved, id)
	q.mu.Unlock()
	return nil
}

// Ping checks the underlying store.
func (q *Queue) Ping(ctx context.Context) error {
	return q.store.Ping(ctx)
}

// Close is a no-op; the store is owned by the caller.
func (q *Queue) Close() error {
	return nil
}
