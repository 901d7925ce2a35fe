// Package memory is the in-process job handoff: an unbounded FIFO of ids
// plus a notify channel that wakes one waiting worker.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.JobQueue = (*Queue)(nil)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("queue closed")

// Queue never blocks Enqueue; ids wait in a slice until dequeued.
type Queue struct {
	mu     sync.Mutex
	ids    []string
	notify chan struct{}
	closed bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Enqueue appends id and wakes a waiting worker.
func (q *Queue) Enqueue(_ context.Context, id string) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.ids = append(q.ids, id)
	q.mu.Unlock()

	q.signal()
	return nil
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// DequeueWithTimeout pops the oldest id, waiting up to timeout.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if id, ok := q.pop(); ok {
			return id, nil
		}

		select {
		case <-ctx.Done():
			return "", nil
		case <-timer.C:
			return "", nil
		case <-q.notify:
		}
	}
}

func (q *Queue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ids) == 0 {
		return "", false
	}
	id := q.ids[0]
	q.ids[0] = ""
	q.ids = q.ids[1:]
	if len(q.ids) > 0 {
		// more work left for another waiter
		q.signal()
	}
	return id, true
}

// Ack is a no-op; a popped id is gone.
func (q *Queue) Ack(context.Context, string) error {
	return nil
}

// Len returns the number of ids waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

// Ping always succeeds.
func (q *Queue) Ping(context.Context) error {
	return nil
}

// Close rejects further enqueues. Waiting ids can still be drained.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}
