package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
	"github.com/redis/go-redis/v9"
)

const (
	// Stream names
	jobStream = "sercha:jobqueue"
	jobGroup  = "sercha:workers"

	// Default consumer name prefix
	consumerPrefix = "worker-"

	// DefaultClaimAfter is how long a delivered id may stay unacked before
	// another consumer takes it over.
	DefaultClaimAfter = 5 * time.Minute
)

// Verify interface compliance
var _ driven.JobQueue = (*Queue)(nil)

// Queue implements JobQueue using a Redis Stream and a consumer group so
// that API and worker processes can run apart.
type Queue struct {
	client       *redis.Client
	consumerName string
	claimAfter   time.Duration

	mu      sync.Mutex
	pending map[string]string // job id -> stream message id
}

// Option configures a Queue.
type Option func(*Queue)

// WithClaimAfter sets the idle time after which unacked deliveries from
// other consumers are claimed.
func WithClaimAfter(d time.Duration) Option {
	return func(q *Queue) {
		q.claimAfter = d
	}
}

// NewQueue creates a new Redis-backed job queue.
// The consumerName should be unique per worker instance (e.g., hostname + PID).
func NewQueue(ctx context.Context, client *redis.Client, consumerName string, opts ...Option) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if consumerName == "" {
		consumerName = fmt.Sprintf("%s%d", consumerPrefix, time.Now().UnixNano())
	}

	q := &Queue{
		client:       client,
		consumerName: consumerName,
		claimAfter:   DefaultClaimAfter,
		pending:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(q)
	}

	err := q.client.XGroupCreateMkStream(ctx, jobStream, jobGroup, "0").Err()
	if err != nil && !isGroupExistsError(err) {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return q, nil
}

// Enqueue appends the id to the stream.
func (q *Queue) Enqueue(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("job id is required")
	}
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: jobStream,
		Values: map[string]interface{}{"job_id": id},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// DequeueWithTimeout claims an abandoned delivery if there is one, otherwise
// reads a new message, blocking up to timeout.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout time.Duration) (string, error) {
	if id, err := q.claimAbandoned(ctx); err == nil && id != "" {
		return id, nil
	}

	if timeout <= 0 {
		timeout = time.Millisecond
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    jobGroup,
		Consumer: q.consumerName,
		Streams:  []string{jobStream, ">"},
		Count:    1,
		Block:    timeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read from stream: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return "", nil
	}

	return q.accept(ctx, streams[0].Messages[0]), nil
}

// accept records the delivery for Ack. Malformed messages are dropped.
func (q *Queue) accept(ctx context.Context, msg redis.XMessage) string {
	id, ok := msg.Values["job_id"].(string)
	if !ok || id == "" {
		q.client.XAck(ctx, jobStream, jobGroup, msg.ID)
		q.client.XDel(ctx, jobStream, msg.ID)
		return ""
	}

	q.mu.Lock()
	q.pending[id] = msg.ID
	q.mu.Unlock()
	return id
}

// Ack acknowledges and deletes the delivery of id.
func (q *Queue) Ack(ctx context.Context, id string) error {
	q.mu.Lock()
	msgID, ok := q.pending[id]
	delete(q.pending, id)
	q.mu.Unlock()

	if !ok {
		return nil
	}

	pipe := q.client.Pipeline()
	pipe.XAck(ctx, jobStream, jobGroup, msgID)
	pipe.XDel(ctx, jobStream, msgID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	return nil
}

// claimAbandoned takes over one delivery that another consumer left unacked
// for longer than claimAfter.
func (q *Queue) claimAbandoned(ctx context.Context) (string, error) {
	if q.claimAfter <= 0 {
		return "", nil
	}

	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: jobStream,
		Group:  jobGroup,
		Start:  "-",
		End:    "+",
		Count:  10,
		Idle:   q.claimAfter,
	}).Result()
	if err != nil {
		return "", err
	}

	for _, p := range pending {
		claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   jobStream,
			Group:    jobGroup,
			Consumer: q.consumerName,
			MinIdle:  q.claimAfter,
			Messages: []string{p.ID},
		}).Result()
		if err != nil || len(claimed) == 0 {
			continue
		}
		if id := q.accept(ctx, claimed[0]); id != "" {
			return id, nil
		}
	}
	return "", nil
}

// Len returns the number of messages in the stream, delivered or not.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.XLen(ctx, jobStream).Result()
}

// Ping checks if the queue backend is healthy.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close cleans up resources.
func (q *Queue) Close() error {
	// Redis client is shared, don't close it here
	return nil
}

func isGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
