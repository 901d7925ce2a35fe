package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, client *redis.Client, consumer string, opts ...Option) *Queue {
	t.Helper()
	q, err := NewQueue(context.Background(), client, consumer, opts...)
	require.NoError(t, err)
	return q
}

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestNewQueue_RequiresClient(t *testing.T) {
	_, err := NewQueue(context.Background(), nil, "w")
	assert.Error(t, err)
}

func TestNewQueue_GroupAlreadyExists(t *testing.T) {
	_, client := newClient(t)
	newTestQueue(t, client, "a")
	newTestQueue(t, client, "b")
}

func TestQueue_EnqueueDequeueAck(t *testing.T) {
	mr, client := newClient(t)
	q := newTestQueue(t, client, "worker-1")
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job-1"))
	require.NoError(t, q.Enqueue(ctx, "job-2"))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	id, err := q.DequeueWithTimeout(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
	require.NoError(t, q.Ack(ctx, id))

	id, err = q.DequeueWithTimeout(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "job-2", id)
	require.NoError(t, q.Ack(ctx, id))

	entries, err := mr.Stream(jobStream)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestQueue_EmptyReturnsNothing(t *testing.T) {
	_, client := newClient(t)
	q := newTestQueue(t, client, "worker-1")

	id, err := q.DequeueWithTimeout(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestQueue_EachMessageGoesToOneConsumer(t *testing.T) {
	_, client := newClient(t)
	a := newTestQueue(t, client, "a")
	b := newTestQueue(t, client, "b")
	ctx := context.Background()

	require.NoError(t, a.Enqueue(ctx, "job-1"))

	id, err := a.DequeueWithTimeout(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)

	id, err = b.DequeueWithTimeout(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestQueue_ClaimsAbandonedDelivery(t *testing.T) {
	_, client := newClient(t)
	crashed := newTestQueue(t, client, "crashed", WithClaimAfter(5*time.Millisecond))
	survivor := newTestQueue(t, client, "survivor", WithClaimAfter(5*time.Millisecond))
	ctx := context.Background()

	require.NoError(t, crashed.Enqueue(ctx, "job-1"))
	id, err := crashed.DequeueWithTimeout(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "job-1", id)

	time.Sleep(20 * time.Millisecond)

	id, err = survivor.DequeueWithTimeout(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
	require.NoError(t, survivor.Ack(ctx, id))
}

func TestQueue_AckUnknownIsNoop(t *testing.T) {
	_, client := newClient(t)
	q := newTestQueue(t, client, "worker-1")
	assert.NoError(t, q.Ack(context.Background(), "never-delivered"))
	assert.NoError(t, q.Ping(context.Background()))
	assert.NoError(t, q.Close())
}
