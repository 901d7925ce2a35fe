// Package jobstoretest holds behaviour tests shared by every JobStore adapter.
package jobstoretest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

// Run exercises a JobStore implementation. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) driven.JobStore) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("GetUnknown", func(t *testing.T) { testGetUnknown(t, newStore(t)) })
	t.Run("Lifecycle", func(t *testing.T) { testLifecycle(t, newStore(t)) })
	t.Run("FailedOutcome", func(t *testing.T) { testFailedOutcome(t, newStore(t)) })
	t.Run("CompleteRequiresRunning", func(t *testing.T) { testCompleteRequiresRunning(t, newStore(t)) })
	t.Run("TerminalIsFinal", func(t *testing.T) { testTerminalIsFinal(t, newStore(t)) })
	t.Run("MarkRunningOnce", func(t *testing.T) { testMarkRunningOnce(t, newStore(t)) })
	t.Run("ListAndStats", func(t *testing.T) { testListAndStats(t, newStore(t)) })
	t.Run("Heartbeat", func(t *testing.T) { testHeartbeat(t, newStore(t)) })
	t.Run("Expire", func(t *testing.T) { testExpire(t, newStore(t)) })
	t.Run("ExpireRespectsHeartbeat", func(t *testing.T) { testExpireRespectsHeartbeat(t, newStore(t)) })
	t.Run("Abandon", func(t *testing.T) { testAbandon(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, newStore(t).Ping(context.Background())) })
}

func newJob(t *testing.T, kind domain.JobKind) *domain.Job {
	t.Helper()
	var input any = domain.GenerateInput{Question: "why?", Context: "User: why?", Documents: []string{"because"}}
	if kind == domain.JobKindIngest {
		input = domain.IngestInput{Path: "/tmp/doc.pdf", Index: "default", MaxSentences: 5}
	}
	job, err := domain.NewJob(kind, input)
	require.NoError(t, err)
	return job
}

func testCreateAndGet(t *testing.T, s driven.JobStore) {
	ctx := context.Background()
	job := newJob(t, domain.JobKindGenerate)
	require.NoError(t, s.Create(ctx, job))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, domain.JobKindGenerate, got.Kind)
	assert.Equal(t, domain.JobStatePending, got.State)
	assert.JSONEq(t, string(job.Input), string(got.Input))
	assert.WithinDuration(t, job.CreatedAt, got.CreatedAt, time.Second)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
}

func testGetUnknown(t *testing.T, s driven.JobStore) {
	_, err := s.Get(context.Background(), "never-issued")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.MarkRunning(context.Background(), "never-issued", "worker-a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testLifecycle(t *testing.T, s driven.JobStore) {
	ctx := context.Background()
	job := newJob(t, domain.JobKindGenerate)
	require.NoError(t, s.Create(ctx, job))

	running, err := s.MarkRunning(ctx, job.ID, "worker-a")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateRunning, running.State)
	assert.Equal(t, "worker-a", running.Worker)
	assert.NotNil(t, running.StartedAt)

	require.NoError(t, s.Complete(ctx, job.ID, domain.Outcome{
		State:    domain.JobStateSucceeded,
		Result:   "forty-two",
		Attempts: 1,
	}))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateSucceeded, got.State)
	assert.Equal(t, "forty-two", got.Result)
	assert.Equal(t, 1, got.Attempts)
	assert.NotNil(t, got.CompletedAt)
}

func testFailedOutcome(t *testing.T, s driven.JobStore) {
	ctx := context.Background()
	job := newJob(t, domain.JobKindIngest)
	require.NoError(t, s.Create(ctx, job))
	_, err := s.MarkRunning(ctx, job.ID, "worker-a")
	require.NoError(t, err)

	require.NoError(t, s.Complete(ctx, job.ID, domain.Outcome{
		State:    domain.JobStateFailed,
		Error:    "extraction failed: not a pdf",
		Attempts: 1,
	}))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, got.State)
	assert.Equal(t, "extraction failed: not a pdf", got.Error)
	assert.Empty(t, got.Result)
}

func testCompleteRequiresRunning(t *testing.T, s driven.JobStore) {
	ctx := context.Background()
	job := newJob(t, domain.JobKindGenerate)
	require.NoError(t, s.Create(ctx, job))

	err := s.Complete(ctx, job.ID, domain.Outcome{State: domain.JobStateSucceeded, Result: "early"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatePending, got.State)
}

func testTerminalIsFinal(t *testing.T, s driven.JobStore) {
	ctx := context.Background()
	job := newJob(t, domain.JobKindGenerate)
	require.NoError(t, s.Create(ctx, job))
	_, err := s.MarkRunning(ctx, job.ID, "worker-a")
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, job.ID, domain.Outcome{State: domain.JobStateSucceeded, Result: "first"}))

	err = s.Complete(ctx, job.ID, domain.Outcome{State: domain.JobStateFailed, Error: "second"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = s.MarkRunning(ctx, job.ID, "worker-a")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateSucceeded, got.State)
	assert.Equal(t, "first", got.Result)
}

// Many workers racing for the same job: exactly one wins.
func testMarkRunningOnce(t *testing.T, s driven.JobStore) {
	ctx := context.Background()
	job := newJob(t, domain.JobKindGenerate)
	require.NoError(t, s.Create(ctx, job))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.MarkRunning(ctx, job.ID, "worker-a"); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, domain.ErrInvalidTransition)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func testListAndStats(t *testing.T, s driven.JobStore) {
	ctx := context.Background()

	pending1 := newJob(t, domain.JobKindGenerate)
	require.NoError(t, s.Create(ctx, pending1))
	time.Sleep(2 * time.Millisecond)
	pending2 := newJob(t, domain.JobKindIngest)
	require.NoError(t, s.Create(ctx, pending2))
	running := newJob(t, domain.JobKindGenerate)
	require.NoError(t, s.Create(ctx, running))
	_, err := s.MarkRunning(ctx, running.ID, "worker-a")
	require.NoError(t, err)

	pending, err := s.List(ctx, domain.JobStatePending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, pending1.ID, pending[0].ID)
	assert.Equal(t, pending2.ID, pending[1].ID)

	runningJobs, err := s.List(ctx, domain.JobStateRunning)
	require.NoError(t, err)
	require.Len(t, runningJobs, 1)
	assert.Equal(t, running.ID, runningJobs[0].ID)
	assert.Equal(t, "worker-a", runningJobs[0].Worker)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Pending)
	assert.Equal(t, int64(1), stats.Running)
	assert.Equal(t, int64(0), stats.Succeeded)
	assert.Equal(t, int64(0), stats.Failed)
}

func testHeartbeat(t *testing.T, s driven.JobStore) {
	ctx := context.Background()
	job := newJob(t, domain.JobKindGenerate)
	require.NoError(t, s.Create(ctx, job))

	err := s.Heartbeat(ctx, job.ID, "worker-a")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "PENDING jobs have no lease")
	assert.ErrorIs(t, s.Heartbeat(ctx, "never-issued", "worker-a"), domain.ErrNotFound)

	_, err = s.MarkRunning(ctx, job.ID, "worker-a")
	require.NoError(t, err)

	before := time.Now().Add(-time.Second)
	require.NoError(t, s.Heartbeat(ctx, job.ID, "worker-a"))
	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.HeartbeatAt)
	assert.True(t, got.HeartbeatAt.After(before))
	assert.Equal(t, domain.JobStateRunning, got.State)

	err = s.Heartbeat(ctx, job.ID, "worker-b")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "only the holder renews the lease")

	require.NoError(t, s.Complete(ctx, job.ID, domain.Outcome{State: domain.JobStateSucceeded, Result: "done"}))
	err = s.Heartbeat(ctx, job.ID, "worker-a")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "terminal jobs have no lease")
}

func testExpire(t *testing.T, s driven.JobStore) {
	ctx := context.Background()
	job := newJob(t, domain.JobKindGenerate)
	require.NoError(t, s.Create(ctx, job))

	err := s.Expire(ctx, job.ID, time.Now().Add(time.Hour), "interrupted")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "PENDING jobs do not expire")
	assert.ErrorIs(t, s.Expire(ctx, "never-issued", time.Now(), "interrupted"), domain.ErrNotFound)

	_, err = s.MarkRunning(ctx, job.ID, "worker-a")
	require.NoError(t, err)

	err = s.Expire(ctx, job.ID, time.Now().Add(-time.Hour), "interrupted")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "a job started after the cutoff is live")

	require.NoError(t, s.Expire(ctx, job.ID, time.Now().Add(time.Hour), "interrupted"))
	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, got.State)
	assert.Equal(t, "interrupted", got.Error)
	assert.NotNil(t, got.CompletedAt)

	// the worker that lost the lease cannot record its outcome
	err = s.Complete(ctx, job.ID, domain.Outcome{State: domain.JobStateSucceeded, Result: "late"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Running)
	assert.Equal(t, int64(1), stats.Failed)
}

func testExpireRespectsHeartbeat(t *testing.T, s driven.JobStore) {
	ctx := context.Background()
	job := newJob(t, domain.JobKindGenerate)
	require.NoError(t, s.Create(ctx, job))
	_, err := s.MarkRunning(ctx, job.ID, "worker-a")
	require.NoError(t, err)

	// a cutoff between the start and the heartbeat leaves the job alone
	time.Sleep(20 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Heartbeat(ctx, job.ID, "worker-a"))

	err = s.Expire(ctx, job.ID, cutoff, "interrupted")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateRunning, got.State)
}

func testAbandon(t *testing.T, s driven.JobStore) {
	ctx := context.Background()
	job := newJob(t, domain.JobKindIngest)
	require.NoError(t, s.Create(ctx, job))

	require.NoError(t, s.Abandon(ctx, job.ID, "enqueue failed"))
	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, got.State)
	assert.Equal(t, "enqueue failed", got.Error)

	_, err = s.MarkRunning(ctx, job.ID, "worker-a")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "abandoned jobs never run")

	running := newJob(t, domain.JobKindGenerate)
	require.NoError(t, s.Create(ctx, running))
	_, err = s.MarkRunning(ctx, running.ID, "worker-a")
	require.NoError(t, err)
	assert.ErrorIs(t, s.Abandon(ctx, running.ID, "too late"), domain.ErrInvalidTransition)
	assert.ErrorIs(t, s.Abandon(ctx, "never-issued", "x"), domain.ErrNotFound)
}
