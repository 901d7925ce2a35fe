package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-chat/internal/adapters/driven/memory"
	queuememory "github.com/custodia-labs/sercha-chat/internal/adapters/driven/queue/memory"
	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/sercha-chat/internal/runtime"
	"github.com/custodia-labs/sercha-chat/internal/vectorindex"
)

const (
	testWorker = "worker-test"
	testLease  = time.Minute
)

type fixture struct {
	store    *memory.JobStore
	queue    *queuememory.Queue
	jobs     *Orchestrator
	index    *vectorindex.Store
	embedder *mocks.MockEmbeddingService
	gen      *mocks.MockTextGenerator
	services *runtime.Services
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewJobStore(),
		queue:    queuememory.NewQueue(),
		embedder: mocks.NewMockEmbeddingService(),
		gen:      mocks.NewMockTextGenerator(),
		services: runtime.NewServices(),
	}
	f.jobs = NewOrchestrator(f.store, f.queue, testLease, nil)
	f.services.SetEmbeddingService(f.embedder)
	f.services.SetTextGenerator(f.gen)

	idx, err := vectorindex.NewStore(vectorindex.StoreConfig{Root: t.TempDir()})
	require.NoError(t, err)
	f.index = idx
	return f
}

// seedIndex publishes texts as index "default".
func (f *fixture) seedIndex(t *testing.T, texts ...string) {
	t.Helper()
	chunks := make([]domain.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = domain.Chunk{ID: i, Text: text}
	}
	_, err := f.index.Build(context.Background(), "default", chunks, f.embedder.Embed)
	require.NoError(t, err)
}

// run moves a job through the store the way a worker does.
func (f *fixture) run(t *testing.T, id string, h func(context.Context, *domain.Job) (string, error)) {
	t.Helper()
	ctx := context.Background()
	job, err := f.store.MarkRunning(ctx, id, testWorker)
	require.NoError(t, err)

	out := domain.Outcome{State: domain.JobStateSucceeded, Attempts: 1}
	result, err := h(ctx, job)
	if err != nil {
		out.State = domain.JobStateFailed
		out.Error = err.Error()
	} else {
		out.Result = result
	}
	require.NoError(t, f.store.Complete(ctx, id, out))
}

// seedRunning stores a job that worker started at started and last
// renewed at beat (nil for never), as a crashed or live process leaves it.
func (f *fixture) seedRunning(t *testing.T, worker string, started time.Time, beat *time.Time) string {
	t.Helper()
	job, err := domain.NewJob(domain.JobKindGenerate, domain.GenerateInput{Question: "q"})
	require.NoError(t, err)
	job.State = domain.JobStateRunning
	job.Worker = worker
	job.StartedAt = &started
	job.HeartbeatAt = beat
	require.NoError(t, f.store.Create(context.Background(), job))
	return job.ID
}

type failingQueue struct {
	*queuememory.Queue
}

func (failingQueue) Enqueue(context.Context, string) error {
	return errors.New("queue down")
}
