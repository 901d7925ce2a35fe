package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-chat/internal/adapters/driven/ai"
	"github.com/custodia-labs/sercha-chat/internal/config"
	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/sercha-chat/internal/core/services"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.IndexDir = filepath.Join(dir, "index")
	cfg.UploadDir = filepath.Join(dir, "uploads")
	cfg.SQLite.Path = filepath.Join(dir, "data", "jobs.db")
	cfg.Worker.ID = "test-worker"
	cfg.Worker.DequeueTimeout = 20 * time.Millisecond
	cfg.Jobs.PollInterval = 10 * time.Millisecond
	cfg.Logging.Level = "error"
	cfg.Embedding = domain.EmbeddingSettings{Provider: domain.AIProviderLocal, Dimensions: 32}
	return cfg
}

func TestNew_MemoryBackend(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "test-worker", a.Worker.ID())
	assert.Equal(t, cfg.Index, a.Retriever.Index())
	assert.Equal(t, cfg.Memory.Turns, a.Memory.Capacity())
	assert.Nil(t, a.Auth, "auth stays off without a secret")

	caps := a.Services.Capabilities()
	assert.True(t, caps.Embedding)
	assert.False(t, caps.Generation, "gemini without a key is not configured")
	_, ok := a.Services.EmbeddingService().(*ai.HashEmbedding)
	assert.True(t, ok)

	for name, p := range a.Pingers() {
		assert.NoError(t, p.Ping(context.Background()), name)
	}

	for _, dir := range []string{cfg.DataDir, cfg.IndexDir, cfg.UploadDir} {
		_, err := os.Stat(dir)
		assert.NoError(t, err, "expected %s to exist", dir)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Jobs.Backend = "kafka"

	_, err := New(context.Background(), cfg)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNew_WithJWTSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = "s3cret"

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Auth)
	token, err := a.Auth.GenerateToken(domain.NewTokenClaims("alice", time.Hour))
	require.NoError(t, err)

	srv := a.NewServer("test")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/memory", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/memory", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestNew_SQLiteBackendRecoversPendingJobs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Jobs.Backend = config.BackendSQLite
	ctx := context.Background()

	// first run: a job is submitted but never picked up
	first, err := New(ctx, cfg, WithGenerator(mocks.NewMockTextGenerator()))
	require.NoError(t, err)
	id, err := first.Jobs.Submit(ctx, domain.JobKindGenerate, domain.GenerateInput{Question: "q"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// second run: recovery re-enqueues it and the pool finishes it
	second, err := New(ctx, cfg, WithGenerator(mocks.NewMockTextGenerator()))
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Start(ctx))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	job, err := second.Await(waitCtx, id, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateSucceeded, job.State)
	assert.NotEmpty(t, job.Result)
}

func TestApp_SecondProcessLeavesLiveJobRunning(t *testing.T) {
	cfg := testConfig(t)
	cfg.Jobs.Backend = config.BackendSQLite
	cfg.Worker.HeartbeatInterval = 10 * time.Millisecond
	cfg.Worker.Lease = 200 * time.Millisecond
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var startOnce, releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	slow := mocks.NewMockTextGenerator()
	slow.GenerateFn = func(ctx context.Context, question, history string, documents []string) (string, error) {
		startOnce.Do(func() { close(started) })
		select {
		case <-release:
			return "streams", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	first, err := New(ctx, cfg, WithGenerator(slow))
	require.NoError(t, err)
	defer first.Close()
	defer unblock()
	require.NoError(t, first.Start(ctx))

	id, err := first.Chat.Ask(ctx, "What carries job ids?")
	require.NoError(t, err)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("generation never started")
	}

	// a second process sharing the job log starts while the job runs
	secondCfg := *cfg
	secondCfg.Worker.ID = "other-worker"
	second, err := New(ctx, &secondCfg, WithGenerator(mocks.NewMockTextGenerator()))
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Start(ctx))

	// several leases pass; heartbeats keep the job alive
	time.Sleep(3 * cfg.Worker.Lease)
	job, err := second.Jobs.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateRunning, job.State)
	assert.Equal(t, "test-worker", job.Worker)

	unblock()
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	job, err = first.Await(waitCtx, id, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateSucceeded, job.State)
	assert.Equal(t, "streams", job.Result)

	history := first.Chat.History()
	require.Len(t, history, 2)
	assert.Equal(t, domain.RoleAssistant, history[1].Role)
	assert.Equal(t, "streams", history[1].Text)
	assert.Zero(t, first.Chat.Pending())
}

func TestApp_AbandonedRunningJobFailsAfterLease(t *testing.T) {
	cfg := testConfig(t)
	cfg.Jobs.Backend = config.BackendSQLite
	cfg.Worker.HeartbeatInterval = 10 * time.Millisecond
	cfg.Worker.Lease = 100 * time.Millisecond
	ctx := context.Background()

	// a process claims a job and dies without finishing it
	first, err := New(ctx, cfg, WithGenerator(mocks.NewMockTextGenerator()))
	require.NoError(t, err)
	id, err := first.Jobs.Submit(ctx, domain.JobKindGenerate, domain.GenerateInput{Question: "q"})
	require.NoError(t, err)
	_, err = first.store.MarkRunning(ctx, id, "dead-worker")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(ctx, cfg, WithGenerator(mocks.NewMockTextGenerator()))
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Start(ctx))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	job, err := second.Await(waitCtx, id, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, job.State)
	assert.Equal(t, services.InterruptedMessage, job.Error)
}

func TestNew_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Jobs.Backend = config.BackendRedis
	cfg.Redis.URL = "redis://" + mr.Addr()
	ctx := context.Background()

	a, err := New(ctx, cfg, WithGenerator(mocks.NewMockTextGenerator()))
	require.NoError(t, err)
	defer a.Close()

	info, err := a.Ingest.BuildIndex(ctx, cfg.Index, []domain.Chunk{{ID: 0, Text: "Redis streams carry job ids."}}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Count)

	require.NoError(t, a.Start(ctx))
	id, err := a.Chat.Ask(ctx, "What carries job ids?")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	job, err := a.Await(waitCtx, id, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateSucceeded, job.State)
	assert.Len(t, a.Chat.History(), 2)
}

func TestNew_RedisBackendWithSharedClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cfg := testConfig(t)
	cfg.Jobs.Backend = config.BackendRedis
	cfg.Redis.URL = "redis://unused:6379"

	a, err := New(context.Background(), cfg, WithRedisClient(client))
	require.NoError(t, err)
	require.NoError(t, a.Close())

	// the caller still owns the client
	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestNew_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t)
	cfg.Jobs.Backend = config.BackendRedis
	cfg.Redis.URL = "redis://" + addr

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestApp_ReopensPublishedIndexes(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	first, err := New(ctx, cfg)
	require.NoError(t, err)
	_, err = first.Ingest.BuildIndex(ctx, "docs", []domain.Chunk{{ID: 0, Text: "one"}, {ID: 1, Text: "two"}}, false)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(ctx, cfg)
	require.NoError(t, err)
	defer second.Close()

	info := second.Ingest.IndexInfo("docs")
	require.NotNil(t, info)
	assert.Equal(t, 2, info.Count)
	assert.Equal(t, 1, info.Version)
}

func TestApp_AwaitUnknownJob(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Await(context.Background(), "no-such-job", 0)
	assert.ErrorIs(t, err, domain.ErrUnknownJob)
}

func TestApp_AwaitHonoursContext(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), WithGenerator(mocks.NewMockTextGenerator()))
	require.NoError(t, err)
	defer a.Close()

	// worker never started, so the job stays PENDING
	id, err := a.Jobs.Submit(context.Background(), domain.JobKindGenerate, domain.GenerateInput{Question: "q"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	job, err := a.Await(ctx, id, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, job)
	assert.Equal(t, domain.JobStatePending, job.State)
}
