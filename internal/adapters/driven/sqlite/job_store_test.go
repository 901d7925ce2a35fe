package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-chat/internal/adapters/driven/jobstoretest"
	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

func openTestStore(t *testing.T, path string) *JobStore {
	t.Helper()
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestJobStore(t *testing.T) {
	jobstoretest.Run(t, func(t *testing.T) driven.JobStore {
		return openTestStore(t, filepath.Join(t.TempDir(), "jobs.db"))
	})
}

func TestJobStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "jobs.db")

	first, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, first.Path())

	job, err := domain.NewJob(domain.JobKindGenerate, domain.GenerateInput{Question: "q"})
	require.NoError(t, err)
	require.NoError(t, first.Create(ctx, job))
	_, err = first.MarkRunning(ctx, job.ID, "worker-a")
	require.NoError(t, err)
	require.NoError(t, first.Complete(ctx, job.ID, domain.Outcome{
		State:    domain.JobStateSucceeded,
		Result:   "answer",
		Attempts: 1,
	}))
	require.NoError(t, first.Close())

	second := openTestStore(t, path)
	got, err := second.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateSucceeded, got.State)
	assert.Equal(t, "answer", got.Result)
	assert.Equal(t, "worker-a", got.Worker)
	assert.JSONEq(t, string(job.Input), string(got.Input))
	assert.True(t, job.CreatedAt.Equal(got.CreatedAt))
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
}

func TestOpen_AddsHeartbeatColumnToOlderFiles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")

	old, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = old.Exec(`CREATE TABLE jobs (
		id TEXT PRIMARY KEY, kind TEXT NOT NULL, state TEXT NOT NULL, input BLOB NOT NULL,
		result TEXT NOT NULL DEFAULT '', error TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0, worker TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL, started_at INTEGER, completed_at INTEGER)`)
	require.NoError(t, err)
	require.NoError(t, old.Close())

	s := openTestStore(t, path)
	job, err := domain.NewJob(domain.JobKindGenerate, domain.GenerateInput{Question: "q"})
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, job))
	_, err = s.MarkRunning(ctx, job.ID, "worker-a")
	require.NoError(t, err)
	require.NoError(t, s.Heartbeat(ctx, job.ID, "worker-a"))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.HeartbeatAt)

	// opening again is a no-op
	require.NoError(t, s.Close())
	openTestStore(t, path)
}
