package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

const (
	// Key prefixes
	jobKeyPrefix   = "sercha:job:"
	stateKeyPrefix = "sercha:jobs:"
)

// Verify interface compliance
var _ driven.JobStore = (*JobStore)(nil)

// JobStore implements driven.JobStore with one hash per job and one set per state.
// State changes run as Lua scripts so the check and the write are atomic.
type JobStore struct {
	client *redis.Client
}

// NewJobStore creates a new Redis-backed job store.
func NewJobStore(client *redis.Client) (*JobStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &JobStore{client: client}, nil
}

// createScript stores the job hash and indexes it as PENDING unless the id is taken.
var createScript = redis.NewScript(`
	if redis.call("exists", KEYS[1]) == 1 then
		return 0
	end
	redis.call("hset", KEYS[1], unpack(ARGV, 2))
	redis.call("sadd", KEYS[2], ARGV[1])
	return 1
`)

// transitionScript moves a job between states if it is still in the expected one.
// Returns -1 for an unknown job, 0 if the state changed underneath, 1 on success.
var transitionScript = redis.NewScript(`
	local state = redis.call("hget", KEYS[1], "state")
	if not state then
		return -1
	end
	if state ~= ARGV[1] then
		return 0
	end
	redis.call("hset", KEYS[1], unpack(ARGV, 3))
	redis.call("smove", KEYS[2], KEYS[3], ARGV[2])
	return 1
`)

// heartbeatScript renews the lease if the job is still RUNNING on the caller.
// seen_ms mirrors the last sign of life in unix milliseconds for expireScript.
var heartbeatScript = redis.NewScript(`
	local state = redis.call("hget", KEYS[1], "state")
	if not state then
		return -1
	end
	if state ~= ARGV[1] or redis.call("hget", KEYS[1], "worker") ~= ARGV[2] then
		return 0
	end
	redis.call("hset", KEYS[1], "heartbeat_at", ARGV[3], "seen_ms", ARGV[4])
	return 1
`)

// expireScript fails a RUNNING job whose seen_ms is older than the cutoff.
var expireScript = redis.NewScript(`
	local state = redis.call("hget", KEYS[1], "state")
	if not state then
		return -1
	end
	if state ~= ARGV[1] then
		return 0
	end
	local seen = tonumber(redis.call("hget", KEYS[1], "seen_ms") or "0")
	if seen >= tonumber(ARGV[3]) then
		return 0
	end
	redis.call("hset", KEYS[1], unpack(ARGV, 4))
	redis.call("smove", KEYS[2], KEYS[3], ARGV[2])
	return 1
`)

// Create stores a new PENDING job.
func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("%w: job with id is required", domain.ErrInvalidInput)
	}

	args := []interface{}{job.ID,
		"id", job.ID,
		"kind", string(job.Kind),
		"state", string(job.State),
		"input", string(job.Input),
		"attempts", job.Attempts,
		"created_at", job.CreatedAt.Format(time.RFC3339Nano),
	}
	created, err := createScript.Run(ctx, s.client, []string{jobKey(job.ID), stateKey(job.State)}, args...).Int()
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("%w: job %s already exists", domain.ErrInvalidInput, job.ID)
	}
	return nil
}

// Get retrieves a job by ID.
func (s *JobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	fields, err := s.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}
	return decodeJob(fields)
}

// MarkRunning moves a PENDING job to RUNNING.
func (s *JobStore) MarkRunning(ctx context.Context, id, worker string) (*domain.Job, error) {
	now := time.Now().UTC()
	if err := s.transition(ctx, id, domain.JobStatePending, domain.JobStateRunning,
		"state", string(domain.JobStateRunning),
		"worker", worker,
		"started_at", now.Format(time.RFC3339Nano),
		"seen_ms", now.UnixMilli(),
	); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Complete records the terminal outcome of a RUNNING job.
func (s *JobStore) Complete(ctx context.Context, id string, outcome domain.Outcome) error {
	if !outcome.State.IsTerminal() {
		return fmt.Errorf("%w: outcome state %s is not terminal", domain.ErrInvalidTransition, outcome.State)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.transition(ctx, id, domain.JobStateRunning, outcome.State,
		"state", string(outcome.State),
		"result", outcome.Result,
		"error", outcome.Error,
		"attempts", outcome.Attempts,
		"completed_at", now,
	)
}

// Heartbeat renews the lease of a RUNNING job held by worker.
func (s *JobStore) Heartbeat(ctx context.Context, id, worker string) error {
	now := time.Now().UTC()
	res, err := heartbeatScript.Run(ctx, s.client, []string{jobKey(id)},
		string(domain.JobStateRunning), worker, now.Format(time.RFC3339Nano), now.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("heartbeat job %s: %w", id, err)
	}
	switch res {
	case -1:
		return domain.ErrNotFound
	case 0:
		return fmt.Errorf("%w: job %s is no longer running on %s", domain.ErrInvalidTransition, id, worker)
	}
	return nil
}

// Expire fails a RUNNING job last seen before cutoff.
func (s *JobStore) Expire(ctx context.Context, id string, cutoff time.Time, message string) error {
	keys := []string{jobKey(id), stateKey(domain.JobStateRunning), stateKey(domain.JobStateFailed)}
	res, err := expireScript.Run(ctx, s.client, keys,
		string(domain.JobStateRunning), id, cutoff.UnixMilli(),
		"state", string(domain.JobStateFailed),
		"error", message,
		"completed_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("expire job %s: %w", id, err)
	}
	switch res {
	case -1:
		return domain.ErrNotFound
	case 0:
		return fmt.Errorf("%w: job %s is not running or was seen after %s", domain.ErrInvalidTransition, id, cutoff.Format(time.RFC3339Nano))
	}
	return nil
}

// Abandon fails a PENDING job.
func (s *JobStore) Abandon(ctx context.Context, id, message string) error {
	return s.transition(ctx, id, domain.JobStatePending, domain.JobStateFailed,
		"state", string(domain.JobStateFailed),
		"error", message,
		"completed_at", time.Now().UTC().Format(time.RFC3339Nano),
	)
}

func (s *JobStore) transition(ctx context.Context, id string, from, to domain.JobState, fields ...interface{}) error {
	args := append([]interface{}{string(from), id}, fields...)
	res, err := transitionScript.Run(ctx, s.client, []string{jobKey(id), stateKey(from), stateKey(to)}, args...).Int()
	if err != nil {
		return fmt.Errorf("transition job %s: %w", id, err)
	}
	switch res {
	case -1:
		return domain.ErrNotFound
	case 0:
		return fmt.Errorf("%w: job %s is no longer %s", domain.ErrInvalidTransition, id, from)
	}
	return nil
}

// List returns jobs in state, oldest first.
func (s *JobStore) List(ctx context.Context, state domain.JobState) ([]*domain.Job, error) {
	ids, err := s.client.SMembers(ctx, stateKey(state)).Result()
	if err != nil {
		return nil, fmt.Errorf("list job ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, jobKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		job, err := decodeJob(fields)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// Stats returns job counts by state.
func (s *JobStore) Stats(ctx context.Context) (*domain.JobStats, error) {
	pipe := s.client.Pipeline()
	pending := pipe.SCard(ctx, stateKey(domain.JobStatePending))
	running := pipe.SCard(ctx, stateKey(domain.JobStateRunning))
	succeeded := pipe.SCard(ctx, stateKey(domain.JobStateSucceeded))
	failed := pipe.SCard(ctx, stateKey(domain.JobStateFailed))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return &domain.JobStats{
		Pending:   pending.Val(),
		Running:   running.Val(),
		Succeeded: succeeded.Val(),
		Failed:    failed.Val(),
	}, nil
}

// Ping checks if Redis is reachable.
func (s *JobStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the client is owned by the caller.
func (s *JobStore) Close() error {
	return nil
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func stateKey(state domain.JobState) string {
	return stateKeyPrefix + string(state)
}

func decodeJob(fields map[string]string) (*domain.Job, error) {
	job := &domain.Job{
		ID:     fields["id"],
		Kind:   domain.JobKind(fields["kind"]),
		State:  domain.JobState(fields["state"]),
		Input:  json.RawMessage(fields["input"]),
		Result: fields["result"],
		Error:  fields["error"],
		Worker: fields["worker"],
	}
	if v := fields["attempts"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("decode job %s attempts: %w", job.ID, err)
		}
		job.Attempts = n
	}

	var err error
	if job.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("decode job %s created_at: %w", job.ID, err)
	}
	if job.StartedAt, err = parseOptionalTime(fields["started_at"]); err != nil {
		return nil, fmt.Errorf("decode job %s started_at: %w", job.ID, err)
	}
	if job.HeartbeatAt, err = parseOptionalTime(fields["heartbeat_at"]); err != nil {
		return nil, fmt.Errorf("decode job %s heartbeat_at: %w", job.ID, err)
	}
	if job.CompletedAt, err = parseOptionalTime(fields["completed_at"]); err != nil {
		return nil, fmt.Errorf("decode job %s completed_at: %w", job.ID, err)
	}
	return job, nil
}

func parseOptionalTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
