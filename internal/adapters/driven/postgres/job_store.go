package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

// Ensure JobStore implements driven.JobStore
var _ driven.JobStore = (*JobStore)(nil)

const jobColumns = `id, kind, state, input, result, error, attempts, worker, created_at, started_at, heartbeat_at, completed_at`

// JobStore implements driven.JobStore on the jobs table.
// Transitions are conditional UPDATEs on the current state.
type JobStore struct {
	db *DB
}

// NewJobStore creates a new PostgreSQL job store.
// Assumes InitSchema has run.
func NewJobStore(db *DB) *JobStore {
	return &JobStore{db: db}
}

// Create stores a new PENDING job
func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("%w: job with id is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO jobs (id, kind, state, input, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query,
		job.ID,
		string(job.Kind),
		string(job.State),
		[]byte(job.Input),
		job.Attempts,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: job %s already exists", domain.ErrInvalidInput, job.ID)
	}
	return nil
}

// Get retrieves a job by ID
func (s *JobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// MarkRunning moves a PENDING job to RUNNING
func (s *JobStore) MarkRunning(ctx context.Context, id, worker string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET state = $1, worker = $2, started_at = $3
		WHERE id = $4 AND state = $5
		RETURNING ` + jobColumns

	job, err := scanJob(s.db.QueryRowContext(ctx, query,
		string(domain.JobStateRunning),
		worker,
		time.Now().UTC(),
		id,
		string(domain.JobStatePending),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.transitionError(ctx, id, domain.JobStatePending)
	}
	if err != nil {
		return nil, fmt.Errorf("mark job running: %w", err)
	}
	return job, nil
}

// Complete records the terminal outcome of a RUNNING job
func (s *JobStore) Complete(ctx context.Context, id string, outcome domain.Outcome) error {
	if !outcome.State.IsTerminal() {
		return fmt.Errorf("%w: outcome state %s is not terminal", domain.ErrInvalidTransition, outcome.State)
	}

	query := `
		UPDATE jobs
		SET state = $1, result = $2, error = $3, attempts = $4, completed_at = $5
		WHERE id = $6 AND state = $7
	`
	result, err := s.db.ExecContext(ctx, query,
		string(outcome.State),
		outcome.Result,
		outcome.Error,
		outcome.Attempts,
		time.Now().UTC(),
		id,
		string(domain.JobStateRunning),
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return s.transitionError(ctx, id, domain.JobStateRunning)
	}
	return nil
}

// Heartbeat renews the lease of a RUNNING job held by worker
func (s *JobStore) Heartbeat(ctx context.Context, id, worker string) error {
	query := `
		UPDATE jobs
		SET heartbeat_at = $1
		WHERE id = $2 AND state = $3 AND worker = $4
	`
	result, err := s.db.ExecContext(ctx, query,
		time.Now().UTC(),
		id,
		string(domain.JobStateRunning),
		worker,
	)
	if err != nil {
		return fmt.Errorf("record heartbeat: %w", err)
	}
	return s.checkRows(ctx, result, id, domain.JobStateRunning)
}

// Expire fails a RUNNING job last seen before cutoff
func (s *JobStore) Expire(ctx context.Context, id string, cutoff time.Time, message string) error {
	query := `
		UPDATE jobs
		SET state = $1, error = $2, completed_at = $3
		WHERE id = $4 AND state = $5 AND COALESCE(heartbeat_at, started_at, created_at) < $6
	`
	result, err := s.db.ExecContext(ctx, query,
		string(domain.JobStateFailed),
		message,
		time.Now().UTC(),
		id,
		string(domain.JobStateRunning),
		cutoff.UTC(),
	)
	if err != nil {
		return fmt.Errorf("expire job: %w", err)
	}
	return s.checkRows(ctx, result, id, domain.JobStateRunning)
}

// Abandon fails a PENDING job
func (s *JobStore) Abandon(ctx context.Context, id, message string) error {
	query := `
		UPDATE jobs
		SET state = $1, error = $2, completed_at = $3
		WHERE id = $4 AND state = $5
	`
	result, err := s.db.ExecContext(ctx, query,
		string(domain.JobStateFailed),
		message,
		time.Now().UTC(),
		id,
		string(domain.JobStatePending),
	)
	if err != nil {
		return fmt.Errorf("abandon job: %w", err)
	}
	return s.checkRows(ctx, result, id, domain.JobStatePending)
}

func (s *JobStore) checkRows(ctx context.Context, result sql.Result, id string, expected domain.JobState) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return s.transitionError(ctx, id, expected)
	}
	return nil
}

// transitionError explains why a conditional update matched no row.
func (s *JobStore) transitionError(ctx context.Context, id string, expected domain.JobState) error {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = $1`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job state: %w", err)
	}
	return fmt.Errorf("%w: job %s is %s, expected %s", domain.ErrInvalidTransition, id, state, expected)
}

// List returns jobs in state, oldest first
func (s *JobStore) List(ctx context.Context, state domain.JobState) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE state = $1 ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, string(state))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Stats returns job counts by state
func (s *JobStore) Stats(ctx context.Context) (*domain.JobStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := &domain.JobStats{}
	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		switch domain.JobState(state) {
		case domain.JobStatePending:
			stats.Pending = count
		case domain.JobStateRunning:
			stats.Running = count
		case domain.JobStateSucceeded:
			stats.Succeeded = count
		case domain.JobStateFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// Ping checks if the database is reachable
func (s *JobStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close is a no-op; the pool is owned by the caller
func (s *JobStore) Close() error {
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var kind, state string
	var input []byte
	var startedAt, heartbeatAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&kind,
		&state,
		&input,
		&job.Result,
		&job.Error,
		&job.Attempts,
		&job.Worker,
		&job.CreatedAt,
		&startedAt,
		&heartbeatAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Kind = domain.JobKind(kind)
	job.State = domain.JobState(state)
	job.Input = input
	job.CreatedAt = job.CreatedAt.UTC()
	job.StartedAt = TimePtr(startedAt)
	job.HeartbeatAt = TimePtr(heartbeatAt)
	job.CompletedAt = TimePtr(completedAt)
	return &job, nil
}
