// Package sqlite keeps the job log in a single SQLite file so a standalone
// process can recover its jobs after a restart.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

// Ensure JobStore implements driven.JobStore
var _ driven.JobStore = (*JobStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	state        TEXT NOT NULL,
	input        BLOB NOT NULL,
	result       TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	attempts     INTEGER NOT NULL DEFAULT 0,
	worker       TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	started_at   INTEGER,
	heartbeat_at INTEGER,
	completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_jobs_state_created ON jobs (state, created_at);
`

const jobColumns = `id, kind, state, input, result, error, attempts, worker, created_at, started_at, heartbeat_at, completed_at`

// JobStore implements driven.JobStore on SQLite.
// Timestamps are stored as unix nanoseconds.
type JobStore struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the job database at path.
func Open(path string) (*JobStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// one writer at a time; transitions rely on it
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &JobStore{db: db, path: path}, nil
}

// migrate adds columns introduced after a database file was first created.
func migrate(db *sql.DB) error {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('jobs') WHERE name = 'heartbeat_at'`).Scan(&n)
	if err != nil {
		return err
	}
	if n == 0 {
		_, err = db.Exec(`ALTER TABLE jobs ADD COLUMN heartbeat_at INTEGER`)
	}
	return err
}

// Path returns the database file path.
func (s *JobStore) Path() string {
	return s.path
}

// Create stores a new PENDING job.
func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("%w: job with id is required", domain.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO jobs (id, kind, state, input, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Kind), string(job.State), []byte(job.Input), job.Attempts, job.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: job %s already exists", domain.ErrInvalidInput, job.ID)
	}
	return nil
}

// Get retrieves a job by ID.
func (s *JobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return job, nil
}

// MarkRunning moves a PENDING job to RUNNING.
func (s *JobStore) MarkRunning(ctx context.Context, id, worker string) (*domain.Job, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, worker = ?, started_at = ?
		WHERE id = ? AND state = ?`,
		string(domain.JobStateRunning), worker, time.Now().UTC().UnixNano(), id, string(domain.JobStatePending),
	)
	if err != nil {
		return nil, fmt.Errorf("marking job running: %w", err)
	}
	if err := s.checkTransition(ctx, result, id, domain.JobStatePending); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Complete records the terminal outcome of a RUNNING job.
func (s *JobStore) Complete(ctx context.Context, id string, outcome domain.Outcome) error {
	if !outcome.State.IsTerminal() {
		return fmt.Errorf("%w: outcome state %s is not terminal", domain.ErrInvalidTransition, outcome.State)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, result = ?, error = ?, attempts = ?, completed_at = ?
		WHERE id = ? AND state = ?`,
		string(outcome.State), outcome.Result, outcome.Error, outcome.Attempts, time.Now().UTC().UnixNano(),
		id, string(domain.JobStateRunning),
	)
	if err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	return s.checkTransition(ctx, result, id, domain.JobStateRunning)
}

// Heartbeat renews the lease of a RUNNING job held by worker.
func (s *JobStore) Heartbeat(ctx context.Context, id, worker string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET heartbeat_at = ?
		WHERE id = ? AND state = ? AND worker = ?`,
		time.Now().UTC().UnixNano(), id, string(domain.JobStateRunning), worker,
	)
	if err != nil {
		return fmt.Errorf("recording heartbeat: %w", err)
	}
	return s.checkTransition(ctx, result, id, domain.JobStateRunning)
}

// Expire fails a RUNNING job last seen before cutoff.
func (s *JobStore) Expire(ctx context.Context, id string, cutoff time.Time, message string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, error = ?, completed_at = ?
		WHERE id = ? AND state = ? AND COALESCE(heartbeat_at, started_at, created_at) < ?`,
		string(domain.JobStateFailed), message, time.Now().UTC().UnixNano(),
		id, string(domain.JobStateRunning), cutoff.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("expiring job: %w", err)
	}
	return s.checkTransition(ctx, result, id, domain.JobStateRunning)
}

// Abandon fails a PENDING job.
func (s *JobStore) Abandon(ctx context.Context, id, message string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, error = ?, completed_at = ?
		WHERE id = ? AND state = ?`,
		string(domain.JobStateFailed), message, time.Now().UTC().UnixNano(),
		id, string(domain.JobStatePending),
	)
	if err != nil {
		return fmt.Errorf("abandoning job: %w", err)
	}
	return s.checkTransition(ctx, result, id, domain.JobStatePending)
}

func (s *JobStore) checkTransition(ctx context.Context, result sql.Result, id string, expected domain.JobState) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var state string
	err = s.db.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = ?`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("getting job state: %w", err)
	}
	return fmt.Errorf("%w: job %s is %s, expected %s", domain.ErrInvalidTransition, id, state, expected)
}

// List returns jobs in state, oldest first.
func (s *JobStore) List(ctx context.Context, state domain.JobState) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE state = ? ORDER BY created_at ASC, id ASC`, string(state))
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Stats returns job counts by state.
func (s *JobStore) Stats(ctx context.Context) (*domain.JobStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("counting jobs: %w", err)
	}
	defer rows.Close()

	stats := &domain.JobStats{}
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scanning job stats: %w", err)
		}
		switch domain.JobState(state) {
		case domain.JobStatePending:
			stats.Pending = n
		case domain.JobStateRunning:
			stats.Running = n
		case domain.JobStateSucceeded:
			stats.Succeeded = n
		case domain.JobStateFailed:
			stats.Failed = n
		}
	}
	return stats, rows.Err()
}

// Ping checks the database handle.
func (s *JobStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *JobStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job                domain.Job
		kind, state        string
		input              []byte
		created            int64
		started, heartbeat sql.NullInt64
		completed          sql.NullInt64
	)
	err := row.Scan(&job.ID, &kind, &state, &input, &job.Result, &job.Error,
		&job.Attempts, &job.Worker, &created, &started, &heartbeat, &completed)
	if err != nil {
		return nil, err
	}

	job.Kind = domain.JobKind(kind)
	job.State = domain.JobState(state)
	job.Input = input
	job.CreatedAt = time.Unix(0, created).UTC()
	job.StartedAt = timePtr(started)
	job.HeartbeatAt = timePtr(heartbeat)
	job.CompletedAt = timePtr(completed)
	return &job, nil
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}
