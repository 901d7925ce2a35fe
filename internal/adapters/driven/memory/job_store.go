package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.JobStore = (*JobStore)(nil)

// JobStore is a process-local driven.JobStore. Jobs do not survive a restart.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

// NewJobStore creates an empty in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*domain.Job)}
}

// Create stores a new PENDING job.
func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("%w: job with id is required", domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: job %s already exists", domain.ErrInvalidInput, job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get retrieves a job by ID.
func (s *JobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

// MarkRunning moves a PENDING job to RUNNING.
func (s *JobStore) MarkRunning(ctx context.Context, id, worker string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if err := job.MarkRunning(worker); err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// Complete records the terminal outcome of a RUNNING job.
func (s *JobStore) Complete(ctx context.Context, id string, outcome domain.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.State != domain.JobStateRunning {
		return fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, id, job.State)
	}
	return outcome.Apply(job)
}

// Heartbeat renews the lease of a RUNNING job held by worker.
func (s *JobStore) Heartbeat(ctx context.Context, id, worker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	return job.Heartbeat(worker, time.Now())
}

// Expire fails a RUNNING job last seen before cutoff.
func (s *JobStore) Expire(ctx context.Context, id string, cutoff time.Time, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !job.Expired(cutoff) {
		return fmt.Errorf("%w: job %s is %s, last seen %s", domain.ErrInvalidTransition, id, job.State, job.LastSeen().Format(time.RFC3339Nano))
	}
	return job.MarkFailed(message)
}

// Abandon fails a PENDING job.
func (s *JobStore) Abandon(ctx context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.State != domain.JobStatePending {
		return fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, id, job.State)
	}
	return job.MarkFailed(message)
}

// List returns jobs in state, oldest first.
func (s *JobStore) List(ctx context.Context, state domain.JobState) ([]*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Job
	for _, job := range s.jobs {
		if job.State == state {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Stats returns job counts by state.
func (s *JobStore) Stats(ctx context.Context) (*domain.JobStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &domain.JobStats{}
	for _, job := range s.jobs {
		switch job.State {
		case domain.JobStatePending:
			stats.Pending++
		case domain.JobStateRunning:
			stats.Running++
		case domain.JobStateSucceeded:
			stats.Succeeded++
		case domain.JobStateFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// Ping always succeeds.
func (s *JobStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *JobStore) Close() error {
	return nil
}
