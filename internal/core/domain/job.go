package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateID creates a unique job identifier.
func GenerateID() string {
	return uuid.New().String()
}

// JobKind identifies the type of asynchronous job
type JobKind string

const (
	// JobKindGenerate answers a question with the text generator
	JobKindGenerate JobKind = "GENERATE"
	// JobKindIngest chunks, embeds and indexes a document
	JobKindIngest JobKind = "INGEST"
)

// Valid reports whether the kind is one the orchestrator knows how to run.
func (k JobKind) Valid() bool {
	return k == JobKindGenerate || k == JobKindIngest
}

// JobState represents the lifecycle position of a job
type JobState string

const (
	JobStatePending   JobState = "PENDING"
	JobStateRunning   JobState = "RUNNING"
	JobStateSucceeded JobState = "SUCCEEDED"
	JobStateFailed    JobState = "FAILED"
)

// IsTerminal returns true for SUCCEEDED and FAILED.
func (s JobState) IsTerminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// PENDING -> RUNNING -> {SUCCEEDED, FAILED}; a PENDING job may also be failed
// directly (e.g. when recovery abandons it). Terminal states never move.
func (s JobState) CanTransitionTo(next JobState) bool {
	switch s {
	case JobStatePending:
		return next == JobStateRunning || next == JobStateFailed
	case JobStateRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// Job represents a unit of asynchronous work tracked by the orchestrator
type Job struct {
	// ID is the opaque unique identifier, the only handle callers hold
	ID string `json:"id"`

	// Kind identifies what the job does
	Kind JobKind `json:"kind"`

	// State is the current lifecycle position
	State JobState `json:"state"`

	// Input is the JSON-encoded kind-specific input
	// For GENERATE: GenerateInput
	// For INGEST: IngestInput
	Input json.RawMessage `json:"input"`

	// Result is the SUCCEEDED payload
	Result string `json:"result,omitempty"`

	// Error is the FAILED message
	Error string `json:"error,omitempty"`

	// Attempts is how many times the handler was invoked
	Attempts int `json:"attempts"`

	// Worker identifies the worker that accepted the job
	Worker string `json:"worker,omitempty"`

	// CreatedAt is when the job was submitted
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when a worker accepted the job (nil if not started)
	StartedAt *time.Time `json:"started_at,omitempty"`

	// HeartbeatAt is the last time the running worker reported progress
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`

	// CompletedAt is when the terminal state was recorded (nil if not terminal)
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJob creates a PENDING job with a fresh id and the marshalled input.
func NewJob(kind JobKind, input any) (*Job, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal job input: %w", err)
	}
	return &Job{
		ID:        GenerateID(),
		Kind:      kind,
		State:     JobStatePending,
		Input:     raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// DecodeInput unmarshals the job input into v.
func (j *Job) DecodeInput(v any) error {
	if err := json.Unmarshal(j.Input, v); err != nil {
		return fmt.Errorf("%w: decode %s input: %v", ErrInvalidInput, j.Kind, err)
	}
	return nil
}

// MarkRunning moves a PENDING job to RUNNING on behalf of worker.
func (j *Job) MarkRunning(worker string) error {
	if !j.State.CanTransitionTo(JobStateRunning) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, JobStateRunning)
	}
	now := time.Now().UTC()
	j.State = JobStateRunning
	j.Worker = worker
	j.StartedAt = &now
	return nil
}

// MarkSucceeded records the terminal SUCCEEDED payload.
func (j *Job) MarkSucceeded(result string) error {
	if !j.State.CanTransitionTo(JobStateSucceeded) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, JobStateSucceeded)
	}
	now := time.Now().UTC()
	j.State = JobStateSucceeded
	j.Result = result
	j.Error = ""
	j.CompletedAt = &now
	return nil
}

// MarkFailed records the terminal FAILED message.
func (j *Job) MarkFailed(msg string) error {
	if !j.State.CanTransitionTo(JobStateFailed) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, JobStateFailed)
	}
	now := time.Now().UTC()
	j.State = JobStateFailed
	j.Error = msg
	j.CompletedAt = &now
	return nil
}

// Clone returns a copy safe to hand to callers.
func (j *Job) Clone() *Job {
	c := *j
	c.Input = append(json.RawMessage(nil), j.Input...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.HeartbeatAt != nil {
		t := *j.HeartbeatAt
		c.HeartbeatAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// LastSeen is the latest sign of life from the worker holding the job:
// its last heartbeat, else its start, else its creation.
func (j *Job) LastSeen() time.Time {
	switch {
	case j.HeartbeatAt != nil:
		return *j.HeartbeatAt
	case j.StartedAt != nil:
		return *j.StartedAt
	default:
		return j.CreatedAt
	}
}

// Heartbeat renews the lease of a RUNNING job held by worker.
func (j *Job) Heartbeat(worker string, now time.Time) error {
	if j.State != JobStateRunning || j.Worker != worker {
		return fmt.Errorf("%w: job %s is %s on %q, not running on %q", ErrInvalidTransition, j.ID, j.State, j.Worker, worker)
	}
	now = now.UTC()
	j.HeartbeatAt = &now
	return nil
}

// Expired reports whether a RUNNING job has not been seen since before cutoff.
func (j *Job) Expired(cutoff time.Time) bool {
	return j.State == JobStateRunning && j.LastSeen().Before(cutoff)
}

// Outcome is the terminal result a worker records for a job.
type Outcome struct {
	State    JobState
	Result   string
	Error    string
	Attempts int
}

// Apply moves the job into the outcome's terminal state.
func (o Outcome) Apply(j *Job) error {
	var err error
	switch o.State {
	case JobStateSucceeded:
		err = j.MarkSucceeded(o.Result)
	case JobStateFailed:
		err = j.MarkFailed(o.Error)
	default:
		return fmt.Errorf("%w: outcome state %s is not terminal", ErrInvalidTransition, o.State)
	}
	if err != nil {
		return err
	}
	j.Attempts = o.Attempts
	return nil
}

// GenerateInput is the input of a GENERATE job
type GenerateInput struct {
	Question  string   `json:"question"`
	Context   string   `json:"context"`
	Documents []string `json:"documents"`
}

// IngestInput is the input of an INGEST job
type IngestInput struct {
	// Path is the source document; it is removed when the job finishes
	Path string `json:"path"`

	// Index is the target index name
	Index string `json:"index"`

	// MaxSentences bounds the sentences per chunk
	MaxSentences int `json:"max_sentences"`

	// Append unions the new chunks with the current index version
	Append bool `json:"append"`
}

// Validate checks an ingest request before it is submitted.
func (in IngestInput) Validate() error {
	if in.Path == "" {
		return fmt.Errorf("%w: document path is required", ErrInvalidInput)
	}
	if in.Index == "" {
		return fmt.Errorf("%w: index name is required", ErrInvalidInput)
	}
	if err := ValidateIndexName(in.Index); err != nil {
		return err
	}
	if in.MaxSentences <= 0 {
		return fmt.Errorf("%w: max_sentences must be positive", ErrInvalidInput)
	}
	return nil
}

// JobStats summarises jobs by state
type JobStats struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// RecoveryReport summarises a recovery pass
type RecoveryReport struct {
	// Interrupted counts RUNNING jobs whose lease had expired
	Interrupted int `json:"interrupted"`
	Requeued    int `json:"requeued"`
}
