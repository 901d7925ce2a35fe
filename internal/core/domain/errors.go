package domain

import "errors"

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested record was not found in a store
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input is invalid (empty query, non-positive k, ...)
	ErrInvalidInput = errors.New("invalid input")

	// ErrIndexCorrupt indicates the persisted index artifacts are unreadable or disagree
	ErrIndexCorrupt = errors.New("index corrupt")

	// ErrDimensionMismatch indicates an embedding does not match the index dimensionality
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrRetrieverUnavailable indicates no index is currently loaded
	ErrRetrieverUnavailable = errors.New("retriever unavailable")

	// ErrExtractionFailed indicates text could not be extracted from a document
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrEmbeddingUnavailable indicates no embedding service is configured
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrGenerationUnavailable indicates the text generator could not produce an answer
	ErrGenerationUnavailable = errors.New("generation unavailable")

	// ErrUnknownJob indicates the job id was never issued
	ErrUnknownJob = errors.New("unknown job")

	// ErrJobNotReady indicates the job has not reached a terminal state
	ErrJobNotReady = errors.New("job not ready")

	// ErrJobFailed indicates the job reached the FAILED state
	ErrJobFailed = errors.New("job failed")

	// ErrInvalidTransition indicates a job state change not allowed by the lifecycle
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrTransient marks upstream failures worth retrying (rate limits, 5xx)
	ErrTransient = errors.New("transient failure")

	// ErrUnauthorized indicates authentication failed or missing
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenExpired indicates the auth token has expired
	ErrTokenExpired = errors.New("token expired")
)

// JobFailedError carries the stored error message of a FAILED job.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	return "job failed: " + e.Message
}

// Is makes errors.Is(err, ErrJobFailed) match.
func (e *JobFailedError) Is(target error) bool {
	return target == ErrJobFailed
}
