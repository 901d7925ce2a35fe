package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"ErrNotFound", ErrNotFound, "not found"},
		{"ErrInvalidInput", ErrInvalidInput, "invalid input"},
		{"ErrIndexCorrupt", ErrIndexCorrupt, "index corrupt"},
		{"ErrDimensionMismatch", ErrDimensionMismatch, "dimension mismatch"},
		{"ErrRetrieverUnavailable", ErrRetrieverUnavailable, "retriever unavailable"},
		{"ErrExtractionFailed", ErrExtractionFailed, "extraction failed"},
		{"ErrGenerationUnavailable", ErrGenerationUnavailable, "generation unavailable"},
		{"ErrUnknownJob", ErrUnknownJob, "unknown job"},
		{"ErrJobNotReady", ErrJobNotReady, "job not ready"},
		{"ErrJobFailed", ErrJobFailed, "job failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.msg {
				t.Errorf("expected %q, got %q", tt.msg, tt.err.Error())
			}
		})
	}
}

func TestErrorsAreDistinct(t *testing.T) {
	allErrors := []error{
		ErrNotFound,
		ErrInvalidInput,
		ErrIndexCorrupt,
		ErrDimensionMismatch,
		ErrRetrieverUnavailable,
		ErrExtractionFailed,
		ErrGenerationUnavailable,
		ErrUnknownJob,
		ErrJobNotReady,
		ErrJobFailed,
		ErrInvalidTransition,
		ErrTransient,
		ErrUnauthorized,
		ErrTokenExpired,
	}

	for i, err1 := range allErrors {
		for j, err2 := range allErrors {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("errors %v and %v should be distinct", err1, err2)
			}
		}
	}
}

func TestJobFailedError(t *testing.T) {
	var err error = &JobFailedError{JobID: "job-1", Message: "upstream down"}

	if !errors.Is(err, ErrJobFailed) {
		t.Error("expected JobFailedError to match ErrJobFailed")
	}
	if err.Error() != "job failed: upstream down" {
		t.Errorf("unexpected message %q", err.Error())
	}

	wrapped := fmt.Errorf("result: %w", err)
	var jfe *JobFailedError
	if !errors.As(wrapped, &jfe) {
		t.Fatal("expected errors.As to find JobFailedError")
	}
	if jfe.Message != "upstream down" {
		t.Errorf("expected message 'upstream down', got %q", jfe.Message)
	}
}
