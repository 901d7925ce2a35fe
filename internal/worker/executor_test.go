package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
)

func TestNewExecutor_FillsDefaults(t *testing.T) {
	e := NewExecutor(RetryPolicy{InitialBackoff: time.Minute, MaxBackoff: time.Second}, nil)

	assert.Equal(t, 3, e.policy.MaxAttempts)
	assert.Equal(t, time.Minute, e.policy.MaxBackoff, "max backoff is raised to the initial backoff")
	assert.NotNil(t, e.logger)
}

func TestExecutor_RateLimitGatesAttempts(t *testing.T) {
	e := NewExecutor(RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		RateLimit:      20,
		Burst:          1,
	}, nil)
	job := &domain.Job{ID: "j", Kind: domain.JobKindGenerate}

	calls := 0
	start := time.Now()
	out := e.Execute(context.Background(), job, func(ctx context.Context, job *domain.Job) (string, error) {
		calls++
		if calls < 3 {
			return "", domain.ErrTransient
		}
		return "ok", nil
	})

	assert.Equal(t, domain.JobStateSucceeded, out.State)
	assert.Equal(t, 3, out.Attempts)
	// burst of one at 20/s: the 2nd and 3rd attempts each wait ~50ms
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestExecutor_CancelledDuringBackoff(t *testing.T) {
	e := NewExecutor(RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Hour}, nil)
	job := &domain.Job{ID: "j", Kind: domain.JobKindGenerate}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out := e.Execute(ctx, job, func(ctx context.Context, job *domain.Job) (string, error) {
		return "", errors.Join(errors.New("timeout"), domain.ErrTransient)
	})

	assert.Equal(t, domain.JobStateFailed, out.State)
	assert.Equal(t, 1, out.Attempts)
	assert.Contains(t, out.Error, "timeout")
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(domain.JobKindGenerate))
	assert.False(t, retryable(domain.JobKindIngest))
}
