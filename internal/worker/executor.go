package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
)

// RetryPolicy configures the execution wrapper around job handlers.
type RetryPolicy struct {
	// MaxAttempts bounds handler calls for retryable jobs. Default 3.
	MaxAttempts int

	// InitialBackoff doubles after each transient failure up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// RateLimit caps handler attempts per second across the pool.
	// Zero means unlimited.
	RateLimit float64
	Burst     int
}

// DefaultRetryPolicy returns the policy used when fields are left zero.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

// Executor wraps a Handler with rate limiting, transient-error retry and
// panic recovery, and turns the result into an Outcome.
type Executor struct {
	policy  RetryPolicy
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewExecutor fills zero policy fields from DefaultRetryPolicy.
func NewExecutor(policy RetryPolicy, logger *slog.Logger) *Executor {
	def := DefaultRetryPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = def.InitialBackoff
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = def.MaxBackoff
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		policy.MaxBackoff = policy.InitialBackoff
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if policy.RateLimit > 0 {
		burst := policy.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(policy.RateLimit), burst)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{policy: policy, limiter: limiter, logger: logger}
}

// retryable reports whether a kind may run its handler more than once.
// INGEST consumes its uploaded source, so it gets a single attempt.
func retryable(kind domain.JobKind) bool {
	return kind != domain.JobKindIngest
}

// Execute runs h for job and returns the terminal outcome. It never panics.
func (e *Executor) Execute(ctx context.Context, job *domain.Job, h Handler) domain.Outcome {
	maxAttempts := 1
	if retryable(job.Kind) {
		maxAttempts = e.policy.MaxAttempts
	}

	backoff := e.policy.InitialBackoff
	for attempt := 1; ; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return failed(fmt.Errorf("rate limiter: %w", err), attempt-1)
		}

		result, err := call(ctx, job, h)
		if err == nil {
			return domain.Outcome{State: domain.JobStateSucceeded, Result: result, Attempts: attempt}
		}

		if !errors.Is(err, domain.ErrTransient) || attempt >= maxAttempts {
			return failed(err, attempt)
		}

		e.logger.Warn("transient job failure, retrying",
			"job_id", job.ID,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return failed(err, attempt)
		case <-t.C:
		}

		backoff *= 2
		if backoff > e.policy.MaxBackoff {
			backoff = e.policy.MaxBackoff
		}
	}
}

func failed(err error, attempts int) domain.Outcome {
	return domain.Outcome{State: domain.JobStateFailed, Error: err.Error(), Attempts: attempts}
}

// call runs h, converting a panic into an error.
func call(ctx context.Context, job *domain.Job, h Handler) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}
