package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

// Handler executes one job and returns its result payload.
// A returned error becomes the job's FAILED message.
type Handler func(ctx context.Context, job *domain.Job) (string, error)

// CompletionHook observes a job after its terminal state is recorded.
type CompletionHook func(job *domain.Job)

// DefaultHeartbeatInterval is how often a running job's lease is renewed.
const DefaultHeartbeatInterval = 5 * time.Second

// ErrLeaseLost cancels a handler whose job was failed or taken over
// while it was still running.
var ErrLeaseLost = errors.New("job lease lost")

// Worker is a fixed-size pool that executes jobs handed over by the queue.
// Every job goes PENDING -> RUNNING -> terminal through the store's CAS, so
// a duplicate delivery is skipped rather than executed twice.
type Worker struct {
	id       string
	store    driven.JobStore
	queue    driven.JobQueue
	executor *Executor
	logger   *slog.Logger

	// Configuration
	concurrency    int
	dequeueTimeout time.Duration
	heartbeat      time.Duration

	handlersMu sync.RWMutex
	handlers   map[domain.JobKind]Handler
	hooks      []CompletionHook

	// Internal state
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	stats Stats
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	// ID identifies this pool on RUNNING jobs. Defaults to a random id.
	ID             string
	Store          driven.JobStore
	Queue          driven.JobQueue
	Logger         *slog.Logger
	Concurrency    int           // Number of concurrent job processors
	DequeueTimeout time.Duration // How long to wait for a job before checking again
	// HeartbeatInterval is how often a running job's lease is renewed.
	// Defaults to DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration
	Retry             RetryPolicy
}

// Stats counts jobs handled by this pool since it was created.
type Stats struct {
	Processed atomic.Int64
	Succeeded atomic.Int64
	Failed    atomic.Int64
	Skipped   atomic.Int64
}

// NewWorker creates a new job worker.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5 * time.Second
	}

	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}

	id := cfg.ID
	if id == "" {
		id = "worker-" + domain.GenerateID()
	}

	return &Worker{
		id:             id,
		store:          cfg.Store,
		queue:          cfg.Queue,
		executor:       NewExecutor(cfg.Retry, logger),
		logger:         logger.With("pool", id),
		concurrency:    concurrency,
		dequeueTimeout: dequeueTimeout,
		heartbeat:      heartbeat,
		handlers:       make(map[domain.JobKind]Handler),
	}
}

// ID returns the identity recorded on jobs this pool runs.
func (w *Worker) ID() string {
	return w.id
}

// Handle registers the handler for a job kind, replacing any earlier one.
func (w *Worker) Handle(kind domain.JobKind, h Handler) {
	w.handlersMu.Lock()
	defer w.handlersMu.Unlock()
	w.handlers[kind] = h
}

func (w *Worker) handler(kind domain.JobKind) (Handler, bool) {
	w.handlersMu.RLock()
	defer w.handlersMu.RUnlock()
	h, ok := w.handlers[kind]
	return h, ok
}

// OnComplete registers fn to run after every terminal state this pool
// records. Hooks run on the worker goroutine and must not block.
func (w *Worker) OnComplete(fn CompletionHook) {
	w.handlersMu.Lock()
	defer w.handlersMu.Unlock()
	w.hooks = append(w.hooks, fn)
}

func (w *Worker) notify(job *domain.Job) {
	w.handlersMu.RLock()
	hooks := w.hooks
	w.handlersMu.RUnlock()
	for _, fn := range hooks {
		fn(job.Clone())
	}
}

// Start begins the worker loop.
// It runs until Stop is called or context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"concurrency", w.concurrency,
		"dequeue_timeout", w.dequeueTimeout,
	)

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.processLoop(ctx, slot)
		}(i)
	}

	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	return nil
}

// Stop gracefully stops the worker. Jobs already running finish first.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	w.mu.RLock()
	done := w.doneCh
	w.mu.RUnlock()
	if done != nil {
		<-done
	}
}

// processLoop is the main processing loop for a worker goroutine.
func (w *Worker) processLoop(ctx context.Context, slot int) {
	logger := w.logger.With("slot", slot)
	logger.Debug("worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker context cancelled")
			return
		case <-w.stopCh:
			logger.Debug("worker stop signal received")
			return
		default:
		}

		id, err := w.queue.DequeueWithTimeout(ctx, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("failed to dequeue job", "error", err)
			w.backoff(ctx, time.Second)
			continue
		}

		if id == "" {
			continue
		}

		// in-flight jobs are not cancelled by shutdown
		w.ProcessJob(context.WithoutCancel(ctx), id)
	}
}

func (w *Worker) backoff(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-t.C:
	}
}

// ProcessJob runs one delivered job id to its terminal state and acks it.
func (w *Worker) ProcessJob(ctx context.Context, id string) {
	logger := w.logger.With("job_id", id)
	defer func() {
		if err := w.queue.Ack(ctx, id); err != nil {
			logger.Error("failed to ack job", "error", err)
		}
	}()

	job, err := w.store.MarkRunning(ctx, id, w.id)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
			w.stats.Skipped.Add(1)
			logger.Debug("job skipped", "reason", err)
			return
		}
		logger.Error("failed to mark job running", "error", err)
		return
	}

	logger = logger.With("kind", job.Kind)
	logger.Info("processing job")
	startTime := time.Now()

	var outcome domain.Outcome
	if h, ok := w.handler(job.Kind); ok {
		runCtx, cancel := context.WithCancelCause(ctx)
		stop := w.keepAlive(runCtx, cancel, id, logger)
		outcome = w.executor.Execute(runCtx, job, h)
		stop()
		cancel(nil)
	} else {
		outcome = domain.Outcome{
			State:    domain.JobStateFailed,
			Error:    fmt.Sprintf("no handler for job kind %s", job.Kind),
			Attempts: 0,
		}
	}

	if err := w.store.Complete(ctx, id, outcome); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			w.stats.Skipped.Add(1)
			logger.Warn("job outcome discarded, the job was finished elsewhere", "state", outcome.State, "error", err)
			return
		}
		logger.Error("failed to record job outcome", "state", outcome.State, "error", err)
		return
	}

	done := job.Clone()
	if err := outcome.Apply(done); err == nil {
		w.notify(done)
	}

	w.stats.Processed.Add(1)
	duration := time.Since(startTime)
	if outcome.State == domain.JobStateSucceeded {
		w.stats.Succeeded.Add(1)
		logger.Info("job succeeded", "duration", duration, "attempts", outcome.Attempts)
	} else {
		w.stats.Failed.Add(1)
		logger.Warn("job failed", "duration", duration, "attempts", outcome.Attempts, "error", outcome.Error)
	}
}

// keepAlive renews the job's lease every heartbeat interval until stop is
// called. If the store reports the job is no longer ours the handler's
// context is cancelled with ErrLeaseLost.
func (w *Worker) keepAlive(ctx context.Context, cancel context.CancelCauseFunc, id string, logger *slog.Logger) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(w.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			err := w.store.Heartbeat(ctx, id, w.id)
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrNotFound):
				logger.Warn("job lease lost, cancelling handler", "error", err)
				cancel(ErrLeaseLost)
				return
			default:
				logger.Warn("failed to renew job lease", "error", err)
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
}

// Stats returns the pool counters.
func (w *Worker) Stats() StatsSnapshot {
	return StatsSnapshot{
		Processed: w.stats.Processed.Load(),
		Succeeded: w.stats.Succeeded.Load(),
		Failed:    w.stats.Failed.Load(),
		Skipped:   w.stats.Skipped.Load(),
	}
}

// Health returns health status of the worker.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	StoreHealth bool   `json:"store_health"`
	Error       string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{
		Running:     running,
		QueueHealth: true,
		StoreHealth: true,
	}

	if err := w.queue.Ping(ctx); err != nil {
		health.QueueHealth = false
		health.Error = err.Error()
	}
	if err := w.store.Ping(ctx); err != nil {
		health.StoreHealth = false
		health.Error = err.Error()
	}

	return health
}
