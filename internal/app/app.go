// Package app wires the chat pipeline together: the job log and queue for
// the configured backend, the vector index store, the AI collaborators, the
// services and the worker pool.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/sercha-chat/internal/adapters/driven/ai"
	"github.com/custodia-labs/sercha-chat/internal/adapters/driven/auth"
	"github.com/custodia-labs/sercha-chat/internal/adapters/driven/memory"
	"github.com/custodia-labs/sercha-chat/internal/adapters/driven/postgres"
	memoryqueue "github.com/custodia-labs/sercha-chat/internal/adapters/driven/queue/memory"
	"github.com/custodia-labs/sercha-chat/internal/adapters/driven/queue/poll"
	redisqueue "github.com/custodia-labs/sercha-chat/internal/adapters/driven/queue/redis"
	redisadapter "github.com/custodia-labs/sercha-chat/internal/adapters/driven/redis"
	"github.com/custodia-labs/sercha-chat/internal/adapters/driven/sqlite"
	httpapi "github.com/custodia-labs/sercha-chat/internal/adapters/driving/http"
	"github.com/custodia-labs/sercha-chat/internal/chunker"
	"github.com/custodia-labs/sercha-chat/internal/config"
	"github.com/custodia-labs/sercha-chat/internal/conversation"
	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-chat/internal/core/services"
	"github.com/custodia-labs/sercha-chat/internal/extractors"
	"github.com/custodia-labs/sercha-chat/internal/runtime"
	"github.com/custodia-labs/sercha-chat/internal/vectorindex"
	"github.com/custodia-labs/sercha-chat/internal/worker"
)

// DefaultPollInterval is how often Await re-reads a job.
const DefaultPollInterval = 100 * time.Millisecond

// App is the application context. Every component is an owned instance
// reachable from here; nothing lives in package-level state.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Memory     *conversation.Memory
	Indexes    *vectorindex.Store
	Services   *runtime.Services
	Extractors *extractors.Registry
	Retriever  *services.Retriever
	Jobs       *services.Orchestrator
	Chat       *services.ChatService
	Ingest     *services.IngestService
	Worker     *worker.Worker

	// Auth is nil unless a JWT secret is configured
	Auth driven.AuthAdapter

	store driven.JobStore
	queue driven.JobQueue

	// background loops started by Start and StartAPI
	loopsMu   sync.Mutex
	stopLoops context.CancelFunc
	loops     sync.WaitGroup

	closers []func() error
}

// Option overrides a collaborator New would otherwise build from config.
type Option func(*options)

type options struct {
	embedder    driven.EmbeddingService
	generator   driven.TextGenerator
	splitter    driven.SentenceSplitter
	redisClient *redis.Client
}

// WithEmbedder uses svc instead of the configured embedding provider.
func WithEmbedder(svc driven.EmbeddingService) Option {
	return func(o *options) { o.embedder = svc }
}

// WithGenerator uses gen instead of the configured generation provider.
func WithGenerator(gen driven.TextGenerator) Option {
	return func(o *options) { o.generator = gen }
}

// WithSplitter replaces the chunker's sentence splitter.
func WithSplitter(s driven.SentenceSplitter) Option {
	return func(o *options) { o.splitter = s }
}

// WithRedisClient reuses client for the redis backend instead of dialling
// Config.Redis.URL. The caller keeps ownership.
func WithRedisClient(client *redis.Client) Option {
	return func(o *options) { o.redisClient = client }
}

// New builds the application. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := config.NewLogger(cfg.Logging)
	a := &App{Config: cfg, Logger: logger}

	lock, err := a.openBackend(ctx, o.redisClient)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	if err := a.openAI(o); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Indexes, err = vectorindex.NewStore(vectorindex.StoreConfig{
		Root:   cfg.IndexDir,
		Lock:   lock,
		Logger: logger.With("component", "vectorindex"),
	})
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("create index store: %w", err)
	}
	if _, err := a.Indexes.OpenAll(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open indexes: %w", err)
	}

	a.Memory = conversation.NewMemory(cfg.Memory.Turns)
	a.Extractors = extractors.DefaultRegistry()
	a.Retriever = services.NewRetriever(a.Indexes, a.Services, cfg.Index)

	a.Worker = worker.NewWorker(worker.WorkerConfig{
		ID:                cfg.Worker.ID,
		Store:             a.store,
		Queue:             a.queue,
		Logger:            logger.With("component", "worker"),
		Concurrency:       cfg.Worker.Concurrency,
		DequeueTimeout:    cfg.Worker.DequeueTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		Retry: worker.RetryPolicy{
			MaxAttempts:    cfg.Worker.MaxAttempts,
			InitialBackoff: cfg.Worker.InitialBackoff,
			MaxBackoff:     cfg.Worker.MaxBackoff,
			RateLimit:      cfg.Worker.RateLimit,
			Burst:          cfg.Worker.Burst,
		},
	})
	a.Jobs = services.NewOrchestrator(a.store, a.queue, cfg.Worker.Lease, logger.With("component", "jobs"))

	chunkOpts := []chunker.Option{chunker.WithLogger(logger.With("component", "chunker"))}
	if o.splitter != nil {
		chunkOpts = append(chunkOpts, chunker.WithSplitter(o.splitter))
	}

	a.Chat = services.NewChatService(services.ChatConfig{
		Memory:    a.Memory,
		Retriever: a.Retriever,
		Jobs:      a.Jobs,
		Services:  a.Services,
		TopK:      cfg.Retrieval.TopK,
		Logger:    logger.With("component", "chat"),
	})
	a.Ingest = services.NewIngestService(services.IngestConfig{
		Jobs:         a.Jobs,
		Store:        a.Indexes,
		Chunker:      chunker.New(chunkOpts...),
		Extractor:    a.Extractors,
		Services:     a.Services,
		DefaultIndex: cfg.Index,
		MaxSentences: cfg.Chunker.MaxSentences,
		Logger:       logger.With("component", "ingest"),
	})

	a.Worker.Handle(domain.JobKindGenerate, a.Chat.HandleGenerate)
	a.Worker.Handle(domain.JobKindIngest, a.Ingest.HandleIngest)
	a.Worker.OnComplete(func(job *domain.Job) { a.Chat.Settle(job) })

	if cfg.Auth.JWTSecret != "" {
		a.Auth = auth.NewAdapter(cfg.Auth.JWTSecret)
	}

	caps := a.Services.Capabilities()
	logger.Info("application ready",
		"backend", cfg.Jobs.Backend,
		"index", cfg.Index,
		"embedding", caps.Embedding,
		"generation", caps.Generation,
		"worker_id", a.Worker.ID(),
	)
	return a, nil
}

// openBackend opens the job log and queue and returns the publish lock
// for the vector store, nil when the backend has none.
func (a *App) openBackend(ctx context.Context, client *redis.Client) (driven.DistributedLock, error) {
	cfg := a.Config
	switch cfg.Jobs.Backend {
	case config.BackendMemory:
		q := memoryqueue.NewQueue()
		a.store = memory.NewJobStore()
		a.queue = q
		a.closers = append(a.closers, q.Close)
		return nil, nil

	case config.BackendRedis:
		if client == nil {
			opts, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				return nil, fmt.Errorf("parse redis url: %w", err)
			}
			client = redis.NewClient(opts)
			a.closers = append(a.closers, client.Close)
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		store, err := redisadapter.NewJobStore(client)
		if err != nil {
			return nil, err
		}
		q, err := redisqueue.NewQueue(ctx, client, cfg.Worker.ID)
		if err != nil {
			return nil, fmt.Errorf("create redis queue: %w", err)
		}
		a.store, a.queue = store, q
		a.Logger.Info("using redis job backend")
		return redisadapter.NewLock(client), nil

	case config.BackendPostgres:
		db, err := postgres.Connect(ctx, postgres.Config{
			URL:             cfg.Postgres.URL,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.InitSchema(ctx); err != nil {
			return nil, err
		}
		store := postgres.NewJobStore(db)
		a.store, a.queue = store, poll.NewQueue(store, cfg.Jobs.PollInterval)
		a.Logger.Info("using postgres job backend")
		return postgres.NewAdvisoryLock(db), nil

	case config.BackendSQLite:
		store, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		a.store, a.queue = store, poll.NewQueue(store, cfg.Jobs.PollInterval)
		a.Logger.Info("using sqlite job backend", "path", store.Path())
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: unknown job backend %q", domain.ErrInvalidInput, cfg.Jobs.Backend)
	}
}

// openAI registers the embedder and generator. A provider that is not
// configured leaves its slot empty rather than failing startup.
func (a *App) openAI(o options) error {
	a.Services = runtime.NewServices()
	a.closers = append(a.closers, a.Services.Close)

	factory := ai.NewFactory()

	embedder := o.embedder
	if embedder == nil {
		var err error
		embedder, err = factory.CreateEmbeddingService(&a.Config.Embedding)
		if err != nil {
			return fmt.Errorf("create embedding service: %w", err)
		}
	}
	if embedder == nil {
		a.Logger.Warn("no embedding service configured; retrieval is unavailable",
			"provider", a.Config.Embedding.Provider)
	}
	a.Services.SetEmbeddingService(embedder)

	generator := o.generator
	if generator == nil {
		var err error
		generator, err = factory.CreateTextGenerator(&a.Config.Generator)
		if err != nil {
			return fmt.Errorf("create text generator: %w", err)
		}
	}
	if generator == nil {
		a.Logger.Warn("no text generator configured; GENERATE jobs will fail",
			"provider", a.Config.Generator.Provider)
	}
	a.Services.SetTextGenerator(generator)
	return nil
}

// Start recovers jobs left behind by a previous run, starts the lease
// reaper and the answer settler, then starts the pool.
func (a *App) Start(ctx context.Context) error {
	report, err := a.Jobs.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}
	if report.Interrupted > 0 {
		a.Logger.Warn("failed jobs interrupted by a restart", "count", report.Interrupted)
	}

	a.startLoops(ctx, true)
	return a.Worker.Start(ctx)
}

// StartAPI starts only the answer settler, for processes that accept
// questions but leave execution to separate workers.
func (a *App) StartAPI(ctx context.Context) {
	a.startLoops(ctx, false)
}

func (a *App) startLoops(ctx context.Context, reap bool) {
	a.loopsMu.Lock()
	defer a.loopsMu.Unlock()
	if a.stopLoops != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	a.stopLoops = cancel

	a.loops.Add(1)
	go func() {
		defer a.loops.Done()
		a.Chat.Watch(loopCtx, a.Config.Jobs.PollInterval)
	}()

	if reap {
		a.loops.Add(1)
		go func() {
			defer a.loops.Done()
			a.Jobs.Reap(loopCtx, a.Config.Worker.Lease/2)
		}()
	}
}

func (a *App) haltLoops() {
	a.loopsMu.Lock()
	cancel := a.stopLoops
	a.stopLoops = nil
	a.loopsMu.Unlock()
	if cancel != nil {
		cancel()
	}
	a.loops.Wait()
}

// Stop drains the pool and stops the background loops. Running jobs
// finish first.
func (a *App) Stop() {
	if a.Worker != nil {
		a.Worker.Stop()
	}
	a.haltLoops()
}

// Close stops the pool and releases every backend connection.
func (a *App) Close() error {
	a.Stop()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Pingers returns the components /ready checks.
func (a *App) Pingers() map[string]httpapi.Pinger {
	return map[string]httpapi.Pinger{
		"job_store": a.store,
		"job_queue": a.queue,
	}
}

// NewServer builds the HTTP API over this application.
func (a *App) NewServer(version string) *httpapi.Server {
	return httpapi.NewServer(
		httpapi.Config{
			Host:           a.Config.HTTP.Host,
			Port:           a.Config.HTTP.Port,
			Version:        version,
			UploadDir:      a.Config.UploadDir,
			MaxUploadBytes: a.Config.HTTP.MaxUploadBytes,
		},
		a.Chat,
		a.Ingest,
		a.Jobs,
		a.Auth,
		a.Pingers(),
		a.Logger.With("component", "http"),
	)
}

// Await polls the job until it is terminal or ctx is done. A finished
// GENERATE job asked through Chat is settled into memory before Await returns.
func (a *App) Await(ctx context.Context, id string, interval time.Duration) (*domain.Job, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := a.Jobs.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.State.IsTerminal() {
			a.Chat.Settle(job)
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}
