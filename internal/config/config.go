// Package config loads sercha-chat settings from a YAML file, a .env file and
// the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
)

// DefaultPath is read when no config file is named; a missing file is not an error.
const DefaultPath = "sercha.yaml"

// Job log backends
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config is the root application configuration.
type Config struct {
	DataDir   string `yaml:"data_dir"`
	IndexDir  string `yaml:"index_dir"`
	UploadDir string `yaml:"upload_dir"`
	// Index is the name retrieval and ingestion use when none is given
	Index string `yaml:"index"`

	Memory    MemoryConfig    `yaml:"memory"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Worker    WorkerConfig    `yaml:"worker"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`

	Embedding domain.EmbeddingSettings `yaml:"embedding"`
	Generator domain.GeneratorSettings `yaml:"generator"`
}

type MemoryConfig struct {
	Turns int `yaml:"turns"`
}

type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

type ChunkerConfig struct {
	MaxSentences int `yaml:"max_sentences"`
}

// WorkerConfig configures the job pool and its execution wrapper.
type WorkerConfig struct {
	// ID is recorded on RUNNING jobs and names this process's redis consumer.
	// Defaults to hostname-pid so two processes on one host never share it.
	ID             string        `yaml:"id"`
	Concurrency    int           `yaml:"concurrency"`
	DequeueTimeout time.Duration `yaml:"dequeue_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	// RateLimit is collaborator calls per second; zero is unlimited
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
	// HeartbeatInterval is how often a running job's lease is renewed
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// Lease is how long a RUNNING job may go without a heartbeat before
	// recovery fails it as interrupted
	Lease time.Duration `yaml:"lease"`
}

type JobsConfig struct {
	Backend string `yaml:"backend"`
	// PollInterval applies to the postgres and sqlite backends, which poll the job log
	PollInterval time.Duration `yaml:"poll_interval"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type PostgresConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// MaxUploadBytes caps POST /api/v1/documents bodies
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

type AuthConfig struct {
	// JWTSecret enables bearer auth on /api/v1 when set
	JWTSecret string `yaml:"-"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads path (or DefaultPath when empty), then .env, then the
// environment. A missing file yields defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating directories as needed.
// Secrets are never written.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Jobs.Backend {
	case BackendMemory, BackendSQLite:
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("%w: jobs backend redis needs redis.url", domain.ErrInvalidInput)
		}
	case BackendPostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("%w: jobs backend postgres needs postgres.url", domain.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown jobs backend %q", domain.ErrInvalidInput, c.Jobs.Backend)
	}

	if !c.Embedding.Provider.IsValid() {
		return fmt.Errorf("%w: embedding provider %q", domain.ErrInvalidProvider, c.Embedding.Provider)
	}
	if c.Generator.Provider != "" && !c.Generator.Provider.IsValid() {
		return fmt.Errorf("%w: generator provider %q", domain.ErrInvalidProvider, c.Generator.Provider)
	}
	if c.Memory.Turns <= 0 || c.Retrieval.TopK <= 0 || c.Chunker.MaxSentences <= 0 {
		return fmt.Errorf("%w: memory.turns, retrieval.top_k and chunker.max_sentences must be positive", domain.ErrInvalidInput)
	}
	if c.Worker.HeartbeatInterval <= 0 || c.Worker.Lease <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("%w: worker.lease (%s) must exceed worker.heartbeat_interval (%s)",
			domain.ErrInvalidInput, c.Worker.Lease, c.Worker.HeartbeatInterval)
	}
	return nil
}

// EnsureDirs creates the data, index and upload directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.IndexDir, c.UploadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.IndexDir == "" {
		cfg.IndexDir = "vector_store"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}
	if cfg.Index == "" {
		cfg.Index = "default"
	}
	if cfg.Memory.Turns == 0 {
		cfg.Memory.Turns = 10
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 3
	}
	if cfg.Chunker.MaxSentences == 0 {
		cfg.Chunker.MaxSentences = 5
	}

	w := &cfg.Worker
	if w.ID == "" {
		w.ID = defaultWorkerID()
	}
	if w.Concurrency == 0 {
		w.Concurrency = 2
	}
	if w.DequeueTimeout == 0 {
		w.DequeueTimeout = 5 * time.Second
	}
	if w.MaxAttempts == 0 {
		w.MaxAttempts = 3
	}
	if w.InitialBackoff == 0 {
		w.InitialBackoff = 500 * time.Millisecond
	}
	if w.MaxBackoff == 0 {
		w.MaxBackoff = 10 * time.Second
	}
	if w.HeartbeatInterval == 0 {
		w.HeartbeatInterval = 5 * time.Second
	}
	if w.Lease == 0 {
		w.Lease = 30 * time.Second
	}

	if cfg.Jobs.Backend == "" {
		cfg.Jobs.Backend = BackendMemory
	}
	if cfg.Jobs.PollInterval == 0 {
		cfg.Jobs.PollInterval = 500 * time.Millisecond
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = filepath.Join(cfg.DataDir, "jobs.db")
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 10
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 2
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 5 * time.Minute
	}

	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.MaxUploadBytes == 0 {
		cfg.HTTP.MaxUploadBytes = 32 << 20
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = domain.AIProviderLocal
	}
	if cfg.Generator.Provider == "" {
		cfg.Generator.Provider = domain.AIProviderGemini
	}
}

// applyEnv overrides file settings with environment variables.
func applyEnv(cfg *Config) {
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.IndexDir = getEnv("INDEX_DIR", cfg.IndexDir)
	cfg.UploadDir = getEnv("UPLOAD_DIR", cfg.UploadDir)
	cfg.Index = getEnv("INDEX_NAME", cfg.Index)

	cfg.Memory.Turns = getEnvInt("MEMORY_TURNS", cfg.Memory.Turns)
	cfg.Retrieval.TopK = getEnvInt("TOP_K", cfg.Retrieval.TopK)
	cfg.Chunker.MaxSentences = getEnvInt("MAX_SENTENCES", cfg.Chunker.MaxSentences)

	cfg.Worker.ID = getEnv("WORKER_ID", cfg.Worker.ID)
	cfg.Worker.Concurrency = getEnvInt("WORKER_CONCURRENCY", cfg.Worker.Concurrency)
	cfg.Worker.DequeueTimeout = getEnvDuration("WORKER_DEQUEUE_TIMEOUT", cfg.Worker.DequeueTimeout)
	cfg.Worker.MaxAttempts = getEnvInt("WORKER_MAX_ATTEMPTS", cfg.Worker.MaxAttempts)
	cfg.Worker.RateLimit = getEnvFloat("WORKER_RATE_LIMIT", cfg.Worker.RateLimit)
	cfg.Worker.HeartbeatInterval = getEnvDuration("WORKER_HEARTBEAT_INTERVAL", cfg.Worker.HeartbeatInterval)
	cfg.Worker.Lease = getEnvDuration("WORKER_LEASE", cfg.Worker.Lease)

	cfg.Jobs.Backend = getEnv("JOB_BACKEND", cfg.Jobs.Backend)
	cfg.Redis.URL = getEnv("REDIS_URL", cfg.Redis.URL)
	cfg.Postgres.URL = getEnv("DATABASE_URL", cfg.Postgres.URL)
	cfg.SQLite.Path = getEnv("SQLITE_PATH", cfg.SQLite.Path)

	cfg.HTTP.Host = getEnv("HOST", cfg.HTTP.Host)
	cfg.HTTP.Port = getEnvInt("PORT", cfg.HTTP.Port)
	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.AddSource = getEnvBool("LOG_ADD_SOURCE", cfg.Logging.AddSource)

	cfg.Embedding.Provider = domain.AIProvider(getEnv("EMBEDDING_PROVIDER", string(cfg.Embedding.Provider)))
	cfg.Embedding.Model = getEnv("EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.BaseURL = getEnv("EMBEDDING_BASE_URL", cfg.Embedding.BaseURL)
	cfg.Embedding.Dimensions = getEnvInt("EMBEDDING_DIMENSIONS", cfg.Embedding.Dimensions)
	cfg.Generator.Provider = domain.AIProvider(getEnv("GENERATOR_PROVIDER", string(cfg.Generator.Provider)))
	cfg.Generator.Model = getEnv("GEMINI_MODEL_NAME", cfg.Generator.Model)
	cfg.Generator.BaseURL = getEnv("GENERATOR_BASE_URL", cfg.Generator.BaseURL)

	geminiKey := getEnv("GEMINI_API_KEY", os.Getenv("GOOGLE_API_KEY"))
	openAIKey := os.Getenv("OPENAI_API_KEY")
	cfg.Generator.APIKey = keyFor(cfg.Generator.Provider, geminiKey, openAIKey)
	cfg.Embedding.APIKey = keyFor(cfg.Embedding.Provider, geminiKey, openAIKey)
}

func keyFor(provider domain.AIProvider, geminiKey, openAIKey string) string {
	switch provider {
	case domain.AIProviderOpenAI:
		return openAIKey
	case domain.AIProviderGemini, "":
		return geminiKey
	}
	return ""
}

// NewLogger builds the slog logger described by cfg.
func NewLogger(cfg LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// SetupLogging installs the configured logger as the slog default.
func SetupLogging(cfg LoggingConfig) *slog.Logger {
	logger := NewLogger(cfg)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker-" + domain.GenerateID()
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
