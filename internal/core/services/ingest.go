package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/custodia-labs/sercha-chat/internal/chunker"
	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-chat/internal/runtime"
)

// Ensure IngestService implements driving.IngestService
var _ driving.IngestService = (*IngestService)(nil)

// IngestService submits INGEST jobs and executes them.
type IngestService struct {
	jobs         driving.JobService
	store        driven.VectorIndexStore
	chunker      *chunker.Chunker
	extractor    driven.TextExtractor
	services     *runtime.Services
	defaultIndex string
	maxSentences int
	logger       *slog.Logger
}

// IngestConfig holds the collaborators of an IngestService
type IngestConfig struct {
	Jobs      driving.JobService
	Store     driven.VectorIndexStore
	Chunker   *chunker.Chunker
	Extractor driven.TextExtractor
	Services  *runtime.Services

	// DefaultIndex and MaxSentences fill requests that leave them empty
	DefaultIndex string
	MaxSentences int

	Logger *slog.Logger
}

// NewIngestService creates the ingest service
func NewIngestService(cfg IngestConfig) *IngestService {
	c := cfg.Chunker
	if c == nil {
		c = chunker.New()
	}
	maxSentences := cfg.MaxSentences
	if maxSentences <= 0 {
		maxSentences = chunker.DefaultMaxSentences
	}
	index := cfg.DefaultIndex
	if index == "" {
		index = "default"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestService{
		jobs:         cfg.Jobs,
		store:        cfg.Store,
		chunker:      c,
		extractor:    cfg.Extractor,
		services:     cfg.Services,
		defaultIndex: index,
		maxSentences: maxSentences,
		logger:       logger,
	}
}

// Ingest validates the request and submits an INGEST job. The job owns
// the file at in.Path from here on and removes it when done.
func (s *IngestService) Ingest(ctx context.Context, in domain.IngestInput) (string, error) {
	if in.Index == "" {
		in.Index = s.defaultIndex
	}
	if in.MaxSentences == 0 {
		in.MaxSentences = s.maxSentences
	}
	if err := in.Validate(); err != nil {
		return "", err
	}

	info, err := os.Stat(in.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", domain.ErrInvalidInput, in.Path)
	}

	return s.jobs.Submit(ctx, domain.JobKindIngest, in)
}

// BuildIndex embeds chunks with the configured embedder and publishes them.
// Appending to an index that does not exist yet builds it.
func (s *IngestService) BuildIndex(ctx context.Context, name string, chunks []domain.Chunk, appendTo bool) (*domain.IndexInfo, error) {
	embedder := s.services.EmbeddingService()
	if embedder == nil {
		return nil, fmt.Errorf("%w: no embedding service configured", domain.ErrEmbeddingUnavailable)
	}

	if appendTo {
		return s.store.Append(ctx, name, chunks, embedder.Embed)
	}
	return s.store.Build(ctx, name, chunks, embedder.Embed)
}

// IndexInfo describes the published version of name, or nil.
func (s *IngestService) IndexInfo(name string) *domain.IndexInfo {
	return s.store.Info(name)
}

// HandleIngest executes an INGEST job: extract, chunk, then build or append.
// The source file is removed whatever the outcome.
func (s *IngestService) HandleIngest(ctx context.Context, job *domain.Job) (string, error) {
	var in domain.IngestInput
	if err := job.DecodeInput(&in); err != nil {
		return "", err
	}
	if in.Path != "" {
		defer func() {
			if err := os.Remove(in.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.logger.Warn("failed to remove ingested file", "path", in.Path, "error", err)
			}
		}()
	}
	if err := in.Validate(); err != nil {
		return "", err
	}
	if s.extractor == nil {
		return "", fmt.Errorf("%w: no text extractor configured", domain.ErrExtractionFailed)
	}

	chunks, err := s.chunker.ChunkFile(ctx, s.extractor, in.Path, in.MaxSentences)
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "", fmt.Errorf("%w: no text found in %s", domain.ErrExtractionFailed, filepath.Base(in.Path))
	}

	info, err := s.BuildIndex(ctx, in.Index, chunks, in.Append)
	if err != nil {
		return "", err
	}

	s.logger.Info("document ingested",
		"job_id", job.ID,
		"index", info.Name,
		"version", info.Version,
		"chunks", len(chunks),
		"total", info.Count,
	)
	return fmt.Sprintf("indexed %d chunks into %q (version %d)", len(chunks), info.Name, info.Version), nil
}
