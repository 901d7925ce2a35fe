package runtime

import (
	"context"
	"sync"

	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

// Services holds the AI collaborators the pipeline resolves on every call.
// Either may be nil: without an embedder retrieval is unavailable, without a
// generator GENERATE jobs fail. Thread-safe for concurrent access.
type Services struct {
	mu sync.RWMutex

	embeddingService driven.EmbeddingService
	textGenerator    driven.TextGenerator
}

// NewServices creates an empty registry
func NewServices() *Services {
	return &Services{}
}

// EmbeddingService returns the current embedding service (may be nil)
func (s *Services) EmbeddingService() driven.EmbeddingService {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.embeddingService
}

// TextGenerator returns the current text generator (may be nil)
func (s *Services) TextGenerator() driven.TextGenerator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.textGenerator
}

// Capabilities reports which collaborators are registered
type Capabilities struct {
	Embedding  bool `json:"embedding"`
	Generation bool `json:"generation"`
}

// Capabilities returns the current capability flags
func (s *Services) Capabilities() Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Capabilities{
		Embedding:  s.embeddingService != nil,
		Generation: s.textGenerator != nil,
	}
}

// SetEmbeddingService replaces the embedding service, closing the old one.
func (s *Services) SetEmbeddingService(svc driven.EmbeddingService) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.embeddingService != nil && s.embeddingService != svc {
		_ = s.embeddingService.Close()
	}
	s.embeddingService = svc
}

// SetTextGenerator replaces the text generator, closing the old one.
func (s *Services) SetTextGenerator(gen driven.TextGenerator) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.textGenerator != nil && s.textGenerator != gen {
		_ = s.textGenerator.Close()
	}
	s.textGenerator = gen
}

// Close shuts down all services
func (s *Services) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.embeddingService != nil {
		_ = s.embeddingService.Close()
		s.embeddingService = nil
	}
	if s.textGenerator != nil {
		_ = s.textGenerator.Close()
		s.textGenerator = nil
	}
	return nil
}

// ValidateAndSetEmbedding checks connectivity before registering svc.
// A nil svc unregisters the current one.
func (s *Services) ValidateAndSetEmbedding(ctx context.Context, svc driven.EmbeddingService) error {
	if svc == nil {
		s.SetEmbeddingService(nil)
		return nil
	}

	if err := svc.HealthCheck(ctx); err != nil {
		_ = svc.Close()
		return err
	}

	s.SetEmbeddingService(svc)
	return nil
}

// ValidateAndSetGenerator checks connectivity before registering gen.
// A nil gen unregisters the current one.
func (s *Services) ValidateAndSetGenerator(ctx context.Context, gen driven.TextGenerator) error {
	if gen == nil {
		s.SetTextGenerator(nil)
		return nil
	}

	if err := gen.Ping(ctx); err != nil {
		_ = gen.Close()
		return err
	}

	s.SetTextGenerator(gen)
	return nil
}
