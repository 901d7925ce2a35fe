package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-chat/internal/runtime"
)

// Ensure Retriever implements RetrievalService
var _ driving.RetrievalService = (*Retriever)(nil)

// Retriever embeds queries and looks them up in one named index.
type Retriever struct {
	store    driven.VectorIndexStore
	services *runtime.Services
	index    string
}

// NewRetriever creates a retriever over the index called name.
// The embedder is resolved from services on every call.
func NewRetriever(store driven.VectorIndexStore, services *runtime.Services, name string) *Retriever {
	return &Retriever{
		store:    store,
		services: services,
		index:    name,
	}
}

// Index returns the index name queries go to.
func (r *Retriever) Index() string {
	return r.index
}

// GetTopK returns the texts of the k nearest chunks.
func (r *Retriever) GetTopK(ctx context.Context, query string, k int) ([]string, error) {
	scored, err := r.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	return domain.Texts(scored), nil
}

// Search returns the k nearest chunks with distances.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]domain.ScoredChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", domain.ErrInvalidInput)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidInput, k)
	}

	if r.store.Info(r.index) == nil {
		return nil, fmt.Errorf("%w: index %q is not loaded", domain.ErrRetrieverUnavailable, r.index)
	}

	embedder := r.services.EmbeddingService()
	if embedder == nil {
		return nil, fmt.Errorf("%w: no embedding service configured", domain.ErrRetrieverUnavailable)
	}

	embedding, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	return r.store.Query(r.index, embedding, k)
}
