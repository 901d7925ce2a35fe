package driven

import (
	"context"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
)

// EmbedFunc maps texts to vectors, one per text, order preserved.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// VectorIndexStore is the read/write surface of the named vector indexes.
type VectorIndexStore interface {
	// Build replaces index name with a fresh version built from chunks.
	Build(ctx context.Context, name string, chunks []domain.Chunk, embed EmbedFunc) (*domain.IndexInfo, error)

	// Append rebuilds index name over the union of its current version and chunks.
	Append(ctx context.Context, name string, chunks []domain.Chunk, embed EmbedFunc) (*domain.IndexInfo, error)

	// Query returns up to k chunks of the published version of name, nearest first.
	// Returns domain.ErrRetrieverUnavailable if nothing is published under name.
	Query(name string, embedding []float32, k int) ([]domain.ScoredChunk, error)

	// Info describes the published version of name, or nil.
	Info(name string) *domain.IndexInfo
}
