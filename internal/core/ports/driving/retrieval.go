package driving

import (
	"context"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
)

// RetrievalService finds the chunks nearest to a query
type RetrievalService interface {
	// GetTopK returns the texts of the k nearest chunks, nearest first.
	GetTopK(ctx context.Context, query string, k int) ([]string, error)

	// Search returns the k nearest chunks with their distances.
	Search(ctx context.Context, query string, k int) ([]domain.ScoredChunk, error)
}
