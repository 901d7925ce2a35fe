package driving

import (
	"context"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
)

// IngestService turns documents into index versions
type IngestService interface {
	// Ingest validates the request and submits an INGEST job.
	Ingest(ctx context.Context, in domain.IngestInput) (string, error)

	// BuildIndex embeds chunks and publishes them under name, replacing the
	// index or appending to it.
	BuildIndex(ctx context.Context, name string, chunks []domain.Chunk, appendTo bool) (*domain.IndexInfo, error)

	// IndexInfo describes the published version of name, or nil.
	IndexInfo(name string) *domain.IndexInfo
}
