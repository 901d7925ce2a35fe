package driven

import (
	"github.com/custodia-labs/sercha-chat/internal/core/domain"
)

// AIServiceFactory creates AI services based on configuration
type AIServiceFactory interface {
	// CreateEmbeddingService creates an embedding service from settings
	// Returns nil, nil if settings are not configured
	CreateEmbeddingService(settings *domain.EmbeddingSettings) (EmbeddingService, error)

	// CreateTextGenerator creates a text generator from settings
	// Returns nil, nil if settings are not configured (e.g. missing API key)
	CreateTextGenerator(settings *domain.GeneratorSettings) (TextGenerator, error)
}
