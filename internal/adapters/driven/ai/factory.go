package ai

import (
	"fmt"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

// Ensure Factory implements AIServiceFactory
var _ driven.AIServiceFactory = (*Factory)(nil)

// Factory creates AI services based on configuration
type Factory struct{}

// NewFactory creates a new AI service factory
func NewFactory() *Factory {
	return &Factory{}
}

// CreateEmbeddingService creates an embedding service from settings
func (f *Factory) CreateEmbeddingService(settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.Provider {
	case domain.AIProviderOpenAI:
		return openAIEmbedding(settings.APIKey, settings.Model, settings.BaseURL, settings.Dimensions)
	case domain.AIProviderGemini:
		baseURL := settings.BaseURL
		if baseURL == "" {
			baseURL = domain.GeminiBaseURL
		}
		model := settings.Model
		if model == "" {
			model = "text-embedding-004"
		}
		return openAIEmbedding(settings.APIKey, model, baseURL, settings.Dimensions)
	case domain.AIProviderLocal:
		return NewHashEmbedding(settings.Dimensions), nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidProvider, settings.Provider)
	}
}

// CreateTextGenerator creates a text generator from settings
func (f *Factory) CreateTextGenerator(settings *domain.GeneratorSettings) (driven.TextGenerator, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.Provider {
	case domain.AIProviderOpenAI, domain.AIProviderGemini:
		gen, err := NewChatGenerator(settings.Provider, settings.APIKey, settings.Model, settings.BaseURL)
		if err != nil {
			return nil, err
		}
		return gen, nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidProvider, settings.Provider)
	}
}

// openAIEmbedding avoids handing back a typed nil inside the interface.
func openAIEmbedding(apiKey, model, baseURL string, dimensions int) (driven.EmbeddingService, error) {
	emb, err := NewOpenAIEmbedding(apiKey, model, baseURL, dimensions)
	if err != nil {
		return nil, err
	}
	return emb, nil
}
