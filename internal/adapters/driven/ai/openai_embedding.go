package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

// Ensure OpenAIEmbedding implements EmbeddingService
var _ driven.EmbeddingService = (*OpenAIEmbedding)(nil)

const (
	// DefaultOpenAIBaseURL is used when no base URL is configured
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	// DefaultEmbeddingModel is used when no model is configured
	DefaultEmbeddingModel = "text-embedding-3-small"
	// DefaultRequestTimeout bounds a single upstream call
	DefaultRequestTimeout = 60 * time.Second
)

// Model dimensions for OpenAI embedding models
var openAIModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"text-embedding-004":     768,
	"gemini-embedding-001":   3072,
}

// OpenAIEmbedding implements EmbeddingService against the OpenAI embeddings
// API or any endpoint that speaks it.
type OpenAIEmbedding struct {
	client     *openai.Client
	httpClient *http.Client
	model      string
	baseURL    string
	dimensions int
	// requested is sent as the dimensions parameter; zero leaves the model default
	requested int
}

// NewOpenAIEmbedding creates a new OpenAI embedding service.
// dimensions may be zero to use the model's native size.
func NewOpenAIEmbedding(apiKey, model, baseURL string, dimensions int) (*OpenAIEmbedding, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}

	native, ok := openAIModelDimensions[model]
	if !ok {
		// Default to 1536 for unknown models
		native = 1536
	}
	size := native
	if dimensions > 0 {
		size = dimensions
	}

	httpClient := &http.Client{Timeout: DefaultRequestTimeout}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = httpClient

	return &OpenAIEmbedding{
		client:     openai.NewClientWithConfig(cfg),
		httpClient: httpClient,
		model:      model,
		baseURL:    baseURL,
		dimensions: size,
		requested:  dimensions,
	}, nil
}

// Embed generates embeddings for multiple texts, in input order.
func (e *OpenAIEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(e.model),
		Input:      texts,
		Dimensions: e.requested,
	})
	if err != nil {
		return nil, classifyError("embedding request", err)
	}

	// Sort by index to ensure order matches input
	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(embeddings) {
			continue
		}
		v := make([]float32, len(d.Embedding))
		for i := range d.Embedding {
			v[i] = float32(d.Embedding[i])
		}
		if len(v) != e.dimensions {
			return nil, fmt.Errorf("%w: model %s returned %d values, expected %d",
				domain.ErrDimensionMismatch, e.model, len(v), e.dimensions)
		}
		embeddings[d.Index] = v
	}

	for i, v := range embeddings {
		if v == nil {
			return nil, fmt.Errorf("no embedding returned for input %d", i)
		}
	}
	return embeddings, nil
}

// EmbedQuery generates an embedding for a search query
func (e *OpenAIEmbedding) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	embeddings, err := e.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// Dimensions returns the embedding dimension size
func (e *OpenAIEmbedding) Dimensions() int {
	return e.dimensions
}

// Model returns the model name being used
func (e *OpenAIEmbedding) Model() string {
	return e.model
}

// BaseURL returns the API root requests are sent to
func (e *OpenAIEmbedding) BaseURL() string {
	return e.baseURL
}

// HealthCheck verifies the embedding service is available
func (e *OpenAIEmbedding) HealthCheck(ctx context.Context) error {
	// Make a small embedding request to verify connectivity
	_, err := e.EmbedQuery(ctx, "health check")
	return err
}

// Close releases resources held by the embedding service
func (e *OpenAIEmbedding) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}

// classifyError marks rate limits and server errors as transient so the job
// executor retries them.
func classifyError(op string, err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	if status == http.StatusTooManyRequests || status >= 500 {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
