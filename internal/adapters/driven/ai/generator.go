package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

// Ensure ChatGenerator implements TextGenerator
var _ driven.TextGenerator = (*ChatGenerator)(nil)

const (
	// DefaultGeminiModel is used for the gemini provider when no model is configured
	DefaultGeminiModel = "gemini-2.5-flash"
	// DefaultOpenAIChatModel is used for the openai provider when no model is configured
	DefaultOpenAIChatModel = "gpt-4o-mini"
	// DefaultGenerateTimeout bounds a single completion call
	DefaultGenerateTimeout = 120 * time.Second
)

// ChatGenerator answers questions through a chat-completions endpoint.
// Gemini is reached through its OpenAI-compatible API.
type ChatGenerator struct {
	client     *openai.Client
	httpClient *http.Client
	model      string
	baseURL    string
}

// NewChatGenerator creates a generator for the given provider.
func NewChatGenerator(provider domain.AIProvider, apiKey, model, baseURL string) (*ChatGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", domain.ErrGenerationUnavailable)
	}

	switch provider {
	case domain.AIProviderGemini:
		if baseURL == "" {
			baseURL = domain.GeminiBaseURL
		}
		if model == "" {
			model = DefaultGeminiModel
		}
	case domain.AIProviderOpenAI:
		if baseURL == "" {
			baseURL = DefaultOpenAIBaseURL
		}
		if model == "" {
			model = DefaultOpenAIChatModel
		}
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidProvider, provider)
	}

	httpClient := &http.Client{Timeout: DefaultGenerateTimeout}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = httpClient

	return &ChatGenerator{
		client:     openai.NewClientWithConfig(cfg),
		httpClient: httpClient,
		model:      model,
		baseURL:    baseURL,
	}, nil
}

// BuildPrompt renders the single user message sent to the model.
func BuildPrompt(question, history string, documents []string) string {
	var b strings.Builder
	b.WriteString("Chat history:\n")
	b.WriteString(history)
	b.WriteString("\n\nDocuments:\n")
	b.WriteString(strings.Join(documents, "\n\n"))
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	return strings.TrimSpace(b.String())
}

// Generate returns the model's answer, trimmed.
func (g *ChatGenerator) Generate(ctx context.Context, question, history string, documents []string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(question, history, documents)},
		},
	})
	if err != nil {
		return "", unavailable(classifyError("chat completion", err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", domain.ErrGenerationUnavailable)
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Model returns the model name being used
func (g *ChatGenerator) Model() string {
	return g.model
}

// BaseURL returns the API root requests are sent to
func (g *ChatGenerator) BaseURL() string {
	return g.baseURL
}

// Ping lists models to verify the endpoint and key.
func (g *ChatGenerator) Ping(ctx context.Context) error {
	if _, err := g.client.ListModels(ctx); err != nil {
		return unavailable(classifyError("list models", err))
	}
	return nil
}

// Close releases idle connections
func (g *ChatGenerator) Close() error {
	g.httpClient.CloseIdleConnections()
	return nil
}

func unavailable(err error) error {
	if errors.Is(err, domain.ErrGenerationUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrGenerationUnavailable, err)
}
