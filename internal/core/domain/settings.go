package domain

import "errors"

// ErrInvalidProvider indicates an unknown AI provider was specified
var ErrInvalidProvider = errors.New("invalid provider")

// AIProvider identifies the embedding/generation provider
type AIProvider string

const (
	// AIProviderOpenAI talks to the OpenAI API or any compatible endpoint
	AIProviderOpenAI AIProvider = "openai"
	// AIProviderGemini talks to Gemini through its OpenAI-compatible endpoint
	AIProviderGemini AIProvider = "gemini"
	// AIProviderLocal is the deterministic in-process hashing embedder
	AIProviderLocal AIProvider = "local"
)

// GeminiBaseURL is Gemini's OpenAI-compatible API root.
const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// EmbeddingSettings configures the embedding service
type EmbeddingSettings struct {
	Provider   AIProvider `json:"provider" yaml:"provider"`
	Model      string     `json:"model" yaml:"model"`
	APIKey     string     `json:"-" yaml:"-"` // Never serialize
	BaseURL    string     `json:"base_url,omitempty" yaml:"base_url"`
	Dimensions int        `json:"dimensions" yaml:"dimensions"`
}

// IsConfigured returns true if embedding settings are properly configured
func (e *EmbeddingSettings) IsConfigured() bool {
	if e.Provider == "" {
		return false
	}
	if e.Provider.RequiresAPIKey() && e.APIKey == "" {
		return false
	}
	return true
}

// GeneratorSettings configures the text generator
type GeneratorSettings struct {
	Provider AIProvider `json:"provider" yaml:"provider"`
	Model    string     `json:"model" yaml:"model"`
	APIKey   string     `json:"-" yaml:"-"` // Never serialize
	BaseURL  string     `json:"base_url,omitempty" yaml:"base_url"`
}

// IsConfigured returns true if generator settings are properly configured
func (g *GeneratorSettings) IsConfigured() bool {
	if g.Provider == "" || g.Provider == AIProviderLocal {
		return false
	}
	return g.APIKey != ""
}

// RequiresAPIKey returns true if this provider requires an API key
func (p AIProvider) RequiresAPIKey() bool {
	switch p {
	case AIProviderLocal:
		return false
	default:
		return true
	}
}

// IsValid returns true if this is a known provider
func (p AIProvider) IsValid() bool {
	switch p {
	case AIProviderOpenAI, AIProviderGemini, AIProviderLocal:
		return true
	default:
		return false
	}
}
