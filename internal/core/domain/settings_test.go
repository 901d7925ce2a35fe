package domain

import (
	"testing"
)

func TestAIProvider_IsValid(t *testing.T) {
	tests := []struct {
		provider AIProvider
		expected bool
	}{
		{AIProviderOpenAI, true},
		{AIProviderGemini, true},
		{AIProviderLocal, true},
		{AIProvider("cohere"), false},
		{AIProvider(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.provider), func(t *testing.T) {
			if got := tt.provider.IsValid(); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestEmbeddingSettings_IsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		settings EmbeddingSettings
		expected bool
	}{
		{"empty", EmbeddingSettings{}, false},
		{"local without key", EmbeddingSettings{Provider: AIProviderLocal}, true},
		{"openai without key", EmbeddingSettings{Provider: AIProviderOpenAI}, false},
		{"openai with key", EmbeddingSettings{Provider: AIProviderOpenAI, APIKey: "sk"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.settings.IsConfigured(); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestGeneratorSettings_IsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		settings GeneratorSettings
		expected bool
	}{
		{"empty", GeneratorSettings{}, false},
		{"gemini without key", GeneratorSettings{Provider: AIProviderGemini}, false},
		{"gemini with key", GeneratorSettings{Provider: AIProviderGemini, APIKey: "k"}, true},
		{"local never generates", GeneratorSettings{Provider: AIProviderLocal, APIKey: "k"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.settings.IsConfigured(); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}
