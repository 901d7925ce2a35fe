package mocks

import (
	"context"
	"fmt"
	"os"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

// Ensure MockTextExtractor implements TextExtractor
var _ driven.TextExtractor = (*MockTextExtractor)(nil)

// MockTextExtractor reads files verbatim unless ExtractFn is set
type MockTextExtractor struct {
	ExtractFn func(ctx context.Context, path string) (string, error)
}

func NewMockTextExtractor() *MockTextExtractor {
	return &MockTextExtractor{}
}

func (m *MockTextExtractor) ExtractText(ctx context.Context, path string) (string, error) {
	if m.ExtractFn != nil {
		return m.ExtractFn(ctx, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
	}
	return string(data), nil
}

func (m *MockTextExtractor) SupportedExtensions() []string {
	return []string{"*"}
}

func (m *MockTextExtractor) Priority() int {
	return 1
}
