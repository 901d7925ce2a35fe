package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

// Ensure MockTextGenerator implements TextGenerator
var _ driven.TextGenerator = (*MockTextGenerator)(nil)

// MockTextGenerator answers with a deterministic echo of its inputs unless
// GenerateFn is set.
type MockTextGenerator struct {
	mu     sync.Mutex
	calls  int
	closed bool

	GenerateFn func(ctx context.Context, question, history string, documents []string) (string, error)
	PingFn     func() error
}

// NewMockTextGenerator creates a new MockTextGenerator
func NewMockTextGenerator() *MockTextGenerator {
	return &MockTextGenerator{}
}

// NewUnavailableTextGenerator returns a generator that always fails the way
// an unreachable upstream does.
func NewUnavailableTextGenerator() *MockTextGenerator {
	return &MockTextGenerator{
		GenerateFn: func(ctx context.Context, question, history string, documents []string) (string, error) {
			return "", fmt.Errorf("%w: connection refused", domain.ErrGenerationUnavailable)
		},
		PingFn: func() error {
			return domain.ErrGenerationUnavailable
		},
	}
}

func (m *MockTextGenerator) Generate(ctx context.Context, question, history string, documents []string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, question, history, documents)
	}
	return fmt.Sprintf("answer to %q using %d documents: %s", question, len(documents), strings.Join(documents, " | ")), nil
}

func (m *MockTextGenerator) Model() string {
	return "mock-generator"
}

func (m *MockTextGenerator) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn()
	}
	return nil
}

func (m *MockTextGenerator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockTextGenerator) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Calls returns how many times Generate ran.
func (m *MockTextGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
