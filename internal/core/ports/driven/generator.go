package driven

import (
	"context"
)

// TextGenerator produces an answer from a question, the conversation
// context and the retrieved documents.
// Failures must wrap domain.ErrGenerationUnavailable.
type TextGenerator interface {
	// Generate returns the answer text
	Generate(ctx context.Context, question, history string, documents []string) (string, error)

	// Model returns the model name being used
	Model() string

	// Ping verifies the generator is reachable
	Ping(ctx context.Context) error

	// Close releases resources held by the generator
	Close() error
}
