package driving

import (
	"context"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
)

// ChatService answers questions against the index and the shared
// conversation window
type ChatService interface {
	// Ask validates the question, retrieves documents, records the user turn
	// and submits a GENERATE job. It returns the job id without waiting.
	Ask(ctx context.Context, question string) (string, error)

	// History returns the turns currently in the window, oldest first.
	History() []domain.Turn

	// Context renders the window the way it is sent to the generator.
	Context() string
}
