package driven

import (
	"context"
)

// TextExtractor turns a document on disk into plain text.
// Failures must wrap domain.ErrExtractionFailed.
type TextExtractor interface {
	// ExtractText reads the document at path and returns its text.
	ExtractText(ctx context.Context, path string) (string, error)

	// SupportedExtensions returns the lower-case file extensions handled (".pdf").
	// "*" matches any extension.
	SupportedExtensions() []string

	// Priority returns the extractor priority (higher = more specific).
	//   50-100: Format-specific (PDF)
	//   1-49:   Fallback (plain text)
	Priority() int
}

// SentenceSplitter segments text into sentences in source order.
type SentenceSplitter interface {
	Split(text string) []string
}
