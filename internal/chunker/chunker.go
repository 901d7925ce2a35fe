// Package chunker groups document sentences into bounded retrieval chunks.
package chunker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

// DefaultMaxSentences is the window size used when none is configured.
const DefaultMaxSentences = 5

// Chunker groups consecutive sentences into windows of at most
// maxSentences, joined by a single space.
type Chunker struct {
	splitter driven.SentenceSplitter
	logger   *slog.Logger
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithSplitter sets the sentence-boundary collaborator.
func WithSplitter(s driven.SentenceSplitter) Option {
	return func(c *Chunker) {
		c.splitter = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Chunker) {
		c.logger = l
	}
}

// New creates a chunker. The regexp splitter is used unless overridden.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		splitter: NewRegexpSplitter(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chunk splits text into ordered chunks with ids 0..n-1.
// Empty text yields no chunks.
func (c *Chunker) Chunk(text string, maxSentences int) ([]domain.Chunk, error) {
	if maxSentences <= 0 {
		return nil, fmt.Errorf("%w: max_sentences must be positive, got %d", domain.ErrInvalidInput, maxSentences)
	}
	if strings.TrimSpace(text) == "" {
		return []domain.Chunk{}, nil
	}

	sentences := c.splitter.Split(text)
	chunks := make([]domain.Chunk, 0, (len(sentences)+maxSentences-1)/maxSentences)
	for start := 0; start < len(sentences); start += maxSentences {
		end := min(start+maxSentences, len(sentences))
		chunks = append(chunks, domain.Chunk{
			ID:   len(chunks),
			Text: strings.Join(sentences[start:end], " "),
		})
	}

	c.logger.Debug("chunked text", "sentences", len(sentences), "chunks", len(chunks), "max_sentences", maxSentences)
	return chunks, nil
}

// ChunkFile extracts the document at path and chunks its text.
func (c *Chunker) ChunkFile(ctx context.Context, extractor driven.TextExtractor, path string, maxSentences int) ([]domain.Chunk, error) {
	if maxSentences <= 0 {
		return nil, fmt.Errorf("%w: max_sentences must be positive, got %d", domain.ErrInvalidInput, maxSentences)
	}
	text, err := extractor.ExtractText(ctx, path)
	if err != nil {
		return nil, err
	}
	return c.Chunk(text, maxSentences)
}
