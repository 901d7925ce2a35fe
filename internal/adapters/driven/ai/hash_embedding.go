package ai

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

// Ensure HashEmbedding implements EmbeddingService
var _ driven.EmbeddingService = (*HashEmbedding)(nil)

// DefaultHashDimensions is the vector size of HashEmbedding when unset.
const DefaultHashDimensions = 256

// HashEmbedding is a deterministic feature-hashing embedder. Each lowercased
// word and word bigram is hashed into a signed bucket and the result is
// L2-normalised, so texts sharing vocabulary land close together.
// It needs no network and is used offline and in tests.
type HashEmbedding struct {
	dimensions int
}

// NewHashEmbedding creates a hashing embedder. Non-positive dimensions use
// DefaultHashDimensions.
func NewHashEmbedding(dimensions int) *HashEmbedding {
	if dimensions <= 0 {
		dimensions = DefaultHashDimensions
	}
	return &HashEmbedding{dimensions: dimensions}
}

// Embed generates embeddings for multiple texts
func (h *HashEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(text)
	}
	return out, nil
}

// EmbedQuery generates an embedding for a search query
func (h *HashEmbedding) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.vector(query), nil
}

func (h *HashEmbedding) Dimensions() int { return h.dimensions }

func (h *HashEmbedding) Model() string { return "local-hash" }

func (h *HashEmbedding) HealthCheck(ctx context.Context) error { return nil }

func (h *HashEmbedding) Close() error { return nil }

func (h *HashEmbedding) vector(text string) []float32 {
	v := make([]float32, h.dimensions)
	words := tokenize(text)
	for i, w := range words {
		h.add(v, w, 1)
		if i > 0 {
			h.add(v, words[i-1]+" "+w, 0.5)
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range v {
			v[i] *= scale
		}
	}
	return v
}

func (h *HashEmbedding) add(v []float32, feature string, weight float32) {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(feature))
	sum := hasher.Sum64()
	idx := int(sum % uint64(h.dimensions))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
