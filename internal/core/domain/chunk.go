package domain

import (
	"fmt"
	"regexp"
)

// Chunk is a bounded, ordered span of source text used as the retrieval unit.
// IDs are zero-based and follow source order.
type Chunk struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// ScoredChunk is a chunk returned by a nearest-neighbour query
type ScoredChunk struct {
	Chunk    Chunk   `json:"chunk"`
	Distance float32 `json:"distance"`
}

// Texts extracts chunk texts in order.
func Texts(chunks []ScoredChunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Chunk.Text
	}
	return out
}

// IndexInfo describes a published index version
type IndexInfo struct {
	Name      string `json:"name"`
	Version   int    `json:"version"`
	Dimension int    `json:"dimension"`
	Count     int    `json:"count"`
	Path      string `json:"path"`
}

var indexNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidateIndexName rejects names that are not a single safe path segment:
// 1-64 characters of letters, digits, '_' or '-', not starting with a symbol.
func ValidateIndexName(name string) error {
	if !indexNamePattern.MatchString(name) {
		return fmt.Errorf("%w: invalid index name %q", ErrInvalidInput, name)
	}
	return nil
}
