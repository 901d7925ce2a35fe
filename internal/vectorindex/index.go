// Package vectorindex stores named, versioned flat L2 indexes of chunk embeddings.
//
// A version is persisted as two aligned artifacts in its own directory:
// vectors.bin (the vector structure) and metadata.json (the chunk records).
// Versions are published copy-on-write; readers never see a partial version.
package vectorindex

import (
	"fmt"
	"sort"

	"github.com/viant/vec/search"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
)

// Index is one immutable version of a named index.
// Entry i pairs vectors[i] with chunks[i].
type Index struct {
	name    string
	version int
	path    string
	dim     int
	vectors [][]float32
	chunks  []domain.Chunk
}

// New builds an in-memory index from aligned chunks and vectors.
func New(chunks []domain.Chunk, vectors [][]float32) (*Index, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("%w: %d chunks but %d vectors", domain.ErrDimensionMismatch, len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: index must contain at least one chunk", domain.ErrInvalidInput)
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: zero-length embedding", domain.ErrDimensionMismatch)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has %d dims, expected %d", domain.ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return &Index{
		dim:     dim,
		vectors: append([][]float32(nil), vectors...),
		chunks:  append([]domain.Chunk(nil), chunks...),
	}, nil
}

// Name returns the index name (empty for an index loaded outside a Store).
func (ix *Index) Name() string { return ix.name }

// Version returns the published version number.
func (ix *Index) Version() int { return ix.version }

// Dimension returns the embedding dimensionality.
func (ix *Index) Dimension() int { return ix.dim }

// Len returns the entry count.
func (ix *Index) Len() int { return len(ix.chunks) }

// Chunks returns a copy of the chunk metadata in entry order.
func (ix *Index) Chunks() []domain.Chunk {
	return append([]domain.Chunk(nil), ix.chunks...)
}

// Info describes the index.
func (ix *Index) Info() *domain.IndexInfo {
	return &domain.IndexInfo{
		Name:      ix.name,
		Version:   ix.version,
		Dimension: ix.dim,
		Count:     len(ix.chunks),
		Path:      ix.path,
	}
}

// Query returns up to k chunks ranked by ascending Euclidean distance.
// Equal distances are ordered by ascending chunk id.
func (ix *Index) Query(embedding []float32, k int) ([]domain.ScoredChunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidInput, k)
	}
	if len(embedding) != ix.dim {
		return nil, fmt.Errorf("%w: query has %d dims, index %q has %d", domain.ErrDimensionMismatch, len(embedding), ix.name, ix.dim)
	}

	q := search.Float32s(embedding)
	scored := make([]domain.ScoredChunk, len(ix.chunks))
	for i, v := range ix.vectors {
		scored[i] = domain.ScoredChunk{
			Chunk:    ix.chunks[i],
			Distance: q.EuclideanDistance(v),
		}
	}
	sort.Slice(scored, func(a, b int) bool {
		if scored[a].Distance != scored[b].Distance {
			return scored[a].Distance < scored[b].Distance
		}
		return scored[a].Chunk.ID < scored[b].Chunk.ID
	})

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}
