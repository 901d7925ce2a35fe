package vectorindex

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
)

func builtVersion(t *testing.T) string {
	t.Helper()
	s := newTestStore(t)
	info, err := s.Build(context.Background(), "default", chunksOf("one", "two two"), lengthEmbed)
	require.NoError(t, err)
	return info.Path
}

func TestMarshalBinary_Layout(t *testing.T) {
	ix, err := New(chunksOf("a", "b"), [][]float32{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)

	data, err := ix.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, 16+4*3*2, len(data))
	assert.Equal(t, "SVEC", string(data[:4]))

	vecs, err := decodeVectors(data)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2, 3}, {4, 5, 6}}, vecs)
}

func TestLoad_CountMismatch(t *testing.T) {
	dir := builtVersion(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte(`[{"id":0,"text":"one"}]`), 0o644))

	_, err := Load(dir)
	assert.ErrorIs(t, err, domain.ErrIndexCorrupt)
}

func TestLoad_MisorderedMetadata(t *testing.T) {
	dir := builtVersion(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte(`[{"id":1,"text":"two two"},{"id":0,"text":"one"}]`), 0o644))

	_, err := Load(dir)
	assert.ErrorIs(t, err, domain.ErrIndexCorrupt)
}

func TestLoad_MalformedMetadata(t *testing.T) {
	dir := builtVersion(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte(`[{"id":0,`), 0o644))

	_, err := Load(dir)
	assert.ErrorIs(t, err, domain.ErrIndexCorrupt)
}

func TestLoad_TruncatedVectors(t *testing.T) {
	dir := builtVersion(t)
	path := filepath.Join(dir, VectorsFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0o644))

	_, err = Load(dir)
	assert.ErrorIs(t, err, domain.ErrIndexCorrupt)
}

func TestLoad_BadHeader(t *testing.T) {
	dir := builtVersion(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, VectorsFile), []byte("FAISS index bytes"), 0o644))

	_, err := Load(dir)
	assert.ErrorIs(t, err, domain.ErrIndexCorrupt)
}

func TestDecodeVectors_HeaderProductOverflow(t *testing.T) {
	tests := []struct {
		name string
		dim  uint32
		n    uint32
	}{
		{"wraps int to zero", 1 << 31, 1 << 31},
		{"max dims", math.MaxUint32, math.MaxUint32},
		{"one huge row", math.MaxUint32, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte(vectorsMagic)
			data = binary.LittleEndian.AppendUint32(data, vectorsVersion)
			data = binary.LittleEndian.AppendUint32(data, tt.dim)
			data = binary.LittleEndian.AppendUint32(data, tt.n)

			_, err := decodeVectors(data)
			require.Error(t, err)

			dir := builtVersion(t)
			require.NoError(t, os.WriteFile(filepath.Join(dir, VectorsFile), data, 0o644))
			_, err = Load(dir)
			assert.ErrorIs(t, err, domain.ErrIndexCorrupt)
		})
	}
}

func TestLoad_MissingArtifact(t *testing.T) {
	dir := builtVersion(t)
	require.NoError(t, os.Remove(filepath.Join(dir, VectorsFile)))

	_, err := Load(dir)
	assert.ErrorIs(t, err, domain.ErrIndexCorrupt)
}

func TestOpen_CorruptCurrentPointer(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Join(s.root, "default"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.root, "default", currentFile), []byte("garbage"), 0o644))

	_, err := s.Open(context.Background(), "default")
	assert.ErrorIs(t, err, domain.ErrIndexCorrupt)
}
