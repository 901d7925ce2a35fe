package vectorindex

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
)

const (
	// VectorsFile holds the vector structure of a version.
	VectorsFile = "vectors.bin"
	// MetadataFile holds the chunk records of a version.
	MetadataFile = "metadata.json"

	vectorsMagic   = "SVEC"
	vectorsVersion = 1
)

// MarshalBinary stores: magic "SVEC", format(uint32), dim(uint32), n(uint32),
// then n*dim float32 values, all little-endian.
func (ix *Index) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, 16+4*ix.dim*len(ix.vectors))
	out = append(out, vectorsMagic...)
	out = binary.LittleEndian.AppendUint32(out, vectorsVersion)
	out = binary.LittleEndian.AppendUint32(out, uint32(ix.dim))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(ix.vectors)))
	for _, vec := range ix.vectors {
		for _, f := range vec {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
		}
	}
	return out, nil
}

// decodeVectors parses the vectors.bin layout written by MarshalBinary.
func decodeVectors(data []byte) ([][]float32, error) {
	if len(data) < 16 || string(data[:4]) != vectorsMagic {
		return nil, errors.New("missing vector header")
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != vectorsVersion {
		return nil, fmt.Errorf("unsupported vector format %d", v)
	}
	dim32 := binary.LittleEndian.Uint32(data[8:12])
	n32 := binary.LittleEndian.Uint32(data[12:16])
	if dim32 == 0 && n32 > 0 {
		return nil, errors.New("zero dimension")
	}
	// dim*n of two uint32 values always fits in a uint64
	payload := uint64(len(data) - 16)
	if payload%4 != 0 || payload/4 != uint64(dim32)*uint64(n32) {
		return nil, fmt.Errorf("vector payload is %d bytes, header declares %dx%d floats", payload, n32, dim32)
	}
	dim, n := int(dim32), int(n32)

	off := 16
	vecs := make([][]float32, n)
	for i := range vecs {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
		}
		vecs[i] = vec
	}
	return vecs, nil
}

// Load reads a version directory. Unreadable or malformed artifacts, or
// artifacts that disagree on entry count or order, fail with ErrIndexCorrupt.
func Load(dir string) (*Index, error) {
	raw, err := os.ReadFile(filepath.Join(dir, VectorsFile))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrIndexCorrupt, VectorsFile, err)
	}
	vectors, err := decodeVectors(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrIndexCorrupt, VectorsFile, err)
	}

	meta, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrIndexCorrupt, MetadataFile, err)
	}
	var chunks []domain.Chunk
	if err := json.Unmarshal(meta, &chunks); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrIndexCorrupt, MetadataFile, err)
	}

	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("%w: %d vectors but %d metadata records", domain.ErrIndexCorrupt, len(vectors), len(chunks))
	}
	for i, c := range chunks {
		if c.ID != i {
			return nil, fmt.Errorf("%w: metadata record %d has id %d", domain.ErrIndexCorrupt, i, c.ID)
		}
	}

	ix, err := New(chunks, vectors)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIndexCorrupt, err)
	}
	ix.path = dir
	return ix, nil
}

// writeArtifacts persists both artifacts into dir and syncs them.
func writeArtifacts(dir string, ix *Index) error {
	vectors, err := ix.MarshalBinary()
	if err != nil {
		return err
	}
	if err := writeFileSync(filepath.Join(dir, VectorsFile), func(w io.Writer) error {
		_, err := w.Write(vectors)
		return err
	}); err != nil {
		return fmt.Errorf("write %s: %w", VectorsFile, err)
	}

	if err := writeFileSync(filepath.Join(dir, MetadataFile), func(w io.Writer) error {
		return json.NewEncoder(w).Encode(ix.chunks)
	}); err != nil {
		return fmt.Errorf("write %s: %w", MetadataFile, err)
	}
	return nil
}

func writeFileSync(path string, write func(io.Writer) error) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
