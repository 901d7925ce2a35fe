package chunker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
)

// SaveChunks writes chunks as a JSON array of {id, text} records.
func SaveChunks(path string, chunks []domain.Chunk) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create chunk dir: %w", err)
	}
	data, err := json.MarshalIndent(chunks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal chunks: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write chunks: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadChunks reads a file written by SaveChunks.
func LoadChunks(path string) ([]domain.Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chunks: %w", err)
	}
	var chunks []domain.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("%w: parse chunks %s: %v", domain.ErrInvalidInput, path, err)
	}
	return chunks, nil
}
