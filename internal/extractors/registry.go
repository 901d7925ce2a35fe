package extractors

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.TextExtractor = (*Registry)(nil)

// Registry selects an extractor by file extension.
// When multiple extractors match, the highest priority one is used.
type Registry struct {
	mu         sync.RWMutex
	extractors []driven.TextExtractor
}

// NewRegistry creates a new extractor registry.
func NewRegistry() *Registry {
	return &Registry{
		extractors: make([]driven.TextExtractor, 0),
	}
}

// Register registers an extractor.
func (r *Registry) Register(extractor driven.TextExtractor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.extractors = append(r.extractors, extractor)
}

// Get retrieves the best-matching extractor for a path.
// Returns nil if no extractor handles the extension.
func (r *Registry) Get(path string) driven.TextExtractor {
	matches := r.GetAll(path)
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

// GetAll retrieves all extractors that match a path, sorted by priority (highest first).
func (r *Registry) GetAll(path string) []driven.TextExtractor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext := strings.ToLower(filepath.Ext(path))
	var matches []driven.TextExtractor
	for _, e := range r.extractors {
		if matchesExtension(e.SupportedExtensions(), ext) {
			matches = append(matches, e)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Priority() > matches[j].Priority()
	})
	return matches
}

// ExtractText dispatches to the best extractor for the path's extension.
func (r *Registry) ExtractText(ctx context.Context, path string) (string, error) {
	e := r.Get(path)
	if e == nil {
		return "", fmt.Errorf("%w: unsupported file type %q", domain.ErrExtractionFailed, filepath.Ext(path))
	}
	return e.ExtractText(ctx, path)
}

// SupportedExtensions returns every registered extension, sorted.
func (r *Registry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := make(map[string]struct{})
	for _, e := range r.extractors {
		for _, ext := range e.SupportedExtensions() {
			set[ext] = struct{}{}
		}
	}

	exts := make([]string, 0, len(set))
	for ext := range set {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Priority of the registry itself; it is never registered in another.
func (r *Registry) Priority() int {
	return 0
}

func matchesExtension(supported []string, ext string) bool {
	for _, s := range supported {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "*" || s == ext {
			return true
		}
	}
	return false
}

// DefaultRegistry creates a registry with the built-in extractors.
// Unknown extensions fall back to plain text.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewPlaintext())
	r.Register(NewMarkdown())
	r.Register(NewHTML())
	r.Register(NewPDF())
	return r
}

// Collapse replaces every whitespace run with a single space and trims.
func Collapse(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
