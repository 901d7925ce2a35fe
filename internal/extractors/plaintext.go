package extractors

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

var (
	_ driven.TextExtractor = (*Plaintext)(nil)
	_ driven.TextExtractor = (*Markdown)(nil)
)

// Plaintext reads files as UTF-8 text. It is the fallback for any extension.
type Plaintext struct{}

// NewPlaintext creates a plain text extractor.
func NewPlaintext() *Plaintext {
	return &Plaintext{}
}

func (p *Plaintext) ExtractText(ctx context.Context, path string) (string, error) {
	content, err := readFile(ctx, path)
	if err != nil {
		return "", err
	}
	return Collapse(content), nil
}

func (p *Plaintext) SupportedExtensions() []string {
	return []string{".txt", ".text", "*"}
}

func (p *Plaintext) Priority() int {
	return 1 // Lowest priority - fallback
}

// Markdown drops heading and emphasis markers before collapsing whitespace.
type Markdown struct{}

// NewMarkdown creates a Markdown extractor.
func NewMarkdown() *Markdown {
	return &Markdown{}
}

func (m *Markdown) ExtractText(ctx context.Context, path string) (string, error) {
	content, err := readFile(ctx, path)
	if err != nil {
		return "", err
	}

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimLeft(strings.TrimSpace(line), "#> ")
	}
	content = strings.Join(lines, "\n")
	content = strings.NewReplacer("**", "", "__", "", "`", "").Replace(content)

	return Collapse(content), nil
}

func (m *Markdown) SupportedExtensions() []string {
	return []string{".md", ".markdown"}
}

func (m *Markdown) Priority() int {
	return 50
}

func readFile(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", domain.ErrExtractionFailed, path, err)
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}
