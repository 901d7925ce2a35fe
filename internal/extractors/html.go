package extractors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

var _ driven.TextExtractor = (*HTML)(nil)

// HTML extracts visible text, skipping script and style blocks.
// Entities are decoded by the tokenizer.
type HTML struct{}

// NewHTML creates an HTML extractor.
func NewHTML() *HTML {
	return &HTML{}
}

func (h *HTML) ExtractText(ctx context.Context, path string) (string, error) {
	content, err := readFile(ctx, path)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	skip := 0
	z := html.NewTokenizer(bytes.NewReader([]byte(content)))
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return Collapse(b.String()), nil
			}
			return "", fmt.Errorf("%w: parse %s: %v", domain.ErrExtractionFailed, path, z.Err())
		case html.StartTagToken:
			if isHiddenTag(z) {
				skip++
			}
			b.WriteByte(' ')
		case html.EndTagToken:
			if isHiddenTag(z) && skip > 0 {
				skip--
			}
			b.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isHiddenTag(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	switch string(name) {
	case "script", "style", "noscript", "template":
		return true
	}
	return false
}

func (h *HTML) SupportedExtensions() []string {
	return []string{".html", ".htm", ".xhtml"}
}

func (h *HTML) Priority() int {
	return 50
}
