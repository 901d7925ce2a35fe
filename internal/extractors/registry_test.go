package extractors

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

// Mock extractor for testing
type mockExtractor struct {
	name     string
	exts     []string
	priority int
}

func (m *mockExtractor) ExtractText(ctx context.Context, path string) (string, error) {
	return m.name + ":" + filepath.Base(path), nil
}

func (m *mockExtractor) SupportedExtensions() []string {
	return m.exts
}

func (m *mockExtractor) Priority() int {
	return m.priority
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockExtractor{name: "test", exts: []string{".txt"}, priority: 50})

	if r.Get("notes.txt") == nil {
		t.Fatal("expected to find extractor")
	}
	if r.Get("NOTES.TXT") == nil {
		t.Error("expected extension matching to ignore case")
	}
	if r.Get("data.json") != nil {
		t.Error("expected nil for unregistered extension")
	}
}

func TestRegistry_PrioritySelection(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockExtractor{name: "low", exts: []string{".pdf"}, priority: 10})
	r.Register(&mockExtractor{name: "high", exts: []string{".pdf"}, priority: 90})
	r.Register(&mockExtractor{name: "medium", exts: []string{".pdf"}, priority: 50})

	text, err := r.ExtractText(context.Background(), "/tmp/doc.pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "high:doc.pdf" {
		t.Errorf("expected high priority extractor, got %s", text)
	}

	all := r.GetAll("doc.pdf")
	if len(all) != 3 || all[0].Priority() != 90 || all[2].Priority() != 10 {
		t.Errorf("expected extractors sorted by priority, got %d", len(all))
	}
}

func TestRegistry_Wildcard(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockExtractor{name: "fallback", exts: []string{"*"}, priority: 1})
	r.Register(&mockExtractor{name: "pdf", exts: []string{".pdf"}, priority: 50})

	text, _ := r.ExtractText(context.Background(), "paper.pdf")
	if text != "pdf:paper.pdf" {
		t.Errorf("expected pdf extractor, got %s", text)
	}
	text, _ = r.ExtractText(context.Background(), "README")
	if text != "fallback:README" {
		t.Errorf("expected fallback extractor, got %s", text)
	}
}

func TestRegistry_Unsupported(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockExtractor{name: "pdf", exts: []string{".pdf"}, priority: 50})

	_, err := r.ExtractText(context.Background(), "image.png")
	if !errors.Is(err, domain.ErrExtractionFailed) {
		t.Errorf("expected ErrExtractionFailed, got %v", err)
	}
}

func TestRegistry_SupportedExtensions(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockExtractor{name: "a", exts: []string{".txt", ".md"}, priority: 50})
	r.Register(&mockExtractor{name: "b", exts: []string{".md"}, priority: 50})

	exts := r.SupportedExtensions()
	expected := []string{".md", ".txt"}
	if len(exts) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, exts)
	}
	for i, exp := range expected {
		if exts[i] != exp {
			t.Errorf("expected %s at index %d, got %s", exp, i, exts[i])
		}
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		path string
		want string
	}{
		{"a.txt", "*extractors.Plaintext"},
		{"a.md", "*extractors.Markdown"},
		{"a.html", "*extractors.HTML"},
		{"a.pdf", "*extractors.PDF"},
		{"a.log", "*extractors.Plaintext"},
	}
	for _, tt := range tests {
		e := r.Get(tt.path)
		if e == nil {
			t.Errorf("%s: expected an extractor", tt.path)
			continue
		}
		if got := typeName(e); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.path, tt.want, got)
		}
	}
}

func typeName(e driven.TextExtractor) string {
	switch e.(type) {
	case *Plaintext:
		return "*extractors.Plaintext"
	case *Markdown:
		return "*extractors.Markdown"
	case *HTML:
		return "*extractors.HTML"
	case *PDF:
		return "*extractors.PDF"
	}
	return "unknown"
}

func TestCollapse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple text", "hello world", "hello world"},
		{"newlines", "hello\r\nworld\n\n", "hello world"},
		{"tabs and runs", "a\t\tb   c", "a b c"},
		{"trim", "  hello  ", "hello"},
		{"empty", " \n\t ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Collapse(tt.input); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}
