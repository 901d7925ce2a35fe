package extractors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

var _ driven.TextExtractor = (*PDF)(nil)

// PDFTool is the poppler binary used to extract PDF text.
const PDFTool = "pdftotext"

// ErrPDFToolNotFound indicates pdftotext is not on PATH.
var ErrPDFToolNotFound = errors.New("pdftotext not found in PATH")

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, ErrPDFToolNotFound
	}
	return exec.CommandContext(ctx, name, args...).Output()
}

// PDF extracts text from PDF files with pdftotext.
type PDF struct {
	runner CommandRunner
}

// NewPDF creates a PDF extractor that runs pdftotext from PATH.
func NewPDF() *PDF {
	return &PDF{runner: execRunner{}}
}

// NewPDFWithRunner creates a PDF extractor with a custom command runner.
func NewPDFWithRunner(runner CommandRunner) *PDF {
	return &PDF{runner: runner}
}

// ExtractText runs pdftotext on every page and collapses the output.
func (p *PDF) ExtractText(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
	}

	out, err := p.runner.Run(ctx, PDFTool, "-enc", "UTF-8", path, "-")
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("%w: pdftotext failed: %s", domain.ErrExtractionFailed, exitErr.Stderr)
		}
		return "", fmt.Errorf("%w: pdftotext failed: %w", domain.ErrExtractionFailed, err)
	}

	return Collapse(string(out)), nil
}

func (p *PDF) SupportedExtensions() []string {
	return []string{".pdf"}
}

func (p *PDF) Priority() int {
	return 50
}

// CheckAvailable reports whether pdftotext can be found.
func CheckAvailable() error {
	if _, err := exec.LookPath(PDFTool); err != nil {
		return ErrPDFToolNotFound
	}
	return nil
}

// InstallInstructions describes how to install pdftotext.
func InstallInstructions() string {
	return "PDF ingestion needs pdftotext from poppler:\n" +
		"  macOS:  brew install poppler\n" +
		"  Debian: apt install poppler-utils\n" +
		"  Fedora: dnf install poppler-utils"
}
