// Package evaluation scores retrieval relevance and answer groundedness
// against a set of labelled queries.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/viant/vec/search"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driving"
)

// DefaultK is the retrieval depth used when none is configured.
const DefaultK = 3

// Case is one labelled query. GoldTexts are exact chunk texts expected in
// the top k.
type Case struct {
	Query     string   `json:"query"`
	GoldTexts []string `json:"gold_texts"`
}

// CaseResult is the per-query outcome of Run.
type CaseResult struct {
	Query        string   `json:"query"`
	Hit          *float64 `json:"hit,omitempty"`
	Groundedness *float64 `json:"groundedness,omitempty"`
	Answer       string   `json:"answer,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Report aggregates a run.
type Report struct {
	K            int     `json:"k"`
	Cases        int     `json:"cases"`
	HitAtK       float64 `json:"hit_at_k"`
	Groundedness float64 `json:"groundedness"`
	// Grounded is false when no generator was available
	Grounded bool         `json:"grounded"`
	Results  []CaseResult `json:"results"`
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Relevance (Hit@%d): %.4f\n", r.K, r.HitAtK)
	if r.Grounded {
		fmt.Fprintf(&b, "Groundedness (Max Cosine Sim): %.4f\n", r.Groundedness)
	} else {
		b.WriteString("Groundedness (Max Cosine Sim): skipped, no generator configured\n")
	}
	return b.String()
}

// LoadCases reads a JSON array of cases.
func LoadCases(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test cases: %w", err)
	}
	var cases []Case
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("%w: parse test cases: %v", domain.ErrInvalidInput, err)
	}
	return cases, nil
}

// HitAtK returns the mean over cases of |gold ∩ top-k| / min(|gold|, k).
// Cases without a query or gold texts are skipped; no scored case gives 0.
func HitAtK(ctx context.Context, cases []Case, retriever driving.RetrievalService, k int) (float64, error) {
	var sum float64
	var n int
	for _, c := range cases {
		hit, ok, err := caseHit(ctx, c, retriever, k)
		if err != nil {
			return 0, err
		}
		if ok {
			sum += hit
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}

func caseHit(ctx context.Context, c Case, retriever driving.RetrievalService, k int) (float64, bool, error) {
	gold := make(map[string]struct{}, len(c.GoldTexts))
	for _, g := range c.GoldTexts {
		gold[g] = struct{}{}
	}
	if strings.TrimSpace(c.Query) == "" || len(gold) == 0 {
		return 0, false, nil
	}

	retrieved, err := retriever.GetTopK(ctx, c.Query, k)
	if err != nil {
		return 0, false, fmt.Errorf("retrieve %q: %w", c.Query, err)
	}

	seen := make(map[string]struct{}, len(retrieved))
	hits := 0
	for _, text := range retrieved {
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		if _, ok := gold[text]; ok {
			hits++
		}
	}
	return float64(hits) / float64(min(len(gold), k)), true, nil
}

// Groundedness returns the highest cosine similarity between the answer and
// any document, using the given embedder. No documents gives 0.
func Groundedness(ctx context.Context, answer string, docs []string, embedder driven.EmbeddingService) (float64, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	vectors, err := embedder.Embed(ctx, append([]string{answer}, docs...))
	if err != nil {
		return 0, fmt.Errorf("embed answer and documents: %w", err)
	}
	if len(vectors) != len(docs)+1 {
		return 0, fmt.Errorf("%w: embedder returned %d vectors for %d texts", domain.ErrDimensionMismatch, len(vectors), len(docs)+1)
	}

	a := search.Float32s(vectors[0])
	am := a.Magnitude()
	best := float32(-1)
	for i, v := range vectors[1:] {
		if len(v) != len(a) {
			return 0, fmt.Errorf("%w: document %d has dimension %d, answer has %d", domain.ErrDimensionMismatch, i, len(v), len(a))
		}
		dm := search.Float32s(v).Magnitude()
		if am == 0 || dm == 0 {
			best = max(best, 0)
			continue
		}
		best = max(best, 1-a.CosineDistanceWithMagnitude(v, am, dm))
	}
	return float64(best), nil
}

// Evaluator runs both metrics over a case set.
type Evaluator struct {
	Retriever driving.RetrievalService
	Generator driven.TextGenerator // optional
	Embedder  driven.EmbeddingService
	K         int
	Logger    *slog.Logger
}

// Run scores every case. Generation failures are recorded per case and
// left out of the groundedness mean; retrieval failures abort the run.
func (e *Evaluator) Run(ctx context.Context, cases []Case) (*Report, error) {
	k := e.K
	if k <= 0 {
		k = DefaultK
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	report := &Report{K: k, Cases: len(cases), Grounded: e.Generator != nil && e.Embedder != nil}
	var hitSum, groundSum float64
	var hitN, groundN int

	for _, c := range cases {
		res := CaseResult{Query: c.Query}

		hit, ok, err := caseHit(ctx, c, e.Retriever, k)
		if err != nil {
			return nil, err
		}
		if ok {
			res.Hit = &hit
			hitSum += hit
			hitN++
		}

		if report.Grounded && strings.TrimSpace(c.Query) != "" {
			score, answer, err := e.ground(ctx, c.Query, k)
			if err != nil {
				logger.Warn("groundedness failed", "query", c.Query, "error", err)
				res.Error = err.Error()
			} else {
				res.Answer = answer
				res.Groundedness = &score
				groundSum += score
				groundN++
			}
		}

		report.Results = append(report.Results, res)
	}

	if hitN > 0 {
		report.HitAtK = hitSum / float64(hitN)
	}
	if groundN > 0 {
		report.Groundedness = groundSum / float64(groundN)
	}
	return report, nil
}

func (e *Evaluator) ground(ctx context.Context, query string, k int) (float64, string, error) {
	docs, err := e.Retriever.GetTopK(ctx, query, k)
	if err != nil {
		return 0, "", err
	}
	answer, err := e.Generator.Generate(ctx, query, "", docs)
	if err != nil {
		return 0, "", err
	}
	score, err := Groundedness(ctx, answer, docs, e.Embedder)
	if err != nil {
		return 0, answer, err
	}
	return score, answer, nil
}
