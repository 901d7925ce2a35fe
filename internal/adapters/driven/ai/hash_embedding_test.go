package ai

import (
	"context"
	"math"
	"testing"
)

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func TestHashEmbedding_DefaultDimensions(t *testing.T) {
	h := NewHashEmbedding(0)
	if h.Dimensions() != DefaultHashDimensions {
		t.Errorf("expected %d dimensions, got %d", DefaultHashDimensions, h.Dimensions())
	}
	if h.Model() != "local-hash" {
		t.Errorf("unexpected model %s", h.Model())
	}
}

func TestHashEmbedding_Deterministic(t *testing.T) {
	h := NewHashEmbedding(64)
	ctx := context.Background()

	a, err := h.EmbedQuery(ctx, "The quick brown fox")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := h.EmbedQuery(ctx, "the QUICK brown fox!")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected identical vectors after normalisation, differ at %d", i)
		}
	}
}

func TestHashEmbedding_UnitLength(t *testing.T) {
	h := NewHashEmbedding(32)
	vecs, err := h.Embed(context.Background(), []string{"alpha beta gamma", "", "delta"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}

	for i, v := range vecs {
		if len(v) != 32 {
			t.Errorf("vector %d: expected 32 values, got %d", i, len(v))
		}
		n := math.Sqrt(dot(v, v))
		if i == 1 {
			if n != 0 {
				t.Errorf("expected zero vector for empty text, got norm %v", n)
			}
			continue
		}
		if math.Abs(n-1) > 1e-5 {
			t.Errorf("vector %d: expected unit norm, got %v", i, n)
		}
	}
}

func TestHashEmbedding_SharedVocabularyIsCloser(t *testing.T) {
	h := NewHashEmbedding(256)
	ctx := context.Background()

	q, _ := h.EmbedQuery(ctx, "redis job queue")
	near, _ := h.EmbedQuery(ctx, "the job queue is backed by redis streams")
	far, _ := h.EmbedQuery(ctx, "sunflowers grow tall in summer")

	if dot(q, near) <= dot(q, far) {
		t.Errorf("expected related text to score higher: near=%v far=%v", dot(q, near), dot(q, far))
	}
}

func TestHashEmbedding_CancelledContext(t *testing.T) {
	h := NewHashEmbedding(8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.Embed(ctx, []string{"x"}); err == nil {
		t.Error("expected error for cancelled context")
	}
	if err := h.HealthCheck(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}
}
