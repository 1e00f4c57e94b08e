package semantic

import (
	"context"
	"errors"
	"testing"
)

// stubEmbedder maps known strings to fixed unit vectors.
type stubEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float64{0, 0, 1}, nil
}

func (s *stubEmbedder) Dimension() int { return 3 }

func TestCacheLookupHit(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float64{
		"what is the capital of france": {1, 0, 0},
		"capital of france?":            {0.999, 0.0447, 0}, // near-duplicate
	}}
	c := NewCache(emb, 0.95)
	ctx := context.Background()

	c.Store(ctx, "what is the capital of france", "Paris", "gpt-4o")

	resp, score, ok := c.Lookup(ctx, "capital of france?")
	if !ok {
		t.Fatal("Lookup() missed a near-duplicate query")
	}
	if resp != "Paris" {
		t.Errorf("Lookup() = %q, want Paris", resp)
	}
	if score < 0.95 {
		t.Errorf("score = %v, want >= threshold", score)
	}
}

func TestCacheLookupMissBelowThreshold(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float64{
		"weather today": {1, 0, 0},
		"capital city":  {0, 1, 0},
	}}
	c := NewCache(emb, 0.95)
	ctx := context.Background()

	c.Store(ctx, "weather today", "Sunny", "gpt-4o")

	if _, _, ok := c.Lookup(ctx, "capital city"); ok {
		t.Error("Lookup() hit on an unrelated query")
	}
}

func TestCacheEmbedFailureIsMiss(t *testing.T) {
	emb := &stubEmbedder{err: errors.New("embedding service down")}
	c := NewCache(emb, 0.95)
	ctx := context.Background()

	if _, _, ok := c.Lookup(ctx, "anything"); ok {
		t.Error("Lookup() hit despite embedder failure")
	}

	c.Store(ctx, "anything", "resp", "gpt-4o")
	if c.Size() != 0 {
		t.Error("Store() added an entry despite embedder failure")
	}
}

func TestCacheDefaultThreshold(t *testing.T) {
	c := NewCache(&stubEmbedder{}, 0)
	if c.Threshold != DefaultThreshold {
		t.Errorf("Threshold = %v, want default %v", c.Threshold, DefaultThreshold)
	}
}
