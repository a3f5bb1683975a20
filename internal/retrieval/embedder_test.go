package retrieval

import (
	"context"
	"errors"
	"testing"
)

// stubEmbedding returns a deterministic vector derived from the text,
// so repeated runs produce identical retrieval results.
type stubEmbedding struct {
	dim  int
	fail error
}

func (s *stubEmbedding) Embed(_ context.Context, text string) ([]float32, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	vec := make([]float32, s.dim)
	for i, r := range text {
		vec[i%s.dim] += float32(r) / 1000
	}
	return vec, nil
}

func TestEmbedder_Embed(t *testing.T) {
	e := NewEmbedder(&stubEmbedding{dim: 8}, 8)

	vec, err := e.Embed(context.Background(), "mitochondria")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 8 {
		t.Errorf("dimension = %d, want 8", len(vec))
	}

	again, err := e.Embed(context.Background(), "mitochondria")
	if err != nil {
		t.Fatalf("Embed again: %v", err)
	}
	for i := range vec {
		if vec[i] != again[i] {
			t.Fatalf("stub embedding not stable at %d", i)
		}
	}
}

func TestEmbedder_DimensionMismatch(t *testing.T) {
	e := NewEmbedder(&stubEmbedding{dim: 8}, 16)

	_, err := e.Embed(context.Background(), "anything")
	var embErr *EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("err = %v, want EmbeddingError", err)
	}
}

func TestEmbedder_CollaboratorFailure(t *testing.T) {
	cause := errors.New("backend unavailable")
	e := NewEmbedder(&stubEmbedding{dim: 8, fail: cause}, 8)

	_, err := e.Embed(context.Background(), "anything")
	var embErr *EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("err = %v, want EmbeddingError", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("cause not preserved through wrap: %v", err)
	}
}

func TestEmbedder_EmbedBatch(t *testing.T) {
	e := NewEmbedder(&stubEmbedding{dim: 4}, 4)

	texts := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) != 4 {
			t.Errorf("vector %d has dimension %d, want 4", i, len(v))
		}
	}

	// Order must match input order despite concurrent embedding.
	single, err := e.Embed(context.Background(), "gamma")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for i := range single {
		if vecs[2][i] != single[i] {
			t.Fatalf("batch result out of order at %d", i)
		}
	}
}

func TestEmbedder_EmbedBatchEmpty(t *testing.T) {
	e := NewEmbedder(&stubEmbedding{dim: 4}, 4)
	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch(nil): %v", err)
	}
	if vecs != nil {
		t.Errorf("got %v, want nil", vecs)
	}
}
