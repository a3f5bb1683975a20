package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// EmbeddingClient is the external embedding collaborator: same text in,
// same vector out, fixed dimensionality across the deployment.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Embedder wraps the embedding collaborator and enforces the configured
// vector dimension. A dimension mismatch is a deployment configuration
// fault and is never swallowed.
type Embedder struct {
	client EmbeddingClient
	dim    int
}

// NewEmbedder creates an Embedder expecting vectors of the given
// dimension. A dim of 0 disables the check (used by tests with
// synthetic vectors of varying size).
func NewEmbedder(client EmbeddingClient, dim int) *Embedder {
	return &Embedder{client: client, dim: dim}
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.client.Embed(ctx, text)
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}
	if e.dim > 0 && len(vec) != e.dim {
		return nil, &EmbeddingError{Err: fmt.Errorf("got dimension %d, expected %d", len(vec), e.dim)}
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the embedding backend.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
