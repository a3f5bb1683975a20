package retrieval

import (
	"context"
	"time"
)

// ContextChunk is a retrieved chunk with its similarity score and
// provenance for source attribution.
type ContextChunk struct {
	ID         string
	DocumentID string
	Ordinal    int
	Text       string
	DocTitle   string
	Language   string
	Score      float32
	CreatedAt  time.Time
}

// Retriever combines embedding and vector search to find the chunks
// most relevant to a query. Retrieval is a pure read with no side
// effects, safe under unlimited concurrency.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve embeds the query and returns the owner's top-K most similar
// chunks, optionally restricted to one document. An owner with no
// indexed chunks yields an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query, ownerID string, topK int, documentID string) ([]ContextChunk, error) {
	if topK <= 0 {
		return nil, ErrInvalidTopK
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.store.Search(ownerID, vec, topK, documentID)
	if err != nil {
		return nil, err
	}

	return scoredToChunks(scored), nil
}

func scoredToChunks(scored []ScoredRecord) []ContextChunk {
	chunks := make([]ContextChunk, len(scored))
	for i, s := range scored {
		chunks[i] = ContextChunk{
			ID:         s.ID,
			DocumentID: s.DocumentID,
			Ordinal:    s.Ordinal,
			Text:       s.Content,
			DocTitle:   s.DocTitle,
			Language:   s.Language,
			Score:      s.Score,
			CreatedAt:  s.CreatedAt,
		}
	}
	return chunks
}
