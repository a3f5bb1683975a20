package retrieval

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTopK is returned when a retrieval is requested with a
// non-positive result limit.
var ErrInvalidTopK = errors.New("top_k must be positive")

// EmbeddingError wraps any failure of the embedding collaborator,
// including dimension mismatches. Indexing and retrieval calls fail
// fast on it; nothing is retried inside the core.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// VectorStore is the interface for chunk vector storage and similarity
// search backends. The default implementation is SQLite with brute-force
// cosine similarity, which is adequate at personal-corpus scale; an
// ANN-capable backend can replace it as long as owner isolation and
// deterministic ordering are preserved.
type VectorStore interface {
	// Insert adds chunk records.
	Insert(records []Record) error

	// ReplaceDocument atomically retires every chunk of the given
	// document and inserts the replacement set. A concurrent search
	// never observes a half-retired state.
	ReplaceDocument(documentID string, records []Record) error

	// Search returns the top-K records most similar to the query
	// vector among the owner's chunks, optionally restricted to one
	// document. Ordering is score descending, ties broken by lowest
	// chunk ordinal. An owner with no chunks yields an empty result.
	Search(ownerID string, vector []float32, topK int, documentID string) ([]ScoredRecord, error)

	// DeleteByDocument removes all chunks of a document.
	DeleteByDocument(documentID string) error

	// Count returns the number of chunks stored for the owner.
	Count(ownerID string) (int, error)
}

// Record is one embedded chunk row. Document title and language are
// denormalized onto the chunk so source attribution needs no join.
type Record struct {
	ID         string
	DocumentID string
	OwnerID    string
	Ordinal    int
	Content    string
	Embedding  []float32
	DocTitle   string
	Language   string
	CreatedAt  time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
