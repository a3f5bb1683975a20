package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studygenie/studygenie/internal/retrieval"
	"github.com/studygenie/studygenie/internal/storage"
)

// DocumentMarker records indexing progress on the document row.
type DocumentMarker interface {
	MarkDocumentIndexed(id string, at time.Time, chunkCount int) error
}

// Indexer turns a document's text into embedded chunks and commits them
// to the vector store as one unit: either every chunk of a document is
// queryable or none is. Indexing the same document concurrently is
// serialized per document id.
type Indexer struct {
	docs     DocumentMarker
	vectors  retrieval.VectorStore
	embedder *retrieval.Embedder
	splitter *Splitter
	logger   *slog.Logger

	// locks holds one mutex per indexed document id and is never
	// pruned. The set is bounded by the library size, so eviction is
	// not worth the bookkeeping here.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewIndexer creates an Indexer with the given dependencies.
func NewIndexer(docs DocumentMarker, vectors retrieval.VectorStore, embedder *retrieval.Embedder, splitter *Splitter) *Indexer {
	return &Indexer{
		docs:     docs,
		vectors:  vectors,
		embedder: embedder,
		splitter: splitter,
		logger:   slog.Default(),
		locks:    make(map[string]*sync.Mutex),
	}
}

// docLock returns the mutex serializing work on one document.
func (ix *Indexer) docLock(documentID string) *sync.Mutex {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	l, ok := ix.locks[documentID]
	if !ok {
		l = &sync.Mutex{}
		ix.locks[documentID] = l
	}
	return l
}

// Index splits the document, embeds every chunk, and atomically
// replaces the document's chunk set in the vector store. Re-indexing
// retires all previous chunks before the new set becomes visible.
// An embedding failure leaves the previously indexed state untouched.
func (ix *Indexer) Index(ctx context.Context, doc storage.Document) ([]retrieval.Record, error) {
	lock := ix.docLock(doc.ID)
	lock.Lock()
	defer lock.Unlock()

	texts := ix.splitter.Split(doc.Content)
	if len(texts) == 0 {
		// Whitespace-only documents index to an empty chunk set.
		if err := ix.vectors.ReplaceDocument(doc.ID, nil); err != nil {
			return nil, fmt.Errorf("retiring chunks of empty document %s: %w", doc.ID, err)
		}
		if err := ix.docs.MarkDocumentIndexed(doc.ID, time.Now().UTC(), 0); err != nil {
			return nil, fmt.Errorf("marking document indexed: %w", err)
		}
		return nil, nil
	}

	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	records := make([]retrieval.Record, len(texts))
	for i, text := range texts {
		records[i] = retrieval.Record{
			ID:         uuid.New().String(),
			DocumentID: doc.ID,
			OwnerID:    doc.OwnerID,
			Ordinal:    i,
			Content:    text,
			Embedding:  vecs[i],
			DocTitle:   doc.Title,
			Language:   doc.Language,
			CreatedAt:  now,
		}
	}

	if err := ix.vectors.ReplaceDocument(doc.ID, records); err != nil {
		return nil, fmt.Errorf("committing chunks of %s: %w", doc.ID, err)
	}
	if err := ix.docs.MarkDocumentIndexed(doc.ID, now, len(records)); err != nil {
		return nil, fmt.Errorf("marking document indexed: %w", err)
	}

	ix.logger.Info("document indexed", "document_id", doc.ID, "chunks", len(records))
	return records, nil
}

// Remove retires every chunk of a document, serialized against any
// in-flight indexing of the same document.
func (ix *Indexer) Remove(documentID string) error {
	lock := ix.docLock(documentID)
	lock.Lock()
	defer lock.Unlock()
	return ix.vectors.DeleteByDocument(documentID)
}
