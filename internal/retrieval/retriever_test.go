package retrieval

import (
	"context"
	"fmt"
	"testing"
)

func newTestRetriever(t *testing.T) (*Retriever, *SQLiteStore) {
	t.Helper()
	store := NewSQLiteStore(openTestDB(t))
	embedder := NewEmbedder(&stubEmbedding{dim: 8}, 8)
	return NewRetriever(embedder, store), store
}

func TestRetrieve_Deterministic(t *testing.T) {
	r, store := newTestRetriever(t)
	ctx := context.Background()

	// Index chunks through the same stub embedding used for queries.
	embedder := NewEmbedder(&stubEmbedding{dim: 8}, 8)
	texts := []string{
		"photosynthesis converts light into chemical energy",
		"mitochondria are the powerhouse of the cell",
		"the krebs cycle produces ATP",
	}
	var records []Record
	for i, text := range texts {
		vec, err := embedder.Embed(ctx, text)
		if err != nil {
			t.Fatalf("Embed: %v", err)
		}
		rec := chunkRecord(fmt.Sprintf("c%d", i), "doc-a", "alice", i, vec)
		rec.Content = text
		records = append(records, rec)
	}
	if err := store.Insert(records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	first, err := r.Retrieve(ctx, "how do cells make energy", "alice", 3, "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(first) == 0 {
		t.Fatal("expected results")
	}

	for run := 0; run < 3; run++ {
		again, err := r.Retrieve(ctx, "how do cells make energy", "alice", 3, "")
		if err != nil {
			t.Fatalf("Retrieve run %d: %v", run, err)
		}
		if len(again) != len(first) {
			t.Fatalf("run %d returned %d results, want %d", run, len(again), len(first))
		}
		for i := range first {
			if again[i].ID != first[i].ID || again[i].Score != first[i].Score {
				t.Errorf("run %d results[%d] = %q/%f, want %q/%f",
					run, i, again[i].ID, again[i].Score, first[i].ID, first[i].Score)
			}
		}
	}
}

func TestRetrieve_EmptyOwner(t *testing.T) {
	r, _ := newTestRetriever(t)

	chunks, err := r.Retrieve(context.Background(), "anything", "nobody", 5, "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("got %d chunks, want 0", len(chunks))
	}
}

func TestRetrieve_InvalidTopK(t *testing.T) {
	r, _ := newTestRetriever(t)

	if _, err := r.Retrieve(context.Background(), "anything", "alice", 0, ""); err != ErrInvalidTopK {
		t.Errorf("err = %v, want ErrInvalidTopK", err)
	}
}
