package progress

import (
	"testing"

	"github.com/studygenie/studygenie/internal/storage"
)

func newTestRecorder(t *testing.T) (*Recorder, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewRecorder(store), store
}

func TestRecordReview_QualityThreshold(t *testing.T) {
	r, store := newTestRecorder(t)

	// q >= 3 counts as correct recall.
	r.RecordReview("alice", "biology", 5)
	r.RecordReview("alice", "biology", 3)
	r.RecordReview("alice", "biology", 2)
	r.RecordReview("alice", "biology", 0)

	stats, err := store.TopicStats("alice")
	if err != nil {
		t.Fatalf("TopicStats: %v", err)
	}
	if len(stats) != 1 || stats[0].Correct != 2 || stats[0].Total != 4 {
		t.Errorf("stats = %+v, want 2/4", stats)
	}
}

func TestRecordReview_EmptyTopicIgnored(t *testing.T) {
	r, store := newTestRecorder(t)

	r.RecordReview("alice", "", 5)

	stats, err := store.TopicStats("alice")
	if err != nil {
		t.Fatalf("TopicStats: %v", err)
	}
	if len(stats) != 0 {
		t.Errorf("stats = %+v, want none", stats)
	}
}

func TestWeakTopics(t *testing.T) {
	r, _ := newTestRecorder(t)

	// biology: 1/4 = 0.25 (weak), chemistry: 3/4 = 0.75 (fine),
	// physics: 2/4 = 0.5 (weak).
	seed := map[string][]bool{
		"biology":   {true, false, false, false},
		"chemistry": {true, true, true, false},
		"physics":   {true, true, false, false},
	}
	for topic, results := range seed {
		for _, ok := range results {
			if err := r.RecordTopicAccuracy("alice", topic, ok); err != nil {
				t.Fatalf("RecordTopicAccuracy: %v", err)
			}
		}
	}

	weak, err := r.WeakTopics("alice")
	if err != nil {
		t.Fatalf("WeakTopics: %v", err)
	}
	if len(weak) != 2 {
		t.Fatalf("got %d weak topics, want 2: %+v", len(weak), weak)
	}
	if weak[0].Topic != "biology" || weak[1].Topic != "physics" {
		t.Errorf("order = %q, %q; want biology, physics", weak[0].Topic, weak[1].Topic)
	}
	if weak[0].Accuracy != 0.25 || weak[0].Attempts != 4 {
		t.Errorf("biology = %+v, want 0.25 over 4", weak[0])
	}
}

func TestWeakTopics_OwnerScoped(t *testing.T) {
	r, _ := newTestRecorder(t)

	if err := r.RecordTopicAccuracy("bob", "biology", false); err != nil {
		t.Fatalf("RecordTopicAccuracy: %v", err)
	}

	weak, err := r.WeakTopics("alice")
	if err != nil {
		t.Fatalf("WeakTopics: %v", err)
	}
	if len(weak) != 0 {
		t.Errorf("alice sees bob's topics: %+v", weak)
	}
}
