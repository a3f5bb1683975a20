package cards

import (
	"context"
	"errors"
	"testing"

	"github.com/studygenie/studygenie/internal/composer"
	"github.com/studygenie/studygenie/internal/scheduler"
	"github.com/studygenie/studygenie/internal/storage"
)

type stubGenerator struct {
	response string
	err      error
}

func (g *stubGenerator) Generate(context.Context, string) (string, error) {
	return g.response, g.err
}

func newTestGenerator(t *testing.T, gen composer.Generator) (*Generator, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	sched := scheduler.NewService(store, nil)
	return NewGenerator(gen, sched, store), store
}

func sampleDoc() storage.Document {
	return storage.Document{
		ID:      "doc-1",
		OwnerID: "alice",
		Title:   "Biology notes",
		Content: "Photosynthesis converts light energy into chemical energy.",
	}
}

func TestGenerate_CreatesCards(t *testing.T) {
	gen := &stubGenerator{response: `[
		{"front": "What is photosynthesis?", "back": "Light to chemical energy.", "topic": "biology", "difficulty": "easy"},
		{"front": "Where does it happen?", "back": "In chloroplasts.", "topic": "biology", "difficulty": "HARD"}
	]`}
	g, store := newTestGenerator(t, gen)

	cards, err := g.Generate(context.Background(), sampleDoc(), 2)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(cards) != 2 {
		t.Fatalf("got %d cards, want 2", len(cards))
	}
	for _, c := range cards {
		if c.Repetitions != 0 || c.EaseFactor != scheduler.DefaultEaseFactor || c.IntervalDays != 0 {
			t.Errorf("card %s not in default scheduling state: %+v", c.ID, c)
		}
		if c.OwnerID != "alice" || c.DocumentID != "doc-1" {
			t.Errorf("card ownership wrong: %+v", c)
		}
	}
	if cards[1].Difficulty != "hard" {
		t.Errorf("difficulty = %q, want normalized hard", cards[1].Difficulty)
	}

	stored, err := store.ListFlashcards("alice")
	if err != nil {
		t.Fatalf("ListFlashcards: %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("stored %d cards, want 2", len(stored))
	}
}

func TestGenerate_ToleratesCodeFences(t *testing.T) {
	gen := &stubGenerator{response: "Here you go:\n```json\n" +
		`[{"front": "Q", "back": "A", "topic": "t", "difficulty": "medium"}]` +
		"\n```\n"}
	g, _ := newTestGenerator(t, gen)

	cards, err := g.Generate(context.Background(), sampleDoc(), 1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(cards) != 1 || cards[0].Front != "Q" {
		t.Errorf("cards = %+v", cards)
	}
}

func TestGenerate_SkipsBlankCards(t *testing.T) {
	gen := &stubGenerator{response: `[
		{"front": "", "back": "orphan answer"},
		{"front": "Q", "back": "A"}
	]`}
	g, _ := newTestGenerator(t, gen)

	cards, err := g.Generate(context.Background(), sampleDoc(), 2)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(cards) != 1 {
		t.Errorf("got %d cards, want 1", len(cards))
	}
}

func TestGenerate_CollaboratorFailure(t *testing.T) {
	g, _ := newTestGenerator(t, &stubGenerator{err: errors.New("model down")})

	_, err := g.Generate(context.Background(), sampleDoc(), 3)
	var genErr *composer.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("err = %v, want GenerationError", err)
	}
}

func TestGenerate_MalformedJSON(t *testing.T) {
	g, _ := newTestGenerator(t, &stubGenerator{response: "no cards here"})

	_, err := g.Generate(context.Background(), sampleDoc(), 3)
	var genErr *composer.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("err = %v, want GenerationError", err)
	}
}

func TestGenerate_EmptyDocument(t *testing.T) {
	g, _ := newTestGenerator(t, &stubGenerator{response: "[]"})

	doc := sampleDoc()
	doc.Content = "   "
	cards, err := g.Generate(context.Background(), doc, 3)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if cards != nil {
		t.Errorf("cards = %+v, want nil", cards)
	}
}
