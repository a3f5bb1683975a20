package cards

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/studygenie/studygenie/internal/composer"
	"github.com/studygenie/studygenie/internal/scheduler"
	"github.com/studygenie/studygenie/internal/storage"
)

const defaultCardCount = 15

// CardStore persists generated flashcards.
type CardStore interface {
	CreateFlashcards(cards []storage.Flashcard) error
}

// draft is the generator's JSON shape for one card.
type draft struct {
	Front      string `json:"front"`
	Back       string `json:"back"`
	Topic      string `json:"topic"`
	Difficulty string `json:"difficulty"`
}

// Generator turns a document into stored flashcards by asking the
// content generator for question/answer pairs. Cards are created with
// default scheduling state and are due immediately.
type Generator struct {
	generate  composer.Generator
	scheduler *scheduler.Service
	store     CardStore
}

// NewGenerator creates a flashcard Generator.
func NewGenerator(generate composer.Generator, sched *scheduler.Service, store CardStore) *Generator {
	return &Generator{generate: generate, scheduler: sched, store: store}
}

// Generate asks the content generator for numCards flashcards over the
// document's text, parses them, and stores them with default scheduling
// state. Generator failures surface as composer.GenerationError.
func (g *Generator) Generate(ctx context.Context, doc storage.Document, numCards int) ([]storage.Flashcard, error) {
	if numCards <= 0 {
		numCards = defaultCardCount
	}
	if strings.TrimSpace(doc.Content) == "" {
		return nil, nil
	}

	raw, err := g.generate.Generate(ctx, buildPrompt(doc, numCards))
	if err != nil {
		return nil, &composer.GenerationError{Err: err}
	}

	drafts, err := parseDrafts(raw)
	if err != nil {
		return nil, &composer.GenerationError{Err: err}
	}

	cards := make([]storage.Flashcard, 0, len(drafts))
	for _, d := range drafts {
		if strings.TrimSpace(d.Front) == "" || strings.TrimSpace(d.Back) == "" {
			continue
		}
		cards = append(cards, g.scheduler.NewCard(doc.OwnerID, doc.ID, d.Front, d.Back, d.Topic, normalizeDifficulty(d.Difficulty)))
	}
	if len(cards) == 0 {
		return nil, &composer.GenerationError{Err: fmt.Errorf("no usable cards in generator output")}
	}

	if err := g.store.CreateFlashcards(cards); err != nil {
		return nil, fmt.Errorf("storing %d flashcards: %w", len(cards), err)
	}
	return cards, nil
}

func buildPrompt(doc storage.Document, numCards int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Create %d flashcards based on the following study material.\n\n", numCards)
	sb.WriteString("Return ONLY a JSON array in this exact format:\n")
	sb.WriteString(`[{"front": "Question or concept", "back": "Answer or explanation", "topic": "Short topic label", "difficulty": "easy|medium|hard"}]`)
	sb.WriteString("\n\nRequirements:\n")
	sb.WriteString("- Cover the key concepts of the material\n")
	sb.WriteString("- Include a mix of difficulty levels\n")
	sb.WriteString("- Keep fronts short and backs precise\n\n")
	sb.WriteString("Study material:\n")
	sb.WriteString(doc.Content)
	return sb.String()
}

// parseDrafts unmarshals the generator output, tolerating surrounding
// prose and Markdown code fences.
func parseDrafts(raw string) ([]draft, error) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "["); i >= 0 {
		if j := strings.LastIndex(s, "]"); j > i {
			s = s[i : j+1]
		}
	}
	var drafts []draft
	if err := json.Unmarshal([]byte(s), &drafts); err != nil {
		return nil, fmt.Errorf("parsing card JSON: %w", err)
	}
	return drafts, nil
}

func normalizeDifficulty(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "easy":
		return "easy"
	case "hard":
		return "hard"
	default:
		return "medium"
	}
}
