package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/studygenie/studygenie/internal/composer"
	"github.com/studygenie/studygenie/internal/progress"
	"github.com/studygenie/studygenie/internal/retrieval"
	"github.com/studygenie/studygenie/internal/scheduler"
	"github.com/studygenie/studygenie/internal/storage"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sched := scheduler.NewService(store, progress.NewRecorder(store))

	return MCPDeps{
		Retriever: &stubRetriever{},
		Composer:  &stubComposer{},
		Scheduler: sched,
		TopK:      5,
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_AskTutor(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Retriever = &stubRetriever{
		chunks: []retrieval.ContextChunk{
			{ID: "c1", DocumentID: "doc-1", Text: "Mitochondria produce ATP.", Score: 0.9},
		},
	}
	deps.Composer = &stubComposer{
		answer: composer.Answer{
			Text:       "Mitochondria produce ATP.",
			Sources:    []composer.Source{{DocumentID: "doc-1", Ordinal: 0}},
			Confidence: 0.72,
		},
	}
	handler := mcpAskTutor(deps)

	req := makeCallToolRequest("ask_tutor", map[string]interface{}{
		"question": "What produces ATP?",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var answer composer.Answer
	if err := json.Unmarshal([]byte(toolText(t, result)), &answer); err != nil {
		t.Fatalf("failed to parse answer: %v", err)
	}
	if answer.Text != "Mitochondria produce ATP." {
		t.Errorf("answer = %q", answer.Text)
	}
	if len(answer.Sources) != 1 || answer.Sources[0].DocumentID != "doc-1" {
		t.Errorf("sources = %+v", answer.Sources)
	}
}

func TestMCPTool_AskTutor_RequiresQuestion(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpAskTutor(deps)

	result, err := handler(context.Background(), makeCallToolRequest("ask_tutor", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result without question")
	}
}

func TestMCPTool_ListDueCards(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	now := time.Now().UTC()

	cards := []storage.Flashcard{
		{ID: "due-1", OwnerID: "local", Front: "Q1", Back: "A1", Difficulty: "medium",
			EaseFactor: scheduler.DefaultEaseFactor, NextReviewAt: now.Add(-time.Hour), CreatedAt: now},
		{ID: "later-1", OwnerID: "local", Front: "Q2", Back: "A2", Difficulty: "medium",
			EaseFactor: scheduler.DefaultEaseFactor, NextReviewAt: now.Add(24 * time.Hour), CreatedAt: now},
	}
	if err := store.CreateFlashcards(cards); err != nil {
		t.Fatal(err)
	}

	handler := mcpListDueCards(deps)
	result, err := handler(context.Background(), makeCallToolRequest("list_due_cards", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var due []FlashcardView
	if err := json.Unmarshal([]byte(toolText(t, result)), &due); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(due) != 1 || due[0].ID != "due-1" {
		t.Errorf("due = %+v, want only due-1", due)
	}
}

func TestMCPTool_ListDueCards_Empty(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpListDueCards(deps)

	result, err := handler(context.Background(), makeCallToolRequest("list_due_cards", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := toolText(t, result); text != "[]" {
		t.Fatalf("expected empty array, got: %s", text)
	}
}

func TestMCPTool_ReviewCard(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	now := time.Now().UTC()

	card := storage.Flashcard{
		ID: "card-1", OwnerID: "local", Front: "Q", Back: "A", Difficulty: "medium",
		EaseFactor: scheduler.DefaultEaseFactor, NextReviewAt: now, CreatedAt: now,
	}
	if err := store.CreateFlashcards([]storage.Flashcard{card}); err != nil {
		t.Fatal(err)
	}

	handler := mcpReviewCard(deps)
	result, err := handler(context.Background(), makeCallToolRequest("review_card", map[string]interface{}{
		"card_id": "card-1",
		"quality": 5,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var updated FlashcardView
	if err := json.Unmarshal([]byte(toolText(t, result)), &updated); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if updated.Repetitions != 1 || updated.IntervalDays != 1 {
		t.Errorf("card after review = %+v", updated)
	}
}

func TestMCPTool_ReviewCard_UnknownCard(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpReviewCard(deps)

	result, err := handler(context.Background(), makeCallToolRequest("review_card", map[string]interface{}{
		"card_id": "nope",
		"quality": 4,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for unknown card")
	}
}

func TestMCPTool_StudyStats(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	now := time.Now().UTC()

	cards := []storage.Flashcard{
		{ID: "c1", OwnerID: "local", Front: "Q1", Back: "A1", Difficulty: "medium",
			EaseFactor: scheduler.DefaultEaseFactor, NextReviewAt: now.Add(-time.Hour), CreatedAt: now},
		{ID: "c2", OwnerID: "local", Front: "Q2", Back: "A2", Difficulty: "medium",
			EaseFactor: scheduler.DefaultEaseFactor, NextReviewAt: now.Add(24 * time.Hour), CreatedAt: now},
	}
	if err := store.CreateFlashcards(cards); err != nil {
		t.Fatal(err)
	}

	handler := mcpStudyStats(deps)
	result, err := handler(context.Background(), makeCallToolRequest("study_stats", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stats scheduler.Stats
	if err := json.Unmarshal([]byte(toolText(t, result)), &stats); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if stats.Total != 2 || stats.Due != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
