package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/studygenie/studygenie/internal/composer"
	"github.com/studygenie/studygenie/internal/progress"
	"github.com/studygenie/studygenie/internal/quiz"
	"github.com/studygenie/studygenie/internal/retrieval"
	"github.com/studygenie/studygenie/internal/scheduler"
	"github.com/studygenie/studygenie/internal/storage"
)

const testToken = "test-token"

type stubIndexer struct {
	indexed []storage.Document
	removed []string
	err     error
}

func (s *stubIndexer) Index(ctx context.Context, doc storage.Document) ([]retrieval.Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.indexed = append(s.indexed, doc)
	return []retrieval.Record{
		{ID: "c1", DocumentID: doc.ID, OwnerID: doc.OwnerID, Ordinal: 0, Content: doc.Content},
		{ID: "c2", DocumentID: doc.ID, OwnerID: doc.OwnerID, Ordinal: 1, Content: doc.Content},
	}, nil
}

func (s *stubIndexer) Remove(documentID string) error {
	s.removed = append(s.removed, documentID)
	return nil
}

type stubRetriever struct {
	chunks    []retrieval.ContextChunk
	lastOwner string
	lastTopK  int
}

func (s *stubRetriever) Retrieve(ctx context.Context, query, ownerID string, topK int, documentID string) ([]retrieval.ContextChunk, error) {
	if topK <= 0 {
		return nil, retrieval.ErrInvalidTopK
	}
	s.lastOwner = ownerID
	s.lastTopK = topK
	return s.chunks, nil
}

type stubComposer struct {
	answer composer.Answer
	err    error
}

func (s *stubComposer) Answer(ctx context.Context, query, language string, retrieved []retrieval.ContextChunk) (composer.Answer, error) {
	if s.err != nil {
		return composer.Answer{}, s.err
	}
	return s.answer, nil
}

type stubCards struct {
	cards []storage.Flashcard
	err   error
}

func (s *stubCards) Generate(ctx context.Context, doc storage.Document, numCards int) ([]storage.Flashcard, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.cards, nil
}

// quizGen is the stub behind the real quiz service in tests.
type quizGen struct {
	response string
	err      error
}

func (g *quizGen) Generate(context.Context, string) (string, error) {
	return g.response, g.err
}

type testEnv struct {
	store     *storage.Store
	indexer   *stubIndexer
	retriever *stubRetriever
	composer  *stubComposer
	cards     *stubCards
	quizGen   *quizGen
	handler   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	recorder := progress.NewRecorder(store)
	sched := scheduler.NewService(store, recorder)

	env := &testEnv{
		store:     store,
		indexer:   &stubIndexer{},
		retriever: &stubRetriever{},
		composer:  &stubComposer{},
		cards:     &stubCards{},
		quizGen:   &quizGen{},
	}
	env.handler = NewAppHandler(AppDeps{
		Store:      store,
		Indexer:    env.indexer,
		Retriever:  env.retriever,
		Composer:   env.composer,
		Cards:      env.cards,
		Quiz:       quiz.NewService(env.quizGen, store, recorder),
		Scheduler:  sched,
		Progress:   recorder,
		Token:      testToken,
		TopK:       5,
		HTTPClient: http.DefaultClient,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return out
}

func (e *testEnv) createDocument(t *testing.T, owner, title, content string) storage.Document {
	t.Helper()
	doc := storage.Document{
		ID:        fmt.Sprintf("doc-%s-%s", owner, title),
		OwnerID:   owner,
		Title:     title,
		Language:  "en",
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateDocument(doc); err != nil {
		t.Fatalf("creating document: %v", err)
	}
	return doc
}

func TestHealthNoAuth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestMissingTokenRejected(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestUploadTextDocument(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/documents", map[string]string{
		"title":   "Cell Biology",
		"content": "Mitochondria produce ATP through cellular respiration.",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	resp := decodeJSON[map[string]any](t, w)
	if resp["status"] != "indexed" {
		t.Errorf("status = %v, want indexed", resp["status"])
	}
	if resp["chunk_count"].(float64) != 2 {
		t.Errorf("chunk_count = %v, want 2", resp["chunk_count"])
	}

	if len(env.indexer.indexed) != 1 {
		t.Fatalf("indexed %d documents, want 1", len(env.indexer.indexed))
	}
	indexed := env.indexer.indexed[0]
	if indexed.OwnerID != "local" {
		t.Errorf("owner = %q, want local default", indexed.OwnerID)
	}

	stored, err := env.store.GetDocument(resp["id"].(string))
	if err != nil {
		t.Fatalf("document not persisted: %v", err)
	}
	if stored.Title != "Cell Biology" {
		t.Errorf("title = %q", stored.Title)
	}
}

func TestUploadRequiresContent(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/documents", map[string]string{"title": "Empty"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestUploadFromURL(t *testing.T) {
	env := newTestEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body><h1>Photosynthesis</h1><p>Plants convert light.</p></body></html>")
	}))
	defer srv.Close()

	w := env.do(t, http.MethodPost, "/documents", map[string]string{
		"type": "url",
		"url":  srv.URL,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	indexed := env.indexer.indexed[0]
	if indexed.Content != "Photosynthesis Plants convert light." {
		t.Errorf("extracted content = %q", indexed.Content)
	}
	// URL becomes the title when none is given.
	if indexed.Title != srv.URL {
		t.Errorf("title = %q, want %q", indexed.Title, srv.URL)
	}
}

func TestReindexDocument(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t, "local", "notes", "content here")

	w := env.do(t, http.MethodPost, "/documents/"+doc.ID+"/reindex", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if len(env.indexer.indexed) != 1 || env.indexer.indexed[0].ID != doc.ID {
		t.Errorf("indexer not invoked for %s", doc.ID)
	}
}

func TestReindexUnknownDocument(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/documents/nope/reindex", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestDocumentOwnerScoping(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t, "someone-else", "private", "secret notes")

	// Default owner "local" must not see another owner's document.
	w := env.do(t, http.MethodPost, "/documents/"+doc.ID+"/reindex", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for foreign document", w.Code)
	}
}

func TestDeleteDocumentCascades(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t, "local", "notes", "content")

	card := storage.Flashcard{
		ID: "card-1", OwnerID: "local", DocumentID: doc.ID,
		Front: "Q", Back: "A", Difficulty: "medium",
		EaseFactor:   scheduler.DefaultEaseFactor,
		NextReviewAt: time.Now().UTC(), CreatedAt: time.Now().UTC(),
	}
	if err := env.store.CreateFlashcards([]storage.Flashcard{card}); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodDelete, "/documents/"+doc.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	if len(env.indexer.removed) != 1 || env.indexer.removed[0] != doc.ID {
		t.Errorf("vectors not removed for %s", doc.ID)
	}
	if _, err := env.store.GetDocument(doc.ID); err == nil {
		t.Error("document still present after delete")
	}
	if _, err := env.store.GetFlashcard("card-1"); err == nil {
		t.Error("flashcard still present after document delete")
	}
}

func TestAsk(t *testing.T) {
	env := newTestEnv(t)
	env.retriever.chunks = []retrieval.ContextChunk{
		{ID: "c1", DocumentID: "doc-1", Ordinal: 0, Text: "Mitochondria produce ATP.", Score: 0.9},
	}
	env.composer.answer = composer.Answer{
		Text:       "Mitochondria produce ATP.",
		Sources:    []composer.Source{{DocumentID: "doc-1", Ordinal: 0}},
		Confidence: 0.72,
	}

	w := env.do(t, http.MethodPost, "/ask", map[string]string{"question": "What produces ATP?"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	resp := decodeJSON[composer.Answer](t, w)
	if resp.Text != "Mitochondria produce ATP." {
		t.Errorf("answer = %q", resp.Text)
	}
	if resp.Confidence != 0.72 {
		t.Errorf("confidence = %v", resp.Confidence)
	}
	if env.retriever.lastTopK != 5 {
		t.Errorf("topK = %d, want configured default 5", env.retriever.lastTopK)
	}
	if env.retriever.lastOwner != "local" {
		t.Errorf("owner = %q, want local", env.retriever.lastOwner)
	}
}

func TestAskRequiresQuestion(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/ask", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestAskInvalidTopK(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/ask", map[string]any{
		"question": "anything",
		"top_k":    -3,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestAskGenerationFailure(t *testing.T) {
	env := newTestEnv(t)
	env.retriever.chunks = []retrieval.ContextChunk{{ID: "c1", DocumentID: "d", Text: "x", Score: 0.5}}
	env.composer.err = &composer.GenerationError{Err: fmt.Errorf("model offline")}

	w := env.do(t, http.MethodPost, "/ask", map[string]string{"question": "anything"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
}

func TestGenerateFlashcards(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t, "local", "notes", "content")
	env.cards.cards = []storage.Flashcard{
		{ID: "card-1", OwnerID: "local", DocumentID: doc.ID, Front: "Q1", Back: "A1", Difficulty: "medium",
			EaseFactor: scheduler.DefaultEaseFactor, NextReviewAt: time.Now().UTC()},
	}

	w := env.do(t, http.MethodPost, "/flashcards/generate", map[string]string{"document_id": doc.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	resp := decodeJSON[struct {
		DocumentID string          `json:"document_id"`
		Cards      []FlashcardView `json:"cards"`
	}](t, w)
	if len(resp.Cards) != 1 || resp.Cards[0].Front != "Q1" {
		t.Errorf("cards = %+v", resp.Cards)
	}
}

func TestGenerateFlashcardsUnknownDocument(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/flashcards/generate", map[string]string{"document_id": "nope"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestReviewFlashcard(t *testing.T) {
	env := newTestEnv(t)

	card := storage.Flashcard{
		ID: "card-1", OwnerID: "local", Front: "Q", Back: "A", Difficulty: "medium",
		EaseFactor:   scheduler.DefaultEaseFactor,
		NextReviewAt: time.Now().UTC(), CreatedAt: time.Now().UTC(),
	}
	if err := env.store.CreateFlashcards([]storage.Flashcard{card}); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodPost, "/flashcards/card-1/review", map[string]int{"quality": 5})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	resp := decodeJSON[FlashcardView](t, w)
	if resp.Repetitions != 1 {
		t.Errorf("repetitions = %d, want 1", resp.Repetitions)
	}
	if resp.IntervalDays != 1 {
		t.Errorf("interval = %d, want 1", resp.IntervalDays)
	}
}

func TestReviewValidation(t *testing.T) {
	env := newTestEnv(t)

	card := storage.Flashcard{
		ID: "card-1", OwnerID: "local", Front: "Q", Back: "A", Difficulty: "medium",
		EaseFactor:   scheduler.DefaultEaseFactor,
		NextReviewAt: time.Now().UTC(), CreatedAt: time.Now().UTC(),
	}
	if err := env.store.CreateFlashcards([]storage.Flashcard{card}); err != nil {
		t.Fatal(err)
	}

	// Missing quality.
	w := env.do(t, http.MethodPost, "/flashcards/card-1/review", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing quality: status = %d, want 400", w.Code)
	}

	// Out of range.
	w = env.do(t, http.MethodPost, "/flashcards/card-1/review", map[string]int{"quality": 6})
	if w.Code != http.StatusBadRequest {
		t.Errorf("quality 6: status = %d, want 400", w.Code)
	}

	// Unknown card.
	w = env.do(t, http.MethodPost, "/flashcards/nope/review", map[string]int{"quality": 4})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown card: status = %d, want 404", w.Code)
	}
}

func TestDueFlashcardsAndStats(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()

	cards := []storage.Flashcard{
		{ID: "due-1", OwnerID: "local", Front: "Q1", Back: "A1", Difficulty: "medium",
			EaseFactor: scheduler.DefaultEaseFactor, NextReviewAt: now.Add(-time.Hour), CreatedAt: now},
		{ID: "later-1", OwnerID: "local", Front: "Q2", Back: "A2", Difficulty: "medium",
			EaseFactor: scheduler.DefaultEaseFactor, NextReviewAt: now.Add(24 * time.Hour), CreatedAt: now},
	}
	if err := env.store.CreateFlashcards(cards); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodGet, "/flashcards/due", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("due: status = %d", w.Code)
	}
	due := decodeJSON[[]FlashcardView](t, w)
	if len(due) != 1 || due[0].ID != "due-1" {
		t.Errorf("due = %+v, want only due-1", due)
	}

	w = env.do(t, http.MethodGet, "/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: status = %d", w.Code)
	}
	stats := decodeJSON[scheduler.Stats](t, w)
	if stats.Total != 2 || stats.Due != 1 || stats.New != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestWeakTopics(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 4; i++ {
		if err := env.store.RecordTopicResult("local", "biology", i == 0); err != nil {
			t.Fatal(err)
		}
	}

	w := env.do(t, http.MethodGet, "/progress/weak-topics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	topics := decodeJSON[[]progress.WeakTopic](t, w)
	if len(topics) != 1 || topics[0].Topic != "biology" {
		t.Fatalf("topics = %+v", topics)
	}
	if topics[0].Accuracy != 0.25 {
		t.Errorf("accuracy = %v, want 0.25", topics[0].Accuracy)
	}
}

func TestOwnerHeaderIsolation(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()

	card := storage.Flashcard{
		ID: "alice-card", OwnerID: "alice", Front: "Q", Back: "A", Difficulty: "medium",
		EaseFactor: scheduler.DefaultEaseFactor, NextReviewAt: now.Add(-time.Hour), CreatedAt: now,
	}
	if err := env.store.CreateFlashcards([]storage.Flashcard{card}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/flashcards/due", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("X-Owner", "alice")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	due := decodeJSON[[]FlashcardView](t, w)
	if len(due) != 1 || due[0].ID != "alice-card" {
		t.Errorf("alice due = %+v", due)
	}

	// Default owner must not see alice's cards.
	w2 := env.do(t, http.MethodGet, "/flashcards/due", nil)
	if body := decodeJSON[[]FlashcardView](t, w2); len(body) != 0 {
		t.Errorf("local due = %+v, want empty", body)
	}
}
