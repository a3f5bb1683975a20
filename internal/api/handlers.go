package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/studygenie/studygenie/internal/composer"
	"github.com/studygenie/studygenie/internal/extract"
	"github.com/studygenie/studygenie/internal/progress"
	"github.com/studygenie/studygenie/internal/quiz"
	"github.com/studygenie/studygenie/internal/retrieval"
	"github.com/studygenie/studygenie/internal/scheduler"
	"github.com/studygenie/studygenie/internal/storage"
)

const maxUploadBodySize = 20 << 20 // 20MB, PDFs arrive base64-encoded
const maxRequestBodySize = 1 << 20 // 1MB
const maxURLFetchSize = 5 << 20    // 5MB

// DocumentIndexer chunks, embeds and stores a document's vectors.
type DocumentIndexer interface {
	Index(ctx context.Context, doc storage.Document) ([]retrieval.Record, error)
	Remove(documentID string) error
}

// ChunkRetriever finds the chunks most relevant to a question.
type ChunkRetriever interface {
	Retrieve(ctx context.Context, query, ownerID string, topK int, documentID string) ([]retrieval.ContextChunk, error)
}

// AnswerComposer turns retrieved chunks into a grounded answer.
type AnswerComposer interface {
	Answer(ctx context.Context, query, language string, retrieved []retrieval.ContextChunk) (composer.Answer, error)
}

// CardGenerator produces flashcards from a document.
type CardGenerator interface {
	Generate(ctx context.Context, doc storage.Document, numCards int) ([]storage.Flashcard, error)
}

type AppDeps struct {
	Store      *storage.Store
	Indexer    DocumentIndexer
	Retriever  ChunkRetriever
	Composer   AnswerComposer
	Cards      CardGenerator
	Quiz       *quiz.Service
	Scheduler  *scheduler.Service
	Progress   *progress.Recorder
	Token      string
	TopK       int // default retrieval depth for /ask
	HTTPClient *http.Client
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/documents", handleUploadDocument(deps))
		r.Post("/documents/{id}/reindex", handleReindexDocument(deps))
		r.Delete("/documents/{id}", handleDeleteDocument(deps))

		r.Post("/ask", handleAsk(deps))

		r.Post("/quiz/generate", handleGenerateQuiz(deps))
		r.Get("/quiz/{id}", handleGetQuiz(deps))
		r.Post("/quiz/{id}/attempt", handleQuizAttempt(deps))

		r.Post("/flashcards/generate", handleGenerateFlashcards(deps))
		r.Get("/flashcards/due", handleDueFlashcards(deps))
		r.Post("/flashcards/{id}/review", handleReviewFlashcard(deps))

		r.Get("/stats", handleStats(deps))
		r.Get("/progress/weak-topics", handleWeakTopics(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type UploadRequest struct {
	Title    string `json:"title"`
	Language string `json:"language"`
	Type     string `json:"type"` // text, pdf or url
	Content  string `json:"content"`
	URL      string `json:"url"`
}

func handleUploadDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		var req UploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" && req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of content or url is required")
			return
		}
		if req.Type == "" {
			req.Type = "text"
		}
		if req.Language == "" {
			req.Language = "en"
		}

		text, err := resolveContent(r.Context(), deps, req)
		if err != nil {
			var badReq *requestError
			if errors.As(err, &badReq) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", badReq.msg)
				return
			}
			httpError(w, http.StatusBadGateway, "api_error", "%v", err)
			return
		}

		doc := storage.Document{
			ID:        uuid.New().String(),
			OwnerID:   ownerID(r),
			Title:     req.Title,
			Language:  req.Language,
			Content:   text,
			CreatedAt: time.Now().UTC(),
		}
		if doc.Title == "" {
			doc.Title = req.URL
		}
		if err := deps.Store.CreateDocument(doc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save document: %v", err)
			return
		}

		records, err := deps.Indexer.Index(r.Context(), doc)
		if err != nil {
			indexError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":          doc.ID,
			"chunk_count": len(records),
			"status":      "indexed",
		})
	}
}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

// resolveContent turns an upload request into plain text. URL uploads
// are fetched and stripped of markup, PDF uploads arrive base64-encoded.
func resolveContent(ctx context.Context, deps AppDeps, req UploadRequest) (string, error) {
	switch req.Type {
	case "url":
		if req.URL == "" {
			return "", &requestError{"url is required for type url"}
		}
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
		if err != nil {
			return "", &requestError{fmt.Sprintf("invalid url: %v", err)}
		}
		resp, err := deps.HTTPClient.Do(httpReq)
		if err != nil {
			return "", fmt.Errorf("failed to fetch url: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return "", fmt.Errorf("url returned status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxURLFetchSize))
		if err != nil {
			return "", fmt.Errorf("failed to read url response: %w", err)
		}
		return extract.HTMLText(string(body)), nil

	case "pdf":
		decoded, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			return "", &requestError{"invalid base64 content"}
		}
		text, err := extract.PDFText(decoded)
		if err != nil {
			return "", &requestError{fmt.Sprintf("failed to extract pdf text: %v", err)}
		}
		return text, nil

	default:
		return req.Content, nil
	}
}

func handleReindexDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, ok := ownedDocument(w, r, deps)
		if !ok {
			return
		}

		records, err := deps.Indexer.Index(r.Context(), doc)
		if err != nil {
			indexError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":          doc.ID,
			"chunk_count": len(records),
			"status":      "indexed",
		})
	}
}

func handleDeleteDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, ok := ownedDocument(w, r, deps)
		if !ok {
			return
		}

		if err := deps.Indexer.Remove(doc.ID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to remove vectors: %v", err)
			return
		}
		if err := deps.Store.DeleteFlashcardsByDocument(doc.ID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to remove flashcards: %v", err)
			return
		}
		if err := deps.Store.DeleteQuizzesByDocument(doc.ID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to remove quizzes: %v", err)
			return
		}
		if err := deps.Store.DeleteDocument(doc.ID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

// ownedDocument loads the path document and enforces owner scoping.
// Documents of other owners are reported as not found.
func ownedDocument(w http.ResponseWriter, r *http.Request, deps AppDeps) (storage.Document, bool) {
	id := chi.URLParam(r, "id")
	doc, err := deps.Store.GetDocument(id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && doc.OwnerID != ownerID(r)) {
		httpError(w, http.StatusNotFound, "not_found", "document not found")
		return storage.Document{}, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
		return storage.Document{}, false
	}
	return doc, true
}

type AskRequest struct {
	Question   string `json:"question"`
	TopK       int    `json:"top_k"`
	DocumentID string `json:"document_id"`
	Language   string `json:"language"`
}

func handleAsk(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}
		if req.TopK == 0 {
			req.TopK = deps.TopK
		}

		chunks, err := deps.Retriever.Retrieve(r.Context(), req.Question, ownerID(r), req.TopK, req.DocumentID)
		if err != nil {
			var embedErr *retrieval.EmbeddingError
			switch {
			case errors.Is(err, retrieval.ErrInvalidTopK):
				httpError(w, http.StatusBadRequest, "invalid_request_error", "top_k must be positive")
			case errors.As(err, &embedErr):
				httpError(w, http.StatusBadGateway, "api_error", "embedding failed: %v", err)
			default:
				httpError(w, http.StatusInternalServerError, "api_error", "retrieval failed: %v", err)
			}
			return
		}

		answer, err := deps.Composer.Answer(r.Context(), req.Question, req.Language, chunks)
		if err != nil {
			var genErr *composer.GenerationError
			if errors.As(err, &genErr) {
				httpError(w, http.StatusBadGateway, "api_error", "generation failed: %v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compose answer: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(answer)
	}
}

type GenerateCardsRequest struct {
	DocumentID string `json:"document_id"`
	Count      int    `json:"count"`
}

func handleGenerateFlashcards(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req GenerateCardsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.DocumentID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "document_id is required")
			return
		}

		doc, err := deps.Store.GetDocument(req.DocumentID)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && doc.OwnerID != ownerID(r)) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
			return
		}

		generated, err := deps.Cards.Generate(r.Context(), doc, req.Count)
		if err != nil {
			var genErr *composer.GenerationError
			if errors.As(err, &genErr) {
				httpError(w, http.StatusBadGateway, "api_error", "card generation failed: %v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to generate cards: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"document_id": doc.ID,
			"cards":       flashcardViews(generated),
		})
	}
}

// FlashcardView is the JSON shape of a flashcard in API responses.
type FlashcardView struct {
	ID             string  `json:"id"`
	DocumentID     string  `json:"document_id,omitempty"`
	Front          string  `json:"front"`
	Back           string  `json:"back"`
	Topic          string  `json:"topic,omitempty"`
	Difficulty     string  `json:"difficulty"`
	Repetitions    int     `json:"repetitions"`
	EaseFactor     float64 `json:"ease_factor"`
	IntervalDays   int     `json:"interval_days"`
	NextReviewAt   string  `json:"next_review_at"`
	LastReviewedAt string  `json:"last_reviewed_at,omitempty"`
}

func flashcardView(c storage.Flashcard) FlashcardView {
	v := FlashcardView{
		ID:           c.ID,
		DocumentID:   c.DocumentID,
		Front:        c.Front,
		Back:         c.Back,
		Topic:        c.Topic,
		Difficulty:   c.Difficulty,
		Repetitions:  c.Repetitions,
		EaseFactor:   c.EaseFactor,
		IntervalDays: c.IntervalDays,
		NextReviewAt: c.NextReviewAt.UTC().Format(time.RFC3339),
	}
	if !c.LastReviewedAt.IsZero() {
		v.LastReviewedAt = c.LastReviewedAt.UTC().Format(time.RFC3339)
	}
	return v
}

func flashcardViews(cards []storage.Flashcard) []FlashcardView {
	views := make([]FlashcardView, len(cards))
	for i, c := range cards {
		views[i] = flashcardView(c)
	}
	return views
}

func handleDueFlashcards(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cards, err := deps.Scheduler.DueCards(ownerID(r), time.Time{})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list due cards: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(flashcardViews(cards))
	}
}

type ReviewRequest struct {
	Quality *int `json:"quality"`
}

func handleReviewFlashcard(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ReviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Quality == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "quality is required")
			return
		}

		id := chi.URLParam(r, "id")
		card, err := deps.Store.GetFlashcard(id)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && card.OwnerID != ownerID(r)) {
			httpError(w, http.StatusNotFound, "not_found", "flashcard not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get flashcard: %v", err)
			return
		}

		updated, err := deps.Scheduler.Review(id, *req.Quality)
		if errors.Is(err, scheduler.ErrQualityRange) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "quality must be between 0 and 5")
			return
		}
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "flashcard not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to review flashcard: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(flashcardView(updated))
	}
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Scheduler.StudyStats(ownerID(r))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute stats: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}

func handleWeakTopics(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topics, err := deps.Progress.WeakTopics(ownerID(r))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute weak topics: %v", err)
			return
		}
		if topics == nil {
			topics = []progress.WeakTopic{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(topics)
	}
}

// indexError maps indexing failures to HTTP responses. Embedding
// failures are upstream faults, everything else is internal.
func indexError(w http.ResponseWriter, err error) {
	var embedErr *retrieval.EmbeddingError
	if errors.As(err, &embedErr) {
		httpError(w, http.StatusBadGateway, "api_error", "embedding failed: %v", err)
		return
	}
	httpError(w, http.StatusInternalServerError, "api_error", "indexing failed: %v", err)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
