package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/studygenie/studygenie/internal/composer"
	"github.com/studygenie/studygenie/internal/quiz"
	"github.com/studygenie/studygenie/internal/storage"
)

type GenerateQuizRequest struct {
	DocumentID string `json:"document_id"`
	Count      int    `json:"count"`
}

// QuizQuestionView is a question as exposed to clients. The correct
// answer and explanation are withheld until the attempt is graded.
type QuizQuestionView struct {
	ID         string   `json:"id"`
	Prompt     string   `json:"question"`
	Options    []string `json:"options"`
	Topic      string   `json:"topic,omitempty"`
	Difficulty string   `json:"difficulty"`
}

func quizQuestionViews(questions []quiz.Question) []QuizQuestionView {
	views := make([]QuizQuestionView, len(questions))
	for i, q := range questions {
		views[i] = QuizQuestionView{
			ID:         q.ID,
			Prompt:     q.Prompt,
			Options:    q.Options,
			Topic:      q.Topic,
			Difficulty: q.Difficulty,
		}
	}
	return views
}

func quizResponse(w http.ResponseWriter, q storage.Quiz, questions []quiz.Question) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":          q.ID,
		"document_id": q.DocumentID,
		"title":       q.Title,
		"created_at":  q.CreatedAt.UTC().Format(time.RFC3339),
		"questions":   quizQuestionViews(questions),
	})
}

func handleGenerateQuiz(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req GenerateQuizRequest
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

		q, questions, err := deps.Quiz.Generate(r.Context(), doc, req.Count)
		if err != nil {
			var genErr *composer.GenerationError
			if errors.As(err, &genErr) {
				httpError(w, http.StatusBadGateway, "api_error", "quiz generation failed: %v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to generate quiz: %v", err)
			return
		}
		if len(questions) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "document has no content to quiz on")
			return
		}

		quizResponse(w, q, questions)
	}
}

func handleGetQuiz(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, ok := ownedQuiz(w, r, deps)
		if !ok {
			return
		}
		questions, err := quiz.Questions(q)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to decode quiz: %v", err)
			return
		}
		quizResponse(w, q, questions)
	}
}

type QuizAttemptRequest struct {
	// Answers maps question id to the chosen option text.
	Answers map[string]string `json:"answers"`
}

func handleQuizAttempt(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req QuizAttemptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Answers) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "answers are required")
			return
		}

		q, ok := ownedQuiz(w, r, deps)
		if !ok {
			return
		}

		result, err := deps.Quiz.SubmitAttempt(q, req.Answers)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to grade attempt: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

// ownedQuiz loads the path quiz and enforces owner scoping. Quizzes of
// other owners are reported as not found.
func ownedQuiz(w http.ResponseWriter, r *http.Request, deps AppDeps) (storage.Quiz, bool) {
	id := chi.URLParam(r, "id")
	q, err := deps.Store.GetQuiz(id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && q.OwnerID != ownerID(r)) {
		httpError(w, http.StatusNotFound, "not_found", "quiz not found")
		return storage.Quiz{}, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get quiz: %v", err)
		return storage.Quiz{}, false
	}
	return q, true
}
