// Package quiz generates multiple-choice quizzes over an indexed
// document and grades submitted attempts. Grading always runs against
// the stored question set, and per-question outcomes feed the same
// topic-accuracy counters the flashcard scheduler writes to.
package quiz

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/studygenie/studygenie/internal/composer"
	"github.com/studygenie/studygenie/internal/storage"
)

const (
	defaultQuestionCount = 10

	// Accuracy bounds for the attempt summary. Below weak a topic
	// needs revision, at or above strong it is considered solid.
	weakAccuracy   = 0.6
	strongAccuracy = 0.8
)

// Question is one stored multiple-choice question. The correct answer
// never leaves the server through the quiz read endpoints.
type Question struct {
	ID          string   `json:"id"`
	Prompt      string   `json:"question"`
	Options     []string `json:"options"`
	Answer      string   `json:"correct_answer"`
	Explanation string   `json:"explanation,omitempty"`
	Topic       string   `json:"topic,omitempty"`
	Difficulty  string   `json:"difficulty"`
}

// Store persists generated quizzes.
type Store interface {
	CreateQuiz(q storage.Quiz) error
}

// AccuracyRecorder receives one graded outcome per answered question.
type AccuracyRecorder interface {
	RecordTopicAccuracy(ownerID, topic string, correct bool) error
}

// Service generates quizzes from document text and grades attempts.
type Service struct {
	generate composer.Generator
	store    Store
	progress AccuracyRecorder
	logger   *slog.Logger
}

// NewService creates a quiz Service.
func NewService(generate composer.Generator, store Store, progress AccuracyRecorder) *Service {
	return &Service{generate: generate, store: store, progress: progress, logger: slog.Default()}
}

// Generate asks the content generator for numQuestions multiple-choice
// questions over the document's text, parses them, and stores the quiz.
// Generator failures surface as composer.GenerationError. An empty
// document yields no quiz and no error.
func (s *Service) Generate(ctx context.Context, doc storage.Document, numQuestions int) (storage.Quiz, []Question, error) {
	if numQuestions <= 0 {
		numQuestions = defaultQuestionCount
	}
	if strings.TrimSpace(doc.Content) == "" {
		return storage.Quiz{}, nil, nil
	}

	raw, err := s.generate.Generate(ctx, buildPrompt(doc, numQuestions))
	if err != nil {
		return storage.Quiz{}, nil, &composer.GenerationError{Err: err}
	}

	drafts, err := parseQuestions(raw)
	if err != nil {
		return storage.Quiz{}, nil, &composer.GenerationError{Err: err}
	}

	questions := make([]Question, 0, len(drafts))
	for _, d := range drafts {
		if strings.TrimSpace(d.Prompt) == "" || strings.TrimSpace(d.Answer) == "" || len(d.Options) < 2 {
			continue
		}
		d.ID = uuid.NewString()
		d.Difficulty = normalizeDifficulty(d.Difficulty)
		questions = append(questions, d)
	}
	if len(questions) == 0 {
		return storage.Quiz{}, nil, &composer.GenerationError{Err: fmt.Errorf("no usable questions in generator output")}
	}

	encoded, err := json.Marshal(questions)
	if err != nil {
		return storage.Quiz{}, nil, fmt.Errorf("encoding questions: %w", err)
	}
	q := storage.Quiz{
		ID:            uuid.NewString(),
		OwnerID:       doc.OwnerID,
		DocumentID:    doc.ID,
		Title:         fmt.Sprintf("Quiz: %s", doc.Title),
		QuestionsJSON: string(encoded),
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateQuiz(q); err != nil {
		return storage.Quiz{}, nil, fmt.Errorf("storing quiz: %w", err)
	}
	return q, questions, nil
}

// Questions decodes a stored quiz's question set.
func Questions(q storage.Quiz) ([]Question, error) {
	var questions []Question
	if err := json.Unmarshal([]byte(q.QuestionsJSON), &questions); err != nil {
		return nil, fmt.Errorf("decoding quiz %s questions: %w", q.ID, err)
	}
	return questions, nil
}

// Result summarizes one graded attempt.
type Result struct {
	QuizID         string   `json:"quiz_id"`
	TotalQuestions int      `json:"total_questions"`
	CorrectAnswers int      `json:"correct_answers"`
	Score          float64  `json:"score"`
	WeakTopics     []string `json:"weak_topics"`
	StrongTopics   []string `json:"strong_topics"`
}

// SubmitAttempt grades the answers against the stored questions and
// feeds each graded outcome into the topic-accuracy counters. Answers
// are keyed by question id; a missing or blank answer counts as wrong.
// Comparison ignores case and surrounding whitespace. Recording
// failures are logged, never propagated, so a graded attempt always
// returns its result.
func (s *Service) SubmitAttempt(q storage.Quiz, answers map[string]string) (Result, error) {
	questions, err := Questions(q)
	if err != nil {
		return Result{}, err
	}
	if len(questions) == 0 {
		return Result{}, fmt.Errorf("quiz %s has no questions", q.ID)
	}

	type tally struct{ correct, total int }
	topics := make(map[string]*tally)
	correct := 0
	for _, question := range questions {
		got := strings.ToLower(strings.TrimSpace(answers[question.ID]))
		want := strings.ToLower(strings.TrimSpace(question.Answer))
		ok := got != "" && got == want
		if ok {
			correct++
		}
		if question.Topic != "" {
			t := topics[question.Topic]
			if t == nil {
				t = &tally{}
				topics[question.Topic] = t
			}
			t.total++
			if ok {
				t.correct++
			}
			if err := s.progress.RecordTopicAccuracy(q.OwnerID, question.Topic, ok); err != nil {
				s.logger.Warn("recording quiz outcome failed", "owner", q.OwnerID, "topic", question.Topic, "error", err)
			}
		}
	}

	res := Result{
		QuizID:         q.ID,
		TotalQuestions: len(questions),
		CorrectAnswers: correct,
		Score:          float64(correct) / float64(len(questions)) * 100,
		WeakTopics:     []string{},
		StrongTopics:   []string{},
	}
	for topic, t := range topics {
		accuracy := float64(t.correct) / float64(t.total)
		switch {
		case accuracy < weakAccuracy:
			res.WeakTopics = append(res.WeakTopics, topic)
		case accuracy >= strongAccuracy:
			res.StrongTopics = append(res.StrongTopics, topic)
		}
	}
	sort.Strings(res.WeakTopics)
	sort.Strings(res.StrongTopics)
	return res, nil
}

var languageNames = map[string]string{
	"en": "English",
	"hi": "Hindi",
	"mr": "Marathi",
}

func buildPrompt(doc storage.Document, numQuestions int) string {
	lang, ok := languageNames[doc.Language]
	if !ok {
		lang = "English"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Create a quiz with %d multiple-choice questions based on the following study material.\n\n", numQuestions)
	sb.WriteString("Return ONLY a JSON array in this exact format:\n")
	sb.WriteString(`[{"question": "Question text", "options": ["A", "B", "C", "D"], "correct_answer": "B", "explanation": "Why this is correct", "topic": "Short topic label", "difficulty": "easy|medium|hard"}]`)
	sb.WriteString("\n\nRequirements:\n")
	fmt.Fprintf(&sb, "- Write questions and options in %s\n", lang)
	sb.WriteString("- Four options per question, exactly one correct\n")
	sb.WriteString("- correct_answer must repeat the correct option verbatim\n")
	sb.WriteString("- Cover the key concepts of the material\n\n")
	sb.WriteString("Study material:\n")
	sb.WriteString(doc.Content)
	return sb.String()
}

// parseQuestions unmarshals the generator output, tolerating
// surrounding prose and Markdown code fences.
func parseQuestions(raw string) ([]Question, error) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "["); i >= 0 {
		if j := strings.LastIndex(s, "]"); j > i {
			s = s[i : j+1]
		}
	}
	var questions []Question
	if err := json.Unmarshal([]byte(s), &questions); err != nil {
		return nil, fmt.Errorf("parsing quiz JSON: %w", err)
	}
	return questions, nil
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
