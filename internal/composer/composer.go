package composer

import (
	"context"
	"fmt"
	"strings"

	"github.com/studygenie/studygenie/internal/retrieval"
)

// Generator is the external content-generation collaborator. It may be
// non-deterministic; every deterministic guarantee of an answer
// (sources, confidence) is derived before it is invoked.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GenerationError wraps a failure of the content generator. The answer
// call fails as a whole; no partial answer is returned and no retry
// happens inside the core.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// InsufficientContextAnswer is the designated degraded answer returned
// when retrieval produced nothing to ground on.
const InsufficientContextAnswer = "I don't have enough information to answer this question based on the provided materials."

// Source attributes part of an answer to one chunk of one document.
type Source struct {
	DocumentID string `json:"document_id"`
	Ordinal    int    `json:"ordinal"`
	DocTitle   string `json:"doc_title,omitempty"`
}

// Answer is a composed tutor response.
type Answer struct {
	Text       string   `json:"answer"`
	Sources    []Source `json:"sources"`
	Confidence float64  `json:"confidence"`
}

// Composer assembles grounded prompts from retrieved chunks and derives
// the confidence and source list of each answer.
type Composer struct {
	generator Generator
}

// New creates a Composer using the given content generator.
func New(generator Generator) *Composer {
	return &Composer{generator: generator}
}

// Answer builds a grounding context from the retrieved chunks (ranked
// order, one chunk per distinct document), invokes the generator, and
// returns the answer with its source list and confidence.
//
// An empty retrieval is not an error: the designated insufficient-context
// answer comes back with confidence 0, empty sources, and the generator
// is never invoked.
func (c *Composer) Answer(ctx context.Context, query, language string, retrieved []retrieval.ContextChunk) (Answer, error) {
	if len(retrieved) == 0 {
		return Answer{Text: InsufficientContextAnswer, Confidence: 0.0}, nil
	}

	grounding := dedupeByDocument(retrieved)

	sources := make([]Source, len(grounding))
	for i, ch := range grounding {
		sources[i] = Source{DocumentID: ch.DocumentID, Ordinal: ch.Ordinal, DocTitle: ch.DocTitle}
	}
	confidence := Confidence(float64(retrieved[0].Score), len(grounding))

	prompt := BuildPrompt(query, language, grounding)
	text, err := c.generator.Generate(ctx, prompt)
	if err != nil {
		return Answer{}, &GenerationError{Err: err}
	}

	return Answer{
		Text:       strings.TrimSpace(text),
		Sources:    sources,
		Confidence: confidence,
	}, nil
}

// dedupeByDocument keeps the highest-ranked chunk of each document,
// preserving the overall ranked order. Overlapping chunks of one
// document would otherwise cite it twice.
func dedupeByDocument(chunks []retrieval.ContextChunk) []retrieval.ContextChunk {
	seen := make(map[string]bool, len(chunks))
	var out []retrieval.ContextChunk
	for _, ch := range chunks {
		if seen[ch.DocumentID] {
			continue
		}
		seen[ch.DocumentID] = true
		out = append(out, ch)
	}
	return out
}

// Confidence maps retrieval evidence to [0,1]. It is monotone in both
// inputs: a stronger top similarity and more independent corroborating
// documents each raise it, and a single weak match stays low.
//
//	confidence = clamp01( topScore * (0.7 + 0.1 * min(distinctDocs, 3)) )
func Confidence(topScore float64, distinctDocs int) float64 {
	if distinctDocs <= 0 {
		return 0
	}
	if distinctDocs > 3 {
		distinctDocs = 3
	}
	c := topScore * (0.7 + 0.1*float64(distinctDocs))
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

var languageNames = map[string]string{
	"en": "English",
	"hi": "Hindi",
	"mr": "Marathi",
}

// BuildPrompt renders the grounded tutoring prompt. The answer must be
// based only on the supplied context.
func BuildPrompt(query, language string, grounding []retrieval.ContextChunk) string {
	lang, ok := languageNames[language]
	if !ok {
		lang = "English"
	}

	var sb strings.Builder
	sb.WriteString("You are a helpful AI tutor. Answer the student's question based ONLY on the provided context, in ")
	sb.WriteString(lang)
	sb.WriteString(".\n\nContext from study materials:\n")
	for i, ch := range grounding {
		title := ch.DocTitle
		if title == "" {
			title = ch.DocumentID
		}
		fmt.Fprintf(&sb, "\n[%d] %s\n%s\n", i+1, title, ch.Text)
	}
	sb.WriteString("\nStudent's question: ")
	sb.WriteString(query)
	sb.WriteString("\n\nRequirements:\n")
	sb.WriteString("- Answer in simple, clear language appropriate for students\n")
	sb.WriteString("- Base your answer ONLY on the provided context\n")
	sb.WriteString("- If the context doesn't contain enough information, say so\n")
	sb.WriteString("- Keep the answer concise but complete\n")
	return sb.String()
}
