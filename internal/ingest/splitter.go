package ingest

import "strings"

const (
	defaultChunkSize    = 300 // words
	defaultChunkOverlap = 50  // words shared between adjacent chunks
)

// Splitter cuts document text into overlapping word windows. Splitting
// is purely positional, so the same input and configuration always
// produce the same chunks.
type Splitter struct {
	size    int
	overlap int
}

// NewSplitter creates a Splitter with the given chunk size and overlap,
// both in words. Out-of-range values fall back to the defaults
// (300-word chunks, 50-word overlap).
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = defaultChunkOverlap
		if overlap >= size {
			overlap = size / 5
		}
	}
	return &Splitter{size: size, overlap: overlap}
}

// Split returns the text's chunks in document order. Empty or
// whitespace-only text yields no chunks; text shorter than one window
// yields exactly one.
func (s *Splitter) Split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := s.size - s.overlap
	var chunks []string
	for i := 0; i < len(words); i += step {
		end := i + s.size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}

// Size returns the configured chunk size in words.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the configured overlap in words.
func (s *Splitter) Overlap() int { return s.overlap }
