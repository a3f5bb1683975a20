package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document is an uploaded study material after text extraction.
// The stored text is immutable; reprocessing replaces the derived chunk
// set, never the text itself.
type Document struct {
	ID         string
	OwnerID    string
	Title      string
	Language   string
	Content    string
	CreatedAt  time.Time
	IndexedAt  time.Time // zero until the first successful indexing pass
	ChunkCount int
}

// Flashcard couples front/back content with SM-2 scheduling state.
// Scheduling fields are only ever written by the scheduler, atomically
// together with the matching ReviewEvent.
type Flashcard struct {
	ID             string
	OwnerID        string
	DocumentID     string
	Front          string
	Back           string
	Topic          string
	Difficulty     string
	Repetitions    int
	EaseFactor     float64
	IntervalDays   int
	NextReviewAt   time.Time
	CreatedAt      time.Time
	LastReviewedAt time.Time // zero if never reviewed
}

// Quiz is a generated multiple-choice quiz over one document. The
// question set is stored as a JSON array and is immutable once created;
// grading happens against this stored copy, never against client input.
type Quiz struct {
	ID            string
	OwnerID       string
	DocumentID    string
	Title         string
	QuestionsJSON string
	CreatedAt     time.Time
}

// ReviewEvent is an append-only record of one scheduling transition.
type ReviewEvent struct {
	ID               string
	CardID           string
	Quality          int
	PrevRepetitions  int
	PrevEaseFactor   float64
	PrevIntervalDays int
	Repetitions      int
	EaseFactor       float64
	IntervalDays     int
	ReviewedAt       time.Time
}

// TopicStat accumulates per-topic review accuracy for one owner.
type TopicStat struct {
	OwnerID string
	Topic   string
	Correct int
	Total   int
}
