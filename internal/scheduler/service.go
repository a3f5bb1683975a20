package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studygenie/studygenie/internal/storage"
)

// CardStore is the persistence needed by the scheduler.
type CardStore interface {
	GetFlashcard(id string) (storage.Flashcard, error)
	ApplyReview(card storage.Flashcard, ev storage.ReviewEvent) error
	DueFlashcards(ownerID string, asOf time.Time) ([]storage.Flashcard, error)
	ListFlashcards(ownerID string) ([]storage.Flashcard, error)
}

// ProgressRecorder receives review outcomes for analytics. Writes are
// one-way: the scheduler never reads them back.
type ProgressRecorder interface {
	RecordReview(ownerID, topic string, quality int)
}

// Service drives flashcard scheduling transitions. Reviews of one card
// are serialized through a per-card mutex so two concurrent reviews
// cannot interleave their read-modify-write.
type Service struct {
	store    CardStore
	progress ProgressRecorder
	logger   *slog.Logger
	now      func() time.Time

	// locks holds one mutex per reviewed card id and is never pruned.
	// Entries are one mutex each and the set is bounded by the owner's
	// card count, so eviction is not worth the bookkeeping here.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a scheduler Service. progress may be nil when no
// analytics sink is attached.
func NewService(store CardStore, progress ProgressRecorder) *Service {
	return &Service{
		store:    store,
		progress: progress,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *Service) cardLock(cardID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[cardID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[cardID] = l
	}
	return l
}

// NewCard returns a Flashcard with default scheduling state, due
// immediately.
func (s *Service) NewCard(ownerID, documentID, front, back, topic, difficulty string) storage.Flashcard {
	now := s.now()
	if difficulty == "" {
		difficulty = "medium"
	}
	return storage.Flashcard{
		ID:           uuid.New().String(),
		OwnerID:      ownerID,
		DocumentID:   documentID,
		Front:        front,
		Back:         back,
		Topic:        topic,
		Difficulty:   difficulty,
		Repetitions:  0,
		EaseFactor:   DefaultEaseFactor,
		IntervalDays: 0,
		NextReviewAt: now,
		CreatedAt:    now,
	}
}

// Review applies one quality rating to the card: computes the SM-2
// transition, overwrites the card's scheduling state atomically together
// with the appended ReviewEvent, and reports the outcome to analytics.
func (s *Service) Review(cardID string, quality int) (storage.Flashcard, error) {
	if quality < 0 || quality > 5 {
		return storage.Flashcard{}, ErrQualityRange
	}

	lock := s.cardLock(cardID)
	lock.Lock()
	defer lock.Unlock()

	card, err := s.store.GetFlashcard(cardID)
	if err != nil {
		return storage.Flashcard{}, err
	}

	prev := State{
		Repetitions:  card.Repetitions,
		EaseFactor:   card.EaseFactor,
		IntervalDays: card.IntervalDays,
	}
	next, err := Next(prev, quality)
	if err != nil {
		return storage.Flashcard{}, err
	}

	now := s.now()
	card.Repetitions = next.Repetitions
	card.EaseFactor = next.EaseFactor
	card.IntervalDays = next.IntervalDays
	card.NextReviewAt = now.AddDate(0, 0, next.IntervalDays)
	card.LastReviewedAt = now

	ev := storage.ReviewEvent{
		ID:               uuid.New().String(),
		CardID:           card.ID,
		Quality:          quality,
		PrevRepetitions:  prev.Repetitions,
		PrevEaseFactor:   prev.EaseFactor,
		PrevIntervalDays: prev.IntervalDays,
		Repetitions:      next.Repetitions,
		EaseFactor:       next.EaseFactor,
		IntervalDays:     next.IntervalDays,
		ReviewedAt:       now,
	}

	if err := s.store.ApplyReview(card, ev); err != nil {
		return storage.Flashcard{}, err
	}

	if s.progress != nil && card.Topic != "" {
		s.progress.RecordReview(card.OwnerID, card.Topic, quality)
	}

	s.logger.Debug("card reviewed",
		"card_id", card.ID, "quality", quality,
		"interval_days", card.IntervalDays, "ease_factor", card.EaseFactor)
	return card, nil
}

// DueCards returns the owner's cards due at asOf (zero means now),
// most overdue first. A never-reviewed card is due immediately.
func (s *Service) DueCards(ownerID string, asOf time.Time) ([]storage.Flashcard, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	return s.store.DueFlashcards(ownerID, asOf)
}

// Stats summarizes the owner's card population.
type Stats struct {
	Total    int `json:"total"`
	New      int `json:"new"`      // never reviewed
	Learning int `json:"learning"` // interval 1-21 days
	Mastered int `json:"mastered"` // interval over 21 days
	Due      int `json:"due"`
}

const masteredIntervalDays = 21

// StudyStats computes the owner's study statistics.
func (s *Service) StudyStats(ownerID string) (Stats, error) {
	cards, err := s.store.ListFlashcards(ownerID)
	if err != nil {
		return Stats{}, err
	}

	now := s.now()
	var st Stats
	st.Total = len(cards)
	for _, c := range cards {
		switch {
		case c.LastReviewedAt.IsZero():
			st.New++
		case c.IntervalDays > masteredIntervalDays:
			st.Mastered++
		default:
			st.Learning++
		}
		if !c.NextReviewAt.After(now) {
			st.Due++
		}
	}
	return st, nil
}
