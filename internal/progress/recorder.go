package progress

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/studygenie/studygenie/internal/storage"
)

// Store is the persistence behind the analytics recorder.
type Store interface {
	RecordTopicResult(ownerID, topic string, correct bool) error
	TopicStats(ownerID string) ([]storage.TopicStat, error)
}

// A topic is weak when recall accuracy falls below this ratio.
const weakTopicThreshold = 0.6

// Recorder is the progress-analytics sink shared by the scheduler and
// the tutoring side. Writes are fire-and-forget from the callers'
// perspective; the core never blocks a review on analytics.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

// NewRecorder creates a Recorder over the given store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, logger: slog.Default()}
}

// RecordReview accumulates one flashcard review outcome into the
// owner's topic accuracy. A quality of 3 or above counts as correct
// recall. Failures are logged, never propagated.
func (r *Recorder) RecordReview(ownerID, topic string, quality int) {
	if topic == "" {
		return
	}
	if err := r.store.RecordTopicResult(ownerID, topic, quality >= 3); err != nil {
		r.logger.Warn("recording review outcome failed", "owner", ownerID, "topic", topic, "error", err)
	}
}

// RecordTopicAccuracy accumulates one explicit correct/incorrect signal,
// e.g. from a quiz attempt graded outside the scheduler.
func (r *Recorder) RecordTopicAccuracy(ownerID, topic string, correct bool) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}
	return r.store.RecordTopicResult(ownerID, topic, correct)
}

// WeakTopic is a topic with below-threshold recall accuracy.
type WeakTopic struct {
	Topic    string  `json:"topic"`
	Accuracy float64 `json:"accuracy"`
	Attempts int     `json:"attempts"`
}

// WeakTopics returns the owner's topics with accuracy below the
// threshold, weakest first.
func (r *Recorder) WeakTopics(ownerID string) ([]WeakTopic, error) {
	stats, err := r.store.TopicStats(ownerID)
	if err != nil {
		return nil, fmt.Errorf("loading topic stats: %w", err)
	}

	var weak []WeakTopic
	for _, s := range stats {
		if s.Total == 0 {
			continue
		}
		accuracy := float64(s.Correct) / float64(s.Total)
		if accuracy < weakTopicThreshold {
			weak = append(weak, WeakTopic{Topic: s.Topic, Accuracy: accuracy, Attempts: s.Total})
		}
	}
	sort.Slice(weak, func(i, j int) bool {
		if weak[i].Accuracy != weak[j].Accuracy {
			return weak[i].Accuracy < weak[j].Accuracy
		}
		return weak[i].Topic < weak[j].Topic
	})
	return weak, nil
}
