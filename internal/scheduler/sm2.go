package scheduler

import (
	"errors"
	"math"
)

const (
	// DefaultEaseFactor is the ease assigned to a freshly created card.
	DefaultEaseFactor = 2.5
	// MinEaseFactor is the floor below which ease never drops.
	MinEaseFactor = 1.3

	passThreshold = 3
)

// ErrQualityRange is returned for quality ratings outside 0..5.
var ErrQualityRange = errors.New("quality rating must be between 0 and 5")

// State is a card's SM-2 scheduling state.
type State struct {
	Repetitions  int
	EaseFactor   float64
	IntervalDays int
}

// Next computes the scheduling state after one review rated with
// quality q (0 = complete blackout, 5 = perfect recall).
//
// The ease factor is adjusted on every review, pass or fail, and floored
// at MinEaseFactor. A failing review (q < 3) resets repetitions to 0 and
// the interval to 1 day. A passing review advances the interval
// 1 -> 6 -> round(previous * ease), with the ease applied being the
// post-adjustment value.
func Next(s State, quality int) (State, error) {
	if quality < 0 || quality > 5 {
		return State{}, ErrQualityRange
	}

	miss := float64(5 - quality)
	ease := s.EaseFactor + (0.1 - miss*(0.08+miss*0.02))
	if ease < MinEaseFactor {
		ease = MinEaseFactor
	}

	next := State{EaseFactor: ease}
	if quality < passThreshold {
		next.Repetitions = 0
		next.IntervalDays = 1
		return next, nil
	}

	next.Repetitions = s.Repetitions + 1
	switch {
	case next.Repetitions == 1:
		next.IntervalDays = 1
	case next.Repetitions == 2:
		next.IntervalDays = 6
	default:
		next.IntervalDays = int(math.Round(float64(s.IntervalDays) * ease))
	}
	return next, nil
}

// QualityFromPerformance maps a correct/incorrect outcome plus the
// learner's stated confidence ("low", "medium", "high") onto the 0-5
// quality scale.
func QualityFromPerformance(correct bool, confidence string) int {
	if !correct {
		return 0
	}
	switch confidence {
	case "low":
		return 3
	case "high":
		return 5
	default:
		return 4
	}
}
