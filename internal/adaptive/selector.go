package adaptive

import (
	"math/rand"
	"time"

	"exam-service/internal/models"
	"exam-service/internal/selection"
)

// Selector picks the next question of an attempt according to its
// strategy. Nil results mean the pool is exhausted; callers fold that into
// normal completion rather than surfacing an error.
type Selector struct {
	config *Config
	rng    *rand.Rand
}

// NewSelector creates a selector. A nil config falls back to the default
// progressive tuning.
func NewSelector(config *Config) *Selector {
	if config == nil {
		config = DefaultConfig()
	}
	return &Selector{
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the next unanswered question for the attempt, or nil when
// every bucket is exhausted. Non-random strategies are deterministic:
// the same pool and answer history always produce the same question.
func (s *Selector) Next(state *SelectionState) *models.Question {
	if !state.Adaptive {
		return s.nextInPoolOrder(state)
	}

	switch state.Strategy {
	case models.StrategyEasyToHard:
		return s.firstUnanswered(state,
			models.DifficultyEasy, models.DifficultyMedium, models.DifficultyHard)
	case models.StrategyHardToEasy:
		return s.firstUnanswered(state,
			models.DifficultyHard, models.DifficultyMedium, models.DifficultyEasy)
	case models.StrategyRandom:
		return s.nextRandom(state)
	default:
		// progressive is the adaptive default
		return s.nextProgressive(state)
	}
}

// nextInPoolOrder serves the stable pool order, ignoring difficulty. This
// is the walk non-adaptive attempts get.
func (s *Selector) nextInPoolOrder(state *SelectionState) *models.Question {
	merged := make([]models.Question, 0, state.Buckets.Size())
	merged = append(merged, state.Buckets.Easy...)
	merged = append(merged, state.Buckets.Medium...)
	merged = append(merged, state.Buckets.Hard...)
	for _, q := range selection.SortPool(merged) {
		if !state.Answered[q.ID] {
			next := q
			return &next
		}
	}
	return nil
}

// nextProgressive adjusts difficulty from the trailing answer window. The
// first question always starts easy. Afterwards accuracy above the upper
// threshold prefers the next-harder bucket relative to the last question,
// accuracy below the lower threshold prefers next-easier, anything in
// between stays put. An exhausted preference falls back same, then harder,
// then easier, then whatever remains.
func (s *Selector) nextProgressive(state *SelectionState) *models.Question {
	if state.LastDifficulty == "" {
		return s.firstUnanswered(state,
			models.DifficultyEasy, models.DifficultyMedium, models.DifficultyHard)
	}

	last := state.LastDifficulty
	preferred := last
	accuracy := state.WindowAccuracy()
	if accuracy > s.config.UpperThreshold {
		preferred = models.HarderDifficulty(last)
	} else if accuracy < s.config.LowerThreshold {
		preferred = models.EasierDifficulty(last)
	}

	order := candidateOrder(preferred, last)
	return s.firstUnanswered(state, order...)
}

func (s *Selector) nextRandom(state *SelectionState) *models.Question {
	remaining := make([]models.Question, 0, state.Buckets.Size())
	for _, bucket := range [][]models.Question{state.Buckets.Easy, state.Buckets.Medium, state.Buckets.Hard} {
		for _, q := range bucket {
			if !state.Answered[q.ID] {
				remaining = append(remaining, q)
			}
		}
	}
	if len(remaining) == 0 {
		return nil
	}
	next := remaining[s.rng.Intn(len(remaining))]
	return &next
}

// firstUnanswered walks the given buckets in order and returns the first
// question not yet served, respecting pool order within each bucket.
func (s *Selector) firstUnanswered(state *SelectionState, tags ...string) *models.Question {
	for _, tag := range tags {
		for _, q := range state.Buckets.Bucket(tag) {
			if !state.Answered[q.ID] {
				next := q
				return &next
			}
		}
	}
	return nil
}

// candidateOrder expands a difficulty preference into the full fallback
// chain: preferred, same, harder, easier, then any remaining tier.
func candidateOrder(preferred, last string) []string {
	candidates := []string{
		preferred,
		last,
		models.HarderDifficulty(last),
		models.EasierDifficulty(last),
		models.DifficultyEasy,
		models.DifficultyMedium,
		models.DifficultyHard,
	}

	order := make([]string, 0, 3)
	seen := make(map[string]bool, 3)
	for _, tag := range candidates {
		if !seen[tag] {
			seen[tag] = true
			order = append(order, tag)
		}
	}
	return order
}
