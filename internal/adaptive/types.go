package adaptive

import (
	"sort"

	"exam-service/internal/models"
	"exam-service/internal/selection"
)

// Config holds the tuning knobs for the progressive strategy.
type Config struct {
	// Window is how many trailing answers feed the accuracy signal.
	Window int `json:"window"`
	// UpperThreshold is the accuracy above which selection steps harder.
	UpperThreshold float64 `json:"upper_threshold"`
	// LowerThreshold is the accuracy below which selection steps easier.
	LowerThreshold float64 `json:"lower_threshold"`
}

// DefaultConfig returns the platform-wide progressive tuning.
func DefaultConfig() *Config {
	return &Config{
		Window:         3,
		UpperThreshold: 0.70,
		LowerThreshold: 0.40,
	}
}

// SelectionState is the per-attempt input to the selector: the normalized
// buckets, which questions were already served, and the trailing answer
// history driving the progressive strategy. It is rebuilt from the attempt
// document and its answer rows on every request, so the selector itself
// stays stateless.
type SelectionState struct {
	Buckets  selection.Buckets
	Answered map[string]bool
	Adaptive bool
	Strategy string

	// LastDifficulty is the normalized tag of the most recently answered
	// question, empty before the first answer.
	LastDifficulty string
	// Recent holds the trailing correctness window, oldest first.
	Recent []bool
	// Window caps len(Recent).
	Window int
}

// NewSelectionState builds the state for a fresh attempt with no answers.
func NewSelectionState(buckets selection.Buckets, adaptive bool, strategy string, window int) *SelectionState {
	if window < 1 {
		window = 1
	}
	return &SelectionState{
		Buckets:  buckets,
		Answered: make(map[string]bool),
		Adaptive: adaptive,
		Strategy: strategy,
		Window:   window,
	}
}

// StateFromHistory reconstructs selection state from recorded answers.
// Answers are ordered by their attempt sequence before replay.
func StateFromHistory(buckets selection.Buckets, adaptive bool, strategy string, answers []models.TestAnswer, window int) *SelectionState {
	state := NewSelectionState(buckets, adaptive, strategy, window)

	ordered := make([]models.TestAnswer, len(answers))
	copy(ordered, answers)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Sequence < ordered[j].Sequence
	})

	for _, ans := range ordered {
		state.RecordAnswer(ans.QuestionID, ans.Difficulty, ans.IsCorrect)
	}
	return state
}

// RecordAnswer marks a question as served and feeds its outcome into the
// trailing window.
func (s *SelectionState) RecordAnswer(questionID, difficulty string, correct bool) {
	s.Answered[questionID] = true
	s.LastDifficulty = models.NormalizeDifficulty(difficulty)
	s.Recent = append(s.Recent, correct)
	if len(s.Recent) > s.Window {
		s.Recent = s.Recent[len(s.Recent)-s.Window:]
	}
}

// WindowAccuracy is the fraction of correct answers over the trailing
// window. It is only meaningful once at least one answer was recorded.
func (s *SelectionState) WindowAccuracy() float64 {
	if len(s.Recent) == 0 {
		return 0
	}
	correct := 0
	for _, ok := range s.Recent {
		if ok {
			correct++
		}
	}
	return float64(correct) / float64(len(s.Recent))
}

// Remaining counts the unanswered questions left in the pool.
func (s *SelectionState) Remaining() int {
	total := 0
	for _, bucket := range [][]models.Question{s.Buckets.Easy, s.Buckets.Medium, s.Buckets.Hard} {
		for _, q := range bucket {
			if !s.Answered[q.ID] {
				total++
			}
		}
	}
	return total
}
