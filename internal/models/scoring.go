package models

// DifficultyWeights scales correct answers by question difficulty when
// computing the weighted score.
type DifficultyWeights struct {
	Easy   float64
	Medium float64
	Hard   float64
}

// DefaultDifficultyWeights returns the platform-wide weighting.
func DefaultDifficultyWeights() DifficultyWeights {
	return DifficultyWeights{Easy: 1.0, Medium: 1.5, Hard: 2.0}
}

// For returns the weight for a difficulty tag, normalizing it first.
func (w DifficultyWeights) For(difficulty string) float64 {
	switch NormalizeDifficulty(difficulty) {
	case DifficultyMedium:
		return w.Medium
	case DifficultyHard:
		return w.Hard
	default:
		return w.Easy
	}
}

// ScoreSummary is the outcome of scoring a set of recorded answers.
// Raw and Weighted are percentages in [0, 100].
type ScoreSummary struct {
	Raw      float64 `json:"raw"`
	Weighted float64 `json:"weighted"`
	Answered int     `json:"answered"`
	Correct  int     `json:"correct"`
}

// ComputeScores scores the answered questions of an attempt. Unanswered
// pool questions do not participate: raw is the percentage of recorded
// answers that were correct, weighted divides earned weight by the total
// weight of the recorded answers. No answers yields zero scores.
func ComputeScores(answers []TestAnswer, w DifficultyWeights) ScoreSummary {
	summary := ScoreSummary{Answered: len(answers)}
	if len(answers) == 0 {
		return summary
	}

	var earned, possible float64
	for _, ans := range answers {
		weight := w.For(ans.Difficulty)
		possible += weight
		if ans.IsCorrect {
			summary.Correct++
			earned += weight
		}
	}

	summary.Raw = 100 * float64(summary.Correct) / float64(summary.Answered)
	if possible > 0 {
		summary.Weighted = 100 * earned / possible
	}
	return summary
}
