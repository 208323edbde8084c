package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	AttemptStatusPending    = "pending"
	AttemptStatusInProgress = "in_progress"
	AttemptStatusComplete   = "complete"
	AttemptStatusExpired    = "expired"
	AttemptStatusAborted    = "aborted"
)

const (
	StrategyProgressive = "progressive"
	StrategyEasyToHard  = "easy_to_hard"
	StrategyHardToEasy  = "hard_to_easy"
	StrategyRandom      = "random"
)

// Completion reasons recorded on the attempt when it reaches a terminal
// state.
const (
	CompletionMaxQuestions  = "max_questions"
	CompletionTimeout       = "timeout"
	CompletionPoolExhausted = "pool_exhausted"
	CompletionManual        = "manual"
	CompletionAbort         = "abort"
)

func ValidStrategy(s string) bool {
	switch s {
	case StrategyProgressive, StrategyEasyToHard, StrategyHardToEasy, StrategyRandom:
		return true
	}
	return false
}

// PoolEntry is one slot of the attempt's pool snapshot. Difficulty is the
// attempt-scoped normalized tag, which may differ from the tag stored on
// the question itself.
type PoolEntry struct {
	QuestionID string `bson:"question_id" json:"question_id"`
	Difficulty string `bson:"difficulty" json:"difficulty"`
}

type TestAttempt struct {
	ID                bson.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID            string        `bson:"user_id" json:"user_id"`
	TemplateID        string        `bson:"template_id" json:"template_id"`
	Adaptive          bool          `bson:"adaptive" json:"adaptive"`
	Strategy          string        `bson:"strategy,omitempty" json:"strategy,omitempty"`
	StartTime         time.Time     `bson:"start_time" json:"start_time"`
	EndTime           *time.Time    `bson:"end_time,omitempty" json:"end_time,omitempty"`
	DurationMinutes   int           `bson:"duration_minutes" json:"duration_minutes"`
	ExpiresAt         time.Time     `bson:"expires_at" json:"expires_at"`
	MaxQuestions      *int          `bson:"max_questions,omitempty" json:"max_questions,omitempty"`
	QuestionsAnswered int           `bson:"questions_answered" json:"questions_answered"`
	Status            string        `bson:"status" json:"status"`
	Pool              []PoolEntry   `bson:"pool" json:"-"`
	RawScore          *float64      `bson:"raw_score,omitempty" json:"raw_score,omitempty"`
	WeightedScore     *float64      `bson:"weighted_score,omitempty" json:"weighted_score,omitempty"`
	CompletionReason  string        `bson:"completion_reason,omitempty" json:"completion_reason,omitempty"`
	CreatedAt         time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `bson:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the attempt has reached a final state. A
// terminal attempt accepts no further answers.
func (a *TestAttempt) IsTerminal() bool {
	switch a.Status {
	case AttemptStatusComplete, AttemptStatusExpired, AttemptStatusAborted:
		return true
	}
	return false
}

// TimeExpired reports whether now is past the attempt's time budget.
// ExpiresAt is fixed at start as start_time plus the duration.
func (a *TestAttempt) TimeExpired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// PoolDifficulty looks up the normalized difficulty recorded for a pool
// question. The second return is false when the question is not part of
// this attempt's pool.
func (a *TestAttempt) PoolDifficulty(questionID string) (string, bool) {
	for _, e := range a.Pool {
		if e.QuestionID == questionID {
			return e.Difficulty, true
		}
	}
	return "", false
}

// ReachedMaxQuestions reports whether the answered counter hit the cap.
// Attempts without a cap never trigger this limit.
func (a *TestAttempt) ReachedMaxQuestions() bool {
	return a.MaxQuestions != nil && a.QuestionsAnswered >= *a.MaxQuestions
}
