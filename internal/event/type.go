package event

import (
	"time"

	"exam-service/internal/models"
)

const (
	EventTypeAttemptStarted   = "exam.attempt.started"
	EventTypeAttemptFinalized = "exam.attempt.finalized"
)

// AnswerRecord is the per-question slice of the finalization payload.
// Downstream analytics consume these rows as-is; the engine does no
// aggregation beyond the final scores.
type AnswerRecord struct {
	QuestionID       string `json:"questionId"`
	SelectedOption   *int   `json:"selectedOption"`
	IsCorrect        bool   `json:"isCorrect"`
	Difficulty       string `json:"difficulty"`
	Sequence         int    `json:"sequence"`
	TimeTakenSeconds int    `json:"timeTakenSeconds"`
}

type AttemptStartedEvent struct {
	EventType       string `json:"eventType"`
	AttemptID       string `json:"attemptId"`
	UserID          string `json:"userId"`
	TemplateID      string `json:"templateId"`
	Adaptive        bool   `json:"adaptive"`
	Strategy        string `json:"strategy,omitempty"`
	MaxQuestions    *int   `json:"maxQuestions,omitempty"`
	DurationMinutes int    `json:"durationMinutes"`
	PoolSize        int    `json:"poolSize"`
	Timestamp       int64  `json:"timestamp"`
}

type AttemptFinalizedEvent struct {
	EventType         string         `json:"eventType"`
	AttemptID         string         `json:"attemptId"`
	UserID            string         `json:"userId"`
	TemplateID        string         `json:"templateId"`
	Status            string         `json:"status"`
	CompletionReason  string         `json:"completionReason"`
	RawScore          float64        `json:"rawScore"`
	WeightedScore     float64        `json:"weightedScore"`
	QuestionsAnswered int            `json:"questionsAnswered"`
	QuestionsCorrect  int            `json:"questionsCorrect"`
	Answers           []AnswerRecord `json:"answers"`
	FinishedAt        int64          `json:"finishedAt"`
	Timestamp         int64          `json:"timestamp"`
}

// CreateAttemptStartedEvent builds the lifecycle event emitted when an
// attempt opens.
func CreateAttemptStartedEvent(attempt *models.TestAttempt) *AttemptStartedEvent {
	return &AttemptStartedEvent{
		EventType:       EventTypeAttemptStarted,
		AttemptID:       attempt.ID.Hex(),
		UserID:          attempt.UserID,
		TemplateID:      attempt.TemplateID,
		Adaptive:        attempt.Adaptive,
		Strategy:        attempt.Strategy,
		MaxQuestions:    attempt.MaxQuestions,
		DurationMinutes: attempt.DurationMinutes,
		PoolSize:        len(attempt.Pool),
		Timestamp:       time.Now().Unix(),
	}
}

// CreateAttemptFinalizedEvent builds the finalization event with the
// final scores and the raw per-question records.
func CreateAttemptFinalizedEvent(attempt *models.TestAttempt, scores models.ScoreSummary, answers []models.TestAnswer) *AttemptFinalizedEvent {
	records := make([]AnswerRecord, len(answers))
	for i, ans := range answers {
		records[i] = AnswerRecord{
			QuestionID:       ans.QuestionID,
			SelectedOption:   ans.SelectedOption,
			IsCorrect:        ans.IsCorrect,
			Difficulty:       ans.Difficulty,
			Sequence:         ans.Sequence,
			TimeTakenSeconds: ans.TimeTakenSeconds,
		}
	}

	finishedAt := time.Now()
	if attempt.EndTime != nil {
		finishedAt = *attempt.EndTime
	}

	return &AttemptFinalizedEvent{
		EventType:         EventTypeAttemptFinalized,
		AttemptID:         attempt.ID.Hex(),
		UserID:            attempt.UserID,
		TemplateID:        attempt.TemplateID,
		Status:            attempt.Status,
		CompletionReason:  attempt.CompletionReason,
		RawScore:          scores.Raw,
		WeightedScore:     scores.Weighted,
		QuestionsAnswered: scores.Answered,
		QuestionsCorrect:  scores.Correct,
		Answers:           records,
		FinishedAt:        finishedAt.Unix(),
		Timestamp:         time.Now().Unix(),
	}
}
