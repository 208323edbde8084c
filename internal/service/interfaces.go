package service

import (
	"context"
	"time"

	"exam-service/internal/models"
)

// AttemptStore persists test attempts. Not-found is reported as
// mongo.ErrNoDocuments so callers can translate it uniformly.
type AttemptStore interface {
	Create(ctx context.Context, attempt *models.TestAttempt) error
	FindByID(ctx context.Context, id string) (*models.TestAttempt, error)
	IncrementAnswered(ctx context.Context, id string) (*models.TestAttempt, error)
	Finalize(ctx context.Context, id string, status string, reason string, endTime time.Time, scores models.ScoreSummary) (bool, error)
	FindExpired(ctx context.Context, now time.Time, limit int64) ([]models.TestAttempt, error)
	FindByUser(ctx context.Context, userID string, limit int64) ([]models.TestAttempt, error)
}

// AnswerStore persists per-question answers for an attempt.
type AnswerStore interface {
	Create(ctx context.Context, answer *models.TestAnswer) error
	FindByAttempt(ctx context.Context, attemptID string) ([]models.TestAnswer, error)
}

// QuestionStore reads from the question bank.
type QuestionStore interface {
	CountEligible(ctx context.Context, section models.TemplateSection, now time.Time) (int64, error)
	ResolvePool(ctx context.Context, sections []models.TemplateSection, now time.Time) ([]models.Question, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Question, error)
}

// TemplateStore reads test templates.
type TemplateStore interface {
	FindByID(ctx context.Context, id string) (*models.TestTemplate, error)
}

// PoolStore caches the full question documents of an attempt's pool so
// answer submissions do not re-query the bank on every request.
type PoolStore interface {
	SavePool(ctx context.Context, attemptID string, questions []models.Question, ttl time.Duration) error
	GetPool(ctx context.Context, attemptID string) ([]models.Question, bool, error)
	DeletePool(ctx context.Context, attemptID string) error
}
