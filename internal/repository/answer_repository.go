package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"exam-service/internal/apierr"
	"exam-service/internal/models"
)

type AnswerRepository struct {
	Col *mongo.Collection
}

func NewAnswerRepository(db *mongo.Database) *AnswerRepository {
	return &AnswerRepository{Col: db.Collection("test_answers")}
}

// Create inserts one answer row. The unique (attempt_id, question_id)
// index backstops concurrent double-submissions; a duplicate key comes
// back as the DuplicateAnswer taxonomy error.
func (r *AnswerRepository) Create(ctx context.Context, answer *models.TestAnswer) error {
	if answer.ID.IsZero() {
		answer.ID = bson.NewObjectID()
	}
	if _, err := r.Col.InsertOne(ctx, answer); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apierr.ErrDuplicateAnswer
		}
		return fmt.Errorf("failed to insert answer: %w", err)
	}
	return nil
}

// FindByAttempt returns an attempt's answers in submission order.
func (r *AnswerRepository) FindByAttempt(ctx context.Context, attemptID string) ([]models.TestAnswer, error) {
	objID, err := bson.ObjectIDFromHex(attemptID)
	if err != nil {
		return nil, mongo.ErrNoDocuments
	}
	opts := options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}})

	cur, err := r.Col.Find(ctx, bson.M{"attempt_id": objID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find answers for attempt: %w", err)
	}
	var answers []models.TestAnswer
	if err := cur.All(ctx, &answers); err != nil {
		return nil, fmt.Errorf("failed to decode answers: %w", err)
	}
	return answers, nil
}

func (r *AnswerRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			// one answer per question per attempt
			Keys: bson.D{
				{Key: "attempt_id", Value: 1},
				{Key: "question_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "attempt_id", Value: 1},
				{Key: "sequence", Value: 1},
			},
		},
	}

	_, err := r.Col.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create answer indexes: %w", err)
	}
	return nil
}
