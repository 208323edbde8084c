package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"exam-service/internal/models"
)

type AttemptRepository struct {
	Col *mongo.Collection
}

func NewAttemptRepository(db *mongo.Database) *AttemptRepository {
	return &AttemptRepository{Col: db.Collection("test_attempts")}
}

func (r *AttemptRepository) Create(ctx context.Context, attempt *models.TestAttempt) error {
	if attempt.ID.IsZero() {
		attempt.ID = bson.NewObjectID()
	}
	now := time.Now()
	attempt.CreatedAt = now
	attempt.UpdatedAt = now

	if _, err := r.Col.InsertOne(ctx, attempt); err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

func (r *AttemptRepository) FindByID(ctx context.Context, id string) (*models.TestAttempt, error) {
	objID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		// malformed ids read as absent attempts
		return nil, mongo.ErrNoDocuments
	}
	var attempt models.TestAttempt
	if err := r.Col.FindOne(ctx, bson.M{"_id": objID}).Decode(&attempt); err != nil {
		return nil, err
	}
	return &attempt, nil
}

// IncrementAnswered bumps the answered counter on a live attempt and
// returns the post-increment document. mongo.ErrNoDocuments means the
// attempt went terminal (or vanished) since it was loaded.
func (r *AttemptRepository) IncrementAnswered(ctx context.Context, id string) (*models.TestAttempt, error) {
	objID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, mongo.ErrNoDocuments
	}

	filter := bson.M{"_id": objID, "status": models.AttemptStatusInProgress}
	update := bson.M{
		"$inc": bson.M{"questions_answered": 1},
		"$set": bson.M{"updated_at": time.Now()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var attempt models.TestAttempt
	if err := r.Col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&attempt); err != nil {
		return nil, err
	}
	return &attempt, nil
}

// Finalize performs the terminal transition as a single conditional
// update. Only an in_progress attempt matches, so exactly one caller wins
// the race; everyone else observes won == false and must reload the
// stored outcome instead of emitting anything.
func (r *AttemptRepository) Finalize(ctx context.Context, id, status, reason string, endTime time.Time, scores models.ScoreSummary) (bool, error) {
	objID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return false, mongo.ErrNoDocuments
	}

	filter := bson.M{"_id": objID, "status": models.AttemptStatusInProgress}
	update := bson.M{"$set": bson.M{
		"status":             status,
		"completion_reason":  reason,
		"end_time":           endTime,
		"raw_score":          scores.Raw,
		"weighted_score":     scores.Weighted,
		"questions_answered": scores.Answered,
		"updated_at":         endTime,
	}}

	res, err := r.Col.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to finalize attempt: %w", err)
	}
	return res.MatchedCount == 1, nil
}

// FindExpired lists in_progress attempts whose time budget ran out, oldest
// deadline first. The sweeper feeds these through the normal finish path.
func (r *AttemptRepository) FindExpired(ctx context.Context, now time.Time, limit int64) ([]models.TestAttempt, error) {
	filter := bson.M{
		"status":     models.AttemptStatusInProgress,
		"expires_at": bson.M{"$lt": now},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "expires_at", Value: 1}}).
		SetLimit(limit)

	cur, err := r.Col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired attempts: %w", err)
	}
	var attempts []models.TestAttempt
	if err := cur.All(ctx, &attempts); err != nil {
		return nil, fmt.Errorf("failed to decode expired attempts: %w", err)
	}
	return attempts, nil
}

// FindByUser lists a candidate's attempts, newest first.
func (r *AttemptRepository) FindByUser(ctx context.Context, userID string, limit int64) ([]models.TestAttempt, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	cur, err := r.Col.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find attempts for user: %w", err)
	}
	var attempts []models.TestAttempt
	if err := cur.All(ctx, &attempts); err != nil {
		return nil, fmt.Errorf("failed to decode attempts: %w", err)
	}
	return attempts, nil
}

func (r *AttemptRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "status", Value: 1},
			},
		},
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "expires_at", Value: 1},
			},
		},
		{
			Keys: bson.D{{Key: "template_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "created_at", Value: -1}},
		},
	}

	_, err := r.Col.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create attempt indexes: %w", err)
	}
	return nil
}
