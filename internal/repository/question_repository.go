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

// QuestionRepository reads the shared question bank. The engine never
// writes questions; authoring happens upstream.
type QuestionRepository struct {
	Col *mongo.Collection
}

func NewQuestionRepository(db *mongo.Database) *QuestionRepository {
	return &QuestionRepository{Col: db.Collection("questions")}
}

// sectionFilter matches active questions placed under the section whose
// validity window includes now. An unset window bound is open.
func sectionFilter(section models.TemplateSection, now time.Time) bson.M {
	filter := bson.M{
		"paper_id": section.PaperID,
		"status":   models.QuestionStatusActive,
		"$and": []bson.M{
			{"$or": []bson.M{
				{"valid_from": bson.M{"$exists": false}},
				{"valid_from": nil},
				{"valid_from": bson.M{"$lte": now}},
			}},
			{"$or": []bson.M{
				{"valid_until": bson.M{"$exists": false}},
				{"valid_until": nil},
				{"valid_until": bson.M{"$gte": now}},
			}},
		},
	}
	if section.SectionID != "" {
		filter["section_id"] = section.SectionID
	}
	if section.SubsectionID != "" {
		filter["subsection_id"] = section.SubsectionID
	}
	return filter
}

// CountEligible counts the questions a template section could draw from
// today. Start pre-flight uses this to fail fast before creating anything.
func (r *QuestionRepository) CountEligible(ctx context.Context, section models.TemplateSection, now time.Time) (int64, error) {
	count, err := r.Col.CountDocuments(ctx, sectionFilter(section, now))
	if err != nil {
		return 0, fmt.Errorf("failed to count eligible questions: %w", err)
	}
	return count, nil
}

// ResolvePool draws each section's configured share of eligible questions
// in stable id order and de-duplicates across overlapping sections.
func (r *QuestionRepository) ResolvePool(ctx context.Context, sections []models.TemplateSection, now time.Time) ([]models.Question, error) {
	seen := make(map[string]bool)
	var pool []models.Question

	for _, section := range sections {
		opts := options.Find().
			SetSort(bson.D{{Key: "_id", Value: 1}}).
			SetLimit(int64(section.QuestionCount))

		cur, err := r.Col.Find(ctx, sectionFilter(section, now), opts)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve pool for paper %s: %w", section.PaperID, err)
		}

		var questions []models.Question
		if err := cur.All(ctx, &questions); err != nil {
			return nil, fmt.Errorf("failed to decode pool questions: %w", err)
		}

		for _, q := range questions {
			if !seen[q.ID] {
				seen[q.ID] = true
				pool = append(pool, q)
			}
		}
	}
	return pool, nil
}

// FindByIDs hydrates pool questions from their snapshot ids.
func (r *QuestionRepository) FindByIDs(ctx context.Context, ids []string) ([]models.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cur, err := r.Col.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("failed to find questions by ids: %w", err)
	}
	var questions []models.Question
	if err := cur.All(ctx, &questions); err != nil {
		return nil, fmt.Errorf("failed to decode questions: %w", err)
	}
	return questions, nil
}

func (r *QuestionRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "paper_id", Value: 1},
				{Key: "section_id", Value: 1},
				{Key: "subsection_id", Value: 1},
			},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "valid_until", Value: 1}},
		},
	}

	_, err := r.Col.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create question indexes: %w", err)
	}
	return nil
}
