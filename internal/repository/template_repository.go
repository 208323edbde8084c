package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"exam-service/internal/models"
)

// TemplateRepository reads test templates authored upstream.
type TemplateRepository struct {
	Col *mongo.Collection
}

func NewTemplateRepository(db *mongo.Database) *TemplateRepository {
	return &TemplateRepository{Col: db.Collection("test_templates")}
}

func (r *TemplateRepository) FindByID(ctx context.Context, id string) (*models.TestTemplate, error) {
	var template models.TestTemplate
	err := r.Col.FindOne(ctx, bson.M{"_id": id}).Decode(&template)
	if err != nil {
		return nil, err
	}
	return &template, nil
}
