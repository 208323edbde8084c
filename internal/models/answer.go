package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// TestAnswer is one recorded answer within an attempt. SelectedOption nil
// means the candidate explicitly skipped the question; a row exists only
// once a choice (or skip) was submitted. Difficulty snapshots the
// attempt-scoped normalized tag at answer time so aggregation stays stable
// if the question changes later.
type TestAnswer struct {
	ID               bson.ObjectID `bson:"_id,omitempty" json:"id"`
	AttemptID        bson.ObjectID `bson:"attempt_id" json:"attempt_id"`
	QuestionID       string        `bson:"question_id" json:"question_id"`
	SelectedOption   *int          `bson:"selected_option" json:"selected_option"`
	IsCorrect        bool          `bson:"is_correct" json:"is_correct"`
	Difficulty       string        `bson:"difficulty" json:"difficulty"`
	Sequence         int           `bson:"sequence" json:"sequence"`
	TimeTakenSeconds int           `bson:"time_taken_seconds" json:"time_taken_seconds"`
	AnsweredAt       time.Time     `bson:"answered_at" json:"answered_at"`
}
