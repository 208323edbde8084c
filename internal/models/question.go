package models

import (
	"strings"
	"time"
)

const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

const (
	QuestionTypeSingleChoice = "single_choice"
	QuestionTypeTrueFalse    = "true_false"
)

const QuestionStatusActive = "active"

// difficultyRank orders the canonical tags from easiest to hardest.
var difficultyRank = map[string]int{
	DifficultyEasy:   0,
	DifficultyMedium: 1,
	DifficultyHard:   2,
}

// NormalizeDifficulty maps a stored tag onto the canonical set. Comparison
// is case-insensitive; unknown or missing tags read as easy.
func NormalizeDifficulty(tag string) string {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case DifficultyMedium:
		return DifficultyMedium
	case DifficultyHard:
		return DifficultyHard
	default:
		return DifficultyEasy
	}
}

// HarderDifficulty returns the next tag up, clamped at hard.
func HarderDifficulty(tag string) string {
	switch NormalizeDifficulty(tag) {
	case DifficultyEasy:
		return DifficultyMedium
	default:
		return DifficultyHard
	}
}

// EasierDifficulty returns the next tag down, clamped at easy.
func EasierDifficulty(tag string) string {
	switch NormalizeDifficulty(tag) {
	case DifficultyHard:
		return DifficultyMedium
	default:
		return DifficultyEasy
	}
}

// DifficultyRank returns the position of a tag in the easy-to-hard order.
func DifficultyRank(tag string) int {
	return difficultyRank[NormalizeDifficulty(tag)]
}

// Option identity is its zero-based position in the question's option
// array; OptionOrder mirrors that position in storage.
type Option struct {
	Text        string `bson:"text" json:"text"`
	OptionOrder int    `bson:"option_order" json:"option_order"`
}

type Question struct {
	ID            string     `bson:"_id,omitempty" json:"id"`
	Content       string     `bson:"content" json:"content"`
	Type          string     `bson:"type" json:"type"`
	Options       []Option   `bson:"options" json:"options"`
	CorrectOption int        `bson:"correct_option" json:"correct_option"`
	Difficulty    string     `bson:"difficulty" json:"difficulty"`
	PaperID       string     `bson:"paper_id" json:"paper_id"`
	SectionID     string     `bson:"section_id,omitempty" json:"section_id,omitempty"`
	SubsectionID  string     `bson:"subsection_id,omitempty" json:"subsection_id,omitempty"`
	Status        string     `bson:"status" json:"status"`
	ValidFrom     *time.Time `bson:"valid_from,omitempty" json:"valid_from,omitempty"`
	ValidUntil    *time.Time `bson:"valid_until,omitempty" json:"valid_until,omitempty"`
}

// EligibleOn reports whether the question may be served on the given date.
// An unset window bound is open on that side.
func (q *Question) EligibleOn(t time.Time) bool {
	if q.Status != QuestionStatusActive {
		return false
	}
	if q.ValidFrom != nil && t.Before(*q.ValidFrom) {
		return false
	}
	if q.ValidUntil != nil && t.After(*q.ValidUntil) {
		return false
	}
	return true
}

// ValidOption reports whether the ordinal addresses an existing option.
func (q *Question) ValidOption(ordinal int) bool {
	return ordinal >= 0 && ordinal < len(q.Options)
}
