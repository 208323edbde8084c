package selection

import "exam-service/internal/models"

// Buckets holds an attempt pool grouped by normalized difficulty. Slice
// order inside each bucket follows the stable pool order (ascending
// question id), which the deterministic strategies walk.
type Buckets struct {
	Easy   []models.Question `json:"easy"`
	Medium []models.Question `json:"medium"`
	Hard   []models.Question `json:"hard"`
}

// Bucket returns the slice for a difficulty tag.
func (b *Buckets) Bucket(tag string) []models.Question {
	switch models.NormalizeDifficulty(tag) {
	case models.DifficultyMedium:
		return b.Medium
	case models.DifficultyHard:
		return b.Hard
	default:
		return b.Easy
	}
}

// Size is the total number of questions across all buckets.
func (b *Buckets) Size() int {
	return len(b.Easy) + len(b.Medium) + len(b.Hard)
}

// IsEmpty reports whether the pool holds no questions at all.
func (b *Buckets) IsEmpty() bool {
	return b.Size() == 0
}

// Counts returns the per-bucket sizes keyed by difficulty tag.
func (b *Buckets) Counts() map[string]int {
	return map[string]int{
		models.DifficultyEasy:   len(b.Easy),
		models.DifficultyMedium: len(b.Medium),
		models.DifficultyHard:   len(b.Hard),
	}
}

// Entries flattens the buckets back into pool order, pairing each
// question with its normalized (attempt-scoped) difficulty. This is the
// snapshot persisted on the attempt document.
func (b *Buckets) Entries() []models.PoolEntry {
	type tagged struct {
		id  string
		tag string
	}
	all := make([]tagged, 0, b.Size())
	for _, q := range b.Easy {
		all = append(all, tagged{q.ID, models.DifficultyEasy})
	}
	for _, q := range b.Medium {
		all = append(all, tagged{q.ID, models.DifficultyMedium})
	}
	for _, q := range b.Hard {
		all = append(all, tagged{q.ID, models.DifficultyHard})
	}

	entries := make([]models.PoolEntry, len(all))
	for i, t := range all {
		entries[i] = models.PoolEntry{QuestionID: t.id, Difficulty: t.tag}
	}
	sortEntries(entries)
	return entries
}
