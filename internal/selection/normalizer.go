package selection

import (
	"sort"

	"exam-service/internal/models"
)

// roundRobinOrder is the reassignment cycle applied to sparse pools.
var roundRobinOrder = []string{
	models.DifficultyEasy,
	models.DifficultyMedium,
	models.DifficultyHard,
}

// Normalize buckets an attempt pool by difficulty tag. Tags compare
// case-insensitively and unknown or missing tags fall into easy. When any
// bucket ends up below minPerBucket, the natural grouping is discarded and
// every question is reassigned round-robin over easy, medium, hard by its
// stable pool position, so each tier keeps a usable share even on sparse
// or uniform pools. The reassignment lives only in the attempt's snapshot
// and never touches stored questions.
//
// An empty pool yields three empty buckets; callers must refuse to start
// an attempt from it.
func Normalize(pool []models.Question, minPerBucket int) Buckets {
	if minPerBucket < 1 {
		minPerBucket = 1
	}

	sorted := SortPool(pool)

	var buckets Buckets
	for _, q := range sorted {
		switch models.NormalizeDifficulty(q.Difficulty) {
		case models.DifficultyMedium:
			buckets.Medium = append(buckets.Medium, q)
		case models.DifficultyHard:
			buckets.Hard = append(buckets.Hard, q)
		default:
			buckets.Easy = append(buckets.Easy, q)
		}
	}

	if buckets.IsEmpty() {
		return buckets
	}
	if len(buckets.Easy) >= minPerBucket &&
		len(buckets.Medium) >= minPerBucket &&
		len(buckets.Hard) >= minPerBucket {
		return buckets
	}

	redistributed := Buckets{}
	for i, q := range sorted {
		switch roundRobinOrder[i%len(roundRobinOrder)] {
		case models.DifficultyMedium:
			redistributed.Medium = append(redistributed.Medium, q)
		case models.DifficultyHard:
			redistributed.Hard = append(redistributed.Hard, q)
		default:
			redistributed.Easy = append(redistributed.Easy, q)
		}
	}
	return redistributed
}

// SortPool copies the pool into its stable order: ascending question id.
// Every deterministic walk over the pool derives from this order.
func SortPool(pool []models.Question) []models.Question {
	sorted := make([]models.Question, len(pool))
	copy(sorted, pool)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// FromEntries rebuilds buckets from an attempt's persisted pool snapshot.
// The snapshot's recorded difficulty wins over whatever the question
// currently carries, keeping selection stable for the attempt's lifetime.
// Questions missing from the lookup are skipped.
func FromEntries(entries []models.PoolEntry, questions map[string]models.Question) Buckets {
	var buckets Buckets
	for _, e := range entries {
		q, ok := questions[e.QuestionID]
		if !ok {
			continue
		}
		switch models.NormalizeDifficulty(e.Difficulty) {
		case models.DifficultyMedium:
			buckets.Medium = append(buckets.Medium, q)
		case models.DifficultyHard:
			buckets.Hard = append(buckets.Hard, q)
		default:
			buckets.Easy = append(buckets.Easy, q)
		}
	}
	return buckets
}

func sortEntries(entries []models.PoolEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].QuestionID < entries[j].QuestionID
	})
}
