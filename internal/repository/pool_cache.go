package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis_v9 "github.com/redis/go-redis/v9"

	"exam-service/internal/models"
)

// PoolCache keeps the hydrated question pool of a live attempt in Redis so
// answer submissions skip the question bank round trip. It is purely an
// optimization: a miss (or a nil client) falls back to Mongo.
type PoolCache struct {
	client *redis_v9.Client
}

func NewPoolCache(client *redis_v9.Client) *PoolCache {
	return &PoolCache{client: client}
}

func poolKey(attemptID string) string {
	return fmt.Sprintf("exam:attempt:%s:pool", attemptID)
}

// SavePool stores an attempt's pool snapshot for its lifetime. The TTL is
// the attempt duration plus slack so the sweep can still use a warm cache
// shortly after expiry.
func (c *PoolCache) SavePool(ctx context.Context, attemptID string, questions []models.Question, ttl time.Duration) error {
	if c.client == nil {
		return nil
	}
	val, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("error encoding pool for cache: %w", err)
	}
	if err := c.client.Set(ctx, poolKey(attemptID), val, ttl).Err(); err != nil {
		return fmt.Errorf("error saving pool to cache: %w", err)
	}
	return nil
}

// GetPool loads a cached pool. A cache miss returns ok == false with no
// error.
func (c *PoolCache) GetPool(ctx context.Context, attemptID string) ([]models.Question, bool, error) {
	if c.client == nil {
		return nil, false, nil
	}
	val, err := c.client.Get(ctx, poolKey(attemptID)).Bytes()
	if err != nil {
		if errors.Is(err, redis_v9.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("error reading pool from cache: %w", err)
	}

	var questions []models.Question
	if err := json.Unmarshal(val, &questions); err != nil {
		return nil, false, fmt.Errorf("error decoding cached pool: %w", err)
	}
	return questions, true, nil
}

// DeletePool drops the snapshot once the attempt is terminal.
func (c *PoolCache) DeletePool(ctx context.Context, attemptID string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, poolKey(attemptID)).Err()
}
