package db

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"

	"exam-service/internal/config"
)

var Redis *redis.Client

// InitRedis connects the package-level client. Redis only backs the pool
// snapshot cache, so a failed connection is a warning, not a fatal error.
func InitRedis(cfg config.RedisConfig) {
	Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := Redis.Ping(context.Background()).Err(); err != nil {
		log.Printf("Warning: Could not connect to Redis: %s", err)
	} else {
		log.Println("Successfully connected to Redis")
	}
}

func CloseRedis() {
	if Redis == nil {
		return
	}
	if err := Redis.Close(); err != nil {
		log.Printf("Error closing Redis client: %s", err)
	}
}
