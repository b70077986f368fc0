package database

import (
	"context"
	"fmt"
	"time"

	"github.com/loomline/voicecore/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewRedis builds the shared Redis client used by the Session Store (C1),
// the Audio Stream Fabric (C2) and the job DependencyTracker. The asynq
// queue itself connects separately via config.QueueConfig.
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Pass,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}
