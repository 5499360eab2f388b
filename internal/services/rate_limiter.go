package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/redis/go-redis/v9"
)

// RateLimiter admits or rejects an action identified by key
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) error
}

// RedisRateLimiter is a fixed-window counter shared by all instances through Redis
type RedisRateLimiter struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisRateLimiter(client *redis.Client, logger *slog.Logger) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		logger: logger,
	}
}

// Allow returns ErrRateLimitExceeded once key has been seen more than limit times in window.
// Redis errors fail open.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) error {
	key = "warden:rl:" + key

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Error("rate limiter unavailable", slog.Any("error", err))
		return nil
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, window).Err(); err != nil {
			l.logger.Error("failed to set rate limit window", slog.Any("error", err))
		}
	}

	if count > int64(limit) {
		return models.ErrRateLimitExceeded
	}
	return nil
}
