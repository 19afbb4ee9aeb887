package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	apperrors "messenger/pkg/errors"
	"messenger/pkg/logger"
)

// RateLimitRepository counts events per key in fixed windows.
type RateLimitRepository interface {
	// Allow counts one event for key and reports whether the count is still
	// within limit for the current window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int64, error)
}

type rateLimitRepository struct {
	redis *redis.Client
	log   logger.Logger
}

func NewRateLimitRepository(redis *redis.Client, log logger.Logger) RateLimitRepository {
	return &rateLimitRepository{redis: redis, log: log}
}

func (r *rateLimitRepository) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int64, error) {
	pipe := r.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// NX keeps the first expiry so the window does not slide
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error("Failed to increment rate limit", "key", key, "error", err)
		return false, 0, apperrors.Persistence("rate limit", err)
	}

	count := incr.Val()
	return count <= int64(limit), count, nil
}
