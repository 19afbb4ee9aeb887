package service

import (
	"context"
	"fmt"
	"time"

	"messenger/internal/repository"
	"messenger/pkg/logger"
)

type RateLimitService interface {
	// Allow counts one action by scope/subject and reports whether it is
	// within limit per window. Store failures fail open.
	Allow(ctx context.Context, scope string, subject int64, limit int, window time.Duration) bool
}

type rateLimitService struct {
	rateLimitRepo repository.RateLimitRepository
	log           logger.Logger
}

func NewRateLimitService(rateLimitRepo repository.RateLimitRepository, log logger.Logger) RateLimitService {
	return &rateLimitService{
		rateLimitRepo: rateLimitRepo,
		log:           log,
	}
}

func (s *rateLimitService) Allow(ctx context.Context, scope string, subject int64, limit int, window time.Duration) bool {
	if s.rateLimitRepo == nil || limit <= 0 {
		return true
	}

	key := fmt.Sprintf("ratelimit:%s:%d", scope, subject)
	allowed, count, err := s.rateLimitRepo.Allow(ctx, key, limit, window)
	if err != nil {
		s.log.Warn("Rate limiter unavailable, allowing request", "key", key, "error", err)
		return true
	}
	if !allowed {
		s.log.Info("Rate limit exceeded", "key", key, "count", count, "limit", limit)
	}
	return allowed
}
