package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"messenger/pkg/logger"
)

type Repositories struct {
	Message    MessageRepository
	Receipt    ReceiptRepository
	Membership MembershipRepository
	RateLimit  RateLimitRepository
}

// NewRepositories builds the Postgres-backed repositories. A nil redis client
// leaves RateLimit nil; callers fall back to an in-process limiter.
func NewRepositories(db *pgxpool.Pool, redis *redis.Client, log logger.Logger) *Repositories {
	repos := &Repositories{
		Message:    NewMessageRepository(db, log),
		Receipt:    NewReceiptRepository(db, log),
		Membership: NewMembershipRepository(db, log),
	}

	if redis != nil {
		repos.RateLimit = NewRateLimitRepository(redis, log)
		log.Info("Redis rate limit repository initialized")
	} else {
		log.Warn("Redis not configured, rate limit repository left unset")
	}

	return repos
}
