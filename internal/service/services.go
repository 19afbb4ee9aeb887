package service

import (
	"messenger/internal/config"
	"messenger/internal/repository"
	"messenger/pkg/logger"
)

type Services struct {
	Auth       AuthService
	Message    MessageService
	Receipt    ReceiptService
	Visibility VisibilityService
	Unread     UnreadAggregator
	RateLimit  RateLimitService
}

func NewServices(repos *repository.Repositories, cfg *config.Config, log logger.Logger) *Services {
	unread := NewUnreadAggregator(repos.Membership, repos.Receipt)

	return &Services{
		Auth:       NewAuthService(cfg.JWT, log),
		Message:    NewMessageService(repos.Message, repos.Membership, unread, cfg.Message.MaxContentLength, log),
		Receipt:    NewReceiptService(repos.Message, repos.Receipt, repos.Membership, log),
		Visibility: NewVisibilityService(repos.Membership, log),
		Unread:     unread,
		RateLimit:  NewRateLimitService(repos.RateLimit, log),
	}
}
