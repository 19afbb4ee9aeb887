package service

import (
	"context"
	"errors"
	"strings"

	"messenger/internal/config"
	"messenger/internal/domain"
	apperrors "messenger/pkg/errors"
	"messenger/pkg/jwt"
	"messenger/pkg/logger"
)

// AuthService verifies bearer credentials issued by the external auth
// service. The decoded identity is trusted without further lookups.
type AuthService interface {
	ValidateToken(ctx context.Context, tokenString string) (*domain.Identity, error)
}

type authService struct {
	jwtCfg config.JWTConfig
	log    logger.Logger
}

func NewAuthService(jwtCfg config.JWTConfig, log logger.Logger) AuthService {
	return &authService{jwtCfg: jwtCfg, log: log}
}

func (s *authService) ValidateToken(_ context.Context, tokenString string) (*domain.Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, apperrors.ErrUnauthorized
	}

	claims, err := jwt.ValidateToken(tokenString, s.jwtCfg.Secret, s.jwtCfg.Issuer)
	if err != nil {
		if errors.Is(err, jwt.ErrExpiredToken) {
			return nil, apperrors.ErrTokenExpired
		}
		s.log.Debug("Rejected token", "error", err)
		return nil, apperrors.ErrInvalidToken
	}

	return &domain.Identity{UserID: claims.UserID, Username: claims.Username}, nil
}
