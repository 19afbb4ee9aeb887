package service

import (
	"context"
	"errors"

	"messenger/internal/domain"
	"messenger/internal/repository"
	apperrors "messenger/pkg/errors"
	"messenger/pkg/logger"
)

// VisibilityService owns the per-user hidden flag of room memberships.
// Nothing in the live path ever sets it; Hide is only reachable through
// the room endpoints.
type VisibilityService interface {
	Show(ctx context.Context, roomID, userID int64) error
	Hide(ctx context.Context, roomID, userID int64) error
	UnhideForAll(ctx context.Context, roomID, exceptUserID int64) error
	Membership(ctx context.Context, roomID, userID int64) (*domain.RoomMembership, error)
	// RequireParticipant returns ErrNotParticipant unless userID belongs to roomID.
	RequireParticipant(ctx context.Context, roomID, userID int64) error
	Participants(ctx context.Context, roomID int64) ([]int64, error)
}

type visibilityService struct {
	membershipRepo repository.MembershipRepository
	log            logger.Logger
}

func NewVisibilityService(membershipRepo repository.MembershipRepository, log logger.Logger) VisibilityService {
	return &visibilityService{membershipRepo: membershipRepo, log: log}
}

func (s *visibilityService) Show(ctx context.Context, roomID, userID int64) error {
	return s.setHidden(ctx, roomID, userID, false)
}

func (s *visibilityService) Hide(ctx context.Context, roomID, userID int64) error {
	return s.setHidden(ctx, roomID, userID, true)
}

func (s *visibilityService) setHidden(ctx context.Context, roomID, userID int64, hidden bool) error {
	err := s.membershipRepo.SetHidden(ctx, roomID, userID, hidden)
	if errors.Is(err, apperrors.ErrMembershipNotFound) {
		return apperrors.ErrNotParticipant
	}
	return err
}

func (s *visibilityService) UnhideForAll(ctx context.Context, roomID, exceptUserID int64) error {
	changed, err := s.membershipRepo.UnhideAllExcept(ctx, roomID, exceptUserID)
	if err != nil {
		return err
	}
	if changed > 0 {
		s.log.Debug("Room unhidden for members", "room_id", roomID, "count", changed)
	}
	return nil
}

func (s *visibilityService) Membership(ctx context.Context, roomID, userID int64) (*domain.RoomMembership, error) {
	return s.membershipRepo.Get(ctx, roomID, userID)
}

func (s *visibilityService) RequireParticipant(ctx context.Context, roomID, userID int64) error {
	_, err := s.membershipRepo.Get(ctx, roomID, userID)
	if errors.Is(err, apperrors.ErrMembershipNotFound) {
		return apperrors.ErrNotParticipant
	}
	return err
}

func (s *visibilityService) Participants(ctx context.Context, roomID int64) ([]int64, error) {
	return s.membershipRepo.ListParticipants(ctx, roomID)
}
