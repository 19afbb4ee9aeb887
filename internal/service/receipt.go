package service

import (
	"context"
	"errors"

	"messenger/internal/domain"
	"messenger/internal/repository"
	apperrors "messenger/pkg/errors"
	"messenger/pkg/logger"
)

type ReceiptService interface {
	// MarkRead records one receipt. Repeats, concurrent duplicates and the
	// sender reading their own message all report Created=false. A non-zero
	// roomID must match the message's room. Readers outside the room get
	// ErrMessageNotFound.
	MarkRead(ctx context.Context, messageID, userID, roomID int64) (*domain.ReadResult, error)
	MarkAllRead(ctx context.Context, roomID, userID int64) (int64, error)
	UnreadCount(ctx context.Context, roomID, userID int64) (int, error)
}

type receiptService struct {
	messageRepo    repository.MessageRepository
	receiptRepo    repository.ReceiptRepository
	membershipRepo repository.MembershipRepository
	log            logger.Logger
}

func NewReceiptService(
	messageRepo repository.MessageRepository,
	receiptRepo repository.ReceiptRepository,
	membershipRepo repository.MembershipRepository,
	log logger.Logger,
) ReceiptService {
	return &receiptService{
		messageRepo:    messageRepo,
		receiptRepo:    receiptRepo,
		membershipRepo: membershipRepo,
		log:            log,
	}
}

func (s *receiptService) MarkRead(ctx context.Context, messageID, userID, roomID int64) (*domain.ReadResult, error) {
	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.membershipRepo.Get(ctx, message.RoomID, userID); err != nil {
		if errors.Is(err, apperrors.ErrMembershipNotFound) {
			return nil, apperrors.ErrMessageNotFound
		}
		return nil, err
	}
	if roomID != 0 && message.RoomID != roomID {
		return nil, apperrors.Validation("message %d does not belong to room %d", messageID, roomID)
	}

	result := &domain.ReadResult{Message: message}
	if message.SenderID == userID {
		return result, nil
	}

	created, err := s.receiptRepo.Insert(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	result.Created = created
	return result, nil
}

func (s *receiptService) MarkAllRead(ctx context.Context, roomID, userID int64) (int64, error) {
	affected, err := s.receiptRepo.InsertAllInRoom(ctx, roomID, userID)
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		s.log.Debug("Room marked read", "room_id", roomID, "user_id", userID, "affected", affected)
	}
	return affected, nil
}

func (s *receiptService) UnreadCount(ctx context.Context, roomID, userID int64) (int, error) {
	return s.receiptRepo.CountUnread(ctx, roomID, userID)
}
