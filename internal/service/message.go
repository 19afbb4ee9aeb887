package service

import (
	"context"
	"strings"

	"messenger/internal/domain"
	"messenger/internal/repository"
	apperrors "messenger/pkg/errors"
	"messenger/pkg/logger"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// HistoryPage maps pull-path query parameters onto a store page. Without
// paging parameters the whole history is returned oldest first; with them
// the newest messages come first.
func HistoryPage(paged bool, limit, offset int) domain.Page {
	if !paged {
		return domain.Page{Order: domain.SortAsc}
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return domain.Page{Order: domain.SortDesc, Limit: limit, Offset: offset}
}

// MessageTypeField picks the message type from a request carrying "type"
// and the older "message_type" alias. Both may be set only if they agree.
func MessageTypeField(typ, alias string) (string, error) {
	switch {
	case strings.TrimSpace(typ) == "":
		return alias, nil
	case strings.TrimSpace(alias) == "":
		return typ, nil
	case domain.ParseMessageType(typ) != domain.ParseMessageType(alias):
		return "", apperrors.Validation("type %q conflicts with message_type %q", typ, alias)
	}
	return typ, nil
}

type MessageService interface {
	// Append validates and stores a message. The result carries no read-side
	// projections; re-fetch it through Get for the annotated form.
	Append(ctx context.Context, roomID, senderID int64, messageType, content string) (*domain.Message, error)
	FetchRange(ctx context.Context, roomID, viewerID int64, page domain.Page) ([]*domain.Message, error)
	Get(ctx context.Context, messageID, viewerID int64) (*domain.Message, error)
	Latest(ctx context.Context, roomID, viewerID int64) (*domain.Message, error)
}

type messageService struct {
	messageRepo    repository.MessageRepository
	membershipRepo repository.MembershipRepository
	unread         UnreadAggregator
	maxContent     int
	log            logger.Logger
}

func NewMessageService(
	messageRepo repository.MessageRepository,
	membershipRepo repository.MembershipRepository,
	unread UnreadAggregator,
	maxContent int,
	log logger.Logger,
) MessageService {
	return &messageService{
		messageRepo:    messageRepo,
		membershipRepo: membershipRepo,
		unread:         unread,
		maxContent:     maxContent,
		log:            log,
	}
}

func (s *messageService) Append(ctx context.Context, roomID, senderID int64, messageType, content string) (*domain.Message, error) {
	if roomID <= 0 {
		return nil, apperrors.Validation("room_id is required")
	}

	msgType := domain.ParseMessageType(messageType)
	if !msgType.Valid() {
		return nil, apperrors.Validation("unsupported message type %q", messageType)
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.Validation("content must not be empty")
	}
	if s.maxContent > 0 && len(content) > s.maxContent {
		return nil, apperrors.Validation("content exceeds %d bytes", s.maxContent)
	}

	participants, err := s.membershipRepo.ListParticipants(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if len(participants) == 0 {
		return nil, apperrors.ErrRoomNotFound
	}
	if !containsID(participants, senderID) {
		return nil, apperrors.ErrNotParticipant
	}

	message := &domain.Message{
		RoomID:      roomID,
		SenderID:    senderID,
		MessageType: msgType,
		Content:     content,
	}
	if err := s.messageRepo.Create(ctx, message); err != nil {
		return nil, err
	}

	s.log.Debug("Message appended", "message_id", message.ID, "room_id", roomID, "sender_id", senderID)
	return message, nil
}

func (s *messageService) FetchRange(ctx context.Context, roomID, viewerID int64, page domain.Page) ([]*domain.Message, error) {
	messages, err := s.messageRepo.ListByRoom(ctx, roomID, page)
	if err != nil {
		return nil, err
	}
	if err := s.unread.Annotate(ctx, messages, viewerID); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *messageService) Get(ctx context.Context, messageID, viewerID int64) (*domain.Message, error) {
	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.unread.Annotate(ctx, []*domain.Message{message}, viewerID); err != nil {
		return nil, err
	}
	return message, nil
}

func (s *messageService) Latest(ctx context.Context, roomID, viewerID int64) (*domain.Message, error) {
	message, err := s.messageRepo.Latest(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.unread.Annotate(ctx, []*domain.Message{message}, viewerID); err != nil {
		return nil, err
	}
	return message, nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
