package service

import (
	"context"

	"messenger/internal/domain"
	"messenger/internal/repository"
)

// UnreadAggregator fills UnreadCount and IsRead on messages for a viewer.
type UnreadAggregator interface {
	Annotate(ctx context.Context, messages []*domain.Message, viewerID int64) error
}

type unreadAggregator struct {
	membershipRepo repository.MembershipRepository
	receiptRepo    repository.ReceiptRepository
}

func NewUnreadAggregator(membershipRepo repository.MembershipRepository, receiptRepo repository.ReceiptRepository) UnreadAggregator {
	return &unreadAggregator{membershipRepo: membershipRepo, receiptRepo: receiptRepo}
}

func (a *unreadAggregator) Annotate(ctx context.Context, messages []*domain.Message, viewerID int64) error {
	if len(messages) == 0 {
		return nil
	}

	roomIDs := make([]int64, 0, 1)
	seenRooms := make(map[int64]struct{})
	messageIDs := make([]int64, 0, len(messages))
	for _, m := range messages {
		messageIDs = append(messageIDs, m.ID)
		if _, ok := seenRooms[m.RoomID]; !ok {
			seenRooms[m.RoomID] = struct{}{}
			roomIDs = append(roomIDs, m.RoomID)
		}
	}

	participants, err := a.membershipRepo.ParticipantsOf(ctx, roomIDs)
	if err != nil {
		return err
	}
	readers, err := a.receiptRepo.ReadersOf(ctx, messageIDs)
	if err != nil {
		return err
	}

	AnnotateUnread(messages, participants, readers, viewerID)
	return nil
}

// AnnotateUnread sets UnreadCount to the number of room participants other
// than the sender holding no receipt, and IsRead to whether viewerID sent or
// acknowledged the message.
func AnnotateUnread(messages []*domain.Message, participantsByRoom, readersByMessage map[int64][]int64, viewerID int64) {
	for _, m := range messages {
		readers := make(map[int64]struct{}, len(readersByMessage[m.ID]))
		for _, id := range readersByMessage[m.ID] {
			readers[id] = struct{}{}
		}

		unread := 0
		for _, id := range participantsByRoom[m.RoomID] {
			if id == m.SenderID {
				continue
			}
			if _, ok := readers[id]; !ok {
				unread++
			}
		}
		m.UnreadCount = unread

		_, read := readers[viewerID]
		m.IsRead = viewerID == m.SenderID || read
	}
}
