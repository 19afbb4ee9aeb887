package memory

import (
	"context"
	"time"

	"messenger/internal/domain"
	apperrors "messenger/pkg/errors"
)

type messageRepository struct {
	s *Store
}

func (r *messageRepository) Create(ctx context.Context, message *domain.Message) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Persistence("insert message", err)
	}

	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.members[message.RoomID]) == 0 {
		return apperrors.ErrRoomNotFound
	}

	createdAt := s.now().UTC().Truncate(time.Microsecond)
	room := s.byRoom[message.RoomID]
	if n := len(room); n > 0 && !createdAt.After(room[n-1].CreatedAt) {
		createdAt = room[n-1].CreatedAt.Add(time.Microsecond)
	}

	s.nextID++
	stored := &domain.Message{
		ID:          s.nextID,
		RoomID:      message.RoomID,
		SenderID:    message.SenderID,
		MessageType: message.MessageType,
		Content:     message.Content,
		CreatedAt:   createdAt,
	}
	s.messages[stored.ID] = stored
	s.byRoom[stored.RoomID] = append(room, stored)

	message.ID = stored.ID
	message.CreatedAt = stored.CreatedAt
	return nil
}

func (r *messageRepository) GetByID(_ context.Context, messageID int64) (*domain.Message, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[messageID]
	if !ok {
		return nil, apperrors.ErrMessageNotFound
	}
	return s.project(m), nil
}

func (r *messageRepository) ListByRoom(_ context.Context, roomID int64, page domain.Page) ([]*domain.Message, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	room := s.byRoom[roomID]
	ordered := make([]*domain.Message, 0, len(room))
	if page.Order == domain.SortDesc {
		// created_at descending, id ascending on ties
		for i := len(room) - 1; i >= 0; {
			j := i
			for j > 0 && room[j-1].CreatedAt.Equal(room[i].CreatedAt) {
				j--
			}
			for k := j; k <= i; k++ {
				ordered = append(ordered, room[k])
			}
			i = j - 1
		}
	} else {
		ordered = append(ordered, room...)
	}

	if page.Offset > 0 {
		if page.Offset >= len(ordered) {
			ordered = ordered[:0]
		} else {
			ordered = ordered[page.Offset:]
		}
	}
	if page.Limit > 0 && page.Limit < len(ordered) {
		ordered = ordered[:page.Limit]
	}

	out := make([]*domain.Message, 0, len(ordered))
	for _, m := range ordered {
		out = append(out, s.project(m))
	}
	return out, nil
}

func (r *messageRepository) Latest(_ context.Context, roomID int64) (*domain.Message, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	room := s.byRoom[roomID]
	if len(room) == 0 {
		return nil, apperrors.ErrMessageNotFound
	}
	return s.project(room[len(room)-1]), nil
}
