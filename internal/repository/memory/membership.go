package memory

import (
	"context"

	"messenger/internal/domain"
	apperrors "messenger/pkg/errors"
)

type membershipRepository struct {
	s *Store
}

func (r *membershipRepository) ListParticipants(_ context.Context, roomID int64) ([]int64, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.participants(roomID), nil
}

func (r *membershipRepository) ParticipantsOf(_ context.Context, roomIDs []int64) (map[int64][]int64, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64][]int64, len(roomIDs))
	for _, id := range roomIDs {
		if ids := s.participants(id); len(ids) > 0 {
			out[id] = ids
		}
	}
	return out, nil
}

func (r *membershipRepository) Get(_ context.Context, roomID, userID int64) (*domain.RoomMembership, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[roomID][userID]
	if !ok {
		return nil, apperrors.ErrMembershipNotFound
	}
	out := *m
	return &out, nil
}

func (r *membershipRepository) SetHidden(_ context.Context, roomID, userID int64, hidden bool) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[roomID][userID]
	if !ok {
		return apperrors.ErrMembershipNotFound
	}
	m.Hidden = hidden
	return nil
}

func (r *membershipRepository) UnhideAllExcept(_ context.Context, roomID, exceptUserID int64) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed int64
	for userID, m := range s.members[roomID] {
		if userID != exceptUserID && m.Hidden {
			m.Hidden = false
			changed++
		}
	}
	return changed, nil
}
