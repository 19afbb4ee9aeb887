package memory

import (
	"context"
	"time"

	apperrors "messenger/pkg/errors"
)

type receiptRepository struct {
	s *Store
}

func (r *receiptRepository) Insert(ctx context.Context, messageID, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Persistence("insert read receipt", err)
	}

	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok || m.SenderID == userID {
		return false, nil
	}
	return s.insertReceipt(messageID, userID), nil
}

func (r *receiptRepository) InsertAllInRoom(ctx context.Context, roomID, userID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperrors.Persistence("mark room read", err)
	}

	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var created int64
	for _, m := range s.byRoom[roomID] {
		if m.SenderID == userID {
			continue
		}
		if s.insertReceipt(m.ID, userID) {
			created++
		}
	}
	return created, nil
}

// insertReceipt is the ON CONFLICT DO NOTHING equivalent. Callers hold s.mu.
func (s *Store) insertReceipt(messageID, userID int64) bool {
	readers, ok := s.receipts[messageID]
	if !ok {
		readers = make(map[int64]time.Time)
		s.receipts[messageID] = readers
	}
	if _, exists := readers[userID]; exists {
		return false
	}
	readers[userID] = s.now().UTC()
	return true
}

func (r *receiptRepository) CountUnread(_ context.Context, roomID, userID int64) (int, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, m := range s.byRoom[roomID] {
		if m.SenderID == userID {
			continue
		}
		if _, read := s.receipts[m.ID][userID]; !read {
			count++
		}
	}
	return count, nil
}

func (r *receiptRepository) ReadersOf(_ context.Context, messageIDs []int64) (map[int64][]int64, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64][]int64, len(messageIDs))
	for _, id := range messageIDs {
		for userID := range s.receipts[id] {
			out[id] = append(out[id], userID)
		}
	}
	return out, nil
}
