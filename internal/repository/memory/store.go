// Package memory is an in-process storage backend with the same observable
// semantics as the Postgres repositories. It backs STORAGE_DRIVER=memory and
// the service, gateway and handler tests.
package memory

import (
	"sort"
	"sync"
	"time"

	"messenger/internal/domain"
	"messenger/internal/repository"
	"messenger/pkg/logger"
)

type Store struct {
	mu       sync.RWMutex
	nextID   int64
	now      func() time.Time
	users    map[int64]domain.User
	members  map[int64]map[int64]*domain.RoomMembership
	messages map[int64]*domain.Message
	byRoom   map[int64][]*domain.Message
	receipts map[int64]map[int64]time.Time
}

func NewStore() *Store {
	return &Store{
		now:      time.Now,
		users:    make(map[int64]domain.User),
		members:  make(map[int64]map[int64]*domain.RoomMembership),
		messages: make(map[int64]*domain.Message),
		byRoom:   make(map[int64][]*domain.Message),
		receipts: make(map[int64]map[int64]time.Time),
	}
}

// AddUser registers display metadata joined onto messages.
func (s *Store) AddUser(user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// AddMember makes userID a participant of roomID, creating the room if needed.
func (s *Store) AddMember(roomID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.members[roomID]
	if !ok {
		room = make(map[int64]*domain.RoomMembership)
		s.members[roomID] = room
	}
	if _, exists := room[userID]; !exists {
		room[userID] = &domain.RoomMembership{RoomID: roomID, UserID: userID, JoinedAt: s.now().UTC()}
	}
}

// NewRepositories wires every repository onto store, including an in-process
// rate limiter in place of Redis.
func NewRepositories(store *Store, log logger.Logger) *repository.Repositories {
	log.Info("Using in-memory storage")
	return &repository.Repositories{
		Message:    &messageRepository{s: store},
		Receipt:    &receiptRepository{s: store},
		Membership: &membershipRepository{s: store},
		RateLimit:  NewRateLimiter(),
	}
}

// project returns a copy of a stored message with the sender metadata joined.
// Callers hold s.mu.
func (s *Store) project(m *domain.Message) *domain.Message {
	out := *m
	if user, ok := s.users[m.SenderID]; ok {
		out.SenderUsername = user.Username
		out.SenderProfileImage = user.ProfileImage
	}
	return &out
}

func (s *Store) participants(roomID int64) []int64 {
	room := s.members[roomID]
	ids := make([]int64, 0, len(room))
	for id := range room {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
