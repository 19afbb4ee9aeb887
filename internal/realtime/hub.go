package realtime

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
)

// Hub tracks live connections and the rooms each one joined. A user may hold
// several connections at once; room channels are per connection.
type Hub struct {
	mu          sync.RWMutex
	clients     map[string]*Client
	userClients map[int64]map[string]*Client
	rooms       map[int64]map[string]*Client
	clientRooms map[string]map[int64]struct{}
	count       *atomic.Int64
}

func NewHub() *Hub {
	return &Hub{
		clients:     make(map[string]*Client),
		userClients: make(map[int64]map[string]*Client),
		rooms:       make(map[int64]map[string]*Client),
		clientRooms: make(map[string]map[int64]struct{}),
		count:       atomic.NewInt64(0),
	}
}

// Attach registers c and starts its write loop.
func (h *Hub) Attach(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	sessions := h.userClients[c.UserID]
	if sessions == nil {
		sessions = make(map[string]*Client)
		h.userClients[c.UserID] = sessions
	}
	sessions[c.ID] = c
	h.clientRooms[c.ID] = make(map[int64]struct{})
	h.mu.Unlock()

	h.count.Inc()
	c.Start()
}

// Detach unregisters c and returns the rooms it was still joined to.
func (h *Hub) Detach(c *Client) []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.ID]; !ok {
		return nil
	}
	delete(h.clients, c.ID)
	h.count.Dec()

	if sessions := h.userClients[c.UserID]; sessions != nil {
		delete(sessions, c.ID)
		if len(sessions) == 0 {
			delete(h.userClients, c.UserID)
		}
	}

	rooms := make([]int64, 0, len(h.clientRooms[c.ID]))
	for roomID := range h.clientRooms[c.ID] {
		rooms = append(rooms, roomID)
		h.leaveLocked(roomID, c.ID)
	}
	delete(h.clientRooms, c.ID)
	return rooms
}

// Join subscribes c to roomID. It reports false for unknown connections.
func (h *Hub) Join(roomID int64, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.ID]; !ok {
		return false
	}
	room := h.rooms[roomID]
	if room == nil {
		room = make(map[string]*Client)
		h.rooms[roomID] = room
	}
	room[c.ID] = c
	h.clientRooms[c.ID][roomID] = struct{}{}
	return true
}

// Leave unsubscribes c from roomID and reports whether it was joined.
func (h *Hub) Leave(roomID int64, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(roomID, c.ID)
}

func (h *Hub) InRoom(roomID int64, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[roomID][c.ID]
	return ok
}

func (h *Hub) leaveLocked(roomID int64, clientID string) bool {
	room := h.rooms[roomID]
	if _, ok := room[clientID]; !ok {
		return false
	}
	delete(room, clientID)
	if len(room) == 0 {
		delete(h.rooms, roomID)
	}
	if joined := h.clientRooms[clientID]; joined != nil {
		delete(joined, roomID)
	}
	return true
}

// Broadcast queues payload to every connection joined to roomID except the
// one with excludeClientID, and returns how many accepted it.
func (h *Hub) Broadcast(roomID int64, payload []byte, excludeClientID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for id, c := range h.rooms[roomID] {
		if id == excludeClientID {
			continue
		}
		if c.Send(payload) == nil {
			delivered++
		}
	}
	return delivered
}

// BroadcastAll queues payload to every live connection.
func (h *Hub) BroadcastAll(payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, c := range h.clients {
		if c.Send(payload) == nil {
			delivered++
		}
	}
	return delivered
}

// NotifyUser queues payload to every connection of userID.
func (h *Hub) NotifyUser(userID int64, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, c := range h.userClients[userID] {
		if c.Send(payload) == nil {
			delivered++
		}
	}
	return delivered
}

// Count is the number of attached connections.
func (h *Hub) Count() int {
	return int(h.count.Load())
}

// Close disconnects every connection and clears all state.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.userClients = make(map[int64]map[string]*Client)
	h.rooms = make(map[int64]map[string]*Client)
	h.clientRooms = make(map[string]map[int64]struct{})
	h.count.Store(0)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close(websocket.CloseGoingAway, "server shutdown")
	}
}
