package domain

import "time"

// RoomMembership is a participant row plus the per-user visibility flag.
type RoomMembership struct {
	RoomID   int64     `json:"room_id"`
	UserID   int64     `json:"user_id"`
	Hidden   bool      `json:"hidden"`
	JoinedAt time.Time `json:"joined_at"`
}
