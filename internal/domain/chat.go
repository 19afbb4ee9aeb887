package domain

import (
	"strings"
	"time"
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}

// ParseMessageType normalizes client input. An empty value means text.
func ParseMessageType(s string) MessageType {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return MessageTypeText
	}
	return MessageType(s)
}

// Message is immutable once stored. SenderUsername, SenderProfileImage,
// UnreadCount and IsRead are read-side projections filled by the store join
// and the unread aggregator.
type Message struct {
	ID                 int64       `json:"id"`
	RoomID             int64       `json:"room_id"`
	SenderID           int64       `json:"sender_id"`
	SenderUsername     string      `json:"sender_username"`
	SenderProfileImage *string     `json:"sender_profile_image"`
	MessageType        MessageType `json:"message_type"`
	Content            string      `json:"content"`
	CreatedAt          time.Time   `json:"created_at"`
	UnreadCount        int         `json:"unread_count"`
	IsRead             bool        `json:"is_read"`
}

// Before reports whether m sorts before o in the room order (created_at, id).
func (m *Message) Before(o *Message) bool {
	if m.CreatedAt.Equal(o.CreatedAt) {
		return m.ID < o.ID
	}
	return m.CreatedAt.Before(o.CreatedAt)
}

// ReadResult is the outcome of marking one message read. Created is false
// when the receipt already existed or the reader is the sender.
type ReadResult struct {
	Message *Message
	Created bool
}

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Page selects a window of a room's history. Limit <= 0 means unbounded.
type Page struct {
	Order  SortOrder
	Limit  int
	Offset int
}
