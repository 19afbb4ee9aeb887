package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// Inbound events.
const (
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventSendMessage = "send_message"
	EventMessageRead = "message_read"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
)

// Outbound events.
const (
	EventReceiveMessage    = "receive_message"
	EventMessagesRead      = "messages_read"
	EventMessageReadUpdate = "message_read_update"
	EventChatRoomUpdated   = "chat_room_updated"
	EventUserTyping        = "user_typing"
	EventMessageError      = "message_error"
)

const (
	RoomActionJoin  = "join"
	RoomActionLeave = "leave"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func encode(event string, data any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: data})
}

var errMissingRoomID = errors.New("room_id is required")

// RoomRef decodes a room-scoped payload given either as a bare id (5 or "5")
// or as an object {"room_id": 5}.
type RoomRef struct {
	RoomID int64
}

func (r *RoomRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return errMissingRoomID
	}

	switch data[0] {
	case '{':
		var obj struct {
			RoomID flexibleID `json:"room_id"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		r.RoomID = int64(obj.RoomID)
	default:
		var id flexibleID
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		r.RoomID = int64(id)
	}

	if r.RoomID <= 0 {
		return errMissingRoomID
	}
	return nil
}

// flexibleID accepts a JSON number or a numeric string.
type flexibleID int64

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return errors.New("id must be numeric")
		}
		*f = flexibleID(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("id must be numeric")
	}
	*f = flexibleID(n)
	return nil
}

type SendMessagePayload struct {
	RoomID  flexibleID `json:"room_id"`
	Content string     `json:"content"`
	Type    string     `json:"type"`
	// MessageType is the legacy spelling of Type.
	MessageType string `json:"message_type"`
}

type MessageReadPayload struct {
	MessageID flexibleID `json:"message_id"`
	RoomID    flexibleID `json:"room_id"`
}

type MessagesReadEvent struct {
	RoomID int64 `json:"room_id"`
	UserID int64 `json:"user_id"`
}

type MessageReadUpdateEvent struct {
	MessageID int64 `json:"message_id"`
	UserID    int64 `json:"user_id"`
	RoomID    int64 `json:"room_id"`
}

// ChatRoomUpdatedEvent tells clients to refresh their room list. Membership
// changes carry Action and UserID; new messages carry the preview fields.
type ChatRoomUpdatedEvent struct {
	RoomID          int64      `json:"room_id"`
	Action          string     `json:"action,omitempty"`
	UserID          int64      `json:"user_id,omitempty"`
	LastMessage     *string    `json:"last_message,omitempty"`
	LastMessageTime *time.Time `json:"last_message_time,omitempty"`
}

type UserTypingEvent struct {
	RoomID   int64  `json:"room_id"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

type MessageErrorEvent struct {
	Error string `json:"error"`
	Event string `json:"event,omitempty"`
}
