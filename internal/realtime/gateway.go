package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"messenger/internal/broker"
	"messenger/internal/config"
	"messenger/internal/domain"
	"messenger/internal/metrics"
	"messenger/internal/service"
	apperrors "messenger/pkg/errors"
	"messenger/pkg/logger"
)

const (
	defaultEventTimeout = 5 * time.Second
	sendRateScope       = "send"
)

// errRefetchRequired reports a message that committed but could not be read
// back. It is not retried; the sender reloads the room history.
var errRefetchRequired = fmt.Errorf("%w: message was stored but could not be loaded, refetch the room history", apperrors.ErrPersistence)

// SendRequest is a message submission from either the socket or REST.
type SendRequest struct {
	RoomID      int64
	Content     string
	MessageType string
}

// Gateway turns socket events and REST mutations into store operations and
// fans the authoritative results out to live connections.
type Gateway struct {
	hub       *Hub
	messages  service.MessageService
	receipts  service.ReceiptService
	rooms     service.VisibilityService
	limiter   service.RateLimitService
	publisher broker.Publisher
	metrics   *metrics.Metrics
	cfg       config.GatewayConfig
	log       logger.Logger
	tracer    trace.Tracer

	locks        *roomLocks
	eventTimeout time.Duration

	timersMu sync.Mutex
	leaves   map[string]map[int64]*time.Timer
}

func NewGateway(
	hub *Hub,
	services *service.Services,
	publisher broker.Publisher,
	m *metrics.Metrics,
	cfg config.GatewayConfig,
	log logger.Logger,
) *Gateway {
	return &Gateway{
		hub:          hub,
		messages:     services.Message,
		receipts:     services.Receipt,
		rooms:        services.Visibility,
		limiter:      services.RateLimit,
		publisher:    publisher,
		metrics:      m,
		cfg:          cfg,
		log:          log,
		tracer:       otel.Tracer("messenger/internal/realtime"),
		locks:        newRoomLocks(),
		eventTimeout: defaultEventTimeout,
		leaves:       make(map[string]map[int64]*time.Timer),
	}
}

// Hub exposes the connection registry, mainly for health reporting.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// Serve runs the read loop of an upgraded, already authenticated socket and
// returns when the connection ends.
func (g *Gateway) Serve(ctx context.Context, ws *websocket.Conn, identity domain.Identity) {
	client := NewClient(ws, identity, ClientOptions{
		SendBuffer: g.cfg.SendBuffer,
		WriteWait:  g.cfg.WriteWait,
		PingPeriod: g.cfg.PingPeriod,
		OnOverflow: func() {
			g.metrics.SendBufferDropped.Inc()
			g.log.Warn("Send buffer full, dropping connection", "user_id", identity.UserID)
		},
	})
	log := g.log.With("conn_id", client.ID, "user_id", client.UserID)

	if g.cfg.ReadLimit > 0 {
		ws.SetReadLimit(g.cfg.ReadLimit)
	}
	_ = ws.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	})

	g.hub.Attach(client)
	g.metrics.ConnectedClients.Inc()
	log.Info("Client connected")

	defer func() {
		g.cancelLeaves(client.ID)
		rooms := g.hub.Detach(client)
		client.Close(websocket.CloseNormalClosure, "session closed")
		g.metrics.ConnectedClients.Dec()
		log.Info("Client disconnected", "joined_rooms", len(rooms))
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !client.Closed() && !websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Debug("Read loop ended", "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			g.replyError(client, "", apperrors.Validation("invalid payload"))
			continue
		}
		g.dispatch(ctx, client, env)
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *Client, env Envelope) {
	ctx, cancel := context.WithTimeout(ctx, g.eventTimeout)
	defer cancel()

	label := eventLabel(env.Event)
	ctx, span := g.tracer.Start(ctx, "ws "+label,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("ws.event", env.Event),
			attribute.String("ws.conn_id", c.ID),
			attribute.Int64("user.id", c.UserID),
		),
	)
	defer span.End()
	g.metrics.EventsReceived.WithLabelValues(label).Inc()

	var err error
	switch env.Event {
	case EventJoinRoom:
		err = g.handleJoin(ctx, c, env.Data)
	case EventLeaveRoom:
		err = g.handleLeave(c, env.Data)
	case EventSendMessage:
		err = g.handleSend(ctx, c, env.Data)
	case EventMessageRead:
		err = g.handleRead(ctx, c, env.Data)
	case EventTypingStart:
		err = g.handleTyping(c, env.Data, true)
	case EventTypingStop:
		err = g.handleTyping(c, env.Data, false)
	default:
		err = apperrors.Validation("unknown event %q", env.Event)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.metrics.EventErrors.WithLabelValues(label).Inc()
		g.replyError(c, env.Event, err)
	}
}

func (g *Gateway) handleJoin(ctx context.Context, c *Client, data json.RawMessage) error {
	var ref RoomRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return invalidPayload(err)
	}
	roomID := ref.RoomID

	if err := g.rooms.RequireParticipant(ctx, roomID, c.UserID); err != nil {
		return err
	}

	g.cancelLeave(c.ID, roomID)
	g.hub.Join(roomID, c)
	g.log.Debug("Joined room", "conn_id", c.ID, "user_id", c.UserID, "room_id", roomID)

	if err := g.rooms.Show(ctx, roomID, c.UserID); err != nil {
		g.log.Warn("Failed to show room", "room_id", roomID, "user_id", c.UserID, "error", err)
	}

	if _, err := g.markAllRead(ctx, roomID, c.UserID); err != nil {
		return err
	}

	g.publishRoomUpdate(ctx, ChatRoomUpdatedEvent{RoomID: roomID, Action: RoomActionJoin, UserID: c.UserID})
	return nil
}

func (g *Gateway) handleLeave(c *Client, data json.RawMessage) error {
	var ref RoomRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return invalidPayload(err)
	}

	if !g.hub.Leave(ref.RoomID, c) {
		return nil
	}
	g.log.Debug("Left room", "conn_id", c.ID, "user_id", c.UserID, "room_id", ref.RoomID)
	g.scheduleLeave(c, ref.RoomID)
	return nil
}

func (g *Gateway) handleSend(ctx context.Context, c *Client, data json.RawMessage) error {
	var payload SendMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return invalidPayload(err)
	}
	roomID := int64(payload.RoomID)
	if roomID <= 0 {
		return apperrors.Validation("room_id is required")
	}
	messageType, err := service.MessageTypeField(payload.Type, payload.MessageType)
	if err != nil {
		return err
	}
	if !g.hub.InRoom(roomID, c) {
		return apperrors.ErrNotJoined
	}

	_, err = g.send(ctx, c.UserID, SendRequest{
		RoomID:      roomID,
		Content:     payload.Content,
		MessageType: messageType,
	})
	return err
}

func (g *Gateway) handleRead(ctx context.Context, c *Client, data json.RawMessage) error {
	var payload MessageReadPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return invalidPayload(err)
	}
	if payload.MessageID <= 0 {
		return apperrors.Validation("message_id is required")
	}

	_, err := g.MarkRead(ctx, c.UserID, int64(payload.MessageID), int64(payload.RoomID))
	return err
}

func (g *Gateway) handleTyping(c *Client, data json.RawMessage, typing bool) error {
	var ref RoomRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return invalidPayload(err)
	}
	if !g.hub.InRoom(ref.RoomID, c) {
		return apperrors.ErrNotJoined
	}

	g.broadcastRoom(ref.RoomID, EventUserTyping, UserTypingEvent{
		RoomID:   ref.RoomID,
		UserID:   c.UserID,
		Username: c.Username,
		IsTyping: typing,
	}, c.ID)
	return nil
}

// SendMessage appends a message on behalf of userID and broadcasts it exactly
// as a live send_message would.
func (g *Gateway) SendMessage(ctx context.Context, userID int64, req SendRequest) (*domain.Message, error) {
	return g.send(ctx, userID, req)
}

func (g *Gateway) send(ctx context.Context, userID int64, req SendRequest) (*domain.Message, error) {
	if !g.limiter.Allow(ctx, sendRateScope, userID, g.cfg.SendRateLimit, g.cfg.SendRateWindow) {
		return nil, apperrors.ErrRateLimited
	}

	// Held from append to broadcast so live delivery order matches store order.
	unlock := g.locks.Lock(req.RoomID)
	defer unlock()

	stored, err := g.messages.Append(ctx, req.RoomID, userID, req.MessageType, req.Content)
	if err != nil {
		return nil, err
	}
	g.metrics.MessagesAppended.Inc()

	if err := g.rooms.UnhideForAll(ctx, req.RoomID, userID); err != nil {
		g.log.Warn("Failed to unhide room for members", "room_id", req.RoomID, "error", err)
	}

	message, err := g.messages.Get(ctx, stored.ID, userID)
	if err != nil {
		g.log.Error("Failed to load stored message", "message_id", stored.ID, "room_id", req.RoomID, "error", err)
		return nil, errRefetchRequired
	}

	g.broadcastRoom(req.RoomID, EventReceiveMessage, message, "")

	preview := message.Content
	createdAt := message.CreatedAt
	g.publishRoomUpdate(ctx, ChatRoomUpdatedEvent{
		RoomID:          req.RoomID,
		LastMessage:     &preview,
		LastMessageTime: &createdAt,
	})

	if err := g.publisher.PublishMessageCreated(ctx, message); err != nil {
		g.log.Warn("Failed to publish message event", "message_id", message.ID, "error", err)
	}

	return message, nil
}

// MarkRead acknowledges one message and tells its room, also when the
// receipt already existed.
func (g *Gateway) MarkRead(ctx context.Context, userID, messageID, roomID int64) (*domain.ReadResult, error) {
	result, err := g.receipts.MarkRead(ctx, messageID, userID, roomID)
	if err != nil {
		return nil, err
	}
	if result.Created {
		g.metrics.ReceiptsCreated.Inc()
	}

	g.broadcastRoom(result.Message.RoomID, EventMessageReadUpdate, MessageReadUpdateEvent{
		MessageID: messageID,
		UserID:    userID,
		RoomID:    result.Message.RoomID,
	}, "")
	return result, nil
}

// MarkAllRead acknowledges every message of roomID for a participant and
// tells the room.
func (g *Gateway) MarkAllRead(ctx context.Context, userID, roomID int64) (int64, error) {
	if err := g.rooms.RequireParticipant(ctx, roomID, userID); err != nil {
		return 0, err
	}
	return g.markAllRead(ctx, roomID, userID)
}

func (g *Gateway) markAllRead(ctx context.Context, roomID, userID int64) (int64, error) {
	unlock := g.locks.Lock(roomID)
	defer unlock()

	affected, err := g.receipts.MarkAllRead(ctx, roomID, userID)
	if err != nil {
		return 0, err
	}
	g.metrics.ReceiptsCreated.Add(float64(affected))

	g.broadcastRoom(roomID, EventMessagesRead, MessagesReadEvent{RoomID: roomID, UserID: userID}, "")
	return affected, nil
}

// Close cancels pending timers and disconnects every client.
func (g *Gateway) Close() {
	g.timersMu.Lock()
	for clientID, rooms := range g.leaves {
		for _, t := range rooms {
			t.Stop()
		}
		delete(g.leaves, clientID)
	}
	g.timersMu.Unlock()

	g.hub.Close()
}

func (g *Gateway) scheduleLeave(c *Client, roomID int64) {
	g.timersMu.Lock()
	defer g.timersMu.Unlock()

	rooms := g.leaves[c.ID]
	if rooms == nil {
		rooms = make(map[int64]*time.Timer)
		g.leaves[c.ID] = rooms
	}
	if existing, ok := rooms[roomID]; ok {
		existing.Stop()
	}

	userID := c.UserID
	var timer *time.Timer
	timer = time.AfterFunc(g.cfg.LeaveDebounce, func() {
		g.timersMu.Lock()
		if current := g.leaves[c.ID]; current != nil && current[roomID] == timer {
			delete(current, roomID)
			if len(current) == 0 {
				delete(g.leaves, c.ID)
			}
		} else {
			g.timersMu.Unlock()
			return
		}
		g.timersMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), g.eventTimeout)
		defer cancel()
		g.publishRoomUpdate(ctx, ChatRoomUpdatedEvent{RoomID: roomID, Action: RoomActionLeave, UserID: userID})
	})
	rooms[roomID] = timer
}

func (g *Gateway) cancelLeave(clientID string, roomID int64) {
	g.timersMu.Lock()
	defer g.timersMu.Unlock()

	rooms := g.leaves[clientID]
	if t, ok := rooms[roomID]; ok {
		t.Stop()
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(g.leaves, clientID)
		}
	}
}

func (g *Gateway) cancelLeaves(clientID string) {
	g.timersMu.Lock()
	defer g.timersMu.Unlock()

	for _, t := range g.leaves[clientID] {
		t.Stop()
	}
	delete(g.leaves, clientID)
}

func (g *Gateway) pendingLeaves() int {
	g.timersMu.Lock()
	defer g.timersMu.Unlock()

	n := 0
	for _, rooms := range g.leaves {
		n += len(rooms)
	}
	return n
}

// publishRoomUpdate sends a room-list invalidation either to every live
// connection or only to the room's participants, per configuration.
func (g *Gateway) publishRoomUpdate(ctx context.Context, event ChatRoomUpdatedEvent) {
	payload, err := encode(EventChatRoomUpdated, event)
	if err != nil {
		g.log.Error("Failed to encode room update", "room_id", event.RoomID, "error", err)
		return
	}

	delivered := 0
	if g.cfg.RoomListFanout == config.RoomListFanoutParticipants {
		participants, err := g.rooms.Participants(ctx, event.RoomID)
		if err != nil {
			g.log.Warn("Failed to load participants for room update", "room_id", event.RoomID, "error", err)
			return
		}
		for _, userID := range participants {
			delivered += g.hub.NotifyUser(userID, payload)
		}
	} else {
		delivered = g.hub.BroadcastAll(payload)
	}
	g.metrics.Broadcasts.WithLabelValues(EventChatRoomUpdated).Add(float64(delivered))
}

func (g *Gateway) broadcastRoom(roomID int64, event string, data any, excludeClientID string) {
	payload, err := encode(event, data)
	if err != nil {
		g.log.Error("Failed to encode event", "event", event, "room_id", roomID, "error", err)
		return
	}
	delivered := g.hub.Broadcast(roomID, payload, excludeClientID)
	g.metrics.Broadcasts.WithLabelValues(event).Add(float64(delivered))
}

func (g *Gateway) replyError(c *Client, event string, err error) {
	text := apperrors.PublicMessage(err)
	if errors.Is(err, errRefetchRequired) {
		text = errRefetchRequired.Error()
	}
	if apperrors.HTTPStatusFromError(err) >= 500 {
		g.log.Error("Event failed", "conn_id", c.ID, "user_id", c.UserID, "event", event, "error", err)
	}

	payload, encErr := encode(EventMessageError, MessageErrorEvent{Error: text, Event: event})
	if encErr != nil {
		return
	}
	_ = c.Send(payload)
}

func invalidPayload(err error) error {
	if errors.Is(err, errMissingRoomID) {
		return apperrors.Validation("room_id is required")
	}
	return apperrors.Validation("invalid payload: %v", err)
}

func eventLabel(event string) string {
	switch event {
	case EventJoinRoom, EventLeaveRoom, EventSendMessage, EventMessageRead, EventTypingStart, EventTypingStop:
		return event
	}
	return "unknown"
}
