package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"messenger/internal/broker"
	"messenger/internal/config"
	"messenger/internal/domain"
	"messenger/internal/metrics"
	"messenger/internal/middleware"
	"messenger/internal/realtime"
	"messenger/internal/repository/memory"
	"messenger/internal/service"
	"messenger/pkg/jwt"
	"messenger/pkg/logger"
)

const testSecret = "handler-test-secret"

type apiEnv struct {
	router *gin.Engine
	store  *memory.Store
}

// newAPIEnv mounts the API where room 1 holds users 10, 20 and 30, and room 2
// holds 10 and 20.
func newAPIEnv(t *testing.T, rateLimit int) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	store.AddUser(domain.User{ID: 10, Username: "alice"})
	store.AddUser(domain.User{ID: 20, Username: "bob"})
	store.AddUser(domain.User{ID: 30, Username: "carol"})
	for _, id := range []int64{10, 20, 30} {
		store.AddMember(1, id)
	}
	store.AddMember(2, 10)
	store.AddMember(2, 20)

	cfg := &config.Config{
		Storage: config.StorageConfig{Driver: config.StorageDriverMemory},
		JWT:     config.JWTConfig{Secret: testSecret},
		Message: config.MessageConfig{MaxContentLength: 100},
		Gateway: config.GatewayConfig{
			LeaveDebounce:  50 * time.Millisecond,
			SendBuffer:     16,
			ReadLimit:      64 * 1024,
			PongWait:       time.Minute,
			PingPeriod:     30 * time.Second,
			WriteWait:      time.Second,
			RoomListFanout: config.RoomListFanoutGlobal,
			SendRateLimit:  100,
			SendRateWindow: time.Minute,
		},
	}

	log := logger.Nop()
	services := service.NewServices(memory.NewRepositories(store, log), cfg, log)
	gateway := realtime.NewGateway(realtime.NewHub(), services, broker.NewPublisher(cfg.Kafka, log), metrics.New(nil), cfg.Gateway, log)
	t.Cleanup(gateway.Close)

	router := gin.New()
	router.Use(middleware.ErrorHandler(log))
	NewHandlers(services, gateway, cfg, log).Register(
		router,
		middleware.NewAuthMiddleware(services.Auth, log).RequireAuth(),
		middleware.NewRateLimitMiddleware(services.RateLimit, log).Limit("http", rateLimit, time.Minute),
	)

	return &apiEnv{router: router, store: store}
}

func token(t *testing.T, userID int64, name string) string {
	t.Helper()
	tok, err := jwt.GenerateAccessToken(userID, name, testSecret, "", time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *apiEnv) do(t *testing.T, method, path string, userID int64, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+token(t, userID, "user"))
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type messageBody struct {
	Success bool            `json:"success"`
	Message *domain.Message `json:"message"`
	Error   string          `json:"error"`
}

type messagesBody struct {
	Success  bool              `json:"success"`
	Messages []*domain.Message `json:"messages"`
}

func (e *apiEnv) send(t *testing.T, userID, roomID int64, content string) *domain.Message {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/messages/send", userID, map[string]any{"room_id": roomID, "content": content})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decodeBody[messageBody](t, w)
	require.True(t, body.Success)
	return body.Message
}

func TestAuth_Rejected(t *testing.T) {
	env := newAPIEnv(t, 0)

	w := env.do(t, http.MethodGet, "/api/v1/messages/room/1", 0, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/room/1", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.False(t, decodeBody[messageBody](t, w).Success)

	expired, err := jwt.GenerateAccessToken(10, "alice", testSecret, "", -time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/messages/room/1?token="+expired, nil)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMessageHandler_SendAndHistory(t *testing.T) {
	env := newAPIEnv(t, 0)

	sent := env.send(t, 10, 1, "hello")
	require.Equal(t, "hello", sent.Content)
	require.Equal(t, "alice", sent.SenderUsername)
	require.Equal(t, domain.MessageTypeText, sent.MessageType)
	require.Equal(t, 2, sent.UnreadCount)
	env.send(t, 20, 1, "hi alice")

	w := env.do(t, http.MethodGet, "/api/v1/messages/room/1", 30, nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decodeBody[messagesBody](t, w).Messages
	require.Len(t, history, 2)
	require.Equal(t, "hello", history[0].Content)
	require.Equal(t, "hi alice", history[1].Content)
	require.False(t, history[0].IsRead)

	w = env.do(t, http.MethodGet, "/api/v1/messages/room/1?limit=1", 30, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decodeBody[messagesBody](t, w).Messages
	require.Len(t, page, 1)
	require.Equal(t, "hi alice", page[0].Content)

	w = env.do(t, http.MethodGet, "/api/v1/messages/room/1?limit=1&offset=1", 30, nil)
	page = decodeBody[messagesBody](t, w).Messages
	require.Len(t, page, 1)
	require.Equal(t, "hello", page[0].Content)

	w = env.do(t, http.MethodGet, "/api/v1/messages/room/1/latest", 10, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "hi alice", decodeBody[messageBody](t, w).Message.Content)

	w = env.do(t, http.MethodGet, "/api/v1/messages/room/1?limit=abc", 30, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMessageHandler_SendRejected(t *testing.T) {
	env := newAPIEnv(t, 0)

	tests := []struct {
		name   string
		userID int64
		body   any
		status int
	}{
		{"missing room", 10, map[string]any{"content": "x"}, http.StatusBadRequest},
		{"blank content", 10, map[string]any{"room_id": 1, "content": "   "}, http.StatusBadRequest},
		{"too long", 10, map[string]any{"room_id": 1, "content": strings.Repeat("a", 101)}, http.StatusBadRequest},
		{"bad type", 10, map[string]any{"room_id": 1, "content": "x", "message_type": "video"}, http.StatusBadRequest},
		{"unknown room", 10, map[string]any{"room_id": 99, "content": "x"}, http.StatusNotFound},
		{"not participant", 30, map[string]any{"room_id": 2, "content": "x"}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/messages/send", tt.userID, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			body := decodeBody[messageBody](t, w)
			require.False(t, body.Success)
			require.NotEmpty(t, body.Error)
		})
	}

	w := env.do(t, http.MethodGet, "/api/v1/messages/room/2", 10, nil)
	require.Empty(t, decodeBody[messagesBody](t, w).Messages)
}

func TestMessageHandler_SendMessageType(t *testing.T) {
	env := newAPIEnv(t, 0)

	tests := []struct {
		name   string
		body   map[string]any
		status int
		want   domain.MessageType
	}{
		{"type image", map[string]any{"room_id": 1, "type": "image", "content": "cat.png"}, http.StatusCreated, domain.MessageTypeImage},
		{"legacy message_type", map[string]any{"room_id": 1, "message_type": "file", "content": "a.pdf"}, http.StatusCreated, domain.MessageTypeFile},
		{"both agree", map[string]any{"room_id": 1, "type": "file", "message_type": "file", "content": "b.pdf"}, http.StatusCreated, domain.MessageTypeFile},
		{"omitted", map[string]any{"room_id": 1, "content": "plain"}, http.StatusCreated, domain.MessageTypeText},
		{"unknown type", map[string]any{"room_id": 1, "type": "video", "content": "x"}, http.StatusBadRequest, ""},
		{"conflicting fields", map[string]any{"room_id": 1, "type": "image", "message_type": "file", "content": "x"}, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/messages/send", 10, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			body := decodeBody[messageBody](t, w)
			if tt.status != http.StatusCreated {
				require.False(t, body.Success)
				return
			}
			require.Equal(t, tt.want, body.Message.MessageType)
		})
	}

	w := env.do(t, http.MethodGet, "/api/v1/messages/room/1", 10, nil)
	require.Len(t, decodeBody[messagesBody](t, w).Messages, 4, "rejected sends store nothing")
}

func TestMessageHandler_Receipts(t *testing.T) {
	env := newAPIEnv(t, 0)
	first := env.send(t, 10, 1, "one")
	env.send(t, 10, 1, "two")
	env.send(t, 10, 1, "three")

	type unreadBody struct {
		UnreadCount int `json:"unread_count"`
	}
	w := env.do(t, http.MethodGet, "/api/v1/messages/unread/1", 20, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 3, decodeBody[unreadBody](t, w).UnreadCount)

	type readBody struct {
		AlreadyRead bool `json:"already_read"`
	}
	path := "/api/v1/messages/read/" + itoa(first.ID)
	w = env.do(t, http.MethodPost, path, 20, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, decodeBody[readBody](t, w).AlreadyRead)

	w = env.do(t, http.MethodPost, path, 20, nil)
	require.True(t, decodeBody[readBody](t, w).AlreadyRead)

	w = env.do(t, http.MethodGet, "/api/v1/messages/"+itoa(first.ID), 20, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeBody[messageBody](t, w).Message
	require.True(t, got.IsRead)
	require.Equal(t, 1, got.UnreadCount)

	type affectedBody struct {
		Affected int64 `json:"affected"`
	}
	w = env.do(t, http.MethodPost, "/api/v1/messages/read-all/1", 20, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 2, decodeBody[affectedBody](t, w).Affected)

	w = env.do(t, http.MethodGet, "/api/v1/messages/unread/1", 20, nil)
	require.Equal(t, 0, decodeBody[unreadBody](t, w).UnreadCount)

	w = env.do(t, http.MethodPost, "/api/v1/messages/read-all/2", 30, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/messages/read/999", 20, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/messages/read/abc", 20, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMessageHandler_OutsidersSeeNothing(t *testing.T) {
	env := newAPIEnv(t, 0)
	msg := env.send(t, 10, 2, "private")

	w := env.do(t, http.MethodGet, "/api/v1/messages/room/2", 30, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/messages/"+itoa(msg.ID), 30, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/messages/unread/2", 30, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/messages/read/"+itoa(msg.ID), 30, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodGet, "/api/v1/messages/"+itoa(msg.ID), 10, nil)
	require.Equal(t, 1, decodeBody[messageBody](t, w).Message.UnreadCount, "an outsider read stores nothing")

	w = env.do(t, http.MethodGet, "/api/v1/messages/room/1/latest", 10, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoomHandler_Visibility(t *testing.T) {
	env := newAPIEnv(t, 0)

	type membershipBody struct {
		Membership domain.RoomMembership `json:"membership"`
	}

	w := env.do(t, http.MethodPost, "/api/v1/rooms/1/hide", 20, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/rooms/1/membership", 20, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, decodeBody[membershipBody](t, w).Membership.Hidden)

	// a new message surfaces the room again for everyone but the sender
	env.send(t, 10, 1, "ping")
	w = env.do(t, http.MethodGet, "/api/v1/rooms/1/membership", 20, nil)
	require.False(t, decodeBody[membershipBody](t, w).Membership.Hidden)

	w = env.do(t, http.MethodPost, "/api/v1/rooms/2/hide", 30, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/rooms/2/membership", 30, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimit(t *testing.T) {
	env := newAPIEnv(t, 2)

	for i := 0; i < 2; i++ {
		w := env.do(t, http.MethodGet, "/api/v1/messages/unread/1", 10, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := env.do(t, http.MethodGet, "/api/v1/messages/unread/1", 10, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	// limits are per user
	w = env.do(t, http.MethodGet, "/api/v1/messages/unread/1", 20, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	env := newAPIEnv(t, 0)

	w := env.do(t, http.MethodGet, "/health", 0, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody[map[string]any](t, w)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "memory", body["storage"])
	require.EqualValues(t, 0, body["connections"])
}

func TestWebSocket_AuthAndLiveDelivery(t *testing.T) {
	env := newAPIEnv(t, 0)
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token(t, 20, "bob"))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.WriteJSON(map[string]any{"event": realtime.EventJoinRoom, "data": 1}))
	readUntil(t, conn, realtime.EventMessagesRead)

	env.send(t, 10, 1, "over http")
	raw := readUntil(t, conn, realtime.EventReceiveMessage)
	var msg domain.Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	require.Equal(t, "over http", msg.Content)
	require.EqualValues(t, 10, msg.SenderID)
}

func readUntil(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env realtime.Envelope
		require.NoError(t, conn.ReadJSON(&env), "waiting for %s", event)
		if env.Event == event {
			return env.Data
		}
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
