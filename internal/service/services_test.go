package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"messenger/internal/config"
	"messenger/internal/domain"
	"messenger/internal/repository/memory"
	apperrors "messenger/pkg/errors"
	"messenger/pkg/jwt"
	"messenger/pkg/logger"
)

const testSecret = "test-secret"

func testConfig() *config.Config {
	return &config.Config{
		JWT:     config.JWTConfig{Secret: testSecret},
		Message: config.MessageConfig{MaxContentLength: 32},
	}
}

// newTestServices returns services over a store where room 1 holds users
// 10, 20 and 30, and room 2 holds 10 and 20.
func newTestServices(t *testing.T) (*Services, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	store.AddUser(domain.User{ID: 10, Username: "alice"})
	store.AddUser(domain.User{ID: 20, Username: "bob"})
	store.AddUser(domain.User{ID: 30, Username: "carol"})
	for _, id := range []int64{10, 20, 30} {
		store.AddMember(1, id)
	}
	store.AddMember(2, 10)
	store.AddMember(2, 20)

	repos := memory.NewRepositories(store, logger.Nop())
	return NewServices(repos, testConfig(), logger.Nop()), store
}

func TestMessageService_AppendValidation(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		roomID      int64
		senderID    int64
		messageType string
		content     string
		wantErr     error
	}{
		{name: "blank content", roomID: 1, senderID: 10, content: "   ", wantErr: apperrors.ErrValidation},
		{name: "unknown type", roomID: 1, senderID: 10, messageType: "video", content: "x", wantErr: apperrors.ErrValidation},
		{name: "too long", roomID: 1, senderID: 10, content: strings.Repeat("a", 33), wantErr: apperrors.ErrValidation},
		{name: "missing room", roomID: 0, senderID: 10, content: "x", wantErr: apperrors.ErrValidation},
		{name: "unknown room", roomID: 77, senderID: 10, content: "x", wantErr: apperrors.ErrRoomNotFound},
		{name: "outsider", roomID: 2, senderID: 30, content: "x", wantErr: apperrors.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Message.Append(ctx, tt.roomID, tt.senderID, tt.messageType, tt.content)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestMessageService_AppendDefaultsToText(t *testing.T) {
	svc, _ := newTestServices(t)

	m, err := svc.Message.Append(context.Background(), 1, 10, "", "hello")
	require.NoError(t, err)
	require.Equal(t, domain.MessageTypeText, m.MessageType)
	require.NotZero(t, m.ID)
	require.False(t, m.CreatedAt.IsZero())
}

func TestUnreadInvariant_JoinScenario(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()

	for _, content := range []string{"1", "2", "3"} {
		_, err := svc.Message.Append(ctx, 2, 10, "text", content)
		require.NoError(t, err)
	}

	messages, err := svc.Message.FetchRange(ctx, 2, 20, HistoryPage(false, 0, 0))
	require.NoError(t, err)
	require.Len(t, messages, 3)
	for _, m := range messages {
		require.Equal(t, 1, m.UnreadCount)
		require.False(t, m.IsRead)
	}

	count, err := svc.Receipt.UnreadCount(ctx, 2, 20)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	affected, err := svc.Receipt.MarkAllRead(ctx, 2, 20)
	require.NoError(t, err)
	require.EqualValues(t, 3, affected)

	count, err = svc.Receipt.UnreadCount(ctx, 2, 20)
	require.NoError(t, err)
	require.Zero(t, count)

	messages, err = svc.Message.FetchRange(ctx, 2, 10, HistoryPage(false, 0, 0))
	require.NoError(t, err)
	for _, m := range messages {
		require.Zero(t, m.UnreadCount)
		require.True(t, m.IsRead, "own messages are read")
	}

	affected, err = svc.Receipt.MarkAllRead(ctx, 2, 20)
	require.NoError(t, err)
	require.Zero(t, affected)
}

func TestReceiptService_MarkRead(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()

	m, err := svc.Message.Append(ctx, 1, 10, "text", "hi")
	require.NoError(t, err)

	own, err := svc.Receipt.MarkRead(ctx, m.ID, 10, 0)
	require.NoError(t, err)
	require.False(t, own.Created)

	first, err := svc.Receipt.MarkRead(ctx, m.ID, 20, 1)
	require.NoError(t, err)
	require.True(t, first.Created)
	require.Equal(t, int64(1), first.Message.RoomID)

	again, err := svc.Receipt.MarkRead(ctx, m.ID, 20, 1)
	require.NoError(t, err)
	require.False(t, again.Created)

	got, err := svc.Message.Get(ctx, m.ID, 30)
	require.NoError(t, err)
	require.Equal(t, 1, got.UnreadCount)
	require.False(t, got.IsRead)

	_, err = svc.Receipt.MarkRead(ctx, m.ID+1000, 20, 0)
	require.ErrorIs(t, err, apperrors.ErrMessageNotFound)

	_, err = svc.Receipt.MarkRead(ctx, m.ID, 30, 2)
	require.ErrorIs(t, err, apperrors.ErrValidation)
	unread, err := svc.Receipt.UnreadCount(ctx, 1, 30)
	require.NoError(t, err)
	require.Equal(t, 1, unread, "a rejected read stores nothing")
}

func TestReceiptService_MarkReadByOutsider(t *testing.T) {
	svc, store := newTestServices(t)
	ctx := context.Background()

	m, err := svc.Message.Append(ctx, 2, 10, "text", "private")
	require.NoError(t, err)

	_, err = svc.Receipt.MarkRead(ctx, m.ID, 30, 0)
	require.ErrorIs(t, err, apperrors.ErrMessageNotFound)
	_, err = svc.Receipt.MarkRead(ctx, m.ID, 30, 2)
	require.ErrorIs(t, err, apperrors.ErrMessageNotFound)

	readers, err := memory.NewRepositories(store, logger.Nop()).Receipt.ReadersOf(ctx, []int64{m.ID})
	require.NoError(t, err)
	require.Empty(t, readers[m.ID])
}

func TestMessageTypeField(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		alias   string
		want    string
		wantErr bool
	}{
		{name: "neither", want: ""},
		{name: "type only", typ: "image", want: "image"},
		{name: "alias only", alias: "file", want: "file"},
		{name: "both agree", typ: "Image", alias: "image", want: "Image"},
		{name: "both conflict", typ: "image", alias: "file", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MessageTypeField(tt.typ, tt.alias)
			if tt.wantErr {
				require.ErrorIs(t, err, apperrors.ErrValidation)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestReceiptService_ConcurrentMarkReadCreatesOnce(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()

	m, err := svc.Message.Append(ctx, 1, 10, "text", "race")
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Receipt.MarkRead(ctx, m.ID, 20, 1)
			if err != nil {
				t.Error(err)
				return
			}
			if res.Created {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, created)
	got, err := svc.Message.Get(ctx, m.ID, 10)
	require.NoError(t, err)
	require.Equal(t, 1, got.UnreadCount)
}

func TestVisibilityService(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()

	require.NoError(t, svc.Visibility.Hide(ctx, 1, 20))
	membership, err := svc.Visibility.Membership(ctx, 1, 20)
	require.NoError(t, err)
	require.True(t, membership.Hidden)

	require.NoError(t, svc.Visibility.UnhideForAll(ctx, 1, 10))
	membership, err = svc.Visibility.Membership(ctx, 1, 20)
	require.NoError(t, err)
	require.False(t, membership.Hidden)

	require.NoError(t, svc.Visibility.Hide(ctx, 1, 10))
	require.NoError(t, svc.Visibility.UnhideForAll(ctx, 1, 10))
	membership, err = svc.Visibility.Membership(ctx, 1, 10)
	require.NoError(t, err)
	require.True(t, membership.Hidden, "sender keeps their own hidden flag")

	require.ErrorIs(t, svc.Visibility.Show(ctx, 2, 30), apperrors.ErrNotParticipant)
	require.ErrorIs(t, svc.Visibility.RequireParticipant(ctx, 2, 30), apperrors.ErrNotParticipant)
	require.NoError(t, svc.Visibility.RequireParticipant(ctx, 2, 20))
	_, err = svc.Visibility.Membership(ctx, 2, 30)
	require.ErrorIs(t, err, apperrors.ErrMembershipNotFound)
}

func TestAnnotateUnread_IgnoresReadersOutsideRoom(t *testing.T) {
	messages := []*domain.Message{{ID: 1, RoomID: 5, SenderID: 10}}
	participants := map[int64][]int64{5: {10, 20}}
	readers := map[int64][]int64{1: {20, 99}}

	AnnotateUnread(messages, participants, readers, 99)
	require.Zero(t, messages[0].UnreadCount)
	require.True(t, messages[0].IsRead)
}

func TestHistoryPage(t *testing.T) {
	require.Equal(t, domain.Page{Order: domain.SortAsc}, HistoryPage(false, 10, 10))
	require.Equal(t, domain.Page{Order: domain.SortDesc, Limit: DefaultPageLimit}, HistoryPage(true, 0, -4))
	require.Equal(t, domain.Page{Order: domain.SortDesc, Limit: MaxPageLimit, Offset: 20}, HistoryPage(true, 500, 20))
}

func TestAuthService_ValidateToken(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()

	token, err := jwt.GenerateAccessToken(42, "dave", testSecret, "", time.Minute)
	require.NoError(t, err)

	identity, err := svc.Auth.ValidateToken(ctx, token)
	require.NoError(t, err)
	require.Equal(t, &domain.Identity{UserID: 42, Username: "dave"}, identity)

	_, err = svc.Auth.ValidateToken(ctx, "")
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)

	expired, err := jwt.GenerateAccessToken(42, "dave", testSecret, "", -time.Minute)
	require.NoError(t, err)
	_, err = svc.Auth.ValidateToken(ctx, expired)
	require.ErrorIs(t, err, apperrors.ErrTokenExpired)

	forged, err := jwt.GenerateAccessToken(42, "dave", "other", "", time.Minute)
	require.NoError(t, err)
	_, err = svc.Auth.ValidateToken(ctx, forged)
	require.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestRateLimitService_Allow(t *testing.T) {
	limiter := NewRateLimitService(memory.NewRateLimiter(), logger.Nop())
	ctx := context.Background()

	require.True(t, limiter.Allow(ctx, "send", 1, 2, time.Minute))
	require.True(t, limiter.Allow(ctx, "send", 1, 2, time.Minute))
	require.False(t, limiter.Allow(ctx, "send", 1, 2, time.Minute))
	require.True(t, limiter.Allow(ctx, "send", 2, 2, time.Minute), "limits are per subject")

	unlimited := NewRateLimitService(nil, logger.Nop())
	require.True(t, unlimited.Allow(ctx, "send", 1, 1, time.Minute))
}
