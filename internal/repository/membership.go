package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"messenger/internal/domain"
	apperrors "messenger/pkg/errors"
	"messenger/pkg/logger"
)

// MembershipRepository reads room participant sets and owns the per-user
// hidden flag. Rows themselves are created by room management.
type MembershipRepository interface {
	ListParticipants(ctx context.Context, roomID int64) ([]int64, error)
	ParticipantsOf(ctx context.Context, roomIDs []int64) (map[int64][]int64, error)
	Get(ctx context.Context, roomID, userID int64) (*domain.RoomMembership, error)
	SetHidden(ctx context.Context, roomID, userID int64, hidden bool) error
	UnhideAllExcept(ctx context.Context, roomID, exceptUserID int64) (int64, error)
}

type membershipRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewMembershipRepository(db *pgxpool.Pool, log logger.Logger) MembershipRepository {
	return &membershipRepository{db: db, log: log}
}

func (r *membershipRepository) ListParticipants(ctx context.Context, roomID int64) ([]int64, error) {
	byRoom, err := r.ParticipantsOf(ctx, []int64{roomID})
	if err != nil {
		return nil, err
	}
	return byRoom[roomID], nil
}

func (r *membershipRepository) ParticipantsOf(ctx context.Context, roomIDs []int64) (map[int64][]int64, error) {
	participants := make(map[int64][]int64, len(roomIDs))
	if len(roomIDs) == 0 {
		return participants, nil
	}

	query := `
		SELECT room_id, user_id
		FROM chat_room_members
		WHERE room_id = ANY($1)
		ORDER BY room_id, user_id
	`
	rows, err := r.db.Query(ctx, query, roomIDs)
	if err != nil {
		r.log.Error("Failed to list participants", "error", err)
		return nil, apperrors.Persistence("list participants", err)
	}
	defer rows.Close()

	for rows.Next() {
		var roomID, userID int64
		if err := rows.Scan(&roomID, &userID); err != nil {
			r.log.Error("Failed to scan participant", "error", err)
			return nil, apperrors.Persistence("scan participant", err)
		}
		participants[roomID] = append(participants[roomID], userID)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("list participants", err)
	}

	return participants, nil
}

func (r *membershipRepository) Get(ctx context.Context, roomID, userID int64) (*domain.RoomMembership, error) {
	query := `
		SELECT room_id, user_id, hidden, joined_at
		FROM chat_room_members
		WHERE room_id = $1 AND user_id = $2
	`

	m := &domain.RoomMembership{}
	err := r.db.QueryRow(ctx, query, roomID, userID).Scan(&m.RoomID, &m.UserID, &m.Hidden, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrMembershipNotFound
		}
		r.log.Error("Failed to get membership", "room_id", roomID, "user_id", userID, "error", err)
		return nil, apperrors.Persistence("get membership", err)
	}

	return m, nil
}

func (r *membershipRepository) SetHidden(ctx context.Context, roomID, userID int64, hidden bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE chat_room_members SET hidden = $3 WHERE room_id = $1 AND user_id = $2`,
		roomID, userID, hidden,
	)
	if err != nil {
		r.log.Error("Failed to update room visibility", "room_id", roomID, "user_id", userID, "error", err)
		return apperrors.Persistence("update visibility", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrMembershipNotFound
	}
	return nil
}

func (r *membershipRepository) UnhideAllExcept(ctx context.Context, roomID, exceptUserID int64) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE chat_room_members SET hidden = FALSE WHERE room_id = $1 AND user_id <> $2 AND hidden`,
		roomID, exceptUserID,
	)
	if err != nil {
		r.log.Error("Failed to unhide room", "room_id", roomID, "error", err)
		return 0, apperrors.Persistence("unhide room", err)
	}
	return tag.RowsAffected(), nil
}
