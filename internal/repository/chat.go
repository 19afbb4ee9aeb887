package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"messenger/internal/domain"
	apperrors "messenger/pkg/errors"
	"messenger/pkg/logger"
)

const (
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// MessageRepository is the append-only per-room message log.
type MessageRepository interface {
	// Create appends message and fills ID and CreatedAt. Appends to the same
	// room are serialized so (created_at, id) follows commit order.
	Create(ctx context.Context, message *domain.Message) error
	GetByID(ctx context.Context, messageID int64) (*domain.Message, error)
	ListByRoom(ctx context.Context, roomID int64, page domain.Page) ([]*domain.Message, error)
	Latest(ctx context.Context, roomID int64) (*domain.Message, error)
}

type messageRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewMessageRepository(db *pgxpool.Pool, log logger.Logger) MessageRepository {
	return &messageRepository{db: db, log: log}
}

const messageColumns = `
	m.id, m.room_id, m.sender_id, COALESCE(u.username, ''), u.profile_image,
	m.message_type, m.content, m.created_at`

func (r *messageRepository) Create(ctx context.Context, message *domain.Message) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.log.Error("Failed to begin message transaction", "error", err)
		return apperrors.Persistence("begin message transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Held until commit; serializes appends to one room across instances.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, message.RoomID); err != nil {
		r.log.Error("Failed to lock room for append", "room_id", message.RoomID, "error", err)
		return apperrors.Persistence("lock room", err)
	}

	query := `
		INSERT INTO messages (room_id, sender_id, message_type, content, created_at)
		VALUES ($1, $2, $3, $4, clock_timestamp())
		RETURNING id, created_at
	`
	err = tx.QueryRow(ctx, query,
		message.RoomID, message.SenderID, string(message.MessageType), message.Content,
	).Scan(&message.ID, &message.CreatedAt)
	if err != nil {
		return r.translateWriteError("insert message", err)
	}

	if err := tx.Commit(ctx); err != nil {
		r.log.Error("Failed to commit message", "room_id", message.RoomID, "error", err)
		return apperrors.Persistence("commit message", err)
	}

	return nil
}

func (r *messageRepository) translateWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return apperrors.ErrRoomNotFound
		case pgCheckViolation:
			return apperrors.Validation("message rejected by constraint %s", pgErr.ConstraintName)
		}
	}
	r.log.Error("Failed to "+op, "error", err)
	return apperrors.Persistence(op, err)
}

func (r *messageRepository) GetByID(ctx context.Context, messageID int64) (*domain.Message, error) {
	query := `SELECT` + messageColumns + `
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1
	`

	message, err := scanMessage(r.db.QueryRow(ctx, query, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrMessageNotFound
		}
		r.log.Error("Failed to get message", "message_id", messageID, "error", err)
		return nil, apperrors.Persistence("get message", err)
	}

	return message, nil
}

func (r *messageRepository) ListByRoom(ctx context.Context, roomID int64, page domain.Page) ([]*domain.Message, error) {
	var b strings.Builder
	b.WriteString(`SELECT` + messageColumns + `
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.room_id = $1
	`)
	// id breaks ties ascending in both directions
	if page.Order == domain.SortDesc {
		b.WriteString(" ORDER BY m.created_at DESC, m.id ASC")
	} else {
		b.WriteString(" ORDER BY m.created_at ASC, m.id ASC")
	}

	args := []any{roomID}
	if page.Limit > 0 {
		args = append(args, page.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if page.Offset > 0 {
		args = append(args, page.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, b.String(), args...)
	if err != nil {
		r.log.Error("Failed to list messages", "room_id", roomID, "error", err)
		return nil, apperrors.Persistence("list messages", err)
	}
	defer rows.Close()

	messages := make([]*domain.Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			r.log.Error("Failed to scan message", "error", err)
			return nil, apperrors.Persistence("scan message", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		r.log.Error("Failed to iterate messages", "room_id", roomID, "error", err)
		return nil, apperrors.Persistence("list messages", err)
	}

	return messages, nil
}

func (r *messageRepository) Latest(ctx context.Context, roomID int64) (*domain.Message, error) {
	query := `SELECT` + messageColumns + `
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.room_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT 1
	`

	message, err := scanMessage(r.db.QueryRow(ctx, query, roomID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrMessageNotFound
		}
		r.log.Error("Failed to get latest message", "room_id", roomID, "error", err)
		return nil, apperrors.Persistence("latest message", err)
	}

	return message, nil
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	message := &domain.Message{}
	var messageType string
	err := row.Scan(
		&message.ID, &message.RoomID, &message.SenderID, &message.SenderUsername, &message.SenderProfileImage,
		&messageType, &message.Content, &message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	message.MessageType = domain.MessageType(messageType)
	return message, nil
}
