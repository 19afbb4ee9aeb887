package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	apperrors "messenger/pkg/errors"
	"messenger/pkg/logger"
)

// ReceiptRepository stores per-(message, user) acknowledgments. Uniqueness is
// enforced by the primary key; every insert is a single conditional statement.
type ReceiptRepository interface {
	// Insert records that userID read messageID. It reports false when the
	// receipt already exists or userID sent the message.
	Insert(ctx context.Context, messageID, userID int64) (bool, error)
	// InsertAllInRoom acknowledges every message in the room sent by someone
	// else and returns how many receipts were created.
	InsertAllInRoom(ctx context.Context, roomID, userID int64) (int64, error)
	CountUnread(ctx context.Context, roomID, userID int64) (int, error)
	ReadersOf(ctx context.Context, messageIDs []int64) (map[int64][]int64, error)
}

type receiptRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewReceiptRepository(db *pgxpool.Pool, log logger.Logger) ReceiptRepository {
	return &receiptRepository{db: db, log: log}
}

func (r *receiptRepository) Insert(ctx context.Context, messageID, userID int64) (bool, error) {
	query := `
		INSERT INTO message_reads (message_id, user_id, read_at)
		SELECT m.id, $2, NOW()
		FROM messages m
		WHERE m.id = $1 AND m.sender_id <> $2
		ON CONFLICT (message_id, user_id) DO NOTHING
	`

	tag, err := r.db.Exec(ctx, query, messageID, userID)
	if err != nil {
		r.log.Error("Failed to insert read receipt", "message_id", messageID, "user_id", userID, "error", err)
		return false, apperrors.Persistence("insert read receipt", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *receiptRepository) InsertAllInRoom(ctx context.Context, roomID, userID int64) (int64, error) {
	query := `
		INSERT INTO message_reads (message_id, user_id, read_at)
		SELECT m.id, $2, NOW()
		FROM messages m
		WHERE m.room_id = $1 AND m.sender_id <> $2
		ON CONFLICT (message_id, user_id) DO NOTHING
	`

	tag, err := r.db.Exec(ctx, query, roomID, userID)
	if err != nil {
		r.log.Error("Failed to mark room read", "room_id", roomID, "user_id", userID, "error", err)
		return 0, apperrors.Persistence("mark room read", err)
	}

	return tag.RowsAffected(), nil
}

func (r *receiptRepository) CountUnread(ctx context.Context, roomID, userID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages m
		WHERE m.room_id = $1
		  AND m.sender_id <> $2
		  AND NOT EXISTS (
		    SELECT 1 FROM message_reads mr
		    WHERE mr.message_id = m.id AND mr.user_id = $2
		  )
	`

	var count int
	if err := r.db.QueryRow(ctx, query, roomID, userID).Scan(&count); err != nil {
		r.log.Error("Failed to count unread messages", "room_id", roomID, "user_id", userID, "error", err)
		return 0, apperrors.Persistence("count unread", err)
	}

	return count, nil
}

func (r *receiptRepository) ReadersOf(ctx context.Context, messageIDs []int64) (map[int64][]int64, error) {
	readers := make(map[int64][]int64, len(messageIDs))
	if len(messageIDs) == 0 {
		return readers, nil
	}

	rows, err := r.db.Query(ctx, `SELECT message_id, user_id FROM message_reads WHERE message_id = ANY($1)`, messageIDs)
	if err != nil {
		r.log.Error("Failed to load readers", "error", err)
		return nil, apperrors.Persistence("load readers", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID, userID int64
		if err := rows.Scan(&messageID, &userID); err != nil {
			r.log.Error("Failed to scan reader", "error", err)
			return nil, apperrors.Persistence("scan reader", err)
		}
		readers[messageID] = append(readers[messageID], userID)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("load readers", err)
	}

	return readers, nil
}
