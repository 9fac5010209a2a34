package support

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Room statuses stored in chat_rooms.status.
const (
	RoomActive          = "active"
	RoomWaitingForHuman = "waiting_for_human"
	RoomClosed          = "closed"
)

// ErrRoomNotFound is returned when a room id is unknown.
var ErrRoomNotFound = errors.New("support: room not found")

// RoomStore reads and updates chat room status.
type RoomStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewRoomStore(db *sql.DB) *RoomStore {
	return &RoomStore{db: db, now: time.Now}
}

// Touch registers the room as active if it has not been seen yet.
func (s *RoomStore) Touch(ctx context.Context, roomID, restaurantID, userID string) error {
	query := `
		INSERT INTO chat_rooms (id, restaurant_id, user_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, roomID, restaurantID, userID, RoomActive, s.now().UTC()); err != nil {
		return fmt.Errorf("support: touch room: %w", err)
	}
	return nil
}

func (s *RoomStore) CloseRoom(ctx context.Context, roomID string) error {
	query := `UPDATE chat_rooms SET status = $1, closed_at = $2, updated_at = $2, context_cleared_at = NULL WHERE id = $3`
	res, err := s.db.ExecContext(ctx, query, RoomClosed, s.now().UTC(), roomID)
	if err != nil {
		return fmt.Errorf("support: close room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (s *RoomStore) IsWaitingForHuman(ctx context.Context, roomID string) (bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM chat_rooms WHERE id = $1`, roomID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("support: room status: %w", err)
	}
	return status == RoomWaitingForHuman, nil
}

// ListClosedRooms returns rooms closed before the cutoff whose conversation
// context has not been cleared yet, oldest first.
func (s *RoomStore) ListClosedRooms(ctx context.Context, closedBefore time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id FROM chat_rooms
		WHERE status = $1 AND closed_at < $2 AND context_cleared_at IS NULL
		ORDER BY closed_at ASC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, RoomClosed, closedBefore.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("support: list closed rooms: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("support: scan room: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkContextCleared records that the room's conversation context was purged
// so later sweeps skip it.
func (s *RoomStore) MarkContextCleared(ctx context.Context, roomID string) error {
	query := `UPDATE chat_rooms SET context_cleared_at = $1 WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, query, s.now().UTC(), roomID); err != nil {
		return fmt.Errorf("support: mark context cleared: %w", err)
	}
	return nil
}
