// Package feedback persists ratings and post-turn analytics.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NegativeRatingThreshold is the highest score (out of 5) that counts as negative.
const NegativeRatingThreshold = 2

// ErrInvalidRating is returned when a rating falls outside 1..5.
var ErrInvalidRating = errors.New("feedback: rating must be between 1 and 5")

// Rating is a user's score for a bot reply or a recommended dish.
type Rating struct {
	ID        uuid.UUID
	RoomID    string
	UserID    string
	DishID    string
	Score     int
	Comment   string
	CreatedAt time.Time
}

// RecommendationEvent records which dishes were shown in a turn.
type RecommendationEvent struct {
	RoomID       string
	UserID       string
	RestaurantID string
	DishIDs      []string
	Algorithm    string
	Confidence   float64
	Accepted     bool
}

// SessionEvent is a per-turn analytics record.
type SessionEvent struct {
	RoomID       string
	UserID       string
	RestaurantID string
	Intent       string
	Method       string
	Confidence   float64
	Escalated    bool
	LatencyMS    int64
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store writes feedback tables in Postgres.
type Store struct {
	db  pgxQuerier
	now func() time.Time
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("feedback: pgx pool required")
	}
	return newStoreWithQuerier(pool)
}

func newStoreWithQuerier(db pgxQuerier) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) RecordRating(ctx context.Context, r Rating) (uuid.UUID, error) {
	if r.Score < 1 || r.Score > 5 {
		return uuid.Nil, ErrInvalidRating
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	query := `
		INSERT INTO feedback_ratings (id, room_id, user_id, dish_id, score, comment)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''))
	`
	if _, err := s.db.Exec(ctx, query, r.ID, r.RoomID, r.UserID, r.DishID, r.Score, r.Comment); err != nil {
		return uuid.Nil, fmt.Errorf("feedback: insert rating: %w", err)
	}
	return r.ID, nil
}

func (s *Store) RecordRecommendation(ctx context.Context, e RecommendationEvent) error {
	query := `
		INSERT INTO recommendation_events (id, room_id, user_id, restaurant_id, dish_ids, algorithm, confidence, accepted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := s.db.Exec(ctx, query, uuid.New(), e.RoomID, e.UserID, e.RestaurantID,
		strings.Join(e.DishIDs, ","), e.Algorithm, e.Confidence, e.Accepted); err != nil {
		return fmt.Errorf("feedback: insert recommendation event: %w", err)
	}
	return nil
}

func (s *Store) RecordSession(ctx context.Context, e SessionEvent) error {
	query := `
		INSERT INTO session_metrics (id, room_id, user_id, restaurant_id, intent, method, confidence, escalated, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := s.db.Exec(ctx, query, uuid.New(), e.RoomID, e.UserID, e.RestaurantID,
		e.Intent, e.Method, e.Confidence, e.Escalated, e.LatencyMS); err != nil {
		return fmt.Errorf("feedback: insert session metric: %w", err)
	}
	return nil
}

// CountNegativeRatings counts ratings at or below NegativeRatingThreshold in
// the room since now-window.
func (s *Store) CountNegativeRatings(ctx context.Context, roomID string, window time.Duration) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM feedback_ratings
		WHERE room_id = $1 AND score <= $2 AND created_at >= $3
	`
	var count int
	since := s.now().Add(-window).UTC()
	if err := s.db.QueryRow(ctx, query, roomID, NegativeRatingThreshold, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("feedback: count negative ratings: %w", err)
	}
	return count, nil
}
