// Package support hands conversations over to restaurant staff.
package support

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/restaurant-chatbot/pkg/logging"
)

var escalationTracer = otel.Tracer("restaurant/escalation")

// ErrEscalationNotFound is returned when resolving an unknown or closed escalation.
var ErrEscalationNotFound = errors.New("support: escalation not found or already resolved")

// Priority represents the urgency of a hand-off.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// Status of an escalation record.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusResolved Status = "RESOLVED"
)

// Reasons that escalate on their own.
const (
	ReasonHumanRequested = "User requested human"
	ReasonFrustrated     = "User frustrated"
	ReasonKeyword        = "Escalation keyword detected"
)

// Escalation is a staff hand-off record.
type Escalation struct {
	ID                uuid.UUID  `json:"id"`
	RoomID            string     `json:"room_id"`
	RestaurantID      string     `json:"restaurant_id"`
	UserID            string     `json:"user_id"`
	Reason            string     `json:"reason"`
	Priority          Priority   `json:"priority"`
	Status            Status     `json:"status"`
	TranscriptSummary string     `json:"transcript_summary,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy        string     `json:"resolved_by,omitempty"`
	Resolution        string     `json:"resolution,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// EscalationRequest describes a conversation that needs staff.
type EscalationRequest struct {
	RoomID       string
	RestaurantID string
	UserID       string
	Reasons      []string
	Transcript   []TranscriptLine
}

// Reason joins the request reasons for storage and display.
func (r EscalationRequest) Reason() string {
	if len(r.Reasons) == 0 {
		return "Escalation requested"
	}
	return strings.Join(r.Reasons, "; ")
}

// PriorityFor ranks a set of escalation reasons.
func PriorityFor(reasons []string) Priority {
	priority := PriorityLow
	for _, r := range reasons {
		switch r {
		case ReasonFrustrated, ReasonKeyword:
			return PriorityHigh
		case ReasonHumanRequested:
			priority = PriorityMedium
		}
	}
	return priority
}

// EscalationStats summarises hand-offs for a restaurant over a window.
type EscalationStats struct {
	RestaurantID         string  `json:"restaurant_id"`
	Days                 int     `json:"days"`
	TotalRooms           int     `json:"total_rooms"`
	EscalatedRooms       int     `json:"escalated_rooms"`
	TotalEscalations     int     `json:"total_escalations"`
	EscalationRate       float64 `json:"escalation_rate"`
	Resolved             int     `json:"resolved"`
	Unresolved           int     `json:"unresolved"`
	AvgResolutionMinutes float64 `json:"avg_resolution_minutes"`
}

// EscalationService records hand-offs in Postgres.
type EscalationService struct {
	db     *sql.DB
	logger *logging.Logger
	now    func() time.Time
}

func NewEscalationService(db *sql.DB, logger *logging.Logger) *EscalationService {
	if logger == nil {
		logger = logging.Default()
	}
	return &EscalationService{db: db, logger: logger, now: time.Now}
}

// HandoffNotice is the system message posted into the room on escalation.
func HandoffNotice(reason string) string {
	return "Conversation escalated to staff. Reason: " + reason
}

// Escalate marks the room as waiting for a human, posts a system message and
// stores the escalation record in one transaction.
func (s *EscalationService) Escalate(ctx context.Context, req EscalationRequest) (*Escalation, error) {
	ctx, span := escalationTracer.Start(ctx, "escalation.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.room_id", req.RoomID),
		attribute.String("restaurant.id", req.RestaurantID),
	)

	if s.db == nil {
		return nil, fmt.Errorf("support: database not configured")
	}

	now := s.now().UTC()
	e := &Escalation{
		ID:                uuid.New(),
		RoomID:            req.RoomID,
		RestaurantID:      req.RestaurantID,
		UserID:            req.UserID,
		Reason:            req.Reason(),
		Priority:          PriorityFor(req.Reasons),
		Status:            StatusPending,
		TranscriptSummary: FormatTranscript(req.Transcript, 10),
		CreatedAt:         now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("support: begin escalation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	roomQuery := `
		INSERT INTO chat_rooms (id, restaurant_id, user_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
	`
	if _, err := tx.ExecContext(ctx, roomQuery, req.RoomID, req.RestaurantID, req.UserID, RoomWaitingForHuman, now); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("support: mark room waiting: %w", err)
	}

	msgQuery := `
		INSERT INTO chat_messages (id, room_id, sender_type, content, created_at)
		VALUES ($1, $2, 'system', $3, $4)
	`
	if _, err := tx.ExecContext(ctx, msgQuery, uuid.New(), req.RoomID, HandoffNotice(e.Reason), now); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("support: insert system message: %w", err)
	}

	escQuery := `
		INSERT INTO escalations (id, room_id, restaurant_id, user_id, reason, priority, status, transcript_summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := tx.ExecContext(ctx, escQuery, e.ID, e.RoomID, e.RestaurantID, e.UserID, e.Reason, e.Priority, e.Status, e.TranscriptSummary, e.CreatedAt); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("support: store escalation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("support: commit escalation: %w", err)
	}

	s.logger.Info("conversation escalated",
		"id", e.ID,
		"room_id", e.RoomID,
		"restaurant_id", e.RestaurantID,
		"priority", e.Priority,
		"reason", e.Reason,
	)
	return e, nil
}

// Resolve marks an escalation as resolved and returns the room to active.
func (s *EscalationService) Resolve(ctx context.Context, escalationID uuid.UUID, staffMember, resolution string) error {
	now := s.now().UTC()
	query := `
		UPDATE escalations
		SET status = $1, resolved_at = $2, resolved_by = $3, resolution = $4
		WHERE id = $5 AND status != $1
		RETURNING room_id
	`
	var roomID string
	err := s.db.QueryRowContext(ctx, query, StatusResolved, now, staffMember, resolution, escalationID).Scan(&roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrEscalationNotFound
	}
	if err != nil {
		return fmt.Errorf("support: resolve escalation: %w", err)
	}

	roomQuery := `UPDATE chat_rooms SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	if _, err := s.db.ExecContext(ctx, roomQuery, RoomActive, now, roomID, RoomWaitingForHuman); err != nil {
		s.logger.Warn("failed to reactivate room after resolution", "error", err, "room_id", roomID)
	}

	s.logger.Info("escalation resolved", "id", escalationID, "by", staffMember)
	return nil
}

// Stats reports escalation volume over the last `days` days.
func (s *EscalationService) Stats(ctx context.Context, restaurantID string, days int) (*EscalationStats, error) {
	if days <= 0 {
		days = 7
	}
	since := s.now().UTC().AddDate(0, 0, -days)
	stats := &EscalationStats{RestaurantID: restaurantID, Days: days}

	roomQuery := `SELECT COUNT(*) FROM chat_rooms WHERE restaurant_id = $1 AND created_at >= $2`
	if err := s.db.QueryRowContext(ctx, roomQuery, restaurantID, since).Scan(&stats.TotalRooms); err != nil {
		return nil, fmt.Errorf("support: count rooms: %w", err)
	}

	escQuery := `
		SELECT COUNT(*),
		       COUNT(DISTINCT room_id),
		       COUNT(resolved_at),
		       COALESCE(AVG(EXTRACT(EPOCH FROM (resolved_at - created_at)) / 60.0), 0)
		FROM escalations
		WHERE restaurant_id = $1 AND created_at >= $2
	`
	if err := s.db.QueryRowContext(ctx, escQuery, restaurantID, since).Scan(
		&stats.TotalEscalations, &stats.EscalatedRooms, &stats.Resolved, &stats.AvgResolutionMinutes,
	); err != nil {
		return nil, fmt.Errorf("support: escalation stats: %w", err)
	}

	stats.Unresolved = stats.TotalEscalations - stats.Resolved
	if stats.TotalRooms > 0 {
		stats.EscalationRate = float64(stats.EscalatedRooms) / float64(stats.TotalRooms)
	}
	return stats, nil
}

// Pending lists unresolved escalations for a restaurant, most urgent first.
func (s *EscalationService) Pending(ctx context.Context, restaurantID string) ([]*Escalation, error) {
	query := `
		SELECT id, room_id, restaurant_id, user_id, reason, priority, status, transcript_summary,
		       resolved_at, resolved_by, resolution, created_at
		FROM escalations
		WHERE restaurant_id = $1 AND status = $2
		ORDER BY
			CASE priority WHEN 'HIGH' THEN 1 WHEN 'MEDIUM' THEN 2 ELSE 3 END,
			created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, restaurantID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("support: list pending escalations: %w", err)
	}
	defer rows.Close()

	var out []*Escalation
	for rows.Next() {
		var e Escalation
		var summary, resolvedBy, resolution sql.NullString
		var resolvedAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.RoomID, &e.RestaurantID, &e.UserID, &e.Reason, &e.Priority, &e.Status,
			&summary, &resolvedAt, &resolvedBy, &resolution, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("support: scan escalation: %w", err)
		}
		e.TranscriptSummary = summary.String
		e.ResolvedBy = resolvedBy.String
		e.Resolution = resolution.String
		if resolvedAt.Valid {
			e.ResolvedAt = &resolvedAt.Time
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
