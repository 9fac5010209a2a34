package support

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/restaurant-chatbot/pkg/logging"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var fixedNow = time.Date(2026, 5, 4, 18, 30, 0, 0, time.UTC)

func TestEscalateWritesRoomMessageAndRecord(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewEscalationService(db, logging.Discard())
	svc.now = func() time.Time { return fixedNow }

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chat_rooms").
		WithArgs("room-1", "r1", "user-1", RoomWaitingForHuman, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO chat_messages").
		WithArgs(sqlmock.AnyArg(), "room-1", "Conversation escalated to staff. Reason: User requested human; Low confidence", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO escalations").
		WithArgs(sqlmock.AnyArg(), "room-1", "r1", "user-1", "User requested human; Low confidence", "MEDIUM", "PENDING", "Customer: get me a human", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	esc, err := svc.Escalate(context.Background(), EscalationRequest{
		RoomID:       "room-1",
		RestaurantID: "r1",
		UserID:       "user-1",
		Reasons:      []string{ReasonHumanRequested, "Low confidence"},
		Transcript:   []TranscriptLine{{Role: "user", Content: "get me a human"}},
	})
	require.NoError(t, err)
	assert.Equal(t, PriorityMedium, esc.Priority)
	assert.Equal(t, StatusPending, esc.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEscalateRollsBackOnFailure(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewEscalationService(db, logging.Discard())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chat_rooms").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO chat_messages").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := svc.Escalate(context.Background(), EscalationRequest{RoomID: "room-1", Reasons: []string{ReasonFrustrated}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert system message")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolve(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewEscalationService(db, logging.Discard())
	svc.now = func() time.Time { return fixedNow }
	id := uuid.New()

	mock.ExpectQuery("UPDATE escalations").
		WithArgs("RESOLVED", fixedNow, "alice", "called back", id).
		WillReturnRows(sqlmock.NewRows([]string{"room_id"}).AddRow("room-1"))
	mock.ExpectExec("UPDATE chat_rooms").
		WithArgs(RoomActive, fixedNow, "room-1", RoomWaitingForHuman).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.Resolve(context.Background(), id, "alice", "called back"))

	mock.ExpectQuery("UPDATE escalations").WillReturnError(sql.ErrNoRows)
	assert.ErrorIs(t, svc.Resolve(context.Background(), id, "alice", "again"), ErrEscalationNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStats(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewEscalationService(db, logging.Discard())
	svc.now = func() time.Time { return fixedNow }
	since := fixedNow.AddDate(0, 0, -7)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM chat_rooms").
		WithArgs("r1", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(20))
	mock.ExpectQuery("FROM escalations").
		WithArgs("r1", since).
		WillReturnRows(sqlmock.NewRows([]string{"total", "rooms", "resolved", "avg"}).AddRow(5, 4, 3, 12.5))

	stats, err := svc.Stats(context.Background(), "r1", 0)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Days)
	assert.Equal(t, 20, stats.TotalRooms)
	assert.Equal(t, 4, stats.EscalatedRooms)
	assert.InDelta(t, 0.2, stats.EscalationRate, 1e-9)
	assert.Equal(t, 2, stats.Unresolved)
	assert.Equal(t, 12.5, stats.AvgResolutionMinutes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPending(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewEscalationService(db, logging.Discard())
	id := uuid.New()

	mock.ExpectQuery("FROM escalations").
		WithArgs("r1", "PENDING").
		WillReturnRows(sqlmock.NewRows([]string{"id", "room_id", "restaurant_id", "user_id", "reason", "priority", "status", "transcript_summary", "resolved_at", "resolved_by", "resolution", "created_at"}).
			AddRow(id.String(), "room-1", "r1", "user-1", "User frustrated", "HIGH", "PENDING", nil, nil, nil, nil, fixedNow))

	pending, err := svc.Pending(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
	assert.Equal(t, PriorityHigh, pending[0].Priority)
	assert.Nil(t, pending[0].ResolvedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		reasons []string
		want    Priority
	}{
		{nil, PriorityLow},
		{[]string{"Low confidence", "Long conversation"}, PriorityLow},
		{[]string{ReasonHumanRequested}, PriorityMedium},
		{[]string{ReasonHumanRequested, ReasonFrustrated}, PriorityHigh},
		{[]string{ReasonKeyword}, PriorityHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PriorityFor(tt.reasons), "reasons=%v", tt.reasons)
	}
}

func TestRoomStore(t *testing.T) {
	db, mock := newMockDB(t)
	rooms := NewRoomStore(db)
	rooms.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO chat_rooms").
		WithArgs("room-1", "r1", "user-1", RoomActive, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, rooms.Touch(ctx, "room-1", "r1", "user-1"))

	mock.ExpectQuery("SELECT status FROM chat_rooms").WithArgs("room-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(RoomWaitingForHuman))
	waiting, err := rooms.IsWaitingForHuman(ctx, "room-1")
	require.NoError(t, err)
	assert.True(t, waiting)

	mock.ExpectQuery("SELECT status FROM chat_rooms").WithArgs("ghost").WillReturnError(sql.ErrNoRows)
	waiting, err = rooms.IsWaitingForHuman(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, waiting)

	mock.ExpectExec(`UPDATE chat_rooms SET status = \$1, closed_at = \$2, updated_at = \$2, context_cleared_at = NULL`).
		WithArgs(RoomClosed, fixedNow, "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, rooms.CloseRoom(ctx, "ghost"), ErrRoomNotFound)

	cutoff := fixedNow.Add(-time.Hour)
	mock.ExpectQuery(`SELECT id FROM chat_rooms\s+WHERE status = \$1 AND closed_at < \$2 AND context_cleared_at IS NULL`).
		WithArgs(RoomClosed, cutoff, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("room-7").AddRow("room-9"))
	ids, err := rooms.ListClosedRooms(ctx, cutoff, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"room-7", "room-9"}, ids)

	mock.ExpectExec("UPDATE chat_rooms SET context_cleared_at").
		WithArgs(fixedNow, "room-7").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, rooms.MarkContextCleared(ctx, "room-7"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFormatTranscript(t *testing.T) {
	lines := []TranscriptLine{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello!", Timestamp: time.Date(2026, 1, 1, 9, 5, 0, 0, time.UTC)},
		{Role: "system", Content: "escalated"},
	}
	assert.Equal(t, "Customer: hi\n[09:05] Bot: hello!\nSystem: escalated", FormatTranscript(lines, 0))
	assert.Equal(t, "System: escalated", FormatTranscript(lines, 1))
	assert.Empty(t, FormatTranscript(nil, 5))
}
