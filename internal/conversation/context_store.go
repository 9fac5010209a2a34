package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/restaurant-chatbot/internal/observability/metrics"
	"github.com/wolfman30/restaurant-chatbot/pkg/logging"
)

const (
	contextTTL        = 24 * time.Hour
	contextKeyPrefix  = "chatbot:context:"
	maxUpdateAttempts = 3
)

// ContextUpdate is the single mutation applied to a conversation per call.
type ContextUpdate struct {
	Intent      Intent
	Entities    Entities
	UserMessage string
	BotMessage  string
	// SystemMessage is recorded after the user and bot messages.
	SystemMessage string
	Preferences   map[string]string
}

// ContextStore keeps per (room, user) conversation memory in Redis. Reads and
// writes fail open: when Redis is unavailable callers get an in-memory context.
type ContextStore struct {
	redis   *redis.Client
	tracer  trace.Tracer
	logger  *logging.Logger
	metrics *metrics.ChatbotMetrics
	ttl     time.Duration
	now     func() time.Time
}

func NewContextStore(client *redis.Client, logger *logging.Logger, m *metrics.ChatbotMetrics) *ContextStore {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ContextStore{
		redis:   client,
		tracer:  otel.Tracer("restaurant.internal.conversation.context"),
		logger:  logger,
		metrics: m,
		ttl:     contextTTL,
		now:     time.Now,
	}
}

// contextKey escapes the room ID so the first ':' after the prefix always ends
// it. Otherwise clearing room "a" would match "a:b"'s contexts.
func contextKey(roomID, userID string) string {
	return contextKeyPrefix + roomKeySegment(roomID) + ":" + userID
}

// roomKeySegment leaves no ':' and no glob metacharacters in the room ID.
func roomKeySegment(roomID string) string {
	return url.QueryEscape(roomID)
}

// Get returns the stored context or a fresh one, persisting the fresh one when
// Redis is reachable. It never returns nil.
func (s *ContextStore) Get(ctx context.Context, roomID, userID string) *ConversationContext {
	ctx, span := s.tracer.Start(ctx, "conversation.context.get")
	defer span.End()

	c, err := s.load(ctx, s.redis, roomID, userID)
	switch {
	case err == nil && c != nil:
		return c
	case err != nil:
		span.RecordError(err)
		s.degraded("get", roomID, userID, err)
		return newConversationContext(roomID, userID, s.now().UTC())
	}

	fresh := newConversationContext(roomID, userID, s.now().UTC())
	if err := s.Save(ctx, fresh); err != nil {
		s.degraded("save", roomID, userID, err)
	}
	return fresh
}

// Save persists c with a refreshed TTL.
func (s *ContextStore) Save(ctx context.Context, c *ConversationContext) error {
	ctx, span := s.tracer.Start(ctx, "conversation.context.save")
	defer span.End()

	c.UpdatedAt = s.now().UTC()
	c.Version++
	data, err := json.Marshal(c)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to marshal context: %w", err)
	}
	if err := s.redis.Set(ctx, contextKey(c.RoomID, c.UserID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to persist context: %w", err)
	}
	return nil
}

// Update applies upd atomically with an optimistic WATCH/MULTI transaction.
// After maxUpdateAttempts conflicts the update is written last-write-wins.
func (s *ContextStore) Update(ctx context.Context, roomID, userID string, upd ContextUpdate) *ConversationContext {
	ctx, span := s.tracer.Start(ctx, "conversation.context.update")
	defer span.End()

	key := contextKey(roomID, userID)
	var result *ConversationContext
	txf := func(tx *redis.Tx) error {
		c, err := s.load(ctx, tx, roomID, userID)
		if err != nil {
			return err
		}
		if c == nil {
			c = newConversationContext(roomID, userID, s.now().UTC())
		}
		s.apply(c, upd)
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("conversation: failed to marshal context: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		if err == nil {
			result = c
		}
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.redis.Watch(ctx, txf, key)
		if err == nil {
			return result
		}
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("context update conflict, retrying", "room_id", roomID, "attempt", attempt+1)
			continue
		}
		span.RecordError(err)
		s.degraded("update", roomID, userID, err)
		c := newConversationContext(roomID, userID, s.now().UTC())
		s.apply(c, upd)
		return c
	}

	s.logger.Warn("context update conflicts exhausted, last write wins", "room_id", roomID, "user_id", userID)
	c := s.Get(ctx, roomID, userID)
	s.apply(c, upd)
	c.Version-- // Save increments again.
	if err := s.Save(ctx, c); err != nil {
		s.degraded("save", roomID, userID, err)
	}
	return c
}

// AppendSystemMessage records a system note (for example an escalation reason).
func (s *ContextStore) AppendSystemMessage(ctx context.Context, roomID, userID, content string) *ConversationContext {
	return s.Update(ctx, roomID, userID, ContextUpdate{SystemMessage: content})
}

// IsStale reports whether the context is missing, unreadable, or untouched
// for longer than threshold.
func (s *ContextStore) IsStale(ctx context.Context, roomID, userID string, threshold time.Duration) bool {
	c, err := s.load(ctx, s.redis, roomID, userID)
	if err != nil || c == nil {
		return true
	}
	return s.now().Sub(c.UpdatedAt) > threshold
}

// Clear removes every user's context in the room. Clearing an unknown room is a no-op.
func (s *ContextStore) Clear(ctx context.Context, roomID string) error {
	ctx, span := s.tracer.Start(ctx, "conversation.context.clear")
	defer span.End()

	pattern := contextKeyPrefix + roomKeySegment(roomID) + ":*"
	var keys []string
	iter := s.redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: scan room contexts: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: delete room contexts: %w", err)
	}
	s.logger.Debug("room contexts cleared", "room_id", roomID, "keys", len(keys))
	return nil
}

func (s *ContextStore) apply(c *ConversationContext, upd ContextUpdate) {
	now := s.now().UTC()
	if msg := strings.TrimSpace(upd.UserMessage); msg != "" {
		c.appendHistory(HistoryEntry{Role: ChatRoleUser, Content: msg, Timestamp: now, Intent: upd.Intent})
		c.MessageCount++
	}
	if msg := strings.TrimSpace(upd.BotMessage); msg != "" {
		c.appendHistory(HistoryEntry{Role: ChatRoleAssistant, Content: msg, Timestamp: now, Intent: upd.Intent})
	}
	if msg := strings.TrimSpace(upd.SystemMessage); msg != "" {
		c.appendHistory(HistoryEntry{Role: ChatRoleSystem, Content: msg, Timestamp: now})
	}
	c.Entities = c.Entities.Merge(upd.Entities)
	if c.Preferences == nil {
		c.Preferences = map[string]string{}
	}
	for k, v := range upd.Preferences {
		if v != "" {
			c.Preferences[k] = v
		}
	}
	if upd.Intent != "" {
		c.State = NextState(c.State, upd.Intent)
		c.LastIntent = upd.Intent
	}
	c.Version++
	c.UpdatedAt = now
}

// load returns (nil, nil) when the key does not exist.
func (s *ContextStore) load(ctx context.Context, r redis.Cmdable, roomID, userID string) (*ConversationContext, error) {
	data, err := r.Get(ctx, contextKey(roomID, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to load context: %w", err)
	}
	var c ConversationContext
	if err := json.Unmarshal(data, &c); err != nil {
		// A corrupt payload is replaced on the next write.
		s.logger.Warn("discarding undecodable context", "room_id", roomID, "user_id", userID, "error", err)
		return nil, nil
	}
	if c.Preferences == nil {
		c.Preferences = map[string]string{}
	}
	return &c, nil
}

func (s *ContextStore) degraded(op, roomID, userID string, err error) {
	s.metrics.ObserveStoreError(op)
	s.logger.Warn("context store unavailable, using in-memory context",
		"op", op,
		"room_id", roomID,
		"user_id", userID,
		"error", err,
	)
}
