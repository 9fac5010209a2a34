package conversation

import (
	"context"
	"time"

	"github.com/wolfman30/restaurant-chatbot/pkg/logging"
)

// ClosedRoomLister lists closed rooms whose context is still cached and
// records when a room has been purged.
type ClosedRoomLister interface {
	ListClosedRooms(ctx context.Context, closedBefore time.Time, limit int) ([]string, error)
	MarkContextCleared(ctx context.Context, roomID string) error
}

// ContextClearer abstracts ContextStore.Clear for the sweeper.
type ContextClearer interface {
	Clear(ctx context.Context, roomID string) error
}

const (
	defaultSweepInterval = 15 * time.Minute
	defaultStaleAfter    = time.Hour
	sweepBatchSize       = 200
)

// ClosedRoomSweeper periodically clears cached context for rooms that have
// been closed longer than staleAfter.
type ClosedRoomSweeper struct {
	contexts   ContextClearer
	rooms      ClosedRoomLister
	interval   time.Duration
	staleAfter time.Duration
	logger     *logging.Logger
	now        func() time.Time
	batchSize  int
}

func NewClosedRoomSweeper(contexts ContextClearer, rooms ClosedRoomLister, logger *logging.Logger) *ClosedRoomSweeper {
	if contexts == nil || rooms == nil {
		panic("conversation: sweeper requires a context store and a room lister")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ClosedRoomSweeper{
		contexts:   contexts,
		rooms:      rooms,
		interval:   defaultSweepInterval,
		staleAfter: defaultStaleAfter,
		logger:     logger,
		now:        time.Now,
		batchSize:  sweepBatchSize,
	}
}

func (s *ClosedRoomSweeper) WithInterval(d time.Duration) *ClosedRoomSweeper {
	if d > 0 {
		s.interval = d
	}
	return s
}

func (s *ClosedRoomSweeper) WithStaleAfter(d time.Duration) *ClosedRoomSweeper {
	if d > 0 {
		s.staleAfter = d
	}
	return s
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *ClosedRoomSweeper) Run(ctx context.Context) {
	s.logger.Info("closed room sweeper started", "interval", s.interval, "stale_after", s.staleAfter)
	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("closed room sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep pages through closed rooms until none are left and returns how many
// rooms were cleared. Rooms whose clear fails stay listed for the next pass.
func (s *ClosedRoomSweeper) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.staleAfter)
	cleared := 0
	for ctx.Err() == nil {
		rooms, err := s.rooms.ListClosedRooms(ctx, cutoff, s.batchSize)
		if err != nil {
			s.logger.Warn("failed to list closed rooms", "error", err)
			break
		}
		progress := 0
		for _, roomID := range rooms {
			if err := s.contexts.Clear(ctx, roomID); err != nil {
				s.logger.Warn("failed to clear closed room context", "room_id", roomID, "error", err)
				continue
			}
			if err := s.rooms.MarkContextCleared(ctx, roomID); err != nil {
				s.logger.Warn("failed to mark room context cleared", "room_id", roomID, "error", err)
				continue
			}
			progress++
		}
		cleared += progress
		if len(rooms) < s.batchSize || progress == 0 {
			break
		}
	}
	if cleared > 0 {
		s.logger.Info("cleared closed room contexts", "rooms", cleared)
	}
	return cleared
}
