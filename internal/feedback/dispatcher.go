package feedback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/restaurant-chatbot/internal/observability/metrics"
	"github.com/wolfman30/restaurant-chatbot/pkg/logging"
)

// ErrDispatcherClosed is returned by Shutdown when called twice.
var ErrDispatcherClosed = errors.New("feedback: dispatcher closed")

// Recorder is the write side of the analytics store.
type Recorder interface {
	RecordRecommendation(ctx context.Context, e RecommendationEvent) error
	RecordSession(ctx context.Context, e SessionEvent) error
}

type job struct {
	session        *SessionEvent
	recommendation *RecommendationEvent
}

// Dispatcher moves analytics writes off the request path. Events are queued
// on a bounded channel drained by a single worker; a full queue drops events.
type Dispatcher struct {
	recorder     Recorder
	logger       *logging.Logger
	metrics      *metrics.ChatbotMetrics
	queue        chan job
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(recorder Recorder, queueSize int, logger *logging.Logger, m *metrics.ChatbotMetrics) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &Dispatcher{
		recorder:     recorder,
		logger:       logger,
		metrics:      m,
		queue:        make(chan job, queueSize),
		writeTimeout: 3 * time.Second,
		done:         make(chan struct{}),
	}
	go d.run()
	return d
}

// WithWriteTimeout bounds each store write.
func (d *Dispatcher) WithWriteTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.writeTimeout = timeout
	}
	return d
}

func (d *Dispatcher) Session(e SessionEvent) {
	d.enqueue(job{session: &e})
}

func (d *Dispatcher) Recommendation(e RecommendationEvent) {
	d.enqueue(job{recommendation: &e})
}

func (d *Dispatcher) enqueue(j job) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed || d.recorder == nil {
		return
	}
	select {
	case d.queue <- j:
	default:
		d.metrics.ObserveFeedbackDropped()
		d.logger.Warn("feedback queue full, dropping event")
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for j := range d.queue {
		d.handle(j)
	}
}

func (d *Dispatcher) handle(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.writeTimeout)
	defer cancel()

	switch {
	case j.session != nil:
		if err := d.recorder.RecordSession(ctx, *j.session); err != nil {
			d.logger.Warn("failed to record session metric", "error", err, "room_id", j.session.RoomID)
		}
	case j.recommendation != nil:
		if err := d.recorder.RecordRecommendation(ctx, *j.recommendation); err != nil {
			d.logger.Warn("failed to record recommendation event", "error", err, "room_id", j.recommendation.RoomID)
		}
	}
}

// Shutdown stops accepting events and waits for queued ones to drain.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
