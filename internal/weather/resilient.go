package weather

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/wolfman30/restaurant-chatbot/internal/cache"
	"github.com/wolfman30/restaurant-chatbot/pkg/logging"
)

// BreakerConfig tunes the circuit breaker around the upstream provider.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	Timeout          time.Duration
	MaxRequests      uint32
}

// DefaultBreakerConfig opens after 3 consecutive failures and retries after 1 minute.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "weather",
		FailureThreshold: 3,
		Timeout:          time.Minute,
		MaxRequests:      1,
	}
}

// ResilientProvider caches conditions per city and stops calling a failing
// upstream until the breaker half-opens.
type ResilientProvider struct {
	upstream Provider
	cache    cache.Store
	ttl      time.Duration
	breaker  *gobreaker.CircuitBreaker[*Conditions]
	logger   *logging.Logger
}

var _ Provider = (*ResilientProvider)(nil)

func NewResilientProvider(upstream Provider, store cache.Store, ttl time.Duration, cfg BreakerConfig, logger *logging.Logger) *ResilientProvider {
	if upstream == nil {
		panic("weather: upstream provider required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("weather circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &ResilientProvider{
		upstream: upstream,
		cache:    store,
		ttl:      ttl,
		breaker:  gobreaker.NewCircuitBreaker[*Conditions](settings),
		logger:   logger,
	}
}

// State exposes the breaker state for health reporting.
func (p *ResilientProvider) State() string {
	return p.breaker.State().String()
}

func (p *ResilientProvider) ByCity(ctx context.Context, city string) (*Conditions, error) {
	key := "weather:" + strings.ToLower(strings.TrimSpace(city))
	if p.cache != nil {
		cached, err := cache.GetJSON[Conditions](ctx, p.cache, key)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			p.logger.Debug("weather cache read failed", "city", city, "error", err)
		}
	}

	conditions, err := p.breaker.Execute(func() (*Conditions, error) {
		return p.upstream.ByCity(ctx, city)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}

	if p.cache != nil {
		if err := cache.SetJSON(ctx, p.cache, key, conditions, p.ttl); err != nil {
			p.logger.Debug("weather cache write failed", "city", city, "error", err)
		}
	}
	return conditions, nil
}
