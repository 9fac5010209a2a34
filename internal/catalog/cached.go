package catalog

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/restaurant-chatbot/internal/cache"
	"github.com/wolfman30/restaurant-chatbot/pkg/logging"
)

// Cache TTLs for catalog lookups. Staleness within these windows is acceptable.
const (
	RestaurantTTL  = 24 * time.Hour
	MenuSummaryTTL = time.Hour
	MenuSearchTTL  = time.Hour
	CustomerTTL    = 6 * time.Hour
)

// CachedSource is a read-through cache in front of a Source and CustomerSource.
// Cache failures are logged and fall through to the origin.
type CachedSource struct {
	origin    Source
	customers CustomerSource
	cache     cache.Store
	logger    *logging.Logger
}

var (
	_ Source         = (*CachedSource)(nil)
	_ CustomerSource = (*CachedSource)(nil)
)

func NewCachedSource(origin Source, customers CustomerSource, store cache.Store, logger *logging.Logger) *CachedSource {
	if origin == nil {
		panic("catalog: origin source required")
	}
	if store == nil {
		panic("catalog: cache store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedSource{origin: origin, customers: customers, cache: store, logger: logger}
}

func (c *CachedSource) RestaurantContext(ctx context.Context, restaurantID string) (*RestaurantContext, error) {
	return readThrough(ctx, c, "restaurant:"+restaurantID, RestaurantTTL, func() (*RestaurantContext, error) {
		return c.origin.RestaurantContext(ctx, restaurantID)
	})
}

func (c *CachedSource) MenuSummary(ctx context.Context, restaurantID string) (*MenuSummary, error) {
	return readThrough(ctx, c, "menu_summary:"+restaurantID, MenuSummaryTTL, func() (*MenuSummary, error) {
		return c.origin.MenuSummary(ctx, restaurantID)
	})
}

func (c *CachedSource) SearchMenuItems(ctx context.Context, restaurantID string, filters SearchFilters) ([]Dish, error) {
	key := fmt.Sprintf("menu_search:%s:%s", restaurantID, filtersDigest(filters))
	out, err := readThrough(ctx, c, key, MenuSearchTTL, func() (*[]Dish, error) {
		dishes, err := c.origin.SearchMenuItems(ctx, restaurantID, filters)
		if err != nil {
			return nil, err
		}
		return &dishes, nil
	})
	if err != nil {
		return nil, err
	}
	return *out, nil
}

func (c *CachedSource) GetDish(ctx context.Context, restaurantID, dishID string) (*Dish, error) {
	return readThrough(ctx, c, "dish:"+restaurantID+":"+dishID, MenuSearchTTL, func() (*Dish, error) {
		return c.origin.GetDish(ctx, restaurantID, dishID)
	})
}

func (c *CachedSource) CustomerPreferences(ctx context.Context, customerID string) (*CustomerPreferences, error) {
	if c.customers == nil {
		return derivePreferences(customerID, 0, 0, nil), nil
	}
	return readThrough(ctx, c, "customer:"+customerID, CustomerTTL, func() (*CustomerPreferences, error) {
		return c.customers.CustomerPreferences(ctx, customerID)
	})
}

// Invalidate drops cached restaurant and menu entries after catalog edits.
// Search results keyed by filter digest expire on their own TTL.
func (c *CachedSource) Invalidate(ctx context.Context, restaurantID string) error {
	return c.cache.Delete(ctx, "restaurant:"+restaurantID, "menu_summary:"+restaurantID)
}

func readThrough[T any](ctx context.Context, c *CachedSource, key string, ttl time.Duration, load func() (*T, error)) (*T, error) {
	cached, err := cache.GetJSON[T](ctx, c.cache, key)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		c.logger.Warn("catalog cache read failed", "key", key, "error", err)
	}

	value, err := load()
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, c.cache, key, value, ttl); err != nil {
		c.logger.Warn("catalog cache write failed", "key", key, "error", err)
	}
	return value, nil
}

func filtersDigest(f SearchFilters) string {
	data, _ := json.Marshal(f)
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:8])
}
