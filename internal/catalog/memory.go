package catalog

import (
	"context"
	"sync"
)

// MemorySource is an in-process catalog used for local development and tests.
type MemorySource struct {
	mu          sync.RWMutex
	restaurants map[string]*RestaurantContext
	dishes      map[string][]Dish
	customers   map[string]*CustomerPreferences
}

var (
	_ Source         = (*MemorySource)(nil)
	_ CustomerSource = (*MemorySource)(nil)
)

func NewMemorySource() *MemorySource {
	return &MemorySource{
		restaurants: make(map[string]*RestaurantContext),
		dishes:      make(map[string][]Dish),
		customers:   make(map[string]*CustomerPreferences),
	}
}

// PutRestaurant registers a restaurant with its menu, replacing any prior menu.
func (m *MemorySource) PutRestaurant(r RestaurantContext, dishes ...Dish) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc := r
	m.restaurants[r.ID] = &rc
	menu := make([]Dish, len(dishes))
	for i, d := range dishes {
		d.RestaurantID = r.ID
		menu[i] = d
	}
	m.dishes[r.ID] = menu
}

func (m *MemorySource) PutCustomer(p CustomerPreferences) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.customers[p.CustomerID] = &cp
}

func (m *MemorySource) RestaurantContext(ctx context.Context, restaurantID string) (*RestaurantContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.restaurants[restaurantID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *r
	return &out, nil
}

func (m *MemorySource) MenuSummary(ctx context.Context, restaurantID string) (*MenuSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.restaurants[restaurantID]; !ok {
		return nil, ErrNotFound
	}
	return summarize(m.dishes[restaurantID]), nil
}

func (m *MemorySource) SearchMenuItems(ctx context.Context, restaurantID string, filters SearchFilters) ([]Dish, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Dish
	for _, d := range m.dishes[restaurantID] {
		if !filters.Matches(d) {
			continue
		}
		out = append(out, d)
		if filters.Limit > 0 && len(out) >= filters.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemorySource) GetDish(ctx context.Context, restaurantID, dishID string) (*Dish, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.dishes[restaurantID] {
		if d.ID == dishID {
			out := d
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemorySource) CustomerPreferences(ctx context.Context, customerID string) (*CustomerPreferences, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.customers[customerID]
	if !ok {
		return derivePreferences(customerID, 0, 0, nil), nil
	}
	out := *p
	return &out, nil
}

func summarize(dishes []Dish) *MenuSummary {
	summary := &MenuSummary{Categories: []string{}, FeaturedItems: []string{}}
	seen := make(map[string]struct{})
	for _, d := range dishes {
		if !d.IsAvailable {
			continue
		}
		summary.TotalItems++
		if _, ok := seen[d.Category]; !ok && d.Category != "" {
			seen[d.Category] = struct{}{}
			summary.Categories = append(summary.Categories, d.Category)
		}
		if d.IsFeatured {
			summary.FeaturedItems = append(summary.FeaturedItems, d.Name)
		}
		if summary.MinPrice == 0 || d.Price < summary.MinPrice {
			summary.MinPrice = d.Price
		}
		if d.Price > summary.MaxPrice {
			summary.MaxPrice = d.Price
		}
	}
	return summary
}
