// Package catalog exposes the read-only restaurant, menu and customer lookups
// the conversation engine consumes.
package catalog

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when a restaurant or dish does not exist.
var ErrNotFound = errors.New("catalog: not found")

// Dish is a menu item considered for recommendation.
type Dish struct {
	ID           string  `json:"id"`
	RestaurantID string  `json:"restaurant_id"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	Category     string  `json:"category"`
	Price        float64 `json:"price"`
	Rating       float64 `json:"rating"`
	ReviewCount  int     `json:"review_count"`
	IsVegetarian bool    `json:"is_vegetarian"`
	IsSpicy      bool    `json:"is_spicy"`
	IsFeatured   bool    `json:"is_featured"`
	IsAvailable  bool    `json:"is_available"`
}

// RestaurantContext is the restaurant profile used for FAQ answers and prompts.
type RestaurantContext struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Hours       string  `json:"hours"`
	Address     string  `json:"address"`
	City        string  `json:"city"`
	Phone       string  `json:"phone"`
	Email       string  `json:"email,omitempty"`
	Rating      float64 `json:"rating"`
	DeliveryFee float64 `json:"delivery_fee"`
	// DeliveryRadiusKm is zero when the restaurant does not deliver.
	DeliveryRadiusKm float64  `json:"delivery_radius_km"`
	PaymentMethods   []string `json:"payment_methods,omitempty"`
}

// OffersDelivery reports whether delivery details are configured.
func (r *RestaurantContext) OffersDelivery() bool {
	return r != nil && r.DeliveryRadiusKm > 0
}

// MenuSummary condenses the menu for prompts and menu FAQs.
type MenuSummary struct {
	Categories    []string `json:"categories"`
	FeaturedItems []string `json:"featured_items"`
	TotalItems    int      `json:"total_items"`
	MinPrice      float64  `json:"min_price"`
	MaxPrice      float64  `json:"max_price"`
}

// SearchFilters narrows SearchMenuItems. Zero values mean "no filter".
type SearchFilters struct {
	Category       string   `json:"category,omitempty"`
	VegetarianOnly bool     `json:"vegetarian_only,omitempty"`
	MaxPrice       *float64 `json:"max_price,omitempty"`
	Query          string   `json:"query,omitempty"`
	Limit          int      `json:"limit,omitempty"`
}

// Matches applies the filters to a single dish. Unavailable dishes never match.
func (f SearchFilters) Matches(d Dish) bool {
	if !d.IsAvailable {
		return false
	}
	if f.Category != "" && !strings.EqualFold(f.Category, d.Category) {
		return false
	}
	if f.VegetarianOnly && !d.IsVegetarian {
		return false
	}
	if f.MaxPrice != nil && d.Price > *f.MaxPrice {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(d.Name), q) && !strings.Contains(strings.ToLower(d.Description), q) {
			return false
		}
	}
	return true
}

// CustomerPreferences is derived from a customer's order history.
type CustomerPreferences struct {
	CustomerID          string   `json:"customer_id"`
	DietaryRestrictions []string `json:"dietary_restrictions"`
	FavoriteCategories  []string `json:"favorite_categories"`
	SpiceTolerance      string   `json:"spice_tolerance"`
	TotalOrders         int      `json:"total_orders"`
	AverageOrderValue   float64  `json:"average_order_value"`
}

// Source answers restaurant and menu questions.
type Source interface {
	RestaurantContext(ctx context.Context, restaurantID string) (*RestaurantContext, error)
	MenuSummary(ctx context.Context, restaurantID string) (*MenuSummary, error)
	SearchMenuItems(ctx context.Context, restaurantID string, filters SearchFilters) ([]Dish, error)
	GetDish(ctx context.Context, restaurantID, dishID string) (*Dish, error)
}

// CustomerSource answers customer preference questions.
type CustomerSource interface {
	CustomerPreferences(ctx context.Context, customerID string) (*CustomerPreferences, error)
}

// Spice tolerance labels shared with the conversation engine.
const (
	SpiceLow    = "low"
	SpiceMedium = "medium"
	SpiceHigh   = "high"
)

type orderedItem struct {
	category   string
	spicy      bool
	vegetarian bool
	quantity   int
}

// derivePreferences turns ordered line items into preference signals.
func derivePreferences(customerID string, totalOrders int, avgOrderValue float64, items []orderedItem) *CustomerPreferences {
	prefs := &CustomerPreferences{
		CustomerID:          customerID,
		TotalOrders:         totalOrders,
		AverageOrderValue:   avgOrderValue,
		DietaryRestrictions: []string{},
		FavoriteCategories:  []string{},
	}
	if len(items) == 0 {
		return prefs
	}

	var total, spicy, vegetarian int
	categoryCounts := make(map[string]int)
	var categoryOrder []string
	for _, it := range items {
		qty := it.quantity
		if qty <= 0 {
			qty = 1
		}
		total += qty
		if it.spicy {
			spicy += qty
		}
		if it.vegetarian {
			vegetarian += qty
		}
		if it.category != "" {
			if _, ok := categoryCounts[it.category]; !ok {
				categoryOrder = append(categoryOrder, it.category)
			}
			categoryCounts[it.category] += qty
		}
	}

	spiceShare := float64(spicy) / float64(total)
	switch {
	case spiceShare > 0.5:
		prefs.SpiceTolerance = SpiceHigh
	case spiceShare > 0.2:
		prefs.SpiceTolerance = SpiceMedium
	default:
		prefs.SpiceTolerance = SpiceLow
	}

	if vegetarian == total && totalOrders >= 3 {
		prefs.DietaryRestrictions = append(prefs.DietaryRestrictions, "vegetarian")
	}

	// Top three categories by quantity; first-seen order breaks ties.
	for len(prefs.FavoriteCategories) < 3 && len(categoryOrder) > 0 {
		best := 0
		for i, c := range categoryOrder {
			if categoryCounts[c] > categoryCounts[categoryOrder[best]] {
				best = i
			}
		}
		prefs.FavoriteCategories = append(prefs.FavoriteCategories, categoryOrder[best])
		categoryOrder = append(categoryOrder[:best], categoryOrder[best+1:]...)
	}
	return prefs
}
