package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresSource reads restaurants, menus and order history from Postgres.
type PostgresSource struct {
	db pgxQuerier
}

var (
	_ Source         = (*PostgresSource)(nil)
	_ CustomerSource = (*PostgresSource)(nil)
)

// NewPostgresSource initializes a source backed by pgxpool.
func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	if pool == nil {
		panic("catalog: pgx pool required")
	}
	return &PostgresSource{db: pool}
}

func newPostgresSourceWithQuerier(db pgxQuerier) *PostgresSource {
	return &PostgresSource{db: db}
}

const dishColumns = `id, restaurant_id, name, description, category, price::float8, rating::float8,
		review_count, is_vegetarian, is_spicy, is_featured, is_available`

func (s *PostgresSource) RestaurantContext(ctx context.Context, restaurantID string) (*RestaurantContext, error) {
	query := `
		SELECT id, name, opening_hours, address, city, phone, email, rating::float8,
		       delivery_fee::float8, delivery_radius_km::float8, payment_methods
		FROM restaurants
		WHERE id = $1 AND is_active = TRUE
	`
	var r RestaurantContext
	var paymentMethods string
	if err := s.db.QueryRow(ctx, query, restaurantID).Scan(
		&r.ID,
		&r.Name,
		&r.Hours,
		&r.Address,
		&r.City,
		&r.Phone,
		&r.Email,
		&r.Rating,
		&r.DeliveryFee,
		&r.DeliveryRadiusKm,
		&paymentMethods,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: load restaurant: %w", err)
	}
	for _, m := range strings.Split(paymentMethods, ",") {
		if m = strings.TrimSpace(m); m != "" {
			r.PaymentMethods = append(r.PaymentMethods, m)
		}
	}
	return &r, nil
}

func (s *PostgresSource) MenuSummary(ctx context.Context, restaurantID string) (*MenuSummary, error) {
	dishes, err := s.SearchMenuItems(ctx, restaurantID, SearchFilters{})
	if err != nil {
		return nil, err
	}
	return summarize(dishes), nil
}

func (s *PostgresSource) SearchMenuItems(ctx context.Context, restaurantID string, filters SearchFilters) ([]Dish, error) {
	var (
		b    strings.Builder
		args = []any{restaurantID}
	)
	b.WriteString("SELECT " + dishColumns + " FROM menu_items WHERE restaurant_id = $1 AND is_available = TRUE")
	if filters.Category != "" {
		args = append(args, filters.Category)
		fmt.Fprintf(&b, " AND lower(category) = lower($%d)", len(args))
	}
	if filters.VegetarianOnly {
		b.WriteString(" AND is_vegetarian = TRUE")
	}
	if filters.MaxPrice != nil {
		args = append(args, *filters.MaxPrice)
		fmt.Fprintf(&b, " AND price <= $%d", len(args))
	}
	if q := strings.TrimSpace(filters.Query); q != "" {
		args = append(args, "%"+q+"%")
		fmt.Fprintf(&b, " AND (name ILIKE $%d OR description ILIKE $%d)", len(args), len(args))
	}
	b.WriteString(" ORDER BY is_featured DESC, rating DESC, id")
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: search menu: %w", err)
	}
	defer rows.Close()

	var dishes []Dish
	for rows.Next() {
		d, err := scanDish(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan menu item: %w", err)
		}
		dishes = append(dishes, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate menu: %w", err)
	}
	return dishes, nil
}

func (s *PostgresSource) GetDish(ctx context.Context, restaurantID, dishID string) (*Dish, error) {
	query := "SELECT " + dishColumns + " FROM menu_items WHERE restaurant_id = $1 AND id = $2"
	d, err := scanDish(s.db.QueryRow(ctx, query, restaurantID, dishID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: load dish: %w", err)
	}
	return &d, nil
}

// CustomerPreferences derives preferences from the customer's completed orders.
func (s *PostgresSource) CustomerPreferences(ctx context.Context, customerID string) (*CustomerPreferences, error) {
	var (
		totalOrders int
		avgValue    float64
	)
	if err := s.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(AVG(total_amount), 0)::float8
		FROM orders
		WHERE customer_id = $1 AND status = 'completed'
	`, customerID).Scan(&totalOrders, &avgValue); err != nil {
		return nil, fmt.Errorf("catalog: load order totals: %w", err)
	}
	if totalOrders == 0 {
		return derivePreferences(customerID, 0, 0, nil), nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT m.category, m.is_spicy, m.is_vegetarian, oi.quantity
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		JOIN menu_items m ON m.id = oi.menu_item_id
		WHERE o.customer_id = $1 AND o.status = 'completed'
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("catalog: load ordered items: %w", err)
	}
	defer rows.Close()

	var items []orderedItem
	for rows.Next() {
		var it orderedItem
		if err := rows.Scan(&it.category, &it.spicy, &it.vegetarian, &it.quantity); err != nil {
			return nil, fmt.Errorf("catalog: scan ordered item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate ordered items: %w", err)
	}
	return derivePreferences(customerID, totalOrders, avgValue, items), nil
}

func scanDish(row pgx.Row) (Dish, error) {
	var d Dish
	err := row.Scan(
		&d.ID,
		&d.RestaurantID,
		&d.Name,
		&d.Description,
		&d.Category,
		&d.Price,
		&d.Rating,
		&d.ReviewCount,
		&d.IsVegetarian,
		&d.IsSpicy,
		&d.IsFeatured,
		&d.IsAvailable,
	)
	return d, err
}
