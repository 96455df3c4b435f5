package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace-service/internal/models"
)

// CreateOrder creates a new order
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (id, buyer_id, seller_id, product_id, offer_id, final_price, status,
			expires_at, version, created_at, updated_at)
		VALUES (:id, :buyer_id, :seller_id, :product_id, :offer_id, :final_price, :status,
			:expires_at, :version, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, query, order); err != nil {
		if _, ok := uniqueViolation(err); ok {
			return models.ErrLiveOrderExists
		}
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// GetOrder retrieves an order by ID
func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindLiveOrderByProduct returns the order holding a product, or nil
func (s *Store) FindLiveOrderByProduct(ctx context.Context, productID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE product_id = $1 AND status IN ($2, $3, $4)",
		productID, models.OrderStatusPending, models.OrderStatusConfirmed, models.OrderStatusCompleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrder writes the mutable fields of order if the stored row still has
// status `from` and the same version. On success order.Version is bumped.
func (s *Store) UpdateOrder(ctx context.Context, order *models.Order, from models.OrderStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			status = $1, confirmed_at = $2, completed_at = $3, cancelled_at = $4,
			cancelled_by = $5, cancellation_reason = $6, version = version + 1, updated_at = $7
		WHERE id = $8 AND status = $9 AND version = $10`,
		order.Status, order.ConfirmedAt, order.CompletedAt, order.CancelledAt,
		order.CancelledBy, order.CancellationReason, order.UpdatedAt,
		order.ID, from, order.Version)
	if err != nil {
		return false, fmt.Errorf("failed to update order: %w", err)
	}

	ok, err := affectedOne(res)
	if ok {
		order.Version++
	}
	return ok, err
}

// ListOrders retrieves orders matching filter, newest first
func (s *Store) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	var w where
	w.eq("buyer_id", filter.BuyerID)
	w.eq("seller_id", filter.SellerID)
	w.eq("status", string(filter.Status))
	w.participant(filter.ParticipantID)

	query, args := w.build("SELECT * FROM orders", filter.Limit)

	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders, s.db.Rebind(query), args...)
	return orders, err
}

// ListLapsedOrders retrieves pending orders whose confirmation window has elapsed
func (s *Store) ListLapsedOrders(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE status = $1 AND expires_at <= $2 ORDER BY expires_at LIMIT $3",
		models.OrderStatusPending, now, limit)
	return orders, err
}
