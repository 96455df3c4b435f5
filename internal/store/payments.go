package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace-service/internal/models"
)

const (
	constraintPaymentOrder = "payments_order_unique"
	constraintPaymentCode  = "payments_transaction_code_unique"
)

// CreatePayment creates a new payment record
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (id, order_id, buyer_id, amount, transaction_code, status,
			expires_at, version, created_at, updated_at)
		VALUES (:id, :order_id, :buyer_id, :amount, :transaction_code, :status,
			:expires_at, :version, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, query, payment); err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			switch constraint {
			case constraintPaymentCode:
				return models.ErrDuplicateTransactionCode
			case constraintPaymentOrder:
				return models.ErrPaymentExists
			}
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetPayment retrieves a payment by ID
func (s *Store) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment, "SELECT * FROM payments WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByOrder retrieves the payment for an order
func (s *Store) GetPaymentByOrder(ctx context.Context, orderID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment, "SELECT * FROM payments WHERE order_id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment for order %s: %w", orderID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdatePayment writes the mutable fields of payment if the stored row still has
// status `from` and the same version. On success payment.Version is bumped.
func (s *Store) UpdatePayment(ctx context.Context, payment *models.Payment, from models.PaymentStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payments SET
			proof = $1, status = $2, confirmed_by = $3, confirmed_at = $4,
			rejection_reason = $5, version = version + 1, updated_at = $6
		WHERE id = $7 AND status = $8 AND version = $9`,
		payment.Proof, payment.Status, payment.ConfirmedBy, payment.ConfirmedAt,
		payment.RejectionReason, payment.UpdatedAt,
		payment.ID, from, payment.Version)
	if err != nil {
		return false, fmt.Errorf("failed to update payment: %w", err)
	}

	ok, err := affectedOne(res)
	if ok {
		payment.Version++
	}
	return ok, err
}

// ListPayments retrieves payments matching filter, newest first
func (s *Store) ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, error) {
	var w where
	w.eq("buyer_id", filter.BuyerID)
	w.eq("status", string(filter.Status))

	query, args := w.build("SELECT * FROM payments", filter.Limit)

	payments := []models.Payment{}
	err := s.db.SelectContext(ctx, &payments, s.db.Rebind(query), args...)
	return payments, err
}

// ListLapsedPayments retrieves pending payments without proof whose upload window has elapsed
func (s *Store) ListLapsedPayments(ctx context.Context, now time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments, `
		SELECT * FROM payments
		WHERE status = $1 AND proof IS NULL AND expires_at <= $2
		ORDER BY expires_at LIMIT $3`,
		models.PaymentStatusPending, now, limit)
	return payments, err
}
