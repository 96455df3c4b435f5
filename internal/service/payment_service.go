package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-service/internal/clock"
	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultPaymentTTL = 24 * time.Hour

	reasonProofWindowElapsed = "proof-upload window elapsed"
	reasonPaymentRejected    = "payment rejected"
)

// PaymentService handles manual bank-transfer payments
type PaymentService struct {
	repo        PaymentRepository
	orders      *OrderService
	clock       clock.Clock
	notify      *dispatcher
	logger      *zap.Logger
	target      models.PaymentTarget
	paymentTTL  time.Duration
	newCode     CodeGenerator
	maxAttempts int
	reviewerID  string
}

type PaymentServiceOption func(*PaymentService)

// WithPaymentTTL overrides the proof-upload window of new payments
func WithPaymentTTL(d time.Duration) PaymentServiceOption {
	return func(s *PaymentService) {
		if d > 0 {
			s.paymentTTL = d
		}
	}
}

// WithCodeGenerator replaces the transaction code source
func WithCodeGenerator(gen CodeGenerator) PaymentServiceOption {
	return func(s *PaymentService) {
		if gen != nil {
			s.newCode = gen
		}
	}
}

// WithCodeMaxAttempts bounds how many codes are tried before giving up
func WithCodeMaxAttempts(n int) PaymentServiceOption {
	return func(s *PaymentService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithProofReviewer names the account told when a proof awaits review
func WithProofReviewer(userID string) PaymentServiceOption {
	return func(s *PaymentService) {
		s.reviewerID = userID
	}
}

// NewPaymentService creates a new payment service paying into target
func NewPaymentService(
	repo PaymentRepository,
	orders *OrderService,
	notifier Notifier,
	clk clock.Clock,
	target models.PaymentTarget,
	opts ...PaymentServiceOption,
) *PaymentService {
	logger := util.GetLogger()
	s := &PaymentService{
		repo:        repo,
		orders:      orders,
		clock:       clk,
		notify:      &dispatcher{notifier: notifier, clock: clk, logger: logger},
		logger:      logger,
		target:      target,
		paymentTTL:  defaultPaymentTTL,
		newCode:     NewCodeGenerator(defaultCodeLength),
		maxAttempts: defaultCodeMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePayment opens a payment for a pending order and returns the account
// the buyer must transfer to.
func (s *PaymentService) CreatePayment(ctx context.Context, orderID, buyerID string) (payment *models.Payment, target models.PaymentTarget, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreatePayment")
	defer func() { util.EndSpan(span, err) }()

	order, err := s.orders.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, target, err
	}
	if order.BuyerID != buyerID {
		return nil, target, fmt.Errorf("%w: only the buyer can pay for an order", models.ErrForbidden)
	}
	if order.Status != models.OrderStatusPending {
		return nil, target, fmt.Errorf("%w: order is %s", models.ErrInvalidState, order.Status)
	}
	if order.IsExpired(s.clock.Now()) {
		if _, err := s.orders.ExpireOrder(ctx, order); err != nil {
			return nil, target, err
		}
		return nil, target, fmt.Errorf("%w: confirmation window elapsed", models.ErrExpired)
	}

	existing, err := s.repo.GetPaymentByOrder(ctx, orderID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, target, err
	}
	if existing != nil {
		return nil, target, models.ErrPaymentExists
	}

	now := s.clock.Now()
	payment = &models.Payment{
		ID:        uuid.New().String(),
		OrderID:   order.ID,
		BuyerID:   buyerID,
		Amount:    order.FinalPrice,
		Status:    models.PaymentStatusPending,
		ExpiresAt: now.Add(s.paymentTTL),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.insertWithUniqueCode(ctx, payment); err != nil {
		return nil, target, err
	}

	util.PaymentsCreatedTotal.Inc()
	s.logger.Info("Payment created",
		zap.String("payment_id", payment.ID),
		zap.String("order_id", orderID),
		zap.String("transaction_code", payment.TransactionCode))

	s.notify.send(ctx, buyerID, models.EventTypePaymentCreated, "Payment created",
		fmt.Sprintf("Transfer %d to %s %s and include code %s.",
			payment.Amount, s.target.BankName, s.target.AccountNumber, payment.TransactionCode),
		paymentPayload(payment))

	return payment, s.target, nil
}

func (s *PaymentService) insertWithUniqueCode(ctx context.Context, payment *models.Payment) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return err
		}
		payment.TransactionCode = code

		err = s.repo.CreatePayment(ctx, payment)
		if err == nil {
			return nil
		}
		if !errors.Is(err, models.ErrDuplicateTransactionCode) {
			return err
		}

		util.TransactionCodeCollisionsTotal.Inc()
		s.logger.Warn("Transaction code collision",
			zap.String("order_id", payment.OrderID),
			zap.Int("attempt", attempt))
	}
	return fmt.Errorf("%w: no unique transaction code after %d attempts", models.ErrResourceExhausted, s.maxAttempts)
}

// AttachProof records the buyer's transfer proof. The payment stays pending
// until an admin reviews it.
func (s *PaymentService) AttachProof(ctx context.Context, paymentID, buyerID, proof string) (payment *models.Payment, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.AttachProof")
	defer func() { util.EndSpan(span, err) }()

	if proof == "" {
		return nil, fmt.Errorf("%w: proof is required", models.ErrValidation)
	}

	payment, err = s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.BuyerID != buyerID {
		return nil, fmt.Errorf("%w: only the buyer can attach proof", models.ErrForbidden)
	}
	if payment.Status != models.PaymentStatusPending {
		return nil, fmt.Errorf("%w: payment is %s", models.ErrInvalidState, payment.Status)
	}
	if payment.Proof == nil && payment.IsExpired(s.clock.Now()) {
		if _, err := s.ExpirePayment(ctx, payment); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: proof-upload window elapsed", models.ErrExpired)
	}

	payment.Proof = models.Ptr(proof)
	payment.UpdatedAt = s.clock.Now()
	ok, err := s.repo.UpdatePayment(ctx, payment, models.PaymentStatusPending)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrStaleRecord
	}

	s.logger.Info("Payment proof attached", zap.String("payment_id", paymentID))

	if order, err := s.orders.repo.GetOrder(ctx, payment.OrderID); err != nil {
		s.logger.Warn("Could not load order for proof notification",
			zap.String("payment_id", paymentID),
			zap.Error(err))
	} else {
		s.notify.send(ctx, order.SellerID, models.EventTypePaymentProof, "Payment proof uploaded",
			"The buyer has uploaded a transfer receipt.", paymentPayload(payment))
	}
	if s.reviewerID != "" {
		s.notify.send(ctx, s.reviewerID, models.EventTypePaymentProof, "Payment awaiting review",
			"A transfer receipt is waiting for verification.", paymentPayload(payment))
	}
	return payment, nil
}

// ConfirmPayment is an admin approving a transfer. The order is confirmed
// along with it.
func (s *PaymentService) ConfirmPayment(ctx context.Context, paymentID string, admin models.Actor) (payment *models.Payment, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ConfirmPayment")
	defer func() { util.EndSpan(span, err) }()

	if !admin.IsAdmin() {
		return nil, fmt.Errorf("%w: admin role required", models.ErrForbidden)
	}

	payment, err = s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentStatusPending {
		return nil, fmt.Errorf("%w: payment is %s", models.ErrInvalidState, payment.Status)
	}

	order, err := s.orders.repo.GetOrder(ctx, payment.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderStatusCancelled {
		return nil, fmt.Errorf("%w: order was cancelled", models.ErrInvalidState)
	}

	now := s.clock.Now()
	payment.Status = models.PaymentStatusConfirmed
	payment.ConfirmedBy = models.Ptr(admin.UserID)
	payment.ConfirmedAt = models.Ptr(now)
	payment.UpdatedAt = now
	if err := s.transition(ctx, payment, models.PaymentStatusPending); err != nil {
		return nil, err
	}

	if _, err := s.orders.EnsureConfirmed(ctx, payment.OrderID); err != nil {
		s.logger.Error("Payment confirmed but order could not be confirmed",
			zap.String("payment_id", paymentID),
			zap.String("order_id", payment.OrderID),
			zap.Error(err))
	}

	s.notify.send(ctx, payment.BuyerID, models.EventTypePaymentConfirmed, "Payment confirmed",
		"Your payment has been verified.", paymentPayload(payment))
	s.notify.send(ctx, order.SellerID, models.EventTypePaymentConfirmed, "Payment received",
		"The buyer's payment has been verified.", paymentPayload(payment))
	return payment, nil
}

// RejectPayment is an admin refusing a transfer. The order is cancelled only
// while it is still pending.
func (s *PaymentService) RejectPayment(ctx context.Context, paymentID string, admin models.Actor, reason string) (payment *models.Payment, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.RejectPayment")
	defer func() { util.EndSpan(span, err) }()

	if !admin.IsAdmin() {
		return nil, fmt.Errorf("%w: admin role required", models.ErrForbidden)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", models.ErrValidation)
	}

	payment, err = s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentStatusPending {
		return nil, fmt.Errorf("%w: payment is %s", models.ErrInvalidState, payment.Status)
	}

	if err := s.reject(ctx, payment, admin.UserID, reason, models.EventTypePaymentRejected); err != nil {
		return nil, err
	}
	return payment, nil
}

// ExpirePayment rejects a pending payment whose proof-upload window elapsed
// with no proof. It reports false when another writer claimed it first.
func (s *PaymentService) ExpirePayment(ctx context.Context, payment *models.Payment) (bool, error) {
	if payment.Status != models.PaymentStatusPending || payment.Proof != nil || !payment.IsExpired(s.clock.Now()) {
		return false, nil
	}

	err := s.reject(ctx, payment, models.SystemActor, reasonProofWindowElapsed, models.EventTypePaymentExpired)
	if errors.Is(err, models.ErrStaleRecord) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PaymentService) reject(ctx context.Context, payment *models.Payment, by, reason, eventType string) error {
	now := s.clock.Now()
	payment.Status = models.PaymentStatusRejected
	payment.RejectionReason = models.Ptr(reason)
	payment.UpdatedAt = now
	if err := s.transition(ctx, payment, models.PaymentStatusPending); err != nil {
		return err
	}

	s.notify.send(ctx, payment.BuyerID, eventType, "Payment rejected",
		"Your payment was rejected: "+reason, paymentPayload(payment))

	order, err := s.orders.repo.GetOrder(ctx, payment.OrderID)
	if err != nil {
		s.logger.Error("Failed to load order for rejected payment",
			zap.String("payment_id", payment.ID),
			zap.Error(err))
		return nil
	}

	if order.Status != models.OrderStatusPending {
		s.logger.Warn("Payment rejected after order advanced; order left unchanged",
			zap.String("payment_id", payment.ID),
			zap.String("order_id", order.ID),
			zap.String("order_status", string(order.Status)))
		if order.Status != models.OrderStatusCancelled {
			s.notify.send(ctx, order.SellerID, eventType, "Payment rejected",
				"The buyer's payment was rejected after the order was confirmed. Please review the order.",
				paymentPayload(payment))
		}
		return nil
	}

	cancelReason := reasonPaymentRejected
	if by == models.SystemActor {
		cancelReason = reason
	}
	err = s.orders.cancel(ctx, order, by, cancelReason, models.EventTypeOrderCancelled)
	if err != nil && !errors.Is(err, models.ErrStaleRecord) {
		s.logger.Error("Failed to cancel order for rejected payment",
			zap.String("payment_id", payment.ID),
			zap.String("order_id", order.ID),
			zap.Error(err))
	}
	return nil
}

func (s *PaymentService) transition(ctx context.Context, payment *models.Payment, from models.PaymentStatus) error {
	ok, err := s.repo.UpdatePayment(ctx, payment, from)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrStaleRecord
	}

	util.PaymentTransitionsTotal.WithLabelValues(string(payment.Status)).Inc()
	s.logger.Info("Payment updated",
		zap.String("payment_id", payment.ID),
		zap.String("status", string(payment.Status)))
	return nil
}

// GetPayment returns a payment visible to actor
func (s *PaymentService) GetPayment(ctx context.Context, paymentID string, actor models.Actor) (*models.Payment, error) {
	payment, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.UserID != payment.BuyerID {
		return nil, fmt.Errorf("%w: not your payment", models.ErrForbidden)
	}
	return payment, nil
}

// GetByOrder returns the payment of an order. The order's buyer, seller or an
// admin may read it.
func (s *PaymentService) GetByOrder(ctx context.Context, orderID string, actor models.Actor) (*models.Payment, error) {
	if _, err := s.orders.GetOrder(ctx, orderID, actor); err != nil {
		return nil, err
	}
	return s.repo.GetPaymentByOrder(ctx, orderID)
}

// ListPending lists payments awaiting admin review
func (s *PaymentService) ListPending(ctx context.Context, admin models.Actor) ([]models.Payment, error) {
	return s.ListAll(ctx, admin, models.PaymentStatusPending)
}

// ListAll lists every payment, optionally filtered by status
func (s *PaymentService) ListAll(ctx context.Context, admin models.Actor, status models.PaymentStatus) ([]models.Payment, error) {
	if !admin.IsAdmin() {
		return nil, fmt.Errorf("%w: admin role required", models.ErrForbidden)
	}
	return s.repo.ListPayments(ctx, models.PaymentFilter{Status: status})
}

// ListOwn lists the buyer's payment history
func (s *PaymentService) ListOwn(ctx context.Context, buyerID string) ([]models.Payment, error) {
	return s.repo.ListPayments(ctx, models.PaymentFilter{BuyerID: buyerID})
}

func paymentPayload(p *models.Payment) map[string]any {
	return map[string]any{
		"payment_id":       p.ID,
		"order_id":         p.OrderID,
		"amount":           p.Amount,
		"transaction_code": p.TransactionCode,
		"status":           string(p.Status),
	}
}
