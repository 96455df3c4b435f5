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
	defaultOrderTTL = 24 * time.Hour

	reasonConfirmationElapsed = "confirmation window elapsed"
)

// OrderService handles order fulfillment
type OrderService struct {
	repo     OrderRepository
	products Availability
	clock    clock.Clock
	notify   *dispatcher
	logger   *zap.Logger
	orderTTL time.Duration
}

type OrderServiceOption func(*OrderService)

// WithOrderTTL overrides the confirmation window of new orders
func WithOrderTTL(d time.Duration) OrderServiceOption {
	return func(s *OrderService) {
		if d > 0 {
			s.orderTTL = d
		}
	}
}

// NewOrderService creates a new order service
func NewOrderService(
	repo OrderRepository,
	products Availability,
	notifier Notifier,
	clk clock.Clock,
	opts ...OrderServiceOption,
) *OrderService {
	logger := util.GetLogger()
	s := &OrderService{
		repo:     repo,
		products: products,
		clock:    clk,
		notify:   &dispatcher{notifier: notifier, clock: clk, logger: logger},
		logger:   logger,
		orderTTL: defaultOrderTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateDirectOrder buys a product at its listed price
func (s *OrderService) CreateDirectOrder(ctx context.Context, buyerID, productID string) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateDirectOrder")
	defer func() { util.EndSpan(span, err) }()

	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.OwnerID == buyerID {
		return nil, fmt.Errorf("%w: cannot buy your own product", models.ErrForbidden)
	}
	if product.Status != models.ProductAvailable {
		return nil, models.ErrProductUnavailable
	}

	live, err := s.repo.FindLiveOrderByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active orders: %w", err)
	}
	if live != nil {
		return nil, models.ErrLiveOrderExists
	}

	ok, err := s.products.TryReserve(ctx, productID, models.ProductAvailable, models.ProductSold)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrProductUnavailable
	}

	order = s.newOrder(buyerID, product, nil, product.Price)
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		s.compensateReservation(ctx, productID, "direct_order")
		return nil, err
	}

	util.OrdersCreatedTotal.WithLabelValues("direct").Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("product_id", productID),
		zap.String("source", "direct"))

	s.notify.send(ctx, order.SellerID, models.EventTypeOrderCreated, "New order",
		"A buyer purchased your product. Please confirm the order.", orderPayload(order))

	return order, nil
}

// createFromAcceptedOffer is called by OfferService once the product has been
// reserved for the offer.
func (s *OrderService) createFromAcceptedOffer(ctx context.Context, offer *models.Offer, finalPrice int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.createFromAcceptedOffer")
	defer span.End()

	product := &models.Product{ID: offer.ProductID, OwnerID: offer.SellerID}
	order := s.newOrder(offer.BuyerID, product, models.Ptr(offer.ID), finalPrice)

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order for offer %s: %w", offer.ID, err)
	}

	util.OrdersCreatedTotal.WithLabelValues("offer").Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("offer_id", offer.ID),
		zap.String("source", "offer"))

	s.notify.send(ctx, order.SellerID, models.EventTypeOrderCreated, "New order",
		"An order was created from an accepted offer. Please confirm the order.", orderPayload(order))

	return order, nil
}

func (s *OrderService) newOrder(buyerID string, product *models.Product, offerID *string, finalPrice int64) *models.Order {
	now := s.clock.Now()
	return &models.Order{
		ID:         uuid.New().String(),
		BuyerID:    buyerID,
		SellerID:   product.OwnerID,
		ProductID:  product.ID,
		OfferID:    offerID,
		FinalPrice: finalPrice,
		Status:     models.OrderStatusPending,
		ExpiresAt:  now.Add(s.orderTTL),
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ConfirmOrder is the seller accepting a pending order. A lapsed order is
// cancelled instead and ErrExpired returned.
func (s *OrderService) ConfirmOrder(ctx context.Context, orderID, sellerID string) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ConfirmOrder")
	defer func() { util.EndSpan(span, err) }()

	order, err = s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.SellerID != sellerID {
		return nil, fmt.Errorf("%w: only the seller can confirm an order", models.ErrForbidden)
	}
	if order.Status != models.OrderStatusPending {
		return nil, fmt.Errorf("%w: order is %s", models.ErrInvalidState, order.Status)
	}

	now := s.clock.Now()
	if order.IsExpired(now) {
		if _, err := s.ExpireOrder(ctx, order); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: order confirmation window elapsed", models.ErrExpired)
	}

	if err := s.confirm(ctx, order, now); err != nil {
		return nil, err
	}
	return order, nil
}

// EnsureConfirmed moves a pending order to confirmed and is a no-op for an
// order that is already confirmed or completed.
func (s *OrderService) EnsureConfirmed(ctx context.Context, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.EnsureConfirmed")
	defer span.End()

	const attempts = 3
	for i := 0; i < attempts; i++ {
		order, err := s.repo.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}

		switch order.Status {
		case models.OrderStatusConfirmed, models.OrderStatusCompleted:
			return order, nil
		case models.OrderStatusCancelled:
			return nil, fmt.Errorf("%w: order %s is cancelled", models.ErrInvalidState, orderID)
		}

		err = s.confirm(ctx, order, s.clock.Now())
		if errors.Is(err, models.ErrStaleRecord) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return order, nil
	}
	return nil, models.ErrStaleRecord
}

func (s *OrderService) confirm(ctx context.Context, order *models.Order, now time.Time) error {
	order.Status = models.OrderStatusConfirmed
	order.ConfirmedAt = models.Ptr(now)
	order.UpdatedAt = now

	ok, err := s.repo.UpdateOrder(ctx, order, models.OrderStatusPending)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrStaleRecord
	}

	util.OrderTransitionsTotal.WithLabelValues(string(models.OrderStatusConfirmed)).Inc()
	s.logger.Info("Order confirmed", zap.String("order_id", order.ID))

	s.notify.send(ctx, order.BuyerID, models.EventTypeOrderConfirmed, "Order confirmed",
		"The seller confirmed your order.", orderPayload(order))
	return nil
}

// CancelOrder cancels a pending or confirmed order and releases its product
func (s *OrderService) CancelOrder(ctx context.Context, orderID string, actor models.Actor, reason string) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer func() { util.EndSpan(span, err) }()

	order, err = s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.UserID != order.BuyerID && actor.UserID != order.SellerID {
		return nil, fmt.Errorf("%w: not a party to this order", models.ErrForbidden)
	}

	if err := s.cancel(ctx, order, actor.UserID, reason, models.EventTypeOrderCancelled); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *OrderService) cancel(ctx context.Context, order *models.Order, by, reason, eventType string) error {
	if order.Status == models.OrderStatusCompleted {
		return fmt.Errorf("%w: completed orders cannot be cancelled", models.ErrInvalidState)
	}
	if !order.Status.CanTransition(models.OrderStatusCancelled) {
		return fmt.Errorf("%w: order is %s", models.ErrInvalidState, order.Status)
	}

	from := order.Status
	now := s.clock.Now()
	order.Status = models.OrderStatusCancelled
	order.CancelledAt = models.Ptr(now)
	order.CancelledBy = models.Ptr(by)
	if reason != "" {
		order.CancellationReason = models.Ptr(reason)
	}
	order.UpdatedAt = now

	ok, err := s.repo.UpdateOrder(ctx, order, from)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrStaleRecord
	}

	util.OrderTransitionsTotal.WithLabelValues(string(models.OrderStatusCancelled)).Inc()
	s.logger.Info("Order cancelled",
		zap.String("order_id", order.ID),
		zap.String("cancelled_by", by),
		zap.String("reason", reason))

	if err := s.products.Release(ctx, order.ProductID); err != nil {
		s.logger.Error("Failed to release product after cancellation",
			zap.String("order_id", order.ID),
			zap.String("product_id", order.ProductID),
			zap.Error(err))
	}

	msg := "The order was cancelled."
	if reason != "" {
		msg = "The order was cancelled: " + reason
	}
	for _, userID := range []string{order.BuyerID, order.SellerID} {
		if userID != by {
			s.notify.send(ctx, userID, eventType, "Order cancelled", msg, orderPayload(order))
		}
	}
	return nil
}

// CompleteOrder marks a confirmed order as completed
func (s *OrderService) CompleteOrder(ctx context.Context, orderID string) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CompleteOrder")
	defer func() { util.EndSpan(span, err) }()

	order, err = s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusConfirmed {
		return nil, fmt.Errorf("%w: order is %s", models.ErrInvalidState, order.Status)
	}

	now := s.clock.Now()
	order.Status = models.OrderStatusCompleted
	order.CompletedAt = models.Ptr(now)
	order.UpdatedAt = now

	ok, err := s.repo.UpdateOrder(ctx, order, models.OrderStatusConfirmed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrStaleRecord
	}

	util.OrderTransitionsTotal.WithLabelValues(string(models.OrderStatusCompleted)).Inc()
	s.logger.Info("Order completed", zap.String("order_id", order.ID))

	for _, userID := range []string{order.BuyerID, order.SellerID} {
		s.notify.send(ctx, userID, models.EventTypeOrderCompleted, "Order completed",
			"The order has been completed.", orderPayload(order))
	}
	return order, nil
}

// UpdateStatus dispatches a requested status change to the matching transition
func (s *OrderService) UpdateStatus(ctx context.Context, orderID string, actor models.Actor, status models.OrderStatus, reason string) (*models.Order, error) {
	switch status {
	case models.OrderStatusConfirmed:
		return s.ConfirmOrder(ctx, orderID, actor.UserID)
	case models.OrderStatusCancelled:
		return s.CancelOrder(ctx, orderID, actor, reason)
	case models.OrderStatusCompleted:
		order, err := s.repo.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if !actor.IsAdmin() && actor.UserID != order.BuyerID {
			return nil, fmt.Errorf("%w: only the buyer can complete an order", models.ErrForbidden)
		}
		return s.CompleteOrder(ctx, orderID)
	}
	return nil, fmt.Errorf("%w: unsupported status %q", models.ErrValidation, status)
}

// ExpireOrder cancels a pending order whose confirmation window has elapsed.
// It reports false when the order was no longer pending at the moment of claim.
func (s *OrderService) ExpireOrder(ctx context.Context, order *models.Order) (bool, error) {
	if order.Status != models.OrderStatusPending || !order.IsExpired(s.clock.Now()) {
		return false, nil
	}

	err := s.cancel(ctx, order, models.SystemActor, reasonConfirmationElapsed, models.EventTypeOrderExpired)
	if errors.Is(err, models.ErrStaleRecord) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetOrder returns an order visible to actor
func (s *OrderService) GetOrder(ctx context.Context, orderID string, actor models.Actor) (*models.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.UserID != order.BuyerID && actor.UserID != order.SellerID {
		return nil, fmt.Errorf("%w: not a party to this order", models.ErrForbidden)
	}
	return order, nil
}

// Order list scopes
const (
	ScopeBuying  = "buying"
	ScopeSelling = "selling"
	ScopeAll     = "all"
)

// ListOrders lists the actor's orders. Admins listing "all" see every order.
func (s *OrderService) ListOrders(ctx context.Context, actor models.Actor, scope string, status models.OrderStatus) ([]models.Order, error) {
	filter := models.OrderFilter{Status: status}
	switch scope {
	case ScopeBuying:
		filter.BuyerID = actor.UserID
	case ScopeSelling:
		filter.SellerID = actor.UserID
	case ScopeAll, "":
		if !actor.IsAdmin() {
			filter.ParticipantID = actor.UserID
		}
	default:
		return nil, fmt.Errorf("%w: unknown scope %q", models.ErrValidation, scope)
	}
	return s.repo.ListOrders(ctx, filter)
}

func (s *OrderService) compensateReservation(ctx context.Context, productID, step string) {
	util.CompensationsTotal.WithLabelValues(step).Inc()
	if err := s.products.Release(ctx, productID); err != nil {
		s.logger.Error("Failed to compensate reservation",
			zap.String("product_id", productID),
			zap.String("step", step),
			zap.Error(err))
	}
}

func orderPayload(o *models.Order) map[string]any {
	return map[string]any{
		"order_id":    o.ID,
		"product_id":  o.ProductID,
		"final_price": o.FinalPrice,
		"status":      string(o.Status),
	}
}
