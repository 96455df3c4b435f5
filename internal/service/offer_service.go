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

const defaultOfferTTL = 7 * 24 * time.Hour

// OfferService handles price negotiation between buyers and sellers
type OfferService struct {
	repo     OfferRepository
	products Availability
	orders   *OrderService
	clock    clock.Clock
	notify   *dispatcher
	logger   *zap.Logger
	offerTTL time.Duration
}

type OfferServiceOption func(*OfferService)

// WithOfferTTL overrides the lifetime of new offers
func WithOfferTTL(d time.Duration) OfferServiceOption {
	return func(s *OfferService) {
		if d > 0 {
			s.offerTTL = d
		}
	}
}

// NewOfferService creates a new offer service
func NewOfferService(
	repo OfferRepository,
	products Availability,
	orders *OrderService,
	notifier Notifier,
	clk clock.Clock,
	opts ...OfferServiceOption,
) *OfferService {
	logger := util.GetLogger()
	s := &OfferService{
		repo:     repo,
		products: products,
		orders:   orders,
		clock:    clk,
		notify:   &dispatcher{notifier: notifier, clock: clk, logger: logger},
		logger:   logger,
		offerTTL: defaultOfferTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOffer records a buyer's price proposal on an available product
func (s *OfferService) CreateOffer(ctx context.Context, buyerID, productID string, price int64, message string) (offer *models.Offer, err error) {
	ctx, span := util.StartSpan(ctx, "OfferService.CreateOffer")
	defer func() { util.EndSpan(span, err) }()

	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.OwnerID == buyerID {
		return nil, fmt.Errorf("%w: cannot make an offer on your own product", models.ErrForbidden)
	}
	if product.Status != models.ProductAvailable {
		return nil, models.ErrProductUnavailable
	}
	if price <= 0 || price > product.Price {
		return nil, fmt.Errorf("%w: offer price must be between 1 and %d", models.ErrValidation, product.Price)
	}

	existing, err := s.repo.FindPendingOffer(ctx, buyerID, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to check pending offers: %w", err)
	}
	if existing != nil {
		// a lapsed pending offer no longer blocks a new one
		expired, err := s.ExpireOffer(ctx, existing)
		if err != nil {
			return nil, err
		}
		if !expired {
			return nil, models.ErrPendingOfferExists
		}
	}

	now := s.clock.Now()
	offer = &models.Offer{
		ID:         uuid.New().String(),
		BuyerID:    buyerID,
		SellerID:   product.OwnerID,
		ProductID:  productID,
		OfferPrice: price,
		Status:     models.OfferStatusPending,
		ExpiresAt:  now.Add(s.offerTTL),
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if message != "" {
		offer.Message = models.Ptr(message)
	}

	if err := s.repo.CreateOffer(ctx, offer); err != nil {
		return nil, err
	}

	util.OffersCreatedTotal.Inc()
	s.logger.Info("Offer created",
		zap.String("offer_id", offer.ID),
		zap.String("product_id", productID),
		zap.Int64("offer_price", price))

	s.notify.send(ctx, offer.SellerID, models.EventTypeOfferCreated, "New offer",
		fmt.Sprintf("You received an offer of %d on your product.", price), offerPayload(offer))

	return offer, nil
}

// AcceptOffer is the seller accepting a pending offer at the buyer's price
func (s *OfferService) AcceptOffer(ctx context.Context, offerID, sellerID string) (offer *models.Offer, order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OfferService.AcceptOffer")
	defer func() { util.EndSpan(span, err) }()

	offer, err = s.repo.GetOffer(ctx, offerID)
	if err != nil {
		return nil, nil, err
	}
	if offer.SellerID != sellerID {
		return nil, nil, fmt.Errorf("%w: only the seller can accept an offer", models.ErrForbidden)
	}
	if offer.Status != models.OfferStatusPending {
		return nil, nil, fmt.Errorf("%w: offer is %s", models.ErrInvalidState, offer.Status)
	}
	if err := s.checkNotLapsed(ctx, offer); err != nil {
		return nil, nil, err
	}

	order, err = s.accept(ctx, offer, offer.OfferPrice)
	if err != nil {
		return nil, nil, err
	}

	s.notify.send(ctx, offer.BuyerID, models.EventTypeOfferAccepted, "Offer accepted",
		"The seller accepted your offer. An order has been created.", offerPayload(offer))
	return offer, order, nil
}

// AcceptCounterOffer is the buyer accepting the seller's counter price
func (s *OfferService) AcceptCounterOffer(ctx context.Context, offerID, buyerID string) (offer *models.Offer, order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OfferService.AcceptCounterOffer")
	defer func() { util.EndSpan(span, err) }()

	offer, err = s.repo.GetOffer(ctx, offerID)
	if err != nil {
		return nil, nil, err
	}
	if offer.BuyerID != buyerID {
		return nil, nil, fmt.Errorf("%w: only the buyer can accept a counter offer", models.ErrForbidden)
	}
	if offer.Status != models.OfferStatusCountered || offer.CounterOfferPrice == nil {
		return nil, nil, fmt.Errorf("%w: offer is %s", models.ErrInvalidState, offer.Status)
	}
	if err := s.checkNotLapsed(ctx, offer); err != nil {
		return nil, nil, err
	}

	order, err = s.accept(ctx, offer, *offer.CounterOfferPrice)
	if err != nil {
		return nil, nil, err
	}

	s.notify.send(ctx, offer.SellerID, models.EventTypeOfferAccepted, "Counter offer accepted",
		"The buyer accepted your counter offer. An order has been created.", offerPayload(offer))
	return offer, order, nil
}

// accept reserves the product, marks the offer accepted and spawns the order.
// The reservation comes first; every later failure releases it and returns
// the offer to its previous status.
func (s *OfferService) accept(ctx context.Context, offer *models.Offer, finalPrice int64) (*models.Order, error) {
	ok, err := s.products.TryReserve(ctx, offer.ProductID, models.ProductAvailable, models.ProductSold)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrProductUnavailable
	}

	from := offer.Status
	prev := *offer
	now := s.clock.Now()
	offer.Status = models.OfferStatusAccepted
	offer.AcceptedAt = models.Ptr(now)
	offer.UpdatedAt = now

	ok, err = s.repo.UpdateOffer(ctx, offer, from)
	if err != nil || !ok {
		s.orders.compensateReservation(ctx, offer.ProductID, "offer_accept")
		if err != nil {
			return nil, err
		}
		return nil, models.ErrStaleRecord
	}

	order, err := s.orders.createFromAcceptedOffer(ctx, offer, finalPrice)
	if err != nil {
		s.logger.Error("Order creation failed after offer acceptance, compensating",
			zap.String("offer_id", offer.ID),
			zap.Error(err))
		s.orders.compensateReservation(ctx, offer.ProductID, "order_create")
		if rerr := s.revert(ctx, offer, from, prev.AcceptedAt); rerr != nil {
			s.logger.Error("Failed to revert offer after compensation",
				zap.String("offer_id", offer.ID),
				zap.Error(rerr))
		}
		return nil, err
	}

	util.OfferTransitionsTotal.WithLabelValues(string(models.OfferStatusAccepted)).Inc()
	s.logger.Info("Offer accepted",
		zap.String("offer_id", offer.ID),
		zap.String("order_id", order.ID),
		zap.Int64("final_price", finalPrice))
	return order, nil
}

// revert moves an accepted offer back to the status it was accepted from
func (s *OfferService) revert(ctx context.Context, offer *models.Offer, to models.OfferStatus, acceptedAt *time.Time) error {
	offer.Status = to
	offer.AcceptedAt = acceptedAt
	offer.UpdatedAt = s.clock.Now()

	ok, err := s.repo.UpdateOffer(ctx, offer, models.OfferStatusAccepted)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrStaleRecord
	}
	return nil
}

// RejectOffer is the seller declining a pending offer
func (s *OfferService) RejectOffer(ctx context.Context, offerID, sellerID string) (offer *models.Offer, err error) {
	ctx, span := util.StartSpan(ctx, "OfferService.RejectOffer")
	defer func() { util.EndSpan(span, err) }()

	offer, err = s.repo.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.SellerID != sellerID {
		return nil, fmt.Errorf("%w: only the seller can reject an offer", models.ErrForbidden)
	}
	if offer.Status != models.OfferStatusPending {
		return nil, fmt.Errorf("%w: offer is %s", models.ErrInvalidState, offer.Status)
	}
	if err := s.checkNotLapsed(ctx, offer); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	offer.Status = models.OfferStatusRejected
	offer.RejectedAt = models.Ptr(now)
	offer.RejectedBy = models.Ptr(sellerID)
	offer.UpdatedAt = now
	if err := s.transition(ctx, offer, models.OfferStatusPending); err != nil {
		return nil, err
	}

	s.notify.send(ctx, offer.BuyerID, models.EventTypeOfferRejected, "Offer rejected",
		"The seller rejected your offer.", offerPayload(offer))
	return offer, nil
}

// CounterOffer is the seller answering a pending offer with another price
func (s *OfferService) CounterOffer(ctx context.Context, offerID, sellerID string, price int64, message string) (offer *models.Offer, err error) {
	ctx, span := util.StartSpan(ctx, "OfferService.CounterOffer")
	defer func() { util.EndSpan(span, err) }()

	if price <= 0 {
		return nil, fmt.Errorf("%w: counter offer price must be positive", models.ErrValidation)
	}

	offer, err = s.repo.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.SellerID != sellerID {
		return nil, fmt.Errorf("%w: only the seller can counter an offer", models.ErrForbidden)
	}
	if offer.Status != models.OfferStatusPending {
		return nil, fmt.Errorf("%w: offer is %s", models.ErrInvalidState, offer.Status)
	}
	if err := s.checkNotLapsed(ctx, offer); err != nil {
		return nil, err
	}

	offer.Status = models.OfferStatusCountered
	offer.CounterOfferPrice = models.Ptr(price)
	if message != "" {
		offer.SellerMessage = models.Ptr(message)
	}
	offer.UpdatedAt = s.clock.Now()
	if err := s.transition(ctx, offer, models.OfferStatusPending); err != nil {
		return nil, err
	}

	s.notify.send(ctx, offer.BuyerID, models.EventTypeOfferCountered, "Counter offer",
		fmt.Sprintf("The seller countered your offer with %d.", price), offerPayload(offer))
	return offer, nil
}

// CancelOffer is the buyer withdrawing a pending or countered offer
func (s *OfferService) CancelOffer(ctx context.Context, offerID, buyerID string) (offer *models.Offer, err error) {
	ctx, span := util.StartSpan(ctx, "OfferService.CancelOffer")
	defer func() { util.EndSpan(span, err) }()

	offer, err = s.repo.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.BuyerID != buyerID {
		return nil, fmt.Errorf("%w: only the buyer can cancel an offer", models.ErrForbidden)
	}
	from := offer.Status
	if from != models.OfferStatusPending && from != models.OfferStatusCountered {
		return nil, fmt.Errorf("%w: offer is %s", models.ErrInvalidState, from)
	}
	if err := s.checkNotLapsed(ctx, offer); err != nil {
		return nil, err
	}

	offer.Status = models.OfferStatusCancelled
	offer.UpdatedAt = s.clock.Now()
	if err := s.transition(ctx, offer, from); err != nil {
		return nil, err
	}

	s.notify.send(ctx, offer.SellerID, models.EventTypeOfferCancelled, "Offer cancelled",
		"The buyer withdrew their offer.", offerPayload(offer))
	return offer, nil
}

// ExpireOffer moves a lapsed pending or countered offer to expired. It reports
// false when the offer is not lapsed or another writer claimed it first.
func (s *OfferService) ExpireOffer(ctx context.Context, offer *models.Offer) (bool, error) {
	from := offer.Status
	if !from.CanTransition(models.OfferStatusExpired) || !offer.IsExpired(s.clock.Now()) {
		return false, nil
	}

	offer.Status = models.OfferStatusExpired
	offer.UpdatedAt = s.clock.Now()
	err := s.transition(ctx, offer, from)
	if errors.Is(err, models.ErrStaleRecord) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	for _, userID := range []string{offer.BuyerID, offer.SellerID} {
		s.notify.send(ctx, userID, models.EventTypeOfferExpired, "Offer expired",
			"The offer expired without a response.", offerPayload(offer))
	}
	return true, nil
}

// checkNotLapsed expires a lapsed offer and reports ErrExpired
func (s *OfferService) checkNotLapsed(ctx context.Context, offer *models.Offer) error {
	if !offer.IsExpired(s.clock.Now()) {
		return nil
	}
	if _, err := s.ExpireOffer(ctx, offer); err != nil {
		return err
	}
	return fmt.Errorf("%w: offer expired", models.ErrExpired)
}

func (s *OfferService) transition(ctx context.Context, offer *models.Offer, from models.OfferStatus) error {
	if !from.CanTransition(offer.Status) {
		return fmt.Errorf("%w: cannot move offer from %s to %s", models.ErrInvalidState, from, offer.Status)
	}
	ok, err := s.repo.UpdateOffer(ctx, offer, from)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrStaleRecord
	}

	util.OfferTransitionsTotal.WithLabelValues(string(offer.Status)).Inc()
	s.logger.Info("Offer updated",
		zap.String("offer_id", offer.ID),
		zap.String("from", string(from)),
		zap.String("to", string(offer.Status)))
	return nil
}

// RevertAcceptance repairs an offer left accepted without an order: the offer
// returns to negotiation and the product is released.
func (s *OfferService) RevertAcceptance(ctx context.Context, offer *models.Offer) error {
	ctx, span := util.StartSpan(ctx, "OfferService.RevertAcceptance")
	defer span.End()

	to := models.OfferStatusPending
	if offer.CounterOfferPrice != nil {
		to = models.OfferStatusCountered
	}
	if err := s.revert(ctx, offer, to, nil); err != nil {
		return err
	}

	live, err := s.orders.repo.FindLiveOrderByProduct(ctx, offer.ProductID)
	if err != nil {
		return err
	}
	if live == nil {
		s.orders.compensateReservation(ctx, offer.ProductID, "consistency")
	}

	util.OfferTransitionsTotal.WithLabelValues(string(to)).Inc()
	s.logger.Warn("Reverted accepted offer with no order",
		zap.String("offer_id", offer.ID),
		zap.String("product_id", offer.ProductID))
	return nil
}

// GetOffer returns an offer visible to actor
func (s *OfferService) GetOffer(ctx context.Context, offerID string, actor models.Actor) (*models.Offer, error) {
	offer, err := s.repo.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.UserID != offer.BuyerID && actor.UserID != offer.SellerID {
		return nil, fmt.Errorf("%w: not a party to this offer", models.ErrForbidden)
	}
	return offer, nil
}

// Offer list scopes
const (
	ScopeSent     = "sent"
	ScopeReceived = "received"
)

// ListOffers lists offers the actor sent, received, or both
func (s *OfferService) ListOffers(ctx context.Context, actor models.Actor, scope string, status models.OfferStatus) ([]models.Offer, error) {
	filter := models.OfferFilter{Status: status}
	switch scope {
	case ScopeSent:
		filter.BuyerID = actor.UserID
	case ScopeReceived:
		filter.SellerID = actor.UserID
	case ScopeAll, "":
		if !actor.IsAdmin() {
			filter.ParticipantID = actor.UserID
		}
	default:
		return nil, fmt.Errorf("%w: unknown scope %q", models.ErrValidation, scope)
	}
	return s.repo.ListOffers(ctx, filter)
}

func offerPayload(o *models.Offer) map[string]any {
	payload := map[string]any{
		"offer_id":    o.ID,
		"product_id":  o.ProductID,
		"offer_price": o.OfferPrice,
		"status":      string(o.Status),
	}
	if o.CounterOfferPrice != nil {
		payload["counter_offer_price"] = *o.CounterOfferPrice
	}
	return payload
}
