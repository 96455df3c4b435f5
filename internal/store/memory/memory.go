// Package memory is an in-process repository with the same conditional-update
// semantics as the Postgres store. It backs STORE_DRIVER=memory and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketplace-service/internal/clock"
	"marketplace-service/internal/models"
)

type Store struct {
	mu       sync.Mutex
	clock    clock.Clock
	products map[string]models.Product
	offers   map[string]models.Offer
	orders   map[string]models.Order
	payments map[string]models.Payment
}

// Option configures a Store
type Option func(*Store)

// WithClock sets the clock used to stamp product status changes
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// New returns an empty store
func New(opts ...Option) *Store {
	s := &Store{
		clock:    clock.NewSystem(),
		products: make(map[string]models.Product),
		offers:   make(map[string]models.Offer),
		orders:   make(map[string]models.Order),
		payments: make(map[string]models.Payment),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateProduct inserts or replaces a product
func (s *Store) CreateProduct(_ context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = *p
	return nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, models.ErrNotFound)
	}
	return &p, nil
}

func (s *Store) ListProducts(_ context.Context) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	products := make([]models.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (s *Store) CompareAndSetProductStatus(_ context.Context, id string, from, to models.ProductStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = s.clock.Now()
	s.products[id] = p
	return true, nil
}

func (s *Store) ReleaseProduct(ctx context.Context, id string) (bool, error) {
	return s.CompareAndSetProductStatus(ctx, id, models.ProductSold, models.ProductAvailable)
}

func (s *Store) ListOrphanedSoldProducts(_ context.Context, soldBefore time.Time, limit int) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var products []models.Product
	for _, p := range s.products {
		if p.Status == models.ProductSold && !p.UpdatedAt.After(soldBefore) && s.liveOrderLocked(p.ID) == nil {
			products = append(products, p)
		}
	}
	sort.Slice(products, func(i, j int) bool { return products[i].UpdatedAt.Before(products[j].UpdatedAt) })
	return truncate(products, limit), nil
}

func (s *Store) CreateOffer(_ context.Context, offer *models.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offer.Status == models.OfferStatusPending && s.pendingOfferLocked(offer.BuyerID, offer.ProductID, "") != nil {
		return models.ErrPendingOfferExists
	}
	s.offers[offer.ID] = *offer
	return nil
}

func (s *Store) GetOffer(_ context.Context, id string) (*models.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok {
		return nil, fmt.Errorf("offer %s: %w", id, models.ErrNotFound)
	}
	return &o, nil
}

func (s *Store) FindPendingOffer(_ context.Context, buyerID, productID string) (*models.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingOfferLocked(buyerID, productID, ""), nil
}

func (s *Store) pendingOfferLocked(buyerID, productID, exceptID string) *models.Offer {
	for _, o := range s.offers {
		if o.ID != exceptID && o.BuyerID == buyerID && o.ProductID == productID && o.Status == models.OfferStatusPending {
			return &o
		}
	}
	return nil
}

func (s *Store) UpdateOffer(_ context.Context, offer *models.Offer, from models.OfferStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.offers[offer.ID]
	if !ok || current.Status != from || current.Version != offer.Version {
		return false, nil
	}
	if offer.Status == models.OfferStatusPending && s.pendingOfferLocked(offer.BuyerID, offer.ProductID, offer.ID) != nil {
		return false, models.ErrPendingOfferExists
	}
	offer.Version++
	s.offers[offer.ID] = *offer
	return true, nil
}

func (s *Store) ListOffers(_ context.Context, f models.OfferFilter) ([]models.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	offers := []models.Offer{}
	for _, o := range s.offers {
		if match(f.BuyerID, o.BuyerID) && match(f.SellerID, o.SellerID) && match(f.ProductID, o.ProductID) &&
			match(string(f.Status), string(o.Status)) && participant(f.ParticipantID, o.BuyerID, o.SellerID) {
			offers = append(offers, o)
		}
	}
	sort.Slice(offers, func(i, j int) bool { return offers[i].CreatedAt.After(offers[j].CreatedAt) })
	return truncate(offers, f.Limit), nil
}

func (s *Store) ListLapsedOffers(_ context.Context, statuses []models.OfferStatus, now time.Time, limit int) ([]models.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var offers []models.Offer
	for _, o := range s.offers {
		for _, st := range statuses {
			if o.Status == st && o.IsExpired(now) {
				offers = append(offers, o)
				break
			}
		}
	}
	sort.Slice(offers, func(i, j int) bool { return offers[i].ExpiresAt.Before(offers[j].ExpiresAt) })
	return truncate(offers, limit), nil
}

func (s *Store) ListAcceptedOffersWithoutOrder(_ context.Context, acceptedBefore time.Time, limit int) ([]models.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	referenced := make(map[string]bool)
	for _, r := range s.orders {
		if r.OfferID != nil {
			referenced[*r.OfferID] = true
		}
	}
	var offers []models.Offer
	for _, o := range s.offers {
		if o.Status == models.OfferStatusAccepted && o.AcceptedAt != nil &&
			!o.AcceptedAt.After(acceptedBefore) && !referenced[o.ID] {
			offers = append(offers, o)
		}
	}
	return truncate(offers, limit), nil
}

func (s *Store) CreateOrder(_ context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order.HoldsProduct() && s.liveOrderLocked(order.ProductID) != nil {
		return models.ErrLiveOrderExists
	}
	s.orders[order.ID] = *order
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, models.ErrNotFound)
	}
	return &o, nil
}

func (s *Store) FindLiveOrderByProduct(_ context.Context, productID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveOrderLocked(productID), nil
}

func (s *Store) liveOrderLocked(productID string) *models.Order {
	for _, o := range s.orders {
		if o.ProductID == productID && o.HoldsProduct() {
			return &o
		}
	}
	return nil
}

func (s *Store) UpdateOrder(_ context.Context, order *models.Order, from models.OrderStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.orders[order.ID]
	if !ok || current.Status != from || current.Version != order.Version {
		return false, nil
	}
	order.Version++
	s.orders[order.ID] = *order
	return true, nil
}

func (s *Store) ListOrders(_ context.Context, f models.OrderFilter) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := []models.Order{}
	for _, o := range s.orders {
		if match(f.BuyerID, o.BuyerID) && match(f.SellerID, o.SellerID) &&
			match(string(f.Status), string(o.Status)) && participant(f.ParticipantID, o.BuyerID, o.SellerID) {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return truncate(orders, f.Limit), nil
}

func (s *Store) ListLapsedOrders(_ context.Context, now time.Time, limit int) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var orders []models.Order
	for _, o := range s.orders {
		if o.Status == models.OrderStatusPending && o.IsExpired(now) {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ExpiresAt.Before(orders[j].ExpiresAt) })
	return truncate(orders, limit), nil
}

func (s *Store) CreatePayment(_ context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.TransactionCode == payment.TransactionCode {
			return models.ErrDuplicateTransactionCode
		}
		if p.OrderID == payment.OrderID {
			return models.ErrPaymentExists
		}
	}
	s.payments[payment.ID] = *payment
	return nil
}

func (s *Store) GetPayment(_ context.Context, id string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", id, models.ErrNotFound)
	}
	return &p, nil
}

func (s *Store) GetPaymentByOrder(_ context.Context, orderID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.OrderID == orderID {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("payment for order %s: %w", orderID, models.ErrNotFound)
}

func (s *Store) UpdatePayment(_ context.Context, payment *models.Payment, from models.PaymentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.payments[payment.ID]
	if !ok || current.Status != from || current.Version != payment.Version {
		return false, nil
	}
	payment.Version++
	s.payments[payment.ID] = *payment
	return true, nil
}

func (s *Store) ListPayments(_ context.Context, f models.PaymentFilter) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payments := []models.Payment{}
	for _, p := range s.payments {
		if match(f.BuyerID, p.BuyerID) && match(string(f.Status), string(p.Status)) {
			payments = append(payments, p)
		}
	}
	sort.Slice(payments, func(i, j int) bool { return payments[i].CreatedAt.After(payments[j].CreatedAt) })
	return truncate(payments, f.Limit), nil
}

func (s *Store) ListLapsedPayments(_ context.Context, now time.Time, limit int) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var payments []models.Payment
	for _, p := range s.payments {
		if p.Status == models.PaymentStatusPending && p.Proof == nil && p.IsExpired(now) {
			payments = append(payments, p)
		}
	}
	sort.Slice(payments, func(i, j int) bool { return payments[i].ExpiresAt.Before(payments[j].ExpiresAt) })
	return truncate(payments, limit), nil
}

func match(want, got string) bool {
	return want == "" || want == got
}

func participant(want, buyerID, sellerID string) bool {
	return want == "" || want == buyerID || want == sellerID
}

func truncate[T any](items []T, limit int) []T {
	if limit <= 0 {
		limit = models.DefaultListLimit
	}
	if len(items) > limit {
		return items[:limit]
	}
	return items
}
