package service

import (
	"context"
	"time"

	"marketplace-service/internal/models"
)

// ProductRepository is the catalog's product table as seen by this service.
// Status changes only ever go through the conditional updates.
type ProductRepository interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	CompareAndSetProductStatus(ctx context.Context, id string, from, to models.ProductStatus) (bool, error)
	ReleaseProduct(ctx context.Context, id string) (bool, error)
	ListOrphanedSoldProducts(ctx context.Context, soldBefore time.Time, limit int) ([]models.Product, error)
}

// OfferRepository persists offers. UpdateOffer is a conditional write on
// (status, version) and reports false when another writer got there first.
type OfferRepository interface {
	CreateOffer(ctx context.Context, offer *models.Offer) error
	GetOffer(ctx context.Context, id string) (*models.Offer, error)
	FindPendingOffer(ctx context.Context, buyerID, productID string) (*models.Offer, error)
	UpdateOffer(ctx context.Context, offer *models.Offer, from models.OfferStatus) (bool, error)
	ListOffers(ctx context.Context, filter models.OfferFilter) ([]models.Offer, error)
	ListLapsedOffers(ctx context.Context, statuses []models.OfferStatus, now time.Time, limit int) ([]models.Offer, error)
	ListAcceptedOffersWithoutOrder(ctx context.Context, acceptedBefore time.Time, limit int) ([]models.Offer, error)
}

// OrderRepository persists orders. CreateOrder fails with models.ErrLiveOrderExists
// when the product already has an order holding it.
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	FindLiveOrderByProduct(ctx context.Context, productID string) (*models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order, from models.OrderStatus) (bool, error)
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error)
	ListLapsedOrders(ctx context.Context, now time.Time, limit int) ([]models.Order, error)
}

// PaymentRepository persists payments. CreatePayment distinguishes a taken
// transaction code from an order that already has a payment.
type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	GetPaymentByOrder(ctx context.Context, orderID string) (*models.Payment, error)
	UpdatePayment(ctx context.Context, payment *models.Payment, from models.PaymentStatus) (bool, error)
	ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, error)
	ListLapsedPayments(ctx context.Context, now time.Time, limit int) ([]models.Payment, error)
}

// Repository is everything the services persist
type Repository interface {
	ProductRepository
	OfferRepository
	OrderRepository
	PaymentRepository
}
