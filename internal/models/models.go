package models

import "time"

// ProductStatus is the availability flag of a catalog product
type ProductStatus string

// Product statuses
const (
	ProductAvailable ProductStatus = "Available"
	ProductSold      ProductStatus = "Sold"
	ProductDeleted   ProductStatus = "Deleted"
)

// Product represents a catalog product. Only Status is written by this service.
type Product struct {
	ID        string        `db:"id" json:"id"`
	OwnerID   string        `db:"owner_id" json:"owner_id"`
	Price     int64         `db:"price" json:"price"`
	Status    ProductStatus `db:"status" json:"status"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// OfferStatus is the negotiation state of an offer
type OfferStatus string

// Offer statuses
const (
	OfferStatusPending   OfferStatus = "pending"
	OfferStatusAccepted  OfferStatus = "accepted"
	OfferStatusRejected  OfferStatus = "rejected"
	OfferStatusCountered OfferStatus = "countered"
	OfferStatusExpired   OfferStatus = "expired"
	OfferStatusCancelled OfferStatus = "cancelled"
)

// Offer represents a buyer-proposed price on a product
type Offer struct {
	ID                string      `db:"id" json:"id"`
	BuyerID           string      `db:"buyer_id" json:"buyer_id"`
	SellerID          string      `db:"seller_id" json:"seller_id"`
	ProductID         string      `db:"product_id" json:"product_id"`
	OfferPrice        int64       `db:"offer_price" json:"offer_price"`
	CounterOfferPrice *int64      `db:"counter_offer_price" json:"counter_offer_price,omitempty"`
	Message           *string     `db:"message" json:"message,omitempty"`
	SellerMessage     *string     `db:"seller_message" json:"seller_message,omitempty"`
	Status            OfferStatus `db:"status" json:"status"`
	ExpiresAt         time.Time   `db:"expires_at" json:"expires_at"`
	AcceptedAt        *time.Time  `db:"accepted_at" json:"accepted_at,omitempty"`
	RejectedAt        *time.Time  `db:"rejected_at" json:"rejected_at,omitempty"`
	RejectedBy        *string     `db:"rejected_by" json:"rejected_by,omitempty"`
	Version           int64       `db:"version" json:"-"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at" json:"updated_at"`
}

// IsExpired reports whether the offer deadline has passed at now
func (o *Offer) IsExpired(now time.Time) bool {
	return !o.ExpiresAt.After(now)
}

// OrderStatus is the fulfillment state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order represents a committed single-product transaction
type Order struct {
	ID                 string      `db:"id" json:"id"`
	BuyerID            string      `db:"buyer_id" json:"buyer_id"`
	SellerID           string      `db:"seller_id" json:"seller_id"`
	ProductID          string      `db:"product_id" json:"product_id"`
	OfferID            *string     `db:"offer_id" json:"offer_id,omitempty"`
	FinalPrice         int64       `db:"final_price" json:"final_price"`
	Status             OrderStatus `db:"status" json:"status"`
	ExpiresAt          time.Time   `db:"expires_at" json:"expires_at"`
	ConfirmedAt        *time.Time  `db:"confirmed_at" json:"confirmed_at,omitempty"`
	CompletedAt        *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt        *time.Time  `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelledBy        *string     `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancellationReason *string     `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	Version            int64       `db:"version" json:"-"`
	CreatedAt          time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time   `db:"updated_at" json:"updated_at"`
}

// IsExpired reports whether the confirmation window has elapsed at now
func (o *Order) IsExpired(now time.Time) bool {
	return !o.ExpiresAt.After(now)
}

// HoldsProduct reports whether the order keeps its product Sold
func (o *Order) HoldsProduct() bool {
	switch o.Status {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusCompleted:
		return true
	}
	return false
}

// PaymentStatus is the reconciliation state of a payment
type PaymentStatus string

// Payment statuses
const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusConfirmed PaymentStatus = "confirmed"
	PaymentStatusRejected  PaymentStatus = "rejected"
)

// Payment represents a manual bank-transfer claim bound to one order
type Payment struct {
	ID              string        `db:"id" json:"id"`
	OrderID         string        `db:"order_id" json:"order_id"`
	BuyerID         string        `db:"buyer_id" json:"buyer_id"`
	Amount          int64         `db:"amount" json:"amount"`
	TransactionCode string        `db:"transaction_code" json:"transaction_code"`
	Proof           *string       `db:"proof" json:"proof,omitempty"`
	Status          PaymentStatus `db:"status" json:"status"`
	ExpiresAt       time.Time     `db:"expires_at" json:"expires_at"`
	ConfirmedBy     *string       `db:"confirmed_by" json:"confirmed_by,omitempty"`
	ConfirmedAt     *time.Time    `db:"confirmed_at" json:"confirmed_at,omitempty"`
	RejectionReason *string       `db:"rejection_reason" json:"rejection_reason,omitempty"`
	Version         int64         `db:"version" json:"-"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// IsExpired reports whether the proof-upload window has elapsed at now
func (p *Payment) IsExpired(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}

// PaymentTarget is the bank account a buyer transfers to
type PaymentTarget struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountHolder string `json:"account_holder"`
}

// Role of the acting user as supplied by the identity provider
type Role string

// Roles
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Actor identifies who is performing an operation
type Actor struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the actor may see all records
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// SystemActor is recorded as the acting user of sweep-driven transitions
const SystemActor = "system"

// Ptr returns a pointer to v
func Ptr[T any](v T) *T {
	return &v
}
