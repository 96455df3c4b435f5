package models

// OfferFilter narrows offer listings. Empty fields match everything.
type OfferFilter struct {
	BuyerID       string
	SellerID      string
	ParticipantID string // buyer or seller
	ProductID     string
	Status        OfferStatus
	Limit         int
}

// OrderFilter narrows order listings. Empty fields match everything.
type OrderFilter struct {
	BuyerID       string
	SellerID      string
	ParticipantID string // buyer or seller
	Status        OrderStatus
	Limit         int
}

// PaymentFilter narrows payment listings. Empty fields match everything.
type PaymentFilter struct {
	BuyerID string
	Status  PaymentStatus
	Limit   int
}

// DefaultListLimit caps listings that do not specify a limit
const DefaultListLimit = 100
