package models

import "time"

// Event types
const (
	EventTypeOfferCreated     = "OFFER_CREATED"
	EventTypeOfferAccepted    = "OFFER_ACCEPTED"
	EventTypeOfferRejected    = "OFFER_REJECTED"
	EventTypeOfferCountered   = "OFFER_COUNTERED"
	EventTypeOfferCancelled   = "OFFER_CANCELLED"
	EventTypeOfferExpired     = "OFFER_EXPIRED"
	EventTypeOrderCreated     = "ORDER_CREATED"
	EventTypeOrderConfirmed   = "ORDER_CONFIRMED"
	EventTypeOrderCompleted   = "ORDER_COMPLETED"
	EventTypeOrderCancelled   = "ORDER_CANCELLED"
	EventTypeOrderExpired     = "ORDER_EXPIRED"
	EventTypePaymentCreated   = "PAYMENT_CREATED"
	EventTypePaymentProof     = "PAYMENT_PROOF_UPLOADED"
	EventTypePaymentConfirmed = "PAYMENT_CONFIRMED"
	EventTypePaymentRejected  = "PAYMENT_REJECTED"
	EventTypePaymentExpired   = "PAYMENT_EXPIRED"

	// inbound from the delivery collaborator
	EventTypeOrderDelivered = "ORDER_DELIVERED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// Notification is a user-facing event handed to the notification gateway
type Notification struct {
	BaseEvent
	UserID  string         `json:"user_id"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Payload map[string]any `json:"payload,omitempty"`
}

// OrderDeliveredEvent signals that the buyer received the item
type OrderDeliveredEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
}
