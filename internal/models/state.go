package models

var offerTransitions = map[OfferStatus][]OfferStatus{
	OfferStatusPending: {
		OfferStatusAccepted, OfferStatusRejected, OfferStatusCountered,
		OfferStatusExpired, OfferStatusCancelled,
	},
	OfferStatusCountered: {OfferStatusAccepted, OfferStatusCancelled, OfferStatusExpired},
	// compensation path when the order cascade fails after acceptance
	OfferStatusAccepted: {OfferStatusPending, OfferStatusCountered},
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusCompleted, OrderStatusCancelled},
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {PaymentStatusConfirmed, PaymentStatusRejected},
}

// CanTransition reports whether an offer may move from one status to another
func (s OfferStatus) CanTransition(to OfferStatus) bool {
	return contains(offerTransitions[s], to)
}

// IsTerminal reports whether no user-facing transition leaves s
func (s OfferStatus) IsTerminal() bool {
	return s != OfferStatusPending && s != OfferStatusCountered
}

// CanTransition reports whether an order may move from one status to another
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	return contains(orderTransitions[s], to)
}

// IsTerminal reports whether no transition leaves s
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// CanTransition reports whether a payment may move from one status to another
func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	return contains(paymentTransitions[s], to)
}

// IsTerminal reports whether no transition leaves s
func (s PaymentStatus) IsTerminal() bool {
	return len(paymentTransitions[s]) == 0
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
