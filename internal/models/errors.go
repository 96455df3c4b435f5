package models

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers match with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidState      = errors.New("invalid state")
	ErrConflict          = errors.New("conflict")
	ErrExpired           = errors.New("expired")
	ErrValidation        = errors.New("validation failed")
	ErrResourceExhausted = errors.New("resource exhausted")
)

// Storage constraint violations
var (
	ErrPendingOfferExists       = fmt.Errorf("%w: pending offer already exists for this product", ErrConflict)
	ErrLiveOrderExists          = fmt.Errorf("%w: product already has an active order", ErrConflict)
	ErrPaymentExists            = fmt.Errorf("%w: payment already exists for order", ErrConflict)
	ErrDuplicateTransactionCode = fmt.Errorf("%w: transaction code already in use", ErrConflict)
	ErrStaleRecord              = fmt.Errorf("%w: record was modified concurrently", ErrConflict)
)

// ErrProductUnavailable is returned when a reservation loses the race for a product
var ErrProductUnavailable = fmt.Errorf("%w: product is no longer available", ErrConflict)
