package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateOffer inserts a new offer
func (s *Store) CreateOffer(ctx context.Context, offer *models.Offer) error {
	query := `
		INSERT INTO offers (id, buyer_id, seller_id, product_id, offer_price, message, status,
			expires_at, version, created_at, updated_at)
		VALUES (:id, :buyer_id, :seller_id, :product_id, :offer_price, :message, :status,
			:expires_at, :version, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, query, offer); err != nil {
		if _, ok := uniqueViolation(err); ok {
			return models.ErrPendingOfferExists
		}
		return fmt.Errorf("failed to create offer: %w", err)
	}
	return nil
}

// GetOffer retrieves an offer by ID
func (s *Store) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	var offer models.Offer
	err := s.db.GetContext(ctx, &offer, "SELECT * FROM offers WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("offer %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

// FindPendingOffer returns the buyer's pending offer on a product, or nil
func (s *Store) FindPendingOffer(ctx context.Context, buyerID, productID string) (*models.Offer, error) {
	var offer models.Offer
	err := s.db.GetContext(ctx, &offer,
		"SELECT * FROM offers WHERE buyer_id = $1 AND product_id = $2 AND status = $3",
		buyerID, productID, models.OfferStatusPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

// UpdateOffer writes the mutable fields of offer if the stored row still has
// status `from` and the same version. On success offer.Version is bumped.
func (s *Store) UpdateOffer(ctx context.Context, offer *models.Offer, from models.OfferStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE offers SET
			counter_offer_price = $1, seller_message = $2, status = $3, accepted_at = $4,
			rejected_at = $5, rejected_by = $6, version = version + 1, updated_at = $7
		WHERE id = $8 AND status = $9 AND version = $10`,
		offer.CounterOfferPrice, offer.SellerMessage, offer.Status, offer.AcceptedAt,
		offer.RejectedAt, offer.RejectedBy, offer.UpdatedAt,
		offer.ID, from, offer.Version)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return false, models.ErrPendingOfferExists
		}
		return false, fmt.Errorf("failed to update offer: %w", err)
	}

	ok, err := affectedOne(res)
	if ok {
		offer.Version++
	}
	return ok, err
}

// ListOffers retrieves offers matching filter, newest first
func (s *Store) ListOffers(ctx context.Context, filter models.OfferFilter) ([]models.Offer, error) {
	var w where
	w.eq("buyer_id", filter.BuyerID)
	w.eq("seller_id", filter.SellerID)
	w.eq("product_id", filter.ProductID)
	w.eq("status", string(filter.Status))
	w.participant(filter.ParticipantID)

	query, args := w.build("SELECT * FROM offers", filter.Limit)

	offers := []models.Offer{}
	err := s.db.SelectContext(ctx, &offers, s.db.Rebind(query), args...)
	return offers, err
}

// ListLapsedOffers retrieves offers in one of statuses whose deadline is at or before now
func (s *Store) ListLapsedOffers(ctx context.Context, statuses []models.OfferStatus, now time.Time, limit int) ([]models.Offer, error) {
	query, args, err := sqlx.In(
		"SELECT * FROM offers WHERE status IN (?) AND expires_at <= ? ORDER BY expires_at LIMIT ?",
		statuses, now, limit)
	if err != nil {
		return nil, err
	}

	var offers []models.Offer
	err = s.db.SelectContext(ctx, &offers, s.db.Rebind(query), args...)
	return offers, err
}

// ListAcceptedOffersWithoutOrder finds accepted offers older than acceptedBefore
// that no order references
func (s *Store) ListAcceptedOffersWithoutOrder(ctx context.Context, acceptedBefore time.Time, limit int) ([]models.Offer, error) {
	var offers []models.Offer
	err := s.db.SelectContext(ctx, &offers, `
		SELECT o.* FROM offers o
		LEFT JOIN orders r ON r.offer_id = o.id
		WHERE o.status = $1 AND o.accepted_at <= $2 AND r.id IS NULL
		ORDER BY o.accepted_at LIMIT $3`,
		models.OfferStatusAccepted, acceptedBefore, limit)
	return offers, err
}
