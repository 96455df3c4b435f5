package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-service/internal/clock"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

const defaultConsistencyGrace = 5 * time.Minute

// ConsistencyChecker repairs what a cascade leaves behind when both a step and
// its compensation fail: offers accepted without an order, and products left
// Sold with no order holding them.
type ConsistencyChecker struct {
	repo      Repository
	offers    *OfferService
	products  Availability
	clock     clock.Clock
	logger    *zap.Logger
	grace     time.Duration
	batchSize int
}

// NewConsistencyChecker creates a new consistency checker
func NewConsistencyChecker(repo Repository, offers *OfferService, products Availability, clk clock.Clock, grace time.Duration, batchSize int) *ConsistencyChecker {
	if grace <= 0 {
		grace = defaultConsistencyGrace
	}
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	return &ConsistencyChecker{
		repo:      repo,
		offers:    offers,
		products:  products,
		clock:     clk,
		logger:    util.GetLogger(),
		grace:     grace,
		batchSize: batchSize,
	}
}

// Check reverts orphaned accepted offers, then releases orphaned Sold
// products, and returns how many records were repaired
func (c *ConsistencyChecker) Check(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "ConsistencyChecker.Check")
	defer span.End()

	cutoff := c.clock.Now().Add(-c.grace)
	orphans, err := c.repo.ListAcceptedOffersWithoutOrder(ctx, cutoff, c.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list orphaned offers: %w", err)
	}

	repaired := 0
	for i := range orphans {
		offer := &orphans[i]
		if err := c.offers.RevertAcceptance(ctx, offer); err != nil {
			c.logger.Error("Failed to repair orphaned offer",
				zap.String("offer_id", offer.ID),
				zap.Error(err))
			continue
		}
		repaired++
	}

	products, err := c.repo.ListOrphanedSoldProducts(ctx, cutoff, c.batchSize)
	if err != nil {
		return repaired, fmt.Errorf("failed to list orphaned products: %w", err)
	}

	for _, p := range products {
		// an order may have claimed it since the listing
		live, err := c.repo.FindLiveOrderByProduct(ctx, p.ID)
		if err != nil {
			c.logger.Error("Failed to check product holder",
				zap.String("product_id", p.ID),
				zap.Error(err))
			continue
		}
		if live != nil {
			continue
		}

		util.CompensationsTotal.WithLabelValues("orphaned_product").Inc()
		if err := c.products.Release(ctx, p.ID); err != nil {
			c.logger.Error("Failed to release orphaned product",
				zap.String("product_id", p.ID),
				zap.Error(err))
			continue
		}
		c.logger.Warn("Released Sold product with no order", zap.String("product_id", p.ID))
		repaired++
	}

	if repaired > 0 {
		c.logger.Warn("Consistency check repaired records", zap.Int("count", repaired))
	}
	return repaired, nil
}
