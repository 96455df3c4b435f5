package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/redisclient"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// Availability owns a product's availability flag. TryReserve is the only way
// into Sold and Release the only way out.
type Availability interface {
	Get(ctx context.Context, productID string) (*models.Product, error)
	TryReserve(ctx context.Context, productID string, from, to models.ProductStatus) (bool, error)
	Release(ctx context.Context, productID string) error
}

// ProductAvailability checks a Redis mirror of product status before the
// authoritative conditional update in the repository. The mirror only gates;
// a reservation succeeds only when the repository swap succeeds.
type ProductAvailability struct {
	repo   ProductRepository
	cache  *redisclient.Client
	logger *zap.Logger
}

// NewProductAvailability creates the availability store. cache may be nil.
func NewProductAvailability(repo ProductRepository, cache *redisclient.Client) *ProductAvailability {
	return &ProductAvailability{
		repo:   repo,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// Get returns the product as stored by the catalog
func (a *ProductAvailability) Get(ctx context.Context, productID string) (*models.Product, error) {
	return a.repo.GetProduct(ctx, productID)
}

// TryReserve atomically moves a product from one status to another. It returns
// false with no side effect when the current status is not `from`.
func (a *ProductAvailability) TryReserve(ctx context.Context, productID string, from, to models.ProductStatus) (bool, error) {
	ctx, span := util.StartSpan(ctx, "ProductAvailability.TryReserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ReservationLatency.Observe(time.Since(start).Seconds())
	}()

	// touched: this call wrote the mirror and must leave it matching the store
	touched := false
	mirrored := false
	if a.cache != nil {
		res, err := a.cache.CompareAndSetStatus(ctx, productID, from, to)
		switch {
		case err != nil:
			a.logger.Warn("Redis reservation failed, falling back to store",
				zap.String("product_id", productID),
				zap.Error(err))
		case res == redisclient.CASMismatch:
			stale, err := a.mirrorIsStale(ctx, productID, from)
			if err != nil {
				return false, err
			}
			if !stale {
				util.ReservationConflictsTotal.WithLabelValues("cache").Inc()
				return false, nil
			}
			touched = true
		case res == redisclient.CASSwapped:
			touched = true
			mirrored = true
		}
	}

	ok, err := a.repo.CompareAndSetProductStatus(ctx, productID, from, to)
	if err != nil || !ok {
		if touched {
			a.resync(ctx, productID)
		}
		if err != nil {
			return false, fmt.Errorf("reserve product %s: %w", productID, err)
		}
		util.ReservationConflictsTotal.WithLabelValues("store").Inc()
		return false, nil
	}

	if a.cache != nil && !mirrored {
		a.setMirror(ctx, productID, to)
	}
	return true, nil
}

// Release makes a sold product available again. Deleted products stay deleted.
func (a *ProductAvailability) Release(ctx context.Context, productID string) error {
	ctx, span := util.StartSpan(ctx, "ProductAvailability.Release")
	defer span.End()

	released, err := a.repo.ReleaseProduct(ctx, productID)
	if err != nil {
		return fmt.Errorf("release product %s: %w", productID, err)
	}
	if !released {
		a.logger.Debug("Release was a no-op", zap.String("product_id", productID))
	}

	if a.cache != nil {
		if err := a.cache.ReleaseStatus(ctx, productID); err != nil {
			a.logger.Error("Failed to release product in Redis",
				zap.String("product_id", productID),
				zap.Error(err))
		}
	}
	return nil
}

// SyncToCache mirrors every product's status into Redis
func (a *ProductAvailability) SyncToCache(ctx context.Context) error {
	if a.cache == nil {
		return nil
	}
	a.logger.Info("Starting availability sync to Redis")

	products, err := a.repo.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list products: %w", err)
	}

	for _, p := range products {
		a.setMirror(ctx, p.ID, p.Status)
	}

	a.logger.Info("Availability sync completed", zap.Int("count", len(products)))
	return nil
}

// mirrorIsStale reports whether the store still has the product at `from`
// although Redis disagreed, and repairs the mirror if so.
func (a *ProductAvailability) mirrorIsStale(ctx context.Context, productID string, from models.ProductStatus) (bool, error) {
	p, err := a.repo.GetProduct(ctx, productID)
	if err != nil {
		return false, err
	}
	if p.Status != from {
		return false, nil
	}
	a.logger.Warn("Redis availability mirror was stale", zap.String("product_id", productID))
	a.setMirror(ctx, productID, p.Status)
	return true, nil
}

func (a *ProductAvailability) resync(ctx context.Context, productID string) {
	p, err := a.repo.GetProduct(ctx, productID)
	if err != nil {
		a.logger.Error("Failed to read product for Redis resync",
			zap.String("product_id", productID),
			zap.Error(err))
		return
	}
	a.setMirror(ctx, productID, p.Status)
}

func (a *ProductAvailability) setMirror(ctx context.Context, productID string, status models.ProductStatus) {
	if err := a.cache.SetStatus(ctx, productID, status); err != nil {
		a.logger.Error("Failed to mirror product status to Redis",
			zap.String("product_id", productID),
			zap.Error(err))
	}
}
