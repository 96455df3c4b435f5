package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-service/internal/clock"
	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

const defaultSweepBatchSize = 200

// Sweep record kinds
const (
	KindOffer   = "offer"
	KindOrder   = "order"
	KindPayment = "payment"
)

// SweepResult counts what one sweep pass transitioned
type SweepResult struct {
	OffersExpired    int
	OrdersCancelled  int
	PaymentsRejected int
	Failures         int
}

// Sweeper applies time-based expirations across offers, orders and payments.
// Every record is claimed with a conditional update, so overlapping passes
// (in this process or another replica) transition each record once.
type Sweeper struct {
	offers    *OfferService
	orders    *OrderService
	payments  *PaymentService
	offerRepo OfferRepository
	orderRepo OrderRepository
	payRepo   PaymentRepository
	clock     clock.Clock
	logger    *zap.Logger
	batchSize int
}

// NewSweeper creates a new sweeper
func NewSweeper(
	repo Repository,
	offers *OfferService,
	orders *OrderService,
	payments *PaymentService,
	clk clock.Clock,
	batchSize int,
) *Sweeper {
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	return &Sweeper{
		offers:    offers,
		orders:    orders,
		payments:  payments,
		offerRepo: repo,
		orderRepo: repo,
		payRepo:   repo,
		clock:     clk,
		logger:    util.GetLogger(),
		batchSize: batchSize,
	}
}

// Sweep runs one pass over every kind. Listing errors abort only their kind.
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	ctx, span := util.StartSpan(ctx, "Sweeper.Sweep")
	defer span.End()

	start := time.Now()
	defer func() {
		util.SweepRunsTotal.Inc()
		util.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	var result SweepResult
	now := s.clock.Now()

	// payments first so a lapsed payment cancels its order with the payment reason
	s.sweepPayments(ctx, now, &result)
	s.sweepOrders(ctx, now, &result)
	s.sweepOffers(ctx, now, &result)

	if result.OffersExpired+result.OrdersCancelled+result.PaymentsRejected+result.Failures > 0 {
		s.logger.Info("Sweep completed",
			zap.Int("offers_expired", result.OffersExpired),
			zap.Int("orders_cancelled", result.OrdersCancelled),
			zap.Int("payments_rejected", result.PaymentsRejected),
			zap.Int("failures", result.Failures))
	}
	return result
}

func (s *Sweeper) sweepOrders(ctx context.Context, now time.Time, result *SweepResult) {
	orders, err := s.orderRepo.ListLapsedOrders(ctx, now, s.batchSize)
	if err != nil {
		s.listFailed(KindOrder, err, result)
		return
	}
	for i := range orders {
		order := &orders[i]
		s.process(ctx, KindOrder, order.ID, result, &result.OrdersCancelled, func() (bool, error) {
			return s.orders.ExpireOrder(ctx, order)
		})
	}
}

func (s *Sweeper) sweepOffers(ctx context.Context, now time.Time, result *SweepResult) {
	statuses := []models.OfferStatus{models.OfferStatusPending, models.OfferStatusCountered}
	offers, err := s.offerRepo.ListLapsedOffers(ctx, statuses, now, s.batchSize)
	if err != nil {
		s.listFailed(KindOffer, err, result)
		return
	}
	for i := range offers {
		offer := &offers[i]
		s.process(ctx, KindOffer, offer.ID, result, &result.OffersExpired, func() (bool, error) {
			return s.offers.ExpireOffer(ctx, offer)
		})
	}
}

func (s *Sweeper) sweepPayments(ctx context.Context, now time.Time, result *SweepResult) {
	payments, err := s.payRepo.ListLapsedPayments(ctx, now, s.batchSize)
	if err != nil {
		s.listFailed(KindPayment, err, result)
		return
	}
	for i := range payments {
		payment := &payments[i]
		s.process(ctx, KindPayment, payment.ID, result, &result.PaymentsRejected, func() (bool, error) {
			return s.payments.ExpirePayment(ctx, payment)
		})
	}
}

// process runs one record's transition in isolation: an error or panic is
// logged and counted and the pass moves on.
func (s *Sweeper) process(ctx context.Context, kind, id string, result *SweepResult, counter *int, fn func() (bool, error)) {
	if ctx.Err() != nil {
		return
	}

	done, err := func() (done bool, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}()
	if err != nil {
		result.Failures++
		util.SweepFailuresTotal.WithLabelValues(kind).Inc()
		s.logger.Error("Sweep failed to process record",
			zap.String("kind", kind),
			zap.String("id", id),
			zap.Error(err))
		return
	}
	if done {
		*counter++
		util.SweepRecordsTotal.WithLabelValues(kind).Inc()
	}
}

func (s *Sweeper) listFailed(kind string, err error, result *SweepResult) {
	result.Failures++
	util.SweepFailuresTotal.WithLabelValues(kind).Inc()
	s.logger.Error("Sweep failed to list lapsed records",
		zap.String("kind", kind),
		zap.Error(err))
}
