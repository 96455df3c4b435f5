package worker

import (
	"context"
	"errors"
	"time"

	"marketplace-service/internal/broker"
	"marketplace-service/internal/models"
	"marketplace-service/internal/service"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// Sweeper is the expiration pass run on every tick
type Sweeper interface {
	Sweep(ctx context.Context) service.SweepResult
}

// Checker is the consistency check run after every sweep
type Checker interface {
	Check(ctx context.Context) (int, error)
}

// SweepWorker runs the expiration sweep and the consistency check on a fixed
// interval. Replicas may run it concurrently.
type SweepWorker struct {
	sweeper  Sweeper
	checker  Checker
	interval time.Duration
	logger   *zap.Logger
}

// NewSweepWorker creates a new sweep worker. checker may be nil.
func NewSweepWorker(sweeper Sweeper, checker Checker, interval time.Duration) *SweepWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SweepWorker{
		sweeper:  sweeper,
		checker:  checker,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start runs until ctx is done
func (w *SweepWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting sweep worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping sweep worker")
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and consistency check
func (w *SweepWorker) RunOnce(ctx context.Context) {
	w.sweeper.Sweep(ctx)

	if w.checker == nil {
		return
	}
	if _, err := w.checker.Check(ctx); err != nil {
		w.logger.Error("Consistency check failed", zap.Error(err))
	}
}

// OrderCompleter completes delivered orders
type OrderCompleter interface {
	CompleteOrder(ctx context.Context, orderID string) (*models.Order, error)
}

// DeliveryWorker completes orders when the delivery collaborator reports
// that the buyer received the item.
type DeliveryWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewDeliveryWorker creates a new delivery worker
func NewDeliveryWorker(consumer *broker.Consumer, orders OrderCompleter) *DeliveryWorker {
	w := &DeliveryWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnOrderDelivered(w.completeHandler(orders))
	return w
}

// completeHandler treats deliveries for unknown or no longer confirmed orders
// as handled so they are committed and not redelivered.
func (w *DeliveryWorker) completeHandler(orders OrderCompleter) func(context.Context, *models.OrderDeliveredEvent) error {
	return func(ctx context.Context, event *models.OrderDeliveredEvent) error {
		_, err := orders.CompleteOrder(ctx, event.OrderID)
		switch {
		case err == nil:
			w.logger.Info("Order completed from delivery event",
				zap.String("order_id", event.OrderID),
				zap.String("event_id", event.EventID))
			return nil
		case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrInvalidState):
			w.logger.Warn("Ignoring delivery event",
				zap.String("order_id", event.OrderID),
				zap.String("event_id", event.EventID),
				zap.Error(err))
			return nil
		}
		return err
	}
}

// Start starts the worker
func (w *DeliveryWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting delivery worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *DeliveryWorker) Stop() error {
	w.logger.Info("Stopping delivery worker")
	return w.consumer.Close()
}
