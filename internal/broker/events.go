package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes user notifications for the notification gateway
// to deliver. It satisfies service.Notifier.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// Notify publishes n keyed by recipient, so one user's notifications stay ordered
func (ep *EventPublisher) Notify(ctx context.Context, n *models.Notification) error {
	key := fmt.Sprintf("user-%s", n.UserID)
	return ep.producer.PublishEvent(ctx, key, n)
}

// EventHandler handles incoming events
type EventHandler struct {
	onOrderDelivered func(context.Context, *models.OrderDeliveredEvent) error
	logger           *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnOrderDelivered registers a handler for ORDER_DELIVERED events
func (eh *EventHandler) OnOrderDelivered(handler func(context.Context, *models.OrderDeliveredEvent) error) {
	eh.onOrderDelivered = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return Permanent(fmt.Errorf("failed to unmarshal base event: %w", err))
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeOrderDelivered:
		if eh.onOrderDelivered != nil {
			var event models.OrderDeliveredEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return Permanent(fmt.Errorf("failed to unmarshal OrderDelivered event: %w", err))
			}
			if event.OrderID == "" {
				return Permanent(fmt.Errorf("%w: OrderDelivered event %s has no order_id", models.ErrValidation, event.EventID))
			}
			return eh.onOrderDelivered(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
