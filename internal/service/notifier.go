package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-service/internal/clock"
	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const notifyTimeout = 3 * time.Second

// Notifier delivers user-facing events to the notification collaborator
type Notifier interface {
	Notify(ctx context.Context, n *models.Notification) error
}

// LogNotifier writes notifications to the log. Used when no broker is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that only logs
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, notification *models.Notification) error {
	n.logger.Info("Notification",
		zap.String("user_id", notification.UserID),
		zap.String("event_type", notification.EventType),
		zap.String("title", notification.Title))
	return nil
}

// dispatcher sends notifications after a transition has committed. Failures
// are logged and counted, never returned.
type dispatcher struct {
	notifier Notifier
	clock    clock.Clock
	logger   *zap.Logger
}

func (d *dispatcher) send(ctx context.Context, userID, eventType, title, message string, payload map[string]any) {
	if d.notifier == nil || userID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	n := &models.Notification{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: d.clock.Now(),
		},
		UserID:  userID,
		Title:   title,
		Message: message,
		Payload: payload,
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("notifier panic: %v", r)
			}
		}()
		return d.notifier.Notify(ctx, n)
	}()
	if err != nil {
		util.NotificationFailuresTotal.Inc()
		d.logger.Warn("Failed to dispatch notification",
			zap.String("user_id", userID),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
