package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestEventPublisherNotify(t *testing.T) {
	w := &fakeWriter{}
	publisher := NewEventPublisher(&Producer{writer: w, logger: util.GetLogger()})

	n := &models.Notification{
		BaseEvent: models.BaseEvent{
			EventID:   "evt-1",
			EventType: models.EventTypeOrderCreated,
			Timestamp: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		},
		UserID:  "seller-1",
		Title:   "New order",
		Message: "A buyer purchased your product.",
		Payload: map[string]any{"order_id": "o-1"},
	}
	require.NoError(t, publisher.Notify(context.Background(), n))

	require.Len(t, w.messages, 1)
	assert.Equal(t, "user-seller-1", string(w.messages[0].Key))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &decoded))
	assert.Equal(t, "ORDER_CREATED", decoded["event_type"])
	assert.Equal(t, "seller-1", decoded["user_id"])
	assert.Equal(t, "o-1", decoded["payload"].(map[string]any)["order_id"])
}

func TestEventPublisherNotify_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	publisher := NewEventPublisher(&Producer{writer: w, logger: util.GetLogger()})

	err := publisher.Notify(context.Background(), &models.Notification{UserID: "u"})
	assert.Error(t, err)
}

func TestHandleMessage_OrderDelivered(t *testing.T) {
	handler := NewEventHandler()

	var got *models.OrderDeliveredEvent
	handler.OnOrderDelivered(func(_ context.Context, e *models.OrderDeliveredEvent) error {
		got = e
		return nil
	})

	body, err := json.Marshal(models.OrderDeliveredEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-9", EventType: models.EventTypeOrderDelivered},
		OrderID:   "order-42",
	})
	require.NoError(t, err)

	require.NoError(t, handler.HandleMessage(context.Background(), kafka.Message{Value: body}))
	require.NotNil(t, got)
	assert.Equal(t, "order-42", got.OrderID)
	assert.Equal(t, "evt-9", got.EventID)
}

func TestHandleMessage_Errors(t *testing.T) {
	handler := NewEventHandler()
	called := false
	handler.OnOrderDelivered(func(context.Context, *models.OrderDeliveredEvent) error {
		called = true
		return nil
	})

	err := handler.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")})
	assert.Error(t, err)
	assert.True(t, IsPermanent(err), "malformed payloads are never retried")

	err = handler.HandleMessage(context.Background(), kafka.Message{
		Value: []byte(`{"event_type":"ORDER_DELIVERED","event_id":"e"}`),
	})
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.True(t, IsPermanent(err))

	err = handler.HandleMessage(context.Background(), kafka.Message{
		Value: []byte(`{"event_type":"SOMETHING_ELSE","event_id":"e"}`),
	})
	assert.NoError(t, err, "unknown events are skipped")
	assert.False(t, called)
}
