package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"marketplace-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// NotificationPublisher puts notification intents on the notifications
// topic. Delivery (email/WhatsApp/SMS) happens downstream in the worker;
// the services treat publishing as fire-and-forget.
type NotificationPublisher struct {
	producer *Producer
}

// NewNotificationPublisher creates a new notification publisher
func NewNotificationPublisher(producer *Producer) *NotificationPublisher {
	return &NotificationPublisher{producer: producer}
}

// PublishIntent publishes one notification intent, keyed by order so intents
// for the same order stay ordered per partition.
func (np *NotificationPublisher) PublishIntent(ctx context.Context, intent models.NotificationIntent) error {
	key := fmt.Sprintf("order-%d", intent.OrderID)
	return np.producer.PublishMessage(ctx, key, intent)
}

// DecodeIntent unmarshals a consumed message back into an intent.
func DecodeIntent(msg kafka.Message) (*models.NotificationIntent, error) {
	var intent models.NotificationIntent
	if err := json.Unmarshal(msg.Value, &intent); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification intent: %w", err)
	}
	return &intent, nil
}
