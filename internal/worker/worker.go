package worker

import (
	"context"

	"marketplace-service/internal/broker"
	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Notifier delivers a notification to its recipient. The logging notifier
// is the in-repo implementation; SMS and push delivery plug in behind the
// same interface.
type Notifier interface {
	Notify(ctx context.Context, intent models.NotificationIntent) error
}

// NotificationWorker consumes notification intents from Kafka and hands
// them to a Notifier.
type NotificationWorker struct {
	consumer *broker.Consumer
	notifier Notifier
	logger   *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, notifier Notifier) *NotificationWorker {
	return &NotificationWorker{
		consumer: consumer,
		notifier: notifier,
		logger:   util.GetLogger(),
	}
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")

	return w.consumer.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		intent, err := broker.DecodeIntent(msg)
		if err != nil {
			// Poison messages are logged and committed, never retried.
			w.logger.Error("Failed to decode notification intent",
				zap.ByteString("payload", msg.Value),
				zap.Error(err))
			return nil
		}
		return w.notifier.Notify(ctx, *intent)
	})
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

// LogNotifier writes notifications to the service log. It stands in for a
// real delivery channel.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a new log notifier
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: util.GetLogger()}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, intent models.NotificationIntent) error {
	fields := []zap.Field{
		zap.String("event_id", intent.EventID),
		zap.String("recipient", intent.RecipientRole),
		zap.String("template", intent.Template),
		zap.Int64("order_id", intent.OrderID),
	}
	for k, v := range intent.Data {
		fields = append(fields, zap.String("data_"+k, v))
	}
	n.logger.Info("Notification delivered", fields...)
	return nil
}
