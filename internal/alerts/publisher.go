package alerts

import (
	"context"
	"log/slog"

	"lattice-siem/internal/engine"
	"lattice-siem/internal/kafka"
)

// KafkaPublisher publishes fired alerts to the alerts topic. The message
// key is the rule ID, so alerts from one rule land on one partition and
// keep their firing order.
type KafkaPublisher struct {
	producer *kafka.Producer
}

// NewKafkaPublisher creates a publisher backed by the given producer.
func NewKafkaPublisher(producer *kafka.Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

// Publish sends one alert as a JSON message.
func (p *KafkaPublisher) Publish(ctx context.Context, alert *engine.Alert) error {
	return p.producer.ProduceJSON(ctx, alert.RuleID, alert)
}

// Close flushes and closes the underlying producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// NopPublisher is used when alert publishing is disabled.
type NopPublisher struct{}

// Publish logs the alert at debug level and discards it.
func (NopPublisher) Publish(_ context.Context, alert *engine.Alert) error {
	slog.Debug("alert publishing disabled, dropping alert", "alert_id", alert.ID)
	return nil
}
