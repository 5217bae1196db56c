package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"lattice-siem/internal/logging"
	"lattice-siem/internal/queue"
	"lattice-siem/internal/schema"
)

// Sink receives validated events from the consumer. Enqueue blocks while
// the downstream queue is full, which is how backpressure reaches the
// broker: the consumer does not commit, and eventually stops fetching,
// until the sink accepts the event.
type Sink interface {
	Enqueue(ctx context.Context, task *queue.Task) error
}

// Consumer reads security events from the events topic, validates them
// against the envelope schema and hands them to the sink.
//
// Offsets are committed synchronously, and only after the sink has
// accepted the event. A crash between enqueue and commit causes a
// redelivery, never a loss: delivery is at-least-once.
type Consumer struct {
	reader    *kafka.Reader
	config    *Config
	validator *schema.Validator
	sink      Sink
	metrics   *consumerMetrics
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	started   atomic.Bool
}

type consumerMetrics struct {
	messagesConsumed atomic.Int64
	messagesInvalid  atomic.Int64
	bytesConsumed    atomic.Int64
	errors           atomic.Int64
	lastOffset       atomic.Int64
	lastError        atomic.Value
	lastErrorTime    atomic.Value
}

// NewConsumer creates a new event consumer.
func NewConsumer(config *Config, validator *schema.Validator, sink Sink) (*Consumer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, errors.New("kafka: sink is required")
	}
	if validator == nil {
		validator = schema.NewValidator()
	}

	dialer, err := config.GetDialer()
	if err != nil {
		return nil, err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:           config.Brokers,
		GroupID:           config.ConsumerGroup,
		Topic:             config.EventsTopic,
		Dialer:            dialer,
		MinBytes:          config.ConsumerMinBytes,
		MaxBytes:          config.ConsumerMaxBytes,
		MaxWait:           config.ConsumerMaxWait,
		CommitInterval:    0, // synchronous commits, one per processed message
		StartOffset:       config.StartOffset,
		HeartbeatInterval: config.HeartbeatInterval,
		SessionTimeout:    config.SessionTimeout,
		RebalanceTimeout:  config.RebalanceTimeout,
		ReadBackoffMin:    100 * time.Millisecond,
		ReadBackoffMax:    time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			slog.Debug(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			slog.Error(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())

	c := &Consumer{
		reader:    reader,
		config:    config,
		validator: validator,
		sink:      sink,
		metrics:   &consumerMetrics{},
		ctx:       ctx,
		cancel:    cancel,
	}

	slog.Info("kafka consumer initialized",
		"brokers", config.Brokers,
		"topic", config.EventsTopic,
		"group", config.ConsumerGroup,
		"start_offset", config.StartOffset,
	)

	return c, nil
}

// Start begins consuming in a goroutine. Returns immediately; use Stop
// to stop consumption.
func (c *Consumer) Start() error {
	if c.started.Swap(true) {
		return errors.New("kafka: consumer already started")
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.consumeLoop(); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("consumer loop exited with error", "error", err)
		}
	}()

	slog.Info("kafka consumer started",
		"topic", c.config.EventsTopic,
		"group", c.config.ConsumerGroup,
	)

	return nil
}

func (c *Consumer) consumeLoop() error {
	for {
		select {
		case <-c.ctx.Done():
			return c.ctx.Err()
		default:
		}

		kafkaMsg, err := c.reader.FetchMessage(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}

			c.metrics.errors.Add(1)
			c.metrics.lastError.Store(err)
			c.metrics.lastErrorTime.Store(time.Now())

			slog.Error("failed to fetch message",
				"error", err,
				"topic", c.config.EventsTopic,
			)

			// Back off on errors
			select {
			case <-c.ctx.Done():
				return c.ctx.Err()
			case <-time.After(time.Second):
				continue
			}
		}

		event, err := c.decode(kafkaMsg.Value)
		if err != nil {
			// Malformed or schema-invalid payloads are logged and
			// committed: redelivering them would fail identically.
			c.metrics.messagesInvalid.Add(1)
			slog.Warn("dropping invalid event",
				"error", err,
				"topic", kafkaMsg.Topic,
				"partition", kafkaMsg.Partition,
				"offset", kafkaMsg.Offset,
				"payload", logging.MaskPatterns(logging.Snippet(kafkaMsg.Value, 256)),
			)
			if err := c.reader.CommitMessages(c.ctx, kafkaMsg); err != nil {
				slog.Error("failed to commit offset", "error", err, "offset", kafkaMsg.Offset)
			}
			continue
		}

		task := &queue.Task{
			Event:     event,
			Topic:     kafkaMsg.Topic,
			Partition: kafkaMsg.Partition,
			Offset:    kafkaMsg.Offset,
		}

		// Blocks while the pipeline queue is full. The offset stays
		// uncommitted for the whole wait.
		if err := c.sink.Enqueue(c.ctx, task); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			slog.Error("failed to enqueue event",
				"error", err,
				"event_id", event.EventID,
				"offset", kafkaMsg.Offset,
			)
			return err
		}

		if err := c.reader.CommitMessages(c.ctx, kafkaMsg); err != nil {
			slog.Error("failed to commit offset",
				"error", err,
				"offset", kafkaMsg.Offset,
			)
		}

		c.metrics.messagesConsumed.Add(1)
		c.metrics.bytesConsumed.Add(int64(len(kafkaMsg.Value) + len(kafkaMsg.Key)))
		c.metrics.lastOffset.Store(kafkaMsg.Offset)
	}
}

// decode unmarshals and validates one event payload.
func (c *Consumer) decode(value []byte) (*schema.Event, error) {
	var event schema.Event
	if err := json.Unmarshal(value, &event); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	if err := c.validator.Validate(&event); err != nil {
		return nil, fmt.Errorf("validate event: %w", err)
	}
	return &event, nil
}

// GetMetrics returns current consumer metrics.
func (c *Consumer) GetMetrics() Metrics {
	m := Metrics{
		MessagesConsumed: c.metrics.messagesConsumed.Load(),
		MessagesInvalid:  c.metrics.messagesInvalid.Load(),
		BytesConsumed:    c.metrics.bytesConsumed.Load(),
		Errors:           c.metrics.errors.Load(),
	}

	if err := c.metrics.lastError.Load(); err != nil {
		m.LastError = err.(error)
	}
	if t := c.metrics.lastErrorTime.Load(); t != nil {
		m.LastErrorTime = t.(time.Time)
	}

	return m
}

// Stats returns internal reader statistics.
func (c *Consumer) Stats() kafka.ReaderStats {
	return c.reader.Stats()
}

// Stop gracefully stops the consumer.
func (c *Consumer) Stop() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	slog.Info("stopping kafka consumer",
		"messages_consumed", c.metrics.messagesConsumed.Load(),
		"messages_invalid", c.metrics.messagesInvalid.Load(),
	)

	c.cancel()
	c.wg.Wait()

	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("kafka: failed to close consumer: %w", err)
	}

	return nil
}
