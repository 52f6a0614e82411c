package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"sleepdx/internal/metrics"
	"sleepdx/pkg/errors"
	"sleepdx/pkg/logger"
)

// Consumer reads one topic within a consumer group and commits each message
// after its handler returns
type Consumer struct {
	reader  *kafka.Reader
	topic   string
	backoff time.Duration
	log     *logger.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MinBytes int
	MaxBytes int

	// StartOffset applies when the group has no committed offset.
	// Zero means kafka.LastOffset: reload requests only matter going forward.
	StartOffset int64

	// RetryBackoff is the pause after a failed fetch
	RetryBackoff time.Duration
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg ConsumerConfig) *Consumer {
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 1e6
	}
	if cfg.StartOffset == 0 {
		cfg.StartOffset = kafka.LastOffset
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Second
	}

	log := logger.Get().With("component", "kafka_consumer", "topic", cfg.Topic)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		StartOffset:    cfg.StartOffset,
		ReadBackoffMax: time.Second,
		ReadBackoffMin: 100 * time.Millisecond,
	})

	log.Infow("Kafka consumer created",
		"brokers", cfg.Brokers,
		"group_id", cfg.GroupID,
	)

	return &Consumer{
		reader:  reader,
		topic:   cfg.Topic,
		backoff: cfg.RetryBackoff,
		log:     log,
	}
}

// MessageHandler processes one message. A returned error is logged and
// counted; the message is still committed.
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// Consume fetches messages until ctx is done
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	c.log.Info("Starting consumer...")

	for {
		msg, err := c.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("Consumer stopped")
				return ctx.Err()
			}
			c.log.Errorw("Failed to fetch message", "error", err)
			if !sleep(ctx, c.backoff) {
				return ctx.Err()
			}
			continue
		}

		c.log.Debugw("Received message", "key", string(msg.Key), "offset", msg.Offset)

		herr := handler(ctx, msg)
		metrics.RecordKafkaMessage(c.topic, herr)
		if herr != nil {
			c.log.Errorw("Failed to handle message", "offset", msg.Offset, "error", herr)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Warnw("Failed to commit message", "offset", msg.Offset, "error", err)
		}
	}
}

// fetch checks for shutdown before blocking on the reader
func (c *Consumer) fetch(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	default:
	}

	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return kafka.Message{}, ctx.Err()
		}
		return kafka.Message{}, errors.Wrap(err, "fetch")
	}
	return msg, nil
}

// sleep waits for d or until ctx is done; it reports whether d elapsed
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}
