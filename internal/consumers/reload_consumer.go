package consumers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	kafkaadapter "sleepdx/internal/adapters/kafka"
	"sleepdx/internal/events"
	"sleepdx/pkg/errors"
	"sleepdx/pkg/logger"
)

// Reloader is the part of the prediction service a reload request drives
type Reloader interface {
	Load(ctx context.Context, reason string) error
}

// ReloadConsumer reads operator reload requests from Kafka and reloads the
// serving artifact. Each instance must consume with its own group so every
// instance sees every request.
type ReloadConsumer struct {
	consumer *kafkaadapter.Consumer
	reloader Reloader
	timeout  time.Duration
	log      *logger.Logger
}

// NewReloadConsumer creates a new reload consumer
func NewReloadConsumer(
	consumer *kafkaadapter.Consumer,
	reloader Reloader,
	timeout time.Duration,
	log *logger.Logger,
) *ReloadConsumer {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &ReloadConsumer{
		consumer: consumer,
		reloader: reloader,
		timeout:  timeout,
		log:      log.With("component", "reload_consumer"),
	}
}

// Start consumes reload requests until ctx is cancelled
func (c *ReloadConsumer) Start(ctx context.Context) error {
	c.log.Info("Starting reload consumer...")

	// Ensure consumer is closed on exit
	defer func() {
		if err := c.consumer.Close(); err != nil {
			c.log.Errorw("Failed to close reload consumer", "error", err)
		} else {
			c.log.Info("✓ Reload consumer closed")
		}
	}()

	err := c.consumer.Consume(ctx, c.handleMessage)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// handleMessage processes a single reload request. A load already in
// progress satisfies the request.
func (c *ReloadConsumer) handleMessage(ctx context.Context, msg kafka.Message) error {
	var event events.ModelReloadRequest
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return errors.Wrap(err, "unmarshal reload request")
	}
	if event.Type != "" && event.Type != events.TypeModelReloadRequest {
		c.log.Debugw("Ignoring event on reload topic", "type", event.Type)
		return nil
	}

	c.log.Infow("Reload requested",
		"event_id", event.ID,
		"requester", event.Requester,
		"reason", event.Reason,
	)

	// Finish the current load even if shutdown starts mid-way
	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	err := c.reloader.Load(loadCtx, "kafka")
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errors.ErrReloadInProgress):
		c.log.Infow("Reload already in progress, request satisfied", "event_id", event.ID)
		return nil
	default:
		return errors.Wrapf(err, "reload for event %s", event.ID)
	}
}
