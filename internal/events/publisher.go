package events

import (
	"context"

	"sleepdx/internal/adapters/kafka"
	"sleepdx/internal/metrics"
	"sleepdx/pkg/errors"
	"sleepdx/pkg/logger"
)

// Producer is the transport the publisher writes to
type Producer interface {
	Publish(ctx context.Context, topic string, key string, event interface{}) error
}

// Publisher publishes events to Kafka
type Publisher struct {
	producer Producer
	source   string
	log      *logger.Logger
}

// NewPublisher creates a new event publisher. source names the emitting
// process (server, trainer) in every event.
func NewPublisher(producer Producer, source string, log *logger.Logger) *Publisher {
	return &Publisher{
		producer: producer,
		source:   source,
		log:      log,
	}
}

// PublishPrediction publishes a prediction made event
func (p *Publisher) PublishPrediction(ctx context.Context, event *PredictionMade) error {
	event.Base = NewBase(TypePredictionMade, p.source)
	return p.publish(ctx, kafka.TopicPredictionMade, event.ModelVersion, event)
}

// PublishSkew publishes an encoding skew event
func (p *Publisher) PublishSkew(ctx context.Context, event *EncodingSkew) error {
	event.Base = NewBase(TypeEncodingSkew, p.source)
	event.Raw = SanitizeUTF8(event.Raw)
	return p.publish(ctx, kafka.TopicEncodingSkew, event.Field, event)
}

// PublishModelPublished publishes a model published event
func (p *Publisher) PublishModelPublished(ctx context.Context, event *ModelPublished) error {
	event.Base = NewBase(TypeModelPublished, p.source)
	return p.publish(ctx, kafka.TopicModelPublished, event.ModelVersion, event)
}

// PublishReloadRequest publishes a model reload request
func (p *Publisher) PublishReloadRequest(ctx context.Context, event *ModelReloadRequest) error {
	event.Base = NewBase(TypeModelReloadRequest, p.source)
	event.Reason = SanitizeUTF8(event.Reason)
	return p.publish(ctx, kafka.TopicModelReload, event.Requester, event)
}

func (p *Publisher) publish(ctx context.Context, topic, key string, event interface{}) error {
	err := p.producer.Publish(ctx, topic, key, event)
	metrics.RecordKafkaMessage(topic, err)
	if err != nil {
		p.log.Warnw("Failed to publish event",
			"topic", topic,
			"error", err,
		)
		return errors.Wrap(err, "send to kafka")
	}

	p.log.Debugw("Event published", "topic", topic, "key", key)
	return nil
}
