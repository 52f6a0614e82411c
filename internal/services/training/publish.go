package training

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dustin/go-humanize"

	"sleepdx/internal/adapters/artifactstore"
	"sleepdx/internal/adapters/config"
	"sleepdx/internal/events"
	"sleepdx/internal/ml"
	"sleepdx/internal/ml/artifact"
	"sleepdx/pkg/errors"
	"sleepdx/pkg/logger"
)

const (
	publishLock    = "artifact-publish"
	publishLockTTL = 2 * time.Minute
)

// ModelEvents announces published models
type ModelEvents interface {
	PublishModelPublished(ctx context.Context, event *events.ModelPublished) error
}

// Published describes a stored artifact
type Published struct {
	Version    string
	Key        string
	VersionKey string
	MetricsKey string
	Size       int
}

// Publisher writes artifacts to the store in an order that never exposes a
// half-published model: versioned copy, then the stable key, then metrics
type Publisher struct {
	store  artifactstore.Store
	keys   config.ArtifactConfig
	events ModelEvents
	log    *logger.Logger
}

// NewPublisher creates a new artifact publisher. events may be nil.
func NewPublisher(store artifactstore.Store, keys config.ArtifactConfig, events ModelEvents) *Publisher {
	return &Publisher{
		store:  store,
		keys:   keys,
		events: events,
		log:    logger.Get().With("component", "artifact_publisher"),
	}
}

// Publish encodes and stores the artifact. A failure before the stable key
// write leaves the previously published artifact in place.
func (p *Publisher) Publish(ctx context.Context, a *artifact.Artifact) (*Published, error) {
	blob, err := artifact.Encode(a)
	if err != nil {
		return nil, errors.Wrap(err, "encode artifact")
	}

	if locker, ok := p.store.(artifactstore.Locker); ok {
		unlock, err := locker.Lock(ctx, publishLock, publishLockTTL)
		if err != nil {
			return nil, errors.Wrap(err, "acquire publish lock")
		}
		defer func() {
			if err := unlock(context.Background()); err != nil {
				p.log.Warnw("Failed to release publish lock", "error", err)
			}
		}()
	}

	pub := &Published{
		Version:    a.Version,
		Key:        p.keys.Key,
		VersionKey: p.keys.VersionKey(a.Version),
		MetricsKey: p.keys.MetricsKey,
		Size:       len(blob),
	}

	if err := p.store.Put(ctx, pub.VersionKey, blob); err != nil {
		return nil, errors.Wrapf(err, "store %s", pub.VersionKey)
	}
	if err := p.store.Put(ctx, pub.Key, blob); err != nil {
		return nil, errors.Wrapf(err, "store %s", pub.Key)
	}

	if a.Evaluation != nil {
		report, err := json.MarshalIndent(metricsReport{
			Version:    a.Version,
			CreatedAt:  a.CreatedAt,
			Evaluation: a.Evaluation,
			Corpus:     a.Corpus,
		}, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, "marshal metrics")
		}
		if err := p.store.Put(ctx, pub.MetricsKey, report); err != nil {
			return nil, errors.Wrapf(err, "store %s", pub.MetricsKey)
		}
	}

	p.log.Infow("Artifact published",
		"version", pub.Version,
		"key", pub.Key,
		"size", humanize.Bytes(uint64(pub.Size)),
		"store", p.store.Name(),
	)

	if p.events != nil {
		event := &events.ModelPublished{
			ModelVersion: a.Version,
			Kind:         a.Model.Kind,
			Key:          pub.Key,
			VersionKey:   pub.VersionKey,
			CreatedAt:    a.CreatedAt,
		}
		if a.Evaluation != nil {
			event.Accuracy = a.Evaluation.Accuracy
			event.MacroF1 = a.Evaluation.MacroF1
			event.TrainSize = a.Evaluation.TrainSize
			event.TestSize = a.Evaluation.TestSize
		}
		if err := p.events.PublishModelPublished(ctx, event); err != nil {
			p.log.Warnw("Failed to announce published model", "version", a.Version, "error", err)
		}
	}

	return pub, nil
}

// metricsReport is the document stored at the metrics key
type metricsReport struct {
	Version    string              `json:"version"`
	CreatedAt  time.Time           `json:"created_at"`
	Evaluation *ml.Evaluation      `json:"evaluation"`
	Corpus     artifact.CorpusInfo `json:"corpus"`
}
