package training

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"sleepdx/internal/adapters/artifactstore"
	"sleepdx/internal/metrics"
	"sleepdx/internal/ml/artifact"
	"sleepdx/internal/ml/encoding"
	"sleepdx/pkg/errors"
	"sleepdx/pkg/logger"
)

// Report summarizes a training run
type Report struct {
	Result    *Result
	Published *Published
}

// CleanOutput locates the ETL output
type CleanOutput struct {
	Dataset     *encoding.Dataset
	CleanKey    string
	RegistryKey string
}

// Inspection is a published artifact with its stored size
type Inspection struct {
	Artifact *artifact.Artifact
	Key      string
	Size     int
}

// Service drives the offline pipeline: read, fit, evaluate, publish
type Service struct {
	source      CorpusSource
	store       artifactstore.Store
	publisher   *Publisher
	loadONNX    ONNXLoader
	opts        Options
	artifactKey string
	cleanKey    string
	registryKey string
	log         *logger.Logger
}

// ServiceConfig holds the training service dependencies
type ServiceConfig struct {
	Source      CorpusSource
	Store       artifactstore.Store
	Publisher   *Publisher
	LoadONNX    ONNXLoader // Opens models for Bundle
	Options     Options
	ArtifactKey string
	CleanKey    string
	RegistryKey string
}

// NewService creates a new training service
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		source:      cfg.Source,
		store:       cfg.Store,
		publisher:   cfg.Publisher,
		loadONNX:    cfg.LoadONNX,
		opts:        cfg.Options,
		artifactKey: cfg.ArtifactKey,
		cleanKey:    cfg.CleanKey,
		registryKey: cfg.RegistryKey,
		log:         logger.Get().With("component", "training_service"),
	}
}

// Train reads the corpus, fits and evaluates a model and, unless dryRun,
// publishes it
func (s *Service) Train(ctx context.Context, dryRun bool) (report *Report, err error) {
	start := time.Now()
	defer func() {
		accuracy := 0.0
		if report != nil && report.Result.Artifact.Evaluation != nil {
			accuracy = report.Result.Artifact.Evaluation.Accuracy
		}
		metrics.RecordTrainingRun(time.Since(start), accuracy, err)
	}()

	table, err := s.source.Read(ctx)
	if err != nil {
		s.log.Errorw("Failed to read training corpus", "source", s.source.Describe(), "error", err)
		return nil, err
	}
	s.log.Infow("Corpus loaded", "source", s.source.Describe(), "rows", len(table.Rows), "columns", len(table.Columns))

	result, err := Fit(ctx, table, s.source.Describe(), s.opts)
	if err != nil {
		return nil, err
	}

	eval := result.Artifact.Evaluation
	s.log.Infow("Model trained",
		"version", result.Artifact.Version,
		"train_rows", eval.TrainSize,
		"test_rows", eval.TestSize,
		"accuracy", eval.Accuracy,
		"macro_f1", eval.MacroF1,
		"took", result.Duration,
	)
	if d := result.Dataset.Defaulted; len(d) > 0 {
		s.log.Warnw("Blank categorical cells encoded with default codes", "fields", d)
	}

	return s.publish(ctx, result, dryRun)
}

// Bundle wraps an externally trained ONNX model into an artifact fitted on
// the corpus and, unless dryRun, publishes it
func (s *Service) Bundle(ctx context.Context, model []byte, dryRun bool) (*Report, error) {
	table, err := s.source.Read(ctx)
	if err != nil {
		s.log.Errorw("Failed to read training corpus", "source", s.source.Describe(), "error", err)
		return nil, err
	}

	result, err := Bundle(ctx, table, s.source.Describe(), model, s.loadONNX, s.opts)
	if err != nil {
		s.log.Errorw("Failed to bundle ONNX model", "source", s.source.Describe(), "error", err)
		return nil, err
	}

	eval := result.Artifact.Evaluation
	s.log.Infow("ONNX model bundled",
		"version", result.Artifact.Version,
		"model_bytes", len(model),
		"test_rows", eval.TestSize,
		"accuracy", eval.Accuracy,
		"macro_f1", eval.MacroF1,
	)

	return s.publish(ctx, result, dryRun)
}

func (s *Service) publish(ctx context.Context, result *Result, dryRun bool) (*Report, error) {
	report := &Report{Result: result}
	if dryRun {
		return report, nil
	}

	if s.publisher == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "no publisher configured")
	}
	published, err := s.publisher.Publish(ctx, result.Artifact)
	if err != nil {
		return nil, err
	}
	report.Published = published
	return report, nil
}

// Clean runs the ETL stage only: it encodes the corpus and stores the
// encoded table and the fitted registry
func (s *Service) Clean(ctx context.Context) (*CleanOutput, error) {
	table, err := s.source.Read(ctx)
	if err != nil {
		return nil, err
	}

	ds, err := encoding.FitAndEncode(table)
	if err != nil {
		return nil, errors.Wrap(err, "encode corpus")
	}

	var buf bytes.Buffer
	if err := ds.Table().WriteCSV(&buf); err != nil {
		return nil, errors.Wrap(err, "render clean csv")
	}
	reg, err := json.MarshalIndent(ds.Registry, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshal registry")
	}

	if err := s.store.Put(ctx, s.cleanKey, buf.Bytes()); err != nil {
		return nil, errors.Wrapf(err, "store %s", s.cleanKey)
	}
	if err := s.store.Put(ctx, s.registryKey, reg); err != nil {
		return nil, errors.Wrapf(err, "store %s", s.registryKey)
	}

	s.log.Infow("Clean dataset written", "rows", len(ds.Features), "key", s.cleanKey, "registry", s.registryKey)
	return &CleanOutput{Dataset: ds, CleanKey: s.cleanKey, RegistryKey: s.registryKey}, nil
}

// Inspect fetches and decodes the published artifact. An empty key means
// the stable artifact key.
func (s *Service) Inspect(ctx context.Context, key string) (*Inspection, error) {
	if key == "" {
		key = s.artifactKey
	}
	blob, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s", key)
	}
	a, err := artifact.Decode(blob)
	if err != nil {
		return nil, err
	}
	return &Inspection{Artifact: a, Key: key, Size: len(blob)}, nil
}
