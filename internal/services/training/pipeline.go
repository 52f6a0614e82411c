package training

import (
	"context"
	"time"

	"sleepdx/internal/ml"
	"sleepdx/internal/ml/artifact"
	"sleepdx/internal/ml/encoding"
	"sleepdx/pkg/errors"
)

// Options controls one training run
type Options struct {
	Forest       ml.ForestConfig
	TestFraction float64
	SplitSeed    uint64
}

// DefaultOptions returns an 80/20 split and the default forest, both seeded with 42
func DefaultOptions() Options {
	return Options{
		Forest:       ml.DefaultForestConfig(),
		TestFraction: 0.2,
		SplitSeed:    42,
	}
}

// Result is a trained, evaluated and validated artifact with the data it came from
type Result struct {
	Artifact *artifact.Artifact
	Dataset  *encoding.Dataset
	Split    *ml.Split
	Duration time.Duration
}

// Fit runs the offline stage end to end: encode the corpus, split it, fit
// a forest on the training part and evaluate it on the held-out part. No
// output is produced unless every step succeeds.
func Fit(ctx context.Context, table *encoding.Table, source string, opts Options) (*Result, error) {
	start := time.Now()

	ds, err := encoding.FitAndEncode(table)
	if err != nil {
		return nil, errors.Wrap(err, "encode corpus")
	}

	split, err := ml.TrainTestSplit(len(ds.Features), opts.TestFraction, opts.SplitSeed)
	if err != nil {
		return nil, errors.Wrap(err, "split corpus")
	}

	xTrain, yTrain := ml.Take(ds.Features, split.Train), ml.Take(ds.Targets, split.Train)
	xTest, yTest := ml.Take(ds.Features, split.Test), ml.Take(ds.Targets, split.Test)

	labels := ds.Contract.TargetLabels
	forest, err := ml.TrainForest(ctx, xTrain, yTrain, len(labels), opts.Forest)
	if err != nil {
		return nil, errors.Wrap(err, "fit forest")
	}

	eval, err := ml.Evaluate(forest, xTest, yTest, labels)
	if err != nil {
		return nil, errors.Wrap(err, "evaluate forest")
	}
	eval.TrainSize = len(xTrain)

	params := opts.Forest
	a := artifact.New(ds.Contract, ds.Registry, artifact.ModelSpec{Kind: artifact.KindForest, Forest: forest})
	a.Evaluation = eval
	a.Params = &params
	a.Corpus = artifact.CorpusInfo{
		Source:  source,
		Rows:    len(ds.Features),
		Classes: ds.ClassCounts(),
		Ignored: ds.Ignored,
	}

	if err := a.Validate(); err != nil {
		return nil, errors.Wrapf(errors.ErrInternal, "trained artifact is inconsistent: %v", err)
	}

	return &Result{
		Artifact: a,
		Dataset:  ds,
		Split:    split,
		Duration: time.Since(start),
	}, nil
}

// ONNXLoader opens a serialized ONNX classifier for the given shape and
// fails when the graph disagrees with it
type ONNXLoader func(data []byte, features, classes int) (ml.Classifier, error)

// RuntimeLoader returns an ONNXLoader backed by ONNX Runtime
func RuntimeLoader(cfg ml.ONNXConfig) ONNXLoader {
	return func(data []byte, features, classes int) (ml.Classifier, error) {
		return ml.LoadONNXModel(data, features, classes, cfg)
	}
}

// Bundle packages an externally trained ONNX classifier with the registry
// and contract fitted on the same corpus. The model is checked against the
// contract width and label count and scored on the held-out split; the
// split is only a report here since the model was fitted elsewhere.
func Bundle(ctx context.Context, table *encoding.Table, source string, model []byte, load ONNXLoader, opts Options) (*Result, error) {
	start := time.Now()

	if len(model) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "onnx model is empty")
	}
	if load == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "no onnx runtime configured")
	}

	ds, err := encoding.FitAndEncode(table)
	if err != nil {
		return nil, errors.Wrap(err, "encode corpus")
	}

	split, err := ml.TrainTestSplit(len(ds.Features), opts.TestFraction, opts.SplitSeed)
	if err != nil {
		return nil, errors.Wrap(err, "split corpus")
	}
	xTest, yTest := ml.Take(ds.Features, split.Test), ml.Take(ds.Targets, split.Test)

	labels := ds.Contract.TargetLabels
	clf, err := load(model, ds.Contract.Width(), len(labels))
	if err != nil {
		return nil, errors.Wrap(err, "load onnx model")
	}
	defer clf.Close()

	if clf.NumFeatures() != ds.Contract.Width() || clf.NumClasses() != len(labels) {
		return nil, errors.Wrapf(errors.ErrValidation, "onnx model is %dx%d, contract is %dx%d",
			clf.NumFeatures(), clf.NumClasses(), ds.Contract.Width(), len(labels))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	eval, err := ml.Evaluate(clf, xTest, yTest, labels)
	if err != nil {
		return nil, errors.Wrap(err, "evaluate onnx model")
	}

	a := artifact.New(ds.Contract, ds.Registry, artifact.ModelSpec{Kind: artifact.KindONNX, ONNX: model})
	a.Evaluation = eval
	a.Corpus = artifact.CorpusInfo{
		Source:  source,
		Rows:    len(ds.Features),
		Classes: ds.ClassCounts(),
		Ignored: ds.Ignored,
	}

	if err := a.Validate(); err != nil {
		return nil, errors.Wrapf(errors.ErrInternal, "bundled artifact is inconsistent: %v", err)
	}

	return &Result{
		Artifact: a,
		Dataset:  ds,
		Split:    split,
		Duration: time.Since(start),
	}, nil
}
