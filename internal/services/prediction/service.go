package prediction

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"sleepdx/internal/domain/sleep"
	"sleepdx/internal/events"
	"sleepdx/internal/metrics"
	"sleepdx/internal/ml"
	"sleepdx/internal/ml/artifact"
	"sleepdx/internal/ml/encoding"
	"sleepdx/pkg/errors"
	"sleepdx/pkg/logger"
)

// Load stages reported in ArtifactLoadError
const (
	StageFetch    = "fetch"
	StageDecode   = "decode"
	StageModel    = "model"
	StageValidate = "validate"
)

// retireGrace is how long a replaced classifier stays open for requests
// that picked it up before the swap
const retireGrace = 30 * time.Second

// EncodeFunc turns a raw record into a feature vector
type EncodeFunc func(rec *sleep.RawRecord, reg *encoding.Registry, c encoding.Contract) (*encoding.Encoded, error)

// ArtifactSource fetches artifact blobs
type ArtifactSource interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// EventPublisher receives prediction and skew events
type EventPublisher interface {
	PublishPrediction(ctx context.Context, event *events.PredictionMade) error
	PublishSkew(ctx context.Context, event *events.EncodingSkew) error
}

// Snapshot is the immutable serving state swapped in by a successful load
type Snapshot struct {
	Artifact   *artifact.Artifact
	Classifier ml.Classifier
	Key        string
	Size       int
	LoadedAt   time.Time
}

// LoadFailure describes the last failed load
type LoadFailure struct {
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Result is one answered prediction
type Result struct {
	Code          int                    `json:"prediction_code"`
	Label         string                 `json:"prediction_label"`
	Confidence    float64                `json:"confidence"`
	Probabilities map[string]float64     `json:"probabilities"`
	ModelVersion  string                 `json:"model_version"`
	SkewWarnings  []encoding.SkewWarning `json:"skew_warnings,omitempty"`
}

// Config holds the service dependencies. Publisher, Audit and Tracker are optional.
type Config struct {
	Source    ArtifactSource
	Key       string
	ONNX      ml.ONNXConfig
	Encode    EncodeFunc
	Publisher EventPublisher
	Audit     sleep.PredictionLogRepository
	Tracker   errors.Tracker
}

// Service owns the serving model. State transitions are made only by Load;
// predictions read the current snapshot without locking.
type Service struct {
	source    ArtifactSource
	key       string
	onnx      ml.ONNXConfig
	encode    EncodeFunc
	publisher EventPublisher
	audit     sleep.PredictionLogRepository
	tracker   errors.Tracker
	log       *logger.Logger

	state    atomic.Int32
	loading  atomic.Bool
	snapshot atomic.Pointer[Snapshot]
	failure  atomic.Pointer[LoadFailure]
}

// NewService creates a new prediction service in the Unloaded state
func NewService(cfg Config) *Service {
	encode := cfg.Encode
	if encode == nil {
		encode = encoding.EncodeOne
	}

	s := &Service{
		source:    cfg.Source,
		key:       cfg.Key,
		onnx:      cfg.ONNX,
		encode:    encode,
		publisher: cfg.Publisher,
		audit:     cfg.Audit,
		tracker:   cfg.Tracker,
		log:       logger.Get().With("component", "prediction_service"),
	}
	s.setState(StateUnloaded)
	return s
}

// State returns the current lifecycle state
func (s *Service) State() State {
	return State(s.state.Load())
}

// Reloading reports whether a load is running
func (s *Service) Reloading() bool {
	return s.loading.Load()
}

// Snapshot returns the serving snapshot, or nil before the first successful load
func (s *Service) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// LastFailure returns the most recent load failure since the last success
func (s *Service) LastFailure() *LoadFailure {
	return s.failure.Load()
}

func (s *Service) setState(state State) {
	s.state.Store(int32(state))
	metrics.SetModelState(state.String(), stateNames())
}

// Load fetches, decodes and validates the artifact and swaps it in. Only one
// load runs at a time; a concurrent call returns ErrReloadInProgress.
// When a model is already serving, a failed reload keeps it serving.
func (s *Service) Load(ctx context.Context, reason string) error {
	if !s.loading.CompareAndSwap(false, true) {
		return errors.ErrReloadInProgress
	}
	defer s.loading.Store(false)

	prev := s.snapshot.Load()
	if prev == nil {
		s.setState(StateLoading)
	}
	s.breadcrumb(ctx, "artifact load started", errors.LevelInfo, map[string]interface{}{"reason": reason, "key": s.key})

	start := time.Now()
	snap, stage, err := s.fetch(ctx)
	if err != nil {
		metrics.RecordArtifactLoad(stage, time.Since(start), err)
		return s.loadFailed(ctx, prev, stage, err)
	}
	metrics.RecordArtifactLoad("", time.Since(start), nil)

	s.snapshot.Store(snap)
	s.failure.Store(nil)
	s.setState(StateReady)

	s.log.Infow("Model ready",
		"version", snap.Artifact.Version,
		"kind", snap.Artifact.Model.Kind,
		"size", humanize.Bytes(uint64(snap.Size)),
		"reason", reason,
		"took", time.Since(start),
	)
	s.breadcrumb(ctx, "artifact loaded", errors.LevelInfo, map[string]interface{}{"version": snap.Artifact.Version})

	if prev != nil {
		s.retire(prev)
	}
	return nil
}

func (s *Service) fetch(ctx context.Context) (*Snapshot, string, error) {
	blob, err := s.source.Get(ctx, s.key)
	if err != nil {
		return nil, StageFetch, err
	}

	a, err := artifact.Decode(blob)
	if err != nil {
		return nil, StageDecode, err
	}

	clf, err := a.Classifier(s.onnx)
	if err != nil {
		return nil, StageModel, err
	}

	if err := checkShape(clf, a.Contract); err != nil {
		_ = clf.Close()
		return nil, StageValidate, err
	}

	return &Snapshot{
		Artifact:   a,
		Classifier: clf,
		Key:        s.key,
		Size:       len(blob),
		LoadedAt:   time.Now().UTC(),
	}, "", nil
}

// checkShape verifies the instantiated model against the contract
func checkShape(clf ml.Classifier, c encoding.Contract) error {
	if clf.NumFeatures() != c.Width() {
		return errors.Wrapf(errors.ErrValidation, "model expects %d features, contract has %d", clf.NumFeatures(), c.Width())
	}
	if clf.NumClasses() != len(c.TargetLabels) {
		return errors.Wrapf(errors.ErrValidation, "model has %d classes, contract has %d labels", clf.NumClasses(), len(c.TargetLabels))
	}
	return nil
}

func (s *Service) loadFailed(ctx context.Context, prev *Snapshot, stage string, cause error) error {
	loadErr := errors.NewArtifactLoadError(stage, cause)
	s.failure.Store(&LoadFailure{Stage: stage, Message: cause.Error(), At: time.Now().UTC()})

	if prev == nil {
		s.setState(StateFailed)
		s.log.Errorw("Artifact load failed, rejecting predictions until reload", "stage", stage, "key", s.key, "error", cause)
	} else {
		s.log.Warnw("Artifact reload failed, keeping current model",
			"stage", stage,
			"key", s.key,
			"version", prev.Artifact.Version,
			"error", cause,
		)
	}

	if s.tracker != nil {
		_ = s.tracker.CaptureError(ctx, loadErr, map[string]string{
			"component": "prediction_service",
			"stage":     stage,
		})
	}
	return loadErr
}

func (s *Service) retire(prev *Snapshot) {
	time.AfterFunc(retireGrace, func() {
		if err := prev.Classifier.Close(); err != nil {
			s.log.Warnw("Failed to close retired model", "version", prev.Artifact.Version, "error", err)
		}
	})
}

func (s *Service) breadcrumb(ctx context.Context, msg string, level errors.Level, data map[string]interface{}) {
	if s.tracker != nil {
		s.tracker.AddBreadcrumb(ctx, msg, "artifact", level, data)
	}
}

// Predict encodes one record and classifies it. While the service is not
// Ready it returns ErrModelUnavailable without touching the record.
func (s *Service) Predict(ctx context.Context, rec *sleep.RawRecord) (*Result, error) {
	start := time.Now()

	snap := s.snapshot.Load()
	if s.State() != StateReady || snap == nil {
		metrics.RecordPrediction("unavailable", "", time.Since(start))
		return nil, errors.ErrModelUnavailable
	}
	a := snap.Artifact

	enc, err := s.encode(rec, a.Registry, a.Contract)
	if err != nil {
		metrics.RecordPrediction("invalid", "", time.Since(start))
		return nil, err
	}

	pred, err := snap.Classifier.Predict(enc.Vector)
	if err != nil {
		metrics.RecordPrediction("error", "", time.Since(start))
		return nil, errors.Wrapf(errors.ErrInternal, "classify: %v", err)
	}

	label, err := a.Label(pred.Class)
	if err != nil {
		metrics.RecordPrediction("error", "", time.Since(start))
		return nil, errors.Wrap(err, "decode prediction")
	}

	probs := make(map[string]float64, len(pred.Probabilities))
	for code, p := range pred.Probabilities {
		if code < len(a.Contract.TargetLabels) {
			probs[a.Contract.TargetLabels[code]] = p
		}
	}

	result := &Result{
		Code:          pred.Class,
		Label:         label,
		Confidence:    pred.Confidence,
		Probabilities: probs,
		ModelVersion:  a.Version,
		SkewWarnings:  enc.Warnings,
	}

	latency := time.Since(start)
	metrics.RecordPrediction("ok", label, latency)

	for _, w := range enc.Warnings {
		s.observeSkew(ctx, snap, w)
	}
	s.record(ctx, snap, enc, pred, result, latency)

	return result, nil
}

// observeSkew makes a default-code fallback visible in logs, metrics, the
// error tracker and the event stream
func (s *Service) observeSkew(ctx context.Context, snap *Snapshot, w encoding.SkewWarning) {
	requestID, _ := logger.RequestID(ctx)
	version := snap.Artifact.Version
	defaultLabel, _ := snap.Artifact.Registry.Decode(w.Field, w.DefaultCode)

	s.logFor(ctx).Warnw("Encoding skew",
		"field", w.Field,
		"label", w.Label,
		"default_code", w.DefaultCode,
		"default_label", defaultLabel,
		"model_version", version,
	)
	metrics.RecordSkew(w.Field)

	if s.tracker != nil {
		_ = s.tracker.CaptureMessage(ctx, w.String(), errors.LevelWarning, map[string]string{
			"component":     "encoding",
			"field":         w.Field,
			"model_version": version,
		})
	}

	if s.publisher != nil {
		_ = s.publisher.PublishSkew(ctx, &events.EncodingSkew{
			RequestID:    requestID,
			ModelVersion: version,
			Field:        w.Field,
			Raw:          w.Label,
			DefaultCode:  w.DefaultCode,
			DefaultLabel: defaultLabel,
		})
	}
}

func (s *Service) record(ctx context.Context, snap *Snapshot, enc *encoding.Encoded, pred *ml.Prediction, result *Result, latency time.Duration) {
	if s.publisher == nil && s.audit == nil {
		return
	}

	requestID, _ := logger.RequestID(ctx)
	skewFields := make([]string, 0, len(enc.Warnings))
	for _, w := range enc.Warnings {
		skewFields = append(skewFields, w.Field)
	}
	latencyMs := float64(latency.Microseconds()) / 1000

	if s.publisher != nil {
		_ = s.publisher.PublishPrediction(ctx, &events.PredictionMade{
			RequestID:     requestID,
			ModelVersion:  result.ModelVersion,
			Code:          result.Code,
			Label:         result.Label,
			Confidence:    result.Confidence,
			Probabilities: pred.Probabilities,
			Features:      enc.Vector,
			SkewFields:    skewFields,
			LatencyMs:     latencyMs,
		})
	}

	if s.audit != nil {
		entry := &sleep.PredictionLog{
			ID:            uuid.New(),
			RequestID:     requestID,
			ModelVersion:  snap.Artifact.Version,
			Code:          int32(result.Code),
			Label:         result.Label,
			Confidence:    result.Confidence,
			Probabilities: pred.Probabilities,
			Features:      enc.Vector,
			SkewFields:    skewFields,
			LatencyMs:     latencyMs,
			CreatedAt:     time.Now().UTC(),
		}
		if err := s.audit.Store(ctx, entry); err != nil {
			s.log.Debugw("Prediction audit row dropped", "error", err)
		}
	}
}

func (s *Service) logFor(ctx context.Context) *logger.Logger {
	if id, ok := logger.RequestID(ctx); ok {
		return s.log.With("request_id", id)
	}
	return s.log
}

// ModelInfo exposes the serving model to the metrics collector
func (s *Service) ModelInfo() (metrics.ModelInfo, bool) {
	snap := s.snapshot.Load()
	if snap == nil {
		return metrics.ModelInfo{}, false
	}
	info := metrics.ModelInfo{
		Version:   snap.Artifact.Version,
		Kind:      snap.Artifact.Model.Kind,
		CreatedAt: snap.Artifact.CreatedAt,
	}
	if snap.Artifact.Evaluation != nil {
		info.Accuracy = snap.Artifact.Evaluation.Accuracy
	}
	return info, true
}

// Close releases the serving model
func (s *Service) Close() error {
	snap := s.snapshot.Swap(nil)
	s.setState(StateUnloaded)
	if snap == nil {
		return nil
	}
	return snap.Classifier.Close()
}
