package prediction

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"sleepdx/internal/adapters/errors/noop"
	"sleepdx/internal/domain/sleep"
	"sleepdx/internal/events"
	"sleepdx/internal/ml"
	"sleepdx/internal/ml/artifact"
	"sleepdx/internal/ml/encoding"
	"sleepdx/internal/testsupport"
	"sleepdx/pkg/errors"
	"sleepdx/pkg/logger"
)

const artifactKey = "models/artifact.art"

// memSource is an in-memory artifact source; gate, when set, blocks Get
type memSource struct {
	mu    sync.Mutex
	blobs map[string][]byte
	gate  chan struct{}
}

func newMemSource() *memSource {
	return &memSource{blobs: make(map[string][]byte)}
}

func (m *memSource) put(key string, blob []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = blob
}

func (m *memSource) Get(ctx context.Context, key string) ([]byte, error) {
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.blobs[key]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "key %s", key)
	}
	return blob, nil
}

// MockPublisher is a mock for EventPublisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishPrediction(ctx context.Context, event *events.PredictionMade) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockPublisher) PublishSkew(ctx context.Context, event *events.EncodingSkew) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type memAudit struct {
	mu   sync.Mutex
	rows []*sleep.PredictionLog
}

func (a *memAudit) Store(_ context.Context, row *sleep.PredictionLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows = append(a.rows, row)
	return nil
}

func (a *memAudit) CountByLabel(context.Context, time.Time) ([]sleep.LabelCount, error) {
	return nil, nil
}

// countingEncoder wraps the real encoder and counts calls
type countingEncoder struct {
	calls atomic.Int64
}

func (c *countingEncoder) encode(rec *sleep.RawRecord, reg *encoding.Registry, ct encoding.Contract) (*encoding.Encoded, error) {
	c.calls.Add(1)
	return encoding.EncodeOne(rec, reg, ct)
}

func strPtr(s string) *string     { return &s }
func intPtr(i int) *int           { return &i }
func floatPtr(f float64) *float64 { return &f }

func doctorRecord() *sleep.RawRecord {
	return &sleep.RawRecord{
		Gender:                strPtr("Male"),
		Age:                   intPtr(30),
		Occupation:            strPtr("Doctor"),
		SleepDuration:         floatPtr(7.0),
		QualityOfSleep:        intPtr(8),
		PhysicalActivityLevel: intPtr(50),
		StressLevel:           intPtr(5),
		BMICategory:           strPtr("Normal"),
		HeartRate:             intPtr(70),
		DailySteps:            intPtr(8000),
		SystolicBP:            intPtr(120),
		DiastolicBP:           intPtr(80),
	}
}

func newTestService(t *testing.T, src *memSource, enc *countingEncoder, tracker errors.Tracker) *Service {
	t.Helper()
	cfg := Config{Source: src, Key: artifactKey, Tracker: tracker}
	if enc != nil {
		cfg.Encode = enc.encode
	}
	svc := NewService(cfg)
	svc.log = logger.Nop()
	return svc
}

func TestService_UnloadedRejectsWithoutEncoding(t *testing.T) {
	enc := &countingEncoder{}
	svc := newTestService(t, newMemSource(), enc, nil)

	assert.Equal(t, StateUnloaded, svc.State())

	_, err := svc.Predict(context.Background(), doctorRecord())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrModelUnavailable)
	assert.ErrorIs(t, err, errors.ErrUnavailable)
	assert.Zero(t, enc.calls.Load())
}

func TestService_LoadAndPredict(t *testing.T) {
	src := newMemSource()
	a := testsupport.NewArtifact(t)
	blob := testsupport.NewArtifactBlob(t)
	src.put(artifactKey, blob)

	svc := newTestService(t, src, nil, nil)
	require.NoError(t, svc.Load(context.Background(), "startup"))
	assert.Equal(t, StateReady, svc.State())
	assert.Nil(t, svc.LastFailure())

	snap := svc.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, len(blob), snap.Size)
	assert.Equal(t, a.Contract, snap.Artifact.Contract)

	res, err := svc.Predict(context.Background(), doctorRecord())
	require.NoError(t, err)

	labels := snap.Artifact.Contract.TargetLabels
	require.Less(t, res.Code, len(labels))
	assert.Equal(t, labels[res.Code], res.Label)
	assert.Equal(t, snap.Artifact.Version, res.ModelVersion)
	assert.Empty(t, res.SkewWarnings)

	total := 0.0
	for _, p := range res.Probabilities {
		total += p
	}
	assert.InDelta(t, 1.0, total, 1e-9)
	assert.Equal(t, res.Probabilities[res.Label], res.Confidence)

	info, ok := svc.ModelInfo()
	require.True(t, ok)
	assert.Equal(t, snap.Artifact.Version, info.Version)
	assert.Equal(t, "forest", info.Kind)

	require.NoError(t, svc.Close())
	assert.Equal(t, StateUnloaded, svc.State())
}

func TestService_LoadFailures(t *testing.T) {
	tests := []struct {
		name  string
		blob  []byte
		stage string
		errIs error
	}{
		{name: "missing artifact", blob: nil, stage: StageFetch, errIs: errors.ErrNotFound},
		{name: "corrupt artifact", blob: []byte("definitely not an artifact"), stage: StageDecode, errIs: errors.ErrCorruptArtifact},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newMemSource()
			if tt.blob != nil {
				src.put(artifactKey, tt.blob)
			}
			enc := &countingEncoder{}
			tracker := noop.NewRecorder()
			svc := newTestService(t, src, enc, tracker)

			err := svc.Load(context.Background(), "startup")
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrArtifactLoad)
			assert.ErrorIs(t, err, tt.errIs)

			var loadErr *errors.ArtifactLoadError
			require.ErrorAs(t, err, &loadErr)
			assert.Equal(t, tt.stage, loadErr.Stage)

			assert.Equal(t, StateFailed, svc.State())
			require.NotNil(t, svc.LastFailure())
			assert.Equal(t, tt.stage, svc.LastFailure().Stage)

			// Every prediction gets the same unavailable signal, encoder untouched
			for i := 0; i < 3; i++ {
				_, err := svc.Predict(context.Background(), doctorRecord())
				assert.ErrorIs(t, err, errors.ErrModelUnavailable)
			}
			assert.Zero(t, enc.calls.Load())

			recorded := tracker.Events()
			require.Len(t, recorded, 1)
			assert.Equal(t, errors.LevelError, recorded[0].Level)
			assert.Equal(t, tt.stage, recorded[0].Tags["stage"])
		})
	}
}

func TestService_LoadONNXArtifactReachesModelStage(t *testing.T) {
	ds := testsupport.SleepDataset(t)
	a := artifact.New(ds.Contract, ds.Registry, artifact.ModelSpec{Kind: artifact.KindONNX, ONNX: []byte("graph")})
	blob, err := artifact.Encode(a)
	require.NoError(t, err)

	src := newMemSource()
	src.put(artifactKey, blob)
	svc := NewService(Config{
		Source: src,
		Key:    artifactKey,
		ONNX:   ml.ONNXConfig{SharedLibraryPath: filepath.Join(t.TempDir(), "libonnxruntime.so")},
	})
	svc.log = logger.Nop()

	// Fetch and decode pass; the runtime library does not exist
	err = svc.Load(context.Background(), "startup")
	require.Error(t, err)

	var loadErr *errors.ArtifactLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, StageModel, loadErr.Stage)
	assert.Equal(t, StateFailed, svc.State())
}

func TestService_ReloadAfterFailure(t *testing.T) {
	src := newMemSource()
	svc := newTestService(t, src, nil, nil)

	require.Error(t, svc.Load(context.Background(), "startup"))
	assert.Equal(t, StateFailed, svc.State())

	src.put(artifactKey, testsupport.NewArtifactBlob(t))
	require.NoError(t, svc.Load(context.Background(), "operator"))
	assert.Equal(t, StateReady, svc.State())
	assert.Nil(t, svc.LastFailure())

	_, err := svc.Predict(context.Background(), doctorRecord())
	assert.NoError(t, err)
}

func TestService_FailedReloadKeepsServingModel(t *testing.T) {
	src := newMemSource()
	src.put(artifactKey, testsupport.NewArtifactBlob(t))
	svc := newTestService(t, src, nil, nil)
	require.NoError(t, svc.Load(context.Background(), "startup"))
	version := svc.Snapshot().Artifact.Version

	src.put(artifactKey, []byte("garbage"))
	err := svc.Load(context.Background(), "operator")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCorruptArtifact)

	assert.Equal(t, StateReady, svc.State())
	assert.Equal(t, version, svc.Snapshot().Artifact.Version)
	require.NotNil(t, svc.LastFailure())

	res, err := svc.Predict(context.Background(), doctorRecord())
	require.NoError(t, err)
	assert.Equal(t, version, res.ModelVersion)
}

func TestService_ReloadSwapsVersion(t *testing.T) {
	src := newMemSource()
	src.put(artifactKey, testsupport.NewArtifactBlob(t))
	svc := newTestService(t, src, nil, nil)
	require.NoError(t, svc.Load(context.Background(), "startup"))
	first := svc.Snapshot().Artifact.Version

	src.put(artifactKey, testsupport.NewArtifactBlob(t))
	require.NoError(t, svc.Load(context.Background(), "operator"))

	second := svc.Snapshot().Artifact.Version
	assert.NotEqual(t, first, second)

	res, err := svc.Predict(context.Background(), doctorRecord())
	require.NoError(t, err)
	assert.Equal(t, second, res.ModelVersion)
}

func TestService_ConcurrentLoadIsRejected(t *testing.T) {
	src := newMemSource()
	src.put(artifactKey, testsupport.NewArtifactBlob(t))
	src.gate = make(chan struct{})
	enc := &countingEncoder{}
	svc := newTestService(t, src, enc, nil)

	done := make(chan error, 1)
	go func() { done <- svc.Load(context.Background(), "startup") }()

	require.Eventually(t, func() bool { return svc.State() == StateLoading }, time.Second, time.Millisecond)
	assert.True(t, svc.Reloading())

	// Readers fail fast while loading
	_, err := svc.Predict(context.Background(), doctorRecord())
	assert.ErrorIs(t, err, errors.ErrModelUnavailable)
	assert.Zero(t, enc.calls.Load())

	assert.ErrorIs(t, svc.Load(context.Background(), "operator"), errors.ErrReloadInProgress)

	close(src.gate)
	require.NoError(t, <-done)
	assert.Equal(t, StateReady, svc.State())
	assert.False(t, svc.Reloading())
}

func TestService_InvalidRecord(t *testing.T) {
	src := newMemSource()
	src.put(artifactKey, testsupport.NewArtifactBlob(t))
	svc := newTestService(t, src, nil, nil)
	require.NoError(t, svc.Load(context.Background(), "startup"))

	missing := doctorRecord()
	missing.StressLevel = nil
	_, err := svc.Predict(context.Background(), missing)
	assert.ErrorIs(t, err, errors.ErrValidation)
	var schemaErr *errors.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, []string{sleep.FieldStressLevel}, schemaErr.Missing)

	malformed := doctorRecord()
	malformed.SystolicBP, malformed.DiastolicBP = nil, nil
	malformed.BloodPressure = strPtr("126")
	_, err = svc.Predict(context.Background(), malformed)
	assert.ErrorIs(t, err, errors.ErrMalformedField)

	// The service keeps serving after per-record failures
	_, err = svc.Predict(context.Background(), doctorRecord())
	assert.NoError(t, err)
}

func TestService_SkewIsObservable(t *testing.T) {
	src := newMemSource()
	src.put(artifactKey, testsupport.NewArtifactBlob(t))
	tracker := noop.NewRecorder()
	publisher := &MockPublisher{}
	audit := &memAudit{}

	svc := NewService(Config{
		Source:    src,
		Key:       artifactKey,
		Tracker:   tracker,
		Publisher: publisher,
		Audit:     audit,
	})
	svc.log = logger.Nop()
	require.NoError(t, svc.Load(context.Background(), "startup"))

	publisher.On("PublishSkew", mock.Anything, mock.MatchedBy(func(e *events.EncodingSkew) bool {
		return e.Field == sleep.FieldOccupation && e.Raw == "Scientist" && e.DefaultLabel == "Doctor" && e.RequestID == "req-1"
	})).Return(nil).Once()
	publisher.On("PublishPrediction", mock.Anything, mock.MatchedBy(func(e *events.PredictionMade) bool {
		return len(e.SkewFields) == 1 && e.SkewFields[0] == sleep.FieldOccupation && len(e.Features) == 12
	})).Return(nil).Once()

	rec := doctorRecord()
	rec.Occupation = strPtr("Scientist")
	ctx := logger.WithRequestID(context.Background(), "req-1")

	res, err := svc.Predict(ctx, rec)
	require.NoError(t, err)
	require.Len(t, res.SkewWarnings, 1)
	assert.Equal(t, sleep.FieldOccupation, res.SkewWarnings[0].Field)

	publisher.AssertExpectations(t)

	recorded := tracker.Events()
	require.Len(t, recorded, 1)
	assert.Equal(t, errors.LevelWarning, recorded[0].Level)
	assert.Equal(t, sleep.FieldOccupation, recorded[0].Tags["field"])

	require.Len(t, audit.rows, 1)
	assert.Equal(t, "req-1", audit.rows[0].RequestID)
	assert.Equal(t, res.Label, audit.rows[0].Label)
	assert.Equal(t, []string{sleep.FieldOccupation}, audit.rows[0].SkewFields)
}

func TestService_ConcurrentPredictionsAreDeterministic(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := newMemSource()
	src.put(artifactKey, testsupport.NewArtifactBlob(t))
	svc := newTestService(t, src, nil, nil)
	require.NoError(t, svc.Load(context.Background(), "startup"))

	want, err := svc.Predict(context.Background(), doctorRecord())
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*Result, 64)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = svc.Predict(context.Background(), doctorRecord())
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, want.Code, r.Code)
		assert.Equal(t, want.Probabilities, r.Probabilities)
	}
}

type shapeClassifier struct {
	features, classes int
}

func (s shapeClassifier) Predict([]float64) (*ml.Prediction, error) { return nil, nil }
func (s shapeClassifier) NumFeatures() int                          { return s.features }
func (s shapeClassifier) NumClasses() int                           { return s.classes }
func (s shapeClassifier) Close() error                              { return nil }

func TestCheckShape(t *testing.T) {
	contract := testsupport.NewArtifact(t).Contract

	assert.NoError(t, checkShape(shapeClassifier{features: 12, classes: 3}, contract))
	assert.ErrorIs(t, checkShape(shapeClassifier{features: 11, classes: 3}, contract), errors.ErrValidation)
	assert.ErrorIs(t, checkShape(shapeClassifier{features: 12, classes: 2}, contract), errors.ErrValidation)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unloaded", StateUnloaded.String())
	assert.Equal(t, "loading", StateLoading.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}
