package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sleepdx/internal/adapters/artifactstore"
	"sleepdx/internal/events"
	"sleepdx/internal/ml"
	"sleepdx/internal/ml/artifact"
	predictionsvc "sleepdx/internal/services/prediction"
	"sleepdx/internal/testsupport"
	"sleepdx/pkg/logger"
)

const artifactKey = "models/current.json"

const doctorJSON = `{
	"gender": "Male",
	"age": 30,
	"occupation": "Doctor",
	"sleep_duration": 7.0,
	"quality_of_sleep": 8,
	"physical_activity_level": 50,
	"stress_level": 5,
	"bmi_category": "Normal",
	"heart_rate": 70,
	"daily_steps": 8000,
	"blood_pressure": "120/80"
}`

type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) PublishReloadRequest(ctx context.Context, event *events.ModelReloadRequest) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func newStore(t *testing.T, a *artifact.Artifact) *artifactstore.FSStore {
	t.Helper()
	store, err := artifactstore.NewFSStore(t.TempDir())
	require.NoError(t, err)
	if a != nil {
		blob, err := artifact.Encode(a)
		require.NoError(t, err)
		require.NoError(t, store.Put(context.Background(), artifactKey, blob))
	}
	return store
}

func newHandler(t *testing.T, store *artifactstore.FSStore, load bool, cfg Config) (*Handler, *predictionsvc.Service) {
	t.Helper()
	svc := predictionsvc.NewService(predictionsvc.Config{Source: store, Key: artifactKey})
	if load {
		require.NoError(t, svc.Load(context.Background(), "test"))
	}
	t.Cleanup(func() { _ = svc.Close() })
	return NewHandler(svc, cfg, logger.Nop()), svc
}

func post(h http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHandlePredict_OK(t *testing.T) {
	h, svc := newHandler(t, newStore(t, testsupport.NewArtifact(t)), true, Config{})

	rec := post(h.HandlePredict, "/predict", doctorJSON)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "prediction_code")
	assert.Contains(t, []interface{}{"Insomnia", "None", "Sleep Apnea"}, body["prediction_label"])
	assert.Equal(t, svc.Snapshot().Artifact.Version, body["model_version"])
	assert.NotContains(t, body, "skew_warnings")
}

func TestHandlePredict_SkewWarningsInBody(t *testing.T) {
	h, _ := newHandler(t, newStore(t, testsupport.NewArtifact(t)), true, Config{})

	body := strings.Replace(doctorJSON, `"Doctor"`, `"Astronaut"`, 1)
	rec := post(h.HandlePredict, "/predict", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := decodeBody[predictionsvc.Result](t, rec)
	require.Len(t, result.SkewWarnings, 1)
	assert.Equal(t, "occupation", result.SkewWarnings[0].Field)
}

func TestHandlePredict_Unloaded(t *testing.T) {
	h, _ := newHandler(t, newStore(t, nil), false, Config{})

	rec := post(h.HandlePredict, "/predict", doctorJSON)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	assert.Equal(t, "model_unavailable", decodeBody[ErrorResponse](t, rec).Code)
}

func TestHandlePredict_Errors(t *testing.T) {
	h, _ := newHandler(t, newStore(t, testsupport.NewArtifact(t)), true, Config{MaxBodyBytes: 1024})

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
		check    func(t *testing.T, resp ErrorResponse)
	}{
		{
			name:     "unknown field",
			body:     strings.Replace(doctorJSON, `"age": 30`, `"age": 30, "shoe_size": 42`, 1),
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "schema_error",
			check: func(t *testing.T, resp ErrorResponse) {
				assert.Equal(t, []string{"shoe_size"}, resp.Unexpected)
			},
		},
		{
			name:     "missing field",
			body:     strings.Replace(doctorJSON, `"heart_rate": 70,`, ``, 1),
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "schema_error",
			check: func(t *testing.T, resp ErrorResponse) {
				assert.Equal(t, []string{"heart_rate"}, resp.Missing)
			},
		},
		{
			name:     "wrong type",
			body:     strings.Replace(doctorJSON, `"age": 30`, `"age": "thirty"`, 1),
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "validation_error",
			check: func(t *testing.T, resp ErrorResponse) {
				assert.Equal(t, "age", resp.Field)
			},
		},
		{
			name:     "malformed blood pressure",
			body:     strings.Replace(doctorJSON, `"120/80"`, `"120-80"`, 1),
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "format_error",
			check: func(t *testing.T, resp ErrorResponse) {
				assert.Equal(t, "blood_pressure", resp.Field)
			},
		},
		{name: "syntax error", body: `{"gender": `, wantCode: http.StatusBadRequest, wantErr: "bad_request"},
		{name: "empty body", body: ``, wantCode: http.StatusBadRequest, wantErr: "bad_request"},
		{name: "trailing object", body: doctorJSON + doctorJSON, wantCode: http.StatusBadRequest, wantErr: "bad_request"},
		{
			name:     "too large",
			body:     `{"occupation": "` + strings.Repeat("x", 2048) + `"}`,
			wantCode: http.StatusRequestEntityTooLarge,
			wantErr:  "too_large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(h.HandlePredict, "/predict", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			resp := decodeBody[ErrorResponse](t, rec)
			assert.Equal(t, tt.wantErr, resp.Code)
			if tt.check != nil {
				tt.check(t, resp)
			}
		})
	}
}

func TestHandleModel(t *testing.T) {
	a := testsupport.NewArtifact(t)
	h, _ := newHandler(t, newStore(t, a), true, Config{})

	rec := httptest.NewRecorder()
	h.HandleModel(rec, httptest.NewRequest(http.MethodGet, "/model", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[ModelResponse](t, rec)
	assert.Equal(t, a.Version, resp.Version)
	assert.Equal(t, artifact.KindForest, resp.Kind)
	assert.Equal(t, 12, resp.Contract.Width())
	assert.Equal(t, []string{"Insomnia", "None", "Sleep Apnea"}, resp.Contract.TargetLabels)
	assert.NotNil(t, resp.Registry)
	assert.Positive(t, resp.ArtifactSize)
}

func TestHandleModelMetrics(t *testing.T) {
	t.Run("no evaluation", func(t *testing.T) {
		h, _ := newHandler(t, newStore(t, testsupport.NewArtifact(t)), true, Config{})
		rec := httptest.NewRecorder()
		h.HandleModelMetrics(rec, httptest.NewRequest(http.MethodGet, "/model/metrics", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("with evaluation", func(t *testing.T) {
		a := testsupport.NewArtifact(t)
		a.Evaluation = &ml.Evaluation{Accuracy: 0.9, MacroF1: 0.85, TestSize: 14, TrainSize: 52}
		h, _ := newHandler(t, newStore(t, a), true, Config{})

		rec := httptest.NewRecorder()
		h.HandleModelMetrics(rec, httptest.NewRequest(http.MethodGet, "/model/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Version    string        `json:"version"`
			Evaluation ml.Evaluation `json:"evaluation"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, a.Version, body.Version)
		assert.InDelta(t, 0.9, body.Evaluation.Accuracy, 1e-9)
		assert.Equal(t, 14, body.Evaluation.TestSize)
	})

	t.Run("unloaded", func(t *testing.T) {
		h, _ := newHandler(t, newStore(t, nil), false, Config{})
		rec := httptest.NewRecorder()
		h.HandleModelMetrics(rec, httptest.NewRequest(http.MethodGet, "/model/metrics", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHandleReload(t *testing.T) {
	t.Run("swaps in the new artifact", func(t *testing.T) {
		store := newStore(t, testsupport.NewArtifact(t))
		h, svc := newHandler(t, store, true, Config{})
		before := svc.Snapshot().Artifact.Version

		next := testsupport.NewArtifact(t)
		blob, err := artifact.Encode(next)
		require.NoError(t, err)
		require.NoError(t, store.Put(context.Background(), artifactKey, blob))

		rec := post(h.HandleReload, "/admin/reload", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		body := decodeBody[map[string]string](t, rec)
		assert.Equal(t, next.Version, body["version"])
		assert.NotEqual(t, before, body["version"])
		assert.Equal(t, "ready", body["status"])
	})

	t.Run("initial load from unloaded", func(t *testing.T) {
		h, svc := newHandler(t, newStore(t, testsupport.NewArtifact(t)), false, Config{})
		rec := post(h.HandleReload, "/admin/reload", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, predictionsvc.StateReady, svc.State())
	})

	t.Run("corrupt artifact keeps serving", func(t *testing.T) {
		store := newStore(t, testsupport.NewArtifact(t))
		h, svc := newHandler(t, store, true, Config{})
		before := svc.Snapshot().Artifact.Version

		require.NoError(t, store.Put(context.Background(), artifactKey, []byte("{not json")))

		rec := post(h.HandleReload, "/admin/reload", "")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		resp := decodeBody[ErrorResponse](t, rec)
		assert.Equal(t, "artifact_load_failed", resp.Code)
		assert.Equal(t, predictionsvc.StageDecode, resp.Field)

		assert.Equal(t, predictionsvc.StateReady, svc.State())
		assert.Equal(t, before, svc.Snapshot().Artifact.Version)
		assert.Equal(t, http.StatusOK, post(h.HandlePredict, "/predict", doctorJSON).Code)
	})

	t.Run("broadcast", func(t *testing.T) {
		b := new(MockBroadcaster)
		b.On("PublishReloadRequest", mock.Anything, mock.MatchedBy(func(e *events.ModelReloadRequest) bool {
			return e.Reason == "retrained"
		})).Return(nil).Once()

		h, _ := newHandler(t, newStore(t, testsupport.NewArtifact(t)), true, Config{Broadcaster: b})
		rec := httptest.NewRecorder()
		h.HandleReload(rec, httptest.NewRequest(http.MethodPost, "/admin/reload?broadcast=true&reason=retrained", bytes.NewReader(nil)))

		assert.Equal(t, http.StatusAccepted, rec.Code)
		b.AssertExpectations(t)
	})

	t.Run("broadcast not configured", func(t *testing.T) {
		h, _ := newHandler(t, newStore(t, testsupport.NewArtifact(t)), true, Config{})
		rec := post(h.HandleReload, "/admin/reload?broadcast=true", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
