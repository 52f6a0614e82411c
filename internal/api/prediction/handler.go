package prediction

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"sleepdx/internal/domain/sleep"
	"sleepdx/internal/events"
	"sleepdx/internal/ml/artifact"
	"sleepdx/internal/ml/encoding"
	predictionsvc "sleepdx/internal/services/prediction"
	"sleepdx/pkg/errors"
	"sleepdx/pkg/logger"
)

// Service is the prediction service as seen by HTTP
type Service interface {
	State() predictionsvc.State
	Snapshot() *predictionsvc.Snapshot
	Predict(ctx context.Context, rec *sleep.RawRecord) (*predictionsvc.Result, error)
	Load(ctx context.Context, reason string) error
}

// ReloadBroadcaster fans a reload out to every serving instance
type ReloadBroadcaster interface {
	PublishReloadRequest(ctx context.Context, event *events.ModelReloadRequest) error
}

// Handler serves prediction and model endpoints
type Handler struct {
	svc           Service
	broadcaster   ReloadBroadcaster
	maxBodyBytes  int64
	reloadTimeout time.Duration
	log           *logger.Logger
}

// Config tunes the handler. Broadcaster is optional.
type Config struct {
	MaxBodyBytes  int64
	ReloadTimeout time.Duration
	Broadcaster   ReloadBroadcaster
}

// NewHandler creates a new prediction handler
func NewHandler(svc Service, cfg Config, log *logger.Logger) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	if cfg.ReloadTimeout <= 0 {
		cfg.ReloadTimeout = time.Minute
	}
	return &Handler{
		svc:           svc,
		broadcaster:   cfg.Broadcaster,
		maxBodyBytes:  cfg.MaxBodyBytes,
		reloadTimeout: cfg.ReloadTimeout,
		log:           log.With("component", "prediction_api"),
	}
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error      string   `json:"error"`
	Code       string   `json:"code"`
	Field      string   `json:"field,omitempty"`
	Missing    []string `json:"missing,omitempty"`
	Unexpected []string `json:"unexpected,omitempty"`
}

// ModelResponse describes the serving model
type ModelResponse struct {
	Version      string              `json:"version"`
	Kind         string              `json:"kind"`
	CreatedAt    time.Time           `json:"created_at"`
	LoadedAt     time.Time           `json:"loaded_at"`
	Contract     encoding.Contract   `json:"contract"`
	Registry     *encoding.Registry  `json:"registry"`
	Corpus       artifact.CorpusInfo `json:"corpus"`
	ArtifactSize int                 `json:"artifact_size"`
}

// HandlePredict answers POST /predict. A service that is not Ready rejects
// every request with 503 before the body is read.
func (h *Handler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	if h.svc.State() != predictionsvc.StateReady {
		h.writeError(w, r, errors.ErrModelUnavailable)
		return
	}

	rec, err := h.decode(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.svc.Predict(r.Context(), rec)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// decode reads a RawRecord, rejecting unknown fields and wrong types
func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (*sleep.RawRecord, error) {
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	var rec sleep.RawRecord
	if err := dec.Decode(&rec); err != nil {
		return nil, decodeError(err)
	}
	if dec.More() {
		return nil, errors.Wrap(errors.ErrInvalidInput, "request body must be a single JSON object")
	}
	return &rec, nil
}

func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return errors.Wrapf(errTooLarge, "limit %d bytes", maxErr.Limit)
	case errors.As(err, &typeErr):
		return errors.NewValidationError(typeErr.Field, "must be a "+typeErr.Type.String(), typeErr.Value)
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return &errors.SchemaError{Unexpected: []string{field}}
	case errors.Is(err, io.EOF):
		return errors.Wrap(errors.ErrInvalidInput, "empty request body")
	default:
		return errors.Wrapf(errors.ErrInvalidInput, "malformed JSON: %v", err)
	}
}

// HandleModel answers GET /model
func (h *Handler) HandleModel(w http.ResponseWriter, r *http.Request) {
	snap := h.svc.Snapshot()
	if snap == nil {
		h.writeError(w, r, errors.ErrModelUnavailable)
		return
	}
	a := snap.Artifact
	writeJSON(w, http.StatusOK, ModelResponse{
		Version:      a.Version,
		Kind:         a.Model.Kind,
		CreatedAt:    a.CreatedAt,
		LoadedAt:     snap.LoadedAt,
		Contract:     a.Contract,
		Registry:     a.Registry,
		Corpus:       a.Corpus,
		ArtifactSize: snap.Size,
	})
}

// HandleModelMetrics answers GET /model/metrics with the stored evaluation
func (h *Handler) HandleModelMetrics(w http.ResponseWriter, r *http.Request) {
	snap := h.svc.Snapshot()
	if snap == nil {
		h.writeError(w, r, errors.ErrModelUnavailable)
		return
	}
	if snap.Artifact.Evaluation == nil {
		h.writeError(w, r, errors.Wrap(errors.ErrNotFound, "artifact has no evaluation"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":    snap.Artifact.Version,
		"evaluation": snap.Artifact.Evaluation,
	})
}

// HandleReload answers POST /admin/reload. With ?broadcast=true the request
// is published for every instance instead of reloading in place.
func (h *Handler) HandleReload(w http.ResponseWriter, r *http.Request) {
	requestID, _ := logger.RequestID(r.Context())

	if r.URL.Query().Get("broadcast") == "true" {
		if h.broadcaster == nil {
			h.writeError(w, r, errors.Wrap(errors.ErrUnavailable, "reload broadcast is not configured"))
			return
		}
		err := h.broadcaster.PublishReloadRequest(r.Context(), &events.ModelReloadRequest{
			Requester: requestID,
			Reason:    r.URL.Query().Get("reason"),
		})
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "broadcast"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.reloadTimeout)
	defer cancel()

	if err := h.svc.Load(ctx, "http"); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.log.Infow("Model reloaded by operator", "request_id", requestID)
	snap := h.svc.Snapshot()
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  h.svc.State().String(),
		"version": snap.Artifact.Version,
	})
}

var errTooLarge = errors.New("request body too large")

// writeError maps an error to a status code and body
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{Error: err.Error()}
	code := http.StatusInternalServerError

	var schemaErr *errors.SchemaError
	var validationErr *errors.ValidationError
	var formatErr *errors.FormatError
	var loadErr *errors.ArtifactLoadError

	switch {
	case errors.As(err, &schemaErr):
		code, resp.Code = http.StatusUnprocessableEntity, "schema_error"
		resp.Missing, resp.Unexpected = schemaErr.Missing, schemaErr.Unexpected
	case errors.As(err, &validationErr):
		code, resp.Code, resp.Field = http.StatusUnprocessableEntity, "validation_error", validationErr.Field
	case errors.As(err, &formatErr):
		code, resp.Code, resp.Field = http.StatusUnprocessableEntity, "format_error", formatErr.Field
	case errors.Is(err, errTooLarge):
		code, resp.Code = http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, errors.ErrInvalidInput):
		code, resp.Code = http.StatusBadRequest, "bad_request"
	case errors.Is(err, errors.ErrReloadInProgress):
		code, resp.Code = http.StatusConflict, "reload_in_progress"
	case errors.As(err, &loadErr):
		code, resp.Code = http.StatusBadGateway, "artifact_load_failed"
		resp.Field = loadErr.Stage
	case errors.Is(err, errors.ErrModelUnavailable):
		code, resp.Code = http.StatusServiceUnavailable, "model_unavailable"
		w.Header().Set("Retry-After", "5")
	case errors.Is(err, errors.ErrNotFound):
		code, resp.Code = http.StatusNotFound, "not_found"
	case errors.Is(err, errors.ErrUnavailable):
		code, resp.Code = http.StatusServiceUnavailable, "unavailable"
	default:
		resp.Code = "internal"
		resp.Error = "internal error"
		logger.FromContext(r.Context()).Errorw("Prediction request failed", "path", r.URL.Path, "error", err)
	}

	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
