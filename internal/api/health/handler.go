package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"sleepdx/internal/services/prediction"
	"sleepdx/pkg/logger"
)

// ModelStatus is the part of the prediction service health reports on
type ModelStatus interface {
	State() prediction.State
	Reloading() bool
	Snapshot() *prediction.Snapshot
	LastFailure() *prediction.LoadFailure
}

// Checker pings one backing service
type Checker func(ctx context.Context) error

// Handler provides health check endpoints. The model state decides the
// status code; backing services only degrade the report.
type Handler struct {
	log         *logger.Logger
	model       ModelStatus
	checks      map[string]Checker
	startTime   time.Time
	serviceName string
	version     string
}

// New creates a new health check handler. checks may be empty.
func New(
	log *logger.Logger,
	model ModelStatus,
	checks map[string]Checker,
	serviceName string,
	version string,
) *Handler {
	return &Handler{
		log:         log,
		model:       model,
		checks:      checks,
		startTime:   time.Now(),
		serviceName: serviceName,
		version:     version,
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                     `json:"status"` // "healthy", "degraded", "unhealthy"
	Service   string                     `json:"service"`
	Version   string                     `json:"version"`
	Uptime    string                     `json:"uptime"`
	Timestamp string                     `json:"timestamp"`
	Model     ModelHealth                `json:"model"`
	Checks    map[string]ComponentHealth `json:"checks,omitempty"`
}

// ModelHealth reports the prediction state machine
type ModelHealth struct {
	State       string                  `json:"state"`
	Version     string                  `json:"version,omitempty"`
	LoadedAt    string                  `json:"loaded_at,omitempty"`
	Reloading   bool                    `json:"reloading,omitempty"`
	LastFailure *prediction.LoadFailure `json:"last_failure,omitempty"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Status       string `json:"status"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}

// HandleLiveness returns 200 OK if the process is running
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
	})
}

// HandleReadiness returns 200 only while a model is serving
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	model := h.modelHealth()
	if h.model.State() != prediction.StateReady {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
			"model":  model,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
		"model":  model,
	})
}

// HandleHealth returns the model state and every backing service check
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := h.runChecks(ctx)
	status := HealthStatus{
		Status:    "healthy",
		Service:   h.serviceName,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).String(),
		Timestamp: time.Now().Format(time.RFC3339),
		Model:     h.modelHealth(),
		Checks:    checks,
	}

	statusCode := http.StatusOK
	if h.model.State() != prediction.StateReady {
		status.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	} else {
		for _, c := range checks {
			if c.Status != "healthy" {
				status.Status = "degraded"
				break
			}
		}
	}

	writeJSON(w, statusCode, status)
}

func (h *Handler) modelHealth() ModelHealth {
	m := ModelHealth{
		State:       h.model.State().String(),
		Reloading:   h.model.Reloading(),
		LastFailure: h.model.LastFailure(),
	}
	if snap := h.model.Snapshot(); snap != nil {
		m.Version = snap.Artifact.Version
		m.LoadedAt = snap.LoadedAt.Format(time.RFC3339)
	}
	return m
}

func (h *Handler) runChecks(ctx context.Context) map[string]ComponentHealth {
	if len(h.checks) == 0 {
		return nil
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]ComponentHealth, len(names))
	for _, name := range names {
		out[name] = h.check(ctx, name, h.checks[name])
	}
	return out
}

func (h *Handler) check(ctx context.Context, name string, fn Checker) ComponentHealth {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	if err != nil {
		h.log.Warnw("Health check failed", "component", name, "error", err, "elapsed", elapsed)
		return ComponentHealth{
			Status:       "unhealthy",
			ResponseTime: elapsed.String(),
			Error:        err.Error(),
		}
	}

	return ComponentHealth{
		Status:       "healthy",
		ResponseTime: elapsed.String(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
