package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Prediction metrics
	Predictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sleepdx_predictions_total",
			Help: "Total number of prediction requests",
		},
		[]string{"status", "label"}, // status: ok|invalid|unavailable|error|rate_limited
	)

	PredictionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sleepdx_prediction_duration_seconds",
			Help:    "Prediction latency from decode to response in seconds",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
		[]string{"status"},
	)

	EncodingSkew = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sleepdx_encoding_skew_total",
			Help: "Categorical labels unseen at training time that were encoded with the default code",
		},
		[]string{"field"},
	)

	// Model lifecycle metrics
	ModelState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sleepdx_model_state",
			Help: "Current prediction service state (1 for the active state)",
		},
		[]string{"state"}, // state: unloaded|loading|ready|failed
	)

	ArtifactLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sleepdx_artifact_loads_total",
			Help: "Artifact load attempts",
		},
		[]string{"status", "stage"}, // stage of failure: fetch|decode|validate|model, or none
	)

	ArtifactLoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sleepdx_artifact_load_duration_seconds",
			Help:    "Artifact fetch, decode and validate duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// Training metrics
	TrainingRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sleepdx_training_runs_total",
			Help: "Training pipeline runs",
		},
		[]string{"status"}, // status: success|error
	)

	TrainingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sleepdx_training_duration_seconds",
			Help:    "Training pipeline duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	TrainingAccuracy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sleepdx_training_last_accuracy",
			Help: "Held-out accuracy of the last published model",
		},
	)

	// Outbound metrics
	KafkaMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sleepdx_kafka_messages_total",
			Help: "Kafka messages published or consumed",
		},
		[]string{"topic", "status"}, // status: success|error
	)

	AuditRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sleepdx_audit_rows_total",
			Help: "Prediction audit rows flushed to ClickHouse",
		},
		[]string{"status"}, // status: written|dropped
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sleepdx_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)

	// Background metrics
	WorkerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sleepdx_worker_runs_total",
			Help: "Background worker iterations",
		},
		[]string{"worker", "status"}, // status: success|error|panic
	)

	ArtifactPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sleepdx_artifact_pending",
			Help: "1 when the store holds a published version that is not serving",
		},
	)
)

var initOnce sync.Once

// Init registers all metrics with Prometheus. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		// Prediction metrics
		prometheus.MustRegister(Predictions)
		prometheus.MustRegister(PredictionDuration)
		prometheus.MustRegister(EncodingSkew)

		// Model lifecycle metrics
		prometheus.MustRegister(ModelState)
		prometheus.MustRegister(ArtifactLoads)
		prometheus.MustRegister(ArtifactLoadDuration)

		// Training metrics
		prometheus.MustRegister(TrainingRuns)
		prometheus.MustRegister(TrainingDuration)
		prometheus.MustRegister(TrainingAccuracy)

		// Outbound metrics
		prometheus.MustRegister(KafkaMessages)
		prometheus.MustRegister(AuditRows)
		prometheus.MustRegister(HTTPRequests)

		// Background metrics
		prometheus.MustRegister(WorkerRuns)
		prometheus.MustRegister(ArtifactPending)
	})
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordPrediction records one prediction request
func RecordPrediction(status, label string, duration time.Duration) {
	Predictions.WithLabelValues(status, label).Inc()
	PredictionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordSkew records an unseen categorical label
func RecordSkew(field string) {
	EncodingSkew.WithLabelValues(field).Inc()
}

// SetModelState marks current as the active state among all
func SetModelState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		ModelState.WithLabelValues(s).Set(v)
	}
}

// RecordArtifactLoad records a load attempt; stage is empty on success
func RecordArtifactLoad(stage string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	if stage == "" {
		stage = "none"
	}

	ArtifactLoads.WithLabelValues(status, stage).Inc()
	ArtifactLoadDuration.Observe(duration.Seconds())
}

// RecordTrainingRun records a training pipeline run
func RecordTrainingRun(duration time.Duration, accuracy float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	TrainingRuns.WithLabelValues(status).Inc()
	TrainingDuration.Observe(duration.Seconds())
	if err == nil {
		TrainingAccuracy.Set(accuracy)
	}
}

// RecordKafkaMessage records a Kafka publish or consume
func RecordKafkaMessage(topic string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	KafkaMessages.WithLabelValues(topic, status).Inc()
}

// RecordAuditFlush records a ClickHouse audit batch
func RecordAuditFlush(rows int, err error) {
	status := "written"
	if err != nil {
		status = "dropped"
	}
	AuditRows.WithLabelValues(status).Add(float64(rows))
}

// RecordHTTPRequest records a served request
func RecordHTTPRequest(route string, code int) {
	HTTPRequests.WithLabelValues(route, httpCode(code)).Inc()
}

// RecordWorkerRun records one worker iteration
func RecordWorkerRun(worker, status string) {
	WorkerRuns.WithLabelValues(worker, status).Inc()
}

// SetArtifactPending flags a published artifact that is not serving yet
func SetArtifactPending(pending bool) {
	if pending {
		ArtifactPending.Set(1)
		return
	}
	ArtifactPending.Set(0)
}

func httpCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
