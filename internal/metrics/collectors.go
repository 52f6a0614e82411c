package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"sleepdx/internal/domain/sleep"
	"sleepdx/pkg/logger"
)

// ModelInfo is the serving snapshot exposed at scrape time
type ModelInfo struct {
	Version   string
	Kind      string
	CreatedAt time.Time
	Accuracy  float64
}

// ModelInfoSource returns the active model, or false when none is loaded
type ModelInfoSource func() (ModelInfo, bool)

// AuditCounter reads prediction counts from the audit log
type AuditCounter interface {
	CountByLabel(ctx context.Context, since time.Time) ([]sleep.LabelCount, error)
}

// CustomCollector collects metrics computed at scrape time
type CustomCollector struct {
	log   *logger.Logger
	model ModelInfoSource
	audit AuditCounter

	// Descriptors
	modelInfo      *prometheus.Desc
	modelAge       *prometheus.Desc
	modelAccuracy  *prometheus.Desc
	predictions24h *prometheus.Desc
}

// NewCustomCollector creates a new custom metrics collector.
// audit may be nil when the audit log is disabled.
func NewCustomCollector(log *logger.Logger, model ModelInfoSource, audit AuditCounter) *CustomCollector {
	return &CustomCollector{
		log:   log,
		model: model,
		audit: audit,

		modelInfo: prometheus.NewDesc(
			"sleepdx_model_info",
			"Active model version (always 1)",
			[]string{"version", "kind"}, nil,
		),
		modelAge: prometheus.NewDesc(
			"sleepdx_model_age_seconds",
			"Seconds since the active model was trained",
			nil, nil,
		),
		modelAccuracy: prometheus.NewDesc(
			"sleepdx_model_accuracy",
			"Held-out accuracy recorded in the active artifact",
			nil, nil,
		),
		predictions24h: prometheus.NewDesc(
			"sleepdx_predictions_logged_24h",
			"Predictions in the audit log over the last 24h by label",
			[]string{"label"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *CustomCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.modelInfo
	ch <- c.modelAge
	ch <- c.modelAccuracy
	ch <- c.predictions24h
}

// Collect implements prometheus.Collector
func (c *CustomCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.collectModel(ch)

	if c.audit != nil {
		c.collectAuditCounts(ctx, ch)
	}
}

func (c *CustomCollector) collectModel(ch chan<- prometheus.Metric) {
	if c.model == nil {
		return
	}
	info, ok := c.model()
	if !ok {
		return
	}

	ch <- prometheus.MustNewConstMetric(c.modelInfo, prometheus.GaugeValue, 1, info.Version, info.Kind)
	ch <- prometheus.MustNewConstMetric(c.modelAge, prometheus.GaugeValue, time.Since(info.CreatedAt).Seconds())
	ch <- prometheus.MustNewConstMetric(c.modelAccuracy, prometheus.GaugeValue, info.Accuracy)
}

func (c *CustomCollector) collectAuditCounts(ctx context.Context, ch chan<- prometheus.Metric) {
	counts, err := c.audit.CountByLabel(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		c.log.Warnf("Failed to collect audit counts: %v", err)
		return
	}

	for _, lc := range counts {
		ch <- prometheus.MustNewConstMetric(c.predictions24h, prometheus.GaugeValue, float64(lc.Count), lc.Label)
	}
}

// RegisterCustomCollector registers the custom collector
func RegisterCustomCollector(collector *CustomCollector) {
	prometheus.MustRegister(collector)
}
