package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"sleepdx/internal/domain/sleep"
	"sleepdx/pkg/logger"
)

func TestSetModelState(t *testing.T) {
	all := []string{"unloaded", "loading", "ready", "failed"}

	SetModelState("ready", all)
	assert.Equal(t, 1.0, testutil.ToFloat64(ModelState.WithLabelValues("ready")))
	assert.Equal(t, 0.0, testutil.ToFloat64(ModelState.WithLabelValues("loading")))

	SetModelState("failed", all)
	assert.Equal(t, 0.0, testutil.ToFloat64(ModelState.WithLabelValues("ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ModelState.WithLabelValues("failed")))
}

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(EncodingSkew.WithLabelValues("occupation"))
	RecordSkew("occupation")
	assert.Equal(t, before+1, testutil.ToFloat64(EncodingSkew.WithLabelValues("occupation")))

	failed := testutil.ToFloat64(ArtifactLoads.WithLabelValues("failed", "decode"))
	RecordArtifactLoad("decode", time.Millisecond, errors.New("boom"))
	assert.Equal(t, failed+1, testutil.ToFloat64(ArtifactLoads.WithLabelValues("failed", "decode")))

	RecordTrainingRun(time.Second, 0.93, nil)
	assert.Equal(t, 0.93, testutil.ToFloat64(TrainingAccuracy))
	RecordTrainingRun(time.Second, 0.10, errors.New("boom"))
	assert.Equal(t, 0.93, testutil.ToFloat64(TrainingAccuracy), "failed runs do not overwrite accuracy")

	written := testutil.ToFloat64(AuditRows.WithLabelValues("written"))
	RecordAuditFlush(25, nil)
	assert.Equal(t, written+25, testutil.ToFloat64(AuditRows.WithLabelValues("written")))
}

func TestHTTPCode(t *testing.T) {
	assert.Equal(t, "2xx", httpCode(200))
	assert.Equal(t, "4xx", httpCode(422))
	assert.Equal(t, "5xx", httpCode(503))
}

func TestCustomCollector_Model(t *testing.T) {
	source := func() (ModelInfo, bool) {
		return ModelInfo{Version: "v1", Kind: "forest", CreatedAt: time.Now().Add(-time.Hour), Accuracy: 0.9}, true
	}
	c := NewCustomCollector(logger.Nop(), source, nil)

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(c)
	assert.Equal(t, 3, testutil.CollectAndCount(c))

	empty := NewCustomCollector(logger.Nop(), func() (ModelInfo, bool) { return ModelInfo{}, false }, nil)
	assert.Equal(t, 0, testutil.CollectAndCount(empty))
}

type fakeAudit struct {
	counts []sleep.LabelCount
	err    error
}

func (f fakeAudit) CountByLabel(context.Context, time.Time) ([]sleep.LabelCount, error) {
	return f.counts, f.err
}

func TestCustomCollector_AuditCounts(t *testing.T) {
	none := func() (ModelInfo, bool) { return ModelInfo{}, false }

	c := NewCustomCollector(logger.Nop(), none, fakeAudit{counts: []sleep.LabelCount{
		{Label: "Insomnia", Count: 3},
		{Label: "None", Count: 12},
	}})
	expected := `
# HELP sleepdx_predictions_logged_24h Predictions in the audit log over the last 24h by label
# TYPE sleepdx_predictions_logged_24h gauge
sleepdx_predictions_logged_24h{label="Insomnia"} 3
sleepdx_predictions_logged_24h{label="None"} 12
`
	assert.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "sleepdx_predictions_logged_24h"))

	failing := NewCustomCollector(logger.Nop(), none, fakeAudit{err: errors.New("clickhouse down")})
	assert.Equal(t, 0, testutil.CollectAndCount(failing))
}
