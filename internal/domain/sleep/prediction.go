package sleep

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PredictionLog is the audit row written for every served prediction
type PredictionLog struct {
	ID            uuid.UUID `ch:"id"`
	RequestID     string    `ch:"request_id"`
	ModelVersion  string    `ch:"model_version"`
	Code          int32     `ch:"prediction_code"`
	Label         string    `ch:"prediction_label"`
	Confidence    float64   `ch:"confidence"`
	Probabilities []float64 `ch:"probabilities"`
	Features      []float64 `ch:"features"`
	SkewFields    []string  `ch:"skew_fields"`
	LatencyMs     float64   `ch:"latency_ms"`
	CreatedAt     time.Time `ch:"created_at"`
}

// LabelCount is the number of predictions of one label
type LabelCount struct {
	Label string `ch:"prediction_label"`
	Count uint64 `ch:"cnt"`
}

// PredictionLogRepository stores prediction audit rows
type PredictionLogRepository interface {
	Store(ctx context.Context, log *PredictionLog) error
	CountByLabel(ctx context.Context, since time.Time) ([]LabelCount, error)
}

// CorpusRepository reads a training corpus as a header plus string rows
type CorpusRepository interface {
	LoadCorpus(ctx context.Context, table string) (columns []string, rows [][]string, err error)
}
