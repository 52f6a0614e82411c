package clickhouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"sleepdx/internal/domain/sleep"
	"sleepdx/pkg/clickhouse"
	"sleepdx/pkg/errors"
	"sleepdx/pkg/logger"
)

// PredictionLogTable is the audit table name
const PredictionLogTable = "prediction_log"

const createPredictionLog = `
	CREATE TABLE IF NOT EXISTS prediction_log (
		id               UUID,
		request_id       String,
		model_version    LowCardinality(String),
		prediction_code  Int32,
		prediction_label LowCardinality(String),
		confidence       Float64,
		probabilities    Array(Float64),
		features         Array(Float64),
		skew_fields      Array(String),
		latency_ms       Float64,
		created_at       DateTime64(3)
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(created_at)
	ORDER BY (model_version, created_at)
	TTL toDateTime(created_at) + INTERVAL 90 DAY
`

// PredictionLogRepository implements sleep.PredictionLogRepository for ClickHouse.
// Rows are buffered and inserted in batches.
type PredictionLogRepository struct {
	conn        driver.Conn
	batchWriter *clickhouse.BatchWriter[*sleep.PredictionLog]
	log         *logger.Logger
}

// PredictionLogConfig tunes batching
type PredictionLogConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

// NewPredictionLogRepository creates a new prediction log repository with batch writer
func NewPredictionLogRepository(conn driver.Conn, cfg PredictionLogConfig) *PredictionLogRepository {
	repo := &PredictionLogRepository{
		conn: conn,
		log:  logger.Get().With("component", "prediction_log"),
	}

	repo.batchWriter = clickhouse.NewBatchWriter(clickhouse.BatchWriterConfig[*sleep.PredictionLog]{
		FlushFunc:    repo.flushBatch,
		TableName:    PredictionLogTable,
		MaxBatchSize: cfg.BatchSize,
		MaxAge:       cfg.FlushInterval,
	})

	return repo
}

// EnsureSchema creates the audit table if it does not exist
func (r *PredictionLogRepository) EnsureSchema(ctx context.Context) error {
	if err := r.conn.Exec(ctx, createPredictionLog); err != nil {
		return errors.Wrap(err, "failed to create prediction_log table")
	}
	return nil
}

// Start begins the background flush loop
func (r *PredictionLogRepository) Start(ctx context.Context) {
	r.batchWriter.Start(ctx)
}

// Stop flushes pending rows and stops the batch writer
func (r *PredictionLogRepository) Stop(ctx context.Context) error {
	return r.batchWriter.Stop(ctx)
}

// Store buffers an audit row. A full buffer drops the row and reports ErrUnavailable.
func (r *PredictionLogRepository) Store(_ context.Context, entry *sleep.PredictionLog) error {
	if !r.batchWriter.Add(entry) {
		return errors.Wrap(errors.ErrUnavailable, "prediction log buffer full")
	}
	return nil
}

// CountByLabel returns prediction counts per label since the given time
func (r *PredictionLogRepository) CountByLabel(ctx context.Context, since time.Time) ([]sleep.LabelCount, error) {
	query := `
		SELECT prediction_label, count() AS cnt
		FROM prediction_log
		WHERE created_at >= ?
		GROUP BY prediction_label
		ORDER BY prediction_label
	`

	var counts []sleep.LabelCount
	if err := r.conn.Select(ctx, &counts, query, since); err != nil {
		return nil, errors.Wrap(err, "failed to count predictions by label")
	}
	return counts, nil
}

// flushBatch sends one native batch INSERT
func (r *PredictionLogRepository) flushBatch(ctx context.Context, batch []*sleep.PredictionLog) error {
	if len(batch) == 0 {
		return nil
	}

	stmt, err := r.conn.PrepareBatch(ctx, "INSERT INTO "+PredictionLogTable)
	if err != nil {
		return errors.Wrap(err, "failed to prepare batch")
	}
	defer stmt.Close()

	for _, row := range batch {
		if err := stmt.AppendStruct(row); err != nil {
			return errors.Wrap(err, "failed to append to batch")
		}
	}

	if err := stmt.Send(); err != nil {
		return errors.Wrap(err, "failed to send batch")
	}

	r.log.Debugf("Batch inserted %d prediction rows", len(batch))
	return nil
}
