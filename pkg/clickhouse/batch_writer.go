package clickhouse

import (
	"context"
	"sync"
	"time"

	"sleepdx/internal/metrics"
	"sleepdx/pkg/logger"
)

// FlushFunc performs the INSERT of one batch
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// BatchWriter accumulates rows in memory and writes them to ClickHouse in
// batches. Add never blocks on ClickHouse: a full batch wakes the background
// loop, and once MaxBuffered rows are pending new rows are dropped.
type BatchWriter[T any] struct {
	flushFunc FlushFunc[T]
	buffer    []T
	mu        sync.Mutex
	flushMu   sync.Mutex
	log       *logger.Logger

	// Configuration
	maxBatchSize int           // Wake the flush loop at this size
	maxBuffered  int           // Drop rows beyond this size
	maxAge       time.Duration // Flush at least this often
	tableName    string

	// State
	lastFlush time.Time
	dropped   int
	kick      chan struct{}
	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   bool
}

// BatchWriterConfig contains configuration for BatchWriter
type BatchWriterConfig[T any] struct {
	FlushFunc    FlushFunc[T]
	TableName    string
	MaxBatchSize int           // Default: 500
	MaxBuffered  int           // Default: 10 * MaxBatchSize
	MaxAge       time.Duration // Default: 5s
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter[T any](cfg BatchWriterConfig[T]) *BatchWriter[T] {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 500
	}
	if cfg.MaxBuffered < cfg.MaxBatchSize {
		cfg.MaxBuffered = 10 * cfg.MaxBatchSize
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Second
	}

	return &BatchWriter[T]{
		flushFunc:    cfg.FlushFunc,
		buffer:       make([]T, 0, cfg.MaxBatchSize),
		maxBatchSize: cfg.MaxBatchSize,
		maxBuffered:  cfg.MaxBuffered,
		maxAge:       cfg.MaxAge,
		tableName:    cfg.TableName,
		lastFlush:    time.Now(),
		kick:         make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		log:          logger.Get().With("component", "batch_writer", "table", cfg.TableName),
	}
}

// Start begins the background flush loop
func (bw *BatchWriter[T]) Start(ctx context.Context) {
	bw.mu.Lock()
	if bw.running {
		bw.mu.Unlock()
		return
	}
	bw.running = true
	bw.mu.Unlock()

	bw.wg.Add(1)
	go bw.flushLoop(ctx)

	bw.log.Infof("BatchWriter started (maxBatchSize=%d, maxAge=%v)", bw.maxBatchSize, bw.maxAge)
}

// Add buffers a row. It reports false when the row was dropped because the
// buffer is full.
func (bw *BatchWriter[T]) Add(item T) bool {
	bw.mu.Lock()
	if len(bw.buffer) >= bw.maxBuffered {
		bw.dropped++
		bw.mu.Unlock()
		metrics.RecordAuditFlush(1, errBufferFull)
		return false
	}
	bw.buffer = append(bw.buffer, item)
	full := len(bw.buffer) >= bw.maxBatchSize
	bw.mu.Unlock()

	if full {
		select {
		case bw.kick <- struct{}{}:
		default:
		}
	}
	return true
}

// Flush writes all buffered rows. Rows of a failed batch are dropped.
func (bw *BatchWriter[T]) Flush(ctx context.Context) error {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	batch := bw.buffer
	bw.buffer = make([]T, 0, bw.maxBatchSize)
	bw.lastFlush = time.Now()
	bw.mu.Unlock()

	start := time.Now()
	err := bw.flushFunc(ctx, batch)
	duration := time.Since(start)
	metrics.RecordAuditFlush(len(batch), err)

	if err != nil {
		bw.log.Errorf("Failed to flush %d rows to %s: %v (took %v)", len(batch), bw.tableName, err, duration)
		return err
	}

	bw.log.Debugf("Flushed %d rows to %s (took %v)", len(batch), bw.tableName, duration)
	return nil
}

func (bw *BatchWriter[T]) flushLoop(ctx context.Context) {
	defer bw.wg.Done()

	ticker := time.NewTicker(bw.maxAge)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			bw.finalFlush("context cancelled")
			return

		case <-bw.stopCh:
			bw.finalFlush("stop signal")
			return

		case <-bw.kick:
			if err := bw.Flush(ctx); err != nil {
				bw.log.Warnf("Size-triggered flush failed: %v", err)
			}

		case <-ticker.C:
			if err := bw.Flush(ctx); err != nil {
				bw.log.Warnf("Periodic flush failed: %v", err)
			}
		}
	}
}

func (bw *BatchWriter[T]) finalFlush(reason string) {
	bw.log.Infof("BatchWriter stopping (%s), performing final flush", reason)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := bw.Flush(ctx); err != nil {
		bw.log.Errorf("Final flush failed: %v", err)
	}
}

// Stop waits for the loop to exit, then flushes anything still buffered
func (bw *BatchWriter[T]) Stop(ctx context.Context) error {
	bw.mu.Lock()
	if !bw.running {
		bw.mu.Unlock()
		return nil
	}
	bw.running = false
	bw.mu.Unlock()

	close(bw.stopCh)

	done := make(chan struct{})
	go func() {
		bw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		bw.log.Info("BatchWriter stopped gracefully")
		// rows added after the loop exited on ctx cancel
		return bw.Flush(ctx)
	case <-ctx.Done():
		bw.log.Warn("BatchWriter stop timed out")
		return ctx.Err()
	}
}

// BatchWriterStats is a point-in-time view of the writer
type BatchWriterStats struct {
	BufferSize   int
	Dropped      int
	LastFlushAge time.Duration
	MaxBatchSize int
	MaxAge       time.Duration
	Running      bool
}

// GetStats returns current statistics
func (bw *BatchWriter[T]) GetStats() BatchWriterStats {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	return BatchWriterStats{
		BufferSize:   len(bw.buffer),
		Dropped:      bw.dropped,
		LastFlushAge: time.Since(bw.lastFlush),
		MaxBatchSize: bw.maxBatchSize,
		MaxAge:       bw.maxAge,
		Running:      bw.running,
	}
}
