package bootstrap

import (
	"context"
	"sync"
	"time"

	"sleepdx/internal/adapters/artifactstore"
	chclient "sleepdx/internal/adapters/clickhouse"
	"sleepdx/internal/adapters/kafka"
	"sleepdx/internal/api"
	chrepo "sleepdx/internal/repository/clickhouse"
	predictionsvc "sleepdx/internal/services/prediction"
	"sleepdx/internal/workers"
	"sleepdx/pkg/errors"
	"sleepdx/pkg/logger"
)

// Lifecycle manages graceful startup and shutdown of components
type Lifecycle struct {
	shutdownTimeout time.Duration
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		shutdownTimeout: 60 * time.Second,
	}
}

// ShutdownDeps lists what Shutdown tears down. Nil fields are skipped.
type ShutdownDeps struct {
	WG              *sync.WaitGroup
	HTTPServer      *api.Server
	HTTPTimeout     time.Duration
	WorkerScheduler *workers.Scheduler
	ReloadConsumer  *kafka.Consumer
	PredictionLog   *chrepo.PredictionLogRepository
	KafkaProducer   *kafka.Producer
	Prediction      *predictionsvc.Service
	Artifacts       *artifactstore.Opened
	ClickHouse      *chclient.Client
	ErrorTracker    errors.Tracker
}

// Shutdown performs coordinated cleanup of all components in order:
// 1. No new requests accepted
// 2. Workers and consumers stop
// 3. Buffered audit rows flushed, then the producer closed
// 4. Model released, errors and logs flushed
// 5. Storage connections last
func (l *Lifecycle) Shutdown(d ShutdownDeps, log *logger.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer shutdownCancel()

	// ========================================
	// Step 1: Stop HTTP Server
	// ========================================
	log.Info("[1/8] Stopping HTTP server...")
	if d.HTTPServer != nil {
		httpTimeout := d.HTTPTimeout
		if httpTimeout <= 0 {
			httpTimeout = 15 * time.Second
		}
		httpCtx, httpCancel := context.WithTimeout(shutdownCtx, httpTimeout)
		if err := d.HTTPServer.Shutdown(httpCtx); err != nil {
			log.Errorw("HTTP server shutdown failed", "error", err)
		}
		httpCancel()
	}

	// ========================================
	// Step 2: Stop Background Workers
	// ========================================
	log.Info("[2/8] Stopping background workers...")
	if d.WorkerScheduler != nil && d.WorkerScheduler.IsRunning() {
		if err := d.WorkerScheduler.Stop(); err != nil {
			log.Errorw("Workers shutdown failed", "error", err)
		}
	}

	// ========================================
	// Step 3: Close Kafka Consumers
	// Unblocks FetchMessage before waiting for goroutines
	// ========================================
	log.Info("[3/8] Closing Kafka consumers...")
	l.closeKafkaConsumers(map[string]*kafka.Consumer{
		"reload": d.ReloadConsumer,
	}, log)

	log.Info("[4/8] Waiting for goroutines...")
	if d.WG != nil {
		l.waitForGoroutines(d.WG, 5*time.Second, log)
	}

	// ========================================
	// Step 5: Flush audit log, then close the producer
	// ========================================
	log.Info("[5/8] Flushing prediction audit log...")
	if d.PredictionLog != nil {
		stopCtx, stopCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		if err := d.PredictionLog.Stop(stopCtx); err != nil {
			log.Errorw("Prediction log flush failed", "error", err)
		} else {
			log.Info("✓ Prediction log flushed")
		}
		stopCancel()
	}
	if d.KafkaProducer != nil {
		if err := d.KafkaProducer.Close(); err != nil {
			log.Errorw("Kafka producer close failed", "error", err)
		} else {
			log.Info("✓ Kafka producer closed")
		}
	}

	// ========================================
	// Step 6: Release the model
	// ========================================
	log.Info("[6/8] Releasing model...")
	if d.Prediction != nil {
		if err := d.Prediction.Close(); err != nil {
			log.Warnw("Model close failed", "error", err)
		}
	}

	// ========================================
	// Step 7: Flush Error Tracker and Logs
	// ========================================
	log.Info("[7/8] Flushing error tracker and logs...")
	l.flushErrorTracker(shutdownCtx, d.ErrorTracker, log)
	_ = logger.Sync()

	// ========================================
	// Step 8: Close Storage
	// LAST - other components may need it during shutdown
	// ========================================
	log.Info("[8/8] Closing storage connections...")
	l.closeStorage(d.Artifacts, d.ClickHouse, log)

	log.Info("✅ Graceful shutdown complete")
}

// closeKafkaConsumers closes all Kafka consumers
func (l *Lifecycle) closeKafkaConsumers(consumers map[string]*kafka.Consumer, log *logger.Logger) {
	for name, consumer := range consumers {
		if consumer != nil {
			if err := consumer.Close(); err != nil {
				log.Errorw("Kafka consumer close failed", "consumer", name, "error", err)
			}
		}
	}
}

// waitForGoroutines waits for all goroutines with a timeout
func (l *Lifecycle) waitForGoroutines(wg *sync.WaitGroup, timeout time.Duration, log *logger.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("✓ All goroutines finished")
	case <-time.After(timeout):
		log.Warnw("⚠ Some goroutines did not finish within timeout", "timeout", timeout)
	}
}

// flushErrorTracker flushes the error tracker (Sentry, etc.)
func (l *Lifecycle) flushErrorTracker(ctx context.Context, tracker errors.Tracker, log *logger.Logger) {
	if tracker == nil {
		return
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 3*time.Second)
	defer flushCancel()

	if err := tracker.Flush(flushCtx); err != nil {
		log.Errorw("Error tracker flush failed", "error", err)
	}
}

// closeStorage closes the artifact store clients and ClickHouse
func (l *Lifecycle) closeStorage(artifacts *artifactstore.Opened, ch *chclient.Client, log *logger.Logger) {
	var errs errors.MultiError

	if artifacts != nil {
		if err := artifacts.Close(); err != nil {
			errs.Add(errors.Wrap(err, "artifact store"))
		}
	}
	if ch != nil {
		if err := ch.Close(); err != nil {
			errs.Add(errors.Wrap(err, "clickhouse"))
		}
	}

	if errs.HasErrors() {
		log.Errorw("Storage close errors", "error", errs.ToError())
	} else {
		log.Info("✓ Storage connections closed")
	}
}
