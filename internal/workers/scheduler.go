package workers

import (
	"context"
	"sync"
	"time"

	"sleepdx/internal/metrics"
	"sleepdx/pkg/errors"
	"sleepdx/pkg/logger"
)

const defaultStopTimeout = 30 * time.Second

// Scheduler manages and coordinates multiple workers
type Scheduler struct {
	workers     []Worker
	stopTimeout time.Duration
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.RWMutex
	log         *logger.Logger
	started     bool
}

// NewScheduler creates a new worker scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{
		stopTimeout: defaultStopTimeout,
		log:         logger.Get().With("component", "scheduler"),
	}
}

// RegisterWorker adds a worker to the scheduler
func (s *Scheduler) RegisterWorker(w Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		s.log.Warnw("Cannot register worker after scheduler has started", "worker", w.Name())
		return
	}

	s.workers = append(s.workers, w)
	s.log.Infow("Worker registered", "worker", w.Name(), "interval", w.Interval())
}

// Start begins running all enabled workers
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.Wrap(errors.ErrInternal, "scheduler already started")
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	running := 0
	for _, worker := range s.workers {
		if !worker.Enabled() {
			s.log.Infow("Skipping disabled worker", "worker", worker.Name())
			continue
		}
		s.wg.Add(1)
		go s.runWorker(runCtx, worker)
		running++
	}

	s.log.Infow("Worker scheduler started", "workers", running)
	return nil
}

// Stop cancels all workers and waits for the current iterations to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.Wrap(errors.ErrInternal, "scheduler not started")
	}
	s.cancel()
	s.mu.Unlock()

	s.log.Info("Stopping worker scheduler...")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var shutdownErr error
	select {
	case <-done:
		s.log.Info("✓ All workers stopped")
	case <-time.After(s.stopTimeout):
		shutdownErr = errors.Wrapf(errors.ErrInternal, "worker shutdown timed out after %s", s.stopTimeout)
		s.log.Warnw("Worker shutdown timed out", "timeout", s.stopTimeout)
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	return shutdownErr
}

// runWorker executes a single worker in a loop
func (s *Scheduler) runWorker(ctx context.Context, worker Worker) {
	defer s.wg.Done()

	ticker := time.NewTicker(worker.Interval())
	defer ticker.Stop()

	// Run immediately on start
	s.executeWorker(ctx, worker)

	for {
		select {
		case <-ctx.Done():
			s.log.Debugw("Worker stopping", "worker", worker.Name())
			return
		case <-ticker.C:
			s.executeWorker(ctx, worker)
		}
	}
}

type runRecorder interface {
	RecordRun(duration time.Duration, err error)
}

// executeWorker runs a single iteration of the worker with error handling
func (s *Scheduler) executeWorker(ctx context.Context, worker Worker) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			metrics.RecordWorkerRun(worker.Name(), "panic")
			s.log.Errorw("Worker panicked", "worker", worker.Name(), "panic", r)
		}
	}()

	err := worker.Run(ctx)
	if rec, ok := worker.(runRecorder); ok {
		rec.RecordRun(time.Since(start), err)
	}

	if err != nil {
		metrics.RecordWorkerRun(worker.Name(), "error")
		s.log.Errorw("Worker execution failed",
			"worker", worker.Name(),
			"error", err,
			"duration", time.Since(start),
		)
		return
	}

	metrics.RecordWorkerRun(worker.Name(), "success")
	s.log.Debugw("Worker execution completed",
		"worker", worker.Name(),
		"duration", time.Since(start),
	)
}

// GetWorkers returns a list of all registered workers
func (s *Scheduler) GetWorkers() []Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Worker(nil), s.workers...)
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
