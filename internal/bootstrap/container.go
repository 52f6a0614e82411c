package bootstrap

import (
	"context"
	"sync"

	"sleepdx/internal/adapters/artifactstore"
	chclient "sleepdx/internal/adapters/clickhouse"
	"sleepdx/internal/adapters/config"
	"sleepdx/internal/adapters/kafka"
	"sleepdx/internal/api"
	"sleepdx/internal/api/health"
	predictionapi "sleepdx/internal/api/prediction"
	"sleepdx/internal/consumers"
	"sleepdx/internal/events"
	chrepo "sleepdx/internal/repository/clickhouse"
	predictionsvc "sleepdx/internal/services/prediction"
	"sleepdx/internal/workers"
	"sleepdx/pkg/errors"
	"sleepdx/pkg/logger"
)

// Container holds all application dependencies and their lifecycle
// Components are organized in initialization order
type Container struct {
	// Core configuration & logging
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure Layer. ClickHouse is optional.
	Artifacts *artifactstore.Opened
	CH        *chclient.Client

	Repos       *Repositories
	Adapters    *Adapters
	Services    *Services
	Application *Application
	Background  *Background

	// Lifecycle management
	Lifecycle *Lifecycle
	WG        *sync.WaitGroup
	Context   context.Context
	Cancel    context.CancelFunc
}

// Repositories groups all repositories
type Repositories struct {
	PredictionLog *chrepo.PredictionLogRepository // nil without ClickHouse
}

// Adapters groups all external adapters. Kafka is optional.
type Adapters struct {
	KafkaProducer  *kafka.Producer
	ReloadConsumer *kafka.Consumer
	Events         *events.Publisher
}

// Services groups all domain services
type Services struct {
	Prediction *predictionsvc.Service
}

// Application groups application layer components
type Application struct {
	HTTPServer     *api.Server
	HealthHandler  *health.Handler
	PredictHandler *predictionapi.Handler
}

// Background groups all background processing components
type Background struct {
	WorkerScheduler *workers.Scheduler
	ReloadSvc       *consumers.ReloadConsumer
}

// NewContainer creates a new dependency container
func NewContainer() *Container {
	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		Repos:       &Repositories{},
		Adapters:    &Adapters{},
		Services:    &Services{},
		Application: &Application{},
		Background:  &Background{},
		Lifecycle:   NewLifecycle(),
		WG:          &sync.WaitGroup{},
		Context:     ctx,
		Cancel:      cancel,
	}
}

// MustInit initializes all components in the correct order
// Panics on any initialization error (fail-fast at startup)
func (c *Container) MustInit() {
	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitRepositories()
	c.MustInitAdapters()
	c.MustInitServices()
	c.MustInitApplication()
	c.MustInitBackground()
}

// Start loads the model and starts all background components. A failed
// initial load is not fatal: the service stays up in the Failed state and
// answers health checks until an operator reload succeeds.
func (c *Container) Start() error {
	c.Log.Info("Starting all systems...")

	if c.Repos.PredictionLog != nil {
		c.Repos.PredictionLog.Start(c.Context)
	}

	loadCtx, cancel := context.WithTimeout(c.Context, c.Config.Artifact.ReloadTimeout)
	err := c.Services.Prediction.Load(loadCtx, "startup")
	cancel()
	if err != nil {
		c.Log.Errorw("Initial model load failed, predictions disabled until reload", "error", err)
	}

	c.startConsumers()

	if err := c.Background.WorkerScheduler.Start(c.Context); err != nil {
		return errors.Wrap(err, "failed to start workers")
	}

	// Start HTTP server
	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.Application.HTTPServer.Start(); err != nil {
			c.Log.Errorf("HTTP server failed: %v", err)
			c.Cancel() // Trigger shutdown on fatal HTTP error
		}
	}()

	c.Log.Infow("✓ All systems operational", "model_state", c.Services.Prediction.State().String())
	return nil
}

// startConsumers starts Kafka consumers in background goroutines
func (c *Container) startConsumers() {
	if c.Background.ReloadSvc == nil {
		return
	}

	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.Background.ReloadSvc.Start(c.Context); err != nil && c.Context.Err() == nil {
			c.Log.Errorw("Reload consumer failed", "error", err)
		}
	}()

	c.Log.Infow("✓ Event consumers started", "consumers", []string{"reload"})
}

// Shutdown performs graceful shutdown in the correct order
func (c *Container) Shutdown() {
	c.Log.Info("Initiating graceful shutdown...")

	// Cancel application context to signal all other components to stop
	c.Cancel()

	c.Lifecycle.Shutdown(ShutdownDeps{
		WG:              c.WG,
		HTTPServer:      c.Application.HTTPServer,
		HTTPTimeout:     c.Config.HTTP.ShutdownTimeout,
		WorkerScheduler: c.Background.WorkerScheduler,
		ReloadConsumer:  c.Adapters.ReloadConsumer,
		PredictionLog:   c.Repos.PredictionLog,
		KafkaProducer:   c.Adapters.KafkaProducer,
		Prediction:      c.Services.Prediction,
		Artifacts:       c.Artifacts,
		ClickHouse:      c.CH,
		ErrorTracker:    c.ErrorTracker,
	}, c.Log)
}
