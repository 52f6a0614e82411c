package bootstrap

import (
	"os"

	"github.com/google/uuid"

	"sleepdx/internal/adapters/artifactstore"
	chclient "sleepdx/internal/adapters/clickhouse"
	"sleepdx/internal/adapters/config"
	errnoop "sleepdx/internal/adapters/errors/noop"
	"sleepdx/internal/adapters/errors/sentry"
	"sleepdx/internal/adapters/kafka"
	"sleepdx/internal/api"
	"sleepdx/internal/api/health"
	predictionapi "sleepdx/internal/api/prediction"
	"sleepdx/internal/consumers"
	"sleepdx/internal/events"
	"sleepdx/internal/metrics"
	"sleepdx/internal/ml"
	chrepo "sleepdx/internal/repository/clickhouse"
	predictionsvc "sleepdx/internal/services/prediction"
	"sleepdx/internal/workers"
	"sleepdx/pkg/errors"
	"sleepdx/pkg/logger"
)

// ========================================
// Phase 1: Configuration & Logging
// ========================================

// MustInitConfig loads configuration and initializes logger
func (c *Container) MustInitConfig() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	c.Config = cfg

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env, cfg.App.Name); err != nil {
		panic("failed to init logger: " + err.Error())
	}

	c.Log = logger.Get()
	c.Log.Infof("Starting %s %s in %s mode", cfg.App.Name, cfg.App.Version, cfg.App.Env)

	c.ErrorTracker = provideErrorTracker(cfg, c.Log)
	logger.SetErrorTracker(c.ErrorTracker)

	metrics.Init()
}

// ========================================
// Phase 2: Infrastructure Layer
// ========================================

// MustInitInfrastructure opens the artifact store and, when configured, ClickHouse
func (c *Container) MustInitInfrastructure() {
	var err error

	c.Log.Infow("Opening artifact store...", "backend", c.Config.Artifact.Backend)
	c.Artifacts, err = artifactstore.Open(c.Context, c.Config)
	if err != nil {
		c.Log.Fatalf("failed to open artifact store: %v", err)
	}
	c.Log.Infow("✓ Artifact store ready", "store", c.Artifacts.Store.Name())

	if c.Config.ClickHouse.Enabled() {
		c.Log.Info("Connecting to ClickHouse...")
		c.CH, err = chclient.NewClient(c.Context, c.Config.ClickHouse)
		if err != nil {
			c.Log.Fatalf("failed to connect clickhouse: %v", err)
		}
		c.Log.Infow("✓ ClickHouse connected", "database", c.CH.Database())
	} else {
		c.Log.Info("ClickHouse not configured, prediction audit log disabled")
	}
}

// ========================================
// Phase 3: Repositories
// ========================================

// MustInitRepositories initializes the prediction audit log
func (c *Container) MustInitRepositories() {
	if c.CH == nil {
		return
	}

	repo := chrepo.NewPredictionLogRepository(c.CH.Conn(), chrepo.PredictionLogConfig{
		BatchSize:     c.Config.ClickHouse.BatchSize,
		FlushInterval: c.Config.ClickHouse.FlushInterval,
	})
	if err := repo.EnsureSchema(c.Context); err != nil {
		c.Log.Fatalf("failed to prepare prediction log table: %v", err)
	}
	c.Repos.PredictionLog = repo
	c.Log.Info("✓ Repositories initialized")
}

// ========================================
// Phase 4: External Adapters
// ========================================

// MustInitAdapters initializes Kafka when brokers are configured
func (c *Container) MustInitAdapters() {
	if !c.Config.Kafka.Enabled() {
		c.Log.Info("Kafka not configured, events and reload topic disabled")
		return
	}

	c.Adapters.KafkaProducer = provideKafkaProducer(c.Config, c.Log)
	c.Adapters.Events = events.NewPublisher(c.Adapters.KafkaProducer, c.Config.App.Name, c.Log)
	c.Adapters.ReloadConsumer = provideReloadConsumer(c.Config, c.Log)
}

// ========================================
// Phase 5: Services
// ========================================

// MustInitServices creates the prediction service. The model is loaded in Start.
func (c *Container) MustInitServices() {
	cfg := predictionsvc.Config{
		Source:  c.Artifacts.Store,
		Key:     c.Config.Artifact.Key,
		ONNX:    ml.ONNXConfig(c.Config.ONNX),
		Tracker: c.ErrorTracker,
	}
	if c.Adapters.Events != nil {
		cfg.Publisher = c.Adapters.Events
	}
	if c.Repos.PredictionLog != nil {
		cfg.Audit = c.Repos.PredictionLog
	}
	c.Services.Prediction = predictionsvc.NewService(cfg)

	var audit metrics.AuditCounter
	if c.Repos.PredictionLog != nil {
		audit = c.Repos.PredictionLog
	}
	metrics.RegisterCustomCollector(metrics.NewCustomCollector(c.Log, c.Services.Prediction.ModelInfo, audit))
	c.Log.Info("✓ Services initialized")
}

// ========================================
// Phase 6: Application Layer
// ========================================

// MustInitApplication builds the HTTP handlers and server
func (c *Container) MustInitApplication() {
	c.Application.HealthHandler = health.New(
		c.Log,
		c.Services.Prediction,
		c.healthChecks(),
		c.Config.App.Name,
		c.Config.App.Version,
	)

	handlerCfg := predictionapi.Config{
		MaxBodyBytes:  c.Config.HTTP.MaxBodyBytes,
		ReloadTimeout: c.Config.Artifact.ReloadTimeout,
	}
	if c.Adapters.Events != nil {
		handlerCfg.Broadcaster = c.Adapters.Events
	}
	c.Application.PredictHandler = predictionapi.NewHandler(c.Services.Prediction, handlerCfg, c.Log)

	c.Application.HTTPServer = api.NewServer(api.ServerConfig{
		HTTP:        c.Config.HTTP,
		ServiceName: c.Config.App.Name,
		Version:     c.Config.App.Version,
	}, c.Application.HealthHandler, c.Application.PredictHandler, c.Log)
}

// ========================================
// Phase 7: Background Processing
// ========================================

// MustInitBackground wires the reload consumer and periodic workers
func (c *Container) MustInitBackground() {
	if c.Adapters.ReloadConsumer != nil {
		c.Background.ReloadSvc = consumers.NewReloadConsumer(
			c.Adapters.ReloadConsumer,
			c.Services.Prediction,
			c.Config.Artifact.ReloadTimeout,
			c.Log,
		)
	}

	scheduler := workers.NewScheduler()
	scheduler.RegisterWorker(workers.NewArtifactWatcher(
		c.Artifacts.Store,
		c.Config.Artifact.MetricsKey,
		c.Services.Prediction.ModelInfo,
		c.Config.Artifact.WatchInterval,
	))
	c.Background.WorkerScheduler = scheduler
}

// ========================================
// Providers
// ========================================

func provideErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return errnoop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment, cfg.App.Version)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return errnoop.New()
	}

	log.Info("✓ Error tracking initialized (Sentry)")
	return tracker
}

func provideKafkaProducer(cfg *config.Config, log *logger.Logger) *kafka.Producer {
	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers: cfg.Kafka.Brokers,
		Async:   true, // request path never waits on the broker
	})
	log.Infow("✓ Kafka producer initialized", "brokers", cfg.Kafka.Brokers)
	return producer
}

// provideReloadConsumer gives every instance its own group so each one
// receives every reload request
func provideReloadConsumer(cfg *config.Config, log *logger.Logger) *kafka.Consumer {
	instance, err := os.Hostname()
	if err != nil || instance == "" {
		instance = uuid.NewString()
	}
	groupID := cfg.Kafka.GroupID + "-reload-" + instance

	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: groupID,
		Topic:   kafka.TopicModelReload,
	})
	log.Infow("✓ Kafka consumer initialized", "topic", kafka.TopicModelReload, "group_id", groupID)
	return consumer
}

func (c *Container) healthChecks() map[string]health.Checker {
	checks := make(map[string]health.Checker)
	for name, check := range c.Artifacts.Health {
		checks[name] = check
	}
	if c.CH != nil {
		checks["clickhouse"] = c.CH.Health
	}
	return checks
}
