package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sleepdx/internal/adapters/artifactstore"
	"sleepdx/internal/adapters/config"
	errnoop "sleepdx/internal/adapters/errors/noop"
	"sleepdx/internal/adapters/errors/sentry"
	"sleepdx/internal/adapters/kafka"
	pgclient "sleepdx/internal/adapters/postgres"
	"sleepdx/internal/domain/sleep"
	"sleepdx/internal/events"
	"sleepdx/internal/ml"
	pgrepo "sleepdx/internal/repository/postgres"
	"sleepdx/internal/services/training"
	"sleepdx/pkg/errors"
	"sleepdx/pkg/logger"
)

// app holds what every subcommand needs. Optional clients are nil when
// not configured.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	tracker  errors.Tracker
	store    *artifactstore.Opened
	pg       *pgclient.Client
	producer *kafka.Producer
}

var (
	a app

	rootCmd = &cobra.Command{
		Use:           "trainer",
		Short:         "Offline pipeline for the sleep disorder classifier",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close(cmd.Context())
		},
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if a.log != nil {
			a.log.Errorw("Command failed", "error", err)
			a.close(context.Background())
		} else {
			fmt.Fprintf(os.Stderr, "trainer: %v\n", err)
		}
		os.Exit(1)
	}
}

func (a *app) init(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env, "trainer"); err != nil {
		return errors.Wrap(err, "init logger")
	}
	a.log = logger.Get()

	a.tracker = errnoop.New()
	if cfg.ErrorTracking.Enabled && cfg.ErrorTracking.SentryDSN != "" {
		tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment, cfg.App.Version)
		if err != nil {
			a.log.Warnf("Failed to initialize Sentry: %v", err)
		} else {
			a.tracker = tracker
		}
	}
	logger.SetErrorTracker(a.tracker)

	a.store, err = artifactstore.Open(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "open artifact store")
	}

	if cfg.Postgres.Enabled() {
		a.pg, err = pgclient.NewClient(ctx, cfg.Postgres)
		if err != nil {
			return errors.Wrap(err, "connect postgres")
		}
	}

	if cfg.Kafka.Enabled() {
		a.producer = kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers})
	}
	return nil
}

func (a *app) close(ctx context.Context) {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.log.Warnw("Kafka producer close failed", "error", err)
		}
		a.producer = nil
	}
	if a.pg != nil {
		_ = a.pg.Close()
		a.pg = nil
	}
	if a.store != nil {
		_ = a.store.Close()
		a.store = nil
	}
	if a.tracker != nil {
		_ = a.tracker.Flush(ctx)
	}
	_ = logger.Sync()
}

// trainingService wires the configured corpus source, store and events
func (a *app) trainingService() (*training.Service, error) {
	var repo sleep.CorpusRepository
	if a.pg != nil {
		repo = pgrepo.NewCorpusRepository(a.pg.DB())
	}

	source, err := training.NewCorpusSource(a.cfg.Training, a.store.Store, repo)
	if err != nil {
		return nil, err
	}

	var modelEvents training.ModelEvents
	if a.producer != nil {
		modelEvents = events.NewPublisher(a.producer, "trainer", a.log)
	}

	opts := training.DefaultOptions()
	opts.TestFraction = a.cfg.Training.TestFraction
	opts.SplitSeed = a.cfg.Training.Seed
	opts.Forest.Trees = a.cfg.Training.Trees
	opts.Forest.MaxDepth = a.cfg.Training.MaxDepth
	opts.Forest.MinSamplesLeaf = a.cfg.Training.MinLeaf
	opts.Forest.Seed = a.cfg.Training.Seed
	opts.Forest.Workers = a.cfg.Training.Workers

	return training.NewService(training.ServiceConfig{
		Source:      source,
		Store:       a.store.Store,
		Publisher:   training.NewPublisher(a.store.Store, a.cfg.Artifact, modelEvents),
		LoadONNX:    training.RuntimeLoader(ml.ONNXConfig(a.cfg.ONNX)),
		Options:     opts,
		ArtifactKey: a.cfg.Artifact.Key,
		CleanKey:    a.cfg.Training.CleanKey,
		RegistryKey: a.cfg.Training.RegistryKey,
	}), nil
}

func init() {
	rootCmd.AddCommand(trainCmd, bundleCmd, cleanCmd, inspectCmd, importCmd)
}
