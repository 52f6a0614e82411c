package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"sleepdx/pkg/errors"
)

type Config struct {
	App           AppConfig
	HTTP          HTTPConfig
	Artifact      ArtifactConfig
	Redis         RedisConfig
	GCS           GCSConfig
	Badger        BadgerConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Kafka         KafkaConfig
	ONNX          ONNXConfig
	Training      TrainingConfig
	ErrorTracking ErrorTrackingConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"sleepdx"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

type HTTPConfig struct {
	Port            int           `envconfig:"HTTP_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout     time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
	MaxBodyBytes    int64         `envconfig:"HTTP_MAX_BODY_BYTES" default:"65536"`
	PredictRPS      float64       `envconfig:"HTTP_PREDICT_RPS" default:"200"` // 0 disables limiting
	PredictBurst    int           `envconfig:"HTTP_PREDICT_BURST" default:"50"`
	AdminToken      string        `envconfig:"HTTP_ADMIN_TOKEN"` // empty disables /admin/reload
}

// Artifact storage backends
const (
	BackendFS     = "fs"
	BackendRedis  = "redis"
	BackendGCS    = "gcs"
	BackendBadger = "badger"
)

type ArtifactConfig struct {
	Backend       string        `envconfig:"ARTIFACT_BACKEND" default:"fs"`
	Root          string        `envconfig:"ARTIFACT_ROOT" default:"./data"` // fs backend root
	Key           string        `envconfig:"ARTIFACT_KEY" default:"models/artifact.art"`
	MetricsKey    string        `envconfig:"ARTIFACT_METRICS_KEY" default:"models/metrics.json"`
	VersionsDir   string        `envconfig:"ARTIFACT_VERSIONS_DIR" default:"models/versions"`
	CacheDir      string        `envconfig:"ARTIFACT_CACHE_DIR" default:"./cache"`
	CacheLocal    bool          `envconfig:"ARTIFACT_CACHE_LOCAL" default:"true"`  // ignored for the fs backend
	WatchInterval time.Duration `envconfig:"ARTIFACT_WATCH_INTERVAL" default:"1m"` // 0 disables the watcher
	ReloadTimeout time.Duration `envconfig:"ARTIFACT_RELOAD_TIMEOUT" default:"1m"`
}

// VersionKey returns the immutable key of one artifact version
func (c ArtifactConfig) VersionKey(version string) string {
	return strings.TrimSuffix(c.VersionsDir, "/") + "/" + version + ".art"
}

type RedisConfig struct {
	Host      string `envconfig:"REDIS_HOST"`
	Port      int    `envconfig:"REDIS_PORT" default:"6379"`
	Password  string `envconfig:"REDIS_PASSWORD"`
	DB        int    `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"sleepdx:"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Enabled reports whether a Redis host is configured
func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

type GCSConfig struct {
	Bucket          string `envconfig:"GCS_BUCKET"`
	CredentialsFile string `envconfig:"GCS_CREDENTIALS_FILE"`
	Endpoint        string `envconfig:"GCS_ENDPOINT"` // emulator override
}

type BadgerConfig struct {
	Dir      string `envconfig:"BADGER_DIR" default:"./badger"`
	InMemory bool   `envconfig:"BADGER_IN_MEMORY" default:"false"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	Database string `envconfig:"POSTGRES_DB"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"5"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Enabled reports whether a Postgres host is configured
func (c PostgresConfig) Enabled() bool {
	return c.Host != ""
}

type ClickHouseConfig struct {
	Host          string        `envconfig:"CLICKHOUSE_HOST"`
	Port          int           `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User          string        `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password      string        `envconfig:"CLICKHOUSE_PASSWORD"`
	Database      string        `envconfig:"CLICKHOUSE_DB" default:"sleepdx"`
	BatchSize     int           `envconfig:"CLICKHOUSE_BATCH_SIZE" default:"500"`
	FlushInterval time.Duration `envconfig:"CLICKHOUSE_FLUSH_INTERVAL" default:"5s"`
}

// Enabled reports whether a ClickHouse host is configured
func (c ClickHouseConfig) Enabled() bool {
	return c.Host != ""
}

type KafkaConfig struct {
	Brokers []string `envconfig:"KAFKA_BROKERS"`
	GroupID string   `envconfig:"KAFKA_GROUP_ID" default:"sleepdx"`
}

// Enabled reports whether any broker is configured
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

type ONNXConfig struct {
	SharedLibraryPath string `envconfig:"ONNX_SHARED_LIBRARY_PATH"`
	InputName         string `envconfig:"ONNX_INPUT_NAME" default:"input"`
	LabelOutput       string `envconfig:"ONNX_LABEL_OUTPUT" default:"output"`
	ProbabilityOutput string `envconfig:"ONNX_PROBABILITY_OUTPUT" default:"probabilities"`
}

// Corpus sources
const (
	SourceFile     = "file"
	SourceBlob     = "blob"
	SourcePostgres = "postgres"
)

type TrainingConfig struct {
	Source       string  `envconfig:"TRAINING_SOURCE" default:"file"`
	CorpusPath   string  `envconfig:"TRAINING_CORPUS_PATH" default:"./data/raw/sleep_data.csv"`
	CorpusKey    string  `envconfig:"TRAINING_CORPUS_KEY" default:"raw/sleep_data.csv"`
	CorpusTable  string  `envconfig:"TRAINING_CORPUS_TABLE" default:"sleep_health"`
	CleanKey     string  `envconfig:"TRAINING_CLEAN_KEY" default:"processed/sleep_data_clean.csv"`
	RegistryKey  string  `envconfig:"TRAINING_REGISTRY_KEY" default:"processed/registry.json"`
	Trees        int     `envconfig:"TRAINING_TREES" default:"100"`
	MaxDepth     int     `envconfig:"TRAINING_MAX_DEPTH" default:"0"`
	MinLeaf      int     `envconfig:"TRAINING_MIN_LEAF" default:"1"`
	Seed         uint64  `envconfig:"TRAINING_SEED" default:"42"`
	TestFraction float64 `envconfig:"TRAINING_TEST_FRACTION" default:"0.2"`
	Workers      int     `envconfig:"TRAINING_WORKERS" default:"0"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	Provider    string `envconfig:"ERROR_TRACKING_PROVIDER" default:"sentry"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	switch c.Artifact.Backend {
	case BackendFS, BackendBadger:
	case BackendRedis:
		if !c.Redis.Enabled() {
			return errors.Wrap(errors.ErrInvalidInput, "artifact backend redis requires REDIS_HOST")
		}
	case BackendGCS:
		if c.GCS.Bucket == "" {
			return errors.Wrap(errors.ErrInvalidInput, "artifact backend gcs requires GCS_BUCKET")
		}
	default:
		return errors.Wrapf(errors.ErrInvalidInput, "unknown artifact backend %q", c.Artifact.Backend)
	}

	switch c.Training.Source {
	case SourceFile, SourceBlob:
	case SourcePostgres:
		if !c.Postgres.Enabled() {
			return errors.Wrap(errors.ErrInvalidInput, "training source postgres requires POSTGRES_HOST")
		}
	default:
		return errors.Wrapf(errors.ErrInvalidInput, "unknown training source %q", c.Training.Source)
	}

	if c.Training.TestFraction <= 0 || c.Training.TestFraction >= 1 {
		return errors.Wrapf(errors.ErrInvalidInput, "TRAINING_TEST_FRACTION %v outside (0,1)", c.Training.TestFraction)
	}
	return nil
}
