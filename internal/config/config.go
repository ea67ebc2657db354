package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	// Role distinguishes api, worker and cli processes sharing one AppName.
	Role string

	Observability ObservabilityConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	HTTPAddr string
	// NodeID seeds the snowflake generator; give each process its own.
	NodeID int64

	Queue     QueueConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Worker    WorkerConfig
	Registry  RegistryConfig
	RateLimit RateLimitConfig

	MetricsPush MetricsPushConfig
}

// ObservabilityConfig feeds logging, tracing and OTLP metrics.
type ObservabilityConfig struct {
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OtlpEndpoint  string
	OtlpProtocol  string
	SamplingRatio float64
}

// MetricsPushConfig configures shipping worker metrics for short-lived or
// scrape-less deployments.
type MetricsPushConfig struct {
	Exporter  string
	Endpoint  string
	AuthToken string
	Interval  time.Duration
}

type QueueConfig struct {
	Backend string
	Dir     string
	Name    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	// Dir is the root of partition files and manifests.
	Dir string
	// UploadDir is where the blob store resolves object keys.
	UploadDir string
	// StagingDir holds per-job downloaded inputs.
	StagingDir string
}

type WorkerConfig struct {
	PollInterval      time.Duration
	ReserveTimeout    time.Duration
	VisibilityTimeout time.Duration
	MaxJobs           int
}

type RegistryConfig struct {
	LockEnabled bool
	LockTTL     time.Duration
}

// RateLimitConfig caps job submissions per tenant. Requires redis.
type RateLimitConfig struct {
	Enabled     bool
	SubmitRate  float64
	SubmitBurst int
}

const (
	QueueBackendMemory   = "memory"
	QueueBackendFile     = "file"
	QueueBackendRedis    = "redis"
	QueueBackendDatabase = "database"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "settlr"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("DEPLOYMENT_ENV", getenv("ENVIRONMENT", "development")),
		Role:        strings.ToLower(strings.TrimSpace(getenv("APP_ROLE", ""))),

		DBType:            getenv("DATABASE_TYPE", "sqlite"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "settlr.db"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),
		NodeID:   int64(getenvInt("SNOWFLAKE_NODE", 1)),

		Observability: ObservabilityConfig{
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:   getenvBool("OTEL_ENABLED", false),
			OtlpEndpoint:  strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			OtlpProtocol:  otlpProtocol(),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		Queue: QueueConfig{
			Backend: normalizeQueueBackend(getenv("QUEUE_BACKEND", QueueBackendFile)),
			Dir:     getenv("QUEUE_DIR", "./data/queue"),
			Name:    getenv("QUEUE_NAME", "reconcile"),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Storage: StorageConfig{
			Dir:        getenv("STORAGE_DIR", "./data/storage"),
			UploadDir:  getenv("UPLOAD_DIR", "./data/uploads"),
			StagingDir: getenv("STAGING_DIR", os.TempDir()),
		},
		Worker: WorkerConfig{
			PollInterval:      getenvDuration("WORKER_POLL_INTERVAL", time.Second),
			ReserveTimeout:    getenvDuration("WORKER_RESERVE_TIMEOUT", 30*time.Second),
			VisibilityTimeout: getenvDuration("WORKER_VISIBILITY_TIMEOUT", 10*time.Minute),
			MaxJobs:           getenvInt("WORKER_MAX_JOBS", 0),
		},
		Registry: RegistryConfig{
			LockEnabled: getenvBool("REGISTRY_LOCK_ENABLED", false),
			LockTTL:     getenvDuration("REGISTRY_LOCK_TTL", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getenvBool("RATE_LIMIT_ENABLED", false),
			SubmitRate:  getenvFloat("RATE_LIMIT_SUBMIT_RATE", 1),
			SubmitBurst: getenvInt("RATE_LIMIT_SUBMIT_BURST", 10),
		},
		MetricsPush: MetricsPushConfig{
			Exporter:  strings.ToLower(strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", ""))),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
			Interval:  getenvDuration("METRICS_PUSH_INTERVAL", time.Minute),
		},
	}

	return cfg
}

// otlpProtocol prefers the traces-specific override.
func otlpProtocol() string {
	protocol := getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))
	return strings.ToLower(strings.TrimSpace(protocol))
}

func normalizeQueueBackend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case QueueBackendMemory:
		return QueueBackendMemory
	case QueueBackendRedis:
		return QueueBackendRedis
	case QueueBackendDatabase, "db":
		return QueueBackendDatabase
	default:
		return QueueBackendFile
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go durations ("30s") or bare milliseconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
