package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "")
	t.Setenv("WORKER_POLL_INTERVAL", "")

	cfg := Load()
	assert.Equal(t, QueueBackendFile, cfg.Queue.Backend)
	assert.Equal(t, time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Worker.ReserveTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "DB")
	t.Setenv("WORKER_POLL_INTERVAL", "250")
	t.Setenv("WORKER_VISIBILITY_TIMEOUT", "2m")
	t.Setenv("REGISTRY_LOCK_ENABLED", "yes")

	cfg := Load()
	assert.Equal(t, QueueBackendDatabase, cfg.Queue.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Worker.VisibilityTimeout)
	assert.True(t, cfg.Registry.LockEnabled)
}

func TestStaticRulesHolder(t *testing.T) {
	h := NewStaticRulesHolder(DefaultRulesConfig())
	assert.Equal(t, 0.02, h.Get().ClosureTolerance)
	assert.Contains(t, h.Get().CancelledStatuses, "已取消")
}

func TestNewRulesHolderWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	h, err := NewRulesHolder(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assert.Equal(t, DefaultRulesConfig().ClosureTolerance, h.Get().ClosureTolerance)
}

func TestLoadRateLimit(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_SUBMIT_RATE", "0.5")
	t.Setenv("RATE_LIMIT_SUBMIT_BURST", "x")

	cfg := Load()
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 0.5, cfg.RateLimit.SubmitRate)
	assert.Equal(t, 10, cfg.RateLimit.SubmitBurst)
}

func TestLoadObservability(t *testing.T) {
	t.Setenv("APP_ROLE", " Worker ")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "HTTP")
	t.Setenv("DEPLOYMENT_ENV", "staging")

	cfg := Load()
	assert.Equal(t, "worker", cfg.Role)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.Equal(t, "http", cfg.Observability.OtlpProtocol)
}
