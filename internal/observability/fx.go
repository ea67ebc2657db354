package observability

import (
	"github.com/smallbiznis/settlr/internal/observability/logger"
	"github.com/smallbiznis/settlr/internal/observability/metrics"
	"github.com/smallbiznis/settlr/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		loggerConfig,
		logger.New,
		tracingConfig,
		tracing.NewProvider,
		metricsConfig,
		metrics.NewProvider,
		metrics.New,
		workerMetrics,
	),
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)

func loggerConfig(cfg Config) logger.Config {
	lc := logger.Config{
		ServiceName:         cfg.ServiceName,
		Role:                cfg.Role,
		Environment:         cfg.Environment,
		Version:             cfg.Version,
		Level:               cfg.LogLevel,
		Format:              "json",
		Debug:               cfg.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: cfg.Debug(),
	}
	if cfg.Console() {
		lc.Format = "console"
		lc.IncludeCaller = false
		lc.Stderr = cfg.Role == "cli"
	}
	return lc
}

// A one-shot cli run never exports spans; the batch would be lost on exit.
func tracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled && cfg.Role != "cli",
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		SamplingRatio:    cfg.OtelSamplingRatio,
	}
}

func metricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.OtelEnabled && cfg.Role != "cli",
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		ServiceName:      cfg.ServiceName,
		Environment:      cfg.Environment,
	}
}

// Prometheus collectors register once per process even when several fx apps
// are built, as the cli does.
func workerMetrics(cfg metrics.Config) *metrics.WorkerMetrics {
	return metrics.WorkerWithConfig(cfg)
}
