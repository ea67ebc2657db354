package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	jobsSubmitted   metric.Int64Counter
	factRows        metric.Int64Counter
	mergeOutcomes   metric.Int64Counter
	datasetsCleared metric.Int64Counter
	closureWarnings metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "settlr"
	}
	meter := provider.Meter(name)

	jobsSubmitted, err := meter.Int64Counter("settlr_jobs_submitted_total")
	if err != nil {
		return nil, err
	}
	factRows, err := meter.Int64Counter("settlr_fact_rows_total")
	if err != nil {
		return nil, err
	}
	mergeOutcomes, err := meter.Int64Counter("settlr_merge_rows_total")
	if err != nil {
		return nil, err
	}
	datasetsCleared, err := meter.Int64Counter("settlr_datasets_cleared_total")
	if err != nil {
		return nil, err
	}
	closureWarnings, err := meter.Int64Counter("settlr_closure_warnings_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		jobsSubmitted:   jobsSubmitted,
		factRows:        factRows,
		mergeOutcomes:   mergeOutcomes,
		datasetsCleared: datasetsCleared,
		closureWarnings: closureWarnings,
	}, nil
}

func (m *Metrics) RecordJobSubmitted(ctx context.Context, platform, mode string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("platform", strings.TrimSpace(platform)),
		attribute.String("mode", strings.TrimSpace(mode)),
	)
	m.jobsSubmitted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFactRows counts transformed rows by validation status.
func (m *Metrics) RecordFactRows(ctx context.Context, platform, status string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(
		attribute.String("platform", strings.TrimSpace(platform)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.factRows.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordMergeOutcome(ctx context.Context, platform, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(
		attribute.String("platform", strings.TrimSpace(platform)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.mergeOutcomes.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordDatasetCleared(ctx context.Context, platform, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("platform", strings.TrimSpace(platform)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.datasetsCleared.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordClosureWarnings(ctx context.Context, platform string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("platform", strings.TrimSpace(platform)))
	m.closureWarnings.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"platform": {},
	"mode":     {},
	"status":   {},
	"outcome":  {},
	"reason":   {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
