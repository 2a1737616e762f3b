package observability

import (
	"github.com/digitraceslab/koota/internal/observability/metrics"
	"github.com/digitraceslab/koota/internal/observability/tracing"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		provideTracingConfig,
		tracing.NewProvider,
		provideRegisterer,
		metrics.New,
	),
	fx.Invoke(ensureTracingProvider),
)

func ensureTracingProvider(_ *sdktrace.TracerProvider) {}

func provideRegisterer() prometheus.Registerer {
	return prometheus.DefaultRegisterer
}

func provideTracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		SamplingRatio:    cfg.OtelSamplingRatio,
	}
}
