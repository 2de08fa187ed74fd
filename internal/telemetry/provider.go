// Package telemetry liga o tracing OpenTelemetry do prefabd.
package telemetry

import (
	"context"
	"fmt"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config controla o exporter OTLP/HTTP.
// Tracing é opt-in: endpoint vazio ou Enabled=false não registram provider.
type Config struct {
	Enabled  bool    `env:"PREFAB_OTEL_ENABLED" envDefault:"true"`
	Endpoint string  `env:"PREFAB_OTEL_ENDPOINT"`
	Ratio    float64 `env:"PREFAB_OTEL_SAMPLE_RATIO" envDefault:"1"`
}

func ConfigFromEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("telemetry config: %w", err)
	}
	if cfg.Ratio < 0 || cfg.Ratio > 1 {
		return Config{}, fmt.Errorf("telemetry config: PREFAB_OTEL_SAMPLE_RATIO must be in [0,1], got %v", cfg.Ratio)
	}
	return cfg, nil
}

// Setup registra o tracer provider global para serviceName.
// O shutdown devolvido faz flush dos spans pendentes e deve ser adiado pelo chamador.
func Setup(ctx context.Context, serviceName string, cfg Config) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	if !cfg.Enabled || cfg.Endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(cfg.Endpoint),
	)
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, err
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.Ratio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Ratio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}
