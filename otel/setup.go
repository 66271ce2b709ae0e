package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/petal-labs/toolpilot"

const defaultOTLPEndpoint = "localhost:4318"

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Tracing owns the tracer provider.
type Tracing struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// SetupTracing builds an OTLP/HTTP exporting tracer provider and installs it
// as the global provider. When disabled it returns a noop tracer.
func SetupTracing(ctx context.Context, cfg TracingConfig) (*Tracing, error) {
	if !cfg.Enabled {
		return &Tracing{tracer: noop.NewTracerProvider().Tracer(instrumentationName)}, nil
	}

	endpoint := cfg.OTLPEndpoint
	if endpoint == "" {
		endpoint = defaultOTLPEndpoint
	}
	rate := cfg.SampleRate
	if rate <= 0 || rate > 1 {
		rate = 1
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otel: create otlp exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	)
	otel.SetTracerProvider(provider)

	return &Tracing{
		provider: provider,
		tracer:   provider.Tracer(instrumentationName),
	}, nil
}

// Tracer returns the tracer for call spans.
func (t *Tracing) Tracer() trace.Tracer {
	return t.tracer
}

// Shutdown flushes pending spans.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
