package otel

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig configures metric collection.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Metrics owns the meter provider and its Prometheus scrape handler.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter
	handler  http.Handler
}

// SetupMetrics builds a meter provider backed by a Prometheus exporter on a
// dedicated registry. When disabled, Meter returns a noop meter and Handler
// responds 404.
func SetupMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{
			meter:   noop.NewMeterProvider().Meter(instrumentationName),
			handler: http.NotFoundHandler(),
		}, nil
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("otel: create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	return &Metrics{
		provider: provider,
		meter:    provider.Meter(instrumentationName),
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, nil
}

// Meter returns the meter used for toolpilot instruments.
func (m *Metrics) Meter() metric.Meter {
	return m.meter
}

// Handler serves the Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
