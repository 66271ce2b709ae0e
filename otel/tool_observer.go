package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/toolpilot/tool"
)

// ToolObserver records pipeline invocation outcomes as OpenTelemetry metrics.
type ToolObserver struct {
	invocations metric.Int64Counter
	failures    metric.Int64Counter
	latency     metric.Float64Histogram
}

// NewToolObserver creates a tool observer bound to the provided meter.
func NewToolObserver(meter metric.Meter) (*ToolObserver, error) {
	invocations, err := meter.Int64Counter(
		"toolpilot.tool.invocations",
		metric.WithDescription("Number of tool invocations"),
	)
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter(
		"toolpilot.tool.failures",
		metric.WithDescription("Number of tool invocations that ended with an error"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"toolpilot.tool.latency",
		metric.WithDescription("Tool latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &ToolObserver{
		invocations: invocations,
		failures:    failures,
		latency:     latency,
	}, nil
}

// ObserveInvoke records one invocation result.
func (o *ToolObserver) ObserveInvoke(observation tool.InvokeObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool_name", observation.ToolName),
		attribute.String("status", string(observation.Status)),
	}
	if observation.ErrorCode != "" {
		attrs = append(attrs, attribute.String("error_code", observation.ErrorCode))
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.invocations.Add(ctx, 1, options)
	if observation.Status != tool.StatusSuccess {
		o.failures.Add(ctx, 1, options)
	}
	seconds := float64(time.Duration(observation.DurationMS*float64(time.Millisecond))) / float64(time.Second)
	o.latency.Record(ctx, seconds, options)
}

var _ tool.Observer = (*ToolObserver)(nil)
