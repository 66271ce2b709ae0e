// Package otel provides OpenTelemetry integration for toolpilot call events.
package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/toolpilot/tool"
)

// TracingHandler translates call events into OpenTelemetry spans. A span is
// started on tool.call and ended by the matching terminal event.
type TracingHandler struct {
	tracer trace.Tracer

	mu    sync.RWMutex
	spans map[string]trace.Span // callID -> span
}

// NewTracingHandler creates a TracingHandler that uses tracer for call spans.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer: tracer,
		spans:  make(map[string]trace.Span),
	}
}

// Handle processes a call event. It implements tool.EventHandler semantics.
func (h *TracingHandler) Handle(e tool.CallEvent) {
	switch e.Kind {
	case tool.EventCall:
		h.handleCall(e)
	case tool.EventSuccess, tool.EventError:
		h.handleTerminal(e)
	}
}

func (h *TracingHandler) handleCall(e tool.CallEvent) {
	_, span := h.tracer.Start(context.Background(), "tool.invoke",
		trace.WithAttributes(
			attribute.String("toolpilot.call_id", e.CallID),
			attribute.String("toolpilot.tool_name", e.ToolName),
		),
		trace.WithTimestamp(e.Timestamp),
	)

	h.mu.Lock()
	h.spans[e.CallID] = span
	h.mu.Unlock()
}

func (h *TracingHandler) handleTerminal(e tool.CallEvent) {
	h.mu.Lock()
	span, ok := h.spans[e.CallID]
	if ok {
		delete(h.spans, e.CallID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	end := e.Timestamp.Add(time.Duration(e.DurationMS * float64(time.Millisecond)))
	span.SetAttributes(attribute.Float64("toolpilot.duration_ms", e.DurationMS))
	if e.Kind == tool.EventError {
		span.SetAttributes(attribute.String("toolpilot.error_code", e.ErrorCode))
		span.SetStatus(codes.Error, e.Error)
		span.RecordError(spanError(e.Error), trace.WithTimestamp(end))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(end))
}

// ActiveSpanContext returns the SpanContext of the in-flight call identified
// by callID, or an empty SpanContext.
func (h *TracingHandler) ActiveSpanContext(callID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.spans[callID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// InFlight returns the number of calls with an open span.
func (h *TracingHandler) InFlight() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.spans)
}

type spanError string

func (e spanError) Error() string { return string(e) }
