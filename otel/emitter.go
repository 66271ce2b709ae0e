package otel

import (
	"maps"

	"github.com/petal-labs/toolpilot/tool"
)

// Metadata keys set by TraceEvents.
const (
	MetadataTraceID = "trace_id"
	MetadataSpanID  = "span_id"
)

// TraceEvents feeds every event to tracing and forwards it to next with the
// call span's trace and span IDs added to the event metadata, so the call log
// links back to the trace. When no span is active the event passes through
// unchanged.
func TraceEvents(tracing *TracingHandler, next tool.EventHandler) tool.EventHandler {
	return func(e tool.CallEvent) {
		if e.Kind == tool.EventCall {
			tracing.Handle(e)
		}
		if sc := tracing.ActiveSpanContext(e.CallID); sc.IsValid() {
			md := make(map[string]any, len(e.Metadata)+2)
			maps.Copy(md, e.Metadata)
			md[MetadataTraceID] = sc.TraceID().String()
			md[MetadataSpanID] = sc.SpanID().String()
			e.Metadata = md
		}
		if e.Kind.Terminal() {
			tracing.Handle(e)
		}
		if next != nil {
			next(e)
		}
	}
}
