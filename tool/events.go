package tool

import "time"

// EventKind identifies a call lifecycle event.
type EventKind string

const (
	// EventCall is emitted before a tool is resolved and invoked.
	EventCall EventKind = "tool.call"
	// EventSuccess is emitted when a call produced a valid output.
	EventSuccess EventKind = "tool.success"
	// EventError is emitted when a call ended with any error.
	EventError EventKind = "tool.error"
)

// Terminal reports whether k ends a call.
func (k EventKind) Terminal() bool {
	return k == EventSuccess || k == EventError
}

// CallEvent describes one point in a tool call. Every call produces exactly
// one EventCall followed by exactly one terminal event with the same CallID.
type CallEvent struct {
	Kind       EventKind      `json:"kind"`
	CallID     string         `json:"call_id"`
	ToolName   string         `json:"tool_name"`
	Timestamp  time.Time      `json:"timestamp"`
	DurationMS float64        `json:"duration_ms"`
	Inputs     map[string]any `json:"inputs"`
	Outputs    any            `json:"outputs"`
	Error      string         `json:"error,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// EventHandler receives call events. Handlers run synchronously on the
// invoking goroutine and must not block.
type EventHandler func(CallEvent)

// MultiEventHandler combines multiple handlers into one.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e CallEvent) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}

// ChannelEventHandler returns a handler that sends events to a channel.
// Events are dropped if the channel is full.
func ChannelEventHandler(ch chan<- CallEvent) EventHandler {
	return func(e CallEvent) {
		select {
		case ch <- e:
		default:
		}
	}
}
