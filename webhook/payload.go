package webhook

import (
	"time"

	"github.com/petal-labs/toolpilot/tool"
)

// Payload is the JSON body posted to hooks.
type Payload struct {
	Event     tool.EventKind `json:"event"`
	Tool      string         `json:"tool"`
	CallID    string         `json:"call_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      PayloadData    `json:"data"`
}

// PayloadData carries the call details for the event.
type PayloadData struct {
	Inputs     map[string]any `json:"inputs"`
	Outputs    any            `json:"outputs,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	DurationMS *float64       `json:"duration_ms,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewPayload builds the webhook body for a call event. Timestamp is the
// delivery time; the call start time stays in the call log.
func NewPayload(e tool.CallEvent, now time.Time) Payload {
	data := PayloadData{
		Inputs:   e.Inputs,
		Metadata: e.Metadata,
	}
	if data.Inputs == nil {
		data.Inputs = map[string]any{}
	}
	if e.Kind.Terminal() {
		d := e.DurationMS
		data.DurationMS = &d
	}
	switch e.Kind {
	case tool.EventSuccess:
		data.Outputs = e.Outputs
	case tool.EventError:
		data.Error = e.Error
		data.ErrorCode = e.ErrorCode
	}
	return Payload{
		Event:     e.Kind,
		Tool:      e.ToolName,
		CallID:    e.CallID,
		Timestamp: now.UTC(),
		Data:      data,
	}
}
