// Package calllog persists tool call records and replays them.
package calllog

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"time"

	"github.com/petal-labs/toolpilot/tool"
)

// ErrCallNotFound is returned when a call ID has no record.
var ErrCallNotFound = errors.New("calllog: call not found")

// Record is one completed tool call.
type Record struct {
	CallID     string
	ToolName   string
	Timestamp  time.Time
	DurationMS float64
	Inputs     map[string]any
	Outputs    any
	Error      string
	ErrorCode  string
	Metadata   map[string]any
}

// Failed reports whether the call ended with an error.
func (r Record) Failed() bool {
	return r.Error != "" || r.ErrorCode != ""
}

// Status returns the invocation status recorded for the call.
func (r Record) Status() tool.Status {
	if !r.Failed() {
		return tool.StatusSuccess
	}
	switch r.ErrorCode {
	case tool.ErrorCodeNotFound:
		return tool.StatusNotFound
	case tool.ErrorCodeValidation:
		return tool.StatusValidationError
	case tool.ErrorCodeUnauthorized:
		return tool.StatusUnauthorized
	default:
		return tool.StatusExecutionError
	}
}

type recordJSON struct {
	CallID     string         `json:"call_id"`
	ToolName   string         `json:"tool_name"`
	Timestamp  time.Time      `json:"timestamp"`
	DurationMS float64        `json:"duration_ms"`
	Inputs     map[string]any `json:"inputs"`
	Outputs    any            `json:"outputs"`
	Error      *string        `json:"error"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// MarshalJSON writes the record with null outputs and error when absent.
func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		CallID:     r.CallID,
		ToolName:   r.ToolName,
		Timestamp:  r.Timestamp.UTC(),
		DurationMS: r.DurationMS,
		Inputs:     r.Inputs,
		Outputs:    r.Outputs,
		ErrorCode:  r.ErrorCode,
		Metadata:   r.Metadata,
	}
	if out.Inputs == nil {
		out.Inputs = map[string]any{}
	}
	if r.Failed() {
		msg := r.Error
		out.Error = &msg
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the shape written by MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var in recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = Record{
		CallID:     in.CallID,
		ToolName:   in.ToolName,
		Timestamp:  in.Timestamp,
		DurationMS: in.DurationMS,
		Inputs:     in.Inputs,
		Outputs:    in.Outputs,
		ErrorCode:  in.ErrorCode,
		Metadata:   in.Metadata,
	}
	if in.Error != nil {
		r.Error = *in.Error
	}
	return nil
}

// FromEvent converts a terminal call event into a record. ok is false for
// non-terminal events.
func FromEvent(e tool.CallEvent) (Record, bool) {
	if !e.Kind.Terminal() {
		return Record{}, false
	}
	return Record{
		CallID:     e.CallID,
		ToolName:   e.ToolName,
		Timestamp:  e.Timestamp.UTC(),
		DurationMS: e.DurationMS,
		Inputs:     maps.Clone(e.Inputs),
		Outputs:    e.Outputs,
		Error:      e.Error,
		ErrorCode:  e.ErrorCode,
		Metadata:   maps.Clone(e.Metadata),
	}, true
}

// Filter narrows List results.
type Filter struct {
	// ToolName restricts results to one tool when set.
	ToolName string
	// Since excludes records with a timestamp before it.
	Since time.Time
	// FailedOnly keeps only calls that ended with an error.
	FailedOnly bool
	// Limit caps the result size (0 means DefaultListLimit).
	Limit int
}

// DefaultListLimit is the List cap applied when Filter.Limit is zero.
const DefaultListLimit = 100

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

func (f Filter) matches(r Record) bool {
	if f.ToolName != "" && r.ToolName != f.ToolName {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if f.FailedOnly && !r.Failed() {
		return false
	}
	return true
}

// PrunePolicy selects records to delete.
type PrunePolicy struct {
	// OlderThan deletes records with a timestamp before it (zero disables).
	OlderThan time.Time
	// KeepLatest keeps at most this many records per tool (0 disables).
	KeepLatest int
}

// Store persists call records.
type Store interface {
	// Append stores a record. Appending an existing call ID replaces it.
	Append(ctx context.Context, rec Record) error

	// Get returns the record for callID or ErrCallNotFound.
	Get(ctx context.Context, callID string) (Record, error)

	// List returns matching records, newest first.
	List(ctx context.Context, filter Filter) ([]Record, error)

	// Prune deletes records selected by policy and returns how many were removed.
	Prune(ctx context.Context, policy PrunePolicy) (int, error)

	// Close releases resources.
	Close() error
}
