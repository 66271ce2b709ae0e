// Package sse provides a Server-Sent Events handler for streaming tool call
// events to HTTP clients. It replays recent calls from the call log and then
// follows live events from the event bus.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/petal-labs/toolpilot/bus"
	"github.com/petal-labs/toolpilot/calllog"
	"github.com/petal-labs/toolpilot/tool"
)

// HeartbeatInterval is the interval between SSE heartbeat comments.
const HeartbeatInterval = 15 * time.Second

const (
	// DefaultReplay is the number of stored calls sent before live events.
	DefaultReplay = 20
	maxReplay     = 500
)

// Handler serves an SSE stream of call events.
//
// Query parameters:
//
//	tool    restrict the stream to one tool
//	replay  number of stored calls to send first (default 20, 0 disables)
//
// SSE format:
//
//	id: {call_id}
//	event: {kind}
//	data: {json}
//
// A heartbeat comment ": ping\n\n" is sent every 15 seconds. The stream ends
// when the client disconnects or the bus closes.
type Handler struct {
	store  calllog.Store
	bus    bus.EventBus
	logger *slog.Logger
}

// NewHandler creates a Handler. store may be nil to disable replay.
func NewHandler(store calllog.Store, eb bus.EventBus, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, bus: eb, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	toolName := r.URL.Query().Get("tool")
	replay := DefaultReplay
	if raw := r.URL.Query().Get("replay"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid replay parameter", http.StatusBadRequest)
			return
		}
		replay = min(n, maxReplay)
	}

	// Streams outlive the server's write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("sse: clear write deadline", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()

	// Subscribe before replaying so calls finishing in between are not lost.
	var sub bus.Subscription
	if toolName != "" {
		sub = h.bus.Subscribe(toolName)
	} else {
		sub = h.bus.SubscribeAll()
	}
	defer sub.Close()

	sent, err := h.replayStored(ctx, w, flusher, toolName, replay)
	if err != nil {
		h.logger.Warn("sse replay failed", "tool", toolName, "error", err)
		return
	}

	h.streamLive(ctx, w, flusher, sub, sent)
}

// replayStored writes up to limit stored calls, oldest first, and returns
// the call IDs it sent.
func (h *Handler) replayStored(
	ctx context.Context,
	w http.ResponseWriter,
	flusher http.Flusher,
	toolName string,
	limit int,
) (map[string]struct{}, error) {
	sent := make(map[string]struct{})
	if h.store == nil || limit == 0 {
		return sent, nil
	}

	records, err := h.store.List(ctx, calllog.Filter{ToolName: toolName, Limit: limit})
	if err != nil {
		return nil, err
	}
	slices.Reverse(records)

	for _, rec := range records {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := writeSSEEvent(w, recordEvent(rec)); err != nil {
			return nil, err
		}
		flusher.Flush()
		sent[rec.CallID] = struct{}{}
	}
	return sent, nil
}

// streamLive streams events from the live subscription, skipping calls
// already sent during replay.
func (h *Handler) streamLive(
	ctx context.Context,
	w http.ResponseWriter,
	flusher http.Flusher,
	sub bus.Subscription,
	sent map[string]struct{},
) {
	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if _, dup := sent[evt.CallID]; dup {
				continue
			}
			if err := writeSSEEvent(w, evt); err != nil {
				return
			}
			flusher.Flush()

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// recordEvent rebuilds the terminal event for a stored call.
func recordEvent(rec calllog.Record) tool.CallEvent {
	kind := tool.EventSuccess
	if rec.Failed() {
		kind = tool.EventError
	}
	return tool.CallEvent{
		Kind:       kind,
		CallID:     rec.CallID,
		ToolName:   rec.ToolName,
		Timestamp:  rec.Timestamp,
		DurationMS: rec.DurationMS,
		Inputs:     rec.Inputs,
		Outputs:    rec.Outputs,
		Error:      rec.Error,
		ErrorCode:  rec.ErrorCode,
		Metadata:   rec.Metadata,
	}
}

// writeSSEEvent writes a single event in SSE format.
func writeSSEEvent(w http.ResponseWriter, evt tool.CallEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", evt.CallID, evt.Kind, data)
	return err
}
