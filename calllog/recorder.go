package calllog

import (
	"context"
	"log/slog"
	"time"

	"github.com/petal-labs/toolpilot/bus"
	"github.com/petal-labs/toolpilot/tool"
)

const defaultWriteTimeout = 5 * time.Second

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	Store  Store
	Logger *slog.Logger
	// WriteTimeout bounds each Append (default 5s).
	WriteTimeout time.Duration
}

// Recorder writes terminal call events to a Store. Persistence failures are
// logged and never reach the caller of the tool.
type Recorder struct {
	store   Store
	logger  *slog.Logger
	timeout time.Duration
}

// NewRecorder creates a Recorder.
func NewRecorder(cfg RecorderConfig) *Recorder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &Recorder{store: cfg.Store, logger: logger, timeout: timeout}
}

// Handle persists a single event. Non-terminal events are ignored. Its
// signature matches tool.EventHandler.
func (r *Recorder) Handle(event tool.CallEvent) {
	rec, ok := FromEvent(event)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.Append(ctx, rec); err != nil {
		r.logger.Error("failed to persist call",
			"call_id", event.CallID,
			"tool", event.ToolName,
			"kind", event.Kind,
			"error", err,
		)
	}
}

// Run consumes sub until ctx is done or the subscription closes.
func (r *Recorder) Run(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			r.Handle(event)
		}
	}
}
