package calllog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"maps"
	"time"

	"github.com/petal-labs/toolpilot/tool"
)

// ReplayMetadataKey marks replayed calls in event metadata.
const ReplayMetadataKey = "replay_of"

// ReplayResult pairs an original record with the outcome of re-running it.
type ReplayResult struct {
	Original   Record      `json:"original"`
	Result     tool.Result `json:"result"`
	ReplayedAt time.Time   `json:"replayed_at"`
	// OutputChanged is true when the replay status or output differs from the original.
	OutputChanged bool `json:"output_changed"`
}

// Replayer re-invokes logged calls through the pipeline.
type Replayer struct {
	store    Store
	pipeline *tool.Pipeline
	now      func() time.Time
}

// NewReplayer creates a Replayer.
func NewReplayer(store Store, pipeline *tool.Pipeline) *Replayer {
	return &Replayer{store: store, pipeline: pipeline, now: time.Now}
}

// Replay loads callID and invokes the same tool with the original inputs. The
// original metadata is carried over with ReplayMetadataKey set. Auth comes
// from ctx, as for any other call.
func (r *Replayer) Replay(ctx context.Context, callID string) (ReplayResult, error) {
	if r.store == nil || r.pipeline == nil {
		return ReplayResult{}, errors.New("calllog: replayer is not configured")
	}
	original, err := r.store.Get(ctx, callID)
	if err != nil {
		return ReplayResult{}, err
	}

	metadata := maps.Clone(original.Metadata)
	if metadata == nil {
		metadata = make(map[string]any, 1)
	}
	for k, v := range tool.MetadataFromContext(ctx) {
		metadata[k] = v
	}
	metadata[ReplayMetadataKey] = original.CallID

	replayedAt := r.now().UTC()
	result := r.pipeline.Invoke(tool.WithMetadata(ctx, metadata), original.ToolName, maps.Clone(original.Inputs))

	return ReplayResult{
		Original:      original,
		Result:        result,
		ReplayedAt:    replayedAt,
		OutputChanged: outputChanged(original, result),
	}, nil
}

func outputChanged(original Record, result tool.Result) bool {
	if original.Status() != result.Status {
		return true
	}
	if !result.OK() {
		return original.Error != result.Error.Message
	}
	a, errA := json.Marshal(original.Outputs)
	b, errB := json.Marshal(result.Output)
	if errA != nil || errB != nil {
		return true
	}
	return !bytes.Equal(normalizeJSON(a), normalizeJSON(b))
}

// normalizeJSON re-encodes raw through any so that numeric and key-order
// differences between stored and live values compare equal.
func normalizeJSON(raw []byte) []byte {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}
