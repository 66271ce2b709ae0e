package tool

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
)

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	Registry *Registry
	// Events receives the call-start and terminal event of every call.
	Events EventHandler
	Logger *slog.Logger

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Pipeline resolves, validates, authorizes, and invokes tools. It holds no
// per-call state and is safe for concurrent use.
type Pipeline struct {
	registry *Registry
	events   EventHandler
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// NewPipeline creates a Pipeline from cfg.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = func() string { return uuid.New().String() }
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	return &Pipeline{
		registry: registry,
		events:   cfg.Events,
		logger:   logger,
		now:      now,
		newID:    newID,
	}
}

// Registry returns the registry the pipeline resolves against.
func (p *Pipeline) Registry() *Registry {
	return p.registry
}

// Invoke runs one call of the named tool. It never returns a Go error: every
// failure is reported through the Result status and its ToolError.
func (p *Pipeline) Invoke(ctx context.Context, name string, inputs map[string]any) Result {
	callID := p.newID()
	start := p.now()
	metadata := MetadataFromContext(ctx)

	p.emit(CallEvent{
		Kind:      EventCall,
		CallID:    callID,
		ToolName:  name,
		Timestamp: start,
		Inputs:    maps.Clone(inputs),
		Metadata:  metadata,
	})

	output, toolErr := p.run(ctx, name, inputs)
	durationMS := float64(p.now().Sub(start)) / float64(time.Millisecond)

	terminal := CallEvent{
		CallID:     callID,
		ToolName:   name,
		Timestamp:  start,
		DurationMS: durationMS,
		Inputs:     maps.Clone(inputs),
		Metadata:   metadata,
	}

	var result Result
	if toolErr != nil {
		result = errorResult(callID, toolErr)
		terminal.Kind = EventError
		terminal.Error = toolErr.Message
		terminal.ErrorCode = toolErr.Code
		p.logger.Debug("tool call failed",
			"tool", name,
			"call_id", callID,
			"code", toolErr.Code,
			"error", toolErr.Message,
		)
	} else {
		result = successResult(callID, output)
		terminal.Kind = EventSuccess
		terminal.Outputs = output
		p.logger.Debug("tool call succeeded", "tool", name, "call_id", callID, "duration_ms", durationMS)
	}
	p.emit(terminal)

	emitInvokeObservation(InvokeObservation{
		ToolName:   name,
		Status:     result.Status,
		DurationMS: durationMS,
		ErrorCode:  terminal.ErrorCode,
	})
	return result
}

func (p *Pipeline) run(ctx context.Context, name string, inputs map[string]any) (any, *ToolError) {
	e, ok := p.registry.get(name)
	if !ok {
		return nil, notFoundError(name)
	}

	args, verr := bindInputs(e.def, inputs)
	if verr != nil {
		return nil, verr
	}

	if e.def.RequiresAuth() {
		if _, ok := AuthFromContext(ctx); !ok {
			return nil, newToolError(ErrorCodeUnauthorized, fmt.Sprintf("tool %q requires %s authentication", name, e.def.Auth.Kind), nil)
		}
	}

	output, err := callSafely(ctx, e.fn, args)
	if err != nil {
		return nil, newToolError(ErrorCodeExecution, err.Error(), err)
	}

	if !matchesType(output, e.def.OutputType) {
		p.logger.Warn("tool violated its output contract",
			"tool", name,
			"declared", e.def.OutputType,
			"actual", describeValue(output),
		)
		return nil, withDetails(
			newToolError(ErrorCodeExecution, fmt.Sprintf("tool %q returned %s, declared %s", name, describeValue(output), e.def.OutputType), nil),
			map[string]any{"reason": "output_contract"},
		)
	}
	return output, nil
}

// bindInputs validates raw inputs against the declared parameters in
// declaration order and stops at the first failing field.
func bindInputs(def Definition, raw map[string]any) (map[string]any, *ToolError) {
	args := make(map[string]any, len(def.Inputs))
	for _, param := range def.Inputs {
		value, present := raw[param.Name]
		if !present || value == nil {
			if param.Required {
				return nil, validationError(param.Name, "is required")
			}
			if param.Default != nil {
				args[param.Name] = cloneValue(param.Default)
			}
			continue
		}
		if err := validateField(param.Name, value, param.Type); err != nil {
			toolErr, _ := AsToolError(err)
			return nil, toolErr
		}
		args[param.Name] = value
	}
	return args, nil
}

func callSafely(ctx context.Context, fn Func, args map[string]any) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return fn(ctx, args)
}

func (p *Pipeline) emit(e CallEvent) {
	if p.events != nil {
		p.events(e)
	}
}
