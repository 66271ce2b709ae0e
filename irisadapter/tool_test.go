package irisadapter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/petal-labs/iris/tools"

	"github.com/petal-labs/toolpilot/tool"
)

// mockTool is a mock implementation of tools.Tool for testing.
type mockTool struct {
	name        string
	description string
	schema      string
	callResult  any
	callError   error
	gotArgs     json.RawMessage
}

func (m *mockTool) Name() string        { return m.name }
func (m *mockTool) Description() string { return m.description }

func (m *mockTool) Schema() tools.ToolSchema {
	return tools.ToolSchema{JSONSchema: json.RawMessage(m.schema)}
}

func (m *mockTool) Call(_ context.Context, args json.RawMessage) (any, error) {
	m.gotArgs = args
	if m.callError != nil {
		return nil, m.callError
	}
	return m.callResult, nil
}

func newPipeline(t *testing.T, events tool.EventHandler) *tool.Pipeline {
	t.Helper()
	reg := tool.NewRegistry()
	reg.MustRegister(tool.Definition{
		Name:        "add",
		Description: "Add two numbers.",
		Inputs: []tool.Param{
			tool.Input("x", tool.TypeNumber, "First operand"),
			tool.Input("y", tool.TypeNumber, "Second operand"),
		},
		OutputType: tool.TypeNumber,
	}, func(_ context.Context, in map[string]any) (any, error) {
		return in["x"].(float64) + in["y"].(float64), nil
	})
	return tool.NewPipeline(tool.PipelineConfig{Registry: reg, Events: events})
}

func TestToolsExposeRegistry(t *testing.T) {
	adapted, err := Tools(newPipeline(t, nil))
	if err != nil {
		t.Fatalf("Tools() error = %v", err)
	}
	if len(adapted) != 1 || adapted[0].Name() != "add" {
		t.Fatalf("Tools() = %v", adapted)
	}
	if adapted[0].Description() != "Add two numbers." {
		t.Errorf("Description() = %q", adapted[0].Description())
	}

	var schema struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal(adapted[0].Schema().JSONSchema, &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	if schema.Type != "object" || len(schema.Properties) != 2 || len(schema.Required) != 2 {
		t.Fatalf("schema = %+v", schema)
	}
}

func TestToolAdapterCall(t *testing.T) {
	var events []tool.CallEvent
	p := newPipeline(t, func(e tool.CallEvent) { events = append(events, e) })
	a, err := NewToolAdapter(p, "add")
	if err != nil {
		t.Fatalf("NewToolAdapter() error = %v", err)
	}

	out, err := a.Call(context.Background(), json.RawMessage(`{"x":2,"y":3}`))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if out != 5.0 {
		t.Fatalf("Call() = %v, want 5", out)
	}
	if len(events) != 2 || events[0].Metadata[MetadataCaller] != "iris" {
		t.Fatalf("events = %+v, want caller metadata", events)
	}

	_, err = a.Call(context.Background(), json.RawMessage(`{"x":"two","y":3}`))
	if !errors.Is(err, tool.ErrValidation) {
		t.Fatalf("Call(bad input) error = %v, want ErrValidation", err)
	}

	if _, err := a.Call(context.Background(), json.RawMessage(`{`)); err == nil {
		t.Fatal("Call(malformed) error = nil")
	}
}

func TestNewToolAdapterUnknownTool(t *testing.T) {
	if _, err := NewToolAdapter(newPipeline(t, nil), "missing"); !errors.Is(err, tool.ErrNotFound) {
		t.Fatalf("NewToolAdapter() error = %v, want ErrNotFound", err)
	}
}

func TestImportIrisTool(t *testing.T) {
	mock := &mockTool{
		name:        "get_weather",
		description: "Get the current weather for a city.",
		schema: `{
			"type": "object",
			"properties": {
				"units": {"type": "string", "description": "Units", "default": "metric"},
				"city": {"type": "string", "description": "City name"},
				"days": {"type": "integer"}
			},
			"required": ["city"]
		}`,
		callResult: struct {
			City string  `json:"city"`
			Temp float64 `json:"temp"`
		}{City: "Boston", Temp: 22},
	}

	reg := tool.NewRegistry()
	if err := Import(reg, mock, ImportOptions{Tags: []string{"weather"}}); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	def, err := reg.Lookup("get_weather")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	want := []string{"city", "days", "units"}
	for i, name := range want {
		if def.Inputs[i].Name != name {
			t.Fatalf("Inputs[%d] = %q, want %q", i, def.Inputs[i].Name, name)
		}
	}
	if !def.Inputs[0].Required || def.Inputs[1].Type != tool.TypeNumber || def.Inputs[2].Default != "metric" {
		t.Fatalf("inputs = %+v", def.Inputs)
	}

	p := tool.NewPipeline(tool.PipelineConfig{Registry: reg})
	res := p.Invoke(context.Background(), "get_weather", map[string]any{"city": "Boston"})
	if !res.OK() {
		t.Fatalf("Invoke() = %+v", res)
	}
	out := res.Output.(map[string]any)
	if out["city"] != "Boston" || out["temp"] != 22.0 {
		t.Fatalf("output = %v", out)
	}

	var args map[string]any
	if err := json.Unmarshal(mock.gotArgs, &args); err != nil {
		t.Fatalf("args: %v", err)
	}
	if args["units"] != "metric" {
		t.Fatalf("args = %v, want default units", args)
	}
}

func TestImportCallError(t *testing.T) {
	mock := &mockTool{
		name:      "flaky",
		schema:    `{"type":"object"}`,
		callError: errors.New("upstream down"),
	}
	reg := tool.NewRegistry()
	if err := Import(reg, mock, ImportOptions{OutputType: tool.TypeString}); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	res := tool.NewPipeline(tool.PipelineConfig{Registry: reg}).Invoke(context.Background(), "flaky", nil)
	if res.Status != tool.StatusExecutionError || res.Error.Message != "upstream down" {
		t.Fatalf("Invoke() = %+v", res)
	}
}

func TestImportScalarForObjectViolatesContract(t *testing.T) {
	mock := &mockTool{name: "count", schema: `{"type":"object"}`, callResult: 42}
	reg := tool.NewRegistry()
	if err := Import(reg, mock, ImportOptions{}); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	res := tool.NewPipeline(tool.PipelineConfig{Registry: reg}).Invoke(context.Background(), "count", nil)
	if res.Status != tool.StatusExecutionError {
		t.Fatalf("Status = %s, want %s", res.Status, tool.StatusExecutionError)
	}
	if res.Error.Details["reason"] != "output_contract" {
		t.Fatalf("Details = %v, want reason output_contract", res.Error.Details)
	}
}

func TestImportRejectsBadSchema(t *testing.T) {
	tests := []string{
		`{"type":"array"}`,
		`{"type":"object","properties":{"a":{"type":"date"}}}`,
		`{"type":"object","required":["missing"]}`,
		`not json`,
	}
	for _, schema := range tests {
		err := Import(tool.NewRegistry(), &mockTool{name: "bad", schema: schema}, ImportOptions{})
		if err == nil {
			t.Errorf("Import(%s) error = nil", schema)
		}
	}
}

func TestNormalizeResult(t *testing.T) {
	if got := normalizeResult(nil, tool.TypeObject); len(got.(map[string]any)) != 0 {
		t.Fatalf("nil object = %v", got)
	}
	if got, ok := normalizeResult([]int{1, 2}, tool.TypeObject).([]any); !ok || len(got) != 2 {
		t.Fatalf("slice for object output = %#v, want it left as an array", got)
	}
	if got := normalizeResult([]int{1, 2}, tool.TypeArray).([]any); len(got) != 2 {
		t.Fatalf("array = %v", got)
	}
}
