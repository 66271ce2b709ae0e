package tool

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func addDefinition() Definition {
	return Definition{
		Name:        "add",
		Description: "Add two numbers.",
		Inputs: []Param{
			Input("x", TypeNumber, "First operand"),
			Input("y", TypeNumber, "Second operand"),
		},
		OutputType:        TypeNumber,
		OutputDescription: "Sum",
		Version:           "1.0.0",
		Tags:              []string{"math"},
	}
}

func addFunc(_ context.Context, inputs map[string]any) (any, error) {
	return toFloat(inputs["x"]) + toFloat(inputs["y"]), nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

func TestRegistryLookupRoundTrip(t *testing.T) {
	reg := NewRegistry()
	def := addDefinition()
	def.Auth = &AuthSpec{Kind: AuthOAuth, Required: true, Scopes: []string{"math:use"}}
	if err := reg.Register(def, addFunc); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, err := reg.Lookup("add")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !reflect.DeepEqual(got, def) {
		t.Fatalf("Lookup() = %+v, want %+v", got, def)
	}
}

func TestRegistryIsolatesCallerCopies(t *testing.T) {
	reg := NewRegistry()
	def := addDefinition()
	if err := reg.Register(def, addFunc); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	def.Tags[0] = "mutated"
	def.Inputs[0].Name = "mutated"

	got, _ := reg.Lookup("add")
	got.Tags[0] = "also-mutated"

	again, _ := reg.Lookup("add")
	if again.Tags[0] != "math" {
		t.Fatalf("Tags[0] = %q, want math", again.Tags[0])
	}
	if again.Inputs[0].Name != "x" {
		t.Fatalf("Inputs[0].Name = %q, want x", again.Inputs[0].Name)
	}
}

func TestRegistryIsolatesObjectDefaults(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(Definition{
		Name:        "configure",
		Description: "Mutates its options.",
		Inputs: []Param{
			OptionalInput("opts", TypeObject, "Options.", map[string]any{"mode": "safe"}),
			OptionalInput("ids", TypeArray, "IDs.", []any{"a"}),
		},
		OutputType: TypeString,
	}, func(_ context.Context, inputs map[string]any) (any, error) {
		opts := inputs["opts"].(map[string]any)
		mode := opts["mode"].(string)
		opts["mode"] = "poisoned"
		ids := inputs["ids"].([]any)
		ids[0] = "poisoned"
		return mode, nil
	})
	p := NewPipeline(PipelineConfig{Registry: reg})

	for i := 0; i < 2; i++ {
		res := p.Invoke(context.Background(), "configure", nil)
		if !res.OK() || res.Output != "safe" {
			t.Fatalf("Invoke() #%d = %+v, want safe", i+1, res)
		}
	}

	got, _ := reg.Lookup("configure")
	got.Inputs[0].Default.(map[string]any)["mode"] = "external"
	got.Inputs[1].Default.([]any)[0] = "external"

	again, _ := reg.Lookup("configure")
	if mode := again.Inputs[0].Default.(map[string]any)["mode"]; mode != "safe" {
		t.Fatalf("opts default mode = %v, want safe", mode)
	}
	if id := again.Inputs[1].Default.([]any)[0]; id != "a" {
		t.Fatalf("ids default[0] = %v, want a", id)
	}
}

func TestRegistryRejectsDuplicateName(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(addDefinition(), addFunc); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	second := addDefinition()
	second.Description = "Second registration"
	err := reg.Register(second, addFunc)
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("Register() error = %v, want ErrDuplicateName", err)
	}
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("errors.Is(err, ErrConfiguration) = false")
	}
	if got := ErrorCode(err); got != ErrorCodeConfiguration {
		t.Fatalf("ErrorCode() = %q, want %q", got, ErrorCodeConfiguration)
	}

	if reg.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", reg.Len())
	}
	kept, _ := reg.Lookup("add")
	if kept.Description != "Add two numbers." {
		t.Fatalf("Description = %q, want first registration", kept.Description)
	}
}

func TestRegistryRejectsInvalidDefinition(t *testing.T) {
	reg := NewRegistry()
	def := addDefinition()
	def.Inputs[0].Type = Type("decimal")

	err := reg.Register(def, addFunc)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Register() error = %v, want ErrConfiguration", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", reg.Len())
	}

	if err := reg.Register(addDefinition(), nil); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Register(nil fn) error = %v, want ErrConfiguration", err)
	}
}

func TestRegistryLookupNotFound(t *testing.T) {
	_, err := NewRegistry().Lookup("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup() error = %v, want ErrNotFound", err)
	}
}

func TestRegistryListPreservesRegistrationOrder(t *testing.T) {
	reg := NewRegistry()
	names := []string{"zeta", "alpha", "mid"}
	for _, name := range names {
		def := addDefinition()
		def.Name = name
		reg.MustRegister(def, addFunc)
	}

	defs := reg.List()
	if len(defs) != len(names) {
		t.Fatalf("List() len = %d, want %d", len(defs), len(names))
	}
	for i, def := range defs {
		if def.Name != names[i] {
			t.Fatalf("List()[%d] = %q, want %q", i, def.Name, names[i])
		}
	}
	if got := reg.Names(); !reflect.DeepEqual(got, names) {
		t.Fatalf("Names() = %v, want %v", got, names)
	}
}

func TestRegistrySeal(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(addDefinition(), addFunc)
	reg.Seal()
	if !reg.Sealed() {
		t.Fatal("Sealed() = false, want true")
	}

	def := addDefinition()
	def.Name = "late"
	if err := reg.Register(def, addFunc); !errors.Is(err, ErrRegistrySealed) {
		t.Fatalf("Register() after Seal error = %v, want ErrRegistrySealed", err)
	}
}
