// Package irisadapter connects the tool registry to iris tool calling.
//
// Registered tools can be handed to an iris agent as tools.Tool values, and
// existing iris tools can be imported into a registry so they are served,
// validated and logged like any other tool.
package irisadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/petal-labs/iris/tools"

	"github.com/petal-labs/toolpilot/tool"
)

// MetadataCaller is the call metadata key set on invocations made through
// an iris agent.
const MetadataCaller = "caller"

// ToolAdapter exposes one registered tool as an iris tools.Tool. Calls go
// through the pipeline.
type ToolAdapter struct {
	pipeline *tool.Pipeline
	def      tool.Definition
	schema   json.RawMessage
}

// NewToolAdapter adapts the tool registered under name.
func NewToolAdapter(p *tool.Pipeline, name string) (*ToolAdapter, error) {
	def, err := p.Registry().Lookup(name)
	if err != nil {
		return nil, err
	}
	schema, err := json.Marshal(tool.InputSchema(def))
	if err != nil {
		return nil, fmt.Errorf("irisadapter: marshal schema for %s: %w", name, err)
	}
	return &ToolAdapter{pipeline: p, def: def, schema: schema}, nil
}

// Tools adapts every registered tool, in registration order.
func Tools(p *tool.Pipeline) ([]tools.Tool, error) {
	names := p.Registry().Names()
	out := make([]tools.Tool, 0, len(names))
	for _, name := range names {
		a, err := NewToolAdapter(p, name)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Name returns the tool's name.
func (a *ToolAdapter) Name() string {
	return a.def.Name
}

// Description returns the tool's description.
func (a *ToolAdapter) Description() string {
	return a.def.Description
}

// Schema returns the JSON Schema of the tool's inputs.
func (a *ToolAdapter) Schema() tools.ToolSchema {
	return tools.ToolSchema{JSONSchema: a.schema}
}

// Call decodes args and invokes the tool. Non-success results are returned
// as errors that match the tool package sentinels.
func (a *ToolAdapter) Call(ctx context.Context, args json.RawMessage) (any, error) {
	inputs := map[string]any{}
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &inputs); err != nil {
			return nil, fmt.Errorf("irisadapter: decode arguments for %s: %w", a.def.Name, err)
		}
	}

	md := maps.Clone(tool.MetadataFromContext(ctx))
	if md == nil {
		md = map[string]any{}
	}
	if _, ok := md[MetadataCaller]; !ok {
		md[MetadataCaller] = "iris"
	}

	res := a.pipeline.Invoke(tool.WithMetadata(ctx, md), a.def.Name, inputs)
	if !res.OK() {
		return nil, res.Err()
	}
	return res.Output, nil
}

// ImportOptions fills the parts of a definition an iris tool does not
// describe.
type ImportOptions struct {
	// OutputType defaults to object.
	OutputType        tool.Type
	OutputDescription string
	Version           string
	Tags              []string
	Auth              *tool.AuthSpec
}

// Import registers an iris tool. Its JSON Schema properties become inputs:
// required properties first in schema order, then optional ones by name.
func Import(reg *tool.Registry, t tools.Tool, opts ImportOptions) error {
	inputs, err := paramsFromSchema(t.Schema().JSONSchema)
	if err != nil {
		return fmt.Errorf("irisadapter: import %s: %w", t.Name(), err)
	}
	outputType := opts.OutputType
	if outputType == "" {
		outputType = tool.TypeObject
	}

	def := tool.Definition{
		Name:              t.Name(),
		Description:       t.Description(),
		Inputs:            inputs,
		OutputType:        outputType,
		OutputDescription: opts.OutputDescription,
		Version:           opts.Version,
		Tags:              opts.Tags,
		Auth:              opts.Auth,
	}
	return reg.Register(def, callFunc(t, outputType))
}

func callFunc(t tools.Tool, outputType tool.Type) tool.Func {
	return func(ctx context.Context, inputs map[string]any) (any, error) {
		args, err := json.Marshal(inputs)
		if err != nil {
			return nil, fmt.Errorf("marshal arguments: %w", err)
		}
		result, err := t.Call(ctx, args)
		if err != nil {
			return nil, err
		}
		return normalizeResult(result, outputType), nil
	}
}

// normalizeResult converts structs and other Go values into the JSON shapes
// the output contract checks against. Values are never coerced into the
// declared type: a scalar returned for an object output reaches the pipeline
// unchanged and fails its output contract there.
func normalizeResult(result any, outputType tool.Type) any {
	if result == nil {
		if outputType == tool.TypeObject {
			return map[string]any{}
		}
		return nil
	}
	if _, ok := result.(map[string]any); ok {
		return result
	}

	data, err := json.Marshal(result)
	if err != nil {
		return result
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return result
	}
	return v
}

type jsonSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]propertySchema `json:"properties"`
	Required   []string                  `json:"required"`
}

type propertySchema struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default"`
}

func paramsFromSchema(raw json.RawMessage) ([]tool.Param, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var schema jsonSchema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if schema.Type != "" && schema.Type != "object" {
		return nil, fmt.Errorf("schema type %q is not object", schema.Type)
	}

	required := make(map[string]bool, len(schema.Required))
	params := make([]tool.Param, 0, len(schema.Properties))
	for _, name := range schema.Required {
		prop, ok := schema.Properties[name]
		if !ok {
			return nil, fmt.Errorf("required property %q is not declared", name)
		}
		p, err := paramFromProperty(name, prop, true)
		if err != nil {
			return nil, err
		}
		required[name] = true
		params = append(params, p)
	}

	optional := slices.Sorted(maps.Keys(schema.Properties))
	for _, name := range optional {
		if required[name] {
			continue
		}
		p, err := paramFromProperty(name, schema.Properties[name], false)
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return params, nil
}

func paramFromProperty(name string, prop propertySchema, required bool) (tool.Param, error) {
	raw := prop.Type
	if raw == "integer" {
		raw = string(tool.TypeNumber)
	}
	t, err := tool.ParseType(raw)
	if err != nil {
		return tool.Param{}, fmt.Errorf("property %q: %w", name, err)
	}
	if required {
		return tool.Input(name, t, prop.Description), nil
	}
	return tool.OptionalInput(name, t, prop.Description, prop.Default), nil
}
