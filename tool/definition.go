package tool

import (
	"context"
	"reflect"
	"slices"
)

// Func is the callable bound to a tool definition. inputs holds only the
// declared parameters, already validated.
type Func func(ctx context.Context, inputs map[string]any) (any, error)

// AuthKind is the declared authentication mechanism for a tool.
type AuthKind string

const (
	AuthNone   AuthKind = "none"
	AuthAPIKey AuthKind = "api_key"
	AuthOAuth  AuthKind = "oauth"
)

// Valid reports whether k is a supported auth kind.
func (k AuthKind) Valid() bool {
	switch k {
	case AuthNone, AuthAPIKey, AuthOAuth:
		return true
	default:
		return false
	}
}

// AuthSpec declares a tool's auth requirement. Enforcement belongs to the
// serving layer; the pipeline only checks that an auth context is present.
type AuthSpec struct {
	Kind     AuthKind `json:"type"`
	Required bool     `json:"required"`
	Scopes   []string `json:"scopes,omitempty"`
}

// Param declares one input parameter.
type Param struct {
	Name        string `json:"name"`
	Type        Type   `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// Input returns a required parameter declaration.
func Input(name string, t Type, description string) Param {
	return Param{Name: name, Type: t, Description: description, Required: true}
}

// OptionalInput returns an optional parameter with a default. A nil default
// leaves the parameter absent when the caller omits it.
func OptionalInput(name string, t Type, description string, def any) Param {
	return Param{Name: name, Type: t, Description: description, Default: def}
}

// Definition describes a tool. It is copied on registration and on every
// read, so callers can never mutate a registered definition.
type Definition struct {
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	Inputs            []Param   `json:"inputs"`
	OutputType        Type      `json:"output_type"`
	OutputDescription string    `json:"output_description,omitempty"`
	Version           string    `json:"version,omitempty"`
	Tags              []string  `json:"tags,omitempty"`
	Auth              *AuthSpec `json:"auth,omitempty"`
}

// Param returns the named input declaration.
func (d Definition) Param(name string) (Param, bool) {
	for _, p := range d.Inputs {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// RequiresAuth reports whether callers must present an auth context.
func (d Definition) RequiresAuth() bool {
	return d.Auth != nil && d.Auth.Required
}

func cloneDefinition(in Definition) Definition {
	out := in
	if in.Inputs != nil {
		out.Inputs = make([]Param, len(in.Inputs))
		for i, p := range in.Inputs {
			p.Default = cloneValue(p.Default)
			out.Inputs[i] = p
		}
	}
	out.Tags = slices.Clone(in.Tags)
	if in.Auth != nil {
		auth := *in.Auth
		auth.Scopes = slices.Clone(in.Auth.Scopes)
		out.Auth = &auth
	}
	return out
}

// cloneValue deep-copies maps and slices so that object and array defaults
// are never shared between the registry, its readers and invocations.
func cloneValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = cloneValue(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = cloneValue(x)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), clonedElem(iter.Value(), rv.Type().Elem()))
		}
		return out.Interface()
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(clonedElem(rv.Index(i), rv.Type().Elem()))
		}
		return out.Interface()
	default:
		return v
	}
}

func clonedElem(v reflect.Value, elem reflect.Type) reflect.Value {
	c := cloneValue(v.Interface())
	if c == nil {
		return reflect.Zero(elem)
	}
	return reflect.ValueOf(c)
}
