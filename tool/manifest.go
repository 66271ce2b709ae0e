package tool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ManifestFormat selects the exporter output shape.
type ManifestFormat string

const (
	FormatJSON    ManifestFormat = "json"
	FormatOpenAPI ManifestFormat = "openapi"
)

// ParseManifestFormat validates a raw format value.
func ParseManifestFormat(raw string) (ManifestFormat, error) {
	switch f := ManifestFormat(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatJSON, FormatOpenAPI:
		return f, nil
	default:
		return "", configurationError(nil, "unsupported manifest format %q; allowed: json, openapi", raw)
	}
}

// ManifestEntry is the flattened, serialized form of one Definition.
type ManifestEntry struct {
	Name              string         `json:"name"`
	Description       string         `json:"description"`
	Inputs            ManifestInputs `json:"inputs"`
	OutputType        Type           `json:"output_type"`
	OutputDescription string         `json:"output_description"`
	Auth              *AuthSpec      `json:"auth"`
	Version           string         `json:"version"`
	Tags              []string       `json:"tags"`
}

// ManifestInput is one parameter name and its type tag.
type ManifestInput struct {
	Name string
	Type Type
}

// ManifestInputs is an ordered parameter → type mapping. It serializes as a
// JSON object whose key order follows declaration order.
type ManifestInputs []ManifestInput

// MarshalJSON writes the inputs as an ordered JSON object.
func (m ManifestInputs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, in := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(in.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(string(in.Type))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object while keeping its key order.
func (m *ManifestInputs) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*m = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("tool: manifest inputs must be an object")
	}

	out := make(ManifestInputs, 0)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("tool: manifest input key must be a string")
		}
		var typeName string
		if err := dec.Decode(&typeName); err != nil {
			return fmt.Errorf("tool: manifest input %q: %w", key, err)
		}
		out = append(out, ManifestInput{Name: key, Type: Type(typeName)})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}

// ManifestDocument wraps the JSON manifest with a count for HTTP responses.
type ManifestDocument struct {
	TotalTools int             `json:"total_tools"`
	Tools      []ManifestEntry `json:"tools"`
}

// NewManifestEntry flattens a definition. It shares slices with def; pass a
// copy obtained from Registry.Lookup or Registry.List.
func NewManifestEntry(def Definition) ManifestEntry {
	inputs := make(ManifestInputs, 0, len(def.Inputs))
	for _, p := range def.Inputs {
		inputs = append(inputs, ManifestInput{Name: p.Name, Type: p.Type})
	}
	tags := def.Tags
	if tags == nil {
		tags = []string{}
	}
	return ManifestEntry{
		Name:              def.Name,
		Description:       def.Description,
		Inputs:            inputs,
		OutputType:        def.OutputType,
		OutputDescription: def.OutputDescription,
		Auth:              def.Auth,
		Version:           def.Version,
		Tags:              tags,
	}
}

// JSONManifest returns the registry as manifest entries in registration order.
func JSONManifest(reg *Registry) []ManifestEntry {
	defs := reg.List()
	entries := make([]ManifestEntry, 0, len(defs))
	for _, def := range defs {
		entries = append(entries, NewManifestEntry(def))
	}
	return entries
}

// Export serializes the registry in the given format. FormatJSON yields
// []ManifestEntry and FormatOpenAPI yields *OpenAPIDocument.
func Export(reg *Registry, format ManifestFormat) (any, error) {
	switch format {
	case FormatJSON:
		return JSONManifest(reg), nil
	case FormatOpenAPI:
		return OpenAPI(reg, OpenAPIInfo{}), nil
	default:
		return nil, configurationError(nil, "unsupported manifest format %q; allowed: json, openapi", format)
	}
}

// WriteManifest exports the registry and writes it as indented JSON.
func WriteManifest(w io.Writer, reg *Registry, format ManifestFormat) error {
	doc, err := Export(reg, format)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("tool: encode manifest: %w", err)
	}
	return nil
}
