package tool

import (
	"fmt"
	"slices"
)

const (
	openAPIVersion        = "3.0.3"
	defaultOpenAPITitle   = "ToolPilot"
	defaultOpenAPIVersion = "1.0"

	apiKeySchemeName = "ApiKeyAuth"
	oauthSchemeName  = "OAuth2"
)

// Schema is the subset of the OpenAPI schema object the exporter emits.
type Schema struct {
	Type        string             `json:"type,omitempty"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Default     any                `json:"default,omitempty"`
	Ref         string             `json:"$ref,omitempty"`
}

// schemaForType is the fixed tag to schema table. Arrays carry
// unconstrained items.
func schemaForType(t Type) *Schema {
	switch t {
	case TypeArray:
		return &Schema{Type: "array", Items: &Schema{}}
	case TypeString, TypeNumber, TypeBoolean, TypeObject:
		return &Schema{Type: string(t)}
	default:
		return &Schema{}
	}
}

// OpenAPIInfo overrides the document info block.
type OpenAPIInfo struct {
	Title       string `json:"title"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

// OpenAPIDocument is an OpenAPI 3.0 document describing POST /run/{name}
// for every registered tool.
type OpenAPIDocument struct {
	OpenAPI    string               `json:"openapi"`
	Info       OpenAPIInfo          `json:"info"`
	Paths      map[string]*PathItem `json:"paths"`
	Components OpenAPIComponents    `json:"components"`
}

// PathItem holds the operations of one path.
type PathItem struct {
	Post *Operation `json:"post,omitempty"`
}

// Operation is one OpenAPI operation.
type Operation struct {
	OperationID string                `json:"operationId"`
	Summary     string                `json:"summary,omitempty"`
	Description string                `json:"description,omitempty"`
	Tags        []string              `json:"tags,omitempty"`
	RequestBody *RequestBody          `json:"requestBody,omitempty"`
	Responses   map[string]*Response  `json:"responses"`
	Security    []map[string][]string `json:"security,omitempty"`
}

// RequestBody is an OpenAPI request body.
type RequestBody struct {
	Required bool                  `json:"required"`
	Content  map[string]*MediaType `json:"content"`
}

// Response is an OpenAPI response object.
type Response struct {
	Description string                `json:"description"`
	Content     map[string]*MediaType `json:"content,omitempty"`
}

// MediaType wraps a schema for one content type.
type MediaType struct {
	Schema *Schema `json:"schema"`
}

// OpenAPIComponents holds reusable schemas and security schemes.
type OpenAPIComponents struct {
	Schemas         map[string]*Schema         `json:"schemas"`
	SecuritySchemes map[string]*SecurityScheme `json:"securitySchemes,omitempty"`
}

// SecurityScheme is an OpenAPI security scheme.
type SecurityScheme struct {
	Type  string      `json:"type"`
	Name  string      `json:"name,omitempty"`
	In    string      `json:"in,omitempty"`
	Flows *OAuthFlows `json:"flows,omitempty"`
}

// OAuthFlows lists the supported OAuth2 flows.
type OAuthFlows struct {
	ClientCredentials *OAuthFlow `json:"clientCredentials,omitempty"`
}

// OAuthFlow is one OAuth2 flow.
type OAuthFlow struct {
	TokenURL string            `json:"tokenUrl"`
	Scopes   map[string]string `json:"scopes"`
}

// RunPath returns the execution path of a tool.
func RunPath(name string) string {
	return "/run/" + name
}

// OpenAPI builds an OpenAPI document for the registry.
func OpenAPI(reg *Registry, info OpenAPIInfo) *OpenAPIDocument {
	if info.Title == "" {
		info.Title = defaultOpenAPITitle
	}
	if info.Version == "" {
		info.Version = defaultOpenAPIVersion
	}

	doc := &OpenAPIDocument{
		OpenAPI: openAPIVersion,
		Info:    info,
		Paths:   make(map[string]*PathItem),
		Components: OpenAPIComponents{
			Schemas: map[string]*Schema{
				"Error": {
					Type: "object",
					Properties: map[string]*Schema{
						"error":   {Type: "string"},
						"code":    {Type: "string"},
						"field":   {Type: "string"},
						"call_id": {Type: "string"},
					},
					Required: []string{"error"},
				},
			},
		},
	}

	oauthScopes := make(map[string]string)
	for _, def := range reg.List() {
		doc.Paths[RunPath(def.Name)] = &PathItem{Post: operationFor(def)}

		if def.Auth == nil {
			continue
		}
		switch def.Auth.Kind {
		case AuthAPIKey:
			ensureSchemes(&doc.Components)
			doc.Components.SecuritySchemes[apiKeySchemeName] = &SecurityScheme{
				Type: "apiKey",
				Name: "X-API-Key",
				In:   "header",
			}
		case AuthOAuth:
			for _, scope := range def.Auth.Scopes {
				oauthScopes[scope] = fmt.Sprintf("Required by %s", def.Name)
			}
			ensureSchemes(&doc.Components)
			doc.Components.SecuritySchemes[oauthSchemeName] = &SecurityScheme{
				Type: "oauth2",
				Flows: &OAuthFlows{
					ClientCredentials: &OAuthFlow{TokenURL: "/oauth/token", Scopes: oauthScopes},
				},
			}
		}
	}
	return doc
}

func ensureSchemes(c *OpenAPIComponents) {
	if c.SecuritySchemes == nil {
		c.SecuritySchemes = make(map[string]*SecurityScheme)
	}
}

// InputSchema returns the JSON Schema object describing def's inputs.
func InputSchema(def Definition) *Schema {
	props := make(map[string]*Schema, len(def.Inputs))
	required := make([]string, 0, len(def.Inputs))
	for _, p := range def.Inputs {
		s := schemaForType(p.Type)
		s.Description = p.Description
		s.Default = p.Default
		props[p.Name] = s
		if p.Required {
			required = append(required, p.Name)
		}
	}
	inputs := &Schema{Type: "object", Properties: props}
	if len(required) > 0 {
		inputs.Required = required
	}
	return inputs
}

func operationFor(def Definition) *Operation {
	inputs := InputSchema(def)

	outputs := schemaForType(def.OutputType)
	outputs.Description = def.OutputDescription

	errorResponse := func(description string) *Response {
		return &Response{
			Description: description,
			Content: map[string]*MediaType{
				"application/json": {Schema: &Schema{Ref: "#/components/schemas/Error"}},
			},
		}
	}

	op := &Operation{
		OperationID: "run_" + def.Name,
		Summary:     def.Description,
		Tags:        slices.Clone(def.Tags),
		RequestBody: &RequestBody{
			Required: true,
			Content: map[string]*MediaType{
				"application/json": {Schema: &Schema{
					Type:       "object",
					Properties: map[string]*Schema{"inputs": inputs},
					Required:   []string{"inputs"},
				}},
			},
		},
		Responses: map[string]*Response{
			"200": {
				Description: "Tool output",
				Content: map[string]*MediaType{
					"application/json": {Schema: &Schema{
						Type: "object",
						Properties: map[string]*Schema{
							"outputs": outputs,
							"call_id": {Type: "string"},
						},
						Required: []string{"outputs"},
					}},
				},
			},
			"400": errorResponse("Invalid inputs"),
			"401": errorResponse("Missing or rejected credentials"),
			"404": errorResponse("Unknown tool"),
			"500": errorResponse("Tool execution failed"),
		},
	}

	if def.Auth != nil {
		switch def.Auth.Kind {
		case AuthAPIKey:
			op.Security = []map[string][]string{{apiKeySchemeName: {}}}
		case AuthOAuth:
			op.Security = []map[string][]string{{oauthSchemeName: append([]string{}, def.Auth.Scopes...)}}
		}
	}
	return op
}
