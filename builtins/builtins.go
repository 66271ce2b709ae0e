// Package builtins provides the tools that ship with toolpilot.
package builtins

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/toolpilot/tool"
)

const builtinVersion = "1.0.0"

// maxFetchBody caps the response body returned by http_fetch.
const maxFetchBody = 1 << 20

type builtin struct {
	def tool.Definition
	fn  tool.Func
}

// Options configures the built-in tool set.
type Options struct {
	// HTTPClient is used by http_fetch. Defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	// Now is used by create_expense. Defaults to time.Now.
	Now func() time.Time
}

func builtinTools(opts Options) []builtin {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return []builtin{
		{def: addDefinition(), fn: add},
		{def: createExpenseDefinition(), fn: createExpense(now)},
		{def: echoDefinition(), fn: echo},
		{def: templateRenderDefinition(), fn: templateRender},
		{def: httpFetchDefinition(), fn: httpFetch(client)},
	}
}

// Register adds every built-in tool to reg in a fixed order.
func Register(reg *tool.Registry) error {
	return RegisterWith(reg, Options{})
}

// RegisterWith is Register with explicit options.
func RegisterWith(reg *tool.Registry, opts Options) error {
	for _, b := range builtinTools(opts) {
		if err := reg.Register(b.def, b.fn); err != nil {
			return fmt.Errorf("builtins: register %s: %w", b.def.Name, err)
		}
	}
	return nil
}

// Names returns the built-in tool names in registration order.
func Names() []string {
	tools := builtinTools(Options{})
	names := make([]string, 0, len(tools))
	for _, b := range tools {
		names = append(names, b.def.Name)
	}
	return names
}

func addDefinition() tool.Definition {
	return tool.Definition{
		Name:        "add",
		Description: "Add two numbers.",
		Inputs: []tool.Param{
			tool.Input("x", tool.TypeNumber, "First operand."),
			tool.Input("y", tool.TypeNumber, "Second operand."),
		},
		OutputType:        tool.TypeNumber,
		OutputDescription: "The sum of x and y.",
		Version:           builtinVersion,
		Tags:              []string{"math"},
	}
}

func add(_ context.Context, inputs map[string]any) (any, error) {
	x, err := toFloat(inputs["x"])
	if err != nil {
		return nil, fmt.Errorf("x: %w", err)
	}
	y, err := toFloat(inputs["y"])
	if err != nil {
		return nil, fmt.Errorf("y: %w", err)
	}
	return x + y, nil
}

func createExpenseDefinition() tool.Definition {
	return tool.Definition{
		Name:        "create_expense",
		Description: "Creates an expense in the system.",
		Inputs: []tool.Param{
			tool.Input("amount", tool.TypeNumber, "The expense amount."),
			tool.Input("category", tool.TypeString, "Category of the expense, e.g. travel, food, office."),
			tool.Input("description", tool.TypeString, "Detailed description of the expense."),
			tool.Input("date", tool.TypeString, "Date of the expense in YYYY-MM-DD format."),
		},
		OutputType:        tool.TypeObject,
		OutputDescription: "The created expense object.",
		Version:           "1.0.0",
		Tags:              []string{"finance"},
		Auth: &tool.AuthSpec{
			Kind:     tool.AuthAPIKey,
			Required: true,
			Scopes:   []string{"expenses:write"},
		},
	}
}

func createExpense(now func() time.Time) tool.Func {
	return func(_ context.Context, inputs map[string]any) (any, error) {
		date, _ := inputs["date"].(string)
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			return nil, fmt.Errorf("invalid date format %q; use YYYY-MM-DD", date)
		}
		amount, err := toFloat(inputs["amount"])
		if err != nil {
			return nil, fmt.Errorf("amount: %w", err)
		}
		if amount <= 0 {
			return nil, fmt.Errorf("amount must be positive, got %v", amount)
		}

		return map[string]any{
			"id":          "exp_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12],
			"amount":      amount,
			"category":    inputs["category"],
			"description": inputs["description"],
			"date":        date,
			"created_at":  now().UTC().Format(time.RFC3339),
			"status":      "pending",
		}, nil
	}
}

func echoDefinition() tool.Definition {
	return tool.Definition{
		Name:        "echo",
		Description: "Return the given message unchanged.",
		Inputs: []tool.Param{
			tool.Input("message", tool.TypeString, "Text to echo."),
		},
		OutputType:        tool.TypeString,
		OutputDescription: "The same message.",
		Version:           builtinVersion,
		Tags:              []string{"debug"},
	}
}

func echo(_ context.Context, inputs map[string]any) (any, error) {
	return inputs["message"], nil
}

func templateRenderDefinition() tool.Definition {
	return tool.Definition{
		Name:        "template_render",
		Description: "Render a Go template string with provided variables.",
		Inputs: []tool.Param{
			tool.Input("template", tool.TypeString, "Template body in text/template syntax."),
			tool.OptionalInput("values", tool.TypeObject, "Optional object of template values.", nil),
		},
		OutputType:        tool.TypeString,
		OutputDescription: "The rendered text.",
		Version:           builtinVersion,
		Tags:              []string{"text"},
	}
}

func templateRender(_ context.Context, inputs map[string]any) (any, error) {
	body, _ := inputs["template"].(string)
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("template_render: template input is required")
	}

	values := make(map[string]any)
	if explicit, ok := inputs["values"].(map[string]any); ok {
		for k, v := range explicit {
			values[k] = v
		}
	}

	tpl, err := template.New("template_render").Option("missingkey=zero").Parse(body)
	if err != nil {
		return nil, fmt.Errorf("template_render: parse template: %w", err)
	}

	var out bytes.Buffer
	if err := tpl.Execute(&out, values); err != nil {
		return nil, fmt.Errorf("template_render: execute template: %w", err)
	}
	return out.String(), nil
}

func httpFetchDefinition() tool.Definition {
	return tool.Definition{
		Name:        "http_fetch",
		Description: "Fetch a URL over HTTP(S) and return status, headers and body.",
		Inputs: []tool.Param{
			tool.Input("url", tool.TypeString, "Absolute http or https URL."),
			tool.OptionalInput("method", tool.TypeString, "HTTP method.", http.MethodGet),
			tool.OptionalInput("body", tool.TypeString, "Request body.", nil),
			tool.OptionalInput("headers", tool.TypeObject, "Request headers.", nil),
		},
		OutputType:        tool.TypeObject,
		OutputDescription: "status_code, headers and body of the response.",
		Version:           builtinVersion,
		Tags:              []string{"network"},
	}
}

func httpFetch(client *http.Client) tool.Func {
	return func(ctx context.Context, inputs map[string]any) (any, error) {
		rawURL, _ := inputs["url"].(string)
		if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
			return nil, fmt.Errorf("http_fetch: url must start with http:// or https://")
		}

		method := http.MethodGet
		if m, ok := inputs["method"].(string); ok && strings.TrimSpace(m) != "" {
			method = strings.ToUpper(strings.TrimSpace(m))
		}

		var bodyReader io.Reader
		if body, ok := inputs["body"].(string); ok && body != "" {
			bodyReader = strings.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("http_fetch: build request: %w", err)
		}
		if headers, ok := inputs["headers"].(map[string]any); ok {
			for key, value := range headers {
				req.Header.Set(key, fmt.Sprint(value))
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http_fetch: request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
		if err != nil {
			return nil, fmt.Errorf("http_fetch: read response: %w", err)
		}

		headers := make(map[string]any, len(resp.Header))
		for key, values := range resp.Header {
			headers[key] = strings.Join(values, ", ")
		}

		return map[string]any{
			"status_code": resp.StatusCode,
			"body":        string(respBody),
			"headers":     headers,
		}, nil
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case interface{ Float64() (float64, error) }:
		return n.Float64()
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}
