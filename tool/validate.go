package tool

import (
	"fmt"
	"regexp"
	"strings"
)

var toolNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// semverPattern is the SemVer 2.0.0 grammar.
var semverPattern = regexp.MustCompile(
	`^(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)` +
		`(?:-((?:0|[1-9][0-9]*|[0-9A-Za-z-]*[A-Za-z-][0-9A-Za-z-]*)` +
		`(?:\.(?:0|[1-9][0-9]*|[0-9A-Za-z-]*[A-Za-z-][0-9A-Za-z-]*))*))?` +
		`(?:\+([0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*))?$`,
)

// Severity defines diagnostic severity produced by definition checks.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is a structured validation finding.
type Diagnostic struct {
	Field    string   `json:"field,omitempty"`
	Code     string   `json:"code,omitempty"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// HasErrors returns true when at least one error-severity diagnostic exists.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidateDefinition checks a definition before registration. Unknown type
// tags are reported here so that malformed declarations never reach a call.
func ValidateDefinition(def Definition) []Diagnostic {
	diags := make([]Diagnostic, 0)
	addErr := func(field, code, format string, args ...any) {
		diags = append(diags, Diagnostic{
			Field:    field,
			Code:     code,
			Severity: SeverityError,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	if !toolNamePattern.MatchString(def.Name) {
		addErr("name", "INVALID_NAME", "tool name %q must match %s", def.Name, toolNamePattern.String())
	}
	if strings.TrimSpace(def.Description) == "" {
		diags = append(diags, Diagnostic{
			Field:    "description",
			Code:     "MISSING_DESCRIPTION",
			Severity: SeverityWarning,
			Message:  "description is empty; agents rely on it to pick tools",
		})
	}

	if v := strings.TrimSpace(def.Version); v != "" && !semverPattern.MatchString(v) {
		diags = append(diags, Diagnostic{
			Field:    "version",
			Code:     "INVALID_VERSION",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("version %q is not a semantic version (MAJOR.MINOR.PATCH)", def.Version),
		})
	}

	seen := make(map[string]struct{}, len(def.Inputs))
	for i, p := range def.Inputs {
		path := fmt.Sprintf("inputs[%d]", i)
		if strings.TrimSpace(p.Name) == "" {
			addErr(path+".name", "REQUIRED_NAME", "parameter name is required")
			continue
		}
		path = "inputs." + p.Name
		if _, dup := seen[p.Name]; dup {
			addErr(path, "DUPLICATE_PARAM", "parameter %q is declared more than once", p.Name)
		}
		seen[p.Name] = struct{}{}
		if !p.Type.Valid() {
			addErr(path+".type", "INVALID_TYPE", "unsupported type %q; allowed: %s", p.Type, joinTypes())
			continue
		}
		if p.Default != nil {
			if p.Required {
				addErr(path+".default", "DEFAULT_ON_REQUIRED", "required parameter cannot declare a default")
			} else if !matchesType(p.Default, p.Type) {
				addErr(path+".default", "INVALID_DEFAULT", "default %v does not match type %s", p.Default, p.Type)
			}
		}
	}

	if !def.OutputType.Valid() {
		addErr("output_type", "INVALID_TYPE", "unsupported output type %q; allowed: %s", def.OutputType, joinTypes())
	}

	if def.Auth != nil {
		switch {
		case !def.Auth.Kind.Valid():
			addErr("auth.type", "INVALID_AUTH", "unsupported auth type %q; allowed: none, api_key, oauth", def.Auth.Kind)
		case def.Auth.Kind == AuthNone && def.Auth.Required:
			addErr("auth.required", "INVALID_AUTH", "auth type none cannot be required")
		case def.Auth.Kind == AuthNone && len(def.Auth.Scopes) > 0:
			addErr("auth.scopes", "INVALID_AUTH", "auth type none cannot declare scopes")
		}
	}

	return diags
}

func diagnosticMessages(diags []Diagnostic) []string {
	out := make([]string, 0, len(diags))
	for _, d := range diags {
		if d.Severity != SeverityError {
			continue
		}
		out = append(out, fmt.Sprintf("%s: %s", d.Field, d.Message))
	}
	return out
}
