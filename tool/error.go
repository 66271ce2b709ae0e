package tool

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// ErrorCodeConfiguration is returned for invalid registrations and exporter settings.
	ErrorCodeConfiguration = "CONFIGURATION"
	// ErrorCodeNotFound is returned when a tool name is not registered.
	ErrorCodeNotFound = "NOT_FOUND"
	// ErrorCodeValidation is returned when caller inputs do not match the declared schema.
	ErrorCodeValidation = "VALIDATION_ERROR"
	// ErrorCodeUnauthorized is returned when a tool requires auth and none was supplied.
	ErrorCodeUnauthorized = "UNAUTHORIZED"
	// ErrorCodeExecution is returned when the callable fails or breaks its output contract.
	ErrorCodeExecution = "EXECUTION_ERROR"
)

var (
	// ErrConfiguration matches every registration-time or exporter configuration failure.
	ErrConfiguration = errors.New("tool: configuration error")
	// ErrDuplicateName indicates a second registration under an existing name.
	ErrDuplicateName = fmt.Errorf("%w: duplicate tool name", ErrConfiguration)
	// ErrRegistrySealed indicates a registration attempt after the registry was published.
	ErrRegistrySealed = fmt.Errorf("%w: registry is sealed", ErrConfiguration)
	// ErrNotFound indicates an unknown tool name.
	ErrNotFound = errors.New("tool: not found")
	// ErrValidation indicates invalid caller input.
	ErrValidation = errors.New("tool: validation failed")
	// ErrUnauthorized indicates a missing auth context for a tool that requires one.
	ErrUnauthorized = errors.New("tool: unauthorized")
	// ErrExecution indicates a tool callable failure.
	ErrExecution = errors.New("tool: execution failed")
)

// ToolError is a structured error that can flow across the pipeline, HTTP
// responses, and call events without losing its machine-readable code.
type ToolError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Details map[string]any `json:"details,omitempty"`

	kind  error
	cause error
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	msg := strings.TrimSpace(e.Message)
	switch {
	case code == "" && msg == "":
		return ErrorCodeExecution
	case code == "":
		return msg
	case msg == "":
		return code
	default:
		return fmt.Sprintf("%s: %s", code, msg)
	}
}

// Is reports whether target is the sentinel for this error's code.
func (e *ToolError) Is(target error) bool {
	if e == nil {
		return false
	}
	kind := e.kind
	if kind == nil {
		kind = sentinelForCode(e.Code)
	}
	return kind != nil && errors.Is(kind, target)
}

// Unwrap exposes the wrapped cause for errors.As. The cause never leaves the
// process: it is excluded from JSON and from call events.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func sentinelForCode(code string) error {
	switch code {
	case ErrorCodeConfiguration:
		return ErrConfiguration
	case ErrorCodeNotFound:
		return ErrNotFound
	case ErrorCodeValidation:
		return ErrValidation
	case ErrorCodeUnauthorized:
		return ErrUnauthorized
	case ErrorCodeExecution:
		return ErrExecution
	default:
		return nil
	}
}

func newToolError(code, message string, cause error) *ToolError {
	cleanMsg := strings.TrimSpace(message)
	if cleanMsg == "" && cause != nil {
		cleanMsg = cause.Error()
	}
	return &ToolError{
		Code:    code,
		Message: cleanMsg,
		kind:    sentinelForCode(code),
		cause:   cause,
	}
}

func configurationError(kind error, format string, args ...any) *ToolError {
	err := newToolError(ErrorCodeConfiguration, fmt.Sprintf(format, args...), nil)
	if kind != nil {
		err.kind = kind
	}
	return err
}

func notFoundError(name string) *ToolError {
	return newToolError(ErrorCodeNotFound, fmt.Sprintf("tool %q not found", name), nil)
}

func validationError(field, reason string) *ToolError {
	err := newToolError(ErrorCodeValidation, fmt.Sprintf("%s: %s", field, reason), nil)
	err.Field = field
	return err
}

func withDetails(err *ToolError, details map[string]any) *ToolError {
	if err == nil || len(details) == 0 {
		return err
	}
	if err.Details == nil {
		err.Details = make(map[string]any, len(details))
	}
	for key, value := range details {
		err.Details[key] = value
	}
	return err
}

// AsToolError extracts a *ToolError from err.
func AsToolError(err error) (*ToolError, bool) {
	if err == nil {
		return nil, false
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}

// ErrorCode returns the ToolError code carried by err, or "" for other errors.
func ErrorCode(err error) string {
	if toolErr, ok := AsToolError(err); ok && toolErr != nil {
		return toolErr.Code
	}
	return ""
}
