package tool

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// Type is a declared input or output type tag.
type Type string

// Supported type tags. The set is closed: anything else is rejected at
// registration time.
const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeObject  Type = "object"
	TypeArray   Type = "array"
)

var validTypes = map[Type]struct{}{
	TypeString:  {},
	TypeNumber:  {},
	TypeBoolean: {},
	TypeObject:  {},
	TypeArray:   {},
}

// Types returns the supported type tags in a stable order.
func Types() []Type {
	out := make([]Type, 0, len(validTypes))
	for t := range validTypes {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Valid reports whether t is one of the supported tags.
func (t Type) Valid() bool {
	_, ok := validTypes[t]
	return ok
}

// ParseType converts a raw tag into a Type.
func ParseType(raw string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", configurationError(nil, "unsupported type %q; allowed: %s", raw, joinTypes())
	}
	return t, nil
}

func joinTypes() string {
	types := Types()
	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, string(t))
	}
	return strings.Join(parts, ", ")
}

// ValidateValue checks value against a type tag. Objects and arrays are
// checked for shape only.
func ValidateValue(value any, t Type) error {
	return validateField("value", value, t)
}

func validateField(field string, value any, t Type) error {
	if matchesType(value, t) {
		return nil
	}
	return validationError(field, fmt.Sprintf("expected %s, got %s", t, describeValue(value)))
}

func matchesType(value any, t Type) bool {
	if value == nil {
		return false
	}
	switch t {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeNumber:
		return isNumber(value)
	case TypeObject:
		rv := reflect.ValueOf(value)
		return rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String
	case TypeArray:
		kind := reflect.ValueOf(value).Kind()
		return kind == reflect.Slice || kind == reflect.Array
	default:
		return false
	}
}

func isNumber(value any) bool {
	switch v := value.(type) {
	case bool:
		return false
	case json.Number:
		_, err := v.Float64()
		return err == nil
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

func describeValue(value any) string {
	if value == nil {
		return "null"
	}
	for _, t := range []Type{TypeString, TypeBoolean, TypeNumber, TypeObject, TypeArray} {
		if matchesType(value, t) {
			return string(t)
		}
	}
	return fmt.Sprintf("%T", value)
}
