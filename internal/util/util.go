// Package util holds small shared helpers (id generation, argument
// validation) used across agentrelay packages.
package util

import (
	"fmt"

	"github.com/google/uuid"
)

// NewID returns a new random identifier (UUID v4 string).
func NewID() string {
	return uuid.NewString()
}

// ValidationError reports one failed argument check.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %q: %s", e.Field, e.Message)
}

// ValidateArgs checks args against a minimal JSON-Schema-like map: required
// fields must be present and properties with a declared type must match.
// Only the subset of JSON Schema used by tool definitions is understood.
func ValidateArgs(args map[string]any, schema map[string]any) error {
	if schema == nil {
		return nil
	}
	for _, field := range requiredFields(schema["required"]) {
		if _, present := args[field]; !present {
			return &ValidationError{Field: field, Message: "required field missing"}
		}
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	for name, raw := range args {
		propSchema, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		declared, ok := propSchema["type"].(string)
		if !ok || raw == nil {
			continue
		}
		if !matchesType(raw, declared) {
			return &ValidationError{
				Field:   name,
				Value:   raw,
				Message: fmt.Sprintf("expected type %s, got %T", declared, raw),
			}
		}
	}
	return nil
}

// requiredFields accepts both []string (hand-written schemas) and []any
// (schemas that round-tripped through JSON).
func requiredFields(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func matchesType(value any, declared string) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "integer":
		switch v := value.(type) {
		case int, int64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	}
	return true
}
