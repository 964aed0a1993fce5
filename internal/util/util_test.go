package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	assert.NotEqual(t, NewID(), NewID())
	assert.Len(t, NewID(), 36)
}

func TestValidateArgsRequired(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []string{"a"},
	}
	require.NoError(t, ValidateArgs(map[string]any{"a": 1.0}, schema))

	err := ValidateArgs(map[string]any{}, schema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"a"`)

	// required as []any, the shape a JSON round trip produces
	schema["required"] = []any{"a"}
	require.Error(t, ValidateArgs(map[string]any{}, schema))
}

func TestValidateArgsTypes(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"n": map[string]any{"type": "number"},
			"s": map[string]any{"type": "string"},
			"i": map[string]any{"type": "integer"},
			"b": map[string]any{"type": "boolean"},
		},
	}
	require.NoError(t, ValidateArgs(map[string]any{"n": 1.5, "s": "x", "i": 2.0, "b": true}, schema))
	require.Error(t, ValidateArgs(map[string]any{"n": "not a number"}, schema))
	require.Error(t, ValidateArgs(map[string]any{"i": 2.5}, schema))

	// Undeclared args pass through untouched.
	require.NoError(t, ValidateArgs(map[string]any{"extra": struct{}{}}, schema))
}

func TestValidateArgsNilSchema(t *testing.T) {
	require.NoError(t, ValidateArgs(map[string]any{"anything": 1}, nil))
}
