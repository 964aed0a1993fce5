// Package tool implements the callable subsystem agents use for actions:
// a name-to-tool registry, sandboxed execution with per-call deadlines, and
// a bounded execution history for later inspection.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrelay/internal/util"
)

// Tool is a named callable an agent may invoke as an action.
//
// Implementations should:
//   - Provide clear, descriptive names (snake_case recommended) and
//     descriptions, both of which are rendered into agent prompts
//   - Define a minimal JSON schema for arguments
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description provided to the LLM
	// so it understands when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool. Arguments have already been validated against
	// the schema by the wrapper.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ValidationError is re-exported for callers inspecting argument failures.
type ValidationError = util.ValidationError

// Error represents a failure during tool execution with a code for
// categorization:
//
//	VALIDATION_ERROR -> schema / argument mismatch
//	EXECUTION_ERROR  -> the wrapped function returned an error
//	NOT_FOUND        -> no tool registered under the requested name
//	TIMEOUT          -> the per-call deadline elapsed first
type Error struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Func adapts a plain Go function into a Tool. It validates supplied
// arguments against the declared schema before invoking the function and
// normalizes failures into *Error values. A Func has no mutable state after
// construction and is safe for concurrent use.
type Func struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(ctx context.Context, args map[string]any) (any, error)
}

// NewFunc constructs a Func tool from explicit schema and function.
//
// Example:
//
//	sum := tool.NewFunc(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(ctx context.Context, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunc(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *Func {
	return &Func{name: name, description: description, parameters: parameters, fn: fn}
}

// Name returns the unique tool name used in registry lookups and prompts.
func (t *Func) Name() string { return t.name }

// Description returns the natural language description exposed to models.
func (t *Func) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *Func) Parameters() map[string]any { return t.parameters }

// Call validates args against the declared schema then invokes the wrapped
// function. Failures come back as *Error for uniform downstream handling.
func (t *Func) Call(ctx context.Context, args map[string]any) (any, error) {
	if err := util.ValidateArgs(args, t.parameters); err != nil {
		return nil, &Error{
			Tool:    t.name,
			Message: fmt.Sprintf("argument validation failed: %v", err),
			Code:    "VALIDATION_ERROR",
		}
	}
	result, err := t.fn(ctx, args)
	if err != nil {
		if toolErr, ok := err.(*Error); ok {
			return nil, toolErr
		}
		return nil, &Error{Tool: t.name, Message: err.Error(), Code: "EXECUTION_ERROR"}
	}
	return result, nil
}
