package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sumTool() Tool {
	return NewFunc(
		"calculate_sum",
		"Calculate the sum of two numbers",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []string{"a", "b"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		},
	)
}

func TestExecuteSuccess(t *testing.T) {
	e := NewExecutor(nil)
	e.Register(sumTool())

	res := e.Execute(context.Background(), "calculate_sum", map[string]any{"a": 2.0, "b": 3.0}, ExecOptions{})
	assert.True(t, res.Success)
	assert.Equal(t, 5.0, res.Data)
	assert.Empty(t, res.Error)
}

func TestExecuteNotFound(t *testing.T) {
	e := NewExecutor(nil)
	res := e.Execute(context.Background(), "missing", nil, ExecOptions{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "NOT_FOUND")

	// The miss is still recorded in history.
	hist := e.History()
	require.Len(t, hist, 1)
	assert.Equal(t, "missing", hist[0].Tool)
}

func TestExecuteValidation(t *testing.T) {
	e := NewExecutor(nil)
	e.Register(sumTool())

	res := e.Execute(context.Background(), "calculate_sum", map[string]any{"a": 2.0}, ExecOptions{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "VALIDATION_ERROR")
}

func TestExecuteToolError(t *testing.T) {
	e := NewExecutor(nil)
	e.Register(NewFunc("boom", "always fails", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("kaput")
		}))

	res := e.Execute(context.Background(), "boom", nil, ExecOptions{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "EXECUTION_ERROR")
	assert.Contains(t, res.Error, "kaput")
}

func TestExecuteTimeout(t *testing.T) {
	e := NewExecutor(nil)
	e.Register(NewFunc("hang", "never resolves", map[string]any{"type": "object"},
		func(ctx context.Context, _ map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}))

	start := time.Now()
	res := e.Execute(context.Background(), "hang", nil, ExecOptions{Timeout: 50 * time.Millisecond})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "TIMEOUT")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExecuteParentCancellation(t *testing.T) {
	e := NewExecutor(nil)
	e.Register(NewFunc("hang", "never resolves", map[string]any{"type": "object"},
		func(ctx context.Context, _ map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res := e.Execute(ctx, "hang", nil, ExecOptions{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "CANCELLED")
}

func TestExecuteSequenceFailFast(t *testing.T) {
	e := NewExecutor(nil)
	e.Register(sumTool())
	e.Register(NewFunc("boom", "always fails", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("kaput")
		}))

	results := e.ExecuteSequence(context.Background(), []Call{
		{Tool: "calculate_sum", Args: map[string]any{"a": 1.0, "b": 1.0}},
		{Tool: "boom"},
		{Tool: "calculate_sum", Args: map[string]any{"a": 2.0, "b": 2.0}},
	}, ExecOptions{})

	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
}

func TestExecuteParallelKeepsAll(t *testing.T) {
	e := NewExecutor(nil)
	e.Register(sumTool())

	results := e.ExecuteParallel(context.Background(), []Call{
		{Tool: "calculate_sum", Args: map[string]any{"a": 1.0, "b": 1.0}},
		{Tool: "missing"},
		{Tool: "calculate_sum", Args: map[string]any{"a": 2.0, "b": 2.0}},
	}, ExecOptions{})

	require.Len(t, results, 3)
	assert.Equal(t, 2.0, results[0].Data)
	assert.False(t, results[1].Success)
	assert.Equal(t, 4.0, results[2].Data)
}

func TestRegistry(t *testing.T) {
	e := NewExecutor(nil)
	e.Register(sumTool())

	got, ok := e.Get("calculate_sum")
	require.True(t, ok)
	assert.Equal(t, "calculate_sum", got.Name())
	assert.Len(t, e.Tools(), 1)

	// Re-registering a name silently replaces.
	e.Register(NewFunc("calculate_sum", "replacement", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (any, error) { return 0.0, nil }))
	got, _ = e.Get("calculate_sum")
	assert.Equal(t, "replacement", got.Description())

	e.Unregister("calculate_sum")
	_, ok = e.Get("calculate_sum")
	assert.False(t, ok)
	e.Unregister("calculate_sum") // no-op
}

func TestHistoryRing(t *testing.T) {
	e := NewExecutor(nil)
	e.Register(sumTool())

	for i := 0; i < historySize+10; i++ {
		e.Execute(context.Background(), "calculate_sum", map[string]any{"a": 1.0, "b": 1.0}, ExecOptions{})
	}
	assert.Len(t, e.History(), historySize)
}
