package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceTableLookupLongestPrefix(t *testing.T) {
	table := PriceTable{
		"gpt-4o":      {PromptPerMTok: 2.50, CompletionPerMTok: 10.00},
		"gpt-4o-mini": {PromptPerMTok: 0.15, CompletionPerMTok: 0.60},
	}
	def := ModelPrice{PromptPerMTok: 1, CompletionPerMTok: 1}

	assert.Equal(t, 0.15, table.Lookup("gpt-4o-mini-2024-07-18", def).PromptPerMTok)
	assert.Equal(t, 2.50, table.Lookup("gpt-4o-2024-08-06", def).PromptPerMTok)
	assert.Equal(t, def, table.Lookup("unknown-model", def))
}

func TestModelPriceCostFor(t *testing.T) {
	p := ModelPrice{PromptPerMTok: 3.00, CompletionPerMTok: 15.00}
	cost := p.CostFor(TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 100_000})
	assert.InDelta(t, 3.00+1.50, cost, 1e-9)

	assert.Zero(t, ModelPrice{}.CostFor(TokenUsage{PromptTokens: 500, CompletionTokens: 500}))
}

func TestMockProviderScriptedReplies(t *testing.T) {
	m := NewMockProvider("mock", "first", "second")
	ctx := context.Background()

	r1, err := m.Generate(ctx, &Request{})
	require.NoError(t, err)
	r2, err := m.Generate(ctx, &Request{})
	require.NoError(t, err)
	r3, err := m.Generate(ctx, &Request{})
	require.NoError(t, err)

	assert.Equal(t, "first", r1.Content)
	assert.Equal(t, "second", r2.Content)
	assert.Equal(t, "second", r3.Content) // last reply repeats
	assert.Equal(t, 3, m.Calls())
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := NewMockProvider("openai")
	inner.FailWith(errors.New("backend down"))
	cb := NewCircuitBreaker(inner, BreakerConfig{MaxFailures: 2}, nil)
	ctx := context.Background()

	_, err := cb.Generate(ctx, &Request{})
	require.Error(t, err)
	_, err = cb.Generate(ctx, &Request{})
	require.Error(t, err)

	// Circuit is now open: the call fails fast without reaching the backend.
	calls := inner.Calls()
	_, err = cb.Generate(ctx, &Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, calls, inner.Calls())

	assert.False(t, cb.Available(ctx))
}

func TestCircuitBreakerClosedPassesThrough(t *testing.T) {
	inner := NewMockProvider("openai", "hello")
	cb := NewCircuitBreaker(inner, BreakerConfig{}, nil)
	ctx := context.Background()

	resp, err := cb.Generate(ctx, &Request{})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "openai", cb.Name())
	assert.True(t, cb.Available(ctx))

	vec, err := cb.Embed(ctx, "text")
	require.NoError(t, err)
	assert.NotEmpty(t, vec)
}
