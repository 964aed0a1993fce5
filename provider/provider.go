// Package provider defines the uniform contract every LLM backend adapter
// implements (generate, stream, embed, cost lookup, liveness) together with
// the normalized request/response structures exchanged with the router. Each
// vendor adapter lives in its own subpackage and maps these structures onto
// its SDK without leaking vendor types upward.
package provider

import (
	"context"
	"encoding/json"
	"time"
)

// Role constants for conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn of a conversation. The ordered message slice in a
// Request is replayed verbatim to the provider, so order is semantically
// significant.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on tool-role replies
}

// ToolCall represents a function call request surfaced by a provider.
// Unified across vendors so downstream logic does not need per-provider
// branching.
type ToolCall struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolDefinition declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized generation input handed to an adapter.
type Request struct {
	Messages         []Message        `json:"messages"`
	Model            string           `json:"model,omitempty"`
	Temperature      *float64         `json:"temperature,omitempty"`
	MaxTokens        int              `json:"max_tokens,omitempty"`
	TopP             *float64         `json:"top_p,omitempty"`
	PresencePenalty  *float64         `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64         `json:"frequency_penalty,omitempty"`
	Tools            []ToolDefinition `json:"tools,omitempty"`
	ToolChoice       string           `json:"tool_choice,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the completed result of a Generate call.
type Response struct {
	Content      string        `json:"content"`
	ToolCalls    []ToolCall    `json:"tool_calls,omitempty"`
	Usage        TokenUsage    `json:"usage"`
	Cost         float64       `json:"cost"`
	Latency      time.Duration `json:"latency"`
	FinishReason string        `json:"finish_reason"` // "stop", "length", "tool_calls", ...
	Model        string        `json:"model"`
	Provider     string        `json:"provider"`
}

// Chunk is one element of a streaming response. The channel returned by
// Stream is finite: it is closed after the terminal chunk (FinishReason set)
// or after a chunk carrying Err.
type Chunk struct {
	Delta        string     `json:"delta,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Err          error      `json:"-"`
}

// Provider is the closed contract implemented by every vendor adapter. The
// router treats implementations as interchangeable black boxes.
type Provider interface {
	// Name returns the registry tag ("openai", "anthropic", "groq", ...).
	Name() string

	// Generate performs one blocking completion.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// Stream performs one completion delivering incremental chunks. The
	// returned channel is closed when the underlying call completes; it is
	// not restartable. Cancelling ctx closes the underlying call.
	Stream(ctx context.Context, req *Request) (<-chan Chunk, error)

	// Embed returns an embedding vector for the given text. Adapters for
	// vendors without an embeddings API return an error.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Cost returns the price in USD for the given model and token usage.
	// Pure price-table lookup, never touches the network.
	Cost(model string, usage TokenUsage) float64

	// Available reports whether the backend is currently reachable.
	Available(ctx context.Context) bool
}

// ModelPrice holds per-million-token USD rates for one model.
type ModelPrice struct {
	PromptPerMTok     float64
	CompletionPerMTok float64
}

// PriceTable maps model id prefixes to rates. Lookup matches the longest
// prefix so families ("gpt-4o", "gpt-4o-mini") can share or override rates.
type PriceTable map[string]ModelPrice

// Lookup resolves the price for a model id, falling back to def when no
// prefix matches.
func (t PriceTable) Lookup(model string, def ModelPrice) ModelPrice {
	best := ""
	price := def
	for prefix, p := range t {
		if len(prefix) > len(best) && hasPrefix(model, prefix) {
			best = prefix
			price = p
		}
	}
	return price
}

// CostFor computes the USD cost of a usage record against a resolved price.
func (p ModelPrice) CostFor(usage TokenUsage) float64 {
	return float64(usage.PromptTokens)/1e6*p.PromptPerMTok +
		float64(usage.CompletionTokens)/1e6*p.CompletionPerMTok
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
