// Package openaicompat implements provider.Provider on top of the OpenAI
// Chat Completions API (including streaming + function/tool calling). Because
// Groq, OpenRouter, Ollama and Google's Gemini endpoint all speak the same
// wire protocol, one adapter instantiated with a vendor-specific base URL and
// price table covers every OpenAI-compatible backend.
package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/agentrelay/provider"
)

// Known base URLs for OpenAI-compatible vendors.
const (
	GroqBaseURL       = "https://api.groq.com/openai/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	OllamaBaseURL     = "http://localhost:11434/v1"
	GoogleBaseURL     = "https://generativelanguage.googleapis.com/v1beta/openai"
)

// Options configure the adapter. Name becomes the registry tag; BaseURL
// empty means the official OpenAI endpoint.
type Options struct {
	Name         string
	APIKey       string
	BaseURL      string
	DefaultModel string
	EmbedModel   string // empty disables Embed
	Prices       provider.PriceTable
	DefaultPrice provider.ModelPrice
}

// Adapter wraps an OpenAI-compatible Chat Completions backend behind the
// generic provider.Provider interface.
type Adapter struct {
	client openai.Client
	opts   Options
}

// New creates an adapter from options.
func New(optFns ...func(o *Options)) *Adapter {
	opts := Options{
		Name:         "openai",
		DefaultModel: openai.ChatModelGPT4oMini,
		EmbedModel:   string(openai.EmbeddingModelTextEmbedding3Small),
		Prices:       DefaultPrices,
		DefaultPrice: provider.ModelPrice{PromptPerMTok: 1.0, CompletionPerMTok: 3.0},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	clientOpts := []option.RequestOption{}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &Adapter{client: openai.NewClient(clientOpts...), opts: opts}
}

// DefaultPrices covers the common OpenAI model families (USD per 1M tokens).
var DefaultPrices = provider.PriceTable{
	"gpt-4o":      {PromptPerMTok: 2.50, CompletionPerMTok: 10.00},
	"gpt-4o-mini": {PromptPerMTok: 0.15, CompletionPerMTok: 0.60},
	"gpt-4.1":     {PromptPerMTok: 2.00, CompletionPerMTok: 8.00},
	"o1":          {PromptPerMTok: 15.00, CompletionPerMTok: 60.00},
	"o3-mini":     {PromptPerMTok: 1.10, CompletionPerMTok: 4.40},
}

// Name implements provider.Provider.
func (a *Adapter) Name() string { return a.opts.Name }

func (a *Adapter) model(req *provider.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return a.opts.DefaultModel
}

// buildMessages converts normalized messages into OpenAI chat messages,
// replaying order verbatim.
func buildMessages(msgs []provider.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case provider.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case provider.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				calls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{Role: "assistant", ToolCalls: calls},
			})
		case provider.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// buildParams assembles the request parameters including tool definitions.
func (a *Adapter) buildParams(req *provider.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages: buildMessages(req.Messages),
		Model:    a.model(req),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.PresencePenalty != nil {
		params.PresencePenalty = openai.Float(*req.PresencePenalty)
	}
	if req.FrequencyPenalty != nil {
		params.FrequencyPenalty = openai.Float(*req.FrequencyPenalty)
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
		for i, td := range req.Tools {
			tools[i] = openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        td.Name,
					Description: openai.String(td.Description),
					Parameters:  td.Parameters,
				},
			}
		}
		params.Tools = tools
	}
	return params
}

// Generate implements provider.Provider.
func (a *Adapter) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	start := time.Now()
	resp, err := a.client.Chat.Completions.New(ctx, a.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("%s api error: %w", a.opts.Name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: no choices returned", a.opts.Name)
	}

	ch0 := resp.Choices[0]
	toolCalls := make([]provider.ToolCall, 0, len(ch0.Message.ToolCalls))
	for _, tc := range ch0.Message.ToolCalls {
		toolCalls = append(toolCalls, provider.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	usage := provider.TokenUsage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	return &provider.Response{
		Content:      ch0.Message.Content,
		ToolCalls:    toolCalls,
		Usage:        usage,
		Cost:         a.Cost(resp.Model, usage),
		Latency:      time.Since(start),
		FinishReason: ch0.FinishReason,
		Model:        resp.Model,
		Provider:     a.opts.Name,
	}, nil
}

// aggCall aggregates partial tool call streaming deltas (id, name, arguments)
// so complete calls can be reconstructed at the terminal chunk.
type aggCall struct{ id, name, args string }

// Stream implements provider.Provider. The returned channel closes once the
// backend emits its finish reason or the context is cancelled.
func (a *Adapter) Stream(ctx context.Context, req *provider.Request) (<-chan provider.Chunk, error) {
	stream := a.client.Chat.Completions.NewStreaming(ctx, a.buildParams(req))
	out := make(chan provider.Chunk, 32)

	go func() {
		defer close(out)
		toolAgg := map[int64]*aggCall{}
		for stream.Next() {
			ck := stream.Current()
			for _, ch := range ck.Choices {
				if ch.Delta.Content != "" {
					select {
					case out <- provider.Chunk{Delta: ch.Delta.Content}:
					case <-ctx.Done():
						return
					}
				}
				for _, tc := range ch.Delta.ToolCalls {
					ac, ok := toolAgg[tc.Index]
					if !ok {
						ac = &aggCall{}
						toolAgg[tc.Index] = ac
					}
					if tc.ID != "" {
						ac.id = tc.ID
					}
					if tc.Function.Name != "" {
						ac.name = tc.Function.Name
					}
					ac.args += tc.Function.Arguments
				}
				if ch.FinishReason != "" {
					final := provider.Chunk{FinishReason: ch.FinishReason}
					for _, ac := range toolAgg {
						final.ToolCalls = append(final.ToolCalls, provider.ToolCall{
							ID:        ac.id,
							Name:      ac.name,
							Arguments: json.RawMessage(ac.args),
						})
					}
					select {
					case out <- final:
					case <-ctx.Done():
					}
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- provider.Chunk{Err: fmt.Errorf("%s streaming error: %w", a.opts.Name, err)}
		}
	}()

	return out, nil
}

// Embed implements provider.Provider using the embeddings endpoint.
func (a *Adapter) Embed(ctx context.Context, text string) ([]float32, error) {
	if a.opts.EmbedModel == "" {
		return nil, fmt.Errorf("%s: embeddings not configured", a.opts.Name)
	}
	resp, err := a.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(a.opts.EmbedModel),
	})
	if err != nil {
		return nil, fmt.Errorf("%s embeddings error: %w", a.opts.Name, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%s: empty embedding response", a.opts.Name)
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Cost implements provider.Provider via the static price table.
func (a *Adapter) Cost(model string, usage provider.TokenUsage) float64 {
	return a.opts.Prices.Lookup(model, a.opts.DefaultPrice).CostFor(usage)
}

// Available implements provider.Provider by listing models with a short
// deadline. Every OpenAI-compatible vendor serves the models endpoint.
func (a *Adapter) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := a.client.Models.List(probeCtx)
	return err == nil
}
