// Package anthropic implements provider.Provider on top of the Anthropic
// Messages API (streaming + tool use). Anthropic has no embeddings endpoint,
// so Embed reports unsupported and the router falls back to another backend.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/agentrelay/provider"
)

// Options configure the Anthropic adapter.
type Options struct {
	APIKey       string
	DefaultModel anthropic.Model
	MaxTokens    int64
	Prices       provider.PriceTable
	DefaultPrice provider.ModelPrice
}

// Adapter wraps the Anthropic Messages API behind provider.Provider.
type Adapter struct {
	client anthropic.Client
	opts   Options
}

// New creates an adapter using the official client.
func New(optFns ...func(o *Options)) *Adapter {
	opts := Options{
		DefaultModel: anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens:    4096,
		Prices:       DefaultPrices,
		DefaultPrice: provider.ModelPrice{PromptPerMTok: 3.00, CompletionPerMTok: 15.00},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	return &Adapter{client: anthropic.NewClient(clientOpts...), opts: opts}
}

// DefaultPrices covers the Claude model families (USD per 1M tokens).
var DefaultPrices = provider.PriceTable{
	"claude-3-5-sonnet": {PromptPerMTok: 3.00, CompletionPerMTok: 15.00},
	"claude-3-5-haiku":  {PromptPerMTok: 0.80, CompletionPerMTok: 4.00},
	"claude-3-opus":     {PromptPerMTok: 15.00, CompletionPerMTok: 75.00},
	"claude-3-haiku":    {PromptPerMTok: 0.25, CompletionPerMTok: 1.25},
}

// Name implements provider.Provider.
func (a *Adapter) Name() string { return "anthropic" }

func (a *Adapter) model(req *provider.Request) anthropic.Model {
	if req.Model != "" {
		return anthropic.Model(req.Model)
	}
	return a.opts.DefaultModel
}

// buildParams converts the normalized request into Messages API parameters.
// System messages are hoisted into the dedicated system field; tool replies
// are attached as tool_result blocks on user turns.
func (a *Adapter) buildParams(req *provider.Request) anthropic.MessageNewParams {
	var system []anthropic.TextBlockParam
	var messages []anthropic.MessageParam

	for _, m := range req.Messages {
		switch m.Role {
		case provider.RoleSystem:
			if m.Content != "" {
				system = append(system, anthropic.TextBlockParam{Text: m.Content})
			}
		case provider.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &input); err != nil {
						input = string(tc.Arguments)
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
		case provider.RoleTool:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		default:
			if m.Content != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		}
	}

	maxTokens := a.opts.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     a.model(req),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}
	return params
}

func buildTools(tools []provider.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, td := range tools {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if td.Parameters != nil {
			if props, ok := td.Parameters["properties"]; ok {
				schema.Properties = props
			}
			switch req := td.Parameters["required"].(type) {
			case []string:
				schema.Required = req
			case []any:
				for _, r := range req {
					if s, ok := r.(string); ok {
						schema.Required = append(schema.Required, s)
					}
				}
			}
		}
		out[i] = anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        td.Name,
			Description: anthropic.String(td.Description),
			InputSchema: schema,
		}}
	}
	return out
}

// Generate implements provider.Provider.
func (a *Adapter) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	start := time.Now()
	resp, err := a.client.Messages.New(ctx, a.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	var content string
	var toolCalls []provider.ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content += block.AsText().Text
		case "tool_use":
			tu := block.AsToolUse()
			args, _ := json.Marshal(tu.Input)
			toolCalls = append(toolCalls, provider.ToolCall{ID: tu.ID, Name: tu.Name, Arguments: args})
		}
	}

	finishReason := "stop"
	if resp.StopReason != "" {
		finishReason = string(resp.StopReason)
	}
	usage := provider.TokenUsage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	return &provider.Response{
		Content:      content,
		ToolCalls:    toolCalls,
		Usage:        usage,
		Cost:         a.Cost(string(resp.Model), usage),
		Latency:      time.Since(start),
		FinishReason: finishReason,
		Model:        string(resp.Model),
		Provider:     a.Name(),
	}, nil
}

// Stream implements provider.Provider using the Messages streaming API.
func (a *Adapter) Stream(ctx context.Context, req *provider.Request) (<-chan provider.Chunk, error) {
	stream := a.client.Messages.NewStreaming(ctx, a.buildParams(req))
	out := make(chan provider.Chunk, 32)

	go func() {
		defer close(out)
		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta := ev.Delta.Text; delta != "" {
					select {
					case out <- provider.Chunk{Delta: delta}:
					case <-ctx.Done():
						return
					}
				}
			case anthropic.MessageDeltaEvent:
				if ev.Delta.StopReason != "" {
					select {
					case out <- provider.Chunk{FinishReason: string(ev.Delta.StopReason)}:
					case <-ctx.Done():
					}
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- provider.Chunk{Err: fmt.Errorf("anthropic streaming error: %w", err)}
		}
	}()

	return out, nil
}

// Embed implements provider.Provider. Anthropic exposes no embeddings API.
func (a *Adapter) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("anthropic: embeddings not supported")
}

// Cost implements provider.Provider via the static price table.
func (a *Adapter) Cost(model string, usage provider.TokenUsage) float64 {
	return a.opts.Prices.Lookup(model, a.opts.DefaultPrice).CostFor(usage)
}

// Available implements provider.Provider by listing models with a short
// deadline; the models endpoint is unmetered.
func (a *Adapter) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := a.client.Models.List(probeCtx, anthropic.ModelListParams{})
	return err == nil
}
