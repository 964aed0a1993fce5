// Package agentrelay provides a high-level façade over the router, agents,
// tools and orchestration, enabling rapid construction of multi-provider
// agent systems. Most applications interact with this package by:
//  1. Creating an AgentRelay via New() (optionally overriding the provider
//     set, cache and logger)
//  2. Registering tools and one or more agents
//  3. Chatting with a single agent (Chat / ChatStream) or executing a
//     multi-agent task (ExecuteTask)
//
// All defaults are safe for local development and testing; production
// deployments typically supply configured providers, a durable cache and a
// structured logger.
package agentrelay

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/cache"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/memory"
	"github.com/hupe1980/agentrelay/orchestrator"
	"github.com/hupe1980/agentrelay/provider"
	"github.com/hupe1980/agentrelay/router"
	"github.com/hupe1980/agentrelay/tool"
)

// DefaultChatIterations bounds the reasoning loop of a Chat call.
const DefaultChatIterations = 5

// Options configures the AgentRelay instance.
type Options struct {
	// Providers is the configured provider set; typically built by
	// config.BuildProviders. An empty set is valid but every generate call
	// will fail with ErrNoProvider.
	Providers []provider.Provider

	// Cache backs memory persistence (defaults to in-memory).
	Cache cache.Cache

	// Criteria is the default selection criteria for chat calls.
	Criteria router.Criteria

	// MaxShortTerm overrides the per-agent short-term memory cap.
	MaxShortTerm int

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// AgentRelay is the high-level façade aggregating router, tool executor,
// cache and orchestrator.
type AgentRelay struct {
	opts    Options
	router  *router.Router
	tools   *tool.Executor
	cache   cache.Cache
	manager *orchestrator.Manager
	logger  logging.Logger
}

// New creates a new AgentRelay instance with optional overrides. Any unset
// service is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *AgentRelay {
	opts := Options{
		Cache:    cache.NewInMemory(),
		Criteria: router.CriteriaQuality,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	rt := router.New(opts.Providers, router.WithLogger(opts.Logger))
	return &AgentRelay{
		opts:    opts,
		router:  rt,
		tools:   tool.NewExecutor(opts.Logger),
		cache:   opts.Cache,
		manager: orchestrator.NewManager(orchestrator.WithLogger(opts.Logger)),
		logger:  opts.Logger,
	}
}

// Router exposes the underlying router.
func (r *AgentRelay) Router() *router.Router { return r.router }

// Tools exposes the underlying tool executor.
func (r *AgentRelay) Tools() *tool.Executor { return r.tools }

// Orchestrator exposes the underlying agent manager.
func (r *AgentRelay) Orchestrator() *orchestrator.Manager { return r.manager }

// RegisterTool adds a tool to the shared executor.
func (r *AgentRelay) RegisterTool(t tool.Tool) { r.tools.Register(t) }

// RegisterAgent builds an agent from cfg, restores its persisted memory and
// registers it with the orchestrator. The returned agent is ready to run.
func (r *AgentRelay) RegisterAgent(ctx context.Context, cfg agent.Config) (*agent.Agent, error) {
	cfg.Normalize()

	a, err := agent.New(cfg, r.router, r.tools, r.newMemory(ctx, cfg.ID),
		agent.WithLogger(r.logger), agent.WithCriteria(r.opts.Criteria))
	if err != nil {
		return nil, fmt.Errorf("register agent: %w", err)
	}
	r.manager.Register(a)
	return a, nil
}

// Agent returns a registered agent by id.
func (r *AgentRelay) Agent(id string) (*agent.Agent, bool) { return r.manager.Get(id) }

// newMemory builds a memory manager scoped to the agent id, embedding
// through the router, with persisted state restored best-effort.
func (r *AgentRelay) newMemory(ctx context.Context, agentID string) *memory.Manager {
	memOpts := []memory.Option{
		memory.WithEmbedder(r.router),
		memory.WithLogger(r.logger),
	}
	if r.opts.MaxShortTerm > 0 {
		memOpts = append(memOpts, memory.WithMaxShortTerm(r.opts.MaxShortTerm))
	}
	mem := memory.NewManager(agentID, r.cache, memOpts...)
	if err := mem.Load(ctx); err != nil {
		r.logger.Warn("memory restore failed", "agent_id", agentID, "error", err.Error())
	}
	return mem
}

// ChatRequest is the single-agent chat invocation surface.
type ChatRequest struct {
	// Message is the user turn.
	Message string `json:"message"`
	// AgentConfig optionally customizes the chat agent; a stable ID keeps
	// the conversation across calls through the cache.
	AgentConfig *agent.Config `json:"agent_config,omitempty"`
	// Tools restricts the tool names the agent may invoke.
	Tools []string `json:"tools,omitempty"`
	// MaxIterations bounds the reasoning loop (default 5).
	MaxIterations int `json:"max_iterations,omitempty"`
}

// ChatResult is the non-streaming chat outcome.
type ChatResult struct {
	Response   string             `json:"response"`
	Steps      []agent.ReActStep  `json:"react_steps"`
	History    []provider.Message `json:"conversation_history"`
	TokensUsed int                `json:"tokens_used"`
	Cost       float64            `json:"cost"`
}

// chatAgent resolves the agent a chat request addresses: a registered agent
// when the config names one, otherwise an ephemeral agent built for this
// call whose conversation still persists through the cache under its id.
func (r *AgentRelay) chatAgent(ctx context.Context, req ChatRequest) (*agent.Agent, error) {
	cfg := agent.Config{Name: "chat", Role: agent.RoleCustom, Active: true}
	if req.AgentConfig != nil {
		cfg = *req.AgentConfig
	}
	if len(req.Tools) > 0 {
		cfg.Tools = req.Tools
	}
	if cfg.ID != "" {
		if a, ok := r.manager.Get(cfg.ID); ok {
			return a, nil
		}
	}
	cfg.Normalize()
	return agent.New(cfg, r.router, r.tools, r.newMemory(ctx, cfg.ID),
		agent.WithLogger(r.logger), agent.WithCriteria(r.opts.Criteria))
}

// Chat runs one bounded reasoning loop against a single agent.
func (r *AgentRelay) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	a, err := r.chatAgent(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}

	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultChatIterations
	}

	res, err := a.Run(ctx, req.Message, maxIter)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	return &ChatResult{
		Response:   res.Output,
		Steps:      res.Steps,
		History:    a.Memory().Recent(0),
		TokensUsed: res.TokensUsed,
		Cost:       res.Cost,
	}, nil
}

// ChatStream performs a single streamed think-pass (no action loop).
func (r *AgentRelay) ChatStream(ctx context.Context, req ChatRequest) (<-chan provider.Chunk, error) {
	a, err := r.chatAgent(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	ch, err := a.Stream(ctx, req.Message)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	return ch, nil
}

// ExecuteTask runs a multi-agent task under its topology.
func (r *AgentRelay) ExecuteTask(ctx context.Context, task orchestrator.Task) (*orchestrator.TaskResult, error) {
	return r.manager.ExecuteTask(ctx, task)
}
