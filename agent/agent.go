// Package agent implements the bounded ReAct reasoning loop: each iteration
// asks the router for a thought, parses an optional tool action out of it,
// executes the action through the tool executor and records the observation,
// until a final answer emerges or the iteration budget runs out.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/memory"
	"github.com/hupe1980/agentrelay/provider"
	"github.com/hupe1980/agentrelay/router"
	"github.com/hupe1980/agentrelay/tool"
)

// FinalAnswerMarker terminates the loop when found in a thought or an
// observation; the marker is stripped from the returned answer.
const FinalAnswerMarker = "[FINAL_ANSWER]"

// recentWindow bounds how many memory messages are replayed into the prompt.
const recentWindow = 10

// ErrBusy is returned by Run when the agent already has a task in flight.
// Re-entrant runs are not supported.
var ErrBusy = errors.New("agent: already running a task")

// Status is the lifecycle state of the agent.
type Status string

// Agent lifecycle states.
const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusFinished  Status = "finished"
	StatusStopped   Status = "stopped"
	StatusExhausted Status = "exhausted"
)

// Action is a parsed tool invocation request.
type Action struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input"`
}

// ReActStep is one loop iteration: the thought, the optional action parsed
// from it, and the resulting observation. The step list is append-only for
// the lifetime of one Run call and cleared at the start of the next.
type ReActStep struct {
	Thought     string  `json:"thought"`
	Action      *Action `json:"action,omitempty"`
	Observation string  `json:"observation,omitempty"`
}

// ToolCallRecord names one tool invocation made during a run.
type ToolCallRecord struct {
	Tool   string         `json:"tool"`
	Input  map[string]any `json:"input"`
	Result tool.Result    `json:"result"`
}

// RunResult is the outcome of one Run call, consumed by the orchestrator.
type RunResult struct {
	Output     string             `json:"output"`
	Steps      []ReActStep        `json:"steps"`
	Messages   []provider.Message `json:"messages"`
	ToolCalls  []ToolCallRecord   `json:"tool_calls"`
	TokensUsed int                `json:"tokens_used"`
	Cost       float64            `json:"cost"`
	Status     Status             `json:"status"`
}

// State is a read-only snapshot of the agent, recomputed on demand.
type State struct {
	ID              string                 `json:"id"`
	Status          Status                 `json:"status"`
	CurrentTask     string                 `json:"current_task,omitempty"`
	Steps           []ReActStep            `json:"steps"`
	Conversation    []provider.Message     `json:"conversation"`
	LongTermEntries int                    `json:"long_term_entries"`
	LastToolResults map[string]tool.Result `json:"last_tool_results"`
}

// Agent drives one bounded reasoning loop per task. A single agent never
// holds more than one task in flight; Run gates on the running flag.
type Agent struct {
	mu     sync.Mutex
	cfg    Config
	router *router.Router
	tools  *tool.Executor
	memory *memory.Manager
	logger logging.Logger

	criteria router.Criteria

	status      Status
	running     bool
	stopRequest bool
	currentTask string
	steps       []ReActStep
	lastResults map[string]tool.Result
}

// Option customizes an Agent.
type Option func(*Agent)

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithCriteria sets the selection criteria used when neither the model nor
// the preferred provider pins the choice.
func WithCriteria(c router.Criteria) Option {
	return func(a *Agent) { a.criteria = c }
}

// New constructs an Agent. The config is normalized and validated; the
// memory manager must already be scoped to the config id.
func New(cfg Config, rt *router.Router, tools *tool.Executor, mem *memory.Manager, opts ...Option) (*Agent, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Agent{
		cfg:         cfg,
		router:      rt,
		tools:       tools,
		memory:      mem,
		logger:      logging.NoOpLogger{},
		status:      StatusIdle,
		lastResults: make(map[string]tool.Result),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Config returns a copy of the agent configuration.
func (a *Agent) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// UpdateConfig replaces the configuration wholesale. Rejected while a task
// is in flight.
func (a *Agent) UpdateConfig(cfg Config) error {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return ErrBusy
	}
	cfg.ID = a.cfg.ID // identity is stable across updates
	a.cfg = cfg
	return nil
}

// IsRunning reports whether a task is in flight.
func (a *Agent) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Stop cooperatively requests termination. The flag is consulted at the top
// of the next iteration; an in-flight provider or tool call is not
// interrupted mid-flight.
func (a *Agent) Stop() {
	a.mu.Lock()
	if a.running {
		a.stopRequest = true
	}
	a.mu.Unlock()
}

// Memory exposes the agent's memory manager.
func (a *Agent) Memory() *memory.Manager { return a.memory }

// Run executes the ReAct loop for one task, bounded by maxIterations think
// passes. A run that exhausts its budget returns whatever answer was last
// accumulated (possibly empty) with no error; only provider-chain exhaustion
// is an error.
func (a *Agent) Run(ctx context.Context, task string, maxIterations int) (*RunResult, error) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil, ErrBusy
	}
	a.running = true
	a.stopRequest = false
	a.status = StatusRunning
	a.currentTask = task
	a.steps = nil
	a.mu.Unlock()

	if maxIterations <= 0 {
		maxIterations = 10
	}

	result, err := a.runLoop(ctx, task, maxIterations)

	a.mu.Lock()
	a.running = false
	a.currentTask = ""
	if err != nil {
		a.status = StatusFinished
	} else {
		a.status = result.Status
	}
	a.mu.Unlock()
	return result, err
}

func (a *Agent) runLoop(ctx context.Context, task string, maxIterations int) (*RunResult, error) {
	res := &RunResult{Status: StatusExhausted}

	a.memory.AddMessage(ctx, provider.Message{Role: provider.RoleUser, Content: task})

	finalAnswer := ""
	for i := 0; i < maxIterations; i++ {
		if a.stopRequested() || ctx.Err() != nil {
			res.Status = StatusStopped
			break
		}

		req := a.buildRequest(task)
		start := time.Now()
		resp, err := a.router.Generate(ctx, req, router.GenerateOptions{
			Criteria:  a.criteria,
			Preferred: a.cfg.Provider,
		})
		if err != nil {
			a.logger.Error("think pass failed", "agent_id", a.cfg.ID, "iteration", i, "error", err.Error())
			a.finish(ctx, res, finalAnswer)
			return res, fmt.Errorf("agent %s: %w", a.cfg.ID, err)
		}
		a.logger.Debug("think pass completed",
			"agent_id", a.cfg.ID, "iteration", i, "provider", resp.Provider, "latency", time.Since(start))

		res.TokensUsed += resp.Usage.TotalTokens
		res.Cost += resp.Cost
		res.Messages = append(res.Messages, provider.Message{Role: provider.RoleAssistant, Content: resp.Content})

		thought := resp.Content
		action, ok := parseAction(thought)
		if !ok {
			// No parsable action: the thought itself is the final answer.
			finalAnswer = stripFinalMarker(thought)
			a.appendStep(ReActStep{Thought: thought})
			res.Status = StatusFinished
			break
		}

		toolRes := a.tools.Execute(ctx, action.Tool, action.Input, tool.ExecOptions{})
		observation := renderObservation(toolRes)
		a.appendStep(ReActStep{Thought: thought, Action: &action, Observation: observation})
		a.recordToolResult(action.Tool, toolRes)
		res.ToolCalls = append(res.ToolCalls, ToolCallRecord{Tool: action.Tool, Input: action.Input, Result: toolRes})
		res.Messages = append(res.Messages, provider.Message{Role: provider.RoleTool, Content: observation})

		if strings.Contains(observation, FinalAnswerMarker) {
			finalAnswer = stripFinalMarker(observation)
			res.Status = StatusFinished
			break
		}
	}

	a.finish(ctx, res, finalAnswer)
	return res, nil
}

// finish records the final answer into memory and the result. Runs on every
// terminal path.
func (a *Agent) finish(ctx context.Context, res *RunResult, finalAnswer string) {
	res.Output = finalAnswer
	res.Steps = a.Steps()
	a.memory.AddMessage(ctx, provider.Message{Role: provider.RoleAssistant, Content: finalAnswer})
}

// Stream performs a single think pass with token-level streaming, bypassing
// the action loop entirely. Intended for interactive chat, not task
// execution. The full response is appended to memory once the stream ends.
func (a *Agent) Stream(ctx context.Context, task string) (<-chan provider.Chunk, error) {
	a.memory.AddMessage(ctx, provider.Message{Role: provider.RoleUser, Content: task})

	req := a.buildRequest(task)
	upstream, err := a.router.Stream(ctx, req, router.GenerateOptions{Criteria: a.criteria, Preferred: a.cfg.Provider})
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.cfg.ID, err)
	}

	out := make(chan provider.Chunk, 32)
	go func() {
		defer close(out)
		var full strings.Builder
		for ck := range upstream {
			full.WriteString(ck.Delta)
			select {
			case out <- ck:
			case <-ctx.Done():
				return
			}
		}
		if full.Len() > 0 {
			a.memory.AddMessage(ctx, provider.Message{Role: provider.RoleAssistant, Content: full.String()})
		}
	}()
	return out, nil
}

// State returns a read-only projection of the agent.
func (a *Agent) State() State {
	a.mu.Lock()
	steps := make([]ReActStep, len(a.steps))
	copy(steps, a.steps)
	last := make(map[string]tool.Result, len(a.lastResults))
	for k, v := range a.lastResults {
		last[k] = v
	}
	st := State{
		ID:              a.cfg.ID,
		Status:          a.status,
		CurrentTask:     a.currentTask,
		Steps:           steps,
		LastToolResults: last,
	}
	a.mu.Unlock()

	st.Conversation = a.memory.Recent(0)
	st.LongTermEntries = a.memory.LongTermLen()
	return st
}

// Steps returns a copy of the current run's steps.
func (a *Agent) Steps() []ReActStep {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ReActStep, len(a.steps))
	copy(out, a.steps)
	return out
}

func (a *Agent) appendStep(s ReActStep) {
	a.mu.Lock()
	a.steps = append(a.steps, s)
	a.mu.Unlock()
}

func (a *Agent) recordToolResult(name string, res tool.Result) {
	a.mu.Lock()
	a.lastResults[name] = res
	a.mu.Unlock()
}

func (a *Agent) stopRequested() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopRequest
}

// buildRequest composes the prompt for one think pass: ReAct protocol
// instructions plus tool list, the most recent memory window, and a rendered
// transcript of this run's prior steps.
func (a *Agent) buildRequest(task string) *provider.Request {
	msgs := []provider.Message{{Role: provider.RoleSystem, Content: a.systemPrompt()}}
	msgs = append(msgs, a.memory.Recent(recentWindow)...)

	if transcript := a.renderTranscript(); transcript != "" {
		msgs = append(msgs, provider.Message{
			Role:    provider.RoleUser,
			Content: "Steps so far in this task:\n" + transcript + "\nContinue with the next thought.",
		})
	}

	temp := a.cfg.Temperature
	return &provider.Request{
		Messages:    msgs,
		Model:       a.cfg.Model,
		Temperature: &temp,
		MaxTokens:   a.cfg.MaxTokens,
	}
}

func (a *Agent) systemPrompt() string {
	var sb strings.Builder
	if a.cfg.SystemPrompt != "" {
		sb.WriteString(a.cfg.SystemPrompt)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "You are %s, a %s agent. ", a.cfg.Name, a.cfg.Role)
	sb.WriteString("Reason step by step. To use a tool, reply with a line of the form:\n")
	sb.WriteString("ACTION: tool_name({\"arg\": \"value\"})\n")
	sb.WriteString("Tool results arrive as OBSERVATION messages. ")
	fmt.Fprintf(&sb, "When you have the answer, reply with it directly, prefixed by %s.\n", FinalAnswerMarker)

	if len(a.cfg.Tools) > 0 && a.tools != nil {
		sb.WriteString("\nAvailable tools:\n")
		for _, name := range a.cfg.Tools {
			if t, ok := a.tools.Get(name); ok {
				fmt.Fprintf(&sb, "- %s: %s\n", t.Name(), t.Description())
			}
		}
	}
	return sb.String()
}

func (a *Agent) renderTranscript() string {
	var sb strings.Builder
	for i, s := range a.Steps() {
		fmt.Fprintf(&sb, "Thought %d: %s\n", i+1, s.Thought)
		if s.Action != nil {
			args, _ := json.Marshal(s.Action.Input)
			fmt.Fprintf(&sb, "Action %d: %s(%s)\n", i+1, s.Action.Tool, args)
		}
		if s.Observation != "" {
			fmt.Fprintf(&sb, "Observation %d: %s\n", i+1, s.Observation)
		}
	}
	return sb.String()
}

// renderObservation folds a tool result into the observation string fed back
// to the model: OBSERVATION with the JSON payload on success, ERROR with the
// message on failure. Failures stay inside the loop as observations so the
// model can reason about them.
func renderObservation(res tool.Result) string {
	if !res.Success {
		return "ERROR: " + res.Error
	}
	payload, err := json.Marshal(res.Data)
	if err != nil {
		return fmt.Sprintf("OBSERVATION: %v", res.Data)
	}
	return "OBSERVATION: " + string(payload)
}

func stripFinalMarker(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, FinalAnswerMarker, ""))
}
