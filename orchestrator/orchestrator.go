// Package orchestrator runs one task across a registry of agents under a
// chosen topology and folds the per-agent executions into a single result.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/internal/util"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/provider"
)

// Topology selects the dispatch strategy for one task.
type Topology string

// Supported topologies.
const (
	TopologySequential   Topology = "sequential"
	TopologyParallel     Topology = "parallel"
	TopologyHierarchical Topology = "hierarchical"
	TopologyConsensus    Topology = "consensus"
)

// ConsensusAgentID labels the synthetic execution appended by the consensus
// topology.
const ConsensusAgentID = "consensus"

// DefaultMaxIterations bounds each agent's reasoning loop when the task does
// not specify one.
const DefaultMaxIterations = 10

// Task describes one orchestrated run. Created per invocation, never reused.
type Task struct {
	ID            string         `json:"id"`
	Task          string         `json:"task"`
	Topology      Topology       `json:"strategy"`
	AgentIDs      []string       `json:"agents"`
	MaxIterations int            `json:"max_iterations,omitempty"`
	Timeout       time.Duration  `json:"timeout,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Execution is the per-agent record of one task run.
type Execution struct {
	AgentID    string                 `json:"agent_id"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Messages   []provider.Message     `json:"messages,omitempty"`
	ToolCalls  []agent.ToolCallRecord `json:"tool_calls,omitempty"`
	TokensUsed int                    `json:"tokens_used"`
	Cost       float64                `json:"cost"`
	Success    bool                   `json:"success"`
	Output     string                 `json:"output"`
	Error      string                 `json:"error,omitempty"`
}

// TaskResult aggregates all executions of one task.
type TaskResult struct {
	TaskID      string        `json:"task_id"`
	Success     bool          `json:"success"`
	Output      string        `json:"output"`
	Executions  []Execution   `json:"executions"`
	TotalCost   float64       `json:"total_cost"`
	TotalTokens int           `json:"total_tokens"`
	Duration    time.Duration `json:"execution_time"`
	Error       string        `json:"error,omitempty"`
}

// Manager owns the agent registry and executes tasks against it. The
// registry is read-mostly after startup; all methods are safe for concurrent
// use.
type Manager struct {
	mu     sync.RWMutex
	agents map[string]*agent.Agent
	order  []string
	logger logging.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		agents: make(map[string]*agent.Agent),
		logger: logging.NoOpLogger{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Register adds an agent to the registry keyed by its config id.
// Re-registering an id silently replaces the previous agent.
func (m *Manager) Register(a *agent.Agent) {
	id := a.Config().ID
	m.mu.Lock()
	if _, dup := m.agents[id]; !dup {
		m.order = append(m.order, id)
	}
	m.agents[id] = a
	m.mu.Unlock()
}

// Unregister removes an agent; removing an unknown id is a no-op.
func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	if _, ok := m.agents[id]; ok {
		delete(m.agents, id)
		for i, v := range m.order {
			if v == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()
}

// Get returns the registered agent, if any.
func (m *Manager) Get(id string) (*agent.Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	return a, ok
}

// AgentIDs returns the registered agent ids in registration order.
func (m *Manager) AgentIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// ExecuteTask runs the task under its topology and aggregates the result.
// A missing agent id yields a synthetic failed execution inside the result
// rather than an error; only an unknown topology or an empty agent list is
// an error.
func (m *Manager) ExecuteTask(ctx context.Context, task Task) (*TaskResult, error) {
	if task.ID == "" {
		task.ID = util.NewID()
	}
	if len(task.AgentIDs) == 0 {
		return nil, fmt.Errorf("orchestrator: task %s has no agents", task.ID)
	}
	if task.MaxIterations <= 0 {
		task.MaxIterations = DefaultMaxIterations
	}

	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	start := time.Now()
	m.logger.Info("task started",
		"task_id", task.ID, "strategy", string(task.Topology), "agents", len(task.AgentIDs))

	var execs []Execution
	switch task.Topology {
	case TopologySequential:
		execs = m.runSequential(ctx, task)
	case TopologyParallel:
		execs = m.runParallel(ctx, task.AgentIDs, task.Task, task.MaxIterations)
	case TopologyHierarchical:
		execs = m.runHierarchical(ctx, task)
	case TopologyConsensus:
		execs = m.runConsensus(ctx, task)
	default:
		return nil, fmt.Errorf("orchestrator: unknown strategy %q", task.Topology)
	}

	res := aggregate(task.ID, execs)
	res.Duration = time.Since(start)
	m.logger.Info("task finished",
		"task_id", task.ID, "success", res.Success, "executions", len(res.Executions),
		"total_tokens", res.TotalTokens, "duration", res.Duration)
	return res, nil
}

// runSequential chains agents: each receives the previous agent's output,
// falling back to the original task text for the first agent or when the
// previous output was empty. The chain halts at the first failure.
func (m *Manager) runSequential(ctx context.Context, task Task) []Execution {
	execs := make([]Execution, 0, len(task.AgentIDs))
	input := task.Task
	for _, id := range task.AgentIDs {
		exec := m.runAgent(ctx, id, input, task.MaxIterations)
		execs = append(execs, exec)
		if !exec.Success {
			break
		}
		if exec.Output != "" {
			input = exec.Output
		} else {
			input = task.Task
		}
	}
	return execs
}

// runParallel dispatches every agent against the same input concurrently and
// keeps every execution, success or failure, in input order.
func (m *Manager) runParallel(ctx context.Context, ids []string, input string, maxIterations int) []Execution {
	execs := make([]Execution, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			execs[i] = m.runAgent(ctx, id, input, maxIterations)
		}(i, id)
	}
	wg.Wait()
	return execs
}

// runHierarchical runs the first agent as the manager against a planning
// prompt naming the remaining ids as delegates, then fans the manager's
// output out to the delegates in parallel.
func (m *Manager) runHierarchical(ctx context.Context, task Task) []Execution {
	managerID := task.AgentIDs[0]
	delegates := task.AgentIDs[1:]

	prompt := fmt.Sprintf(
		"You are the manager for this task. Break it into a plan for your delegates (%s) and state the instructions they should follow.\n\nTask: %s",
		strings.Join(delegates, ", "), task.Task)

	managerExec := m.runAgent(ctx, managerID, prompt, task.MaxIterations)
	execs := []Execution{managerExec}
	if len(delegates) == 0 {
		return execs
	}

	input := managerExec.Output
	if input == "" {
		input = task.Task
	}
	return append(execs, m.runParallel(ctx, delegates, input, task.MaxIterations)...)
}

// runConsensus dispatches like parallel, then appends a synthetic execution
// holding the most frequent non-empty output among the successful runs. Ties
// break by first-seen order.
func (m *Manager) runConsensus(ctx context.Context, task Task) []Execution {
	execs := m.runParallel(ctx, task.AgentIDs, task.Task, task.MaxIterations)

	counts := make(map[string]int)
	var seen []string
	for _, e := range execs {
		if !e.Success || e.Output == "" {
			continue
		}
		if _, ok := counts[e.Output]; !ok {
			seen = append(seen, e.Output)
		}
		counts[e.Output]++
	}

	now := time.Now()
	consensus := Execution{
		AgentID:    ConsensusAgentID,
		StartedAt:  now,
		FinishedAt: now,
	}
	best, bestCount := "", 0
	for _, out := range seen {
		if counts[out] > bestCount {
			best, bestCount = out, counts[out]
		}
	}
	if bestCount > 0 {
		consensus.Success = true
		consensus.Output = best
	} else {
		consensus.Error = "no successful outputs to agree on"
	}
	return append(execs, consensus)
}

// runAgent executes one agent against the input. A missing id or a busy
// agent is folded into a failed execution so one bad slot cannot abort a
// batch.
func (m *Manager) runAgent(ctx context.Context, id, input string, maxIterations int) Execution {
	exec := Execution{AgentID: id, StartedAt: time.Now()}

	a, ok := m.Get(id)
	if !ok {
		exec.FinishedAt = time.Now()
		exec.Error = fmt.Sprintf("agent %q not found", id)
		m.logger.Warn("agent missing", "agent_id", id)
		return exec
	}

	res, err := a.Run(ctx, input, maxIterations)
	exec.FinishedAt = time.Now()
	if res != nil {
		exec.Messages = res.Messages
		exec.ToolCalls = res.ToolCalls
		exec.TokensUsed = res.TokensUsed
		exec.Cost = res.Cost
		exec.Output = res.Output
	}
	if err != nil {
		exec.Error = err.Error()
		return exec
	}
	exec.Success = true
	return exec
}

// aggregate folds executions into the task result: success is the AND over
// all executions, output the newline join, cost and tokens straight sums.
func aggregate(taskID string, execs []Execution) *TaskResult {
	res := &TaskResult{TaskID: taskID, Success: true, Executions: execs}
	outputs := make([]string, 0, len(execs))
	for _, e := range execs {
		res.Success = res.Success && e.Success
		res.TotalCost += e.Cost
		res.TotalTokens += e.TokensUsed
		outputs = append(outputs, e.Output)
	}
	res.Output = strings.Join(outputs, "\n")
	return res
}
