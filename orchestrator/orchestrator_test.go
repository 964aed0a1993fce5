package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/memory"
	"github.com/hupe1980/agentrelay/provider"
	"github.com/hupe1980/agentrelay/router"
	"github.com/hupe1980/agentrelay/tool"
)

// makeAgent wires one agent around its own scripted provider so each agent
// in a topology can produce a distinct output.
func makeAgent(t *testing.T, id string, replies ...string) (*agent.Agent, *provider.MockProvider) {
	t.Helper()
	mock := provider.NewMockProvider("openai", replies...)
	rt := router.New([]provider.Provider{mock})
	a, err := agent.New(agent.Config{
		ID:       id,
		Role:     agent.RoleExecutor,
		Provider: "openai",
		Active:   true,
	}, rt, tool.NewExecutor(nil), memory.NewManager(id, nil))
	require.NoError(t, err)
	return a, mock
}

func TestSequentialShortCircuit(t *testing.T) {
	m := NewManager()
	a1, _ := makeAgent(t, "a1", "[FINAL_ANSWER] one")
	a2, mock2 := makeAgent(t, "a2")
	mock2.FailWith(errors.New("provider down"))
	a3, mock3 := makeAgent(t, "a3", "[FINAL_ANSWER] three")
	m.Register(a1)
	m.Register(a2)
	m.Register(a3)

	res, err := m.ExecuteTask(context.Background(), Task{
		Task:     "do the thing",
		Topology: TopologySequential,
		AgentIDs: []string{"a1", "a2", "a3"},
	})
	require.NoError(t, err)

	require.Len(t, res.Executions, 2)
	assert.False(t, res.Success)
	assert.True(t, res.Executions[0].Success)
	assert.False(t, res.Executions[1].Success)
	assert.Equal(t, 0, mock3.Calls())
}

func TestSequentialChainsOutputs(t *testing.T) {
	m := NewManager()
	a1, _ := makeAgent(t, "a1", "[FINAL_ANSWER] step-one")
	a2, _ := makeAgent(t, "a2", "[FINAL_ANSWER] step-two")
	m.Register(a1)
	m.Register(a2)

	res, err := m.ExecuteTask(context.Background(), Task{
		Task:     "original",
		Topology: TopologySequential,
		AgentIDs: []string{"a1", "a2"},
	})
	require.NoError(t, err)
	require.Len(t, res.Executions, 2)
	assert.True(t, res.Success)

	// The second agent was fed the first agent's output, not the task text.
	recent := a2.Memory().Recent(0)
	require.NotEmpty(t, recent)
	assert.Equal(t, "step-one", recent[0].Content)
}

func TestParallelCompleteness(t *testing.T) {
	m := NewManager()
	a1, _ := makeAgent(t, "a1", "[FINAL_ANSWER] one")
	a2, mock2 := makeAgent(t, "a2")
	mock2.FailWith(errors.New("boom"))
	a3, _ := makeAgent(t, "a3", "[FINAL_ANSWER] three")
	m.Register(a1)
	m.Register(a2)
	m.Register(a3)

	res, err := m.ExecuteTask(context.Background(), Task{
		Task:     "fan out",
		Topology: TopologyParallel,
		AgentIDs: []string{"a1", "a2", "a3"},
	})
	require.NoError(t, err)

	require.Len(t, res.Executions, 3)
	assert.False(t, res.Success)
	assert.Equal(t, "a1", res.Executions[0].AgentID)
	assert.True(t, res.Executions[0].Success)
	assert.False(t, res.Executions[1].Success)
	assert.True(t, res.Executions[2].Success)
}

func TestConsensusTieBreak(t *testing.T) {
	m := NewManager()
	a1, _ := makeAgent(t, "a1", "[FINAL_ANSWER] A")
	a2, _ := makeAgent(t, "a2", "[FINAL_ANSWER] A")
	a3, _ := makeAgent(t, "a3", "[FINAL_ANSWER] B")
	m.Register(a1)
	m.Register(a2)
	m.Register(a3)

	res, err := m.ExecuteTask(context.Background(), Task{
		Task:     "vote",
		Topology: TopologyConsensus,
		AgentIDs: []string{"a1", "a2", "a3"},
	})
	require.NoError(t, err)

	require.Len(t, res.Executions, 4)
	last := res.Executions[3]
	assert.Equal(t, ConsensusAgentID, last.AgentID)
	assert.True(t, last.Success)
	assert.Equal(t, "A", last.Output)
	assert.Contains(t, res.Output, "A\nA\nB\nA")
}

func TestConsensusFirstSeenOrderOnTie(t *testing.T) {
	m := NewManager()
	a1, _ := makeAgent(t, "a1", "[FINAL_ANSWER] B")
	a2, _ := makeAgent(t, "a2", "[FINAL_ANSWER] A")
	m.Register(a1)
	m.Register(a2)

	res, err := m.ExecuteTask(context.Background(), Task{
		Task:     "tie",
		Topology: TopologyConsensus,
		AgentIDs: []string{"a1", "a2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "B", res.Executions[len(res.Executions)-1].Output)
}

func TestConsensusNoSuccessfulOutputs(t *testing.T) {
	m := NewManager()
	a1, mock1 := makeAgent(t, "a1")
	mock1.FailWith(errors.New("down"))
	m.Register(a1)

	res, err := m.ExecuteTask(context.Background(), Task{
		Task:     "vote",
		Topology: TopologyConsensus,
		AgentIDs: []string{"a1"},
	})
	require.NoError(t, err)
	require.Len(t, res.Executions, 2)
	assert.False(t, res.Executions[1].Success)
	assert.NotEmpty(t, res.Executions[1].Error)
}

func TestHierarchicalManagerFirst(t *testing.T) {
	m := NewManager()
	mgr, _ := makeAgent(t, "mgr", "[FINAL_ANSWER] delegate plan")
	d1, _ := makeAgent(t, "d1", "[FINAL_ANSWER] done-1")
	d2, _ := makeAgent(t, "d2", "[FINAL_ANSWER] done-2")
	m.Register(mgr)
	m.Register(d1)
	m.Register(d2)

	res, err := m.ExecuteTask(context.Background(), Task{
		Task:     "build it",
		Topology: TopologyHierarchical,
		AgentIDs: []string{"mgr", "d1", "d2"},
	})
	require.NoError(t, err)

	require.Len(t, res.Executions, 3)
	assert.Equal(t, "mgr", res.Executions[0].AgentID)
	assert.Equal(t, "delegate plan", res.Executions[0].Output)
	assert.True(t, res.Success)

	// The manager saw a planning prompt naming its delegates.
	mgrRecent := mgr.Memory().Recent(0)
	require.NotEmpty(t, mgrRecent)
	assert.Contains(t, mgrRecent[0].Content, "d1, d2")
	assert.Contains(t, mgrRecent[0].Content, "build it")

	// Delegates received the manager's plan as input.
	d1Recent := d1.Memory().Recent(0)
	require.NotEmpty(t, d1Recent)
	assert.Equal(t, "delegate plan", d1Recent[0].Content)
}

func TestMissingAgentIsSyntheticFailure(t *testing.T) {
	m := NewManager()
	a1, _ := makeAgent(t, "a1", "[FINAL_ANSWER] one")
	m.Register(a1)

	res, err := m.ExecuteTask(context.Background(), Task{
		Task:     "fan out",
		Topology: TopologyParallel,
		AgentIDs: []string{"a1", "ghost"},
	})
	require.NoError(t, err)

	require.Len(t, res.Executions, 2)
	assert.True(t, res.Executions[0].Success)
	assert.False(t, res.Executions[1].Success)
	assert.Contains(t, res.Executions[1].Error, "ghost")
	assert.False(t, res.Success)
}

func TestAggregation(t *testing.T) {
	m := NewManager()
	a1, _ := makeAgent(t, "a1", "[FINAL_ANSWER] one")
	a2, _ := makeAgent(t, "a2", "[FINAL_ANSWER] two")
	m.Register(a1)
	m.Register(a2)

	res, err := m.ExecuteTask(context.Background(), Task{
		Task:     "go",
		Topology: TopologyParallel,
		AgentIDs: []string{"a1", "a2"},
	})
	require.NoError(t, err)

	assert.Equal(t, "one\ntwo", res.Output)
	assert.Equal(t, 30, res.TotalTokens) // one think pass per agent
	assert.Greater(t, res.TotalCost, 0.0)
	assert.NotZero(t, res.Duration)
	assert.NotEmpty(t, res.TaskID)
}

func TestUnknownTopology(t *testing.T) {
	m := NewManager()
	a1, _ := makeAgent(t, "a1", "x")
	m.Register(a1)

	_, err := m.ExecuteTask(context.Background(), Task{
		Task:     "go",
		Topology: Topology("ring"),
		AgentIDs: []string{"a1"},
	})
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	m := NewManager()
	a1, _ := makeAgent(t, "a1", "x")
	a2, _ := makeAgent(t, "a2", "x")
	m.Register(a1)
	m.Register(a2)

	assert.Equal(t, []string{"a1", "a2"}, m.AgentIDs())
	got, ok := m.Get("a1")
	require.True(t, ok)
	assert.Equal(t, "a1", got.Config().ID)

	m.Unregister("a1")
	assert.Equal(t, []string{"a2"}, m.AgentIDs())
	_, ok = m.Get("a1")
	assert.False(t, ok)
}

func TestNoAgentsIsError(t *testing.T) {
	m := NewManager()
	_, err := m.ExecuteTask(context.Background(), Task{Task: "go", Topology: TopologyParallel})
	require.Error(t, err)
}
