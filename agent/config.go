package agent

import (
	"fmt"

	"github.com/hupe1980/agentrelay/internal/util"
)

// Role categorizes an agent's function within a task.
type Role string

// Agent roles.
const (
	RoleResearcher Role = "researcher"
	RoleCoder      Role = "coder"
	RoleAnalyst    Role = "analyst"
	RolePlanner    Role = "planner"
	RoleCritic     Role = "critic"
	RoleExecutor   Role = "executor"
	RoleManager    Role = "manager"
	RoleCustom     Role = "custom"
)

var validRoles = map[Role]bool{
	RoleResearcher: true, RoleCoder: true, RoleAnalyst: true, RolePlanner: true,
	RoleCritic: true, RoleExecutor: true, RoleManager: true, RoleCustom: true,
}

// Config is the identity and behavior profile of one agent. It is owned by
// whoever created the agent and is immutable except through UpdateConfig,
// which replaces fields wholesale.
type Config struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Role         Role           `json:"role"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Provider     string         `json:"provider,omitempty"` // preferred provider name
	Model        string         `json:"model,omitempty"`
	Tools        []string       `json:"tools,omitempty"` // names the agent may invoke
	Active       bool           `json:"active"`
	Temperature  float64        `json:"temperature"`
	MaxTokens    int            `json:"max_tokens,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Normalize fills defaults (generated id, custom role, active) in place.
func (c *Config) Normalize() {
	if c.ID == "" {
		c.ID = util.NewID()
	}
	if c.Name == "" {
		c.Name = c.ID
	}
	if c.Role == "" {
		c.Role = RoleCustom
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("agent config: id is required")
	}
	if !validRoles[c.Role] {
		return fmt.Errorf("agent config: unknown role %q", c.Role)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("agent config: temperature %v outside [0,2]", c.Temperature)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("agent config: max_tokens must be non-negative")
	}
	return nil
}
