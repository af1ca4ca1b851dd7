// Package config loads YAML declarations of agents and workflows.
//
// A configuration file names the agents (their instructions and model) and
// the workflows that wire them into graphs:
//
//	agents:
//	  writer:
//	    instructions: You write short poems.
//	    llm_config:
//	      provider: openai
//	      model: gpt-4o-mini
//	      temperature: 0.7
//	  critic:
//	    instructions: Reply APPROVE when the poem is good.
//	    llm_config: {provider: anthropic, model: claude-3-5-haiku-latest}
//
//	workflows:
//	  poem:
//	    nodes:
//	      - {name: writer, agent: writer, stream: true}
//	      - {name: critic, agent: critic, role: terminal}
//	    edges:
//	      - {from: writer, to: critic}
//	      - {from: critic, to: writer, when: {not_contains: APPROVE}}
//	    options:
//	      max_node_invocations: 3
//
// Configuration is read once; Load and Parse return a validated Config.
package config

import (
	"fmt"
	"os"
	"time"

	yaml "go.yaml.in/yaml/v2"
)

// Supported model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
	ProviderMock      = "mock"
)

// Providers lists every accepted provider name.
var Providers = []string{ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderOllama, ProviderMock}

// Config is the root of a configuration file.
type Config struct {
	Agents    map[string]AgentConfig    `yaml:"agents" validate:"dive"`
	Workflows map[string]WorkflowConfig `yaml:"workflows" validate:"dive"`
}

// AgentConfig declares one LLM-backed agent.
type AgentConfig struct {
	Instructions  string    `yaml:"instructions"`
	LLM           LLMConfig `yaml:"llm_config"`
	Tools         []string  `yaml:"tools" validate:"dive,required"`
	Reflect       bool      `yaml:"reflect"`
	MaxToolRounds int       `yaml:"max_tool_rounds" validate:"min=0,max=20"`
	MaxHistory    int       `yaml:"max_history" validate:"min=0"`
}

// LLMConfig selects and tunes a chat model.
type LLMConfig struct {
	Provider    string   `yaml:"provider" validate:"required,oneof=openai anthropic gemini ollama mock"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature" validate:"omitempty,min=0,max=2"`
	MaxTokens   int      `yaml:"max_tokens" validate:"min=0"`
	BaseURL     string   `yaml:"base_url" validate:"omitempty,url"`

	// Responses scripts the mock provider.
	Responses []string `yaml:"responses"`
}

// WorkflowConfig declares a graph and the engine options used to run it.
type WorkflowConfig struct {
	Description string        `yaml:"description"`
	Nodes       []NodeConfig  `yaml:"nodes" validate:"required,min=1,dive"`
	Edges       []EdgeConfig  `yaml:"edges" validate:"dive"`
	Options     OptionsConfig `yaml:"options"`
}

// NodeConfig declares one node. Exactly one of Agent and Workflow is set;
// Workflow nests another declared workflow as a single node.
type NodeConfig struct {
	Name       string        `yaml:"name" validate:"required"`
	Agent      string        `yaml:"agent" validate:"required_without=Workflow,excluded_with=Workflow"`
	Workflow   string        `yaml:"workflow" validate:"required_without=Agent"`
	Role       string        `yaml:"role" validate:"omitempty,oneof=entry terminal"`
	Activation string        `yaml:"activation" validate:"omitempty,oneof=all any"`
	Stream     bool          `yaml:"stream"`
	Filter     *FilterConfig `yaml:"filter"`
	Timeout    time.Duration `yaml:"timeout" validate:"min=0"`
	Retry      *RetryConfig  `yaml:"retry"`
}

// EdgeConfig declares a directed edge.
type EdgeConfig struct {
	From   string           `yaml:"from" validate:"required"`
	To     string           `yaml:"to" validate:"required"`
	Filter *FilterConfig    `yaml:"filter"`
	When   *ConditionConfig `yaml:"when"`
}

// FilterConfig declares message visibility. Rules map a source name to
// "all", "none", "last:N" or "first:N"; sources without a rule use Default
// (empty means "all").
type FilterConfig struct {
	Default string            `yaml:"default"`
	Rules   map[string]string `yaml:"rules"`
}

// ConditionConfig gates delivery along an edge on the source's message.
// All set fields must hold.
type ConditionConfig struct {
	Contains    string `yaml:"contains"`
	NotContains string `yaml:"not_contains"`
	Matches     string `yaml:"matches"`
	Status      string `yaml:"status" validate:"omitempty,oneof=complete failed"`
}

// RetryConfig declares a node retry policy for transient model failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"min=1,max=10"`
	BaseDelay   time.Duration `yaml:"base_delay" validate:"min=0"`
	MaxDelay    time.Duration `yaml:"max_delay" validate:"min=0"`
}

// OptionsConfig mirrors the engine options that can be set from a file.
type OptionsConfig struct {
	MaxNodeInvocations int           `yaml:"max_node_invocations" validate:"min=0"`
	MaxTurns           int           `yaml:"max_turns" validate:"min=0"`
	MaxConcurrency     int           `yaml:"max_concurrency" validate:"min=0"`
	NodeTimeout        time.Duration `yaml:"node_timeout" validate:"min=0"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a YAML document. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Agent returns the named agent declaration.
func (c *Config) Agent(name string) (AgentConfig, bool) {
	a, ok := c.Agents[name]
	return a, ok
}

// Workflow returns the named workflow declaration.
func (c *Config) Workflow(name string) (WorkflowConfig, bool) {
	w, ok := c.Workflows[name]
	return w, ok
}
