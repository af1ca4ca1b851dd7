// Package factory builds models, agents, graphs and engines from a
// config.Config.
//
// Model clients are created lazily and cached, so agents that share a
// provider and model share one client:
//
//	cfg, err := config.Load("hive.yaml")
//	f, err := factory.New(cfg, factory.WithEngineOptions(graph.WithEmitter(em)))
//	defer f.Close()
//	engine, err := f.Engine("poem_pipeline")
//	res, err := engine.Run(ctx, "Write a poem about autumn")
package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/hivegraph/graph"
	"github.com/dshills/hivegraph/graph/agent"
	"github.com/dshills/hivegraph/graph/config"
	"github.com/dshills/hivegraph/graph/model"
	"github.com/dshills/hivegraph/graph/model/anthropic"
	"github.com/dshills/hivegraph/graph/model/google"
	"github.com/dshills/hivegraph/graph/model/openai"
	"github.com/dshills/hivegraph/graph/tool"
)

// DefaultOllamaBaseURL is Ollama's OpenAI-compatible endpoint.
const DefaultOllamaBaseURL = "http://localhost:11434/v1"

// ErrClosed is returned by a Factory after Close.
var ErrClosed = errors.New("factory is closed")

// Factory creates runtime components from configuration. It is safe for
// concurrent use.
type Factory struct {
	cfg        *config.Config
	getenv     func(string) string
	costs      *model.CostTracker
	logger     *slog.Logger
	engineOpts []graph.Option
	tools      map[string]tool.Tool

	mu     sync.Mutex
	models map[string]model.ChatModel
	agents map[string]*agent.Agent
	closed bool
}

// Option configures a Factory.
type Option func(*Factory)

// WithEnv replaces os.Getenv for API key lookup.
func WithEnv(getenv func(string) string) Option {
	return func(f *Factory) { f.getenv = getenv }
}

// WithCostTracker records token usage of every agent.
func WithCostTracker(ct *model.CostTracker) Option {
	return func(f *Factory) { f.costs = ct }
}

// WithLogger sets the logger passed to agents.
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// WithEngineOptions adds options to every top-level engine built by Engine.
func WithEngineOptions(opts ...graph.Option) Option {
	return func(f *Factory) { f.engineOpts = append(f.engineOpts, opts...) }
}

// WithTool makes t available to agents that list its name.
func WithTool(t tool.Tool) Option {
	return func(f *Factory) { f.tools[t.Spec().Name] = t }
}

// New returns a Factory for cfg. The configuration is validated once here.
func New(cfg *config.Config, opts ...Option) (*Factory, error) {
	if cfg == nil {
		return nil, errors.New("factory: config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f := &Factory{
		cfg:    cfg,
		getenv: os.Getenv,
		logger: slog.Default(),
		tools:  make(map[string]tool.Tool),
		models: make(map[string]model.ChatModel),
		agents: make(map[string]*agent.Agent),
	}
	httpTool := tool.NewHTTPTool()
	f.tools[httpTool.Spec().Name] = httpTool
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Config returns the configuration the factory was built from.
func (f *Factory) Config() *config.Config { return f.cfg }

// Model returns the chat model of the named agent, creating the client on
// first use. Clients are cached per provider, model and settings.
func (f *Factory) Model(agentName string) (model.ChatModel, error) {
	ac, ok := f.cfg.Agent(agentName)
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", agentName)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	return f.modelLocked(agentName, ac.LLM)
}

func (f *Factory) modelLocked(agentName string, llm config.LLMConfig) (model.ChatModel, error) {
	key := cacheKey(agentName, llm)
	if m, ok := f.models[key]; ok {
		return m, nil
	}
	m, err := f.newModel(llm)
	if err != nil {
		return nil, err
	}
	f.models[key] = m
	return m, nil
}

func cacheKey(agentName string, llm config.LLMConfig) string {
	temp := "-"
	if llm.Temperature != nil {
		temp = fmt.Sprintf("%g", *llm.Temperature)
	}
	key := strings.Join([]string{llm.Provider, llm.Model, llm.BaseURL, temp, fmt.Sprint(llm.MaxTokens)}, "|")
	if llm.Provider == config.ProviderMock {
		// A scripted mock's cursor belongs to one agent.
		key += "|" + agentName
	}
	return key
}

func (f *Factory) newModel(llm config.LLMConfig) (model.ChatModel, error) {
	var opts []model.Option
	if llm.Temperature != nil {
		opts = append(opts, model.WithTemperature(*llm.Temperature))
	}
	if llm.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(llm.MaxTokens))
	}
	if llm.BaseURL != "" {
		opts = append(opts, model.WithBaseURL(llm.BaseURL))
	}

	switch llm.Provider {
	case config.ProviderOpenAI:
		key, err := f.requireEnv("OPENAI_API_KEY")
		if err != nil {
			return nil, err
		}
		return openai.NewChatModel(key, llm.Model, opts...), nil
	case config.ProviderAnthropic:
		key, err := f.requireEnv("ANTHROPIC_API_KEY")
		if err != nil {
			return nil, err
		}
		return anthropic.NewChatModel(key, llm.Model, opts...), nil
	case config.ProviderGemini:
		key, err := f.requireEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
		if err != nil {
			return nil, err
		}
		return google.NewChatModel(context.Background(), key, llm.Model, opts...)
	case config.ProviderOllama:
		key := f.getenv("OLLAMA_API_KEY")
		if key == "" {
			key = "ollama"
		}
		if llm.BaseURL == "" {
			base := f.getenv("OLLAMA_BASE_URL")
			if base == "" {
				base = DefaultOllamaBaseURL
			}
			opts = append(opts, model.WithBaseURL(base))
		}
		return openai.NewChatModel(key, llm.Model, opts...), nil
	case config.ProviderMock:
		responses := make([]model.ChatOut, len(llm.Responses))
		for i, r := range llm.Responses {
			responses[i] = model.ChatOut{Text: r}
		}
		return &model.MockChatModel{Responses: responses, Name: llm.Model}, nil
	default:
		return nil, fmt.Errorf("invalid provider %q, options are %v", llm.Provider, config.Providers)
	}
}

// requireEnv returns the first non-empty variable among names.
func (f *Factory) requireEnv(names ...string) (string, error) {
	for _, name := range names {
		if v := f.getenv(name); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%s is not set in the environment", strings.Join(names, " or "))
}

// Agent returns the named agent, building it on first use.
func (f *Factory) Agent(name string) (*agent.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	if a, ok := f.agents[name]; ok {
		return a, nil
	}
	a, err := f.newAgentLocked(name, name)
	if err != nil {
		return nil, err
	}
	f.agents[name] = a
	return a, nil
}

// agentAs returns the configured agent running under a different node name.
// Agents recognise their own messages by name, so a node that reuses an
// agent declaration under another name gets its own instance.
func (f *Factory) agentAs(agentName, nodeName string) (*agent.Agent, error) {
	if agentName == nodeName {
		return f.Agent(agentName)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	return f.newAgentLocked(agentName, nodeName)
}

func (f *Factory) newAgentLocked(agentName, nodeName string) (*agent.Agent, error) {
	ac, ok := f.cfg.Agent(agentName)
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", agentName)
	}
	m, err := f.modelLocked(agentName, ac.LLM)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", agentName, err)
	}

	opts := []agent.Option{agent.WithLogger(f.logger)}
	if ac.Instructions != "" {
		opts = append(opts, agent.WithInstructions(ac.Instructions))
	}
	if len(ac.Tools) > 0 {
		tools := make([]tool.Tool, 0, len(ac.Tools))
		for _, tn := range ac.Tools {
			t, ok := f.tools[tn]
			if !ok {
				return nil, fmt.Errorf("agent %s: unknown tool %q (available: %s)", agentName, tn, strings.Join(f.toolNames(), ", "))
			}
			tools = append(tools, t)
		}
		opts = append(opts, agent.WithTools(tools...))
	}
	if ac.Reflect {
		opts = append(opts, agent.WithReflection(ac.MaxToolRounds))
	}
	if ac.MaxHistory > 0 {
		opts = append(opts, agent.WithMaxHistory(ac.MaxHistory))
	}
	if f.costs != nil {
		opts = append(opts, agent.WithCostTracker(f.costs))
	}
	return agent.New(nodeName, m, opts...)
}

func (f *Factory) toolNames() []string {
	names := make([]string, 0, len(f.tools))
	for n := range f.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Graph builds the named workflow's graph. Nested workflows become
// workflow nodes running their own declared options.
func (f *Factory) Graph(workflow string) (*graph.Graph, error) {
	return f.buildGraph(workflow, nil)
}

func (f *Factory) buildGraph(name string, stack []string) (*graph.Graph, error) {
	wc, ok := f.cfg.Workflow(name)
	if !ok {
		return nil, fmt.Errorf("unknown workflow %q", name)
	}
	for _, s := range stack {
		if s == name {
			return nil, fmt.Errorf("nested workflow cycle at %q", name)
		}
	}
	stack = append(stack, name)

	b := graph.NewBuilder()
	for _, nc := range wc.Nodes {
		n, err := f.buildNode(nc, stack)
		if err != nil {
			return nil, fmt.Errorf("workflow %s: %w", name, err)
		}
		if err := b.AddNode(n); err != nil {
			return nil, fmt.Errorf("workflow %s: %w", name, err)
		}
	}
	for _, ec := range wc.Edges {
		opts, err := ec.EdgeOptions()
		if err != nil {
			return nil, fmt.Errorf("workflow %s: %w", name, err)
		}
		if err := b.AddEdge(ec.From, ec.To, opts...); err != nil {
			return nil, fmt.Errorf("workflow %s: %w", name, err)
		}
	}
	g, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", name, err)
	}
	return g, nil
}

func (f *Factory) buildNode(nc config.NodeConfig, stack []string) (graph.Node, error) {
	opts, err := nc.NodeOptions(model.IsTransient)
	if err != nil {
		return graph.Node{}, err
	}

	if nc.Workflow != "" {
		inner, err := f.buildGraph(nc.Workflow, stack)
		if err != nil {
			return graph.Node{}, err
		}
		wc, _ := f.cfg.Workflow(nc.Workflow)
		innerOpts := append([]graph.Option{graph.WithGraphName(nc.Workflow)}, wc.Options.EngineOptions()...)
		wf, err := graph.NewWorkflow(inner, innerOpts...)
		if err != nil {
			return graph.Node{}, fmt.Errorf("nested workflow %s: %w", nc.Workflow, err)
		}
		return graph.NewWorkflowNode(nc.Name, wf, opts...), nil
	}

	a, err := f.agentAs(nc.Agent, nc.Name)
	if err != nil {
		return graph.Node{}, err
	}
	if nc.Stream {
		return graph.NewStreamNode(nc.Name, a, opts...), nil
	}
	return graph.NewNode(nc.Name, a, opts...), nil
}

// Engine builds an engine for the named workflow. Options apply in order:
// the workflow's declared options, WithGraphName, the factory's engine
// options, then extra.
func (f *Factory) Engine(workflow string, extra ...graph.Option) (*graph.Engine, error) {
	g, err := f.Graph(workflow)
	if err != nil {
		return nil, err
	}
	wc, _ := f.cfg.Workflow(workflow)
	opts := wc.Options.EngineOptions()
	opts = append(opts, graph.WithGraphName(workflow))
	opts = append(opts, f.engineOpts...)
	opts = append(opts, extra...)
	return graph.New(g, opts...)
}

// Workflows returns the declared workflow names, sorted.
func (f *Factory) Workflows() []string {
	names := make([]string, 0, len(f.cfg.Workflows))
	for n := range f.cfg.Workflows {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close releases cached model clients. Further calls to Model and Agent
// return ErrClosed.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	var errs []error
	for _, m := range f.models {
		if c, ok := m.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	f.models = nil
	f.agents = nil
	return errors.Join(errs...)
}
