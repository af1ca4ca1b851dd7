package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dshills/hivegraph/graph"
)

// ParseRule parses "all", "none", "last:N" or "first:N". An empty string is
// "all".
func ParseRule(s string) (graph.Rule, error) {
	kind, arg, hasArg := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	switch kind {
	case "", "all":
		if hasArg {
			return graph.Rule{}, fmt.Errorf("rule %q takes no count", s)
		}
		return graph.All(), nil
	case "none":
		if hasArg {
			return graph.Rule{}, fmt.Errorf("rule %q takes no count", s)
		}
		return graph.None(), nil
	case "last", "first":
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return graph.Rule{}, fmt.Errorf("rule %q needs a positive count", s)
		}
		if kind == "last" {
			return graph.Last(n), nil
		}
		return graph.First(n), nil
	default:
		return graph.Rule{}, fmt.Errorf("unknown filter rule %q", s)
	}
}

// Filter converts the declaration into a graph.Filter.
func (f *FilterConfig) Filter() (graph.Filter, error) {
	if f == nil {
		return graph.Filter{}, nil
	}
	def, err := ParseRule(f.Default)
	if err != nil {
		return graph.Filter{}, err
	}
	out := graph.Filter{Default: def}
	if len(f.Rules) > 0 {
		out.Rules = make(map[string]graph.Rule, len(f.Rules))
		for source, raw := range f.Rules {
			r, err := ParseRule(raw)
			if err != nil {
				return graph.Filter{}, fmt.Errorf("source %s: %w", source, err)
			}
			out.Rules[source] = r
		}
	}
	return out, nil
}

// Predicate converts the condition into an edge predicate. A nil condition
// yields a nil predicate.
func (c *ConditionConfig) Predicate() (graph.Predicate, error) {
	if c == nil {
		return nil, nil
	}
	var re *regexp.Regexp
	if c.Matches != "" {
		var err error
		if re, err = regexp.Compile(c.Matches); err != nil {
			return nil, fmt.Errorf("invalid matches pattern: %w", err)
		}
	}
	cond := *c
	return func(msg graph.Message) bool {
		if cond.Contains != "" && !strings.Contains(msg.Content, cond.Contains) {
			return false
		}
		if cond.NotContains != "" && strings.Contains(msg.Content, cond.NotContains) {
			return false
		}
		if re != nil && !re.MatchString(msg.Content) {
			return false
		}
		if cond.Status != "" && string(msg.Status) != cond.Status {
			return false
		}
		return true
	}, nil
}

// EngineOptions returns the engine options declared for a workflow.
func (o OptionsConfig) EngineOptions() []graph.Option {
	var opts []graph.Option
	if o.MaxNodeInvocations > 0 {
		opts = append(opts, graph.WithMaxNodeInvocations(o.MaxNodeInvocations))
	}
	if o.MaxTurns > 0 {
		opts = append(opts, graph.WithMaxTurns(o.MaxTurns))
	}
	if o.MaxConcurrency > 0 {
		opts = append(opts, graph.WithMaxConcurrency(o.MaxConcurrency))
	}
	if o.NodeTimeout > 0 {
		opts = append(opts, graph.WithNodeTimeout(o.NodeTimeout))
	}
	return opts
}

// NodeOptions returns the graph node options declared for n. retryable
// classifies errors for the declared retry policy.
func (n NodeConfig) NodeOptions(retryable func(error) bool) ([]graph.NodeOption, error) {
	var opts []graph.NodeOption
	switch n.Role {
	case "entry":
		opts = append(opts, graph.AsEntry())
	case "terminal":
		opts = append(opts, graph.AsTerminal())
	}
	if n.Activation == "any" {
		opts = append(opts, graph.WithActivation(graph.ActivationAny))
	}
	if n.Filter != nil {
		f, err := n.Filter.Filter()
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.Name, err)
		}
		opts = append(opts, graph.WithNodeFilter(f))
	}
	if n.Timeout > 0 || n.Retry != nil {
		policy := graph.NodePolicy{Timeout: n.Timeout}
		if n.Retry != nil {
			policy.RetryPolicy = &graph.RetryPolicy{
				MaxAttempts: n.Retry.MaxAttempts,
				BaseDelay:   n.Retry.BaseDelay,
				MaxDelay:    n.Retry.MaxDelay,
				Retryable:   retryable,
			}
		}
		opts = append(opts, graph.WithPolicy(policy))
	}
	return opts, nil
}

// EdgeOptions returns the graph edge options declared for e.
func (e EdgeConfig) EdgeOptions() ([]graph.EdgeOption, error) {
	var opts []graph.EdgeOption
	if e.Filter != nil {
		f, err := e.Filter.Filter()
		if err != nil {
			return nil, fmt.Errorf("edge %s->%s: %w", e.From, e.To, err)
		}
		opts = append(opts, graph.WithFilter(f))
	}
	if e.When != nil {
		p, err := e.When.Predicate()
		if err != nil {
			return nil, fmt.Errorf("edge %s->%s: %w", e.From, e.To, err)
		}
		opts = append(opts, graph.When(p))
	}
	return opts, nil
}
