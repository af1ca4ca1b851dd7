package graph

import (
	"fmt"
	"maps"
)

// RuleKind enumerates the selection rules a Filter can apply to a source.
type RuleKind int

const (
	// RuleAll exposes the source's full history. It is the zero value.
	RuleAll RuleKind = iota

	// RuleLast exposes only the N most recent messages of the source.
	RuleLast

	// RuleFirst exposes only the N earliest messages of the source.
	RuleFirst

	// RuleNone hides the source entirely.
	RuleNone
)

// String returns the rule kind name used in configuration files.
func (k RuleKind) String() string {
	switch k {
	case RuleAll:
		return "all"
	case RuleLast:
		return "last"
	case RuleFirst:
		return "first"
	case RuleNone:
		return "none"
	default:
		return fmt.Sprintf("RuleKind(%d)", int(k))
	}
}

// Rule selects which messages of a single source a node may see.
type Rule struct {
	Kind RuleKind
	N    int
}

// All returns a rule exposing every message of a source.
func All() Rule { return Rule{Kind: RuleAll} }

// Last returns a rule exposing the n most recent messages of a source.
func Last(n int) Rule { return Rule{Kind: RuleLast, N: n} }

// First returns a rule exposing the n earliest messages of a source.
func First(n int) Rule { return Rule{Kind: RuleFirst, N: n} }

// None returns a rule hiding a source entirely.
func None() Rule { return Rule{Kind: RuleNone} }

func (r Rule) validate() error {
	switch r.Kind {
	case RuleAll, RuleNone:
		return nil
	case RuleLast, RuleFirst:
		if r.N <= 0 {
			return fmt.Errorf("%s rule requires a positive count, got %d", r.Kind, r.N)
		}
		return nil
	default:
		return fmt.Errorf("unknown rule kind %d", int(r.Kind))
	}
}

// Filter restricts the view a node gets of the message history.
//
// Rules maps a source node name to its selection rule. Sources without an
// entry use Default, whose zero value is All. The zero Filter is
// unrestricted. Filters only shape views; they never change the Log.
//
// Example, exposing only the writer's latest draft:
//
//	f := graph.Filter{
//	    Rules:   map[string]graph.Rule{"writer": graph.Last(1)},
//	    Default: graph.None(),
//	}
type Filter struct {
	Rules   map[string]Rule
	Default Rule
}

// IsZero reports whether the filter applies no restriction.
func (f Filter) IsZero() bool {
	return len(f.Rules) == 0 && f.Default.Kind == RuleAll
}

// Validate checks every rule in the filter.
func (f Filter) Validate() error {
	if err := f.Default.validate(); err != nil {
		return fmt.Errorf("default: %w", err)
	}
	for source, r := range f.Rules {
		if err := r.validate(); err != nil {
			return fmt.Errorf("source %q: %w", source, err)
		}
	}
	return nil
}

// clone returns a filter that shares no map with f.
func (f Filter) clone() Filter {
	f.Rules = maps.Clone(f.Rules)
	return f
}

func (f Filter) ruleFor(source string) Rule {
	if r, ok := f.Rules[source]; ok {
		return r
	}
	return f.Default
}

// Apply returns the messages admitted by the filter, in their original order.
func (f Filter) Apply(msgs []Message) []Message {
	keep := f.selection(msgs)
	out := make([]Message, 0, len(msgs))
	for i, m := range msgs {
		if keep[i] {
			out = append(out, m)
		}
	}
	return out
}

// selection marks which positions of msgs the filter admits.
func (f Filter) selection(msgs []Message) []bool {
	keep := make([]bool, len(msgs))
	if f.IsZero() {
		for i := range keep {
			keep[i] = true
		}
		return keep
	}

	bySource := make(map[string][]int)
	var order []string
	for i, m := range msgs {
		if _, seen := bySource[m.Source]; !seen {
			order = append(order, m.Source)
		}
		bySource[m.Source] = append(bySource[m.Source], i)
	}

	for _, source := range order {
		positions := bySource[source]
		r := f.ruleFor(source)
		switch r.Kind {
		case RuleAll:
			for _, p := range positions {
				keep[p] = true
			}
		case RuleLast:
			start := len(positions) - r.N
			if start < 0 {
				start = 0
			}
			for _, p := range positions[start:] {
				keep[p] = true
			}
		case RuleFirst:
			end := r.N
			if end > len(positions) {
				end = len(positions)
			}
			for _, p := range positions[:end] {
				keep[p] = true
			}
		case RuleNone:
		}
	}
	return keep
}

// unionView applies each filter to the same thread and returns the union of
// admitted messages. Duplicates collapse and thread order is preserved.
func unionView(thread []Message, filters []Filter) []Message {
	if len(filters) == 0 {
		out := make([]Message, len(thread))
		copy(out, thread)
		return out
	}

	keep := make([]bool, len(thread))
	for _, f := range filters {
		for i, ok := range f.selection(thread) {
			if ok {
				keep[i] = true
			}
		}
	}

	out := make([]Message, 0, len(thread))
	for i, m := range thread {
		if keep[i] {
			out = append(out, m)
		}
	}
	return out
}
