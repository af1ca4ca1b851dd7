package model

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Pricing is the token cost of a model in USD per million tokens.
type Pricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// DefaultPricing holds list prices for common models. Unknown models are
// recorded at zero cost.
var DefaultPricing = map[string]Pricing{
	"gpt-4o":                   {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":              {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4.1":                  {InputPer1M: 2.00, OutputPer1M: 8.00},
	"gpt-4.1-mini":             {InputPer1M: 0.40, OutputPer1M: 1.60},
	"gpt-4-turbo":              {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo":            {InputPer1M: 0.50, OutputPer1M: 1.50},
	"claude-3-5-sonnet-latest": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-haiku-latest":  {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-3-opus-latest":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-sonnet-4-0":        {InputPer1M: 3.00, OutputPer1M: 15.00},
	"gemini-1.5-pro":           {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":         {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-2.0-flash":         {InputPer1M: 0.10, OutputPer1M: 0.40},
}

// Call is one recorded model invocation.
type Call struct {
	Model        string
	Agent        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
}

// CostTracker accumulates token usage and cost across model calls. Agents
// record into it after every Chat; one tracker may be shared by all agents
// of a process.
//
// Safe for concurrent use.
type CostTracker struct {
	mu           sync.RWMutex
	pricing      map[string]Pricing
	calls        []Call
	total        float64
	byModel      map[string]float64
	byAgent      map[string]float64
	inputTokens  int64
	outputTokens int64
}

// NewCostTracker returns a tracker using DefaultPricing.
func NewCostTracker() *CostTracker {
	pricing := make(map[string]Pricing, len(DefaultPricing))
	for k, v := range DefaultPricing {
		pricing[k] = v
	}
	return &CostTracker{
		pricing: pricing,
		byModel: make(map[string]float64),
		byAgent: make(map[string]float64),
	}
}

// SetPricing overrides the price of model.
func (ct *CostTracker) SetPricing(model string, p Pricing) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.pricing[model] = p
}

// Record adds one call and returns its cost in USD.
func (ct *CostTracker) Record(model, agent string, usage Usage) float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	p := ct.pricing[model]
	cost := float64(usage.InputTokens)/1_000_000*p.InputPer1M +
		float64(usage.OutputTokens)/1_000_000*p.OutputPer1M

	ct.calls = append(ct.calls, Call{
		Model:        model,
		Agent:        agent,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostUSD:      cost,
		Timestamp:    time.Now(),
	})
	ct.total += cost
	ct.byModel[model] += cost
	ct.byAgent[agent] += cost
	ct.inputTokens += int64(usage.InputTokens)
	ct.outputTokens += int64(usage.OutputTokens)
	return cost
}

// TotalCost returns the cumulative cost in USD.
func (ct *CostTracker) TotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.total
}

// CostByModel returns a copy of the per-model cost breakdown.
func (ct *CostTracker) CostByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return copyCosts(ct.byModel)
}

// CostByAgent returns a copy of the per-agent cost breakdown.
func (ct *CostTracker) CostByAgent() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return copyCosts(ct.byAgent)
}

// Calls returns the recorded calls in order.
func (ct *CostTracker) Calls() []Call {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	out := make([]Call, len(ct.calls))
	copy(out, ct.calls)
	return out
}

// TokenUsage returns the total input and output tokens.
func (ct *CostTracker) TokenUsage() (input, output int64) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.inputTokens, ct.outputTokens
}

// Reset clears recorded calls, keeping pricing.
func (ct *CostTracker) Reset() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.calls = nil
	ct.total = 0
	ct.byModel = make(map[string]float64)
	ct.byAgent = make(map[string]float64)
	ct.inputTokens, ct.outputTokens = 0, 0
}

// String summarizes the tracker, agents sorted by name.
func (ct *CostTracker) String() string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	agents := make([]string, 0, len(ct.byAgent))
	for a := range ct.byAgent {
		agents = append(agents, a)
	}
	sort.Strings(agents)

	s := fmt.Sprintf("calls=%d cost=$%.4f tokens_in=%d tokens_out=%d",
		len(ct.calls), ct.total, ct.inputTokens, ct.outputTokens)
	for _, a := range agents {
		s += fmt.Sprintf(" %s=$%.4f", a, ct.byAgent[a])
	}
	return s
}

func copyCosts(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
