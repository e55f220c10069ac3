package pipeline

import (
	"sort"
	"sync"
)

// ModelPricing is the USD cost per one million input and output tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Static pricing for the models devloop is typically configured with.
// Prices in USD per 1M tokens; update as providers adjust their price lists.
var defaultModelPricing = map[string]ModelPricing{
	// OpenAI
	"gpt-4o":        {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":   {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":   {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo": {InputPer1M: 0.50, OutputPer1M: 1.50},

	// Anthropic
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},

	// Google Gemini
	"gemini-1.5-pro":   {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash": {InputPer1M: 0.075, OutputPer1M: 0.30},

	// Groq-hosted open models
	"llama-3.3-70b-versatile": {InputPer1M: 0.59, OutputPer1M: 0.79},
	"llama-3.1-8b-instant":    {InputPer1M: 0.05, OutputPer1M: 0.08},
	"mixtral-8x7b-32768":      {InputPer1M: 0.24, OutputPer1M: 0.24},
}

// modelUsage accumulates per-model token counts and spend.
type modelUsage struct {
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// CostTracker accumulates LLM spend for a run using a static pricing table.
// Safe for concurrent use.
//
// Models missing from the pricing table are tracked with zero cost so token
// counts stay accurate even when pricing is unknown.
type CostTracker struct {
	mu      sync.Mutex
	runID   string
	pricing map[string]ModelPricing
	usage   map[string]*modelUsage
}

// NewCostTracker creates a tracker for runID using the default pricing table.
func NewCostTracker(runID string) *CostTracker {
	pricing := make(map[string]ModelPricing, len(defaultModelPricing))
	for k, v := range defaultModelPricing {
		pricing[k] = v
	}
	return &CostTracker{
		runID:   runID,
		pricing: pricing,
		usage:   make(map[string]*modelUsage),
	}
}

// SetPricing overrides or adds pricing for a model.
func (t *CostTracker) SetPricing(model string, p ModelPricing) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pricing[model] = p
}

// RunID returns the run this tracker was created for.
func (t *CostTracker) RunID() string {
	return t.runID
}

// Record adds one LLM call's token usage for model.
func (t *CostTracker) Record(model string, inputTokens, outputTokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.usage[model]
	if !ok {
		u = &modelUsage{}
		t.usage[model] = u
	}

	u.InputTokens += inputTokens
	u.OutputTokens += outputTokens

	if p, ok := t.pricing[model]; ok {
		u.Cost += float64(inputTokens)/1_000_000*p.InputPer1M +
			float64(outputTokens)/1_000_000*p.OutputPer1M
	}
}

// TotalCost returns the accumulated spend in USD across all models.
func (t *CostTracker) TotalCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total float64
	for _, u := range t.usage {
		total += u.Cost
	}
	return total
}

// CostByModel returns per-model spend in USD.
func (t *CostTracker) CostByModel() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]float64, len(t.usage))
	for model, u := range t.usage {
		out[model] = u.Cost
	}
	return out
}

// TotalTokens returns total input and output tokens across all models.
func (t *CostTracker) TotalTokens() (input, output int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, u := range t.usage {
		input += u.InputTokens
		output += u.OutputTokens
	}
	return input, output
}

// Models returns the models seen so far, sorted.
func (t *CostTracker) Models() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	models := make([]string, 0, len(t.usage))
	for m := range t.usage {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}
