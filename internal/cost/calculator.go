package cost

import (
	"sort"
	"strings"
	"sync"

	"github.com/sells-group/vqa-filter/pkg/vision"
)

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Rates maps model names to their pricing.
type Rates map[string]ModelRate

// Calculator computes costs for model usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Rate returns the pricing for model. Dated model ids fall back to the
// longest configured prefix, so "claude-sonnet-4-5" prices
// "claude-sonnet-4-5-20250929".
func (c *Calculator) Rate(model string) (ModelRate, bool) {
	if r, ok := c.rates[model]; ok {
		return r, true
	}
	best := ""
	for name := range c.rates {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return ModelRate{}, false
	}
	return c.rates[best], true
}

// Call computes the cost of one call. Unknown models cost 0.
func (c *Calculator) Call(model string, usage vision.Usage) float64 {
	rate, ok := c.Rate(model)
	if !ok {
		return 0
	}
	in := (float64(usage.InputTokens) / 1e6) * rate.Input
	out := (float64(usage.OutputTokens) / 1e6) * rate.Output
	return in + out
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		"claude-haiku-4-5":  {Input: 1.00, Output: 5.00},
		"claude-sonnet-4-5": {Input: 3.00, Output: 15.00},
		"claude-opus-4-6":   {Input: 15.00, Output: 75.00},
		"gemini-2.5-flash":  {Input: 0.30, Output: 2.50},
		"gemini-2.5-pro":    {Input: 1.25, Output: 10.00},
		"gpt-4o":            {Input: 2.50, Output: 10.00},
		"gpt-4o-mini":       {Input: 0.15, Output: 0.60},
	}
}

// ModelUsage is the accumulated usage of one model.
type ModelUsage struct {
	Model        string  `json:"model"`
	Calls        int     `json:"calls"`
	Errors       int     `json:"errors"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Tracker accumulates usage and cost per model. It implements
// vision.Observer and is safe for concurrent use.
type Tracker struct {
	calc *Calculator

	mu      sync.Mutex
	byModel map[string]*ModelUsage
}

// NewTracker creates a Tracker pricing calls with calc.
func NewTracker(calc *Calculator) *Tracker {
	if calc == nil {
		calc = NewCalculator(DefaultRates())
	}
	return &Tracker{calc: calc, byModel: make(map[string]*ModelUsage)}
}

// ObserveCall implements vision.Observer.
func (t *Tracker) ObserveCall(model string, usage vision.Usage, err error) {
	if model == "" {
		model = "unknown"
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	mu, ok := t.byModel[model]
	if !ok {
		mu = &ModelUsage{Model: model}
		t.byModel[model] = mu
	}
	mu.Calls++
	if err != nil {
		mu.Errors++
	}
	mu.InputTokens += usage.InputTokens
	mu.OutputTokens += usage.OutputTokens
	mu.CostUSD += t.calc.Call(model, usage)
}

// Snapshot returns per-model usage sorted by model name.
func (t *Tracker) Snapshot() []ModelUsage {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ModelUsage, 0, len(t.byModel))
	for _, mu := range t.byModel {
		out = append(out, *mu)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// Total sums usage across models.
func (t *Tracker) Total() ModelUsage {
	total := ModelUsage{Model: "total"}
	for _, mu := range t.Snapshot() {
		total.Calls += mu.Calls
		total.Errors += mu.Errors
		total.InputTokens += mu.InputTokens
		total.OutputTokens += mu.OutputTokens
		total.CostUSD += mu.CostUSD
	}
	return total
}
