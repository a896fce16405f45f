package session

import (
	"context"
	"strings"
)

// Price is the dollar cost per million tokens.
type Price struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// PriceTable maps model name prefixes to prices.
type PriceTable map[string]Price

// DefaultPrices covers the models the built-in drivers commonly serve.
var DefaultPrices = PriceTable{
	"claude-opus-4":     {15, 75},
	"claude-sonnet-4":   {3, 15},
	"claude-3-7-sonnet": {3, 15},
	"claude-3-5-sonnet": {3, 15},
	"claude-3-5-haiku":  {0.8, 4},
	"claude-3-opus":     {15, 75},
	"claude-3-haiku":    {0.25, 1.25},
	"gpt-4o":            {2.5, 10},
	"gpt-4o-mini":       {0.15, 0.6},
	"gpt-4.1":           {2, 8},
	"gpt-4.1-mini":      {0.4, 1.6},
	"gpt-4.1-nano":      {0.1, 0.4},
	"o1":                {15, 60},
	"o3":                {2, 8},
	"o3-mini":           {1.1, 4.4},
	"o4-mini":           {1.1, 4.4},
	"gemini-2.5-pro":    {1.25, 10},
	"gemini-2.5-flash":  {0.3, 2.5},
	"gemini-2.0-flash":  {0.1, 0.4},
	"deepseek-chat":     {0.27, 1.1},
	"deepseek-reasoner": {0.55, 2.19},
}

// Lookup finds the price of the longest prefix matching model. A vendor
// prefix such as "anthropic/" is ignored.
func (p PriceTable) Lookup(model string) (Price, bool) {
	model = strings.ToLower(model)
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	best := ""
	for prefix := range p {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return Price{}, false
	}
	return p[best], true
}

// Cost returns the dollar cost of the given token counts. Unknown models
// cost nothing.
func (p PriceTable) Cost(model string, input, output int64) float64 {
	price, ok := p.Lookup(model)
	if !ok {
		return 0
	}
	return float64(input)/1e6*price.InputPerMillion + float64(output)/1e6*price.OutputPerMillion
}

// AddUsage accumulates token counts for a model and recomputes its cost
// and the session total.
func (m *Manager) AddUsage(ctx context.Context, sessionID, model string, input, output int64, opts ...MutationOption) error {
	if input < 0 {
		input = 0
	}
	if output < 0 {
		output = 0
	}
	if model == "" {
		model = "unknown"
	}
	return m.mutate(ctx, sessionID, opts, func(e *entry) ([]Event, error) {
		acc := &e.session.Accounting
		usage := acc.Models[model]
		if usage == nil {
			usage = &ModelUsage{}
			acc.Models[model] = usage
		}
		usage.InputTokens += input
		usage.OutputTokens += output
		usage.Calls++
		usage.Cost = m.prices.Cost(model, usage.InputTokens, usage.OutputTokens)

		total := 0.0
		for _, u := range acc.Models {
			total += u.Cost
		}
		acc.TotalCost = total
		return nil, nil
	})
}
