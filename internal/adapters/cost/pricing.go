package cost

import (
	"sort"
	"strings"
)

// DefaultBatchDiscount is the fraction of the standard rate charged in batch mode
const DefaultBatchDiscount = 0.5

// Price is the USD rate per million tokens for one model
type Price struct {
	InputPerMillion  float64 `yaml:"input_per_million" json:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million" json:"output_per_million"`
}

// Table maps model names to prices
type Table struct {
	Models        map[string]Price
	Default       Price   // used for unknown models
	BatchDiscount float64 // multiplier applied in batch mode
}

// DefaultTable returns the built-in pricing table
func DefaultTable() Table {
	return Table{
		Models: map[string]Price{
			"gpt-4o":           {InputPerMillion: 2.50, OutputPerMillion: 10.00},
			"gpt-4o-mini":      {InputPerMillion: 0.15, OutputPerMillion: 0.60},
			"gpt-4.1":          {InputPerMillion: 2.00, OutputPerMillion: 8.00},
			"gpt-4.1-mini":     {InputPerMillion: 0.40, OutputPerMillion: 1.60},
			"gpt-4.1-nano":     {InputPerMillion: 0.10, OutputPerMillion: 0.40},
			"o4-mini":          {InputPerMillion: 1.10, OutputPerMillion: 4.40},
			"gemini-1.5-pro":   {InputPerMillion: 1.25, OutputPerMillion: 5.00},
			"gemini-1.5-flash": {InputPerMillion: 0.075, OutputPerMillion: 0.30},
			"gemini-2.0-flash": {InputPerMillion: 0.10, OutputPerMillion: 0.40},
			"gemini-2.5-pro":   {InputPerMillion: 1.25, OutputPerMillion: 10.00},
			"gemini-2.5-flash": {InputPerMillion: 0.30, OutputPerMillion: 2.50},
		},
		// Conservative: the most expensive rates in the table
		Default:       Price{InputPerMillion: 2.50, OutputPerMillion: 10.00},
		BatchDiscount: DefaultBatchDiscount,
	}
}

// Merge returns a copy of t with overrides added or replacing existing entries
func (t Table) Merge(overrides map[string]Price) Table {
	merged := Table{
		Models:        make(map[string]Price, len(t.Models)+len(overrides)),
		Default:       t.Default,
		BatchDiscount: t.BatchDiscount,
	}
	for name, p := range t.Models {
		merged.Models[name] = p
	}
	for name, p := range overrides {
		merged.Models[strings.ToLower(name)] = p
	}
	return merged
}

// Price returns the price for a model: exact match, then longest known prefix, then the default tier.
// The second return value is false when the default tier was used.
func (t Table) Price(model string) (Price, bool) {
	name := strings.ToLower(strings.TrimSpace(model))
	if p, ok := t.Models[name]; ok {
		return p, true
	}

	// Dated snapshots such as "gpt-4o-2024-08-06"
	best := ""
	for known := range t.Models {
		if strings.HasPrefix(name, known+"-") && len(known) > len(best) {
			best = known
		}
	}
	if best != "" {
		return t.Models[best], true
	}
	return t.Default, false
}

// Estimate returns the dollar cost of the given token counts
func (t Table) Estimate(model string, inputTokens, outputTokens int64, batch bool) float64 {
	p, _ := t.Price(model)
	c := float64(inputTokens)/1e6*p.InputPerMillion + float64(outputTokens)/1e6*p.OutputPerMillion
	if batch {
		c *= t.batchMultiplier()
	}
	return c
}

func (t Table) batchMultiplier() float64 {
	if t.BatchDiscount <= 0 || t.BatchDiscount > 1 {
		return DefaultBatchDiscount
	}
	return t.BatchDiscount
}

// ModelNames returns the known model names in sorted order
func (t Table) ModelNames() []string {
	names := make([]string, 0, len(t.Models))
	for name := range t.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
