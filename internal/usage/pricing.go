// pricing.go holds the static per-model-family cost table. Lookup is by
// substring match on the model name so dated releases (claude-3-sonnet-
// 20240229) price like their family. Unknown models yield no cost rather
// than a guessed one — billing consumers treat absent cost as "meter
// tokens only".
package usage

import "strings"

// modelPrice is USD per 1K tokens.
type modelPrice struct {
	family     string
	prompt     float64
	completion float64
}

// priceTable is ordered: more specific families first so "gpt-4o-mini"
// does not price as "gpt-4".
var priceTable = []modelPrice{
	{"gpt-4o-mini", 0.00015, 0.0006},
	{"gpt-4o", 0.005, 0.015},
	{"gpt-4-turbo", 0.01, 0.03},
	{"gpt-4", 0.03, 0.06},
	{"gpt-3.5-turbo", 0.0005, 0.0015},

	{"claude-3-5-sonnet", 0.003, 0.015},
	{"claude-3-5-haiku", 0.0008, 0.004},
	{"claude-3-opus", 0.015, 0.075},
	{"claude-3-sonnet", 0.003, 0.015},
	{"claude-3-haiku", 0.00025, 0.00125},

	{"gemini-1.5-pro", 0.0035, 0.0105},
	{"gemini-1.5-flash", 0.000075, 0.0003},
	{"gemini-pro", 0.0005, 0.0015},
}

// Cost computes the request cost in USD, or nil for unknown models or
// missing token counts.
func Cost(model string, promptTokens, completionTokens *int64) *float64 {
	if model == "" || promptTokens == nil || completionTokens == nil {
		return nil
	}
	lower := strings.ToLower(model)
	for _, p := range priceTable {
		if strings.Contains(lower, p.family) {
			cost := float64(*promptTokens)/1000*p.prompt + float64(*completionTokens)/1000*p.completion
			return &cost
		}
	}
	return nil
}
