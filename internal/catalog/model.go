// Package catalog loads and periodically refreshes the model descriptor
// list, deriving each model's sats pricing from the current oracle rate
// (spec.md §3, §4.B).
package catalog

// DollarPricing holds the per-token dollar prices quoted by the upstream
// model catalogue. request/image/web_search/internal_reasoning are carried
// through unmodified; only prompt/completion feed cost calculation.
type DollarPricing struct {
	Prompt           float64 `json:"prompt"`
	Completion       float64 `json:"completion"`
	Request          float64 `json:"request"`
	Image            float64 `json:"image"`
	WebSearch        float64 `json:"web_search"`
	InternalReasoning float64 `json:"internal_reasoning"`
}

// SatsPricing mirrors DollarPricing, converted to sats per spec.md §4.B,
// plus the derived MaxCost ceiling.
type SatsPricing struct {
	Prompt            float64 `json:"prompt"`
	Completion        float64 `json:"completion"`
	Request           float64 `json:"request"`
	Image             float64 `json:"image"`
	WebSearch         float64 `json:"web_search"`
	InternalReasoning float64 `json:"internal_reasoning"`
	MaxCost           float64 `json:"max_cost"`
}

// TopProvider carries context/completion limits used to bound MaxCost.
type TopProvider struct {
	ContextLength       int64 `json:"context_length"`
	MaxCompletionTokens int64 `json:"max_completion_tokens"`
	IsModerated         bool  `json:"is_moderated"`
}

// Default fallback limits when a model's top-provider metadata is absent
// (spec.md §3 invariant).
const (
	fallbackPromptTokens     = 1_048_576
	fallbackCompletionTokens = 32_000
)

// Model is an immutable-after-load descriptor. A fresh Model is built on
// every oracle tick; existing Model values are never mutated in place.
type Model struct {
	ID              string
	Name            string
	ContextLength   int64
	DollarPricing   DollarPricing
	TopProvider     *TopProvider
	SatsPricing     *SatsPricing
}

// deriveSatsPricing converts dollar pricing to sats pricing given the
// current sats-per-USD rate and computes MaxCost as the worst-case cost at
// full context plus full completion (spec.md §3).
func deriveSatsPricing(dollar DollarPricing, topProvider *TopProvider, satsPerUSD float64) *SatsPricing {
	promptTokens := int64(fallbackPromptTokens)
	completionTokens := int64(fallbackCompletionTokens)
	if topProvider != nil {
		if topProvider.ContextLength > 0 {
			promptTokens = topProvider.ContextLength
		}
		if topProvider.MaxCompletionTokens > 0 {
			completionTokens = topProvider.MaxCompletionTokens
		}
	}

	sats := &SatsPricing{
		Prompt:            dollar.Prompt * satsPerUSD,
		Completion:        dollar.Completion * satsPerUSD,
		Request:           dollar.Request * satsPerUSD,
		Image:             dollar.Image * satsPerUSD,
		WebSearch:         dollar.WebSearch * satsPerUSD,
		InternalReasoning: dollar.InternalReasoning * satsPerUSD,
	}

	if dollar.Prompt+dollar.Completion > 0 {
		maxCostDollars := dollar.Prompt*float64(promptTokens) + dollar.Completion*float64(completionTokens)
		sats.MaxCost = maxCostDollars * satsPerUSD
	}

	return sats
}
