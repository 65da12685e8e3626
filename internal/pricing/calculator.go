package pricing

import (
	"routstr-proxy/internal/catalog"

	"github.com/shopspring/decimal"
)

// Usage is the token-count signal extracted from an upstream response
// (spec.md §4.H). A nil *Usage means no usage could be extracted at all.
type Usage struct {
	Model            string
	PromptTokens     int64
	CompletionTokens int64
}

// modelLookup abstracts the model catalogue so the calculator can be tested
// without a live Catalog.
type modelLookup interface {
	Lookup(id string) (catalog.Model, bool)
}

// Config carries the flat-tariff prices and model-based pricing toggle from
// spec.md §6's environment variables. Flat prices are already in msat; the
// caller converts the sats-denominated env values (×1000) before calling New.
type Config struct {
	ModelBasedPricing   bool
	CostPerRequestMsat  int64
	CostPer1kInputMsat  int64
	CostPer1kOutputMsat int64
}

// Calculator is the Cost Calculator (spec.md §4.I).
type Calculator struct {
	cfg      Config
	catalog  modelLookup
}

// New constructs a Calculator. catalog may be nil only when cfg disables
// model-based pricing entirely.
func New(cfg Config, catalog modelLookup) *Calculator {
	return &Calculator{cfg: cfg, catalog: catalog}
}

// Calculate implements spec.md §4.I's four-step algorithm:
//  1. no usage -> MaxCost at the full pre-authorisation.
//  2. resolve a per-1k-token price pair, flat or model-based.
//  3. either price being zero falls back to flat MaxCost.
//  4. otherwise round each component to 3 decimal places, then ceil the sum.
func (c *Calculator) Calculate(usage *Usage, maxCostMsat int64) Cost {
	if usage == nil {
		return newMaxCost(maxCostMsat)
	}

	perKInput, perKOutput, errCost := c.resolvePrices(usage.Model)
	if errCost != nil {
		return *errCost
	}

	if perKInput == 0 || perKOutput == 0 {
		return newMaxCost(maxCostMsat)
	}

	inputMsat := roundTo3(decimal.NewFromInt(usage.PromptTokens).Div(decimal.NewFromInt(1000)).Mul(decimal.NewFromFloat(perKInput)))
	outputMsat := roundTo3(decimal.NewFromInt(usage.CompletionTokens).Div(decimal.NewFromInt(1000)).Mul(decimal.NewFromFloat(perKOutput)))

	total := inputMsat.Add(outputMsat).Ceil()

	return Cost{
		Kind: KindMeasured,
		Measured: &Measured{
			InputMsat:  inputMsat.IntPart(),
			OutputMsat: outputMsat.IntPart(),
			TotalMsat:  total.IntPart(),
		},
	}
}

// resolvePrices returns the msat-per-1000-tokens price pair. A non-nil
// *Cost return means resolution failed (CostError) and the caller should
// propagate it unchanged.
func (c *Calculator) resolvePrices(model string) (perKInput, perKOutput float64, errCost *Cost) {
	if !c.ModelBased() {
		return float64(c.cfg.CostPer1kInputMsat), float64(c.cfg.CostPer1kOutputMsat), nil
	}

	m, ok := c.catalog.Lookup(model)
	if !ok {
		cost := newError(ReasonModelNotFound, model)
		return 0, 0, &cost
	}
	if m.SatsPricing == nil {
		cost := newError(ReasonPricingNotFound, model)
		return 0, 0, &cost
	}

	return m.SatsPricing.Prompt * 1_000_000, m.SatsPricing.Completion * 1_000_000, nil
}

// ModelBased reports whether model-based pricing is configured. Callers
// must pass a non-nil catalogue to New whenever cfg.ModelBasedPricing is
// true.
func (c *Calculator) ModelBased() bool {
	return c.cfg.ModelBasedPricing
}

func roundTo3(d decimal.Decimal) decimal.Decimal {
	return d.Round(3)
}
