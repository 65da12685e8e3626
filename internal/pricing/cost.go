// Package pricing implements the Cost Calculator (spec.md §4.I): a closed
// sum type over the three ways a request's cost can be known, and the
// flat/model-based calculation that produces one.
package pricing

// Cost is a closed sum type. Exactly one of MaxCost, Measured, or Error is
// populated, mirroring spec.md §9's "pattern-match exhaustively" design
// note. Callers should switch on Kind rather than checking fields directly.
type Cost struct {
	Kind    CostKind
	MaxCost *MaxCost
	Measured *Measured
	Error   *CostError
}

type CostKind int

const (
	KindMaxCost CostKind = iota
	KindMeasured
	KindError
)

// MaxCost is charged when no usage was extracted from the upstream response
// (spec.md §4.I step 1) — the full pre-authorisation is kept.
type MaxCost struct {
	BaseMsat  int64
	TotalMsat int64
}

// Measured is the usual case: a per-component cost derived from extracted
// token counts.
type Measured struct {
	InputMsat  int64
	OutputMsat int64
	TotalMsat  int64
}

// CostError covers the two ways model-based pricing can fail to resolve a
// price (spec.md §4.I step 2).
type CostErrorReason string

const (
	ReasonModelNotFound   CostErrorReason = "model_not_found"
	ReasonPricingNotFound CostErrorReason = "pricing_not_found"
)

type CostError struct {
	Reason CostErrorReason
	Model  string
}

func (e *CostError) Error() string {
	if e.Model != "" {
		return string(e.Reason) + ": " + e.Model
	}
	return string(e.Reason)
}

func newMaxCost(baseMsat int64) Cost {
	return Cost{Kind: KindMaxCost, MaxCost: &MaxCost{BaseMsat: baseMsat, TotalMsat: baseMsat}}
}

func newMeasured(inputMsat, outputMsat int64) Cost {
	total := inputMsat + outputMsat
	return Cost{Kind: KindMeasured, Measured: &Measured{InputMsat: inputMsat, OutputMsat: outputMsat, TotalMsat: total}}
}

func newError(reason CostErrorReason, model string) Cost {
	return Cost{Kind: KindError, Error: &CostError{Reason: reason, Model: model}}
}

// TotalMsat returns the settled amount for any Cost variant — for CostError
// the caller is expected to have already aborted before settlement, so this
// returns zero.
func (c Cost) TotalMsat() int64 {
	switch c.Kind {
	case KindMaxCost:
		return c.MaxCost.TotalMsat
	case KindMeasured:
		return c.Measured.TotalMsat
	default:
		return 0
	}
}
