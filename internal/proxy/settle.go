package proxy

import (
	"context"

	"routstr-proxy/internal/pricing"
	"routstr-proxy/pkg/logger"

	"go.uber.org/zap"
)

// cashuUpstreamErrorFee is the fixed deduction charged on the Cashu rail
// when the upstream response was a non-2xx status (spec.md §4.J). Per
// original_source's send_refund, this is 60 units of the token's own unit
// (sat or msat), subtracted without conversion -- not normalized to msat
// (see DESIGN.md "Open questions resolved" #3).
const cashuUpstreamErrorFee = 60

// settlementOutcome is what the pipeline needs after settling, to decide
// what (if anything) goes on the response.
type settlementOutcome struct {
	finalMsat   int64
	refundMsat  int64
	refundToken string
}

// settleAccount implements spec.md §4.J's account-rail rule: refund
// pre_auth - final, clamped at zero by the ledger, and record the spend.
func (h *Handler) settleAccount(ctx context.Context, hashedKey string, preAuthMsat int64, cost pricing.Cost) (settlementOutcome, error) {
	finalMsat := cost.TotalMsat()
	refundMsat := preAuthMsat - finalMsat

	if err := h.ledger.Credit(ctx, hashedKey, refundMsat, finalMsat); err != nil {
		return settlementOutcome{}, err
	}
	return settlementOutcome{finalMsat: finalMsat, refundMsat: clampZero(refundMsat)}, nil
}

// settleCashu implements spec.md §4.J's Cashu-rail rule: compute the
// refund in the token's own unit and mint it back via Wallet.Send.
// upstreamNon2xx deducts the fixed cashuUpstreamErrorFee (in the token's
// own unit) instead of the calculated cost.
func (h *Handler) settleCashu(ctx context.Context, preAuthMsat int64, unit, mintURL string, cost pricing.Cost, upstreamNon2xx bool) (settlementOutcome, error) {
	var refundUnit int64
	var finalMsat int64

	if upstreamNon2xx {
		preAuthUnit := refundInUnit(preAuthMsat, unit)
		refundUnit = clampZero(preAuthUnit - cashuUpstreamErrorFee)
		finalMsat = preAuthMsat - unitToMsat(refundUnit, unit)
	} else {
		finalMsat = cost.TotalMsat()
		refundUnit = clampZero(refundInUnit(clampZero(preAuthMsat-finalMsat), unit))
	}

	outcome := settlementOutcome{finalMsat: finalMsat, refundMsat: unitToMsat(refundUnit, unit)}
	if refundUnit <= 0 {
		return outcome, nil
	}

	token, err := h.wallet.Send(ctx, refundUnit, unit, mintURL)
	if err != nil {
		logger.Warn("cashu refund mint failed, refund not delivered",
			zap.String("mint", mintURL),
			zap.Int64("refund_unit_amount", refundUnit),
			zap.Error(err),
		)
		return outcome, err
	}
	outcome.refundToken = token
	return outcome, nil
}

// emergencyRefund restores the full pre-authorisation when the response
// body could be parsed as neither JSON nor SSE (spec.md §4.J's emergency
// path): the original upstream bytes are passed through unchanged and the
// caller is made whole.
func (h *Handler) emergencyRefund(ctx context.Context, credential Credential, preAuthMsat int64, unit, mintURL string) settlementOutcome {
	logger.Warn("emergency refund: upstream response was unparseable",
		zap.String("rail", railName(credential.Rail)),
		zap.Int64("pre_auth_msat", preAuthMsat),
	)

	if credential.Rail == RailAccount {
		if err := h.ledger.Credit(ctx, credential.HashedKey, preAuthMsat, 0); err != nil {
			logger.Error("emergency refund failed to credit account", zap.Error(err))
		}
		return settlementOutcome{finalMsat: 0, refundMsat: preAuthMsat}
	}

	refundUnit := refundInUnit(preAuthMsat, unit)
	outcome := settlementOutcome{finalMsat: 0, refundMsat: preAuthMsat}
	if refundUnit <= 0 {
		return outcome
	}
	token, err := h.wallet.Send(ctx, refundUnit, unit, mintURL)
	if err != nil {
		logger.Error("emergency cashu refund mint failed", zap.Error(err))
		return outcome
	}
	outcome.refundToken = token
	return outcome
}

// refundInUnit converts an msat amount to the token's own unit, following
// spec.md §4.J's conversion rule (floor for sat, identity for msat).
func refundInUnit(amountMsat int64, unit string) int64 {
	if unit == "sat" {
		return amountMsat / 1000
	}
	return amountMsat
}

// unitToMsat converts an amount already in the token's own unit back to
// msat, for bookkeeping (audit events, ledger-style accounting) that is
// always expressed in msat regardless of rail.
func unitToMsat(amount int64, unit string) int64 {
	if unit == "sat" {
		return amount * 1000
	}
	return amount
}

func clampZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func railName(r Rail) string {
	switch r {
	case RailAccount:
		return "account"
	case RailCashu:
		return "cashu"
	default:
		return "unknown"
	}
}
