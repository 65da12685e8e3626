package proxy

import (
	"context"
	"math"
	"net/http"

	"routstr-proxy/internal/crypto"
)

// incomingRequestBody is the slice of the client's JSON body Pre-charge
// Admission needs (spec.md §4.F): just the model name. The rest of the
// body is forwarded untouched.
type incomingRequestBody struct {
	Model string `json:"model"`
}

// admissionResult is what the pipeline carries forward into forwarding and
// settlement.
type admissionResult struct {
	preAuthMsat int64
	cashuUnit   string
	cashuMint   string
}

// getMaxCostForModel implements spec.md §4.F's get_max_cost_for_model:
// flat tariff unless model-based pricing is enabled, the catalogue is
// non-empty, and the model is both named and present with sats pricing.
func (h *Handler) getMaxCostForModel(model string) int64 {
	if !h.cfg.ModelBasedPricing || h.catalog.Empty() || model == "" {
		return h.cfg.CostPerRequestMsat
	}

	m, ok := h.catalog.Lookup(model)
	if !ok || m.SatsPricing == nil {
		return h.cfg.CostPerRequestMsat
	}

	tolerance := float64(h.cfg.TolerancePercent) / 100
	maxCostMsat := m.SatsPricing.MaxCost * 1000 * (1 - tolerance)
	return int64(math.Floor(maxCostMsat))
}

// admitAccount enforces the account-rail admission rules (spec.md §4.F):
// the key must not be expired, and the balance must cover maxCostMsat.
func (h *Handler) admitAccount(ctx context.Context, hashedKey string, maxCostMsat int64) (admissionResult, error) {
	account, err := h.ledger.GetOrCreate(ctx, hashedKey)
	if err != nil {
		return admissionResult{}, err
	}
	if err := h.ledger.CheckNotExpired(account, unixNow()); err != nil {
		return admissionResult{}, err
	}

	if account.BalanceMsat < maxCostMsat {
		return admissionResult{}, &InsufficientBalanceError{Rail: RailAccount, AmountRequiredMsat: maxCostMsat}
	}

	if err := h.ledger.Debit(ctx, hashedKey, maxCostMsat); err != nil {
		return admissionResult{}, err
	}
	return admissionResult{preAuthMsat: maxCostMsat}, nil
}

// admitCashu redeems the bearer token now (spec.md §4.F: "the token is
// redeemed now"); the redeemed amount replaces the token's claimed amount
// as the authoritative pre-authorisation.
func (h *Handler) admitCashu(ctx context.Context, token string, maxCostMsat int64, model string) (admissionResult, error) {
	result, err := h.wallet.Receive(ctx, token)
	if err != nil {
		return admissionResult{}, err
	}

	if result.AmountMsat < maxCostMsat {
		return admissionResult{}, &InsufficientBalanceError{
			Rail:               RailCashu,
			AmountRequiredMsat: maxCostMsat,
			Model:              model,
		}
	}

	return admissionResult{
		preAuthMsat: result.AmountMsat,
		cashuUnit:   result.Unit,
		cashuMint:   result.MintURL,
	}, nil
}

// applyOptionalAccountHeaders persists the opportunistic Refund-Lnurl and
// Key-Expiry-Time headers original_source carries alongside ordinary
// requests, rather than requiring a dedicated admin endpoint. Both are
// best-effort: a malformed value, or a failed write, is silently ignored;
// it never fails the request.
func (h *Handler) applyOptionalAccountHeaders(ctx context.Context, r *http.Request, hashedKey string, refundKey []byte) {
	if lnurl := r.Header.Get("Refund-Lnurl"); lnurl != "" {
		if validated, err := validateRefundAddress(lnurl); err == nil && len(refundKey) == crypto.KeySize {
			if encrypted, err := crypto.EncryptForAccount(validated, hashedKey, refundKey); err == nil {
				_ = h.ledger.SetRefundAddress(ctx, hashedKey, encrypted)
			}
		}
	}
	if expiry := r.Header.Get("Key-Expiry-Time"); expiry != "" {
		if unix, ok := parseUnixSeconds(expiry); ok {
			_ = h.ledger.SetKeyExpiry(ctx, hashedKey, unix)
		}
	}
}
