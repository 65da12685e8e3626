package proxy

import (
	"encoding/json"
	"errors"
	"net/http"

	"routstr-proxy/internal/cashu"
	"routstr-proxy/internal/ledger"
	"routstr-proxy/internal/pricing"
)

// Sentinel errors for the Credential Classifier and admission paths
// (spec.md §4.E, §7).
var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrMissingAPIKey = errors.New("missing_api_key")
)

// InsufficientBalanceError carries the extra fields spec.md §4.F and §8
// require in the 402/413 body: the amount that would have been needed and
// the model that was priced.
type InsufficientBalanceError struct {
	Rail               Rail
	AmountRequiredMsat int64
	Model              string
}

func (e *InsufficientBalanceError) Error() string { return "insufficient balance" }

// errorBody is the structured error envelope spec.md §6/§7 mandate:
// {error: {message, type, code}, request_id, ...rail-specific extras}.
type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
	RequestID          string `json:"request_id,omitempty"`
	Reason             string `json:"reason,omitempty"`
	AmountRequiredMsat int64  `json:"amount_required_msat,omitempty"`
	Model              string `json:"model,omitempty"`
	RefundToken        string `json:"refund_token,omitempty"`
}

// writeError renders the structured error body and sets the status code.
// Must be called before anything else touches w, since it calls WriteHeader.
func writeError(w http.ResponseWriter, requestID string, status int, code, message string, configure func(*errorBody)) {
	body := errorBody{RequestID: requestID}
	body.Error.Message = message
	body.Error.Type = "proxy_error"
	body.Error.Code = code
	if configure != nil {
		configure(&body)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// classifyAdmissionError maps the sentinel/typed errors admission can
// return to an HTTP status and error code (spec.md §7's taxonomy).
func classifyAdmissionError(err error) (status int, code string, message string) {
	var insufficient *InsufficientBalanceError
	var costErr *pricing.CostError

	switch {
	case errors.Is(err, ErrMissingAPIKey):
		return http.StatusUnauthorized, "missing_api_key", "missing API key"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", "unauthorized"
	case errors.As(err, &insufficient):
		if insufficient.Rail == RailCashu {
			return http.StatusRequestEntityTooLarge, "insufficient_balance", "insufficient balance"
		}
		return http.StatusPaymentRequired, "insufficient_balance", "insufficient balance"
	case errors.Is(err, cashu.ErrAlreadySpent):
		return http.StatusBadRequest, "token_already_spent", "cashu token already spent"
	case errors.Is(err, cashu.ErrInvalidToken):
		return http.StatusBadRequest, "invalid_token", "invalid cashu token"
	case errors.Is(err, cashu.ErrMintError):
		return http.StatusUnprocessableEntity, "mint_error", "mint error"
	case errors.Is(err, ledger.ErrAccountExpired):
		return http.StatusUnauthorized, "key_expired", "api key has expired"
	case errors.Is(err, ledger.ErrAccountLockBusy):
		return http.StatusTooManyRequests, "account_busy", "account is locked by a concurrent request"
	case errors.As(err, &costErr):
		return http.StatusBadRequest, string(costErr.Reason), costErr.Error()
	default:
		return http.StatusInternalServerError, "internal_error", "internal error"
	}
}
