package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"routstr-proxy/internal/audit"
	"routstr-proxy/internal/pricing"
	"routstr-proxy/internal/usage"
	"routstr-proxy/pkg/logger"

	"go.uber.org/zap"
)

// defaultMaxBodyBytes bounds how much of the inbound request body this
// proxy buffers to read the model name before forwarding (spec.md §4.F),
// and separately how much of the upstream response it buffers before
// committing a status/headers/body to the client (spec.md §4.I/§4.J):
// cost must be known, and checked for a catalogue-miss CostError, before
// any byte of the response reaches the caller.
const defaultMaxBodyBytes = 10 << 20

// ServeHTTP drives the full request pipeline: Classify -> Admission ->
// Forward -> Extract -> Calculate -> Settle, in that order (spec.md §4).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFromContext(r)
	ctx := r.Context()

	credential, err := Classify(r)
	if err != nil {
		status, code, msg := classifyAdmissionError(err)
		writeError(w, requestID, status, code, msg, nil)
		return
	}

	body, model, err := readBodyAndModel(r, h.maxBodyBytes())
	if err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "request body could not be read", nil)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	maxCostMsat := h.getMaxCostForModel(model)

	admission, err := h.admit(ctx, r, credential, maxCostMsat, model)
	if err != nil {
		status, code, msg := classifyAdmissionError(err)
		writeError(w, requestID, status, code, msg, func(b *errorBody) {
			var insufficient *InsufficientBalanceError
			if errors.As(err, &insufficient) {
				b.AmountRequiredMsat = insufficient.AmountRequiredMsat
				b.Model = insufficient.Model
			}
		})
		return
	}

	upstreamReq, err := h.buildUpstreamRequest(ctx, r, body)
	if err != nil {
		h.refundAndRespondError(ctx, w, requestID, credential, admission, http.StatusBadGateway, "upstream_request_failed", "failed to build upstream request")
		return
	}

	resp, err := h.forward(upstreamReq)
	if err != nil {
		h.refundAndRespondError(ctx, w, requestID, credential, admission, http.StatusBadGateway, "upstream_unreachable", "upstream request failed")
		return
	}
	defer resp.Body.Close()

	h.relayAndSettle(ctx, w, requestID, credential, admission, model, resp)
}

func (h *Handler) maxBodyBytes() int64 {
	if h.cfg.MaxBodyBytes > 0 {
		return h.cfg.MaxBodyBytes
	}
	return defaultMaxBodyBytes
}

// maxResponseBodyBytes bounds the upstream response buffer; same limit as
// the inbound request, since both exist to let the pipeline inspect a body
// before acting on it rather than to cap memory independently.
func (h *Handler) maxResponseBodyBytes() int64 {
	return h.maxBodyBytes()
}

// readBodyAndModel buffers the request body (bounded) and best-effort
// decodes the model name from it. A body that isn't JSON, or carries no
// model field, forwards with model == "" -- admission then falls back to
// the flat tariff (spec.md §4.F).
func readBodyAndModel(r *http.Request, limit int64) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, limit))
	if err != nil {
		return nil, "", err
	}

	var parsed incomingRequestBody
	_ = json.Unmarshal(data, &parsed)
	return data, parsed.Model, nil
}

func (h *Handler) admit(ctx context.Context, r *http.Request, credential Credential, maxCostMsat int64, model string) (admissionResult, error) {
	switch credential.Rail {
	case RailAccount:
		result, err := h.admitAccount(ctx, credential.HashedKey, maxCostMsat)
		if err != nil {
			return admissionResult{}, err
		}
		h.applyOptionalAccountHeaders(ctx, r, credential.HashedKey, h.cfg.RefundAddressKey)
		return result, nil
	case RailCashu:
		return h.admitCashu(ctx, credential.Token, maxCostMsat, model)
	default:
		return admissionResult{}, ErrUnauthorized
	}
}

// relayAndSettle buffers the upstream response (bounded), runs it through
// the Usage Extractor and Cost Calculator, and only then commits a
// status/headers/body to the client -- matching original_source's
// `response.aread()`-before-ever-touching-the-client-connection shape
// (routstr/payment/x_cashu.py's handle_x_cashu_chat_completion), not a
// byte-for-byte streaming passthrough. Buffering first is what lets a
// catalogue-miss CostError (spec.md §4.I step 2) abort with its documented
// 400 before any of the upstream's 2xx status/body reaches the caller, and
// lets a Cashu-rail refund ride as a genuine `X-Cashu` response header
// (spec.md §6) rather than a trailer.
func (h *Handler) relayAndSettle(ctx context.Context, w http.ResponseWriter, requestID string, credential Credential, admission admissionResult, model string, resp *http.Response) {
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, h.maxResponseBodyBytes()))
	if err != nil {
		h.refundAndRespondError(ctx, w, requestID, credential, admission, http.StatusBadGateway, "upstream_read_failed", "failed to read upstream response")
		return
	}

	result, extractErr := usage.Extract(bytes.NewReader(respBody))

	upstreamNon2xx := resp.StatusCode < 200 || resp.StatusCode >= 300

	var outcome settlementOutcome
	var cost pricing.Cost
	emergency := errors.Is(extractErr, usage.ErrUnparseable)

	switch {
	case emergency:
		outcome = h.emergencyRefund(ctx, credential, admission.preAuthMsat, admission.cashuUnit, h.refundMint(admission))
	case credential.Rail == RailAccount:
		cost = h.pricing.Calculate(toUsageCost(result), admission.preAuthMsat)
		if cost.Kind == pricing.KindError {
			status, code, msg := classifyAdmissionError(cost.Error)
			h.refundAndRespondError(ctx, w, requestID, credential, admission, status, code, msg)
			return
		}
		if upstreamNon2xx {
			// an upstream error response restores the full pre-authorisation
			cost = pricing.Cost{Kind: pricing.KindMeasured, Measured: &pricing.Measured{}}
		}
		var err error
		outcome, err = h.settleAccount(ctx, credential.HashedKey, admission.preAuthMsat, cost)
		if err != nil {
			logger.Error("account settlement failed", zap.String("request_id", requestID), zap.Error(err))
		}
	default:
		cost = h.pricing.Calculate(toUsageCost(result), admission.preAuthMsat)
		if cost.Kind == pricing.KindError {
			status, code, msg := classifyAdmissionError(cost.Error)
			h.refundAndRespondError(ctx, w, requestID, credential, admission, status, code, msg)
			return
		}
		var err error
		outcome, err = h.settleCashu(ctx, admission.preAuthMsat, admission.cashuUnit, h.refundMint(admission), cost, upstreamNon2xx)
		if err != nil {
			logger.Warn("cashu settlement refund mint failed", zap.String("request_id", requestID), zap.Error(err))
		}
	}

	onCashuRail := credential.Rail == RailCashu
	copyResponseHeaders(w.Header(), resp.Header)
	if onCashuRail && outcome.refundToken != "" {
		w.Header().Set("X-Cashu", outcome.refundToken)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)

	h.recorder.Record(ctx, audit.SettlementRecorded{
		RequestID:    requestID,
		Rail:         railToAudit(credential.Rail),
		HashedKey:    credential.HashedKey,
		Model:        model,
		PreAuthMsat:  admission.preAuthMsat,
		FinalMsat:    outcome.finalMsat,
		RefundMsat:   outcome.refundMsat,
		EmergencyRef: emergency,
	})
}

func (h *Handler) refundMint(admission admissionResult) string {
	if admission.cashuMint != "" {
		return admission.cashuMint
	}
	return h.cfg.DefaultRefundMintURL
}

func (h *Handler) refundAndRespondError(ctx context.Context, w http.ResponseWriter, requestID string, credential Credential, admission admissionResult, status int, code, message string) {
	outcome := h.emergencyRefund(ctx, credential, admission.preAuthMsat, admission.cashuUnit, h.refundMint(admission))
	if credential.Rail == RailCashu && outcome.refundToken != "" {
		w.Header().Set("X-Cashu", outcome.refundToken)
	}
	writeError(w, requestID, status, code, message, func(b *errorBody) {
		if outcome.refundToken != "" {
			b.RefundToken = outcome.refundToken
		}
	})
}

// toUsageCost converts an extractor result into the calculator's input. A
// nil result, or one that never carried a usage field, both mean "no usage
// known" -- the calculator then charges the full pre-authorisation rather
// than a zero-token measured cost.
func toUsageCost(r *usage.Result) *pricing.Usage {
	if r == nil || !r.HasUsage {
		return nil
	}
	return &pricing.Usage{
		Model:            r.Model,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
	}
}

func railToAudit(r Rail) audit.Rail {
	if r == RailAccount {
		return audit.RailAccount
	}
	return audit.RailCashu
}

// hopByHopResponseHeaders are stripped before relaying the upstream
// response. Content-Length and Transfer-Encoding are recomputed by the Go
// server from the buffered body written in copyResponseHeaders' caller;
// forwarding the upstream's original values could mismatch the bytes this
// proxy actually sends (spec.md §4.J's refund header is added after the
// upstream's own headers are copied).
var hopByHopResponseHeaders = map[string]struct{}{
	"content-length":    {},
	"transfer-encoding": {},
	"connection":        {},
}

func copyResponseHeaders(dst, src http.Header) {
	for name, values := range src {
		if _, blocked := hopByHopResponseHeaders[strings.ToLower(name)]; blocked {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}
