// Package proxy implements the metered reverse-proxy's request pipeline:
// Credential Classifier (§4.E) -> Pre-charge Admission (§4.F) -> Upstream
// Forwarder (§4.G) -> Usage Extractor (§4.H, internal/usage) -> Cost
// Calculator (§4.I, internal/pricing) -> Settlement (§4.J).
package proxy

import (
	"net/http"
	"time"

	"routstr-proxy/internal/audit"
	"routstr-proxy/internal/cashu"
	"routstr-proxy/internal/catalog"
	"routstr-proxy/internal/ledger"
	"routstr-proxy/internal/pricing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Config carries the tunables Handler needs beyond its component
// dependencies (spec.md §4.F, §4.G, §6).
type Config struct {
	UpstreamBaseURL           string
	UpstreamAPIKey            string
	ChatCompletionsAPIVersion string
	ModelBasedPricing         bool
	CostPerRequestMsat        int64
	TolerancePercent          int64
	DefaultRefundMintURL      string
	RefundAddressKey          []byte
	MaxBodyBytes              int64
}

// Handler wires every component of the request pipeline together. One
// Handler serves the whole process; per-request state lives on the stack in
// ServeHTTP and is passed explicitly between pipeline stages.
type Handler struct {
	cfg Config

	catalog  *catalog.Catalog
	ledger   *ledger.Ledger
	wallet   cashu.Wallet
	pricing  *pricing.Calculator
	recorder *audit.Recorder

	httpClient *http.Client
}

// New constructs a Handler. httpClient should have no per-request timeout
// set (spec.md §4.G: "no timeout on the socket"); use context cancellation
// on the inbound request instead.
func New(cfg Config, cat *catalog.Catalog, led *ledger.Ledger, wallet cashu.Wallet, calc *pricing.Calculator, recorder *audit.Recorder, httpClient *http.Client) *Handler {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Handler{
		cfg:        cfg,
		catalog:    cat,
		ledger:     led,
		wallet:     wallet,
		pricing:    calc,
		recorder:   recorder,
		httpClient: httpClient,
	}
}

// requestIDFromContext reads the ID middleware.RequestID assigned. The
// fallback only fires when ServeHTTP is invoked outside that middleware
// (e.g. directly in a test).
func requestIDFromContext(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return uuid.New().String()
}

func unixNow() int64 {
	return time.Now().Unix()
}
