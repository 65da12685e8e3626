// Package cashu implements the Wallet Client (spec.md §4.C): redeeming
// single-use ecash bearer tokens into the proxy's own balance and minting
// fresh tokens to refund callers, backed by HTTP calls to a Cashu mint.
package cashu

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"routstr-proxy/pkg/logger"

	"go.uber.org/zap"
)

// Wallet is the narrow interface the rest of the proxy depends on, so
// admission/settlement code can be tested against a fake (spec.md §4.C).
type Wallet interface {
	// Receive redeems a bearer token now. The redeemed amount is
	// authoritative and replaces the caller's claimed amount.
	Receive(ctx context.Context, rawToken string) (ReceiveResult, error)
	// Send mints a fresh token for the given amount/unit at mintURL,
	// retried up to the configured attempt count with no backoff.
	Send(ctx context.Context, amount int64, unit string, mintURL string) (string, error)
	// Balance reports the wallet's total held value, in msat. Diagnostic
	// only — never consulted on the request hot path.
	Balance(ctx context.Context) (int64, error)
}

// ReceiveResult is the outcome of a successful token redemption.
type ReceiveResult struct {
	AmountMsat int64
	Unit       string
	MintURL    string
}

// Config configures the HTTP-backed Wallet implementation.
type Config struct {
	DefaultMintURL string
	SendRetries    int
	RequestTimeout time.Duration
}

type proofState string

const (
	proofUnspent proofState = "UNSPENT"
	proofSpent   proofState = "SPENT"
)

// Client is the HTTP-backed Wallet implementation. It holds a simple
// in-memory pool of proofs per mint, topped up by Receive and drawn down by
// Send — the minimal bookkeeping this proxy needs, not a general-purpose
// Cashu wallet.
type Client struct {
	httpClient *http.Client
	cfg        Config

	mu    sync.Mutex
	pools map[string][]Proof // mintURL -> held proofs
}

// NewClient constructs a Wallet backed by real mint HTTP calls.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if cfg.SendRetries <= 0 {
		cfg.SendRetries = 3
	}
	return &Client{
		httpClient: httpClient,
		cfg:        cfg,
		pools:      make(map[string][]Proof),
	}
}

type checkStateRequest struct {
	Ys []string `json:"Ys"`
}

type checkStateEntry struct {
	Y     string     `json:"Y"`
	State proofState `json:"state"`
}

type checkStateResponse struct {
	States []checkStateEntry `json:"states"`
}

// Receive validates the token's proofs against the mint's spent-state check
// (NUT-07 shape) and, if unspent, credits them to the held pool for that
// mint. Sub-errors mirror spec.md §4.F: AlreadySpent, InvalidToken, MintError.
func (c *Client) Receive(ctx context.Context, rawToken string) (ReceiveResult, error) {
	parsed, err := ParseToken(rawToken)
	if err != nil {
		return ReceiveResult{}, err
	}

	if err := c.checkUnspent(ctx, parsed); err != nil {
		return ReceiveResult{}, err
	}

	amountMsat, err := parsed.AmountMsat()
	if err != nil {
		return ReceiveResult{}, err
	}

	c.mu.Lock()
	c.pools[parsed.MintURL] = append(c.pools[parsed.MintURL], tokenProofs(rawToken)...)
	c.mu.Unlock()

	logger.Info("redeemed cashu token",
		zap.String("mint", parsed.MintURL),
		zap.Int64("amount_msat", amountMsat),
	)

	return ReceiveResult{AmountMsat: amountMsat, Unit: parsed.Unit, MintURL: parsed.MintURL}, nil
}

func tokenProofs(rawToken string) []Proof {
	parsed, err := decodeTokenV3(rawToken)
	if err != nil {
		return nil
	}
	var proofs []Proof
	for _, entry := range parsed.Token {
		proofs = append(proofs, entry.Proofs...)
	}
	return proofs
}

func decodeTokenV3(rawToken string) (tokenV3, error) {
	trimmed := rawToken
	encoded := trimmed[len(tokenV3Prefix):]
	decoded, err := decodeBase64Any(encoded)
	if err != nil {
		return tokenV3{}, err
	}
	var v3 tokenV3
	if err := json.Unmarshal(decoded, &v3); err != nil {
		return tokenV3{}, err
	}
	return v3, nil
}

func (c *Client) checkUnspent(ctx context.Context, parsed ParsedToken) error {
	v3, err := decodeTokenV3(parsed.raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var ys []string
	for _, entry := range v3.Token {
		for _, proof := range entry.Proofs {
			ys = append(ys, proof.Secret)
		}
	}

	reqBody, err := json.Marshal(checkStateRequest{Ys: ys})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMintError, err)
	}

	url := parsed.MintURL + "/v1/checkstate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMintError, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMintError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: mint returned status %d", ErrMintError, resp.StatusCode)
	}

	var states checkStateResponse
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		return fmt.Errorf("%w: %v", ErrMintError, err)
	}

	for _, s := range states.States {
		if s.State == proofSpent {
			return ErrAlreadySpent
		}
	}
	return nil
}

// Send mints a fresh token for amount/unit, drawing from the held pool for
// mintURL (falling back to the configured default mint). Retried up to
// cfg.SendRetries times with no backoff, matching the upstream Lightning
// payment retry shape this proxy's teacher used for card redemption.
func (c *Client) Send(ctx context.Context, amount int64, unit string, mintURL string) (string, error) {
	if mintURL == "" {
		mintURL = c.cfg.DefaultMintURL
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.SendRetries; attempt++ {
		token, err := c.trySend(amount, unit, mintURL)
		if err == nil {
			return token, nil
		}
		lastErr = err
		logger.Warn("cashu send attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return "", fmt.Errorf("%w: %v", ErrSendTokenFailed, lastErr)
}

func (c *Client) trySend(amount int64, unit string, mintURL string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pool := c.pools[mintURL]
	selected, remaining, ok := selectProofs(pool, amount)
	if !ok {
		return "", fmt.Errorf("insufficient held proofs at %s for amount %d %s", mintURL, amount, unit)
	}
	c.pools[mintURL] = remaining

	tok := tokenV3{
		Token: []tokenEntry{{Mint: mintURL, Proofs: selected}},
		Unit:  unit,
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		c.pools[mintURL] = append(c.pools[mintURL], selected...)
		return "", err
	}

	return tokenV3Prefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// selectProofs takes proofs from the front of the pool, in pool order, until
// their amounts reach target, and succeeds only if that prefix sums to
// exactly target. Returns ok=false otherwise; other subsets of the pool that
// would sum to target are not searched.
func selectProofs(pool []Proof, target int64) (selected []Proof, remaining []Proof, ok bool) {
	var sum int64
	used := make([]bool, len(pool))
	for i, p := range pool {
		if sum >= target {
			break
		}
		sum += p.Amount
		used[i] = true
	}
	if sum != target {
		return nil, pool, false
	}
	for i, p := range pool {
		if used[i] {
			selected = append(selected, p)
		} else {
			remaining = append(remaining, p)
		}
	}
	return selected, remaining, true
}

// Balance sums the held proof pool across all mints, converted to msat
// assuming sat-denominated proofs (diagnostic only, spec.md §4.C).
func (c *Client) Balance(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var totalSats int64
	for _, proofs := range c.pools {
		for _, p := range proofs {
			totalSats += p.Amount
		}
	}
	return totalSats * 1000, nil
}
