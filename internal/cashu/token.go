package cashu

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// tokenV3Prefix marks the only on-wire encoding this proxy understands: the
// JSON-over-base64url "cashuA" format. Tokens using the newer CBOR-based
// "cashuB" encoding are rejected as invalid; no CBOR decoder is wired in.
const tokenV3Prefix = "cashuA"

// Proof is a single Cashu proof-of-value unit bundled inside a token.
type Proof struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Secret string `json:"secret"`
	C      string `json:"C"`
}

type tokenEntry struct {
	Mint   string  `json:"mint"`
	Proofs []Proof `json:"proofs"`
}

type tokenV3 struct {
	Token []tokenEntry `json:"token"`
	Unit  string       `json:"unit"`
	Memo  string       `json:"memo,omitempty"`
}

// ParsedToken is the decoded shape of a bearer token (spec.md §3: "opaque
// bearer token" decoded just far enough to know its mint, unit, and amount).
type ParsedToken struct {
	MintURL string
	Unit    string
	Amount  int64
	raw     string
}

// Raw returns the original encoded token string, e.g. for logging redaction
// or forwarding to the mint's /v1/swap endpoint unchanged.
func (p ParsedToken) Raw() string {
	return p.raw
}

// ParseToken decodes a cashuA-encoded token string, summing proof amounts
// across all entries. A token spanning more than one mint is rejected: the
// proxy only ever talks to a single mint per redemption.
func ParseToken(raw string) (ParsedToken, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, tokenV3Prefix) {
		return ParsedToken{}, fmt.Errorf("%w: unsupported token encoding", ErrInvalidToken)
	}

	encoded := strings.TrimPrefix(trimmed, tokenV3Prefix)
	decoded, err := decodeBase64Any(encoded)
	if err != nil {
		return ParsedToken{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var v3 tokenV3
	if err := json.Unmarshal(decoded, &v3); err != nil {
		return ParsedToken{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if len(v3.Token) == 0 {
		return ParsedToken{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	mintURL := v3.Token[0].Mint
	var amount int64
	for _, entry := range v3.Token {
		if entry.Mint != mintURL {
			return ParsedToken{}, fmt.Errorf("%w: token spans multiple mints", ErrInvalidToken)
		}
		for _, proof := range entry.Proofs {
			if proof.Amount <= 0 {
				return ParsedToken{}, fmt.Errorf("%w: non-positive proof amount", ErrInvalidToken)
			}
			amount += proof.Amount
		}
	}

	if amount <= 0 {
		return ParsedToken{}, fmt.Errorf("%w: zero-value token", ErrInvalidToken)
	}

	unit := v3.Unit
	if unit == "" {
		unit = "sat"
	}

	return ParsedToken{MintURL: mintURL, Unit: unit, Amount: amount, raw: trimmed}, nil
}

// AmountMsat returns the token's value converted to millisatoshis, per
// spec.md §3's {sat, msat} unit pair.
func (p ParsedToken) AmountMsat() (int64, error) {
	switch p.Unit {
	case "msat":
		return p.Amount, nil
	case "sat":
		return p.Amount * 1000, nil
	default:
		return 0, fmt.Errorf("%w: unsupported unit %q", ErrInvalidToken, p.Unit)
	}
}

func decodeBase64Any(s string) ([]byte, error) {
	if decoded, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.URLEncoding.DecodeString(s); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
