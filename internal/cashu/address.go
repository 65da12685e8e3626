package cashu

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// lnurlHRP is the human-readable part Refund-Lnurl values are bech32-encoded
// under (LUD-01). The proxy never pays out over LNURL itself — spec.md §6
// only asks that the header be validated and stored for the account's
// refund_address — but a malformed value should be rejected up front rather
// than persisted silently.
const lnurlHRP = "lnurl"

// ValidateLnurl decodes a bech32 "lnurl1..." string and returns the decoded
// callback URL. An error means the header value is not a well-formed LNURL
// and should not be stored as a refund address.
func ValidateLnurl(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("empty lnurl")
	}

	hrp, data, err := bech32.DecodeNoLimit(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid lnurl encoding: %w", err)
	}
	if !strings.EqualFold(hrp, lnurlHRP) {
		return "", fmt.Errorf("unexpected lnurl human-readable part %q", hrp)
	}

	converted, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("invalid lnurl payload: %w", err)
	}

	url := string(converted)
	if !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") {
		return "", fmt.Errorf("lnurl payload is not a URL")
	}

	return url, nil
}
