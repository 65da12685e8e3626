package proxy

import (
	"fmt"
	"strconv"
	"strings"

	"routstr-proxy/internal/cashu"
)

// validateRefundAddress accepts either an LNURL or a Lightning Address
// (spec.md §3: "optional refund_address (LNURL or Lightning Address)").
// Lightning Addresses have no bech32 envelope to validate -- they are
// checked only for the user@domain shape LNURL-pay resolves them to.
func validateRefundAddress(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToLower(trimmed), "lnurl") {
		return cashu.ValidateLnurl(trimmed)
	}
	if isLightningAddress(trimmed) {
		return trimmed, nil
	}
	return "", fmt.Errorf("refund address is neither a valid LNURL nor a Lightning Address: %q", raw)
}

func isLightningAddress(s string) bool {
	at := strings.IndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return false
	}
	domain := s[at+1:]
	return strings.Contains(domain, ".") && !strings.ContainsAny(s, " \t\n")
}

func parseUnixSeconds(s string) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
