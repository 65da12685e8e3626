package cashu

import "errors"

// Sub-errors surfaced by Wallet.Receive (spec.md §4.C, §7 — Wallet errors).
var (
	ErrAlreadySpent   = errors.New("token already spent")
	ErrInvalidToken   = errors.New("invalid cashu token")
	ErrMintError      = errors.New("mint error")
	ErrSendTokenFailed = errors.New("send_token_failed")
)
