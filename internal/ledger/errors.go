package ledger

import "errors"

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientBalance = errors.New("insufficient account balance")
	ErrAccountLockBusy     = errors.New("account lock is held by another request")
	ErrAccountExpired      = errors.New("api key has expired")
)
