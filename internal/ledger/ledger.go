// Package ledger wraps the persistent-account rail's database operations
// with a per-account distributed lock, adapted from the teacher's per-card
// redemption lock (spec.md §4.D Account Ledger).
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"routstr-proxy/internal/database"
	"routstr-proxy/pkg/cache"
	"routstr-proxy/pkg/logger"

	"go.uber.org/zap"
)

const (
	accountLockPrefix = "account:lock:"
	accountLockTTL    = 5 * time.Second
)

// Ledger is the Account Ledger component (spec.md §4.D): single-writer per
// row, balance_msat never negative, durable before the HTTP response is
// sent.
type Ledger struct {
	accounts *database.AccountRepository
}

// New constructs a Ledger backed by the given account repository.
func New(accounts *database.AccountRepository) *Ledger {
	return &Ledger{accounts: accounts}
}

// GetOrCreate returns the account for hashedKey, creating a zero-balance row
// on first sight.
func (l *Ledger) GetOrCreate(ctx context.Context, hashedKey string) (*database.Account, error) {
	account, err := l.accounts.GetOrCreate(ctx, hashedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return account, nil
}

// SetRefundAddress persists an already-encrypted refund address for an
// account (original_source supplement: carried opportunistically on any
// authenticated request, not only through a dedicated admin endpoint).
func (l *Ledger) SetRefundAddress(ctx context.Context, hashedKey string, encryptedAddress string) error {
	return l.accounts.SetRefundAddress(ctx, hashedKey, encryptedAddress)
}

// SetKeyExpiry persists a key_expiry_time (unix seconds) for an account.
func (l *Ledger) SetKeyExpiry(ctx context.Context, hashedKey string, expiryUnix int64) error {
	return l.accounts.SetKeyExpiry(ctx, hashedKey, expiryUnix)
}

// CheckNotExpired rejects requests against an expired API key
// (original_source supplement: key_expiry_time is enforced at admission).
func (l *Ledger) CheckNotExpired(account *database.Account, nowUnix int64) error {
	if account.Expired(nowUnix) {
		return ErrAccountExpired
	}
	return nil
}

// Debit reserves maxCostMsat against hashedKey's balance for pre-charge
// admission (spec.md §4.F). A short-TTL Redis lock fails fast under
// contention rather than stacking serialisable-transaction retries on the
// same row; the transaction itself is still the source of truth for
// correctness.
func (l *Ledger) Debit(ctx context.Context, hashedKey string, maxCostMsat int64) error {
	unlock, err := l.acquireLock(ctx, hashedKey)
	if err != nil {
		return err
	}
	defer unlock()

	err = l.accounts.DebitForAdmission(ctx, hashedKey, maxCostMsat)
	switch {
	case errors.Is(err, database.ErrAccountNotFound):
		return ErrAccountNotFound
	case errors.Is(err, database.ErrInsufficientBalance):
		return ErrInsufficientBalance
	case err != nil:
		return fmt.Errorf("failed to debit account %s: %w", hashedKey, err)
	}
	return nil
}

// Credit refunds the unused portion of a pre-authorised charge and records
// the final spend (spec.md §4.J Settlement, account rail). A negative
// refundMsat (final cost above the pre-authorisation) is clamped at zero
// here, with a warning logged.
func (l *Ledger) Credit(ctx context.Context, hashedKey string, refundMsat, finalCostMsat int64) error {
	unlock, err := l.acquireLock(ctx, hashedKey)
	if err != nil {
		return err
	}
	defer unlock()

	if refundMsat < 0 {
		logger.Warn("settlement refund clamped at zero",
			zap.String("hashed_key", hashedKey),
			zap.Int64("computed_refund_msat", refundMsat),
		)
		refundMsat = 0
	}

	if err := l.accounts.CreditSettlement(ctx, hashedKey, refundMsat, finalCostMsat); err != nil {
		return fmt.Errorf("failed to settle account %s: %w", hashedKey, err)
	}
	return nil
}

func (l *Ledger) acquireLock(ctx context.Context, hashedKey string) (func(), error) {
	lockKey := accountLockPrefix + hashedKey
	acquired, err := cache.SetNX(ctx, lockKey, "locked", accountLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire account lock: %w", err)
	}
	if !acquired {
		return nil, ErrAccountLockBusy
	}
	return func() {
		if _, err := cache.Delete(ctx, lockKey); err != nil {
			logger.Warn("failed to release account lock", zap.String("hashed_key", hashedKey), zap.Error(err))
		}
	}, nil
}
