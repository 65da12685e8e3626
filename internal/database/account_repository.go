package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrAccountNotFound is returned when a hashed_key has no ledger row.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists is returned when creating an account whose hashed_key
	// is already present.
	ErrAccountExists = errors.New("account already exists")
	// ErrInsufficientBalance is returned when a debit would take the balance
	// below the requested reservation.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// AccountRepository handles all database operations for the persistent
// account ledger. Debit/credit happen under a serialisable transaction
// (see DebitForAdmission/CreditSettlement) rather than through plain
// UPDATE statements, because ledger rows are concurrently touched by
// many in-flight requests -- unlike the teacher's card rows, which are
// written by at most one redemption at a time.
type AccountRepository struct {
	db *pgxpool.Pool
}

// NewAccountRepository creates a new account repository instance.
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db.pool}
}

// Create inserts a new account row with zero balance.
// Returns ErrAccountExists if the hashed_key is already present.
func (r *AccountRepository) Create(ctx context.Context, hashedKey string) (*Account, error) {
	query := `INSERT INTO accounts (hashed_key, balance_msat, total_spent_msat, total_requests, created_at, updated_at)
		VALUES ($1, 0, 0, 0, now(), now())
		RETURNING hashed_key, balance_msat, refund_address, key_expiry_time, total_spent_msat, total_requests, created_at, updated_at`

	var a Account
	err := r.db.QueryRow(ctx, query, hashedKey).Scan(
		&a.HashedKey, &a.BalanceMsat, &a.RefundAddress, &a.KeyExpiryTime,
		&a.TotalSpentMsat, &a.TotalRequests, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return &a, nil
}

// GetByHashedKey retrieves an account by its hashed API key.
// Returns ErrAccountNotFound if the key does not exist.
func (r *AccountRepository) GetByHashedKey(ctx context.Context, hashedKey string) (*Account, error) {
	query := `SELECT hashed_key, balance_msat, refund_address, key_expiry_time,
		total_spent_msat, total_requests, created_at, updated_at
		FROM accounts WHERE hashed_key = $1`

	var a Account
	err := r.db.QueryRow(ctx, query, hashedKey).Scan(
		&a.HashedKey, &a.BalanceMsat, &a.RefundAddress, &a.KeyExpiryTime,
		&a.TotalSpentMsat, &a.TotalRequests, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account %s: %w", hashedKey, err)
	}
	return &a, nil
}

// GetOrCreate returns the existing account, creating a zero-balance row on
// first sight of a hashed_key (mirrors original_source's "created on first
// deposit or admin action" lifecycle -- here, on first authenticated request).
func (r *AccountRepository) GetOrCreate(ctx context.Context, hashedKey string) (*Account, error) {
	account, err := r.GetByHashedKey(ctx, hashedKey)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}
	account, err = r.Create(ctx, hashedKey)
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			return r.GetByHashedKey(ctx, hashedKey)
		}
		return nil, err
	}
	return account, nil
}

// DebitForAdmission atomically reserves maxCostMsat against the balance and
// bumps total_requests, inside a serialisable transaction so concurrent
// requests against the same key never oversell the balance. Returns
// ErrInsufficientBalance if the reservation cannot be satisfied.
func (r *AccountRepository) DebitForAdmission(ctx context.Context, hashedKey string, maxCostMsat int64) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin admission transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, `SELECT balance_msat FROM accounts WHERE hashed_key = $1 FOR UPDATE`, hashedKey).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("failed to read balance for %s: %w", hashedKey, err)
	}

	if balance < maxCostMsat {
		return ErrInsufficientBalance
	}

	_, err = tx.Exec(ctx, `UPDATE accounts SET balance_msat = balance_msat - $2, total_requests = total_requests + 1, updated_at = now() WHERE hashed_key = $1`, hashedKey, maxCostMsat)
	if err != nil {
		return fmt.Errorf("failed to debit account %s: %w", hashedKey, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit admission transaction: %w", err)
	}
	return nil
}

// CreditSettlement atomically refunds the unused portion of a pre-authorised
// charge and records the final spend, inside a serialisable transaction.
// refundMsat is clamped so the balance never goes negative; a clamp event is
// the caller's responsibility to log (see Credit in internal/ledger).
func (r *AccountRepository) CreditSettlement(ctx context.Context, hashedKey string, refundMsat, finalCostMsat int64) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin settlement transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if refundMsat < 0 {
		refundMsat = 0
	}

	_, err = tx.Exec(ctx, `UPDATE accounts SET balance_msat = balance_msat + $2, total_spent_msat = total_spent_msat + $3, updated_at = now() WHERE hashed_key = $1`, hashedKey, refundMsat, finalCostMsat)
	if err != nil {
		return fmt.Errorf("failed to settle account %s: %w", hashedKey, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit settlement transaction: %w", err)
	}
	return nil
}

// SetRefundAddress persists the (already encrypted) refund address for an
// account. Called on any authenticated request carrying a Refund-Lnurl
// header, per original_source's behaviour of updating it opportunistically
// rather than only through a dedicated admin endpoint.
func (r *AccountRepository) SetRefundAddress(ctx context.Context, hashedKey string, encryptedAddress string) error {
	commandTag, err := r.db.Exec(ctx, `UPDATE accounts SET refund_address = $2, updated_at = now() WHERE hashed_key = $1`, hashedKey, encryptedAddress)
	if err != nil {
		return fmt.Errorf("failed to set refund address for %s: %w", hashedKey, err)
	}
	if commandTag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetKeyExpiry persists a key_expiry_time (unix seconds) for an account.
func (r *AccountRepository) SetKeyExpiry(ctx context.Context, hashedKey string, expiryUnix int64) error {
	commandTag, err := r.db.Exec(ctx, `UPDATE accounts SET key_expiry_time = $2, updated_at = now() WHERE hashed_key = $1`, hashedKey, expiryUnix)
	if err != nil {
		return fmt.Errorf("failed to set key expiry for %s: %w", hashedKey, err)
	}
	if commandTag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}
