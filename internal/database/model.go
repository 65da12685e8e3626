package database

import (
	"time"
)

// Account is a persistent-account-rail ledger row, keyed by the one-way hash
// of the caller's API key (see internal/proxy/classify.go).
type Account struct {
	HashedKey      string     `json:"hashed_key" db:"hashed_key"`
	BalanceMsat    int64      `json:"balance_msat" db:"balance_msat"`
	RefundAddress  *string    `json:"refund_address,omitempty" db:"refund_address"`
	KeyExpiryTime  *int64     `json:"key_expiry_time,omitempty" db:"key_expiry_time"`
	TotalSpentMsat int64      `json:"total_spent_msat" db:"total_spent_msat"`
	TotalRequests  int64      `json:"total_requests" db:"total_requests"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// BalanceBTC returns the balance converted to BTC for display purposes.
func (a *Account) BalanceBTC() float64 {
	return float64(a.BalanceMsat) / 1000 / 100_000_000
}

// Expired reports whether the account's key has passed its expiry time.
func (a *Account) Expired(nowUnix int64) bool {
	return a.KeyExpiryTime != nil && *a.KeyExpiryTime > 0 && *a.KeyExpiryTime <= nowUnix
}

// ModelRow is the persisted form of a model catalogue descriptor (see
// internal/catalog.Model). Pricing is stored as a JSON column since the
// dollar-pricing shape is nested and rarely queried column-by-column.
type ModelRow struct {
	ID              string    `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	ContextLength    int64     `json:"context_length" db:"context_length"`
	DollarPricingRaw []byte    `json:"dollar_pricing" db:"dollar_pricing"` // JSON-encoded catalog.DollarPricing
	TopProviderRaw   []byte    `json:"top_provider,omitempty" db:"top_provider"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Settings is a generic key/value row used for small pieces of persisted
// process state that don't warrant their own table (spec.md §6: table
// "settings(id PK, data TEXT, updated_at)").
type Settings struct {
	ID        string    `json:"id" db:"id"`
	Data      string    `json:"data" db:"data"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
