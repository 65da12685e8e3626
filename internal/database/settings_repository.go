package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrSettingNotFound is returned when a settings row has no matching id.
var ErrSettingNotFound = errors.New("setting not found")

// SettingsRepository persists small pieces of opaque process state (spec.md
// §6: table "settings(id PK, data TEXT, updated_at)"), e.g. the last
// successful oracle snapshot for cold-start resilience.
type SettingsRepository struct {
	db *pgxpool.Pool
}

// NewSettingsRepository creates a new settings repository instance.
func NewSettingsRepository(db *DB) *SettingsRepository {
	return &SettingsRepository{db: db.pool}
}

// Get retrieves a setting row by id. Returns ErrSettingNotFound if absent.
func (r *SettingsRepository) Get(ctx context.Context, id string) (*Settings, error) {
	query := `SELECT id, data, updated_at FROM settings WHERE id = $1`

	var s Settings
	err := r.db.QueryRow(ctx, query, id).Scan(&s.ID, &s.Data, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSettingNotFound
		}
		return nil, fmt.Errorf("failed to get setting %s: %w", id, err)
	}
	return &s, nil
}

// Put upserts a setting row.
func (r *SettingsRepository) Put(ctx context.Context, id string, data string) error {
	query := `INSERT INTO settings (id, data, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`

	_, err := r.db.Exec(ctx, query, id, data)
	if err != nil {
		return fmt.Errorf("failed to put setting %s: %w", id, err)
	}
	return nil
}
