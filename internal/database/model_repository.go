package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrModelNotFound is returned when a model id has no persisted row.
var ErrModelNotFound = errors.New("model not found")

// ModelRepository persists the model catalogue's descriptor rows. The
// catalogue (internal/catalog) treats this as an optional backing store: it
// can also load descriptors from a JSON file, per spec.md §4.B.
type ModelRepository struct {
	db *pgxpool.Pool
}

// NewModelRepository creates a new model repository instance.
func NewModelRepository(db *DB) *ModelRepository {
	return &ModelRepository{db: db.pool}
}

// Upsert inserts or replaces a model descriptor row.
func (r *ModelRepository) Upsert(ctx context.Context, m *ModelRow) error {
	query := `INSERT INTO models (id, name, context_length, dollar_pricing, top_provider, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			context_length = EXCLUDED.context_length,
			dollar_pricing = EXCLUDED.dollar_pricing,
			top_provider = EXCLUDED.top_provider,
			updated_at = now()`

	_, err := r.db.Exec(ctx, query, m.ID, m.Name, m.ContextLength, m.DollarPricingRaw, m.TopProviderRaw)
	if err != nil {
		return fmt.Errorf("failed to upsert model %s: %w", m.ID, err)
	}
	return nil
}

// GetByID retrieves a single model row. Returns ErrModelNotFound if absent.
func (r *ModelRepository) GetByID(ctx context.Context, id string) (*ModelRow, error) {
	query := `SELECT id, name, context_length, dollar_pricing, top_provider, updated_at FROM models WHERE id = $1`

	var m ModelRow
	err := r.db.QueryRow(ctx, query, id).Scan(&m.ID, &m.Name, &m.ContextLength, &m.DollarPricingRaw, &m.TopProviderRaw, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("failed to get model %s: %w", id, err)
	}
	return &m, nil
}

// ListAll retrieves every persisted model row, ordered by id.
func (r *ModelRepository) ListAll(ctx context.Context) ([]*ModelRow, error) {
	query := `SELECT id, name, context_length, dollar_pricing, top_provider, updated_at FROM models ORDER BY id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	var models []*ModelRow
	for rows.Next() {
		var m ModelRow
		if err := rows.Scan(&m.ID, &m.Name, &m.ContextLength, &m.DollarPricingRaw, &m.TopProviderRaw, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan model row: %w", err)
		}
		models = append(models, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return models, nil
}
