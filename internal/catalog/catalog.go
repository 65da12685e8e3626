package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"routstr-proxy/internal/database"
	"routstr-proxy/pkg/logger"

	"go.uber.org/zap"
)

// rateSource abstracts the price oracle so the catalogue can be tested
// without a live oracle instance. SatsUSDAsk returns the USD value of one
// satoshi; the catalogue inverts it to price models in sats.
type rateSource interface {
	SatsUSDAsk() (float64, error)
}

// fileDescriptor is the on-disk JSON shape for a single catalogue entry.
type fileDescriptor struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	ContextLength int64          `json:"context_length"`
	Pricing       DollarPricing  `json:"pricing"`
	TopProvider   *TopProvider   `json:"top_provider,omitempty"`
}

// Catalog holds the current descriptor list behind an atomic pointer so
// concurrent readers never observe a torn or partially-updated list
// (spec.md §4.B, §5, §9: "RCU-style snapshot swap").
type Catalog struct {
	current  atomic.Pointer[[]Model]
	rates    rateSource
	path     string
	modelsDB *database.ModelRepository // optional; nil when running file-only
}

// New constructs an empty Catalog. Call LoadFromFile or LoadFromDB once at
// startup before serving traffic.
func New(rates rateSource, path string, modelsDB *database.ModelRepository) *Catalog {
	c := &Catalog{rates: rates, path: path, modelsDB: modelsDB}
	empty := make([]Model, 0)
	c.current.Store(&empty)
	return c
}

// LoadFromFile reads the JSON catalogue blob from disk and builds the
// initial descriptor list (spec.md §4.B: "load descriptors from a JSON blob").
func (c *Catalog) LoadFromFile() error {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read model catalogue file %s: %w", c.path, err)
	}

	var descriptors []fileDescriptor
	if err := json.Unmarshal(raw, &descriptors); err != nil {
		return fmt.Errorf("failed to parse model catalogue file %s: %w", c.path, err)
	}

	models := make([]Model, 0, len(descriptors))
	for _, d := range descriptors {
		models = append(models, Model{
			ID:            d.ID,
			Name:          d.Name,
			ContextLength: d.ContextLength,
			DollarPricing: d.Pricing,
			TopProvider:   d.TopProvider,
		})
	}

	c.current.Store(&models)
	return c.refreshSatsPricing()
}

// refreshSatsPricing rebuilds the whole descriptor list with freshly derived
// sats pricing and atomically swaps the single owner pointer -- no reader
// ever observes a partially-updated list (spec.md §9).
func (c *Catalog) refreshSatsPricing() error {
	usdPerSat, err := c.rates.SatsUSDAsk()
	if err != nil {
		return fmt.Errorf("catalogue refresh: %w", err)
	}
	if usdPerSat <= 0 {
		return fmt.Errorf("catalogue refresh: non-positive USD-per-sat rate %v", usdPerSat)
	}
	satsPerUSD := 1 / usdPerSat

	current := c.current.Load()
	updated := make([]Model, len(*current))
	for i, m := range *current {
		m.SatsPricing = deriveSatsPricing(m.DollarPricing, m.TopProvider, satsPerUSD)
		updated[i] = m
	}

	c.current.Store(&updated)
	return nil
}

// Snapshot returns the current descriptor list. Safe for concurrent use;
// the returned slice must be treated as read-only.
func (c *Catalog) Snapshot() []Model {
	return *c.current.Load()
}

// Lookup returns the descriptor for id, or false if absent from the
// current snapshot.
func (c *Catalog) Lookup(id string) (Model, bool) {
	for _, m := range c.Snapshot() {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// Empty reports whether the catalogue currently has zero descriptors
// (spec.md §4.F: an empty catalogue forces flat-tariff pricing).
func (c *Catalog) Empty() bool {
	return len(c.Snapshot()) == 0
}

// LoadFromDB loads descriptors persisted by a previous PersistToDB call,
// used for cold-start resilience when the JSON file is unavailable but a
// catalogue was already loaded once (spec.md §4.B: "file or DB row").
func (c *Catalog) LoadFromDB(ctx context.Context) error {
	if c.modelsDB == nil {
		return fmt.Errorf("catalogue: no model repository configured")
	}

	rows, err := c.modelsDB.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load models from database: %w", err)
	}

	models := make([]Model, 0, len(rows))
	for _, row := range rows {
		var dollar DollarPricing
		if err := json.Unmarshal(row.DollarPricingRaw, &dollar); err != nil {
			logger.Warn("skipping model row with invalid pricing JSON", zap.String("model", row.ID), zap.Error(err))
			continue
		}
		var topProvider *TopProvider
		if len(row.TopProviderRaw) > 0 {
			topProvider = &TopProvider{}
			if err := json.Unmarshal(row.TopProviderRaw, topProvider); err != nil {
				topProvider = nil
			}
		}
		models = append(models, Model{
			ID:            row.ID,
			Name:          row.Name,
			ContextLength: row.ContextLength,
			DollarPricing: dollar,
			TopProvider:   topProvider,
		})
	}

	c.current.Store(&models)
	return c.refreshSatsPricing()
}

// PersistToDB writes the current snapshot's dollar pricing to the database
// so a future cold start can recover via LoadFromDB even if the JSON file
// is missing.
func (c *Catalog) PersistToDB(ctx context.Context) error {
	if c.modelsDB == nil {
		return fmt.Errorf("catalogue: no model repository configured")
	}

	for _, m := range c.Snapshot() {
		dollarRaw, err := json.Marshal(m.DollarPricing)
		if err != nil {
			return fmt.Errorf("failed to marshal dollar pricing for %s: %w", m.ID, err)
		}
		var topProviderRaw []byte
		if m.TopProvider != nil {
			topProviderRaw, err = json.Marshal(m.TopProvider)
			if err != nil {
				return fmt.Errorf("failed to marshal top provider for %s: %w", m.ID, err)
			}
		}

		row := &database.ModelRow{
			ID:               m.ID,
			Name:             m.Name,
			ContextLength:    m.ContextLength,
			DollarPricingRaw: dollarRaw,
			TopProviderRaw:   topProviderRaw,
		}
		if err := c.modelsDB.Upsert(ctx, row); err != nil {
			return fmt.Errorf("failed to persist model %s: %w", m.ID, err)
		}
	}
	return nil
}

// Run starts the periodic sats-pricing refresh loop; it blocks until ctx is
// cancelled. Cancellation-safe: refreshSatsPricing only ever swaps a single
// pointer, so there is no partial write to interrupt.
func (c *Catalog) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.refreshSatsPricing(); err != nil {
				logger.Error("catalogue refresh failed", zap.Error(err))
			}
		}
	}
}
