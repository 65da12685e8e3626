package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"routstr-proxy/internal/database"
	"routstr-proxy/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const snapshotSettingID = "oracle_btc_usd_snapshot"

// ErrNoSnapshotAvailable is returned by BTCUSDAsk/SatsUSDAsk when every
// provider has failed and no prior successful snapshot exists to fall back
// on (spec.md §5: "fail hard if all three fail and no prior snapshot exists").
var ErrNoSnapshotAvailable = errors.New("oracle: no price snapshot available")

// Config controls polling cadence and per-fetch behaviour.
type Config struct {
	ExchangeFee  float64       // default 1.005, applied on top of the max observed ask
	PollInterval time.Duration // default 10s
	FetchTimeout time.Duration // default 5s, applied per-provider
}

type snapshot struct {
	btcUSDAsk float64
	stale     bool
	updatedAt time.Time
}

// Oracle fans out concurrent fetches across Kraken, Coinbase, and Binance,
// takes the maximum observed price (ask-side conservative), and exposes it
// through a lock-free atomic snapshot (spec.md §4.A, §5).
type Oracle struct {
	providers []PriceProvider
	cfg       Config
	current   atomic.Pointer[snapshot]
	settings  *database.SettingsRepository // optional; nil disables cross-restart persistence
}

// persistedSnapshot is the JSON shape stored in the settings table, so a
// fresh process still has a "prior snapshot" to fall back on (spec.md §5)
// instead of only ever having one once this process has run a successful
// fetch.
type persistedSnapshot struct {
	BTCUSDAsk float64   `json:"btc_usd_ask"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New constructs an Oracle with the three default providers wired to their
// production endpoints. settingsDB is optional; pass nil to disable
// cross-restart snapshot persistence.
func New(cfg Config, settingsDB *database.SettingsRepository) (*Oracle, error) {
	if cfg.ExchangeFee <= 0 {
		cfg.ExchangeFee = 1.005
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}

	names := []string{"kraken", "coinbase", "binance"}
	providers := make([]PriceProvider, 0, len(names))
	for _, name := range names {
		p, err := NewProvider(name, "", &http.Client{Timeout: cfg.FetchTimeout}, cfg.FetchTimeout)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	return &Oracle{providers: providers, cfg: cfg, settings: settingsDB}, nil
}

// LoadSnapshot restores the last persisted snapshot from the settings table,
// marked stale, so BTCUSDAsk/SatsUSDAsk have a value to serve immediately
// after a restart even before the first successful fetch completes. A
// missing or unparseable row is not an error -- it just means this is a
// genuinely cold start.
func (o *Oracle) LoadSnapshot(ctx context.Context) {
	if o.settings == nil {
		return
	}
	row, err := o.settings.Get(ctx, snapshotSettingID)
	if err != nil {
		return
	}
	var persisted persistedSnapshot
	if err := json.Unmarshal([]byte(row.Data), &persisted); err != nil {
		logger.Warn("discarding unparseable persisted oracle snapshot", zap.Error(err))
		return
	}
	o.current.Store(&snapshot{btcUSDAsk: persisted.BTCUSDAsk, stale: true, updatedAt: persisted.UpdatedAt})
}

// persistSnapshot writes the current snapshot to the settings table,
// best-effort -- a failed write only degrades the next cold start's
// fallback, it never affects serving the current snapshot.
func (o *Oracle) persistSnapshot(ctx context.Context, snap snapshot) {
	if o.settings == nil {
		return
	}
	data, err := json.Marshal(persistedSnapshot{BTCUSDAsk: snap.btcUSDAsk, UpdatedAt: snap.updatedAt})
	if err != nil {
		return
	}
	if err := o.settings.Put(ctx, snapshotSettingID, string(data)); err != nil {
		logger.Warn("failed to persist oracle snapshot", zap.Error(err))
	}
}

// Refresh fans out one fetch per provider, waits for all to either complete
// or time out, and swaps in a new snapshot built from the maximum successful
// price. It tolerates partial provider failure. If every provider failed, it
// keeps the existing snapshot, marks it stale and returns nil; it returns
// ErrNoSnapshotAvailable only when every provider failed and there is no
// prior snapshot.
func (o *Oracle) Refresh(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	prices := make([]float64, len(o.providers))
	errs := make([]error, len(o.providers))

	for i, p := range o.providers {
		i, p := i, p
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(gctx, o.cfg.FetchTimeout)
			defer cancel()
			price, err := p.GetPrice(fetchCtx)
			if err != nil {
				errs[i] = err
				logger.Warn("oracle provider fetch failed", zap.String("provider", p.Name()), zap.Error(err))
				return nil
			}
			prices[i] = price
			return nil
		})
	}
	// errgroup.Wait only returns non-nil if a goroutine itself returned an
	// error; individual fetch failures are recorded in errs and tolerated.
	_ = g.Wait()

	max := 0.0
	succeeded := 0
	for i, price := range prices {
		if errs[i] == nil && price > max {
			max = price
			succeeded++
		} else if errs[i] == nil {
			succeeded++
		}
	}

	if succeeded == 0 {
		if prev := o.current.Load(); prev != nil {
			stale := *prev
			stale.stale = true
			o.current.Store(&stale)
			logger.Error("all oracle providers failed; serving stale snapshot", zap.Time("last_update", prev.updatedAt))
			return nil
		}
		return ErrNoSnapshotAvailable
	}

	fresh := snapshot{
		btcUSDAsk: max * o.cfg.ExchangeFee,
		stale:     false,
		updatedAt: time.Now(),
	}
	o.current.Store(&fresh)
	o.persistSnapshot(ctx, fresh)
	return nil
}

// BTCUSDAsk returns the current conservative BTC/USD ask-side rate.
func (o *Oracle) BTCUSDAsk() (float64, error) {
	snap := o.current.Load()
	if snap == nil {
		return 0, ErrNoSnapshotAvailable
	}
	return snap.btcUSDAsk, nil
}

// SatsUSDAsk returns the USD value of one satoshi at the current ask-side
// rate (BTCUSDAsk / 100_000_000).
func (o *Oracle) SatsUSDAsk() (float64, error) {
	ask, err := o.BTCUSDAsk()
	if err != nil {
		return 0, err
	}
	return ask / 100_000_000, nil
}

// Stale reports whether the current snapshot is being served past a run of
// all-providers-failed refreshes.
func (o *Oracle) Stale() bool {
	snap := o.current.Load()
	return snap != nil && snap.stale
}

// Run starts the periodic refresh loop; it blocks until ctx is cancelled,
// performing one synchronous refresh up front so BTCUSDAsk has a value
// before the first tick. If that first refresh fails, Run returns its error
// at once and no loop is started (mirrors the teacher's "fund_card" worker shutdown
// shape: signal-driven context cancellation, clean exit, no partial writes).
func (o *Oracle) Run(ctx context.Context) error {
	o.LoadSnapshot(ctx)
	if err := o.Refresh(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := o.Refresh(ctx); err != nil {
				logger.Error("oracle refresh failed", zap.Error(err))
			}
		}
	}
}
