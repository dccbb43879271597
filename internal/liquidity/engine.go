// Package liquidity computes depth, spread, slippage, impact cost,
// imbalance, and liquidity-score metrics from an order book replica, and
// drives their cadence-throttled persistence to the time-series store.
package liquidity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/realHakeen/binance-liquidity-monitor/internal/eventbus"
	"github.com/realHakeen/binance-liquidity-monitor/internal/model"
	"github.com/realHakeen/binance-liquidity-monitor/internal/orderbook"
	"github.com/realHakeen/binance-liquidity-monitor/internal/timeseries"
)

// notionals are the standard USDT notionals slippage is computed for.
var notionals = []float64{100_000, 300_000, 500_000, 1_000_000, 5_000_000}

// staleSentinel is returned by slippage-at-notional when the book cannot
// absorb the requested notional.
const staleSentinel = 999

const bidDepthWindow = 0.001 // 0.1%

// debounceWindow coalesces bursts of "replica updated" events per key.
const debounceWindow = 100 * time.Millisecond

// Config controls write cadence; zero values fall back to the default
// 30s cadence for both classes.
type Config struct {
	CoreCadence     time.Duration
	AdvancedCadence time.Duration
}

func (c Config) withDefaults() Config {
	if c.CoreCadence <= 0 {
		c.CoreCadence = 30 * time.Second
	}
	if c.AdvancedCadence <= 0 {
		c.AdvancedCadence = 30 * time.Second
	}
	return c
}

// Engine subscribes to "replica updated" events, computes metrics, publishes
// "metrics computed", and persists at the configured cadence.
type Engine struct {
	store  *orderbook.Store
	bus    *eventbus.Bus
	ts     timeseries.Store
	cfg    Config
	now    func() time.Time

	mu         sync.Mutex
	pending    map[model.PairKey]*time.Timer
	lastCore   map[model.PairKey]time.Time
	lastAdv    map[model.PairKey]time.Time
}

// New creates a MetricsEngine wired to store, bus, and ts.
func New(store *orderbook.Store, bus *eventbus.Bus, ts timeseries.Store, cfg Config) *Engine {
	return &Engine{
		store:    store,
		bus:      bus,
		ts:       ts,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		pending:  make(map[model.PairKey]*time.Timer),
		lastCore: make(map[model.PairKey]time.Time),
		lastAdv:  make(map[model.PairKey]time.Time),
	}
}

// Start subscribes to replica-updated events until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	ch := e.bus.Subscribe(eventbus.TopicReplicaUpdated)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				e.debounce(ctx, ev.Key)
			}
		}
	}()
}

// debounce coalesces bursts of events for the same key within
// debounceWindow, firing one compute per window.
func (e *Engine) debounce(ctx context.Context, key model.PairKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pending[key]; ok {
		return
	}
	e.pending[key] = time.AfterFunc(debounceWindow, func() {
		e.mu.Lock()
		delete(e.pending, key)
		e.mu.Unlock()
		e.handle(ctx, key)
	})
}

func (e *Engine) handle(ctx context.Context, key model.PairKey) {
	v, ok := e.store.Get(key)
	if !ok {
		return
	}

	core, adv := Compute(key.Symbol, v)

	e.bus.Publish(eventbus.Event{Topic: eventbus.TopicMetricsComputed, Key: key, Payload: metricsPair{core, adv}})

	e.maybePersist(ctx, key, v, core, adv)
}

type metricsPair struct {
	Core     model.MetricsCore
	Advanced model.MetricsAdvanced
}

func (e *Engine) maybePersist(ctx context.Context, key model.PairKey, v orderbook.View, core model.MetricsCore, adv model.MetricsAdvanced) {
	if e.now().Sub(v.LastAppliedAt) > 120*time.Second {
		return // zombie guard: do not persist stale replicas
	}

	tsKey := timeseries.Key{Segment: string(key.Segment), Symbol: key.Symbol}
	now := e.now()

	e.mu.Lock()
	writeCore := now.Sub(e.lastCore[key]) >= e.cfg.CoreCadence
	writeAdv := now.Sub(e.lastAdv[key]) >= e.cfg.AdvancedCadence
	if writeCore {
		e.lastCore[key] = now
	}
	if writeAdv {
		e.lastAdv[key] = now
	}
	e.mu.Unlock()

	if writeCore {
		go func() {
			if err := e.ts.AppendCore(ctx, tsKey, core); err != nil {
				log.Warn().Err(err).Str("key", key.String()).Msg("time-series core write failed")
			}
		}()
	}
	if writeAdv {
		go func() {
			if err := e.ts.AppendAdvanced(ctx, tsKey, adv); err != nil {
				log.Warn().Err(err).Str("key", key.String()).Msg("time-series advanced write failed")
			}
		}()
	}
}
