// Package orchestrator wires the TimeSeriesStore, EventBus, MetricsEngine,
// StreamSubscriber, and HealthSupervisor together and drives the boot and
// shutdown sequence.
package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/realHakeen/binance-liquidity-monitor/internal/config"
	"github.com/realHakeen/binance-liquidity-monitor/internal/eventbus"
	"github.com/realHakeen/binance-liquidity-monitor/internal/exchangeclient"
	"github.com/realHakeen/binance-liquidity-monitor/internal/liquidity"
	"github.com/realHakeen/binance-liquidity-monitor/internal/model"
	"github.com/realHakeen/binance-liquidity-monitor/internal/obsmetrics"
	"github.com/realHakeen/binance-liquidity-monitor/internal/orderbook"
	"github.com/realHakeen/binance-liquidity-monitor/internal/streamclient"
	"github.com/realHakeen/binance-liquidity-monitor/internal/supervisor"
	"github.com/realHakeen/binance-liquidity-monitor/internal/timeseries"
)

const spotSubscribeSpacing = 1 * time.Second

// Orchestrator owns every long-lived component and its lifecycle.
type Orchestrator struct {
	Store      *orderbook.Store
	Bus        *eventbus.Bus
	Exchange   *exchangeclient.Client
	Subscriber *streamclient.Subscriber
	Metrics    *liquidity.Engine
	Supervisor *supervisor.Supervisor
	TimeSeries timeseries.Store
	Obs        *obsmetrics.Registry

	cfg config.Config
}

// New constructs every component per cfg without starting any goroutines.
func New(cfg config.Config) *Orchestrator {
	obs := obsmetrics.NewRegistry()
	ts := timeseries.NewAuto(cfg.RedisAddr)
	bus := eventbus.New()
	store := orderbook.NewStore()
	exchange := exchangeclient.New()
	sub := streamclient.New(store, exchange, bus, streamclient.Config{Interval: cfg.UpdateInterval}, obs)
	sup := supervisor.New(sub, store, exchange, obs)
	metricsEngine := liquidity.New(store, bus, ts, liquidity.Config{
		CoreCadence:     cfg.CoreSaveInterval(),
		AdvancedCadence: cfg.AdvancedSaveInterval(),
	})

	return &Orchestrator{
		Store:      store,
		Bus:        bus,
		Exchange:   exchange,
		Subscriber: sub,
		Metrics:    metricsEngine,
		Supervisor: sup,
		TimeSeries: ts,
		Obs:        obs,
		cfg:        cfg,
	}
}

// Run executes the boot sequence and blocks until ctx is canceled, then
// performs an orderly shutdown.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Info().Strs("pairs", o.cfg.Pairs).Msg("orchestrator: booting")

	o.Metrics.Start(ctx)

	for _, symbol := range o.cfg.Pairs {
		if !o.Subscriber.Subscribe(ctx, symbol, model.Spot) {
			log.Warn().Str("symbol", symbol).Msg("orchestrator: initial spot subscribe failed, queued for retry")
		}
		select {
		case <-ctx.Done():
			return o.shutdown()
		case <-time.After(spotSubscribeSpacing):
		}
	}

	if !o.Subscriber.SubscribeFuturesCombined(ctx, o.cfg.Pairs) {
		log.Warn().Msg("orchestrator: initial combined futures subscribe failed, queued for retry")
	}

	go o.Supervisor.Run(ctx)

	log.Info().Msg("orchestrator: boot sequence complete")
	<-ctx.Done()
	return o.shutdown()
}

func (o *Orchestrator) shutdown() error {
	log.Info().Msg("orchestrator: shutting down")
	for _, key := range o.Store.Keys() {
		o.Subscriber.Unsubscribe(key)
	}
	return o.TimeSeries.Close()
}
