// Package supervisor implements the HealthSupervisor: a
// 15s tick that performs at most one remediation per class (retry,
// never-alive, stall, resync).
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/realHakeen/binance-liquidity-monitor/internal/exchangeclient"
	"github.com/realHakeen/binance-liquidity-monitor/internal/model"
	"github.com/realHakeen/binance-liquidity-monitor/internal/obsmetrics"
	"github.com/realHakeen/binance-liquidity-monitor/internal/orderbook"
	"github.com/realHakeen/binance-liquidity-monitor/internal/streamclient"
)

// TickInterval is the supervisor's fixed cadence.
const TickInterval = 15 * time.Second

const (
	neverAliveThreshold = 60 * time.Second
	stallThreshold      = 60 * time.Second
)

// subscriberFacade is the slice of *streamclient.Subscriber the supervisor
// needs. Tests satisfy it with a fake that never touches the network.
type subscriberFacade interface {
	SubscriptionStatuses() []streamclient.SubscriptionStatusSummary
	Unsubscribe(key model.PairKey)
	Subscribe(ctx context.Context, symbol string, segment model.Segment) bool
	RetryOneDue(ctx context.Context) bool
}

// Supervisor ticks every TickInterval, draining the retry queue and scanning
// subscription/replica health.
type Supervisor struct {
	sub      subscriberFacade
	store    *orderbook.Store
	exchange *exchangeclient.Client
	metrics  *obsmetrics.Registry

	mu               sync.Mutex
	resyncInProgress map[model.PairKey]bool
}

// New creates a Supervisor wired to sub (stream lifecycle) and store
// (replica state). metrics may be nil.
func New(sub subscriberFacade, store *orderbook.Store, exchange *exchangeclient.Client, metrics *obsmetrics.Registry) *Supervisor {
	return &Supervisor{
		sub:              sub,
		store:            store,
		exchange:         exchange,
		metrics:          metrics,
		resyncInProgress: make(map[model.PairKey]bool),
	}
}

// Run blocks, ticking every TickInterval until ctx is canceled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Supervisor) tick(ctx context.Context) {
	if s.sub.RetryOneDue(ctx) {
		log.Debug().Msg("supervisor: processed one retry-queue entry")
	}
	s.neverAliveScan(ctx)
	s.stallScan(ctx)
	s.resyncScan(ctx)
}

func (s *Supervisor) neverAliveScan(ctx context.Context) {
	for _, st := range s.sub.SubscriptionStatuses() {
		if st.IsAlive || st.SubscriptionAgeSeconds <= neverAliveThreshold.Seconds() {
			continue
		}
		log.Info().Str("key", st.Key.String()).Msg("supervisor: never-alive remediation")
		s.sub.Unsubscribe(st.Key)
		s.sub.Subscribe(ctx, st.Key.Symbol, st.Key.Segment)
		return
	}
}

func (s *Supervisor) stallScan(ctx context.Context) {
	for _, st := range s.sub.SubscriptionStatuses() {
		if !st.IsAlive || st.AgeSeconds <= stallThreshold.Seconds() {
			continue
		}
		log.Info().Str("key", st.Key.String()).Msg("supervisor: stall remediation")
		s.sub.Unsubscribe(st.Key)
		s.sub.Subscribe(ctx, st.Key.Symbol, st.Key.Segment)
		return
	}
}

func (s *Supervisor) resyncScan(ctx context.Context) {
	for _, key := range s.store.Keys() {
		if !s.store.NeedsResync(key) {
			continue
		}
		s.mu.Lock()
		if s.resyncInProgress[key] {
			s.mu.Unlock()
			continue
		}
		s.resyncInProgress[key] = true
		s.mu.Unlock()

		s.resyncOne(ctx, key)
		return
	}
}

func (s *Supervisor) resyncOne(ctx context.Context, key model.PairKey) {
	defer func() {
		s.mu.Lock()
		delete(s.resyncInProgress, key)
		s.mu.Unlock()
	}()

	s.store.Clear(key)

	var snap *model.Snapshot
	var err error
	if key.Segment == model.Futures {
		snap, err = s.exchange.FetchFuturesDepth(ctx, key.Symbol)
	} else {
		snap, err = s.exchange.FetchSpotDepth(ctx, key.Symbol)
	}
	if err != nil || snap == nil {
		log.Warn().Str("key", key.String()).Err(err).Msg("supervisor: resync snapshot fetch failed")
		return
	}
	s.store.Initialize(key, *snap)
	if s.metrics != nil {
		s.metrics.ResyncsTotal.WithLabelValues(string(key.Segment)).Inc()
	}
	log.Info().Str("key", key.String()).Msg("supervisor: resync complete")
}

