// Package streamclient supervises Binance depth-diff websocket connections,
// one per spot pair plus one combined connection for all futures pairs.
package streamclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/realHakeen/binance-liquidity-monitor/internal/eventbus"
	"github.com/realHakeen/binance-liquidity-monitor/internal/exchangeclient"
	"github.com/realHakeen/binance-liquidity-monitor/internal/model"
	"github.com/realHakeen/binance-liquidity-monitor/internal/obsmetrics"
	"github.com/realHakeen/binance-liquidity-monitor/internal/orderbook"
	"github.com/realHakeen/binance-liquidity-monitor/internal/streamclient/admission"
)

const (
	spotWSBase          = "wss://stream.binance.com:9443/ws"
	futuresWSBase       = "wss://fstream.binance.com/ws"
	futuresCombinedBase = "wss://fstream.binance.com/stream"

	pingInterval = 30 * time.Second
	initTimeout  = 30 * time.Second
	initPoll     = 200 * time.Millisecond

	snapshotSpacing = 500 * time.Millisecond
)

// Config controls the depth-stream interval used for new connections.
type Config struct {
	Interval string // "1000ms" (default), "100ms", or "500ms" (futures only)
}

func (c Config) withDefaults() Config {
	if c.Interval == "" {
		c.Interval = "1000ms"
	}
	return c
}

// Subscriber owns every stream connection: per-pair spot/futures
// subscriptions and the single combined-futures connection.
type Subscriber struct {
	store    *orderbook.Store
	exchange *exchangeclient.Client
	bus      *eventbus.Bus
	gate     *admission.Gate
	retry    *retryQueue
	cfg      Config
	now      func() time.Time
	metrics  *obsmetrics.Registry

	mu       sync.RWMutex
	conns    map[model.PairKey]*connHandle
	statuses map[model.PairKey]*statusEntry

	combinedMu      sync.Mutex
	combined        *combinedHandle
	combinedSymbols []string
}

// New creates a Subscriber backed by store for replica state and bus for
// "replica updated" notifications. metrics may be nil, in which case
// observability counters are skipped.
func New(store *orderbook.Store, exchange *exchangeclient.Client, bus *eventbus.Bus, cfg Config, metrics *obsmetrics.Registry) *Subscriber {
	now := time.Now
	return &Subscriber{
		store:    store,
		exchange: exchange,
		bus:      bus,
		gate:     admission.New(),
		retry:    newRetryQueue(now),
		cfg:      cfg.withDefaults(),
		now:      now,
		metrics:  metrics,
		conns:    make(map[model.PairKey]*connHandle),
		statuses: make(map[model.PairKey]*statusEntry),
	}
}

type statusEntry struct {
	mu           sync.Mutex
	isAlive      bool
	subscribedAt time.Time
	lastUpdateAt time.Time
}

func (s *statusEntry) snapshot() model.SubscriptionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.SubscriptionStatus{IsAlive: s.isAlive, LastUpdateAt: s.lastUpdateAt, SubscribedAt: s.subscribedAt}
}

func (s *statusEntry) markAlive(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isAlive = true
	s.lastUpdateAt = now
}

func (s *statusEntry) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUpdateAt = now
}

func (s *statusEntry) markDead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isAlive = false
}

// connHandle is the per-key bookkeeping for one single-pair connection.
type connHandle struct {
	key    model.PairKey
	cancel context.CancelFunc

	mu             sync.Mutex
	wsConn         *websocket.Conn
	wsOpen         bool
	snapshotReady  bool
	drainingBuffer bool
	buffer         []model.Diff
}

func (s *Subscriber) statusFor(key model.PairKey) *statusEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	se, ok := s.statuses[key]
	if !ok {
		se = &statusEntry{}
		s.statuses[key] = se
	}
	return se
}

// Subscribe opens (or re-opens) a single-pair stream
// connection for symbol/segment and waits up to 30s for a readable replica.
func (s *Subscriber) Subscribe(ctx context.Context, symbol string, segment model.Segment) bool {
	key := model.PairKey{Symbol: symbol, Segment: segment}

	if !s.gate.Allow() {
		s.retry.enqueue(key, "connection rate limit")
		return false
	}

	s.closeConn(key)

	connCtx, cancel := context.WithCancel(ctx)
	h := &connHandle{key: key, cancel: cancel}
	s.mu.Lock()
	s.conns[key] = h
	s.mu.Unlock()

	se := s.statusFor(key)

	go s.run(connCtx, h, se, symbol, segment)

	deadline := s.now().Add(initTimeout)
	for s.now().Before(deadline) {
		if _, ok := s.store.Get(key); ok {
			return true
		}
		time.Sleep(initPoll)
	}
	s.retry.enqueue(key, "init timeout")
	return false
}

// Unsubscribe closes key's connection (if any) and marks it not alive. Used
// both by the health supervisor's remediation paths and by callers tearing
// down a pair no longer tracked.
func (s *Subscriber) Unsubscribe(key model.PairKey) {
	s.closeConn(key)
	s.statusFor(key).markDead()
}

func (s *Subscriber) closeConn(key model.PairKey) {
	s.mu.Lock()
	h, ok := s.conns[key]
	if ok {
		delete(s.conns, key)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	h.cancel()
	h.mu.Lock()
	if h.wsConn != nil {
		_ = h.wsConn.Close()
	}
	h.mu.Unlock()
}

func streamURL(base string, name string) string {
	return fmt.Sprintf("%s/%s", base, name)
}

// run drives one single-pair connection: dial, snapshot fetch + drain,
// keep-alive, and message dispatch.
func (s *Subscriber) run(ctx context.Context, h *connHandle, se *statusEntry, symbol string, segment model.Segment) {
	attemptID := uuid.NewString()

	base := spotWSBase
	if segment == model.Futures {
		base = futuresWSBase
	}
	name := streamName(symbol, segment, s.cfg.Interval, func(msg string) {
		log.Warn().Str("symbol", symbol).Str("attempt", attemptID).Msg(msg)
	})
	url := streamURL(base, name)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		log.Warn().Str("symbol", symbol).Str("attempt", attemptID).Err(err).Msg("streamclient: dial failed")
		s.retry.enqueue(h.key, "ws transport error")
		return
	}
	log.Info().Str("symbol", symbol).Str("attempt", attemptID).Msg("streamclient: connected")
	h.mu.Lock()
	h.wsConn = conn
	h.wsOpen = true
	h.mu.Unlock()

	se.mu.Lock()
	se.subscribedAt = s.now()
	se.mu.Unlock()

	pingDone := make(chan struct{})
	go s.pingLoop(ctx, conn, pingDone)
	defer close(pingDone)

	go s.initializeAndDrain(ctx, h, se, symbol, segment)

	s.readLoop(ctx, h, se, conn, segment)
}

// pingLoop sends a client ping every 30s; gorilla/websocket's default ping
// handler already replies pong to any server-initiated ping frame, so no
// custom handler is installed here.
func (s *Subscriber) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			_ = conn.WriteControl(websocket.PingMessage, nil, s.now().Add(5*time.Second))
		}
	}
}

// initializeAndDrain fetches the REST snapshot, initializes the replica,
// then replays buffered diffs.
func (s *Subscriber) initializeAndDrain(ctx context.Context, h *connHandle, se *statusEntry, symbol string, segment model.Segment) {
	var snap *model.Snapshot
	var err error
	if segment == model.Futures {
		snap, err = s.exchange.FetchFuturesDepth(ctx, symbol)
	} else {
		snap, err = s.exchange.FetchSpotDepth(ctx, symbol)
	}
	if err != nil {
		s.retry.enqueue(h.key, "snapshot http error")
		return
	}
	if snap == nil {
		// No futures instrument for this symbol; nothing to stream.
		return
	}

	s.applySnapshotAndDrain(h, se, *snap)
}

// applySnapshotAndDrain installs snap as the replica's baseline and replays
// whatever diffs readLoop buffered while the snapshot fetch was in flight,
// discarding any that the snapshot already covers.
func (s *Subscriber) applySnapshotAndDrain(h *connHandle, se *statusEntry, snap model.Snapshot) {
	s.store.Initialize(h.key, snap)

	h.mu.Lock()
	h.drainingBuffer = true
	buffered := h.buffer
	h.buffer = nil
	h.mu.Unlock()

	for _, d := range buffered {
		if d.U2 <= snap.LastUpdateID {
			continue
		}
		s.applyAndNotify(h.key, se, d)
	}

	h.mu.Lock()
	h.snapshotReady = true
	h.drainingBuffer = false
	h.mu.Unlock()

	now := s.now()
	se.mu.Lock()
	se.subscribedAt = now
	se.lastUpdateAt = now
	se.mu.Unlock()
}

func (s *Subscriber) readLoop(ctx context.Context, h *connHandle, se *statusEntry, conn *websocket.Conn, segment model.Segment) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			se.markDead()
			s.retry.enqueue(h.key, "ws transport error")
			return
		}

		var ev depthEvent
		if jsonErr := json.Unmarshal(msg, &ev); jsonErr != nil {
			continue
		}
		diff := ev.toDiff()

		h.mu.Lock()
		ready := h.snapshotReady && !h.drainingBuffer
		if !ready {
			h.buffer = append(h.buffer, diff)
			h.mu.Unlock()
			continue
		}
		h.mu.Unlock()

		s.applyAndNotify(h.key, se, diff)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// applyAndNotify calls ApplyDiff, flips liveness on the first Applied, and
// publishes "replica updated" so the metrics engine can react.
func (s *Subscriber) applyAndNotify(key model.PairKey, se *statusEntry, diff model.Diff) {
	start := s.now()
	result := s.store.ApplyDiff(key, diff)
	if s.metrics != nil {
		s.metrics.DiffApplyTotal.WithLabelValues(string(key.Segment), result.String()).Inc()
		s.metrics.WSLatency.WithLabelValues(string(key.Segment)).Observe(float64(s.now().Sub(start).Milliseconds()))
		if result == orderbook.Gap {
			s.metrics.GapsTotal.WithLabelValues(string(key.Segment)).Inc()
		}
	}
	if result == orderbook.MissingReplica {
		return
	}
	if result == orderbook.Applied {
		wasAlive := se.snapshot().IsAlive
		se.markAlive(s.now())
		if !wasAlive {
			s.retry.remove(key)
		}
		s.bus.Publish(eventbus.Event{Topic: eventbus.TopicReplicaUpdated, Key: key})
	}
}

// RetryOneDue processes at most one retry-queue entry whose last attempt was
// at least 5s ago. It reports whether an entry was found.
func (s *Subscriber) RetryOneDue(ctx context.Context) bool {
	due := s.retry.dueEntries(5 * time.Second)
	if len(due) == 0 {
		return false
	}
	e := due[0]
	s.retry.markRetried(e.Key)
	if s.metrics != nil {
		s.metrics.RetryQueueDepth.Set(float64(s.retry.len()))
	}
	if e.Key == model.CombinedFuturesKey {
		s.combinedMu.Lock()
		symbols := append([]string(nil), s.combinedSymbols...)
		s.combinedMu.Unlock()
		if len(symbols) > 0 {
			s.SubscribeFuturesCombined(ctx, symbols)
		}
		return true
	}
	s.Subscribe(ctx, e.Key.Symbol, e.Key.Segment)
	return true
}

// FailedSubscriptions reports every pair currently queued for retry.
func (s *Subscriber) FailedSubscriptions() []model.FailedEntry {
	return s.retry.list()
}

// SubscriptionStatusSummary is one row of SubscriptionStatuses().
type SubscriptionStatusSummary struct {
	Key                    model.PairKey
	IsAlive                bool
	AgeSeconds             float64
	SubscriptionAgeSeconds float64
}

// SubscriptionStatuses reports liveness and age for every tracked pair.
func (s *Subscriber) SubscriptionStatuses() []SubscriptionStatusSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	out := make([]SubscriptionStatusSummary, 0, len(s.statuses))
	for key, se := range s.statuses {
		st := se.snapshot()
		out = append(out, SubscriptionStatusSummary{
			Key:                    key,
			IsAlive:                st.IsAlive,
			AgeSeconds:             now.Sub(st.LastUpdateAt).Seconds(),
			SubscriptionAgeSeconds: now.Sub(st.SubscribedAt).Seconds(),
		})
	}
	return out
}

// OverallStatus is the aggregate admission/retry/connection status.
type OverallStatus struct {
	ActiveConnections int
	RecentAttempts    int
	Limit             int
	FailedCount       int
	FailedList        []model.FailedEntry
	ResyncsInFlight   int
}

func (s *Subscriber) OverallStatus(resyncsInFlight int) OverallStatus {
	s.mu.RLock()
	active := len(s.conns)
	s.mu.RUnlock()
	failed := s.retry.list()
	return OverallStatus{
		ActiveConnections: active,
		RecentAttempts:    s.gate.RecentAttempts(),
		Limit:             admission.Limit,
		FailedCount:       len(failed),
		FailedList:        failed,
		ResyncsInFlight:   resyncsInFlight,
	}
}
