package streamclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/realHakeen/binance-liquidity-monitor/internal/model"
)

// combinedHandle tracks the single websocket connection carrying depth
// substreams for every subscribed futures pair.
type combinedHandle struct {
	cancel context.CancelFunc

	mu          sync.Mutex
	wsConn      *websocket.Conn
	initialized map[string]bool
}

// SubscribeFuturesCombined opens one combined-stream connection carrying
// depth substreams for every symbol in symbols.
func (s *Subscriber) SubscribeFuturesCombined(ctx context.Context, symbols []string) bool {
	key := model.CombinedFuturesKey

	if !s.gate.Allow() {
		s.retry.enqueue(key, "connection rate limit")
		return false
	}

	s.closeCombined()

	s.combinedMu.Lock()
	s.combinedSymbols = append([]string(nil), symbols...)
	s.combinedMu.Unlock()

	names := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		names = append(names, streamName(sym, model.Futures, s.cfg.Interval, func(msg string) {
			log.Warn().Str("symbol", sym).Msg(msg)
		}))
	}
	url := fmt.Sprintf("%s?streams=%s", futuresCombinedBase, strings.Join(names, "/"))

	connCtx, cancel := context.WithCancel(ctx)
	h := &combinedHandle{cancel: cancel, initialized: make(map[string]bool)}

	conn, _, err := websocket.DefaultDialer.DialContext(connCtx, url, nil)
	if err != nil {
		cancel()
		s.retry.enqueue(key, "ws transport error")
		return false
	}
	h.wsConn = conn

	s.combinedMu.Lock()
	s.combined = h
	s.combinedMu.Unlock()

	pingDone := make(chan struct{})
	go s.pingLoop(connCtx, conn, pingDone)

	go func() {
		defer close(pingDone)
		s.initializeCombined(connCtx, h, symbols)
		s.readCombinedLoop(connCtx, h, conn)
	}()

	deadline := s.now().Add(initTimeout)
	for s.now().Before(deadline) {
		if anyInitialized(h) {
			return true
		}
		time.Sleep(initPoll)
	}
	s.retry.enqueue(key, "init timeout")
	return false
}

func anyInitialized(h *combinedHandle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.initialized) > 0
}

func (s *Subscriber) closeCombined() {
	s.combinedMu.Lock()
	h := s.combined
	s.combined = nil
	s.combinedMu.Unlock()
	if h == nil {
		return
	}
	h.cancel()
	h.mu.Lock()
	if h.wsConn != nil {
		_ = h.wsConn.Close()
	}
	h.mu.Unlock()
}

// initializeCombined fetches a REST snapshot per symbol at 500ms spacing
// and initializes each replica.
func (s *Subscriber) initializeCombined(ctx context.Context, h *combinedHandle, symbols []string) {
	for i, symbol := range symbols {
		if ctx.Err() != nil {
			return
		}
		key := model.PairKey{Symbol: symbol, Segment: model.Futures}
		snap, err := s.exchange.FetchFuturesDepth(ctx, symbol)
		if err != nil {
			log.Warn().Str("symbol", symbol).Err(err).Msg("combined futures snapshot fetch failed")
		} else if snap != nil {
			s.store.Initialize(key, *snap)
			h.mu.Lock()
			h.initialized[symbol] = true
			h.mu.Unlock()
			se := s.statusFor(key)
			now := s.now()
			se.mu.Lock()
			se.subscribedAt = now
			se.lastUpdateAt = now
			se.mu.Unlock()
		}
		if i < len(symbols)-1 {
			time.Sleep(snapshotSpacing)
		}
	}
}

func (s *Subscriber) readCombinedLoop(ctx context.Context, h *combinedHandle, conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.markCombinedDead(h)
			s.retry.enqueue(model.CombinedFuturesKey, "ws transport error")
			return
		}

		var env combinedEnvelope
		if jsonErr := json.Unmarshal(msg, &env); jsonErr != nil {
			continue
		}
		symbol := strings.ToUpper(env.Data.Symbol)
		if symbol == "" {
			continue
		}

		h.mu.Lock()
		ready := h.initialized[symbol]
		h.mu.Unlock()
		if !ready {
			continue
		}

		key := model.PairKey{Symbol: symbol, Segment: model.Futures}
		se := s.statusFor(key)
		s.applyAndNotify(key, se, env.Data.toDiff())

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (s *Subscriber) markCombinedDead(h *combinedHandle) {
	h.mu.Lock()
	symbols := make([]string, 0, len(h.initialized))
	for sym := range h.initialized {
		symbols = append(symbols, sym)
	}
	h.mu.Unlock()
	for _, sym := range symbols {
		s.statusFor(model.PairKey{Symbol: sym, Segment: model.Futures}).markDead()
	}
}

