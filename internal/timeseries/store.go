// Package timeseries implements the append-only, time-indexed metrics
// store: one series per (segment, symbol) pair for core and advanced
// metric classes, with range/recency queries and 30-day pruning / 31-day
// series expiry.
package timeseries

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/realHakeen/binance-liquidity-monitor/internal/model"
)

// Key identifies one (segment, symbol) series; the metric class (core vs
// advanced) is implied by which method is called.
type Key struct {
	Segment string
	Symbol  string
}

func (k Key) coreRedisKey() string { return "ts:core:" + k.Segment + ":" + k.Symbol }
func (k Key) advRedisKey() string  { return "ts:advanced:" + k.Segment + ":" + k.Symbol }

// TimeRange describes the span covered by a series.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Stats summarizes one key's series.
type Stats struct {
	CoreCount     int
	AdvancedCount int
	TimeRange     TimeRange
}

// Recent bundles the most recent core/advanced records for a key.
type Recent struct {
	Core     []model.MetricsCore
	Advanced []model.MetricsAdvanced
}

// Store is the persistence contract consumed by the metrics engine and the
// external status/history façade.
type Store interface {
	AppendCore(ctx context.Context, key Key, rec model.MetricsCore) error
	AppendAdvanced(ctx context.Context, key Key, rec model.MetricsAdvanced) error
	RangeCore(ctx context.Context, key Key, startMs, endMs int64, limit int) ([]model.MetricsCore, error)
	RangeAdvanced(ctx context.Context, key Key, startMs, endMs int64, limit int) ([]model.MetricsAdvanced, error)
	Recent(ctx context.Context, key Key, count int, includeAdvanced bool) (Recent, error)
	Stats(ctx context.Context, key Key) (Stats, error)
	Close() error
}

// Retention is the maximum age of an individual record before it is pruned.
const Retention = 30 * 24 * time.Hour

// SeriesTTL is how long an entirely idle series survives before it expires.
const SeriesTTL = 31 * 24 * time.Hour

// NewAuto returns a Redis-backed Store when redisAddr is non-empty,
// otherwise an in-memory Store. Connection failures are tolerated per the
// orchestrator's best-effort boot contract: NewAuto never returns an error,
// falling back to memory and logging instead.
func NewAuto(redisAddr string) Store {
	if redisAddr == "" {
		return newMemoryStore()
	}
	store, err := newRedisStore(redisAddr)
	if err != nil {
		log.Warn().Err(err).Str("addr", redisAddr).Msg("redis unavailable, falling back to in-memory time series store")
		return newMemoryStore()
	}
	return store
}
