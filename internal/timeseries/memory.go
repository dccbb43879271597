package timeseries

import (
	"context"
	"sync"
	"time"

	"github.com/realHakeen/binance-liquidity-monitor/internal/model"
)

type memorySeries struct {
	core     []model.MetricsCore
	advanced []model.MetricsAdvanced
	lastTouch time.Time
}

// memoryStore is the default, dependency-free Store implementation.
type memoryStore struct {
	mu     sync.Mutex
	series map[Key]*memorySeries
	now    func() time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{series: make(map[Key]*memorySeries), now: time.Now}
}

func (s *memoryStore) seriesFor(key Key) *memorySeries {
	sr, ok := s.series[key]
	if !ok {
		sr = &memorySeries{}
		s.series[key] = sr
	}
	sr.lastTouch = s.now()
	return sr
}

func (s *memoryStore) AppendCore(_ context.Context, key Key, rec model.MetricsCore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr := s.seriesFor(key)
	sr.core = append(sr.core, rec)
	s.pruneLocked(sr)
	return nil
}

func (s *memoryStore) AppendAdvanced(_ context.Context, key Key, rec model.MetricsAdvanced) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr := s.seriesFor(key)
	sr.advanced = append(sr.advanced, rec)
	s.pruneLocked(sr)
	return nil
}

func (s *memoryStore) pruneLocked(sr *memorySeries) {
	cutoff := s.now().Add(-Retention).UnixMilli()
	sr.core = prune(sr.core, func(r model.MetricsCore) int64 { return r.TimestampMs }, cutoff)
	sr.advanced = prune(sr.advanced, func(r model.MetricsAdvanced) int64 { return r.TimestampMs }, cutoff)
}

func prune[T any](recs []T, tsOf func(T) int64, cutoff int64) []T {
	idx := 0
	for idx < len(recs) && tsOf(recs[idx]) < cutoff {
		idx++
	}
	if idx == 0 {
		return recs
	}
	return append([]T(nil), recs[idx:]...)
}

func (s *memoryStore) RangeCore(_ context.Context, key Key, startMs, endMs int64, limit int) ([]model.MetricsCore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr, ok := s.series[key]
	if !ok {
		return nil, nil
	}
	out := filterRange(sr.core, func(r model.MetricsCore) int64 { return r.TimestampMs }, startMs, endMs)
	return capLimit(out, limit), nil
}

func (s *memoryStore) RangeAdvanced(_ context.Context, key Key, startMs, endMs int64, limit int) ([]model.MetricsAdvanced, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr, ok := s.series[key]
	if !ok {
		return nil, nil
	}
	out := filterRange(sr.advanced, func(r model.MetricsAdvanced) int64 { return r.TimestampMs }, startMs, endMs)
	return capLimit(out, limit), nil
}

func filterRange[T any](recs []T, tsOf func(T) int64, startMs, endMs int64) []T {
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		ts := tsOf(r)
		if startMs != 0 && ts < startMs {
			continue
		}
		if endMs != 0 && ts > endMs {
			continue
		}
		out = append(out, r)
	}
	return out
}

func capLimit[T any](recs []T, limit int) []T {
	if limit > 0 && len(recs) > limit {
		return recs[len(recs)-limit:]
	}
	return recs
}

func (s *memoryStore) Recent(_ context.Context, key Key, count int, includeAdvanced bool) (Recent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr, ok := s.series[key]
	if !ok {
		return Recent{}, nil
	}
	out := Recent{Core: capLimit(append([]model.MetricsCore(nil), sr.core...), count)}
	if includeAdvanced {
		out.Advanced = capLimit(append([]model.MetricsAdvanced(nil), sr.advanced...), count)
	}
	return out, nil
}

func (s *memoryStore) Stats(_ context.Context, key Key) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr, ok := s.series[key]
	if !ok {
		return Stats{}, nil
	}
	st := Stats{CoreCount: len(sr.core), AdvancedCount: len(sr.advanced)}
	if len(sr.core) > 0 {
		st.TimeRange.Start = timeFromMs(sr.core[0].TimestampMs)
		st.TimeRange.End = timeFromMs(sr.core[len(sr.core)-1].TimestampMs)
	}
	return st, nil
}

func timeFromMs(ms int64) time.Time { return time.UnixMilli(ms) }

// ExpireIdle drops series untouched for longer than SeriesTTL. It is not
// invoked on the write path, and no component in this repository calls it,
// so idle in-memory series are only dropped when a caller invokes it.
func (s *memoryStore) ExpireIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-SeriesTTL)
	for k, sr := range s.series {
		if sr.lastTouch.Before(cutoff) {
			delete(s.series, k)
		}
	}
}

func (s *memoryStore) Close() error { return nil }
