// Package orderbook maintains per-PairKey local replicas of exchange order
// books, validating and applying streaming diffs against REST snapshots per
// the spot and futures continuity rules.
package orderbook

import (
	"sync"
	"time"

	"github.com/realHakeen/binance-liquidity-monitor/internal/model"
)

// zombieAge is the staleness threshold beyond which Get returns nil and
// writes must be suppressed.
const zombieAge = 120 * time.Second

// futuresSoftFailureLimit is the number of consecutive pu-continuity
// failures (after the first event) that trigger a resync.
const futuresSoftFailureLimit = 3

// ApplyResult is the outcome of one ApplyDiff call.
type ApplyResult int

const (
	Applied ApplyResult = iota
	Stale
	Gap
	MissingReplica
	NotReady
)

func (r ApplyResult) String() string {
	switch r {
	case Applied:
		return "applied"
	case Stale:
		return "stale"
	case Gap:
		return "gap"
	case MissingReplica:
		return "missing_replica"
	case NotReady:
		return "not_ready"
	default:
		return "unknown"
	}
}

type entry struct {
	mu sync.Mutex
	r  *replica
}

// Store owns all replicas, partitioned per PairKey so that one key's
// mutation never blocks another's.
type Store struct {
	mu      sync.RWMutex
	entries map[model.PairKey]*entry
	now     func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		entries: make(map[model.PairKey]*entry),
		now:     time.Now,
	}
}

func (s *Store) entryFor(key model.PairKey, createIfMissing bool) *entry {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return e
	}
	if !createIfMissing {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e
	}
	e = &entry{}
	s.entries[key] = e
	return e
}

// Initialize replaces any existing replica for key with one built from snap.
func (s *Store) Initialize(key model.PairKey, snap model.Snapshot) {
	e := s.entryFor(key, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.r = newReplica(key.Symbol, snap, s.now())
}

// Clear removes the replica for key entirely; a subsequent ApplyDiff returns
// MissingReplica until Initialize is called again.
func (s *Store) Clear(key model.PairKey) {
	e := s.entryFor(key, false)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.r = nil
}

// MarkNeedsResync flags the replica for key so that Get stops serving it
// until it is re-initialized.
func (s *Store) MarkNeedsResync(key model.PairKey) {
	e := s.entryFor(key, false)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.r != nil {
		e.r.needsResync = true
	}
}

// Get returns a read-only view of the replica for key, or (View{}, false) if
// there is none, it needs resync, or it is older than the zombie threshold.
func (s *Store) Get(key model.PairKey) (View, bool) {
	e := s.entryFor(key, false)
	if e == nil {
		return View{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.r == nil || e.r.needsResync {
		return View{}, false
	}
	if s.now().Sub(e.r.lastAppliedAt) > zombieAge {
		return View{}, false
	}
	return e.r.view(), true
}

// NeedsResync reports whether key's replica is currently flagged for
// resync, used by the health supervisor's resync scan.
func (s *Store) NeedsResync(key model.PairKey) bool {
	e := s.entryFor(key, false)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.r != nil && e.r.needsResync
}

// Keys returns all PairKeys that currently have a replica (initialized,
// cleared, or flagged for resync alike).
func (s *Store) Keys() []model.PairKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.PairKey, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	return out
}

// ApplyDiff validates and applies one streaming diff against key's replica,
// dispatching to the spot or futures continuity algorithm per key.Segment.
func (s *Store) ApplyDiff(key model.PairKey, diff model.Diff) ApplyResult {
	e := s.entryFor(key, false)
	if e == nil {
		return MissingReplica
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.r == nil {
		return MissingReplica
	}
	switch key.Segment {
	case model.Futures:
		return applyFutures(e.r, diff, s.now())
	default:
		return applySpot(e.r, diff, s.now())
	}
}

// applySpot applies a spot depth diff using the U<=lastUpdateID+1<=u gap check.
func applySpot(r *replica, diff model.Diff, now time.Time) ApplyResult {
	l := r.lastAppliedUpdateID

	if diff.U2 <= l {
		return Stale
	}
	if diff.U > l+1 {
		r.needsResync = true
		return Gap
	}

	applyLevels(&r.bids, diff.Bid, true, r.maxLevels)
	applyLevels(&r.asks, diff.Ask, false, r.maxLevels)
	r.lastAppliedUpdateID = diff.U2
	r.firstEverUpdateReceived = true
	r.lastAppliedAt = now
	return Applied
}

// applyFutures applies a futures depth diff using the pu==lastUpdateID check.
func applyFutures(r *replica, diff model.Diff, now time.Time) ApplyResult {
	l := r.lastAppliedUpdateID

	if diff.U2 < l {
		return Stale
	}

	if !r.firstEverUpdateReceived {
		if !(diff.U <= l+1 && l+1 <= diff.U2) {
			// Coverage test failed: discard, no resync, reset counter.
			r.futuresSoftFailures = 0
			return NotReady
		}
	} else {
		if diff.Pu != l {
			r.futuresSoftFailures++
			if r.futuresSoftFailures >= futuresSoftFailureLimit {
				r.needsResync = true
				r.futuresSoftFailures = 0
				return Gap
			}
			return NotReady
		}
	}

	applyLevels(&r.bids, diff.Bid, true, r.maxLevels)
	applyLevels(&r.asks, diff.Ask, false, r.maxLevels)
	r.lastAppliedUpdateID = diff.U2
	r.firstEverUpdateReceived = true
	r.futuresSoftFailures = 0
	r.lastAppliedAt = now
	return Applied
}

// Snapshot returns the top-N levels per side plus replica metadata, for the
// status/observability surface. ok is false under the same conditions as
// Get.
func (s *Store) Snapshot(key model.PairKey, topN int) (View, time.Duration, bool) {
	v, ok := s.Get(key)
	if !ok {
		return View{}, 0, false
	}
	if topN > 0 {
		if len(v.Bids) > topN {
			v.Bids = v.Bids[:topN]
		}
		if len(v.Asks) > topN {
			v.Asks = v.Asks[:topN]
		}
	}
	return v, time.Since(v.LastAppliedAt), true
}
