package streamclient

import (
	"sort"
	"sync"
	"time"

	"github.com/realHakeen/binance-liquidity-monitor/internal/model"
)

// retryQueue tracks subscriptions that failed admission, initialization, or
// later dropped, keyed by PairKey (model.CombinedFuturesKey for the
// combined stream).
type retryQueue struct {
	mu      sync.Mutex
	entries map[model.PairKey]*model.FailedEntry
	now     func() time.Time
}

func newRetryQueue(now func() time.Time) *retryQueue {
	return &retryQueue{entries: make(map[model.PairKey]*model.FailedEntry), now: now}
}

func (q *retryQueue) enqueue(key model.PairKey, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	if e, ok := q.entries[key]; ok {
		e.Reason = reason
		e.LastRetryAt = now
		return
	}
	q.entries[key] = &model.FailedEntry{
		Key:           key,
		RetryCount:    0,
		FirstFailedAt: now,
		LastRetryAt:   now,
		Reason:        reason,
	}
}

func (q *retryQueue) remove(key model.PairKey) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, key)
}

func (q *retryQueue) list() []model.FailedEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.FailedEntry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, *e)
	}
	return out
}

func (q *retryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// markRetried bumps retryCount/lastRetryAt for key; called by the health
// supervisor right before it re-attempts a subscription.
func (q *retryQueue) markRetried(key model.PairKey) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[key]; ok {
		e.RetryCount++
		e.LastRetryAt = q.now()
	}
}

// dueEntries returns entries whose lastRetryAt is at least minAge old, for
// deterministic iteration ordered by PairKey string.
func (q *retryQueue) dueEntries(minAge time.Duration) []model.FailedEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	out := make([]model.FailedEntry, 0)
	for _, e := range q.entries {
		if now.Sub(e.LastRetryAt) >= minAge {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}
