package orderbook

import (
	"sort"
	"time"

	"github.com/realHakeen/binance-liquidity-monitor/internal/model"
)

// priceEpsilon is the fixed epsilon used for float64 price equality, per the
// data model's tie-break rule.
const priceEpsilon = 1e-10

// sanityDeviationFraction rejects level updates whose price strays more than
// this fraction from the side's current best price — a guard against
// corrupt ticks, not normal volatility.
const sanityDeviationFraction = 0.50

// replica is the mutable internal representation of one PairKey's local
// order book. All access must go through its owning entry's mutex.
type replica struct {
	bids []model.PriceLevel // strictly descending by price
	asks []model.PriceLevel // strictly ascending by price

	lastAppliedUpdateID    int64
	firstEverUpdateReceived bool
	needsResync            bool
	lastAppliedAt          time.Time
	maxLevels              int

	// futuresSoftFailures counts consecutive pu-continuity failures since
	// the last successful apply or resync; only meaningful for Futures.
	futuresSoftFailures int
}

func newReplica(symbol string, snap model.Snapshot, now time.Time) *replica {
	r := &replica{
		maxLevels:      model.MaxLevelsFor(symbol),
		lastAppliedAt:  now,
	}
	r.initFrom(snap)
	return r
}

func (r *replica) initFrom(snap model.Snapshot) {
	r.bids = sortedCopy(snap.Bids, true)
	r.asks = sortedCopy(snap.Asks, false)
	truncate(&r.bids, r.maxLevels)
	truncate(&r.asks, r.maxLevels)
	r.lastAppliedUpdateID = snap.LastUpdateID
	r.firstEverUpdateReceived = false
	r.needsResync = false
	r.futuresSoftFailures = 0
}

func sortedCopy(levels []model.PriceLevel, descending bool) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(levels))
	for _, l := range levels {
		if l.Quantity <= 0 || !isFinitePositive(l.Price) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return dedupe(out)
}

// dedupe collapses consecutive equal-price entries (should not normally
// occur from a clean snapshot, but guards against malformed input).
func dedupe(levels []model.PriceLevel) []model.PriceLevel {
	if len(levels) < 2 {
		return levels
	}
	out := levels[:1]
	for _, l := range levels[1:] {
		if samePrice(out[len(out)-1].Price, l.Price) {
			out[len(out)-1] = l
			continue
		}
		out = append(out, l)
	}
	return out
}

func samePrice(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < priceEpsilon
}

func isFinitePositive(p float64) bool {
	return p > 0 && p == p && p < maxFinite && p > -maxFinite
}

const maxFinite = 1e18

func truncate(levels *[]model.PriceLevel, maxLevels int) {
	if len(*levels) > maxLevels {
		*levels = (*levels)[:maxLevels]
	}
}

// applyLevels applies a list of (price, qty) entries to one side in place,
// sanity filter, then remove/update/insert, then truncate.
// descending selects bid-side ordering.
func applyLevels(side *[]model.PriceLevel, entries []model.PriceLevel, descending bool, maxLevels int) {
	best, hasBest := bestPrice(*side)

	for _, e := range entries {
		if !isFinitePositive(e.Price) || e.Quantity < 0 {
			continue
		}
		if hasBest && best != 0 {
			dev := (e.Price - best) / best
			if dev < 0 {
				dev = -dev
			}
			if dev > sanityDeviationFraction {
				continue
			}
		}
		if e.Quantity == 0 {
			removeLevel(side, e.Price)
			continue
		}
		upsertLevel(side, e, descending)
		if !hasBest {
			best, hasBest = e.Price, true
		}
	}

	truncate(side, maxLevels)
}

func bestPrice(side []model.PriceLevel) (float64, bool) {
	if len(side) == 0 {
		return 0, false
	}
	return side[0].Price, true
}

func removeLevel(side *[]model.PriceLevel, price float64) {
	s := *side
	for i, l := range s {
		if samePrice(l.Price, price) {
			*side = append(s[:i], s[i+1:]...)
			return
		}
	}
}

func upsertLevel(side *[]model.PriceLevel, entry model.PriceLevel, descending bool) {
	s := *side
	less := func(a, b float64) bool {
		if descending {
			return a > b
		}
		return a < b
	}
	idx := sort.Search(len(s), func(i int) bool {
		return !less(s[i].Price, entry.Price) // first index whose price is <= (or >=) entry
	})
	if idx < len(s) && samePrice(s[idx].Price, entry.Price) {
		s[idx].Quantity = entry.Quantity
		*side = s
		return
	}
	s = append(s, model.PriceLevel{})
	copy(s[idx+1:], s[idx:])
	s[idx] = entry
	*side = s
}

// bestBidAsk returns (bestBid, bestAsk, ok); ok is false if either side is
// empty.
func (r *replica) bestBidAsk() (float64, float64, bool) {
	if len(r.bids) == 0 || len(r.asks) == 0 {
		return 0, 0, false
	}
	return r.bids[0].Price, r.asks[0].Price, true
}

// view returns an immutable snapshot of the replica's public fields, safe to
// hand to callers outside the owning mutex.
type View struct {
	Bids                    []model.PriceLevel
	Asks                    []model.PriceLevel
	LastAppliedUpdateID     int64
	FirstEverUpdateReceived bool
	NeedsResync             bool
	LastAppliedAt           time.Time
	MaxLevels               int
}

func (r *replica) view() View {
	return View{
		Bids:                    append([]model.PriceLevel(nil), r.bids...),
		Asks:                    append([]model.PriceLevel(nil), r.asks...),
		LastAppliedUpdateID:     r.lastAppliedUpdateID,
		FirstEverUpdateReceived: r.firstEverUpdateReceived,
		NeedsResync:             r.needsResync,
		LastAppliedAt:           r.lastAppliedAt,
		MaxLevels:               r.maxLevels,
	}
}
