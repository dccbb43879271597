// Package model holds the wire- and replica-level types shared across the
// exchange client, order book store, metrics engine, and stream subscriber.
package model

import "time"

// Segment identifies a market segment: spot or linear perpetual futures.
type Segment string

const (
	Spot    Segment = "spot"
	Futures Segment = "futures"
)

// PairKey identifies one trading pair within one segment.
type PairKey struct {
	Symbol  string
	Segment Segment
}

// CombinedFuturesKey is the synthetic PairKey used for the combined futures
// stream's retry-queue and health-supervisor bookkeeping; it never owns a
// replica of its own.
var CombinedFuturesKey = PairKey{Symbol: "combined", Segment: Futures}

func (k PairKey) String() string {
	return string(k.Segment) + ":" + k.Symbol
}

// PriceLevel is one (price, quantity) entry of a book side. Quantity 0 means
// "remove this level" when it appears in a Diff.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// Snapshot is a REST-returned full depth view.
type Snapshot struct {
	LastUpdateID int64
	Bids         []PriceLevel
	Asks         []PriceLevel
}

// Diff is a streaming depth delta. Pu is only meaningful for Futures.
type Diff struct {
	U   int64 // first update id in this event
	U2  int64 // last update id in this event ("u" in the wire protocol)
	Pu  int64 // futures only: previous stream event's last update id
	Bid []PriceLevel
	Ask []PriceLevel
}

// SubscriptionStatus tracks liveness of one stream subscription.
type SubscriptionStatus struct {
	IsAlive      bool
	LastUpdateAt time.Time
	SubscribedAt time.Time
}

// FailedEntry is one entry of the retry queue, keyed by PairKey (or
// model.CombinedFuturesKey for the combined futures stream).
type FailedEntry struct {
	Key           PairKey
	RetryCount    int
	FirstFailedAt time.Time
	LastRetryAt   time.Time
	Reason        string
}

// MetricsCore is the per-replica core metrics record written at every
// applied update, subject to cadence throttling.
type MetricsCore struct {
	TimestampMs     int64
	SpreadPercent   float64
	TotalDepth      float64
	BidDepth        float64
	AskDepth        float64
	Slippage100k    SlippagePair
	Slippage300k    SlippagePair
	Slippage500k    SlippagePair
	Slippage1m      SlippagePair
	Slippage5m      SlippagePair
	LiquidityScore  float64
	Imbalance       float64
	MidPrice        float64
	BestBid         float64
	BestAsk         float64
}

// SlippagePair holds buy-side and sell-side slippage at one notional.
type SlippagePair struct {
	Buy  float64
	Sell float64
}

// MetricsAdvanced is the per-replica advanced metrics record.
type MetricsAdvanced struct {
	TimestampMs       int64
	BidDepth          float64
	AskDepth          float64
	ImpactCostAvg     float64
	DepthDeviationBid map[string]float64 // deviation label -> depth
	DepthDeviationAsk map[string]float64
	BestBid           float64
	BestAsk           float64
	DeviationLabel    string
}

// MajorPairs is the fixed set of symbols that get the wider 500-level books
// and the tighter deviation bands.
var MajorPairs = map[string]bool{
	"BTCUSDT": true,
	"ETHUSDT": true,
}

// MaxLevelsFor returns the per-symbol level cap required by the data model.
func MaxLevelsFor(symbol string) int {
	if MajorPairs[symbol] {
		return 500
	}
	return 300
}

// DeviationSet returns the active deviation percentages (as fractions) for
// depth-at-deviation computation, and the label used for MetricsAdvanced.
func DeviationSet(symbol string) ([]float64, string) {
	if MajorPairs[symbol] {
		return []float64{0.0003, 0.0005, 0.0010}, "0.10%"
	}
	return []float64{0.0030, 0.0050, 0.0100}, "1.00%"
}
