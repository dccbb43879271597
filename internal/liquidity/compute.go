package liquidity

import (
	"fmt"
	"math"
	"time"

	"github.com/realHakeen/binance-liquidity-monitor/internal/model"
	"github.com/realHakeen/binance-liquidity-monitor/internal/orderbook"
)

// Compute derives the core and advanced metrics records for one replica
// view. It is a pure function with no side effects so it can be
// exercised directly in tests without a running engine.
func Compute(symbol string, v orderbook.View) (model.MetricsCore, model.MetricsAdvanced) {
	now := time.Now().UnixMilli()

	if len(v.Bids) == 0 || len(v.Asks) == 0 {
		return model.MetricsCore{TimestampMs: now}, model.MetricsAdvanced{TimestampMs: now}
	}

	bestBid := v.Bids[0].Price
	bestAsk := v.Asks[0].Price
	mid := (bestBid + bestAsk) / 2
	spreadPct := (bestAsk - bestBid) / bestBid * 100

	bidDepth := depthWithinPct(v.Bids, bestBid, -bidDepthWindow)
	askDepth := depthWithinPct(v.Asks, bestAsk, bidDepthWindow)

	core := model.MetricsCore{
		TimestampMs:    now,
		SpreadPercent:  spreadPct,
		TotalDepth:     bidDepth + askDepth,
		BidDepth:       bidDepth,
		AskDepth:       askDepth,
		Slippage100k:   slippagePairAt(v, 100_000),
		Slippage300k:   slippagePairAt(v, 300_000),
		Slippage500k:   slippagePairAt(v, 500_000),
		Slippage1m:     slippagePairAt(v, 1_000_000),
		Slippage5m:     slippagePairAt(v, 5_000_000),
		Imbalance:      imbalance(bidDepth, askDepth),
		MidPrice:       mid,
		BestBid:        bestBid,
		BestAsk:        bestAsk,
	}
	core.LiquidityScore = liquidityScore(bidDepth+askDepth, spreadPct)

	impact100k := impactCost(core.Slippage100k)

	deviations, label := model.DeviationSet(symbol)
	devBid := make(map[string]float64, len(deviations))
	devAsk := make(map[string]float64, len(deviations))
	for _, d := range deviations {
		devBid[deviationKey(d)] = depthAtDeviation(v.Bids, mid, -d)
		devAsk[deviationKey(d)] = depthAtDeviation(v.Asks, mid, d)
	}

	adv := model.MetricsAdvanced{
		TimestampMs:       now,
		BidDepth:          bidDepth,
		AskDepth:          askDepth,
		ImpactCostAvg:     impact100k,
		DepthDeviationBid: devBid,
		DepthDeviationAsk: devAsk,
		BestBid:           bestBid,
		BestAsk:           bestAsk,
		DeviationLabel:    label,
	}

	return core, adv
}

// deviationKey renders a deviation fraction as a percent label, e.g.
// 0.0003 -> "0.03%", matching the literal labels used elsewhere ("0.10%",
// "1.00%").
func deviationKey(frac float64) string {
	return fmt.Sprintf("%.2f%%", frac*100)
}

// depthWithinPct sums price*qty for levels within fracFromBest of ref
// (negative fraction widens downward for bids, positive upward for asks).
func depthWithinPct(levels []model.PriceLevel, ref float64, fracFromBest float64) float64 {
	bound := ref * (1 + fracFromBest)
	total := 0.0
	if fracFromBest < 0 {
		for _, l := range levels {
			if l.Price < bound {
				break
			}
			total += l.Price * l.Quantity
		}
		return total
	}
	for _, l := range levels {
		if l.Price > bound {
			break
		}
		total += l.Price * l.Quantity
	}
	return total
}

// depthAtDeviation sums price*qty from the best price out to mid*(1+frac).
// frac is negative for the bid side, positive for the ask side.
func depthAtDeviation(levels []model.PriceLevel, mid float64, frac float64) float64 {
	bound := mid * (1 + frac)
	total := 0.0
	if frac < 0 {
		for _, l := range levels {
			if l.Price < bound {
				break
			}
			total += l.Price * l.Quantity
		}
		return total
	}
	for _, l := range levels {
		if l.Price > bound {
			break
		}
		total += l.Price * l.Quantity
	}
	return total
}

// slippageAt walks one side consuming quoted value until notional USDT is
// met, returning the percentage move from the best price, or staleSentinel
// if the side cannot absorb the notional.
func slippageAt(levels []model.PriceLevel, notional float64) float64 {
	if len(levels) == 0 {
		return staleSentinel
	}
	bestPrice := levels[0].Price
	remaining := notional
	consumedValue := 0.0
	consumedQty := 0.0

	for _, l := range levels {
		levelValue := l.Price * l.Quantity
		if levelValue >= remaining {
			consumedValue += remaining
			consumedQty += remaining / l.Price
			remaining = 0
			break
		}
		consumedValue += levelValue
		consumedQty += l.Quantity
		remaining -= levelValue
	}

	if remaining > 0 {
		return staleSentinel
	}

	avgPrice := consumedValue / consumedQty
	return (avgPrice - bestPrice) / bestPrice * 100
}

func slippagePairAt(v orderbook.View, notional float64) model.SlippagePair {
	return model.SlippagePair{
		Buy:  slippageAt(v.Asks, notional),
		Sell: slippageAt(v.Bids, notional),
	}
}

// impactCost is the average of buy-side and |sell-side| slippage at 100k,
// expressed as a fraction (not percent).
func impactCost(pair model.SlippagePair) float64 {
	sell := pair.Sell
	if sell < 0 {
		sell = -sell
	}
	return (pair.Buy + sell) / 2 / 100
}

func imbalance(bidDepth, askDepth float64) float64 {
	total := bidDepth + askDepth
	if total == 0 {
		return 0
	}
	return (bidDepth - askDepth) / total
}

// liquidityScore computes the 0-100 composite liquidity score.
func liquidityScore(totalDepth, spreadPercent float64) float64 {
	depthTerm := totalDepth / 1_000_000
	if depthTerm > 1 {
		depthTerm = 1
	}
	spreadTerm := 1 - spreadPercent/0.05
	if spreadTerm < 0 {
		spreadTerm = 0
	}
	score := math.Round(70*depthTerm + 30*spreadTerm)
	if score > 100 {
		score = 100
	}
	return score
}
