package liquidity

import (
	"math"
	"testing"

	"github.com/realHakeen/binance-liquidity-monitor/internal/model"
	"github.com/realHakeen/binance-liquidity-monitor/internal/orderbook"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestCompute_BasicSpreadAndMid(t *testing.T) {
	v := orderbook.View{
		Bids: []model.PriceLevel{{Price: 100, Quantity: 10}},
		Asks: []model.PriceLevel{{Price: 100.1, Quantity: 10}},
	}
	core, _ := Compute("LTCUSDT", v)

	wantMid := 100.05
	if !approxEqual(core.MidPrice, wantMid, 1e-9) {
		t.Errorf("mid price = %v, want %v", core.MidPrice, wantMid)
	}
	wantSpread := 0.1 / 100 * 100
	if !approxEqual(core.SpreadPercent, wantSpread, 1e-9) {
		t.Errorf("spread pct = %v, want %v", core.SpreadPercent, wantSpread)
	}
}

func TestCompute_SlippageSentinelWhenInsufficientDepth(t *testing.T) {
	v := orderbook.View{
		Bids: []model.PriceLevel{{Price: 100, Quantity: 1}},
		Asks: []model.PriceLevel{{Price: 101, Quantity: 1}},
	}
	core, _ := Compute("LTCUSDT", v)
	if core.Slippage100k.Buy != staleSentinel {
		t.Errorf("expected sentinel %v, got %v", staleSentinel, core.Slippage100k.Buy)
	}
	if core.Slippage100k.Sell != staleSentinel {
		t.Errorf("expected sentinel %v, got %v", staleSentinel, core.Slippage100k.Sell)
	}
}

func TestCompute_SlippageWalksBookAndAveragesPrice(t *testing.T) {
	v := orderbook.View{
		Bids: []model.PriceLevel{{Price: 100, Quantity: 1000}},
		Asks: []model.PriceLevel{
			{Price: 100, Quantity: 500},  // 50,000 USDT
			{Price: 101, Quantity: 1000}, // more than enough for the rest
		},
	}
	core, _ := Compute("LTCUSDT", v)
	// notional 100k: consume 50k at 100 (500 qty), remaining 50k at 101
	// weighted avg = (50000 + 50000)/ (500 + 50000/101)
	qtyAt101 := 50000.0 / 101.0
	consumedValue := 50000.0 + 50000.0
	consumedQty := 500.0 + qtyAt101
	wantAvg := consumedValue / consumedQty
	wantPct := (wantAvg - 100) / 100 * 100
	if !approxEqual(core.Slippage100k.Buy, wantPct, 1e-6) {
		t.Errorf("buy slippage = %v, want %v", core.Slippage100k.Buy, wantPct)
	}
}

func TestCompute_ImbalanceAndScore(t *testing.T) {
	v := orderbook.View{
		Bids: []model.PriceLevel{{Price: 100, Quantity: 20000}}, // 2,000,000 depth within 0.1%
		Asks: []model.PriceLevel{{Price: 100.01, Quantity: 1}},  // tiny ask depth
	}
	core, _ := Compute("LTCUSDT", v)
	if core.Imbalance <= 0 {
		t.Errorf("expected positive imbalance (bid heavy), got %v", core.Imbalance)
	}
	if core.LiquidityScore < 0 || core.LiquidityScore > 100 {
		t.Errorf("liquidity score out of range: %v", core.LiquidityScore)
	}
}

func TestCompute_DeviationLabelsMajorVsOther(t *testing.T) {
	v := orderbook.View{
		Bids: []model.PriceLevel{{Price: 100, Quantity: 1}},
		Asks: []model.PriceLevel{{Price: 100.1, Quantity: 1}},
	}
	_, advMajor := Compute("BTCUSDT", v)
	if advMajor.DeviationLabel != "0.10%" {
		t.Errorf("expected major pair label 0.10%%, got %s", advMajor.DeviationLabel)
	}
	_, advOther := Compute("DOGEUSDT", v)
	if advOther.DeviationLabel != "1.00%" {
		t.Errorf("expected other pair label 1.00%%, got %s", advOther.DeviationLabel)
	}
}

func TestCompute_EmptyBookReturnsZeroRecord(t *testing.T) {
	core, adv := Compute("LTCUSDT", orderbook.View{})
	if core.BestBid != 0 || core.BestAsk != 0 {
		t.Errorf("expected zero record for empty book, got %+v", core)
	}
	if adv.BestBid != 0 {
		t.Errorf("expected zero advanced record for empty book, got %+v", adv)
	}
}
