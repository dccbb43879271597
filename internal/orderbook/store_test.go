package orderbook

import (
	"testing"

	"github.com/realHakeen/binance-liquidity-monitor/internal/model"
)

func spotKey(sym string) model.PairKey { return model.PairKey{Symbol: sym, Segment: model.Spot} }
func futKey(sym string) model.PairKey  { return model.PairKey{Symbol: sym, Segment: model.Futures} }

// S1 — Spot happy path.
func TestApplyDiff_SpotHappyPath(t *testing.T) {
	s := NewStore()
	key := spotKey("LTCUSDT")
	s.Initialize(key, model.Snapshot{
		LastUpdateID: 100,
		Bids:         []model.PriceLevel{{Price: 10, Quantity: 1}},
		Asks:         []model.PriceLevel{{Price: 11, Quantity: 1}},
	})

	res := s.ApplyDiff(key, model.Diff{U: 101, U2: 105, Bid: []model.PriceLevel{{Price: 10, Quantity: 2}}})
	if res != Applied {
		t.Fatalf("expected Applied, got %v", res)
	}

	v, ok := s.Get(key)
	if !ok {
		t.Fatal("expected replica readable")
	}
	if v.LastAppliedUpdateID != 105 {
		t.Errorf("expected lastAppliedUpdateId=105, got %d", v.LastAppliedUpdateID)
	}
	if len(v.Bids) != 1 || v.Bids[0].Quantity != 2 {
		t.Errorf("expected bids=[[10,2]], got %+v", v.Bids)
	}
}

// S2 — Spot stale.
func TestApplyDiff_SpotStale(t *testing.T) {
	s := NewStore()
	key := spotKey("LTCUSDT")
	s.Initialize(key, model.Snapshot{
		LastUpdateID: 100,
		Bids:         []model.PriceLevel{{Price: 10, Quantity: 1}},
		Asks:         []model.PriceLevel{{Price: 11, Quantity: 1}},
	})
	s.ApplyDiff(key, model.Diff{U: 101, U2: 105, Bid: []model.PriceLevel{{Price: 10, Quantity: 2}}})

	res := s.ApplyDiff(key, model.Diff{U: 50, U2: 100, Bid: []model.PriceLevel{{Price: 10, Quantity: 9}}})
	if res != Stale {
		t.Fatalf("expected Stale, got %v", res)
	}

	v, _ := s.Get(key)
	if v.LastAppliedUpdateID != 105 {
		t.Errorf("stale apply mutated state: lastAppliedUpdateId=%d", v.LastAppliedUpdateID)
	}
	if v.Bids[0].Quantity != 2 {
		t.Errorf("stale apply mutated bid quantity: %v", v.Bids[0].Quantity)
	}
}

// S3 — Spot gap.
func TestApplyDiff_SpotGap(t *testing.T) {
	s := NewStore()
	key := spotKey("LTCUSDT")
	s.Initialize(key, model.Snapshot{
		LastUpdateID: 100,
		Bids:         []model.PriceLevel{{Price: 10, Quantity: 1}},
		Asks:         []model.PriceLevel{{Price: 11, Quantity: 1}},
	})
	s.ApplyDiff(key, model.Diff{U: 101, U2: 105, Bid: []model.PriceLevel{{Price: 10, Quantity: 2}}})

	res := s.ApplyDiff(key, model.Diff{U: 200, U2: 210})
	if res != Gap {
		t.Fatalf("expected Gap, got %v", res)
	}

	if !s.NeedsResync(key) {
		t.Error("expected needsResync=true after gap")
	}
	if _, ok := s.Get(key); ok {
		t.Error("expected Get to return not-ok once needsResync is set")
	}
}

// S4 — Futures first-event overlap.
func TestApplyDiff_FuturesFirstEventOverlap(t *testing.T) {
	s := NewStore()
	key := futKey("LTCUSDT")
	s.Initialize(key, model.Snapshot{
		LastUpdateID: 1000,
		Bids:         []model.PriceLevel{{Price: 9, Quantity: 1}},
		Asks:         []model.PriceLevel{{Price: 10, Quantity: 1}},
	})

	res := s.ApplyDiff(key, model.Diff{U: 900, U2: 1010, Pu: 750, Bid: []model.PriceLevel{{Price: 9, Quantity: 2}}})
	if res != Applied {
		t.Fatalf("expected Applied, got %v", res)
	}

	v, ok := s.Get(key)
	if !ok {
		t.Fatal("expected replica readable")
	}
	if v.LastAppliedUpdateID != 1010 {
		t.Errorf("expected L=1010, got %d", v.LastAppliedUpdateID)
	}
	if v.Bids[0].Quantity != 2 {
		t.Errorf("expected bids=[[9,2]], got %+v", v.Bids)
	}
}

// S5 — Futures continuity break.
func TestApplyDiff_FuturesContinuityBreak(t *testing.T) {
	s := NewStore()
	key := futKey("LTCUSDT")
	s.Initialize(key, model.Snapshot{
		LastUpdateID: 1000,
		Bids:         []model.PriceLevel{{Price: 9, Quantity: 1}},
		Asks:         []model.PriceLevel{{Price: 10, Quantity: 1}},
	})
	s.ApplyDiff(key, model.Diff{U: 900, U2: 1010, Pu: 750})

	res := s.ApplyDiff(key, model.Diff{U: 1011, U2: 1012, Pu: 1010})
	if res != Applied {
		t.Fatalf("expected Applied, got %v", res)
	}
	v, _ := s.Get(key)
	if v.LastAppliedUpdateID != 1012 {
		t.Fatalf("expected L=1012, got %d", v.LastAppliedUpdateID)
	}

	for i, want := range []ApplyResult{NotReady, NotReady, Gap} {
		res = s.ApplyDiff(key, model.Diff{U: 1013 + int64(i), U2: 1014 + int64(i), Pu: 9999})
		if res != want {
			t.Fatalf("attempt %d: expected %v, got %v", i, want, res)
		}
	}
	if !s.NeedsResync(key) {
		t.Error("expected needsResync=true after three consecutive soft failures")
	}
}

func TestApplyDiff_MissingReplica(t *testing.T) {
	s := NewStore()
	res := s.ApplyDiff(spotKey("NOPE"), model.Diff{U: 1, U2: 2})
	if res != MissingReplica {
		t.Fatalf("expected MissingReplica, got %v", res)
	}
}

// Property: no crossed book, strict ordering, truncation, after a mixed
// sequence of inserts/removes on both sides.
func TestApplyDiff_InvariantsHoldAfterMixedSequence(t *testing.T) {
	s := NewStore()
	key := spotKey("BTCUSDT") // major pair -> maxLevels 500
	bids := make([]model.PriceLevel, 0, 600)
	asks := make([]model.PriceLevel, 0, 600)
	for i := 0; i < 600; i++ {
		bids = append(bids, model.PriceLevel{Price: 100 - float64(i)*0.01, Quantity: 1})
		asks = append(asks, model.PriceLevel{Price: 101 + float64(i)*0.01, Quantity: 1})
	}
	s.Initialize(key, model.Snapshot{LastUpdateID: 1, Bids: bids, Asks: asks})

	res := s.ApplyDiff(key, model.Diff{
		U: 2, U2: 3,
		Bid: []model.PriceLevel{{Price: 99.995, Quantity: 5}, {Price: 100, Quantity: 0}},
		Ask: []model.PriceLevel{{Price: 101.005, Quantity: 5}},
	})
	if res != Applied {
		t.Fatalf("expected Applied, got %v", res)
	}

	v, ok := s.Get(key)
	if !ok {
		t.Fatal("expected replica readable")
	}
	if len(v.Bids) > 500 || len(v.Asks) > 500 {
		t.Fatalf("truncation violated: bids=%d asks=%d", len(v.Bids), len(v.Asks))
	}
	for i := 1; i < len(v.Bids); i++ {
		if v.Bids[i-1].Price <= v.Bids[i].Price {
			t.Fatalf("bids not strictly descending at %d", i)
		}
	}
	for i := 1; i < len(v.Asks); i++ {
		if v.Asks[i-1].Price >= v.Asks[i].Price {
			t.Fatalf("asks not strictly ascending at %d", i)
		}
	}
	if v.Bids[0].Price >= v.Asks[0].Price {
		t.Fatalf("crossed book: bestBid=%v bestAsk=%v", v.Bids[0].Price, v.Asks[0].Price)
	}
}

// Round-trip: insert then remove restores pre-state for that level.
func TestApplyDiff_InsertThenRemoveRestoresLevel(t *testing.T) {
	s := NewStore()
	key := spotKey("LTCUSDT")
	s.Initialize(key, model.Snapshot{
		LastUpdateID: 1,
		Bids:         []model.PriceLevel{{Price: 10, Quantity: 1}},
		Asks:         []model.PriceLevel{{Price: 11, Quantity: 1}},
	})

	s.ApplyDiff(key, model.Diff{U: 2, U2: 2, Bid: []model.PriceLevel{{Price: 9.5, Quantity: 3}}})
	s.ApplyDiff(key, model.Diff{U: 3, U2: 3, Bid: []model.PriceLevel{{Price: 9.5, Quantity: 0}}})

	v, _ := s.Get(key)
	if len(v.Bids) != 1 || v.Bids[0].Price != 10 {
		t.Fatalf("expected single level [10,1] restored, got %+v", v.Bids)
	}
}

func TestInitialize_IdempotentWithZeroDiffs(t *testing.T) {
	s := NewStore()
	key := spotKey("ETHUSDT")
	s.Initialize(key, model.Snapshot{
		LastUpdateID: 42,
		Bids:         []model.PriceLevel{{Price: 2, Quantity: 1}, {Price: 1, Quantity: 2}},
		Asks:         []model.PriceLevel{{Price: 3, Quantity: 1}},
	})
	v, ok := s.Get(key)
	if !ok {
		t.Fatal("expected readable replica")
	}
	if len(v.Bids) != 2 || v.Bids[0].Price != 2 || v.Bids[1].Price != 1 {
		t.Fatalf("expected sorted bids [2,1], got %+v", v.Bids)
	}
}
