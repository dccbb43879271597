package supervisor

import (
	"context"
	"sync"
	"testing"

	"github.com/realHakeen/binance-liquidity-monitor/internal/eventbus"
	"github.com/realHakeen/binance-liquidity-monitor/internal/exchangeclient"
	"github.com/realHakeen/binance-liquidity-monitor/internal/model"
	"github.com/realHakeen/binance-liquidity-monitor/internal/orderbook"
	"github.com/realHakeen/binance-liquidity-monitor/internal/streamclient"
)

// fakeSubscriber is a network-free stand-in for *streamclient.Subscriber,
// used to drive the supervisor's remediation scans without dialing out.
type fakeSubscriber struct {
	mu        sync.Mutex
	statuses  []streamclient.SubscriptionStatusSummary
	unsubbed  []model.PairKey
	resubbed  []model.PairKey
	subResult bool
}

func (f *fakeSubscriber) SubscriptionStatuses() []streamclient.SubscriptionStatusSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]streamclient.SubscriptionStatusSummary(nil), f.statuses...)
}

func (f *fakeSubscriber) Unsubscribe(key model.PairKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubbed = append(f.unsubbed, key)
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, symbol string, segment model.Segment) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resubbed = append(f.resubbed, model.PairKey{Symbol: symbol, Segment: segment})
	return f.subResult
}

func (f *fakeSubscriber) RetryOneDue(ctx context.Context) bool { return false }

func newTestSupervisor() (*Supervisor, *orderbook.Store) {
	store := orderbook.NewStore()
	exch := exchangeclient.New()
	bus := eventbus.New()
	sub := streamclient.New(store, exch, bus, streamclient.Config{}, nil)
	return New(sub, store, exch, nil), store
}

func TestResyncScan_ProcessesOnlyOneKeyPerTick(t *testing.T) {
	s, store := newTestSupervisor()

	keyA := model.PairKey{Symbol: "BTCUSDT", Segment: model.Spot}
	keyB := model.PairKey{Symbol: "ETHUSDT", Segment: model.Spot}
	store.Initialize(keyA, model.Snapshot{LastUpdateID: 1})
	store.Initialize(keyB, model.Snapshot{LastUpdateID: 1})
	store.MarkNeedsResync(keyA)
	store.MarkNeedsResync(keyB)

	s.resyncScan(context.Background())

	stillFlagged := 0
	if store.NeedsResync(keyA) {
		stillFlagged++
	}
	if store.NeedsResync(keyB) {
		stillFlagged++
	}
	if stillFlagged != 1 {
		t.Fatalf("expected exactly one key to remain flagged after processing one per tick, got %d", stillFlagged)
	}
}

func TestResyncScan_GuardsAgainstConcurrentResyncOfSameKey(t *testing.T) {
	s, store := newTestSupervisor()
	key := model.PairKey{Symbol: "BTCUSDT", Segment: model.Spot}
	store.Initialize(key, model.Snapshot{LastUpdateID: 1})
	store.MarkNeedsResync(key)

	s.mu.Lock()
	s.resyncInProgress[key] = true
	s.mu.Unlock()

	s.resyncScan(context.Background())

	if !store.NeedsResync(key) {
		t.Fatalf("expected key to remain flagged; an in-progress resync must not be re-entered")
	}
}

func TestTick_RunsWithNothingDueOnEmptyRetryQueue(t *testing.T) {
	s, _ := newTestSupervisor()
	ctx := context.Background()

	if s.sub.RetryOneDue(ctx) {
		t.Fatalf("expected no due retries on an empty queue")
	}
	s.tick(ctx)
}

func TestStallScan_RemediatesAliveButStaleEntry(t *testing.T) {
	key := model.PairKey{Symbol: "BTCUSDT", Segment: model.Spot}
	fresh := model.PairKey{Symbol: "ETHUSDT", Segment: model.Spot}
	fake := &fakeSubscriber{
		subResult: true,
		statuses: []streamclient.SubscriptionStatusSummary{
			{Key: key, IsAlive: true, AgeSeconds: 120, SubscriptionAgeSeconds: 300},
			{Key: fresh, IsAlive: true, AgeSeconds: 1, SubscriptionAgeSeconds: 300},
		},
	}
	store := orderbook.NewStore()
	exch := exchangeclient.New()
	s := New(fake, store, exch, nil)

	s.stallScan(context.Background())

	if len(fake.unsubbed) != 1 || fake.unsubbed[0] != key {
		t.Fatalf("expected exactly one unsubscribe for the stalled key, got %+v", fake.unsubbed)
	}
	if len(fake.resubbed) != 1 || fake.resubbed[0] != key {
		t.Fatalf("expected exactly one re-subscribe for the stalled key, got %+v", fake.resubbed)
	}
}

func TestStallScan_IgnoresEntriesWithinThreshold(t *testing.T) {
	fake := &fakeSubscriber{
		statuses: []streamclient.SubscriptionStatusSummary{
			{Key: model.PairKey{Symbol: "BTCUSDT", Segment: model.Spot}, IsAlive: true, AgeSeconds: 30},
		},
	}
	store := orderbook.NewStore()
	exch := exchangeclient.New()
	s := New(fake, store, exch, nil)

	s.stallScan(context.Background())

	if len(fake.unsubbed) != 0 {
		t.Fatalf("expected no remediation for an entry within the stall threshold, got %+v", fake.unsubbed)
	}
}

func TestNeverAliveScan_RemediatesEntryThatNeverWentAlive(t *testing.T) {
	key := model.PairKey{Symbol: "BTCUSDT", Segment: model.Spot}
	fake := &fakeSubscriber{
		subResult: true,
		statuses: []streamclient.SubscriptionStatusSummary{
			{Key: key, IsAlive: false, SubscriptionAgeSeconds: 90},
		},
	}
	store := orderbook.NewStore()
	exch := exchangeclient.New()
	s := New(fake, store, exch, nil)

	s.neverAliveScan(context.Background())

	if len(fake.unsubbed) != 1 || fake.unsubbed[0] != key {
		t.Fatalf("expected exactly one unsubscribe for the never-alive key, got %+v", fake.unsubbed)
	}
	if len(fake.resubbed) != 1 || fake.resubbed[0] != key {
		t.Fatalf("expected exactly one re-subscribe for the never-alive key, got %+v", fake.resubbed)
	}
}

func TestNeverAliveScan_ProcessesOnlyOneEntryPerTick(t *testing.T) {
	keyA := model.PairKey{Symbol: "BTCUSDT", Segment: model.Spot}
	keyB := model.PairKey{Symbol: "ETHUSDT", Segment: model.Spot}
	fake := &fakeSubscriber{
		subResult: true,
		statuses: []streamclient.SubscriptionStatusSummary{
			{Key: keyA, IsAlive: false, SubscriptionAgeSeconds: 90},
			{Key: keyB, IsAlive: false, SubscriptionAgeSeconds: 90},
		},
	}
	store := orderbook.NewStore()
	exch := exchangeclient.New()
	s := New(fake, store, exch, nil)

	s.neverAliveScan(context.Background())

	if len(fake.unsubbed) != 1 {
		t.Fatalf("expected only one remediation per tick, got %d", len(fake.unsubbed))
	}
}

func TestNeverAliveScan_IgnoresAlreadyAliveEntries(t *testing.T) {
	fake := &fakeSubscriber{
		statuses: []streamclient.SubscriptionStatusSummary{
			{Key: model.PairKey{Symbol: "BTCUSDT", Segment: model.Spot}, IsAlive: true, SubscriptionAgeSeconds: 9999},
		},
	}
	store := orderbook.NewStore()
	exch := exchangeclient.New()
	s := New(fake, store, exch, nil)

	s.neverAliveScan(context.Background())

	if len(fake.unsubbed) != 0 {
		t.Fatalf("expected no remediation for an already-alive entry, got %+v", fake.unsubbed)
	}
}
